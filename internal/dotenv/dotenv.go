// Package dotenv reads KEY=VALUE files into the process environment.
package dotenv

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// Parse reads dotenv lines from r. Blank lines, comments and lines without a key are
// skipped. A leading "export " and matching outer quotes are stripped.
func Parse(r io.Reader) (map[string]string, error) {
	values := make(map[string]string)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")

		key, val, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			continue
		}
		values[key] = unquote(strings.TrimSpace(val))
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return values, nil
}

// Read merges the files in order; later files override earlier ones. Missing files
// are skipped.
func Read(paths ...string) (map[string]string, error) {
	merged := make(map[string]string)
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("open env file %q: %w", path, err)
		}
		values, err := Parse(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("scan env file %q: %w", path, err)
		}
		for k, v := range values {
			merged[k] = v
		}
	}
	return merged, nil
}

// LoadFiles reads paths and exports every key not already set in the environment.
// It returns the keys it set.
func LoadFiles(paths ...string) ([]string, error) {
	values, err := Read(paths...)
	if err != nil {
		return nil, err
	}
	var set []string
	for key, val := range values {
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		if err := os.Setenv(key, val); err != nil {
			return set, fmt.Errorf("set env %q: %w", key, err)
		}
		set = append(set, key)
	}
	return set, nil
}

func unquote(val string) string {
	if len(val) < 2 {
		return val
	}
	for _, q := range []string{`"`, "'"} {
		if strings.HasPrefix(val, q) && strings.HasSuffix(val, q) {
			return val[1 : len(val)-1]
		}
	}
	return val
}
