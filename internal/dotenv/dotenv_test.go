package dotenv

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Parallel()

	values, err := Parse(strings.NewReader("" +
		"# comment\n" +
		"\n" +
		"GEMINI_API_KEY=abc\n" +
		"QUOTED=\"hello world\"\n" +
		"SINGLE='x=y'\n" +
		"export EXPORTED=ok\n" +
		"=novalue\n" +
		"garbage\n"))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"GEMINI_API_KEY": "abc",
		"QUOTED":         "hello world",
		"SINGLE":         "x=y",
		"EXPORTED":       "ok",
	}, values)
}

func TestReadLaterFileWins(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	base := filepath.Join(dir, ".env")
	local := filepath.Join(dir, ".env.local")
	require.NoError(t, os.WriteFile(base, []byte("MODEL=a\nHOST=h\n"), 0o600))
	require.NoError(t, os.WriteFile(local, []byte("MODEL=b\n"), 0o600))

	values, err := Read(base, filepath.Join(dir, "missing"), local)
	require.NoError(t, err)
	assert.Equal(t, "b", values["MODEL"])
	assert.Equal(t, "h", values["HOST"])
}

func TestLoadFilesPreservesExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("DOTENV_FROM_FILE=loaded\nDOTENV_EXISTING=from_file\n"), 0o600))

	t.Setenv("DOTENV_EXISTING", "already_set")
	t.Setenv("DOTENV_FROM_FILE", "")
	require.NoError(t, os.Unsetenv("DOTENV_FROM_FILE"))

	set, err := LoadFiles(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"DOTENV_FROM_FILE"}, set)
	assert.Equal(t, "loaded", os.Getenv("DOTENV_FROM_FILE"))
	assert.Equal(t, "already_set", os.Getenv("DOTENV_EXISTING"))
}

func TestLoadFilesMissingIsNoop(t *testing.T) {
	t.Parallel()

	set, err := LoadFiles(filepath.Join(t.TempDir(), ".env"))
	require.NoError(t, err)
	assert.Empty(t, set)
}
