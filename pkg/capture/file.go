package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/parthfloyd/la-hacks/pkg/core"
	"github.com/parthfloyd/la-hacks/pkg/core/types"
)

var fileTypes = map[string]string{
	".pdf":  "application/pdf",
	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".txt":  "text/plain",
	".md":   "text/markdown",
	".csv":  "text/csv",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".wav":  "audio/wav",
	".mp3":  "audio/mpeg",
}

// DetectMIMEType returns the MIME type for an accepted upload, or "" when the
// extension is not accepted.
func DetectMIMEType(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if t, ok := fileTypes[ext]; ok {
		return t
	}
	return ""
}

// File reads one user-selected file at a time.
type File struct {
	deliver func(types.Payload)
	opts    options

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewFile returns a file adapter. deliver receives each loaded file.
func NewFile(deliver func(types.Payload), opts ...Option) *File {
	return &File{deliver: deliver, opts: buildOptions(opts)}
}

// CapabilityCheck always succeeds; the filesystem needs no permission prompt.
func (f *File) CapabilityCheck() error {
	return nil
}

// Begin loads path and delivers it. A Begin while another load runs is a no-op.
func (f *File) Begin(ctx context.Context, path string) error {
	f.mu.Lock()
	if f.cancel != nil {
		f.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.cancel = nil
		f.mu.Unlock()
		cancel()
	}()

	p, err := f.load(ctx, path)
	if err != nil {
		return err
	}
	if f.deliver != nil {
		f.deliver(p)
	}
	return nil
}

// Cancel aborts a load in progress.
func (f *File) Cancel() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancel != nil {
		f.cancel()
	}
}

func (f *File) load(ctx context.Context, path string) (types.Payload, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return types.Payload{}, errors.New("file path is required")
	}
	mimeType := DetectMIMEType(path)
	if mimeType == "" {
		if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
			return types.Payload{}, fmt.Errorf("unsupported file type %s", t)
		}
		return types.Payload{}, fmt.Errorf("unsupported file type %q", filepath.Ext(path))
	}

	fh, err := os.Open(path)
	if err != nil {
		return types.Payload{}, core.NewDeviceUnavailableError(DeviceFile, err)
	}
	defer fh.Close()

	info, err := fh.Stat()
	if err != nil {
		return types.Payload{}, core.NewDeviceUnavailableError(DeviceFile, err)
	}
	if info.IsDir() {
		return types.Payload{}, fmt.Errorf("%s is a directory", path)
	}
	if info.Size() > f.opts.maxFileBytes {
		return types.Payload{}, fmt.Errorf("%s is %d bytes; the limit is %d", filepath.Base(path), info.Size(), f.opts.maxFileBytes)
	}

	data, err := io.ReadAll(ctxReader{ctx: ctx, r: io.LimitReader(fh, f.opts.maxFileBytes)})
	if err != nil {
		return types.Payload{}, err
	}
	if len(data) == 0 {
		return types.Payload{}, fmt.Errorf("%s is empty", filepath.Base(path))
	}
	return types.Payload{
		Data:     data,
		MIMEType: mimeType,
		Name:     filepath.Base(path),
		Modality: types.ModalityFile,
	}, nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
