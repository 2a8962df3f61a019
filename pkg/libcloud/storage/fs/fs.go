// Package fs keeps media files below a directory on local disk, mirroring
// the user_<username>/ key layout as subdirectories.
package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/tendant/libcloud/pkg/libcloud"
)

// Config names the media root
type Config struct {
	BaseDir string
}

// Backend stores each media key as a file below root.
type Backend struct {
	root string
}

// New creates the media root if needed.
func New(config Config) (*Backend, error) {
	if config.BaseDir == "" {
		return nil, errors.New("base directory is required")
	}
	root, err := filepath.Abs(config.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("resolve media root: %w", err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create media root: %w", err)
	}
	return &Backend{root: root}, nil
}

// path resolves key below root. Keys that are empty or climb out of the
// root are rejected.
func (b *Backend) path(key string) (string, error) {
	p := filepath.Join(b.root, filepath.FromSlash(key))
	rel, err := filepath.Rel(b.root, p)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid media key %q", key)
	}
	return p, nil
}

func notFound(key string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%s: %w", key, libcloud.ErrFileNotFound)
	}
	return fmt.Errorf("%s: %w", key, err)
}

// GetObjectMeta stats the file behind key.
func (b *Backend) GetObjectMeta(ctx context.Context, key string) (*libcloud.ObjectMeta, error) {
	p, err := b.path(key)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(p)
	if err != nil {
		return nil, notFound(key, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s: %w", key, libcloud.ErrFileNotFound)
	}
	return &libcloud.ObjectMeta{
		Key:         key,
		Size:        info.Size(),
		ContentType: contentType(p),
		UpdatedAt:   info.ModTime(),
	}, nil
}

// contentType goes by extension and sniffs the head of the file otherwise.
func contentType(p string) string {
	if ct := mime.TypeByExtension(filepath.Ext(p)); ct != "" {
		return ct
	}
	f, err := os.Open(p)
	if err != nil {
		return "application/octet-stream"
	}
	defer f.Close()

	head := make([]byte, 512)
	n, _ := io.ReadFull(f, head)
	return http.DetectContentType(head[:n])
}

// Upload writes to a temporary file in the target directory and renames it
// over key, so a failed upload never leaves a truncated file behind.
func (b *Backend) Upload(ctx context.Context, key string, reader io.Reader) error {
	p, err := b.path(key)
	if err != nil {
		return err
	}
	dir := filepath.Dir(p)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	defer os.Remove(tmp.Name())

	_, err = io.Copy(tmp, reader)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return os.Rename(tmp.Name(), p)
}

// Download opens the file behind key.
func (b *Backend) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	p, err := b.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, notFound(key, err)
	}
	return f, nil
}

// Delete removes the file behind key along with any directories it leaves
// empty.
func (b *Backend) Delete(ctx context.Context, key string) error {
	p, err := b.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		return notFound(key, err)
	}
	b.prune(filepath.Dir(p))
	return nil
}

func (b *Backend) prune(dir string) {
	for dir != b.root && strings.HasPrefix(dir, b.root) {
		// Remove fails on non-empty directories
		if os.Remove(dir) != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}
