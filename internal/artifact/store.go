// Package artifact stores task outputs on the local filesystem.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/fyrsmithlabs/taskrelay/internal/orchestrator"
	"github.com/google/uuid"
)

// ErrInvalidArtifact is returned for artifacts without a readable regular file.
var ErrInvalidArtifact = errors.New("invalid artifact")

// FileStore copies artifacts into <root>/<task id>/<uuid>-<name> and returns
// file:// URLs.
type FileStore struct {
	root string
}

// NewFileStore creates a store rooted at dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{root: dir}
}

// Root returns the store directory.
func (s *FileStore) Root() string { return s.root }

// Store implements orchestrator.ArtifactStore.
func (s *FileStore) Store(ctx context.Context, taskID string, a orchestrator.LocalArtifact) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if taskID == "" || strings.ContainsAny(taskID, `/\`) || taskID == "." || taskID == ".." {
		return "", fmt.Errorf("%w: bad task id %q", ErrInvalidArtifact, taskID)
	}

	info, err := os.Stat(a.Path)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrInvalidArtifact, a.Name, err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: %s is not a regular file", ErrInvalidArtifact, a.Path)
	}

	dir := filepath.Join(s.root, taskID)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create artifact dir: %w", err)
	}

	name := a.Name
	if name == "" {
		name = filepath.Base(a.Path)
	}
	dst := filepath.Join(dir, uuid.NewString()+"-"+filepath.Base(name))

	if err := copyFile(ctx, a.Path, dst); err != nil {
		_ = os.Remove(dst)
		return "", err
	}

	abs, err := filepath.Abs(dst)
	if err != nil {
		return "", err
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String(), nil
}

func copyFile(ctx context.Context, src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}

	if _, err := io.Copy(out, &ctxReader{ctx: ctx, r: in}); err != nil {
		out.Close()
		return fmt.Errorf("copy %s: %w", src, err)
	}
	return out.Close()
}

// ctxReader stops a copy once the upload timeout has passed.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
