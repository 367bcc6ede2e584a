package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"schematic-pipeline/internal/domain"
	"schematic-pipeline/internal/domain/model"
	"schematic-pipeline/internal/domain/ports/adapter"
)

var _ adapter.ArtifactSink = (*FileSink)(nil)

// FileSink stores artifacts as files under dir. Content is streamed into a
// temp file in the same directory and renamed into place after fsync, so a
// reader never observes a partial artifact.
type FileSink struct {
	dir    string
	prefix string
	ext    string
}

func NewFileSink(dir, prefix, ext string) (*FileSink, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: storage path empty", domain.ErrInvalidArgument)
	}
	return &FileSink{dir: dir, prefix: prefix, ext: ext}, nil
}

func (s *FileSink) Key(jobID string) string { return objectKey(s.prefix, jobID, s.ext) }

// EnsureDir creates the storage directory tree.
func (s *FileSink) EnsureDir() error {
	return os.MkdirAll(filepath.Join(s.dir, filepath.Dir(filepath.FromSlash(s.Key("x")))), 0o755)
}

func (s *FileSink) Put(ctx context.Context, jobID string, r io.Reader) (*model.Artifact, error) {
	key := s.Key(jobID)
	final := filepath.Join(s.dir, filepath.FromSlash(key))
	dir := filepath.Dir(final)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrSinkFailed, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(final)+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrSinkFailed, err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	n, err := io.Copy(tmp, ctxReader{ctx: ctx, r: r})
	if err != nil {
		return nil, fmt.Errorf("%w: write %s: %w", domain.ErrSinkFailed, key, err)
	}
	if err := tmp.Sync(); err != nil {
		return nil, fmt.Errorf("%w: sync %s: %w", domain.ErrSinkFailed, key, err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("%w: close %s: %w", domain.ErrSinkFailed, key, err)
	}
	if err := os.Rename(tmp.Name(), final); err != nil {
		_ = os.Remove(tmp.Name())
		committed = true
		return nil, fmt.Errorf("%w: rename %s: %w", domain.ErrSinkFailed, key, err)
	}
	committed = true
	return &model.Artifact{JobID: jobID, Key: key, Size: n}, nil
}

// ctxReader stops a copy once ctx is done.
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
