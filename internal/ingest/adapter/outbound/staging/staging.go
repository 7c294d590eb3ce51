package staging

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/anthanhphan/go-file-ingest/internal/ingest/domain"
	"github.com/anthanhphan/go-file-ingest/internal/ingest/port"
	"github.com/anthanhphan/gosdk/logger"
	"github.com/google/uuid"
)

// retainedDir holds files kept as the only copy. Sweep never descends into it.
const retainedDir = "retained"

// Store keeps uploaded files on local disk until they are replicated.
type Store struct {
	dir string
}

// Ensure Store implements port.Staging.
var _ port.Staging = (*Store)(nil)

// New returns a staging store rooted at dir.
func New(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the staging directory.
func (s *Store) Dir() string {
	return s.dir
}

// EnsureDir creates the staging directory if it does not exist.
func (s *Store) EnsureDir() error {
	if err := os.MkdirAll(s.dir, 0750); err != nil {
		return fmt.Errorf("failed to create staging dir: %w", err)
	}
	return nil
}

// Reserve allocates a staging path for an incoming file part.
// The path is random so concurrent uploads of the same name never collide.
func (s *Store) Reserve(originalName string, size int64, declaredContentType string) *domain.UploadedFile {
	if size < 0 {
		size = 0
	}
	return &domain.UploadedFile{
		OriginalName:        originalName,
		StagedPath:          filepath.Join(s.dir, uuid.NewString()),
		SizeBytes:           uint64(size),
		DeclaredContentType: declaredContentType,
	}
}

// Release removes the staged copy. A missing file is not an error.
func (s *Store) Release(file *domain.UploadedFile) error {
	if file == nil || file.StagedPath == "" {
		return nil
	}
	if err := os.Remove(file.StagedPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove staged file %s: %w", file.StagedPath, err)
	}
	return nil
}

// Retain moves a staged file into the retained directory, out of reach of
// Sweep, and returns it with the new path.
func (s *Store) Retain(file *domain.UploadedFile) (*domain.UploadedFile, error) {
	dir := filepath.Join(s.dir, retainedDir)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return file, fmt.Errorf("failed to create retained dir: %w", err)
	}

	target := filepath.Join(dir, filepath.Base(file.StagedPath))
	if err := os.Rename(file.StagedPath, target); err != nil {
		return file, fmt.Errorf("failed to retain staged file %s: %w", file.StagedPath, err)
	}

	retained := *file
	retained.StagedPath = target
	return &retained, nil
}

// Sweep deletes staged files older than maxAge, left behind by an unclean exit.
func (s *Store) Sweep(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to list staging dir: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}

		path := filepath.Join(s.dir, entry.Name())
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warnw("Staging sweep delete failed", "path", path, "error", err.Error())
			continue
		}
		removed++
	}

	logger.Infow("Staging sweep finished", "dir", s.dir, "removed", removed)
	return removed, nil
}
