// Package storage owns the ephemeral upload and result directories. Paths
// are injected at construction; nothing here touches global state.
package storage

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nfnt/resize"
	"go.uber.org/zap"
)

const thumbnailWidth = 256

// Store writes uploads and results under two fixed directories and serves
// them back by name.
type Store struct {
	uploadDir string
	resultDir string
	logger    *zap.Logger
}

// New ensures both directories exist and returns a store over them.
func New(uploadDir, resultDir string, logger *zap.Logger) (*Store, error) {
	for _, dir := range []string{uploadDir, resultDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("storage: create %s: %w", dir, err)
		}
	}
	return &Store{
		uploadDir: uploadDir,
		resultDir: resultDir,
		logger:    logger.Named("storage"),
	}, nil
}

// SaveUpload stores the raw upload under a fresh random name, keeping the
// original extension, and returns that name.
func (s *Store) SaveUpload(originalName string, data []byte) (string, error) {
	ext := strings.ToLower(filepath.Ext(originalName))
	name := randomName() + ext
	if err := os.WriteFile(filepath.Join(s.uploadDir, name), data, 0o644); err != nil {
		return "", fmt.Errorf("storage: save upload: %w", err)
	}
	return name, nil
}

// SaveResult stores processed PNG bytes and returns the generated name.
func (s *Store) SaveResult(data []byte) (string, error) {
	name := randomName() + ".png"
	if err := os.WriteFile(filepath.Join(s.resultDir, name), data, 0o644); err != nil {
		return "", fmt.Errorf("storage: save result: %w", err)
	}
	return name, nil
}

// SaveThumbnail writes a small preview next to the named result. Thumbnails
// are a convenience for the UI; failures are the caller's to ignore.
func (s *Store) SaveThumbnail(img image.Image, resultName string) (string, error) {
	thumb := resize.Resize(thumbnailWidth, 0, img, resize.Lanczos3)

	name := strings.TrimSuffix(resultName, filepath.Ext(resultName)) + "_thumb.png"
	f, err := os.Create(filepath.Join(s.resultDir, name))
	if err != nil {
		return "", fmt.Errorf("storage: create thumbnail: %w", err)
	}
	defer f.Close()

	if err := png.Encode(f, thumb); err != nil {
		return "", fmt.Errorf("storage: encode thumbnail: %w", err)
	}
	return name, nil
}

// UploadDir returns the upload root for static serving.
func (s *Store) UploadDir() string { return s.uploadDir }

// ResultDir returns the result root for static serving.
func (s *Store) ResultDir() string { return s.resultDir }

// UploadURL maps a stored upload name to its public path.
func (s *Store) UploadURL(name string) string { return "/static/uploads/" + name }

// ResultURL maps a stored result name to its public path.
func (s *Store) ResultURL(name string) string { return "/static/results/" + name }

// RemoveOlderThan deletes files in both directories whose modification time
// is older than maxAge and reports how many were removed. Per-file failures
// are logged and skipped.
func (s *Store) RemoveOlderThan(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, dir := range []string{s.uploadDir, s.resultDir} {
		entries, err := os.ReadDir(dir)
		if err != nil {
			s.logger.Warn("cleanup: read dir failed", zap.String("dir", dir), zap.Error(err))
			continue
		}
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
			path := filepath.Join(dir, entry.Name())
			if err := os.Remove(path); err != nil {
				s.logger.Warn("cleanup: remove failed", zap.String("file", path), zap.Error(err))
				continue
			}
			removed++
		}
	}
	if removed > 0 {
		s.logger.Info("cleanup: removed stale files", zap.Int("count", removed))
	}
	return removed
}

// randomName mirrors the uuid4-hex naming of stored files.
func randomName() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
