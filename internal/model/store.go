package model

import (
	"path/filepath"

	"github.com/example/cutout/internal/segmentation"
)

// Store resolves model names inside a single directory. Names are reduced to
// their base component so request input can never escape the model dir.
type Store struct {
	dir string
}

// NewStore returns a store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Load resolves name inside the store and parses it as a segmenter document.
func (s *Store) Load(name string) (segmentation.Segmenter, error) {
	return Load(filepath.Join(s.dir, filepath.Base(name)))
}
