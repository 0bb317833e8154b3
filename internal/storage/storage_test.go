package storage

import (
	"image"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	root := t.TempDir()
	store, err := New(filepath.Join(root, "uploads"), filepath.Join(root, "results"), zap.NewNop())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store
}

func TestSaveUploadKeepsExtension(t *testing.T) {
	store := newTestStore(t)

	name, err := store.SaveUpload("Photo.JPEG", []byte("payload"))
	if err != nil {
		t.Fatalf("save upload failed: %v", err)
	}
	if !strings.HasSuffix(name, ".jpeg") {
		t.Fatalf("expected lowercased extension, got %q", name)
	}

	data, err := os.ReadFile(filepath.Join(store.UploadDir(), name))
	if err != nil {
		t.Fatalf("stored file unreadable: %v", err)
	}
	if string(data) != "payload" {
		t.Fatalf("stored content mismatch: %q", data)
	}
	if store.UploadURL(name) != "/static/uploads/"+name {
		t.Fatalf("unexpected upload url: %s", store.UploadURL(name))
	}
}

func TestSaveResultGeneratesUniqueNames(t *testing.T) {
	store := newTestStore(t)

	first, err := store.SaveResult([]byte("a"))
	if err != nil {
		t.Fatalf("save result failed: %v", err)
	}
	second, err := store.SaveResult([]byte("b"))
	if err != nil {
		t.Fatalf("save result failed: %v", err)
	}
	if first == second {
		t.Fatalf("expected unique names, got %q twice", first)
	}
	if !strings.HasSuffix(first, ".png") {
		t.Fatalf("results must be png, got %q", first)
	}
}

func TestSaveThumbnail(t *testing.T) {
	store := newTestStore(t)

	img := image.NewNRGBA(image.Rect(0, 0, 512, 256))
	for i := range img.Pix {
		img.Pix[i] = 200
	}

	name, err := store.SaveThumbnail(img, "abc123.png")
	if err != nil {
		t.Fatalf("save thumbnail failed: %v", err)
	}
	if name != "abc123_thumb.png" {
		t.Fatalf("unexpected thumbnail name: %q", name)
	}
	if _, err := os.Stat(filepath.Join(store.ResultDir(), name)); err != nil {
		t.Fatalf("thumbnail not written: %v", err)
	}
}

func TestRemoveOlderThan(t *testing.T) {
	store := newTestStore(t)

	oldName, err := store.SaveUpload("old.png", []byte("old"))
	if err != nil {
		t.Fatalf("save upload failed: %v", err)
	}
	freshName, err := store.SaveResult([]byte("fresh"))
	if err != nil {
		t.Fatalf("save result failed: %v", err)
	}

	stale := time.Now().Add(-48 * time.Hour)
	oldPath := filepath.Join(store.UploadDir(), oldName)
	if err := os.Chtimes(oldPath, stale, stale); err != nil {
		t.Fatalf("failed to age file: %v", err)
	}

	removed := store.RemoveOlderThan(24 * time.Hour)
	if removed != 1 {
		t.Fatalf("expected 1 removal, got %d", removed)
	}
	if _, err := os.Stat(oldPath); !os.IsNotExist(err) {
		t.Fatalf("stale file should be gone, stat err: %v", err)
	}
	if _, err := os.Stat(filepath.Join(store.ResultDir(), freshName)); err != nil {
		t.Fatalf("fresh file should survive: %v", err)
	}
}
