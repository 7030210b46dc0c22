package store

import (
	"path/filepath"
	"testing"

	"github.com/sovren-software/visage/internal/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "faces.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestInsertAssignsIDAndTimestamp(t *testing.T) {
	s := openTestStore(t)
	tmpl := types.FaceTemplate{
		Username:  "alice",
		Label:     "front",
		Embedding: types.Embedding{Values: []float32{0.1, 0.2, 0.3}, ModelVersion: "w600k_r50"},
	}
	stored, err := s.Insert(tmpl)
	if err != nil {
		t.Fatalf("Insert() error: %v", err)
	}
	if stored.ID == "" {
		t.Fatal("expected a generated ID")
	}
	if stored.CreatedAt.IsZero() {
		t.Fatal("expected CreatedAt to be stamped")
	}
}

func TestGalleryForRoundTripsEmbedding(t *testing.T) {
	s := openTestStore(t)
	tmpl := types.FaceTemplate{
		Username:  "alice",
		Label:     "front",
		Embedding: types.Embedding{Values: []float32{0.25, -0.5, 1.0}, ModelVersion: "w600k_r50"},
	}
	if _, err := s.Insert(tmpl); err != nil {
		t.Fatalf("Insert() error: %v", err)
	}

	gallery, err := s.GalleryFor("alice")
	if err != nil {
		t.Fatalf("GalleryFor() error: %v", err)
	}
	if len(gallery) != 1 {
		t.Fatalf("gallery len = %d, want 1", len(gallery))
	}
	got := gallery[0].Embedding.Values
	want := []float32{0.25, -0.5, 1.0}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("embedding[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestGalleryForIsolatesByUsername(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.Insert(types.FaceTemplate{Username: "alice", Embedding: types.Embedding{Values: []float32{1}}}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Insert(types.FaceTemplate{Username: "bob", Embedding: types.Embedding{Values: []float32{2}}}); err != nil {
		t.Fatal(err)
	}

	gallery, err := s.GalleryFor("alice")
	if err != nil {
		t.Fatalf("GalleryFor() error: %v", err)
	}
	if len(gallery) != 1 {
		t.Fatalf("gallery len = %d, want 1", len(gallery))
	}
}

func TestRemoveRequiresOwnership(t *testing.T) {
	s := openTestStore(t)
	tmpl, err := s.Insert(types.FaceTemplate{Username: "alice", Embedding: types.Embedding{Values: []float32{1}}})
	if err != nil {
		t.Fatal(err)
	}

	ok, err := s.Remove("bob", tmpl.ID)
	if err != nil {
		t.Fatalf("Remove() error: %v", err)
	}
	if ok {
		t.Fatal("expected removal by the wrong username to fail")
	}

	ok, err = s.Remove("alice", tmpl.ID)
	if err != nil {
		t.Fatalf("Remove() error: %v", err)
	}
	if !ok {
		t.Fatal("expected removal by the owning username to succeed")
	}
}

func TestCountAll(t *testing.T) {
	s := openTestStore(t)
	if n, err := s.CountAll(); err != nil || n != 0 {
		t.Fatalf("CountAll() = %d, %v; want 0, nil", n, err)
	}
	if _, err := s.Insert(types.FaceTemplate{Username: "alice", Embedding: types.Embedding{Values: []float32{1}}}); err != nil {
		t.Fatal(err)
	}
	if n, err := s.CountAll(); err != nil || n != 1 {
		t.Fatalf("CountAll() = %d, %v; want 1, nil", n, err)
	}
}
