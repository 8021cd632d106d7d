package fs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"genomeforge/internal/blob/core"
)

func TestPutRejectsEscapingKeys(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	for _, key := range []string{"", "   ", "/etc/passwd", "../up", "a/../../b", "x.meta"} {
		if _, err := s.Put(context.Background(), key, strings.NewReader("x"), core.PutOptions{}); !errors.Is(err, core.ErrInvalidKey) {
			t.Fatalf("expected invalid key for %q, got %v", key, err)
		}
	}
}

func TestPutWritesDataAndSidecar(t *testing.T) {
	root := t.TempDir()
	s, err := New(root)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	info, err := s.Put(context.Background(), "artifacts/p/j/0-hero.tsx", strings.NewReader("hero"), core.PutOptions{Metadata: map[string]string{"node_id": "n1"}})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if len(info.ETag) != 64 {
		t.Fatalf("expected sha256 etag, got %q", info.ETag)
	}
	data, err := os.ReadFile(filepath.Join(root, "artifacts", "p", "j", "0-hero.tsx"))
	if err != nil || string(data) != "hero" {
		t.Fatalf("expected data file, got %q %v", data, err)
	}
	if _, err := os.Stat(filepath.Join(root, "artifacts", "p", "j", "0-hero.tsx.meta")); err != nil {
		t.Fatalf("expected sidecar: %v", err)
	}
	head, err := s.Head(context.Background(), "artifacts/p/j/0-hero.tsx")
	if err != nil || head.Metadata["node_id"] != "n1" {
		t.Fatalf("expected metadata round trip, got %+v %v", head, err)
	}
	entries, _ := os.ReadDir(filepath.Join(root, "artifacts", "p", "j"))
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".upload-") {
			t.Fatalf("expected temp file cleaned up, found %s", e.Name())
		}
	}
}

func TestPresignURLOnlyGet(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	url, err := s.PresignURL(context.Background(), "artifacts/a.tsx", core.SignedURLOptions{})
	if err != nil || !strings.HasPrefix(url, "file://") {
		t.Fatalf("expected file url, got %q %v", url, err)
	}
	if _, err := s.PresignURL(context.Background(), "artifacts/a.tsx", core.SignedURLOptions{Method: "PUT"}); !errors.Is(err, core.ErrUnsupported) {
		t.Fatalf("expected unsupported for PUT, got %v", err)
	}
}
