package blob

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	s3store "genomeforge/internal/infra/blob/s3"
)

func drivers(t *testing.T) map[string]Store {
	t.Helper()
	fsStore, err := OpenDriver(context.Background(), DriverFilesystem, t.TempDir())
	if err != nil {
		t.Fatalf("open fs: %v", err)
	}
	memStore, err := OpenDriver(context.Background(), DriverMemory, "")
	if err != nil {
		t.Fatalf("open memory: %v", err)
	}
	return map[string]Store{
		"fs":     fsStore,
		"memory": memStore,
		"s3":     s3store.NewMockForTests(),
	}
}

func TestStoreContract(t *testing.T) {
	ctx := context.Background()
	for name, store := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			key := "artifacts/p1/j1/0-hero.tsx"
			info, err := store.Put(ctx, key, strings.NewReader("export const Hero = () => null;"), PutOptions{
				ContentType: "text/plain",
				Metadata:    map[string]string{"zone": "FORGE"},
			})
			if err != nil {
				t.Fatalf("put: %v", err)
			}
			if info.Size != int64(len("export const Hero = () => null;")) {
				t.Fatalf("expected size of body, got %d", info.Size)
			}
			if _, err := store.Put(ctx, key, strings.NewReader("again"), PutOptions{}); !errors.Is(err, ErrExists) {
				t.Fatalf("expected ErrExists on overwrite, got %v", err)
			}

			got, rc, err := store.Get(ctx, key)
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			body, _ := io.ReadAll(rc)
			_ = rc.Close()
			if string(body) != "export const Hero = () => null;" {
				t.Fatalf("unexpected body %q", body)
			}
			if got.ContentType != "text/plain" {
				t.Fatalf("expected content type preserved, got %q", got.ContentType)
			}

			if _, err := store.Put(ctx, "artifacts/p1/j1/1-text.tsx", strings.NewReader("x"), PutOptions{}); err != nil {
				t.Fatalf("put second: %v", err)
			}
			if _, err := store.Put(ctx, "artifacts/p2/j9/0-hero.tsx", strings.NewReader("y"), PutOptions{}); err != nil {
				t.Fatalf("put other project: %v", err)
			}
			listed, err := store.List(ctx, "artifacts/p1/")
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(listed) != 2 || listed[0].Key != key {
				t.Fatalf("expected two sorted keys under p1, got %+v", listed)
			}

			existed, err := store.Delete(ctx, key)
			if err != nil || !existed {
				t.Fatalf("expected delete of existing key, got %v %v", existed, err)
			}
			existed, err = store.Delete(ctx, key)
			if err != nil || existed {
				t.Fatalf("expected second delete to report missing, got %v %v", existed, err)
			}
			if _, err := store.Head(ctx, key); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound after delete, got %v", err)
			}
			if _, _, err := store.Get(ctx, key); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound from get, got %v", err)
			}
		})
	}
}

func TestOpenReadsEnvironment(t *testing.T) {
	ctx := context.Background()
	t.Setenv(EnvDriver, "memory")
	store, err := Open(ctx)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if store.Driver() != DriverMemory {
		t.Fatalf("expected memory driver, got %s", store.Driver())
	}

	t.Setenv(EnvDriver, "")
	t.Setenv(EnvFSRoot, t.TempDir())
	store, err = Open(ctx)
	if err != nil {
		t.Fatalf("open default: %v", err)
	}
	if store.Driver() != DriverFilesystem {
		t.Fatalf("expected filesystem default, got %s", store.Driver())
	}

	t.Setenv(EnvDriver, "s3")
	t.Setenv(s3store.EnvBucket, "")
	if _, err := Open(ctx); err == nil {
		t.Fatalf("expected missing bucket error")
	}

	t.Setenv(EnvDriver, "tape")
	if _, err := Open(ctx); err == nil || !strings.Contains(err.Error(), "unknown blob driver") {
		t.Fatalf("expected unknown driver error, got %v", err)
	}
}
