package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDirectImportViolations(t *testing.T) {
	dir := t.TempDir()
	src := "package x\n\nimport (\n\t\"fmt\"\n\t\"genomeforge/internal/ledger\"\n)\n\nvar _ = fmt.Sprint\n"
	if err := os.WriteFile(filepath.Join(dir, "x.go"), []byte(src), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "x_test.go"), []byte("package x\n\nimport _ \"genomeforge/internal/core\"\n"), 0o600); err != nil {
		t.Fatalf("write test: %v", err)
	}
	viols, err := DirectImportViolations(dir, InternalImportForbidden)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(viols) != 1 || viols[0] != "genomeforge/internal/ledger (in x.go)" {
		t.Fatalf("expected one violation from x.go, got %v", viols)
	}
	if _, err := DirectImportViolations(filepath.Join(dir, "missing"), InternalImportForbidden); err == nil {
		t.Fatalf("expected error for missing dir")
	}
}

func TestPredicates(t *testing.T) {
	pred := AnyOf(ImportPrefixForbidden("genomeforge/cmd"), InternalImportForbidden)
	cases := map[string]bool{
		"genomeforge/cmd":             true,
		"genomeforge/cmd/genomectl":   true,
		"genomeforge/cmdx":            false,
		"genomeforge/internal/ledger": true,
		"genomeforge/pkg/genome":      false,
	}
	for path, want := range cases {
		if got := pred(path); got != want {
			t.Fatalf("%s: expected %v, got %v", path, want, got)
		}
	}
}
