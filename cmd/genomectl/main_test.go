package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	content := strings.Join([]string{
		"log:",
		"  level: error",
		"storage:",
		"  driver: sqlite",
		"  sqlite_path: " + filepath.Join(dir, "state.db"),
		"blob:",
		"  driver: fs",
		"  fs_root: " + filepath.Join(dir, "artifacts"),
		"kv:",
		"  driver: memory",
		"generator:",
		"  driver: template",
		"",
	}, "\n")
	path := filepath.Join(dir, "genomeforge.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path, dir
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func runCLI(t *testing.T, args ...string) (map[string]any, int, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	var out map[string]any
	if code == 0 && strings.HasPrefix(strings.TrimSpace(stdout.String()), "{") {
		if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
			t.Fatalf("decode output of %v: %v\n%s", args, err, stdout.String())
		}
	}
	return out, code, stderr.String()
}

const sampleGenome = `[
  {"id": "hero", "type": "hero", "props": {"title": "Hello"}, "children": [
    {"id": "cta", "type": "button", "props": {"label": "Go"}}
  ]},
  {"id": "footer", "type": "footer"}
]`

func TestCLIProjectLifecycle(t *testing.T) {
	cfg, dir := writeConfig(t)
	genomeFile := writeFile(t, dir, "genome.json", sampleGenome)
	base := []string{"--config", cfg, "--user", "u1"}
	with := func(args ...string) []string { return append(append([]string{}, base...), args...) }

	project, code, stderr := runCLI(t, with("project", "create", "--name", "site", "--genome", genomeFile)...)
	if code != 0 {
		t.Fatalf("create failed: %s", stderr)
	}
	id, _ := project["id"].(string)
	if id == "" || project["version"].(float64) != 1 {
		t.Fatalf("unexpected project %+v", project)
	}

	if _, code, stderr = runCLI(t, with("topup", "50", "--note", "welcome")...); code != 0 {
		t.Fatalf("topup failed: %s", stderr)
	}

	entry, code, stderr := runCLI(t, with("project", "mutate", id, "--node", "cta", "--props", `{"label":"Buy"}`)...)
	if code != 0 {
		t.Fatalf("mutate failed: %s", stderr)
	}
	if entry["version"].(float64) != 2 {
		t.Fatalf("expected version 2, got %+v", entry)
	}

	out, code, stderr := runCLI(t, with("materialise", id)...)
	if code != 0 {
		t.Fatalf("materialise failed: %s", stderr)
	}
	status := out["status"].(map[string]any)
	if status["status"] != "PASSED" || status["progress"].(float64) != 100 {
		t.Fatalf("expected PASSED job, got %+v", status)
	}
	ticket := out["ticket"].(map[string]any)
	if ticket["amount"].(float64) != 12 {
		t.Fatalf("expected cost 12, got %+v", ticket)
	}

	jobID := ticket["job_id"].(string)
	view, code, stderr := runCLI(t, with("status", jobID)...)
	if code != 0 {
		t.Fatalf("status failed: %s", stderr)
	}
	if view["source"] != "durable" || view["status"] != "PASSED" {
		t.Fatalf("expected durable PASSED status in a fresh process, got %+v", view)
	}

	balance, code, _ := runCLI(t, with("balance")...)
	if code != 0 || balance["balance"].(float64) != 38 || balance["effective_balance"].(float64) != 38 {
		t.Fatalf("expected balance 38, got %+v", balance)
	}

	artifacts, err := filepath.Glob(filepath.Join(dir, "artifacts", "artifacts", id, jobID, "a1", "*.tsx"))
	if err != nil || len(artifacts) != 3 {
		t.Fatalf("expected 3 artifact files, got %v (%v)", artifacts, err)
	}

	rolled, code, stderr := runCLI(t, with("project", "rollback", id, "--version", "1")...)
	if code != 0 {
		t.Fatalf("rollback failed: %s", stderr)
	}
	if rolled["version"].(map[string]any)["kind"] != "ROLLBACK" {
		t.Fatalf("expected ROLLBACK entry, got %+v", rolled)
	}
}

func TestCLIEstimateIsOffline(t *testing.T) {
	dir := t.TempDir()
	genomeFile := writeFile(t, dir, "genome.json", sampleGenome)
	out, code, stderr := runCLI(t, "--config", filepath.Join(dir, "missing.yaml"), "estimate", "--genome", genomeFile, "--custom-logic", "1")
	if code != 0 {
		t.Fatalf("estimate failed: %s", stderr)
	}
	if out["blocks"].(float64) != 3 || out["amount"].(float64) != 14 {
		t.Fatalf("expected 3 blocks costing 14, got %+v", out)
	}
}

func TestCLIReportsErrors(t *testing.T) {
	cfg, _ := writeConfig(t)
	_, code, stderr := runCLI(t, "--config", cfg, "project", "show", "missing")
	if code != 1 || !strings.Contains(stderr, "not found") {
		t.Fatalf("expected not found error, got code=%d stderr=%q", code, stderr)
	}
	_, code, stderr = runCLI(t, "--config", cfg, "topup", "lots")
	if code != 1 || !strings.Contains(stderr, "parse amount") {
		t.Fatalf("expected parse error, got code=%d stderr=%q", code, stderr)
	}
}

func TestMainUsesExitFunc(t *testing.T) {
	var got int
	exitFunc = func(code int) { got = code }
	defer func() { exitFunc = os.Exit }()
	prev := os.Args
	os.Args = []string{"genomectl", "definitely-not-a-command"}
	defer func() { os.Args = prev }()
	main()
	if got != 1 {
		t.Fatalf("expected exit 1, got %d", got)
	}
}
