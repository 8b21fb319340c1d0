package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// writeTestManifest writes content to a temp file in the current directory
// and returns a path relative to it, mirroring the teacher's
// registry-check writeTestFile so validateManifestPath's absolute-path
// rejection doesn't get in the way of exercising run().
func writeTestManifest(t *testing.T, content string) string {
	t.Helper()
	tmp, err := os.CreateTemp(".", "manifest-*.yaml")
	if err != nil {
		t.Fatalf("create temp manifest: %v", err)
	}
	if _, err := tmp.WriteString(content); err != nil {
		t.Fatalf("write temp manifest: %v", err)
	}
	if err := tmp.Close(); err != nil {
		t.Fatalf("close temp manifest: %v", err)
	}
	t.Cleanup(func() { _ = os.Remove(tmp.Name()) })

	cwd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	abs, err := filepath.Abs(tmp.Name())
	if err != nil {
		t.Fatalf("abs: %v", err)
	}
	rel, err := filepath.Rel(cwd, abs)
	if err != nil {
		t.Fatalf("rel: %v", err)
	}
	return rel
}

func TestRun_ValidManifestSucceeds(t *testing.T) {
	content := strings.Join([]string{
		"symbols:",
		"  - name: parse",
		"    kind: filter",
		"    priority: 10",
		"  - name: score",
		"    kind: filter",
		"    priority: 0",
		"    dependencies: [parse]",
		"",
	}, "\n")
	path := writeTestManifest(t, content)

	var stdout bytes.Buffer
	if err := run(path, &stdout); err != nil {
		t.Fatalf("run() returned error: %v", err)
	}
	if !strings.Contains(stdout.String(), "manifest valid") {
		t.Fatalf("expected success message, got %q", stdout.String())
	}
}

func TestRun_MissingFile(t *testing.T) {
	var stdout bytes.Buffer
	if err := run("does-not-exist.yaml", &stdout); err == nil {
		t.Fatal("expected an error for a missing manifest")
	}
}

func TestRun_EmptyManifestRejected(t *testing.T) {
	path := writeTestManifest(t, "symbols: []\n")
	var stdout bytes.Buffer
	if err := run(path, &stdout); err == nil || !strings.Contains(err.Error(), "no symbols") {
		t.Fatalf("expected 'no symbols' error, got %v", err)
	}
}

func TestRun_UnknownKindRejected(t *testing.T) {
	content := strings.Join([]string{
		"symbols:",
		"  - name: mystery",
		"    kind: bogus",
		"",
	}, "\n")
	path := writeTestManifest(t, content)
	var stdout bytes.Buffer
	if err := run(path, &stdout); err == nil || !strings.Contains(err.Error(), "unknown kind") {
		t.Fatalf("expected unknown-kind error, got %v", err)
	}
}

func TestRun_CrossStageEdgeReportsDiagnostics(t *testing.T) {
	content := strings.Join([]string{
		"symbols:",
		"  - name: a",
		"    kind: pre_filter",
		"    dependencies: [b]",
		"  - name: b",
		"    kind: filter",
		"",
	}, "\n")
	path := writeTestManifest(t, content)
	var stdout bytes.Buffer
	if err := run(path, &stdout); err == nil {
		t.Fatal("expected a cross-stage-edge diagnostic to fail the run")
	}
}

func TestCLI_UnknownFlagReturnsUsageCode(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := cli([]string{"-bogus"}, &stdout, &stderr)
	if code != 2 {
		t.Fatalf("expected exit code 2 for a flag-parse failure, got %d", code)
	}
}

func TestCLI_FailureReturnsNonZero(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := cli([]string{"-manifest", "does-not-exist.yaml"}, &stdout, &stderr)
	if code != 1 {
		t.Fatalf("expected exit code 1 for a failed run, got %d", code)
	}
	if !strings.Contains(stderr.String(), "symcache-lint:") {
		t.Fatalf("expected a prefixed error on stderr, got %q", stderr.String())
	}
}

func TestValidateManifestPath(t *testing.T) {
	cases := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{name: "relative ok", path: "symcache.yaml", wantErr: false},
		{name: "empty", path: "", wantErr: true},
		{name: "absolute", path: "/etc/passwd", wantErr: true},
		{name: "traversal", path: "../secrets.yaml", wantErr: true},
	}
	for _, c := range cases {
		_, err := validateManifestPath(c.path)
		if (err != nil) != c.wantErr {
			t.Errorf("%s: validateManifestPath(%q) error = %v, wantErr %v", c.name, c.path, err, c.wantErr)
		}
	}
}
