// Command symcache-lint offline-validates a symbol configuration manifest
// against the same Registry and Resolver a running cache uses, so a broken
// manifest is caught in CI before any process loads it (spec §4.12),
// grounded on the teacher's cmd/registry-check.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var exitFunc = os.Exit

func main() {
	code := cli(os.Args[1:], os.Stdout, os.Stderr)
	exitFunc(code)
}

func cli(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("symcache-lint", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var manifestPath string
	fs.StringVar(&manifestPath, "manifest", "symcache.yaml", "path to the symbol manifest")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if err := run(manifestPath, stdout); err != nil {
		fmt.Fprintf(stderr, "symcache-lint: %v\n", err)
		return 1
	}
	return 0
}

func run(manifestPath string, stdout io.Writer) error {
	m, err := loadManifest(manifestPath)
	if err != nil {
		return err
	}
	if len(m.Symbols) == 0 {
		return fmt.Errorf("manifest has no symbols")
	}

	_, diag, err := buildCache(m)
	if err != nil {
		return err
	}
	if !diag.OK() {
		return fmt.Errorf("%s", diag.String())
	}

	fmt.Fprintln(stdout, "symcache-lint: manifest valid.")
	return nil
}

// validateManifestPath ensures the manifest path is within the repository
// tree and not an absolute or path-traversing reference, mirroring the
// teacher's registry-check path hardening.
func validateManifestPath(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", fmt.Errorf("empty path")
	}
	if filepath.IsAbs(p) {
		return "", fmt.Errorf("absolute paths not allowed: %s", p)
	}
	clean := filepath.Clean(p)
	if strings.Contains(clean, "..") {
		return "", fmt.Errorf("path traversal not allowed: %s", p)
	}
	return clean, nil
}
