package main

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"symcache/internal/cache"
	"symcache/pkg/symcache"
	"symcache/pkg/symcontract"
)

// manifestSymbol is one entry of the YAML manifest cmd/symcache-lint
// validates offline, before a process ever loads it (spec §4.12).
type manifestSymbol struct {
	Name         string   `yaml:"name"`
	Kind         string   `yaml:"kind"`
	Parent       string   `yaml:"parent,omitempty"` // required when kind == virtual
	Priority     int      `yaml:"priority"`
	Ghost        bool     `yaml:"ghost,omitempty"`
	FineGrained  bool     `yaml:"fine_grained,omitempty"`
	Dependencies []string `yaml:"dependencies,omitempty"`
	AllowedIDs   []int32  `yaml:"allowed_ids,omitempty"`
	ForbiddenIDs []int32  `yaml:"forbidden_ids,omitempty"`
	ExecOnlyIDs  []int32  `yaml:"exec_only_ids,omitempty"`
}

// manifest is the top-level document shape.
type manifest struct {
	Symbols []manifestSymbol `yaml:"symbols"`
}

var kindByName = map[string]symcache.Kind{
	"conn_filter": symcache.ConnFilter,
	"pre_filter":  symcache.PreFilter,
	"filter":      symcache.Filter,
	"post_filter": symcache.PostFilter,
	"idempotent":  symcache.Idempotent,
	"classifier":  symcache.Classifier,
	"composite":   symcache.Composite,
	"virtual":     symcache.Virtual,
}

// noopCallback satisfies symcontract.CallbackFunc for manifest symbols; the
// lint tool never schedules a message, so the function body is never
// reached at runtime.
func noopCallback(_ context.Context, _ any, _ int32, _ any, _ symcontract.AsyncHandle) (symcontract.CallbackResult, error) {
	return symcontract.CallbackResult{}, nil
}

func loadManifest(path string) (*manifest, error) {
	safePath, err := validateManifestPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(safePath) // #nosec G304: path validated by validateManifestPath
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	return &m, nil
}

// buildCache registers every manifest symbol against a fresh Cache and
// resolves it, returning whatever diagnostics Finalize produced.
func buildCache(m *manifest) (*cache.Cache, cache.FinalizeDiagnostics, error) {
	c := cache.New(nil)

	for _, sym := range m.Symbols {
		kind, ok := kindByName[sym.Kind]
		if !ok {
			return nil, cache.FinalizeDiagnostics{}, fmt.Errorf("symbol %q: unknown kind %q", sym.Name, sym.Kind)
		}
		flags := manifestFlags(sym)

		var err error
		if kind == symcache.Virtual {
			_, err = c.RegisterVirtual(sym.Name, sym.Parent, kind, flags)
		} else {
			_, err = c.RegisterCallback(sym.Name, sym.Priority, kind, flags, noopCallback, nil)
		}
		if err != nil {
			return nil, cache.FinalizeDiagnostics{}, fmt.Errorf("symbol %q: %w", sym.Name, err)
		}

		if len(sym.AllowedIDs) > 0 {
			c.SetAllowedIDs(sym.Name, sym.AllowedIDs)
		}
		if len(sym.ForbiddenIDs) > 0 {
			c.SetForbiddenIDs(sym.Name, sym.ForbiddenIDs)
		}
		if len(sym.ExecOnlyIDs) > 0 {
			c.SetExecOnlyIDs(sym.Name, sym.ExecOnlyIDs)
		}
	}

	for _, sym := range m.Symbols {
		for _, dep := range sym.Dependencies {
			if err := c.AddDependency(sym.Name, dep); err != nil {
				return nil, cache.FinalizeDiagnostics{}, fmt.Errorf("symbol %q: %w", sym.Name, err)
			}
		}
	}

	diag := c.Finalize()
	return c, diag, nil
}

func manifestFlags(sym manifestSymbol) symcache.Flags {
	var flags symcache.Flags
	if sym.Ghost {
		flags |= symcache.FlagGhost
	}
	if sym.FineGrained {
		flags |= symcache.FlagFineGrained
	}
	return flags
}
