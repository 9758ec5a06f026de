package skill

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	xerrors "OpenIntent-Chain/internal/errors"
)

type stubProvider struct {
	name   string
	chains map[uint64]bool
}

func (p *stubProvider) Name() string { return p.name }

func (p *stubProvider) SupportsChain(chainID uint64) bool { return p.chains[chainID] }

func (p *stubProvider) Execute(context.Context, map[string]any) (*Result, error) {
	return &Result{Output: map[string]any{"ok": true}}, nil
}

func TestRegistryRegisterAndLookup(t *testing.T) {
	registry := NewRegistry()
	provider := &stubProvider{name: "swap", chains: map[uint64]bool{84532: true}}

	if err := registry.Register(provider); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := registry.Register(provider); xerrors.CodeOf(err) != xerrors.CodeConflict {
		t.Fatalf("expected conflict on duplicate registration, got %v", err)
	}

	got, ok := registry.Lookup("swap")
	if !ok || got.Name() != "swap" {
		t.Fatalf("lookup failed: %v %v", got, ok)
	}
	if _, ok := registry.Lookup("bridge"); ok {
		t.Fatal("bridge should not be registered")
	}

	if err := registry.Register(&stubProvider{name: "   "}); err == nil {
		t.Fatal("expected error for blank name")
	}

	if err := registry.Register(&stubProvider{name: "bridge"}); err != nil {
		t.Fatalf("register bridge: %v", err)
	}
	names := registry.Names()
	if len(names) != 2 || names[0] != "bridge" || names[1] != "swap" {
		t.Fatalf("unexpected names: %v", names)
	}
}

const definitionsFixture = `
defaults:
  max_retries: 2
  timeout_ms: 5000
  config:
    slippage_bps: 50
    route: canonical
skills:
  - name: swap
    provider: builtin
    chains: [421614, 84532]
    config:
      slippage_bps: 30
  - name: quote_bridge
    provider: builtin
    chains: [421614]
    max_retries: 0
    timeout_ms: 1500
`

func TestLoadDefinitionsMergesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "skills.yaml")
	if err := os.WriteFile(path, []byte(definitionsFixture), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	defs, err := LoadDefinitions(path)
	if err != nil {
		t.Fatalf("load definitions: %v", err)
	}

	swap, ok := defs.Resolve("swap")
	if !ok {
		t.Fatal("swap definition missing")
	}
	// 覆盖值生效，未覆盖的默认值保留。
	if swap.Config["slippage_bps"] != 30 {
		t.Fatalf("expected overridden slippage 30, got %v", swap.Config["slippage_bps"])
	}
	if swap.Config["route"] != "canonical" {
		t.Fatalf("expected default route, got %v", swap.Config["route"])
	}
	if swap.MaxRetries != 2 || swap.TimeoutMS != 5000 {
		t.Fatalf("expected defaults applied: %+v", swap)
	}

	quote, ok := defs.Resolve("quote_bridge")
	if !ok {
		t.Fatal("quote_bridge definition missing")
	}
	if quote.MaxRetries != 0 || quote.TimeoutMS != 1500 {
		t.Fatalf("explicit overrides lost: %+v", quote)
	}
	if quote.Timeout().Milliseconds() != 1500 {
		t.Fatalf("unexpected timeout: %v", quote.Timeout())
	}

	if _, ok := defs.Resolve("missing"); ok {
		t.Fatal("missing skill should not resolve")
	}
}

func TestLoadDefinitionsEmptyPath(t *testing.T) {
	defs, err := LoadDefinitions("")
	if err != nil {
		t.Fatalf("empty path should not error: %v", err)
	}
	if len(defs.Skills) != 0 {
		t.Fatalf("expected no skills, got %d", len(defs.Skills))
	}
}
