package provider

import (
	"errors"
	"testing"

	"OpenIntent-Chain/internal/chain"
)

func testDefinitions() chain.Definitions {
	return chain.Definitions{
		Chains: []chain.Definition{
			{Name: "base-sepolia", ChainID: 84532, RPCURL: "https://sepolia.base.org", NativeSymbol: "ETH", Testnet: true},
			{Name: "arbitrum-sepolia", ChainID: 421614, RPCURL: "https://sepolia-rollup.arbitrum.io/rpc", NativeSymbol: "ETH", Testnet: true},
		},
	}
}

func TestRegistryDefaultsToLowestChainID(t *testing.T) {
	registry, err := NewRegistry(testDefinitions())
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	defer registry.Close()

	if got := registry.DefaultChainID(); got != 84532 {
		t.Fatalf("expected default chain 84532, got %d", got)
	}
	if !registry.Supports(421614) {
		t.Fatal("expected 421614 to be supported")
	}
	if registry.Supports(1) {
		t.Fatal("chain 1 should not be supported")
	}

	defs := registry.Chains()
	if len(defs) != 2 || defs[0].ChainID != 84532 || defs[1].ChainID != 421614 {
		t.Fatalf("unexpected chain order: %+v", defs)
	}
}

func TestRegistryRejectsDuplicateChains(t *testing.T) {
	defs := testDefinitions()
	defs.Chains = append(defs.Chains, chain.Definition{Name: "dup", ChainID: 84532, RPCURL: "https://example.org"})
	if _, err := NewRegistry(defs); err == nil {
		t.Fatal("expected error for duplicate chain id")
	}
}

func TestRegistryUnknownChainClient(t *testing.T) {
	registry, err := NewRegistry(testDefinitions())
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	defer registry.Close()

	if _, err := registry.Client(10); !errors.Is(err, chain.ErrChainNotSupported) {
		t.Fatalf("expected ErrChainNotSupported, got %v", err)
	}
}

func TestRegistryExplicitDefault(t *testing.T) {
	defs := testDefinitions()
	defs.Default = 421614
	registry, err := NewRegistry(defs)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	defer registry.Close()

	if got := registry.DefaultChainID(); got != 421614 {
		t.Fatalf("expected default 421614, got %d", got)
	}

	defs.Default = 5
	if _, err := NewRegistry(defs); err == nil {
		t.Fatal("expected error for unknown default chain")
	}
}
