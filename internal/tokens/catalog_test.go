package tokens

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

const catalogFixture = `
tokens:
  usdc:
    name: USD Coin
    decimals: 6
    deployments:
      "421614": "0x75faf114eafb1BDbe2F0316DF893fd58CE46AA4d"
      "84532": "0x036CbD53842c5426634e7929541eC2318f3dCF7e"
  WETH:
    name: Wrapped Ether
    decimals: 18
    deployments:
      "421614": "0x980B62Da83eFf3D4576C647993b0c1D7faf17c73"
`

func writeCatalogFixture(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tokens.yaml")
	if err := os.WriteFile(path, []byte(catalogFixture), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func TestLoadCatalogResolvesBySymbolAndChain(t *testing.T) {
	catalog, err := LoadCatalog(writeCatalogFixture(t))
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}

	token, err := catalog.Resolve("USDC", 84532)
	if err != nil {
		t.Fatalf("resolve USDC: %v", err)
	}
	if token.Address != "0x036CbD53842c5426634e7929541eC2318f3dCF7e" {
		t.Fatalf("unexpected address: %s", token.Address)
	}
	if token.Decimals != 6 {
		t.Fatalf("unexpected decimals: %d", token.Decimals)
	}

	// 小写符号应命中同一条目。
	if _, err := catalog.Resolve("usdc", 421614); err != nil {
		t.Fatalf("lowercase symbol should resolve: %v", err)
	}
}

func TestResolveUnknownToken(t *testing.T) {
	catalog, err := LoadCatalog(writeCatalogFixture(t))
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}

	if _, err := catalog.Resolve("DOGE", 84532); !errors.Is(err, ErrUnknownToken) {
		t.Fatalf("expected ErrUnknownToken, got %v", err)
	}
	if _, err := catalog.Resolve("WETH", 84532); !errors.Is(err, ErrTokenNotOnChain) {
		t.Fatalf("expected ErrTokenNotOnChain, got %v", err)
	}
	if catalog.Supports("WETH", 84532) {
		t.Fatal("WETH should not be supported on 84532")
	}
}

func TestSymbolsSorted(t *testing.T) {
	catalog, err := LoadCatalog(writeCatalogFixture(t))
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	symbols := catalog.Symbols()
	if len(symbols) != 2 || symbols[0] != "USDC" || symbols[1] != "WETH" {
		t.Fatalf("unexpected symbols: %v", symbols)
	}
}
