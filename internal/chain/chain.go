package chain

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	xerrors "OpenIntent-Chain/internal/errors"
)

// Snapshot represents summarized network metadata for reporting endpoints.
type Snapshot struct {
	ChainID     string `json:"chain_id"`
	BlockNumber string `json:"block_number"`
	GasPrice    string `json:"gas_price"`
}

// Client defines the common interface that any chain implementation must
// provide so higher layers can interact with different networks uniformly.
type Client interface {
	FetchSnapshot(ctx context.Context) (Snapshot, error)
	Close()
}

// Definition describes a single chain entry in chains.yaml.
type Definition struct {
	Name         string `yaml:"name" json:"name"`
	ChainID      uint64 `yaml:"chain_id" json:"chain_id"`
	RPCURL       string `yaml:"rpc_url" json:"-"`
	ExplorerURL  string `yaml:"explorer_url" json:"explorer_url,omitempty"`
	NativeSymbol string `yaml:"native_symbol" json:"native_symbol,omitempty"`
	Testnet      bool   `yaml:"testnet" json:"testnet"`
}

// Definitions models the structure of chains.yaml.
type Definitions struct {
	Default uint64       `yaml:"default"`
	Chains  []Definition `yaml:"chains"`
}

const (
	CodeChainNotSupported xerrors.Code = "CHAIN_NOT_SUPPORTED"
)

// ErrChainNotSupported 表示链 ID 未在注册表中配置。
var ErrChainNotSupported = xerrors.New(CodeChainNotSupported, "chain not supported")

func init() {
	xerrors.Register(CodeChainNotSupported, xerrors.Attributes{
		Message:   "chain not supported",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
}

// LoadDefinitions parses the YAML file containing chain metadata.
func LoadDefinitions(path string) (Definitions, error) {
	if strings.TrimSpace(path) == "" {
		return Definitions{}, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return Definitions{}, fmt.Errorf("读取链配置失败: %w", err)
	}

	var defs Definitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return Definitions{}, fmt.Errorf("解析链配置失败: %w", err)
	}
	for i, def := range defs.Chains {
		if def.ChainID == 0 {
			return Definitions{}, fmt.Errorf("链配置第 %d 项缺少 chain_id", i+1)
		}
	}
	return defs, nil
}
