package tokens

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	xerrors "OpenIntent-Chain/internal/errors"
)

// Token 描述某条链上的一种可交易资产。
type Token struct {
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	ChainID  uint64 `json:"chain_id"`
	Address  string `json:"address"`
	Decimals int    `json:"decimals"`
}

// Definition 描述代币目录文件中的一个条目。
type Definition struct {
	Name        string            `yaml:"name"`
	Decimals    int               `yaml:"decimals"`
	Deployments map[string]string `yaml:"deployments"`
}

// Definitions 对应 tokens.yaml 的整体结构。
type Definitions struct {
	Tokens map[string]Definition `yaml:"tokens"`
}

const (
	CodeUnknownToken    xerrors.Code = "UNKNOWN_TOKEN"
	CodeTokenNotOnChain xerrors.Code = "TOKEN_NOT_ON_CHAIN"
)

var (
	// ErrUnknownToken 表示请求的代币不在目录中。
	ErrUnknownToken = xerrors.New(CodeUnknownToken, "unknown token")
	// ErrTokenNotOnChain 表示代币在目标链上没有部署记录。
	ErrTokenNotOnChain = xerrors.New(CodeTokenNotOnChain, "token not deployed on chain")
)

func init() {
	xerrors.Register(CodeUnknownToken, xerrors.Attributes{
		Message:   "unknown token",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeTokenNotOnChain, xerrors.Attributes{
		Message:   "token not deployed on chain",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
}

// Catalog 提供代币元数据检索能力，加载完成后保持只读。
type Catalog struct {
	tokens map[string]Definition
}

// NewCatalog 基于解析好的定义构造目录。符号统一按大写索引。
func NewCatalog(defs Definitions) *Catalog {
	tokens := make(map[string]Definition, len(defs.Tokens))
	for symbol, def := range defs.Tokens {
		normalized := strings.ToUpper(strings.TrimSpace(symbol))
		if normalized == "" {
			continue
		}
		tokens[normalized] = def
	}
	return &Catalog{tokens: tokens}
}

// LoadCatalog 从 YAML 文件加载代币目录。路径为空时返回空目录。
func LoadCatalog(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return NewCatalog(Definitions{}), nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取代币目录失败: %w", err)
	}

	var defs Definitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return nil, fmt.Errorf("解析代币目录失败: %w", err)
	}
	return NewCatalog(defs), nil
}

// Resolve 返回代币在指定链上的部署信息。
func (c *Catalog) Resolve(symbol string, chainID uint64) (Token, error) {
	if c == nil {
		return Token{}, ErrUnknownToken
	}
	normalized := strings.ToUpper(strings.TrimSpace(symbol))
	def, ok := c.tokens[normalized]
	if !ok {
		return Token{}, xerrors.New(CodeUnknownToken, fmt.Sprintf("unknown token %q", symbol))
	}
	address, ok := def.Deployments[strconv.FormatUint(chainID, 10)]
	if !ok {
		return Token{}, xerrors.New(CodeTokenNotOnChain,
			fmt.Sprintf("token %s not deployed on chain %d", normalized, chainID))
	}
	return Token{
		Symbol:   normalized,
		Name:     def.Name,
		ChainID:  chainID,
		Address:  address,
		Decimals: def.Decimals,
	}, nil
}

// Supports 判断代币是否在目标链上可用。
func (c *Catalog) Supports(symbol string, chainID uint64) bool {
	_, err := c.Resolve(symbol, chainID)
	return err == nil
}

// Symbols 返回目录中的所有代币符号，按字典序排列。
func (c *Catalog) Symbols() []string {
	if c == nil {
		return nil
	}
	symbols := make([]string, 0, len(c.tokens))
	for symbol := range c.tokens {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	return symbols
}
