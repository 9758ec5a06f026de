// Package builtin 提供一组确定性的本地技能实现，用于开发环境与演示。
// 所有输出均由输入参数推导，不会触达真实链上资产。
package builtin

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	xerrors "OpenIntent-Chain/internal/errors"
	"OpenIntent-Chain/internal/skill"
)

// New 根据技能定义构造对应的内置实现。
func New(def skill.Resolved) (skill.Provider, error) {
	switch def.Name {
	case "quote_swap":
		return NewQuoteSwap(def.Chains, def.Config), nil
	case "swap":
		return NewSwap(def.Chains, def.Config), nil
	case "quote_bridge":
		return NewQuoteBridge(def.Chains, def.Config), nil
	case "bridge":
		return NewBridge(def.Chains), nil
	case "transfer":
		return NewTransfer(def.Chains), nil
	case "resolve_domain":
		return NewResolveDomain(), nil
	default:
		return nil, fmt.Errorf("未知的内置技能: %s", def.Name)
	}
}

// Register 将定义中 provider 为 builtin 的技能注册到注册表。
func Register(registry *skill.Registry, defs []skill.Resolved) error {
	for _, def := range defs {
		if def.Provider != "builtin" {
			continue
		}
		provider, err := New(def)
		if err != nil {
			return err
		}
		if err := registry.Register(provider); err != nil {
			return err
		}
	}
	return nil
}

type base struct {
	name   string
	chains map[uint64]bool
}

func newBase(name string, chains []uint64) base {
	set := make(map[uint64]bool, len(chains))
	for _, id := range chains {
		set[id] = true
	}
	return base{name: name, chains: set}
}

func (b base) Name() string { return b.name }

// SupportsChain 在未声明链列表时视为全链可用。
func (b base) SupportsChain(chainID uint64) bool {
	if len(b.chains) == 0 {
		return true
	}
	return b.chains[chainID]
}

// QuoteSwap 模拟兑换询价，报价使用与 swap 相同的滑点公式。
type QuoteSwap struct {
	base
	slippageBPS int64
	route       string
}

// NewQuoteSwap 构造 quote_swap 技能。
func NewQuoteSwap(chains []uint64, config map[string]any) *QuoteSwap {
	route := "direct"
	if v, ok := config["route"].(string); ok && strings.TrimSpace(v) != "" {
		route = v
	}
	return &QuoteSwap{
		base:        newBase("quote_swap", chains),
		slippageBPS: intFromConfig(config, "slippage_bps", 50),
		route:       route,
	}
}

// Execute 实现 skill.Provider。
func (q *QuoteSwap) Execute(ctx context.Context, params map[string]any) (*skill.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	amount, err := amountParam(params, "amount")
	if err != nil {
		return nil, err
	}
	fromToken, err := stringParam(params, "from_token")
	if err != nil {
		return nil, err
	}
	toToken, err := stringParam(params, "to_token")
	if err != nil {
		return nil, err
	}

	amountOut := applySlippage(amount, q.slippageBPS)

	return &skill.Result{Output: map[string]any{
		"amount_out": amountOut.String(),
		"swap_route": q.route,
		"from_token": fromToken,
		"to_token":   toToken,
	}}, nil
}

// Swap 以固定汇率模拟代币兑换，滑点由配置中的 slippage_bps 控制。
type Swap struct {
	base
	slippageBPS int64
}

// NewSwap 构造 swap 技能。
func NewSwap(chains []uint64, config map[string]any) *Swap {
	return &Swap{
		base:        newBase("swap", chains),
		slippageBPS: intFromConfig(config, "slippage_bps", 50),
	}
}

// Execute 实现 skill.Provider。
func (s *Swap) Execute(ctx context.Context, params map[string]any) (*skill.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	amount, err := amountParam(params, "amount")
	if err != nil {
		return nil, err
	}
	fromToken, err := stringParam(params, "from_token")
	if err != nil {
		return nil, err
	}
	toToken, err := stringParam(params, "to_token")
	if err != nil {
		return nil, err
	}

	amountOut := applySlippage(amount, s.slippageBPS)
	if _, ok := params["min_amount_out"]; ok {
		minOut, err := amountParam(params, "min_amount_out")
		if err != nil {
			return nil, err
		}
		if amountOut.Cmp(minOut) < 0 {
			return nil, xerrors.New(xerrors.CodeInvalidArgument,
				fmt.Sprintf("兑换输出 %s 低于最小可接受值 %s", amountOut, minOut))
		}
	}

	return &skill.Result{Output: map[string]any{
		"tx_hash":    pseudoTxHash("swap", fromToken, toToken, amount.String()),
		"amount_out": amountOut.String(),
		"from_token": fromToken,
		"to_token":   toToken,
	}}, nil
}

// QuoteBridge 模拟跨链桥询价，费用按金额的千分之一估算。
type QuoteBridge struct {
	base
	route string
}

// NewQuoteBridge 构造 quote_bridge 技能。
func NewQuoteBridge(chains []uint64, config map[string]any) *QuoteBridge {
	route := "canonical"
	if v, ok := config["route"].(string); ok && strings.TrimSpace(v) != "" {
		route = v
	}
	return &QuoteBridge{base: newBase("quote_bridge", chains), route: route}
}

// Execute 实现 skill.Provider。
func (q *QuoteBridge) Execute(ctx context.Context, params map[string]any) (*skill.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	amount, err := amountParam(params, "amount")
	if err != nil {
		return nil, err
	}

	fee := new(big.Int).Div(amount, big.NewInt(1000))
	if fee.Sign() == 0 {
		fee.SetInt64(1)
	}

	return &skill.Result{Output: map[string]any{
		"fee":               fee.String(),
		"estimated_seconds": 90,
		"bridge_route":      q.route,
	}}, nil
}

// Bridge 模拟跨链转移，要求调用方传入询价得到的 fee。
type Bridge struct {
	base
}

// NewBridge 构造 bridge 技能。
func NewBridge(chains []uint64) *Bridge {
	return &Bridge{base: newBase("bridge", chains)}
}

// Execute 实现 skill.Provider。
func (b *Bridge) Execute(ctx context.Context, params map[string]any) (*skill.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	amount, err := amountParam(params, "amount")
	if err != nil {
		return nil, err
	}
	fee, err := amountParam(params, "fee")
	if err != nil {
		return nil, err
	}

	delivered := new(big.Int).Sub(amount, fee)
	if delivered.Sign() <= 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "桥接费用不能超过转移金额")
	}

	return &skill.Result{Output: map[string]any{
		"tx_hash":          pseudoTxHash("bridge", amount.String(), fee.String()),
		"delivered_amount": delivered.String(),
		"fee":              fee.String(),
	}}, nil
}

// Transfer 模拟链上转账。
type Transfer struct {
	base
}

// NewTransfer 构造 transfer 技能。
func NewTransfer(chains []uint64) *Transfer {
	return &Transfer{base: newBase("transfer", chains)}
}

// Execute 实现 skill.Provider。
func (t *Transfer) Execute(ctx context.Context, params map[string]any) (*skill.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	amount, err := amountParam(params, "amount")
	if err != nil {
		return nil, err
	}
	recipient, err := stringParam(params, "recipient")
	if err != nil {
		return nil, err
	}
	if !common.IsHexAddress(recipient) {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("recipient 地址非法: %s", recipient))
	}

	return &skill.Result{Output: map[string]any{
		"tx_hash":   pseudoTxHash("transfer", recipient, amount.String()),
		"recipient": common.HexToAddress(recipient).Hex(),
	}}, nil
}

// ResolveDomain 将域名确定性地映射为一个地址。
type ResolveDomain struct {
	base
}

// NewResolveDomain 构造 resolve_domain 技能。
func NewResolveDomain() *ResolveDomain {
	return &ResolveDomain{base: newBase("resolve_domain", nil)}
}

// Execute 实现 skill.Provider。
func (r *ResolveDomain) Execute(ctx context.Context, params map[string]any) (*skill.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	domain, err := stringParam(params, "domain")
	if err != nil {
		return nil, err
	}

	digest := crypto.Keccak256([]byte(strings.ToLower(domain)))
	address := common.BytesToAddress(digest[12:])

	return &skill.Result{Output: map[string]any{
		"domain":  domain,
		"address": address.Hex(),
	}}, nil
}

// applySlippage 计算 amount * (10000 - bps) / 10000。
func applySlippage(amount *big.Int, bps int64) *big.Int {
	out := new(big.Int).Mul(amount, big.NewInt(10000-bps))
	return out.Div(out, big.NewInt(10000))
}

func pseudoTxHash(parts ...string) string {
	return crypto.Keccak256Hash([]byte(strings.Join(parts, "|"))).Hex()
}

func stringParam(params map[string]any, key string) (string, error) {
	raw, ok := params[key]
	if !ok {
		return "", xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("缺少参数 %s", key))
	}
	value, ok := raw.(string)
	if !ok || strings.TrimSpace(value) == "" {
		return "", xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("参数 %s 非法: %v", key, raw))
	}
	return value, nil
}

// amountParam 解析十进制正整数金额，兼容字符串与 JSON 数值两种形态。
func amountParam(params map[string]any, key string) (*big.Int, error) {
	raw, ok := params[key]
	if !ok {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("缺少参数 %s", key))
	}
	switch value := raw.(type) {
	case string:
		amount, ok := new(big.Int).SetString(strings.TrimSpace(value), 10)
		if !ok || amount.Sign() <= 0 {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("参数 %s 非法: %s", key, value))
		}
		return amount, nil
	case float64:
		if value <= 0 || value != float64(int64(value)) {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("参数 %s 非法: %v", key, value))
		}
		return big.NewInt(int64(value)), nil
	case int:
		if value <= 0 {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("参数 %s 非法: %d", key, value))
		}
		return big.NewInt(int64(value)), nil
	case int64:
		if value <= 0 {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("参数 %s 非法: %d", key, value))
		}
		return big.NewInt(value), nil
	case uint64:
		if value == 0 {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("参数 %s 非法: %d", key, value))
		}
		return new(big.Int).SetUint64(value), nil
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("参数 %s 类型不支持: %T", key, raw))
	}
}

func intFromConfig(config map[string]any, key string, fallback int64) int64 {
	raw, ok := config[key]
	if !ok {
		return fallback
	}
	switch value := raw.(type) {
	case int:
		return int64(value)
	case int64:
		return value
	case float64:
		return int64(value)
	default:
		return fallback
	}
}
