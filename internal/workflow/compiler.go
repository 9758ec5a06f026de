package workflow

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"OpenIntent-Chain/internal/chain"
	xerrors "OpenIntent-Chain/internal/errors"
	"OpenIntent-Chain/internal/intent"
	"OpenIntent-Chain/internal/tokens"
)

// 编排使用的内置技能标识。
const (
	SkillQuoteSwap     = "quote_swap"
	SkillSwap          = "swap"
	SkillQuoteBridge   = "quote_bridge"
	SkillBridge        = "bridge"
	SkillTransfer      = "transfer"
	SkillResolveDomain = "resolve_domain"
)

// TokenResolver 将代币符号解析为具体链上的部署信息。
type TokenResolver interface {
	Resolve(symbol string, chainID uint64) (tokens.Token, error)
}

// ChainSupport 报告某条链是否已配置。
type ChainSupport interface {
	Supports(chainID uint64) bool
}

// Compiler 将意图编译为执行计划。编译是纯函数：相同的意图总是
// 产出相同的步骤拓扑，不触发任何 I/O。
type Compiler struct {
	chains ChainSupport
	tokens TokenResolver
}

// NewCompiler 构造编译器。chains 与 tokens 允许为 nil，
// 此时跳过对应的链与代币校验。
func NewCompiler(chains ChainSupport, tokens TokenResolver) *Compiler {
	return &Compiler{chains: chains, tokens: tokens}
}

// Compile 把意图编译为带依赖标注的计划。
// 不支持的意图类型与校验失败同步返回错误，不会留下任何执行记录。
func (c *Compiler) Compile(in *intent.Intent) (*Plan, error) {
	if in == nil {
		return nil, xerrors.New(intent.CodeValidation, "intent 不能为空")
	}
	if !intent.IsValidType(in.Type) {
		return nil, xerrors.New(intent.CodeUnsupportedType, fmt.Sprintf("unsupported intent type %q", in.Type))
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}

	var (
		steps []*Step
		err   error
	)
	switch in.Type {
	case intent.TypeSwap:
		steps, err = c.compileSwap(in)
	case intent.TypeBridge:
		steps, err = c.compileBridge(in)
	case intent.TypeTransfer:
		steps, err = c.compileTransfer(in)
	case intent.TypeResolveDomain:
		steps, err = c.compileResolveDomain(in)
	}
	if err != nil {
		return nil, err
	}

	plan := &Plan{
		ID:        uuid.NewString(),
		IntentID:  in.ID,
		ChainID:   in.Params.SourceChainID,
		Steps:     steps,
		CreatedAt: nowUnixMilli(),
	}
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	return plan, nil
}

// compileSwap 编译兑换意图。同链兑换为 quote_swap -> swap 两阶段；
// 跨链兑换先走桥接管线，再在目标链上兑换。
func (c *Compiler) compileSwap(in *intent.Intent) ([]*Step, error) {
	p := in.Params
	fromToken := normalizeSymbol(p.FromToken)
	toToken := normalizeSymbol(p.ToToken)

	if p.DestChainID == 0 || p.DestChainID == p.SourceChainID {
		if err := c.checkChain(p.SourceChainID); err != nil {
			return nil, err
		}
		fromDeployed, err := c.resolveToken(fromToken, p.SourceChainID)
		if err != nil {
			return nil, err
		}
		toDeployed, err := c.resolveToken(toToken, p.SourceChainID)
		if err != nil {
			return nil, err
		}

		params := map[string]any{
			"chain_id":   p.SourceChainID,
			"from_token": fromToken,
			"to_token":   toToken,
			"amount":     strings.TrimSpace(p.Amount),
		}
		addTokenAddresses(params, fromDeployed, toDeployed)

		quote := &Step{
			ID:          "step-1",
			Skill:       SkillQuoteSwap,
			Description: fmt.Sprintf("quote %s -> %s swap on chain %d", fromToken, toToken, p.SourceChainID),
			Params:      cloneMap(params),
			Status:      StepStatusPending,
		}
		execute := &Step{
			ID:          "step-2",
			Skill:       SkillSwap,
			Description: fmt.Sprintf("swap %s -> %s on chain %d", fromToken, toToken, p.SourceChainID),
			Params:      cloneMap(params),
			DependsOn:   []string{quote.ID},
			Status:      StepStatusPending,
		}
		execute.Params["min_amount_out"] = DeferredRef(quote.ID, "amount_out")
		return []*Step{quote, execute}, nil
	}

	// 跨链：quote_bridge -> bridge -> swap，兑换金额取桥接的实际到账值。
	if err := c.checkChain(p.SourceChainID); err != nil {
		return nil, err
	}
	if err := c.checkChain(p.DestChainID); err != nil {
		return nil, err
	}
	if _, err := c.resolveToken(fromToken, p.SourceChainID); err != nil {
		return nil, err
	}
	fromOnDest, err := c.resolveToken(fromToken, p.DestChainID)
	if err != nil {
		return nil, err
	}
	toOnDest, err := c.resolveToken(toToken, p.DestChainID)
	if err != nil {
		return nil, err
	}

	quote, bridge := c.bridgeSteps(p, fromToken, "")
	swap := &Step{
		ID:          "step-3",
		Skill:       SkillSwap,
		Description: fmt.Sprintf("swap %s -> %s on chain %d", fromToken, toToken, p.DestChainID),
		Params: map[string]any{
			"chain_id":   p.DestChainID,
			"from_token": fromToken,
			"to_token":   toToken,
			"amount":     DeferredRef(bridge.ID, "delivered_amount"),
		},
		DependsOn: []string{bridge.ID},
		Status:    StepStatusPending,
	}
	addTokenAddresses(swap.Params, fromOnDest, toOnDest)
	return []*Step{quote, bridge, swap}, nil
}

// compileBridge 编译桥接意图：quote_bridge -> bridge，费用延迟引用报价输出。
func (c *Compiler) compileBridge(in *intent.Intent) ([]*Step, error) {
	p := in.Params
	fromToken := normalizeSymbol(p.FromToken)

	if err := c.checkChain(p.SourceChainID); err != nil {
		return nil, err
	}
	if err := c.checkChain(p.DestChainID); err != nil {
		return nil, err
	}
	if _, err := c.resolveToken(fromToken, p.SourceChainID); err != nil {
		return nil, err
	}
	if _, err := c.resolveToken(fromToken, p.DestChainID); err != nil {
		return nil, err
	}

	quote, bridge := c.bridgeSteps(p, fromToken, strings.TrimSpace(p.Recipient))
	return []*Step{quote, bridge}, nil
}

// compileTransfer 编译转账意图。同链为单步 transfer；
// 跨链退化为带收款人的桥接管线。
func (c *Compiler) compileTransfer(in *intent.Intent) ([]*Step, error) {
	p := in.Params
	fromToken := normalizeSymbol(p.FromToken)

	if p.DestChainID != 0 && p.DestChainID != p.SourceChainID {
		if err := c.checkChain(p.SourceChainID); err != nil {
			return nil, err
		}
		if err := c.checkChain(p.DestChainID); err != nil {
			return nil, err
		}
		if _, err := c.resolveToken(fromToken, p.SourceChainID); err != nil {
			return nil, err
		}
		if _, err := c.resolveToken(fromToken, p.DestChainID); err != nil {
			return nil, err
		}
		quote, bridge := c.bridgeSteps(p, fromToken, strings.TrimSpace(p.Recipient))
		return []*Step{quote, bridge}, nil
	}

	if err := c.checkChain(p.SourceChainID); err != nil {
		return nil, err
	}
	deployed, err := c.resolveToken(fromToken, p.SourceChainID)
	if err != nil {
		return nil, err
	}

	params := map[string]any{
		"chain_id":   p.SourceChainID,
		"from_token": fromToken,
		"amount":     strings.TrimSpace(p.Amount),
		"recipient":  strings.TrimSpace(p.Recipient),
	}
	addTokenAddresses(params, deployed, tokens.Token{})
	return []*Step{{
		ID:          "step-1",
		Skill:       SkillTransfer,
		Description: fmt.Sprintf("transfer %s to %s on chain %d", fromToken, p.Recipient, p.SourceChainID),
		Params:      params,
		Status:      StepStatusPending,
	}}, nil
}

// compileResolveDomain 编译域名解析意图，单步无依赖。
func (c *Compiler) compileResolveDomain(in *intent.Intent) ([]*Step, error) {
	p := in.Params
	if p.SourceChainID != 0 {
		if err := c.checkChain(p.SourceChainID); err != nil {
			return nil, err
		}
	}
	domain := strings.TrimSpace(p.Domain)
	params := map[string]any{"domain": domain}
	if p.SourceChainID != 0 {
		params["chain_id"] = p.SourceChainID
	}
	return []*Step{{
		ID:          "step-1",
		Skill:       SkillResolveDomain,
		Description: fmt.Sprintf("resolve domain %s", domain),
		Params:      params,
		Status:      StepStatusPending,
	}}, nil
}

// bridgeSteps 产出桥接两步：报价步无依赖，执行步依赖报价步，
// 费用参数延迟引用报价输出的 fee 字段。
func (c *Compiler) bridgeSteps(p intent.Params, fromToken, recipient string) (*Step, *Step) {
	amount := strings.TrimSpace(p.Amount)
	quote := &Step{
		ID:          "step-1",
		Skill:       SkillQuoteBridge,
		Description: fmt.Sprintf("quote %s bridge from chain %d to chain %d", fromToken, p.SourceChainID, p.DestChainID),
		Params: map[string]any{
			"source_chain_id": p.SourceChainID,
			"dest_chain_id":   p.DestChainID,
			"from_token":      fromToken,
			"amount":          amount,
		},
		Status: StepStatusPending,
	}
	bridge := &Step{
		ID:          "step-2",
		Skill:       SkillBridge,
		Description: fmt.Sprintf("bridge %s from chain %d to chain %d", fromToken, p.SourceChainID, p.DestChainID),
		Params: map[string]any{
			"source_chain_id": p.SourceChainID,
			"dest_chain_id":   p.DestChainID,
			"from_token":      fromToken,
			"amount":          amount,
			"fee":             DeferredRef(quote.ID, "fee"),
		},
		DependsOn: []string{quote.ID},
		Status:    StepStatusPending,
	}
	if recipient != "" {
		bridge.Params["recipient"] = recipient
	}
	return quote, bridge
}

func (c *Compiler) checkChain(chainID uint64) error {
	if c.chains == nil || chainID == 0 {
		return nil
	}
	if !c.chains.Supports(chainID) {
		return xerrors.New(chain.CodeChainNotSupported, fmt.Sprintf("chain %d 未配置", chainID))
	}
	return nil
}

// resolveToken 查询代币在指定链上的部署。未配置目录时返回零值且不报错。
func (c *Compiler) resolveToken(symbol string, chainID uint64) (tokens.Token, error) {
	if c.tokens == nil || symbol == "" || chainID == 0 {
		return tokens.Token{}, nil
	}
	return c.tokens.Resolve(symbol, chainID)
}

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func addTokenAddresses(params map[string]any, from, to tokens.Token) {
	if from.Address != "" {
		params["from_token_address"] = from.Address
	}
	if to.Address != "" {
		params["to_token_address"] = to.Address
	}
}
