package workflow

import (
	"fmt"
	"testing"

	"OpenIntent-Chain/internal/chain"
	xerrors "OpenIntent-Chain/internal/errors"
	"OpenIntent-Chain/internal/intent"
	"OpenIntent-Chain/internal/tokens"
)

type stubChains map[uint64]bool

func (s stubChains) Supports(chainID uint64) bool { return s[chainID] }

type stubTokens map[string]map[uint64]string

func (s stubTokens) Resolve(symbol string, chainID uint64) (tokens.Token, error) {
	deployments, ok := s[symbol]
	if !ok {
		return tokens.Token{}, xerrors.New(tokens.CodeUnknownToken, fmt.Sprintf("unknown token %q", symbol))
	}
	address, ok := deployments[chainID]
	if !ok {
		return tokens.Token{}, xerrors.New(tokens.CodeTokenNotOnChain,
			fmt.Sprintf("token %q not deployed on chain %d", symbol, chainID))
	}
	return tokens.Token{Symbol: symbol, ChainID: chainID, Address: address, Decimals: 6}, nil
}

func newTestCompiler() *Compiler {
	chains := stubChains{421614: true, 84532: true}
	book := stubTokens{
		"USDC": {421614: "0x1111111111111111111111111111111111111111", 84532: "0x2222222222222222222222222222222222222222"},
		"WETH": {421614: "0x3333333333333333333333333333333333333333", 84532: "0x4444444444444444444444444444444444444444"},
		"ARB":  {421614: "0x6666666666666666666666666666666666666666"},
	}
	return NewCompiler(chains, book)
}

func TestCompileSwapSameChain(t *testing.T) {
	compiler := newTestCompiler()
	plan, err := compiler.Compile(&intent.Intent{
		ID:   "intent-1",
		Type: intent.TypeSwap,
		Params: intent.Params{
			SourceChainID: 421614,
			FromToken:     "usdc",
			ToToken:       "WETH",
			Amount:        "1000000",
		},
	})
	if err != nil {
		t.Fatalf("编译 swap 意图失败: %v", err)
	}
	if plan.IntentID != "intent-1" || plan.ChainID != 421614 {
		t.Fatalf("计划元信息不符: %+v", plan)
	}
	if len(plan.Steps) != 2 {
		t.Fatalf("同链 swap 应为两步, got %d", len(plan.Steps))
	}
	quote, execute := plan.Steps[0], plan.Steps[1]
	if quote.ID != "step-1" || quote.Skill != SkillQuoteSwap {
		t.Fatalf("报价步不符: %+v", quote)
	}
	if execute.ID != "step-2" || execute.Skill != SkillSwap {
		t.Fatalf("执行步不符: %+v", execute)
	}
	if len(execute.DependsOn) != 1 || execute.DependsOn[0] != "step-1" {
		t.Fatalf("执行步依赖不符: %v", execute.DependsOn)
	}
	if execute.Params["min_amount_out"] != DeferredRef("step-1", "amount_out") {
		t.Fatalf("min_amount_out 应延迟引用报价输出: %v", execute.Params["min_amount_out"])
	}
	if quote.Params["from_token"] != "USDC" || quote.Params["to_token"] != "WETH" {
		t.Fatalf("代币符号未归一化: %v", quote.Params)
	}
	if quote.Params["from_token_address"] != "0x1111111111111111111111111111111111111111" {
		t.Fatalf("缺少代币地址: %v", quote.Params)
	}
	if _, ok := quote.Params["min_amount_out"]; ok {
		t.Fatal("报价步不应携带 min_amount_out")
	}
}

func TestCompileSwapCrossChain(t *testing.T) {
	compiler := newTestCompiler()
	plan, err := compiler.Compile(&intent.Intent{
		ID:   "intent-2",
		Type: intent.TypeSwap,
		Params: intent.Params{
			SourceChainID: 421614,
			DestChainID:   84532,
			FromToken:     "USDC",
			ToToken:       "WETH",
			Amount:        "2500000",
		},
	})
	if err != nil {
		t.Fatalf("编译跨链 swap 失败: %v", err)
	}
	if len(plan.Steps) != 3 {
		t.Fatalf("跨链 swap 应为三步, got %d", len(plan.Steps))
	}
	quote, bridge, swap := plan.Steps[0], plan.Steps[1], plan.Steps[2]
	if quote.Skill != SkillQuoteBridge || bridge.Skill != SkillBridge || swap.Skill != SkillSwap {
		t.Fatalf("步骤技能拓扑不符: %s %s %s", quote.Skill, bridge.Skill, swap.Skill)
	}
	if bridge.Params["fee"] != DeferredRef("step-1", "fee") {
		t.Fatalf("桥接费用应延迟引用报价: %v", bridge.Params["fee"])
	}
	if swap.Params["amount"] != DeferredRef("step-2", "delivered_amount") {
		t.Fatalf("兑换金额应延迟引用桥接到账: %v", swap.Params["amount"])
	}
	if swap.Params["chain_id"] != uint64(84532) {
		t.Fatalf("兑换应落在目标链: %v", swap.Params["chain_id"])
	}
	if len(swap.DependsOn) != 1 || swap.DependsOn[0] != "step-2" {
		t.Fatalf("兑换步依赖不符: %v", swap.DependsOn)
	}
}

func TestCompileBridge(t *testing.T) {
	compiler := newTestCompiler()
	plan, err := compiler.Compile(&intent.Intent{
		ID:   "intent-3",
		Type: intent.TypeBridge,
		Params: intent.Params{
			SourceChainID: 421614,
			DestChainID:   84532,
			FromToken:     "USDC",
			Amount:        "750000",
		},
	})
	if err != nil {
		t.Fatalf("编译 bridge 意图失败: %v", err)
	}
	if len(plan.Steps) != 2 {
		t.Fatalf("bridge 应恰好两步, got %d", len(plan.Steps))
	}
	quote, bridge := plan.Steps[0], plan.Steps[1]
	if quote.Skill != SkillQuoteBridge || bridge.Skill != SkillBridge {
		t.Fatalf("步骤技能不符: %s %s", quote.Skill, bridge.Skill)
	}
	if quote.Params["source_chain_id"] != uint64(421614) || quote.Params["dest_chain_id"] != uint64(84532) {
		t.Fatalf("链参数不符: %v", quote.Params)
	}
	if bridge.Params["fee"] != DeferredRef("step-1", "fee") {
		t.Fatalf("fee 应延迟引用: %v", bridge.Params["fee"])
	}
	if _, ok := bridge.Params["recipient"]; ok {
		t.Fatal("未指定收款人时不应携带 recipient")
	}
}

func TestCompileTransfer(t *testing.T) {
	compiler := newTestCompiler()

	t.Run("同链单步", func(t *testing.T) {
		plan, err := compiler.Compile(&intent.Intent{
			ID:   "intent-4",
			Type: intent.TypeTransfer,
			Params: intent.Params{
				SourceChainID: 421614,
				FromToken:     "USDC",
				Amount:        "100000",
				Recipient:     "0x5555555555555555555555555555555555555555",
			},
		})
		if err != nil {
			t.Fatalf("编译 transfer 失败: %v", err)
		}
		if len(plan.Steps) != 1 || plan.Steps[0].Skill != SkillTransfer {
			t.Fatalf("同链 transfer 应为单步: %+v", plan.Steps)
		}
		if plan.Steps[0].Params["recipient"] != "0x5555555555555555555555555555555555555555" {
			t.Fatalf("收款人丢失: %v", plan.Steps[0].Params)
		}
	})

	t.Run("跨链退化为桥接", func(t *testing.T) {
		plan, err := compiler.Compile(&intent.Intent{
			ID:   "intent-5",
			Type: intent.TypeTransfer,
			Params: intent.Params{
				SourceChainID: 421614,
				DestChainID:   84532,
				FromToken:     "USDC",
				Amount:        "100000",
				Recipient:     "0x5555555555555555555555555555555555555555",
			},
		})
		if err != nil {
			t.Fatalf("编译跨链 transfer 失败: %v", err)
		}
		if len(plan.Steps) != 2 || plan.Steps[1].Skill != SkillBridge {
			t.Fatalf("跨链 transfer 应为桥接两步: %+v", plan.Steps)
		}
		if plan.Steps[1].Params["recipient"] != "0x5555555555555555555555555555555555555555" {
			t.Fatalf("收款人应透传给桥接步: %v", plan.Steps[1].Params)
		}
	})
}

func TestCompileResolveDomain(t *testing.T) {
	compiler := newTestCompiler()
	plan, err := compiler.Compile(&intent.Intent{
		ID:     "intent-6",
		Type:   intent.TypeResolveDomain,
		Params: intent.Params{Domain: "alice.eth"},
	})
	if err != nil {
		t.Fatalf("编译 resolve_domain 失败: %v", err)
	}
	if len(plan.Steps) != 1 || plan.Steps[0].Skill != SkillResolveDomain {
		t.Fatalf("resolve_domain 应为单步: %+v", plan.Steps)
	}
	if plan.Steps[0].Params["domain"] != "alice.eth" {
		t.Fatalf("域名参数不符: %v", plan.Steps[0].Params)
	}
	if len(plan.Steps[0].DependsOn) != 0 {
		t.Fatalf("单步计划不应有依赖: %v", plan.Steps[0].DependsOn)
	}
}

func TestCompileRejectsInvalidIntents(t *testing.T) {
	compiler := newTestCompiler()

	cases := []struct {
		name string
		in   *intent.Intent
		code xerrors.Code
	}{
		{
			name: "不支持的类型",
			in:   &intent.Intent{ID: "x", Type: intent.Type("STAKE")},
			code: intent.CodeUnsupportedType,
		},
		{
			name: "缺少金额",
			in: &intent.Intent{
				ID:     "x",
				Type:   intent.TypeSwap,
				Params: intent.Params{SourceChainID: 421614, FromToken: "USDC", ToToken: "WETH"},
			},
			code: intent.CodeValidation,
		},
		{
			name: "未配置的链",
			in: &intent.Intent{
				ID:   "x",
				Type: intent.TypeSwap,
				Params: intent.Params{
					SourceChainID: 999999,
					FromToken:     "USDC",
					ToToken:       "WETH",
					Amount:        "1",
				},
			},
			code: chain.CodeChainNotSupported,
		},
		{
			name: "未知代币",
			in: &intent.Intent{
				ID:   "x",
				Type: intent.TypeSwap,
				Params: intent.Params{
					SourceChainID: 421614,
					FromToken:     "DOGE",
					ToToken:       "WETH",
					Amount:        "1",
				},
			},
			code: tokens.CodeUnknownToken,
		},
		{
			name: "代币未部署到目标链",
			in: &intent.Intent{
				ID:   "x",
				Type: intent.TypeBridge,
				Params: intent.Params{
					SourceChainID: 421614,
					DestChainID:   84532,
					FromToken:     "ARB",
					Amount:        "1",
				},
			},
			code: tokens.CodeTokenNotOnChain,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := compiler.Compile(tc.in)
			if err == nil {
				t.Fatal("期望编译失败")
			}
			if code := xerrors.CodeOf(err); code != tc.code {
				t.Fatalf("错误码不符: got %s want %s", code, tc.code)
			}
		})
	}
}

func TestCompileIsDeterministicPerIntent(t *testing.T) {
	compiler := newTestCompiler()
	in := &intent.Intent{
		ID:   "intent-7",
		Type: intent.TypeBridge,
		Params: intent.Params{
			SourceChainID: 421614,
			DestChainID:   84532,
			FromToken:     "USDC",
			Amount:        "5000",
		},
	}
	first, err := compiler.Compile(in)
	if err != nil {
		t.Fatalf("编译失败: %v", err)
	}
	second, err := compiler.Compile(in)
	if err != nil {
		t.Fatalf("重复编译失败: %v", err)
	}
	if first.ID == second.ID {
		t.Fatal("计划 ID 应唯一")
	}
	for i := range first.Steps {
		if first.Steps[i].ID != second.Steps[i].ID || first.Steps[i].Skill != second.Steps[i].Skill {
			t.Fatalf("步骤拓扑应确定: %+v vs %+v", first.Steps[i], second.Steps[i])
		}
	}
}
