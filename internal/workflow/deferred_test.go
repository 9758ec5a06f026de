package workflow

import (
	"strings"
	"testing"

	xerrors "OpenIntent-Chain/internal/errors"
)

func TestParseDeferredRef(t *testing.T) {
	ref := DeferredRef("step-1", "amount_out")
	if ref != "{{steps.step-1.output.amount_out}}" {
		t.Fatalf("引用格式不符: %s", ref)
	}

	parsed, ok := ParseDeferredRef(ref)
	if !ok {
		t.Fatal("应解析为延迟引用")
	}
	if parsed.StepID != "step-1" || parsed.Field != "amount_out" {
		t.Fatalf("解析结果不符: %+v", parsed)
	}

	for _, raw := range []any{
		"plain string",
		"{{steps.step-1}}",
		"{{steps..output.}}",
		42,
		nil,
		"{{steps.step-1.output.}}",
	} {
		if _, ok := ParseDeferredRef(raw); ok {
			t.Fatalf("%v 不应被识别为延迟引用", raw)
		}
	}
}

func TestResolveDeferredReplacesReferences(t *testing.T) {
	quote := &Step{
		ID:     "step-1",
		Skill:  "quote_bridge",
		Status: StepStatusCompleted,
		Output: map[string]any{"fee": "1000", "estimated_seconds": 90},
	}
	lookup := func(id string) (*Step, bool) {
		if id == quote.ID {
			return quote, true
		}
		return nil, false
	}

	params := map[string]any{
		"amount": "500000",
		"fee":    DeferredRef("step-1", "fee"),
		"nested": map[string]any{"eta": DeferredRef("step-1", "estimated_seconds")},
		"list":   []any{DeferredRef("step-1", "fee"), "static"},
	}
	resolved, err := ResolveDeferred(params, lookup)
	if err != nil {
		t.Fatalf("解析延迟引用失败: %v", err)
	}
	if resolved["fee"] != "1000" {
		t.Fatalf("fee 未被替换: %v", resolved["fee"])
	}
	nested := resolved["nested"].(map[string]any)
	if nested["eta"] != 90 {
		t.Fatalf("嵌套引用未被替换: %v", nested["eta"])
	}
	list := resolved["list"].([]any)
	if list[0] != "1000" || list[1] != "static" {
		t.Fatalf("列表引用未被替换: %v", list)
	}
	// 原参数保持不变。
	if params["fee"] != DeferredRef("step-1", "fee") {
		t.Fatal("原始参数不应被修改")
	}
}

func TestResolveDeferredFailures(t *testing.T) {
	quote := &Step{
		ID:     "step-1",
		Skill:  "quote_bridge",
		Status: StepStatusExecuting,
		Output: nil,
	}
	lookup := func(id string) (*Step, bool) {
		if id == quote.ID {
			return quote, true
		}
		return nil, false
	}

	cases := []struct {
		name   string
		params map[string]any
		want   string
	}{
		{"未知步骤", map[string]any{"fee": DeferredRef("step-9", "fee")}, "不存在"},
		{"步骤未完成", map[string]any{"fee": DeferredRef("step-1", "fee")}, "尚未完成"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ResolveDeferred(tc.params, lookup)
			if err == nil {
				t.Fatal("期望解析失败")
			}
			if code := xerrors.CodeOf(err); code != CodeUnresolvedReference {
				t.Fatalf("错误码不符: %s", code)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("错误信息不符: %v", err)
			}
		})
	}

	quote.Status = StepStatusCompleted
	quote.Output = map[string]any{"other": 1}
	_, err := ResolveDeferred(map[string]any{"fee": DeferredRef("step-1", "fee")}, lookup)
	if code := xerrors.CodeOf(err); code != CodeUnresolvedReference {
		t.Fatalf("缺失字段应报 UNRESOLVED_REFERENCE, got %v", err)
	}
}
