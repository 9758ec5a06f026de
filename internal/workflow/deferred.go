package workflow

import (
	"fmt"
	"strings"

	xerrors "OpenIntent-Chain/internal/errors"
)

// 延迟引用标记形如 {{steps.<stepID>.output.<field>}}，由编译器写入
// 下游步骤参数，调度器在派发前替换为上游步骤输出中的实际值。
const (
	deferredOpen      = "{{steps."
	deferredClose     = "}}"
	deferredSeparator = ".output."
)

// Reference 指向某个步骤输出中的一个字段。
type Reference struct {
	StepID string
	Field  string
}

// DeferredRef 构造延迟引用标记。
func DeferredRef(stepID, field string) string {
	return deferredOpen + stepID + deferredSeparator + field + deferredClose
}

// ParseDeferredRef 尝试把参数值解析为延迟引用。
func ParseDeferredRef(value any) (Reference, bool) {
	raw, ok := value.(string)
	if !ok {
		return Reference{}, false
	}
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, deferredOpen) || !strings.HasSuffix(raw, deferredClose) {
		return Reference{}, false
	}
	inner := raw[len(deferredOpen) : len(raw)-len(deferredClose)]
	stepID, field, found := strings.Cut(inner, deferredSeparator)
	if !found || stepID == "" || field == "" {
		return Reference{}, false
	}
	return Reference{StepID: stepID, Field: field}, true
}

// ResolveDeferred 将参数中的延迟引用替换为上游步骤的实际输出，
// 返回新的参数表，原参数保持不变。无法解析的引用返回错误。
func ResolveDeferred(params map[string]any, lookup func(stepID string) (*Step, bool)) (map[string]any, error) {
	if len(params) == 0 {
		return nil, nil
	}
	resolved := make(map[string]any, len(params))
	for key, value := range params {
		replaced, err := resolveValue(value, lookup)
		if err != nil {
			return nil, xerrors.Wrap(CodeUnresolvedReference, err, fmt.Sprintf("解析参数 %s 失败", key))
		}
		resolved[key] = replaced
	}
	return resolved, nil
}

func resolveValue(value any, lookup func(stepID string) (*Step, bool)) (any, error) {
	if ref, ok := ParseDeferredRef(value); ok {
		step, found := lookup(ref.StepID)
		if !found {
			return nil, xerrors.New(CodeUnresolvedReference, fmt.Sprintf("引用的步骤 %s 不存在", ref.StepID))
		}
		if step.Status != StepStatusCompleted {
			return nil, xerrors.New(CodeUnresolvedReference, fmt.Sprintf("引用的步骤 %s 尚未完成", ref.StepID))
		}
		field, ok := step.Output[ref.Field]
		if !ok {
			return nil, xerrors.New(CodeUnresolvedReference, fmt.Sprintf("步骤 %s 的输出缺少字段 %s", ref.StepID, ref.Field))
		}
		return field, nil
	}
	switch nested := value.(type) {
	case map[string]any:
		replaced := make(map[string]any, len(nested))
		for key, inner := range nested {
			out, err := resolveValue(inner, lookup)
			if err != nil {
				return nil, err
			}
			replaced[key] = out
		}
		return replaced, nil
	case []any:
		replaced := make([]any, len(nested))
		for i, inner := range nested {
			out, err := resolveValue(inner, lookup)
			if err != nil {
				return nil, err
			}
			replaced[i] = out
		}
		return replaced, nil
	default:
		return value, nil
	}
}
