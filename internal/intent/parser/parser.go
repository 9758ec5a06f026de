package parser

import (
	"context"

	"OpenIntent-Chain/internal/intent"
)

// Parser 定义了将自然语言指令转换为结构化意图的统一接口。
type Parser interface {
	Parse(ctx context.Context, text string) (*intent.Intent, error)
}
