package skill

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	xerrors "OpenIntent-Chain/internal/errors"
)

// Result 保存一次技能执行的输出。
type Result struct {
	Output map[string]any `json:"output"`
}

// Provider 定义了可插拔技能的统一接口。实现必须支持并发调用。
type Provider interface {
	Name() string
	SupportsChain(chainID uint64) bool
	Execute(ctx context.Context, params map[string]any) (*Result, error)
}

var (
	// ErrSkillNotFound 表示请求的技能未注册。
	ErrSkillNotFound = xerrors.New(CodeSkillNotFound, "skill not found")
)

const (
	CodeSkillNotFound xerrors.Code = "SKILL_NOT_FOUND"
)

func init() {
	xerrors.Register(CodeSkillNotFound, xerrors.Attributes{
		Message:   "skill not found",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
}

// Registry 管理已注册的技能提供者。
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry 创建一个空的技能注册表。
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register 注册技能提供者。重名注册返回冲突错误。
func (r *Registry) Register(provider Provider) error {
	if provider == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "provider 不能为空")
	}
	name := strings.TrimSpace(provider.Name())
	if name == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "技能名称不能为空")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[name]; ok {
		return xerrors.New(xerrors.CodeConflict, fmt.Sprintf("技能 %s 已注册", name))
	}
	r.providers[name] = provider
	return nil
}

// Lookup 按名称查找技能提供者。
func (r *Registry) Lookup(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	provider, ok := r.providers[name]
	return provider, ok
}

// Names 返回所有已注册技能的名称，按字典序排列。
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
