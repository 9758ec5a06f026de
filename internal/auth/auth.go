// Package auth 为 API 提供静态令牌鉴权。令牌列表来自配置文件，
// 未配置任何令牌时鉴权整体关闭。
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"log/slog"
	"strings"

	loggerpkg "OpenIntent-Chain/pkg/logger"
)

// Common errors returned by the authentication subsystem.
var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
)

// Config 描述静态令牌鉴权的配置。
type Config struct {
	Enabled bool
	Tokens  []string
}

// Service 校验请求携带的 Bearer 令牌。比较使用哈希后的常量时间
// 对比，避免令牌长度与内容的时序泄漏。
type Service struct {
	enabled bool
	tokens  [][32]byte
	audit   *slog.Logger
}

// Option 定义可选配置。
type Option func(*Service)

// WithAuditLogger 覆盖默认的审计日志输出。
func WithAuditLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.audit = logger
	}
}

// NewService 构造鉴权服务。Enabled 为真但令牌列表为空时视为关闭。
func NewService(cfg Config, opts ...Option) *Service {
	s := &Service{}
	for _, raw := range cfg.Tokens {
		token := strings.TrimSpace(raw)
		if token == "" {
			continue
		}
		s.tokens = append(s.tokens, sha256.Sum256([]byte(token)))
	}
	s.enabled = cfg.Enabled && len(s.tokens) > 0
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Enabled 返回鉴权是否生效。
func (s *Service) Enabled() bool {
	return s != nil && s.enabled
}

// Authenticate 校验 Authorization 头。鉴权关闭时直接放行。
func (s *Service) Authenticate(authorization string) error {
	if !s.Enabled() {
		return nil
	}
	header := strings.TrimSpace(authorization)
	if header == "" {
		return ErrMissingToken
	}
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ErrInvalidToken
	}
	presented := sha256.Sum256([]byte(strings.TrimSpace(header[len(prefix):])))

	for _, token := range s.tokens {
		if subtle.ConstantTimeCompare(presented[:], token[:]) == 1 {
			return nil
		}
	}
	return ErrInvalidToken
}

func (s *Service) auditLogger() *slog.Logger {
	if s != nil && s.audit != nil {
		return s.audit
	}
	return loggerpkg.Audit()
}
