package intent

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	xerrors "OpenIntent-Chain/internal/errors"
)

// Type 表示意图类别。
type Type string

const (
	TypeSwap          Type = "SWAP"
	TypeBridge        Type = "BRIDGE"
	TypeTransfer      Type = "TRANSFER"
	TypeResolveDomain Type = "RESOLVE_DOMAIN"
)

// Params 携带意图的链上参数，不同类型使用不同的字段子集。
type Params struct {
	SourceChainID uint64 `json:"source_chain_id,omitempty"`
	DestChainID   uint64 `json:"dest_chain_id,omitempty"`
	FromToken     string `json:"from_token,omitempty"`
	ToToken       string `json:"to_token,omitempty"`
	Amount        string `json:"amount,omitempty"`
	Recipient     string `json:"recipient,omitempty"`
	Domain        string `json:"domain,omitempty"`
}

// Intent 描述一次用户提交的链上意图。
type Intent struct {
	ID        string         `json:"id"`
	Type      Type           `json:"type"`
	Params    Params         `json:"params"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt int64          `json:"created_at"`
}

var (
	// ErrUnsupportedType 表示意图类型不在支持范围内。
	ErrUnsupportedType = xerrors.New(CodeUnsupportedType, "unsupported intent type")
	// ErrValidation 表示意图参数未通过校验。
	ErrValidation = xerrors.New(CodeValidation, "intent validation failed")
)

const (
	CodeUnsupportedType xerrors.Code = "UNSUPPORTED_INTENT_TYPE"
	CodeValidation      xerrors.Code = "INTENT_VALIDATION_FAILED"
)

func init() {
	xerrors.Register(CodeUnsupportedType, xerrors.Attributes{
		Message:   "unsupported intent type",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeValidation, xerrors.Attributes{
		Message:   "intent validation failed",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
}

// IsValidType 检查给定的意图类型是否为支持的枚举值。
func IsValidType(t Type) bool {
	switch t {
	case TypeSwap, TypeBridge, TypeTransfer, TypeResolveDomain:
		return true
	default:
		return false
	}
}

// NormalizeType 将任意大小写的类型归一化为标准枚举值。
func NormalizeType(raw string) Type {
	return Type(strings.ToUpper(strings.TrimSpace(raw)))
}

// Validate 校验意图参数是否满足类型要求。
func (i *Intent) Validate() error {
	if i == nil {
		return xerrors.New(CodeValidation, "intent 不能为空")
	}
	if !IsValidType(i.Type) {
		return xerrors.New(CodeUnsupportedType, fmt.Sprintf("unsupported intent type %q", i.Type))
	}

	p := i.Params
	switch i.Type {
	case TypeSwap:
		if p.SourceChainID == 0 {
			return validationError("swap 意图缺少 source_chain_id")
		}
		if strings.TrimSpace(p.FromToken) == "" || strings.TrimSpace(p.ToToken) == "" {
			return validationError("swap 意图缺少 from_token 或 to_token")
		}
		if err := validateAmount(p.Amount); err != nil {
			return err
		}
	case TypeBridge:
		if p.SourceChainID == 0 || p.DestChainID == 0 {
			return validationError("bridge 意图缺少 source_chain_id 或 dest_chain_id")
		}
		if p.SourceChainID == p.DestChainID {
			return validationError("bridge 意图的源链与目标链不能相同")
		}
		if strings.TrimSpace(p.FromToken) == "" {
			return validationError("bridge 意图缺少 from_token")
		}
		if err := validateAmount(p.Amount); err != nil {
			return err
		}
		if err := validateOptionalAddress(p.Recipient); err != nil {
			return err
		}
	case TypeTransfer:
		if p.SourceChainID == 0 {
			return validationError("transfer 意图缺少 source_chain_id")
		}
		if strings.TrimSpace(p.FromToken) == "" {
			return validationError("transfer 意图缺少 from_token")
		}
		if err := validateAmount(p.Amount); err != nil {
			return err
		}
		if strings.TrimSpace(p.Recipient) == "" {
			return validationError("transfer 意图缺少 recipient")
		}
		if !common.IsHexAddress(p.Recipient) {
			return validationError(fmt.Sprintf("recipient 地址非法: %s", p.Recipient))
		}
	case TypeResolveDomain:
		if strings.TrimSpace(p.Domain) == "" {
			return validationError("resolve_domain 意图缺少 domain")
		}
	}
	return nil
}

func validationError(message string) error {
	return xerrors.New(CodeValidation, message)
}

// validateAmount 要求金额为十进制正整数（最小单位计）。
func validateAmount(amount string) error {
	trimmed := strings.TrimSpace(amount)
	if trimmed == "" {
		return validationError("意图缺少 amount")
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return validationError(fmt.Sprintf("amount 非法: %s", amount))
	}
	if value.Sign() <= 0 {
		return validationError("amount 必须为正数")
	}
	return nil
}

func validateOptionalAddress(address string) error {
	if strings.TrimSpace(address) == "" {
		return nil
	}
	if !common.IsHexAddress(address) {
		return validationError(fmt.Sprintf("recipient 地址非法: %s", address))
	}
	return nil
}

// CloneMetadata 返回元数据的浅拷贝。
func CloneMetadata(metadata map[string]any) map[string]any {
	if metadata == nil {
		return nil
	}
	cloned := make(map[string]any, len(metadata))
	for key, value := range metadata {
		cloned[key] = value
	}
	return cloned
}
