package intent

import (
	"errors"
	"testing"
)

func validBridgeIntent() *Intent {
	return &Intent{
		ID:   "intent-1",
		Type: TypeBridge,
		Params: Params{
			SourceChainID: 421614,
			DestChainID:   84532,
			FromToken:     "USDC",
			Amount:        "1000000",
		},
	}
}

func TestValidateBridgeIntent(t *testing.T) {
	if err := validBridgeIntent().Validate(); err != nil {
		t.Fatalf("valid bridge intent rejected: %v", err)
	}
}

func TestValidateRejectsUnknownType(t *testing.T) {
	in := validBridgeIntent()
	in.Type = Type("STAKE")
	if err := in.Validate(); !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("expected ErrUnsupportedType, got %v", err)
	}
}

func TestValidateBridgeSameChains(t *testing.T) {
	in := validBridgeIntent()
	in.Params.DestChainID = in.Params.SourceChainID
	if err := in.Validate(); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestValidateAmount(t *testing.T) {
	cases := []struct {
		name   string
		amount string
		ok     bool
	}{
		{name: "positive", amount: "1", ok: true},
		{name: "empty", amount: "", ok: false},
		{name: "zero", amount: "0", ok: false},
		{name: "negative", amount: "-5", ok: false},
		{name: "not a number", amount: "1.5e18", ok: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := validBridgeIntent()
			in.Params.Amount = tc.amount
			err := in.Validate()
			if tc.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tc.ok && err == nil {
				t.Fatalf("expected error for amount %q", tc.amount)
			}
		})
	}
}

func TestValidateTransferRecipient(t *testing.T) {
	in := &Intent{
		Type: TypeTransfer,
		Params: Params{
			SourceChainID: 84532,
			FromToken:     "USDC",
			Amount:        "42",
			Recipient:     "not-an-address",
		},
	}
	if err := in.Validate(); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	in.Params.Recipient = "0x8ba1f109551bD432803012645Ac136ddd64DBA72"
	if err := in.Validate(); err != nil {
		t.Fatalf("valid transfer rejected: %v", err)
	}
}

func TestValidateResolveDomain(t *testing.T) {
	in := &Intent{Type: TypeResolveDomain, Params: Params{Domain: "vitalik.eth"}}
	if err := in.Validate(); err != nil {
		t.Fatalf("valid domain intent rejected: %v", err)
	}

	in.Params.Domain = "   "
	if err := in.Validate(); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestNormalizeType(t *testing.T) {
	if got := NormalizeType(" swap "); got != TypeSwap {
		t.Fatalf("unexpected normalized type: %q", got)
	}
	if IsValidType(NormalizeType("mint")) {
		t.Fatal("mint should not be a valid type")
	}
}
