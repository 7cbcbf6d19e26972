package x402

import (
	"context"
	"fmt"
	"strings"
)

// mockScheme implements all three roles of a toy "exact" style scheme
// for tests. Payers sign with "~name"; verification checks the
// signature prefix and settlement returns a synthetic transaction id.
type mockScheme struct {
	scheme    string
	asset     string
	decimals  int
	payer     string
	signErr   error
	verifyErr error
	settleErr error

	signCalls   int
	verifyCalls int
	settleCalls int
}

func newMockScheme(scheme string) *mockScheme {
	return &mockScheme{scheme: scheme, asset: "0xA55E7", decimals: 6, payer: "alice"}
}

func (m *mockScheme) Scheme() string { return m.scheme }

func (m *mockScheme) SignPayment(ctx context.Context, requirements PaymentRequirements, resource *ResourceInfo) (map[string]any, error) {
	m.signCalls++
	if m.signErr != nil {
		return nil, m.signErr
	}
	return map[string]any{
		"signature": "~" + m.payer,
		"amount":    requirements.Amount,
		"payTo":     requirements.PayTo,
	}, nil
}

func (m *mockScheme) ParsePrice(price Price, network Network) (AssetAmount, error) {
	decimal, amount, err := NormalizePrice(price)
	if err != nil {
		return AssetAmount{}, err
	}
	if amount != nil {
		return *amount, nil
	}
	units, err := DecimalToUnits(decimal, m.decimals)
	if err != nil {
		return AssetAmount{}, err
	}
	return AssetAmount{Amount: units, Asset: m.asset}, nil
}

func (m *mockScheme) EnhanceRequirements(ctx context.Context, requirements PaymentRequirements, kind SupportedKind) (PaymentRequirements, error) {
	if kind.Asset != "" && requirements.Asset == "" {
		requirements.Asset = kind.Asset
	}
	for k, v := range kind.Extra {
		if requirements.Extra == nil {
			requirements.Extra = make(map[string]any)
		}
		if _, exists := requirements.Extra[k]; !exists {
			requirements.Extra[k] = v
		}
	}
	return requirements, nil
}

func (m *mockScheme) Verify(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (VerifyResponse, error) {
	m.verifyCalls++
	if m.verifyErr != nil {
		return VerifyResponse{}, m.verifyErr
	}
	sig, _ := payload.Payload["signature"].(string)
	if !strings.HasPrefix(sig, "~") {
		return VerifyResponse{IsValid: false, InvalidReason: ErrInvalidSignature}, nil
	}
	return VerifyResponse{IsValid: true, Payer: strings.TrimPrefix(sig, "~")}, nil
}

func (m *mockScheme) Settle(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (SettleResponse, error) {
	m.settleCalls++
	if m.settleErr != nil {
		return SettleResponse{}, m.settleErr
	}
	sig, _ := payload.Payload["signature"].(string)
	return SettleResponse{
		Success:     true,
		Transaction: fmt.Sprintf("0xtx%04d", m.settleCalls),
		Network:     requirements.Network,
		Payer:       strings.TrimPrefix(sig, "~"),
	}, nil
}

// testFacilitator builds a local facilitator with the mock scheme
// registered on the given pattern.
func testFacilitator(scheme *mockScheme, pattern Network) *Facilitator {
	return NewFacilitator().Register(pattern, scheme)
}

// testRequirements is a baseline requirement entry used across tests.
func testRequirements() PaymentRequirements {
	return PaymentRequirements{
		Scheme:            "exact",
		Network:           "eip155:8453",
		Asset:             "0xA55E7",
		Amount:            "10000",
		PayTo:             "0xORG",
		MaxTimeoutSeconds: 60,
	}
}

// testPayload builds a payload whose Accepted echoes req.
func testPayload(req PaymentRequirements) PaymentPayload {
	return PaymentPayload{
		X402Version: ProtocolVersion,
		Payload:     map[string]any{"signature": "~alice", "amount": req.Amount, "payTo": req.PayTo},
		Accepted:    req,
	}
}
