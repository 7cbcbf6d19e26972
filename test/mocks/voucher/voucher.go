// Package voucher is a toy payment scheme for tests. A payer signs by
// prefixing their name with "~"; verification checks the prefix and a
// per-payer balance, and settlement debits it. No cryptography, fully
// deterministic.
package voucher

import (
	"context"
	"fmt"
	"strings"
	"sync"

	x402 "github.com/x402labs/x402-go"
)

// Scheme is the scheme identifier vouchers register under.
const Scheme = "voucher"

// Asset is the synthetic asset identifier, 6 decimals.
const Asset = "voucher:credits"

const decimals = 6

// Signer is the client role: it signs payments as the named payer.
type Signer struct {
	Payer string

	// FailWith, when set, makes signing fail.
	FailWith error
}

func (s *Signer) Scheme() string { return Scheme }

func (s *Signer) SignPayment(ctx context.Context, requirements x402.PaymentRequirements, resource *x402.ResourceInfo) (map[string]any, error) {
	if s.FailWith != nil {
		return nil, s.FailWith
	}
	return map[string]any{
		"signature": "~" + s.Payer,
		"amount":    requirements.Amount,
		"payTo":     requirements.PayTo,
	}, nil
}

// Server is the resource-server role: dollar prices convert 1:1 into
// credits.
type Server struct{}

func (Server) Scheme() string { return Scheme }

func (Server) ParsePrice(price x402.Price, network x402.Network) (x402.AssetAmount, error) {
	decimal, amount, err := x402.NormalizePrice(price)
	if err != nil {
		return x402.AssetAmount{}, err
	}
	if amount != nil {
		return *amount, nil
	}
	units, err := x402.DecimalToUnits(decimal, decimals)
	if err != nil {
		return x402.AssetAmount{}, err
	}
	return x402.AssetAmount{Amount: units, Asset: Asset}, nil
}

func (Server) EnhanceRequirements(ctx context.Context, requirements x402.PaymentRequirements, kind x402.SupportedKind) (x402.PaymentRequirements, error) {
	if requirements.Asset == "" {
		requirements.Asset = Asset
	}
	return requirements, nil
}

// Ledger is the facilitator role with per-payer balances.
type Ledger struct {
	mu       sync.Mutex
	balances map[string]string
	settled  int

	// VerifyErr and SettleErr force failures when set.
	VerifyErr error
	SettleErr error
}

func NewLedger() *Ledger {
	return &Ledger{balances: make(map[string]string)}
}

// Credit funds a payer.
func (l *Ledger) Credit(payer, units string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[payer] = units
}

// Settled reports how many settlements have executed.
func (l *Ledger) Settled() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.settled
}

func (l *Ledger) Scheme() string { return Scheme }

func (l *Ledger) payer(payload x402.PaymentPayload) (string, bool) {
	sig, _ := payload.Payload["signature"].(string)
	if !strings.HasPrefix(sig, "~") {
		return "", false
	}
	return strings.TrimPrefix(sig, "~"), true
}

func (l *Ledger) Verify(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (x402.VerifyResponse, error) {
	if l.VerifyErr != nil {
		return x402.VerifyResponse{}, l.VerifyErr
	}
	payer, ok := l.payer(payload)
	if !ok {
		return x402.VerifyResponse{IsValid: false, InvalidReason: x402.ErrInvalidSignature}, nil
	}

	l.mu.Lock()
	balance, funded := l.balances[payer]
	l.mu.Unlock()
	if !funded {
		return x402.VerifyResponse{IsValid: false, InvalidReason: x402.ErrInsufficientFunds}, nil
	}
	if cmp, err := x402.CompareUnits(balance, requirements.Amount); err != nil || cmp < 0 {
		return x402.VerifyResponse{IsValid: false, InvalidReason: x402.ErrInsufficientFunds}, nil
	}
	return x402.VerifyResponse{IsValid: true, Payer: payer}, nil
}

func (l *Ledger) Settle(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (x402.SettleResponse, error) {
	if l.SettleErr != nil {
		return x402.SettleResponse{}, l.SettleErr
	}
	verify, err := l.Verify(ctx, payload, requirements)
	if err != nil {
		return x402.SettleResponse{}, err
	}
	if !verify.IsValid {
		return x402.SettleResponse{Success: false, ErrorReason: verify.InvalidReason, Network: requirements.Network}, nil
	}

	l.mu.Lock()
	l.settled++
	tx := fmt.Sprintf("voucher:tx:%04d", l.settled)
	l.mu.Unlock()

	return x402.SettleResponse{
		Success:     true,
		Transaction: tx,
		Network:     requirements.Network,
		Payer:       verify.Payer,
	}, nil
}

// Facilitator wires a funded ledger into a local facilitator on the
// given network pattern.
func Facilitator(ledger *Ledger, pattern x402.Network) *x402.Facilitator {
	return x402.NewFacilitator().
		Register(pattern, ledger).
		RegisterAsset(pattern, Scheme, Asset)
}
