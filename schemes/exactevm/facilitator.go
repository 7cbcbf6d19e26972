package exactevm

import (
	"context"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	x402 "github.com/x402labs/x402-go"
)

// Backend is the chain access a facilitator needs: a nonce check at
// verification time and the transfer submission at settlement time.
type Backend interface {
	AuthorizationUsed(ctx context.Context, token, authorizer common.Address, nonce [32]byte) (bool, error)

	// TransferWithAuthorization submits the transfer and returns the
	// transaction hash once it is mined.
	TransferWithAuthorization(ctx context.Context, token common.Address, auth Authorization, signature []byte) (string, error)
}

// Facilitator verifies and settles exact EVM payments. Signature,
// window, and amount checks run offline; the backend is consulted for
// nonce state and the settlement transaction.
type Facilitator struct {
	backend Backend

	now func() time.Time
}

// NewFacilitator builds a facilitator on a chain backend.
func NewFacilitator(backend Backend) *Facilitator {
	return &Facilitator{backend: backend, now: time.Now}
}

func (f *Facilitator) Scheme() string { return Scheme }

// checked is the outcome of the offline portion of verification.
type checked struct {
	auth  Authorization
	sig   []byte
	token common.Address
	nonce [32]byte
}

// check runs the offline checks. A non-empty reason is a rejection.
func (f *Facilitator) check(payload x402.PaymentPayload, requirements x402.PaymentRequirements) (checked, string) {
	auth, sig, err := decodePayload(payload.Payload)
	if err != nil {
		return checked{}, x402.Reason(err)
	}

	cfg, err := chainFor(requirements.Network)
	if err != nil {
		return checked{}, x402.ErrInvalidNetwork
	}

	tokenHex := requirements.Asset
	if tokenHex == "" {
		tokenHex = cfg.Token.Address
	}
	if !common.IsHexAddress(tokenHex) || !common.IsHexAddress(auth.From) || !common.IsHexAddress(auth.To) {
		return checked{}, x402.ErrInvalidPayload
	}

	value, ok := new(big.Int).SetString(auth.Value, 10)
	if !ok {
		return checked{}, x402.ErrInvalidPayload
	}
	want, ok := new(big.Int).SetString(requirements.Amount, 10)
	if !ok || value.Cmp(want) != 0 {
		return checked{}, x402.ErrAmountMismatch
	}

	if common.HexToAddress(auth.To) != common.HexToAddress(requirements.PayTo) {
		return checked{}, x402.ErrRecipientMismatch
	}

	validAfter, err1 := strconv.ParseInt(auth.ValidAfter, 10, 64)
	validBefore, err2 := strconv.ParseInt(auth.ValidBefore, 10, 64)
	if err1 != nil || err2 != nil {
		return checked{}, x402.ErrInvalidPayload
	}
	now := f.now().Unix()
	if now >= validBefore {
		return checked{}, x402.ErrSignatureExpired
	}
	if now < validAfter {
		return checked{}, x402.ErrInvalidSignature
	}

	nonceBytes, err := hexutil.Decode(auth.Nonce)
	if err != nil || len(nonceBytes) != 32 {
		return checked{}, x402.ErrInvalidPayload
	}

	name, version := tokenDetails(requirements, cfg)
	hash, err := digest(auth, cfg.ChainID, tokenHex, name, version)
	if err != nil {
		return checked{}, x402.ErrInvalidPayload
	}
	recSig := make([]byte, 65)
	copy(recSig, sig)
	if recSig[64] >= 27 {
		recSig[64] -= 27
	}
	pub, err := crypto.SigToPub(hash, recSig)
	if err != nil {
		return checked{}, x402.ErrInvalidSignature
	}
	if crypto.PubkeyToAddress(*pub) != common.HexToAddress(auth.From) {
		return checked{}, x402.ErrInvalidSignature
	}

	out := checked{auth: auth, sig: sig, token: common.HexToAddress(tokenHex)}
	copy(out.nonce[:], nonceBytes)
	return out, ""
}

func (f *Facilitator) Verify(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (x402.VerifyResponse, error) {
	c, reason := f.check(payload, requirements)
	if reason != "" {
		return x402.VerifyResponse{InvalidReason: reason}, nil
	}
	used, err := f.backend.AuthorizationUsed(ctx, c.token, common.HexToAddress(c.auth.From), c.nonce)
	if err != nil {
		return x402.VerifyResponse{}, x402.WrapError(x402.ErrFacilitatorUnreachable, err)
	}
	if used {
		return x402.VerifyResponse{InvalidReason: x402.ErrNonceUsed}, nil
	}
	return x402.VerifyResponse{IsValid: true, Payer: c.auth.From}, nil
}

func (f *Facilitator) Settle(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (x402.SettleResponse, error) {
	verify, err := f.Verify(ctx, payload, requirements)
	if err != nil {
		return x402.SettleResponse{}, err
	}
	if !verify.IsValid {
		return x402.SettleResponse{
			ErrorReason: verify.InvalidReason,
			Network:     requirements.Network,
		}, nil
	}

	c, _ := f.check(payload, requirements)
	tx, err := f.backend.TransferWithAuthorization(ctx, c.token, c.auth, c.sig)
	if err != nil {
		return x402.SettleResponse{
			ErrorReason: x402.ErrTransactionFailed,
			Network:     requirements.Network,
			Payer:       c.auth.From,
		}, nil
	}
	return x402.SettleResponse{
		Success:     true,
		Transaction: tx,
		Network:     requirements.Network,
		Payer:       c.auth.From,
	}, nil
}
