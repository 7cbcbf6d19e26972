// Package exactsvm implements the exact payment scheme on Solana.
// The client builds an SPL TransferChecked transaction with the
// facilitator as fee payer and signs it partially; the facilitator
// inspects the transaction, co-signs, and submits it at settlement
// time. Payments ride as base64-serialized transactions.
package exactsvm

import (
	"github.com/gagliardetto/solana-go"

	x402 "github.com/x402labs/x402-go"
)

// Scheme is the scheme identifier this package serves.
const Scheme = x402.DefaultScheme

type mintConfig struct {
	Mint     string
	Symbol   string
	Decimals int
}

// Default settlement asset per network: the canonical USDC mints,
// keyed by CAIP-2 id (genesis hash prefix).
var mints = map[x402.Network]mintConfig{
	"solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp": {
		Mint:     "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
		Symbol:   "USDC",
		Decimals: 6,
	},
	"solana:EtWTRABZaYq6iMfeYKouRu166VU2xqa1": {
		Mint:     "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU",
		Symbol:   "USDC",
		Decimals: 6,
	},
}

// Networks lists the networks with a configured default mint.
func Networks() []x402.Network {
	out := make([]x402.Network, 0, len(mints))
	for network := range mints {
		out = append(out, network)
	}
	return out
}

func mintFor(network x402.Network) (mintConfig, error) {
	cfg, ok := mints[network]
	if !ok {
		return mintConfig{}, x402.NewError(x402.ErrInvalidNetwork, "no mint configuration for %s", network)
	}
	return cfg, nil
}

// transactionFromPayload decodes the base64 transaction a payment
// carries.
func transactionFromPayload(payload map[string]any) (*solana.Transaction, error) {
	encoded, ok := payload["transaction"].(string)
	if !ok || encoded == "" {
		return nil, x402.NewError(x402.ErrInvalidPayload, "payload missing transaction")
	}
	tx, err := solana.TransactionFromBase64(encoded)
	if err != nil {
		return nil, x402.WrapError(x402.ErrInvalidPayload, err)
	}
	return tx, nil
}

// feePayerFrom reads the facilitator fee payer the requirements carry.
func feePayerFrom(requirements x402.PaymentRequirements) (solana.PublicKey, error) {
	raw, _ := requirements.Extra["feePayer"].(string)
	if raw == "" {
		return solana.PublicKey{}, x402.NewError(x402.ErrInvalidPayload, "requirements missing extra.feePayer")
	}
	key, err := solana.PublicKeyFromBase58(raw)
	if err != nil {
		return solana.PublicKey{}, x402.WrapError(x402.ErrInvalidPayload, err)
	}
	return key, nil
}

func assetMint(requirements x402.PaymentRequirements) (solana.PublicKey, int, error) {
	cfg, err := mintFor(requirements.Network)
	if err != nil {
		return solana.PublicKey{}, 0, err
	}
	mintAddr := requirements.Asset
	decimals := cfg.Decimals
	if mintAddr == "" {
		mintAddr = cfg.Mint
	}
	if d, ok := requirements.Extra["decimals"].(float64); ok {
		decimals = int(d)
	}
	mint, err := solana.PublicKeyFromBase58(mintAddr)
	if err != nil {
		return solana.PublicKey{}, 0, x402.WrapError(x402.ErrInvalidPayload, err)
	}
	return mint, decimals, nil
}
