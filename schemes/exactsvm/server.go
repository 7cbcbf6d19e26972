package exactsvm

import (
	"context"

	"github.com/gagliardetto/solana-go"

	x402 "github.com/x402labs/x402-go"
)

// Server resolves prices and fills requirement defaults for Solana
// networks.
type Server struct{}

func NewServer() Server { return Server{} }

func (Server) Scheme() string { return Scheme }

// ParsePrice converts a price into units of the network's default
// mint. An AssetAmount price passes through untouched.
func (Server) ParsePrice(price x402.Price, network x402.Network) (x402.AssetAmount, error) {
	decimal, asset, err := x402.NormalizePrice(price)
	if err != nil {
		return x402.AssetAmount{}, err
	}
	if asset != nil {
		return *asset, nil
	}

	cfg, err := mintFor(network)
	if err != nil {
		return x402.AssetAmount{}, err
	}
	units, err := x402.DecimalToUnits(decimal, cfg.Decimals)
	if err != nil {
		return x402.AssetAmount{}, err
	}
	return x402.AssetAmount{
		Amount: units,
		Asset:  cfg.Mint,
		Extra:  map[string]any{"decimals": float64(cfg.Decimals)},
	}, nil
}

// EnhanceRequirements fills the default mint and checks that a fee
// payer is present, since clients cannot build a transaction without
// one. The fee payer normally arrives from the facilitator's
// supported-kind extras.
func (Server) EnhanceRequirements(ctx context.Context, requirements x402.PaymentRequirements, kind x402.SupportedKind) (x402.PaymentRequirements, error) {
	cfg, err := mintFor(requirements.Network)
	if err != nil {
		return requirements, err
	}
	if requirements.Asset == "" {
		requirements.Asset = cfg.Mint
	}
	if _, err := solana.PublicKeyFromBase58(requirements.Asset); err != nil {
		return requirements, x402.WrapError(x402.ErrInvalidPayload, err)
	}
	if _, err := feePayerFrom(requirements); err != nil {
		return requirements, err
	}
	return requirements, nil
}
