package exactevm

import (
	"context"
	"strings"

	x402 "github.com/x402labs/x402-go"
)

// Server resolves prices and fills requirement defaults for EVM
// networks. It is stateless; register one instance for every network
// pattern it should serve.
type Server struct{}

func NewServer() Server { return Server{} }

func (Server) Scheme() string { return Scheme }

// ParsePrice converts a price into units of the network's default
// asset. An AssetAmount price passes through untouched so callers can
// charge in tokens this package knows nothing about.
func (Server) ParsePrice(price x402.Price, network x402.Network) (x402.AssetAmount, error) {
	decimal, asset, err := x402.NormalizePrice(price)
	if err != nil {
		return x402.AssetAmount{}, err
	}
	if asset != nil {
		return *asset, nil
	}

	cfg, err := chainFor(network)
	if err != nil {
		return x402.AssetAmount{}, err
	}
	units, err := x402.DecimalToUnits(decimal, cfg.Token.Decimals)
	if err != nil {
		return x402.AssetAmount{}, err
	}
	return x402.AssetAmount{
		Amount: units,
		Asset:  cfg.Token.Address,
		Extra: map[string]any{
			"name":    cfg.Token.Name,
			"version": cfg.Token.Version,
		},
	}, nil
}

// EnhanceRequirements fills the default asset and the EIP-712 domain
// fields the client needs to sign.
func (Server) EnhanceRequirements(ctx context.Context, requirements x402.PaymentRequirements, kind x402.SupportedKind) (x402.PaymentRequirements, error) {
	cfg, err := chainFor(requirements.Network)
	if err != nil {
		return requirements, err
	}

	if requirements.Asset == "" {
		requirements.Asset = cfg.Token.Address
	}

	// The domain name and version are only known for the default
	// asset; custom tokens must carry them in Extra already.
	if strings.EqualFold(requirements.Asset, cfg.Token.Address) {
		extra := make(map[string]any, len(requirements.Extra)+2)
		for k, v := range requirements.Extra {
			extra[k] = v
		}
		if _, ok := extra["name"]; !ok {
			extra["name"] = cfg.Token.Name
		}
		if _, ok := extra["version"]; !ok {
			extra["version"] = cfg.Token.Version
		}
		requirements.Extra = extra
	}
	return requirements, nil
}
