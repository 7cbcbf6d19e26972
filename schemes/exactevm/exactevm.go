// Package exactevm implements the exact payment scheme on EVM chains
// using EIP-3009 transferWithAuthorization. The client signs an
// off-chain authorization over EIP-712 typed data; the facilitator
// checks the signature and validity window and submits the transfer
// on chain at settlement time.
package exactevm

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"

	x402 "github.com/x402labs/x402-go"
)

// Scheme is the scheme identifier this package serves.
const Scheme = x402.DefaultScheme

// tokenConfig describes the default settlement asset on a chain.
type tokenConfig struct {
	Address  string
	Name     string
	Version  string
	Decimals int
}

type chainConfig struct {
	ChainID *big.Int
	Token   tokenConfig
}

// Default asset per network. Only EIP-3009 capable stablecoins work
// with this scheme, so the defaults are the canonical USDC deployments.
var chains = map[x402.Network]chainConfig{
	"eip155:8453": {
		ChainID: big.NewInt(8453),
		Token: tokenConfig{
			Address:  "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
			Name:     "USD Coin",
			Version:  "2",
			Decimals: 6,
		},
	},
	"eip155:84532": {
		ChainID: big.NewInt(84532),
		Token: tokenConfig{
			Address:  "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
			Name:     "USDC",
			Version:  "2",
			Decimals: 6,
		},
	},
}

// Networks lists the networks with a configured default asset.
func Networks() []x402.Network {
	out := make([]x402.Network, 0, len(chains))
	for network := range chains {
		out = append(out, network)
	}
	return out
}

func chainFor(network x402.Network) (chainConfig, error) {
	cfg, ok := chains[network]
	if !ok {
		return chainConfig{}, x402.NewError(x402.ErrInvalidNetwork, "no chain configuration for %s", network)
	}
	return cfg, nil
}

// Authorization is the EIP-3009 transferWithAuthorization message.
// All numeric fields travel as decimal strings; the nonce is 32 hex
// bytes.
type Authorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
}

func (a Authorization) asMap() map[string]any {
	return map[string]any{
		"from":        a.From,
		"to":          a.To,
		"value":       a.Value,
		"validAfter":  a.ValidAfter,
		"validBefore": a.ValidBefore,
		"nonce":       a.Nonce,
	}
}

func authorizationFromMap(data map[string]any) (Authorization, error) {
	auth := Authorization{}
	fields := []struct {
		name string
		dst  *string
	}{
		{"from", &auth.From},
		{"to", &auth.To},
		{"value", &auth.Value},
		{"validAfter", &auth.ValidAfter},
		{"validBefore", &auth.ValidBefore},
		{"nonce", &auth.Nonce},
	}
	for _, f := range fields {
		s, ok := data[f.name].(string)
		if !ok || s == "" {
			return Authorization{}, x402.NewError(x402.ErrInvalidPayload, "authorization missing %s", f.name)
		}
		*f.dst = s
	}
	return auth, nil
}

// decodePayload pulls signature and authorization out of a payment's
// scheme payload.
func decodePayload(payload map[string]any) (Authorization, []byte, error) {
	sigHex, ok := payload["signature"].(string)
	if !ok || sigHex == "" {
		return Authorization{}, nil, x402.NewError(x402.ErrInvalidPayload, "payload missing signature")
	}
	sig, err := hexutil.Decode(sigHex)
	if err != nil {
		return Authorization{}, nil, x402.WrapError(x402.ErrInvalidPayload, err)
	}
	if len(sig) != 65 {
		return Authorization{}, nil, x402.NewError(x402.ErrInvalidPayload, "signature is %d bytes, want 65", len(sig))
	}
	authMap, ok := payload["authorization"].(map[string]any)
	if !ok {
		return Authorization{}, nil, x402.NewError(x402.ErrInvalidPayload, "payload missing authorization")
	}
	auth, err := authorizationFromMap(authMap)
	if err != nil {
		return Authorization{}, nil, err
	}
	return auth, sig, nil
}

func newNonce() (string, error) {
	var buf [32]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("nonce entropy: %w", err)
	}
	return hexutil.Encode(buf[:]), nil
}

// tokenDetails resolves the token name and version the authorization
// domain uses, preferring values carried on the requirements.
func tokenDetails(requirements x402.PaymentRequirements, cfg chainConfig) (name, version string) {
	name, version = cfg.Token.Name, cfg.Token.Version
	if requirements.Extra != nil {
		if n, ok := requirements.Extra["name"].(string); ok && n != "" {
			name = n
		}
		if v, ok := requirements.Extra["version"].(string); ok && v != "" {
			version = v
		}
	}
	return name, version
}
