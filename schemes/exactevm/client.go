package exactevm

import (
	"context"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"

	x402 "github.com/x402labs/x402-go"
)

// Client signs exact payments on EVM networks.
type Client struct {
	signer Signer

	// now is swappable for validity-window tests.
	now func() time.Time
}

// NewClient builds a payment signer for the exact scheme.
func NewClient(signer Signer) *Client {
	return &Client{signer: signer, now: time.Now}
}

func (c *Client) Scheme() string { return Scheme }

// SignPayment creates a signed EIP-3009 authorization matching the
// requirements. The validity window spans the requirement's timeout,
// starting slightly in the past to absorb clock skew.
func (c *Client) SignPayment(ctx context.Context, requirements x402.PaymentRequirements, resource *x402.ResourceInfo) (map[string]any, error) {
	cfg, err := chainFor(requirements.Network)
	if err != nil {
		return nil, err
	}

	token := requirements.Asset
	if token == "" {
		token = cfg.Token.Address
	}

	if _, ok := new(big.Int).SetString(requirements.Amount, 10); !ok {
		return nil, x402.NewError(x402.ErrInvalidPayload, "invalid amount %q", requirements.Amount)
	}

	nonce, err := newNonce()
	if err != nil {
		return nil, err
	}

	timeout := requirements.MaxTimeoutSeconds
	if timeout <= 0 {
		timeout = x402.DefaultMaxTimeoutSeconds
	}
	now := c.now()
	validAfter := now.Add(-30 * time.Second).Unix()
	validBefore := now.Add(time.Duration(timeout) * time.Second).Unix()

	auth := Authorization{
		From:        c.signer.Address(),
		To:          requirements.PayTo,
		Value:       requirements.Amount,
		ValidAfter:  strconv.FormatInt(validAfter, 10),
		ValidBefore: strconv.FormatInt(validBefore, 10),
		Nonce:       nonce,
	}

	name, version := tokenDetails(requirements, cfg)
	sig, err := c.signer.SignTypedData(ctx, typedData(auth, cfg.ChainID, token, name, version))
	if err != nil {
		return nil, x402.WrapError(x402.ErrInvalidSignature, err)
	}

	return map[string]any{
		"signature":     hexutil.Encode(sig),
		"authorization": auth.asMap(),
	}, nil
}
