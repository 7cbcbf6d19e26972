package exactsvm

import (
	"context"
	"encoding/base64"
	"strconv"

	"github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"

	x402 "github.com/x402labs/x402-go"
)

// Compute budget for the fixed three-instruction transaction shape.
const (
	computeUnitLimit = 200_000
	computeUnitPrice = 10_000 // microlamports per unit
)

// BlockhashSource supplies the recent blockhash a transaction needs.
type BlockhashSource interface {
	LatestBlockhash(ctx context.Context) (solana.Hash, error)
}

// RPCBlockhash fetches blockhashes from a Solana RPC node.
type RPCBlockhash struct {
	client *rpc.Client
}

// NewRPCBlockhash builds a blockhash source for an RPC endpoint.
func NewRPCBlockhash(endpoint string) *RPCBlockhash {
	return &RPCBlockhash{client: rpc.New(endpoint)}
}

func (r *RPCBlockhash) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	out, err := r.client.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return solana.Hash{}, err
	}
	return out.Value.Blockhash, nil
}

// Client signs exact payments on Solana networks.
type Client struct {
	signer Signer
	recent BlockhashSource
}

// NewClient builds a payment signer for the exact scheme.
func NewClient(signer Signer, recent BlockhashSource) *Client {
	return &Client{signer: signer, recent: recent}
}

func (c *Client) Scheme() string { return Scheme }

// SignPayment builds a partially signed TransferChecked transaction:
// compute budget, then the transfer, fee payer left to the
// facilitator named in the requirements.
func (c *Client) SignPayment(ctx context.Context, requirements x402.PaymentRequirements, resource *x402.ResourceInfo) (map[string]any, error) {
	mint, decimals, err := assetMint(requirements)
	if err != nil {
		return nil, err
	}
	feePayer, err := feePayerFrom(requirements)
	if err != nil {
		return nil, err
	}
	recipient, err := solana.PublicKeyFromBase58(requirements.PayTo)
	if err != nil {
		return nil, x402.WrapError(x402.ErrInvalidPayload, err)
	}
	amount, err := strconv.ParseUint(requirements.Amount, 10, 64)
	if err != nil {
		return nil, x402.NewError(x402.ErrInvalidPayload, "invalid amount %q", requirements.Amount)
	}

	owner := c.signer.PublicKey()
	sourceATA, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return nil, x402.WrapError(x402.ErrInvalidPayload, err)
	}
	destATA, _, err := solana.FindAssociatedTokenAddress(recipient, mint)
	if err != nil {
		return nil, x402.WrapError(x402.ErrInvalidPayload, err)
	}

	limitIx, err := computebudget.NewSetComputeUnitLimitInstructionBuilder().
		SetUnits(computeUnitLimit).
		ValidateAndBuild()
	if err != nil {
		return nil, err
	}
	priceIx, err := computebudget.NewSetComputeUnitPriceInstructionBuilder().
		SetMicroLamports(computeUnitPrice).
		ValidateAndBuild()
	if err != nil {
		return nil, err
	}
	transferIx, err := token.NewTransferCheckedInstructionBuilder().
		SetAmount(amount).
		SetDecimals(uint8(decimals)).
		SetSourceAccount(sourceATA).
		SetMintAccount(mint).
		SetDestinationAccount(destATA).
		SetOwnerAccount(owner).
		ValidateAndBuild()
	if err != nil {
		return nil, err
	}

	blockhash, err := c.recent.LatestBlockhash(ctx)
	if err != nil {
		return nil, x402.WrapError(x402.ErrFacilitatorUnreachable, err)
	}

	tx, err := solana.NewTransaction(
		[]solana.Instruction{limitIx, priceIx, transferIx},
		blockhash,
		solana.TransactionPayer(feePayer),
	)
	if err != nil {
		return nil, err
	}
	if err := c.signer.PartialSign(tx); err != nil {
		return nil, x402.WrapError(x402.ErrInvalidSignature, err)
	}

	raw, err := tx.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"transaction": base64.StdEncoding.EncodeToString(raw),
	}, nil
}
