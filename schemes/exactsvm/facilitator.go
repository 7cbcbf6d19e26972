package exactsvm

import (
	"context"
	"strconv"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"

	x402 "github.com/x402labs/x402-go"
)

// Backend co-signs and submits verified transactions.
type Backend interface {
	// FeePayer is the key the backend signs with. Transactions naming
	// any other fee payer are rejected.
	FeePayer() solana.PublicKey

	// SignAndSend adds the fee payer signature and submits the
	// transaction, returning its signature.
	SignAndSend(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
}

// RPCBackend settles through a Solana RPC node with a local fee payer
// key.
type RPCBackend struct {
	key    solana.PrivateKey
	client *rpc.Client
}

// NewRPCBackend builds a backend for an RPC endpoint.
func NewRPCBackend(endpoint string, feePayer solana.PrivateKey) *RPCBackend {
	return &RPCBackend{key: feePayer, client: rpc.New(endpoint)}
}

func (b *RPCBackend) FeePayer() solana.PublicKey {
	return b.key.PublicKey()
}

func (b *RPCBackend) SignAndSend(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	if _, err := tx.PartialSign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(b.key.PublicKey()) {
			return &b.key
		}
		return nil
	}); err != nil {
		return solana.Signature{}, err
	}
	return b.client.SendTransaction(ctx, tx)
}

// Facilitator verifies and settles exact Solana payments. All
// verification runs on the decoded transaction; the chain is touched
// only at settlement time.
type Facilitator struct {
	backend Backend
}

// NewFacilitator builds a facilitator on a chain backend.
func NewFacilitator(backend Backend) *Facilitator {
	return &Facilitator{backend: backend}
}

func (f *Facilitator) Scheme() string { return Scheme }

// inspect runs the offline checks. A non-empty reason is a rejection.
func (f *Facilitator) inspect(payload x402.PaymentPayload, requirements x402.PaymentRequirements) (tx *solana.Transaction, payer string, reason string) {
	tx, err := transactionFromPayload(payload.Payload)
	if err != nil {
		return nil, "", x402.Reason(err)
	}
	mint, _, err := assetMint(requirements)
	if err != nil {
		return nil, "", x402.Reason(err)
	}
	recipient, err := solana.PublicKeyFromBase58(requirements.PayTo)
	if err != nil {
		return nil, "", x402.ErrInvalidPayload
	}
	want, err := strconv.ParseUint(requirements.Amount, 10, 64)
	if err != nil {
		return nil, "", x402.ErrInvalidPayload
	}

	if len(tx.Message.AccountKeys) == 0 || !tx.Message.AccountKeys[0].Equals(f.backend.FeePayer()) {
		return nil, "", x402.ErrInvalidPayload
	}

	transfer := findTransferChecked(tx)
	if transfer == nil {
		return nil, "", x402.ErrInvalidPayload
	}

	if transfer.Amount == nil || *transfer.Amount != want {
		return nil, "", x402.ErrAmountMismatch
	}
	if !transfer.GetMintAccount().PublicKey.Equals(mint) {
		return nil, "", x402.ErrAssetMismatch
	}
	destATA, _, err := solana.FindAssociatedTokenAddress(recipient, mint)
	if err != nil || !transfer.GetDestinationAccount().PublicKey.Equals(destATA) {
		return nil, "", x402.ErrRecipientMismatch
	}

	owner := transfer.GetOwnerAccount().PublicKey
	if !ownerSigned(tx, owner) {
		return nil, "", x402.ErrInvalidSignature
	}
	return tx, owner.String(), ""
}

// findTransferChecked locates the single token transfer among the
// transaction's instructions.
func findTransferChecked(tx *solana.Transaction) *token.TransferChecked {
	for _, inst := range tx.Message.Instructions {
		prog, err := tx.Message.ResolveProgramIDIndex(inst.ProgramIDIndex)
		if err != nil || !prog.Equals(solana.TokenProgramID) {
			continue
		}
		accounts, err := inst.ResolveInstructionAccounts(&tx.Message)
		if err != nil {
			continue
		}
		decoded, err := token.DecodeInstruction(accounts, inst.Data)
		if err != nil {
			continue
		}
		if transfer, ok := decoded.Impl.(*token.TransferChecked); ok {
			return transfer
		}
	}
	return nil
}

// ownerSigned checks the payer's ed25519 signature over the message.
func ownerSigned(tx *solana.Transaction, owner solana.PublicKey) bool {
	msg, err := tx.Message.MarshalBinary()
	if err != nil {
		return false
	}
	numSigners := int(tx.Message.Header.NumRequiredSignatures)
	for i := 0; i < numSigners && i < len(tx.Message.AccountKeys) && i < len(tx.Signatures); i++ {
		if !tx.Message.AccountKeys[i].Equals(owner) {
			continue
		}
		return tx.Signatures[i].Verify(owner, msg)
	}
	return false
}

func (f *Facilitator) Verify(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (x402.VerifyResponse, error) {
	_, payer, reason := f.inspect(payload, requirements)
	if reason != "" {
		return x402.VerifyResponse{InvalidReason: reason}, nil
	}
	return x402.VerifyResponse{IsValid: true, Payer: payer}, nil
}

func (f *Facilitator) Settle(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (x402.SettleResponse, error) {
	tx, payer, reason := f.inspect(payload, requirements)
	if reason != "" {
		return x402.SettleResponse{ErrorReason: reason, Network: requirements.Network}, nil
	}
	sig, err := f.backend.SignAndSend(ctx, tx)
	if err != nil {
		return x402.SettleResponse{
			ErrorReason: x402.ErrTransactionFailed,
			Network:     requirements.Network,
			Payer:       payer,
		}, nil
	}
	return x402.SettleResponse{
		Success:     true,
		Transaction: sig.String(),
		Network:     requirements.Network,
		Payer:       payer,
	}, nil
}
