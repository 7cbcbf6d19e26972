package exactsvm

import (
	"github.com/gagliardetto/solana-go"

	x402 "github.com/x402labs/x402-go"
)

// Signer adds the payer's signature to a transaction, leaving the fee
// payer slot for the facilitator.
type Signer interface {
	PublicKey() solana.PublicKey
	PartialSign(tx *solana.Transaction) error
}

// LocalSigner signs with an in-process ed25519 key.
type LocalSigner struct {
	key solana.PrivateKey
}

// NewLocalSigner wraps a private key.
func NewLocalSigner(key solana.PrivateKey) *LocalSigner {
	return &LocalSigner{key: key}
}

// NewLocalSignerFromBase58 parses a base58-encoded private key.
func NewLocalSignerFromBase58(encoded string) (*LocalSigner, error) {
	key, err := solana.PrivateKeyFromBase58(encoded)
	if err != nil {
		return nil, x402.WrapError(x402.ErrInvalidSignature, err)
	}
	return &LocalSigner{key: key}, nil
}

func (s *LocalSigner) PublicKey() solana.PublicKey {
	return s.key.PublicKey()
}

func (s *LocalSigner) PartialSign(tx *solana.Transaction) error {
	_, err := tx.PartialSign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(s.key.PublicKey()) {
			return &s.key
		}
		return nil
	})
	return err
}
