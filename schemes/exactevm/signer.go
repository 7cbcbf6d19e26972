package exactevm

import (
	"context"
	"crypto/ecdsa"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	x402 "github.com/x402labs/x402-go"
)

// Signer produces EIP-712 signatures for payment authorizations.
// Implementations may hold a raw key, talk to a KMS, or defer to a
// wallet; the scheme only needs the address and the signature.
type Signer interface {
	// Address returns the payer's checksummed address.
	Address() string

	// SignTypedData signs the EIP-712 document and returns a 65-byte
	// signature with the recovery id in Ethereum's v=27/28 form.
	SignTypedData(ctx context.Context, data apitypes.TypedData) ([]byte, error)
}

// LocalSigner signs with an in-process secp256k1 key.
type LocalSigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewLocalSigner wraps a private key.
func NewLocalSigner(key *ecdsa.PrivateKey) *LocalSigner {
	return &LocalSigner{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}
}

// NewLocalSignerFromHex parses a hex-encoded private key.
func NewLocalSignerFromHex(keyHex string) (*LocalSigner, error) {
	key, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, x402.WrapError(x402.ErrInvalidSignature, err)
	}
	return NewLocalSigner(key), nil
}

func (s *LocalSigner) Address() string {
	return s.address.Hex()
}

func (s *LocalSigner) SignTypedData(ctx context.Context, data apitypes.TypedData) ([]byte, error) {
	hash, _, err := apitypes.TypedDataAndHash(data)
	if err != nil {
		return nil, err
	}
	sig, err := crypto.Sign(hash, s.key)
	if err != nil {
		return nil, err
	}
	sig[64] += 27
	return sig, nil
}
