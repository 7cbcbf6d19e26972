package exactevm

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	x402 "github.com/x402labs/x402-go"
)

// typedData builds the EIP-712 document for a transferWithAuthorization
// message in the given token's domain.
func typedData(auth Authorization, chainID *big.Int, token, tokenName, tokenVersion string) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"TransferWithAuthorization": {
				{Name: "from", Type: "address"},
				{Name: "to", Type: "address"},
				{Name: "value", Type: "uint256"},
				{Name: "validAfter", Type: "uint256"},
				{Name: "validBefore", Type: "uint256"},
				{Name: "nonce", Type: "bytes32"},
			},
		},
		PrimaryType: "TransferWithAuthorization",
		Domain: apitypes.TypedDataDomain{
			Name:              tokenName,
			Version:           tokenVersion,
			ChainId:           (*math.HexOrDecimal256)(chainID),
			VerifyingContract: token,
		},
		Message: auth.asMap(),
	}
}

// digest computes the EIP-712 signing hash for an authorization.
func digest(auth Authorization, chainID *big.Int, token, tokenName, tokenVersion string) ([]byte, error) {
	hash, _, err := apitypes.TypedDataAndHash(typedData(auth, chainID, token, tokenName, tokenVersion))
	if err != nil {
		return nil, x402.WrapError(x402.ErrInvalidPayload, err)
	}
	return hash, nil
}
