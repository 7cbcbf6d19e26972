package x402

import (
	"errors"
	"fmt"
)

// Protocol error codes. These travel on the wire in invalidReason and
// errorReason fields, so they are stable snake_case strings.
const (
	ErrInvalidPayload        = "invalid_payload"
	ErrUnsupportedScheme     = "unsupported_scheme"
	ErrUnsupportedVersion    = "unsupported_version"
	ErrInvalidNetwork        = "invalid_network"
	ErrNoMatchingRequirement = "no_matching_requirement"

	ErrInvalidSignature      = "invalid_signature"
	ErrSignatureExpired      = "signature_expired"
	ErrNonceUsed             = "nonce_used"
	ErrInsufficientFunds     = "insufficient_funds"
	ErrInsufficientAllowance = "insufficient_allowance"
	ErrAmountMismatch        = "amount_mismatch"
	ErrAssetMismatch         = "asset_mismatch"
	ErrRecipientMismatch     = "recipient_mismatch"

	ErrFacilitatorUnreachable = "facilitator_unreachable"
	ErrSettlementFailed       = "settlement_failed"
	ErrSettlementTimeout      = "settlement_timeout"
	ErrTransactionFailed      = "transaction_failed"

	ErrPaymentHookError = "payment_hook_error"
	ErrInternal         = "internal_error"
)

// ProtocolError is an error carrying a wire-level code. Callers that
// need the code for a response field should use Reason rather than
// parsing the message.
type ProtocolError struct {
	Code    string
	Message string
	Err     error
}

func (e *ProtocolError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return e.Code
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// NewError builds a ProtocolError with a formatted message.
func NewError(code, format string, args ...any) *ProtocolError {
	return &ProtocolError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WrapError builds a ProtocolError around an underlying cause.
func WrapError(code string, err error) *ProtocolError {
	return &ProtocolError{Code: code, Err: err}
}

// Reason extracts the wire code from err, walking wrapped errors.
// Unknown errors map to internal_error; nil maps to "".
func Reason(err error) string {
	if err == nil {
		return ""
	}
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ErrInternal
}

// IsCode reports whether err carries the given protocol code.
func IsCode(err error, code string) bool {
	return Reason(err) == code
}
