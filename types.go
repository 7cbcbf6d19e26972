// Package x402 implements the x402 payment negotiation protocol: typed
// wire structures, scheme handler registries, and the client, resource
// server, and facilitator cores that drive the HTTP 402 payment flow.
package x402

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// ProtocolVersion is the x402 protocol major version this module speaks.
const ProtocolVersion = 2

// Header names used by the HTTP binding.
const (
	PaymentHeader         = "X-PAYMENT"
	PaymentResponseHeader = "X-PAYMENT-RESPONSE"
)

// DefaultScheme is assumed when a payment option names no scheme.
const DefaultScheme = "exact"

// DefaultMaxTimeoutSeconds bounds settlement wall time when a payment
// option does not set its own.
const DefaultMaxTimeoutSeconds = 60

// Network is a CAIP-2 network identifier of the form "family:chain",
// e.g. "eip155:8453" or "solana:mainnet". The chain part may be the
// wildcard "*" when used as a registration pattern.
type Network string

// Family returns the namespace portion before the first colon, or ""
// if the identifier is malformed.
func (n Network) Family() string {
	family, _, ok := strings.Cut(string(n), ":")
	if !ok {
		return ""
	}
	return family
}

// IsWildcard reports whether the identifier is a family-wide
// registration pattern such as "eip155:*".
func (n Network) IsWildcard() bool {
	return strings.HasSuffix(string(n), ":*") && len(n) > 2
}

// Valid reports whether the identifier has a non-empty family and
// chain part.
func (n Network) Valid() bool {
	family, chain, ok := strings.Cut(string(n), ":")
	return ok && family != "" && chain != ""
}

// Matches reports whether the concrete network n satisfies pattern.
// A pattern matches on exact equality, or on family equality when the
// pattern is a wildcard.
func (n Network) Matches(pattern Network) bool {
	if n == pattern {
		return true
	}
	if pattern.IsWildcard() {
		return n.Family() == pattern.Family() && n.Family() != ""
	}
	return false
}

// Price is a route price in one of the accepted forms: a string such
// as "$0.10" or "2500", a Go numeric, or an AssetAmount for
// asset-denominated prices. Interpretation is the scheme handler's
// job.
type Price any

// AssetAmount is a price already denominated in a specific asset's
// atomic units.
type AssetAmount struct {
	Amount string         `json:"amount"`
	Asset  string         `json:"asset"`
	Extra  map[string]any `json:"extra,omitempty"`
}

// ExtensionDecl declares an extension on a payment requirement: free
// form info plus an optional JSON schema that client-supplied
// extension data must satisfy.
type ExtensionDecl struct {
	Info   any            `json:"info,omitempty"`
	Schema map[string]any `json:"schema,omitempty"`
}

// ResourceInfo describes the resource a payment is for.
type ResourceInfo struct {
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// PaymentRequirements is a single way to pay: one (scheme, network)
// pair with its asset, amount, and recipient. The server echoes these
// byte-for-byte inside a payload's Accepted field when matching.
type PaymentRequirements struct {
	Scheme            string                   `json:"scheme"`
	Network           Network                  `json:"network"`
	Asset             string                   `json:"asset,omitempty"`
	Amount            string                   `json:"amount"`
	PayTo             string                   `json:"payTo"`
	MaxTimeoutSeconds int                      `json:"maxTimeoutSeconds,omitempty"`
	Extra             map[string]any           `json:"extra,omitempty"`
	Extensions        map[string]ExtensionDecl `json:"extensions,omitempty"`
}

// PaymentRequired is the body of a 402 response: the protocol version,
// the requirement alternatives, and the resource being sold.
type PaymentRequired struct {
	X402Version int                   `json:"x402Version"`
	Accepts     []PaymentRequirements `json:"accepts"`
	Error       string                `json:"error,omitempty"`
	Resource    *ResourceInfo         `json:"resource,omitempty"`
}

// PaymentPayload is a signed payment submission. Accepted echoes the
// requirement entry the client chose to satisfy; Payload carries the
// scheme-specific proof.
type PaymentPayload struct {
	X402Version int                 `json:"x402Version"`
	Payload     map[string]any      `json:"payload"`
	Accepted    PaymentRequirements `json:"accepted"`
	Resource    *ResourceInfo       `json:"resource,omitempty"`
	Extensions  map[string]any      `json:"extensions,omitempty"`
}

// VerifyRequest is the facilitator /verify and /settle request body.
type VerifyRequest struct {
	X402Version         int                 `json:"x402Version"`
	PaymentPayload      PaymentPayload      `json:"paymentPayload"`
	PaymentRequirements PaymentRequirements `json:"paymentRequirements"`
}

// VerifyResponse reports whether a payment is valid without executing
// it.
type VerifyResponse struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Payer         string `json:"payer,omitempty"`
}

// SettleResponse reports the outcome of executing a payment.
type SettleResponse struct {
	Success     bool    `json:"success"`
	ErrorReason string  `json:"errorReason,omitempty"`
	Transaction string  `json:"transaction,omitempty"`
	Network     Network `json:"network,omitempty"`
	Payer       string  `json:"payer,omitempty"`
}

// SupportedKind is one (scheme, network) pair a facilitator can
// verify and settle.
type SupportedKind struct {
	Scheme  string         `json:"scheme"`
	Network Network        `json:"network"`
	Asset   string         `json:"asset,omitempty"`
	Extra   map[string]any `json:"extra,omitempty"`
}

// SupportedResponse is the facilitator capability listing.
type SupportedResponse struct {
	X402Version int             `json:"x402Version"`
	Kinds       []SupportedKind `json:"kinds"`
	Extensions  []string        `json:"extensions,omitempty"`
}

// canonicalJSON produces a stable encoding for structural comparison:
// marshal, decode into untyped maps so keys sort, and re-marshal.
func canonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var norm any
	if err := json.Unmarshal(raw, &norm); err != nil {
		return nil, err
	}
	return json.Marshal(norm)
}

// Equal reports whether two requirement entries are structurally
// identical under canonical JSON encoding. The server relies on this
// when checking that a payload's Accepted echo is an exact round-trip
// of an offered requirement.
func (r PaymentRequirements) Equal(other PaymentRequirements) bool {
	a, errA := canonicalJSON(r)
	b, errB := canonicalJSON(other)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(a, b)
}

// String renders a requirement for log lines.
func (r PaymentRequirements) String() string {
	return fmt.Sprintf("%s/%s %s -> %s", r.Scheme, r.Network, r.Amount, r.PayTo)
}
