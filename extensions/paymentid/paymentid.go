// Package paymentid implements the paymentIdentifier extension: the
// client attaches a unique payment id to each payload so both sides
// can correlate receipts, retries, and ledger entries.
package paymentid

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/google/uuid"

	x402 "github.com/x402labs/x402-go"
	"github.com/x402labs/x402-go/extensions"
)

// Key is the extension identifier on requirements and payloads.
const Key = "paymentIdentifier"

// IDPrefix starts every generated payment id.
const IDPrefix = "pid_"

var idPattern = regexp.MustCompile(`^pid_[0-9a-f]{32}$`)

// NewID generates a payment id: the prefix plus a hyphenless UUID.
func NewID() string {
	return IDPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// ValidID reports whether s is a well-formed payment id.
func ValidID(s string) bool {
	return idPattern.MatchString(s)
}

// Fingerprint hashes a payload for receipt correlation.
func Fingerprint(payload x402.PaymentPayload) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", x402.WrapError(x402.ErrInvalidPayload, err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// ClientExtension attaches a fresh payment id to every payload.
type ClientExtension struct {
	// NewID overrides id generation, e.g. for deterministic tests.
	NewID func() string
}

func (ClientExtension) Key() string { return Key }

func (c ClientExtension) Enrich(ctx context.Context, payload x402.PaymentPayload, decl x402.ExtensionDecl) (any, error) {
	gen := c.NewID
	if gen == nil {
		gen = NewID
	}
	return map[string]any{"paymentId": gen()}, nil
}

// ServerExtension declares the extension and validates submitted ids.
type ServerExtension struct {
	// Required rejects payloads that omit the id.
	Required bool
}

func (ServerExtension) Key() string { return Key }

func (ServerExtension) Declare() x402.ExtensionDecl {
	return extensions.Declare(
		map[string]any{"description": "unique identifier for this payment"},
		extensions.RequireObjectSchema("paymentId"),
	)
}

func (s ServerExtension) Validate(ctx context.Context, data any, decl x402.ExtensionDecl) error {
	if data == nil {
		if s.Required {
			return x402.NewError(x402.ErrInvalidPayload, "paymentIdentifier data missing")
		}
		return nil
	}
	if err := extensions.ValidateData(decl, data); err != nil {
		return err
	}
	m, err := extensions.DataAsMap(data)
	if err != nil {
		return err
	}
	id, _ := m["paymentId"].(string)
	if !ValidID(id) {
		return x402.NewError(x402.ErrInvalidPayload, "malformed payment id %q", id)
	}
	return nil
}
