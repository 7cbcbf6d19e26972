package x402

import "context"

// SchemeClient is the client role of a payment scheme: it produces the
// scheme-specific proof for a chosen requirement. Implementations are
// registered per network pattern with Client.RegisterSigner.
type SchemeClient interface {
	Scheme() string

	// SignPayment builds the scheme-specific payload body for the
	// selected requirement. The returned map becomes PaymentPayload.Payload.
	SignPayment(ctx context.Context, requirements PaymentRequirements, resource *ResourceInfo) (map[string]any, error)
}

// RequirementsEnricher is optionally implemented by a SchemeClient that
// adjusts a requirement before signing, e.g. to pin a fee payer. The
// adjusted copy feeds the signer only; the payload's Accepted echo
// stays the server's original entry.
type RequirementsEnricher interface {
	EnrichRequirements(ctx context.Context, requirements PaymentRequirements) (PaymentRequirements, error)
}

// SchemeServer is the resource-server role of a scheme: it turns route
// prices into asset amounts and finalizes requirement entries.
type SchemeServer interface {
	Scheme() string

	// ParsePrice resolves a configured price to atomic units of the
	// scheme's asset on the given network.
	ParsePrice(price Price, network Network) (AssetAmount, error)

	// EnhanceRequirements completes a synthesized requirement with
	// scheme specifics (asset metadata, extra fields) drawn from the
	// facilitator's advertised kind.
	EnhanceRequirements(ctx context.Context, requirements PaymentRequirements, kind SupportedKind) (PaymentRequirements, error)
}

// SchemeFacilitator is the facilitator role of a scheme: it verifies
// and executes payments.
type SchemeFacilitator interface {
	Scheme() string

	Verify(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (VerifyResponse, error)
	Settle(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (SettleResponse, error)
}

// FacilitatorClient is what a resource server talks to for verification
// and settlement. The local Facilitator satisfies it directly; the
// http package provides a remote implementation.
type FacilitatorClient interface {
	Verify(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (VerifyResponse, error)
	Settle(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (SettleResponse, error)
	GetSupported(ctx context.Context) (SupportedResponse, error)
}

// ClientExtension enriches outgoing payloads for a declared extension
// key.
type ClientExtension interface {
	Key() string

	// Enrich returns the extension data to attach under Key, or nil to
	// attach nothing. decl is the server's declaration for the key.
	Enrich(ctx context.Context, payload PaymentPayload, decl ExtensionDecl) (any, error)
}

// ServerExtension declares an extension on requirements and validates
// the data clients attach for it.
type ServerExtension interface {
	Key() string

	// Declare produces the declaration embedded in requirement entries.
	Declare() ExtensionDecl

	// Validate checks client-supplied extension data against the
	// declaration. data is nil when the client attached nothing.
	Validate(ctx context.Context, data any, decl ExtensionDecl) error
}
