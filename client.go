package x402

import (
	"context"
	"sync"
)

// SelectionPolicy transforms the candidate requirement list during
// selection. Policies run in registration order, each receiving the
// previous policy's output, so the last registered policy has the
// final say. Returning an empty list leaves no payable option.
type SelectionPolicy func(ctx context.Context, accepts []PaymentRequirements) []PaymentRequirements

// BeforePaymentHook observes a selected requirement before signing.
// A non-nil error aborts payment creation.
type BeforePaymentHook func(ctx context.Context, selected PaymentRequirements, required PaymentRequired) error

// AfterPaymentHook observes the completed payload before submission.
// A non-nil error aborts payment creation.
type AfterPaymentHook func(ctx context.Context, payload PaymentPayload, required PaymentRequired) error

// Client holds a wallet's signers, selection policies, hooks, and
// extensions, and turns 402 challenges into signed payment payloads.
type Client struct {
	mu          sync.RWMutex
	signers     *Registry[SchemeClient]
	policies    []SelectionPolicy
	beforeHooks []BeforePaymentHook
	afterHooks  []AfterPaymentHook
	extensions  map[string]ClientExtension
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithSigner registers a scheme client for a network pattern.
func WithSigner(pattern Network, signer SchemeClient) ClientOption {
	return func(c *Client) { c.RegisterSigner(pattern, signer) }
}

// WithPolicy appends a selection policy.
func WithPolicy(policy SelectionPolicy) ClientOption {
	return func(c *Client) { c.RegisterPolicy(policy) }
}

// WithClientExtension registers a payload-enriching extension.
func WithClientExtension(ext ClientExtension) ClientOption {
	return func(c *Client) { c.RegisterExtension(ext) }
}

func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		signers:    NewRegistry[SchemeClient](),
		extensions: make(map[string]ClientExtension),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RegisterSigner binds a scheme client to a network pattern and
// returns the client for chaining.
func (c *Client) RegisterSigner(pattern Network, signer SchemeClient) *Client {
	c.signers.Register(pattern, signer)
	return c
}

func (c *Client) RegisterPolicy(policy SelectionPolicy) *Client {
	c.mu.Lock()
	c.policies = append(c.policies, policy)
	c.mu.Unlock()
	return c
}

func (c *Client) RegisterExtension(ext ClientExtension) *Client {
	c.mu.Lock()
	c.extensions[ext.Key()] = ext
	c.mu.Unlock()
	return c
}

func (c *Client) OnBeforePaymentCreation(hook BeforePaymentHook) *Client {
	c.mu.Lock()
	c.beforeHooks = append(c.beforeHooks, hook)
	c.mu.Unlock()
	return c
}

func (c *Client) OnAfterPaymentCreation(hook AfterPaymentHook) *Client {
	c.mu.Lock()
	c.afterHooks = append(c.afterHooks, hook)
	c.mu.Unlock()
	return c
}

// SelectRequirements runs the policy chain over accepts and returns
// the first surviving entry with a registered signer. Selection is
// deterministic: the same inputs and registrations always pick the
// same entry.
func (c *Client) SelectRequirements(ctx context.Context, accepts []PaymentRequirements) (PaymentRequirements, error) {
	c.mu.RLock()
	policies := append([]SelectionPolicy(nil), c.policies...)
	c.mu.RUnlock()

	candidates := append([]PaymentRequirements(nil), accepts...)
	for _, policy := range policies {
		candidates = policy(ctx, candidates)
		if len(candidates) == 0 {
			break
		}
	}

	for _, req := range candidates {
		if _, ok := c.signers.Resolve(req.Scheme, req.Network); ok {
			return req, nil
		}
	}
	return PaymentRequirements{}, NewError(ErrUnsupportedScheme, "no payable requirement among %d offered", len(accepts))
}

// CreatePaymentPayload selects a requirement from the challenge, runs
// the hook pipeline, signs, and attaches extension data. The returned
// payload's Accepted field is the server's entry unmodified, even when
// the signer enriched its working copy.
func (c *Client) CreatePaymentPayload(ctx context.Context, required PaymentRequired) (PaymentPayload, error) {
	if required.X402Version != ProtocolVersion {
		return PaymentPayload{}, NewError(ErrUnsupportedVersion, "challenge version %d, want %d", required.X402Version, ProtocolVersion)
	}

	selected, err := c.SelectRequirements(ctx, required.Accepts)
	if err != nil {
		return PaymentPayload{}, err
	}
	signer, ok := c.signers.Resolve(selected.Scheme, selected.Network)
	if !ok {
		return PaymentPayload{}, NewError(ErrUnsupportedScheme, "no signer for %s on %s", selected.Scheme, selected.Network)
	}

	c.mu.RLock()
	beforeHooks := append([]BeforePaymentHook(nil), c.beforeHooks...)
	afterHooks := append([]AfterPaymentHook(nil), c.afterHooks...)
	c.mu.RUnlock()

	for _, hook := range beforeHooks {
		if err := hook(ctx, selected, required); err != nil {
			return PaymentPayload{}, WrapError(ErrPaymentHookError, err)
		}
	}

	signing := selected
	if enricher, ok := signer.(RequirementsEnricher); ok {
		signing, err = enricher.EnrichRequirements(ctx, selected)
		if err != nil {
			return PaymentPayload{}, err
		}
	}

	body, err := signer.SignPayment(ctx, signing, required.Resource)
	if err != nil {
		return PaymentPayload{}, err
	}

	payload := PaymentPayload{
		X402Version: ProtocolVersion,
		Payload:     body,
		Accepted:    selected,
		Resource:    required.Resource,
	}

	if err := c.enrichExtensions(ctx, &payload, selected); err != nil {
		return PaymentPayload{}, err
	}

	for _, hook := range afterHooks {
		if err := hook(ctx, payload, required); err != nil {
			return PaymentPayload{}, WrapError(ErrPaymentHookError, err)
		}
	}
	return payload, nil
}

// enrichExtensions attaches data for every extension the selected
// requirement declares and the client has registered. Undeclared
// registrations and unregistered declarations are both skipped.
func (c *Client) enrichExtensions(ctx context.Context, payload *PaymentPayload, selected PaymentRequirements) error {
	if len(selected.Extensions) == 0 {
		return nil
	}
	c.mu.RLock()
	registered := make(map[string]ClientExtension, len(c.extensions))
	for k, v := range c.extensions {
		registered[k] = v
	}
	c.mu.RUnlock()

	for key, decl := range selected.Extensions {
		ext, ok := registered[key]
		if !ok {
			continue
		}
		data, err := ext.Enrich(ctx, *payload, decl)
		if err != nil {
			return WrapError(ErrPaymentHookError, err)
		}
		if data == nil {
			continue
		}
		if payload.Extensions == nil {
			payload.Extensions = make(map[string]any)
		}
		payload.Extensions[key] = data
	}
	return nil
}
