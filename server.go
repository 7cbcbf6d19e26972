package x402

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Default facilitator call bounds; both are overridable per server.
const (
	DefaultVerifyTimeout = 5 * time.Second
	DefaultSettleTimeout = 60 * time.Second
)

// PaymentConfig is one payment option for a resource: the scheme and
// network to accept, the recipient, and the price. The server expands
// each config into a full requirement entry.
type PaymentConfig struct {
	Scheme            string
	Network           Network
	PayTo             string
	Price             Price
	MaxTimeoutSeconds int
	Extra             map[string]any

	// Extensions names the server extensions declared on this option.
	Extensions []string
}

// facilitatorEntry pairs a facilitator with its cached capabilities.
type facilitatorEntry struct {
	client    FacilitatorClient
	supported SupportedResponse
	fetched   bool
}

// ResourceServer synthesizes payment requirements, matches and
// verifies submitted payments, and settles them through one or more
// facilitators. Transport bindings (net/http, gin, echo, MCP) sit on
// top of it.
type ResourceServer struct {
	schemes *Registry[SchemeServer]

	mu           sync.RWMutex
	facilitators []facilitatorEntry
	extensions   map[string]ServerExtension

	verifyTimeout time.Duration
	settleTimeout time.Duration

	hooks settleHooks
}

// ResourceServerOption configures a ResourceServer.
type ResourceServerOption func(*ResourceServer)

// WithFacilitator appends a facilitator. When several facilitators
// support the same kind, the first registered wins.
func WithFacilitator(fc FacilitatorClient) ResourceServerOption {
	return func(s *ResourceServer) {
		s.facilitators = append(s.facilitators, facilitatorEntry{client: fc})
	}
}

// WithSchemeServer registers a scheme's server role for a network
// pattern.
func WithSchemeServer(pattern Network, handler SchemeServer) ResourceServerOption {
	return func(s *ResourceServer) { s.schemes.Register(pattern, handler) }
}

// WithServerExtension registers an extension available for routes to
// declare.
func WithServerExtension(ext ServerExtension) ResourceServerOption {
	return func(s *ResourceServer) { s.extensions[ext.Key()] = ext }
}

func WithVerifyTimeout(d time.Duration) ResourceServerOption {
	return func(s *ResourceServer) { s.verifyTimeout = d }
}

func WithSettleTimeout(d time.Duration) ResourceServerOption {
	return func(s *ResourceServer) { s.settleTimeout = d }
}

func NewResourceServer(opts ...ResourceServerOption) *ResourceServer {
	s := &ResourceServer{
		schemes:       NewRegistry[SchemeServer](),
		extensions:    make(map[string]ServerExtension),
		verifyTimeout: DefaultVerifyTimeout,
		settleTimeout: DefaultSettleTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterScheme binds a scheme server to a network pattern and
// returns the server for chaining.
func (s *ResourceServer) RegisterScheme(pattern Network, handler SchemeServer) *ResourceServer {
	s.schemes.Register(pattern, handler)
	return s
}

func (s *ResourceServer) OnBeforeVerify(hook BeforeVerifyHook) *ResourceServer {
	s.hooks.beforeVerify = append(s.hooks.beforeVerify, hook)
	return s
}

func (s *ResourceServer) OnAfterVerify(hook AfterVerifyHook) *ResourceServer {
	s.hooks.afterVerify = append(s.hooks.afterVerify, hook)
	return s
}

func (s *ResourceServer) OnVerifyFailure(hook VerifyFailureHook) *ResourceServer {
	s.hooks.verifyFailure = append(s.hooks.verifyFailure, hook)
	return s
}

func (s *ResourceServer) OnBeforeSettle(hook BeforeSettleHook) *ResourceServer {
	s.hooks.beforeSettle = append(s.hooks.beforeSettle, hook)
	return s
}

func (s *ResourceServer) OnAfterSettle(hook AfterSettleHook) *ResourceServer {
	s.hooks.afterSettle = append(s.hooks.afterSettle, hook)
	return s
}

func (s *ResourceServer) OnSettleFailure(hook SettleFailureHook) *ResourceServer {
	s.hooks.settleFailure = append(s.hooks.settleFailure, hook)
	return s
}

// Initialize fetches and caches each facilitator's capabilities.
// It fails only when every fetch fails; a partially reachable set is
// usable.
func (s *ResourceServer) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.facilitators) == 0 {
		return nil
	}
	var lastErr error
	reachable := 0
	for i := range s.facilitators {
		supported, err := s.facilitators[i].client.GetSupported(ctx)
		if err != nil {
			lastErr = err
			continue
		}
		s.facilitators[i].supported = supported
		s.facilitators[i].fetched = true
		reachable++
	}
	if reachable == 0 {
		return WrapError(ErrFacilitatorUnreachable, lastErr)
	}
	return nil
}

// lookupFacilitator finds the first registered facilitator whose
// cached capabilities cover (scheme, network), along with the matching
// kind. Wildcard kinds match by family.
func (s *ResourceServer) lookupFacilitator(scheme string, network Network) (FacilitatorClient, SupportedKind, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Exact kinds across all facilitators first, then wildcards, so a
	// facilitator advertising "eip155:8453" beats one advertising
	// "eip155:*" regardless of registration order.
	for _, entry := range s.facilitators {
		for _, kind := range entry.supported.Kinds {
			if kind.Scheme == scheme && kind.Network == network {
				return entry.client, kind, true
			}
		}
	}
	for _, entry := range s.facilitators {
		for _, kind := range entry.supported.Kinds {
			if kind.Scheme == scheme && kind.Network.IsWildcard() && network.Matches(kind.Network) {
				return entry.client, kind, true
			}
		}
	}
	return nil, SupportedKind{}, false
}

// BuildRequirements expands one payment option into a complete
// requirement entry: scheme resolution, price parsing, defaulting, and
// scheme-side enhancement from the facilitator's advertised kind.
func (s *ResourceServer) BuildRequirements(ctx context.Context, cfg PaymentConfig) (PaymentRequirements, error) {
	scheme := cfg.Scheme
	if scheme == "" {
		scheme = DefaultScheme
	}
	if !cfg.Network.Valid() {
		return PaymentRequirements{}, NewError(ErrInvalidNetwork, "malformed network %q", cfg.Network)
	}
	if cfg.PayTo == "" {
		return PaymentRequirements{}, NewError(ErrInvalidPayload, "payment option for %s has no payTo", cfg.Network)
	}

	handler, ok := s.schemes.Resolve(scheme, cfg.Network)
	if !ok {
		return PaymentRequirements{}, NewError(ErrUnsupportedScheme, "no scheme server for %s on %s", scheme, cfg.Network)
	}

	kind := SupportedKind{Scheme: scheme, Network: cfg.Network}
	s.mu.RLock()
	capabilitiesKnown := false
	for _, entry := range s.facilitators {
		if entry.fetched {
			capabilitiesKnown = true
			break
		}
	}
	s.mu.RUnlock()
	if capabilitiesKnown {
		_, found, ok := s.lookupFacilitator(scheme, cfg.Network)
		if !ok {
			return PaymentRequirements{}, NewError(ErrInvalidNetwork, "no facilitator supports %s on %s", scheme, cfg.Network)
		}
		kind = found
	}

	amount, err := handler.ParsePrice(cfg.Price, cfg.Network)
	if err != nil {
		return PaymentRequirements{}, err
	}
	if !ValidUnits(amount.Amount) {
		return PaymentRequirements{}, NewError(ErrInvalidPayload, "scheme produced malformed amount %q", amount.Amount)
	}

	maxTimeout := cfg.MaxTimeoutSeconds
	if maxTimeout <= 0 {
		maxTimeout = DefaultMaxTimeoutSeconds
	}

	req := PaymentRequirements{
		Scheme:            scheme,
		Network:           cfg.Network,
		Asset:             amount.Asset,
		Amount:            amount.Amount,
		PayTo:             cfg.PayTo,
		MaxTimeoutSeconds: maxTimeout,
	}
	if len(cfg.Extra) > 0 {
		req.Extra = make(map[string]any, len(cfg.Extra))
		for k, v := range cfg.Extra {
			req.Extra[k] = v
		}
	}
	for k, v := range amount.Extra {
		if req.Extra == nil {
			req.Extra = make(map[string]any)
		}
		if _, exists := req.Extra[k]; !exists {
			req.Extra[k] = v
		}
	}

	s.mu.RLock()
	for _, key := range cfg.Extensions {
		ext, ok := s.extensions[key]
		if !ok {
			continue
		}
		if req.Extensions == nil {
			req.Extensions = make(map[string]ExtensionDecl)
		}
		req.Extensions[key] = ext.Declare()
	}
	s.mu.RUnlock()

	return handler.EnhanceRequirements(ctx, req, kind)
}

// BuildPaymentRequired expands every payment option into a 402
// challenge body. Options that fail to build are skipped; an error is
// returned only when none survive.
func (s *ResourceServer) BuildPaymentRequired(ctx context.Context, configs []PaymentConfig, resource *ResourceInfo) (PaymentRequired, error) {
	accepts := make([]PaymentRequirements, 0, len(configs))
	var lastErr error
	for _, cfg := range configs {
		req, err := s.BuildRequirements(ctx, cfg)
		if err != nil {
			lastErr = err
			continue
		}
		accepts = append(accepts, req)
	}
	if len(accepts) == 0 {
		if lastErr == nil {
			lastErr = NewError(ErrInternal, "no payment options configured")
		}
		return PaymentRequired{}, lastErr
	}
	return PaymentRequired{
		X402Version: ProtocolVersion,
		Accepts:     accepts,
		Resource:    resource,
	}, nil
}

// MatchRequirements finds the offered entry a payload claims to
// satisfy. The match keys on (scheme, network, asset, payTo) and then
// demands structural equality with the payload's Accepted echo, so an
// altered amount fails the match before any facilitator call.
func (s *ResourceServer) MatchRequirements(accepts []PaymentRequirements, payload PaymentPayload) (PaymentRequirements, error) {
	acc := payload.Accepted
	for _, req := range accepts {
		if req.Scheme != acc.Scheme || req.Network != acc.Network {
			continue
		}
		if req.Asset != acc.Asset || req.PayTo != acc.PayTo {
			continue
		}
		if req.Equal(acc) {
			return req, nil
		}
	}
	return PaymentRequirements{}, NewError(ErrNoMatchingRequirement, "payment does not match any offered requirement")
}

// ValidateExtensions runs registered per-extension validation for every
// key the matched requirement declares.
func (s *ResourceServer) ValidateExtensions(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) error {
	if len(requirements.Extensions) == 0 {
		return nil
	}
	s.mu.RLock()
	registered := make(map[string]ServerExtension, len(s.extensions))
	for k, v := range s.extensions {
		registered[k] = v
	}
	s.mu.RUnlock()

	for key, decl := range requirements.Extensions {
		ext, ok := registered[key]
		if !ok {
			continue
		}
		if err := ext.Validate(ctx, payload.Extensions[key], decl); err != nil {
			if Reason(err) == ErrInternal {
				return WrapError(ErrInvalidPayload, err)
			}
			return err
		}
	}
	return nil
}

// VerifyPayment checks a submitted payment through the facilitator
// covering its kind. Transport failures map to
// facilitator_unreachable.
func (s *ResourceServer) VerifyPayment(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (VerifyResponse, error) {
	if payload.X402Version != ProtocolVersion {
		return VerifyResponse{IsValid: false, InvalidReason: ErrUnsupportedVersion}, nil
	}

	fc, err := s.facilitatorFor(requirements)
	if err != nil {
		return VerifyResponse{IsValid: false, InvalidReason: Reason(err)}, err
	}

	hc := HookContext{Payload: payload, Requirements: requirements}
	if err := s.hooks.runBeforeVerify(ctx, hc); err != nil {
		return VerifyResponse{IsValid: false, InvalidReason: Reason(err)}, err
	}

	vctx, cancel := context.WithTimeout(ctx, s.verifyTimeout)
	defer cancel()
	result, err := fc.Verify(vctx, payload, requirements)
	if err != nil {
		err = facilitatorCallError(err, ErrFacilitatorUnreachable)
		if recovered, hookErr := s.hooks.runVerifyFailure(ctx, hc, err); hookErr != nil {
			return VerifyResponse{IsValid: false, InvalidReason: Reason(hookErr)}, hookErr
		} else if recovered != nil {
			result = *recovered
		} else {
			return VerifyResponse{IsValid: false, InvalidReason: Reason(err)}, err
		}
	}

	if err := s.hooks.runAfterVerify(ctx, hc, result); err != nil {
		return VerifyResponse{IsValid: false, InvalidReason: Reason(err)}, err
	}
	return result, nil
}

// SettlePayment executes a verified payment. The requirement's
// maxTimeoutSeconds caps the wall time when tighter than the server's
// settle timeout; exceeding it maps to settlement_timeout.
func (s *ResourceServer) SettlePayment(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (SettleResponse, error) {
	fc, err := s.facilitatorFor(requirements)
	if err != nil {
		return SettleResponse{Success: false, ErrorReason: Reason(err), Network: requirements.Network}, err
	}

	hc := HookContext{Payload: payload, Requirements: requirements}
	if err := s.hooks.runBeforeSettle(ctx, hc); err != nil {
		return SettleResponse{Success: false, ErrorReason: Reason(err), Network: requirements.Network}, err
	}

	timeout := s.settleTimeout
	if requirements.MaxTimeoutSeconds > 0 {
		if d := time.Duration(requirements.MaxTimeoutSeconds) * time.Second; d < timeout {
			timeout = d
		}
	}
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := fc.Settle(sctx, payload, requirements)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = WrapError(ErrSettlementTimeout, err)
		} else {
			err = facilitatorCallError(err, ErrSettlementFailed)
		}
		if recovered, hookErr := s.hooks.runSettleFailure(ctx, hc, err); hookErr != nil {
			return SettleResponse{Success: false, ErrorReason: Reason(hookErr), Network: requirements.Network}, hookErr
		} else if recovered != nil {
			result = *recovered
		} else {
			return SettleResponse{Success: false, ErrorReason: Reason(err), Network: requirements.Network}, err
		}
	}

	if err := s.hooks.runAfterSettle(ctx, hc, result); err != nil {
		return SettleResponse{Success: false, ErrorReason: Reason(err), Network: requirements.Network}, err
	}
	return result, nil
}

// facilitatorFor resolves the facilitator covering a requirement's
// kind, falling back to the sole registered facilitator when its
// capabilities were never fetched.
func (s *ResourceServer) facilitatorFor(requirements PaymentRequirements) (FacilitatorClient, error) {
	if fc, _, ok := s.lookupFacilitator(requirements.Scheme, requirements.Network); ok {
		return fc, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.facilitators) == 0 {
		return nil, NewError(ErrFacilitatorUnreachable, "no facilitator configured")
	}
	// Capabilities not cached yet (Initialize skipped or failed): let
	// the first facilitator decide.
	if !s.facilitators[0].fetched {
		return s.facilitators[0].client, nil
	}
	return nil, NewError(ErrInvalidNetwork, "no facilitator supports %s on %s", requirements.Scheme, requirements.Network)
}

// facilitatorCallError keeps protocol codes from the callee and tags
// everything else with fallback.
func facilitatorCallError(err error, fallback string) error {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return err
	}
	return WrapError(fallback, err)
}
