package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	x402 "github.com/x402labs/x402-go"
)

// Request is the transport-agnostic view of an incoming HTTP request.
// Adapters for net/http, gin, and echo all reduce to it.
type Request struct {
	Method        string
	Path          string
	URL           string
	PaymentHeader string
	Accept        string
	UserAgent     string

	// DuplicatePayment reports that the request carried more than one
	// X-PAYMENT value. The header is single-valued on the wire;
	// duplicates are rejected rather than silently taking the first.
	DuplicatePayment bool
}

// ResultKind says what the adapter should do with a gate decision.
type ResultKind int

const (
	// ResultPassthrough: the route is not payment gated.
	ResultPassthrough ResultKind = iota
	// ResultRespond: write the prepared response and stop.
	ResultRespond
	// ResultProceed: run the downstream handler, then settle.
	ResultProceed
)

// Response is a prepared HTTP response for ResultRespond decisions.
type Response struct {
	Status      int
	ContentType string
	Body        []byte
}

// Result is the outcome of gating one request.
type Result struct {
	Kind     ResultKind
	Response Response

	// Set for ResultProceed: the verified payment and the requirement
	// it satisfies, which settlement needs verbatim.
	Payload      x402.PaymentPayload
	Requirements x402.PaymentRequirements

	// Accepts carries the route's challenge entries so settlement
	// failures can re-challenge with the same alternatives.
	Accepts  []x402.PaymentRequirements
	Resource *x402.ResourceInfo
}

// Service gates requests for a resource server over a route table.
type Service struct {
	server *x402.ResourceServer
	routes *RouteTable

	paywall      *PaywallConfig
	unpaidBody   UnpaidBodyFunc
	logger       *slog.Logger
}

// UnpaidBodyFunc customizes the JSON 402 body. It receives the default
// challenge and returns the document to serialize.
type UnpaidBodyFunc func(required x402.PaymentRequired) any

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithPaywall serves an HTML paywall to browser requests instead of
// the JSON challenge.
func WithPaywall(cfg PaywallConfig) ServiceOption {
	return func(s *Service) { s.paywall = &cfg }
}

// WithUnpaidBody customizes the JSON 402 body.
func WithUnpaidBody(fn UnpaidBodyFunc) ServiceOption {
	return func(s *Service) { s.unpaidBody = fn }
}

// WithLogger sets the structured logger. The default discards nothing
// and writes to slog's default handler.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = logger }
}

// NewService compiles the route table and wraps the resource server.
func NewService(server *x402.ResourceServer, routes map[string]RouteConfig, opts ...ServiceOption) (*Service, error) {
	table, err := NewRouteTable(routes)
	if err != nil {
		return nil, err
	}
	s := &Service{server: server, routes: table, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Server exposes the underlying resource server, e.g. for hook
// registration after construction.
func (s *Service) Server() *x402.ResourceServer { return s.server }

// Evaluate gates one request: route match, challenge synthesis for
// unpaid requests, and decode/match/verify for paid ones. It never
// settles; settlement belongs after the downstream handler succeeds.
func (s *Service) Evaluate(ctx context.Context, req Request) Result {
	route, pattern, ok := s.routes.Match(req.Method, req.Path)
	if !ok {
		return Result{Kind: ResultPassthrough}
	}

	configs, resource, err := s.resolveRoute(ctx, route, req)
	if err != nil {
		s.logger.Error("route resolution failed", "pattern", pattern, "error", err)
		return s.errorResult(http.StatusInternalServerError, x402.Reason(err))
	}

	required, err := s.server.BuildPaymentRequired(ctx, configs, resource)
	if err != nil {
		s.logger.Error("challenge synthesis failed", "pattern", pattern, "error", err)
		return s.errorResult(http.StatusInternalServerError, x402.Reason(err))
	}

	if req.DuplicatePayment {
		return s.challengeResult(req, required, x402.ErrInvalidPayload)
	}
	if req.PaymentHeader == "" {
		return s.challengeResult(req, required, "")
	}

	payload, err := DecodePaymentHeader(req.PaymentHeader)
	if err != nil {
		s.logger.Debug("payment header rejected", "pattern", pattern, "error", err)
		return s.challengeResult(req, required, x402.Reason(err))
	}

	matched, err := s.server.MatchRequirements(required.Accepts, payload)
	if err != nil {
		return s.challengeResult(req, required, x402.Reason(err))
	}

	verify, err := s.server.VerifyPayment(ctx, payload, matched)
	if err != nil {
		s.logger.Warn("verification errored", "pattern", pattern, "error", err)
		return s.challengeResult(req, required, x402.Reason(err))
	}
	if !verify.IsValid {
		reason := verify.InvalidReason
		if reason == "" {
			reason = x402.ErrInvalidSignature
		}
		return s.challengeResult(req, required, reason)
	}

	// Extension validation sits between verify and settle; a payload
	// that fails verification never reaches the extension hooks.
	if err := s.server.ValidateExtensions(ctx, payload, matched); err != nil {
		return s.challengeResult(req, required, x402.Reason(err))
	}

	return Result{
		Kind:         ResultProceed,
		Payload:      payload,
		Requirements: matched,
		Accepts:      required.Accepts,
		Resource:     required.Resource,
	}
}

// Settle executes the payment for a request whose downstream handler
// succeeded and returns the receipt header value. The header encodes
// the SettleResponse even when settlement fails, so the 402
// re-challenge still carries the failed receipt.
func (s *Service) Settle(ctx context.Context, result Result) (string, x402.SettleResponse, error) {
	settlement, err := s.server.SettlePayment(ctx, result.Payload, result.Requirements)
	if err == nil && !settlement.Success {
		reason := settlement.ErrorReason
		if reason == "" {
			reason = x402.ErrSettlementFailed
			settlement.ErrorReason = reason
		}
		err = x402.NewError(reason, "settlement failed")
	}
	header, encErr := EncodeSettlementHeader(settlement)
	if encErr != nil {
		if err == nil {
			err = encErr
		}
		return "", settlement, err
	}
	return header, settlement, err
}

// SettleFailedResponse builds the 402 re-challenge written when
// settlement fails after a successful downstream handler.
func (s *Service) SettleFailedResponse(result Result, reason string) Response {
	required := x402.PaymentRequired{
		X402Version: x402.ProtocolVersion,
		Accepts:     result.Accepts,
		Error:       reason,
		Resource:    result.Resource,
	}
	return s.jsonChallenge(required)
}

// resolveRoute applies dynamic price and payTo overrides and fills in
// resource defaults.
func (s *Service) resolveRoute(ctx context.Context, route RouteConfig, req Request) ([]x402.PaymentConfig, *x402.ResourceInfo, error) {
	configs := append([]x402.PaymentConfig(nil), route.Accepts...)

	if route.DynamicPrice != nil {
		price, err := route.DynamicPrice(ctx, req)
		if err != nil {
			return nil, nil, x402.WrapError(x402.ErrInternal, err)
		}
		for i := range configs {
			configs[i].Price = price
		}
	}
	if route.DynamicPayTo != nil {
		payTo, err := route.DynamicPayTo(ctx, req)
		if err != nil {
			return nil, nil, x402.WrapError(x402.ErrInternal, err)
		}
		for i := range configs {
			configs[i].PayTo = payTo
		}
	}

	resource := route.Resource
	if resource == nil {
		resource = &x402.ResourceInfo{URL: req.URL}
	} else if resource.URL == "" {
		cp := *resource
		cp.URL = req.URL
		resource = &cp
	}
	return configs, resource, nil
}

// challengeResult builds the 402 response, choosing the paywall for
// browser requests without a payment header.
func (s *Service) challengeResult(req Request, required x402.PaymentRequired, reason string) Result {
	required.Error = reason
	if s.paywall != nil && req.PaymentHeader == "" && isWebBrowser(req.Accept, req.UserAgent) {
		body, err := s.paywall.Render(required)
		if err == nil {
			return Result{Kind: ResultRespond, Response: Response{
				Status:      http.StatusPaymentRequired,
				ContentType: "text/html; charset=utf-8",
				Body:        body,
			}}
		}
		s.logger.Error("paywall render failed", "error", err)
	}
	return Result{Kind: ResultRespond, Response: s.jsonChallenge(required)}
}

func (s *Service) jsonChallenge(required x402.PaymentRequired) Response {
	var doc any = required
	if s.unpaidBody != nil {
		doc = s.unpaidBody(required)
	}
	body, err := json.Marshal(doc)
	if err != nil {
		s.logger.Error("challenge marshal failed", "error", err)
		return Response{
			Status:      http.StatusInternalServerError,
			ContentType: "application/json",
			Body:        []byte(`{"error":"internal_error"}`),
		}
	}
	return Response{
		Status:      http.StatusPaymentRequired,
		ContentType: "application/json",
		Body:        body,
	}
}

func (s *Service) errorResult(status int, reason string) Result {
	if reason == "" {
		reason = x402.ErrInternal
	}
	return Result{Kind: ResultRespond, Response: Response{
		Status:      status,
		ContentType: "application/json",
		Body:        []byte(`{"error":"` + reason + `"}`),
	}}
}

// isWebBrowser uses the Accept and User-Agent headers to distinguish a
// person behind a browser from a programmatic client.
func isWebBrowser(accept, userAgent string) bool {
	return strings.Contains(accept, "text/html") && strings.Contains(userAgent, "Mozilla")
}
