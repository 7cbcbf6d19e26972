package mcp

import (
	"context"
	"log/slog"

	x402 "github.com/x402labs/x402-go"
)

// ToolCaller is the slice of an MCP session the paying caller needs.
// Adapt a concrete SDK session with NewSession.
type ToolCaller interface {
	CallTool(ctx context.Context, name string, args map[string]any, meta map[string]any) (ToolResult, error)
}

// ApprovalFunc decides whether to pay a challenge. Returning false
// hands the unpaid challenge back to the caller.
type ApprovalFunc func(ctx context.Context, toolName string, required x402.PaymentRequired) (bool, error)

// CallResult is a tool call outcome with its payment metadata.
type CallResult struct {
	Content           []ContentItem
	StructuredContent map[string]any
	IsError           bool

	// Paid reports whether this call carried a settled payment.
	Paid       bool
	Settlement *x402.SettleResponse
}

// Caller invokes tools and pays challenges automatically. A challenge
// is paid at most once per call; if the retried call is challenged
// again, that challenge is returned rather than paid a second time.
type Caller struct {
	session ToolCaller
	client  *x402.Client
	approve ApprovalFunc
	logger  *slog.Logger
}

// CallerOption configures a Caller.
type CallerOption func(*Caller)

// WithApproval installs a hook consulted before any payment is made.
func WithApproval(fn ApprovalFunc) CallerOption {
	return func(c *Caller) { c.approve = fn }
}

// WithCallerLogger sets the logger for payment decisions.
func WithCallerLogger(logger *slog.Logger) CallerOption {
	return func(c *Caller) { c.logger = logger }
}

// NewCaller wraps an MCP session with payment handling.
func NewCaller(session ToolCaller, client *x402.Client, opts ...CallerOption) *Caller {
	c := &Caller{session: session, client: client, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Client returns the payment client, for hook and policy registration.
func (c *Caller) Client() *x402.Client { return c.client }

// CallTool calls a tool, paying its challenge if one comes back.
func (c *Caller) CallTool(ctx context.Context, name string, args map[string]any) (*CallResult, error) {
	result, err := c.session.CallTool(ctx, name, args, nil)
	if err != nil {
		return nil, err
	}

	required := ChallengeFromResult(result)
	if required == nil {
		return finishCall(result)
	}

	if c.approve != nil {
		ok, err := c.approve(ctx, name, *required)
		if err != nil {
			return nil, x402.WrapError(x402.ErrPaymentHookError, err)
		}
		if !ok {
			c.logger.Info("payment declined", "tool", name)
			return finishCall(result)
		}
	}

	payload, err := c.client.CreatePaymentPayload(ctx, *required)
	if err != nil {
		return nil, err
	}
	meta, err := AttachPayment(nil, payload)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("retrying tool call with payment",
		"tool", name,
		"scheme", payload.Accepted.Scheme,
		"network", payload.Accepted.Network)

	// If the retried call is challenged again the challenge comes
	// back unpaid; one payment per CallTool.
	paid, err := c.session.CallTool(ctx, name, args, meta)
	if err != nil {
		return nil, err
	}
	return finishCall(paid)
}

func finishCall(result ToolResult) (*CallResult, error) {
	out := &CallResult{
		Content:           result.Content,
		StructuredContent: result.StructuredContent,
		IsError:           result.IsError,
	}
	settlement, ok, err := SettlementFromResult(result)
	if err != nil {
		return nil, err
	}
	if ok {
		out.Paid = settlement.Success
		out.Settlement = &settlement
	}
	return out, nil
}
