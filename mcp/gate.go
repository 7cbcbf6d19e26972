package mcp

import (
	"context"
	"encoding/json"
	"log/slog"

	x402 "github.com/x402labs/x402-go"
	x402http "github.com/x402labs/x402-go/http"
)

// GateConfig prices one gated tool.
type GateConfig struct {
	// Accepts lists the payment options offered on the challenge.
	Accepts []x402.PaymentConfig

	// Resource overrides the default mcp://tool/<name> resource info.
	Resource *x402.ResourceInfo
}

// Gate wraps tool handlers with the payment flow: challenge callers
// that carry no payment, verify before the handler runs, and settle
// only after the handler returns a non-error result.
type Gate struct {
	server *x402.ResourceServer
	logger *slog.Logger
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithGateLogger sets the logger used at the tool boundary.
func WithGateLogger(logger *slog.Logger) GateOption {
	return func(g *Gate) { g.logger = logger }
}

// NewGate builds a Gate on top of a resource server.
func NewGate(server *x402.ResourceServer, opts ...GateOption) *Gate {
	g := &Gate{server: server, logger: slog.Default()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Wrap gates a tool handler. The wrapped handler never returns a Go
// error for payment problems; those travel as challenge results so
// the caller can pay and retry.
func (g *Gate) Wrap(cfg GateConfig, handler ToolHandler) ToolHandler {
	return func(ctx context.Context, call ToolContext) (ToolResult, error) {
		resource := cfg.Resource
		if resource == nil {
			resource = &x402.ResourceInfo{URL: ToolResourceURL(call.ToolName)}
		}
		required, err := g.server.BuildPaymentRequired(ctx, cfg.Accepts, resource)
		if err != nil {
			return ToolResult{}, err
		}

		payload, present, err := PaymentFromMeta(call.Meta)
		if !present {
			return challengeResult(required, "")
		}
		if err != nil {
			return challengeResult(required, x402.Reason(err))
		}

		matched, err := g.server.MatchRequirements(required.Accepts, payload)
		if err != nil {
			return challengeResult(required, x402.Reason(err))
		}

		verify, err := g.server.VerifyPayment(ctx, payload, matched)
		if err != nil {
			g.logger.Warn("tool payment verification failed",
				"tool", call.ToolName, "error", err)
			return challengeResult(required, x402.Reason(err))
		}
		if !verify.IsValid {
			return challengeResult(required, verify.InvalidReason)
		}

		// Extension validation sits between verify and settle; a
		// payload that fails verification never reaches the extension
		// hooks.
		if err := g.server.ValidateExtensions(ctx, payload, matched); err != nil {
			return challengeResult(required, x402.Reason(err))
		}

		result, err := handler(ctx, call)
		if err != nil || result.IsError {
			// The caller is not billed for a failed execution.
			return result, err
		}

		settlement, err := g.server.SettlePayment(ctx, payload, matched)
		if err != nil || !settlement.Success {
			reason := x402.Reason(err)
			if err == nil {
				reason = settlement.ErrorReason
			}
			g.logger.Error("tool settlement failed",
				"tool", call.ToolName, "reason", reason, "error", err)
			return settleFailedResult(required, settlement, reason)
		}

		receipt, err := x402http.EncodeSettlementHeader(settlement)
		if err != nil {
			return ToolResult{}, err
		}
		if result.Meta == nil {
			result.Meta = make(map[string]any, 1)
		}
		result.Meta[ReceiptMetaKey] = receipt
		return result, nil
	}
}

// challengeResult renders a payment challenge as an error tool result,
// in structured content and as JSON text for clients that read only
// the content list.
func challengeResult(required x402.PaymentRequired, reason string) (ToolResult, error) {
	required.Error = reason
	raw, err := json.Marshal(required)
	if err != nil {
		return ToolResult{}, x402.WrapError(x402.ErrInternal, err)
	}
	var structured map[string]any
	if err := json.Unmarshal(raw, &structured); err != nil {
		return ToolResult{}, x402.WrapError(x402.ErrInternal, err)
	}
	return ToolResult{
		IsError:           true,
		StructuredContent: structured,
		Content:           []ContentItem{{Type: "text", Text: string(raw)}},
	}, nil
}

// settleFailedResult re-challenges after a failed settlement. The
// failed receipt still travels in the result meta so the caller can
// see what the facilitator reported.
func settleFailedResult(required x402.PaymentRequired, settlement x402.SettleResponse, reason string) (ToolResult, error) {
	if reason == "" {
		reason = x402.ErrSettlementFailed
	}
	if settlement.ErrorReason == "" {
		settlement.ErrorReason = reason
	}
	result, err := challengeResult(required, reason)
	if err != nil {
		return result, err
	}
	receipt, err := x402http.EncodeSettlementHeader(settlement)
	if err != nil {
		return ToolResult{}, x402.WrapError(x402.ErrInternal, err)
	}
	result.Meta = map[string]any{ReceiptMetaKey: receipt}
	return result, nil
}
