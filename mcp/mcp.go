// Package mcp carries x402 payments over the Model Context Protocol.
// Payments ride in the _meta field of tool calls: the client attaches
// an encoded payment under "x402/payment", and a settled call returns
// its receipt under "x402/payment-response". A tool that needs payment
// answers with an error result whose structured content is the
// challenge document, the same shape an HTTP 402 body carries.
package mcp

import (
	"context"
	"encoding/json"

	x402 "github.com/x402labs/x402-go"
	x402http "github.com/x402labs/x402-go/http"
)

const (
	// PaymentMetaKey holds the encoded payment on tool call params.
	PaymentMetaKey = "x402/payment"

	// ReceiptMetaKey holds the encoded settlement on tool results.
	ReceiptMetaKey = "x402/payment-response"
)

// ToolContext describes the call a handler is serving.
type ToolContext struct {
	ToolName  string
	Arguments map[string]any
	Meta      map[string]any
}

// ContentItem is one entry of a tool result's content list.
type ContentItem struct {
	Type string
	Text string
}

// ToolResult is the transport-neutral shape of a tool call result.
type ToolResult struct {
	Content           []ContentItem
	StructuredContent map[string]any
	IsError           bool
	Meta              map[string]any
}

// ToolHandler executes one tool call.
type ToolHandler func(ctx context.Context, call ToolContext) (ToolResult, error)

// TextResult builds a plain single-text result.
func TextResult(text string) ToolResult {
	return ToolResult{Content: []ContentItem{{Type: "text", Text: text}}}
}

// ToolResourceURL is the canonical resource URL for a tool.
func ToolResourceURL(toolName string) string {
	return "mcp://tool/" + toolName
}

// ChallengeFromResult recovers a payment challenge from an error
// result. It prefers structured content and falls back to parsing the
// first text item. A nil return means the result is not a challenge.
func ChallengeFromResult(result ToolResult) *x402.PaymentRequired {
	if !result.IsError {
		return nil
	}
	if pr := challengeFromObject(result.StructuredContent); pr != nil {
		return pr
	}
	for _, item := range result.Content {
		if item.Type != "text" || item.Text == "" {
			continue
		}
		var obj map[string]any
		if json.Unmarshal([]byte(item.Text), &obj) != nil {
			continue
		}
		if pr := challengeFromObject(obj); pr != nil {
			return pr
		}
	}
	return nil
}

func challengeFromObject(obj map[string]any) *x402.PaymentRequired {
	if obj == nil {
		return nil
	}
	if _, ok := obj["x402Version"]; !ok {
		return nil
	}
	if _, ok := obj["accepts"]; !ok {
		return nil
	}
	raw, err := json.Marshal(obj)
	if err != nil {
		return nil
	}
	var pr x402.PaymentRequired
	if err := json.Unmarshal(raw, &pr); err != nil {
		return nil
	}
	if len(pr.Accepts) == 0 {
		return nil
	}
	return &pr
}

// PaymentFromMeta decodes the payment attached to a call's _meta.
// A missing key returns ok=false with no error.
func PaymentFromMeta(meta map[string]any) (x402.PaymentPayload, bool, error) {
	raw, present := meta[PaymentMetaKey]
	if !present {
		return x402.PaymentPayload{}, false, nil
	}
	header, ok := raw.(string)
	if !ok {
		return x402.PaymentPayload{}, true, x402.NewError(x402.ErrInvalidPayload, "payment meta is %T, want an encoded string", raw)
	}
	payload, err := x402http.DecodePaymentHeader(header)
	if err != nil {
		return x402.PaymentPayload{}, true, err
	}
	return payload, true, nil
}

// AttachPayment returns a _meta map carrying the encoded payment.
func AttachPayment(meta map[string]any, payload x402.PaymentPayload) (map[string]any, error) {
	header, err := x402http.EncodePaymentHeader(payload)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(meta)+1)
	for k, v := range meta {
		out[k] = v
	}
	out[PaymentMetaKey] = header
	return out, nil
}

// SettlementFromResult decodes a receipt from a result's _meta.
// A result without a receipt returns ok=false with no error.
func SettlementFromResult(result ToolResult) (x402.SettleResponse, bool, error) {
	raw, present := result.Meta[ReceiptMetaKey]
	if !present {
		return x402.SettleResponse{}, false, nil
	}
	header, ok := raw.(string)
	if !ok {
		return x402.SettleResponse{}, true, x402.NewError(x402.ErrInvalidPayload, "receipt meta is %T, want an encoded string", raw)
	}
	settlement, err := x402http.DecodeSettlementHeader(header)
	if err != nil {
		return x402.SettleResponse{}, true, err
	}
	return settlement, true, nil
}
