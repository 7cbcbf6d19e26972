// Package http binds the x402 payment flow to HTTP: header codecs, a
// route table, a transport-agnostic gate service, net/http middleware,
// a paying client transport, and facilitator client and server.
package http

import (
	"encoding/base64"
	"encoding/json"

	x402 "github.com/x402labs/x402-go"
)

// Payment headers are base64-encoded JSON. The wrappers below are the
// only place encoding happens, so the header stays opaque everywhere
// else.

// EncodePaymentHeader encodes a payload for the X-PAYMENT header.
func EncodePaymentHeader(payload x402.PaymentPayload) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", x402.WrapError(x402.ErrInvalidPayload, err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodePaymentHeader decodes an X-PAYMENT header value. Malformed
// base64, malformed JSON, and structurally invalid payloads all map to
// invalid_payload.
func DecodePaymentHeader(header string) (x402.PaymentPayload, error) {
	raw, err := decodeBase64JSON(header)
	if err != nil {
		return x402.PaymentPayload{}, err
	}
	if err := validatePayloadShape(raw); err != nil {
		return x402.PaymentPayload{}, err
	}
	var payload x402.PaymentPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return x402.PaymentPayload{}, x402.WrapError(x402.ErrInvalidPayload, err)
	}
	return payload, nil
}

// EncodeSettlementHeader encodes a settlement receipt for the
// X-PAYMENT-RESPONSE header.
func EncodeSettlementHeader(settlement x402.SettleResponse) (string, error) {
	raw, err := json.Marshal(settlement)
	if err != nil {
		return "", x402.WrapError(x402.ErrInternal, err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodeSettlementHeader decodes an X-PAYMENT-RESPONSE header value.
func DecodeSettlementHeader(header string) (x402.SettleResponse, error) {
	raw, err := decodeBase64JSON(header)
	if err != nil {
		return x402.SettleResponse{}, err
	}
	var settlement x402.SettleResponse
	if err := json.Unmarshal(raw, &settlement); err != nil {
		return x402.SettleResponse{}, x402.WrapError(x402.ErrInvalidPayload, err)
	}
	return settlement, nil
}
