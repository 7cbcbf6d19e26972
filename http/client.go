package http

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	x402 "github.com/x402labs/x402-go"
)

// maxChallengeBytes caps how much of a 402 body the transport reads.
const maxChallengeBytes = 1 << 20

// Transport is an http.RoundTripper that answers 402 challenges with a
// signed payment and retries the request exactly once. Any response to
// the retried request, 402 included, is returned to the caller as is.
type Transport struct {
	// Base performs the actual requests. nil means
	// http.DefaultTransport.
	Base http.RoundTripper

	// Client creates payment payloads for challenges.
	Client *x402.Client
}

// NewHTTPClient wraps client into an *http.Client that pays 402
// challenges transparently.
func NewHTTPClient(client *x402.Client) *http.Client {
	return &http.Client{Transport: &Transport{Client: client}}
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base().RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusPaymentRequired {
		return resp, nil
	}
	if req.Header.Get(x402.PaymentHeader) != "" {
		// Already paid once; do not loop.
		return resp, nil
	}

	required, restore, err := readChallenge(resp)
	if err != nil {
		// Not an x402 challenge body; hand the 402 back untouched.
		return restore, nil
	}

	payload, err := t.Client.CreatePaymentPayload(req.Context(), required)
	if err != nil {
		// Unpayable challenge: the original 402 is the caller's answer.
		return restore, nil
	}
	header, err := EncodePaymentHeader(payload)
	if err != nil {
		return restore, nil
	}

	retry, err := cloneRequest(req)
	if err != nil {
		return restore, nil
	}
	retry.Header.Set(x402.PaymentHeader, header)

	_ = restore.Body.Close()
	return t.base().RoundTrip(retry)
}

// readChallenge parses a 402 body into a challenge, returning a
// response whose body is restored for the caller either way.
func readChallenge(resp *http.Response) (x402.PaymentRequired, *http.Response, error) {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxChallengeBytes))
	_ = resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(raw))
	if err != nil {
		return x402.PaymentRequired{}, resp, x402.WrapError(x402.ErrInvalidPayload, err)
	}

	var required x402.PaymentRequired
	if err := json.Unmarshal(raw, &required); err != nil {
		return x402.PaymentRequired{}, resp, x402.WrapError(x402.ErrInvalidPayload, err)
	}
	if len(required.Accepts) == 0 {
		return x402.PaymentRequired{}, resp, x402.NewError(x402.ErrInvalidPayload, "challenge offers nothing")
	}
	return required, resp, nil
}

// cloneRequest rebuilds the request for the paid retry. Bodies need
// GetBody so the bytes can be replayed.
func cloneRequest(req *http.Request) (*http.Request, error) {
	clone := req.Clone(req.Context())
	if req.Body == nil || req.Body == http.NoBody {
		return clone, nil
	}
	if req.GetBody == nil {
		return nil, x402.NewError(x402.ErrInternal, "request body cannot be replayed")
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, x402.WrapError(x402.ErrInternal, err)
	}
	clone.Body = body
	return clone, nil
}

// Settlement extracts the settlement receipt from a paid response, or
// ok false when the response carries none.
func Settlement(resp *http.Response) (x402.SettleResponse, bool, error) {
	header := resp.Header.Get(x402.PaymentResponseHeader)
	if header == "" {
		return x402.SettleResponse{}, false, nil
	}
	settlement, err := DecodeSettlementHeader(header)
	if err != nil {
		return x402.SettleResponse{}, false, err
	}
	return settlement, true, nil
}
