package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	x402 "github.com/x402labs/x402-go"
)

// DefaultFacilitatorTimeout bounds each facilitator HTTP call.
const DefaultFacilitatorTimeout = 30 * time.Second

const supportedRetries = 3

// AuthProvider supplies authentication headers per facilitator
// endpoint ("verify", "settle", or "supported").
type AuthProvider interface {
	AuthHeaders(ctx context.Context, endpoint string) (map[string]string, error)
}

// FacilitatorConfig configures a remote facilitator connection.
type FacilitatorConfig struct {
	// BaseURL is the facilitator root, e.g. "https://facilitator.example.com".
	BaseURL string

	// HTTPClient overrides the default client.
	HTTPClient *http.Client

	// Auth, when set, decorates every request.
	Auth AuthProvider

	// Timeout bounds each call; zero means DefaultFacilitatorTimeout.
	Timeout time.Duration
}

// FacilitatorHTTPClient talks to a remote facilitator over its REST
// surface. It satisfies x402.FacilitatorClient.
type FacilitatorHTTPClient struct {
	cfg    FacilitatorConfig
	client *http.Client
}

func NewFacilitatorHTTPClient(cfg FacilitatorConfig) (*FacilitatorHTTPClient, error) {
	if cfg.BaseURL == "" {
		return nil, x402.NewError(x402.ErrInternal, "facilitator base URL is required")
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultFacilitatorTimeout
	}
	return &FacilitatorHTTPClient{cfg: cfg, client: client}, nil
}

func (f *FacilitatorHTTPClient) Verify(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (x402.VerifyResponse, error) {
	var out x402.VerifyResponse
	err := f.post(ctx, "verify", x402.VerifyRequest{
		X402Version:         x402.ProtocolVersion,
		PaymentPayload:      payload,
		PaymentRequirements: requirements,
	}, &out)
	if err != nil {
		return x402.VerifyResponse{IsValid: false, InvalidReason: x402.Reason(err)}, err
	}
	return out, nil
}

func (f *FacilitatorHTTPClient) Settle(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (x402.SettleResponse, error) {
	var out x402.SettleResponse
	err := f.post(ctx, "settle", x402.VerifyRequest{
		X402Version:         x402.ProtocolVersion,
		PaymentPayload:      payload,
		PaymentRequirements: requirements,
	}, &out)
	if err != nil {
		return x402.SettleResponse{Success: false, ErrorReason: x402.Reason(err), Network: requirements.Network}, err
	}
	return out, nil
}

// GetSupported fetches capabilities, retrying rate-limited responses
// with exponential backoff.
func (f *FacilitatorHTTPClient) GetSupported(ctx context.Context) (x402.SupportedResponse, error) {
	var out x402.SupportedResponse
	var lastErr error
	for attempt := 0; attempt < supportedRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * time.Second
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return x402.SupportedResponse{}, x402.WrapError(x402.ErrFacilitatorUnreachable, ctx.Err())
			}
		}
		status, err := f.get(ctx, "supported", &out)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if status != http.StatusTooManyRequests {
			break
		}
	}
	return x402.SupportedResponse{}, lastErr
}

func (f *FacilitatorHTTPClient) post(ctx context.Context, endpoint string, body any, out any) error {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	raw, err := json.Marshal(body)
	if err != nil {
		return x402.WrapError(x402.ErrInternal, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.cfg.BaseURL+"/"+endpoint, bytes.NewReader(raw))
	if err != nil {
		return x402.WrapError(x402.ErrInternal, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if err := f.decorate(ctx, req, endpoint); err != nil {
		return err
	}
	_, err = f.do(req, out)
	return err
}

func (f *FacilitatorHTTPClient) get(ctx context.Context, endpoint string, out any) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.cfg.BaseURL+"/"+endpoint, nil)
	if err != nil {
		return 0, x402.WrapError(x402.ErrInternal, err)
	}
	if err := f.decorate(ctx, req, endpoint); err != nil {
		return 0, err
	}
	return f.do(req, out)
}

func (f *FacilitatorHTTPClient) decorate(ctx context.Context, req *http.Request, endpoint string) error {
	if f.cfg.Auth == nil {
		return nil
	}
	headers, err := f.cfg.Auth.AuthHeaders(ctx, endpoint)
	if err != nil {
		return x402.WrapError(x402.ErrFacilitatorUnreachable, err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return nil
}

// do executes the request. Any non-2xx status is
// facilitator_unreachable; protocol-level failures come back inside
// 2xx bodies.
func (f *FacilitatorHTTPClient) do(req *http.Request, out any) (int, error) {
	resp, err := f.client.Do(req)
	if err != nil {
		return 0, x402.WrapError(x402.ErrFacilitatorUnreachable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxChallengeBytes))
	if err != nil {
		return resp.StatusCode, x402.WrapError(x402.ErrFacilitatorUnreachable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, x402.NewError(x402.ErrFacilitatorUnreachable,
			"facilitator returned %d: %s", resp.StatusCode, truncate(raw, 200))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return resp.StatusCode, x402.WrapError(x402.ErrFacilitatorUnreachable, err)
	}
	return resp.StatusCode, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return fmt.Sprintf("%s...", b[:n])
}
