package x402

import (
	"context"
	"errors"
	"testing"
	"time"
)

// localSetup wires a resource server to an in-process facilitator
// sharing one mock scheme.
func localSetup(t *testing.T) (*ResourceServer, *mockScheme) {
	t.Helper()
	scheme := newMockScheme("exact")
	facilitator := testFacilitator(scheme, "eip155:*").RegisterAsset("eip155:*", "exact", "0xA55E7")

	server := NewResourceServer(
		WithFacilitator(facilitator),
		WithSchemeServer("eip155:*", scheme),
	)
	if err := server.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	return server, scheme
}

func TestBuildRequirements(t *testing.T) {
	server, _ := localSetup(t)

	req, err := server.BuildRequirements(context.Background(), PaymentConfig{
		Network: "eip155:8453",
		PayTo:   "0xORG",
		Price:   "$4.02",
	})
	if err != nil {
		t.Fatal(err)
	}
	if req.Scheme != "exact" {
		t.Errorf("scheme = %q, want the default", req.Scheme)
	}
	if req.Amount != "4020000" {
		t.Errorf("amount = %q, want 4020000", req.Amount)
	}
	if req.Asset != "0xA55E7" {
		t.Errorf("asset = %q", req.Asset)
	}
	if req.MaxTimeoutSeconds != DefaultMaxTimeoutSeconds {
		t.Errorf("maxTimeoutSeconds = %d", req.MaxTimeoutSeconds)
	}
}

func TestBuildRequirementsUnsupportedNetwork(t *testing.T) {
	server, _ := localSetup(t)

	_, err := server.BuildRequirements(context.Background(), PaymentConfig{
		Network: "solana:mainnet",
		PayTo:   "org",
		Price:   "$1",
	})
	if !IsCode(err, ErrUnsupportedScheme) {
		t.Errorf("err = %v, want %s", err, ErrUnsupportedScheme)
	}
}

func TestBuildRequirementsFacilitatorGap(t *testing.T) {
	// Scheme server covers solana but the facilitator only advertises
	// eip155 kinds.
	scheme := newMockScheme("exact")
	server := NewResourceServer(
		WithFacilitator(testFacilitator(scheme, "eip155:*")),
		WithSchemeServer("eip155:*", scheme),
		WithSchemeServer("solana:*", scheme),
	)
	if err := server.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}

	_, err := server.BuildRequirements(context.Background(), PaymentConfig{
		Network: "solana:mainnet",
		PayTo:   "org",
		Price:   "$1",
	})
	if !IsCode(err, ErrInvalidNetwork) {
		t.Errorf("err = %v, want %s", err, ErrInvalidNetwork)
	}
}

func TestBuildPaymentRequiredSkipsBrokenOptions(t *testing.T) {
	server, _ := localSetup(t)

	required, err := server.BuildPaymentRequired(context.Background(), []PaymentConfig{
		{Network: "eip155:8453", PayTo: "0xORG", Price: "$0.10"},
		{Network: "bogus", PayTo: "0xORG", Price: "$0.10"},
	}, &ResourceInfo{URL: "https://api.example.com/data"})
	if err != nil {
		t.Fatal(err)
	}
	if len(required.Accepts) != 1 {
		t.Fatalf("accepts = %d entries, want 1", len(required.Accepts))
	}
	if required.X402Version != ProtocolVersion {
		t.Errorf("version = %d", required.X402Version)
	}
	if required.Resource == nil || required.Resource.URL != "https://api.example.com/data" {
		t.Errorf("resource = %+v", required.Resource)
	}
}

func TestMatchRequirements(t *testing.T) {
	server, _ := localSetup(t)
	req := testRequirements()

	matched, err := server.MatchRequirements([]PaymentRequirements{req}, testPayload(req))
	if err != nil {
		t.Fatal(err)
	}
	if !matched.Equal(req) {
		t.Error("matched entry must be the offered one")
	}
}

func TestMatchRequirementsRejectsTamperedAmount(t *testing.T) {
	server, scheme := localSetup(t)
	req := testRequirements()

	payload := testPayload(req)
	payload.Accepted.Amount = "1"

	_, err := server.MatchRequirements([]PaymentRequirements{req}, payload)
	if !IsCode(err, ErrNoMatchingRequirement) {
		t.Errorf("err = %v, want %s", err, ErrNoMatchingRequirement)
	}
	if scheme.verifyCalls != 0 {
		t.Error("a failed match must never reach verification")
	}
}

func TestVerifyThenSettle(t *testing.T) {
	server, scheme := localSetup(t)
	req := testRequirements()
	payload := testPayload(req)

	verify, err := server.VerifyPayment(context.Background(), payload, req)
	if err != nil {
		t.Fatal(err)
	}
	if !verify.IsValid {
		t.Fatalf("verify: %s", verify.InvalidReason)
	}

	settle, err := server.SettlePayment(context.Background(), payload, req)
	if err != nil {
		t.Fatal(err)
	}
	if !settle.Success || settle.Transaction == "" {
		t.Fatalf("settle = %+v", settle)
	}
	if scheme.verifyCalls != 1 || scheme.settleCalls != 1 {
		t.Errorf("calls = %d/%d, want 1/1", scheme.verifyCalls, scheme.settleCalls)
	}
}

func TestVerifyPaymentRejectsVersion(t *testing.T) {
	server, scheme := localSetup(t)
	req := testRequirements()
	payload := testPayload(req)
	payload.X402Version = 3

	resp, err := server.VerifyPayment(context.Background(), payload, req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.IsValid || resp.InvalidReason != ErrUnsupportedVersion {
		t.Errorf("resp = %+v", resp)
	}
	if scheme.verifyCalls != 0 {
		t.Error("facilitator must not be called for a rejected version")
	}
}

type downFacilitator struct{}

func (downFacilitator) Verify(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (VerifyResponse, error) {
	return VerifyResponse{}, errors.New("connection refused")
}
func (downFacilitator) Settle(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (SettleResponse, error) {
	return SettleResponse{}, errors.New("connection refused")
}
func (downFacilitator) GetSupported(ctx context.Context) (SupportedResponse, error) {
	return SupportedResponse{}, errors.New("connection refused")
}

func TestVerifyPaymentFacilitatorDown(t *testing.T) {
	scheme := newMockScheme("exact")
	server := NewResourceServer(
		WithFacilitator(downFacilitator{}),
		WithSchemeServer("eip155:*", scheme),
	)

	req := testRequirements()
	resp, err := server.VerifyPayment(context.Background(), testPayload(req), req)
	if !IsCode(err, ErrFacilitatorUnreachable) {
		t.Errorf("err = %v, want %s", err, ErrFacilitatorUnreachable)
	}
	if resp.IsValid || resp.InvalidReason != ErrFacilitatorUnreachable {
		t.Errorf("resp = %+v", resp)
	}
}

type slowFacilitator struct {
	delay time.Duration
}

func (s slowFacilitator) Verify(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (VerifyResponse, error) {
	return VerifyResponse{IsValid: true}, nil
}
func (s slowFacilitator) Settle(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (SettleResponse, error) {
	select {
	case <-time.After(s.delay):
		return SettleResponse{Success: true, Transaction: "0xslow"}, nil
	case <-ctx.Done():
		return SettleResponse{}, ctx.Err()
	}
}
func (s slowFacilitator) GetSupported(ctx context.Context) (SupportedResponse, error) {
	return SupportedResponse{X402Version: ProtocolVersion, Kinds: []SupportedKind{{Scheme: "exact", Network: "eip155:*"}}}, nil
}

func TestSettlePaymentTimeout(t *testing.T) {
	server := NewResourceServer(
		WithFacilitator(slowFacilitator{delay: time.Second}),
		WithSchemeServer("eip155:*", newMockScheme("exact")),
		WithSettleTimeout(20*time.Millisecond),
	)
	if err := server.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}

	req := testRequirements()
	resp, err := server.SettlePayment(context.Background(), testPayload(req), req)
	if !IsCode(err, ErrSettlementTimeout) {
		t.Errorf("err = %v, want %s", err, ErrSettlementTimeout)
	}
	if resp.Success || resp.ErrorReason != ErrSettlementTimeout {
		t.Errorf("resp = %+v", resp)
	}
}

func TestFacilitatorPrecedenceFirstRegisteredWins(t *testing.T) {
	schemeA := newMockScheme("exact")
	schemeB := newMockScheme("exact")
	server := NewResourceServer(
		WithFacilitator(testFacilitator(schemeA, "eip155:*")),
		WithFacilitator(testFacilitator(schemeB, "eip155:*")),
		WithSchemeServer("eip155:*", schemeA),
	)
	if err := server.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}

	req := testRequirements()
	if _, err := server.VerifyPayment(context.Background(), testPayload(req), req); err != nil {
		t.Fatal(err)
	}
	if schemeA.verifyCalls != 1 || schemeB.verifyCalls != 0 {
		t.Errorf("calls = %d/%d, want the first registered facilitator only", schemeA.verifyCalls, schemeB.verifyCalls)
	}
}

func TestServerHooksAbortSettlement(t *testing.T) {
	server, scheme := localSetup(t)
	server.OnBeforeSettle(func(ctx context.Context, hc HookContext) (*HookDecision, error) {
		return &HookDecision{Abort: true, Reason: "maintenance window"}, nil
	})

	req := testRequirements()
	_, err := server.SettlePayment(context.Background(), testPayload(req), req)
	if !IsCode(err, ErrPaymentHookError) {
		t.Errorf("err = %v, want %s", err, ErrPaymentHookError)
	}
	if scheme.settleCalls != 0 {
		t.Error("aborted settlement must not reach the facilitator")
	}
}

type rejectingExtension struct{ key string }

func (e rejectingExtension) Key() string             { return e.key }
func (e rejectingExtension) Declare() ExtensionDecl  { return ExtensionDecl{Info: "required"} }
func (e rejectingExtension) Validate(ctx context.Context, data any, decl ExtensionDecl) error {
	if data == nil {
		return NewError(ErrInvalidPayload, "extension data missing")
	}
	return nil
}

func TestValidateExtensions(t *testing.T) {
	scheme := newMockScheme("exact")
	server := NewResourceServer(
		WithFacilitator(testFacilitator(scheme, "eip155:*")),
		WithSchemeServer("eip155:*", scheme),
		WithServerExtension(rejectingExtension{key: "paymentIdentifier"}),
	)

	req := testRequirements()
	req.Extensions = map[string]ExtensionDecl{"paymentIdentifier": {Info: "required"}}

	payload := testPayload(req)
	if err := server.ValidateExtensions(context.Background(), payload, req); !IsCode(err, ErrInvalidPayload) {
		t.Errorf("err = %v, want %s", err, ErrInvalidPayload)
	}

	payload.Extensions = map[string]any{"paymentIdentifier": map[string]any{"paymentId": "pid_1"}}
	if err := server.ValidateExtensions(context.Background(), payload, req); err != nil {
		t.Errorf("err = %v, want nil", err)
	}
}
