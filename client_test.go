package x402

import (
	"context"
	"errors"
	"testing"
)

func challengeWith(reqs ...PaymentRequirements) PaymentRequired {
	return PaymentRequired{X402Version: ProtocolVersion, Accepts: reqs}
}

func TestCreatePaymentPayloadEchoesAccepted(t *testing.T) {
	scheme := newMockScheme("exact")
	client := NewClient(WithSigner("eip155:*", scheme))

	req := testRequirements()
	payload, err := client.CreatePaymentPayload(context.Background(), challengeWith(req))
	if err != nil {
		t.Fatal(err)
	}
	if !payload.Accepted.Equal(req) {
		t.Error("Accepted must echo the server's requirement entry unchanged")
	}
	if payload.X402Version != ProtocolVersion {
		t.Errorf("payload version = %d", payload.X402Version)
	}
	if payload.Payload["signature"] != "~alice" {
		t.Errorf("payload body = %+v", payload.Payload)
	}
}

func TestCreatePaymentPayloadRejectsVersion(t *testing.T) {
	client := NewClient(WithSigner("eip155:*", newMockScheme("exact")))
	challenge := challengeWith(testRequirements())
	challenge.X402Version = 1

	_, err := client.CreatePaymentPayload(context.Background(), challenge)
	if !IsCode(err, ErrUnsupportedVersion) {
		t.Errorf("err = %v, want %s", err, ErrUnsupportedVersion)
	}
}

func TestSelectRequirementsSkipsUnsignable(t *testing.T) {
	client := NewClient(WithSigner("eip155:*", newMockScheme("exact")))

	solana := testRequirements()
	solana.Network = "solana:mainnet"
	evm := testRequirements()

	selected, err := client.SelectRequirements(context.Background(), []PaymentRequirements{solana, evm})
	if err != nil {
		t.Fatal(err)
	}
	if selected.Network != "eip155:8453" {
		t.Errorf("selected %s, want the signable entry", selected.Network)
	}
}

func TestSelectRequirementsNoSigner(t *testing.T) {
	client := NewClient()
	_, err := client.SelectRequirements(context.Background(), []PaymentRequirements{testRequirements()})
	if !IsCode(err, ErrUnsupportedScheme) {
		t.Errorf("err = %v, want %s", err, ErrUnsupportedScheme)
	}
}

func TestPolicyChainLastRegisteredWins(t *testing.T) {
	cheap := testRequirements()
	cheap.Amount = "100"
	expensive := testRequirements()
	expensive.Amount = "999999"

	keepCheap := func(ctx context.Context, accepts []PaymentRequirements) []PaymentRequirements {
		var out []PaymentRequirements
		for _, r := range accepts {
			if cmp, _ := CompareUnits(r.Amount, "1000"); cmp <= 0 {
				out = append(out, r)
			}
		}
		return out
	}
	reverse := func(ctx context.Context, accepts []PaymentRequirements) []PaymentRequirements {
		out := make([]PaymentRequirements, 0, len(accepts))
		for i := len(accepts) - 1; i >= 0; i-- {
			out = append(out, accepts[i])
		}
		return out
	}

	client := NewClient(WithSigner("eip155:*", newMockScheme("exact")))
	client.RegisterPolicy(reverse).RegisterPolicy(keepCheap)

	selected, err := client.SelectRequirements(context.Background(), []PaymentRequirements{expensive, cheap})
	if err != nil {
		t.Fatal(err)
	}
	if selected.Amount != "100" {
		t.Errorf("selected amount %s, want the filtered cheap entry", selected.Amount)
	}
}

func TestPolicyChainDeterministic(t *testing.T) {
	a := testRequirements()
	a.Amount = "100"
	b := testRequirements()
	b.Amount = "200"

	client := NewClient(WithSigner("eip155:*", newMockScheme("exact")))
	accepts := []PaymentRequirements{b, a}

	first, err := client.SelectRequirements(context.Background(), accepts)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 20; i++ {
		again, err := client.SelectRequirements(context.Background(), accepts)
		if err != nil {
			t.Fatal(err)
		}
		if !again.Equal(first) {
			t.Fatal("selection must be deterministic for identical inputs")
		}
	}
}

func TestPolicyEliminatesEverything(t *testing.T) {
	client := NewClient(WithSigner("eip155:*", newMockScheme("exact")))
	client.RegisterPolicy(func(ctx context.Context, accepts []PaymentRequirements) []PaymentRequirements {
		return nil
	})

	_, err := client.SelectRequirements(context.Background(), []PaymentRequirements{testRequirements()})
	if !IsCode(err, ErrUnsupportedScheme) {
		t.Errorf("err = %v, want %s", err, ErrUnsupportedScheme)
	}
}

func TestPaymentHooksRunInOrder(t *testing.T) {
	var order []string
	client := NewClient(WithSigner("eip155:*", newMockScheme("exact")))
	client.OnBeforePaymentCreation(func(ctx context.Context, selected PaymentRequirements, required PaymentRequired) error {
		order = append(order, "before")
		return nil
	})
	client.OnAfterPaymentCreation(func(ctx context.Context, payload PaymentPayload, required PaymentRequired) error {
		order = append(order, "after")
		if payload.Payload["signature"] != "~alice" {
			t.Error("after hook must see the signed payload")
		}
		return nil
	})

	if _, err := client.CreatePaymentPayload(context.Background(), challengeWith(testRequirements())); err != nil {
		t.Fatal(err)
	}
	if len(order) != 2 || order[0] != "before" || order[1] != "after" {
		t.Errorf("hook order = %v", order)
	}
}

func TestBeforeHookErrorAborts(t *testing.T) {
	scheme := newMockScheme("exact")
	client := NewClient(WithSigner("eip155:*", scheme))
	client.OnBeforePaymentCreation(func(ctx context.Context, selected PaymentRequirements, required PaymentRequired) error {
		return errors.New("wallet locked")
	})

	_, err := client.CreatePaymentPayload(context.Background(), challengeWith(testRequirements()))
	if !IsCode(err, ErrPaymentHookError) {
		t.Errorf("err = %v, want %s", err, ErrPaymentHookError)
	}
	if scheme.signCalls != 0 {
		t.Error("signer must not run after an aborting hook")
	}
}

func TestAfterHookErrorAborts(t *testing.T) {
	client := NewClient(WithSigner("eip155:*", newMockScheme("exact")))
	client.OnAfterPaymentCreation(func(ctx context.Context, payload PaymentPayload, required PaymentRequired) error {
		return errors.New("audit log unavailable")
	})

	_, err := client.CreatePaymentPayload(context.Background(), challengeWith(testRequirements()))
	if !IsCode(err, ErrPaymentHookError) {
		t.Errorf("err = %v, want %s", err, ErrPaymentHookError)
	}
}

type staticExtension struct {
	key  string
	data any
}

func (e staticExtension) Key() string { return e.key }
func (e staticExtension) Enrich(ctx context.Context, payload PaymentPayload, decl ExtensionDecl) (any, error) {
	return e.data, nil
}

func TestClientExtensionEnrichment(t *testing.T) {
	client := NewClient(
		WithSigner("eip155:*", newMockScheme("exact")),
		WithClientExtension(staticExtension{key: "paymentIdentifier", data: map[string]any{"paymentId": "pid_1"}}),
		WithClientExtension(staticExtension{key: "undeclared", data: "x"}),
	)

	req := testRequirements()
	req.Extensions = map[string]ExtensionDecl{"paymentIdentifier": {}}

	payload, err := client.CreatePaymentPayload(context.Background(), challengeWith(req))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := payload.Extensions["paymentIdentifier"]; !ok {
		t.Error("declared extension must be enriched")
	}
	if _, ok := payload.Extensions["undeclared"]; ok {
		t.Error("extensions the server did not declare must not be attached")
	}
}
