package exactsvm

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/gagliardetto/solana-go"

	x402 "github.com/x402labs/x402-go"
)

const testNet = x402.Network("solana:EtWTRABZaYq6iMfeYKouRu166VU2xqa1")

type fixedBlockhash struct {
	hash solana.Hash
}

func (f fixedBlockhash) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	return f.hash, nil
}

// fakeBackend co-signs in memory and records submissions.
type fakeBackend struct {
	key     solana.PrivateKey
	sendErr error
	sent    int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{key: solana.NewWallet().PrivateKey}
}

func (b *fakeBackend) FeePayer() solana.PublicKey {
	return b.key.PublicKey()
}

func (b *fakeBackend) SignAndSend(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	if b.sendErr != nil {
		return solana.Signature{}, b.sendErr
	}
	if _, err := tx.PartialSign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(b.key.PublicKey()) {
			return &b.key
		}
		return nil
	}); err != nil {
		return solana.Signature{}, err
	}
	b.sent++
	return tx.Signatures[0], nil
}

type fixture struct {
	payer   *solana.Wallet
	backend *fakeBackend
	reqs    x402.PaymentRequirements
	client  *Client
	fac     *Facilitator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	payer := solana.NewWallet()
	backend := newFakeBackend()
	recipient := solana.NewWallet().PublicKey()

	reqs := x402.PaymentRequirements{
		Scheme:  Scheme,
		Network: testNet,
		Amount:  "4020000",
		PayTo:   recipient.String(),
		Extra:   map[string]any{"feePayer": backend.FeePayer().String()},
	}
	enhanced, err := NewServer().EnhanceRequirements(context.Background(), reqs, x402.SupportedKind{})
	if err != nil {
		t.Fatal(err)
	}

	blockhash := solana.Hash(solana.NewWallet().PublicKey())
	return &fixture{
		payer:   payer,
		backend: backend,
		reqs:    enhanced,
		client:  NewClient(NewLocalSigner(payer.PrivateKey), fixedBlockhash{blockhash}),
		fac:     NewFacilitator(backend),
	}
}

func (f *fixture) payment(t *testing.T) x402.PaymentPayload {
	t.Helper()
	data, err := f.client.SignPayment(context.Background(), f.reqs, nil)
	if err != nil {
		t.Fatal(err)
	}
	return x402.PaymentPayload{
		X402Version: x402.ProtocolVersion,
		Payload:     data,
		Accepted:    f.reqs,
	}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	f := newFixture(t)
	payload := f.payment(t)

	verify, err := f.fac.Verify(context.Background(), payload, f.reqs)
	if err != nil {
		t.Fatal(err)
	}
	if !verify.IsValid {
		t.Fatalf("valid payment rejected: %s", verify.InvalidReason)
	}
	if verify.Payer != f.payer.PublicKey().String() {
		t.Fatalf("payer %s, want %s", verify.Payer, f.payer.PublicKey())
	}
}

func TestVerifyRejections(t *testing.T) {
	f := newFixture(t)

	cases := []struct {
		name   string
		mutate func(r *x402.PaymentRequirements)
		want   string
	}{
		{"amount raised", func(r *x402.PaymentRequirements) {
			r.Amount = "9999999"
		}, x402.ErrAmountMismatch},
		{"recipient swapped", func(r *x402.PaymentRequirements) {
			r.PayTo = solana.NewWallet().PublicKey().String()
		}, x402.ErrRecipientMismatch},
		{"mint swapped", func(r *x402.PaymentRequirements) {
			r.Asset = solana.NewWallet().PublicKey().String()
		}, x402.ErrAssetMismatch},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			payload := f.payment(t)
			r := f.reqs
			tc.mutate(&r)
			verify, err := f.fac.Verify(context.Background(), payload, r)
			if err != nil {
				t.Fatal(err)
			}
			if verify.IsValid || verify.InvalidReason != tc.want {
				t.Fatalf("got %+v, want %s", verify, tc.want)
			}
		})
	}
}

func TestVerifyRejectsForeignFeePayer(t *testing.T) {
	f := newFixture(t)
	// Payment built against a different facilitator's fee payer.
	other := newFixture(t)
	payload := other.payment(t)

	verify, err := f.fac.Verify(context.Background(), payload, other.reqs)
	if err != nil {
		t.Fatal(err)
	}
	if verify.IsValid {
		t.Fatal("foreign fee payer accepted")
	}
}

func TestVerifyRejectsStrippedSignature(t *testing.T) {
	f := newFixture(t)
	payload := f.payment(t)

	// Zero out the owner's signature and re-encode.
	tx, err := transactionFromPayload(payload.Payload)
	if err != nil {
		t.Fatal(err)
	}
	tx.Signatures[len(tx.Signatures)-1] = solana.Signature{}
	raw, err := tx.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	payload.Payload["transaction"] = base64.StdEncoding.EncodeToString(raw)

	verify, err := f.fac.Verify(context.Background(), payload, f.reqs)
	if err != nil {
		t.Fatal(err)
	}
	if verify.IsValid || verify.InvalidReason != x402.ErrInvalidSignature {
		t.Fatalf("got %+v, want invalid_signature", verify)
	}
}

func TestSettleCoSignsAndSubmits(t *testing.T) {
	f := newFixture(t)
	payload := f.payment(t)

	settle, err := f.fac.Settle(context.Background(), payload, f.reqs)
	if err != nil {
		t.Fatal(err)
	}
	if !settle.Success || settle.Transaction == "" {
		t.Fatalf("bad settlement %+v", settle)
	}
	if settle.Payer != f.payer.PublicKey().String() {
		t.Fatalf("payer %s", settle.Payer)
	}
	if f.backend.sent != 1 {
		t.Fatalf("submissions = %d, want 1", f.backend.sent)
	}
}

func TestSettleSubmitFailure(t *testing.T) {
	f := newFixture(t)
	payload := f.payment(t)
	f.backend.sendErr = errors.New("rpc down")

	settle, err := f.fac.Settle(context.Background(), payload, f.reqs)
	if err != nil {
		t.Fatal(err)
	}
	if settle.Success || settle.ErrorReason != x402.ErrTransactionFailed {
		t.Fatalf("got %+v, want transaction_failed", settle)
	}
}

func TestServerParsePrice(t *testing.T) {
	srv := NewServer()

	amount, err := srv.ParsePrice("$4.02", testNet)
	if err != nil {
		t.Fatal(err)
	}
	if amount.Amount != "4020000" || amount.Asset != mints[testNet].Mint {
		t.Fatalf("got %+v", amount)
	}

	if _, err := srv.ParsePrice("$1.00", "solana:unknown"); !x402.IsCode(err, x402.ErrInvalidNetwork) {
		t.Fatalf("unknown network: %v", err)
	}
}

func TestEnhanceRequiresFeePayer(t *testing.T) {
	reqs := x402.PaymentRequirements{
		Scheme:  Scheme,
		Network: testNet,
		Amount:  "1",
		PayTo:   solana.NewWallet().PublicKey().String(),
	}
	_, err := NewServer().EnhanceRequirements(context.Background(), reqs, x402.SupportedKind{})
	if !x402.IsCode(err, x402.ErrInvalidPayload) {
		t.Fatalf("got %v, want invalid_payload", err)
	}
}
