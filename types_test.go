package x402

import (
	"encoding/json"
	"testing"
)

func TestNetworkFamily(t *testing.T) {
	cases := map[Network]string{
		"eip155:8453":    "eip155",
		"solana:mainnet": "solana",
		"eip155:*":       "eip155",
		"nocolon":        "",
		"":               "",
	}
	for network, want := range cases {
		if got := network.Family(); got != want {
			t.Errorf("Family(%q) = %q, want %q", network, got, want)
		}
	}
}

func TestNetworkMatches(t *testing.T) {
	cases := []struct {
		network Network
		pattern Network
		want    bool
	}{
		{"eip155:8453", "eip155:8453", true},
		{"eip155:8453", "eip155:*", true},
		{"eip155:1", "eip155:*", true},
		{"solana:mainnet", "eip155:*", false},
		{"eip155:8453", "eip155:1", false},
		{"eip155:8453", "solana:*", false},
		{"eip155:*", "eip155:*", true},
	}
	for _, tc := range cases {
		if got := tc.network.Matches(tc.pattern); got != tc.want {
			t.Errorf("%q.Matches(%q) = %v, want %v", tc.network, tc.pattern, got, tc.want)
		}
	}
}

func TestNetworkValid(t *testing.T) {
	for network, want := range map[Network]bool{
		"eip155:8453": true,
		"eip155:*":    true,
		"eip155:":     false,
		":8453":       false,
		"eip155":      false,
		"":            false,
	} {
		if got := network.Valid(); got != want {
			t.Errorf("Valid(%q) = %v, want %v", network, got, want)
		}
	}
}

func TestRequirementsEqualRoundTrip(t *testing.T) {
	req := testRequirements()
	req.Extra = map[string]any{"name": "USDC", "version": "2"}

	raw, err := json.Marshal(req)
	if err != nil {
		t.Fatal(err)
	}
	var back PaymentRequirements
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatal(err)
	}
	if !req.Equal(back) {
		t.Error("requirements should survive a marshal round trip unchanged")
	}
}

func TestRequirementsEqualDetectsAmountChange(t *testing.T) {
	a := testRequirements()
	b := a
	b.Amount = "10001"
	if a.Equal(b) {
		t.Error("amounts differ, entries must not compare equal")
	}
}

func TestRequirementsEqualIgnoresExtraKeyOrder(t *testing.T) {
	a := testRequirements()
	a.Extra = map[string]any{"name": "USDC", "version": "2"}
	b := testRequirements()
	b.Extra = map[string]any{"version": "2", "name": "USDC"}
	if !a.Equal(b) {
		t.Error("map key order must not affect equality")
	}
}
