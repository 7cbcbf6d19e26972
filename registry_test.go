package x402

import "testing"

func TestRegistryResolveExactBeforeWildcard(t *testing.T) {
	wildcard := newMockScheme("exact")
	exact := newMockScheme("exact")
	r := NewRegistry[SchemeFacilitator]()
	r.Register("eip155:*", wildcard)
	r.Register("eip155:8453", exact)

	got, ok := r.Resolve("exact", "eip155:8453")
	if !ok {
		t.Fatal("expected a handler")
	}
	if got != SchemeFacilitator(exact) {
		t.Error("exact registration must shadow the wildcard")
	}

	got, ok = r.Resolve("exact", "eip155:1")
	if !ok {
		t.Fatal("expected wildcard handler for sibling chain")
	}
	if got != SchemeFacilitator(wildcard) {
		t.Error("sibling chain should fall back to the family wildcard")
	}
}

func TestRegistryResolveMisses(t *testing.T) {
	r := NewRegistry[SchemeFacilitator]()
	r.Register("eip155:*", newMockScheme("exact"))

	if _, ok := r.Resolve("exact", "solana:mainnet"); ok {
		t.Error("foreign family must not resolve")
	}
	if _, ok := r.Resolve("permit", "eip155:8453"); ok {
		t.Error("unregistered scheme must not resolve")
	}
}

func TestRegistryRegisterReplacesDuplicate(t *testing.T) {
	first := newMockScheme("exact")
	second := newMockScheme("exact")
	r := NewRegistry[SchemeFacilitator]()
	r.Register("eip155:*", first)
	r.Register("eip155:*", second)

	if r.Len() != 1 {
		t.Fatalf("Len = %d, want 1", r.Len())
	}
	got, _ := r.Resolve("exact", "eip155:8453")
	if got != SchemeFacilitator(second) {
		t.Error("re-registration must replace the handler in place")
	}
}

func TestRegistryKindsPreserveOrder(t *testing.T) {
	r := NewRegistry[SchemeFacilitator]()
	r.Register("eip155:*", newMockScheme("exact"))
	r.Register("solana:mainnet", newMockScheme("exact"))

	kinds := r.Kinds()
	if len(kinds) != 2 {
		t.Fatalf("Kinds = %d entries, want 2", len(kinds))
	}
	if kinds[0].Network != "eip155:*" || kinds[1].Network != "solana:mainnet" {
		t.Errorf("kinds out of registration order: %+v", kinds)
	}
}
