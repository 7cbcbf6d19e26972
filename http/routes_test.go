package http

import (
	"testing"

	x402 "github.com/x402labs/x402-go"
)

func routeTable(t *testing.T, patterns ...string) *RouteTable {
	t.Helper()
	configs := make(map[string]RouteConfig, len(patterns))
	for _, p := range patterns {
		configs[p] = RouteConfig{}
	}
	table, err := NewRouteTable(configs)
	if err != nil {
		t.Fatal(err)
	}
	return table
}

func TestRouteMatchExact(t *testing.T) {
	table := routeTable(t, "GET /api/data")

	if _, _, ok := table.Match("GET", "/api/data"); !ok {
		t.Error("exact path must match")
	}
	if _, _, ok := table.Match("POST", "/api/data"); ok {
		t.Error("method must be honored")
	}
	if _, _, ok := table.Match("GET", "/api/other"); ok {
		t.Error("different path must not match")
	}
	if _, _, ok := table.Match("GET", "/api/data/"); !ok {
		t.Error("trailing slash must normalize away")
	}
}

func TestRouteMatchSingleSegmentWildcard(t *testing.T) {
	table := routeTable(t, "GET /api/*/data")

	cases := map[string]bool{
		"/api/v1/data":    true,
		"/api/v2/data":    true,
		"/api/data":       false,
		"/api/v1/v2/data": false,
	}
	for path, want := range cases {
		if _, _, ok := table.Match("GET", path); ok != want {
			t.Errorf("Match(%q) = %v, want %v", path, ok, want)
		}
	}
}

func TestRouteMatchSuffixWildcard(t *testing.T) {
	table := routeTable(t, "* /premium/**")

	for path, want := range map[string]bool{
		"/premium":        true,
		"/premium/a":      true,
		"/premium/a/b/c":  true,
		"/premiumish":     false,
		"/other/premium":  false,
	} {
		if _, _, ok := table.Match("DELETE", path); ok != want {
			t.Errorf("Match(%q) = %v, want %v", path, ok, want)
		}
	}
}

func TestRouteMatchAnyMethod(t *testing.T) {
	table := routeTable(t, "* /paid")
	for _, method := range []string{"GET", "POST", "PUT", "PATCH"} {
		if _, _, ok := table.Match(method, "/paid"); !ok {
			t.Errorf("method %s must match a * pattern", method)
		}
	}
}

func TestRouteSpecificityWins(t *testing.T) {
	configs := map[string]RouteConfig{
		"GET /api/**":      {Resource: &x402.ResourceInfo{Description: "broad"}},
		"GET /api/reports": {Resource: &x402.ResourceInfo{Description: "narrow"}},
	}
	table, err := NewRouteTable(configs)
	if err != nil {
		t.Fatal(err)
	}

	cfg, _, ok := table.Match("GET", "/api/reports")
	if !ok {
		t.Fatal("expected a match")
	}
	if cfg.Resource.Description != "narrow" {
		t.Error("the literal pattern must beat the suffix wildcard")
	}
}

func TestRouteTableRejectsMalformedPattern(t *testing.T) {
	if _, err := NewRouteTable(map[string]RouteConfig{"GET api": {}}); err == nil {
		t.Error("patterns without a leading slash must be rejected")
	}
}

func TestNormalizePath(t *testing.T) {
	for in, want := range map[string]string{
		"":           "/",
		"/":          "/",
		"/a/":        "/a",
		"//a//b":     "/a/b",
		"/a/b":       "/a/b",
	} {
		if got := normalizePath(in); got != want {
			t.Errorf("normalizePath(%q) = %q, want %q", in, got, want)
		}
	}
}
