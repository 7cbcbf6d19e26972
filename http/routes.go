package http

import (
	"context"
	"regexp"
	"sort"
	"strings"

	x402 "github.com/x402labs/x402-go"
)

// DynamicPayTo overrides a route's recipient per request.
type DynamicPayTo func(ctx context.Context, req Request) (string, error)

// DynamicPrice overrides a route's price per request.
type DynamicPrice func(ctx context.Context, req Request) (x402.Price, error)

// RouteConfig is the payment policy of one route pattern.
type RouteConfig struct {
	// Accepts lists the payment options offered on this route, in the
	// order they appear in 402 challenges.
	Accepts []x402.PaymentConfig

	// Resource metadata included in challenges. URL defaults to the
	// request URL.
	Resource *x402.ResourceInfo

	// DynamicPrice and DynamicPayTo, when set, override the static
	// values on every option for each request.
	DynamicPrice DynamicPrice
	DynamicPayTo DynamicPayTo
}

// A route pattern is "METHOD /path" where METHOD may be "*", a path
// segment may be "*" (exactly one segment), and a trailing "**"
// matches any suffix including none.
type compiledRoute struct {
	pattern string
	method  string
	re      *regexp.Regexp
	config  RouteConfig
}

// RouteTable matches request (method, path) pairs to route configs.
// More specific patterns win independent of declaration order; among
// equally specific patterns the first declared wins.
type RouteTable struct {
	routes []compiledRoute
}

// NewRouteTable compiles the pattern map. Patterns that do not parse
// return an error naming the pattern.
func NewRouteTable(configs map[string]RouteConfig) (*RouteTable, error) {
	// Sort patterns for a deterministic order before the stable
	// specificity sort, since map iteration order is random.
	patterns := make([]string, 0, len(configs))
	for pattern := range configs {
		patterns = append(patterns, pattern)
	}
	sort.Strings(patterns)

	t := &RouteTable{}
	for _, pattern := range patterns {
		route, err := compileRoute(pattern, configs[pattern])
		if err != nil {
			return nil, err
		}
		t.routes = append(t.routes, route)
	}
	sort.SliceStable(t.routes, func(i, j int) bool {
		return routeSpecificity(t.routes[i].pattern) > routeSpecificity(t.routes[j].pattern)
	})
	return t, nil
}

// Match finds the route covering (method, path), or false when the
// request is not payment gated.
func (t *RouteTable) Match(method, path string) (RouteConfig, string, bool) {
	path = normalizePath(path)
	for _, route := range t.routes {
		if route.method != "*" && route.method != strings.ToUpper(method) {
			continue
		}
		if route.re.MatchString(path) {
			return route.config, route.pattern, true
		}
	}
	return RouteConfig{}, "", false
}

func compileRoute(pattern string, config RouteConfig) (compiledRoute, error) {
	method := "*"
	pathPart := strings.TrimSpace(pattern)
	if before, after, found := strings.Cut(pathPart, " "); found {
		method = strings.ToUpper(strings.TrimSpace(before))
		pathPart = strings.TrimSpace(after)
	}
	if pathPart == "" || !strings.HasPrefix(pathPart, "/") {
		return compiledRoute{}, x402.NewError(x402.ErrInternal, "malformed route pattern %q", pattern)
	}
	pathPart = normalizePath(pathPart)

	re, err := patternRegexp(pathPart)
	if err != nil {
		return compiledRoute{}, x402.WrapError(x402.ErrInternal, err)
	}
	return compiledRoute{pattern: pattern, method: method, re: re, config: config}, nil
}

// patternRegexp turns a path pattern into an anchored regexp. "**" is
// replaced before "*" so the suffix wildcard survives quoting.
func patternRegexp(pathPattern string) (*regexp.Regexp, error) {
	quoted := regexp.QuoteMeta(pathPattern)
	quoted = strings.ReplaceAll(quoted, `/\*\*`, `(/.*)?`)
	quoted = strings.ReplaceAll(quoted, `\*\*`, `.*`)
	quoted = strings.ReplaceAll(quoted, `\*`, `[^/]+`)
	return regexp.Compile("^" + quoted + "$")
}

// routeSpecificity orders patterns: literal segments beat single-segment
// wildcards, which beat suffix wildcards, and longer patterns beat
// shorter ones.
func routeSpecificity(pattern string) int {
	score := 0
	if _, after, found := strings.Cut(pattern, " "); found {
		pattern = after
	}
	segments := strings.Split(strings.Trim(pattern, "/"), "/")
	for _, seg := range segments {
		switch seg {
		case "**":
			score += 1
		case "*":
			score += 10
		default:
			score += 100
		}
	}
	return score
}

// normalizePath strips a trailing slash (except on the root) and
// collapses empty segments.
func normalizePath(path string) string {
	if path == "" {
		return "/"
	}
	for strings.Contains(path, "//") {
		path = strings.ReplaceAll(path, "//", "/")
	}
	if len(path) > 1 {
		path = strings.TrimSuffix(path, "/")
	}
	return path
}
