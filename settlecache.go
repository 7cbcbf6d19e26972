package x402

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// DefaultSettleCacheTTL is how long a completed settlement result is
// replayed for identical payloads.
const DefaultSettleCacheTTL = 5 * time.Minute

// SettlementKey fingerprints a payload for deduplication: the hex
// SHA-256 of its canonical JSON encoding.
func SettlementKey(payload PaymentPayload) (string, error) {
	raw, err := canonicalJSON(payload)
	if err != nil {
		return "", WrapError(ErrInvalidPayload, err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

type cachedSettlement struct {
	result  SettleResponse
	err     error
	expires time.Time
	done    chan struct{}
}

// CachedFacilitator wraps a FacilitatorClient with settlement
// idempotency: an identical payload settled twice within the TTL
// replays the first result, and concurrent duplicates wait on the
// in-flight call instead of double-spending. Verify and GetSupported
// pass through.
type CachedFacilitator struct {
	inner FacilitatorClient
	ttl   time.Duration

	mu      sync.Mutex
	entries map[string]*cachedSettlement
}

func NewCachedFacilitator(inner FacilitatorClient, ttl time.Duration) *CachedFacilitator {
	if ttl <= 0 {
		ttl = DefaultSettleCacheTTL
	}
	return &CachedFacilitator{
		inner:   inner,
		ttl:     ttl,
		entries: make(map[string]*cachedSettlement),
	}
}

func (c *CachedFacilitator) Verify(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (VerifyResponse, error) {
	return c.inner.Verify(ctx, payload, requirements)
}

func (c *CachedFacilitator) GetSupported(ctx context.Context) (SupportedResponse, error) {
	return c.inner.GetSupported(ctx)
}

func (c *CachedFacilitator) Settle(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (SettleResponse, error) {
	key, err := SettlementKey(payload)
	if err != nil {
		return SettleResponse{Success: false, ErrorReason: Reason(err), Network: requirements.Network}, err
	}

	c.mu.Lock()
	entry, exists := c.entries[key]
	if exists {
		select {
		case <-entry.done:
			if time.Now().Before(entry.expires) {
				c.mu.Unlock()
				return entry.result, entry.err
			}
			// Expired; settle fresh below.
			exists = false
		default:
			// In flight: wait outside the lock.
		}
	}
	if exists {
		c.mu.Unlock()
		select {
		case <-entry.done:
			return entry.result, entry.err
		case <-ctx.Done():
			return SettleResponse{Success: false, ErrorReason: ErrSettlementTimeout, Network: requirements.Network},
				WrapError(ErrSettlementTimeout, ctx.Err())
		}
	}

	entry = &cachedSettlement{done: make(chan struct{})}
	c.entries[key] = entry
	c.mu.Unlock()

	result, err := c.inner.Settle(ctx, payload, requirements)

	c.mu.Lock()
	entry.result = result
	entry.err = err
	entry.expires = time.Now().Add(c.ttl)
	close(entry.done)
	c.pruneLocked()
	c.mu.Unlock()

	return result, err
}

// pruneLocked drops expired completed entries. Caller holds mu.
func (c *CachedFacilitator) pruneLocked() {
	now := time.Now()
	for key, entry := range c.entries {
		select {
		case <-entry.done:
			if now.After(entry.expires) {
				delete(c.entries, key)
			}
		default:
		}
	}
}
