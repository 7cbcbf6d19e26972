package x402

import (
	"context"
	"sync"
)

// Facilitator dispatches verification and settlement to registered
// scheme handlers. It satisfies FacilitatorClient, so a resource
// server can run against a local facilitator with no HTTP hop.
type Facilitator struct {
	schemes *Registry[SchemeFacilitator]

	mu         sync.RWMutex
	kindExtras map[kindKey]map[string]any
	assets     map[kindKey]string
	extensions []string

	hooks settleHooks
}

type kindKey struct {
	scheme  string
	network Network
}

// FacilitatorOption configures a Facilitator.
type FacilitatorOption func(*Facilitator)

// WithFacilitatorExtensions advertises extension keys in the supported
// response.
func WithFacilitatorExtensions(keys ...string) FacilitatorOption {
	return func(f *Facilitator) {
		f.extensions = append(f.extensions, keys...)
	}
}

func NewFacilitator(opts ...FacilitatorOption) *Facilitator {
	f := &Facilitator{
		schemes:    NewRegistry[SchemeFacilitator](),
		kindExtras: make(map[kindKey]map[string]any),
		assets:     make(map[kindKey]string),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Register binds a scheme handler to a network pattern. The optional
// extra map is advertised on the corresponding supported kind, where
// scheme servers pick it up when enhancing requirements. Register
// returns the facilitator for chaining.
func (f *Facilitator) Register(pattern Network, handler SchemeFacilitator, extra ...map[string]any) *Facilitator {
	f.schemes.Register(pattern, handler)
	if len(extra) > 0 && extra[0] != nil {
		f.mu.Lock()
		f.kindExtras[kindKey{handler.Scheme(), pattern}] = extra[0]
		f.mu.Unlock()
	}
	return f
}

// RegisterAsset records the asset advertised for a (scheme, pattern)
// kind.
func (f *Facilitator) RegisterAsset(pattern Network, scheme, asset string) *Facilitator {
	f.mu.Lock()
	f.assets[kindKey{scheme, pattern}] = asset
	f.mu.Unlock()
	return f
}

func (f *Facilitator) OnBeforeVerify(hook BeforeVerifyHook) *Facilitator {
	f.hooks.beforeVerify = append(f.hooks.beforeVerify, hook)
	return f
}

func (f *Facilitator) OnAfterVerify(hook AfterVerifyHook) *Facilitator {
	f.hooks.afterVerify = append(f.hooks.afterVerify, hook)
	return f
}

func (f *Facilitator) OnVerifyFailure(hook VerifyFailureHook) *Facilitator {
	f.hooks.verifyFailure = append(f.hooks.verifyFailure, hook)
	return f
}

func (f *Facilitator) OnBeforeSettle(hook BeforeSettleHook) *Facilitator {
	f.hooks.beforeSettle = append(f.hooks.beforeSettle, hook)
	return f
}

func (f *Facilitator) OnAfterSettle(hook AfterSettleHook) *Facilitator {
	f.hooks.afterSettle = append(f.hooks.afterSettle, hook)
	return f
}

func (f *Facilitator) OnSettleFailure(hook SettleFailureHook) *Facilitator {
	f.hooks.settleFailure = append(f.hooks.settleFailure, hook)
	return f
}

// checkPayment runs the pre-dispatch checks shared by Verify and
// Settle. It returns a wire reason when the payment cannot be
// dispatched, and the resolved handler otherwise.
func (f *Facilitator) checkPayment(payload PaymentPayload, requirements PaymentRequirements) (SchemeFacilitator, string) {
	if payload.X402Version != ProtocolVersion {
		return nil, ErrUnsupportedVersion
	}
	if !requirements.Network.Valid() {
		return nil, ErrInvalidNetwork
	}
	if payload.Accepted.Scheme != requirements.Scheme {
		return nil, ErrUnsupportedScheme
	}
	if payload.Accepted.Network != requirements.Network {
		return nil, ErrInvalidNetwork
	}
	handler, ok := f.schemes.Resolve(requirements.Scheme, requirements.Network)
	if !ok {
		return nil, ErrUnsupportedScheme
	}
	return handler, ""
}

// Verify checks a payment without executing it. Protocol-level
// rejections come back as an invalid response with a nil error;
// handler and hook failures surface as errors.
func (f *Facilitator) Verify(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (VerifyResponse, error) {
	handler, reason := f.checkPayment(payload, requirements)
	if reason != "" {
		return VerifyResponse{IsValid: false, InvalidReason: reason}, nil
	}

	hc := HookContext{Payload: payload, Requirements: requirements}
	if err := f.hooks.runBeforeVerify(ctx, hc); err != nil {
		return VerifyResponse{IsValid: false, InvalidReason: Reason(err)}, err
	}

	result, err := handler.Verify(ctx, payload, requirements)
	if err != nil {
		if recovered, hookErr := f.hooks.runVerifyFailure(ctx, hc, err); hookErr != nil {
			return VerifyResponse{IsValid: false, InvalidReason: Reason(hookErr)}, hookErr
		} else if recovered != nil {
			result = *recovered
		} else {
			return VerifyResponse{IsValid: false, InvalidReason: Reason(err)}, err
		}
	}

	if err := f.hooks.runAfterVerify(ctx, hc, result); err != nil {
		return VerifyResponse{IsValid: false, InvalidReason: Reason(err)}, err
	}
	return result, nil
}

// Settle executes a payment.
func (f *Facilitator) Settle(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (SettleResponse, error) {
	handler, reason := f.checkPayment(payload, requirements)
	if reason != "" {
		return SettleResponse{Success: false, ErrorReason: reason, Network: requirements.Network}, nil
	}

	hc := HookContext{Payload: payload, Requirements: requirements}
	if err := f.hooks.runBeforeSettle(ctx, hc); err != nil {
		return SettleResponse{Success: false, ErrorReason: Reason(err), Network: requirements.Network}, err
	}

	result, err := handler.Settle(ctx, payload, requirements)
	if err != nil {
		if recovered, hookErr := f.hooks.runSettleFailure(ctx, hc, err); hookErr != nil {
			return SettleResponse{Success: false, ErrorReason: Reason(hookErr), Network: requirements.Network}, hookErr
		} else if recovered != nil {
			result = *recovered
		} else {
			return SettleResponse{Success: false, ErrorReason: Reason(err), Network: requirements.Network}, err
		}
	}

	if err := f.hooks.runAfterSettle(ctx, hc, result); err != nil {
		return SettleResponse{Success: false, ErrorReason: Reason(err), Network: requirements.Network}, err
	}
	return result, nil
}

// GetSupported lists every registered (scheme, network) kind with any
// advertised assets and extras, plus declared extension keys.
func (f *Facilitator) GetSupported(ctx context.Context) (SupportedResponse, error) {
	kinds := f.schemes.Kinds()

	f.mu.RLock()
	for i := range kinds {
		key := kindKey{kinds[i].Scheme, kinds[i].Network}
		if asset, ok := f.assets[key]; ok {
			kinds[i].Asset = asset
		}
		if extra, ok := f.kindExtras[key]; ok {
			kinds[i].Extra = extra
		}
	}
	extensions := append([]string(nil), f.extensions...)
	f.mu.RUnlock()

	return SupportedResponse{
		X402Version: ProtocolVersion,
		Kinds:       kinds,
		Extensions:  extensions,
	}, nil
}
