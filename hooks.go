package x402

import "context"

// Lifecycle hooks fire around verification and settlement on both the
// resource server and the facilitator. Before hooks may abort the
// operation; failure hooks may recover it with a substitute result.
// Hooks run in registration order and a hook's own error aborts the
// pipeline with payment_hook_error.

// HookContext carries the operation's inputs to every hook.
type HookContext struct {
	Payload      PaymentPayload
	Requirements PaymentRequirements
}

// HookDecision is returned by before hooks. A nil decision means
// proceed.
type HookDecision struct {
	Abort  bool
	Reason string
}

// VerifyRecovery is returned by verify failure hooks. A nil recovery
// leaves the failure in place.
type VerifyRecovery struct {
	Recovered bool
	Result    VerifyResponse
}

// SettleRecovery is returned by settle failure hooks.
type SettleRecovery struct {
	Recovered bool
	Result    SettleResponse
}

type (
	BeforeVerifyHook  func(ctx context.Context, hc HookContext) (*HookDecision, error)
	AfterVerifyHook   func(ctx context.Context, hc HookContext, result VerifyResponse) error
	VerifyFailureHook func(ctx context.Context, hc HookContext, failure error) (*VerifyRecovery, error)

	BeforeSettleHook  func(ctx context.Context, hc HookContext) (*HookDecision, error)
	AfterSettleHook   func(ctx context.Context, hc HookContext, result SettleResponse) error
	SettleFailureHook func(ctx context.Context, hc HookContext, failure error) (*SettleRecovery, error)
)

// settleHooks bundles the six hook slices shared by the server and
// facilitator cores.
type settleHooks struct {
	beforeVerify  []BeforeVerifyHook
	afterVerify   []AfterVerifyHook
	verifyFailure []VerifyFailureHook
	beforeSettle  []BeforeSettleHook
	afterSettle   []AfterSettleHook
	settleFailure []SettleFailureHook
}

// runBeforeVerify executes before-verify hooks in order. It returns a
// non-nil error when a hook aborts or fails.
func (h *settleHooks) runBeforeVerify(ctx context.Context, hc HookContext) error {
	for _, hook := range h.beforeVerify {
		decision, err := hook(ctx, hc)
		if err != nil {
			return WrapError(ErrPaymentHookError, err)
		}
		if decision != nil && decision.Abort {
			reason := decision.Reason
			if reason == "" {
				reason = "verification aborted by hook"
			}
			return NewError(ErrPaymentHookError, "%s", reason)
		}
	}
	return nil
}

func (h *settleHooks) runAfterVerify(ctx context.Context, hc HookContext, result VerifyResponse) error {
	for _, hook := range h.afterVerify {
		if err := hook(ctx, hc, result); err != nil {
			return WrapError(ErrPaymentHookError, err)
		}
	}
	return nil
}

// runVerifyFailure gives failure hooks a chance to substitute a valid
// result. The first recovery wins.
func (h *settleHooks) runVerifyFailure(ctx context.Context, hc HookContext, failure error) (*VerifyResponse, error) {
	for _, hook := range h.verifyFailure {
		recovery, err := hook(ctx, hc, failure)
		if err != nil {
			return nil, WrapError(ErrPaymentHookError, err)
		}
		if recovery != nil && recovery.Recovered {
			result := recovery.Result
			return &result, nil
		}
	}
	return nil, nil
}

func (h *settleHooks) runBeforeSettle(ctx context.Context, hc HookContext) error {
	for _, hook := range h.beforeSettle {
		decision, err := hook(ctx, hc)
		if err != nil {
			return WrapError(ErrPaymentHookError, err)
		}
		if decision != nil && decision.Abort {
			reason := decision.Reason
			if reason == "" {
				reason = "settlement aborted by hook"
			}
			return NewError(ErrPaymentHookError, "%s", reason)
		}
	}
	return nil
}

func (h *settleHooks) runAfterSettle(ctx context.Context, hc HookContext, result SettleResponse) error {
	for _, hook := range h.afterSettle {
		if err := hook(ctx, hc, result); err != nil {
			return WrapError(ErrPaymentHookError, err)
		}
	}
	return nil
}

func (h *settleHooks) runSettleFailure(ctx context.Context, hc HookContext, failure error) (*SettleResponse, error) {
	for _, hook := range h.settleFailure {
		recovery, err := hook(ctx, hc, failure)
		if err != nil {
			return nil, WrapError(ErrPaymentHookError, err)
		}
		if recovery != nil && recovery.Recovered {
			result := recovery.Result
			return &result, nil
		}
	}
	return nil, nil
}
