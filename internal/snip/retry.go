package snip

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	DefaultMaxAttempts = 5
	DefaultBaseDelay   = 2 * time.Second
	// MaxRetryDelay caps every single wait, computed or hinted by the server.
	MaxRetryDelay = 5 * time.Minute
)

// RetryPolicy bounds how the Retrier repeats a failing remote call.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	// Classify decides whether an error is worth another attempt and
	// returns the server's retry-after hint, if any.
	Classify func(error) (FetchKind, time.Duration)
}

// DefaultRetryPolicy returns five attempts with a two second base delay.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		Classify:    ClassifyError,
	}
}

// ClassifyError is the default classifier. Context cancellation is terminal,
// *FetchError carries its own kind, bare network errors are transient and
// anything else is terminal.
func ClassifyError(err error) (FetchKind, time.Duration) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return FetchTerminal, 0
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind, fe.RetryAfter
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return FetchTransient, 0
	}
	return FetchTerminal, 0
}

// Retrier runs idempotent remote reads under a RetryPolicy.
// Waits double from BaseDelay on every transient failure up to
// MaxRetryDelay; a retry-after hint replaces the computed wait for that
// attempt.
type Retrier struct {
	policy   RetryPolicy
	logger   Logger
	newTimer func() backoff.Timer
}

// NewRetrier creates a Retrier. Zero policy fields fall back to the defaults.
func NewRetrier(policy RetryPolicy, logger Logger) *Retrier {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = DefaultMaxAttempts
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = DefaultBaseDelay
	}
	if policy.BaseDelay > MaxRetryDelay {
		policy.BaseDelay = MaxRetryDelay
	}
	if policy.Classify == nil {
		policy.Classify = ClassifyError
	}
	return &Retrier{policy: policy, logger: logger}
}

// WithTimer replaces the timer used for waits. Tests use it to observe
// backoff delays without sleeping.
func (r *Retrier) WithTimer(newTimer func() backoff.Timer) *Retrier {
	r.newTimer = newTimer
	return r
}

// Policy returns the effective policy.
func (r *Retrier) Policy() RetryPolicy {
	return r.policy
}

// Do calls fn until it succeeds, fails terminally or the attempt budget is
// spent. A terminal failure returns immediately without waiting. Giving up
// returns a terminal *FetchError carrying the last status and cause.
func (r *Retrier) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = r.policy.BaseDelay
	exp.Multiplier = 2
	exp.RandomizationFactor = 0
	exp.MaxInterval = MaxRetryDelay
	exp.MaxElapsedTime = 0
	exp.Reset()

	hinted := &hintedBackOff{BackOff: exp}
	b := backoff.WithContext(backoff.WithMaxRetries(hinted, uint64(r.policy.MaxAttempts-1)), ctx)

	attempts := 0
	operation := func() error {
		attempts++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		kind, hint := r.policy.Classify(err)
		if kind == FetchTerminal {
			return backoff.Permanent(err)
		}
		hinted.hint = hint
		return err
	}
	notify := func(err error, wait time.Duration) {
		r.logger.Warn("remote call failed, retrying", "op", op, "attempt", attempts, "max_attempts", r.policy.MaxAttempts, "wait", wait, "error", err)
	}

	var timer backoff.Timer
	if r.newTimer != nil {
		timer = r.newTimer()
	}

	err := backoff.RetryNotifyWithTimer(operation, b, notify, timer)
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		return err
	}
	return giveUp(op, attempts, err)
}

// giveUp converts the last observed error into a terminal FetchError.
func giveUp(op string, attempts int, err error) error {
	final := &FetchError{Op: op, Kind: FetchTerminal, Attempts: attempts, Err: err}
	var fe *FetchError
	if errors.As(err, &fe) {
		final.StatusCode = fe.StatusCode
		if fe.Err != nil {
			final.Err = fe.Err
		}
	}
	return final
}

// hintedBackOff lets a server retry-after hint override the next computed delay.
type hintedBackOff struct {
	backoff.BackOff
	hint time.Duration
}

func (h *hintedBackOff) NextBackOff() time.Duration {
	next := h.BackOff.NextBackOff()
	if next == backoff.Stop {
		return next
	}
	if h.hint > 0 {
		next = min(h.hint, MaxRetryDelay)
		h.hint = 0
	}
	return next
}

func (h *hintedBackOff) Reset() {
	h.hint = 0
	h.BackOff.Reset()
}
