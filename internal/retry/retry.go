package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/MimeLyc/video-sub-transcriber/pkg/log"
)

// Class is the retry classification of an error.
type Class int

const (
	// ClassTransient is a generic retryable failure (dropped connection,
	// 5xx).
	ClassTransient Class = iota
	// ClassOverloaded is a saturation signal (429/503/"overloaded");
	// it earns a materially longer cooldown than a plain transient error.
	ClassOverloaded
	// ClassFatal propagates immediately without consuming a retry slot.
	ClassFatal
)

// Classifier maps an error to a retry Class.
type Classifier func(error) Class

// Policy controls a single Do call. It is created per call and never
// persisted.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	Classify   Classifier
	// OnRetry is best-effort status reporting; panics inside it are
	// swallowed.
	OnRetry func(attempt int, err error)
}

func (p Policy) classify(err error) Class {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ClassFatal
	}
	if p.Classify == nil {
		return ClassTransient
	}
	return p.Classify(err)
}

// DelayFor returns the backoff delay scheduled after a failure at the
// given attempt index: BaseDelay * 2^attempt, tripled for overload.
func (p Policy) DelayFor(attempt int, class Class) time.Duration {
	delay := p.BaseDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
	}
	if class == ClassOverloaded {
		delay *= 3
	}
	return delay
}

// ExhaustedError annotates the last error once every retry slot is
// spent.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// classifiedBackOff schedules exponential delays that depend on how the
// most recent failure was classified.
type classifiedBackOff struct {
	policy    Policy
	attempt   int
	lastClass *Class
}

func (b *classifiedBackOff) NextBackOff() time.Duration {
	if b.attempt >= b.policy.MaxRetries {
		return backoff.Stop
	}
	delay := b.policy.DelayFor(b.attempt, *b.lastClass)
	b.attempt++
	return delay
}

func (b *classifiedBackOff) Reset() {
	b.attempt = 0
}

// Do runs op under the policy. Transient failures are retried with
// exponential backoff, overload failures with a tripled delay, fatal
// failures and cancellation propagate immediately. Exhaustion returns
// the last error wrapped in *ExhaustedError.
func Do[T any](ctx context.Context, policy Policy, op func() (T, error)) (T, error) {
	lastClass := ClassTransient
	attempts := 0

	wrapped := func() (T, error) {
		attempts++
		ret, err := op()
		if err == nil {
			return ret, nil
		}
		lastClass = policy.classify(err)
		if lastClass == ClassFatal {
			return ret, backoff.Permanent(err)
		}
		return ret, err
	}

	bo := backoff.WithContext(&classifiedBackOff{policy: policy, lastClass: &lastClass}, ctx)

	notify := func(err error, _ time.Duration) {
		if policy.OnRetry == nil {
			return
		}
		defer func() {
			if r := recover(); r != nil {
				log.Warn("retry callback panicked: %v", r)
			}
		}()
		policy.OnRetry(attempts, err)
	}

	ret, err := backoff.RetryNotifyWithData(wrapped, bo, notify)
	if err == nil {
		return ret, nil
	}
	if policy.classify(err) == ClassFatal {
		return ret, err
	}
	return ret, &ExhaustedError{Attempts: attempts, Err: err}
}
