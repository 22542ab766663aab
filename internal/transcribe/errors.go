package transcribe

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/MimeLyc/video-sub-transcriber/internal/retry"
)

// TransientError is a retryable provider failure: network trouble, 5xx,
// or a saturation signal. Overloaded failures earn longer cooldowns.
type TransientError struct {
	Provider   string
	StatusCode int
	Overloaded bool
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider %s transient failure (status %d): %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("provider %s transient failure: %v", e.Provider, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// FatalError is a provider failure that retrying cannot fix: bad
// credentials, rejected input, missing configuration. The router skips
// the provider's remaining retries and advances to the next provider.
type FatalError struct {
	Provider string
	Reason   string
	Err      error
}

func (e *FatalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provider %s failed permanently: %s: %v", e.Provider, e.Reason, e.Err)
	}
	return fmt.Sprintf("provider %s failed permanently: %s", e.Provider, e.Reason)
}

func (e *FatalError) Unwrap() error { return e.Err }

// EmptyResultError marks a provider run that produced no usable segments
// after normalization. It fails the attempt, not the request.
type EmptyResultError struct {
	Provider string
}

func (e *EmptyResultError) Error() string {
	return fmt.Sprintf("provider %s returned no usable segments", e.Provider)
}

// AttemptFailure records why one pipeline attempt failed.
type AttemptFailure struct {
	Pipeline string
	Provider string
	Err      error
}

// AllMethodsExhaustedError is terminal: every pipeline was tried and
// failed. It keeps each attempt's reason so the surfaced message names
// what is actually wrong instead of a generic "all methods failed".
type AllMethodsExhaustedError struct {
	Attempts []AttemptFailure
}

func (e *AllMethodsExhaustedError) Error() string {
	var sb strings.Builder
	sb.WriteString("all transcription methods exhausted")
	for _, a := range e.Attempts {
		fmt.Fprintf(&sb, "; %s/%s: %v", a.Pipeline, a.Provider, a.Err)
	}
	return sb.String()
}

// Remediation names the most actionable fix based on the recorded
// failures: configuration before input size before transient outage.
func (e *AllMethodsExhaustedError) Remediation() string {
	var sawTransient bool
	for _, a := range e.Attempts {
		var fatal *FatalError
		if errors.As(a.Err, &fatal) {
			if strings.Contains(fatal.Reason, "credential") || strings.Contains(fatal.Reason, "not configured") {
				return fmt.Sprintf("configure an API key for provider %s", a.Provider)
			}
			if strings.Contains(fatal.Reason, "payload") || strings.Contains(fatal.Reason, "too large") {
				return "try a shorter clip; the media exceeds every provider's size ceiling"
			}
		}
		var transient *TransientError
		if errors.As(a.Err, &transient) {
			sawTransient = true
		}
	}
	if sawTransient {
		return "the transcription backends look temporarily unavailable; try again later"
	}
	return "the media produced no usable speech; check the audio track or try a different file"
}

// Unwrap exposes the first underlying failure for errors.Is/As chains.
func (e *AllMethodsExhaustedError) Unwrap() error {
	if len(e.Attempts) == 0 {
		return nil
	}
	return e.Attempts[0].Err
}

// ClassifyHTTP converts an HTTP response status into the taxonomy.
// 429 and 503 classify as overload, other 5xx as transient, remaining
// 4xx as fatal.
func ClassifyHTTP(provider string, status int, body string, err error) error {
	if err == nil {
		err = fmt.Errorf("status %d: %s", status, truncate(body, 200))
	}
	switch {
	case status == http.StatusTooManyRequests, status == http.StatusServiceUnavailable:
		return &TransientError{Provider: provider, StatusCode: status, Overloaded: true, Err: err}
	case status >= 500:
		return &TransientError{Provider: provider, StatusCode: status, Err: err}
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return &FatalError{Provider: provider, Reason: "rejected credentials", Err: err}
	case status == http.StatusRequestEntityTooLarge:
		return &FatalError{Provider: provider, Reason: "payload too large", Err: err}
	case status >= 400:
		return &FatalError{Provider: provider, Reason: "rejected input", Err: err}
	default:
		return &TransientError{Provider: provider, StatusCode: status, Err: err}
	}
}

// Classify bridges the taxonomy into the retry executor's classes.
func Classify(err error) retry.Class {
	var fatal *FatalError
	if errors.As(err, &fatal) {
		return retry.ClassFatal
	}
	var transient *TransientError
	if errors.As(err, &transient) {
		if transient.Overloaded || strings.Contains(strings.ToLower(transient.Error()), "overloaded") {
			return retry.ClassOverloaded
		}
		return retry.ClassTransient
	}
	var empty *EmptyResultError
	if errors.As(err, &empty) {
		// No point re-sending identical audio; fail the attempt.
		return retry.ClassFatal
	}
	return retry.ClassTransient
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
