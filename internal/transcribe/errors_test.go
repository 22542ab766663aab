package transcribe

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MimeLyc/video-sub-transcriber/internal/retry"
)

func TestClassifyHTTP(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		wantClass  retry.Class
		wantFatal  bool
		overloaded bool
	}{
		{name: "rate limited", status: 429, wantClass: retry.ClassOverloaded, overloaded: true},
		{name: "unavailable", status: 503, wantClass: retry.ClassOverloaded, overloaded: true},
		{name: "server error", status: 500, wantClass: retry.ClassTransient},
		{name: "bad gateway", status: 502, wantClass: retry.ClassTransient},
		{name: "unauthorized", status: 401, wantClass: retry.ClassFatal, wantFatal: true},
		{name: "forbidden", status: 403, wantClass: retry.ClassFatal, wantFatal: true},
		{name: "payload too large", status: 413, wantClass: retry.ClassFatal, wantFatal: true},
		{name: "bad request", status: 400, wantClass: retry.ClassFatal, wantFatal: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ClassifyHTTP("whisper", tt.status, "details", nil)
			assert.Equal(t, tt.wantClass, Classify(err))

			var fatal *FatalError
			assert.Equal(t, tt.wantFatal, errors.As(err, &fatal))

			if tt.overloaded {
				var transient *TransientError
				require.ErrorAs(t, err, &transient)
				assert.True(t, transient.Overloaded)
			}
		})
	}
}

func TestClassify_EmptyResultIsNotRetried(t *testing.T) {
	err := &EmptyResultError{Provider: "whisper"}
	assert.Equal(t, retry.ClassFatal, Classify(err))
}

func TestClassify_UnknownErrorIsTransient(t *testing.T) {
	assert.Equal(t, retry.ClassTransient, Classify(errors.New("connection reset")))
}

func TestAllMethodsExhausted_RemediationNamesConfiguration(t *testing.T) {
	err := &AllMethodsExhaustedError{Attempts: []AttemptFailure{
		{Pipeline: "audio", Provider: "whisper", Err: &FatalError{Provider: "whisper", Reason: "api key not configured"}},
	}}

	assert.Contains(t, err.Remediation(), "configure an API key")
	assert.Contains(t, err.Error(), "whisper")
}

func TestAllMethodsExhausted_RemediationNamesInputSize(t *testing.T) {
	err := &AllMethodsExhaustedError{Attempts: []AttemptFailure{
		{Pipeline: "audio", Provider: "whisper", Err: &FatalError{Provider: "whisper", Reason: "payload too large"}},
	}}

	assert.Contains(t, err.Remediation(), "shorter clip")
}

func TestAllMethodsExhausted_RemediationNamesOutage(t *testing.T) {
	err := &AllMethodsExhaustedError{Attempts: []AttemptFailure{
		{Pipeline: "audio", Provider: "whisper", Err: &TransientError{Provider: "whisper", StatusCode: 503, Overloaded: true}},
		{Pipeline: "visual", Provider: "vision", Err: &TransientError{Provider: "vision", StatusCode: 500}},
	}}

	assert.Contains(t, err.Remediation(), "try again later")
}

func TestAllMethodsExhausted_KeepsUnderlyingDetail(t *testing.T) {
	inner := errors.New("dns lookup failed")
	err := &AllMethodsExhaustedError{Attempts: []AttemptFailure{
		{Pipeline: "audio", Provider: "whisper", Err: &TransientError{Provider: "whisper", Err: inner}},
	}}

	require.ErrorIs(t, err, inner, "router context must not mask diagnostic detail")
	assert.Contains(t, err.Error(), "dns lookup failed")
}
