package provider

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/MimeLyc/video-sub-transcriber/internal/subtitle"
	"github.com/MimeLyc/video-sub-transcriber/internal/transcribe"
)

func asTransient(err error, target **transcribe.TransientError) bool {
	return errors.As(err, target)
}

// classifyLLMError maps an llm client failure into the provider error
// taxonomy using the HTTP status when one is available.
func classifyLLMError(provider string, status int, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if status == 0 || status == http.StatusOK {
		return &transcribe.TransientError{Provider: provider, Err: err}
	}
	return transcribe.ClassifyHTTP(provider, status, "", err)
}

// parseSRTReply extracts segments from a model reply expected to be SRT.
// Replies wrapped in markdown fences are unwrapped first.
func parseSRTReply(reply string) ([]subtitle.Segment, error) {
	segments, err := subtitle.FromSRT(stripFences(reply))
	if err != nil {
		return nil, err
	}
	return subtitle.Normalize(segments), nil
}

func stripFences(s string) string {
	const fence = "```"
	start := strings.Index(s, fence)
	if start < 0 {
		return s
	}
	start += len(fence)
	// Skip an optional language tag on the fence line.
	if nl := strings.IndexByte(s[start:], '\n'); nl >= 0 {
		start += nl + 1
	}
	end := strings.LastIndex(s, fence)
	if end <= start {
		return s
	}
	return s[start:end]
}
