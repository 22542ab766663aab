package transcribe

import (
	"context"
	"time"

	"github.com/MimeLyc/video-sub-transcriber/internal/media"
	"github.com/MimeLyc/video-sub-transcriber/internal/subtitle"
)

// ProgressFunc narrates pipeline stages to the caller, progress 0..100.
type ProgressFunc func(stage string, progress int)

// Options carries the per-request sinks and hints every adapter accepts.
type Options struct {
	// LanguageHint is a BCP-47 tag or "auto".
	LanguageHint string
	// OnProgress receives stage narration. Optional.
	OnProgress ProgressFunc
	// OnText receives streaming raw text for live preview. Optional.
	OnText func(text string)
	// OnPartial receives the accumulated normalized segments so far.
	// Optional.
	OnPartial func(segments []subtitle.Segment)
}

func (o Options) Progress(stage string, progress int) {
	if o.OnProgress != nil {
		o.OnProgress(stage, progress)
	}
}

func (o Options) Text(text string) {
	if o.OnText != nil {
		o.OnText(text)
	}
}

func (o Options) Partial(segments []subtitle.Segment) {
	if o.OnPartial != nil {
		o.OnPartial(segments)
	}
}

// Result is a backend-agnostic transcription result normalized to
// segments plus the provider tag that produced it.
type Result struct {
	Segments []subtitle.Segment
	Provider string
}

// Token is one raw recognized word or fragment before grouping.
type Token struct {
	Start time.Duration
	End   time.Duration
	Text  string
}

// ProviderAdapter is the uniform transcription capability. Adapters are
// interchangeable to the router: identical contract, different
// cost/latency/size profile. Transport-level retries belong to the
// adapter; business-logic retries belong to the router.
type ProviderAdapter interface {
	// Name is the provider tag recorded in outcomes and cache entries.
	Name() string
	// MaxPayloadBytes is the adapter's own upload ceiling.
	MaxPayloadBytes() int64
	Transcribe(ctx context.Context, src media.Source, opts Options) (*Result, error)
}
