package media

import (
	"context"
	"fmt"
	"time"
)

// Pipeline is the strategy recommended for turning media into subtitles.
type Pipeline string

const (
	PipelineAudio  Pipeline = "audio"
	PipelineVisual Pipeline = "visual"
	PipelineHybrid Pipeline = "hybrid"
)

// Source identifies a media byte source with its probed size and duration.
type Source struct {
	Path     string
	Size     int64
	Duration time.Duration
}

// Profile holds what profiling learned about a source. It is created once
// per request and is advisory only; the router may override its
// recommendation.
type Profile struct {
	Duration            time.Duration
	Width               int
	Height              int
	HasAudioTrack       bool
	AvgLoudness         float64 // mean absolute amplitude, 0..1
	PeakLoudness        float64 // peak absolute amplitude, 0..1
	SilenceRatio        float64 // fraction of sampled ticks below the silence threshold
	RecommendedPipeline Pipeline
	SampledWindow       time.Duration // total audio time inspected
}

// Info is what a container probe reports before any decoding.
type Info struct {
	Duration      time.Duration
	Width         int
	Height        int
	HasAudioTrack bool
}

// Frame is a single sampled video frame.
type Frame struct {
	Timestamp time.Duration
	JPEG      []byte
}

// Clip is a compressed time-bounded audio excerpt of a source.
type Clip struct {
	Data     []byte
	MIME     string
	Start    time.Duration
	Length   time.Duration
	FileName string
}

// Prober inspects a container without decoding its streams.
type Prober interface {
	Probe(ctx context.Context, src Source) (*Info, error)
}

// AudioExtractor decodes a short mono PCM window at an offset, normalized
// to [-1, 1] samples.
type AudioExtractor interface {
	ExtractWindow(ctx context.Context, src Source, offset, window time.Duration) ([]float64, error)
}

// FrameSampler captures still frames at the given timestamps.
type FrameSampler interface {
	SampleFrames(ctx context.Context, src Source, at []time.Duration) ([]Frame, error)
}

// ClipCutter cuts a time-bounded sub-clip of the source into compressed
// audio suitable for upload.
type ClipCutter interface {
	CutClip(ctx context.Context, src Source, start, length time.Duration) (*Clip, error)
}

// ProfilingError marks a profiling failure. It is non-fatal: callers
// substitute DefaultProfile and continue.
type ProfilingError struct {
	Reason string
	Err    error
}

func (e *ProfilingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("profiling failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("profiling failed: %s", e.Reason)
}

func (e *ProfilingError) Unwrap() error {
	return e.Err
}

// DefaultProfile is the substitute used when profiling fails: assume an
// audio track and the reported duration.
func DefaultProfile(src Source) *Profile {
	return &Profile{
		Duration:            src.Duration,
		HasAudioTrack:       true,
		RecommendedPipeline: PipelineAudio,
	}
}
