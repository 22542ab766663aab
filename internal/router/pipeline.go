package router

import (
	"github.com/MimeLyc/video-sub-transcriber/internal/media"
	"github.com/MimeLyc/video-sub-transcriber/internal/transcribe"
	"github.com/MimeLyc/video-sub-transcriber/pkg/log"
)

const (
	pipelineAudio  = "audio"
	pipelineVisual = "visual"
)

// attempt is one planned provider invocation.
type attempt struct {
	pipeline string
	adapter  transcribe.ProviderAdapter
	split    bool
}

// plan orders the attempts for a request. The profile's recommendation
// governs ordering, never exclusivity: visual leads only when there is
// no audio-track evidence at all. Long media forces audio-first because
// short-window sampling is unreliable at scale on sparse-dialogue
// content, and skips the visual fallback unless configured otherwise.
func (r *Router) plan(profile *media.Profile, src media.Source) []attempt {
	long := src.Duration >= r.cfg.LongMediaThreshold
	split := long && r.cfg.Processor != nil

	audio := make([]attempt, 0, len(r.cfg.Providers))
	for _, p := range r.cfg.Providers {
		audio = append(audio, attempt{pipeline: pipelineAudio, adapter: p, split: split})
	}

	var visual []attempt
	if r.cfg.Visual != nil {
		visual = []attempt{{pipeline: pipelineVisual, adapter: r.cfg.Visual}}
	}

	switch {
	case !profile.HasAudioTrack:
		return append(visual, audio...)
	case long && !r.cfg.LongMediaVisualFallback:
		if profile.RecommendedPipeline == media.PipelineVisual {
			log.Info("Long media overrides visual recommendation, forcing audio-first")
		}
		return audio
	default:
		return append(audio, visual...)
	}
}
