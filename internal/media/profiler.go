package media

import (
	"context"
	"sort"
	"time"

	"github.com/MimeLyc/video-sub-transcriber/pkg/log"
)

const (
	defaultSampleWindow = 8 * time.Second

	// Absolute amplitude floor below which a tick is silence no matter
	// what the distribution says. Keeps dead tracks from producing a
	// zero threshold.
	silenceFloor = 0.004

	silenceCeil = 0.05
)

// Profiler estimates audio presence and quality of a source and
// recommends a processing pipeline. The recommendation governs attempt
// ordering only, never exclusivity.
type Profiler struct {
	prober    Prober
	extractor AudioExtractor
	window    time.Duration
}

func NewProfiler(prober Prober, extractor AudioExtractor) *Profiler {
	return &Profiler{
		prober:    prober,
		extractor: extractor,
		window:    defaultSampleWindow,
	}
}

// Profile inspects the source. Failure is reported as *ProfilingError so
// callers can substitute DefaultProfile; cancellation propagates as the
// context error.
func (p *Profiler) Profile(ctx context.Context, src Source) (*Profile, error) {
	info, err := p.prober.Probe(ctx, src)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &ProfilingError{Reason: "container probe", Err: err}
	}

	profile := &Profile{
		Duration:      info.Duration,
		Width:         info.Width,
		Height:        info.Height,
		HasAudioTrack: info.HasAudioTrack,
	}
	if profile.Duration == 0 {
		profile.Duration = src.Duration
	}

	if !info.HasAudioTrack {
		profile.SilenceRatio = 1
		profile.RecommendedPipeline = PipelineVisual
		return profile, nil
	}

	positions := sampleOffsets(profile.Duration, p.window)
	var samples []float64
	for _, offset := range positions {
		window, err := p.extractor.ExtractWindow(ctx, src, offset, p.window)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, &ProfilingError{Reason: "audio window decode", Err: err}
		}
		samples = append(samples, window...)
	}
	profile.SampledWindow = time.Duration(len(positions)) * p.window

	stats := analyzeSamples(samples)
	profile.AvgLoudness = stats.avg
	profile.PeakLoudness = stats.peak
	profile.SilenceRatio = stats.silenceRatio
	profile.RecommendedPipeline = classify(profile)

	log.Debug("Profiled %s: avg=%.4f peak=%.4f silence=%.2f pipeline=%s",
		src.Path, stats.avg, stats.peak, stats.silenceRatio, profile.RecommendedPipeline)
	return profile, nil
}

// sampleOffsets spreads 1-3 window positions across the timeline, more
// positions for longer media.
func sampleOffsets(duration, window time.Duration) []time.Duration {
	count := 1
	switch {
	case duration >= 20*time.Minute:
		count = 3
	case duration >= 5*time.Minute:
		count = 2
	}

	offsets := make([]time.Duration, 0, count)
	for i := 0; i < count; i++ {
		center := duration * time.Duration(i+1) / time.Duration(count+1)
		offset := center - window/2
		if offset < 0 {
			offset = 0
		}
		offsets = append(offsets, offset)
	}
	return offsets
}

type sampleStats struct {
	avg          float64
	peak         float64
	silenceRatio float64
}

// analyzeSamples computes mean and peak absolute amplitude and the
// silence ratio. The silence threshold comes from the sample
// distribution's lower quartile rather than a fixed constant, so quiet
// but present speech is not misread as silence.
func analyzeSamples(samples []float64) sampleStats {
	if len(samples) == 0 {
		return sampleStats{silenceRatio: 1}
	}

	abs := make([]float64, len(samples))
	var sum float64
	var peak float64
	for i, s := range samples {
		if s < 0 {
			s = -s
		}
		abs[i] = s
		sum += s
		if s > peak {
			peak = s
		}
	}

	sort.Float64s(abs)
	q25 := abs[len(abs)/4]
	median := abs[len(abs)/2]

	threshold := q25 * 1.5
	if median*0.5 > threshold {
		threshold = median * 0.5
	}
	if threshold < silenceFloor {
		threshold = silenceFloor
	}
	if threshold > silenceCeil {
		threshold = silenceCeil
	}

	below := sort.SearchFloat64s(abs, threshold)
	return sampleStats{
		avg:          sum / float64(len(samples)),
		peak:         peak,
		silenceRatio: float64(below) / float64(len(abs)),
	}
}

func classify(p *Profile) Pipeline {
	switch {
	case !p.HasAudioTrack, p.AvgLoudness < 0.008, p.SilenceRatio > 0.92:
		return PipelineVisual
	case p.AvgLoudness < 0.02, p.SilenceRatio > 0.65:
		return PipelineHybrid
	default:
		return PipelineAudio
	}
}
