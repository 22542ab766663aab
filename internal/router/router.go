package router

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
	"golang.org/x/text/language"

	"github.com/MimeLyc/video-sub-transcriber/internal/cache"
	"github.com/MimeLyc/video-sub-transcriber/internal/media"
	"github.com/MimeLyc/video-sub-transcriber/internal/retry"
	"github.com/MimeLyc/video-sub-transcriber/internal/splitter"
	"github.com/MimeLyc/video-sub-transcriber/internal/subtitle"
	"github.com/MimeLyc/video-sub-transcriber/internal/transcribe"
	"github.com/MimeLyc/video-sub-transcriber/pkg/log"
)

// Profiler inspects a source ahead of the pipeline decision.
type Profiler interface {
	Profile(ctx context.Context, src media.Source) (*media.Profile, error)
}

// Config wires the router's collaborators and policies.
type Config struct {
	// Providers are the audio adapters in attempt order.
	Providers []transcribe.ProviderAdapter
	// Visual is the frame-based fallback, attempted at most once per
	// request. Optional.
	Visual transcribe.ProviderAdapter
	Cache  cache.Store
	// Profiler failures are non-fatal; a default profile substitutes.
	Profiler Profiler
	// Processor runs windowed transcription for long media. Optional;
	// without it long media goes through adapters whole.
	Processor *splitter.Processor
	Split     splitter.Config

	// LongMediaThreshold marks where short-window profiling stops being
	// trustworthy: at or past it audio-first ordering is forced and the
	// source is split into windows.
	LongMediaThreshold time.Duration
	// LongMediaVisualFallback allows the visual fallback for long media
	// with an audio track. Off by default: frame sampling at that scale
	// produces sparse, low-fidelity output.
	LongMediaVisualFallback bool

	MaxRetries   int
	BaseDelay    time.Duration
	SaveInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.LongMediaThreshold <= 0 {
		c.LongMediaThreshold = 30 * time.Minute
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 2
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 2 * time.Second
	}
	if c.SaveInterval <= 0 {
		c.SaveInterval = 5 * time.Second
	}
	return c
}

// Request is one transcription job.
type Request struct {
	Source media.Source
	// ContentKey is the content hash of the source bytes. Computed from
	// Source.Path when empty.
	ContentKey string
	Options    transcribe.Options
}

// Outcome is the terminal result of a routed request.
type Outcome struct {
	RequestID string
	Segments  []subtitle.Segment
	SRT       string
	Provider  string
	Language  language.Tag
	FromCache bool
	Elapsed   time.Duration
}

// Router drives one request through cache check, profiling, ordered
// provider attempts and the visual fallback. Attempts within a request
// are strictly sequential; concurrent requests for the same content
// hash share a single generation.
type Router struct {
	cfg   Config
	group singleflight.Group
}

func New(cfg Config) *Router {
	return &Router{cfg: cfg.withDefaults()}
}

func (r *Router) Transcribe(ctx context.Context, req Request) (*Outcome, error) {
	started := time.Now()
	requestID := uuid.NewString()

	key := req.ContentKey
	if key == "" {
		var err error
		key, err = cache.HashFile(req.Source.Path)
		if err != nil {
			return nil, fmt.Errorf("hash source: %w", err)
		}
	}

	log.Info("Transcription request %s for key %s (%s, %d bytes)",
		requestID, key, req.Source.Duration, req.Source.Size)

	v, err, shared := r.group.Do(key, func() (interface{}, error) {
		return r.run(ctx, key, req)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		log.Debug("Request %s joined an in-flight generation for key %s", requestID, key)
	}

	out := *v.(*Outcome)
	out.RequestID = requestID
	out.Elapsed = time.Since(started)
	return &out, nil
}

func (r *Router) run(ctx context.Context, key string, req Request) (*Outcome, error) {
	opts := req.Options

	opts.Progress("checking cache", 2)
	if out, seeded := r.checkCache(ctx, key, opts); out != nil {
		return out, nil
	} else if seeded {
		opts.Progress("resuming from partial transcript", 4)
	}

	opts.Progress("profiling media", 6)
	profile := r.profile(ctx, req.Source)
	log.Info("Profile for key %s: pipeline=%s audioTrack=%t avg=%.4f silence=%.2f",
		key, profile.RecommendedPipeline, profile.HasAudioTrack, profile.AvgLoudness, profile.SilenceRatio)

	var failures []transcribe.AttemptFailure
	for _, att := range r.plan(profile, req.Source) {
		if err := ctx.Err(); err != nil {
			opts.Progress("cancelled", 0)
			return nil, err
		}
		if att.pipeline == pipelineVisual {
			opts.Progress("switching to visual analysis", 8)
		} else {
			opts.Progress(fmt.Sprintf("transcribing with %s", att.adapter.Name()), 8)
		}

		segments, err := r.attempt(ctx, key, att, req.Source, opts)
		if err != nil {
			if ctx.Err() != nil {
				// Partial progress already persisted stays in the cache
				// for resumption.
				opts.Progress("cancelled", 0)
				return nil, ctx.Err()
			}
			log.Warn("Attempt %s/%s for key %s failed: %v", att.pipeline, att.adapter.Name(), key, err)
			failures = append(failures, transcribe.AttemptFailure{
				Pipeline: att.pipeline,
				Provider: att.adapter.Name(),
				Err:      err,
			})
			continue
		}

		return r.finish(ctx, key, req.Source, att.adapter.Name(), segments, opts), nil
	}

	exhausted := &transcribe.AllMethodsExhaustedError{Attempts: failures}
	log.Error("Key %s exhausted all methods: %v (%s)", key, exhausted, exhausted.Remediation())
	opts.Progress("failed", 0)
	return nil, exhausted
}

// checkCache returns a finished outcome for a complete hit, or reports
// whether a partial hit seeded the caller's progress sinks.
func (r *Router) checkCache(ctx context.Context, key string, opts transcribe.Options) (*Outcome, bool) {
	lookup, err := r.cfg.Cache.Get(ctx, key, true)
	if err != nil {
		log.Warn("Cache lookup for key %s failed: %v", key, err)
		return nil, false
	}
	if !lookup.Hit {
		return nil, false
	}

	segments, err := subtitle.FromSRT(lookup.Entry.Content)
	if err != nil || len(segments) == 0 {
		log.Warn("Discarding undecodable cache entry for key %s: %v", key, err)
		return nil, false
	}

	if lookup.Entry.Status == cache.StatusComplete {
		log.Info("Complete cache hit for key %s (%d segments, provider %s)",
			key, len(segments), lookup.Entry.Provider)
		opts.Progress("done", 100)
		return &Outcome{
			Segments:  segments,
			SRT:       lookup.Entry.Content,
			Provider:  lookup.Entry.Provider,
			Language:  subtitle.DetectLanguage(segments),
			FromCache: true,
		}, false
	}

	opts.Partial(segments)
	return nil, true
}

func (r *Router) profile(ctx context.Context, src media.Source) *media.Profile {
	if r.cfg.Profiler == nil {
		return media.DefaultProfile(src)
	}
	profile, err := r.cfg.Profiler.Profile(ctx, src)
	if err != nil {
		log.Warn("Profiling failed, assuming audio: %v", err)
		return media.DefaultProfile(src)
	}
	return profile
}

// attempt runs one adapter through the retry executor, bridging its
// incremental output into durable partial cache writes.
func (r *Router) attempt(ctx context.Context, key string, att attempt, src media.Source, opts transcribe.Options) ([]subtitle.Segment, error) {
	provider := att.adapter.Name()
	saver, attemptOpts := r.newSaver(ctx, key, provider, src, opts)

	policy := retry.Policy{
		MaxRetries: r.cfg.MaxRetries,
		BaseDelay:  r.cfg.BaseDelay,
		Classify:   transcribe.Classify,
		OnRetry: func(n int, err error) {
			log.Warn("Retrying %s (attempt %d): %v", provider, n, err)
			opts.Progress(fmt.Sprintf("retrying %s (attempt %d)", provider, n), 8)
		},
	}

	result, err := retry.Do(ctx, policy, func() (*transcribe.Result, error) {
		if att.split {
			windows := splitter.Split(src.Duration, r.cfg.Split)
			segments, err := r.cfg.Processor.Process(ctx, src, windows, att.adapter, attemptOpts)
			if err != nil {
				return nil, err
			}
			return &transcribe.Result{Segments: segments, Provider: provider}, nil
		}
		return att.adapter.Transcribe(ctx, src, attemptOpts)
	})
	if err != nil {
		// Keep whatever partial coverage the attempt produced around
		// for the next attempt or a later resumption.
		if flushErr := saver.Flush(context.WithoutCancel(ctx)); flushErr != nil {
			log.Debug("Partial flush after failed attempt: %v", flushErr)
		}
		return nil, err
	}

	segments := subtitle.Normalize(result.Segments)
	if len(segments) == 0 {
		return nil, &transcribe.EmptyResultError{Provider: provider}
	}
	return segments, nil
}

// newSaver builds the incremental saver persisting partial progress for
// this attempt, and the adapter options that feed it. Adapters report
// accumulated segments; only the growth since the last report is
// buffered.
func (r *Router) newSaver(ctx context.Context, key, provider string, src media.Source, opts transcribe.Options) (*transcribe.IncrementalSaver, transcribe.Options) {
	var persisted []subtitle.Segment
	sink := func(ctx context.Context, batch []subtitle.Segment) error {
		merged := subtitle.Normalize(append(persisted, batch...))
		err := r.cfg.Cache.PutPartial(ctx, key, subtitle.ToSRT(merged), cache.Meta{
			Provider:       provider,
			SegmentCount:   len(merged),
			SourceSize:     src.Size,
			SourceDuration: src.Duration,
		})
		if err != nil {
			return err
		}
		persisted = merged
		return nil
	}
	saver := transcribe.NewIncrementalSaver(r.cfg.SaveInterval, sink, retry.Policy{
		MaxRetries: 1,
		BaseDelay:  200 * time.Millisecond,
	})

	attemptOpts := opts
	var reported int
	attemptOpts.OnPartial = func(segments []subtitle.Segment) {
		opts.Partial(segments)
		if len(segments) > reported {
			saver.Add(ctx, segments[reported:])
			reported = len(segments)
		}
	}
	return saver, attemptOpts
}

// finish validates, caches and packages a successful attempt.
func (r *Router) finish(ctx context.Context, key string, src media.Source, provider string, segments []subtitle.Segment, opts transcribe.Options) *Outcome {
	srt := subtitle.ToSRT(segments)
	err := r.cfg.Cache.PutComplete(ctx, key, srt, cache.Meta{
		Provider:       provider,
		SegmentCount:   len(segments),
		SourceSize:     src.Size,
		SourceDuration: src.Duration,
	})
	if err != nil {
		// The transcript is still good; only resumption speed suffers.
		log.Warn("Caching complete result for key %s failed: %v", key, err)
	}

	opts.Partial(segments)
	opts.Progress("done", 100)
	return &Outcome{
		Segments: segments,
		SRT:      srt,
		Provider: provider,
		Language: subtitle.DetectLanguage(segments),
	}
}

// Cancelled reports whether a transcription error is the caller's own
// cancellation rather than a pipeline failure.
func Cancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
