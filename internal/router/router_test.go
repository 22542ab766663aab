package router

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MimeLyc/video-sub-transcriber/internal/cache"
	"github.com/MimeLyc/video-sub-transcriber/internal/media"
	"github.com/MimeLyc/video-sub-transcriber/internal/splitter"
	"github.com/MimeLyc/video-sub-transcriber/internal/subtitle"
	"github.com/MimeLyc/video-sub-transcriber/internal/transcribe"
)

type memStore struct {
	mu           sync.Mutex
	entries      map[string]cache.Entry
	completePuts int
	partialPuts  int
}

func newMemStore() *memStore {
	return &memStore{entries: map[string]cache.Entry{}}
}

func (s *memStore) Get(_ context.Context, key string, includePartial bool) (cache.Lookup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	if !ok || (entry.Status == cache.StatusPartial && !includePartial) {
		return cache.Lookup{}, nil
	}
	return cache.Lookup{Hit: true, Entry: entry}, nil
}

func (s *memStore) PutComplete(_ context.Context, key, content string, meta cache.Meta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completePuts++
	s.entries[key] = cache.Entry{Key: key, Content: content, SegmentCount: meta.SegmentCount, Status: cache.StatusComplete, Provider: meta.Provider}
	return nil
}

func (s *memStore) PutPartial(_ context.Context, key, content string, meta cache.Meta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.partialPuts++
	if existing, ok := s.entries[key]; ok && (existing.Status == cache.StatusComplete || existing.SegmentCount > meta.SegmentCount) {
		return nil
	}
	s.entries[key] = cache.Entry{Key: key, Content: content, SegmentCount: meta.SegmentCount, Status: cache.StatusPartial, Provider: meta.Provider}
	return nil
}

func (s *memStore) Prune(context.Context, time.Duration) (int64, error) { return 0, nil }
func (s *memStore) Close() error                                        { return nil }

type fakeProfiler struct {
	calls   atomic.Int32
	profile *media.Profile
	err     error
}

func (p *fakeProfiler) Profile(_ context.Context, src media.Source) (*media.Profile, error) {
	p.calls.Add(1)
	if p.err != nil {
		return nil, p.err
	}
	if p.profile != nil {
		return p.profile, nil
	}
	return media.DefaultProfile(src), nil
}

// scriptedAdapter returns the scripted errors in order, then succeeds
// with one segment spanning the source it was handed.
type scriptedAdapter struct {
	name  string
	fails []error
	delay time.Duration
	calls atomic.Int32
}

func (a *scriptedAdapter) Name() string           { return a.name }
func (a *scriptedAdapter) MaxPayloadBytes() int64 { return 1 << 30 }

func (a *scriptedAdapter) Transcribe(ctx context.Context, src media.Source, opts transcribe.Options) (*transcribe.Result, error) {
	call := int(a.calls.Add(1))
	if a.delay > 0 {
		select {
		case <-time.After(a.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if call <= len(a.fails) {
		return nil, a.fails[call-1]
	}
	segments := []subtitle.Segment{
		{Index: 1, StartTime: 0, EndTime: src.Duration, Text: "spoken line"},
	}
	opts.Partial(segments)
	return &transcribe.Result{Segments: segments, Provider: a.name}, nil
}

func testRouter(store cache.Store, profiler Profiler, visual transcribe.ProviderAdapter, providers ...transcribe.ProviderAdapter) *Router {
	return New(Config{
		Providers:    providers,
		Visual:       visual,
		Cache:        store,
		Profiler:     profiler,
		MaxRetries:   2,
		BaseDelay:    time.Millisecond,
		SaveInterval: time.Millisecond,
	})
}

func shortRequest() Request {
	return Request{
		Source:     media.Source{Path: "clip.mp4", Size: 1 << 20, Duration: 3 * time.Minute},
		ContentKey: "abc123",
	}
}

func TestRouter_CompleteCacheHitShortCircuits(t *testing.T) {
	segments := []subtitle.Segment{{Index: 1, StartTime: 0, EndTime: 2 * time.Second, Text: "cached line"}}
	store := newMemStore()
	require.NoError(t, store.PutComplete(context.Background(), "abc123", subtitle.ToSRT(segments), cache.Meta{Provider: "whisper", SegmentCount: 1}))

	profiler := &fakeProfiler{}
	adapter := &scriptedAdapter{name: "whisper"}
	r := testRouter(store, profiler, nil, adapter)

	out, err := r.Transcribe(context.Background(), shortRequest())
	require.NoError(t, err)
	assert.True(t, out.FromCache)
	assert.Equal(t, "whisper", out.Provider)
	assert.Equal(t, "cached line", out.Segments[0].Text)
	assert.NotEmpty(t, out.RequestID)

	// One step: neither profiling nor any provider ran.
	assert.Zero(t, profiler.calls.Load())
	assert.Zero(t, adapter.calls.Load())
}

func TestRouter_PartialHitSeedsProgressAndContinues(t *testing.T) {
	partial := []subtitle.Segment{{Index: 1, StartTime: 0, EndTime: time.Second, Text: "resumed line"}}
	store := newMemStore()
	require.NoError(t, store.PutPartial(context.Background(), "abc123", subtitle.ToSRT(partial), cache.Meta{Provider: "whisper", SegmentCount: 1}))

	adapter := &scriptedAdapter{name: "whisper"}
	r := testRouter(store, &fakeProfiler{}, nil, adapter)

	var seeded []subtitle.Segment
	var once sync.Once
	req := shortRequest()
	req.Options.OnPartial = func(segments []subtitle.Segment) {
		once.Do(func() { seeded = segments })
	}

	out, err := r.Transcribe(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, out.FromCache)
	assert.EqualValues(t, 1, adapter.calls.Load())
	require.Len(t, seeded, 1)
	assert.Equal(t, "resumed line", seeded[0].Text)
}

func TestRouter_NoAudioTrackGoesStraightToVisual(t *testing.T) {
	profiler := &fakeProfiler{profile: &media.Profile{
		Duration:            45 * time.Minute,
		HasAudioTrack:       false,
		SilenceRatio:        1,
		RecommendedPipeline: media.PipelineVisual,
	}}
	audio := &scriptedAdapter{name: "whisper"}
	visual := &scriptedAdapter{name: "vision"}
	r := testRouter(newMemStore(), profiler, visual, audio)

	req := shortRequest()
	req.Source.Duration = 45 * time.Minute

	out, err := r.Transcribe(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "vision", out.Provider)
	assert.EqualValues(t, 1, visual.calls.Load())
	assert.Zero(t, audio.calls.Load())
}

func TestRouter_EmptyAudioResultsFallBackToVisualOnce(t *testing.T) {
	empty := &transcribe.EmptyResultError{Provider: "whisper"}
	audio1 := &scriptedAdapter{name: "whisper", fails: []error{empty, empty, empty}}
	audio2 := &scriptedAdapter{name: "chat-audio", fails: []error{&transcribe.EmptyResultError{Provider: "chat-audio"}}}
	visual := &scriptedAdapter{name: "vision", fails: []error{&transcribe.EmptyResultError{Provider: "vision"}}}
	r := testRouter(newMemStore(), &fakeProfiler{}, visual, audio1, audio2)

	_, err := r.Transcribe(context.Background(), shortRequest())
	var exhausted *transcribe.AllMethodsExhaustedError
	require.ErrorAs(t, err, &exhausted)

	// Empty results are not retried, and visual ran exactly once.
	assert.EqualValues(t, 1, audio1.calls.Load())
	assert.EqualValues(t, 1, audio2.calls.Load())
	assert.EqualValues(t, 1, visual.calls.Load())
	require.Len(t, exhausted.Attempts, 3)
	assert.Equal(t, "vision", exhausted.Attempts[2].Provider)
}

func TestRouter_TransientFailureRetriesThenSucceeds(t *testing.T) {
	adapter := &scriptedAdapter{name: "whisper", fails: []error{
		&transcribe.TransientError{Provider: "whisper", StatusCode: 500, Err: fmt.Errorf("bad gateway")},
		&transcribe.TransientError{Provider: "whisper", StatusCode: 500, Err: fmt.Errorf("bad gateway")},
	}}
	store := newMemStore()
	r := testRouter(store, &fakeProfiler{}, nil, adapter)

	out, err := r.Transcribe(context.Background(), shortRequest())
	require.NoError(t, err)
	assert.Equal(t, "whisper", out.Provider)
	assert.EqualValues(t, 3, adapter.calls.Load())
	assert.Equal(t, 1, store.completePuts)
}

func TestRouter_FatalConfigErrorSkipsRetries(t *testing.T) {
	broken := &scriptedAdapter{name: "whisper", fails: []error{
		&transcribe.FatalError{Provider: "whisper", Reason: "api key not configured"},
	}}
	healthy := &scriptedAdapter{name: "chat-audio"}
	r := testRouter(newMemStore(), &fakeProfiler{}, nil, broken, healthy)

	out, err := r.Transcribe(context.Background(), shortRequest())
	require.NoError(t, err)
	assert.Equal(t, "chat-audio", out.Provider)
	assert.EqualValues(t, 1, broken.calls.Load(), "fatal errors must not consume retry slots")
}

func TestRouter_ExhaustionNamesRemediation(t *testing.T) {
	broken := &scriptedAdapter{name: "whisper", fails: []error{
		&transcribe.FatalError{Provider: "whisper", Reason: "api key not configured"},
	}}
	r := testRouter(newMemStore(), &fakeProfiler{}, nil, broken)

	_, err := r.Transcribe(context.Background(), shortRequest())
	var exhausted *transcribe.AllMethodsExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Contains(t, exhausted.Remediation(), "configure an API key")
}

func TestRouter_LongMediaSplitsAcrossWindows(t *testing.T) {
	adapter := &windowedAdapter{name: "whisper"}
	store := newMemStore()
	r := New(Config{
		Providers:    []transcribe.ProviderAdapter{adapter},
		Cache:        store,
		Profiler:     &fakeProfiler{},
		Processor:    splitter.NewProcessor(stubCutter{}, 0),
		MaxRetries:   1,
		BaseDelay:    time.Millisecond,
		SaveInterval: time.Millisecond,
	})

	req := shortRequest()
	req.Source.Duration = 90 * time.Minute

	out, err := r.Transcribe(context.Background(), req)
	require.NoError(t, err)
	assert.EqualValues(t, 30, adapter.calls.Load())
	require.Len(t, out.Segments, 30)
	assert.Equal(t, 90*time.Minute, out.Segments[len(out.Segments)-1].EndTime)
	assert.Greater(t, store.partialPuts, 0, "window completions persist partial progress")
}

func TestRouter_LongMediaForcesAudioFirstOverVisualRecommendation(t *testing.T) {
	profiler := &fakeProfiler{profile: &media.Profile{
		Duration:            45 * time.Minute,
		HasAudioTrack:       true,
		SilenceRatio:        0.95,
		RecommendedPipeline: media.PipelineVisual,
	}}
	audio := &scriptedAdapter{name: "whisper", fails: []error{&transcribe.EmptyResultError{Provider: "whisper"}}}
	visual := &scriptedAdapter{name: "vision"}
	r := testRouter(newMemStore(), profiler, visual, audio)

	req := shortRequest()
	req.Source.Duration = 45 * time.Minute

	_, err := r.Transcribe(context.Background(), req)
	var exhausted *transcribe.AllMethodsExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.EqualValues(t, 1, audio.calls.Load())
	assert.Zero(t, visual.calls.Load(), "long media with an audio track never falls back to visual by default")
}

func TestRouter_LongMediaVisualFallbackConfigurable(t *testing.T) {
	audio := &scriptedAdapter{name: "whisper", fails: []error{&transcribe.EmptyResultError{Provider: "whisper"}}}
	visual := &scriptedAdapter{name: "vision"}
	r := New(Config{
		Providers:               []transcribe.ProviderAdapter{audio},
		Visual:                  visual,
		Cache:                   newMemStore(),
		Profiler:                &fakeProfiler{},
		LongMediaVisualFallback: true,
		MaxRetries:              1,
		BaseDelay:               time.Millisecond,
	})

	req := shortRequest()
	req.Source.Duration = 45 * time.Minute

	out, err := r.Transcribe(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "vision", out.Provider)
}

func TestRouter_ProfilingFailureFallsBackToDefaultProfile(t *testing.T) {
	profiler := &fakeProfiler{err: &media.ProfilingError{Reason: "probe failed"}}
	adapter := &scriptedAdapter{name: "whisper"}
	r := testRouter(newMemStore(), profiler, nil, adapter)

	out, err := r.Transcribe(context.Background(), shortRequest())
	require.NoError(t, err)
	assert.Equal(t, "whisper", out.Provider)
}

func TestRouter_CancellationIsDistinguishable(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	adapter := &scriptedAdapter{name: "whisper", delay: time.Second}
	r := testRouter(newMemStore(), &fakeProfiler{}, nil, adapter)

	_, err := r.Transcribe(ctx, shortRequest())
	require.Error(t, err)
	assert.True(t, Cancelled(err))

	var exhausted *transcribe.AllMethodsExhaustedError
	assert.False(t, errors.As(err, &exhausted), "cancellation must not surface as exhaustion")
}

func TestRouter_ConcurrentRequestsForOneKeyShareGeneration(t *testing.T) {
	adapter := &scriptedAdapter{name: "whisper", delay: 50 * time.Millisecond}
	r := testRouter(newMemStore(), &fakeProfiler{}, nil, adapter)

	var wg sync.WaitGroup
	outcomes := make([]*Outcome, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i], errs[i] = r.Transcribe(context.Background(), shortRequest())
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.EqualValues(t, 1, adapter.calls.Load(), "same content hash must not generate twice")
	assert.NotEqual(t, outcomes[0].RequestID, outcomes[1].RequestID)
	assert.Equal(t, outcomes[0].SRT, outcomes[1].SRT)
}

func TestRouter_SuccessWritesCompleteCacheEntry(t *testing.T) {
	store := newMemStore()
	adapter := &scriptedAdapter{name: "whisper"}
	r := testRouter(store, &fakeProfiler{}, nil, adapter)

	out, err := r.Transcribe(context.Background(), shortRequest())
	require.NoError(t, err)

	lookup, err := store.Get(context.Background(), "abc123", false)
	require.NoError(t, err)
	require.True(t, lookup.Hit)
	assert.Equal(t, cache.StatusComplete, lookup.Entry.Status)
	assert.Equal(t, out.SRT, lookup.Entry.Content)
}

type stubCutter struct{}

func (stubCutter) CutClip(_ context.Context, _ media.Source, start, length time.Duration) (*media.Clip, error) {
	return &media.Clip{Data: []byte("audio"), MIME: "audio/mpeg", Start: start, Length: length, FileName: "clip.mp3"}, nil
}

// windowedAdapter succeeds with one segment per windowed source.
type windowedAdapter struct {
	name  string
	calls atomic.Int32
}

func (a *windowedAdapter) Name() string           { return a.name }
func (a *windowedAdapter) MaxPayloadBytes() int64 { return 1 << 30 }

func (a *windowedAdapter) Transcribe(_ context.Context, src media.Source, _ transcribe.Options) (*transcribe.Result, error) {
	a.calls.Add(1)
	return &transcribe.Result{
		Segments: []subtitle.Segment{{Index: 1, StartTime: 0, EndTime: src.Duration, Text: "window line"}},
		Provider: a.name,
	}, nil
}
