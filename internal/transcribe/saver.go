package transcribe

import (
	"context"
	"sync"
	"time"

	"github.com/MimeLyc/video-sub-transcriber/internal/retry"
	"github.com/MimeLyc/video-sub-transcriber/internal/subtitle"
	"github.com/MimeLyc/video-sub-transcriber/pkg/log"
)

// SaveSink persists a batch of accumulated segments.
type SaveSink func(ctx context.Context, segments []subtitle.Segment) error

// IncrementalSaver bridges a streaming provider's incremental output
// into durable partial writes without persisting on every token.
//
// Add buffers segments and attempts a persist once the interval has
// elapsed since the last successful flush; a failed interval persist is
// logged and retried on the next Add rather than blocking the caller.
// Flush forces a persist through the retry executor and propagates
// failure. The buffer clears only after a successful persist.
type IncrementalSaver struct {
	mu        sync.Mutex
	interval  time.Duration
	sink      SaveSink
	policy    retry.Policy
	buffer    []subtitle.Segment
	lastFlush time.Time
}

func NewIncrementalSaver(interval time.Duration, sink SaveSink, policy retry.Policy) *IncrementalSaver {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &IncrementalSaver{
		interval:  interval,
		sink:      sink,
		policy:    policy,
		lastFlush: time.Now(),
	}
}

// Add appends a batch and opportunistically persists when the flush
// interval has elapsed. Persist failures never propagate to the caller.
func (s *IncrementalSaver) Add(ctx context.Context, batch []subtitle.Segment) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buffer = append(s.buffer, batch...)
	if time.Since(s.lastFlush) < s.interval {
		return
	}
	if err := s.persistLocked(ctx); err != nil {
		log.Warn("Interval persist failed, will retry on next add: %v", err)
	}
}

// Flush forces a persist of everything buffered. Unlike Add, failure
// propagates: the terminal flush must not silently drop data.
func (s *IncrementalSaver) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.buffer) == 0 {
		return nil
	}
	_, err := retry.Do(ctx, s.policy, func() (struct{}, error) {
		return struct{}{}, s.persistLocked(ctx)
	})
	return err
}

// Buffered reports how many segments are waiting for a flush.
func (s *IncrementalSaver) Buffered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buffer)
}

func (s *IncrementalSaver) persistLocked(ctx context.Context) error {
	if len(s.buffer) == 0 {
		s.lastFlush = time.Now()
		return nil
	}
	if err := s.sink(ctx, s.buffer); err != nil {
		return err
	}
	s.buffer = nil
	s.lastFlush = time.Now()
	return nil
}
