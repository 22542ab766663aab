package splitter

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/MimeLyc/video-sub-transcriber/internal/media"
	"github.com/MimeLyc/video-sub-transcriber/internal/subtitle"
	"github.com/MimeLyc/video-sub-transcriber/internal/transcribe"
	"github.com/MimeLyc/video-sub-transcriber/pkg/log"
)

// Processor transcribes split windows through a provider adapter with a
// bounded worker pool. Windows run in fixed batches of Concurrency; a
// batch is awaited fully before the next starts. A failure in any
// window fails the whole job, resilience across the job belongs to the
// caller.
type Processor struct {
	cutter      media.ClipCutter
	concurrency int
}

func NewProcessor(cutter media.ClipCutter, concurrency int) *Processor {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Processor{cutter: cutter, concurrency: concurrency}
}

// Process runs every window through the adapter and merges the results.
// Window timestamps are shifted by the window's start offset so the
// merged list covers the original timeline. After each completed window
// opts.OnPartial receives the segments of all windows finished so far,
// in window order, so the caller observes continuously growing
// coverage.
func (p *Processor) Process(ctx context.Context, src media.Source, windows []Window, adapter transcribe.ProviderAdapter, opts transcribe.Options) ([]subtitle.Segment, error) {
	if len(windows) == 0 {
		return nil, nil
	}

	total := len(windows)
	results := make([][]subtitle.Segment, total)
	var (
		mu   sync.Mutex
		done int
	)

	for batch := 0; batch < total; batch += p.concurrency {
		end := batch + p.concurrency
		if end > total {
			end = total
		}
		g, gctx := errgroup.WithContext(ctx)
		for _, win := range windows[batch:end] {
			win := win
			g.Go(func() error {
				segments, err := p.processWindow(gctx, src, win, adapter, opts.LanguageHint)
				if err != nil {
					return fmt.Errorf("window %d/%d (%s): %w", win.Index+1, total, win, err)
				}

				mu.Lock()
				results[win.Index] = segments
				done++
				completed := done
				merged := mergeReady(results)
				mu.Unlock()

				log.Debug("Window %d/%d done, %d segments", win.Index+1, total, len(segments))
				opts.Progress(fmt.Sprintf("transcribed window %d/%d", completed, total), 10+80*completed/total)
				opts.Partial(merged)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	return subtitle.Normalize(mergeReady(results)), nil
}

func (p *Processor) processWindow(ctx context.Context, src media.Source, win Window, adapter transcribe.ProviderAdapter, languageHint string) ([]subtitle.Segment, error) {
	clip, err := p.cutter.CutClip(ctx, src, win.Start, win.Length)
	if err != nil {
		return nil, fmt.Errorf("cut clip: %w", err)
	}
	path, err := writeClip(clip)
	if err != nil {
		return nil, err
	}
	defer os.Remove(path)

	windowSrc := media.Source{
		Path:     path,
		Size:     int64(len(clip.Data)),
		Duration: win.Length,
	}
	result, err := adapter.Transcribe(ctx, windowSrc, transcribe.Options{LanguageHint: languageHint})
	if err != nil {
		return nil, err
	}

	segments := append([]subtitle.Segment(nil), result.Segments...)
	return subtitle.ShiftBy(segments, win.Start), nil
}

// mergeReady concatenates the finished windows' segments in window
// order, skipping windows still in flight.
func mergeReady(results [][]subtitle.Segment) []subtitle.Segment {
	var merged []subtitle.Segment
	for _, segments := range results {
		merged = append(merged, segments...)
	}
	return merged
}

func writeClip(clip *media.Clip) (string, error) {
	f, err := os.CreateTemp("", "window-*"+filepath.Ext(clip.FileName))
	if err != nil {
		return "", fmt.Errorf("create clip file: %w", err)
	}
	if _, err := f.Write(clip.Data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("write clip file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("close clip file: %w", err)
	}
	return f.Name(), nil
}
