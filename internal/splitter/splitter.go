package splitter

import (
	"fmt"
	"time"
)

const (
	// DefaultWindowLength keeps individual uploads small enough for
	// every adapter's payload ceiling.
	DefaultWindowLength = 3 * time.Minute
	// DefaultMaxWindows bounds the chunk count for very long media by
	// widening the windows instead.
	DefaultMaxWindows = 40
	// DefaultConcurrency is the batch width of the window worker pool.
	DefaultConcurrency = 3
)

// Config tunes how a source is split into time windows and how wide the
// worker pool processing them runs.
type Config struct {
	WindowLength time.Duration
	MaxWindows   int
	Concurrency  int
}

func (c Config) withDefaults() Config {
	if c.WindowLength <= 0 {
		c.WindowLength = DefaultWindowLength
	}
	if c.MaxWindows <= 0 {
		c.MaxWindows = DefaultMaxWindows
	}
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	return c
}

// Window is one contiguous slice of the source timeline.
type Window struct {
	Index  int
	Start  time.Duration
	Length time.Duration
}

func (w Window) End() time.Duration {
	return w.Start + w.Length
}

func (w Window) String() string {
	return fmt.Sprintf("%s-%s", w.Start, w.End())
}

// Split cuts a duration into contiguous, non-overlapping windows.
// Short media gets a single window; longer media gets fixed-length
// windows, widened when the count would exceed cfg.MaxWindows.
func Split(duration time.Duration, cfg Config) []Window {
	cfg = cfg.withDefaults()
	if duration <= 0 {
		return nil
	}
	width := cfg.WindowLength
	if duration <= width {
		return []Window{{Index: 0, Start: 0, Length: duration}}
	}
	maxWindows := time.Duration(cfg.MaxWindows)
	if duration > width*maxWindows {
		width = (duration + maxWindows - 1) / maxWindows
	}

	windows := make([]Window, 0, int(duration/width)+1)
	for start := time.Duration(0); start < duration; start += width {
		length := width
		if start+length > duration {
			length = duration - start
		}
		windows = append(windows, Window{Index: len(windows), Start: start, Length: length})
	}
	return windows
}
