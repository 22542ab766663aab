package cache

import (
	"context"
	"time"
)

type Status string

const (
	StatusPartial  Status = "partial"
	StatusComplete Status = "complete"
)

// Entry is a cached transcription result keyed by content hash.
type Entry struct {
	Key            string
	Content        string // serialized segments (SRT)
	SegmentCount   int
	Status         Status
	Provider       string
	Timestamp      time.Time
	SourceSize     int64
	SourceDuration time.Duration
}

// Lookup is an explicit hit/miss result. A partial entry is reported as
// a miss unless the caller opted into partial hits.
type Lookup struct {
	Hit   bool
	Entry Entry
}

// Meta carries entry metadata alongside content writes.
type Meta struct {
	Provider       string
	SegmentCount   int
	SourceSize     int64
	SourceDuration time.Duration
}

// Store is the partial/complete result cache.
//
// PutPartial is monotonic in coverage per key: a write carrying fewer
// segments than the stored entry is ignored, and a partial write never
// replaces a complete entry.
type Store interface {
	Get(ctx context.Context, key string, includePartial bool) (Lookup, error)
	PutComplete(ctx context.Context, key, content string, meta Meta) error
	PutPartial(ctx context.Context, key, content string, meta Meta) error
	Prune(ctx context.Context, retention time.Duration) (int64, error)
	Close() error
}
