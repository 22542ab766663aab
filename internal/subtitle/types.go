package subtitle

import (
	"time"

	"golang.org/x/text/language"
)

// Segment represents a single time-aligned subtitle segment
type Segment struct {
	Index     int           // subtitle index
	StartTime time.Duration // start time
	EndTime   time.Duration // end time
	Text      string        // subtitle text
}

// Duration returns the time span covered by the segment.
func (s Segment) Duration() time.Duration {
	return s.EndTime - s.StartTime
}

// File represents a full subtitle document
type File struct {
	Segments []Segment
	Language language.Tag
	Format   string // e.g. SRT
}
