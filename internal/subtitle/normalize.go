package subtitle

import (
	"regexp"
	"sort"
	"strings"
	"time"
)

var whitespaceRe = regexp.MustCompile(`\s+`)

// CleanText trims a subtitle text and collapses internal whitespace runs
// into single spaces. Line breaks inside a segment are preserved as spaces;
// providers emit raw token runs, not layout.
func CleanText(text string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(text, " "))
}

// Normalize sanitizes raw recognition output into an ordered,
// non-overlapping segment sequence:
//   - text trimmed and whitespace-collapsed, empty segments dropped
//   - zero and negative time spans dropped
//   - sorted ascending by start time
//   - overlaps clamped so seg[i].EndTime <= seg[i+1].StartTime
//   - re-indexed from 1
//
// Normalizing an already-normalized list returns an equal list.
func Normalize(segments []Segment) []Segment {
	cleaned := make([]Segment, 0, len(segments))
	for _, seg := range segments {
		seg.Text = CleanText(seg.Text)
		if seg.Text == "" {
			continue
		}
		if seg.StartTime < 0 || seg.EndTime <= seg.StartTime {
			continue
		}
		cleaned = append(cleaned, seg)
	}

	sort.SliceStable(cleaned, func(i, j int) bool {
		if cleaned[i].StartTime != cleaned[j].StartTime {
			return cleaned[i].StartTime < cleaned[j].StartTime
		}
		return cleaned[i].EndTime < cleaned[j].EndTime
	})

	ret := make([]Segment, 0, len(cleaned))
	for _, seg := range cleaned {
		if len(ret) > 0 {
			prev := &ret[len(ret)-1]
			if seg.StartTime < prev.EndTime {
				if seg.StartTime > prev.StartTime {
					// Clamp the earlier segment; the later start wins.
					prev.EndTime = seg.StartTime
				} else {
					// Same start: keep the longer span only.
					if seg.EndTime > prev.EndTime {
						prev.EndTime = seg.EndTime
						prev.Text = seg.Text
					}
					continue
				}
			}
		}
		ret = append(ret, seg)
	}

	for i := range ret {
		ret[i].Index = i + 1
	}
	return ret
}

// ShiftBy offsets every segment's timestamps by the given delta.
func ShiftBy(segments []Segment, delta time.Duration) []Segment {
	ret := make([]Segment, len(segments))
	for i, seg := range segments {
		seg.StartTime += delta
		seg.EndTime += delta
		ret[i] = seg
	}
	return ret
}
