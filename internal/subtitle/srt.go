package subtitle

import (
	"bufio"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// srtTimeRe matches "00:02:16,612 --> 00:02:19,376"
var srtTimeRe = regexp.MustCompile(`(\d{2,}):(\d{2}):(\d{2}),(\d{3}) --> (\d{2,}):(\d{2}):(\d{2}),(\d{3})`)

// ToSRT serializes segments into SRT text: index, time range, text,
// blank-line separated.
func ToSRT(segments []Segment) string {
	var sb strings.Builder
	for i, seg := range segments {
		index := seg.Index
		if index <= 0 {
			index = i + 1
		}
		fmt.Fprintf(&sb, "%d\n", index)
		fmt.Fprintf(&sb, "%s --> %s\n", FormatDuration(seg.StartTime), FormatDuration(seg.EndTime))
		fmt.Fprintf(&sb, "%s\n\n", seg.Text)
	}
	return sb.String()
}

// FromSRT parses SRT text into segments. Malformed leading lines are
// skipped the way a tolerant player would; a malformed time line is an
// error.
func FromSRT(content string) ([]Segment, error) {
	scanner := bufio.NewScanner(strings.NewReader(content))

	var segments []Segment
	current := Segment{}
	state := "index" // possible values: "index", "time", "text"
	var textLines []string

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		switch state {
		case "index":
			if line == "" {
				continue
			}
			index, err := strconv.Atoi(line)
			if err != nil {
				continue // skip non-index lines
			}
			current.Index = index
			state = "time"

		case "time":
			if line == "" {
				continue
			}
			startTime, endTime, err := parseSRTTime(line)
			if err != nil {
				return nil, fmt.Errorf("failed to parse time: %w", err)
			}
			current.StartTime = startTime
			current.EndTime = endTime
			state = "text"
			textLines = []string{}

		case "text":
			if line == "" {
				if len(textLines) > 0 {
					current.Text = strings.Join(textLines, "\n")
					segments = append(segments, current)
					current = Segment{}
				}
				state = "index"
				textLines = []string{}
			} else {
				textLines = append(textLines, line)
			}
		}
	}

	// handle last subtitle group
	if state == "text" && len(textLines) > 0 {
		current.Text = strings.Join(textLines, "\n")
		segments = append(segments, current)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read srt content: %w", err)
	}

	return segments, nil
}

// FormatDuration formats time.Duration to SRT time format
func FormatDuration(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60
	milliseconds := int(d.Milliseconds()) % 1000

	return fmt.Sprintf("%02d:%02d:%02d,%03d", hours, minutes, seconds, milliseconds)
}

// parseSRTTime parses an SRT time range line
func parseSRTTime(timeString string) (time.Duration, time.Duration, error) {
	matches := srtTimeRe.FindStringSubmatch(timeString)
	if len(matches) != 9 {
		return 0, 0, fmt.Errorf("invalid time format: %s", timeString)
	}

	parseTime := func(hours, minutes, seconds, milliseconds string) time.Duration {
		h, _ := strconv.Atoi(hours)
		m, _ := strconv.Atoi(minutes)
		s, _ := strconv.Atoi(seconds)
		ms, _ := strconv.Atoi(milliseconds)

		return time.Duration(h)*time.Hour +
			time.Duration(m)*time.Minute +
			time.Duration(s)*time.Second +
			time.Duration(ms)*time.Millisecond
	}

	startTime := parseTime(matches[1], matches[2], matches[3], matches[4])
	endTime := parseTime(matches[5], matches[6], matches[7], matches[8])

	return startTime, endTime, nil
}
