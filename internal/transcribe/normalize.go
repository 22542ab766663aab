package transcribe

import (
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/MimeLyc/video-sub-transcriber/internal/subtitle"
)

const (
	// Grouping ceilings for pseudo-sentence assembly.
	maxGroupDuration = 6 * time.Second
	maxGroupWords    = 14
	// A pause longer than this starts a new group.
	maxGroupGap = 1200 * time.Millisecond
)

// FilterTokens drops degenerate recognition output before grouping:
// single-character tokens outside ideographic scripts, immediate word
// repeats, and short A-B-A-B repetition cycles.
func FilterTokens(tokens []Token) []Token {
	out := make([]Token, 0, len(tokens))
	for _, tok := range tokens {
		text := strings.TrimSpace(tok.Text)
		if text == "" {
			continue
		}
		if utf8.RuneCountInString(text) == 1 && !isIdeographic(text) {
			continue
		}
		if n := len(out); n > 0 && strings.EqualFold(out[n-1].Text, text) {
			continue
		}
		if n := len(out); n >= 3 &&
			strings.EqualFold(out[n-2].Text, text) &&
			strings.EqualFold(out[n-1].Text, out[n-3].Text) {
			// A-B-A-B cycle confirmed: drop this token and the trailing
			// repeat so only the first A-B survives.
			out = out[:n-1]
			continue
		}
		tok.Text = text
		out = append(out, tok)
	}
	return out
}

func isIdeographic(s string) bool {
	r, _ := utf8.DecodeRuneInString(s)
	return unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul)
}

// GroupTokens assembles filtered tokens into pseudo-sentence segments
// bounded by a max duration and max word count per group. The result is
// passed through subtitle.Normalize so every provider emits the same
// contract.
func GroupTokens(tokens []Token) []subtitle.Segment {
	tokens = FilterTokens(tokens)
	if len(tokens) == 0 {
		return nil
	}

	var segments []subtitle.Segment
	var words []string
	groupStart := tokens[0].Start
	groupEnd := tokens[0].End

	flush := func() {
		if len(words) == 0 {
			return
		}
		segments = append(segments, subtitle.Segment{
			StartTime: groupStart,
			EndTime:   groupEnd,
			Text:      strings.Join(words, " "),
		})
		words = nil
	}

	for _, tok := range tokens {
		startsNew := len(words) > 0 &&
			(len(words) >= maxGroupWords ||
				tok.End-groupStart > maxGroupDuration ||
				tok.Start-groupEnd > maxGroupGap)
		if startsNew {
			flush()
		}
		if len(words) == 0 {
			groupStart = tok.Start
			groupEnd = tok.End
		}
		words = append(words, tok.Text)
		if tok.End > groupEnd {
			groupEnd = tok.End
		}
	}
	flush()

	return subtitle.Normalize(segments)
}
