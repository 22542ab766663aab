package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/MimeLyc/video-sub-transcriber/internal/llm"
	"github.com/MimeLyc/video-sub-transcriber/internal/media"
	"github.com/MimeLyc/video-sub-transcriber/internal/transcribe"
)

const chatAudioName = "chat-audio"

const chatAudioSystemPrompt = `You are a professional transcription engine. ` +
	`You receive one audio clip and reply with its transcript as SRT subtitles.

Rules:
1. Timestamps must be strictly increasing and must never overlap.
2. Group words into short readable lines, at most 14 words per entry.
3. Reply with ONLY the SRT document. No explanations, no markdown fences.
4. If the clip contains no intelligible speech, reply with an empty document.`

// ChatAudioAdapter sends a base64 audio clip to an OpenAI-compatible
// multimodal chat endpoint and parses the SRT reply. Interchangeable
// with the whisper adapter behind the same contract, with a smaller
// payload ceiling and a different cost profile.
type ChatAudioAdapter struct {
	client          *llm.Client
	cutter          media.ClipCutter
	maxPayloadBytes int64
}

func NewChatAudioAdapter(client *llm.Client, cutter media.ClipCutter, maxPayloadBytes int64) *ChatAudioAdapter {
	if maxPayloadBytes <= 0 {
		maxPayloadBytes = 16 * 1024 * 1024
	}
	return &ChatAudioAdapter{
		client:          client,
		cutter:          cutter,
		maxPayloadBytes: maxPayloadBytes,
	}
}

func (a *ChatAudioAdapter) Name() string {
	return chatAudioName
}

func (a *ChatAudioAdapter) MaxPayloadBytes() int64 {
	return a.maxPayloadBytes
}

func (a *ChatAudioAdapter) Transcribe(ctx context.Context, src media.Source, opts transcribe.Options) (*transcribe.Result, error) {
	if a.client == nil {
		return nil, &transcribe.FatalError{Provider: chatAudioName, Reason: "api key not configured"}
	}

	opts.Progress("extracting audio", 5)
	clip, err := a.cutter.CutClip(ctx, src, 0, src.Duration)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &transcribe.FatalError{Provider: chatAudioName, Reason: "audio extraction failed", Err: err}
	}
	// Base64 inflates the upload by a third.
	if int64(len(clip.Data))*4/3 > a.maxPayloadBytes {
		return nil, &transcribe.FatalError{
			Provider: chatAudioName,
			Reason:   fmt.Sprintf("payload too large: clip of %d bytes exceeds the ceiling", len(clip.Data)),
		}
	}

	opts.Progress("uploading audio", 20)
	reply, status, err := a.client.Complete(ctx, a.messages(clip, opts.LanguageHint))
	if err != nil {
		return nil, classifyLLMError(chatAudioName, status, err)
	}

	opts.Text(reply)
	opts.Progress("normalizing transcript", 90)

	segments, err := parseSRTReply(reply)
	if err != nil {
		// A malformed reply is worth one more round through the router's
		// retry wrapper.
		return nil, &transcribe.TransientError{Provider: chatAudioName, Err: fmt.Errorf("unparseable transcript: %w", err)}
	}
	if len(segments) == 0 {
		return nil, &transcribe.EmptyResultError{Provider: chatAudioName}
	}
	opts.Partial(segments)

	return &transcribe.Result{Segments: segments, Provider: chatAudioName}, nil
}

func (a *ChatAudioAdapter) messages(clip *media.Clip, languageHint string) []llm.Message {
	var user strings.Builder
	user.WriteString("Transcribe this clip as SRT.")
	if languageHint != "" && languageHint != "auto" {
		fmt.Fprintf(&user, " The speech is in %q.", languageHint)
	}
	fmt.Fprintf(&user, " The clip is %.0f seconds long; timestamps must stay within that range.", clip.Length.Seconds())

	format := "mp3"
	if strings.Contains(clip.MIME, "wav") {
		format = "wav"
	}

	return []llm.Message{
		{Role: "system", Content: chatAudioSystemPrompt},
		{Role: "user", Content: []llm.Part{
			llm.TextPart(user.String()),
			llm.AudioPart(clip.Data, format),
		}},
	}
}
