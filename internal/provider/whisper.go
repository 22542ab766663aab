package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/MimeLyc/video-sub-transcriber/internal/media"
	"github.com/MimeLyc/video-sub-transcriber/internal/subtitle"
	"github.com/MimeLyc/video-sub-transcriber/internal/transcribe"
	"github.com/MimeLyc/video-sub-transcriber/pkg/log"
)

const (
	whisperName = "whisper"

	// One immediate redial on a dropped connection; business-logic
	// retries live in the router.
	whisperTransportAttempts = 2

	whisperUploadBytesPerSecond = 256 * 1024
)

// WhisperConfig configures the OpenAI-compatible audio transcription
// adapter.
type WhisperConfig struct {
	APIKey          string
	APIURL          string // e.g. https://api.openai.com/v1
	Model           string // e.g. whisper-1
	Timeout         int    // base timeout in seconds
	MaxPayloadBytes int64
}

// WhisperAdapter uploads a compressed audio clip to an OpenAI-compatible
// `audio/transcriptions` endpoint and normalizes the verbose response
// into segments.
type WhisperAdapter struct {
	cfg        WhisperConfig
	cutter     media.ClipCutter
	httpClient *http.Client
}

func NewWhisperAdapter(cfg WhisperConfig, cutter media.ClipCutter) *WhisperAdapter {
	if cfg.MaxPayloadBytes <= 0 {
		cfg.MaxPayloadBytes = 24 * 1024 * 1024
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60
	}
	return &WhisperAdapter{
		cfg:        cfg,
		cutter:     cutter,
		httpClient: &http.Client{},
	}
}

func (a *WhisperAdapter) Name() string {
	return whisperName
}

func (a *WhisperAdapter) MaxPayloadBytes() int64 {
	return a.cfg.MaxPayloadBytes
}

func (a *WhisperAdapter) Transcribe(ctx context.Context, src media.Source, opts transcribe.Options) (*transcribe.Result, error) {
	if strings.TrimSpace(a.cfg.APIKey) == "" {
		return nil, &transcribe.FatalError{Provider: whisperName, Reason: "api key not configured"}
	}

	opts.Progress("extracting audio", 5)
	clip, err := a.cutter.CutClip(ctx, src, 0, src.Duration)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &transcribe.FatalError{Provider: whisperName, Reason: "audio extraction failed", Err: err}
	}
	if int64(len(clip.Data)) > a.cfg.MaxPayloadBytes {
		return nil, &transcribe.FatalError{
			Provider: whisperName,
			Reason:   fmt.Sprintf("payload too large: %d bytes exceeds the %d byte ceiling", len(clip.Data), a.cfg.MaxPayloadBytes),
		}
	}

	opts.Progress("uploading audio", 20)
	resp, err := a.request(ctx, clip, opts.LanguageHint)
	if err != nil {
		return nil, err
	}

	opts.Text(resp.Text)
	opts.Progress("normalizing transcript", 90)

	segments := a.normalize(resp)
	if len(segments) == 0 {
		return nil, &transcribe.EmptyResultError{Provider: whisperName}
	}
	opts.Partial(segments)

	return &transcribe.Result{Segments: segments, Provider: whisperName}, nil
}

type whisperResponse struct {
	Text     string `json:"text"`
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
	Words []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Word  string  `json:"word"`
	} `json:"words"`
}

func (a *WhisperAdapter) request(ctx context.Context, clip *media.Clip, languageHint string) (*whisperResponse, error) {
	body, contentType, err := a.multipartBody(clip, languageHint)
	if err != nil {
		return nil, fmt.Errorf("build upload: %w", err)
	}

	timeout := time.Duration(a.cfg.Timeout)*time.Second +
		time.Duration(len(body)/whisperUploadBytesPerSecond)*time.Second

	var lastErr error
	for attempt := 0; attempt < whisperTransportAttempts; attempt++ {
		reqCtx, cancel := context.WithTimeout(ctx, timeout)
		resp, err := a.post(reqCtx, body, contentType)
		cancel()
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		var transient *transcribe.TransientError
		if !isConnectionError(err, &transient) {
			return nil, err
		}
		log.Warn("Whisper transport failure, redialing: %v", err)
	}
	return nil, lastErr
}

func (a *WhisperAdapter) post(ctx context.Context, body []byte, contentType string) (*whisperResponse, error) {
	url := strings.TrimRight(a.cfg.APIURL, "/") + "/audio/transcriptions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)
	req.Header.Set("Content-Type", contentType)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, &transcribe.TransientError{Provider: whisperName, Err: err}
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &transcribe.TransientError{Provider: whisperName, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, transcribe.ClassifyHTTP(whisperName, resp.StatusCode, string(responseBody), nil)
	}

	var parsed whisperResponse
	if err := json.Unmarshal(responseBody, &parsed); err != nil {
		return nil, &transcribe.TransientError{Provider: whisperName, Err: fmt.Errorf("parse response: %w", err)}
	}
	return &parsed, nil
}

func (a *WhisperAdapter) multipartBody(clip *media.Clip, languageHint string) ([]byte, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", clip.FileName)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(clip.Data); err != nil {
		return nil, "", err
	}

	_ = writer.WriteField("model", a.cfg.Model)
	_ = writer.WriteField("response_format", "verbose_json")
	_ = writer.WriteField("timestamp_granularities[]", "word")
	if languageHint != "" && languageHint != "auto" {
		_ = writer.WriteField("language", languageHint)
	}

	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), writer.FormDataContentType(), nil
}

// normalize prefers word-level timestamps; segment-level data is the
// fallback for backends that never report words.
func (a *WhisperAdapter) normalize(resp *whisperResponse) []subtitle.Segment {
	if len(resp.Words) > 0 {
		tokens := make([]transcribe.Token, 0, len(resp.Words))
		for _, w := range resp.Words {
			tokens = append(tokens, transcribe.Token{
				Start: secondsToDuration(w.Start),
				End:   secondsToDuration(w.End),
				Text:  w.Word,
			})
		}
		return transcribe.GroupTokens(tokens)
	}

	segments := make([]subtitle.Segment, 0, len(resp.Segments))
	for _, s := range resp.Segments {
		segments = append(segments, subtitle.Segment{
			StartTime: secondsToDuration(s.Start),
			EndTime:   secondsToDuration(s.End),
			Text:      s.Text,
		})
	}
	return subtitle.Normalize(segments)
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func isConnectionError(err error, transient **transcribe.TransientError) bool {
	if !asTransient(err, transient) {
		return false
	}
	// HTTP-level failures carry a status; pure transport failures don't.
	return (*transient).StatusCode == 0
}
