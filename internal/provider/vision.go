package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/MimeLyc/video-sub-transcriber/internal/llm"
	"github.com/MimeLyc/video-sub-transcriber/internal/media"
	"github.com/MimeLyc/video-sub-transcriber/internal/transcribe"
	"github.com/MimeLyc/video-sub-transcriber/pkg/log"
)

const (
	visionName = "vision"

	visionMinFrames = 4
	visionMaxFrames = 24
)

const visionSystemPrompt = `You are a subtitle author for a video with unusable audio. ` +
	`You receive sampled frames with a timeline mapping each frame to its timestamp range.

Write subtitles describing the on-screen action, visible text and implied dialogue, as SRT:
1. Timestamps must be strictly increasing and must never overlap.
2. When consecutive frames show a visually static scene, write ONE entry spanning it; never repeat a caption per frame.
3. Ground every entry in the frames and the timeline; cover the whole duration.
4. Reply with ONLY the SRT document. No explanations, no markdown fences.`

// VisionSynthesizer produces subtitle-shaped output from sampled frames
// through a vision-capable model. Invoked by the router only when every
// audio attempt failed or profiling found no usable audio; downstream
// code sees an ordinary provider result tagged "vision".
type VisionSynthesizer struct {
	client          *llm.Client
	sampler         media.FrameSampler
	maxPayloadBytes int64
}

func NewVisionSynthesizer(client *llm.Client, sampler media.FrameSampler, maxPayloadBytes int64) *VisionSynthesizer {
	if maxPayloadBytes <= 0 {
		maxPayloadBytes = 20 * 1024 * 1024
	}
	return &VisionSynthesizer{
		client:          client,
		sampler:         sampler,
		maxPayloadBytes: maxPayloadBytes,
	}
}

func (v *VisionSynthesizer) Name() string {
	return visionName
}

func (v *VisionSynthesizer) MaxPayloadBytes() int64 {
	return v.maxPayloadBytes
}

func (v *VisionSynthesizer) Transcribe(ctx context.Context, src media.Source, opts transcribe.Options) (*transcribe.Result, error) {
	if v.client == nil {
		return nil, &transcribe.FatalError{Provider: visionName, Reason: "api key not configured"}
	}

	budget := frameBudget(src.Duration)
	for {
		opts.Progress("sampling frames", 10)
		frames, err := v.sampler.SampleFrames(ctx, src, framePositions(src.Duration, budget))
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, &transcribe.FatalError{Provider: visionName, Reason: "frame sampling failed", Err: err}
		}
		if len(frames) == 0 {
			return nil, &transcribe.EmptyResultError{Provider: visionName}
		}

		if payload := encodedPayloadSize(frames); payload > v.maxPayloadBytes {
			if budget <= visionMinFrames {
				return nil, &transcribe.FatalError{
					Provider: visionName,
					Reason:   fmt.Sprintf("payload too large: %d frames still exceed the %d byte ceiling", len(frames), v.maxPayloadBytes),
				}
			}
			budget = budget / 2
			if budget < visionMinFrames {
				budget = visionMinFrames
			}
			log.Info("Vision payload over ceiling, resampling with %d frames", budget)
			continue
		}

		opts.Progress("synthesizing subtitles from frames", 40)
		reply, status, err := v.client.Complete(ctx, v.messages(src, frames))
		if err != nil {
			return nil, classifyLLMError(visionName, status, err)
		}

		opts.Text(reply)
		opts.Progress("normalizing transcript", 90)

		segments, err := parseSRTReply(reply)
		if err != nil {
			return nil, &transcribe.TransientError{Provider: visionName, Err: fmt.Errorf("unparseable transcript: %w", err)}
		}
		if len(segments) == 0 {
			return nil, &transcribe.EmptyResultError{Provider: visionName}
		}
		opts.Partial(segments)

		return &transcribe.Result{Segments: segments, Provider: visionName}, nil
	}
}

// frameBudget picks how many frames to sample: denser for shorter media,
// capped for long media.
func frameBudget(duration time.Duration) int {
	if duration <= 0 {
		return visionMinFrames
	}
	budget := int(duration / (30 * time.Second))
	if budget < visionMinFrames {
		budget = visionMinFrames
	}
	if budget > visionMaxFrames {
		budget = visionMaxFrames
	}
	return budget
}

// framePositions spreads the budget evenly across the timeline.
func framePositions(duration time.Duration, count int) []time.Duration {
	positions := make([]time.Duration, 0, count)
	for i := 0; i < count; i++ {
		positions = append(positions, duration*time.Duration(2*i+1)/time.Duration(2*count))
	}
	return positions
}

func encodedPayloadSize(frames []media.Frame) int64 {
	var total int64
	for _, f := range frames {
		total += int64(len(f.JPEG)) * 4 / 3
	}
	return total
}

func (v *VisionSynthesizer) messages(src media.Source, frames []media.Frame) []llm.Message {
	var hint strings.Builder
	fmt.Fprintf(&hint, "The video is %.0f seconds long. Timeline of the %d attached frames:\n",
		src.Duration.Seconds(), len(frames))
	for i, f := range frames {
		rangeEnd := src.Duration
		if i+1 < len(frames) {
			rangeEnd = frames[i+1].Timestamp
		}
		fmt.Fprintf(&hint, "- frame %d: covers %s to %s\n",
			i+1, subtitleTime(f.Timestamp), subtitleTime(rangeEnd))
	}

	parts := make([]llm.Part, 0, len(frames)+1)
	parts = append(parts, llm.TextPart(hint.String()))
	for _, f := range frames {
		parts = append(parts, llm.ImagePart(f.JPEG))
	}

	return []llm.Message{
		{Role: "system", Content: visionSystemPrompt},
		{Role: "user", Content: parts},
	}
}

func subtitleTime(d time.Duration) string {
	return fmt.Sprintf("%02d:%02d", int(d.Minutes()), int(d.Seconds())%60)
}
