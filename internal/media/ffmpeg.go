package media

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/MimeLyc/video-sub-transcriber/pkg/file"
	"github.com/MimeLyc/video-sub-transcriber/pkg/log"
)

const pcmSampleRate = 8000

// ffmpeg implements Prober, AudioExtractor, FrameSampler and ClipCutter
// on top of the ffmpeg/ffprobe command line tools.
type ffmpeg struct {
	ffmpegCmd  string
	ffprobeCmd string
}

// NewFfmpeg returns the ffmpeg-backed media toolset.
func NewFfmpeg() ffmpeg {
	return ffmpeg{
		ffmpegCmd:  "ffmpeg",
		ffprobeCmd: "ffprobe",
	}
}

func (ff ffmpeg) Probe(ctx context.Context, src Source) (*Info, error) {
	cmdPath, err := exec.LookPath(ff.ffprobeCmd)
	if err != nil {
		return nil, fmt.Errorf("ffprobe not available: %w", err)
	}
	cmd := exec.CommandContext(ctx, cmdPath, ff.probeArgs(src.Path)...)

	output, err := cmd.Output()
	if err != nil {
		log.Error("Failed to run ffprobe on %s: %v", src.Path, err)
		return nil, fmt.Errorf("probe %s: %w", filepath.Base(src.Path), err)
	}

	var probeResult struct {
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
		Streams []struct {
			CodecType string `json:"codec_type"`
			Width     int    `json:"width"`
			Height    int    `json:"height"`
		} `json:"streams"`
	}

	if err := json.Unmarshal(output, &probeResult); err != nil {
		log.Error("Failed to parse ffprobe output: %v", err)
		return nil, fmt.Errorf("parse probe output: %w", err)
	}

	info := &Info{Duration: src.Duration}
	if secs, err := strconv.ParseFloat(probeResult.Format.Duration, 64); err == nil && secs > 0 {
		info.Duration = time.Duration(secs * float64(time.Second))
	}
	for _, stream := range probeResult.Streams {
		switch stream.CodecType {
		case "audio":
			info.HasAudioTrack = true
		case "video":
			if stream.Width > 0 {
				info.Width = stream.Width
				info.Height = stream.Height
			}
		}
	}
	return info, nil
}

// ExtractWindow decodes a mono PCM window at the given offset. Decoding is
// bounded by ctx; ffmpeg is killed on cancellation so no decoder leaks
// past an aborted profile run.
func (ff ffmpeg) ExtractWindow(ctx context.Context, src Source, offset, window time.Duration) ([]float64, error) {
	cmdPath, err := exec.LookPath(ff.ffmpegCmd)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not available: %w", err)
	}
	cmd := exec.CommandContext(ctx, cmdPath, ff.pcmWindowArgs(src.Path, offset, window)...)

	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("decode audio window at %s: %w", offset, err)
	}

	raw := stdout.Bytes()
	samples := make([]float64, 0, len(raw)/2)
	for i := 0; i+1 < len(raw); i += 2 {
		v := int16(binary.LittleEndian.Uint16(raw[i : i+2]))
		samples = append(samples, float64(v)/32768.0)
	}
	return samples, nil
}

func (ff ffmpeg) SampleFrames(ctx context.Context, src Source, at []time.Duration) ([]Frame, error) {
	cmdPath, err := exec.LookPath(ff.ffmpegCmd)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not available: %w", err)
	}

	frames := make([]Frame, 0, len(at))
	for _, ts := range at {
		cmd := exec.CommandContext(ctx, cmdPath, ff.frameArgs(src.Path, ts)...)

		var stdout bytes.Buffer
		cmd.Stdout = &stdout
		if err := cmd.Run(); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("sample frame at %s: %w", ts, err)
		}
		if stdout.Len() == 0 {
			continue // timestamp past the last keyframe
		}
		frames = append(frames, Frame{Timestamp: ts, JPEG: stdout.Bytes()})
	}
	return frames, nil
}

func (ff ffmpeg) CutClip(ctx context.Context, src Source, start, length time.Duration) (*Clip, error) {
	cmdPath, err := exec.LookPath(ff.ffmpegCmd)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not available: %w", err)
	}
	cmd := exec.CommandContext(ctx, cmdPath, ff.clipArgs(src.Path, start, length)...)

	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("cut clip at %s: %w", start, err)
	}

	name := fmt.Sprintf("%s_%d%s",
		filepath.Base(file.ReplaceExt(src.Path, "")),
		int(start.Seconds()),
		".mp3")

	return &Clip{
		Data:     stdout.Bytes(),
		MIME:     "audio/mpeg",
		Start:    start,
		Length:   length,
		FileName: name,
	}, nil
}

func (ffmpeg) probeArgs(path string) []string {
	return []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	}
}

func (ffmpeg) pcmWindowArgs(path string, offset, window time.Duration) []string {
	return []string{
		"-v", "quiet",
		"-ss", formatSeconds(offset),
		"-t", formatSeconds(window),
		"-i", path,
		"-vn",
		"-ac", "1",
		"-ar", strconv.Itoa(pcmSampleRate),
		"-f", "s16le",
		"-",
	}
}

func (ffmpeg) frameArgs(path string, ts time.Duration) []string {
	return []string{
		"-v", "quiet",
		"-ss", formatSeconds(ts),
		"-i", path,
		"-frames:v", "1",
		"-vf", "scale=640:-2",
		"-c:v", "mjpeg",
		"-f", "image2",
		"-",
	}
}

func (ffmpeg) clipArgs(path string, start, length time.Duration) []string {
	return []string{
		"-v", "quiet",
		"-ss", formatSeconds(start),
		"-t", formatSeconds(length),
		"-i", path,
		"-vn",
		"-c:a", "libmp3lame",
		"-b:a", "64k",
		"-f", "mp3",
		"-",
	}
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}
