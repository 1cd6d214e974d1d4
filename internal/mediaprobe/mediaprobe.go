// Package mediaprobe is the local media probe of spec.md §4.8-5: it shells
// out to ffprobe against a file already on disk and returns the
// forced-local technical fields (runtime, codecs, resolution, aspect,
// bitrate, framerate, audioChannels, duration, fileSize, container) that
// FetchOrchestrator never asks a remote adapter for. A failed invocation is
// taxonomized PROCESS (spec.md §7: "external binary ... failed; retryable
// once"). Grounded on the teacher's ffprobe invocation and JSON stream
// summarization (internal/plex/probe_overrides.go's runFFprobe/classifyProbe).
package mediaprobe

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/medialibrarian/curator/internal/apperr"
	"github.com/medialibrarian/curator/internal/model"
)

// Result is the full set of forced-local fields for one media file, plus
// the raw per-stream rows callers may want to persist into
// video_streams/audio_streams/subtitle_streams.
type Result struct {
	Fields        map[string]any
	VideoStreams  []VideoStream
	AudioStreams  []AudioStream
}

// VideoStream is one ffprobe video stream, trimmed to the columns
// SPEC_FULL.md's video_streams table carries.
type VideoStream struct {
	Codec      string
	Width      int
	Height     int
	FrameRate  float64
	BitRate    int
	Profile    string
}

// AudioStream is one ffprobe audio stream.
type AudioStream struct {
	Codec    string
	Channels int
	BitRate  int
	Language string
}

// Prober invokes ffprobe. FFprobePath defaults to "ffprobe" (resolved via
// PATH); Timeout bounds one invocation (default 30s, matching
// imageProcessingTimeoutMs's sibling env var for the technical-probe path).
type Prober struct {
	FFprobePath string
	Timeout     time.Duration
}

// New returns a Prober with the spec.md §6 defaults.
func New() *Prober {
	return &Prober{FFprobePath: "ffprobe", Timeout: 30 * time.Second}
}

// Probe runs ffprobe against path and returns the forced-local field set.
// A missing file is FS_NOT_FOUND; any ffprobe failure (missing binary,
// non-zero exit, timeout, unparseable output) is PROCESS, which the job
// runner retries once per spec.md §7.
func (p *Prober) Probe(ctx context.Context, path string) (Result, error) {
	if p.FFprobePath == "" {
		p.FFprobePath = "ffprobe"
	}
	if p.Timeout <= 0 {
		p.Timeout = 30 * time.Second
	}
	info, err := os.Stat(path)
	if err != nil {
		return Result{}, apperr.New(apperr.FSNotFound, err)
	}

	out, err := p.run(ctx, path)
	if err != nil {
		return Result{}, apperr.New(apperr.Process, err)
	}

	var doc ffprobeOutput
	if err := json.Unmarshal(out, &doc); err != nil {
		return Result{}, apperr.New(apperr.Process, fmt.Errorf("parse ffprobe output: %w", err))
	}

	return summarize(doc, info.Size()), nil
}

func (p *Prober) run(ctx context.Context, path string) ([]byte, error) {
	runCtx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()
	cmd := exec.CommandContext(runCtx, p.FFprobePath,
		"-v", "error",
		"-show_streams",
		"-show_format",
		"-of", "json",
		path,
	)
	out, err := cmd.Output()
	if runCtx.Err() != nil {
		return nil, fmt.Errorf("ffprobe timed out after %s", p.Timeout)
	}
	if err != nil {
		return nil, fmt.Errorf("ffprobe: %w", err)
	}
	return out, nil
}

// ffprobeOutput is a minimal model of ffprobe's "-of json" output.
type ffprobeOutput struct {
	Streams []map[string]any `json:"streams"`
	Format  map[string]any   `json:"format"`
}

func summarize(doc ffprobeOutput, fileSize int64) Result {
	var videoStreams []VideoStream
	var audioStreams []AudioStream
	var primaryVideo *VideoStream
	var primaryAudio *AudioStream
	totalAudioChannels := 0

	for _, s := range doc.Streams {
		switch stringAny(s, "codec_type") {
		case "video":
			v := VideoStream{
				Codec:     strings.ToLower(stringAny(s, "codec_name")),
				Width:     intAny(s, "width"),
				Height:    intAny(s, "height"),
				FrameRate: fpsFromRatio(stringAny(s, "avg_frame_rate", "r_frame_rate")),
				BitRate:   intAny(s, "bit_rate"),
				Profile:   stringAny(s, "profile"),
			}
			videoStreams = append(videoStreams, v)
			if primaryVideo == nil {
				primaryVideo = &v
			}
		case "audio":
			a := AudioStream{
				Codec:    strings.ToLower(stringAny(s, "codec_name")),
				Channels: intAny(s, "channels"),
				BitRate:  intAny(s, "bit_rate"),
				Language: stringAny(s, "tags", "language"),
			}
			audioStreams = append(audioStreams, a)
			totalAudioChannels += a.Channels
			if primaryAudio == nil {
				primaryAudio = &a
			}
		}
	}

	fields := map[string]any{}
	if dur := floatAny(doc.Format, "duration"); dur > 0 {
		fields["duration"] = dur
		fields["runtime"] = int(dur / 60)
	}
	fields["fileSize"] = fileSize
	fields["container"] = stringAny(doc.Format, "format_name")

	var codecs []string
	if primaryVideo != nil {
		if primaryVideo.Codec != "" {
			codecs = append(codecs, primaryVideo.Codec)
		}
		fields["resolution"] = fmt.Sprintf("%dx%d", primaryVideo.Width, primaryVideo.Height)
		if primaryVideo.Height > 0 {
			fields["aspect"] = aspectRatio(primaryVideo.Width, primaryVideo.Height)
		}
		if primaryVideo.FrameRate > 0 {
			fields["framerate"] = primaryVideo.FrameRate
		}
		if primaryVideo.BitRate > 0 {
			fields["bitrate"] = primaryVideo.BitRate
		} else if overall := intAny(doc.Format, "bit_rate"); overall > 0 {
			fields["bitrate"] = overall
		}
	}
	if primaryAudio != nil && primaryAudio.Codec != "" {
		codecs = append(codecs, primaryAudio.Codec)
	}
	fields["codecs"] = codecs
	if totalAudioChannels > 0 {
		fields["audioChannels"] = totalAudioChannels
	}

	return Result{Fields: fields, VideoStreams: videoStreams, AudioStreams: audioStreams}
}

func aspectRatio(w, h int) string {
	if w <= 0 || h <= 0 {
		return ""
	}
	g := gcd(w, h)
	return fmt.Sprintf("%d:%d", w/g, h/g)
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	if a == 0 {
		return 1
	}
	return a
}

func fpsFromRatio(s string) float64 {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) != 2 {
		return 0
	}
	num, err1 := strconv.ParseFloat(parts[0], 64)
	den, err2 := strconv.ParseFloat(parts[1], 64)
	if err1 != nil || err2 != nil || den == 0 {
		return 0
	}
	return num / den
}

func stringAny(m map[string]any, keys ...string) string {
	cur := any(m)
	for i, k := range keys {
		mm, ok := cur.(map[string]any)
		if !ok {
			return ""
		}
		v, ok := mm[k]
		if !ok {
			return ""
		}
		if i == len(keys)-1 {
			s, _ := v.(string)
			return s
		}
		cur = v
	}
	return ""
}

func intAny(m map[string]any, key string) int {
	v, ok := m[key]
	if !ok {
		return 0
	}
	switch t := v.(type) {
	case float64:
		return int(t)
	case string:
		n, _ := strconv.Atoi(t)
		return n
	default:
		return 0
	}
}

func floatAny(m map[string]any, key string) float64 {
	v, ok := m[key]
	if !ok {
		return 0
	}
	switch t := v.(type) {
	case float64:
		return t
	case string:
		f, _ := strconv.ParseFloat(t, 64)
		return f
	default:
		return 0
	}
}

// ForcedLocalOnly returns the subset of fields that spec.md §4.8-5 names,
// discarding anything else a caller might have added to a fields map. This
// is what FetchOrchestrator callers apply directly, bypassing the
// lock/merge path entirely since these fields are never provider-sourced.
func ForcedLocalOnly(fields map[string]any) map[string]any {
	out := make(map[string]any, len(model.ForcedLocalFields))
	for k, v := range fields {
		if model.ForcedLocalFields[k] {
			out[k] = v
		}
	}
	return out
}
