package transcode

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Config controls the external tool invocations made by the Engine.
type Config struct {
	FFmpegPath     string
	FFprobePath    string
	ProbeTimeout   time.Duration
	LabelTimeout   time.Duration
	MinOutputBytes int64
	Threads        int
	Logger         *slog.Logger
}

const (
	defaultProbeTimeout   = 30 * time.Second
	defaultLabelTimeout   = time.Hour
	defaultMinOutputBytes = 10_000
	defaultThreads        = 2

	encoderPreset = "faster"
	encoderCRF    = "26"
)

// Engine probes media files and produces rendition ladders by shelling out to
// ffprobe and ffmpeg. All invocations are bounded by context deadlines.
type Engine struct {
	ffmpeg         string
	ffprobe        string
	probeTimeout   time.Duration
	labelTimeout   time.Duration
	minOutputBytes int64
	threads        int
	logger         *slog.Logger

	lookPath func(string) (string, error)

	toolOnce      sync.Once
	toolAvailable bool
}

// ProbeResult describes the technical properties detected for a media file.
type ProbeResult struct {
	Width           int
	Height          int
	DurationSeconds float64
	Codec           string
	Resolution      Label
}

func NewEngine(cfg Config) *Engine {
	ffmpeg := strings.TrimSpace(cfg.FFmpegPath)
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	ffprobe := strings.TrimSpace(cfg.FFprobePath)
	if ffprobe == "" {
		ffprobe = "ffprobe"
	}
	probeTimeout := cfg.ProbeTimeout
	if probeTimeout <= 0 {
		probeTimeout = defaultProbeTimeout
	}
	labelTimeout := cfg.LabelTimeout
	if labelTimeout <= 0 {
		labelTimeout = defaultLabelTimeout
	}
	minOutput := cfg.MinOutputBytes
	if minOutput <= 0 {
		minOutput = defaultMinOutputBytes
	}
	threads := cfg.Threads
	if threads <= 0 {
		threads = defaultThreads
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		ffmpeg:         ffmpeg,
		ffprobe:        ffprobe,
		probeTimeout:   probeTimeout,
		labelTimeout:   labelTimeout,
		minOutputBytes: minOutput,
		threads:        threads,
		logger:         logger,
		lookPath:       exec.LookPath,
	}
}

// Available reports whether the encoder binary can be resolved. The lookup
// result is cached for the lifetime of the engine.
func (e *Engine) Available() bool {
	e.toolOnce.Do(func() {
		_, err := e.lookPath(e.ffmpeg)
		e.toolAvailable = err == nil
	})
	return e.toolAvailable
}

type ffprobePayload struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		CodecName string `json:"codec_name"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Probe inspects a media file with ffprobe. A missing tool or an unreadable
// file returns ErrToolUnavailable or a wrapped execution error; callers on
// the ingest path tolerate both and fall back to unknown metadata.
func (e *Engine) Probe(ctx context.Context, path string) (ProbeResult, error) {
	if _, err := e.lookPath(e.ffprobe); err != nil {
		return ProbeResult{}, fmt.Errorf("%w: %s", ErrToolUnavailable, e.ffprobe)
	}
	ctx, cancel := context.WithTimeout(ctx, e.probeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, e.ffprobe,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return ProbeResult{}, fmt.Errorf("probe %s: %w", path, err)
	}

	var payload ffprobePayload
	if err := json.Unmarshal(stdout.Bytes(), &payload); err != nil {
		return ProbeResult{}, fmt.Errorf("decode probe output: %w", err)
	}

	result := ProbeResult{Resolution: LabelUnknown}
	if payload.Format.Duration != "" {
		if duration, err := strconv.ParseFloat(strings.TrimSpace(payload.Format.Duration), 64); err == nil {
			result.DurationSeconds = duration
		}
	}
	for _, stream := range payload.Streams {
		if stream.CodecType != "video" {
			continue
		}
		result.Width = stream.Width
		result.Height = stream.Height
		result.Codec = stream.CodecName
		if stream.Height > 0 {
			result.Resolution = LabelForHeight(stream.Height)
		}
		break
	}
	return result, nil
}

// Transcode encodes the source into one file per requested label under
// outDir and returns the outputs that passed the size plausibility check.
// Per-label failures (timeout, nonzero exit, corrupt output) are logged and
// skipped; only a missing encoder or an unusable output directory fails the
// call as a whole.
func (e *Engine) Transcode(ctx context.Context, sourcePath, outDir string, labels []Label) (map[Label]string, error) {
	if !e.Available() {
		return nil, fmt.Errorf("%w: %s", ErrToolUnavailable, e.ffmpeg)
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create transcode dir: %w", err)
	}

	base := strings.TrimSuffix(filepath.Base(sourcePath), filepath.Ext(sourcePath))
	outputs := make(map[Label]string, len(labels))
	for _, label := range labels {
		profile, ok := renditionProfiles[label]
		if !ok {
			e.logger.Warn("unknown rendition label", "label", label)
			continue
		}
		outPath := filepath.Join(outDir, fmt.Sprintf("%s_%s.mp4", base, label))
		if err := e.encodeLabel(ctx, sourcePath, outPath, profile); err != nil {
			e.logger.Error("rendition encode failed", "label", label, "source", sourcePath, "error", err)
			continue
		}
		outputs[label] = outPath
		e.logger.Info("rendition encoded", "label", label, "path", outPath)
	}
	return outputs, nil
}

func (e *Engine) encodeLabel(ctx context.Context, sourcePath, outPath string, profile renditionProfile) error {
	ctx, cancel := context.WithTimeout(ctx, e.labelTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, e.ffmpeg,
		"-threads", strconv.Itoa(e.threads),
		"-i", sourcePath,
		"-vf", fmt.Sprintf("scale='trunc(oh*a/2)*2':%d", profile.height),
		"-c:v", "libx264",
		"-preset", encoderPreset,
		"-crf", encoderCRF,
		"-maxrate", profile.bitrate,
		"-bufsize", profile.bitrate,
		"-c:a", "aac",
		"-b:a", "96k",
		"-ac", "2",
		"-movflags", "+faststart",
		"-y",
		outPath,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		_ = os.Remove(outPath)
		return fmt.Errorf("ffmpeg: %w: %s", err, tailLines(stderr.String(), 5))
	}

	info, err := os.Stat(outPath)
	if err != nil {
		return fmt.Errorf("stat output: %w", err)
	}
	if info.Size() < e.minOutputBytes {
		_ = os.Remove(outPath)
		return &CorruptArtifactError{Path: outPath, SizeBytes: info.Size()}
	}
	return nil
}

// ExtractThumbnail grabs a single frame near the start of the video as a JPEG.
func (e *Engine) ExtractThumbnail(ctx context.Context, sourcePath, outPath string, offsetSeconds float64) error {
	if !e.Available() {
		return fmt.Errorf("%w: %s", ErrToolUnavailable, e.ffmpeg)
	}
	if offsetSeconds < 0 {
		offsetSeconds = 0
	}
	ctx, cancel := context.WithTimeout(ctx, e.probeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, e.ffmpeg,
		"-y",
		"-ss", formatTimestamp(offsetSeconds),
		"-i", sourcePath,
		"-vframes", "1",
		"-q:v", "2",
		"-f", "image2",
		outPath,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		_ = os.Remove(outPath)
		return fmt.Errorf("extract thumbnail: %w: %s", err, tailLines(stderr.String(), 3))
	}
	return nil
}

func formatTimestamp(seconds float64) string {
	hours := int(seconds) / 3600
	minutes := (int(seconds) % 3600) / 60
	remainder := seconds - float64(hours*3600+minutes*60)
	return fmt.Sprintf("%02d:%02d:%06.3f", hours, minutes, remainder)
}

func tailLines(output string, n int) string {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, " | ")
}
