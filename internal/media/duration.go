package media

import (
	"context"
	"log/slog"
	"math"
	"strconv"
	"strings"
)

// fallbackDurationSeconds is assumed when ffprobe cannot produce a usable
// duration from either the container or the first video stream.
const fallbackDurationSeconds = 30.0

// DurationResolver derives a video duration via ffprobe with a container
// probe, a per-stream probe, and a constant fallback, in that order.
type DurationResolver struct {
	runner  CommandRunner
	ffprobe string
	logger  *slog.Logger
}

func NewDurationResolver(runner CommandRunner, ffprobe string, logger *slog.Logger) *DurationResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &DurationResolver{runner: runner, ffprobe: ffprobe, logger: logger}
}

// Resolve never fails: probe errors degrade to the next source and finally to
// the fallback constant. The returned value is what thumbnail timing should
// use regardless of any client-supplied hint.
func (r *DurationResolver) Resolve(ctx context.Context, path string) float64 {
	out, err := r.runner.Output(ctx, r.ffprobe,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path)
	if err == nil {
		if seconds, ok := parseProbeSeconds(out); ok {
			return seconds
		}
	}

	out, err = r.runner.Output(ctx, r.ffprobe,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path)
	if err == nil {
		if seconds, ok := parseProbeSeconds(out); ok {
			return seconds
		}
	}

	r.logger.Warn("duration probe failed, using fallback",
		"path", path,
		"fallback_seconds", fallbackDurationSeconds)
	return fallbackDurationSeconds
}

func parseProbeSeconds(out string) (float64, bool) {
	trimmed := strings.TrimSpace(out)
	if trimmed == "" || strings.EqualFold(trimmed, "N/A") {
		return 0, false
	}
	// ffprobe may emit one line per matching stream; the first one wins.
	if idx := strings.IndexAny(trimmed, "\r\n"); idx >= 0 {
		trimmed = strings.TrimSpace(trimmed[:idx])
	}
	seconds, err := strconv.ParseFloat(trimmed, 64)
	if err != nil || math.IsNaN(seconds) || math.IsInf(seconds, 0) || seconds <= 0 {
		return 0, false
	}
	return seconds, true
}

// PersistedDuration picks the duration stored on the record: a positive
// client hint wins over the probed value, and the result is rounded to whole
// seconds.
func PersistedDuration(hint *float64, resolved float64) int {
	seconds := resolved
	if hint != nil && *hint > 0 && !math.IsNaN(*hint) && !math.IsInf(*hint, 0) {
		seconds = *hint
	}
	return int(math.Round(seconds))
}
