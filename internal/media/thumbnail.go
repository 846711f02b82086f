package media

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"strconv"
)

const (
	thumbnailFrameFile = "thumb.png"
	thumbnailFile      = "thumb.webp"
	thumbnailQuality   = "80"
	imageQuality       = "85"
)

// ThumbnailProducer extracts poster frames and converts supplied images to
// the WebP artifact served next to the playlist.
type ThumbnailProducer struct {
	runner    CommandRunner
	ffmpeg    string
	logger    *slog.Logger
	randFloat func() float64
}

func NewThumbnailProducer(runner CommandRunner, ffmpeg string, logger *slog.Logger) *ThumbnailProducer {
	if logger == nil {
		logger = slog.Default()
	}
	return &ThumbnailProducer{
		runner:    runner,
		ffmpeg:    ffmpeg,
		logger:    logger,
		randFloat: rand.Float64,
	}
}

// offsets returns the ordered frame-extraction attempts: a uniformly random
// point inside the middle of the video, then a fixed 1s fallback. The random
// window is [max(1, 0.1*d), max(lower+1, 0.9*d)] so even very short inputs
// yield a valid, non-empty range.
func (p *ThumbnailProducer) offsets(duration float64) []float64 {
	lower := math.Max(1, 0.1*duration)
	upper := math.Max(lower+1, 0.9*duration)
	primary := lower + p.randFloat()*(upper-lower)
	return []float64{primary, 1}
}

// FromVideo produces thumb.webp from a frame of the stored input. Each
// attempt extracts a frame, verifies the file actually appeared (ffmpeg can
// exit zero without writing one near stream boundaries), and re-encodes it.
func (p *ThumbnailProducer) FromVideo(ctx context.Context, videoPath string, duration float64, ws Workspace) (string, error) {
	framePath := ws.Path(thumbnailFrameFile)
	var lastErr error
	for _, offset := range p.offsets(duration) {
		err := p.runner.Run(ctx, p.ffmpeg,
			"-y",
			"-ss", formatSeconds(offset),
			"-i", videoPath,
			"-vframes", "1",
			"-q:v", "2",
			framePath)
		if err != nil {
			lastErr = err
			p.logger.Warn("thumbnail frame extraction failed",
				"offset_seconds", offset, "error", err)
			continue
		}
		if !ws.Exists(thumbnailFrameFile) {
			lastErr = fmt.Errorf("thumbnail frame not written at offset %s", formatSeconds(offset))
			p.logger.Warn("thumbnail frame missing after extraction",
				"offset_seconds", offset)
			continue
		}
		webpPath, err := p.encodeWebP(ctx, framePath, ws, thumbnailQuality)
		if err != nil {
			return "", err
		}
		if err := ws.RemoveFile(thumbnailFrameFile); err != nil {
			p.logger.Warn("intermediate frame cleanup failed", "error", err)
		}
		return webpPath, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no thumbnail offsets attempted")
	}
	return "", lastErr
}

// FromImage converts a caller-supplied poster image to thumb.webp.
func (p *ThumbnailProducer) FromImage(ctx context.Context, imagePath string, ws Workspace) (string, error) {
	return p.encodeWebP(ctx, imagePath, ws, thumbnailQuality)
}

func (p *ThumbnailProducer) encodeWebP(ctx context.Context, srcPath string, ws Workspace, quality string) (string, error) {
	outPath := ws.Path(thumbnailFile)
	err := p.runner.Run(ctx, p.ffmpeg,
		"-y",
		"-i", srcPath,
		"-c:v", "libwebp",
		"-quality", quality,
		outPath)
	if err != nil {
		return "", err
	}
	if !ws.Exists(thumbnailFile) {
		return "", fmt.Errorf("thumbnail encode produced no output")
	}
	return outPath, nil
}

func formatSeconds(seconds float64) string {
	return strconv.FormatFloat(seconds, 'f', 2, 64)
}
