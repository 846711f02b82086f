package media

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// YouTubeFormat mirrors the subset of yt-dlp's format JSON the downloader
// inspects.
type YouTubeFormat struct {
	FormatID       string  `json:"format_id"`
	FormatNote     string  `json:"format_note"`
	Resolution     string  `json:"resolution"`
	Ext            string  `json:"ext"`
	FPS            float64 `json:"fps"`
	VCodec         string  `json:"vcodec"`
	ACodec         string  `json:"acodec"`
	ABR            float64 `json:"abr"`
	Filesize       int64   `json:"filesize"`
	FilesizeApprox int64   `json:"filesize_approx"`
}

func (f YouTubeFormat) hasVideo() bool { return f.VCodec != "" && f.VCodec != "none" }
func (f YouTubeFormat) hasAudio() bool { return f.ACodec != "" && f.ACodec != "none" }

func (f YouTubeFormat) quality() string {
	if f.FormatNote != "" {
		return f.FormatNote
	}
	return f.Resolution
}

type youtubeThumbnail struct {
	URL string `json:"url"`
}

// YouTubeInfo is the parsed output of yt-dlp --dump-json.
type YouTubeInfo struct {
	ID          string             `json:"id"`
	Title       string             `json:"title"`
	Description string             `json:"description"`
	Duration    float64            `json:"duration"`
	ViewCount   int64              `json:"view_count"`
	Thumbnails  []youtubeThumbnail `json:"thumbnails"`
	Formats     []YouTubeFormat    `json:"formats"`
}

// ThumbnailURL returns the largest listed thumbnail, which yt-dlp sorts last.
func (i YouTubeInfo) ThumbnailURL() string {
	if len(i.Thumbnails) == 0 {
		return ""
	}
	return i.Thumbnails[len(i.Thumbnails)-1].URL
}

// QualityOption is one downloadable rendition offered to the client.
type QualityOption struct {
	Quality  string `json:"quality"`
	Format   string `json:"format"`
	Size     string `json:"size"`
	FPS      string `json:"fps"`
	HasAudio bool   `json:"hasAudio"`
	FormatID string `json:"itag"`
}

var qualityOrder = []string{"4320p", "2160p", "1440p", "1080p", "720p", "480p", "360p", "240p", "144p"}

// QualityOptions lists distinct qualities, preferring muxed formats and
// ordering from highest to lowest resolution.
func (i YouTubeInfo) QualityOptions() []QualityOption {
	seen := make(map[string]QualityOption)
	order := make([]string, 0)
	add := func(format YouTubeFormat, hasAudio bool) {
		quality := format.quality()
		if quality == "" {
			return
		}
		if _, exists := seen[quality]; exists {
			return
		}
		seen[quality] = QualityOption{
			Quality:  quality,
			Format:   firstNonEmptyString(format.Ext, "mp4"),
			Size:     formatFilesize(format),
			FPS:      formatFPS(format.FPS),
			HasAudio: hasAudio,
			FormatID: format.FormatID,
		}
		order = append(order, quality)
	}
	for _, format := range i.Formats {
		if format.hasVideo() && format.hasAudio() {
			add(format, true)
		}
	}
	for _, format := range i.Formats {
		if format.hasVideo() && !format.hasAudio() {
			add(format, false)
		}
	}

	options := make([]QualityOption, 0, len(order))
	for _, quality := range order {
		options = append(options, seen[quality])
	}
	sort.SliceStable(options, func(a, b int) bool {
		return qualityRank(options[a].Quality) < qualityRank(options[b].Quality)
	})
	return options
}

func qualityRank(quality string) int {
	for i, known := range qualityOrder {
		if known == quality {
			return i
		}
	}
	return len(qualityOrder) + 1
}

func formatFilesize(format YouTubeFormat) string {
	size := format.Filesize
	if size == 0 {
		size = format.FilesizeApprox
	}
	if size == 0 {
		return "Unknown"
	}
	return fmt.Sprintf("%d MB", (size+1<<19)/(1<<20))
}

func formatFPS(fps float64) string {
	if fps <= 0 {
		return "30fps"
	}
	return fmt.Sprintf("%.0ffps", fps)
}

// YouTubeClient wraps yt-dlp for metadata probing and downloads.
type YouTubeClient struct {
	runner  CommandRunner
	ytdlp   string
	ffmpeg  string
	tempDir string
	logger  *slog.Logger
	now     func() time.Time
}

func NewYouTubeClient(runner CommandRunner, tools Toolchain, tempDir string, logger *slog.Logger) *YouTubeClient {
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &YouTubeClient{
		runner:  runner,
		ytdlp:   tools.YTDLP,
		ffmpeg:  tools.FFmpeg,
		tempDir: tempDir,
		logger:  logger,
		now:     time.Now,
	}
}

// Info probes the video metadata without downloading media.
func (c *YouTubeClient) Info(ctx context.Context, url string) (YouTubeInfo, error) {
	out, err := c.runner.Output(ctx, c.ytdlp, "--dump-json", "--no-playlist", url)
	if err != nil {
		return YouTubeInfo{}, err
	}
	var info YouTubeInfo
	if err := json.Unmarshal([]byte(out), &info); err != nil {
		return YouTubeInfo{}, fmt.Errorf("parse yt-dlp output: %w", err)
	}
	return info, nil
}

// ErrQualityUnavailable is returned when the requested quality matches no
// downloadable format.
var ErrQualityUnavailable = fmt.Errorf("requested quality not available")

// Download fetches the requested quality into a temp MP4 and returns its
// path. A muxed format is taken directly; a video-only format is merged with
// the best available audio track. The caller owns deleting the file.
func (c *YouTubeClient) Download(ctx context.Context, url, quality string) (string, error) {
	info, err := c.Info(ctx, url)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(c.tempDir, 0o755); err != nil {
		return "", err
	}
	outputPath := filepath.Join(c.tempDir,
		fmt.Sprintf("%s_%s_%d.mp4", sanitizeFilename(info.Title), quality, c.now().UnixNano()))

	selector, err := formatSelector(info.Formats, quality)
	if err != nil {
		return "", err
	}

	err = c.runner.Run(ctx, c.ytdlp,
		url,
		"-f", selector,
		"--ffmpeg-location", c.ffmpeg,
		"-o", outputPath)
	if err != nil {
		_ = os.Remove(outputPath)
		return "", err
	}
	if info, statErr := os.Stat(outputPath); statErr != nil || info.Size() == 0 {
		_ = os.Remove(outputPath)
		return "", fmt.Errorf("download produced no output")
	}
	return outputPath, nil
}

func formatSelector(formats []YouTubeFormat, quality string) (string, error) {
	matches := func(f YouTubeFormat) bool {
		return f.FormatNote == quality || f.Resolution == quality
	}
	for _, format := range formats {
		if matches(format) && format.hasVideo() && format.hasAudio() {
			return format.FormatID, nil
		}
	}
	var video *YouTubeFormat
	for i := range formats {
		if matches(formats[i]) && formats[i].hasVideo() && !formats[i].hasAudio() {
			video = &formats[i]
			break
		}
	}
	var audio *YouTubeFormat
	for i := range formats {
		candidate := &formats[i]
		if !candidate.hasAudio() || candidate.hasVideo() {
			continue
		}
		if audio == nil || candidate.ABR > audio.ABR {
			audio = candidate
		}
	}
	if video == nil || audio == nil {
		return "", ErrQualityUnavailable
	}
	return fmt.Sprintf("%s+%s", video.FormatID, audio.FormatID), nil
}

func sanitizeFilename(name string) string {
	replacer := strings.NewReplacer(
		"<", "_", ">", "_", ":", "_", "\"", "_",
		"/", "_", "\\", "_", "|", "_", "?", "_", "*", "_",
	)
	sanitized := strings.TrimSpace(replacer.Replace(name))
	if sanitized == "" {
		return "video"
	}
	return sanitized
}

func firstNonEmptyString(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
