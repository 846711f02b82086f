package media

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/semaphore"

	"lumeroo/internal/models"
	"lumeroo/internal/observability/logging"
	"lumeroo/internal/observability/metrics"
	"lumeroo/internal/storage"
)

const (
	maxVideoBytes     = int64(1) << 30
	maxThumbnailBytes = int64(30) << 20
	maxTitleLength    = 100
	maxDescription    = 5000
	maxTags           = 10

	defaultMaxConcurrent = 2
)

var allowedVideoTypes = map[string]struct{}{
	"video/mp4":       {},
	"video/webm":      {},
	"video/avi":       {},
	"video/mov":       {},
	"video/quicktime": {},
}

var allowedThumbnailTypes = map[string]struct{}{
	"image/jpeg": {},
	"image/jpg":  {},
	"image/png":  {},
	"image/webp": {},
}

// Store is the slice of the storage repository the video pipeline needs.
type Store interface {
	VideoSlugTaken(slug string) bool
	CreateVideo(params storage.CreateVideoParams) (models.Video, error)
	DeleteVideo(id string) error
}

// FileInput references an upload part already spooled to a temp file.
type FileInput struct {
	Path        string
	Filename    string
	ContentType string
	Size        int64
}

// UploadCommand is the validated unit of work for one video ingestion.
type UploadCommand struct {
	Title        string
	Description  string
	Tags         []string
	UploaderID   string
	Video        FileInput
	Thumbnail    *FileInput
	DurationHint *float64
}

// Validate rejects malformed commands before the pipeline touches the
// filesystem or the store.
func (c UploadCommand) Validate() error {
	title := strings.TrimSpace(c.Title)
	if title == "" {
		return &ValidationError{Field: "title", Reason: "title is required"}
	}
	if len(title) > maxTitleLength {
		return &ValidationError{Field: "title", Reason: fmt.Sprintf("title exceeds %d characters", maxTitleLength)}
	}
	description := strings.TrimSpace(c.Description)
	if description == "" {
		return &ValidationError{Field: "description", Reason: "description is required"}
	}
	if len(description) > maxDescription {
		return &ValidationError{Field: "description", Reason: fmt.Sprintf("description exceeds %d characters", maxDescription)}
	}
	if len(c.Tags) > maxTags {
		return &ValidationError{Field: "tags", Reason: fmt.Sprintf("at most %d tags are allowed", maxTags)}
	}
	if c.UploaderID == "" {
		return &ValidationError{Field: "uploader", Reason: "uploader is required"}
	}
	if c.Video.Path == "" || c.Video.Size <= 0 {
		return &ValidationError{Field: "videoFile", Reason: "video file is required"}
	}
	if c.Video.Size > maxVideoBytes {
		return &ValidationError{Field: "videoFile", Reason: "video file exceeds the 1GB limit"}
	}
	if _, ok := allowedVideoTypes[normalizeContentType(c.Video.ContentType)]; !ok {
		return &ValidationError{Field: "videoFile", Reason: fmt.Sprintf("unsupported video type %q", c.Video.ContentType)}
	}
	if c.Thumbnail != nil {
		if c.Thumbnail.Size > maxThumbnailBytes {
			return &ValidationError{Field: "thumbnailFile", Reason: "thumbnail exceeds the 30MB limit"}
		}
		if _, ok := allowedThumbnailTypes[normalizeContentType(c.Thumbnail.ContentType)]; !ok {
			return &ValidationError{Field: "thumbnailFile", Reason: fmt.Sprintf("unsupported thumbnail type %q", c.Thumbnail.ContentType)}
		}
	}
	return nil
}

func normalizeContentType(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if idx := strings.IndexByte(value, ';'); idx >= 0 {
		value = strings.TrimSpace(value[:idx])
	}
	return value
}

// PipelineConfig wires the video pipeline's collaborators.
type PipelineConfig struct {
	Store      Store
	Runner     CommandRunner
	Tools      Toolchain
	StreamRoot string
	// PublicBase prefixes the persisted playlist and thumbnail URLs.
	// Defaults to "/stream".
	PublicBase    string
	MaxConcurrent int64
	Logger        *slog.Logger
	Metrics       *metrics.Recorder
}

// Pipeline runs the synchronous upload flow: validate, slug, workspace, raw
// input, duration, HLS packaging, thumbnail, persist, cleanup. Any failure
// after the workspace exists tears the whole workspace down and removes a
// persisted record, so a request either yields a complete artifact set or
// nothing.
type Pipeline struct {
	store      Store
	runner     CommandRunner
	tools      Toolchain
	streamRoot string
	publicBase string
	sem        *semaphore.Weighted
	durations  *DurationResolver
	thumbs     *ThumbnailProducer
	logger     *slog.Logger
	metrics    *metrics.Recorder
}

func NewPipeline(cfg PipelineConfig) (*Pipeline, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Runner == nil {
		return nil, fmt.Errorf("command runner is required")
	}
	if strings.TrimSpace(cfg.StreamRoot) == "" {
		return nil, fmt.Errorf("stream root is required")
	}
	publicBase := strings.TrimRight(cfg.PublicBase, "/")
	if publicBase == "" {
		publicBase = "/stream"
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrent
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}
	return &Pipeline{
		store:      cfg.Store,
		runner:     cfg.Runner,
		tools:      cfg.Tools,
		streamRoot: cfg.StreamRoot,
		publicBase: publicBase,
		sem:        semaphore.NewWeighted(maxConcurrent),
		durations:  NewDurationResolver(cfg.Runner, cfg.Tools.FFprobe, logger),
		thumbs:     NewThumbnailProducer(cfg.Runner, cfg.Tools.FFmpeg, logger),
		logger:     logging.WithComponent(logger, "upload-pipeline"),
		metrics:    recorder,
	}, nil
}

// Run executes one upload end to end. Concurrency is bounded so a burst of
// uploads cannot fork an unbounded number of ffmpeg processes.
func (p *Pipeline) Run(ctx context.Context, cmd UploadCommand) (models.Video, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return models.Video{}, &PipelineError{Stage: StageValidating, Err: err}
	}
	defer p.sem.Release(1)

	p.metrics.UploadStarted()
	video, err := p.run(ctx, cmd)
	if err != nil {
		p.metrics.UploadFailed(string(StageOf(err)))
		return models.Video{}, err
	}
	p.metrics.UploadCompleted()
	return video, nil
}

func (p *Pipeline) run(ctx context.Context, cmd UploadCommand) (models.Video, error) {
	if err := cmd.Validate(); err != nil {
		return models.Video{}, &PipelineError{Stage: StageValidating, Err: err}
	}

	slug := p.assignSlug(cmd.Title)
	ctx = logging.ContextWithUploadSlug(ctx, slug)
	logger := logging.WithContext(ctx, p.logger)

	ws := NewWorkspace(p.streamRoot, slug)
	if err := ws.Ensure(); err != nil {
		// Nothing was created, so nothing needs rolling back.
		return models.Video{}, &PipelineError{Stage: StageWorkspace, Err: err}
	}

	video, err := p.process(ctx, cmd, slug, ws, logger)
	if err != nil {
		if rmErr := ws.RemoveAll(); rmErr != nil {
			logger.Error("workspace rollback failed", "error", rmErr)
		} else {
			logger.Info("workspace rolled back", "stage", string(StageOf(err)))
		}
		return models.Video{}, err
	}

	logger.Info("upload completed",
		"video_id", video.ID,
		"duration_seconds", video.Duration)
	return video, nil
}

func (p *Pipeline) process(ctx context.Context, cmd UploadCommand, slug string, ws Workspace, logger *slog.Logger) (models.Video, error) {
	inputName := "input" + inputExtension(cmd.Video.Filename)
	inputPath := ws.Path(inputName)
	if err := moveFile(cmd.Video.Path, inputPath); err != nil {
		return models.Video{}, &PipelineError{Stage: StageInput, Err: err}
	}

	// Always probed, even when the client sent a hint: the probed value
	// drives thumbnail timing and the fallback when the hint is absent.
	resolved := p.durations.Resolve(ctx, inputPath)
	durationSeconds := PersistedDuration(cmd.DurationHint, resolved)

	playlistPath := ws.Path(playlistFile)
	if err := PackageHLS(ctx, p.runner, p.tools.FFmpeg, inputPath, playlistPath); err != nil {
		return models.Video{}, &PipelineError{Stage: StagePackaging, Err: err}
	}

	var thumbErr error
	if cmd.Thumbnail != nil {
		_, thumbErr = p.thumbs.FromImage(ctx, cmd.Thumbnail.Path, ws)
	} else {
		_, thumbErr = p.thumbs.FromVideo(ctx, inputPath, resolved, ws)
	}
	if thumbErr != nil {
		return models.Video{}, &PipelineError{Stage: StageThumbnail, Err: thumbErr}
	}

	video, err := p.store.CreateVideo(storage.CreateVideoParams{
		Slug:        slug,
		Title:       strings.TrimSpace(cmd.Title),
		Description: strings.TrimSpace(cmd.Description),
		Tags:        cmd.Tags,
		VideoURL:    p.publicURL(slug, playlistFile),
		Thumbnail:   p.publicURL(slug, thumbnailFile),
		Duration:    durationSeconds,
		UploaderID:  cmd.UploaderID,
	})
	if err != nil {
		return models.Video{}, &PipelineError{Stage: StagePersist, Err: err}
	}

	if err := ws.RemoveFile(inputName); err != nil {
		// The record exists but the raw input is stuck on disk; undo the
		// persist so the failure leaves no partial state behind.
		if delErr := p.store.DeleteVideo(video.ID); delErr != nil {
			logger.Error("record rollback failed after cleanup error", "error", delErr)
		}
		return models.Video{}, &PipelineError{Stage: StageCleanup, Err: err}
	}

	return video, nil
}

// assignSlug derives a unique slug from the title: slugified title plus a
// random suffix, with a numeric counter appended while the store still knows
// the candidate.
func (p *Pipeline) assignSlug(title string) string {
	base := storage.Slugify(title)
	suffix := storage.RandomSlugSuffix(6)
	slug := fmt.Sprintf("%s-%s", base, suffix)
	for counter := 1; p.store.VideoSlugTaken(slug); counter++ {
		slug = fmt.Sprintf("%s-%s%d", base, suffix, counter)
	}
	return slug
}

func (p *Pipeline) publicURL(slug, name string) string {
	return fmt.Sprintf("%s/%s/%s", p.publicBase, slug, name)
}
