package media

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"lumeroo/internal/models"
	"lumeroo/internal/observability/logging"
	"lumeroo/internal/storage"
)

const (
	maxImagesPerUpload = 12
	maxImageBytes      = int64(50) << 20
	maxAvatarBytes     = int64(10) << 20
	avatarSize         = "300"
)

var allowedImageTypes = map[string]struct{}{
	"image/jpeg": {},
	"image/jpg":  {},
	"image/png":  {},
	"image/webp": {},
	"image/gif":  {},
}

// ImageStore is the slice of the storage repository the image pipeline needs.
type ImageStore interface {
	ImageSlugTaken(slug string) bool
	CreateImageSet(params storage.CreateImageSetParams) (models.ImageSet, error)
	DeleteImageSet(id string) error
}

// ImageUploadCommand carries one image-set upload.
type ImageUploadCommand struct {
	Title          string
	Description    string
	Tags           []string
	UploaderID     string
	Images         []FileInput
	ThumbnailIndex int
}

func (c ImageUploadCommand) Validate() error {
	title := strings.TrimSpace(c.Title)
	if title == "" {
		return &ValidationError{Field: "title", Reason: "title is required"}
	}
	if len(title) > maxTitleLength {
		return &ValidationError{Field: "title", Reason: fmt.Sprintf("title exceeds %d characters", maxTitleLength)}
	}
	if len(c.Description) > maxDescription {
		return &ValidationError{Field: "description", Reason: fmt.Sprintf("description exceeds %d characters", maxDescription)}
	}
	if len(c.Tags) > maxTags {
		return &ValidationError{Field: "tags", Reason: fmt.Sprintf("at most %d tags are allowed", maxTags)}
	}
	if c.UploaderID == "" {
		return &ValidationError{Field: "uploader", Reason: "uploader is required"}
	}
	if len(c.Images) == 0 {
		return &ValidationError{Field: "images", Reason: "at least one image is required"}
	}
	if len(c.Images) > maxImagesPerUpload {
		return &ValidationError{Field: "images", Reason: fmt.Sprintf("at most %d images are allowed", maxImagesPerUpload)}
	}
	for i, image := range c.Images {
		if image.Path == "" || image.Size <= 0 {
			return &ValidationError{Field: "images", Reason: fmt.Sprintf("image %d is empty", i+1)}
		}
		if image.Size > maxImageBytes {
			return &ValidationError{Field: "images", Reason: fmt.Sprintf("image %d exceeds the 50MB limit", i+1)}
		}
		if _, ok := allowedImageTypes[normalizeContentType(image.ContentType)]; !ok {
			return &ValidationError{Field: "images", Reason: fmt.Sprintf("unsupported image type %q", image.ContentType)}
		}
	}
	if c.ThumbnailIndex < 0 || c.ThumbnailIndex >= len(c.Images) {
		return &ValidationError{Field: "thumbnailIndex", Reason: "thumbnail index out of range"}
	}
	return nil
}

// AvatarCommand carries one avatar replacement.
type AvatarCommand struct {
	Username string
	Image    FileInput
}

func (c AvatarCommand) Validate() error {
	if strings.TrimSpace(c.Username) == "" {
		return &ValidationError{Field: "username", Reason: "username is required"}
	}
	if c.Image.Path == "" || c.Image.Size <= 0 {
		return &ValidationError{Field: "avatar", Reason: "avatar image is required"}
	}
	if c.Image.Size > maxAvatarBytes {
		return &ValidationError{Field: "avatar", Reason: "avatar exceeds the 10MB limit"}
	}
	contentType := normalizeContentType(c.Image.ContentType)
	if _, ok := allowedThumbnailTypes[contentType]; !ok {
		return &ValidationError{Field: "avatar", Reason: fmt.Sprintf("unsupported avatar type %q", c.Image.ContentType)}
	}
	return nil
}

// ImagePipelineConfig wires the image pipeline's collaborators.
type ImagePipelineConfig struct {
	Store      ImageStore
	Runner     CommandRunner
	Tools      Toolchain
	StreamRoot string
	PublicBase string
	Logger     *slog.Logger
}

// ImagePipeline converts uploaded images to WebP sets and avatars, sharing
// the slug/workspace/rollback discipline of the video pipeline.
type ImagePipeline struct {
	store      ImageStore
	runner     CommandRunner
	tools      Toolchain
	streamRoot string
	publicBase string
	logger     *slog.Logger
	now        func() time.Time
}

func NewImagePipeline(cfg ImagePipelineConfig) (*ImagePipeline, error) {
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
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ImagePipeline{
		store:      cfg.Store,
		runner:     cfg.Runner,
		tools:      cfg.Tools,
		streamRoot: cfg.StreamRoot,
		publicBase: publicBase,
		logger:     logging.WithComponent(logger, "image-pipeline"),
		now:        time.Now,
	}, nil
}

// Run converts every image concurrently and persists the set. Any encode
// failure removes the whole workspace.
func (p *ImagePipeline) Run(ctx context.Context, cmd ImageUploadCommand) (models.ImageSet, error) {
	if err := cmd.Validate(); err != nil {
		return models.ImageSet{}, &PipelineError{Stage: StageValidating, Err: err}
	}

	slug := p.assignSlug(cmd.Title)
	ctx = logging.ContextWithUploadSlug(ctx, slug)
	logger := logging.WithContext(ctx, p.logger)

	ws := NewWorkspace(p.streamRoot, slug)
	if err := ws.Ensure(); err != nil {
		return models.ImageSet{}, &PipelineError{Stage: StageWorkspace, Err: err}
	}

	set, err := p.process(ctx, cmd, slug, ws)
	if err != nil {
		if rmErr := ws.RemoveAll(); rmErr != nil {
			logger.Error("workspace rollback failed", "error", rmErr)
		}
		return models.ImageSet{}, err
	}

	logger.Info("image upload completed", "image_id", set.ID, "count", len(set.ImageURLs))
	return set, nil
}

func (p *ImagePipeline) process(ctx context.Context, cmd ImageUploadCommand, slug string, ws Workspace) (models.ImageSet, error) {
	group, groupCtx := errgroup.WithContext(ctx)
	names := make([]string, len(cmd.Images))
	for i, image := range cmd.Images {
		i, image := i, image
		names[i] = fmt.Sprintf("image_%d.webp", i)
		group.Go(func() error {
			return p.runner.Run(groupCtx, p.tools.FFmpeg,
				"-y",
				"-i", image.Path,
				"-c:v", "libwebp",
				"-quality", imageQuality,
				ws.Path(names[i]))
		})
	}
	if err := group.Wait(); err != nil {
		return models.ImageSet{}, &PipelineError{Stage: StagePackaging, Err: err}
	}
	for _, name := range names {
		if !ws.Exists(name) {
			return models.ImageSet{}, &PipelineError{Stage: StagePackaging, Err: fmt.Errorf("converted image %s missing", name)}
		}
	}

	urls := make([]string, len(names))
	for i, name := range names {
		urls[i] = fmt.Sprintf("%s/%s/%s", p.publicBase, slug, name)
	}
	set, err := p.store.CreateImageSet(storage.CreateImageSetParams{
		Slug:           slug,
		Title:          strings.TrimSpace(cmd.Title),
		Description:    strings.TrimSpace(cmd.Description),
		Tags:           cmd.Tags,
		ImageURLs:      urls,
		ThumbnailIndex: cmd.ThumbnailIndex,
		UploaderID:     cmd.UploaderID,
	})
	if err != nil {
		return models.ImageSet{}, &PipelineError{Stage: StagePersist, Err: err}
	}
	return set, nil
}

// RunAvatar encodes a 300x300 cover-cropped WebP avatar under a fresh
// timestamped slug and returns its public URL. The caller owns updating the
// user record and retiring the previous avatar workspace.
func (p *ImagePipeline) RunAvatar(ctx context.Context, cmd AvatarCommand) (string, error) {
	if err := cmd.Validate(); err != nil {
		return "", &PipelineError{Stage: StageValidating, Err: err}
	}

	slug := fmt.Sprintf("avatar-%s-%d-%s",
		storage.Slugify(cmd.Username), p.now().UnixMilli(), storage.RandomSlugSuffix(6))
	ws := NewWorkspace(p.streamRoot, slug)
	if err := ws.Ensure(); err != nil {
		return "", &PipelineError{Stage: StageWorkspace, Err: err}
	}

	err := p.runner.Run(ctx, p.tools.FFmpeg,
		"-y",
		"-i", cmd.Image.Path,
		"-vf", fmt.Sprintf("scale=%s:%s:force_original_aspect_ratio=increase,crop=%s:%s", avatarSize, avatarSize, avatarSize, avatarSize),
		"-c:v", "libwebp",
		"-quality", imageQuality,
		ws.Path(thumbnailFile))
	if err != nil || !ws.Exists(thumbnailFile) {
		if rmErr := ws.RemoveAll(); rmErr != nil {
			p.logger.Error("avatar workspace rollback failed", "error", rmErr)
		}
		if err == nil {
			err = fmt.Errorf("avatar encode produced no output")
		}
		return "", &PipelineError{Stage: StagePackaging, Err: err}
	}

	return fmt.Sprintf("%s/%s/%s", p.publicBase, slug, thumbnailFile), nil
}

// RemoveAvatar deletes the workspace backing a previously issued avatar URL.
// Unknown or foreign URLs are ignored.
func (p *ImagePipeline) RemoveAvatar(avatarURL string) error {
	slug, ok := p.slugFromURL(avatarURL)
	if !ok || !strings.HasPrefix(slug, "avatar-") {
		return nil
	}
	return NewWorkspace(p.streamRoot, slug).RemoveAll()
}

func (p *ImagePipeline) slugFromURL(url string) (string, bool) {
	rest, ok := strings.CutPrefix(url, p.publicBase+"/")
	if !ok {
		return "", false
	}
	slug, _, ok := strings.Cut(rest, "/")
	if !ok || slug == "" || strings.Contains(slug, "..") {
		return "", false
	}
	return slug, true
}

func (p *ImagePipeline) assignSlug(title string) string {
	base := storage.Slugify(title)
	suffix := storage.RandomSlugSuffix(6)
	slug := fmt.Sprintf("%s-%s", base, suffix)
	for counter := 1; p.store.ImageSlugTaken(slug); counter++ {
		slug = fmt.Sprintf("%s-%s%d", base, suffix, counter)
	}
	return slug
}
