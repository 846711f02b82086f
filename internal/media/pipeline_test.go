package media

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"lumeroo/internal/models"
	"lumeroo/internal/storage"
)

type fakeVideoStore struct {
	taken      map[string]bool
	slugChecks []string
	created    []storage.CreateVideoParams
	deleted    []string
	createErr  error
	deleteErr  error
}

func (f *fakeVideoStore) VideoSlugTaken(slug string) bool {
	f.slugChecks = append(f.slugChecks, slug)
	return f.taken[slug]
}

func (f *fakeVideoStore) CreateVideo(params storage.CreateVideoParams) (models.Video, error) {
	if f.createErr != nil {
		return models.Video{}, f.createErr
	}
	f.created = append(f.created, params)
	return models.Video{
		ID:         "vid-1",
		Slug:       params.Slug,
		Title:      params.Title,
		Tags:       params.Tags,
		VideoURL:   params.VideoURL,
		Thumbnail:  params.Thumbnail,
		Duration:   params.Duration,
		UploaderID: params.UploaderID,
	}, nil
}

func (f *fakeVideoStore) DeleteVideo(id string) error {
	f.deleted = append(f.deleted, id)
	return f.deleteErr
}

// transcodeRunner fakes the full tool surface the pipeline touches: duration
// probes succeed, packaging writes the playlist plus a segment, and the
// thumbnail steps write their output files.
func newTranscodeRunner(t *testing.T) *scriptRunner {
	t.Helper()
	runner := &scriptRunner{}
	runner.outputFunc = func(tool string, args []string) (string, error) {
		return "20.0\n", nil
	}
	runner.runFunc = func(tool string, args []string) error {
		out := writeArg(args)
		if hasArg(args, "-f") && hasArg(args, "hls") {
			if err := os.WriteFile(strings.TrimSuffix(out, ".m3u8")+"0.ts", []byte("seg"), 0o644); err != nil {
				return err
			}
		}
		return os.WriteFile(out, []byte("artifact"), 0o644)
	}
	return runner
}

func newTestPipeline(t *testing.T, store Store, runner CommandRunner, streamRoot string) *Pipeline {
	t.Helper()
	pipeline, err := NewPipeline(PipelineConfig{
		Store:      store,
		Runner:     runner,
		Tools:      Toolchain{FFmpeg: "ffmpeg", FFprobe: "ffprobe"},
		StreamRoot: streamRoot,
		Logger:     discardLogger(),
	})
	if err != nil {
		t.Fatalf("NewPipeline returned error: %v", err)
	}
	return pipeline
}

func spoolVideo(t *testing.T) FileInput {
	t.Helper()
	path := filepath.Join(t.TempDir(), "spool-video")
	if err := os.WriteFile(path, []byte("raw video bytes"), 0o600); err != nil {
		t.Fatalf("write spool: %v", err)
	}
	return FileInput{Path: path, Filename: "clip.mp4", ContentType: "video/mp4", Size: 15}
}

func validCommand(t *testing.T) UploadCommand {
	t.Helper()
	return UploadCommand{
		Title:       "Sunset Timelapse",
		Description: "An evening over the bay.",
		Tags:        []string{"nature"},
		UploaderID:  "user-1",
		Video:       spoolVideo(t),
	}
}

func TestPipelineRunHappyPath(t *testing.T) {
	streamRoot := t.TempDir()
	store := &fakeVideoStore{}
	pipeline := newTestPipeline(t, store, newTranscodeRunner(t), streamRoot)

	video, err := pipeline.Run(context.Background(), validCommand(t))
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !strings.HasPrefix(video.Slug, "sunset-timelapse-") {
		t.Fatalf("unexpected slug %q", video.Slug)
	}
	if video.Duration != 20 {
		t.Fatalf("expected probed duration 20, got %d", video.Duration)
	}
	if video.VideoURL != "/stream/"+video.Slug+"/video.m3u8" {
		t.Fatalf("unexpected playlist URL %q", video.VideoURL)
	}
	if video.Thumbnail != "/stream/"+video.Slug+"/thumb.webp" {
		t.Fatalf("unexpected thumbnail URL %q", video.Thumbnail)
	}

	ws := NewWorkspace(streamRoot, video.Slug)
	if !ws.Exists(playlistFile) || !ws.Exists(thumbnailFile) {
		t.Fatal("expected playlist and thumbnail artifacts to remain")
	}
	if ws.Exists("input.mp4") {
		t.Fatal("expected raw input to be removed after success")
	}
	if len(store.created) != 1 {
		t.Fatalf("expected one persisted record, got %d", len(store.created))
	}
}

func TestPipelineRunHonorsDurationHint(t *testing.T) {
	store := &fakeVideoStore{}
	pipeline := newTestPipeline(t, store, newTranscodeRunner(t), t.TempDir())

	cmd := validCommand(t)
	hint := 95.4
	cmd.DurationHint = &hint

	video, err := pipeline.Run(context.Background(), cmd)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if video.Duration != 95 {
		t.Fatalf("expected hinted duration 95, got %d", video.Duration)
	}
}

func TestPipelineRejectsInvalidCommandWithoutSideEffects(t *testing.T) {
	streamRoot := t.TempDir()
	store := &fakeVideoStore{}
	runner := &scriptRunner{}
	pipeline := newTestPipeline(t, store, runner, streamRoot)

	cmd := validCommand(t)
	cmd.Video.ContentType = "application/zip"

	_, err := pipeline.Run(context.Background(), cmd)
	var valErr *ValidationError
	if !errors.As(err, &valErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if StageOf(err) != StageValidating {
		t.Fatalf("expected validating stage, got %s", StageOf(err))
	}
	if len(runner.runCalls) != 0 {
		t.Fatal("expected no tool invocations for rejected input")
	}
	entries, _ := os.ReadDir(streamRoot)
	if len(entries) != 0 {
		t.Fatal("expected no workspace for rejected input")
	}
	if len(store.created) != 0 || len(store.deleted) != 0 {
		t.Fatal("expected no store activity for rejected input")
	}
}

func TestUploadCommandValidation(t *testing.T) {
	base := func(t *testing.T) UploadCommand { return validCommand(t) }
	for _, tc := range []struct {
		name   string
		mutate func(*UploadCommand)
		field  string
	}{
		{name: "missing title", mutate: func(c *UploadCommand) { c.Title = "  " }, field: "title"},
		{name: "title too long", mutate: func(c *UploadCommand) { c.Title = strings.Repeat("x", 101) }, field: "title"},
		{name: "missing description", mutate: func(c *UploadCommand) { c.Description = "  " }, field: "description"},
		{name: "description too long", mutate: func(c *UploadCommand) { c.Description = strings.Repeat("x", 5001) }, field: "description"},
		{name: "too many tags", mutate: func(c *UploadCommand) { c.Tags = make([]string, 11) }, field: "tags"},
		{name: "missing uploader", mutate: func(c *UploadCommand) { c.UploaderID = "" }, field: "uploader"},
		{name: "missing video", mutate: func(c *UploadCommand) { c.Video = FileInput{} }, field: "videoFile"},
		{name: "oversized video", mutate: func(c *UploadCommand) { c.Video.Size = maxVideoBytes + 1 }, field: "videoFile"},
		{name: "bad video type", mutate: func(c *UploadCommand) { c.Video.ContentType = "text/plain" }, field: "videoFile"},
		{name: "bad thumbnail type", mutate: func(c *UploadCommand) {
			c.Thumbnail = &FileInput{Path: "x", ContentType: "image/gif", Size: 10}
		}, field: "thumbnailFile"},
		{name: "oversized thumbnail", mutate: func(c *UploadCommand) {
			c.Thumbnail = &FileInput{Path: "x", ContentType: "image/png", Size: maxThumbnailBytes + 1}
		}, field: "thumbnailFile"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cmd := base(t)
			tc.mutate(&cmd)
			err := cmd.Validate()
			var valErr *ValidationError
			if !errors.As(err, &valErr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if valErr.Field != tc.field {
				t.Fatalf("expected field %q, got %q", tc.field, valErr.Field)
			}
		})
	}

	cmd := base(t)
	cmd.Video.ContentType = "video/mp4; codecs=avc1"
	if err := cmd.Validate(); err != nil {
		t.Fatalf("expected parameterized content type to pass, got %v", err)
	}
}

func TestPipelineRollsBackWorkspaceOnPackagingFailure(t *testing.T) {
	streamRoot := t.TempDir()
	store := &fakeVideoStore{}
	runner := &scriptRunner{}
	runner.outputFunc = func(tool string, args []string) (string, error) { return "20.0", nil }
	runner.runFunc = func(tool string, args []string) error {
		if hasArg(args, "hls") {
			return &ExecError{Tool: "ffmpeg", ExitCode: 1, Stderr: "unsupported codec"}
		}
		return os.WriteFile(writeArg(args), []byte("artifact"), 0o644)
	}
	pipeline := newTestPipeline(t, store, runner, streamRoot)

	_, err := pipeline.Run(context.Background(), validCommand(t))
	if err == nil {
		t.Fatal("expected packaging failure")
	}
	if StageOf(err) != StagePackaging {
		t.Fatalf("expected packaging stage, got %s", StageOf(err))
	}
	var execErr *ExecError
	if !errors.As(err, &execErr) || !execErr.InputRejected() {
		t.Fatalf("expected rejected-input exec error, got %v", err)
	}
	entries, _ := os.ReadDir(streamRoot)
	if len(entries) != 0 {
		t.Fatal("expected workspace to be removed after failure")
	}
	if len(store.created) != 0 {
		t.Fatal("expected no record after failed packaging")
	}
}

func TestPipelineRollsBackWorkspaceOnThumbnailFailure(t *testing.T) {
	streamRoot := t.TempDir()
	store := &fakeVideoStore{}
	runner := &scriptRunner{}
	runner.outputFunc = func(tool string, args []string) (string, error) { return "20.0", nil }
	runner.runFunc = func(tool string, args []string) error {
		if hasArg(args, "-vframes") || hasArg(args, "libwebp") {
			return errors.New("no frame")
		}
		return os.WriteFile(writeArg(args), []byte("artifact"), 0o644)
	}
	pipeline := newTestPipeline(t, store, runner, streamRoot)

	_, err := pipeline.Run(context.Background(), validCommand(t))
	if StageOf(err) != StageThumbnail {
		t.Fatalf("expected thumbnail stage, got %v", err)
	}
	entries, _ := os.ReadDir(streamRoot)
	if len(entries) != 0 {
		t.Fatal("expected workspace to be removed after thumbnail failure")
	}
}

func TestPipelineRollsBackWorkspaceOnPersistFailure(t *testing.T) {
	streamRoot := t.TempDir()
	store := &fakeVideoStore{createErr: storage.ErrDuplicateSlug}
	pipeline := newTestPipeline(t, store, newTranscodeRunner(t), streamRoot)

	_, err := pipeline.Run(context.Background(), validCommand(t))
	if StageOf(err) != StagePersist {
		t.Fatalf("expected persist stage, got %v", err)
	}
	if !errors.Is(err, storage.ErrDuplicateSlug) {
		t.Fatalf("expected duplicate slug in chain, got %v", err)
	}
	entries, _ := os.ReadDir(streamRoot)
	if len(entries) != 0 {
		t.Fatal("expected workspace to be removed after persist failure")
	}
}

func TestPipelineRollsBackRecordOnCleanupFailure(t *testing.T) {
	streamRoot := t.TempDir()
	store := &fakeVideoStore{}
	runner := newTranscodeRunner(t)
	base := runner.runFunc
	runner.runFunc = func(tool string, args []string) error {
		if err := base(tool, args); err != nil {
			return err
		}
		// After packaging, replace the stored input with a non-empty
		// directory so the cleanup step's remove fails.
		if hasArg(args, "hls") {
			input := filepath.Join(filepath.Dir(writeArg(args)), "input.mp4")
			if err := os.Remove(input); err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Join(input, "stuck"), 0o755); err != nil {
				return err
			}
			return os.WriteFile(filepath.Join(input, "stuck", "file"), []byte("x"), 0o644)
		}
		return nil
	}
	pipeline := newTestPipeline(t, store, runner, streamRoot)

	_, err := pipeline.Run(context.Background(), validCommand(t))
	if StageOf(err) != StageCleanup {
		t.Fatalf("expected cleanup stage, got %v", err)
	}
	if len(store.deleted) != 1 || store.deleted[0] != "vid-1" {
		t.Fatalf("expected persisted record to be rolled back, deletions=%v", store.deleted)
	}
	entries, _ := os.ReadDir(streamRoot)
	if len(entries) != 0 {
		t.Fatal("expected workspace to be removed after cleanup failure")
	}
}

func TestAssignSlugAppendsCounterOnCollision(t *testing.T) {
	collisions := 1
	store := &collidingStore{collide: func(string) bool {
		if collisions > 0 {
			collisions--
			return true
		}
		return false
	}}
	pipeline := newTestPipeline(t, store, &scriptRunner{}, t.TempDir())

	slug := pipeline.assignSlug("My Video")
	if !strings.HasPrefix(slug, "my-video-") || !strings.HasSuffix(slug, "1") {
		t.Fatalf("expected counter-suffixed slug after collision, got %q", slug)
	}
}

type collidingStore struct {
	collide func(slug string) bool
}

func (c *collidingStore) VideoSlugTaken(slug string) bool { return c.collide(slug) }
func (c *collidingStore) CreateVideo(params storage.CreateVideoParams) (models.Video, error) {
	return models.Video{}, nil
}
func (c *collidingStore) DeleteVideo(id string) error { return nil }
