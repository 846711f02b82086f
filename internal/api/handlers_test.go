package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"lumeroo/internal/auth"
	"lumeroo/internal/media"
	"lumeroo/internal/models"
	"lumeroo/internal/storage"
)

// stubRunner fakes the external tool surface: duration probes report 20s and
// every other invocation writes its output file.
type stubRunner struct {
	mu       sync.Mutex
	output   func(tool string, args []string) (string, error)
	run      func(tool string, args []string) error
	runCalls int
}

func (s *stubRunner) Run(ctx context.Context, tool string, args ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runCalls++
	if s.run != nil {
		return s.run(tool, args)
	}
	if len(args) == 0 {
		return nil
	}
	return os.WriteFile(args[len(args)-1], []byte("artifact"), 0o644)
}

func (s *stubRunner) Output(ctx context.Context, tool string, args ...string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.output != nil {
		return s.output(tool, args)
	}
	return "20.0\n", nil
}

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	store, err := storage.NewStorage(filepath.Join(t.TempDir(), "store.json"))
	if err != nil {
		t.Fatalf("NewStorage returned error: %v", err)
	}
	h := NewHandler(store, auth.NewSessionManager(time.Hour))
	h.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	h.StreamRoot = t.TempDir()
	return h
}

func attachPipelines(t *testing.T, h *Handler, runner media.CommandRunner) {
	t.Helper()
	tools := media.Toolchain{FFmpeg: "ffmpeg", FFprobe: "ffprobe", YTDLP: "yt-dlp"}
	pipeline, err := media.NewPipeline(media.PipelineConfig{
		Store:      h.Store,
		Runner:     runner,
		Tools:      tools,
		StreamRoot: h.StreamRoot,
		Logger:     h.Logger,
	})
	if err != nil {
		t.Fatalf("NewPipeline returned error: %v", err)
	}
	images, err := media.NewImagePipeline(media.ImagePipelineConfig{
		Store:      h.Store,
		Runner:     runner,
		Tools:      tools,
		StreamRoot: h.StreamRoot,
		Logger:     h.Logger,
	})
	if err != nil {
		t.Fatalf("NewImagePipeline returned error: %v", err)
	}
	h.Pipeline = pipeline
	h.Images = images
	h.YouTube = media.NewYouTubeClient(runner, tools, t.TempDir(), h.Logger)
}

func createTestUser(t *testing.T, h *Handler, username string, admin bool) (models.User, string) {
	t.Helper()
	user, err := h.Store.CreateUser(storage.CreateUserParams{
		Username: username,
		Email:    username + "@example.com",
		Password: "password123",
		IsAdmin:  admin,
	})
	if err != nil {
		t.Fatalf("CreateUser returned error: %v", err)
	}
	token, _, err := h.Sessions.Create(user.ID)
	if err != nil {
		t.Fatalf("session create returned error: %v", err)
	}
	return user, token
}

type filePart struct {
	field       string
	filename    string
	contentType string
	data        []byte
}

func multipartBody(t *testing.T, fields map[string]string, files []filePart) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	for _, file := range files {
		header := make(map[string][]string)
		header["Content-Disposition"] = []string{`form-data; name="` + file.field + `"; filename="` + file.filename + `"`}
		header["Content-Type"] = []string{file.contentType}
		part, err := writer.CreatePart(header)
		if err != nil {
			t.Fatalf("create part: %v", err)
		}
		if _, err := part.Write(file.data); err != nil {
			t.Fatalf("write part: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return body, writer.FormDataContentType()
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var payload map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return payload
}

func postJSON(t *testing.T, target string, payload string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	return req
}
