package api

import (
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
)

var youtubeInfoJSON = `{
	"id": "abc123",
	"title": "Imported Video",
	"description": "imported description",
	"duration": 212.5,
	"thumbnails": [{"url": "https://img.example.com/large.jpg"}],
	"formats": [
		{"format_id": "251", "format_note": "high", "ext": "webm", "vcodec": "none", "acodec": "opus", "abr": 160},
		{"format_id": "18", "format_note": "360p", "ext": "mp4", "vcodec": "avc1", "acodec": "mp4a", "fps": 30},
		{"format_id": "137", "format_note": "1080p", "ext": "mp4", "vcodec": "avc1", "acodec": "none", "fps": 60}
	]
}`

func newYouTubeRunner() *stubRunner {
	runner := &stubRunner{}
	runner.output = func(tool string, args []string) (string, error) {
		for _, arg := range args {
			if arg == "--dump-json" {
				return youtubeInfoJSON, nil
			}
		}
		return "20.0\n", nil
	}
	runner.run = func(tool string, args []string) error {
		out := ""
		for i, arg := range args {
			if arg == "-o" && i+1 < len(args) {
				out = args[i+1]
			}
		}
		if out == "" && len(args) > 0 {
			out = args[len(args)-1]
		}
		return os.WriteFile(out, []byte("mp4 bytes"), 0o644)
	}
	return runner
}

func TestYouTubeInit(t *testing.T) {
	h := newTestHandler(t)
	attachPipelines(t, h, newYouTubeRunner())

	rec := httptest.NewRecorder()
	h.YouTubeInit(rec, postJSON(t, "/api/youtube-downloader/init", `{"url":"https://youtube.example.com/watch?v=abc123"}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	payload := decodeBody(t, rec)
	if payload["title"] != "Imported Video" {
		t.Fatalf("unexpected title %v", payload["title"])
	}
	if payload["thumbnail"] != "https://img.example.com/large.jpg" {
		t.Fatalf("unexpected thumbnail %v", payload["thumbnail"])
	}
	qualities, _ := payload["qualities"].([]interface{})
	if len(qualities) != 2 {
		t.Fatalf("expected 2 qualities, got %v", qualities)
	}
}

func TestYouTubeInitRequiresURL(t *testing.T) {
	h := newTestHandler(t)
	attachPipelines(t, h, newYouTubeRunner())

	rec := httptest.NewRecorder()
	h.YouTubeInit(rec, postJSON(t, "/api/youtube-downloader/init", `{"url":"  "}`))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestYouTubeInitProbeFailure(t *testing.T) {
	h := newTestHandler(t)
	runner := newYouTubeRunner()
	runner.output = func(tool string, args []string) (string, error) {
		return "not json", nil
	}
	attachPipelines(t, h, runner)

	rec := httptest.NewRecorder()
	h.YouTubeInit(rec, postJSON(t, "/api/youtube-downloader/init", `{"url":"https://youtube.example.com/x"}`))
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
}

func TestYouTubeDownloadUnavailableQuality(t *testing.T) {
	h := newTestHandler(t)
	attachPipelines(t, h, newYouTubeRunner())

	rec := httptest.NewRecorder()
	h.YouTubeDownload(rec, postJSON(t, "/api/youtube-downloader/download", `{"url":"https://youtube.example.com/x","quality":"4320p"}`))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestYouTubeDownloadStreamsFile(t *testing.T) {
	h := newTestHandler(t)
	attachPipelines(t, h, newYouTubeRunner())

	rec := httptest.NewRecorder()
	h.YouTubeDownload(rec, postJSON(t, "/api/youtube-downloader/download", `{"url":"https://youtube.example.com/x","quality":"360p"}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); got != "video/mp4" {
		t.Fatalf("unexpected content type %q", got)
	}
	if rec.Body.String() != "mp4 bytes" {
		t.Fatalf("unexpected body %q", rec.Body.String())
	}
}

func TestYouTubeUploadImportsIntoLibrary(t *testing.T) {
	h := newTestHandler(t)
	attachPipelines(t, h, newYouTubeRunner())
	_, token := createTestUser(t, h, "ada", false)

	rec := httptest.NewRecorder()
	h.YouTubeUpload(rec, postJSON(t, "/api/youtubeUpload",
		`{"token":"`+token+`","url":"https://youtube.example.com/x","quality":"360p","tags":["imported"]}`))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	payload := decodeBody(t, rec)
	video, _ := payload["video"].(map[string]interface{})
	if video["title"] != "Imported Video" {
		t.Fatalf("expected probed title, got %v", video["title"])
	}
	if video["duration"] != float64(213) {
		t.Fatalf("expected probed duration hint 213, got %v", video["duration"])
	}
	if video["description"] != "imported description" {
		t.Fatalf("expected imported description, got %v", video["description"])
	}
	if videos := h.Store.ListVideos(); len(videos) != 1 {
		t.Fatalf("expected one imported video, got %d", len(videos))
	}
}

func TestYouTubeUploadFallsBackToURLDescription(t *testing.T) {
	h := newTestHandler(t)
	runner := newYouTubeRunner()
	runner.output = func(tool string, args []string) (string, error) {
		for _, arg := range args {
			if arg == "--dump-json" {
				return strings.Replace(youtubeInfoJSON, `"description": "imported description",`, "", 1), nil
			}
		}
		return "20.0\n", nil
	}
	attachPipelines(t, h, runner)
	_, token := createTestUser(t, h, "ada", false)

	rec := httptest.NewRecorder()
	h.YouTubeUpload(rec, postJSON(t, "/api/youtubeUpload",
		`{"token":"`+token+`","url":"https://youtube.example.com/x","quality":"360p"}`))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	video, _ := decodeBody(t, rec)["video"].(map[string]interface{})
	if video["description"] != "Imported from https://youtube.example.com/x" {
		t.Fatalf("expected URL fallback description, got %v", video["description"])
	}
}

func TestYouTubeUploadRequiresAuthentication(t *testing.T) {
	h := newTestHandler(t)
	attachPipelines(t, h, newYouTubeRunner())

	rec := httptest.NewRecorder()
	h.YouTubeUpload(rec, postJSON(t, "/api/youtubeUpload", `{"url":"https://youtube.example.com/x","quality":"360p"}`))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}
