package api

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"lumeroo/internal/storage"
)

func seedVideo(t *testing.T, h *Handler, slug, uploaderID string) string {
	t.Helper()
	video, err := h.Store.CreateVideo(storage.CreateVideoParams{
		Slug:       slug,
		Title:      "Seeded",
		VideoURL:   "/stream/" + slug + "/video.m3u8",
		Thumbnail:  "/stream/" + slug + "/thumb.webp",
		Duration:   10,
		UploaderID: uploaderID,
	})
	if err != nil {
		t.Fatalf("CreateVideo returned error: %v", err)
	}
	return video.ID
}

func TestVideosList(t *testing.T) {
	h := newTestHandler(t)
	user, _ := createTestUser(t, h, "ada", false)
	seedVideo(t, h, "first-abc123", user.ID)
	seedVideo(t, h, "second-abc123", user.ID)

	rec := httptest.NewRecorder()
	h.Videos(rec, httptest.NewRequest(http.MethodGet, "/api/videos", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	payload := decodeBody(t, rec)
	videos, _ := payload["videos"].([]interface{})
	if len(videos) != 2 {
		t.Fatalf("expected 2 videos, got %d", len(videos))
	}
}

func TestVideoBySlug(t *testing.T) {
	h := newTestHandler(t)
	user, _ := createTestUser(t, h, "ada", false)
	seedVideo(t, h, "sunset-abc123", user.ID)

	rec := httptest.NewRecorder()
	h.VideoBySlug(rec, httptest.NewRequest(http.MethodGet, "/api/video/sunset-abc123", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.VideoBySlug(rec, httptest.NewRequest(http.MethodGet, "/api/video/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown slug, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.VideoBySlug(rec, httptest.NewRequest(http.MethodGet, "/api/video/a/b", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for nested path, got %d", rec.Code)
	}
}

func TestDeleteContentRemovesVideoAndWorkspace(t *testing.T) {
	h := newTestHandler(t)
	user, token := createTestUser(t, h, "ada", false)
	id := seedVideo(t, h, "sunset-abc123", user.ID)

	workspace := filepath.Join(h.StreamRoot, "sunset-abc123")
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		t.Fatalf("mkdir workspace: %v", err)
	}
	if err := os.WriteFile(filepath.Join(workspace, "video.m3u8"), []byte("#EXTM3U"), 0o644); err != nil {
		t.Fatalf("write playlist: %v", err)
	}

	req := httptest.NewRequest(http.MethodDelete, "/api/deleteContent/video/"+id+"?token="+token, nil)
	rec := httptest.NewRecorder()
	h.DeleteContent(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if _, ok := h.Store.GetVideo(id); ok {
		t.Fatal("expected video record to be deleted")
	}
	if _, err := os.Stat(workspace); !os.IsNotExist(err) {
		t.Fatal("expected workspace directory to be removed")
	}
}

func TestDeleteContentForbiddenForOtherUsers(t *testing.T) {
	h := newTestHandler(t)
	owner, _ := createTestUser(t, h, "owner", false)
	_, token := createTestUser(t, h, "intruder", false)
	id := seedVideo(t, h, "sunset-abc123", owner.ID)

	req := httptest.NewRequest(http.MethodDelete, "/api/deleteContent/video/"+id+"?token="+token, nil)
	rec := httptest.NewRecorder()
	h.DeleteContent(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	if _, ok := h.Store.GetVideo(id); !ok {
		t.Fatal("expected video to survive forbidden delete")
	}
}

func TestDeleteContentAdminOverride(t *testing.T) {
	h := newTestHandler(t)
	owner, _ := createTestUser(t, h, "owner", false)
	_, token := createTestUser(t, h, "moderator", true)
	id := seedVideo(t, h, "sunset-abc123", owner.ID)

	req := httptest.NewRequest(http.MethodDelete, "/api/deleteContent/video/"+id+"?token="+token, nil)
	rec := httptest.NewRecorder()
	h.DeleteContent(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected admin delete to succeed, got %d", rec.Code)
	}
}

func TestDeleteContentUnknownKind(t *testing.T) {
	h := newTestHandler(t)
	_, token := createTestUser(t, h, "ada", false)

	req := httptest.NewRequest(http.MethodDelete, "/api/deleteContent/stream/abc?token="+token, nil)
	rec := httptest.NewRecorder()
	h.DeleteContent(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown kind, got %d", rec.Code)
	}
}

func TestDeleteContentMissingRecord(t *testing.T) {
	h := newTestHandler(t)
	_, token := createTestUser(t, h, "ada", false)

	req := httptest.NewRequest(http.MethodDelete, "/api/deleteContent/video/nope?token="+token, nil)
	rec := httptest.NewRecorder()
	h.DeleteContent(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
