package api

import (
	"net/http"
	"strings"
)

// Videos lists all videos, newest first.
func (h *Handler) Videos(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, "GET")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"videos":  h.Store.ListVideos(),
	})
}

// VideoBySlug fetches one video by its slug.
func (h *Handler) VideoBySlug(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, "GET")
		return
	}
	slug := strings.TrimSpace(strings.TrimPrefix(r.URL.Path, "/api/video/"))
	if slug == "" || strings.Contains(slug, "/") {
		writeFailure(w, http.StatusNotFound, "video not found")
		return
	}
	video, ok := h.Store.GetVideoBySlug(slug)
	if !ok {
		writeFailure(w, http.StatusNotFound, "video not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"video":   video,
	})
}

// Images lists all image sets, newest first.
func (h *Handler) ImageSets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, "GET")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"images":  h.Store.ListImageSets(),
	})
}

// ImageSetBySlug fetches one image set by its slug.
func (h *Handler) ImageSetBySlug(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, "GET")
		return
	}
	slug := strings.TrimSpace(strings.TrimPrefix(r.URL.Path, "/api/image/"))
	if slug == "" || strings.Contains(slug, "/") {
		writeFailure(w, http.StatusNotFound, "image set not found")
		return
	}
	set, ok := h.Store.GetImageSetBySlug(slug)
	if !ok {
		writeFailure(w, http.StatusNotFound, "image set not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"images":  set,
	})
}
