package api

import (
	"net/http"
	"strings"

	"lumeroo/internal/media"
)

// DeleteContent removes a video or image set: the stream workspace first,
// then the record. Only the uploader or an admin may delete.
func (h *Handler) DeleteContent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete && r.Method != http.MethodPost {
		methodNotAllowed(w, r, "DELETE, POST")
		return
	}
	user, ok := h.authenticate(w, r, strings.TrimSpace(r.URL.Query().Get("token")))
	if !ok {
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/deleteContent/")
	kind, id, found := strings.Cut(rest, "/")
	if !found || id == "" {
		writeFailure(w, http.StatusBadRequest, "content type and id are required")
		return
	}

	switch kind {
	case "video":
		video, exists := h.Store.GetVideo(id)
		if !exists {
			writeFailure(w, http.StatusNotFound, "video not found")
			return
		}
		if video.UploaderID != user.ID && !user.IsAdmin {
			writeFailure(w, http.StatusForbidden, "not allowed to delete this video")
			return
		}
		h.removeWorkspace(video.Slug)
		if err := h.Store.DeleteVideo(video.ID); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
	case "image", "images":
		set, exists := h.Store.GetImageSet(id)
		if !exists {
			writeFailure(w, http.StatusNotFound, "image set not found")
			return
		}
		if set.UploaderID != user.ID && !user.IsAdmin {
			writeFailure(w, http.StatusForbidden, "not allowed to delete this image set")
			return
		}
		h.removeWorkspace(set.Slug)
		if err := h.Store.DeleteImageSet(set.ID); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
	default:
		writeFailure(w, http.StatusBadRequest, "unknown content type "+kind)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Content deleted successfully",
	})
}

func (h *Handler) removeWorkspace(slug string) {
	if h.StreamRoot == "" || slug == "" || strings.Contains(slug, "..") {
		return
	}
	if err := media.NewWorkspace(h.StreamRoot, slug).RemoveAll(); err != nil {
		h.logger().Warn("workspace removal failed", "error", err, "slug", slug)
	}
}
