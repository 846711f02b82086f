package api

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"lumeroo/internal/media"
)

const maxImportedDescription = 500

type youtubeInitRequest struct {
	URL string `json:"url"`
}

type youtubeDownloadRequest struct {
	URL     string `json:"url"`
	Quality string `json:"quality"`
}

type youtubeUploadRequest struct {
	Token   string   `json:"token"`
	URL     string   `json:"url"`
	Quality string   `json:"quality"`
	Title   string   `json:"title"`
	Tags    []string `json:"tags"`
}

// YouTubeInit probes a URL and reports its metadata and available qualities.
func (h *Handler) YouTubeInit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, "POST")
		return
	}
	if h.YouTube == nil {
		writeFailure(w, http.StatusServiceUnavailable, "youtube downloads are not configured")
		return
	}
	var req youtubeInitRequest
	if err := decodeJSON(r, &req); err != nil || strings.TrimSpace(req.URL) == "" {
		writeFailure(w, http.StatusBadRequest, "url is required")
		return
	}
	info, err := h.YouTube.Info(r.Context(), strings.TrimSpace(req.URL))
	if err != nil {
		h.logger().Error("youtube probe failed", "error", err)
		writeFailure(w, http.StatusBadGateway, "failed to fetch video information")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"title":     info.Title,
		"duration":  info.Duration,
		"thumbnail": info.ThumbnailURL(),
		"qualities": info.QualityOptions(),
	})
}

// YouTubeDownload fetches the requested quality and streams the MP4 back.
func (h *Handler) YouTubeDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, "POST")
		return
	}
	if h.YouTube == nil {
		writeFailure(w, http.StatusServiceUnavailable, "youtube downloads are not configured")
		return
	}
	var req youtubeDownloadRequest
	if err := decodeJSON(r, &req); err != nil || strings.TrimSpace(req.URL) == "" || strings.TrimSpace(req.Quality) == "" {
		writeFailure(w, http.StatusBadRequest, "url and quality are required")
		return
	}

	path, err := h.YouTube.Download(r.Context(), strings.TrimSpace(req.URL), strings.TrimSpace(req.Quality))
	if err != nil {
		if errors.Is(err, media.ErrQualityUnavailable) {
			writeFailure(w, http.StatusUnprocessableEntity, "requested quality not available")
			return
		}
		h.logger().Error("youtube download failed", "error", err)
		writeFailure(w, http.StatusBadGateway, "download failed")
		return
	}
	defer os.Remove(path)

	file, err := os.Open(path)
	if err != nil {
		writeFailure(w, http.StatusInternalServerError, "downloaded file unavailable")
		return
	}
	defer file.Close()
	stat, err := file.Stat()
	if err != nil {
		writeFailure(w, http.StatusInternalServerError, "downloaded file unavailable")
		return
	}
	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filepath.Base(path)+`"`)
	http.ServeContent(w, r, filepath.Base(path), stat.ModTime(), file)
}

// YouTubeUpload imports a video directly into the library: download at the
// requested quality, then run it through the regular upload pipeline.
func (h *Handler) YouTubeUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, "POST")
		return
	}
	if h.YouTube == nil || h.Pipeline == nil {
		writeFailure(w, http.StatusServiceUnavailable, "youtube imports are not configured")
		return
	}
	var req youtubeUploadRequest
	if err := decodeJSON(r, &req); err != nil || strings.TrimSpace(req.URL) == "" || strings.TrimSpace(req.Quality) == "" {
		writeFailure(w, http.StatusBadRequest, "url and quality are required")
		return
	}
	user, ok := h.authenticate(w, r, req.Token)
	if !ok {
		return
	}

	url := strings.TrimSpace(req.URL)
	info, err := h.YouTube.Info(r.Context(), url)
	if err != nil {
		h.logger().Error("youtube probe failed", "error", err)
		writeFailure(w, http.StatusBadGateway, "failed to fetch video information")
		return
	}

	path, err := h.YouTube.Download(r.Context(), url, strings.TrimSpace(req.Quality))
	if err != nil {
		if errors.Is(err, media.ErrQualityUnavailable) {
			writeFailure(w, http.StatusUnprocessableEntity, "requested quality not available")
			return
		}
		h.logger().Error("youtube download failed", "error", err)
		writeFailure(w, http.StatusBadGateway, "download failed")
		return
	}
	defer os.Remove(path)

	stat, err := os.Stat(path)
	if err != nil {
		writeFailure(w, http.StatusInternalServerError, "downloaded file unavailable")
		return
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = info.Title
	}
	description := truncateDescription(info.Description)
	if description == "" {
		description = "Imported from " + url
	}
	duration := info.Duration
	cmd := media.UploadCommand{
		Title:       title,
		Description: description,
		Tags:        req.Tags,
		UploaderID:  user.ID,
		Video: media.FileInput{
			Path:        path,
			Filename:    filepath.Base(path),
			ContentType: "video/mp4",
			Size:        stat.Size(),
		},
	}
	if duration > 0 {
		cmd.DurationHint = &duration
	}

	video, err := h.Pipeline.Run(r.Context(), cmd)
	if err != nil {
		h.logger().Error("youtube import failed", "error", err, "user_id", user.ID)
		writeFailure(w, statusForUploadError(err), uploadErrorMessage(err))
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"success": true,
		"message": "Video uploaded successfully",
		"video":   video,
	})
}

// truncateDescription keeps imported descriptions short enough for listing
// pages, cutting at a rune boundary.
func truncateDescription(description string) string {
	description = strings.TrimSpace(description)
	runes := []rune(description)
	if len(runes) <= maxImportedDescription {
		return description
	}
	return strings.TrimSpace(string(runes[:maxImportedDescription])) + "..."
}
