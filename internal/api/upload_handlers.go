package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strconv"
	"strings"
	"unicode"

	"lumeroo/internal/media"
	"lumeroo/internal/storage"
)

// maxUploadRequestBytes bounds the whole multipart request: one video up to
// 1GB plus a thumbnail and form fields.
const maxUploadRequestBytes = int64(1)<<30 + int64(64)<<20

type uploadForm struct {
	token        string
	title        string
	description  string
	tags         []string
	durationHint *float64
	files        []*spooledFile
	video        *spooledFile
	thumbnail    *spooledFile
}

type spooledFile struct {
	path        string
	filename    string
	contentType string
	size        int64
}

func (f *spooledFile) input() media.FileInput {
	return media.FileInput{
		Path:        f.path,
		Filename:    f.filename,
		ContentType: f.contentType,
		Size:        f.size,
	}
}

func (form *uploadForm) cleanup() {
	for _, file := range form.files {
		if file != nil && file.path != "" {
			_ = os.Remove(file.path)
		}
	}
}

// UploadVideo ingests one video synchronously: the response is not written
// until packaging, thumbnailing, and persistence have all succeeded.
func (h *Handler) UploadVideo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, "POST")
		return
	}
	if h.Pipeline == nil {
		writeFailure(w, http.StatusServiceUnavailable, "video uploads are not configured")
		return
	}

	form, err := h.parseUploadForm(w, r)
	if err != nil {
		writeFailure(w, http.StatusBadRequest, err.Error())
		return
	}
	defer form.cleanup()

	user, ok := h.authenticate(w, r, form.token)
	if !ok {
		return
	}

	cmd := media.UploadCommand{
		Title:        form.title,
		Description:  form.description,
		Tags:         form.tags,
		UploaderID:   user.ID,
		DurationHint: form.durationHint,
	}
	if form.video != nil {
		cmd.Video = form.video.input()
	}
	if form.thumbnail != nil {
		input := form.thumbnail.input()
		cmd.Thumbnail = &input
	}

	video, err := h.Pipeline.Run(r.Context(), cmd)
	if err != nil {
		h.logger().Error("video upload failed", "error", err, "user_id", user.ID)
		writeFailure(w, statusForUploadError(err), uploadErrorMessage(err))
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"success": true,
		"message": "Video uploaded successfully",
		"video":   video,
	})
}

// parseUploadForm streams the multipart body, spooling file parts to temp
// files so the video never has to fit in memory.
func (h *Handler) parseUploadForm(w http.ResponseWriter, r *http.Request) (*uploadForm, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadRequestBytes)
	reader, err := r.MultipartReader()
	if err != nil {
		return nil, fmt.Errorf("invalid multipart payload")
	}

	form := &uploadForm{}
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			form.cleanup()
			return nil, fmt.Errorf("read multipart data")
		}
		name := part.FormName()
		if name == "" {
			_ = part.Close()
			continue
		}
		switch name {
		case "videoFile":
			file, saveErr := saveMultipartFile(part)
			if saveErr != nil {
				form.cleanup()
				return nil, saveErr
			}
			form.files = append(form.files, file)
			if form.video == nil {
				form.video = file
			}
		case "thumbnailFile":
			file, saveErr := saveMultipartFile(part)
			if saveErr != nil {
				form.cleanup()
				return nil, saveErr
			}
			form.files = append(form.files, file)
			if form.thumbnail == nil && file.size > 0 {
				form.thumbnail = file
			}
		default:
			payload, readErr := io.ReadAll(io.LimitReader(part, 1<<20))
			_ = part.Close()
			if readErr != nil {
				form.cleanup()
				return nil, fmt.Errorf("read form field %s", name)
			}
			value := strings.TrimSpace(string(payload))
			switch name {
			case "token":
				form.token = value
			case "title":
				form.title = value
			case "description":
				form.description = value
			case "tags":
				form.tags = parseTags(value)
			case "duration":
				if value != "" {
					if seconds, parseErr := strconv.ParseFloat(value, 64); parseErr == nil {
						form.durationHint = &seconds
					}
				}
			}
		}
	}
	return form, nil
}

func saveMultipartFile(part *multipart.Part) (*spooledFile, error) {
	defer part.Close()
	tmp, err := os.CreateTemp("", "upload-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file")
	}
	defer tmp.Close()
	written, err := io.Copy(tmp, part)
	if err != nil {
		_ = os.Remove(tmp.Name())
		return nil, fmt.Errorf("save uploaded file")
	}
	return &spooledFile{
		path:        tmp.Name(),
		filename:    part.FileName(),
		contentType: part.Header.Get("Content-Type"),
		size:        written,
	}, nil
}

// parseTags accepts a JSON string array or a plain token string, where tokens
// are separated by whitespace or commas.
func parseTags(value string) []string {
	if value == "" {
		return nil
	}
	if strings.HasPrefix(value, "[") {
		var tags []string
		if err := json.Unmarshal([]byte(value), &tags); err == nil {
			return normalizeTagList(tags)
		}
	}
	tokens := strings.FieldsFunc(value, func(r rune) bool {
		return r == ',' || unicode.IsSpace(r)
	})
	return normalizeTagList(tokens)
}

func normalizeTagList(tags []string) []string {
	cleaned := make([]string, 0, len(tags))
	for _, tag := range tags {
		if trimmed := strings.TrimSpace(tag); trimmed != "" {
			cleaned = append(cleaned, trimmed)
		}
	}
	if len(cleaned) == 0 {
		return nil
	}
	return cleaned
}

// statusForUploadError maps pipeline failures onto HTTP statuses: rejected
// inputs are the client's fault, full disks are the server's.
func statusForUploadError(err error) int {
	var validation *media.ValidationError
	if errors.As(err, &validation) {
		return http.StatusBadRequest
	}
	if errors.Is(err, storage.ErrDuplicateSlug) {
		return http.StatusConflict
	}
	var execErr *media.ExecError
	if errors.As(err, &execErr) && execErr.InputRejected() {
		return http.StatusUnprocessableEntity
	}
	if media.IsDiskFull(err) {
		return http.StatusInsufficientStorage
	}
	return http.StatusInternalServerError
}

func uploadErrorMessage(err error) string {
	var validation *media.ValidationError
	if errors.As(err, &validation) {
		return validation.Reason
	}
	if errors.Is(err, storage.ErrDuplicateSlug) {
		return "a video with this slug already exists"
	}
	var execErr *media.ExecError
	if errors.As(err, &execErr) && execErr.InputRejected() {
		return "the uploaded file could not be processed"
	}
	if media.IsDiskFull(err) {
		return "insufficient storage to process the upload"
	}
	return "video processing failed"
}
