package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"lumeroo/internal/media"
	"lumeroo/internal/storage"
)

// maxImageRequestBytes bounds an image-set request: up to twelve 50MB images
// plus form fields.
const maxImageRequestBytes = int64(12)*(int64(50)<<20) + int64(8)<<20

type imageForm struct {
	token          string
	title          string
	description    string
	tags           []string
	thumbnailIndex int
	files          []*spooledFile
	images         []*spooledFile
}

func (form *imageForm) cleanup() {
	for _, file := range form.files {
		if file != nil && file.path != "" {
			_ = os.Remove(file.path)
		}
	}
}

// UploadImage converts a batch of images to WebP and persists them as one set.
func (h *Handler) UploadImage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, "POST")
		return
	}
	if h.Images == nil {
		writeFailure(w, http.StatusServiceUnavailable, "image uploads are not configured")
		return
	}

	form, err := h.parseImageForm(w, r)
	if err != nil {
		writeFailure(w, http.StatusBadRequest, err.Error())
		return
	}
	defer form.cleanup()

	user, ok := h.authenticate(w, r, form.token)
	if !ok {
		return
	}

	cmd := media.ImageUploadCommand{
		Title:          form.title,
		Description:    form.description,
		Tags:           form.tags,
		UploaderID:     user.ID,
		ThumbnailIndex: form.thumbnailIndex,
	}
	for _, file := range form.images {
		cmd.Images = append(cmd.Images, file.input())
	}

	set, err := h.Images.Run(r.Context(), cmd)
	if err != nil {
		h.logger().Error("image upload failed", "error", err, "user_id", user.ID)
		writeFailure(w, statusForUploadError(err), uploadErrorMessage(err))
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"success": true,
		"message": "Images uploaded successfully",
		"images":  set,
	})
}

func (h *Handler) parseImageForm(w http.ResponseWriter, r *http.Request) (*imageForm, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxImageRequestBytes)
	reader, err := r.MultipartReader()
	if err != nil {
		return nil, fmt.Errorf("invalid multipart payload")
	}

	form := &imageForm{}
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
		if name == "images" || name == "imageFiles" {
			file, saveErr := saveMultipartFile(part)
			if saveErr != nil {
				form.cleanup()
				return nil, saveErr
			}
			form.files = append(form.files, file)
			form.images = append(form.images, file)
			continue
		}
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
		case "thumbnailIndex":
			if value != "" {
				if index, parseErr := strconv.Atoi(value); parseErr == nil {
					form.thumbnailIndex = index
				}
			}
		}
	}
	return form, nil
}

// UpdateAvatar replaces the caller's avatar, retiring the previous one after
// the user record points at the new image.
func (h *Handler) UpdateAvatar(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, "POST")
		return
	}
	if h.Images == nil {
		writeFailure(w, http.StatusServiceUnavailable, "avatar uploads are not configured")
		return
	}

	var token string
	var avatar *spooledFile
	cleanup := func() {
		if avatar != nil && avatar.path != "" {
			_ = os.Remove(avatar.path)
		}
	}

	r.Body = http.MaxBytesReader(w, r.Body, int64(10)<<20+int64(1)<<20)
	reader, err := r.MultipartReader()
	if err != nil {
		writeFailure(w, http.StatusBadRequest, "invalid multipart payload")
		return
	}
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			cleanup()
			writeFailure(w, http.StatusBadRequest, "read multipart data")
			return
		}
		switch part.FormName() {
		case "avatar":
			file, saveErr := saveMultipartFile(part)
			if saveErr != nil {
				cleanup()
				writeFailure(w, http.StatusBadRequest, saveErr.Error())
				return
			}
			if avatar != nil {
				_ = os.Remove(avatar.path)
			}
			avatar = file
		case "token":
			payload, readErr := io.ReadAll(io.LimitReader(part, 1<<20))
			_ = part.Close()
			if readErr != nil {
				cleanup()
				writeFailure(w, http.StatusBadRequest, "read form field token")
				return
			}
			token = strings.TrimSpace(string(payload))
		default:
			_ = part.Close()
		}
	}
	defer cleanup()

	user, ok := h.authenticate(w, r, token)
	if !ok {
		return
	}
	if avatar == nil {
		writeFailure(w, http.StatusBadRequest, "avatar image is required")
		return
	}

	avatarURL, err := h.Images.RunAvatar(r.Context(), media.AvatarCommand{
		Username: user.Username,
		Image:    avatar.input(),
	})
	if err != nil {
		h.logger().Error("avatar upload failed", "error", err, "user_id", user.ID)
		writeFailure(w, statusForUploadError(err), uploadErrorMessage(err))
		return
	}

	previous := user.AvatarURL
	updated, err := h.Store.UpdateUser(user.ID, storage.UserUpdate{AvatarURL: &avatarURL})
	if err != nil {
		_ = h.Images.RemoveAvatar(avatarURL)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if previous != "" && previous != avatarURL {
		if err := h.Images.RemoveAvatar(previous); err != nil {
			h.logger().Warn("previous avatar cleanup failed", "error", err, "user_id", user.ID)
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"message":   "Avatar updated successfully",
		"avatarUrl": updated.AvatarURL,
		"user":      newUserResponse(updated),
	})
}
