package api

import (
	"net/http"
	"strings"

	"lumeroo/internal/models"
)

// sessionToken extracts the caller's token. Upload clients send it as a form
// field, API clients as a bearer header, and browsers ride the session cookie.
func sessionToken(r *http.Request, formToken string) string {
	if token := strings.TrimSpace(formToken); token != "" {
		return token
	}
	if header := strings.TrimSpace(r.Header.Get("Authorization")); header != "" {
		if after, ok := strings.CutPrefix(header, "Bearer "); ok {
			return strings.TrimSpace(after)
		}
	}
	if cookie, err := r.Cookie("lumeroo_session"); err == nil {
		return strings.TrimSpace(cookie.Value)
	}
	return ""
}

// authenticate resolves a token into its user. An invalid or missing token
// yields 401; a valid session whose user no longer exists yields 404.
func (h *Handler) authenticate(w http.ResponseWriter, r *http.Request, formToken string) (models.User, bool) {
	token := sessionToken(r, formToken)
	if token == "" {
		writeFailure(w, http.StatusUnauthorized, "authentication required")
		return models.User{}, false
	}
	userID, _, ok, err := h.sessionManager().Validate(token)
	if err != nil {
		h.logger().Error("session validation failed", "error", err)
		writeFailure(w, http.StatusInternalServerError, "session validation failed")
		return models.User{}, false
	}
	if !ok {
		writeFailure(w, http.StatusUnauthorized, "invalid or expired session")
		return models.User{}, false
	}
	user, exists := h.Store.GetUser(userID)
	if !exists {
		writeFailure(w, http.StatusNotFound, "user not found")
		return models.User{}, false
	}
	return user, true
}
