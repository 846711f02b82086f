package api

import (
	"errors"
	"net/http"
	"strings"

	"lumeroo/internal/models"
	"lumeroo/internal/storage"
)

type signupRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userResponse struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatarUrl,omitempty"`
	IsAdmin   bool   `json:"isAdmin"`
}

func newUserResponse(user models.User) userResponse {
	return userResponse{
		ID:        user.ID,
		Username:  user.Username,
		Email:     user.Email,
		AvatarURL: user.AvatarURL,
		IsAdmin:   user.IsAdmin,
	}
}

// Signup provisions an account and opens a session for it.
func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, "POST")
		return
	}
	var req signupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeFailure(w, http.StatusBadRequest, "invalid request body")
		return
	}
	user, err := h.Store.CreateUser(storage.CreateUserParams{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	token, expires, err := h.sessionManager().Create(user.ID)
	if err != nil {
		h.logger().Error("session create failed", "error", err, "user_id", user.ID)
		writeFailure(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	setSessionCookie(w, r, token, expires)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"success": true,
		"token":   token,
		"user":    newUserResponse(user),
	})
}

// Login verifies credentials and opens a session.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, "POST")
		return
	}
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeFailure(w, http.StatusBadRequest, "invalid request body")
		return
	}
	user, err := h.Store.AuthenticateUser(req.Email, req.Password)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidCredentials) {
			writeFailure(w, http.StatusUnauthorized, "invalid email or password")
			return
		}
		writeError(w, http.StatusBadRequest, err)
		return
	}
	token, expires, err := h.sessionManager().Create(user.ID)
	if err != nil {
		h.logger().Error("session create failed", "error", err, "user_id", user.ID)
		writeFailure(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	setSessionCookie(w, r, token, expires)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"token":   token,
		"user":    newUserResponse(user),
	})
}

// Logout revokes the current session token.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, "POST")
		return
	}
	token := sessionToken(r, "")
	if token != "" {
		if err := h.sessionManager().Revoke(token); err != nil {
			h.logger().Error("session revoke failed", "error", err)
		}
	}
	clearSessionCookie(w, r)
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// Session reports the user bound to the presented token.
func (h *Handler) Session(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, "GET")
		return
	}
	user, ok := h.authenticate(w, r, strings.TrimSpace(r.URL.Query().Get("token")))
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"user":    newUserResponse(user),
	})
}
