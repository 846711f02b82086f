package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSignupCreatesAccountAndSession(t *testing.T) {
	h := newTestHandler(t)

	rec := httptest.NewRecorder()
	h.Signup(rec, postJSON(t, "/api/auth/signup", `{"username":"ada","email":"Ada@Example.com","password":"password123"}`))

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	payload := decodeBody(t, rec)
	if payload["success"] != true {
		t.Fatalf("expected success envelope, got %v", payload)
	}
	token, _ := payload["token"].(string)
	if token == "" {
		t.Fatal("expected session token in response")
	}
	user, _ := payload["user"].(map[string]interface{})
	if user["email"] != "ada@example.com" {
		t.Fatalf("expected normalized email, got %v", user["email"])
	}

	var sawCookie bool
	for _, cookie := range rec.Result().Cookies() {
		if cookie.Name == "lumeroo_session" && cookie.Value == token {
			sawCookie = true
			if !cookie.HttpOnly {
				t.Fatal("session cookie must be HttpOnly")
			}
		}
	}
	if !sawCookie {
		t.Fatal("expected session cookie to be set")
	}
}

func TestSignupRejectsDuplicateEmail(t *testing.T) {
	h := newTestHandler(t)
	createTestUser(t, h, "ada", false)

	rec := httptest.NewRecorder()
	h.Signup(rec, postJSON(t, "/api/auth/signup", `{"username":"other","email":"ada@example.com","password":"password123"}`))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for duplicate email, got %d", rec.Code)
	}
	payload := decodeBody(t, rec)
	if payload["success"] != false {
		t.Fatalf("expected failure envelope, got %v", payload)
	}
}

func TestLogin(t *testing.T) {
	h := newTestHandler(t)
	createTestUser(t, h, "ada", false)

	rec := httptest.NewRecorder()
	h.Login(rec, postJSON(t, "/api/auth/login", `{"email":"ada@example.com","password":"password123"}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if token, _ := decodeBody(t, rec)["token"].(string); token == "" {
		t.Fatal("expected token on login")
	}

	rec = httptest.NewRecorder()
	h.Login(rec, postJSON(t, "/api/auth/login", `{"email":"ada@example.com","password":"wrong-password"}`))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad password, got %d", rec.Code)
	}
}

func TestLogoutRevokesSession(t *testing.T) {
	h := newTestHandler(t)
	_, token := createTestUser(t, h, "ada", false)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.Logout(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	if _, _, ok, err := h.Sessions.Validate(token); err != nil || ok {
		t.Fatalf("expected token to be revoked, ok=%v err=%v", ok, err)
	}
	var cleared bool
	for _, cookie := range rec.Result().Cookies() {
		if cookie.Name == "lumeroo_session" && cookie.MaxAge < 0 {
			cleared = true
		}
	}
	if !cleared {
		t.Fatal("expected session cookie to be cleared")
	}
}

func TestSessionEndpoint(t *testing.T) {
	h := newTestHandler(t)
	user, token := createTestUser(t, h, "ada", false)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/session?token="+token, nil)
	rec := httptest.NewRecorder()
	h.Session(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	payload := decodeBody(t, rec)
	responded, _ := payload["user"].(map[string]interface{})
	if responded["id"] != user.ID {
		t.Fatalf("expected user %s, got %v", user.ID, responded)
	}

	rec = httptest.NewRecorder()
	h.Session(rec, httptest.NewRequest(http.MethodGet, "/api/auth/session", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
}

func TestSessionTokenPrecedence(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer header-token")
	req.AddCookie(&http.Cookie{Name: "lumeroo_session", Value: "cookie-token"})

	if got := sessionToken(req, "form-token"); got != "form-token" {
		t.Fatalf("expected form token to win, got %q", got)
	}
	if got := sessionToken(req, ""); got != "header-token" {
		t.Fatalf("expected bearer header next, got %q", got)
	}
	req.Header.Del("Authorization")
	if got := sessionToken(req, ""); got != "cookie-token" {
		t.Fatalf("expected cookie fallback, got %q", got)
	}
}

func TestAuthenticateUserGone(t *testing.T) {
	h := newTestHandler(t)
	user, token := createTestUser(t, h, "ada", false)
	if err := h.Store.DeleteUser(user.ID); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/auth/session?token="+token, nil)
	rec := httptest.NewRecorder()
	h.Session(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for deleted user, got %d", rec.Code)
	}
}

func TestSecureCookieDetection(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if isSecureRequest(req) {
		t.Fatal("plain request must not be secure")
	}
	req.Header.Set("X-Forwarded-Proto", "https")
	if !isSecureRequest(req) {
		t.Fatal("forwarded https must be secure")
	}
	req.Header.Set("X-Forwarded-Proto", "http, https")
	if !isSecureRequest(req) {
		t.Fatal("any https hop must count as secure")
	}
}
