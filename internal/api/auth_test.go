package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"animefinder/internal/config"
	"animefinder/internal/db"
)

const testJWTSecret = "0123456789abcdef0123456789abcdef"

func newTestServer(t *testing.T) *Server {
	t.Helper()
	return newTestServerWithTTL(t, 7*24*time.Hour)
}

func newTestServerWithTTL(t *testing.T, tokenTTL time.Duration) *Server {
	t.Helper()

	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("db.Open() error = %v", err)
	}
	t.Cleanup(func() {
		_ = database.Close()
	})

	cfg := &config.Config{}
	cfg.Auth.JWTSecret = testJWTSecret
	cfg.Auth.TokenTTL = tokenTTL
	cfg.Auth.BcryptCost = 4 // low cost to keep tests fast
	cfg.Catalog.BaseURL = "http://127.0.0.1:0"
	cfg.Catalog.RequestTimeout = time.Second
	cfg.Catalog.RatePerSecond = 100
	cfg.Catalog.Burst = 100

	return NewServer(cfg, database, prometheus.NewRegistry())
}

func postJSON(t *testing.T, srv *Server, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)
	return rr
}

func register(t *testing.T, srv *Server, username, password, email string) *httptest.ResponseRecorder {
	t.Helper()

	body := fmt.Sprintf(`{"username":%q,"password":%q,"email":%q}`, username, password, email)
	return postJSON(t, srv, "/api/auth/register", body)
}

func login(t *testing.T, srv *Server, username, password string) *httptest.ResponseRecorder {
	t.Helper()

	body := fmt.Sprintf(`{"username":%q,"password":%q}`, username, password)
	return postJSON(t, srv, "/api/auth/login", body)
}

func tokenFromLogin(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()

	var resp LoginResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json.Unmarshal() error = %v, body=%q", err, rr.Body.String())
	}
	if resp.User.Token == "" {
		t.Fatalf("login response has no token, body=%q", rr.Body.String())
	}
	return resp.User.Token
}

func TestRegisterThenLogin(t *testing.T) {
	srv := newTestServer(t)

	rr := register(t, srv, "alice", "pw1", "a@x.com")
	if rr.Code != http.StatusCreated {
		t.Fatalf("register status = %d, want %d, body=%q", rr.Code, http.StatusCreated, rr.Body.String())
	}

	var resp RegisterResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}
	if resp.User.Username != "alice" {
		t.Errorf("username = %q, want %q", resp.User.Username, "alice")
	}
	if resp.User.Token == "" {
		t.Error("register response has no token")
	}

	lr := login(t, srv, "alice", "pw1")
	if lr.Code != http.StatusOK {
		t.Fatalf("login status = %d, want %d, body=%q", lr.Code, http.StatusOK, lr.Body.String())
	}
}

func TestRegisterNormalizesUsername(t *testing.T) {
	srv := newTestServer(t)

	rr := register(t, srv, "  ALICE ", "pw1", "a@x.com")
	if rr.Code != http.StatusCreated {
		t.Fatalf("register status = %d, body=%q", rr.Code, rr.Body.String())
	}

	var resp RegisterResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}
	if resp.User.Username != "alice" {
		t.Errorf("username = %q, want normalized %q", resp.User.Username, "alice")
	}
}

func TestRegisterCaseVariantsConflict(t *testing.T) {
	srv := newTestServer(t)

	if rr := register(t, srv, "Foo ", "pw1", "a@x.com"); rr.Code != http.StatusCreated {
		t.Fatalf("first register status = %d, body=%q", rr.Code, rr.Body.String())
	}

	for _, variant := range []string{"foo", " FOO", "Foo"} {
		rr := register(t, srv, variant, "pw2", "b@x.com")
		if rr.Code != http.StatusConflict {
			t.Errorf("register(%q) status = %d, want %d, body=%q",
				variant, rr.Code, http.StatusConflict, rr.Body.String())
		}
	}
}

func TestRegisterMissingFields(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"missing username", `{"password":"pw","email":"a@x.com"}`},
		{"missing password", `{"username":"alice","email":"a@x.com"}`},
		{"missing email", `{"username":"alice","password":"pw"}`},
		{"invalid email", `{"username":"alice","password":"pw","email":"nope"}`},
		{"whitespace username", `{"username":"   ","password":"pw","email":"a@x.com"}`},
		{"invalid json", `{"username":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := postJSON(t, srv, "/api/auth/register", tt.body)
			if rr.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d, body=%q", rr.Code, http.StatusBadRequest, rr.Body.String())
			}
		})
	}
}

func TestLoginIsEnumerationResistant(t *testing.T) {
	srv := newTestServer(t)

	if rr := register(t, srv, "alice", "pw1", "a@x.com"); rr.Code != http.StatusCreated {
		t.Fatalf("register status = %d", rr.Code)
	}

	unknownUser := login(t, srv, "ghost", "pw1")
	wrongPassword := login(t, srv, "alice", "wrong")

	if unknownUser.Code != http.StatusUnauthorized {
		t.Errorf("unknown user status = %d, want %d", unknownUser.Code, http.StatusUnauthorized)
	}
	if wrongPassword.Code != http.StatusUnauthorized {
		t.Errorf("wrong password status = %d, want %d", wrongPassword.Code, http.StatusUnauthorized)
	}
	if unknownUser.Body.String() != wrongPassword.Body.String() {
		t.Errorf("unknown-user body %q differs from wrong-password body %q",
			unknownUser.Body.String(), wrongPassword.Body.String())
	}
}

func TestLoginCaseVariantResolvesToSameAccount(t *testing.T) {
	srv := newTestServer(t)

	if rr := register(t, srv, "alice", "pw1", "a@x.com"); rr.Code != http.StatusCreated {
		t.Fatalf("register status = %d", rr.Code)
	}

	lr := login(t, srv, "ALICE ", "pw1")
	if lr.Code != http.StatusOK {
		t.Fatalf("login status = %d, body=%q", lr.Code, lr.Body.String())
	}
	token := tokenFromLogin(t, lr)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("me status = %d, body=%q", rr.Code, rr.Body.String())
	}

	var resp CurrentUserResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}
	if resp.User.Username != "alice" {
		t.Errorf("me username = %q, want %q", resp.User.Username, "alice")
	}
}

func TestMeRejectsMissingAndInvalidToken(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("missing token status = %d, want %d", rr.Code, http.StatusUnauthorized)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rr = httptest.NewRecorder()
	srv.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("invalid token status = %d, want %d", rr.Code, http.StatusUnauthorized)
	}
}

func TestExpiredTokenIsRejected(t *testing.T) {
	srv := newTestServerWithTTL(t, -time.Hour)

	rr := register(t, srv, "alice", "pw1", "a@x.com")
	if rr.Code != http.StatusCreated {
		t.Fatalf("register status = %d", rr.Code)
	}
	var resp RegisterResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+resp.User.Token)
	mr := httptest.NewRecorder()
	srv.ServeHTTP(mr, req)

	if mr.Code != http.StatusUnauthorized {
		t.Fatalf("me status with expired token = %d, want %d", mr.Code, http.StatusUnauthorized)
	}
}

func TestLogoutClearsCookieButTokenStaysValid(t *testing.T) {
	srv := newTestServer(t)

	if rr := register(t, srv, "alice", "pw1", "a@x.com"); rr.Code != http.StatusCreated {
		t.Fatalf("register status = %d", rr.Code)
	}
	token := tokenFromLogin(t, login(t, srv, "alice", "pw1"))

	lr := postJSON(t, srv, "/api/auth/logout", "")
	if lr.Code != http.StatusOK {
		t.Fatalf("logout status = %d", lr.Code)
	}

	var cleared bool
	for _, c := range lr.Result().Cookies() {
		if c.Name == SessionCookieName && c.MaxAge < 0 {
			cleared = true
		}
	}
	if !cleared {
		t.Error("logout did not clear the session cookie")
	}

	// Tokens are stateless: the one issued before logout is still accepted.
	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Errorf("me status after logout = %d, want %d", rr.Code, http.StatusOK)
	}
}

func TestSetAvatarRoundTrip(t *testing.T) {
	srv := newTestServer(t)

	if rr := register(t, srv, "alice", "pw1", "a@x.com"); rr.Code != http.StatusCreated {
		t.Fatalf("register status = %d", rr.Code)
	}
	token := tokenFromLogin(t, login(t, srv, "alice", "pw1"))

	req := httptest.NewRequest(http.MethodPost, "/api/auth/set-avatar",
		strings.NewReader(`{"avatar":"https://cdn.example.com/a.png"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("set-avatar status = %d, body=%q", rr.Code, rr.Body.String())
	}
	var resp SetAvatarResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}
	if resp.Avatar != "https://cdn.example.com/a.png" {
		t.Errorf("avatar = %q", resp.Avatar)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	mr := httptest.NewRecorder()
	srv.ServeHTTP(mr, req)

	var me CurrentUserResponse
	if err := json.Unmarshal(mr.Body.Bytes(), &me); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}
	if me.User.Avatar == nil || *me.User.Avatar != "https://cdn.example.com/a.png" {
		t.Errorf("me avatar = %v, want set value", me.User.Avatar)
	}
}

func TestSetAvatarRejectsEmptyValue(t *testing.T) {
	srv := newTestServer(t)

	if rr := register(t, srv, "alice", "pw1", "a@x.com"); rr.Code != http.StatusCreated {
		t.Fatalf("register status = %d", rr.Code)
	}
	token := tokenFromLogin(t, login(t, srv, "alice", "pw1"))

	for _, body := range []string{`{}`, `{"avatar":""}`, `{"avatar":"   "}`} {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/set-avatar", strings.NewReader(body))
		req.Header.Set("Authorization", "Bearer "+token)
		rr := httptest.NewRecorder()
		srv.ServeHTTP(rr, req)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("set-avatar(%q) status = %d, want %d", body, rr.Code, http.StatusBadRequest)
		}
	}
}

func registerWithQuestion(t *testing.T, srv *Server, username, password, email, question, answer string) {
	t.Helper()

	body := fmt.Sprintf(`{"username":%q,"password":%q,"email":%q,"securityQuestion":%q,"securityAnswer":%q}`,
		username, password, email, question, answer)
	rr := postJSON(t, srv, "/api/auth/register", body)
	if rr.Code != http.StatusCreated {
		t.Fatalf("register status = %d, body=%q", rr.Code, rr.Body.String())
	}
}

func TestGetSecurityQuestion(t *testing.T) {
	srv := newTestServer(t)
	registerWithQuestion(t, srv, "alice", "pw1", "a@x.com", "First pet?", "Fluffy")

	rr := postJSON(t, srv, "/api/auth/get-security-question", `{"username":"ALICE "}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body=%q", rr.Code, rr.Body.String())
	}

	var resp SecurityQuestionResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}
	if resp.SecurityQuestion != "First pet?" {
		t.Errorf("securityQuestion = %q", resp.SecurityQuestion)
	}
	if strings.Contains(rr.Body.String(), "Fluffy") {
		t.Error("response leaked the security answer")
	}
}

func TestGetSecurityQuestionMissingCases(t *testing.T) {
	srv := newTestServer(t)

	if rr := register(t, srv, "noq", "pw1", "n@x.com"); rr.Code != http.StatusCreated {
		t.Fatalf("register status = %d", rr.Code)
	}

	if rr := postJSON(t, srv, "/api/auth/get-security-question", `{"username":"  "}`); rr.Code != http.StatusBadRequest {
		t.Errorf("empty username status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
	if rr := postJSON(t, srv, "/api/auth/get-security-question", `{"username":"ghost"}`); rr.Code != http.StatusNotFound {
		t.Errorf("unknown user status = %d, want %d", rr.Code, http.StatusNotFound)
	}
	if rr := postJSON(t, srv, "/api/auth/get-security-question", `{"username":"noq"}`); rr.Code != http.StatusNotFound {
		t.Errorf("no question status = %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestResetPasswordFlow(t *testing.T) {
	srv := newTestServer(t)
	registerWithQuestion(t, srv, "alice", "pw1", "a@x.com", "First pet?", "Fluffy")

	// Wrong answer is rejected.
	rr := postJSON(t, srv, "/api/auth/reset-password",
		`{"username":"alice","securityAnswer":"wronganswer","newPassword":"newpw"}`)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("wrong answer status = %d, want %d, body=%q", rr.Code, http.StatusUnauthorized, rr.Body.String())
	}

	// Answer matching modulo case and whitespace succeeds.
	rr = postJSON(t, srv, "/api/auth/reset-password",
		`{"username":"alice","securityAnswer":"  FLUFFY ","newPassword":"newpw"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("reset status = %d, want %d, body=%q", rr.Code, http.StatusOK, rr.Body.String())
	}

	if lr := login(t, srv, "alice", "newpw"); lr.Code != http.StatusOK {
		t.Errorf("login with new password status = %d, want %d", lr.Code, http.StatusOK)
	}
	if lr := login(t, srv, "alice", "pw1"); lr.Code != http.StatusUnauthorized {
		t.Errorf("login with old password status = %d, want %d", lr.Code, http.StatusUnauthorized)
	}
}

func TestResetPasswordMissingCases(t *testing.T) {
	srv := newTestServer(t)

	if rr := register(t, srv, "noanswer", "pw1", "n@x.com"); rr.Code != http.StatusCreated {
		t.Fatalf("register status = %d", rr.Code)
	}

	rr := postJSON(t, srv, "/api/auth/reset-password",
		`{"username":"ghost","securityAnswer":"x","newPassword":"y"}`)
	if rr.Code != http.StatusNotFound {
		t.Errorf("unknown user status = %d, want %d", rr.Code, http.StatusNotFound)
	}

	rr = postJSON(t, srv, "/api/auth/reset-password",
		`{"username":"noanswer","securityAnswer":"x","newPassword":"y"}`)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("no stored answer status = %d, want %d", rr.Code, http.StatusUnauthorized)
	}

	rr = postJSON(t, srv, "/api/auth/reset-password",
		`{"username":"noanswer","securityAnswer":"  ","newPassword":"y"}`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("blank answer status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestRegisterAndLoginSetSessionCookie(t *testing.T) {
	srv := newTestServer(t)

	rr := register(t, srv, "alice", "pw1", "a@x.com")
	if rr.Code != http.StatusCreated {
		t.Fatalf("register status = %d", rr.Code)
	}

	var cookie *http.Cookie
	for _, c := range rr.Result().Cookies() {
		if c.Name == SessionCookieName {
			cookie = c
		}
	}
	if cookie == nil {
		t.Fatal("register did not set a session cookie")
	}
	if !cookie.HttpOnly {
		t.Error("session cookie is not HTTP-only")
	}
	if cookie.MaxAge <= 0 {
		t.Errorf("session cookie MaxAge = %d, want positive", cookie.MaxAge)
	}
}
