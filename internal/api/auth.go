package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"animefinder/internal/auth"
	"animefinder/internal/db"
)

// questionPolicy strips any markup from user-supplied security question text
// before it is stored.
var questionPolicy = bluemonday.StrictPolicy()

type AuthHandler struct {
	users        *db.UserRepository
	tokens       *auth.TokenService
	hasher       *auth.PasswordHasher
	secureCookie bool
}

func NewAuthHandler(
	users *db.UserRepository,
	tokens *auth.TokenService,
	hasher *auth.PasswordHasher,
	secureCookie bool,
) *AuthHandler {
	return &AuthHandler{
		users:        users,
		tokens:       tokens,
		hasher:       hasher,
		secureCookie: secureCookie,
	}
}

// normalizeUsername trims and lower-cases a username. Every lookup and every
// write goes through this, so "Alice " and "alice" are the same account.
func normalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.tokens.TokenTTL() / time.Second),
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}

// POST /api/auth/register
type RegisterRequest struct {
	Username         string `json:"username" validate:"required,max=64"`
	Password         string `json:"password" validate:"required,max=72"`
	Email            string `json:"email" validate:"required,email,max=254"`
	SecurityQuestion string `json:"securityQuestion" validate:"omitempty,max=254"`
	SecurityAnswer   string `json:"securityAnswer" validate:"omitempty,max=254"`
}

type RegisteredUser struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Token    string `json:"token"`
}

type RegisterResponse struct {
	User RegisteredUser `json:"user"`
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	username := normalizeUsername(req.Username)
	if username == "" {
		badRequest(w, "username is required")
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))

	if _, err := h.users.FindByUsername(r.Context(), username); err == nil {
		conflict(w, "Username already exists")
		return
	} else if !errors.Is(err, db.ErrNotFound) {
		slog.Error("error checking username availability", "error", err)
		internalError(w, "Server error during registration")
		return
	}

	passwordHash, err := h.hasher.Hash(req.Password)
	if err != nil {
		slog.Error("error hashing password", "error", err)
		internalError(w, "Server error during registration")
		return
	}

	params := db.CreateUserParams{
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
	}
	if q := strings.TrimSpace(req.SecurityQuestion); q != "" {
		sanitized := questionPolicy.Sanitize(q)
		params.SecurityQuestion = &sanitized
	}
	if req.SecurityAnswer != "" {
		answerHash, err := h.hasher.HashAnswer(req.SecurityAnswer)
		if err != nil {
			slog.Error("error hashing security answer", "error", err)
			internalError(w, "Server error during registration")
			return
		}
		params.SecurityAnswerHash = &answerHash
	}

	// The unique index on username catches the insert that loses a
	// register/register race; the lookup above alone is not enough.
	user, err := h.users.Create(r.Context(), params)
	if err != nil {
		if errors.Is(err, db.ErrDuplicate) {
			conflict(w, "Username already exists")
			return
		}
		slog.Error("error creating user", "error", err)
		internalError(w, "Server error during registration")
		return
	}

	token, err := h.tokens.Issue(user.ID)
	if err != nil {
		slog.Error("error issuing token", "error", err, "user_id", user.ID)
		internalError(w, "Server error during registration")
		return
	}

	h.setSessionCookie(w, token)
	writeJSON(w, http.StatusCreated, RegisterResponse{
		User: RegisteredUser{
			Username: user.Username,
			Email:    user.Email,
			Token:    token,
		},
	})
}

// POST /api/auth/login
type LoginRequest struct {
	Username string `json:"username" validate:"required,max=64"`
	Password string `json:"password" validate:"required,max=72"`
}

type SessionUser struct {
	ID       string  `json:"id"`
	Username string  `json:"username"`
	Email    string  `json:"email"`
	Avatar   *string `json:"avatar"`
	Token    string  `json:"token"`
}

type LoginResponse struct {
	User SessionUser `json:"user"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	username := normalizeUsername(req.Username)

	// An unknown username and a wrong password are indistinguishable to the
	// caller, so usernames cannot be enumerated through this endpoint.
	user, err := h.users.FindByUsername(r.Context(), username)
	if errors.Is(err, db.ErrNotFound) {
		unauthorized(w, "Invalid credentials")
		return
	}
	if err != nil {
		slog.Error("error finding user", "error", err)
		internalError(w, "Server error during login")
		return
	}

	if !h.hasher.Verify(req.Password, user.PasswordHash) {
		unauthorized(w, "Invalid credentials")
		return
	}

	token, err := h.tokens.Issue(user.ID)
	if err != nil {
		slog.Error("error issuing token", "error", err, "user_id", user.ID)
		internalError(w, "Server error during login")
		return
	}

	h.setSessionCookie(w, token)
	writeJSON(w, http.StatusOK, LoginResponse{
		User: SessionUser{
			ID:       user.ID,
			Username: user.Username,
			Email:    user.Email,
			Avatar:   user.Avatar,
			Token:    token,
		},
	})
}

// POST /api/auth/logout
//
// Tokens are stateless and never revoked server-side: logout only clears the
// cookie, and a previously issued token stays valid until it expires.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.clearSessionCookie(w)
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Logged out successfully"})
}

// POST /api/auth/get-security-question
type SecurityQuestionRequest struct {
	Username string `json:"username" validate:"required,max=64"`
}

type SecurityQuestionResponse struct {
	SecurityQuestion string `json:"securityQuestion"`
}

func (h *AuthHandler) GetSecurityQuestion(w http.ResponseWriter, r *http.Request) {
	var req SecurityQuestionRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	username := normalizeUsername(req.Username)
	if username == "" {
		badRequest(w, "Username is required")
		return
	}

	user, err := h.users.FindByUsername(r.Context(), username)
	if errors.Is(err, db.ErrNotFound) {
		notFound(w, "User not found")
		return
	}
	if err != nil {
		slog.Error("error finding user", "error", err)
		internalError(w, "Server error")
		return
	}

	if !user.HasSecurityQuestion() {
		notFound(w, "No security question set for this user")
		return
	}

	writeJSON(w, http.StatusOK, SecurityQuestionResponse{SecurityQuestion: *user.SecurityQuestion})
}

// POST /api/auth/reset-password
type ResetPasswordRequest struct {
	Username       string `json:"username" validate:"required,max=64"`
	SecurityAnswer string `json:"securityAnswer" validate:"required,max=254"`
	NewPassword    string `json:"newPassword" validate:"required,max=72"`
}

func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	username := normalizeUsername(req.Username)
	if username == "" || strings.TrimSpace(req.SecurityAnswer) == "" || req.NewPassword == "" {
		badRequest(w, "All fields are required")
		return
	}

	user, err := h.users.FindByUsername(r.Context(), username)
	if errors.Is(err, db.ErrNotFound) {
		notFound(w, "User not found")
		return
	}
	if err != nil {
		slog.Error("error finding user", "error", err)
		internalError(w, "Server error")
		return
	}

	if user.SecurityAnswerHash == nil || !h.hasher.VerifyAnswer(req.SecurityAnswer, *user.SecurityAnswerHash) {
		unauthorized(w, "Incorrect security answer")
		return
	}

	passwordHash, err := h.hasher.Hash(req.NewPassword)
	if err != nil {
		slog.Error("error hashing new password", "error", err)
		internalError(w, "Server error")
		return
	}

	if err := h.users.UpdatePassword(r.Context(), user.ID, passwordHash); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			notFound(w, "User not found")
			return
		}
		slog.Error("error updating password", "error", err, "user_id", user.ID)
		internalError(w, "Server error")
		return
	}

	// No new token is issued here; the caller logs in again with the new
	// password.
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Password reset successful"})
}
