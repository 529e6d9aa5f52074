package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"animefinder/internal/db"
	"animefinder/internal/models"
)

type UserHandler struct {
	users *db.UserRepository
}

func NewUserHandler(users *db.UserRepository) *UserHandler {
	return &UserHandler{users: users}
}

type CurrentUserResponse struct {
	User *models.User `json:"user"`
}

// GET /api/auth/me
func (h *UserHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID := GetUserID(r)
	if userID == "" {
		unauthorized(w, "Not authenticated")
		return
	}

	user, err := h.users.FindByID(r.Context(), userID)
	if errors.Is(err, db.ErrNotFound) {
		// The token may outlive the account.
		unauthorized(w, "Not authenticated")
		return
	}
	if err != nil {
		slog.Error("error finding user", "error", err)
		internalError(w, "Server error")
		return
	}

	writeJSON(w, http.StatusOK, CurrentUserResponse{User: user})
}

// POST /api/auth/set-avatar
type SetAvatarRequest struct {
	Avatar string `json:"avatar" validate:"omitempty,max=2048"`
}

type SetAvatarResponse struct {
	Message string `json:"message"`
	Avatar  string `json:"avatar"`
}

func (h *UserHandler) SetAvatar(w http.ResponseWriter, r *http.Request) {
	userID := GetUserID(r)
	if userID == "" {
		unauthorized(w, "Not authenticated")
		return
	}

	var req SetAvatarRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	avatar := strings.TrimSpace(req.Avatar)
	if avatar == "" {
		badRequest(w, "Avatar URL is required")
		return
	}

	if err := h.users.UpdateAvatar(r.Context(), userID, avatar); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			notFound(w, "User not found")
			return
		}
		slog.Error("error updating avatar", "error", err, "user_id", userID)
		internalError(w, "Failed to update avatar")
		return
	}

	writeJSON(w, http.StatusOK, SetAvatarResponse{
		Message: "Avatar updated successfully",
		Avatar:  avatar,
	})
}
