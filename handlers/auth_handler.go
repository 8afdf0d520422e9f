package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/WestWindsorForward/Pinpoint-311/middleware"
	"github.com/WestWindsorForward/Pinpoint-311/models"
	"github.com/WestWindsorForward/Pinpoint-311/services"
	"github.com/WestWindsorForward/Pinpoint-311/utils"
)

// AuthHandler handles staff authentication endpoints
type AuthHandler struct {
	auth *services.AuthService
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(auth *services.AuthService) *AuthHandler {
	return &AuthHandler{auth: auth}
}

// Login handles POST /api/staff/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed", nil)
		return
	}

	var input models.LoginInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if input.Email == "" || input.Password == "" {
		utils.RespondWithError(w, http.StatusBadRequest, "email and password are required", nil)
		return
	}

	token, _, err := h.auth.Login(r.Context(), input.Email, input.Password, ClientIP(r), r.UserAgent())
	if err != nil {
		if errors.Is(err, services.ErrInvalidCredentials) {
			utils.RespondWithError(w, http.StatusUnauthorized, "Incorrect email or password", nil)
			return
		}
		slog.Error("Login failed", "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to process login", nil)
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, models.TokenResponse{
		AccessToken: token,
		TokenType:   "bearer",
	})
}

// Logout handles POST /api/staff/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed", nil)
		return
	}

	authUser, ok := middleware.GetAuthenticatedUser(r.Context())
	if !ok {
		utils.RespondWithError(w, http.StatusUnauthorized, "Authentication required", nil)
		return
	}

	user, err := h.auth.GetUser(r.Context(), authUser.ID)
	if err != nil {
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to process logout", nil)
		return
	}

	if err := h.auth.Logout(r.Context(), user, ClientIP(r), authUser.SessionID); err != nil {
		slog.Error("Failed to record logout", "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to process logout", nil)
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
}

// Me handles GET /api/staff/auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed", nil)
		return
	}

	authUser, ok := middleware.GetAuthenticatedUser(r.Context())
	if !ok {
		utils.RespondWithError(w, http.StatusUnauthorized, "Authentication required", nil)
		return
	}

	user, err := h.auth.GetUser(r.Context(), authUser.ID)
	if err != nil {
		if services.IsNotFoundError(err) {
			utils.RespondWithError(w, http.StatusNotFound, "User not found", nil)
			return
		}
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to load user", nil)
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, user)
}

// UpdateRole handles PATCH /api/staff/users/{id}/role (admin only)
func (h *AuthHandler) UpdateRole(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodPatch {
		utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed", nil)
		return
	}

	actor, ok := middleware.GetAuthenticatedUser(r.Context())
	if !ok {
		utils.RespondWithError(w, http.StatusUnauthorized, "Authentication required", nil)
		return
	}
	if !actor.Role.AtLeast(models.RoleAdmin) {
		utils.RespondWithError(w, http.StatusForbidden, "Admin role required", nil)
		return
	}

	id, err := uuid.Parse(userID)
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid user ID", err)
		return
	}

	var input struct {
		Role models.UserRole `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	user, err := h.auth.UpdateRole(r.Context(), id, input.Role, actor.Email, ClientIP(r))
	if err != nil {
		switch {
		case services.IsValidationError(err):
			utils.RespondWithError(w, http.StatusBadRequest, "Invalid role", err)
		case services.IsNotFoundError(err):
			utils.RespondWithError(w, http.StatusNotFound, "User not found", nil)
		default:
			slog.Error("Failed to update role", "error", err)
			utils.RespondWithError(w, http.StatusInternalServerError, "Failed to update role", nil)
		}
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, user)
}

// ClientIP extracts the client address, preferring X-Forwarded-For when the
// service runs behind a proxy.
func ClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
