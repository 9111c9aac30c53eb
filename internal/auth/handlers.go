package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"netspace-tracker/internal/core"
)

// Handler provides authentication HTTP handlers
type Handler struct {
	service *Service
	logger  *core.Logger
}

// NewHandler creates a new authentication handler
func NewHandler(service *Service, logger *core.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// LoginRequest represents a login request
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse represents a login response
type LoginResponse struct {
	Token  string    `json:"token"`
	Expiry time.Time `json:"expiry"`
}

// LoginHandler exchanges admin credentials for a bearer token
func (h *Handler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	logger := h.logger.WithContext(r.Context())

	if !h.service.Enabled() {
		core.WriteErrorResponse(w, http.StatusForbidden, core.NewForbiddenError("Admin access is disabled", nil))
		return
	}

	// Parse request
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		core.WriteErrorResponse(w, http.StatusBadRequest, core.NewValidationError("Invalid request body", err))
		return
	}

	// Validate input
	if req.Email == "" || req.Password == "" {
		core.WriteErrorResponse(w, http.StatusBadRequest, core.NewValidationError("Email and password are required", nil))
		return
	}

	if err := h.service.Authenticate(req.Email, req.Password); err != nil {
		switch {
		case errors.Is(err, ErrInvalidCredentials):
			logger.Warn("Failed admin login", "email", req.Email)
			core.WriteErrorResponse(w, http.StatusUnauthorized, core.NewUnauthorizedError("Invalid credentials", err))
		default:
			logger.Error("Authentication error", "error", err)
			core.WriteErrorResponse(w, http.StatusInternalServerError, core.NewInternalError("Authentication failed", err))
		}
		return
	}

	token, err := h.service.CreateAuthenticationToken(r.Context())
	if err != nil {
		logger.Error("Token creation error", "error", err)
		core.WriteErrorResponse(w, http.StatusInternalServerError, core.NewInternalError("Failed to create authentication token", err))
		return
	}

	core.WriteJSON(w, http.StatusOK, LoginResponse{Token: token.Plaintext, Expiry: token.Expiry})
	logger.Info("Admin logged in")
}

// LogoutHandler invalidates the presented bearer token
func (h *Handler) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	token, ok := bearerToken(r)
	if !ok {
		core.WriteErrorResponse(w, http.StatusUnauthorized, core.NewUnauthorizedError("Authentication required", nil))
		return
	}

	if err := h.service.Logout(r.Context(), token); err != nil {
		switch {
		case errors.Is(err, ErrInvalidToken):
			core.WriteErrorResponse(w, http.StatusUnauthorized, core.NewUnauthorizedError("Invalid authentication token", err))
		default:
			h.logger.WithContext(r.Context()).Error("Logout error", "error", err)
			core.WriteErrorResponse(w, http.StatusInternalServerError, core.NewInternalError("Logout failed", err))
		}
		return
	}

	core.WriteJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Logged out successfully",
	})
}
