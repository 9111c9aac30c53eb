package auth

import (
	"errors"
	"net/http"
	"strings"

	"netspace-tracker/internal/core"
)

// Middleware provides authentication middleware
type Middleware struct {
	service *Service
	logger  *core.Logger
}

// NewMiddleware creates new authentication middleware
func NewMiddleware(service *Service, logger *core.Logger) *Middleware {
	return &Middleware{
		service: service,
		logger:  logger,
	}
}

// RequireAdmin rejects requests without a valid admin bearer token
func (m *Middleware) RequireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Add Vary header for caching
		w.Header().Add("Vary", "Authorization")

		if !m.service.Enabled() {
			m.adminDisabledResponse(w, r)
			return
		}

		token, ok := bearerToken(r)
		if !ok {
			m.authenticationRequiredResponse(w, r)
			return
		}

		if err := m.service.ValidateToken(r.Context(), token); err != nil {
			switch {
			case errors.Is(err, ErrInvalidToken):
				m.invalidAuthenticationTokenResponse(w, r)
			default:
				m.logger.WithContext(r.Context()).Error("Token validation error", "error", err)
				m.serverErrorResponse(w, r)
			}
			return
		}

		next.ServeHTTP(w, r)
	}
}

// bearerToken extracts the token from an "Authorization: Bearer <token>" header
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}

	headerParts := strings.Split(header, " ")
	if len(headerParts) != 2 || headerParts[0] != "Bearer" || headerParts[1] == "" {
		return "", false
	}
	return headerParts[1], true
}

// Response helpers
func (m *Middleware) invalidAuthenticationTokenResponse(w http.ResponseWriter, r *http.Request) {
	core.WriteErrorResponse(w, http.StatusUnauthorized, core.NewUnauthorizedError("Invalid authentication token", nil))
}

func (m *Middleware) authenticationRequiredResponse(w http.ResponseWriter, r *http.Request) {
	core.WriteErrorResponse(w, http.StatusUnauthorized, core.NewUnauthorizedError("Authentication required", nil))
}

func (m *Middleware) adminDisabledResponse(w http.ResponseWriter, r *http.Request) {
	core.WriteErrorResponse(w, http.StatusForbidden, core.NewForbiddenError("Admin access is disabled", nil))
}

func (m *Middleware) serverErrorResponse(w http.ResponseWriter, r *http.Request) {
	core.WriteErrorResponse(w, http.StatusInternalServerError, core.NewInternalError("Internal server error", nil))
}
