package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/username/crewledger/backend/src/logger"
	"github.com/username/crewledger/backend/src/security"
	"github.com/username/crewledger/backend/src/services"
	"github.com/username/crewledger/backend/src/utils"
)

type contextKey string

const actorIDContextKey contextKey = "actorID"

// GetActorIDFromContext returns the authenticated employee ID placed in the
// request context by AuthMiddleware.
func GetActorIDFromContext(ctx context.Context) (string, bool) {
	actorID, ok := ctx.Value(actorIDContextKey).(string)
	return actorID, ok
}

// AuthMiddleware validates the bearer token and stores its subject as the
// acting employee ID.
func AuthMiddleware(authService *security.AuthService) func(next http.HandlerFunc) http.Handler {
	return func(next http.HandlerFunc) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				logger.L.Debug("AuthMiddleware: Authorization header missing", "path", r.URL.Path)
				utils.SendJSONError(w, "Authorization header required", http.StatusUnauthorized)
				return
			}

			tokenString := authHeader
			if strings.HasPrefix(authHeader, "Bearer ") {
				tokenString = strings.TrimPrefix(authHeader, "Bearer ")
			}
			if tokenString == "" {
				logger.L.Debug("AuthMiddleware: Token string empty", "path", r.URL.Path)
				utils.SendJSONError(w, "Malformed token", http.StatusUnauthorized)
				return
			}

			actorID, err := authService.ValidateToken(tokenString)
			if err != nil {
				logger.L.Warn("AuthMiddleware: Token validation failed", "path", r.URL.Path, "error", err)
				utils.SendJSONError(w, "Invalid or expired token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), actorIDContextKey, actorID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// writeServiceError translates service sentinel errors into HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrValidation):
		utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, services.ErrNotFound):
		utils.SendJSONError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, services.ErrExpired):
		utils.SendJSONError(w, err.Error(), http.StatusGone)
	case errors.Is(err, services.ErrInvalidOTP):
		utils.SendJSONError(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, services.ErrInvalidState),
		errors.Is(err, services.ErrAlreadyActive),
		errors.Is(err, services.ErrNotActive):
		utils.SendJSONError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, services.ErrNotEligible):
		utils.SendJSONError(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, services.ErrNotAuthorized):
		utils.SendJSONError(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, services.ErrNetwork):
		utils.SendJSONError(w, err.Error(), http.StatusServiceUnavailable)
	default:
		utils.SendJSONError(w, "internal server error", http.StatusInternalServerError)
	}
}
