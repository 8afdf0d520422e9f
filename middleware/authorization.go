package middleware

import (
	"log/slog"
	"net/http"

	"github.com/WestWindsorForward/Pinpoint-311/models"
	"github.com/WestWindsorForward/Pinpoint-311/utils"
)

// RequireRole returns a middleware that rejects authenticated users whose
// role ranks below the minimum. Must run after AuthenticateJWT.
func RequireRole(minimum models.UserRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := GetAuthenticatedUser(r.Context())
			if !ok {
				utils.RespondWithError(w, http.StatusUnauthorized, "Authentication required", nil)
				return
			}
			if !user.Role.AtLeast(minimum) {
				slog.Warn("Authorization denied",
					"user", user.Email,
					"role", user.Role,
					"required", minimum,
					"path", r.URL.Path)
				utils.RespondWithError(w, http.StatusForbidden, "Insufficient permissions", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
