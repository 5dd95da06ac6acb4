package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/eol-uchile/uchileedxlogin/pkg/requestcontext"
)

// StaffClaims is what the token validator hands back for staff requests.
type StaffClaims struct {
	Subject     string
	Permissions []string
}

// TokenValidator validates bearer tokens on staff endpoints.
type TokenValidator interface {
	ValidateToken(tokenString string) (*StaffClaims, error)
}

// enrollManage is the permission staff batch endpoints require.
const enrollManage = "enroll:manage"

// RequireStaff enforces a bearer token carrying the enrollment-management
// permission and stores the staff subject as the request actor.
func RequireStaff(validator TokenValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok {
				logger.WarnContext(ctx, "unauthorized access - missing token",
					"request_id", GetRequestID(ctx))
				unauthorized(w, "Missing or invalid Authorization header")
				return
			}

			claims, err := validator.ValidateToken(token)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"error", err,
					"request_id", GetRequestID(ctx))
				unauthorized(w, "Invalid or expired token")
				return
			}

			if !hasPermission(claims, enrollManage) {
				logger.WarnContext(ctx, "forbidden - missing permission",
					"subject", claims.Subject,
					"request_id", GetRequestID(ctx))
				w.WriteHeader(http.StatusForbidden)
				_, _ = w.Write([]byte(`{"error":"forbidden","error_description":"Missing enrollment permission"}`))
				return
			}

			next.ServeHTTP(w, r.WithContext(requestcontext.WithActor(ctx, claims.Subject)))
		})
	}
}

func hasPermission(claims *StaffClaims, permission string) bool {
	for _, p := range claims.Permissions {
		if p == permission {
			return true
		}
	}
	return false
}

func unauthorized(w http.ResponseWriter, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized","error_description":"` + description + `"}`))
}
