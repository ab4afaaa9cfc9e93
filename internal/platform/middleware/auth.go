package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	dErrors "titledeed/pkg/domain-errors"
	"titledeed/pkg/platform/httputil"
	"titledeed/pkg/requestcontext"
)

// RoleRegistrar is the role carried by operators allowed to run recovery.
const RoleRegistrar = "registrar"

// JWTValidator defines the interface for validating JWT tokens
type JWTValidator interface {
	ValidateToken(tokenString string) (*JWTClaims, error)
}

// JWTClaims represents the claims we expect from the JWT validator
type JWTClaims struct {
	Subject string
	Roles   []string
	JTI     string
}

// HasRole reports whether the token grants role.
func (c *JWTClaims) HasRole(role string) bool {
	return slices.Contains(c.Roles, role)
}

// GetOperator retrieves the authenticated operator subject from the context
func GetOperator(ctx context.Context) string {
	return requestcontext.Operator(ctx)
}

// RequireRole admits requests carrying a valid bearer token with role.
func RequireRole(validator JWTValidator, role string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := GetRequestID(ctx)

			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" {
				logger.WarnContext(ctx, "unauthorized access - missing token",
					"request_id", requestID,
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "Missing or invalid Authorization header"))
				return
			}

			claims, err := validator.ValidateToken(token)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"error", err,
					"request_id", requestID,
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "Invalid or expired token"))
				return
			}
			if !claims.HasRole(role) {
				logger.WarnContext(ctx, "forbidden - missing role",
					"subject", claims.Subject,
					"role", role,
					"request_id", requestID,
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "operator role required"))
				return
			}

			ctx = requestcontext.WithOperator(ctx, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
