package middleware

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/upb/tma-auth-gateway/internal/shared"
	"github.com/upb/tma-auth-gateway/services"
	"github.com/upb/tma-auth-gateway/utils"
)

// AuthScheme is the Authorization scheme carrying raw init data.
const AuthScheme = "tma"

// Authenticator verifies raw init data
type Authenticator interface {
	Authenticate(rawInitData string) (*services.Principal, error)
}

// AuthMiddleware authenticates requests from the mini app itself, which
// sends its init data on every call instead of a session token.
type AuthMiddleware struct {
	authenticator Authenticator
	logger        *zap.Logger
}

// NewAuthMiddleware creates a new AuthMiddleware
func NewAuthMiddleware(authenticator Authenticator, logger *zap.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		authenticator: authenticator,
		logger:        logger,
	}
}

// RequireInitData rejects requests without valid "Authorization: tma <initData>".
func (m *AuthMiddleware) RequireInitData(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		requestID := middleware.GetReqID(ctx)

		raw := extractInitData(r)
		if raw == "" {
			m.logger.Warn("missing init data authorization", zap.String("request_id", requestID))
			_ = utils.WriteUnauthorized(w, "Missing or invalid authorization")
			return
		}

		principal, err := m.authenticator.Authenticate(raw)
		if err != nil {
			kind := shared.KindOf(err)
			if !shared.IsVerificationError(err) {
				m.logger.Error("init data authentication failed",
					zap.String("request_id", requestID),
					zap.String("kind", string(kind)),
					zap.Error(err))
				_ = utils.WriteInternalServerError(w, "An internal error occurred")
				return
			}
			m.logger.Warn("init data rejected",
				zap.String("request_id", requestID),
				zap.String("kind", string(kind)))
			_ = utils.WriteError(w, http.StatusUnauthorized, string(kind), "Invalid init data")
			return
		}

		m.logger.Debug("authentication successful",
			zap.String("request_id", requestID),
			zap.String("subject", principal.Subject))

		next.ServeHTTP(w, r.WithContext(WithPrincipal(ctx, principal)))
	})
}

func extractInitData(r *http.Request) string {
	scheme, raw, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, AuthScheme) {
		return ""
	}
	return strings.TrimSpace(raw)
}
