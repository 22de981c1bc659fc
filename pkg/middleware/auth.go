package middleware

import (
	"net/http"
	"strings"

	"github.com/arborhq/arbor/pkg/contextkeys"
	"github.com/arborhq/arbor/pkg/identity"
	"github.com/arborhq/arbor/pkg/observability"
)

// AuthMiddleware verifies bearer tokens against the identity provider and
// stamps the authenticated actor onto the request context.
type AuthMiddleware struct {
	provider identity.Provider
	optional bool // If true, allow unauthenticated requests through
	logger   *observability.Logger
}

// NewAuthMiddleware creates an authentication middleware. With optional set,
// requests without an Authorization header pass through anonymously; requests
// that do carry a token are still verified.
func NewAuthMiddleware(provider identity.Provider, optional bool, logger *observability.Logger) *AuthMiddleware {
	if logger == nil {
		logger = observability.DefaultLogger()
	}
	return &AuthMiddleware{
		provider: provider,
		optional: optional,
		logger:   logger,
	}
}

// Handler wraps an HTTP handler with authentication.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			if m.optional {
				next.ServeHTTP(w, r)
				return
			}
			m.unauthorizedResponse(w, "missing authorization header")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			m.unauthorizedResponse(w, "invalid authorization header format")
			return
		}

		principal, err := m.provider.Verify(r.Context(), parts[1])
		if err != nil {
			m.logger.WithError(err).Debug("token verification failed")
			m.unauthorizedResponse(w, "invalid or expired token")
			return
		}

		ctx := contextkeys.WithActorID(r.Context(), principal.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *AuthMiddleware) unauthorizedResponse(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + message + `"}`))
}
