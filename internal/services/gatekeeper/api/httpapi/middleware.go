package httpapi

import (
	"crypto/subtle"
	"net/http"
	"strings"

	apperrors "github.com/louisbranch/gatekeeper/internal/platform/errors"
	"github.com/louisbranch/gatekeeper/internal/platform/requestctx"
)

func (s *Server) withIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if address := strings.TrimSpace(r.Header.Get(s.identityHeader)); address != "" {
			r = r.WithContext(requestctx.WithAddress(r.Context(), address))
		}
		next.ServeHTTP(w, r)
	})
}

// internal guards service-to-service routes with the shared bearer token.
// Without a configured token the routes are closed.
func (s *Server) internal(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if s.internalToken == "" || !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), []byte(s.internalToken)) != 1 {
			writeError(w, r, apperrors.New(apperrors.CodeUnauthorized, "invalid internal token"))
			return
		}
		next(w, r)
	})
}

// caller returns the authenticated address of the request.
func caller(r *http.Request) (string, error) {
	address := requestctx.AddressFromContext(r.Context())
	if address == "" {
		return "", apperrors.New(apperrors.CodeUnauthorized, "authentication required")
	}
	return address, nil
}
