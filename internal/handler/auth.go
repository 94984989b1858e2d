package handler

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/vasiliy-maslov/online-store/internal/identity"
)

// RequireBuyer rejects requests without a valid bearer token before any
// handler reads the body.
func RequireBuyer(auth identity.Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				w.Header().Set("WWW-Authenticate", "Bearer")
				respondWithErrorCode(w, http.StatusUnauthorized, "Authentication required", codeUnauthenticated)
				return
			}

			id, err := auth.Authenticate(r.Context(), token)
			if err != nil {
				log.Warn().Err(err).Str("path", r.URL.Path).Msg("Rejected bearer token")
				w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
				respondWithErrorCode(w, http.StatusUnauthorized, "Invalid or expired token", codeUnauthenticated)
				return
			}

			next.ServeHTTP(w, r.WithContext(identity.WithIdentity(r.Context(), id)))
		})
	}
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
