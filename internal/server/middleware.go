package server

import (
	"net/http"
	"strings"

	"propman/internal/auth"
	"propman/internal/i18n"
)

// authenticate populates the request identity from a bearer token. A
// missing or bad token is not an error here; authorize decides whether
// the route needs an identity.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		id, err := s.Tokens.IdentityFromToken(token)
		if err != nil {
			s.Log.WithError(err).WithField("path", r.URL.Path).Debug("access: ignoring bearer token")
			next.ServeHTTP(w, r)
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), id)))
	})
}

// authorize enforces the prefix table before any handler runs.
func (s *Server) authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		roles := accessRoles(r.URL.Path)
		if isPublicAccess(roles) {
			next.ServeHTTP(w, r)
			return
		}

		id, ok := auth.IdentityFromContext(r.Context())
		if !ok {
			s.Metrics.AccessRejected(http.StatusUnauthorized)
			writeError(w, http.StatusUnauthorized, "Full authentication is required to access this resource")
			return
		}
		if !id.Authenticated {
			s.Metrics.AccessRejected(http.StatusForbidden)
			writeError(w, http.StatusForbidden, "Two-factor verification required")
			return
		}
		if !roleAllowed(roles, string(id.Role)) {
			s.Metrics.AccessRejected(http.StatusForbidden)
			writeError(w, http.StatusForbidden, "Access denied")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func withLocale(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := i18n.WithLocale(r.Context(), i18n.LocaleFromRequest(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
