package httpapi

import (
	"net/http"
	"strings"

	"pulseops.app/internal/apperr"
	"pulseops.app/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// Authenticate verifies the bearer access token and stores the identity
// and raw token in the request context.
func (a *API) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.deps.Tokens == nil {
			writeError(w, r, apperr.New(apperr.CodeServiceUnavailable, "token service is not configured"))
			return
		}
		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, err)
			return
		}
		claims, err := a.deps.Tokens.Verify(r.Context(), token, auth.KindAccess)
		if err != nil {
			writeError(w, r, err)
			return
		}
		ctx := auth.ContextWithClaims(r.Context(), claims)
		ctx = auth.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequirePermission rejects identities without perm.
func (a *API) RequirePermission(perm auth.Permission) func(http.Handler) http.Handler {
	return a.RequireAnyPermission(perm)
}

// RequireAnyPermission rejects identities holding none of perms.
func (a *API) RequireAnyPermission(perms ...auth.Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := auth.ClaimsFromContext(r.Context())
			if !ok {
				writeError(w, r, apperr.InvalidToken("missing identity"))
				return
			}
			var err error
			if len(perms) == 1 {
				err = a.deps.Guard.RequirePermission(r.Context(), claims, perms[0])
			} else {
				err = a.deps.Guard.RequireAnyPermission(r.Context(), claims, perms...)
			}
			if err != nil {
				writeError(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireRole rejects identities whose role differs from role.
func (a *API) RequireRole(role auth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := auth.ClaimsFromContext(r.Context())
			if !ok {
				writeError(w, r, apperr.InvalidToken("missing identity"))
				return
			}
			if err := a.deps.Guard.RequireRole(r.Context(), claims, role); err != nil {
				writeError(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", apperr.InvalidToken("missing bearer token")
	}
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", apperr.InvalidToken("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", apperr.InvalidToken("missing bearer token")
	}
	return token, nil
}
