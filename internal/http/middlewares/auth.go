package middlewares

import (
	stderrs "errors"
	"net/http"
	"slices"
	"strings"

	"github.com/dropDatabas3/lobbygate/internal/http/errors"
	jwtx "github.com/dropDatabas3/lobbygate/internal/jwt"
)

// RequireAuth valida Authorization: Bearer <JWT> y guarda las claims en el
// contexto. Con issuer nil (auth deshabilitada en dev) deja pasar todo como admin.
func RequireAuth(issuer *jwtx.Issuer) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if issuer == nil {
				dev := &jwtx.Claims{Role: jwtx.RoleAdmin}
				dev.Subject = "dev"
				next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), dev)))
				return
			}
			ah := strings.TrimSpace(r.Header.Get("Authorization"))
			if ah == "" || !strings.HasPrefix(strings.ToLower(ah), "bearer ") {
				w.Header().Set("WWW-Authenticate", `Bearer realm="lobbygate", error="invalid_token"`)
				errors.WriteError(w, errors.ErrTokenMissing)
				return
			}
			claims, err := issuer.Parse(strings.TrimSpace(ah[len("Bearer "):]))
			if err != nil {
				w.Header().Set("WWW-Authenticate", `Bearer realm="lobbygate", error="invalid_token"`)
				if stderrs.Is(err, jwtx.ErrExpired) {
					errors.WriteError(w, errors.ErrTokenExpired)
					return
				}
				errors.WriteError(w, errors.ErrTokenInvalid)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// RequireRole exige uno de roles. El rol admin pasa siempre.
// Debe usarse después de RequireAuth.
func RequireRole(roles ...jwtx.Role) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c := GetClaims(r.Context())
			if c == nil {
				errors.WriteError(w, errors.ErrTokenMissing)
				return
			}
			if c.Role != jwtx.RoleAdmin && !slices.Contains(roles, c.Role) {
				errors.WriteError(w, errors.ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
