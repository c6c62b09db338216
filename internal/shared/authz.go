package shared

import (
	"net/http"

	"github.com/tremedam/Agendamento-Pro/internal/platform/httpx"
)

// RequireRole rejects requests whose identity does not carry one of roles.
func RequireRole(roles ...Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFromContext(r.Context())
			if !ok {
				httpx.RespondError(w, ErrInvalidToken)
				return
			}
			for _, role := range roles {
				if id.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			httpx.RespondError(w, ErrRoleRequired)
		})
	}
}

// Authenticate resolves the caller with resolver and stores the identity in
// the request context. Unresolvable callers get a 401 problem.
func Authenticate(resolver *IdentityResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := resolver.Resolve(r)
			if err != nil {
				httpx.RespondError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), id)))
		})
	}
}
