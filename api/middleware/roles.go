package middleware

import (
	"net/http"
	"slices"

	"github.com/herfa-app/herfa-backend/api/responses"
	"github.com/herfa-app/herfa-backend/pkg/enums"
	pkgerrors "github.com/herfa-app/herfa-backend/pkg/errors"
	"github.com/herfa-app/herfa-backend/pkg/logger"
)

// RequireRole admits callers whose role is one of allowed. It must run after
// Auth; an anonymous request is answered with 401.
func RequireRole(logg *logger.Logger, allowed ...enums.UserRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFrom(r.Context())
			switch {
			case !ok:
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required"))
			case !slices.Contains(allowed, p.Role):
				responses.WriteError(r.Context(), logg, w, pkgerrors.Errorf(pkgerrors.CodeForbidden, "%s role cannot perform this action", p.Role))
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}
