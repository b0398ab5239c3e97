package validators

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	pkgerrors "github.com/herfa-app/herfa-backend/pkg/errors"
)

// PathUUID reads a uuid route parameter such as {appointmentId}.
func PathUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil || id == uuid.Nil {
		return uuid.Nil, pkgerrors.Errorf(pkgerrors.CodeValidation, "%s must be a uuid", name).
			WithDetails(map[string]any{"field": name})
	}
	return id, nil
}
