package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/herfa-app/herfa-backend/api/middleware"
	"github.com/herfa-app/herfa-backend/pkg/enums"
	pkgerrors "github.com/herfa-app/herfa-backend/pkg/errors"
)

func requestActor(r *http.Request) (uuid.UUID, enums.UserRole, error) {
	userID, role, ok := middleware.Actor(r.Context())
	if !ok {
		return uuid.Nil, "", pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	return userID, role, nil
}
