package users

import (
	"github.com/google/uuid"

	"github.com/herfa-app/herfa-backend/pkg/db/models"
	"github.com/herfa-app/herfa-backend/pkg/enums"
)

// UserDTO is the public shape of a participant embedded in API responses.
type UserDTO struct {
	ID        uuid.UUID      `json:"id"`
	FirstName string         `json:"first_name"`
	LastName  string         `json:"last_name"`
	Role      enums.UserRole `json:"role"`
}

// FromModel maps a stored user to its DTO. Email stays private.
func FromModel(m models.User) UserDTO {
	return UserDTO{
		ID:        m.ID,
		FirstName: m.FirstName,
		LastName:  m.LastName,
		Role:      m.Role,
	}
}
