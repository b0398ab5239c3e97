package settlement

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/herfa-app/herfa-backend/internal/email"
	"github.com/herfa-app/herfa-backend/internal/notifications"
	"github.com/herfa-app/herfa-backend/internal/scheduler"
	"github.com/herfa-app/herfa-backend/pkg/db/models"
	"github.com/herfa-app/herfa-backend/pkg/outbox"
)

type appointmentFinder interface {
	Find(ctx context.Context, id uuid.UUID) (*models.Appointment, error)
}

type appointmentExpirer interface {
	ListExpiredPending(ctx context.Context, cutoff time.Time, limit int) ([]models.Appointment, error)
	ExpirePending(ctx context.Context, id uuid.UUID) (*models.Appointment, bool, error)
}

type notifier interface {
	NotifyAll(ctx context.Context, reqs ...notifications.Request)
}

type mailer interface {
	Request(ctx context.Context, msg email.Message, opts ...scheduler.Option) error
}

type userDirectory interface {
	FindByIDs(ctx context.Context, ids ...uuid.UUID) (map[uuid.UUID]models.User, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}
