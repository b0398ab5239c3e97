package outbox

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/herfa-app/herfa-backend/pkg/db/models"
)

const maxDeadLetterMessage = 1024

// DeadLetterStore keeps events the relay stopped retrying, one row per event.
type DeadLetterStore struct {
	db *gorm.DB
}

func NewDeadLetterStore(db *gorm.DB) *DeadLetterStore {
	return &DeadLetterStore{db: db}
}

// Bury records entry inside tx, the transaction that also marks the outbox
// row terminal. Burying an event twice keeps the first record.
func (s *DeadLetterStore) Bury(tx *gorm.DB, entry models.OutboxDLQ) error {
	if tx == nil {
		return errors.New("outbox: bury needs a transaction")
	}
	if entry.ErrorMessage != nil {
		clipped := clipMessage(*entry.ErrorMessage)
		entry.ErrorMessage = &clipped
	}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "event_id"}},
		DoNothing: true,
	}).Create(&entry).Error
}

// ForEvent reports whether eventID was dead-lettered and returns its record.
func (s *DeadLetterStore) ForEvent(ctx context.Context, eventID uuid.UUID) (models.OutboxDLQ, bool, error) {
	var entry models.OutboxDLQ
	err := s.db.WithContext(ctx).Where("event_id = ?", eventID).Take(&entry).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return models.OutboxDLQ{}, false, nil
	case err != nil:
		return models.OutboxDLQ{}, false, err
	}
	return entry, true, nil
}

// Purge drops dead letters that failed before cutoff. tx may be nil.
func (s *DeadLetterStore) Purge(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error) {
	conn := s.db
	if tx != nil {
		conn = tx
	}
	res := conn.WithContext(ctx).Where("failed_at < ?", cutoff).Delete(&models.OutboxDLQ{})
	return res.RowsAffected, res.Error
}

// clipMessage bounds msg to maxDeadLetterMessage bytes, dropping any rune
// split by the cut.
func clipMessage(msg string) string {
	if len(msg) <= maxDeadLetterMessage {
		return msg
	}
	return strings.ToValidUTF8(msg[:maxDeadLetterMessage], "")
}
