// Package audit records user-visible domain events in the activity log.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/jo-hoe/cardscan/internal/backend/database"
)

const (
	ActionCardUploaded     = "card_uploaded"
	ActionOCRProcessed     = "ocr_processed"
	ActionOCRFailed        = "ocr_failed"
	ActionContactCreated   = "contact_created"
	ActionCardDeleted      = "card_deleted"
	ActionAdminCardDeleted = "admin_card_deleted"

	EntityCard    = "card"
	EntityContact = "contact"
)

type Event struct {
	UserID     string
	Action     string
	EntityType string
	EntityID   string
	Metadata   map[string]any
}

// Sink accepts audit events. Append never fails from the caller's point of
// view; implementations report their own errors.
type Sink interface {
	Append(ctx context.Context, event Event)
}

// ActivityStore is the part of the database the sink writes to.
type ActivityStore interface {
	AppendActivity(ctx context.Context, entry *database.ActivityLog) error
}

// DatabaseSink persists events as activity log rows.
type DatabaseSink struct {
	store ActivityStore
	now   func() time.Time
}

func NewDatabaseSink(store ActivityStore) *DatabaseSink {
	return &DatabaseSink{store: store, now: time.Now}
}

func (s *DatabaseSink) Append(ctx context.Context, event Event) {
	entry := &database.ActivityLog{
		UserID:     event.UserID,
		Action:     event.Action,
		EntityType: event.EntityType,
		EntityID:   event.EntityID,
		Metadata:   event.Metadata,
		Timestamp:  s.now(),
	}
	if err := s.store.AppendActivity(ctx, entry); err != nil {
		slog.Error("failed to append audit event",
			"action", event.Action,
			"entity_type", event.EntityType,
			"entity_id", event.EntityID,
			"user_id", event.UserID,
			"error", err)
	}
}

// Discard drops every event.
type Discard struct{}

func (Discard) Append(context.Context, Event) {}
