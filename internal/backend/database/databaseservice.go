package database

import (
	"context"
	"database/sql"
	"errors"
)

// ErrNotFound is returned when a row addressed by id does not exist.
var ErrNotFound = errors.New("record not found")

type DatabaseService interface {
	CreateDatabase() (*sql.DB, error)
	DoesDatabaseExist() bool
	Close() error

	// CreateCard inserts the card, assigning ID and CreatedAt when empty.
	CreateCard(ctx context.Context, card *Card) error
	GetCard(ctx context.Context, id string) (*Card, error)
	// ListCardsByUser returns one page of the user's cards, newest first, and
	// the total count matching the filter.
	ListCardsByUser(ctx context.Context, userID string, filter CardFilter) ([]*Card, int, error)
	ListCardIDsByUser(ctx context.Context, userID string) ([]string, error)
	// MarkCardProcessed stores the recognized text and the processed status in one write.
	MarkCardProcessed(ctx context.Context, id string, ocrText string) error
	MarkCardFailed(ctx context.Context, id string, message string) error
	DeleteCard(ctx context.Context, id string) error

	// CreateContact inserts the contact. At most one contact may reference a card.
	CreateContact(ctx context.Context, contact *Contact) error
	GetContactByCardID(ctx context.Context, cardID string) (*Contact, error)
	ListContactsByCardID(ctx context.Context, cardID string) ([]*Contact, error)
	DeleteContactsByCardID(ctx context.Context, cardID string) (int64, error)

	AppendActivity(ctx context.Context, entry *ActivityLog) error
	ListActivities(ctx context.Context, filter ActivityFilter) ([]*ActivityLog, error)
}
