package database

import "time"

// CardStatus is the processing state of a card. The string values are the
// persisted and wire representation.
type CardStatus string

const (
	StatusPending   CardStatus = "pending"
	StatusProcessed CardStatus = "processed"
	StatusFailed    CardStatus = "failed"
)

// IsTerminal reports whether no further pipeline transition is expected.
func (s CardStatus) IsTerminal() bool {
	return s == StatusProcessed || s == StatusFailed
}

// IsValid reports whether s is one of the known statuses.
func (s CardStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusProcessed, StatusFailed:
		return true
	}
	return false
}

// Card is one uploaded business card image and its recognition state.
type Card struct {
	ID           string     `db:"id" json:"id"`
	UserID       string     `db:"user_id" json:"userId"`
	ImageKey     string     `db:"image_key" json:"imageKey"`
	ImagePath    string     `db:"image_path" json:"-"`
	ImageURL     string     `db:"image_url" json:"imageUrl,omitempty"`
	OCRText      string     `db:"ocr_text" json:"ocrText"`
	Status       CardStatus `db:"status" json:"status"`
	ErrorMessage string     `db:"error_message" json:"errorMessage,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"createdAt"`
}

// Contact is the structured record derived from a processed card.
type Contact struct {
	ID          string    `db:"id" json:"id"`
	UserID      string    `db:"user_id" json:"userId"`
	CardID      string    `db:"card_id" json:"cardId"`
	FullName    string    `db:"full_name" json:"fullName"`
	Designation string    `db:"designation" json:"designation"`
	Company     string    `db:"company" json:"company"`
	Email       string    `db:"email" json:"email"`
	Phone       string    `db:"phone" json:"phone"`
	Website     string    `db:"website" json:"website"`
	Address     string    `db:"address" json:"address"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
}

// ActivityLog is one append-only audit entry.
type ActivityLog struct {
	ID         string         `db:"id" json:"id"`
	UserID     string         `db:"user_id" json:"userId"`
	Action     string         `db:"action" json:"action"`
	EntityType string         `db:"entity_type" json:"entityType"`
	EntityID   string         `db:"entity_id" json:"entityId,omitempty"`
	Metadata   map[string]any `db:"metadata" json:"metadata,omitempty"`
	Timestamp  time.Time      `db:"timestamp" json:"timestamp"`
}

// DefaultPageLimit is the page size used when CardFilter.Limit is zero.
const DefaultPageLimit = 20

// CardFilter narrows ListCardsByUser. Zero values mean no restriction, Limit
// defaults to DefaultPageLimit and Page to 1.
type CardFilter struct {
	Status CardStatus
	Page   int
	Limit  int
}

// ActivityFilter narrows ListActivities.
type ActivityFilter struct {
	UserID   string
	EntityID string
	Action   string
	Limit    int
}
