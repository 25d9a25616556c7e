package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const defaultActivityLimit = 50

type SQLiteDatabase struct {
	db               *sql.DB
	connectionString string
}

func NewSQLiteDatabase(connectionString string) (DatabaseService, error) {
	if err := ensureParentDir(connectionString); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", withPragmas(connectionString))
	if err != nil {
		return nil, err
	}

	// Every connection to ":memory:" opens its own empty database
	if isInMemory(connectionString) {
		db.SetMaxOpenConns(1)
	}

	return &SQLiteDatabase{
		db:               db,
		connectionString: connectionString,
	}, nil
}

// ensureParentDir creates the directory of a file database so a fresh
// checkout can open paths like data/cardscan.db.
func ensureParentDir(connectionString string) error {
	if isInMemory(connectionString) {
		return nil
	}
	path, _, _ := strings.Cut(strings.TrimPrefix(connectionString, "file:"), "?")
	dir := filepath.Dir(path)
	if path == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create database directory %s: %w", dir, err)
	}
	return nil
}

func isInMemory(connectionString string) bool {
	return connectionString == ":memory:" || strings.Contains(connectionString, "mode=memory")
}

// withPragmas enables WAL and a busy timeout for file databases so that the
// API process and background workers can share one file.
func withPragmas(connectionString string) string {
	if isInMemory(connectionString) || strings.Contains(connectionString, "_pragma=") {
		return connectionString
	}
	sep := "?"
	if strings.Contains(connectionString, "?") {
		sep = "&"
	}
	return connectionString + sep + "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
}

func (s *SQLiteDatabase) CreateDatabase() (*sql.DB, error) {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS cards (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			image_key TEXT NOT NULL DEFAULT '',
			image_path TEXT NOT NULL DEFAULT '',
			image_url TEXT NOT NULL DEFAULT '',
			ocr_text TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'processed', 'failed')),
			error_message TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cards_user_created ON cards (user_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_cards_status ON cards (status)`,
		`CREATE TABLE IF NOT EXISTS contacts (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			card_id TEXT NOT NULL,
			full_name TEXT NOT NULL DEFAULT '',
			designation TEXT NOT NULL DEFAULT '',
			company TEXT NOT NULL DEFAULT '',
			email TEXT NOT NULL DEFAULT '',
			phone TEXT NOT NULL DEFAULT '',
			website TEXT NOT NULL DEFAULT '',
			address TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_contacts_card ON contacts (card_id)`,
		`CREATE INDEX IF NOT EXISTS idx_contacts_user ON contacts (user_id, created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS activity_logs (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			action TEXT NOT NULL,
			entity_type TEXT NOT NULL DEFAULT 'system',
			entity_id TEXT NOT NULL DEFAULT '',
			metadata TEXT NOT NULL DEFAULT '{}',
			timestamp INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_activity_user_ts ON activity_logs (user_id, timestamp DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_activity_action_ts ON activity_logs (action, timestamp DESC)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return nil, err
		}
	}
	return s.db, nil
}

func (s *SQLiteDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLiteDatabase) DoesDatabaseExist() bool {
	// In SQLite, the database file is created when you connect to it.
	// So we can assume it exists if we can successfully ping the database.
	err := s.db.Ping()
	return err == nil
}

func (s *SQLiteDatabase) CreateCard(ctx context.Context, card *Card) error {
	if card.ID == "" {
		id, err := generateID()
		if err != nil {
			return err
		}
		card.ID = id
	}
	if card.CreatedAt.IsZero() {
		card.CreatedAt = time.Now().UTC()
	}
	if card.Status == "" {
		card.Status = StatusPending
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cards (id, user_id, image_key, image_path, image_url, ocr_text, status, error_message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		card.ID, card.UserID, card.ImageKey, card.ImagePath, card.ImageURL, card.OCRText,
		string(card.Status), card.ErrorMessage, card.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to insert card: %w", err)
	}
	return nil
}

const cardColumns = "id, user_id, image_key, image_path, image_url, ocr_text, status, error_message, created_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCard(row rowScanner) (*Card, error) {
	var card Card
	var status string
	var createdAt int64
	if err := row.Scan(&card.ID, &card.UserID, &card.ImageKey, &card.ImagePath, &card.ImageURL,
		&card.OCRText, &status, &card.ErrorMessage, &createdAt); err != nil {
		return nil, err
	}
	card.Status = CardStatus(status)
	card.CreatedAt = time.Unix(0, createdAt).UTC()
	return &card, nil
}

func (s *SQLiteDatabase) GetCard(ctx context.Context, id string) (*Card, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+cardColumns+" FROM cards WHERE id = ?", id)
	card, err := scanCard(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get card %s: %w", id, err)
	}
	return card, nil
}

func (s *SQLiteDatabase) ListCardsByUser(ctx context.Context, userID string, filter CardFilter) ([]*Card, int, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}

	where := "WHERE user_id = ?"
	args := []any{userID}
	if filter.Status != "" {
		where += " AND status = ?"
		args = append(args, string(filter.Status))
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM cards "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count cards: %w", err)
	}

	query := "SELECT " + cardColumns + " FROM cards " + where + " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	rows, err := s.db.QueryContext(ctx, query, append(args, limit, (page-1)*limit)...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list cards: %w", err)
	}
	defer func() {
		_ = rows.Close() // Explicitly ignore error as we're already returning an error from the function
	}()

	var cards []*Card
	for rows.Next() {
		card, err := scanCard(rows)
		if err != nil {
			return nil, 0, err
		}
		cards = append(cards, card)
	}
	return cards, total, rows.Err()
}

func (s *SQLiteDatabase) ListCardIDsByUser(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id FROM cards WHERE user_id = ? ORDER BY created_at ASC", userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list card ids: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteDatabase) MarkCardProcessed(ctx context.Context, id string, ocrText string) error {
	return s.updateCardState(ctx, id,
		"UPDATE cards SET ocr_text = ?, status = ?, error_message = '' WHERE id = ?",
		ocrText, string(StatusProcessed), id)
}

func (s *SQLiteDatabase) MarkCardFailed(ctx context.Context, id string, message string) error {
	return s.updateCardState(ctx, id,
		"UPDATE cards SET status = ?, error_message = ? WHERE id = ?",
		string(StatusFailed), message, id)
}

func (s *SQLiteDatabase) updateCardState(ctx context.Context, id string, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update card %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update card %s: %w", id, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteDatabase) DeleteCard(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM cards WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete card %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteDatabase) CreateContact(ctx context.Context, contact *Contact) error {
	if contact.ID == "" {
		id, err := generateID()
		if err != nil {
			return err
		}
		contact.ID = id
	}
	if contact.CreatedAt.IsZero() {
		contact.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO contacts (id, user_id, card_id, full_name, designation, company, email, phone, website, address, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		contact.ID, contact.UserID, contact.CardID, contact.FullName, contact.Designation, contact.Company,
		contact.Email, contact.Phone, contact.Website, contact.Address, contact.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to insert contact for card %s: %w", contact.CardID, err)
	}
	return nil
}

const contactColumns = "id, user_id, card_id, full_name, designation, company, email, phone, website, address, created_at"

func scanContact(row rowScanner) (*Contact, error) {
	var c Contact
	var createdAt int64
	if err := row.Scan(&c.ID, &c.UserID, &c.CardID, &c.FullName, &c.Designation, &c.Company,
		&c.Email, &c.Phone, &c.Website, &c.Address, &createdAt); err != nil {
		return nil, err
	}
	c.CreatedAt = time.Unix(0, createdAt).UTC()
	return &c, nil
}

func (s *SQLiteDatabase) GetContactByCardID(ctx context.Context, cardID string) (*Contact, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+contactColumns+" FROM contacts WHERE card_id = ?", cardID)
	contact, err := scanContact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get contact for card %s: %w", cardID, err)
	}
	return contact, nil
}

func (s *SQLiteDatabase) ListContactsByCardID(ctx context.Context, cardID string) ([]*Contact, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+contactColumns+" FROM contacts WHERE card_id = ?", cardID)
	if err != nil {
		return nil, fmt.Errorf("failed to list contacts for card %s: %w", cardID, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var contacts []*Contact
	for rows.Next() {
		contact, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		contacts = append(contacts, contact)
	}
	return contacts, rows.Err()
}

func (s *SQLiteDatabase) DeleteContactsByCardID(ctx context.Context, cardID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM contacts WHERE card_id = ?", cardID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete contacts for card %s: %w", cardID, err)
	}
	return res.RowsAffected()
}

func (s *SQLiteDatabase) AppendActivity(ctx context.Context, entry *ActivityLog) error {
	if entry.ID == "" {
		id, err := generateID()
		if err != nil {
			return err
		}
		entry.ID = id
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	if entry.EntityType == "" {
		entry.EntityType = "system"
	}
	metadata := []byte("{}")
	if len(entry.Metadata) > 0 {
		encoded, err := json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode activity metadata: %w", err)
		}
		metadata = encoded
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO activity_logs (id, user_id, action, entity_type, entity_id, metadata, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.UserID, entry.Action, entry.EntityType, entry.EntityID, string(metadata), entry.Timestamp.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to insert activity %s: %w", entry.Action, err)
	}
	return nil
}

func (s *SQLiteDatabase) ListActivities(ctx context.Context, filter ActivityFilter) ([]*ActivityLog, error) {
	var conditions []string
	var args []any
	if filter.UserID != "" {
		conditions = append(conditions, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.EntityID != "" {
		conditions = append(conditions, "entity_id = ?")
		args = append(args, filter.EntityID)
	}
	if filter.Action != "" {
		conditions = append(conditions, "action = ?")
		args = append(args, filter.Action)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultActivityLimit
	}

	query := "SELECT id, user_id, action, entity_type, entity_id, metadata, timestamp FROM activity_logs"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	// rowid breaks ties between entries written within the same clock tick
	query += " ORDER BY timestamp DESC, rowid DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list activities: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var entries []*ActivityLog
	for rows.Next() {
		var entry ActivityLog
		var metadata string
		var ts int64
		if err := rows.Scan(&entry.ID, &entry.UserID, &entry.Action, &entry.EntityType, &entry.EntityID, &metadata, &ts); err != nil {
			return nil, err
		}
		if metadata != "" && metadata != "{}" {
			if err := json.Unmarshal([]byte(metadata), &entry.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode activity metadata: %w", err)
			}
		}
		entry.Timestamp = time.Unix(0, ts).UTC()
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}
