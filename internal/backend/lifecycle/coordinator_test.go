package lifecycle

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/jo-hoe/cardscan/internal/backend/audit"
	"github.com/jo-hoe/cardscan/internal/backend/blobstore"
	"github.com/jo-hoe/cardscan/internal/backend/database"
)

type recordingSink struct {
	mu     sync.Mutex
	events []audit.Event
}

func (s *recordingSink) Append(ctx context.Context, event audit.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

type failingBlobs struct {
	calls int
}

func (b *failingBlobs) Remove(ctx context.Context, key string) error {
	b.calls++
	return errors.New("bucket unreachable")
}

// failingDelete rejects the final row deletion.
type failingDelete struct {
	database.DatabaseService
}

func (f failingDelete) DeleteCard(ctx context.Context, id string) error {
	return errors.New("database is locked")
}

type fixture struct {
	db       database.DatabaseService
	blobs    *blobstore.FilesystemStore
	blobRoot string
	sink     *recordingSink
	localDir string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.NewDatabase("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("failed to create database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	blobRoot := t.TempDir()
	blobs, err := blobstore.NewFilesystemStore(blobRoot)
	if err != nil {
		t.Fatalf("failed to create blob store: %v", err)
	}
	return &fixture{db: db, blobs: blobs, blobRoot: blobRoot, sink: &recordingSink{}, localDir: t.TempDir()}
}

// newCard stores a card with a blob, a local image and a contact.
func (f *fixture) newCard(t *testing.T, userID, name string) *database.Card {
	t.Helper()
	ctx := context.Background()

	key := "cards/" + userID + "/" + name + ".png"
	if err := f.blobs.Put(ctx, key, strings.NewReader("img"), 3, "image/png"); err != nil {
		t.Fatalf("failed to put blob: %v", err)
	}
	localPath := filepath.Join(f.localDir, userID+"-"+name+".png")
	if err := os.WriteFile(localPath, []byte("img"), 0o600); err != nil {
		t.Fatalf("failed to write local image: %v", err)
	}

	card := &database.Card{UserID: userID, ImageKey: key, ImagePath: localPath}
	if err := f.db.CreateCard(ctx, card); err != nil {
		t.Fatalf("failed to create card: %v", err)
	}
	if err := f.db.CreateContact(ctx, &database.Contact{UserID: userID, CardID: card.ID, FullName: name}); err != nil {
		t.Fatalf("failed to create contact: %v", err)
	}
	return card
}

func (f *fixture) assertCardGone(t *testing.T, card *database.Card) {
	t.Helper()
	if _, err := f.db.GetCard(context.Background(), card.ID); !errors.Is(err, database.ErrNotFound) {
		t.Errorf("expected card %s to be deleted, got %v", card.ID, err)
	}
}

func (f *fixture) contactCount(t *testing.T, cardID string) int {
	t.Helper()
	contacts, err := f.db.ListContactsByCardID(context.Background(), cardID)
	if err != nil {
		t.Fatalf("failed to list contacts: %v", err)
	}
	return len(contacts)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestDeleteCard_Cascade(t *testing.T) {
	f := newFixture(t)
	card := f.newCard(t, "u1", "front")
	coordinator := NewCoordinator(f.blobs, f.db, f.sink)

	if err := coordinator.DeleteCard(context.Background(), card, DeleteOptions{Cascade: true, ActorID: "u1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	f.assertCardGone(t, card)
	if n := f.contactCount(t, card.ID); n != 0 {
		t.Errorf("expected contacts to be deleted, %d remain", n)
	}
	if exists(filepath.Join(f.blobRoot, card.ImageKey)) {
		t.Error("expected blob to be removed")
	}
	if exists(card.ImagePath) {
		t.Error("expected local image to be removed")
	}
	if len(f.sink.events) != 1 || f.sink.events[0].Action != audit.ActionCardDeleted || f.sink.events[0].UserID != "u1" {
		t.Errorf("unexpected audit events %+v", f.sink.events)
	}
}

func TestDeleteCard_WithoutCascadeKeepsContact(t *testing.T) {
	f := newFixture(t)
	card := f.newCard(t, "u1", "front")

	if err := NewCoordinator(f.blobs, f.db, f.sink).DeleteCard(context.Background(), card, DeleteOptions{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f.assertCardGone(t, card)
	if n := f.contactCount(t, card.ID); n != 1 {
		t.Errorf("expected contact to survive, got %d", n)
	}
}

func TestDeleteCard_AbsentResourcesStillDeleteRow(t *testing.T) {
	f := newFixture(t)
	card := f.newCard(t, "u1", "front")

	// blob and local file are already gone
	if err := f.blobs.Remove(context.Background(), card.ImageKey); err != nil {
		t.Fatalf("failed to remove blob: %v", err)
	}
	os.Remove(card.ImagePath)

	if err := NewCoordinator(f.blobs, f.db, f.sink).DeleteCard(context.Background(), card, DeleteOptions{Cascade: true}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f.assertCardGone(t, card)
}

func TestDeleteCard_BestEffortFailuresAreSwallowed(t *testing.T) {
	f := newFixture(t)
	card := f.newCard(t, "u1", "front")
	blobs := &failingBlobs{}
	coordinator := NewCoordinator(blobs, f.db, f.sink)
	coordinator.removeFile = func(string) error { return errors.New("read-only filesystem") }

	if err := coordinator.DeleteCard(context.Background(), card, DeleteOptions{Cascade: true}); err != nil {
		t.Fatalf("expected best-effort failures to be swallowed, got %v", err)
	}
	if blobs.calls != 1 {
		t.Errorf("expected one blob removal attempt, got %d", blobs.calls)
	}
	f.assertCardGone(t, card)
}

func TestDeleteCard_RowDeletionFailure(t *testing.T) {
	f := newFixture(t)
	card := f.newCard(t, "u1", "front")

	err := NewCoordinator(f.blobs, failingDelete{f.db}, f.sink).DeleteCard(context.Background(), card, DeleteOptions{})
	if err == nil || !strings.Contains(err.Error(), "database is locked") {
		t.Fatalf("expected row deletion error, got %v", err)
	}
	if len(f.sink.events) != 0 {
		t.Errorf("expected no audit event on failure, got %+v", f.sink.events)
	}
}

func TestDeleteCard_EmptyLocators(t *testing.T) {
	f := newFixture(t)
	card := &database.Card{UserID: "u1"}
	if err := f.db.CreateCard(context.Background(), card); err != nil {
		t.Fatalf("failed to create card: %v", err)
	}
	blobs := &failingBlobs{}

	if err := NewCoordinator(blobs, f.db, nil).DeleteCard(context.Background(), card, DeleteOptions{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if blobs.calls != 0 {
		t.Errorf("expected no blob removal for empty key, got %d", blobs.calls)
	}
	f.assertCardGone(t, card)
}

func TestDeleteCard_AdminAudit(t *testing.T) {
	f := newFixture(t)
	card := f.newCard(t, "owner", "front")

	if err := NewCoordinator(f.blobs, f.db, f.sink).DeleteCard(context.Background(), card, DeleteOptions{Cascade: true, ActorID: "admin"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.sink.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(f.sink.events))
	}
	event := f.sink.events[0]
	if event.Action != audit.ActionAdminCardDeleted || event.UserID != "admin" || event.Metadata["cardOwner"] != "owner" {
		t.Errorf("unexpected admin event %+v", event)
	}
}

func TestDeleteUserCards(t *testing.T) {
	f := newFixture(t)
	first := f.newCard(t, "victim", "a")
	second := f.newCard(t, "victim", "b")
	other := f.newCard(t, "bystander", "c")

	deleted, err := NewCoordinator(f.blobs, f.db, f.sink).DeleteUserCards(context.Background(), "victim", "admin")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if deleted != 2 {
		t.Errorf("expected 2 deleted cards, got %d", deleted)
	}
	f.assertCardGone(t, first)
	f.assertCardGone(t, second)
	if n := f.contactCount(t, first.ID) + f.contactCount(t, second.ID); n != 0 {
		t.Errorf("expected contacts to be cascaded, %d remain", n)
	}

	if _, err := f.db.GetCard(context.Background(), other.ID); err != nil {
		t.Errorf("expected other user's card to survive, got %v", err)
	}
	if n := f.contactCount(t, other.ID); n != 1 {
		t.Errorf("expected other user's contact to survive, got %d", n)
	}
}

func TestDeleteUserCards_NoCards(t *testing.T) {
	f := newFixture(t)
	deleted, err := NewCoordinator(f.blobs, f.db, f.sink).DeleteUserCards(context.Background(), "nobody", "admin")
	if err != nil || deleted != 0 {
		t.Errorf("expected (0, nil), got (%d, %v)", deleted, err)
	}
}
