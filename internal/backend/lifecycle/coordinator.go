// Package lifecycle removes cards together with everything they own.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/jo-hoe/cardscan/internal/backend/audit"
	"github.com/jo-hoe/cardscan/internal/backend/database"
	"github.com/jo-hoe/cardscan/internal/common"
)

// BlobRemover is the part of the blob store deletion needs.
type BlobRemover interface {
	Remove(ctx context.Context, key string) error
}

type CardStore interface {
	GetCard(ctx context.Context, id string) (*database.Card, error)
	ListCardIDsByUser(ctx context.Context, userID string) ([]string, error)
	DeleteContactsByCardID(ctx context.Context, cardID string) (int64, error)
	DeleteCard(ctx context.Context, id string) error
}

type DeleteOptions struct {
	// Cascade also deletes the contact derived from the card.
	Cascade bool
	// ActorID is the user performing the deletion. When it differs from the
	// card owner the deletion is audited as an administrative one.
	ActorID string
}

// Coordinator deletes cards. Releasing the blob and the local image is best
// effort; only the final row deletion can fail the operation.
type Coordinator struct {
	blobs      BlobRemover
	store      CardStore
	sink       audit.Sink
	removeFile func(path string) error
}

func NewCoordinator(blobs BlobRemover, store CardStore, sink audit.Sink) *Coordinator {
	if sink == nil {
		sink = audit.Discard{}
	}
	return &Coordinator{
		blobs:      blobs,
		store:      store,
		sink:       sink,
		removeFile: os.Remove,
	}
}

func (c *Coordinator) DeleteCard(ctx context.Context, card *database.Card, opts DeleteOptions) error {
	logger := slog.With("card_id", card.ID, "user_id", card.UserID)

	if opts.Cascade {
		common.AttemptContext(ctx, "delete contacts", func(ctx context.Context) error {
			deleted, err := c.store.DeleteContactsByCardID(ctx, card.ID)
			if err == nil && deleted > 0 {
				logger.Debug("deleted contacts of card", "count", deleted)
			}
			return err
		}).Log(logger)
	}

	if card.ImageKey != "" {
		common.AttemptContext(ctx, "remove blob", func(ctx context.Context) error {
			return c.blobs.Remove(ctx, card.ImageKey)
		}).Log(logger, "key", card.ImageKey)
	}

	if card.ImagePath != "" {
		common.Attempt("remove local image", func() error {
			err := c.removeFile(card.ImagePath)
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}).Log(logger, "path", card.ImagePath)
	}

	if err := c.store.DeleteCard(ctx, card.ID); err != nil {
		return fmt.Errorf("failed to delete card %s: %w", card.ID, err)
	}

	c.sink.Append(ctx, deletionEvent(card, opts))
	logger.Info("card deleted", "cascade", opts.Cascade)
	return nil
}

func deletionEvent(card *database.Card, opts DeleteOptions) audit.Event {
	if opts.ActorID != "" && opts.ActorID != card.UserID {
		return audit.Event{
			UserID:     opts.ActorID,
			Action:     audit.ActionAdminCardDeleted,
			EntityType: audit.EntityCard,
			EntityID:   card.ID,
			Metadata:   map[string]any{"cardOwner": card.UserID},
		}
	}
	return audit.Event{
		UserID:     card.UserID,
		Action:     audit.ActionCardDeleted,
		EntityType: audit.EntityCard,
		EntityID:   card.ID,
	}
}

// DeleteUserCards deletes every card of a user with cascade and returns how
// many were removed. It stops at the first card whose row cannot be deleted.
func (c *Coordinator) DeleteUserCards(ctx context.Context, userID string, actorID string) (int, error) {
	ids, err := c.store.ListCardIDsByUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to list cards of user %s: %w", userID, err)
	}

	deleted := 0
	for _, id := range ids {
		card, err := c.store.GetCard(ctx, id)
		if errors.Is(err, database.ErrNotFound) {
			continue
		}
		if err != nil {
			return deleted, fmt.Errorf("failed to load card %s: %w", id, err)
		}
		if err := c.DeleteCard(ctx, card, DeleteOptions{Cascade: true, ActorID: actorID}); err != nil {
			return deleted, err
		}
		deleted++
	}

	slog.Info("deleted cards of user", "user_id", userID, "count", deleted)
	return deleted, nil
}
