// Package pipeline drives a card from pending to processed or failed.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/jo-hoe/cardscan/internal/backend/audit"
	"github.com/jo-hoe/cardscan/internal/backend/database"
	"github.com/jo-hoe/cardscan/internal/backend/fieldparser"
	"github.com/jo-hoe/cardscan/internal/backend/ocr"
	"github.com/jo-hoe/cardscan/internal/backend/queue"
	"github.com/jo-hoe/cardscan/internal/common"
)

type TextExtractor interface {
	ExtractText(ctx context.Context, path string) ocr.Result
}

// CardStore is the subset of the database the orchestrator mutates.
type CardStore interface {
	GetCard(ctx context.Context, id string) (*database.Card, error)
	MarkCardProcessed(ctx context.Context, id string, ocrText string) error
	MarkCardFailed(ctx context.Context, id string, message string) error
	CreateContact(ctx context.Context, contact *database.Contact) error
}

// Orchestrator runs recognition for one card, persists the outcome and
// releases the local image. It implements queue.Handler.
type Orchestrator struct {
	extractor  TextExtractor
	store      CardStore
	sink       audit.Sink
	removeFile func(path string) error
}

func NewOrchestrator(extractor TextExtractor, store CardStore, sink audit.Sink) *Orchestrator {
	if sink == nil {
		sink = audit.Discard{}
	}
	return &Orchestrator{
		extractor:  extractor,
		store:      store,
		sink:       sink,
		removeFile: removeIfExists,
	}
}

// Process never returns an error: every outcome is written to the card.
// Cards that are gone or already processed or failed are skipped. The local
// image is removed on every exit path.
func (o *Orchestrator) Process(ctx context.Context, task queue.Task) {
	start := time.Now()
	logger := slog.With("card_id", task.CardID, "user_id", task.OwnerID)

	defer func() {
		common.Attempt("remove local image", func() error {
			return o.removeFile(task.LocalImagePath)
		}).Log(logger, "path", task.LocalImagePath)
	}()
	defer func() {
		if r := recover(); r != nil {
			logger.Error("card processing panicked", "panic", r)
			if err := o.store.MarkCardFailed(ctx, task.CardID, fmt.Sprintf("processing panicked: %v", r)); err != nil {
				logger.Error("failed to mark card as failed", "error", err)
			}
		}
	}()

	if card, err := o.store.GetCard(ctx, task.CardID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			logger.Info("card no longer exists, skipping")
			return
		}
		logger.Warn("failed to load card state", "error", err)
	} else if card.Status.IsTerminal() {
		logger.Info("card already finished, skipping", "status", card.Status)
		return
	}

	result := o.extractor.ExtractText(ctx, task.LocalImagePath)
	if !result.Success {
		o.recordRecognitionFailure(ctx, logger, task, result.Error)
		return
	}

	if err := o.recordRecognition(ctx, task, result); err != nil {
		logger.Error("failed to store recognition result", "error", err)
		if markErr := o.store.MarkCardFailed(ctx, task.CardID, err.Error()); markErr != nil {
			logger.Error("failed to mark card as failed", "error", markErr)
		}
		return
	}

	logger.Info("card processed",
		"confidence", result.Confidence,
		"duration_ms", time.Since(start).Milliseconds())
}

func (o *Orchestrator) recordRecognitionFailure(ctx context.Context, logger *slog.Logger, task queue.Task, message string) {
	logger.Warn("card recognition failed", "error", message)

	if err := o.store.MarkCardFailed(ctx, task.CardID, message); err != nil {
		logger.Error("failed to mark card as failed", "error", err)
	}

	o.sink.Append(ctx, audit.Event{
		UserID:     task.OwnerID,
		Action:     audit.ActionOCRFailed,
		EntityType: audit.EntityCard,
		EntityID:   task.CardID,
		Metadata:   map[string]any{"error": message},
	})
}

func (o *Orchestrator) recordRecognition(ctx context.Context, task queue.Task, result ocr.Result) error {
	if err := o.store.MarkCardProcessed(ctx, task.CardID, result.Text); err != nil {
		return err
	}

	fields := fieldparser.Parse(result.Text)
	contact := &database.Contact{
		UserID:      task.OwnerID,
		CardID:      task.CardID,
		FullName:    fields.FullName,
		Designation: fields.Designation,
		Company:     fields.Company,
		Email:       fields.Email,
		Phone:       fields.Phone,
		Website:     fields.Website,
		Address:     fields.Address,
	}
	if err := o.store.CreateContact(ctx, contact); err != nil {
		return err
	}

	o.sink.Append(ctx, audit.Event{
		UserID:     task.OwnerID,
		Action:     audit.ActionOCRProcessed,
		EntityType: audit.EntityCard,
		EntityID:   task.CardID,
		Metadata:   map[string]any{"contactId": contact.ID, "confidence": result.Confidence},
	})
	o.sink.Append(ctx, audit.Event{
		UserID:     task.OwnerID,
		Action:     audit.ActionContactCreated,
		EntityType: audit.EntityContact,
		EntityID:   contact.ID,
	})
	return nil
}

func removeIfExists(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
