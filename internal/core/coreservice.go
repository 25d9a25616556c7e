package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/jo-hoe/cardscan/internal/backend/audit"
	"github.com/jo-hoe/cardscan/internal/backend/blobstore"
	"github.com/jo-hoe/cardscan/internal/backend/database"
	"github.com/jo-hoe/cardscan/internal/backend/imageprocessing"
	"github.com/jo-hoe/cardscan/internal/backend/lifecycle"
	"github.com/jo-hoe/cardscan/internal/backend/ocr"
	"github.com/jo-hoe/cardscan/internal/backend/ocr/remote"
	"github.com/jo-hoe/cardscan/internal/backend/ocr/tesseract"
	"github.com/jo-hoe/cardscan/internal/backend/pipeline"
	"github.com/jo-hoe/cardscan/internal/backend/queue"
	"github.com/jo-hoe/cardscan/internal/common"
)

const queueFullMessage = "processing queue is full, please upload the card again later"

// ErrForbidden is returned when a user addresses a card owned by someone else.
var ErrForbidden = errors.New("not authorized to access this card")

type UploadRequest struct {
	UserID   string
	FileName string
	Data     []byte
}

// CardDetail is a card together with the contact derived from it, if any.
type CardDetail struct {
	Card    *database.Card    `json:"card"`
	Contact *database.Contact `json:"contact"`
}

type CoreService struct {
	config          *ServiceConfig
	databaseService database.DatabaseService
	blobStore       blobstore.Store
	taskQueue       queue.Queue
	scheduler       *queue.Scheduler
	orchestrator    *pipeline.Orchestrator
	coordinator     *lifecycle.Coordinator
	sink            audit.Sink
	workers         *queue.WorkerPool
	now             func() time.Time
}

// Dependencies lets callers replace infrastructure built from the configuration.
// Nil fields are built from the configuration.
type Dependencies struct {
	Database  database.DatabaseService
	BlobStore blobstore.Store
	Queue     queue.Queue
	Engine    ocr.Engine
}

func NewCoreService(config *ServiceConfig) (*CoreService, error) {
	return NewCoreServiceWithDependencies(config, Dependencies{})
}

func NewCoreServiceWithDependencies(config *ServiceConfig, deps Dependencies) (*CoreService, error) {
	var err error

	if deps.Database == nil {
		deps.Database, err = getDatabaseService(config)
		if err != nil {
			return nil, err
		}
	}
	closeOnError := func() {
		if deps.Queue != nil {
			_ = deps.Queue.Close()
		}
		_ = deps.Database.Close()
	}

	if deps.BlobStore == nil {
		deps.BlobStore, err = blobstore.NewStore(context.Background(), config.BlobStore)
		if err != nil {
			closeOnError()
			return nil, fmt.Errorf("failed to initialize blob store: %w", err)
		}
	}

	if deps.Queue == nil {
		deps.Queue, err = queue.NewQueue(config.Queue)
		if err != nil {
			closeOnError()
			return nil, fmt.Errorf("failed to initialize task queue: %w", err)
		}
	}

	if deps.Engine == nil {
		deps.Engine, err = newEngine(config.OCR)
		if err != nil {
			closeOnError()
			return nil, err
		}
	}

	adapterOptions := []ocr.AdapterOption{
		ocr.WithTimeout(config.OCR.Timeout),
		ocr.WithLanguages(config.OCR.Languages...),
	}
	preprocessCommands := 0
	if len(config.OCR.Preprocess) > 0 {
		invoker, err := imageprocessing.NewCommandInvokerFromConfig(config.OCR.Preprocess)
		if err != nil {
			closeOnError()
			return nil, fmt.Errorf("failed to build preprocessing pipeline: %w", err)
		}
		preprocessCommands = invoker.Len()
		adapterOptions = append(adapterOptions, ocr.WithPreprocessor(invoker))
	}

	if err := os.MkdirAll(config.Upload.TempDir, 0o755); err != nil {
		closeOnError()
		return nil, fmt.Errorf("failed to create upload directory %s: %w", config.Upload.TempDir, err)
	}

	sink := audit.NewDatabaseSink(deps.Database)
	adapter := ocr.NewAdapter(deps.Engine, adapterOptions...)
	orchestrator := pipeline.NewOrchestrator(adapter, deps.Database, sink)

	slog.Info("core service initialized",
		"ocr_engine", adapter.EngineName(),
		"preprocess_commands", preprocessCommands,
		"queue_type", config.Queue.Type)

	return &CoreService{
		config:          config,
		databaseService: deps.Database,
		blobStore:       deps.BlobStore,
		taskQueue:       deps.Queue,
		scheduler:       queue.NewScheduler(deps.Queue),
		orchestrator:    orchestrator,
		coordinator:     lifecycle.NewCoordinator(deps.BlobStore, deps.Database, sink),
		sink:            sink,
		workers:         queue.NewWorkerPool(deps.Queue, orchestrator, config.Queue.Workers),
		now:             time.Now,
	}, nil
}

func getDatabaseService(config *ServiceConfig) (database.DatabaseService, error) {
	databaseService, err := database.NewDatabase(config.Database.Type, config.Database.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	slog.Info("database initialized successfully", "type", config.Database.Type)
	return databaseService, nil
}

func newEngine(config OCR) (ocr.Engine, error) {
	switch config.Engine {
	case tesseract.EngineName:
		if !tesseract.Available {
			return nil, fmt.Errorf("OCR engine %s: %w (build with cgo and without the notesseract tag)", config.Engine, tesseract.ErrUnavailable)
		}
		return tesseract.New(config.PageSegMode), nil
	case remote.EngineName:
		return remote.New(remote.Config{
			URL:      config.Remote.URL,
			APIToken: config.Remote.APIToken,
			Timeout:  config.Timeout,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported OCR engine: %s", config.Engine)
	}
}

// StartWorkers begins consuming the task queue in the background.
func (service *CoreService) StartWorkers(ctx context.Context) {
	service.workers.Start(ctx)
}

// UploadCard validates the image, stores it durably and schedules recognition.
// It returns as soon as the card is pending; processing happens in the background.
func (service *CoreService) UploadCard(ctx context.Context, req UploadRequest) (*database.Card, error) {
	if err := service.validateUpload(req); err != nil {
		return nil, err
	}
	logger := slog.With("user_id", req.UserID, "file_name", req.FileName)

	localPath, err := service.writeTempImage(req)
	if err != nil {
		return nil, err
	}
	removeLocal := func() {
		common.Attempt("remove local image", func() error {
			return os.Remove(localPath)
		}).Log(logger, "path", localPath)
	}

	key := blobstore.CardKey(req.UserID, req.FileName, service.now())
	contentType := imageprocessing.DetectContentType(req.Data)
	if err := service.blobStore.Put(ctx, key, bytes.NewReader(req.Data), int64(len(req.Data)), contentType); err != nil {
		removeLocal()
		return nil, err
	}

	card := &database.Card{
		UserID:    req.UserID,
		ImageKey:  key,
		ImagePath: localPath,
		ImageURL:  service.blobStore.URL(key),
		Status:    database.StatusPending,
	}
	if err := service.databaseService.CreateCard(ctx, card); err != nil {
		removeLocal()
		common.AttemptContext(ctx, "remove blob", func(ctx context.Context) error {
			return service.blobStore.Remove(ctx, key)
		}).Log(logger, "key", key)
		return nil, err
	}
	logger = logger.With("card_id", card.ID)

	service.sink.Append(ctx, audit.Event{
		UserID:     req.UserID,
		Action:     audit.ActionCardUploaded,
		EntityType: audit.EntityCard,
		EntityID:   card.ID,
		Metadata:   map[string]any{"fileName": req.FileName},
	})

	if err := service.scheduler.Schedule(ctx, card.ID, localPath, req.UserID); err != nil {
		logger.Error("failed to schedule card processing", "error", err)
		message := fmt.Sprintf("failed to schedule processing: %v", err)
		if errors.Is(err, queue.ErrQueueFull) {
			message = queueFullMessage
		}
		if markErr := service.databaseService.MarkCardFailed(ctx, card.ID, message); markErr != nil {
			logger.Error("failed to mark card as failed", "error", markErr)
		} else {
			card.Status = database.StatusFailed
			card.ErrorMessage = message
		}
		removeLocal()
		return card, fmt.Errorf("failed to schedule card %s: %w", card.ID, err)
	}

	logger.Info("card uploaded", "key", key, "size_bytes", len(req.Data))
	return card, nil
}

func (service *CoreService) validateUpload(req UploadRequest) error {
	if strings.TrimSpace(req.UserID) == "" {
		return &common.ValidationError{Reason: "user id is required"}
	}
	if len(req.Data) == 0 {
		return &common.ValidationError{Reason: "please upload an image file"}
	}
	if int64(len(req.Data)) > service.config.Upload.MaxBytes {
		return &common.ValidationError{Reason: fmt.Sprintf("image exceeds the maximum size of %d bytes", service.config.Upload.MaxBytes)}
	}
	contentType := imageprocessing.DetectContentType(req.Data)
	if !slices.Contains(service.config.Upload.AllowedTypes, contentType) {
		return &common.ValidationError{Reason: fmt.Sprintf("unsupported image type %s, allowed: %s",
			contentType, strings.Join(service.config.Upload.AllowedTypes, ", "))}
	}
	return nil
}

func (service *CoreService) writeTempImage(req UploadRequest) (string, error) {
	pattern := "card-*" + strings.ToLower(filepath.Ext(filepath.Base(req.FileName)))
	file, err := os.CreateTemp(service.config.Upload.TempDir, pattern)
	if err != nil {
		return "", fmt.Errorf("failed to create temp image: %w", err)
	}
	if _, err := file.Write(req.Data); err != nil {
		file.Close()
		os.Remove(file.Name())
		return "", fmt.Errorf("failed to write temp image: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(file.Name())
		return "", fmt.Errorf("failed to write temp image: %w", err)
	}
	return file.Name(), nil
}

// getOwnedCard loads the card and checks that userID owns it.
func (service *CoreService) getOwnedCard(ctx context.Context, userID, id string) (*database.Card, error) {
	card, err := service.databaseService.GetCard(ctx, id)
	if err != nil {
		return nil, err
	}
	if card.UserID != userID {
		return nil, ErrForbidden
	}
	return card, nil
}

func (service *CoreService) GetCard(ctx context.Context, userID, id string) (*CardDetail, error) {
	card, err := service.getOwnedCard(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	contact, err := service.databaseService.GetContactByCardID(ctx, card.ID)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		return nil, err
	}
	return &CardDetail{Card: card, Contact: contact}, nil
}

// GetCardImageURL returns where the card image can be fetched from.
func (service *CoreService) GetCardImageURL(ctx context.Context, userID, id string) (string, error) {
	card, err := service.getOwnedCard(ctx, userID, id)
	if err != nil {
		return "", err
	}
	if card.ImageURL == "" {
		return "", database.ErrNotFound
	}
	return card.ImageURL, nil
}

func (service *CoreService) ListCards(ctx context.Context, userID string, filter database.CardFilter) ([]*database.Card, int, error) {
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, 0, &common.ValidationError{Reason: fmt.Sprintf("unknown status %q", filter.Status)}
	}
	return service.databaseService.ListCardsByUser(ctx, userID, filter)
}

// DeleteCard deletes a card owned by userID together with its contact.
func (service *CoreService) DeleteCard(ctx context.Context, userID, id string) error {
	card, err := service.getOwnedCard(ctx, userID, id)
	if err != nil {
		return err
	}
	return service.coordinator.DeleteCard(ctx, card, lifecycle.DeleteOptions{Cascade: true, ActorID: userID})
}

// AdminDeleteCard deletes any card on behalf of an administrator.
func (service *CoreService) AdminDeleteCard(ctx context.Context, adminID, id string) error {
	card, err := service.databaseService.GetCard(ctx, id)
	if err != nil {
		return err
	}
	return service.coordinator.DeleteCard(ctx, card, lifecycle.DeleteOptions{Cascade: true, ActorID: adminID})
}

// DeleteUserCards removes every card of userID, used when an account is removed.
func (service *CoreService) DeleteUserCards(ctx context.Context, adminID, userID string) (int, error) {
	return service.coordinator.DeleteUserCards(ctx, userID, adminID)
}

func (service *CoreService) ListActivities(ctx context.Context, filter database.ActivityFilter) ([]*database.ActivityLog, error) {
	return service.databaseService.ListActivities(ctx, filter)
}

// Close stops the workers after their in-flight cards and releases the queue and database.
func (service *CoreService) Close() error {
	service.workers.Stop()

	var errs []error
	if err := service.taskQueue.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close task queue: %w", err))
	}
	if err := service.databaseService.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close database: %w", err))
	}
	return errors.Join(errs...)
}
