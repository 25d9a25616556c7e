package backend

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jo-hoe/cardscan/internal/backend/database"
	"github.com/jo-hoe/cardscan/internal/backend/queue"
	"github.com/jo-hoe/cardscan/internal/common"
	"github.com/jo-hoe/cardscan/internal/core"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"
)

const (
	HealthPath = "/health"

	UserIDHeader   = "X-User-ID"
	UserRoleHeader = "X-User-Role"
	AdminRole      = "admin"

	// multipart framing on top of the image itself
	multipartOverheadBytes = 64 * 1024
	rateLimiterExpiry      = 10 * time.Minute
)

type APIService struct {
	coreService *core.CoreService
	config      *core.ServiceConfig
}

// ListCardsRequest are the query parameters of GET /api/cards.
type ListCardsRequest struct {
	Status string `query:"status" validate:"omitempty,oneof=pending processed failed"`
	Page   int    `query:"page" validate:"omitempty,min=1"`
	Limit  int    `query:"limit" validate:"omitempty,min=1,max=100"`
}

// ListActivitiesRequest are the query parameters of GET /api/admin/logs.
type ListActivitiesRequest struct {
	UserID   string `query:"userId"`
	EntityID string `query:"entityId"`
	Action   string `query:"action"`
	Limit    int    `query:"limit" validate:"omitempty,min=1,max=1000"`
}

type ListCardsResponse struct {
	Cards []*database.Card `json:"cards"`
	Total int              `json:"total"`
	Page  int              `json:"page"`
	Limit int              `json:"limit"`
}

type UploadResponse struct {
	Message string         `json:"message"`
	Card    *database.Card `json:"card"`
}

type DeleteUserCardsResponse struct {
	Deleted int `json:"deleted"`
}

func NewAPIService(config *core.ServiceConfig, coreService *core.CoreService) *APIService {
	return &APIService{
		coreService: coreService,
		config:      config,
	}
}

func (service *APIService) SetRoutes(e *echo.Echo) {
	e.GET(HealthPath, service.healthHandler)

	api := e.Group("/api", service.requireUser)

	uploadMiddleware := []echo.MiddlewareFunc{
		middleware.BodyLimit(fmt.Sprintf("%dB", service.config.Upload.MaxBytes+multipartOverheadBytes)),
	}
	if limiter := service.uploadRateLimiter(); limiter != nil {
		uploadMiddleware = append(uploadMiddleware, limiter)
	}
	api.POST("/cards", service.uploadCardHandler, uploadMiddleware...)
	api.GET("/cards", service.listCardsHandler)
	api.GET("/cards/:id", service.getCardHandler)
	api.GET("/cards/:id/image", service.getCardImageHandler)
	api.DELETE("/cards/:id", service.deleteCardHandler)

	admin := api.Group("/admin", service.requireAdmin)
	admin.DELETE("/cards/:id", service.adminDeleteCardHandler)
	admin.DELETE("/users/:id/cards", service.adminDeleteUserCardsHandler)
	admin.GET("/logs", service.listActivitiesHandler)
}

// uploadRateLimiter limits uploads per user. A non-positive rate disables it.
func (service *APIService) uploadRateLimiter() echo.MiddlewareFunc {
	if service.config.Upload.RateLimit <= 0 {
		return nil
	}
	burst := service.config.Upload.Burst
	if burst <= 0 {
		burst = 1
	}
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(service.config.Upload.RateLimit),
			Burst:     burst,
			ExpiresIn: rateLimiterExpiry,
		}),
		IdentifierExtractor: func(ctx echo.Context) (string, error) {
			return userID(ctx), nil
		},
		DenyHandler: func(ctx echo.Context, identifier string, err error) error {
			slog.Warn("upload rate limit exceeded", "user_id", identifier)
			return echo.NewHTTPError(http.StatusTooManyRequests, "too many uploads, please try again later")
		},
	})
}

func userID(ctx echo.Context) string {
	return strings.TrimSpace(ctx.Request().Header.Get(UserIDHeader))
}

func (service *APIService) requireUser(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		if userID(ctx) == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "missing "+UserIDHeader+" header")
		}
		return next(ctx)
	}
}

func (service *APIService) requireAdmin(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		if !strings.EqualFold(ctx.Request().Header.Get(UserRoleHeader), AdminRole) {
			return echo.NewHTTPError(http.StatusForbidden, "admin access required")
		}
		return next(ctx)
	}
}

func (service *APIService) healthHandler(ctx echo.Context) error {
	return ctx.String(http.StatusOK, "API Service is running")
}

func (service *APIService) uploadCardHandler(ctx echo.Context) error {
	file, err := ctx.FormFile("image")
	if err != nil {
		slog.Warn("uploadCardHandler: missing image", "status", http.StatusBadRequest, "error", err)
		return echo.NewHTTPError(http.StatusBadRequest, "please upload an image file")
	}

	src, err := file.Open()
	if err != nil {
		slog.Error("uploadCardHandler: failed to open uploaded file", "error", err, "filename", file.Filename)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to open uploaded file")
	}
	defer func() {
		if cerr := src.Close(); cerr != nil {
			slog.Error("uploadCardHandler: failed to close uploaded file reader", "error", cerr, "filename", file.Filename)
		}
	}()

	data, err := io.ReadAll(src)
	if err != nil {
		slog.Error("uploadCardHandler: failed to read uploaded file", "error", err, "filename", file.Filename)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to read uploaded file")
	}

	card, err := service.coreService.UploadCard(ctx.Request().Context(), core.UploadRequest{
		UserID:   userID(ctx),
		FileName: file.Filename,
		Data:     data,
	})
	if err != nil {
		return toHTTPError(err)
	}

	return ctx.JSON(http.StatusAccepted, UploadResponse{
		Message: "card uploaded, processing started",
		Card:    card,
	})
}

func (service *APIService) listCardsHandler(ctx echo.Context) error {
	var req ListCardsRequest
	if err := ctx.Bind(&req); err != nil {
		return err
	}
	if err := ctx.Validate(&req); err != nil {
		return err
	}

	filter := database.CardFilter{Status: database.CardStatus(req.Status), Page: req.Page, Limit: req.Limit}
	cards, total, err := service.coreService.ListCards(ctx.Request().Context(), userID(ctx), filter)
	if err != nil {
		return toHTTPError(err)
	}
	if cards == nil {
		cards = []*database.Card{}
	}

	page, limit := req.Page, req.Limit
	if page == 0 {
		page = 1
	}
	if limit == 0 {
		limit = database.DefaultPageLimit
	}
	return ctx.JSON(http.StatusOK, ListCardsResponse{Cards: cards, Total: total, Page: page, Limit: limit})
}

func (service *APIService) getCardHandler(ctx echo.Context) error {
	detail, err := service.coreService.GetCard(ctx.Request().Context(), userID(ctx), ctx.Param("id"))
	if err != nil {
		return toHTTPError(err)
	}
	return ctx.JSON(http.StatusOK, detail)
}

func (service *APIService) getCardImageHandler(ctx echo.Context) error {
	url, err := service.coreService.GetCardImageURL(ctx.Request().Context(), userID(ctx), ctx.Param("id"))
	if err != nil {
		return toHTTPError(err)
	}
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return echo.NewHTTPError(http.StatusNotFound, "image is not publicly reachable")
	}
	return ctx.Redirect(http.StatusFound, url)
}

func (service *APIService) deleteCardHandler(ctx echo.Context) error {
	if err := service.coreService.DeleteCard(ctx.Request().Context(), userID(ctx), ctx.Param("id")); err != nil {
		return toHTTPError(err)
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (service *APIService) adminDeleteCardHandler(ctx echo.Context) error {
	if err := service.coreService.AdminDeleteCard(ctx.Request().Context(), userID(ctx), ctx.Param("id")); err != nil {
		return toHTTPError(err)
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (service *APIService) adminDeleteUserCardsHandler(ctx echo.Context) error {
	deleted, err := service.coreService.DeleteUserCards(ctx.Request().Context(), userID(ctx), ctx.Param("id"))
	if err != nil {
		return toHTTPError(err)
	}
	return ctx.JSON(http.StatusOK, DeleteUserCardsResponse{Deleted: deleted})
}

func (service *APIService) listActivitiesHandler(ctx echo.Context) error {
	var req ListActivitiesRequest
	if err := ctx.Bind(&req); err != nil {
		return err
	}
	if err := ctx.Validate(&req); err != nil {
		return err
	}

	entries, err := service.coreService.ListActivities(ctx.Request().Context(), database.ActivityFilter{
		UserID:   req.UserID,
		EntityID: req.EntityID,
		Action:   req.Action,
		Limit:    req.Limit,
	})
	if err != nil {
		return toHTTPError(err)
	}
	if entries == nil {
		entries = []*database.ActivityLog{}
	}
	return ctx.JSON(http.StatusOK, entries)
}

// toHTTPError maps service errors onto status codes. Unknown errors become 500
// without exposing their message.
func toHTTPError(err error) error {
	var validationErr *common.ValidationError
	var storageErr *common.StorageError

	switch {
	case errors.As(err, &validationErr):
		return echo.NewHTTPError(http.StatusBadRequest, validationErr.Reason)
	case errors.Is(err, database.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "card not found")
	case errors.Is(err, core.ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, core.ErrForbidden.Error())
	case errors.Is(err, queue.ErrQueueFull):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "processing queue is full, please try again later")
	case errors.As(err, &storageErr):
		slog.Error("blob storage failure", "error", err)
		return echo.NewHTTPError(http.StatusBadGateway, "failed to store card image")
	default:
		slog.Error("unexpected service error", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
	}
}
