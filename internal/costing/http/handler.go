package costinghttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-costing/internal/costing"
	"github.com/odyssey-erp/odyssey-costing/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-costing/internal/shared"
	"github.com/odyssey-erp/odyssey-costing/jobs"
)

// Service is the costing contract used by the handler.
type Service interface {
	Recalculate(ctx context.Context, req costing.Request) (costing.CostSnapshot, error)
	RunDay(ctx context.Context, req costing.BatchRequest) (costing.BatchResult, error)
	RecostDay(ctx context.Context, day time.Time, failFast bool) (costing.BatchResult, error)
	Snapshot(ctx context.Context, productID int64, day time.Time) (costing.CostSnapshot, error)
	Snapshots(ctx context.Context, day time.Time) ([]costing.CostSnapshot, error)
	PreviewBOM(ctx context.Context, productID int64, day time.Time, markupPercent decimal.Decimal) (costing.ProductCost, error)
}

// Enqueuer schedules background day runs.
type Enqueuer interface {
	EnqueueDailyBatch(ctx context.Context, payload jobs.DailyBatchPayload) (*asynq.TaskInfo, error)
}

// KeyStore guards enqueue requests carrying an Idempotency-Key header.
type KeyStore interface {
	Claim(ctx context.Context, scope, key string) error
	Release(ctx context.Context, scope, key string) error
}

const (
	idempotencyHeader = "Idempotency-Key"
	enqueueScope      = "costing.batch.enqueue"
)

// Handler exposes the costing engine over JSON.
type Handler struct {
	logger    *slog.Logger
	service   Service
	enqueuer  Enqueuer
	keys      KeyStore
	validator *validator.Validate
	location  *time.Location
}

// NewHandler builds the handler. enqueuer may be nil, in which case the
// enqueue endpoint answers 503.
func NewHandler(logger *slog.Logger, service Service, enqueuer Enqueuer, loc *time.Location) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Handler{
		logger:    logger,
		service:   service,
		enqueuer:  enqueuer,
		validator: validator.New(),
		location:  loc,
	}
}

// WithIdempotency makes the enqueue endpoint reject replayed keys.
func (h *Handler) WithIdempotency(keys KeyStore) *Handler {
	h.keys = keys
	return h
}

type snapshotRequest struct {
	ProductID          int64                     `json:"product_id" validate:"required,gt=0"`
	Date               string                    `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Quantity           decimal.NullDecimal       `json:"quantity"`
	PrimaryInputVolume decimal.NullDecimal       `json:"primary_input_volume"`
	Revenue            decimal.Decimal           `json:"revenue"`
	Volumes            map[int64]decimal.Decimal `json:"volumes"`
}

type batchRequest struct {
	Date       string                            `json:"date" validate:"omitempty,datetime=2006-01-02"`
	FailFast   bool                              `json:"fail_fast"`
	Production map[int64]costing.ProductionInput `json:"production"`
}

type enqueueRequest struct {
	Date       string          `json:"date" validate:"omitempty,datetime=2006-01-02"`
	FailFast   bool            `json:"fail_fast"`
	Production json.RawMessage `json:"production"`
}

type previewRequest struct {
	ProductID     int64           `json:"product_id" validate:"required,gt=0"`
	Date          string          `json:"date" validate:"omitempty,datetime=2006-01-02"`
	MarkupPercent decimal.Decimal `json:"markup_percent"`
}

type enqueueResponse struct {
	TaskID string `json:"task_id"`
	Queue  string `json:"queue"`
}

func (h *Handler) handleRecalculate(w http.ResponseWriter, r *http.Request) {
	var req snapshotRequest
	if !h.decode(w, r, &req) {
		return
	}
	snap, err := h.service.Recalculate(r.Context(), costing.Request{
		ProductID: req.ProductID,
		Day:       h.day(req.Date),
		Input: costing.ProductionInput{
			Quantity:           req.Quantity,
			PrimaryInputVolume: req.PrimaryInputVolume,
			Revenue:            req.Revenue,
		},
		Volumes: volumes(req.Volumes),
	})
	if err != nil {
		h.respondError(w, r, "recalculate snapshot", err)
		return
	}
	httpx.JSON(w, http.StatusOK, snap)
}

func (h *Handler) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	productID, err := strconv.ParseInt(chi.URLParam(r, "productID"), 10, 64)
	if err != nil || productID <= 0 {
		httpx.RespondError(w, fmt.Errorf("%w: product id must be a positive integer", httpx.ErrValidation))
		return
	}
	day, err := costing.ParseDay(chi.URLParam(r, "date"))
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %w", httpx.ErrValidation, err))
		return
	}
	snap, err := h.service.Snapshot(r.Context(), productID, day)
	if err != nil {
		h.respondError(w, r, "load snapshot", err)
		return
	}
	httpx.JSON(w, http.StatusOK, snap)
}

func (h *Handler) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	day := costing.Today(h.location)
	if raw := strings.TrimSpace(r.URL.Query().Get("date")); raw != "" {
		parsed, err := costing.ParseDay(raw)
		if err != nil {
			httpx.RespondError(w, fmt.Errorf("%w: %w", httpx.ErrValidation, err))
			return
		}
		day = parsed
	}
	snaps, err := h.service.Snapshots(r.Context(), day)
	if err != nil {
		h.respondError(w, r, "list snapshots", err)
		return
	}
	if snaps == nil {
		snaps = []costing.CostSnapshot{}
	}
	httpx.JSON(w, http.StatusOK, snaps)
}

func (h *Handler) handleRunBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if !h.decode(w, r, &req) {
		return
	}
	day := h.day(req.Date)
	var (
		result costing.BatchResult
		err    error
	)
	if len(req.Production) == 0 {
		result, err = h.service.RecostDay(r.Context(), day, req.FailFast)
	} else {
		result, err = h.service.RunDay(r.Context(), costing.BatchRequest{
			Day:        day,
			Production: req.Production,
			FailFast:   req.FailFast,
		})
	}
	if err != nil {
		h.respondError(w, r, "run costing batch", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) handleEnqueueBatch(w http.ResponseWriter, r *http.Request) {
	if h.enqueuer == nil {
		httpx.RespondError(w, fmt.Errorf("%w: job queue not configured", httpx.ErrUnavailable))
		return
	}
	var req enqueueRequest
	if !h.decode(w, r, &req) {
		return
	}
	key := strings.TrimSpace(r.Header.Get(idempotencyHeader))
	if key != "" && h.keys != nil {
		if err := h.keys.Claim(r.Context(), enqueueScope, key); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				httpx.RespondError(w, fmt.Errorf("%w: %w", httpx.ErrConflict, err))
				return
			}
			h.respondError(w, r, "claim idempotency key", err)
			return
		}
	}
	info, err := h.enqueuer.EnqueueDailyBatch(r.Context(), jobs.DailyBatchPayload{
		Date:       req.Date,
		FailFast:   req.FailFast,
		Production: req.Production,
	})
	if err != nil {
		if key != "" && h.keys != nil {
			if relErr := h.keys.Release(r.Context(), enqueueScope, key); relErr != nil {
				h.logger.Warn("release idempotency key", slog.Any("error", relErr))
			}
		}
		h.logger.Error("enqueue costing batch", slog.Any("error", err))
		httpx.RespondError(w, fmt.Errorf("%w: enqueue failed", httpx.ErrUnavailable))
		return
	}
	httpx.JSON(w, http.StatusAccepted, enqueueResponse{TaskID: info.ID, Queue: info.Queue})
}

func (h *Handler) handlePreviewBOM(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if !h.decode(w, r, &req) {
		return
	}
	cost, err := h.service.PreviewBOM(r.Context(), req.ProductID, h.day(req.Date), req.MarkupPercent)
	if err != nil {
		h.respondError(w, r, "preview bom", err)
		return
	}
	httpx.JSON(w, http.StatusOK, cost)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.RespondError(w, err)
		return false
	}
	if err := h.validator.Struct(target); err != nil {
		var fields []string
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fieldErr := range verrs {
				fields = append(fields, fmt.Sprintf("%s failed %s", fieldErr.Field(), fieldErr.Tag()))
			}
		}
		httpx.RespondError(w, fmt.Errorf("%w: %s", httpx.ErrValidation, strings.Join(fields, "; ")))
		return false
	}
	return true
}

// day parses an already validated date, defaulting to today.
func (h *Handler) day(raw string) time.Time {
	if raw == "" {
		return costing.Today(h.location)
	}
	day, err := costing.ParseDay(raw)
	if err != nil {
		return costing.Today(h.location)
	}
	return day
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, op string, err error) {
	mapped := classify(err)
	if !errors.Is(mapped, httpx.ErrNotFound) && !errors.Is(mapped, httpx.ErrValidation) &&
		!errors.Is(mapped, httpx.ErrUnprocessable) && !errors.Is(mapped, httpx.ErrConflict) {
		h.logger.ErrorContext(r.Context(), op, slog.Any("error", err))
	}
	httpx.RespondError(w, mapped)
}

// classify attaches the transport sentinel matching a domain error.
func classify(err error) error {
	switch {
	case errors.Is(err, costing.ErrProductNotFound),
		errors.Is(err, costing.ErrExpenseNotFound),
		errors.Is(err, costing.ErrSnapshotNotFound):
		return fmt.Errorf("%w: %w", httpx.ErrNotFound, err)
	case errors.Is(err, costing.ErrInvalidInput),
		errors.Is(err, costing.ErrInvalidEnum):
		return fmt.Errorf("%w: %w", httpx.ErrValidation, err)
	case errors.Is(err, costing.ErrBOMCycle),
		errors.Is(err, costing.ErrBOMNotFound),
		errors.Is(err, costing.ErrAmbiguousBOM),
		errors.Is(err, costing.ErrPriceResolution),
		errors.Is(err, costing.ErrAmbiguousPrimaryInput),
		errors.Is(err, costing.ErrVolumeMapRequired),
		errors.Is(err, costing.ErrInvalidBOMLine):
		return fmt.Errorf("%w: %w", httpx.ErrUnprocessable, err)
	case errors.Is(err, costing.ErrDayNotClosed):
		return fmt.Errorf("%w: %w", httpx.ErrConflict, err)
	default:
		return err
	}
}

func volumes(in map[int64]decimal.Decimal) costing.Volumes {
	if in == nil {
		return nil
	}
	return costing.Volumes(in)
}
