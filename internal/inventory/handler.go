package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/odyssey-erp/stockflow/internal/event"
	"github.com/odyssey-erp/stockflow/internal/ledger"
	"github.com/odyssey-erp/stockflow/internal/platform/httpx"
	"github.com/odyssey-erp/stockflow/internal/stock"
)

// ReadPort is the query surface behind the read API.
type ReadPort interface {
	GetStock(ctx context.Context, key event.Key) (stock.Record, error)
	ListStock(ctx context.Context, filter stock.Filter) ([]stock.Record, error)
	GetEntry(ctx context.Context, id uuid.UUID) (ledger.Entry, error)
	RecentEntries(ctx context.Context, filter ledger.Filter) ([]ledger.Entry, error)
}

// Handler serves stock and ledger reads.
type Handler struct {
	logger *slog.Logger
	reads  ReadPort
	cache  *stock.Cache
}

// NewHandler constructs the read API handler. cache may be nil.
func NewHandler(logger *slog.Logger, reads ReadPort, cache *stock.Cache) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, reads: reads, cache: cache}
}

// MountRoutes registers the read routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/stock", h.handleListStock)
	r.Get("/stock/{item}/{store}", h.handleGetStock)
	r.Get("/ledger", h.handleListLedger)
	r.Get("/ledger/{transactionID}", h.handleGetEntry)
}

type stockList struct {
	Items []stock.Record `json:"items"`
}

type ledgerList struct {
	Items []ledger.Entry `json:"items"`
}

func (h *Handler) handleGetStock(w http.ResponseWriter, r *http.Request) {
	item, err := parseID(chi.URLParam(r, "item"))
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: item: %v", httpx.ErrValidation, err))
		return
	}
	store, err := parseID(chi.URLParam(r, "store"))
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: store: %v", httpx.ErrValidation, err))
		return
	}
	key := event.Key{ItemNumber: item, StoreNumber: store}
	rec, err := h.cache.Get(r.Context(), key, func(ctx context.Context) (stock.Record, error) {
		return h.reads.GetStock(ctx, key)
	})
	if err != nil {
		h.fail(w, "get stock", err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *Handler) handleListStock(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter stock.Filter
	var err error
	if filter.StoreNumber, err = optionalInt(q.Get("store")); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: store: %v", httpx.ErrValidation, err))
		return
	}
	if filter.Limit, err = optionalLimit(q.Get("limit")); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: limit: %v", httpx.ErrValidation, err))
		return
	}
	records, err := h.reads.ListStock(r.Context(), filter)
	if err != nil {
		h.fail(w, "list stock", err)
		return
	}
	httpx.JSON(w, http.StatusOK, stockList{Items: records})
}

func (h *Handler) handleGetEntry(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "transactionID"))
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: transaction_id: %v", httpx.ErrValidation, err))
		return
	}
	entry, err := h.reads.GetEntry(r.Context(), id)
	if err != nil {
		h.fail(w, "get ledger entry", err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

func (h *Handler) handleListLedger(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter ledger.Filter
	var err error
	if filter.ItemNumber, err = optionalInt(q.Get("item")); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: item: %v", httpx.ErrValidation, err))
		return
	}
	if filter.StoreNumber, err = optionalInt(q.Get("store")); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: store: %v", httpx.ErrValidation, err))
		return
	}
	if filter.Limit, err = optionalLimit(q.Get("limit")); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: limit: %v", httpx.ErrValidation, err))
		return
	}
	entries, err := h.reads.RecentEntries(r.Context(), filter)
	if err != nil {
		h.fail(w, "list ledger", err)
		return
	}
	httpx.JSON(w, http.StatusOK, ledgerList{Items: entries})
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, stock.ErrNotFound), errors.Is(err, ledger.ErrNotFound):
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrNotFound, err))
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, stock.ErrWriteFailure):
		h.logger.Warn(op+" failed", slog.Any("error", err))
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrUnavailable, err))
	default:
		h.logger.Error(op+" failed", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func parseID(raw string) (int64, error) {
	return strconv.ParseInt(raw, 10, 64)
}

// optionalInt parses a filter parameter; an absent one yields nil.
func optionalInt(raw string) (*int64, error) {
	if raw == "" {
		return nil, nil
	}
	n, err := parseID(raw)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func optionalLimit(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, errors.New("must not be negative")
	}
	return n, nil
}
