package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/arbbot/internal/domain"
)

// LatestReader reads the newest opportunities of one symbol from the
// key-value table.
type LatestReader interface {
	Latest(ctx context.Context, partition string, limit int) ([]domain.Opportunity, error)
}

// RangeReader reads opportunities detected within a time range.
type RangeReader interface {
	ListByRange(ctx context.Context, from, to time.Time, limit int) ([]domain.Opportunity, error)
}

// RecentReader reads the newest opportunities across all symbols.
type RecentReader interface {
	Recent(ctx context.Context, limit int) ([]domain.Opportunity, error)
}

// OpportunityHandler queries persisted opportunities. Any reader may be nil.
type OpportunityHandler struct {
	latest  LatestReader
	history RangeReader
	recent  RecentReader
	logger  *slog.Logger
}

// NewOpportunityHandler creates an OpportunityHandler.
func NewOpportunityHandler(latest LatestReader, history RangeReader, recent RecentReader, logger *slog.Logger) *OpportunityHandler {
	return &OpportunityHandler{
		latest:  latest,
		history: history,
		recent:  recent,
		logger:  logger.With(slog.String("handler", "opportunities")),
	}
}

// ListOpportunities picks a backend from the query:
//   - ?symbol=BTC/USDT reads the key-value table partition
//   - ?from=&to= reads the relational history
//   - otherwise the newest rows of any configured store
//
// GET /api/opportunities
func (h *OpportunityHandler) ListOpportunities(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := parseLimit(r)
	ctx := r.Context()

	var (
		opps    []domain.Opportunity
		err     error
		backend string
	)
	switch {
	case q.Get("symbol") != "" && h.latest != nil:
		backend = "redis"
		opps, err = h.latest.Latest(ctx, q.Get("symbol"), limit)

	case (q.Get("from") != "" || q.Get("to") != "") && h.history != nil:
		now := time.Now().UTC()
		from, perr := parseTime(q.Get("from"), now.Add(-24*time.Hour))
		if perr != nil {
			writeError(w, http.StatusBadRequest, "invalid from")
			return
		}
		to, perr := parseTime(q.Get("to"), now)
		if perr != nil {
			writeError(w, http.StatusBadRequest, "invalid to")
			return
		}
		if to.Before(from) {
			writeError(w, http.StatusBadRequest, "to is before from")
			return
		}
		backend = "postgres"
		opps, err = h.history.ListByRange(ctx, from, to, limit)

	case h.recent != nil:
		backend = "sqlite"
		opps, err = h.recent.Recent(ctx, limit)

	case h.history != nil:
		backend = "postgres"
		now := time.Now().UTC()
		opps, err = h.history.ListByRange(ctx, now.Add(-24*time.Hour), now, limit)

	default:
		writeError(w, http.StatusServiceUnavailable, "no queryable opportunity store configured")
		return
	}

	if err != nil {
		h.logger.ErrorContext(ctx, "list opportunities failed",
			slog.String("backend", backend),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list opportunities")
		return
	}
	if opps == nil {
		opps = []domain.Opportunity{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"opportunities": opps,
		"count":         len(opps),
		"backend":       backend,
	})
}
