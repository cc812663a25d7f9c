package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/arbbot/internal/domain"
)

// Ledger is the in-memory execution ledger.
type Ledger interface {
	Statistics() domain.ExecutionStats
	Trades() []domain.TradeRecord
}

// StatsHandler serves execution statistics and the trade ledger.
type StatsHandler struct {
	ledger Ledger
	store  domain.TradeStore
	logger *slog.Logger
}

// NewStatsHandler creates a StatsHandler. store may be nil.
func NewStatsHandler(ledger Ledger, store domain.TradeStore, logger *slog.Logger) *StatsHandler {
	return &StatsHandler{
		ledger: ledger,
		store:  store,
		logger: logger.With(slog.String("handler", "stats")),
	}
}

// GetStats returns totals over the in-memory ledger.
// GET /api/stats
func (h *StatsHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ledger.Statistics())
}

// ListTrades returns the most recent trades, newest first. With
// ?source=store the persisted trade table is read instead of the ledger,
// which only covers the current process.
// GET /api/trades
func (h *StatsHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r)

	if r.URL.Query().Get("source") == "store" {
		if h.store == nil {
			writeError(w, http.StatusServiceUnavailable, "trade store not configured")
			return
		}
		trades, err := h.store.ListRecentTrades(r.Context(), limit)
		if err != nil {
			h.logger.ErrorContext(r.Context(), "list trades failed", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "failed to list trades")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"trades": trades, "count": len(trades)})
		return
	}

	all := h.ledger.Trades()
	n := min(limit, len(all))
	out := make([]domain.TradeRecord, 0, n)
	for i := len(all) - 1; i >= len(all)-n; i-- {
		out = append(out, all[i])
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": out, "count": len(out)})
}
