package handler

import (
	"net/http"

	"github.com/alanyoungcy/arbbot/internal/metrics"
	"github.com/alanyoungcy/arbbot/internal/telemetry"
)

// MetricsHandler exposes the collector and telemetry aggregates.
type MetricsHandler struct {
	collector *metrics.Collector
	tel       *telemetry.Telemetry
}

// NewMetricsHandler creates a MetricsHandler. tel may be nil.
func NewMetricsHandler(collector *metrics.Collector, tel *telemetry.Telemetry) *MetricsHandler {
	return &MetricsHandler{collector: collector, tel: tel}
}

// GetSummary returns the performance summary.
// GET /api/metrics
func (h *MetricsHandler) GetSummary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.collector.Summary())
}

// GetExchanges returns per-exchange fetch success rates.
// GET /api/metrics/exchanges
func (h *MetricsHandler) GetExchanges(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.collector.ExchangeStatistics())
}

// GetTelemetry returns event counts and metric aggregates.
// GET /api/telemetry
func (h *MetricsHandler) GetTelemetry(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.tel.Snapshot())
}
