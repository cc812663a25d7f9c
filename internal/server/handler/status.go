package handler

import (
	"net/http"
	"time"

	"github.com/alanyoungcy/arbbot/internal/pipeline"
)

// Pipeline is the read side of the orchestrator.
type Pipeline interface {
	State() pipeline.State
	LastReport() (pipeline.CycleReport, bool)
}

// StatusInfo is the static part of the status document.
type StatusInfo struct {
	ExecutionMode    string   `json:"execution_mode"`
	Sources          []string `json:"exchanges"`
	Symbols          []string `json:"symbols"`
	ThresholdPercent float64  `json:"threshold_percent"`
	Sinks            []string `json:"sinks"`
	Advisor          bool     `json:"advisor_enabled"`
}

// StatusHandler serves the bot status shown by dashboards.
type StatusHandler struct {
	pipeline Pipeline
	info     StatusInfo
	clients  func() int
	started  time.Time
}

// NewStatusHandler creates a StatusHandler. clients may be nil.
func NewStatusHandler(p Pipeline, info StatusInfo, clients func() int) *StatusHandler {
	return &StatusHandler{pipeline: p, info: info, clients: clients, started: time.Now()}
}

// Status is the JSON document served by GetStatus.
type Status struct {
	StatusInfo
	State         pipeline.State        `json:"state"`
	UptimeSeconds float64               `json:"uptime_seconds"`
	LastCycle     *pipeline.CycleReport `json:"last_cycle,omitempty"`
	WSClients     int                   `json:"ws_clients"`
}

// Snapshot builds the current status. It is also pushed to new WebSocket
// clients.
func (h *StatusHandler) Snapshot() Status {
	st := Status{
		StatusInfo:    h.info,
		State:         h.pipeline.State(),
		UptimeSeconds: time.Since(h.started).Seconds(),
	}
	if last, ok := h.pipeline.LastReport(); ok {
		st.LastCycle = &last
	}
	if h.clients != nil {
		st.WSClients = h.clients()
	}
	return st
}

// GetStatus responds with the current lifecycle state and last cycle.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Snapshot())
}
