package handlers

import (
	"net/http"

	"github.com/mnemo-ai/mnemo/internal/service"
)

type StatsHandler struct {
	stats    *service.Stats
	tiers    service.Tiers
	overflow *service.OverflowLog
}

func NewStatsHandler(stats *service.Stats, tiers service.Tiers, overflow *service.OverflowLog) *StatsHandler {
	return &StatsHandler{stats: stats, tiers: tiers, overflow: overflow}
}

// Get returns per-tier counts and capabilities, EWMA op latencies, overflow
// depth, and the last maintenance cycle timing.
func (h *StatsHandler) Get(w http.ResponseWriter, r *http.Request) {
	snap, err := h.stats.Snapshot(r.Context(), h.tiers, h.overflow)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, snap)
}
