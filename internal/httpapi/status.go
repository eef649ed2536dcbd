package httpapi

import (
	"log/slog"
	"net/http"

	"crossing/internal/history"
	"crossing/internal/utils"
)

type statusHandler struct {
	state   StateSource
	results history.Repository
}

func (h *statusHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	if h.state == nil {
		utils.WriteError(w, http.StatusServiceUnavailable, "display not running")
		return
	}
	utils.WriteJSON(w, http.StatusOK, h.state.Snapshot())
}

func (h *statusHandler) handleResults(w http.ResponseWriter, r *http.Request) {
	if h.results == nil {
		utils.WriteError(w, http.StatusServiceUnavailable, "history disabled")
		return
	}
	limit, err := utils.QueryInt(r, "limit", 20, 1, 1000)
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	items, err := h.results.Latest(r.Context(), limit)
	if err != nil {
		slog.Error("list results", "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to list results")
		return
	}
	total, err := h.results.Count(r.Context())
	if err != nil {
		slog.Error("count results", "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to count results")
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]any{
		"limit": limit,
		"total": total,
		"items": items,
	})
}

func registerStatus(mux *http.ServeMux, state StateSource, results history.Repository) {
	h := &statusHandler{state: state, results: results}
	mux.HandleFunc("GET /status", h.handleStatus)
	mux.HandleFunc("GET /results", h.handleResults)
}
