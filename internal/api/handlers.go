package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/micro-nova/mspi-tuning/internal/models"
)

func (h *Handlers) getStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.status())
}

func (h *Handlers) getProfile(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ctrl.Snapshot().Board)
}

// setSpeed switches both devices between the reference clock and their
// target clock through the cache-safe path.
func (h *Handlers) setSpeed(w http.ResponseWriter, r *http.Request) {
	var req models.SpeedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, models.ErrBadRequest("invalid JSON: "+err.Error()))
		return
	}
	switch req.Mode {
	case models.ModeLow:
		h.ctrl.ChangeSpeedModeCacheSafe(true)
	case models.ModeHigh:
		h.ctrl.ChangeSpeedModeCacheSafe(false)
	default:
		writeError(w, models.ErrBadField("mode", `mode must be "low" or "high"`))
		return
	}
	writeJSON(w, http.StatusOK, h.status())
}

func (h *Handlers) getReports(w http.ResponseWriter, r *http.Request) {
	if h.reports == nil {
		writeJSON(w, http.StatusOK, []models.Report{})
		return
	}
	list, err := h.reports.List()
	if err != nil {
		writeError(w, models.ErrInternal(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handlers) getReport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if h.reports == nil {
		writeError(w, models.ErrNotFound("report "+id+" not found"))
		return
	}
	rep, err := h.reports.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}
