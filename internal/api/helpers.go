// Package api implements the HTTP API of the tuning bench daemon.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/micro-nova/mspi-tuning/internal/models"
	"github.com/micro-nova/mspi-tuning/internal/mspi"
	"github.com/micro-nova/mspi-tuning/internal/report"
)

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	ctrl    Controller
	reports Reports
	events  EventBus
}

// Controller is the part of *mspi.Controller the handlers use.
type Controller interface {
	Snapshot() mspi.Snapshot
	FlashTimingParam() mspi.FlashTiming
	ChangeSpeedModeCacheSafe(switchDown bool)
}

// Reports is the tuning report store.
type Reports interface {
	List() ([]models.Report, error)
	Get(id string) (models.Report, error)
}

// EventBus is the interface for subscribing to controller events.
type EventBus interface {
	Subscribe(id string) <-chan models.Event
	Unsubscribe(id string)
}

func (h *Handlers) status() models.Status {
	return models.NewStatus(h.ctrl.Snapshot(), h.ctrl.FlashTimingParam())
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// appError maps package errors onto API errors.
func appError(err error) *models.AppError {
	var appErr *models.AppError
	switch {
	case errors.As(err, &appErr):
		return appErr
	case errors.Is(err, report.ErrNotFound):
		return models.ErrNotFound(err.Error())
	case errors.Is(err, mspi.ErrTuningPortBusy), errors.Is(err, mspi.ErrAlreadyTuned):
		return models.ErrConflict(err.Error())
	default:
		return models.ErrInternal(err.Error())
	}
}

// writeError writes err as a JSON AppError response.
func writeError(w http.ResponseWriter, err error) {
	appErr := appError(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(appErr.Status)
	_ = json.NewEncoder(w).Encode(appErr)
}
