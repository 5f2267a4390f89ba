package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/micro-nova/mspi-tuning/internal/models"
)

// sseEvents streams controller events. The first frame carries the status at
// subscribe time so clients never start blind.
func (h *Handlers) sseEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	hdr := w.Header()
	hdr.Set("Content-Type", "text/event-stream")
	hdr.Set("Cache-Control", "no-cache")
	hdr.Set("Connection", "keep-alive")
	hdr.Set("X-Accel-Buffering", "no")

	id := uuid.New().String()
	ch := h.events.Subscribe(id)
	defer h.events.Unsubscribe(id)

	ev := models.Event{Type: models.EventMode, Time: time.Now().UTC(), Status: h.status()}
	for {
		if err := writeFrame(w, ev); err != nil {
			return
		}
		flusher.Flush()

		var ok bool
		select {
		case ev, ok = <-ch:
			if !ok {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}

// writeFrame writes one "event:"/"data:" SSE frame.
func writeFrame(w http.ResponseWriter, ev models.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
	return err
}
