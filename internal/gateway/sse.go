package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/austindbirch/harbor_run/internal/task"
)

// handleEvents is the subscription push channel: a Server-Sent Events stream
// that replays the buffered log and then follows the task live. The stream
// ends when the terminal event has been delivered or the client disconnects;
// disconnecting never affects the task or other subscribers.
func (s *Service) handleEvents(w http.ResponseWriter, r *http.Request) {
	t, err := s.registry.Get(r.PathValue("id"))
	if err != nil {
		writeJSON(w, statusForError(err), errorResponse{Error: err.Error()})
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "streaming unsupported"})
		return
	}

	sub := t.Subscribe()
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable Nginx buffering

	log := s.logger.WithContext(r.Context()).WithTask(t.ID).WithSubscription(sub.ID)
	log.Info("subscriber attached")
	defer log.Info("subscriber detached")

	for _, ev := range sub.Replay() {
		if err := writeSSEEvent(w, flusher, ev); err != nil {
			return
		}
		if ev.Terminal() {
			return
		}
	}

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case <-ticker.C:
			// Keep intermediaries from timing out an idle stream.
			fmt.Fprintf(w, ": heartbeat\n\n")
			flusher.Flush()

		case ev, open := <-sub.Events():
			if !open {
				if sub.Dropped() {
					writeSSEError(w, flusher, "subscriber not draining, disconnected")
				}
				return
			}
			if err := writeSSEEvent(w, flusher, ev); err != nil {
				return
			}
			if ev.Terminal() {
				return
			}
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, flusher http.Flusher, ev task.Event) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", ev.Kind); err != nil {
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

func writeSSEError(w http.ResponseWriter, flusher http.Flusher, msg string) {
	fmt.Fprintf(w, "event: error\n")
	data, _ := json.Marshal(map[string]string{"error": msg})
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}
