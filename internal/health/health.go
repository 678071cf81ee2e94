package health

import (
	"encoding/json"
	"net/http"

	"github.com/austindbirch/harbor_run/internal/task"
)

type Status struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
	Tasks   int    `json:"tasks"`
}

// HTTPHandler returns an HTTP handler that reports the health status of the service
func HTTPHandler(reg *task.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := Status{OK: true, Message: "ok"}
		if reg != nil {
			st.Tasks = reg.Len()
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(st)
	}
}
