package task

import "time"

// Kind identifies what a single event describes.
type Kind string

const (
	KindConnected Kind = "connected"
	KindStarted   Kind = "started"
	KindInfo      Kind = "info"
	KindStdout    Kind = "stdout"
	KindStderr    Kind = "stderr"
	KindError     Kind = "error"
	KindCompleted Kind = "completed"
)

// Event is one immutable record of observable task activity. Sequence numbers
// are unique within a task and define the delivery order for every subscriber.
// Events are never mutated after creation.
type Event struct {
	Sequence  uint64    `json:"sequence"`
	Kind      Kind      `json:"kind"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Terminal reports whether this event ends the stream.
func (e Event) Terminal() bool {
	return e.Kind == KindCompleted
}

// ConnectedPayload is sent to a subscriber when its stream is established.
// It is subscription-scoped and never appended to the task event log.
type ConnectedPayload struct {
	TaskID string `json:"task_id"`
	Status Status `json:"status"`
}

// StartedPayload accompanies the started event once the process is running.
type StartedPayload struct {
	PID int `json:"pid"`
}

// InfoPayload carries service-generated messages (replay truncation notices,
// cancellation requests).
type InfoPayload struct {
	Message string `json:"message"`
}

// ErrorPayload describes a failure that occurred before the process produced
// an exit code, e.g. the executable could not be started.
type ErrorPayload struct {
	Message string `json:"message"`
}

// CompletedPayload is the terminal record. ExitCode is nil when the process
// never started.
type CompletedPayload struct {
	Success  bool `json:"success"`
	ExitCode *int `json:"exit_code,omitempty"`
}
