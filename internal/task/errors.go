package task

import "errors"

var (
	// ErrInvalidRequest rejects a run request before any task is created.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrNotFound means the task id is unknown or the task was already evicted.
	ErrNotFound = errors.New("task not found")

	// ErrResourceExhausted means the registry is at capacity.
	ErrResourceExhausted = errors.New("registry at capacity")

	// ErrTaskTerminal means the operation needs a task that is still running.
	ErrTaskTerminal = errors.New("task already terminal")
)
