package task

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/austindbirch/harbor_run/internal/metrics"
)

// RegistryOptions tunes the process-wide task table.
type RegistryOptions struct {
	MaxTasks         int           // capacity of the task table
	EventBacklog     int           // per-task ring buffer cap, 0 = unbounded
	SubscriberBuffer int           // per-subscription channel depth
	Retention        time.Duration // post-completion grace before eviction
}

const (
	defaultMaxTasks         = 256
	defaultEventBacklog     = 8192
	defaultSubscriberBuffer = 1024
	defaultRetention        = 5 * time.Second
)

// Registry is the process-wide table of tasks keyed by id. It exclusively
// owns task creation and garbage collection; each task carries its own lock,
// so registry operations never serialize event delivery across tasks.
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]*Task
	opts  RegistryOptions
}

// NewRegistry creates an empty registry.
func NewRegistry(opts RegistryOptions) *Registry {
	if opts.MaxTasks <= 0 {
		opts.MaxTasks = defaultMaxTasks
	}
	if opts.EventBacklog <= 0 {
		opts.EventBacklog = defaultEventBacklog
	}
	if opts.SubscriberBuffer <= 0 {
		opts.SubscriberBuffer = defaultSubscriberBuffer
	}
	if opts.Retention <= 0 {
		opts.Retention = defaultRetention
	}
	return &Registry{
		tasks: make(map[string]*Task),
		opts:  opts,
	}
}

// Create allocates a fresh task in pending status. Ids are never reused.
func (r *Registry) Create(command string, args []string, dir string, env []string) (*Task, error) {
	if command == "" {
		return nil, ErrInvalidRequest
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.tasks) >= r.opts.MaxTasks {
		return nil, ErrResourceExhausted
	}
	t := newTask(uuid.NewString(), command, args, dir, env, r.opts.EventBacklog, r.opts.SubscriberBuffer)
	r.tasks[t.ID] = t
	metrics.SetRegistrySize(len(r.tasks))
	return t, nil
}

// Get returns the task with the given id, or ErrNotFound.
func (r *Registry) Get(id string) (*Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return t, nil
}

// Evict removes a task only when it is terminal, has no subscribers and the
// retention window has elapsed; otherwise it is a no-op. Idempotent.
func (r *Registry) Evict(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return false
	}
	if !t.evictable(r.opts.Retention, time.Now().UTC()) {
		return false
	}
	delete(r.tasks, id)
	metrics.RecordEviction()
	metrics.SetRegistrySize(len(r.tasks))
	return true
}

// Reap evicts every task that currently qualifies and returns the count.
func (r *Registry) Reap() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	evicted := 0
	for id, t := range r.tasks {
		if t.evictable(r.opts.Retention, now) {
			delete(r.tasks, id)
			metrics.RecordEviction()
			evicted++
		}
	}
	if evicted > 0 {
		metrics.SetRegistrySize(len(r.tasks))
	}
	return evicted
}

// Janitor periodically reaps evictable tasks until the context is canceled.
func (r *Registry) Janitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Reap()
		}
	}
}

// List returns point-in-time snapshots of every registered task.
func (r *Registry) List() []Snapshot {
	r.mu.RLock()
	tasks := make([]*Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		tasks = append(tasks, t)
	}
	r.mu.RUnlock()

	snaps := make([]Snapshot, 0, len(tasks))
	for _, t := range tasks {
		snaps = append(snaps, t.Snapshot())
	}
	return snaps
}

// Len returns the number of tasks currently registered.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tasks)
}
