package task

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/austindbirch/harbor_run/internal/metrics"
)

// Status is the lifecycle state of a task. Transitions are monotonic:
// pending -> running -> (completed | failed), or pending -> failed when the
// process could not be started.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transitions can occur.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Task is one supervised run of an external process plus its ordered event log
// and the set of attached subscribers. The command and arguments are immutable
// after creation; everything else is guarded by the per-task mutex so that
// tasks make progress independently of each other.
type Task struct {
	ID        string
	Command   string
	Args      []string
	Dir       string
	Env       []string
	CreatedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	status     Status
	exitCode   *int
	startedAt  time.Time
	finishedAt time.Time
	seq        uint64
	log        []Event
	maxLog     int
	subBuf     int
	subs       map[string]*Subscription
	done       chan struct{}
}

func newTask(id, command string, args []string, dir string, env []string, maxLog, subBuf int) *Task {
	ctx, cancel := context.WithCancel(context.Background())
	return &Task{
		ID:        id,
		Command:   command,
		Args:      args,
		Dir:       dir,
		Env:       env,
		CreatedAt: time.Now().UTC(),
		ctx:       ctx,
		cancel:    cancel,
		status:    StatusPending,
		maxLog:    maxLog,
		subBuf:    subBuf,
		subs:      make(map[string]*Subscription),
		done:      make(chan struct{}),
	}
}

// Context is canceled when the task is canceled. The supervisor launches the
// process under this context so a cancel request kills the process.
func (t *Task) Context() context.Context {
	return t.ctx
}

// Done is closed once the task reaches a terminal status.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Status returns the current lifecycle state.
func (t *Task) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// ExitCode returns the recorded exit code, nil while the task is not terminal
// or when the process never started.
func (t *Task) ExitCode() *int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.exitCode
}

// EventCount returns how many events have been appended to the log so far.
func (t *Task) EventCount() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.seq
}

// Subscribers returns the number of currently attached subscriptions.
func (t *Task) Subscribers() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

// appendLocked assigns the next sequence number, stores the event and fans it
// out to every attached subscription. This is the single append point, so the
// two output pumps and the supervisor share one total order. Caller holds t.mu.
func (t *Task) appendLocked(kind Kind, payload any) Event {
	t.seq++
	ev := Event{
		Sequence:  t.seq,
		Kind:      kind,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
	t.log = append(t.log, ev)
	if t.maxLog > 0 && len(t.log) > t.maxLog {
		// Bounded backlog: discard the oldest entries. Late subscribers get a
		// truncation notice instead of the dropped prefix.
		drop := len(t.log) - t.maxLog
		t.log = append(t.log[:0:0], t.log[drop:]...)
	}
	for id, sub := range t.subs {
		select {
		case sub.ch <- ev:
		default:
			// Subscriber is not draining; disconnecting it here keeps the
			// no-gap guarantee for everything it was delivered.
			sub.dropped.Store(true)
			delete(t.subs, id)
			sub.closeChannel()
			metrics.RecordSubscriberDrop()
			metrics.RemoveSubscriber()
		}
	}
	metrics.RecordEvent(string(kind))
	return ev
}

// Start transitions the task to running and appends the started event.
func (t *Task) Start(pid int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status != StatusPending {
		return
	}
	t.status = StatusRunning
	t.startedAt = time.Now().UTC()
	t.appendLocked(KindStarted, StartedPayload{PID: pid})
	metrics.RecordTaskStarted()
}

// AppendOutput appends one stdout or stderr chunk. Chunk boundaries carry no
// meaning; consumers must not assume line alignment.
func (t *Task) AppendOutput(kind Kind, chunk []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status.Terminal() {
		return
	}
	t.appendLocked(kind, string(chunk))
}

// AppendInfo appends a service-generated informational event.
func (t *Task) AppendInfo(message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status.Terminal() {
		return
	}
	t.appendLocked(KindInfo, InfoPayload{Message: message})
}

// FailSpawn records that the process could not be started at all: an error
// event followed by the terminal completed event with no exit code.
func (t *Task) FailSpawn(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status.Terminal() {
		return
	}
	t.appendLocked(KindError, ErrorPayload{Message: err.Error()})
	t.finishLocked(nil)
}

// Finish records the process exit code and appends the terminal event.
func (t *Task) Finish(exitCode int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status.Terminal() {
		return
	}
	code := exitCode
	t.finishLocked(&code)
}

// finishLocked performs the terminal transition exactly once. Caller holds
// t.mu and has verified the task is not yet terminal.
func (t *Task) finishLocked(exitCode *int) {
	wasRunning := t.status == StatusRunning
	success := exitCode != nil && *exitCode == 0
	if success {
		t.status = StatusCompleted
	} else {
		t.status = StatusFailed
	}
	t.exitCode = exitCode
	t.finishedAt = time.Now().UTC()
	t.appendLocked(KindCompleted, CompletedPayload{Success: success, ExitCode: exitCode})
	for _, sub := range t.subs {
		// The terminal event is already buffered in the channel; closing lets
		// the delivery path drain and then observe end-of-stream.
		sub.closeChannel()
	}
	t.cancel()
	metrics.RecordTaskFinished(string(t.status), wasRunning)
	close(t.done)
}

// Cancel signals the running process to terminate. The task then proceeds
// through the normal failure transition once the process exits.
func (t *Task) Cancel() error {
	t.mu.Lock()
	if t.status.Terminal() {
		t.mu.Unlock()
		return ErrTaskTerminal
	}
	t.appendLocked(KindInfo, InfoPayload{Message: "cancellation requested"})
	t.mu.Unlock()
	t.cancel()
	return nil
}

// Subscription is one attached delivery sink for a task's event stream.
type Subscription struct {
	ID      string
	task    *Task
	replay  []Event
	ch      chan Event
	chOnce  sync.Once
	off     sync.Once
	dropped atomic.Bool
}

// Replay returns the events already in the log at attach time, in order,
// prefixed with the subscription-scoped connected event.
func (s *Subscription) Replay() []Event {
	return s.replay
}

// Events delivers new events in sequence order. The channel is closed after
// the terminal event has been delivered or the subscription was dropped.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Dropped reports whether the broadcaster disconnected this subscription
// because it stopped draining.
func (s *Subscription) Dropped() bool {
	return s.dropped.Load()
}

// Close detaches the subscription. Idempotent and safe after completion.
func (s *Subscription) Close() {
	s.off.Do(func() {
		s.task.mu.Lock()
		if _, ok := s.task.subs[s.ID]; ok {
			delete(s.task.subs, s.ID)
			metrics.RemoveSubscriber()
		}
		s.task.mu.Unlock()
		s.closeChannel()
	})
}

func (s *Subscription) closeChannel() {
	s.chOnce.Do(func() { close(s.ch) })
}

// Subscribe attaches a new delivery sink. The returned subscription carries a
// replay of everything logged so far; subsequent events arrive on Events().
// Attaching after completion yields the full retained log ending in the
// terminal event, with the live channel already closed.
func (t *Task) Subscribe() *Subscription {
	t.mu.Lock()
	defer t.mu.Unlock()

	sub := &Subscription{
		ID:   uuid.NewString(),
		task: t,
		ch:   make(chan Event, t.subBuf),
	}

	replay := make([]Event, 0, len(t.log)+2)
	replay = append(replay, Event{
		Sequence:  0,
		Kind:      KindConnected,
		Payload:   ConnectedPayload{TaskID: t.ID, Status: t.status},
		Timestamp: time.Now().UTC(),
	})
	if len(t.log) > 0 && t.log[0].Sequence > 1 {
		replay = append(replay, Event{
			Sequence:  t.log[0].Sequence - 1,
			Kind:      KindInfo,
			Payload:   InfoPayload{Message: fmt.Sprintf("log truncated, replay starts at sequence %d", t.log[0].Sequence)},
			Timestamp: time.Now().UTC(),
		})
	}
	replay = append(replay, t.log...)
	sub.replay = replay

	if t.status.Terminal() {
		sub.closeChannel()
		return sub
	}
	t.subs[sub.ID] = sub
	metrics.AddSubscriber()
	return sub
}

// Snapshot is a point-in-time copy of the task state for API responses.
type Snapshot struct {
	ID          string     `json:"task_id"`
	Command     string     `json:"command"`
	Args        []string   `json:"args,omitempty"`
	Status      Status     `json:"status"`
	ExitCode    *int       `json:"exit_code,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	Events      uint64     `json:"events"`
	Subscribers int        `json:"subscribers"`
}

// Snapshot returns a copy of the task's current state.
func (t *Task) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	snap := Snapshot{
		ID:          t.ID,
		Command:     t.Command,
		Args:        t.Args,
		Status:      t.status,
		ExitCode:    t.exitCode,
		CreatedAt:   t.CreatedAt,
		Events:      t.seq,
		Subscribers: len(t.subs),
	}
	if !t.startedAt.IsZero() {
		st := t.startedAt
		snap.StartedAt = &st
	}
	if !t.finishedAt.IsZero() {
		ft := t.finishedAt
		snap.FinishedAt = &ft
	}
	return snap
}

// evictable reports whether the task may be removed from the registry:
// terminal, no attached subscribers, and the retention window has elapsed.
func (t *Task) evictable(retention time.Duration, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.status.Terminal() || len(t.subs) > 0 {
		return false
	}
	return now.Sub(t.finishedAt) >= retention
}
