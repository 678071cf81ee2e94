package supervisor

import (
	"context"
	"io"
	"os/exec"
	"sync"

	"go.opentelemetry.io/otel/attribute"

	"github.com/austindbirch/harbor_run/internal/logging"
	"github.com/austindbirch/harbor_run/internal/task"
	"github.com/austindbirch/harbor_run/internal/tracing"
)

// CompletionNotifier is told once per task when it reaches a terminal status.
type CompletionNotifier interface {
	TaskFinished(ctx context.Context, snap task.Snapshot)
}

// Supervisor launches one external process per task, pumps its output streams
// into the task's event log and records the exit. One task maps to exactly one
// process attempt; failures are never retried.
type Supervisor struct {
	logger    *logging.Logger
	chunkSize int
	notifier  CompletionNotifier
}

const defaultChunkSize = 8192

// New creates a supervisor. notifier may be nil.
func New(logger *logging.Logger, chunkSize int, notifier CompletionNotifier) *Supervisor {
	if logger == nil {
		logger = logging.New("harborrun-supervisor")
	}
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	return &Supervisor{
		logger:    logger,
		chunkSize: chunkSize,
		notifier:  notifier,
	}
}

// Spawn initiates the process for the task and returns immediately. All
// outcomes after this point are recorded as events and terminal status on the
// task, never returned to the caller.
func (s *Supervisor) Spawn(t *task.Task) {
	go s.run(t)
}

func (s *Supervisor) run(t *task.Task) {
	ctx, span := tracing.StartSpan(context.Background(), "supervisor.run",
		attribute.String("task_id", t.ID),
		attribute.String("command", t.Command),
	)
	defer span.End()

	// The process lives under the task context so Cancel kills it.
	cmd := exec.CommandContext(t.Context(), t.Command, t.Args...)
	cmd.Dir = t.Dir
	if len(t.Env) > 0 {
		// Caller-supplied environment is passed through unmodified.
		cmd.Env = t.Env
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		s.failSpawn(ctx, t, err)
		return
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		s.failSpawn(ctx, t, err)
		return
	}

	if err := cmd.Start(); err != nil {
		s.failSpawn(ctx, t, err)
		return
	}

	t.Start(cmd.Process.Pid)
	tracing.AddSpanEvent(ctx, "process.started", attribute.Int("pid", cmd.Process.Pid))
	s.logger.WithContext(ctx).WithTask(t.ID).WithField("pid", cmd.Process.Pid).Info("process started")

	// Two independent pumps feed one ordered log; sequence numbers are
	// assigned at the task's single append point.
	var wg sync.WaitGroup
	wg.Add(2)
	go s.pump(&wg, t, task.KindStdout, stdout)
	go s.pump(&wg, t, task.KindStderr, stderr)
	wg.Wait()

	waitErr := cmd.Wait()
	exitCode := cmd.ProcessState.ExitCode()
	t.Finish(exitCode)

	span.SetAttributes(attribute.Int("exit_code", exitCode))
	entry := s.logger.WithContext(ctx).WithTask(t.ID).WithField("exit_code", exitCode)
	if waitErr != nil {
		entry = entry.WithError(waitErr)
	}
	entry.Info("process exited")

	s.notifyFinished(ctx, t)
}

// pump reads raw chunks from one stream until EOF. Chunk boundaries are
// whatever the pipe hands back; they carry no semantic meaning.
func (s *Supervisor) pump(wg *sync.WaitGroup, t *task.Task, kind task.Kind, r io.Reader) {
	defer wg.Done()
	buf := make([]byte, s.chunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			t.AppendOutput(kind, buf[:n])
		}
		if err != nil {
			return
		}
	}
}

func (s *Supervisor) failSpawn(ctx context.Context, t *task.Task, err error) {
	tracing.SetSpanError(ctx, err)
	t.FailSpawn(err)
	s.logger.WithContext(ctx).WithTask(t.ID).WithError(err).Error("process could not be started")
	s.notifyFinished(ctx, t)
}

func (s *Supervisor) notifyFinished(ctx context.Context, t *task.Task) {
	if s.notifier == nil {
		return
	}
	s.notifier.TaskFinished(ctx, t.Snapshot())
}
