package task

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func newTestTask(maxLog, subBuf int) *Task {
	return newTask("task-1", "echo", []string{"hi"}, "", nil, maxLog, subBuf)
}

func TestStatusTerminal(t *testing.T) {
	tests := []struct {
		name   string
		status Status
		want   bool
	}{
		{name: "pending", status: StatusPending, want: false},
		{name: "running", status: StatusRunning, want: false},
		{name: "completed", status: StatusCompleted, want: true},
		{name: "failed", status: StatusFailed, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.status.Terminal(); got != tt.want {
				t.Errorf("Terminal() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEventOrdering(t *testing.T) {
	tk := newTestTask(0, 16)

	tk.Start(42)
	tk.AppendOutput(KindStdout, []byte("out-1"))
	tk.AppendOutput(KindStderr, []byte("err-1"))
	tk.AppendOutput(KindStdout, []byte("out-2"))
	tk.Finish(0)

	sub := tk.Subscribe()
	defer sub.Close()
	replay := sub.Replay()

	wantKinds := []Kind{KindConnected, KindStarted, KindStdout, KindStderr, KindStdout, KindCompleted}
	if len(replay) != len(wantKinds) {
		t.Fatalf("replay has %d events, want %d", len(replay), len(wantKinds))
	}
	for i, ev := range replay {
		if ev.Kind != wantKinds[i] {
			t.Errorf("replay[%d].Kind = %q, want %q", i, ev.Kind, wantKinds[i])
		}
	}

	// Sequences of logged events are dense starting at 1; the connected
	// event is subscription-scoped with sequence 0.
	if replay[0].Sequence != 0 {
		t.Errorf("connected event sequence = %d, want 0", replay[0].Sequence)
	}
	for i, ev := range replay[1:] {
		if ev.Sequence != uint64(i+1) {
			t.Errorf("logged event %d has sequence %d, want %d", i, ev.Sequence, i+1)
		}
	}
}

func TestStartIsIdempotent(t *testing.T) {
	tk := newTestTask(0, 16)
	tk.Start(1)
	tk.Start(2)

	if got := tk.EventCount(); got != 1 {
		t.Errorf("EventCount() = %d after double Start, want 1", got)
	}
	if got := tk.Status(); got != StatusRunning {
		t.Errorf("Status() = %q, want %q", got, StatusRunning)
	}
}

func TestFinishOutcomes(t *testing.T) {
	tests := []struct {
		name       string
		exitCode   int
		wantStatus Status
	}{
		{name: "zero exit is completed", exitCode: 0, wantStatus: StatusCompleted},
		{name: "nonzero exit is failed", exitCode: 3, wantStatus: StatusFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tk := newTestTask(0, 16)
			tk.Start(1)
			tk.Finish(tt.exitCode)

			if got := tk.Status(); got != tt.wantStatus {
				t.Errorf("Status() = %q, want %q", got, tt.wantStatus)
			}
			code := tk.ExitCode()
			if code == nil || *code != tt.exitCode {
				t.Errorf("ExitCode() = %v, want %d", code, tt.exitCode)
			}

			select {
			case <-tk.Done():
			default:
				t.Error("Done() not closed after Finish")
			}
		})
	}
}

func TestExactlyOneTerminalEvent(t *testing.T) {
	tk := newTestTask(0, 16)
	tk.Start(1)
	tk.Finish(0)
	tk.Finish(1)
	tk.FailSpawn(errors.New("late failure"))
	tk.AppendOutput(KindStdout, []byte("late output"))
	tk.AppendInfo("late info")

	sub := tk.Subscribe()
	defer sub.Close()

	terminal := 0
	for _, ev := range sub.Replay() {
		if ev.Terminal() {
			terminal++
		}
	}
	if terminal != 1 {
		t.Errorf("replay contains %d terminal events, want 1", terminal)
	}
	if last := sub.Replay()[len(sub.Replay())-1]; !last.Terminal() {
		t.Errorf("last replay event kind = %q, want %q", last.Kind, KindCompleted)
	}
	if code := tk.ExitCode(); code == nil || *code != 0 {
		t.Errorf("ExitCode() = %v, want 0 from the first Finish", code)
	}
}

func TestFailSpawn(t *testing.T) {
	tk := newTestTask(0, 16)
	tk.FailSpawn(errors.New("no such executable"))

	if got := tk.Status(); got != StatusFailed {
		t.Errorf("Status() = %q, want %q", got, StatusFailed)
	}
	if code := tk.ExitCode(); code != nil {
		t.Errorf("ExitCode() = %v, want nil when the process never started", *code)
	}

	sub := tk.Subscribe()
	defer sub.Close()
	replay := sub.Replay()

	wantKinds := []Kind{KindConnected, KindError, KindCompleted}
	if len(replay) != len(wantKinds) {
		t.Fatalf("replay has %d events, want %d", len(replay), len(wantKinds))
	}
	for i, ev := range replay {
		if ev.Kind != wantKinds[i] {
			t.Errorf("replay[%d].Kind = %q, want %q", i, ev.Kind, wantKinds[i])
		}
	}
	completed, ok := replay[2].Payload.(CompletedPayload)
	if !ok {
		t.Fatalf("completed payload has type %T", replay[2].Payload)
	}
	if completed.Success || completed.ExitCode != nil {
		t.Errorf("completed payload = %+v, want failure without exit code", completed)
	}
}

func TestSubscribeLiveDelivery(t *testing.T) {
	tk := newTestTask(0, 16)
	tk.Start(1)
	tk.AppendOutput(KindStdout, []byte("before"))

	sub := tk.Subscribe()
	defer sub.Close()

	if n := len(sub.Replay()); n != 3 { // connected, started, stdout
		t.Fatalf("replay has %d events, want 3", n)
	}

	tk.AppendOutput(KindStdout, []byte("after"))
	tk.Finish(0)

	var live []Event
	for ev := range sub.Events() {
		live = append(live, ev)
	}

	if len(live) != 2 {
		t.Fatalf("received %d live events, want 2", len(live))
	}
	if live[0].Kind != KindStdout || live[1].Kind != KindCompleted {
		t.Errorf("live kinds = [%q, %q], want [stdout, completed]", live[0].Kind, live[1].Kind)
	}

	// No gaps between replay and live delivery.
	lastReplay := sub.Replay()[len(sub.Replay())-1]
	if live[0].Sequence != lastReplay.Sequence+1 {
		t.Errorf("first live sequence = %d, want %d", live[0].Sequence, lastReplay.Sequence+1)
	}
}

func TestSubscribeAfterTerminal(t *testing.T) {
	tk := newTestTask(0, 16)
	tk.Start(1)
	tk.AppendOutput(KindStdout, []byte("output"))
	tk.Finish(0)

	sub := tk.Subscribe()
	defer sub.Close()

	replay := sub.Replay()
	if last := replay[len(replay)-1]; !last.Terminal() {
		t.Errorf("replay does not end in the terminal event, last kind %q", last.Kind)
	}

	// The live channel is already closed; no registration took place.
	select {
	case _, open := <-sub.Events():
		if open {
			t.Error("Events() delivered an event for a terminal task")
		}
	case <-time.After(time.Second):
		t.Error("Events() not closed for a subscription to a terminal task")
	}
	if got := tk.Subscribers(); got != 0 {
		t.Errorf("Subscribers() = %d, want 0", got)
	}
}

func TestConcurrentSubscribersSeeSameOrder(t *testing.T) {
	tk := newTestTask(0, 256)
	tk.Start(1)

	const subscribers = 4
	subs := make([]*Subscription, subscribers)
	for i := range subs {
		subs[i] = tk.Subscribe()
	}

	// Two producers mirror the stdout/stderr pump pair.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			tk.AppendOutput(KindStdout, []byte(fmt.Sprintf("out-%d", i)))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			tk.AppendOutput(KindStderr, []byte(fmt.Sprintf("err-%d", i)))
		}
	}()
	wg.Wait()
	tk.Finish(0)

	collect := func(sub *Subscription) []Event {
		all := append([]Event(nil), sub.Replay()...)
		for ev := range sub.Events() {
			all = append(all, ev)
		}
		return all
	}

	first := collect(subs[0])
	for i := 1; i < subscribers; i++ {
		got := collect(subs[i])
		if len(got) != len(first) {
			t.Fatalf("subscriber %d saw %d events, subscriber 0 saw %d", i, len(got), len(first))
		}
		for j := range got {
			if got[j].Sequence != first[j].Sequence || got[j].Kind != first[j].Kind {
				t.Fatalf("subscriber %d diverges at %d: (%d, %q) vs (%d, %q)",
					i, j, got[j].Sequence, got[j].Kind, first[j].Sequence, first[j].Kind)
			}
		}
	}

	// Per-subscriber sequences are strictly increasing with no duplicates.
	for i := 1; i < len(first); i++ {
		if first[i].Sequence <= first[i-1].Sequence {
			t.Fatalf("sequence not strictly increasing at %d: %d after %d", i, first[i].Sequence, first[i-1].Sequence)
		}
	}
	for _, sub := range subs {
		sub.Close()
	}
}

func TestSlowSubscriberIsDropped(t *testing.T) {
	tk := newTestTask(0, 1)
	tk.Start(1)

	sub := tk.Subscribe()
	defer sub.Close()

	// Buffer depth is 1 and nothing drains: the second append overflows.
	tk.AppendOutput(KindStdout, []byte("first"))
	tk.AppendOutput(KindStdout, []byte("second"))
	tk.AppendOutput(KindStdout, []byte("third"))

	if !sub.Dropped() {
		t.Fatal("Dropped() = false for a subscriber that stopped draining")
	}
	if got := tk.Subscribers(); got != 0 {
		t.Errorf("Subscribers() = %d, want 0 after drop", got)
	}

	// Whatever was delivered before the drop is still readable, then the
	// channel closes. The task itself keeps logging unaffected.
	var received []Event
	for ev := range sub.Events() {
		received = append(received, ev)
	}
	if len(received) != 1 {
		t.Errorf("received %d events before drop, want 1", len(received))
	}
	if got := tk.EventCount(); got != 4 { // started + three chunks
		t.Errorf("EventCount() = %d, want 4", got)
	}
}

func TestRingTruncationNotice(t *testing.T) {
	tk := newTestTask(3, 16)
	tk.Start(1)
	for i := 0; i < 10; i++ {
		tk.AppendOutput(KindStdout, []byte(fmt.Sprintf("chunk-%d", i)))
	}

	sub := tk.Subscribe()
	defer sub.Close()
	replay := sub.Replay()

	// connected, truncation notice, then the three retained events.
	if len(replay) != 5 {
		t.Fatalf("replay has %d events, want 5", len(replay))
	}
	if replay[0].Kind != KindConnected {
		t.Errorf("replay[0].Kind = %q, want %q", replay[0].Kind, KindConnected)
	}
	notice := replay[1]
	if notice.Kind != KindInfo {
		t.Errorf("truncation notice kind = %q, want %q", notice.Kind, KindInfo)
	}
	firstRetained := replay[2]
	if notice.Sequence != firstRetained.Sequence-1 {
		t.Errorf("notice sequence = %d, want %d", notice.Sequence, firstRetained.Sequence-1)
	}

	// 11 events total, 3 retained: retained log starts at sequence 9.
	if firstRetained.Sequence != 9 {
		t.Errorf("first retained sequence = %d, want 9", firstRetained.Sequence)
	}
	for i := 2; i < len(replay)-1; i++ {
		if replay[i+1].Sequence != replay[i].Sequence+1 {
			t.Errorf("retained log has a gap between %d and %d", replay[i].Sequence, replay[i+1].Sequence)
		}
	}
}

func TestCancel(t *testing.T) {
	tk := newTestTask(0, 16)
	tk.Start(1)

	if err := tk.Cancel(); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}

	select {
	case <-tk.Context().Done():
	default:
		t.Error("task context not canceled after Cancel")
	}

	// Cancel itself never sets terminal status; the exit path does.
	if got := tk.Status(); got != StatusRunning {
		t.Errorf("Status() = %q after Cancel, want %q", got, StatusRunning)
	}

	tk.Finish(137)
	if err := tk.Cancel(); !errors.Is(err, ErrTaskTerminal) {
		t.Errorf("Cancel() on terminal task error = %v, want ErrTaskTerminal", err)
	}
}

func TestSubscriptionCloseIsIdempotent(t *testing.T) {
	tk := newTestTask(0, 16)
	tk.Start(1)

	sub := tk.Subscribe()
	sub.Close()
	sub.Close()

	if got := tk.Subscribers(); got != 0 {
		t.Errorf("Subscribers() = %d, want 0", got)
	}

	// Closing after the task finished must not panic either.
	sub2 := tk.Subscribe()
	tk.Finish(0)
	sub2.Close()
	sub2.Close()
}

func TestSnapshot(t *testing.T) {
	tk := newTask("task-9", "ls", []string{"-l"}, "/tmp", nil, 0, 16)

	snap := tk.Snapshot()
	if snap.ID != "task-9" || snap.Command != "ls" {
		t.Errorf("Snapshot() = %+v, want id task-9 command ls", snap)
	}
	if snap.Status != StatusPending || snap.StartedAt != nil || snap.FinishedAt != nil || snap.ExitCode != nil {
		t.Errorf("pending Snapshot() carries lifecycle data: %+v", snap)
	}

	tk.Start(7)
	tk.Finish(0)
	snap = tk.Snapshot()
	if snap.Status != StatusCompleted {
		t.Errorf("Snapshot().Status = %q, want %q", snap.Status, StatusCompleted)
	}
	if snap.StartedAt == nil || snap.FinishedAt == nil {
		t.Error("terminal Snapshot() missing started/finished timestamps")
	}
	if snap.ExitCode == nil || *snap.ExitCode != 0 {
		t.Errorf("Snapshot().ExitCode = %v, want 0", snap.ExitCode)
	}
	if snap.Events != 2 {
		t.Errorf("Snapshot().Events = %d, want 2", snap.Events)
	}
}
