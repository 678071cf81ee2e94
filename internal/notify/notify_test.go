package notify

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/austindbirch/harbor_run/internal/config"
	"github.com/austindbirch/harbor_run/internal/task"
)

func testNotifyConfig(url string) config.Notify {
	return config.Notify{
		URL:             url,
		Secret:          "test-secret",
		SignatureHeader: "X-HarborRun-Signature",
		TimestampHeader: "X-HarborRun-Timestamp",
		Topic:           "task_events",
	}
}

func testSnapshot() task.Snapshot {
	code := 0
	now := time.Now().UTC()
	return task.Snapshot{
		ID:         "task-1",
		Command:    "echo",
		Status:     task.StatusCompleted,
		ExitCode:   &code,
		FinishedAt: &now,
	}
}

func TestNotifierDisabled(t *testing.T) {
	n, err := New(config.Notify{}, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer n.Stop()

	if n.Enabled() {
		t.Error("Enabled() = true with no transports configured")
	}

	// Must be a silent no-op.
	n.TaskFinished(context.Background(), testSnapshot())
}

func TestTaskFinishedPostsSignedWebhook(t *testing.T) {
	type received struct {
		body []byte
		sig  string
		ts   string
	}
	got := make(chan received, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got <- received{
			body: body,
			sig:  r.Header.Get("X-HarborRun-Signature"),
			ts:   r.Header.Get("X-HarborRun-Timestamp"),
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n, err := New(testNotifyConfig(srv.URL), nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer n.Stop()

	if !n.Enabled() {
		t.Fatal("Enabled() = false with a webhook URL configured")
	}

	n.TaskFinished(context.Background(), testSnapshot())

	var rec received
	select {
	case rec = <-got:
	case <-time.After(5 * time.Second):
		t.Fatal("webhook was never delivered")
	}

	// Signature is HMAC-SHA256 over body||timestamp.
	if rec.ts == "" {
		t.Fatal("timestamp header missing")
	}
	mac := hmac.New(sha256.New, []byte("test-secret"))
	mac.Write(rec.body)
	mac.Write([]byte(rec.ts))
	want := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	if rec.sig != want {
		t.Errorf("signature = %q, want %q", rec.sig, want)
	}

	var r Record
	if err := json.Unmarshal(rec.body, &r); err != nil {
		t.Fatalf("webhook body is not a Record: %v", err)
	}
	if r.TaskID != "task-1" || r.Status != task.StatusCompleted || !r.Success {
		t.Errorf("record = %+v, want successful completion of task-1", r)
	}
	if r.ExitCode == nil || *r.ExitCode != 0 {
		t.Errorf("record exit code = %v, want 0", r.ExitCode)
	}
}

func TestTaskFinishedFailureRecord(t *testing.T) {
	got := make(chan []byte, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got <- body
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n, err := New(testNotifyConfig(srv.URL), nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer n.Stop()

	snap := task.Snapshot{
		ID:      "task-2",
		Command: "/no/such/binary",
		Status:  task.StatusFailed,
	}
	n.TaskFinished(context.Background(), snap)

	var body []byte
	select {
	case body = <-got:
	case <-time.After(5 * time.Second):
		t.Fatal("webhook was never delivered")
	}

	var r Record
	if err := json.Unmarshal(body, &r); err != nil {
		t.Fatalf("webhook body is not a Record: %v", err)
	}
	if r.Success || r.Status != task.StatusFailed {
		t.Errorf("record = %+v, want failure", r)
	}
	if r.ExitCode != nil {
		t.Errorf("record exit code = %v, want nil for spawn failure", *r.ExitCode)
	}
}

func TestTaskFinishedToleratesRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "temporary failure", http.StatusInternalServerError)
	}))
	defer srv.Close()

	n, err := New(testNotifyConfig(srv.URL), nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer n.Stop()

	// A rejected notification is logged and counted, never escalated.
	n.TaskFinished(context.Background(), testSnapshot())
}
