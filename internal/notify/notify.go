package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/nsqio/go-nsq"
	"go.opentelemetry.io/otel/attribute"

	"github.com/austindbirch/harbor_run/internal/config"
	"github.com/austindbirch/harbor_run/internal/logging"
	"github.com/austindbirch/harbor_run/internal/metrics"
	"github.com/austindbirch/harbor_run/internal/task"
	"github.com/austindbirch/harbor_run/internal/tracing"
)

// Record is the completion notification published for every terminal task.
type Record struct {
	TaskID       string            `json:"task_id"`
	Command      string            `json:"command"`
	Status       task.Status       `json:"status"`
	Success      bool              `json:"success"`
	ExitCode     *int              `json:"exit_code,omitempty"`
	FinishedAt   *time.Time        `json:"finished_at,omitempty"`
	TraceHeaders map[string]string `json:"trace_headers,omitempty"`
}

// Notifier fans terminal task events out to external systems: an HMAC-signed
// webhook and/or an NSQ topic. One attempt each; a failed notification is
// logged and counted but never changes task state.
type Notifier struct {
	cfg    config.Notify
	client *http.Client
	prod   *nsq.Producer
	logger *logging.Logger
}

// New creates a notifier from config. Both transports are optional; with
// neither configured the notifier is a no-op.
func New(cfg config.Notify, logger *logging.Logger) (*Notifier, error) {
	if logger == nil {
		logger = logging.New("harborrun-notify")
	}
	n := &Notifier{
		cfg:    cfg,
		client: &http.Client{Timeout: 15 * time.Second},
		logger: logger,
	}
	if cfg.NsqdTCPAddr != "" {
		prod, err := nsq.NewProducer(cfg.NsqdTCPAddr, nsq.NewConfig())
		if err != nil {
			return nil, err
		}
		n.prod = prod
	}
	return n, nil
}

// Enabled reports whether any transport is configured.
func (n *Notifier) Enabled() bool {
	return n.cfg.URL != "" || n.prod != nil
}

// TaskFinished publishes the completion record for a terminal task.
func (n *Notifier) TaskFinished(ctx context.Context, snap task.Snapshot) {
	if !n.Enabled() {
		return
	}
	ctx, span := tracing.StartSpan(ctx, "notify.TaskFinished",
		attribute.String("task_id", snap.ID),
		attribute.String("status", string(snap.Status)),
	)
	defer span.End()

	rec := Record{
		TaskID:       snap.ID,
		Command:      snap.Command,
		Status:       snap.Status,
		Success:      snap.Status == task.StatusCompleted,
		ExitCode:     snap.ExitCode,
		FinishedAt:   snap.FinishedAt,
		TraceHeaders: tracing.InjectTraceHeaders(ctx),
	}
	body, err := json.Marshal(rec)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return
	}

	if n.prod != nil {
		if err := n.prod.Publish(n.cfg.Topic, body); err != nil {
			tracing.SetSpanError(ctx, err)
			n.logger.WithContext(ctx).WithTask(snap.ID).WithError(err).Error("nsq publish failed")
			metrics.RecordNotification("nsq", "error")
		} else {
			tracing.AddSpanEvent(ctx, "nsq.published", attribute.String("topic", n.cfg.Topic))
			metrics.RecordNotification("nsq", "ok")
		}
	}

	if n.cfg.URL != "" {
		n.postWebhook(ctx, snap.ID, body)
	}
}

// postWebhook signs the body with HMAC over body||timestamp and posts it.
func (n *Notifier) postWebhook(ctx context.Context, taskID string, body []byte) {
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	mac := hmac.New(sha256.New, []byte(n.cfg.Secret))
	mac.Write(body)
	mac.Write([]byte(ts))
	sig := hex.EncodeToString(mac.Sum(nil))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.URL, bytes.NewReader(body))
	if err != nil {
		tracing.SetSpanError(ctx, err)
		metrics.RecordNotification("webhook", "error")
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(n.cfg.TimestampHeader, ts)
	req.Header.Set(n.cfg.SignatureHeader, "sha256="+sig)
	if traceID := tracing.GetTraceID(ctx); traceID != "" {
		req.Header.Set("X-Trace-Id", traceID)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		n.logger.WithContext(ctx).WithTask(taskID).WithError(err).Error("webhook post failed")
		metrics.RecordNotification("webhook", "error")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		n.logger.WithContext(ctx).WithTask(taskID).WithField("status", resp.StatusCode).Error("webhook rejected")
		metrics.RecordNotification("webhook", "error")
		return
	}
	metrics.RecordNotification("webhook", "ok")
}

// Stop shuts down the NSQ producer, if any.
func (n *Notifier) Stop() {
	if n.prod != nil {
		n.prod.Stop()
	}
}
