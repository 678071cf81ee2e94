package config

import (
	"os"
	"strconv"
	"time"
)

type Auth struct {
	PublicKeyPEM string // PEM-encoded RSA public key; auth disabled when empty
	Issuer       string // expected iss claim
	Audience     string // expected aud claim
}

type Tasks struct {
	MaxTasks         int           // registry capacity
	EventBacklog     int           // per-task retained event cap (ring buffer)
	SubscriberBuffer int           // per-subscription channel depth
	Retention        time.Duration // grace window before a finished task is evicted
	ReapInterval     time.Duration // janitor sweep interval
	ReadChunkBytes   int           // max bytes per stdout/stderr read
}

type Notify struct {
	URL             string // webhook target for completion notifications; disabled when empty
	Secret          string // HMAC secret for webhook signatures
	SignatureHeader string // HTTP header carrying the signature
	TimestampHeader string // HTTP header carrying the signing timestamp
	NsqdTCPAddr     string // nsqd address for the task-events topic; disabled when empty
	Topic           string // NSQ topic for terminal task events
}

type FakeReceiver struct {
	FailFirstN           int           // number of notifications to reject initially
	Secret               string        // secret for signature verification
	SigningLeewaySeconds int           // allowed timestamp skew in seconds
	Port                 string        // server listen port
	ReadTimeout          time.Duration // HTTP read timeout
	WriteTimeout         time.Duration // HTTP write timeout
	IdleTimeout          time.Duration // HTTP idle timeout
}

type Config struct {
	AppName      string
	HTTPPort     string // :8080
	Auth         Auth
	Tasks        Tasks
	Notify       Notify
	FakeReceiver FakeReceiver
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func FromEnv() Config {
	return Config{
		AppName:  getenv("APP_NAME", "harborrun"),
		HTTPPort: getenv("HTTP_PORT", ":8080"),
		Auth: Auth{
			PublicKeyPEM: getenv("AUTH_PUBLIC_KEY", ""),
			Issuer:       getenv("AUTH_ISSUER", "harborrun"),
			Audience:     getenv("AUTH_AUDIENCE", "harborrun-api"),
		},
		Tasks: Tasks{
			MaxTasks:         getenvInt("MAX_TASKS", 256),
			EventBacklog:     getenvInt("EVENT_BACKLOG", 8192),
			SubscriberBuffer: getenvInt("SUBSCRIBER_BUFFER", 1024),
			Retention:        getenvDuration("RETENTION_WINDOW", 5*time.Second),
			ReapInterval:     getenvDuration("REAP_INTERVAL", time.Second),
			ReadChunkBytes:   getenvInt("READ_CHUNK_BYTES", 8192),
		},
		Notify: Notify{
			URL:             getenv("NOTIFY_URL", ""),
			Secret:          getenv("NOTIFY_SECRET", ""),
			SignatureHeader: getenv("NOTIFY_SIGNATURE_HEADER", "X-HarborRun-Signature"),
			TimestampHeader: getenv("NOTIFY_TIMESTAMP_HEADER", "X-HarborRun-Timestamp"),
			NsqdTCPAddr:     getenv("NSQD_TCP_ADDR", ""),
			Topic:           getenv("NSQ_TASK_EVENTS_TOPIC", "task_events"),
		},
		FakeReceiver: FakeReceiver{
			FailFirstN:           getenvInt("FAIL_FIRST_N", 0),
			Secret:               getenv("NOTIFY_SECRET", ""),
			SigningLeewaySeconds: getenvInt("SIGNING_LEEWAY_SECONDS", 300),
			Port:                 getenv("FAKE_RECEIVER_PORT", ":8081"),
			ReadTimeout:          getenvDuration("FAKE_RECEIVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:         getenvDuration("FAKE_RECEIVER_WRITE_TIMEOUT", 10*time.Second),
			IdleTimeout:          getenvDuration("FAKE_RECEIVER_IDLE_TIMEOUT", 60*time.Second),
		},
	}
}
