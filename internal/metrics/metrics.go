package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	TasksStartedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "harborrun_tasks_started_total",
			Help: "Total number of task processes started.",
		},
	)

	TasksFinishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harborrun_tasks_finished_total",
			Help: "Total number of tasks reaching a terminal status.",
		},
		[]string{"status"}, // completed | failed
	)

	TasksRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "harborrun_tasks_running",
			Help: "Number of tasks with a live process.",
		},
	)

	RegistrySize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "harborrun_registry_tasks",
			Help: "Number of tasks currently held in the registry.",
		},
	)

	EventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harborrun_events_total",
			Help: "Total number of events appended to task logs by kind.",
		},
		[]string{"kind"},
	)

	SubscribersActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "harborrun_subscribers_active",
			Help: "Number of currently attached event stream subscriptions.",
		},
	)

	SubscriberDropsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "harborrun_subscriber_drops_total",
			Help: "Total number of subscriptions disconnected for not draining.",
		},
	)

	EvictionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "harborrun_evictions_total",
			Help: "Total number of tasks evicted from the registry.",
		},
	)

	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harborrun_notifications_total",
			Help: "Total number of completion notifications by transport and outcome.",
		},
		[]string{"transport", "outcome"}, // webhook|nsq, ok|error
	)
)

func MustRegister(reg *prometheus.Registry) {
	reg.MustRegister(
		TasksStartedTotal,
		TasksFinishedTotal,
		TasksRunning,
		RegistrySize,
		EventsTotal,
		SubscribersActive,
		SubscriberDropsTotal,
		EvictionsTotal,
		NotificationsTotal,
	)
}

// RecordTaskStarted increments the started counter and the running gauge.
func RecordTaskStarted() {
	TasksStartedTotal.Inc()
	TasksRunning.Inc()
}

// RecordTaskFinished counts a terminal transition. wasRunning distinguishes
// spawn failures, which never occupied the running gauge.
func RecordTaskFinished(status string, wasRunning bool) {
	TasksFinishedTotal.WithLabelValues(status).Inc()
	if wasRunning {
		TasksRunning.Dec()
	}
}

// RecordEvent counts one appended event by kind.
func RecordEvent(kind string) {
	EventsTotal.WithLabelValues(kind).Inc()
}

// AddSubscriber increments the active subscription gauge.
func AddSubscriber() {
	SubscribersActive.Inc()
}

// RemoveSubscriber decrements the active subscription gauge.
func RemoveSubscriber() {
	SubscribersActive.Dec()
}

// RecordSubscriberDrop counts a subscription disconnected for lagging.
func RecordSubscriberDrop() {
	SubscriberDropsTotal.Inc()
}

// RecordEviction counts one task removed from the registry.
func RecordEviction() {
	EvictionsTotal.Inc()
}

// SetRegistrySize updates the registry occupancy gauge.
func SetRegistrySize(n int) {
	RegistrySize.Set(float64(n))
}

// RecordNotification counts one completion notification attempt.
func RecordNotification(transport, outcome string) {
	NotificationsTotal.WithLabelValues(transport, outcome).Inc()
}
