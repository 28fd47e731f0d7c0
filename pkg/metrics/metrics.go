package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Event bus metrics
	EventsEmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "monagent_events_emitted_total",
			Help: "Total number of events emitted by kind",
		},
		[]string{"kind"},
	)

	Subscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "monagent_subscribers",
			Help: "Number of subscribers registered with the event bus",
		},
	)

	// Job metrics
	JobsRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "monagent_jobs_running",
			Help: "Number of jobs currently pending or running",
		},
	)

	JobsCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "monagent_jobs_completed_total",
			Help: "Total number of completed jobs by command and outcome",
		},
		[]string{"command", "success"},
	)

	JobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "monagent_job_duration_seconds",
			Help:    "Job execution time in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"command"},
	)

	// Heartbeat metrics
	HeartbeatDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "monagent_heartbeat_duration_seconds",
			Help:    "Time taken by one heartbeat round in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ServicesProbed = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "monagent_services_probed",
			Help: "Number of local services that answered the last heartbeat round",
		},
	)
)

func init() {
	prometheus.MustRegister(EventsEmitted)
	prometheus.MustRegister(Subscribers)
	prometheus.MustRegister(JobsRunning)
	prometheus.MustRegister(JobsCompleted)
	prometheus.MustRegister(JobDuration)
	prometheus.MustRegister(HeartbeatDuration)
	prometheus.MustRegister(ServicesProbed)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
