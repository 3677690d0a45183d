package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "carpool"

var (
	MatchingCycles = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "matching_cycles_total", Help: "Matching cycles by result"},
		[]string{"result"},
	)
	MatchingCycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "matching_cycle_duration_seconds",
		Help:      "Wall time of one matching cycle",
		Buckets:   prometheus.DefBuckets,
	})
	GroupsFormed    = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "groups_formed_total", Help: "Total match groups formed"})
	RequestsReaped  = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "requests_reaped_total", Help: "Pending requests removed on timeout"})
	PendingRequests = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "pending_requests", Help: "Pending requests seen by the last cycle"})

	GroupTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "group_transitions_total", Help: "Match group status transitions"},
		[]string{"to"},
	)
	Notifications = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "notifications_total", Help: "Notification deliveries by kind and result"},
		[]string{"kind", "result"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
