package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PollingSessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "deposit_polling_sessions_started_total",
		Help: "Number of deposit polling sessions started",
	})

	PollingOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deposit_polling_outcomes_total",
		Help: "Terminal outcomes of deposit polling sessions",
	}, []string{"outcome"}) // confirmed / timeout

	PollingFetchErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deposit_polling_fetch_errors_total",
		Help: "Deposit status fetches that failed after retries, by error kind",
	}, []string{"kind"})

	TimeToConfirm = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "deposit_polling_time_to_confirm_seconds",
		Help:    "Time from session start to observed confirmation",
		Buckets: prometheus.ExponentialBuckets(5, 2, 10), // 5s .. ~43m
	})

	IntentLoads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pending_intent_loads_total",
		Help: "Pending intent load results",
	}, []string{"result"}) // found / absent / expired / corrupt / error

	DepositTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deposit_status_transitions_total",
		Help: "Deposit status transitions applied by the backend",
	}, []string{"status"})

	HTTPRequests = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "api_http_request_duration_seconds",
		Help:    "API request latency by route and status code",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)
