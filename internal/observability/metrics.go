package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	APIRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "postflow_api_requests_total", Help: "API requests"},
		[]string{"endpoint", "status"},
	)
	ScanCycles = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "postflow_scan_cycles_total", Help: "Completed scan cycles"},
	)
	Claims = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "postflow_claims_total", Help: "Claim attempt results"},
		[]string{"result"},
	)
	Reclaims = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "postflow_stale_reclaims_total", Help: "Stale claims reset to pending"},
	)
	PublishAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "postflow_publish_attempts_total", Help: "Publish attempt outcomes"},
		[]string{"platform", "result"},
	)
	PublishLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "postflow_publish_latency_seconds", Help: "Platform publish call latency"},
	)
	RateLimited = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "postflow_rate_limited_total", Help: "Publishes deferred by the shared rate window"},
		[]string{"platform"},
	)
	TokenRefreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "postflow_token_refreshes_total", Help: "Token refresh results"},
		[]string{"result"},
	)
	Fallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "postflow_fallbacks_total", Help: "Manual-publish fallbacks sent"},
		[]string{"platform"},
	)
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(APIRequests, ScanCycles, Claims, Reclaims, PublishAttempts,
		PublishLatency, RateLimited, TokenRefreshes, Fallbacks)
}
