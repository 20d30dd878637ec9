// Package metrics provides Prometheus metrics for monitoring the
// progress-record service.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// httpRequestsTotal counts handled HTTP requests.
	// Labels:
	//   - method: HTTP method
	//   - path: registered route pattern (not the raw URL)
	//   - status: response status code
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "capworks_http_requests_total",
			Help: "Total number of handled HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// httpRequestDuration records request latency per route.
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "capworks_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"method", "path"},
	)

	// storeOperationDuration records how long a store access held the
	// exclusive file lock, per dataset and operation kind.
	storeOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "capworks_store_operation_duration_seconds",
			Help:    "Duration of record store operations in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"dataset", "op"},
	)

	// loginAttemptsTotal counts login outcomes.
	// Labels:
	//   - result: success, invalid_credentials, inactive, rate_limited
	loginAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "capworks_login_attempts_total",
			Help: "Total number of login attempts by outcome",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpRequestDuration)
	prometheus.MustRegister(storeOperationDuration)
	prometheus.MustRegister(loginAttemptsTotal)
}

// RecordHTTPRequest records a completed HTTP request.
func RecordHTTPRequest(method, path, status string) {
	httpRequestsTotal.WithLabelValues(method, path, status).Inc()
}

// ObserveHTTPDuration records request latency for a route.
func ObserveHTTPDuration(method, path string, seconds float64) {
	httpRequestDuration.WithLabelValues(method, path).Observe(seconds)
}

// ObserveStoreOperation records the time a store operation held the lock.
func ObserveStoreOperation(dataset, op string, seconds float64) {
	storeOperationDuration.WithLabelValues(dataset, op).Observe(seconds)
}

// RecordLoginAttempt records a login outcome.
func RecordLoginAttempt(result string) {
	loginAttemptsTotal.WithLabelValues(result).Inc()
}
