package metrics

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	queueOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "indexator",
			Name:      "queue_operations_total",
			Help:      "Queue operations by kind.",
		},
		[]string{"op"},
	)

	itemsEnqueued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "indexator",
			Name:      "items_enqueued_total",
			Help:      "URLs enqueued per site.",
		},
		[]string{"site"},
	)

	queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "indexator",
			Name:      "queue_items",
			Help:      "Queue items per site and status.",
		},
		[]string{"site", "status"},
	)

	quotaRemaining = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "indexator",
			Name:      "quota_remaining_today",
			Help:      "Remaining daily quota per integration.",
		},
		[]string{"integration"},
	)

	quotaUsed = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "indexator",
			Name:      "quota_used_today",
			Help:      "Successful submissions today per integration.",
		},
		[]string{"integration"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "indexator",
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(queueOps, itemsEnqueued, queueDepth, quotaRemaining, quotaUsed, httpRequests)
	})
}

// IncOp increments the counter for a queue operation.
func IncOp(op string) {
	queueOps.WithLabelValues(op).Inc()
}

// AddEnqueued adds n to the enqueued counter for a site.
func AddEnqueued(siteID int64, n int) {
	itemsEnqueued.WithLabelValues(strconv.FormatInt(siteID, 10)).Add(float64(n))
}

// SetQueueDepth sets the per-status depth gauge for a site.
func SetQueueDepth(siteID int64, status string, n int) {
	queueDepth.WithLabelValues(strconv.FormatInt(siteID, 10), status).Set(float64(n))
}

// SetQuota sets the used/remaining gauges for an integration.
func SetQuota(name string, used, remaining int) {
	quotaUsed.WithLabelValues(name).Set(float64(used))
	quotaRemaining.WithLabelValues(name).Set(float64(remaining))
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}
