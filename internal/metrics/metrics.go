// Package metrics provides Prometheus instrumentation for the drawpool service.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "drawpool",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "drawpool",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// DrawsOpenedTotal counts opened draws by kind (fixed, flex).
	DrawsOpenedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "drawpool",
			Name:      "draws_opened_total",
			Help:      "Total draws opened by kind.",
		},
		[]string{"kind"},
	)

	// DrawsFulfilledTotal counts fulfilled draws by kind and outcome.
	DrawsFulfilledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "drawpool",
			Name:      "draws_fulfilled_total",
			Help:      "Total draws fulfilled by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	// DrawsCancelledTotal counts operator-cancelled draws.
	DrawsCancelledTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "drawpool",
		Name:      "draws_cancelled_total",
		Help:      "Total pending draws cancelled by an operator.",
	})

	// DrawsRetriedTotal counts operator-retried draws.
	DrawsRetriedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "drawpool",
		Name:      "draws_retried_total",
		Help:      "Total pending draws re-issued by an operator.",
	})

	// PendingDraws tracks the number of draws awaiting randomness delivery.
	PendingDraws = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "drawpool",
		Name:      "pending_draws",
		Help:      "Number of draws awaiting randomness delivery.",
	})

	// ReserveCommittedFungible tracks fungible tokens committed to open draws.
	ReserveCommittedFungible = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "drawpool",
		Name:      "reserve_committed_fungible",
		Help:      "Fungible tokens committed to outstanding flex draws.",
	})

	// ReserveCommittedItems tracks flex item slots committed to open draws.
	ReserveCommittedItems = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "drawpool",
		Name:      "reserve_committed_items",
		Help:      "Flex pool item slots committed to outstanding draws.",
	})

	// ActiveWebSocketClients tracks connected WebSocket clients.
	ActiveWebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "drawpool",
			Name:      "active_websocket_clients",
			Help:      "Number of currently connected WebSocket clients.",
		},
	)

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "drawpool", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "drawpool", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "drawpool", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "drawpool", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		DrawsOpenedTotal,
		DrawsFulfilledTotal,
		DrawsCancelledTotal,
		DrawsRetriedTotal,
		PendingDraws,
		ReserveCommittedFungible,
		ReserveCommittedItems,
		ActiveWebSocketClients,
		DBOpenConnections,
		DBIdleConnections,
		DBInUseConnections,
		GoroutineCount,
	)
}

// StartDBStatsCollector periodically samples sql.DBStats and runtime goroutine
// count into Prometheus gauges. Call in a goroutine; exits when ctx is done.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			DBOpenConnections.Set(float64(stats.OpenConnections))
			DBIdleConnections.Set(float64(stats.Idle))
			DBInUseConnections.Set(float64(stats.InUse))
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // Uses route pattern, not actual path (avoids cardinality explosion)
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
