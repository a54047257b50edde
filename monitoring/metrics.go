package monitoring

import (
	"context"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

var (
	reconcileOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconcile_outcomes_total",
			Help: "Parsed payment notifications by reconciliation outcome",
		},
		[]string{"kind", "outcome"},
	)

	checkoutOrders = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkout_orders_total",
			Help: "Ticket checkout attempts by result",
		},
		[]string{"status"},
	)

	gateScans = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gate_scans_total",
			Help: "Pass verifications by gate and result",
		},
		[]string{"gate", "result"},
	)

	reviewBacklog = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "manual_review_backlog",
			Help: "Payments currently waiting for manual review",
		},
	)

	goroutineCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "active_goroutines_total",
			Help: "Current number of active goroutines",
		},
	)

	reconcileDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "reconcile_duration_seconds",
			Help:    "Time spent matching one parsed notification",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
	)
)

// Key the reconciliation service keeps the backlog count under.
const ReviewBacklogKey = "reconcile:review_backlog"

type Monitor struct {
	redis *redis.Client
}

func NewMonitor(redisClient *redis.Client) *Monitor {
	monitor := &Monitor{redis: redisClient}

	go monitor.collectMetrics()

	return monitor
}

func (m *Monitor) collectMetrics() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		ctx := context.Background()

		m.collectBacklogMetrics(ctx)
		goroutineCount.Set(float64(runtime.NumGoroutine()))
	}
}

func (m *Monitor) collectBacklogMetrics(ctx context.Context) {
	if m.redis == nil {
		return
	}
	count, err := m.redis.Get(ctx, ReviewBacklogKey).Int64()
	if err != nil {
		return
	}
	reviewBacklog.Set(float64(count))
}

// Track reconciliation outcomes
func (m *Monitor) TrackReconcileOutcome(kind, outcome string, duration time.Duration) {
	reconcileOutcomes.WithLabelValues(kind, outcome).Inc()
	reconcileDuration.Observe(duration.Seconds())
}

// Track checkout attempts
func (m *Monitor) TrackCheckout(status string) {
	checkoutOrders.WithLabelValues(status).Inc()
}

// Track gate verifications
func (m *Monitor) TrackGateScan(gate, result string) {
	gateScans.WithLabelValues(gate, result).Inc()
}
