package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SubscriptionsActive is the gauge of live subscriptions by kind.
	SubscriptionsActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "keepto_subscriptions_active",
		Help: "Number of live realtime subscriptions",
	}, []string{"kind"})

	// SubscriptionsOpened counts subscriptions opened by kind.
	SubscriptionsOpened = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "keepto_subscriptions_opened_total",
		Help: "Total realtime subscriptions opened",
	}, []string{"kind"})

	// SubscriptionsClosed counts subscriptions released by kind.
	SubscriptionsClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "keepto_subscriptions_closed_total",
		Help: "Total realtime subscriptions released",
	}, []string{"kind"})

	// SubscriptionErrors counts listener errors by kind.
	SubscriptionErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "keepto_subscription_errors_total",
		Help: "Total realtime subscription errors",
	}, []string{"kind"})

	// TransactionsTotal counts interaction transactions by operation and outcome.
	TransactionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "keepto_transactions_total",
		Help: "Total interaction transactions",
	}, []string{"operation", "outcome"})

	// TransactionLatency records interaction transaction latency.
	TransactionLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "keepto_transaction_latency_seconds",
		Help:    "Interaction transaction latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	// ChangefeedErrors counts change-feed transport errors by backend.
	ChangefeedErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "keepto_changefeed_errors_total",
		Help: "Total change feed publish/receive errors",
	}, []string{"backend", "operation"})

	// RedisErrors counts failed redis commands by kind.
	RedisErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "keepto_redis_errors_total",
		Help: "Total failed redis commands",
	}, []string{"kind"})

	// UploadsTotal counts image uploads by backend and outcome.
	UploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "keepto_uploads_total",
		Help: "Total image uploads",
	}, []string{"backend", "outcome"})

	// WebSocketConnections is the gauge of open view streams.
	WebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "keepto_websocket_connections",
		Help: "Number of open websocket view streams",
	})

	// WebSocketBackpressureDrops counts frames dropped because a client is too slow.
	WebSocketBackpressureDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "keepto_websocket_backpressure_drops_total",
		Help: "Total websocket frames dropped due to backpressure",
	}, []string{"reason"})
)

// Outcome labels a finished operation for metrics.
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
