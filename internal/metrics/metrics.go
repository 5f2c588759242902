package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "boxoffice"

var (
	CheckoutsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "checkouts_total",
		Help:      "Checkout attempts by result.",
	}, []string{"result"})

	CheckoutDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "checkout_duration_seconds",
		Help:      "Time spent validating and committing a checkout.",
		Buckets:   prometheus.DefBuckets,
	})

	LedgerAdjustments = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ledger_adjustments_total",
		Help:      "Inventory ledger adjustments by direction and result.",
	}, []string{"direction", "result"})

	CartRejections = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cart_rejections_total",
		Help:      "Cart additions rejected for insufficient availability.",
	})

	WebhooksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "webhooks_total",
		Help:      "Gateway notifications received by signature validity.",
	}, []string{"signature"})

	ReconciliationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconciliations_total",
		Help:      "Reconciled notifications by outcome and processing status.",
	}, []string{"outcome", "status"})

	ReconcileDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "reconcile_duration_seconds",
		Help:      "Time spent applying one notification.",
		Buckets:   prometheus.DefBuckets,
	})

	QueueRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "queue_retries_total",
		Help:      "Reconcile task retries and exhaustions.",
	}, []string{"result"})

	BookingsReleased = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bookings_released_total",
		Help:      "Expired pending bookings released back to the ledger.",
	})

	TicketGroups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ticket_groups_total",
		Help:      "Ticket groups issued by result.",
	}, []string{"result"})

	EmailsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ticket_emails_total",
		Help:      "Ticket e-mails dispatched by result.",
	}, []string{"result"})
)

func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
