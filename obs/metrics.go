package obs

import "github.com/prometheus/client_golang/prometheus"

// Metrics aggregates the engine's counters. Webhook results are labelled so
// operators can alert on stuck requests (result=failed) without log diving.
type Metrics struct {
	WebhookEvents   *prometheus.CounterVec // event, result=processed|duplicate|failed
	WebhookRejected *prometheus.CounterVec // reason=unauthenticated|malformed|unknown_event
	WebhookLatency  *prometheus.HistogramVec

	RequestsCreated   prometheus.Counter
	RequestsCancelled prometheus.Counter
	RequestsExpired   prometheus.Counter
}

func NewMetrics() *Metrics {
	return &Metrics{
		WebhookEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signflow_webhook_events_total",
				Help: "Webhook events after authentication, by type and result",
			},
			[]string{"event", "result"},
		),
		WebhookRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signflow_webhook_rejected_total",
				Help: "Webhook deliveries rejected before dispatch",
			},
			[]string{"reason"},
		),
		WebhookLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "signflow_webhook_latency_ms",
				Help:    "Webhook handling latency (ms)",
				Buckets: prometheus.ExponentialBuckets(1, 2, 12),
			},
			[]string{"event"},
		),
		RequestsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signflow_requests_created_total",
			Help: "Signature requests created",
		}),
		RequestsCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signflow_requests_cancelled_total",
			Help: "Signature requests cancelled by their initiator",
		}),
		RequestsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signflow_requests_expired_total",
			Help: "Signature requests expired by the sweeper",
		}),
	}
}

// Register attaches all collectors to the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) {
	reg.MustRegister(
		m.WebhookEvents,
		m.WebhookRejected,
		m.WebhookLatency,
		m.RequestsCreated,
		m.RequestsCancelled,
		m.RequestsExpired,
	)
}
