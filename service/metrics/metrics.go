package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CheckoutsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkout_sessions_started_total",
		Help: "Checkout sessions created, demo-blocked ones included.",
	})

	CheckoutsTerminal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_sessions_terminal_total",
		Help: "Checkout sessions by terminal state.",
	}, []string{"state"})

	PollAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkout_poll_attempts_total",
		Help: "Gateway status polls issued by PIX sessions.",
	})

	WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_webhook_events_total",
		Help: "Gateway webhook deliveries by processing result.",
	}, []string{"result"})
)
