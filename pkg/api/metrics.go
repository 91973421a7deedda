package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricHTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "logoforge",
		Name:      "http_requests_total",
		Help:      "HTTP requests handled, by method and route pattern.",
	}, []string{"method", "route"})

	metricRunsSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "logoforge",
		Name:      "runs_submitted_total",
		Help:      "Generation runs accepted and recorded.",
	})

	metricWebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "logoforge",
		Name:      "webhook_events_total",
		Help:      "Webhook events received, by outcome.",
	}, []string{"outcome"})

	metricUploads = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "logoforge",
		Name:      "uploads_total",
		Help:      "Logo uploads stored.",
	})
)

const (
	webhookOutcomeApplied   = "applied"
	webhookOutcomeMalformed = "malformed"
	webhookOutcomeFailed    = "failed"
)
