// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ListingsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alerts_listings_ingested_total",
			Help: "Raw listings fetched from the scraper, by outcome",
		},
		[]string{"outcome"}, // inserted | duplicate | skipped
	)

	ListingsEnriched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alerts_listings_enriched_total",
			Help: "Listings processed by enrichment, by outcome",
		},
		[]string{"outcome"}, // valid | invalid | degraded | skipped
	)

	MatchesCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "alerts_matches_created_total",
			Help: "Matches persisted by the match engine",
		},
	)

	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alerts_notifications_total",
			Help: "Notification attempts, by channel and status",
		},
		[]string{"channel", "status"},
	)

	ConversationMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alerts_conversation_messages_total",
			Help: "Conversation turns, by direction",
		},
		[]string{"direction"},
	)

	JobRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alerts_job_runs_total",
			Help: "Scheduler job runs, by job and status",
		},
		[]string{"job", "status"},
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "alerts_job_duration_seconds",
			Help:    "Duration of scheduler job runs in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"job"},
	)

	JobsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "alerts_jobs_active",
			Help: "Number of running jobs per job name",
		},
		[]string{"job"},
	)
)
