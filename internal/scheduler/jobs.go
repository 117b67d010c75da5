package scheduler

import (
	"context"
	"time"

	"immo-alerts/internal/enrichment"
	"immo-alerts/internal/ingest"
	"immo-alerts/internal/matching"
)

const (
	JobIngest = "ingest"
	JobEnrich = "enrich"
	JobMatch  = "match"
)

type IngestRunner interface {
	Run(ctx context.Context) (ingest.Result, error)
}

type EnrichRunner interface {
	Run(ctx context.Context) (enrichment.Result, error)
}

type MatchRunner interface {
	ProcessAll(ctx context.Context) (matching.Result, error)
}

// IngestJob queues an enrichment pass whenever new listings were inserted.
func IngestJob(r IngestRunner, every time.Duration) Job {
	return Job{
		Name:     JobIngest,
		Interval: every,
		Run: func(ctx context.Context) (map[string]int, error) {
			res, err := r.Run(ctx)
			return res.Summary(), err
		},
		Then: func(result map[string]int) string {
			if result["inserted"] > 0 {
				return JobEnrich
			}
			return ""
		},
	}
}

func EnrichJob(r EnrichRunner, every time.Duration) Job {
	return Job{
		Name:     JobEnrich,
		Interval: every,
		Run: func(ctx context.Context) (map[string]int, error) {
			res, err := r.Run(ctx)
			return res.Summary(), err
		},
	}
}

func MatchJob(r MatchRunner, every time.Duration) Job {
	return Job{
		Name:     JobMatch,
		Interval: every,
		Run: func(ctx context.Context) (map[string]int, error) {
			res, err := r.ProcessAll(ctx)
			return res.Summary(), err
		},
	}
}
