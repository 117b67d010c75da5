// Package ingest pulls raw posts from the scraper into the listing store.
package ingest

import (
	"context"
	"errors"
	"time"

	"immo-alerts/internal/common/logger"
	"immo-alerts/internal/common/metrics"
	"immo-alerts/internal/clients/scraper"
	"immo-alerts/internal/models"
	"immo-alerts/internal/store"
)

// Fetcher returns one page of posts for a group.
type Fetcher interface {
	FetchPosts(ctx context.Context, group, pageToken string) (*scraper.Page, error)
}

type Config struct {
	Source   string
	Groups   []string
	MaxPages int
	Timeout  time.Duration
}

type Result struct {
	Groups     int `json:"groups"`
	Pages      int `json:"pages"`
	Fetched    int `json:"fetched"`
	Inserted   int `json:"inserted"`
	Duplicates int `json:"duplicates"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
}

func (r Result) Summary() map[string]int {
	return map[string]int{
		"groups":     r.Groups,
		"pages":      r.Pages,
		"fetched":    r.Fetched,
		"inserted":   r.Inserted,
		"duplicates": r.Duplicates,
		"skipped":    r.Skipped,
		"failed":     r.Failed,
	}
}

type Service struct {
	listings store.ListingStore
	fetcher  Fetcher
	config   Config
	logger   logger.Logger
}

func NewService(listings store.ListingStore, fetcher Fetcher, cfg Config, log logger.Logger) *Service {
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 1
	}
	if cfg.Source == "" {
		cfg.Source = "facebook"
	}
	return &Service{
		listings: listings,
		fetcher:  fetcher,
		config:   cfg,
		logger:   log.WithFields(map[string]interface{}{"component": "ingest", "source": cfg.Source}),
	}
}

// Run ingests every configured group. A failing group is logged and skipped;
// only a storage failure aborts the run.
func (s *Service) Run(ctx context.Context) (Result, error) {
	var res Result
	for _, group := range s.config.Groups {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Groups++
		if err := s.ingestGroup(ctx, group, &res); err != nil {
			var sf *storeFailure
			if errors.As(err, &sf) {
				return res, sf.err
			}
			res.Failed++
			s.logger.Warn("group ingestion failed", map[string]interface{}{
				"group": group,
				"error": err.Error(),
			})
		}
	}

	s.logger.Info("ingestion finished", map[string]interface{}{
		"inserted":   res.Inserted,
		"duplicates": res.Duplicates,
		"failed":     res.Failed,
	})
	return res, nil
}

func (s *Service) ingestGroup(ctx context.Context, group string, res *Result) error {
	seen := map[string]bool{}
	token := ""
	for page := 0; page < s.config.MaxPages; page++ {
		p, err := s.fetch(ctx, group, token)
		if err != nil {
			return err
		}
		res.Pages++

		for _, post := range p.Posts {
			res.Fetched++
			if post.ID == "" || post.Text == "" {
				res.Skipped++
				metrics.ListingsIngested.WithLabelValues("skipped").Inc()
				continue
			}
			inserted, err := s.listings.InsertIfAbsent(ctx, s.toListing(group, post))
			if err != nil {
				return &storeFailure{err: err}
			}
			if inserted {
				res.Inserted++
				metrics.ListingsIngested.WithLabelValues("inserted").Inc()
			} else {
				res.Duplicates++
				metrics.ListingsIngested.WithLabelValues("duplicate").Inc()
			}
		}

		if len(p.Posts) == 0 || p.NextPageToken == "" || seen[p.NextPageToken] {
			return nil
		}
		seen[p.NextPageToken] = true
		token = p.NextPageToken
	}
	return nil
}

// storeFailure marks errors that abort the whole run.
type storeFailure struct{ err error }

func (f *storeFailure) Error() string { return f.err.Error() }
func (f *storeFailure) Unwrap() error { return f.err }

func (s *Service) fetch(ctx context.Context, group, token string) (*scraper.Page, error) {
	if s.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.Timeout)
		defer cancel()
	}
	return s.fetcher.FetchPosts(ctx, group, token)
}

func (s *Service) toListing(group string, p scraper.Post) *models.Listing {
	return &models.Listing{
		Source:      s.config.Source,
		PostID:      p.ID,
		GroupHandle: group,
		PostURL:     p.URL,
		Author:      p.Author,
		RawText:     p.Text,
		Images:      p.Images,
		PostedAt:    p.PostedAt,
	}
}
