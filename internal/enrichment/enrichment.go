// Package enrichment extracts structured fields from raw listings and applies
// the validity gate.
package enrichment

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	apperrors "immo-alerts/internal/common/errors"
	"immo-alerts/internal/common/logger"
	"immo-alerts/internal/common/metrics"
	"immo-alerts/internal/models"
	"immo-alerts/internal/store"
)

// Extractor is the external classifier.
type Extractor interface {
	Extract(ctx context.Context, rawText string) (*models.Extraction, error)
}

// Indexer mirrors valid listings for search.
type Indexer interface {
	Index(ctx context.Context, listing *models.Listing) error
}

type Config struct {
	ConfidenceThreshold float64
	MinPrice            float64
	MaxPrice            float64
	BatchSize           int
	Concurrency         int
	Timeout             time.Duration
}

// Valid is the quality gate: enough confidence, a price or a location, and a
// price inside the sane range when present.
func (c Config) Valid(ext *models.Extraction) bool {
	if ext == nil || ext.Confidence < c.ConfidenceThreshold {
		return false
	}
	hasLocation := ext.Location != nil && *ext.Location != ""
	if ext.Price == nil && !hasLocation {
		return false
	}
	if ext.Price != nil {
		if *ext.Price < c.MinPrice || (c.MaxPrice > 0 && *ext.Price > c.MaxPrice) {
			return false
		}
	}
	return true
}

type Result struct {
	Processed int `json:"processed"`
	Valid     int `json:"valid"`
	Invalid   int `json:"invalid"`
	Degraded  int `json:"degraded"`
	Skipped   int `json:"skipped"`
	Indexed   int `json:"indexed"`
	Errors    int `json:"errors"`
}

func (r Result) Summary() map[string]int {
	return map[string]int{
		"processed": r.Processed,
		"valid":     r.Valid,
		"invalid":   r.Invalid,
		"degraded":  r.Degraded,
		"skipped":   r.Skipped,
		"indexed":   r.Indexed,
		"errors":    r.Errors,
	}
}

type Service struct {
	listings  store.ListingStore
	extractor Extractor
	indexer   Indexer
	config    Config
	logger    logger.Logger
	now       func() time.Time
}

// NewService builds the enrichment pass. indexer may be nil.
func NewService(listings store.ListingStore, extractor Extractor, indexer Indexer, cfg Config, log logger.Logger) *Service {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Service{
		listings:  listings,
		extractor: extractor,
		indexer:   indexer,
		config:    cfg,
		logger:    log.WithFields(map[string]interface{}{"component": "enrichment"}),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

type outcome int

const (
	outcomeValid outcome = iota
	outcomeInvalid
	outcomeDegraded
	outcomeSkipped
	outcomeError
)

var outcomeLabels = map[outcome]string{
	outcomeValid:    "valid",
	outcomeInvalid:  "invalid",
	outcomeDegraded: "degraded",
	outcomeSkipped:  "skipped",
	outcomeError:    "error",
}

// Run enriches one page of pending listings with bounded concurrency.
func (s *Service) Run(ctx context.Context) (Result, error) {
	pending, err := s.listings.ListUnenriched(ctx, s.config.BatchSize)
	if err != nil {
		return Result{}, err
	}

	var (
		mu  sync.Mutex
		res Result
	)
	p := pool.New().WithMaxGoroutines(s.config.Concurrency)
	for _, l := range pending {
		p.Go(func() {
			out, indexed := s.enrich(ctx, l)
			metrics.ListingsEnriched.WithLabelValues(outcomeLabels[out]).Inc()

			mu.Lock()
			defer mu.Unlock()
			res.Processed++
			if indexed {
				res.Indexed++
			}
			switch out {
			case outcomeValid:
				res.Valid++
			case outcomeInvalid:
				res.Invalid++
			case outcomeDegraded:
				res.Degraded++
			case outcomeSkipped:
				res.Skipped++
			case outcomeError:
				res.Errors++
			}
		})
	}
	p.Wait()

	s.logger.Info("enrichment finished", map[string]interface{}{
		"processed": res.Processed,
		"valid":     res.Valid,
		"degraded":  res.Degraded,
		"skipped":   res.Skipped,
	})
	return res, nil
}

func (s *Service) enrich(ctx context.Context, l *models.Listing) (outcome, bool) {
	log := s.logger.WithFields(map[string]interface{}{"listingId": l.ID})

	ext, err := s.extract(ctx, l.RawText)
	degraded := false
	if err != nil {
		if ctx.Err() != nil || !isTimeout(err) {
			log.Warn("extraction failed, retrying next pass", map[string]interface{}{"error": err.Error()})
			return outcomeSkipped, false
		}
		log.Warn("extraction timed out, storing degraded result", nil)
		ext, degraded = models.DegradedExtraction(), true
	}

	valid := !degraded && s.config.Valid(ext)
	at := s.now()
	applied, err := s.listings.ApplyEnrichment(ctx, l.ID, ext, valid, at)
	if err != nil {
		log.Error("failed to store enrichment", map[string]interface{}{"error": err.Error()})
		return outcomeError, false
	}
	if !applied {
		return outcomeSkipped, false
	}

	switch {
	case degraded:
		return outcomeDegraded, false
	case !valid:
		return outcomeInvalid, false
	}
	return outcomeValid, s.index(ctx, withExtraction(l, ext, at), log)
}

func (s *Service) extract(ctx context.Context, text string) (*models.Extraction, error) {
	if s.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.Timeout)
		defer cancel()
	}
	return s.extractor.Extract(ctx, text)
}

func (s *Service) index(ctx context.Context, l *models.Listing, log logger.Logger) bool {
	if s.indexer == nil {
		return false
	}
	if err := s.indexer.Index(ctx, l); err != nil {
		log.Warn("search indexing failed", map[string]interface{}{"error": err.Error()})
		return false
	}
	return true
}

func isTimeout(err error) bool {
	return apperrors.HasCode(err, apperrors.ErrCodeExtractionTimeout) || errors.Is(err, context.DeadlineExceeded)
}

func withExtraction(l *models.Listing, ext *models.Extraction, at time.Time) *models.Listing {
	out := *l
	out.Price = ext.Price
	out.Location = ext.Location
	out.Surface = ext.Surface
	out.Rooms = ext.Rooms
	out.PropertyType = ext.PropertyType
	out.Furnished = ext.Furnished
	out.ConfidenceScore = &ext.Confidence
	out.IsValid = true
	out.AIEnriched = true
	out.EnrichedAt = &at
	return &out
}
