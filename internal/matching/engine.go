// Package matching scores eligible listings against every active subscriber,
// persists at most one match per (user, listing) and hands strong matches to
// the notifier.
package matching

import (
	"context"
	"time"

	apperrors "immo-alerts/internal/common/errors"
	"immo-alerts/internal/common/logger"
	"immo-alerts/internal/common/metrics"
	"immo-alerts/internal/models"
	"immo-alerts/internal/scoring"
	"immo-alerts/internal/store"
)

// Notifier delivers a single match. A nil error means the user was notified.
type Notifier interface {
	Notify(ctx context.Context, match *models.Match) error
}

type Config struct {
	MatchThreshold  float64
	NotifyThreshold float64
	BatchSize       int
	MaxListingAge   time.Duration
}

// Result aggregates one ProcessAll pass.
type Result struct {
	Listings int `json:"listings"`
	Matches  int `json:"matches"`
	Notified int `json:"notified"`
	Errors   int `json:"errors"`
}

// Summary flattens the result for job status and BPMN variables.
func (r Result) Summary() map[string]int {
	return map[string]int{
		"listings": r.Listings,
		"matches":  r.Matches,
		"notified": r.Notified,
		"errors":   r.Errors,
	}
}

type Engine struct {
	users    store.UserStore
	listings store.ListingStore
	matches  store.MatchStore
	notifier Notifier
	config   Config
	logger   logger.Logger
	now      func() time.Time
}

func NewEngine(stores store.Set, notifier Notifier, cfg Config, log logger.Logger) *Engine {
	return &Engine{
		users:    stores.Users,
		listings: stores.Listings,
		matches:  stores.Matches,
		notifier: notifier,
		config:   cfg,
		logger:   log.WithFields(map[string]interface{}{"component": "matching"}),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// ProcessListing matches one listing and returns how many users were notified.
func (e *Engine) ProcessListing(ctx context.Context, listing *models.Listing) (int, error) {
	if !listing.Eligible() {
		return 0, apperrors.NewListingNotEligibleError(listing.ID)
	}

	subscribers, err := e.users.ListActiveSubscribers(ctx)
	if err != nil {
		return 0, err
	}

	res, complete := e.processListing(ctx, listing, subscribers)
	if complete {
		e.markMatched(ctx, listing, &res)
	}
	return res.Notified, nil
}

// ProcessAll runs one page of the oldest listings no pass has covered yet. It
// never paginates; each covered listing is marked, so the next invocation
// takes the following page.
func (e *Engine) ProcessAll(ctx context.Context) (Result, error) {
	since := e.now().Add(-e.config.MaxListingAge)
	listings, err := e.listings.ListEligible(ctx, since, e.config.BatchSize)
	if err != nil {
		return Result{}, err
	}
	if len(listings) == 0 {
		return Result{}, nil
	}

	subscribers, err := e.users.ListActiveSubscribers(ctx)
	if err != nil {
		return Result{}, err
	}

	var total Result
	for _, l := range listings {
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
		r, complete := e.processListing(ctx, l, subscribers)
		if complete {
			e.markMatched(ctx, l, &r)
		}
		total.Listings++
		total.Matches += r.Matches
		total.Notified += r.Notified
		total.Errors += r.Errors
	}

	e.logger.Info("matching pass finished", map[string]interface{}{
		"listings":    total.Listings,
		"subscribers": len(subscribers),
		"matches":     total.Matches,
		"notified":    total.Notified,
		"errors":      total.Errors,
	})
	return total, nil
}

// markMatched takes the listing out of later pages.
func (e *Engine) markMatched(ctx context.Context, listing *models.Listing, res *Result) {
	if err := e.listings.MarkMatched(ctx, listing.ID, e.now()); err != nil {
		res.Errors++
		e.logger.Error("failed to mark listing matched", map[string]interface{}{"listingId": listing.ID, "error": err})
	}
}

// processListing scores listing against every subscriber. complete is false
// when a match could not be stored, so the listing stays pending for the next pass.
func (e *Engine) processListing(ctx context.Context, listing *models.Listing, subscribers []models.Subscriber) (res Result, complete bool) {
	complete = true
	log := e.logger.WithFields(map[string]interface{}{"listingId": listing.ID})

	for i := range subscribers {
		sub := &subscribers[i]
		breakdown := scoring.Score(listing, &sub.Criteria)
		if breakdown.Total < e.config.MatchThreshold {
			continue
		}

		match := &models.Match{
			UserID:    sub.User.ID,
			ListingID: listing.ID,
			Score:     breakdown.Total,
			Reasons:   breakdown.Reasons,
			CreatedAt: e.now(),
		}
		created, err := e.matches.CreateIfAbsent(ctx, match)
		if err != nil {
			res.Errors++
			complete = false
			log.Error("failed to create match", map[string]interface{}{"userId": sub.User.ID, "error": err})
			continue
		}
		if !created {
			continue
		}
		res.Matches++
		metrics.MatchesCreated.Inc()

		if err := e.listings.AppendSentTo(ctx, listing.ID, sub.User.ID); err != nil {
			res.Errors++
			log.Warn("failed to record recipient on listing", map[string]interface{}{"userId": sub.User.ID, "error": err})
		}

		if breakdown.Total < e.config.NotifyThreshold {
			continue
		}

		// A failed notification leaves the match in place, unnotified.
		if err := e.notifier.Notify(ctx, match); err != nil {
			if apperrors.HasCode(err, apperrors.ErrCodeRecipientInactive) {
				log.Debug("recipient not receiving alerts", map[string]interface{}{"userId": sub.User.ID})
				continue
			}
			res.Errors++
			log.Error("notification failed", map[string]interface{}{
				"userId":  sub.User.ID,
				"matchId": match.ID,
				"error":   err,
			})
			continue
		}
		res.Notified++
	}

	return res, complete
}
