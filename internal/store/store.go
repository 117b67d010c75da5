// Package store defines the persistence contracts used by the engines.
package store

import (
	"context"
	"errors"
	"time"

	"immo-alerts/internal/models"
)

var (
	ErrNotFound      = errors.New("RESOURCE_NOT_FOUND")
	ErrAlreadyExists = errors.New("RESOURCE_ALREADY_EXISTS")
)

type UserStore interface {
	GetByPhone(ctx context.Context, phone string) (*models.User, error)
	GetByID(ctx context.Context, id string) (*models.User, error)
	// Create inserts a user in IDLE. A soft-deleted user with the same phone is reactivated.
	Create(ctx context.Context, user *models.User) error
	UpdateState(ctx context.Context, id string, state models.ConversationState) error
	SetActive(ctx context.Context, id string, active bool) error
	Touch(ctx context.Context, id string, at time.Time) error
	SoftDelete(ctx context.Context, id string, at time.Time) error
	// ListActiveSubscribers returns non-deleted users with isActive=true that have criteria.
	ListActiveSubscribers(ctx context.Context) ([]models.Subscriber, error)
}

type CriteriaStore interface {
	Get(ctx context.Context, userID string) (*models.Criteria, error)
	// Replace overwrites the whole criteria row.
	Replace(ctx context.Context, criteria *models.Criteria) error
}

type ListingStore interface {
	// InsertIfAbsent returns false when (source, postId) already exists.
	InsertIfAbsent(ctx context.Context, listing *models.Listing) (bool, error)
	GetByID(ctx context.Context, id string) (*models.Listing, error)
	ListUnenriched(ctx context.Context, limit int) ([]*models.Listing, error)
	// ApplyEnrichment sets extracted fields once; false when the listing is missing or already enriched.
	ApplyEnrichment(ctx context.Context, id string, ext *models.Extraction, valid bool, at time.Time) (bool, error)
	// ListEligible returns valid, enriched listings not yet marked matched and
	// enriched at or after since, oldest enrichment first.
	ListEligible(ctx context.Context, since time.Time, limit int) ([]*models.Listing, error)
	// MarkMatched records that a matching pass covered the listing, taking it
	// out of ListEligible. Marking twice keeps the first time.
	MarkMatched(ctx context.Context, id string, at time.Time) error
	// AppendSentTo adds userID to sentToUsers atomically with set semantics.
	AppendSentTo(ctx context.Context, listingID, userID string) error
}

type MatchStore interface {
	// CreateIfAbsent returns false when a match for (userId, listingId) already exists.
	CreateIfAbsent(ctx context.Context, match *models.Match) (bool, error)
	Get(ctx context.Context, id string) (*models.Match, error)
	GetByPair(ctx context.Context, userID, listingID string) (*models.Match, error)
	// MarkNotified returns false when the match was already notified.
	MarkNotified(ctx context.Context, id string, at time.Time) (bool, error)
	MarkViewed(ctx context.Context, id string) error
	MarkInterested(ctx context.Context, id string) error
}

type TurnStore interface {
	Append(ctx context.Context, turn *models.ConversationTurn) error
	// ListRecent returns the newest turns first.
	ListRecent(ctx context.Context, userID string, limit int) ([]models.ConversationTurn, error)
}

type NotificationStore interface {
	Record(ctx context.Context, n *models.Notification) error
	ListByMatch(ctx context.Context, matchID string) ([]models.Notification, error)
}

// Set bundles every store behind one backend.
type Set struct {
	Users         UserStore
	Criteria      CriteriaStore
	Listings      ListingStore
	Matches       MatchStore
	Turns         TurnStore
	Notifications NotificationStore
}
