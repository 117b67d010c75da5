// Package memory is a mutex-guarded in-process store with the same atomic
// guarantees as the Postgres backend. Data does not survive a restart.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"immo-alerts/internal/models"
	"immo-alerts/internal/store"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

type db struct {
	mu            sync.RWMutex
	users         map[string]*models.User
	phones        map[string]string
	criteria      map[string]*models.Criteria
	listings      map[string]*models.Listing
	postKeys      map[string]string
	matches       map[string]*models.Match
	pairs         map[string]string
	turns         map[string][]models.ConversationTurn
	notifications []models.Notification
}

// New returns a store set backed by a single in-memory database.
func New() store.Set {
	d := &db{
		users:    map[string]*models.User{},
		phones:   map[string]string{},
		criteria: map[string]*models.Criteria{},
		listings: map[string]*models.Listing{},
		postKeys: map[string]string{},
		matches:  map[string]*models.Match{},
		pairs:    map[string]string{},
		turns:    map[string][]models.ConversationTurn{},
	}
	return store.Set{
		Users:         &userStore{d},
		Criteria:      &criteriaStore{d},
		Listings:      &listingStore{d},
		Matches:       &matchStore{d},
		Turns:         &turnStore{d},
		Notifications: &notificationStore{d},
	}
}

func now() time.Time { return time.Now().UTC() }

// ---------- users ----------

type userStore struct{ d *db }

func (s *userStore) GetByPhone(_ context.Context, phone string) (*models.User, error) {
	s.d.mu.RLock()
	defer s.d.mu.RUnlock()

	id, ok := s.d.phones[phone]
	if !ok {
		return nil, store.ErrNotFound
	}
	u := s.d.users[id]
	if u.DeletedAt != nil {
		return nil, store.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *userStore) GetByID(_ context.Context, id string) (*models.User, error) {
	s.d.mu.RLock()
	defer s.d.mu.RUnlock()

	u, ok := s.d.users[id]
	if !ok || u.DeletedAt != nil {
		return nil, store.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *userStore) Create(_ context.Context, user *models.User) error {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()

	ts := now()
	if id, ok := s.d.phones[user.Phone]; ok {
		existing := s.d.users[id]
		if existing.DeletedAt == nil {
			return store.ErrAlreadyExists
		}
		existing.DeletedAt = nil
		existing.State = models.StateIdle
		existing.IsActive = false
		existing.UpdatedAt = ts
		*user = *existing
		return nil
	}

	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	user.State = models.StateIdle
	user.IsActive = false
	user.CreatedAt, user.UpdatedAt = ts, ts

	cp := *user
	s.d.users[user.ID] = &cp
	s.d.phones[user.Phone] = user.ID
	return nil
}

func (s *userStore) mutate(id string, fn func(u *models.User)) error {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()

	u, ok := s.d.users[id]
	if !ok || u.DeletedAt != nil {
		return store.ErrNotFound
	}
	fn(u)
	u.UpdatedAt = now()
	return nil
}

func (s *userStore) UpdateState(_ context.Context, id string, state models.ConversationState) error {
	return s.mutate(id, func(u *models.User) { u.State = state })
}

func (s *userStore) SetActive(_ context.Context, id string, active bool) error {
	return s.mutate(id, func(u *models.User) { u.IsActive = active })
}

func (s *userStore) Touch(_ context.Context, id string, at time.Time) error {
	return s.mutate(id, func(u *models.User) { u.LastInteractionAt = &at })
}

func (s *userStore) SoftDelete(_ context.Context, id string, at time.Time) error {
	return s.mutate(id, func(u *models.User) {
		u.DeletedAt = &at
		u.IsActive = false
	})
}

func (s *userStore) ListActiveSubscribers(_ context.Context) ([]models.Subscriber, error) {
	s.d.mu.RLock()
	defer s.d.mu.RUnlock()

	var out []models.Subscriber
	for id, u := range s.d.users {
		if !u.IsActive || u.DeletedAt != nil {
			continue
		}
		c, ok := s.d.criteria[id]
		if !ok {
			continue
		}
		out = append(out, models.Subscriber{User: *u, Criteria: *c.Clone()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].User.CreatedAt.Before(out[j].User.CreatedAt) })
	return out, nil
}

// ---------- criteria ----------

type criteriaStore struct{ d *db }

func (s *criteriaStore) Get(_ context.Context, userID string) (*models.Criteria, error) {
	s.d.mu.RLock()
	defer s.d.mu.RUnlock()

	c, ok := s.d.criteria[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return c.Clone(), nil
}

func (s *criteriaStore) Replace(_ context.Context, criteria *models.Criteria) error {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()

	if _, ok := s.d.users[criteria.UserID]; !ok {
		return store.ErrNotFound
	}
	c := criteria.Clone()
	c.UpdatedAt = now()
	s.d.criteria[criteria.UserID] = c
	return nil
}

// ---------- listings ----------

type listingStore struct{ d *db }

func postKey(source, postID string) string { return source + "\x00" + postID }

func cloneListing(l *models.Listing) *models.Listing {
	cp := *l
	cp.Images = append([]string(nil), l.Images...)
	cp.SentToUsers = append([]string(nil), l.SentToUsers...)
	return &cp
}

func (s *listingStore) InsertIfAbsent(_ context.Context, listing *models.Listing) (bool, error) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()

	key := postKey(listing.Source, listing.PostID)
	if _, ok := s.d.postKeys[key]; ok {
		return false, nil
	}
	if listing.ID == "" {
		listing.ID = uuid.NewString()
	}
	if listing.CreatedAt.IsZero() {
		listing.CreatedAt = now()
	}
	if listing.SentToUsers == nil {
		listing.SentToUsers = []string{}
	}
	s.d.listings[listing.ID] = cloneListing(listing)
	s.d.postKeys[key] = listing.ID
	return true, nil
}

func (s *listingStore) GetByID(_ context.Context, id string) (*models.Listing, error) {
	s.d.mu.RLock()
	defer s.d.mu.RUnlock()

	l, ok := s.d.listings[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneListing(l), nil
}

func (s *listingStore) ListUnenriched(_ context.Context, limit int) ([]*models.Listing, error) {
	s.d.mu.RLock()
	defer s.d.mu.RUnlock()

	var out []*models.Listing
	for _, l := range s.d.listings {
		if !l.AIEnriched {
			out = append(out, cloneListing(l))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *listingStore) ApplyEnrichment(_ context.Context, id string, ext *models.Extraction, valid bool, at time.Time) (bool, error) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()

	l, ok := s.d.listings[id]
	if !ok || l.AIEnriched {
		return false, nil
	}
	conf := ext.Confidence
	l.Price = ext.Price
	l.Location = ext.Location
	l.Surface = ext.Surface
	l.Rooms = ext.Rooms
	l.PropertyType = ext.PropertyType
	l.Furnished = ext.Furnished
	l.ConfidenceScore = &conf
	l.IsValid = valid
	l.AIEnriched = true
	l.EnrichedAt = &at
	return true, nil
}

func (s *listingStore) ListEligible(_ context.Context, since time.Time, limit int) ([]*models.Listing, error) {
	s.d.mu.RLock()
	defer s.d.mu.RUnlock()

	var out []*models.Listing
	for _, l := range s.d.listings {
		if !l.Eligible() || l.MatchedAt != nil || l.EnrichedAt == nil || l.EnrichedAt.Before(since) {
			continue
		}
		out = append(out, cloneListing(l))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EnrichedAt.Before(*out[j].EnrichedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *listingStore) MarkMatched(_ context.Context, id string, at time.Time) error {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()

	l, ok := s.d.listings[id]
	if !ok {
		return store.ErrNotFound
	}
	if l.MatchedAt == nil {
		l.MatchedAt = &at
	}
	return nil
}

func (s *listingStore) AppendSentTo(_ context.Context, listingID, userID string) error {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()

	l, ok := s.d.listings[listingID]
	if !ok {
		return store.ErrNotFound
	}
	for _, id := range l.SentToUsers {
		if id == userID {
			return nil
		}
	}
	l.SentToUsers = append(l.SentToUsers, userID)
	return nil
}

// ---------- matches ----------

type matchStore struct{ d *db }

func pairKey(userID, listingID string) string { return userID + "\x00" + listingID }

func cloneMatch(m *models.Match) *models.Match {
	cp := *m
	cp.Reasons = append([]string(nil), m.Reasons...)
	return &cp
}

func (s *matchStore) CreateIfAbsent(_ context.Context, match *models.Match) (bool, error) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()

	key := pairKey(match.UserID, match.ListingID)
	if _, ok := s.d.pairs[key]; ok {
		return false, nil
	}
	if match.ID == "" {
		match.ID = uuid.NewString()
	}
	if match.CreatedAt.IsZero() {
		match.CreatedAt = now()
	}
	s.d.matches[match.ID] = cloneMatch(match)
	s.d.pairs[key] = match.ID
	return true, nil
}

func (s *matchStore) Get(_ context.Context, id string) (*models.Match, error) {
	s.d.mu.RLock()
	defer s.d.mu.RUnlock()

	m, ok := s.d.matches[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneMatch(m), nil
}

func (s *matchStore) GetByPair(_ context.Context, userID, listingID string) (*models.Match, error) {
	s.d.mu.RLock()
	defer s.d.mu.RUnlock()

	id, ok := s.d.pairs[pairKey(userID, listingID)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneMatch(s.d.matches[id]), nil
}

func (s *matchStore) MarkNotified(_ context.Context, id string, at time.Time) (bool, error) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()

	m, ok := s.d.matches[id]
	if !ok {
		return false, store.ErrNotFound
	}
	if m.IsNotified {
		return false, nil
	}
	m.IsNotified = true
	m.NotifiedAt = &at
	return true, nil
}

func (s *matchStore) MarkViewed(_ context.Context, id string) error {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()

	m, ok := s.d.matches[id]
	if !ok {
		return store.ErrNotFound
	}
	m.IsViewed = true
	return nil
}

func (s *matchStore) MarkInterested(_ context.Context, id string) error {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()

	m, ok := s.d.matches[id]
	if !ok {
		return store.ErrNotFound
	}
	m.IsViewed = true
	m.IsInterested = true
	return nil
}

// ---------- turns & notifications ----------

type turnStore struct{ d *db }

func (s *turnStore) Append(_ context.Context, turn *models.ConversationTurn) error {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()

	if turn.ID == "" {
		turn.ID = ulid.Make().String()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = now()
	}
	s.d.turns[turn.UserID] = append(s.d.turns[turn.UserID], *turn)
	return nil
}

func (s *turnStore) ListRecent(_ context.Context, userID string, limit int) ([]models.ConversationTurn, error) {
	s.d.mu.RLock()
	defer s.d.mu.RUnlock()

	all := s.d.turns[userID]
	out := make([]models.ConversationTurn, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		out = append(out, all[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

type notificationStore struct{ d *db }

func (s *notificationStore) Record(_ context.Context, n *models.Notification) error {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()

	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now()
	}
	s.d.notifications = append(s.d.notifications, *n)
	return nil
}

func (s *notificationStore) ListByMatch(_ context.Context, matchID string) ([]models.Notification, error) {
	s.d.mu.RLock()
	defer s.d.mu.RUnlock()

	var out []models.Notification
	for _, n := range s.d.notifications {
		if n.MatchID == matchID {
			out = append(out, n)
		}
	}
	return out, nil
}
