package matching

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	apperrors "immo-alerts/internal/common/errors"
	"immo-alerts/internal/common/logger"
	"immo-alerts/internal/models"
	"immo-alerts/internal/store"
	"immo-alerts/internal/store/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockNotifier struct {
	mu         sync.Mutex
	calls      []*models.Match
	NotifyFunc func(ctx context.Context, m *models.Match) error
}

func (m *mockNotifier) Notify(ctx context.Context, match *models.Match) error {
	m.mu.Lock()
	m.calls = append(m.calls, match)
	m.mu.Unlock()
	if m.NotifyFunc != nil {
		return m.NotifyFunc(ctx, match)
	}
	return nil
}

func (m *mockNotifier) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

var testConfig = Config{MatchThreshold: 60, NotifyThreshold: 70, BatchSize: 50, MaxListingAge: 72 * time.Hour}

func addSubscriber(t *testing.T, s store.Set, phone string, c models.Criteria) *models.User {
	t.Helper()
	ctx := context.Background()
	u := &models.User{Phone: phone}
	require.NoError(t, s.Users.Create(ctx, u))
	require.NoError(t, s.Users.SetActive(ctx, u.ID, true))
	require.NoError(t, s.Users.UpdateState(ctx, u.ID, models.StateActive))
	c.UserID = u.ID
	require.NoError(t, s.Criteria.Replace(ctx, &c))
	return u
}

func addListing(t *testing.T, s store.Set, postID string, price float64, location string, valid bool) *models.Listing {
	t.Helper()
	ctx := context.Background()
	l := &models.Listing{Source: "facebook", PostID: postID, RawText: "annonce"}
	_, err := s.Listings.InsertIfAbsent(ctx, l)
	require.NoError(t, err)

	ptype := models.PropertyHouse
	_, err = s.Listings.ApplyEnrichment(ctx, l.ID, &models.Extraction{
		Price: models.Float64(price), Location: models.String(location), PropertyType: &ptype, Confidence: 0.9,
	}, valid, time.Now().UTC())
	require.NoError(t, err)

	got, err := s.Listings.GetByID(ctx, l.ID)
	require.NoError(t, err)
	return got
}

func lyonHouse() models.Criteria {
	return models.Criteria{
		PropertyType: models.PropertyHouse,
		MinPrice:     models.Float64(150000), MaxPrice: models.Float64(250000),
		Locations: []string{"Lyon"},
	}
}

func TestProcessListing_CreatesAndNotifies(t *testing.T) {
	s := memory.New()
	n := &mockNotifier{}
	e := NewEngine(s, n, testConfig, logger.NewTestLogger(t))

	strong := addSubscriber(t, s, "+1", lyonHouse())
	weak := addSubscriber(t, s, "+2", models.Criteria{PropertyType: models.PropertyApartment, Locations: []string{"Paris"}})

	l := addListing(t, s, "p1", 240000, "Lyon 3e", true)

	notified, err := e.ProcessListing(context.Background(), l)
	require.NoError(t, err)
	assert.Equal(t, 1, notified)
	assert.Equal(t, 1, n.count())

	m, err := s.Matches.GetByPair(context.Background(), strong.ID, l.ID)
	require.NoError(t, err)
	assert.Equal(t, 100.0, m.Score)

	// weak: type 0 + price 30 + location 0 + surface 20 + rooms 15 = 65, matched but not notified.
	weakMatch, err := s.Matches.GetByPair(context.Background(), weak.ID, l.ID)
	require.NoError(t, err)
	assert.Equal(t, 65.0, weakMatch.Score)

	got, err := s.Listings.GetByID(context.Background(), l.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{strong.ID, weak.ID}, got.SentToUsers)
}

func TestProcessListing_Idempotent(t *testing.T) {
	s := memory.New()
	n := &mockNotifier{}
	e := NewEngine(s, n, testConfig, logger.NewTestLogger(t))
	addSubscriber(t, s, "+1", lyonHouse())
	l := addListing(t, s, "p1", 240000, "Lyon", true)

	first, err := e.ProcessListing(context.Background(), l)
	require.NoError(t, err)
	second, err := e.ProcessListing(context.Background(), l)
	require.NoError(t, err)

	assert.Equal(t, 1, first)
	assert.Equal(t, 0, second)
	assert.Equal(t, 1, n.count())
}

func TestProcessListing_ConcurrentPassesNeverDuplicate(t *testing.T) {
	s := memory.New()
	n := &mockNotifier{}
	e := NewEngine(s, n, testConfig, logger.NewNoOpLogger())
	addSubscriber(t, s, "+1", lyonHouse())
	addSubscriber(t, s, "+2", lyonHouse())
	l := addListing(t, s, "p1", 240000, "Lyon", true)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = e.ProcessListing(context.Background(), l)
		}()
	}
	wg.Wait()

	assert.Equal(t, 2, n.count())
}

func TestProcessListing_IneligibleNeverMatches(t *testing.T) {
	s := memory.New()
	n := &mockNotifier{}
	e := NewEngine(s, n, testConfig, logger.NewTestLogger(t))
	u := addSubscriber(t, s, "+1", lyonHouse())

	invalid := addListing(t, s, "p1", 240000, "Lyon", false)
	_, err := e.ProcessListing(context.Background(), invalid)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeListingNotEligible))

	raw := &models.Listing{ID: "raw", IsValid: true, AIEnriched: false}
	_, err = e.ProcessListing(context.Background(), raw)
	assert.Error(t, err)

	_, err = s.Matches.GetByPair(context.Background(), u.ID, invalid.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Equal(t, 0, n.count())
}

func TestProcessListing_NotifierFailureKeepsMatch(t *testing.T) {
	s := memory.New()
	n := &mockNotifier{NotifyFunc: func(context.Context, *models.Match) error {
		return apperrors.NewDeliveryFailedError("whatsapp", errors.New("502"))
	}}
	e := NewEngine(s, n, testConfig, logger.NewTestLogger(t))
	u := addSubscriber(t, s, "+1", lyonHouse())
	l := addListing(t, s, "p1", 240000, "Lyon", true)

	notified, err := e.ProcessListing(context.Background(), l)
	require.NoError(t, err)
	assert.Equal(t, 0, notified)

	m, err := s.Matches.GetByPair(context.Background(), u.ID, l.ID)
	require.NoError(t, err)
	assert.False(t, m.IsNotified)

	// The next pass does not retry: the match already exists.
	_, err = e.ProcessListing(context.Background(), l)
	require.NoError(t, err)
	assert.Equal(t, 1, n.count())
}

func TestProcessAll_DrainsBacklogOnePagePerPass(t *testing.T) {
	s := memory.New()
	n := &mockNotifier{}
	cfg := testConfig
	cfg.BatchSize = 2
	e := NewEngine(s, n, cfg, logger.NewTestLogger(t))
	u := addSubscriber(t, s, "+1", lyonHouse())

	oldest := addListing(t, s, "p1", 240000, "Lyon", true)
	addListing(t, s, "p2", 200000, "Lyon", true)
	addListing(t, s, "p3", 180000, "Lyon", true)
	addListing(t, s, "p4", 180000, "Lyon", false)

	res, err := e.ProcessAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Listings)
	assert.Equal(t, 2, res.Matches)
	assert.Equal(t, 2, res.Notified)
	assert.Equal(t, 2, res.Summary()["notified"])

	got, err := s.Listings.GetByID(context.Background(), oldest.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{u.ID}, got.SentToUsers)
	assert.NotNil(t, got.MatchedAt)

	res, err = e.ProcessAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Listings)
	assert.Equal(t, 1, res.Matches)

	res, err = e.ProcessAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
	assert.Equal(t, 3, n.count())
}

// flakyMatches fails CreateIfAbsent while failing is set.
type flakyMatches struct {
	store.MatchStore
	mu      sync.Mutex
	failing bool
}

func (f *flakyMatches) CreateIfAbsent(ctx context.Context, m *models.Match) (bool, error) {
	f.mu.Lock()
	failing := f.failing
	f.mu.Unlock()
	if failing {
		return false, errors.New("connection reset")
	}
	return f.MatchStore.CreateIfAbsent(ctx, m)
}

func TestProcessAll_StoreFailureKeepsListingPending(t *testing.T) {
	s := memory.New()
	flaky := &flakyMatches{MatchStore: s.Matches, failing: true}
	s.Matches = flaky
	n := &mockNotifier{}
	e := NewEngine(s, n, testConfig, logger.NewTestLogger(t))
	u := addSubscriber(t, s, "+1", lyonHouse())
	l := addListing(t, s, "p1", 240000, "Lyon", true)

	res, err := e.ProcessAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Errors)
	assert.Equal(t, 0, res.Matches)

	got, err := s.Listings.GetByID(context.Background(), l.ID)
	require.NoError(t, err)
	assert.Nil(t, got.MatchedAt)

	flaky.mu.Lock()
	flaky.failing = false
	flaky.mu.Unlock()

	res, err = e.ProcessAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Matches)
	assert.Equal(t, 1, res.Notified)

	_, err = s.Matches.GetByPair(context.Background(), u.ID, l.ID)
	require.NoError(t, err)
}

func TestProcessAll_InactiveRecipientNotCountedAsError(t *testing.T) {
	s := memory.New()
	n := &mockNotifier{NotifyFunc: func(_ context.Context, m *models.Match) error {
		return apperrors.NewRecipientInactiveError(m.UserID)
	}}
	e := NewEngine(s, n, testConfig, logger.NewTestLogger(t))
	addSubscriber(t, s, "+1", lyonHouse())
	addListing(t, s, "p1", 240000, "Lyon", true)

	res, err := e.ProcessAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Matches)
	assert.Equal(t, 0, res.Notified)
	assert.Equal(t, 0, res.Errors)
}
