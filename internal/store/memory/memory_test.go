package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"immo-alerts/internal/models"
	"immo-alerts/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUsers_CreateAndReactivate(t *testing.T) {
	ctx := context.Background()
	s := New()

	u := &models.User{Phone: "+33600000001"}
	require.NoError(t, s.Users.Create(ctx, u))
	assert.NotEmpty(t, u.ID)
	assert.Equal(t, models.StateIdle, u.State)

	assert.ErrorIs(t, s.Users.Create(ctx, &models.User{Phone: u.Phone}), store.ErrAlreadyExists)

	require.NoError(t, s.Users.SoftDelete(ctx, u.ID, time.Now()))
	_, err := s.Users.GetByPhone(ctx, u.Phone)
	assert.ErrorIs(t, err, store.ErrNotFound)

	again := &models.User{Phone: u.Phone}
	require.NoError(t, s.Users.Create(ctx, again))
	assert.Equal(t, u.ID, again.ID)
	assert.Nil(t, again.DeletedAt)
}

func TestUsers_ListActiveSubscribers(t *testing.T) {
	ctx := context.Background()
	s := New()

	active := &models.User{Phone: "+1"}
	inactive := &models.User{Phone: "+2"}
	noCriteria := &models.User{Phone: "+3"}
	for _, u := range []*models.User{active, inactive, noCriteria} {
		require.NoError(t, s.Users.Create(ctx, u))
	}
	require.NoError(t, s.Users.SetActive(ctx, active.ID, true))
	require.NoError(t, s.Users.SetActive(ctx, noCriteria.ID, true))
	require.NoError(t, s.Criteria.Replace(ctx, &models.Criteria{UserID: active.ID, PropertyType: models.PropertyBoth}))
	require.NoError(t, s.Criteria.Replace(ctx, &models.Criteria{UserID: inactive.ID, PropertyType: models.PropertyBoth}))

	subs, err := s.Users.ListActiveSubscribers(ctx)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, active.ID, subs[0].User.ID)
}

func TestCriteria_ReplaceOverwritesWholesale(t *testing.T) {
	ctx := context.Background()
	s := New()
	u := &models.User{Phone: "+1"}
	require.NoError(t, s.Users.Create(ctx, u))

	require.NoError(t, s.Criteria.Replace(ctx, &models.Criteria{
		UserID: u.ID, PropertyType: models.PropertyHouse, MinRooms: models.Int(3), Locations: []string{"Lyon"},
	}))
	require.NoError(t, s.Criteria.Replace(ctx, &models.Criteria{
		UserID: u.ID, PropertyType: models.PropertyApartment, Locations: []string{"Paris"},
	}))

	c, err := s.Criteria.Get(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PropertyApartment, c.PropertyType)
	assert.Nil(t, c.MinRooms)
	assert.Equal(t, []string{"Paris"}, c.Locations)
}

func TestListings_InsertIfAbsentAndEnrichOnce(t *testing.T) {
	ctx := context.Background()
	s := New()

	l := &models.Listing{Source: "facebook", PostID: "p1", RawText: "Maison 4 pièces"}
	ok, err := s.Listings.InsertIfAbsent(ctx, l)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Listings.InsertIfAbsent(ctx, &models.Listing{Source: "facebook", PostID: "p1"})
	require.NoError(t, err)
	assert.False(t, ok)

	pending, err := s.Listings.ListUnenriched(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	at := time.Now()
	applied, err := s.Listings.ApplyEnrichment(ctx, l.ID, &models.Extraction{Price: models.Float64(250000), Confidence: 0.9}, true, at)
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = s.Listings.ApplyEnrichment(ctx, l.ID, models.DegradedExtraction(), false, at)
	require.NoError(t, err)
	assert.False(t, applied)

	got, err := s.Listings.GetByID(ctx, l.ID)
	require.NoError(t, err)
	assert.True(t, got.Eligible())
	assert.Equal(t, 250000.0, *got.Price)
}

func TestListings_ListEligibleOldestFirst(t *testing.T) {
	ctx := context.Background()
	s := New()
	base := time.Now().Add(-time.Hour)

	ids := make([]string, 3)
	for i := range ids {
		l := &models.Listing{Source: "fb", PostID: string(rune('a' + i))}
		_, err := s.Listings.InsertIfAbsent(ctx, l)
		require.NoError(t, err)
		_, err = s.Listings.ApplyEnrichment(ctx, l.ID, &models.Extraction{Confidence: 0.9}, i != 1, base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
		ids[i] = l.ID
	}

	got, err := s.Listings.ListEligible(ctx, base, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, ids[0], got[0].ID)
	assert.Equal(t, ids[2], got[1].ID)

	got, err = s.Listings.ListEligible(ctx, base.Add(90*time.Second), 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestListings_MarkMatchedLeavesEligiblePage(t *testing.T) {
	ctx := context.Background()
	s := New()
	base := time.Now().Add(-time.Hour)

	ids := make([]string, 3)
	for i := range ids {
		l := &models.Listing{Source: "fb", PostID: string(rune('a' + i))}
		_, err := s.Listings.InsertIfAbsent(ctx, l)
		require.NoError(t, err)
		_, err = s.Listings.ApplyEnrichment(ctx, l.ID, &models.Extraction{Confidence: 0.9}, true, base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
		ids[i] = l.ID
	}

	first := base.Add(time.Hour)
	require.NoError(t, s.Listings.MarkMatched(ctx, ids[0], first))
	require.NoError(t, s.Listings.MarkMatched(ctx, ids[0], first.Add(time.Minute)))

	got, err := s.Listings.ListEligible(ctx, base, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, ids[1], got[0].ID)

	l, err := s.Listings.GetByID(ctx, ids[0])
	require.NoError(t, err)
	require.NotNil(t, l.MatchedAt)
	assert.True(t, l.MatchedAt.Equal(first))

	assert.ErrorIs(t, s.Listings.MarkMatched(ctx, "missing", first), store.ErrNotFound)
}

func TestListings_AppendSentToIsASet(t *testing.T) {
	ctx := context.Background()
	s := New()
	l := &models.Listing{Source: "fb", PostID: "x"}
	_, err := s.Listings.InsertIfAbsent(ctx, l)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Listings.AppendSentTo(ctx, l.ID, "user-1")
		}()
	}
	wg.Wait()

	got, err := s.Listings.GetByID(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"user-1"}, got.SentToUsers)
}

func TestMatches_CreateIfAbsentIsAtomic(t *testing.T) {
	ctx := context.Background()
	s := New()

	var created atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.Matches.CreateIfAbsent(ctx, &models.Match{UserID: "u", ListingID: "l", Score: 80})
			if err == nil && ok {
				created.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), created.Load())

	m, err := s.Matches.GetByPair(ctx, "u", "l")
	require.NoError(t, err)

	first, err := s.Matches.MarkNotified(ctx, m.ID, time.Now())
	require.NoError(t, err)
	assert.True(t, first)
	second, err := s.Matches.MarkNotified(ctx, m.ID, time.Now())
	require.NoError(t, err)
	assert.False(t, second)

	require.NoError(t, s.Matches.MarkInterested(ctx, m.ID))
	got, err := s.Matches.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.True(t, got.IsViewed)
	assert.True(t, got.IsInterested)

	assert.ErrorIs(t, s.Matches.MarkViewed(ctx, "missing"), store.ErrNotFound)
}

func TestTurns_ListRecent(t *testing.T) {
	ctx := context.Background()
	s := New()
	for _, c := range []string{"a", "b", "c"} {
		require.NoError(t, s.Turns.Append(ctx, &models.ConversationTurn{UserID: "u", Direction: models.DirectionIn, Content: c}))
	}

	turns, err := s.Turns.ListRecent(ctx, "u", 2)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "c", turns[0].Content)
	assert.Equal(t, "b", turns[1].Content)
}
