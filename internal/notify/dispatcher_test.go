package notify

import (
	"context"
	"errors"
	"strings"
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

type mockSender struct {
	mu            sync.Mutex
	texts         []string
	images        []string
	SendTextFunc  func(ctx context.Context, to, body string) error
	SendImageFunc func(ctx context.Context, to, url, caption string) error
}

func (m *mockSender) Channel() string { return "whatsapp" }

func (m *mockSender) SendText(ctx context.Context, to, body string) error {
	m.mu.Lock()
	m.texts = append(m.texts, body)
	m.mu.Unlock()
	if m.SendTextFunc != nil {
		return m.SendTextFunc(ctx, to, body)
	}
	return nil
}

func (m *mockSender) SendImage(ctx context.Context, to, url, caption string) error {
	m.mu.Lock()
	m.images = append(m.images, url)
	m.mu.Unlock()
	if m.SendImageFunc != nil {
		return m.SendImageFunc(ctx, to, url, caption)
	}
	return nil
}

func (m *mockSender) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.texts) + len(m.images)
}

type mockPersonalizer struct {
	PersonalizeFunc func(ctx context.Context, u *models.User, l *models.Listing, m *models.Match) (string, error)
}

func (m *mockPersonalizer) Personalize(ctx context.Context, u *models.User, l *models.Listing, match *models.Match) (string, error) {
	return m.PersonalizeFunc(ctx, u, l, match)
}

var testConfig = Config{MaxImages: 3, DeliveryTimeout: time.Second, AITimeout: time.Second}

type fixture struct {
	stores  store.Set
	user    *models.User
	listing *models.Listing
	match   *models.Match
}

func setup(t *testing.T, images int) fixture {
	t.Helper()
	ctx := context.Background()
	s := memory.New()

	u := &models.User{Phone: "+33612345678"}
	require.NoError(t, s.Users.Create(ctx, u))
	require.NoError(t, s.Users.SetActive(ctx, u.ID, true))
	require.NoError(t, s.Users.UpdateState(ctx, u.ID, models.StateActive))

	ptype := models.PropertyHouse
	l := &models.Listing{
		Source: "facebook", PostID: "p1", RawText: "Belle maison avec jardin",
		PostURL: "https://facebook.com/groups/g/posts/p1",
	}
	for i := 0; i < images; i++ {
		l.Images = append(l.Images, "https://img.example/"+string(rune('a'+i))+".jpg")
	}
	_, err := s.Listings.InsertIfAbsent(ctx, l)
	require.NoError(t, err)
	_, err = s.Listings.ApplyEnrichment(ctx, l.ID, &models.Extraction{
		Price: models.Float64(240000), Location: models.String("Lyon"), PropertyType: &ptype, Confidence: 0.9,
	}, true, time.Now())
	require.NoError(t, err)

	m := &models.Match{UserID: u.ID, ListingID: l.ID, Score: 85, Reasons: []string{"Prix dans votre budget (240 000 €)"}}
	_, err = s.Matches.CreateIfAbsent(ctx, m)
	require.NoError(t, err)

	return fixture{stores: s, user: u, listing: l, match: m}
}

func TestNotify_SendsTextAndCappedImages(t *testing.T) {
	f := setup(t, 5)
	sender := &mockSender{}
	d := NewDispatcher(f.stores, sender, nil, testConfig, logger.NewTestLogger(t))
	ctx := context.Background()

	require.NoError(t, d.Notify(ctx, f.match))

	assert.Len(t, sender.texts, 1)
	assert.Len(t, sender.images, 3)
	assert.Contains(t, sender.texts[0], "240 000 €")
	assert.Contains(t, sender.texts[0], "✅ Prix dans votre budget")

	m, err := f.stores.Matches.Get(ctx, f.match.ID)
	require.NoError(t, err)
	assert.True(t, m.IsNotified)
	assert.NotNil(t, m.NotifiedAt)

	logs, err := f.stores.Notifications.ListByMatch(ctx, f.match.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, models.NotificationStatusSent, logs[0].Status)
	assert.Equal(t, 3, logs[0].ImagesSent)

	turns, err := f.stores.Turns.ListRecent(ctx, f.user.ID, 10)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, models.DirectionOut, turns[0].Direction)
}

func TestNotify_SecondCallIsNoop(t *testing.T) {
	f := setup(t, 1)
	sender := &mockSender{}
	d := NewDispatcher(f.stores, sender, nil, testConfig, logger.NewTestLogger(t))
	ctx := context.Background()

	require.NoError(t, d.Notify(ctx, f.match))
	before := sender.calls()

	require.NoError(t, d.Notify(ctx, f.match))
	assert.Equal(t, before, sender.calls())

	// A stale copy of the match is also caught by the stored flag.
	stale := *f.match
	stale.IsNotified = false
	require.NoError(t, d.Notify(ctx, &stale))
	assert.Equal(t, before, sender.calls())
}

func TestNotify_TextFailureLeavesMatchUnnotified(t *testing.T) {
	f := setup(t, 2)
	sender := &mockSender{SendTextFunc: func(context.Context, string, string) error {
		return errors.New("502 bad gateway")
	}}
	d := NewDispatcher(f.stores, sender, nil, testConfig, logger.NewTestLogger(t))
	ctx := context.Background()

	err := d.Notify(ctx, f.match)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeDeliveryFailed))
	assert.Empty(t, sender.images)

	m, err := f.stores.Matches.Get(ctx, f.match.ID)
	require.NoError(t, err)
	assert.False(t, m.IsNotified)

	logs, err := f.stores.Notifications.ListByMatch(ctx, f.match.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, models.NotificationStatusFailed, logs[0].Status)
}

func TestNotify_TextTimeout(t *testing.T) {
	f := setup(t, 0)
	sender := &mockSender{SendTextFunc: func(ctx context.Context, _, _ string) error {
		<-ctx.Done()
		return ctx.Err()
	}}
	cfg := testConfig
	cfg.DeliveryTimeout = 10 * time.Millisecond
	d := NewDispatcher(f.stores, sender, nil, cfg, logger.NewTestLogger(t))

	err := d.Notify(context.Background(), f.match)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeDeliveryTimeout))
}

func TestNotify_ImageFailureDoesNotAbortOthers(t *testing.T) {
	f := setup(t, 3)
	sender := &mockSender{SendImageFunc: func(_ context.Context, _, url, _ string) error {
		if strings.HasSuffix(url, "b.jpg") {
			return errors.New("media rejected")
		}
		return nil
	}}
	d := NewDispatcher(f.stores, sender, nil, testConfig, logger.NewTestLogger(t))
	ctx := context.Background()

	require.NoError(t, d.Notify(ctx, f.match))
	assert.Len(t, sender.images, 3)

	logs, err := f.stores.Notifications.ListByMatch(ctx, f.match.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, 2, logs[0].ImagesSent)

	m, err := f.stores.Matches.Get(ctx, f.match.ID)
	require.NoError(t, err)
	assert.True(t, m.IsNotified)
}

func TestNotify_Personalisation(t *testing.T) {
	t.Run("uses generated text", func(t *testing.T) {
		f := setup(t, 0)
		sender := &mockSender{}
		p := &mockPersonalizer{PersonalizeFunc: func(context.Context, *models.User, *models.Listing, *models.Match) (string, error) {
			return "  Bonjour ! Une maison à Lyon vous attend.  ", nil
		}}
		cfg := testConfig
		cfg.AIPersonalise = true
		d := NewDispatcher(f.stores, sender, p, cfg, logger.NewTestLogger(t))

		require.NoError(t, d.Notify(context.Background(), f.match))
		assert.Equal(t, []string{"Bonjour ! Une maison à Lyon vous attend."}, sender.texts)
	})

	t.Run("falls back to template", func(t *testing.T) {
		f := setup(t, 0)
		sender := &mockSender{}
		p := &mockPersonalizer{PersonalizeFunc: func(context.Context, *models.User, *models.Listing, *models.Match) (string, error) {
			return "", errors.New("quota exceeded")
		}}
		cfg := testConfig
		cfg.AIPersonalise = true
		d := NewDispatcher(f.stores, sender, p, cfg, logger.NewTestLogger(t))

		require.NoError(t, d.Notify(context.Background(), f.match))
		require.Len(t, sender.texts, 1)
		assert.Equal(t, RenderTemplate(mustListing(t, f), f.match), sender.texts[0])
	})
}

func mustListing(t *testing.T, f fixture) *models.Listing {
	t.Helper()
	l, err := f.stores.Listings.GetByID(context.Background(), f.listing.ID)
	require.NoError(t, err)
	return l
}

func TestNotify_PausedRecipient(t *testing.T) {
	f := setup(t, 1)
	require.NoError(t, f.stores.Users.UpdateState(context.Background(), f.user.ID, models.StatePaused))
	sender := &mockSender{}
	d := NewDispatcher(f.stores, sender, nil, testConfig, logger.NewTestLogger(t))

	err := d.Notify(context.Background(), f.match)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeRecipientInactive))
	assert.Equal(t, 0, sender.calls())
}

func TestNotify_RecipientEditingCriteria(t *testing.T) {
	for _, state := range []models.ConversationState{models.StateCollectingCriteria, models.StateConfirming} {
		t.Run(string(state), func(t *testing.T) {
			f := setup(t, 1)
			require.NoError(t, f.stores.Users.UpdateState(context.Background(), f.user.ID, state))
			sender := &mockSender{}
			d := NewDispatcher(f.stores, sender, nil, testConfig, logger.NewTestLogger(t))

			err := d.Notify(context.Background(), f.match)
			assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeRecipientInactive))
			assert.Equal(t, 0, sender.calls())

			m, err := f.stores.Matches.Get(context.Background(), f.match.ID)
			require.NoError(t, err)
			assert.False(t, m.IsNotified)
		})
	}
}

func TestRenderTemplate_MinimalListing(t *testing.T) {
	out := RenderTemplate(&models.Listing{}, &models.Match{Score: 72})
	assert.Contains(t, out, "72/100")
	assert.Contains(t, out, "statut")
}
