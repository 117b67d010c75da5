// test/e2e/e2e_test.go
package e2e

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"immo-alerts/internal/api"
	"immo-alerts/internal/clients/delivery"
	"immo-alerts/internal/clients/scraper"
	"immo-alerts/internal/common/logger"
	"immo-alerts/internal/conversation"
	"immo-alerts/internal/enrichment"
	"immo-alerts/internal/ingest"
	"immo-alerts/internal/matching"
	"immo-alerts/internal/models"
	"immo-alerts/internal/notify"
	"immo-alerts/internal/scheduler"
	"immo-alerts/internal/store"
	"immo-alerts/internal/store/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const userPhone = "+33612345678"

// chatProvider records every message posted to the fake WhatsApp API.
type chatProvider struct {
	mu   sync.Mutex
	msgs []map[string]interface{}
}

func (p *chatProvider) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var msg map[string]interface{}
	_ = json.NewDecoder(r.Body).Decode(&msg)
	p.mu.Lock()
	p.msgs = append(p.msgs, msg)
	p.mu.Unlock()
	_, _ = w.Write([]byte(`{"messages":[{"id":"wamid"}]}`))
}

func (p *chatProvider) texts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, m := range p.msgs {
		if m["type"] == "text" {
			out = append(out, m["text"].(map[string]interface{})["body"].(string))
		}
	}
	return out
}

func (p *chatProvider) images() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, m := range p.msgs {
		if m["type"] == "image" {
			n++
		}
	}
	return n
}

// keywordExtractor stands in for the model: it recognises the two fixture posts.
type keywordExtractor struct{}

func (keywordExtractor) Extract(_ context.Context, text string) (*models.Extraction, error) {
	switch {
	case strings.Contains(text, "Maison"):
		return &models.Extraction{
			Price:        models.Float64(200000),
			Location:     models.String("Lyon"),
			Surface:      models.Float64(110),
			Rooms:        models.Int(5),
			PropertyType: propertyType(models.PropertyHouse),
			Confidence:   0.92,
		}, nil
	case strings.Contains(text, "Appartement"):
		return &models.Extraction{
			Price:        models.Float64(900000),
			Location:     models.String("Paris"),
			PropertyType: propertyType(models.PropertyApartment),
			Confidence:   0.88,
		}, nil
	}
	return models.DegradedExtraction(), nil
}

func propertyType(t models.PropertyType) *models.PropertyType { return &t }

type pipeline struct {
	stores    store.Set
	chat      *chatProvider
	scheduler *scheduler.Scheduler
	api       *httptest.Server
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()
	log := logger.NewTestLogger(t)
	stores := memory.New()

	scraperSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/groups/lyon-immo/posts", r.URL.Path)
		_, _ = w.Write([]byte(`{"posts": [
			{"id": "p1", "text": "Maison 5 pièces avec jardin à Lyon, 200 000 €", "images": ["https://img/1.jpg", "https://img/2.jpg"], "url": "https://fb/p1"},
			{"id": "p2", "text": "Appartement de standing Paris 16e, 900 000 €"},
			{"id": "p3", "text": ""}
		]}`))
	}))
	t.Cleanup(scraperSrv.Close)

	chat := &chatProvider{}
	chatSrv := httptest.NewServer(chat)
	t.Cleanup(chatSrv.Close)

	sender := delivery.NewWhatsAppSender(chatSrv.URL, "1000", "token", time.Second, log)
	engine := conversation.NewEngine(stores, nil, nil, sender, log)
	dispatcher := notify.NewDispatcher(stores, sender, nil, notify.Config{MaxImages: 3, DeliveryTimeout: time.Second}, log)
	matcher := matching.NewEngine(stores, dispatcher, matching.Config{
		MatchThreshold: 60, NotifyThreshold: 70, BatchSize: 50, MaxListingAge: time.Hour,
	}, log)
	ingester := ingest.NewService(stores.Listings, scraper.NewClient(scraperSrv.URL, "", time.Second), ingest.Config{
		Groups: []string{"lyon-immo"}, MaxPages: 1, Timeout: time.Second,
	}, log)
	enricher := enrichment.NewService(stores.Listings, keywordExtractor{}, nil, enrichment.Config{
		ConfidenceThreshold: 0.65, MinPrice: 1000, MaxPrice: 50_000_000, BatchSize: 20, Concurrency: 2, Timeout: time.Second,
	}, log)

	sched := scheduler.New(scheduler.Config{MaxConcurrent: 2}, nil, log)
	for _, j := range []scheduler.Job{
		scheduler.IngestJob(ingester, 0),
		scheduler.EnrichJob(enricher, 0),
		scheduler.MatchJob(matcher, 0),
	} {
		require.NoError(t, sched.Register(j))
	}
	sched.Start(context.Background())
	t.Cleanup(sched.Stop)

	srv := api.NewServer(api.Deps{
		Conversation: engine,
		Jobs:         sched,
		Matches:      stores.Matches,
	}, log)
	apiSrv := httptest.NewServer(srv.Handler())
	t.Cleanup(apiSrv.Close)

	return &pipeline{stores: stores, chat: chat, scheduler: sched, api: apiSrv}
}

func (p *pipeline) say(t *testing.T, text string) map[string]interface{} {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"from": userPhone, "text": text})
	resp, err := http.Post(p.api.URL+"/webhook/messages", "application/json", strings.NewReader(string(body)))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func (p *pipeline) post(t *testing.T, path string) int {
	t.Helper()
	resp, err := http.Post(p.api.URL+path, "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	return resp.StatusCode
}

func TestE2E_OnboardingToAlert(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	// Onboarding.
	assert.Equal(t, "COLLECTING_CRITERIA", p.say(t, "Bonjour")["state"])
	for _, answer := range []string{"maison", "250000", "Lyon", "pas important", "pas important"} {
		p.say(t, answer)
	}
	assert.Equal(t, "ACTIVE", p.say(t, "oui")["state"])

	user, err := p.stores.Users.GetByPhone(ctx, userPhone)
	require.NoError(t, err)
	assert.True(t, user.IsActive)
	onboardingReplies := len(p.chat.texts())

	// Ingestion queues enrichment on its own.
	res, err := p.scheduler.RunNow(ctx, scheduler.JobIngest)
	require.NoError(t, err)
	assert.Equal(t, 2, res["inserted"])
	assert.Equal(t, 1, res["skipped"])

	require.Eventually(t, func() bool {
		st, _ := p.scheduler.Status(scheduler.JobEnrich)
		return st.Runs == 1 && !st.Running
	}, 2*time.Second, 10*time.Millisecond)
	st, err := p.scheduler.Status(scheduler.JobEnrich)
	require.NoError(t, err)
	assert.Equal(t, 2, st.LastResult["valid"])

	pending, err := p.stores.Listings.ListEligible(ctx, time.Now().Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	var house *models.Listing
	for _, l := range pending {
		if l.PostID == "p1" {
			house = l
		}
	}
	require.NotNil(t, house)

	// Matching notifies the Lyon house only.
	res, err = p.scheduler.RunNow(ctx, scheduler.JobMatch)
	require.NoError(t, err)
	assert.Equal(t, 1, res["matches"])
	assert.Equal(t, 1, res["notified"])

	texts := p.chat.texts()
	require.Len(t, texts, onboardingReplies+1)
	alert := texts[len(texts)-1]
	assert.Contains(t, alert, "Lyon")
	assert.Contains(t, alert, "https://fb/p1")
	assert.Equal(t, 2, p.chat.images())

	// A second pass has nothing left to match and never notifies twice.
	res, err = p.scheduler.RunNow(ctx, scheduler.JobMatch)
	require.NoError(t, err)
	assert.Equal(t, 0, res["listings"])
	assert.Equal(t, 0, res["notified"])
	assert.Len(t, p.chat.texts(), onboardingReplies+1)

	house, err = p.stores.Listings.GetByID(ctx, house.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{user.ID}, house.SentToUsers)
	assert.NotNil(t, house.MatchedAt)

	match, err := p.stores.Matches.GetByPair(ctx, user.ID, house.ID)
	require.NoError(t, err)
	assert.True(t, match.IsNotified)

	// Feedback endpoints.
	assert.Equal(t, http.StatusNoContent, p.post(t, "/matches/"+match.ID+"/interested"))
	match, err = p.stores.Matches.Get(ctx, match.ID)
	require.NoError(t, err)
	assert.True(t, match.IsInterested)
	assert.Equal(t, http.StatusNotFound, p.post(t, "/matches/unknown/viewed"))
}

func TestE2E_PausedUserIsNotAlerted(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	for _, msg := range []string{"Bonjour", "maison", "250000", "Lyon", "pas important", "pas important", "oui"} {
		p.say(t, msg)
	}
	assert.Equal(t, "PAUSED", p.say(t, "pause")["state"])
	before := len(p.chat.texts())

	_, err := p.scheduler.RunNow(ctx, scheduler.JobIngest)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		st, _ := p.scheduler.Status(scheduler.JobEnrich)
		return st.Runs == 1 && !st.Running
	}, 2*time.Second, 10*time.Millisecond)

	res, err := p.scheduler.RunNow(ctx, scheduler.JobMatch)
	require.NoError(t, err)
	assert.Equal(t, 0, res["notified"])
	assert.Len(t, p.chat.texts(), before)
}

func TestE2E_ManualTriggerIsAsync(t *testing.T) {
	p := newPipeline(t)

	assert.Equal(t, http.StatusAccepted, p.post(t, "/jobs/ingest/run"))
	assert.Equal(t, http.StatusNotFound, p.post(t, "/jobs/unknown/run"))

	require.Eventually(t, func() bool {
		st, _ := p.scheduler.Status(scheduler.JobIngest)
		return st.Runs == 1
	}, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get(p.api.URL + "/jobs/ingest")
	require.NoError(t, err)
	defer resp.Body.Close()
	var st scheduler.Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	assert.Equal(t, 2, st.LastResult["inserted"])
}
