package main

import (
	"context"
	"fmt"
	"time"

	"immo-alerts/internal/ai/gemini"
	"immo-alerts/internal/api"
	"immo-alerts/internal/clients/delivery"
	"immo-alerts/internal/clients/scraper"
	"immo-alerts/internal/common/aws"
	"immo-alerts/internal/common/config"
	"immo-alerts/internal/common/database"
	"immo-alerts/internal/common/logger"
	"immo-alerts/internal/common/observability"
	"immo-alerts/internal/conversation"
	"immo-alerts/internal/enrichment"
	"immo-alerts/internal/ingest"
	"immo-alerts/internal/matching"
	"immo-alerts/internal/notify"
	"immo-alerts/internal/scheduler"
	"immo-alerts/internal/search"
	"immo-alerts/internal/store"
	"immo-alerts/internal/store/memory"
	"immo-alerts/internal/store/postgres"

	"github.com/redis/go-redis/v9"
)

// app holds every wired component; close releases them in reverse order.
type app struct {
	cfg          *config.Config
	log          logger.Logger
	obs          *observability.Observability
	stores       store.Set
	pg           *database.PostgresClient
	indexer      *search.Indexer
	conversation *conversation.Engine
	scheduler    *scheduler.Scheduler
	checks       map[string]api.CheckFunc
	closers      []func() error
}

func newApp(ctx context.Context, cfg *config.Config, log logger.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log, checks: map[string]api.CheckFunc{}}

	obs, err := observability.New(cfg.Observability.ServiceName)
	if err != nil {
		log.Warn("otel metrics exporter unavailable", map[string]interface{}{"error": err})
	}
	if err := obs.EnableTracing(cfg.Observability.ServiceName, cfg.Observability.JaegerEndpoint); err != nil {
		log.Warn("tracing disabled", map[string]interface{}{"error": err})
	}
	a.obs = obs
	a.closers = append(a.closers, func() error { obs.Shutdown(); return nil })

	if err := a.initStorage(ctx); err != nil {
		a.close()
		return nil, err
	}

	var rdb redis.UniversalClient
	if cfg.Database.Redis.Enabled {
		rc := database.NewRedis(cfg.Database.Redis)
		if err := retryWithBackoff(ctx, rc.Ping, 10, 2*time.Second, log, "redis connection"); err != nil {
			a.close()
			return nil, err
		}
		a.closers = append(a.closers, rc.Close)
		a.checks["redis"] = rc.Ping
		rdb = rc.Client
	}

	if cfg.Database.Elasticsearch.Enabled {
		es, err := database.NewElasticsearch(cfg.Database.Elasticsearch)
		if err != nil {
			a.close()
			return nil, err
		}
		if err := retryWithBackoff(ctx, es.Ping, 15, 2*time.Second, log, "elasticsearch connection"); err != nil {
			a.close()
			return nil, err
		}
		a.checks["elasticsearch"] = es.Ping
		a.indexer = search.NewIndexer(es.Client, cfg.Database.Elasticsearch.Index, log)
	}

	sender, err := newSender(ctx, cfg, log)
	if err != nil {
		a.close()
		return nil, err
	}

	var extractor *gemini.Extractor
	var personalizer notify.Personalizer
	if cfg.APIs.Gemini.APIKey != "" {
		gen, err := gemini.NewGenerator(ctx, cfg.APIs.Gemini.APIKey, cfg.APIs.Gemini.Model, cfg.APIs.Gemini.Temperature, log)
		if err != nil {
			a.close()
			return nil, err
		}
		extractor = gemini.NewExtractor(gen, log)
		if cfg.Notifications.AIPersonalise {
			personalizer = gemini.NewPersonalizer(gen, log)
		}
	} else {
		log.Warn("gemini api key missing, enrichment disabled", nil)
	}

	var cursors conversation.CursorStore
	var locker conversation.Locker
	if rdb != nil {
		cursors = conversation.NewRedisCursorStore(rdb, config.GetDuration(cfg.Conversation.CursorTTL))
		locker = conversation.NewRedisLocker(rdb, config.GetDuration(cfg.Conversation.LockTTL))
	}
	a.conversation = conversation.NewEngine(a.stores, cursors, locker, sender, log)

	dispatcher := notify.NewDispatcher(a.stores, sender, personalizer, notify.Config{
		MaxImages:       cfg.Notifications.MaxImages,
		AIPersonalise:   cfg.Notifications.AIPersonalise,
		AITimeout:       config.GetDuration(cfg.Notifications.AITimeout),
		DeliveryTimeout: config.GetDuration(cfg.Notifications.DeliveryTimeout),
	}, log)

	matcher := matching.NewEngine(a.stores, dispatcher, matching.Config{
		MatchThreshold:  cfg.Matching.MatchThreshold,
		NotifyThreshold: cfg.Matching.NotifyThreshold,
		BatchSize:       cfg.Matching.BatchSize,
		MaxListingAge:   time.Duration(cfg.Matching.MaxListingAge) * time.Hour,
	}, log)

	ingester := ingest.NewService(a.stores.Listings,
		scraper.NewClient(cfg.APIs.Scraper.BaseURL, cfg.APIs.Scraper.APIKey, config.GetDuration(cfg.Ingestion.Timeout)),
		ingest.Config{
			Source:   cfg.Ingestion.Source,
			Groups:   cfg.Ingestion.Groups,
			MaxPages: cfg.Ingestion.MaxPages,
			Timeout:  config.GetDuration(cfg.Ingestion.Timeout),
		}, log)

	a.scheduler = scheduler.New(scheduler.Config{
		MaxConcurrent: cfg.Scheduler.MaxConcurrentTasks,
		Periodic:      cfg.Scheduler.Enabled,
	}, obs, log)

	jobs := []scheduler.Job{
		scheduler.IngestJob(ingester, config.GetDuration(cfg.Scheduler.IngestInterval)),
		scheduler.MatchJob(matcher, config.GetDuration(cfg.Scheduler.MatchInterval)),
	}
	if extractor != nil {
		var indexer enrichment.Indexer
		if a.indexer != nil {
			indexer = a.indexer
		}
		enricher := enrichment.NewService(a.stores.Listings, extractor, indexer, enrichment.Config{
			ConfidenceThreshold: cfg.Enrichment.ConfidenceThreshold,
			MinPrice:            cfg.Enrichment.MinPrice,
			MaxPrice:            cfg.Enrichment.MaxPrice,
			BatchSize:           cfg.Enrichment.BatchSize,
			Concurrency:         cfg.Enrichment.Concurrency,
			Timeout:             config.GetDuration(cfg.Enrichment.Timeout),
		}, log)
		jobs = append(jobs, scheduler.EnrichJob(enricher, config.GetDuration(cfg.Scheduler.EnrichInterval)))
	}
	for _, j := range jobs {
		if err := a.scheduler.Register(j); err != nil {
			a.close()
			return nil, err
		}
	}
	return a, nil
}

func (a *app) initStorage(ctx context.Context) error {
	if a.cfg.Storage.Driver != config.StoragePostgres {
		a.stores = memory.New()
		a.log.Info("using in-memory storage", nil)
		return nil
	}
	pg, err := database.NewPostgres(a.cfg.Database.Postgres)
	if err != nil {
		return err
	}
	if err := retryWithBackoff(ctx, pg.Ping, 15, 2*time.Second, a.log, "postgres connection"); err != nil {
		_ = pg.Close()
		return err
	}
	a.pg = pg
	a.closers = append(a.closers, pg.Close)
	a.checks["postgres"] = pg.Ping
	a.stores = postgres.New(pg.DB)
	return nil
}

func newSender(ctx context.Context, cfg *config.Config, log logger.Logger) (notify.Sender, error) {
	timeout := config.GetDuration(cfg.Notifications.DeliveryTimeout)
	switch cfg.Delivery.Provider {
	case config.ProviderSMS:
		if !cfg.Integrations.AWS.SNS.Enabled {
			return nil, fmt.Errorf("delivery.provider is %q but integrations.aws.sns is disabled", config.ProviderSMS)
		}
		client, err := aws.NewSNSClient(ctx, cfg.Integrations.AWS.Region, cfg.Integrations.AWS.SNS.DefaultSMSSenderID)
		if err != nil {
			return nil, err
		}
		return delivery.NewSMSSender(client, log), nil
	default:
		wa := cfg.APIs.WhatsApp
		return delivery.NewWhatsAppSender(wa.BaseURL, wa.PhoneNumberID, wa.AccessToken, timeout, log), nil
	}
}

func (a *app) searcher() api.Searcher {
	if a.indexer == nil {
		return nil
	}
	return a.indexer
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn("close failed", map[string]interface{}{"error": err})
		}
	}
	a.closers = nil
}

// retryWithBackoff retries op with exponential backoff until it succeeds,
// attempts run out or ctx is done.
func retryWithBackoff(ctx context.Context, op func(context.Context) error, attempts int, delay time.Duration, log logger.Logger, name string) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = op(ctx); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		log.Warn(name+" failed, retrying", map[string]interface{}{
			"error":       err,
			"attempt":     i + 1,
			"maxRetries":  attempts,
			"nextRetryIn": delay.String(),
		})
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
	}
	return fmt.Errorf("%s failed after %d attempts: %w", name, attempts, err)
}
