// internal/common/config/loader.go
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"

	ProviderWhatsApp = "whatsapp"
	ProviderSMS      = "sms"
)

// Load reads configs/config.yaml, merges config.<APP_ENVIRONMENT>.yaml over it
// and applies environment overrides.
func Load() (*Config, error) {
	loadEnvFile()

	v := newViper()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath("../../configs")
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading base config: %w", err)
		}
	}

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = "development"
	}
	v.SetConfigName(fmt.Sprintf("config.%s", env))
	_ = v.MergeInConfig()

	return build(v)
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(path string) (*Config, error) {
	loadEnvFile()

	v := newViper()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return build(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

func build(v *viper.Viper) (*Config, error) {
	expandEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	overrideEmptyConfig(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func loadEnvFile() {
	possiblePaths := []string{".env", "../.env", "../../.env"}
	if rootDir := findProjectRoot(); rootDir != "" {
		possiblePaths = append(possiblePaths, filepath.Join(rootDir, ".env"))
	}

	for _, path := range possiblePaths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				return
			}
		}
	}
}

// findProjectRoot walks up from the working directory looking for go.mod.
func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// expandEnvVars replaces ${VAR} placeholders in string values.
func expandEnvVars(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		strVal, ok := v.Get(key).(string)
		if !ok {
			continue
		}
		if strings.Contains(strVal, "${") || (strings.HasPrefix(strVal, "$") && len(strVal) > 1) {
			// Unset variables expand to "" so applyDefaults and the
			// well-known env fallbacks still apply.
			if expanded := os.ExpandEnv(strVal); expanded != strVal {
				v.Set(key, expanded)
			}
		}
	}
}

// overrideEmptyConfig fills secrets from well-known env names when the YAML left them empty.
func overrideEmptyConfig(cfg *Config) {
	setIfEmpty(&cfg.APIs.Gemini.APIKey, "GEMINI_API_KEY")
	setIfEmpty(&cfg.APIs.Scraper.APIKey, "SCRAPER_API_KEY")
	setIfEmpty(&cfg.APIs.WhatsApp.AccessToken, "WHATSAPP_ACCESS_TOKEN")
	setIfEmpty(&cfg.APIs.WhatsApp.PhoneNumberID, "WHATSAPP_PHONE_NUMBER_ID")
	setIfEmpty(&cfg.APIs.WhatsApp.VerifyToken, "WHATSAPP_VERIFY_TOKEN")
	setIfEmpty(&cfg.Database.Postgres.User, "DB_USER")
	setIfEmpty(&cfg.Database.Postgres.Password, "DB_PASSWORD")
	setIfEmpty(&cfg.Database.Redis.Password, "REDIS_PASSWORD")
}

func setIfEmpty(field *string, envKey string) {
	if *field != "" {
		return
	}
	if val := os.Getenv(envKey); val != "" {
		*field = val
	}
}

// applyDefaults sets default values for optional configuration fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "immo-alerts"
	}
	if cfg.App.Environment == "" {
		cfg.App.Environment = "development"
	}

	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15000
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 15000
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10000
	}

	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = StorageMemory
	}

	// Database defaults
	if cfg.Database.Postgres.Port == 0 {
		cfg.Database.Postgres.Port = 5432
	}
	if cfg.Database.Postgres.MaxConnections == 0 {
		cfg.Database.Postgres.MaxConnections = 25
	}
	if cfg.Database.Postgres.MaxIdle == 0 {
		cfg.Database.Postgres.MaxIdle = 5
	}
	if cfg.Database.Postgres.ConnLifetime == 0 {
		cfg.Database.Postgres.ConnLifetime = 300000
	}
	if cfg.Database.Postgres.SSLMode == "" {
		cfg.Database.Postgres.SSLMode = "disable"
	}
	if cfg.Database.Redis.PoolSize == 0 {
		cfg.Database.Redis.PoolSize = 10
	}
	if cfg.Database.Redis.Timeout == 0 {
		cfg.Database.Redis.Timeout = 3000
	}
	if cfg.Database.Elasticsearch.MaxRetries == 0 {
		cfg.Database.Elasticsearch.MaxRetries = 3
	}
	if cfg.Database.Elasticsearch.Index == "" {
		cfg.Database.Elasticsearch.Index = "listings"
	}

	// Camunda defaults
	if cfg.Camunda.MaxJobsActive == 0 {
		cfg.Camunda.MaxJobsActive = 5
	}
	if cfg.Camunda.Timeout == 0 {
		cfg.Camunda.Timeout = 300000
	}
	if cfg.Camunda.RequestTimeout == 0 {
		cfg.Camunda.RequestTimeout = 30000
	}

	// Scheduler defaults
	if cfg.Scheduler.IngestInterval == 0 {
		cfg.Scheduler.IngestInterval = 30 * 60 * 1000
	}
	if cfg.Scheduler.EnrichInterval == 0 {
		cfg.Scheduler.EnrichInterval = 5 * 60 * 1000
	}
	if cfg.Scheduler.MatchInterval == 0 {
		cfg.Scheduler.MatchInterval = 10 * 60 * 1000
	}
	if cfg.Scheduler.MaxConcurrentTasks == 0 {
		cfg.Scheduler.MaxConcurrentTasks = 3
	}

	// Matching defaults
	if cfg.Matching.MatchThreshold == 0 {
		cfg.Matching.MatchThreshold = 60
	}
	if cfg.Matching.NotifyThreshold == 0 {
		cfg.Matching.NotifyThreshold = 70
	}
	if cfg.Matching.BatchSize == 0 {
		cfg.Matching.BatchSize = 50
	}
	if cfg.Matching.MaxListingAge == 0 {
		cfg.Matching.MaxListingAge = 72
	}

	// Enrichment defaults
	if cfg.Enrichment.ConfidenceThreshold == 0 {
		cfg.Enrichment.ConfidenceThreshold = 0.65
	}
	if cfg.Enrichment.MinPrice == 0 {
		cfg.Enrichment.MinPrice = 1000
	}
	if cfg.Enrichment.MaxPrice == 0 {
		cfg.Enrichment.MaxPrice = 50_000_000
	}
	if cfg.Enrichment.BatchSize == 0 {
		cfg.Enrichment.BatchSize = 20
	}
	if cfg.Enrichment.Concurrency == 0 {
		cfg.Enrichment.Concurrency = 4
	}
	if cfg.Enrichment.Timeout == 0 {
		cfg.Enrichment.Timeout = 30000
	}

	// Ingestion defaults
	if cfg.Ingestion.Source == "" {
		cfg.Ingestion.Source = "facebook"
	}
	if cfg.Ingestion.MaxPages == 0 {
		cfg.Ingestion.MaxPages = 3
	}
	if cfg.Ingestion.Timeout == 0 {
		cfg.Ingestion.Timeout = 60000
	}

	// Notification defaults
	if cfg.Notifications.MaxImages == 0 {
		cfg.Notifications.MaxImages = 3
	}
	if cfg.Notifications.AITimeout == 0 {
		cfg.Notifications.AITimeout = 10000
	}
	if cfg.Notifications.DeliveryTimeout == 0 {
		cfg.Notifications.DeliveryTimeout = 15000
	}

	// Conversation defaults
	if cfg.Conversation.LockTTL == 0 {
		cfg.Conversation.LockTTL = 4 * cfg.Notifications.DeliveryTimeout
	}
	if cfg.Conversation.CursorTTL == 0 {
		cfg.Conversation.CursorTTL = 24 * 60 * 60 * 1000
	}

	if cfg.APIs.Gemini.Model == "" {
		cfg.APIs.Gemini.Model = "gemini-2.5-flash"
	}
	if cfg.APIs.WhatsApp.BaseURL == "" {
		cfg.APIs.WhatsApp.BaseURL = "https://graph.facebook.com/v19.0"
	}
	if cfg.Delivery.Provider == "" {
		cfg.Delivery.Provider = ProviderWhatsApp
	}
	if cfg.Integrations.AWS.Region == "" {
		cfg.Integrations.AWS.Region = "eu-west-3"
	}
	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = cfg.App.Name
	}

	// Logging defaults
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
}

// validateConfig validates critical configuration fields
func validateConfig(cfg *Config) error {
	switch cfg.Storage.Driver {
	case StorageMemory:
	case StoragePostgres:
		if cfg.Database.Postgres.Host == "" {
			return fmt.Errorf("database.postgres.host is required")
		}
		if cfg.Database.Postgres.Database == "" {
			return fmt.Errorf("database.postgres.database is required")
		}
		if cfg.Database.Postgres.User == "" {
			return fmt.Errorf("database.postgres.user is required")
		}
	default:
		return fmt.Errorf("storage.driver must be %q or %q, got %q", StorageMemory, StoragePostgres, cfg.Storage.Driver)
	}

	if cfg.Database.Redis.Enabled && cfg.Database.Redis.Address == "" {
		return fmt.Errorf("database.redis.address is required")
	}
	if cfg.Database.Elasticsearch.Enabled && len(cfg.Database.Elasticsearch.Addresses) == 0 {
		return fmt.Errorf("database.elasticsearch.addresses is required")
	}
	if cfg.Camunda.Enabled && cfg.Camunda.BrokerAddress == "" {
		return fmt.Errorf("camunda.broker_address is required")
	}

	if cfg.Matching.NotifyThreshold < cfg.Matching.MatchThreshold {
		return fmt.Errorf("matching.notify_threshold (%.0f) must be >= matching.match_threshold (%.0f)",
			cfg.Matching.NotifyThreshold, cfg.Matching.MatchThreshold)
	}
	if cfg.Enrichment.ConfidenceThreshold < 0 || cfg.Enrichment.ConfidenceThreshold > 1 {
		return fmt.Errorf("enrichment.confidence_threshold must be within [0,1]")
	}
	if cfg.Enrichment.MinPrice >= cfg.Enrichment.MaxPrice {
		return fmt.Errorf("enrichment.min_price must be lower than enrichment.max_price")
	}

	// A turn sends up to MaxRepliesPerTurn messages while holding the user lock.
	if minTTL := MaxRepliesPerTurn * cfg.Notifications.DeliveryTimeout; cfg.Conversation.LockTTL <= minTTL {
		return fmt.Errorf("conversation.lock_ttl (%dms) must exceed %d x notifications.delivery_timeout (%dms)",
			cfg.Conversation.LockTTL, MaxRepliesPerTurn, minTTL)
	}

	switch cfg.Delivery.Provider {
	case ProviderWhatsApp, ProviderSMS:
	default:
		return fmt.Errorf("delivery.provider must be %q or %q", ProviderWhatsApp, ProviderSMS)
	}

	return nil
}
