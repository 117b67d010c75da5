// internal/common/config/config.go
package config

import (
	"fmt"
	"time"
)

// Config is the main application configuration struct.
type Config struct {
	App           AppConfig           `mapstructure:"app"`
	Server        ServerConfig        `mapstructure:"server"`
	Storage       StorageConfig       `mapstructure:"storage"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Camunda       CamundaConfig       `mapstructure:"camunda"`
	Scheduler     SchedulerConfig     `mapstructure:"scheduler"`
	Matching      MatchingConfig      `mapstructure:"matching"`
	Enrichment    EnrichmentConfig    `mapstructure:"enrichment"`
	Ingestion     IngestionConfig     `mapstructure:"ingestion"`
	Notifications NotificationConfig  `mapstructure:"notifications"`
	Conversation  ConversationConfig  `mapstructure:"conversation"`
	APIs          APIsConfig          `mapstructure:"apis"`
	Delivery      DeliveryConfig      `mapstructure:"delivery"`
	Integrations  IntegrationConfig   `mapstructure:"integrations"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Logging       LoggingConfig       `mapstructure:"logging"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type ServerConfig struct {
	Port            int `mapstructure:"port"`
	ReadTimeout     int `mapstructure:"read_timeout"`     // milliseconds
	WriteTimeout    int `mapstructure:"write_timeout"`    // milliseconds
	ShutdownTimeout int `mapstructure:"shutdown_timeout"` // milliseconds
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Driver string `mapstructure:"driver"` // postgres | memory
}

type DatabaseConfig struct {
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Redis         RedisConfig         `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	ConnLifetime   int    `mapstructure:"conn_lifetime"` // milliseconds
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type ElasticsearchConfig struct {
	Enabled    bool     `mapstructure:"enabled"`
	Addresses  []string `mapstructure:"addresses"`
	Username   string   `mapstructure:"username"`
	Password   string   `mapstructure:"password"`
	Index      string   `mapstructure:"index"`
	MaxRetries int      `mapstructure:"max_retries"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
	Timeout  int    `mapstructure:"timeout"` // milliseconds, applied to dial, read and write
}

// CamundaConfig configures the optional BPMN trigger workers.
type CamundaConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	BrokerAddress  string `mapstructure:"broker_address"`
	MaxJobsActive  int    `mapstructure:"max_jobs_active"`
	Timeout        int    `mapstructure:"timeout"`         // milliseconds
	RequestTimeout int    `mapstructure:"request_timeout"` // milliseconds
}

// --- Engine Configuration ---

type SchedulerConfig struct {
	Enabled            bool `mapstructure:"enabled"`
	IngestInterval     int  `mapstructure:"ingest_interval"` // milliseconds
	EnrichInterval     int  `mapstructure:"enrich_interval"` // milliseconds
	MatchInterval      int  `mapstructure:"match_interval"`  // milliseconds
	MaxConcurrentTasks int  `mapstructure:"max_concurrent_tasks"`
}

type MatchingConfig struct {
	MatchThreshold  float64 `mapstructure:"match_threshold"`
	NotifyThreshold float64 `mapstructure:"notify_threshold"`
	BatchSize       int     `mapstructure:"batch_size"`
	MaxListingAge   int     `mapstructure:"max_listing_age"` // hours
}

type EnrichmentConfig struct {
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold"`
	MinPrice            float64 `mapstructure:"min_price"`
	MaxPrice            float64 `mapstructure:"max_price"`
	BatchSize           int     `mapstructure:"batch_size"`
	Concurrency         int     `mapstructure:"concurrency"`
	Timeout             int     `mapstructure:"timeout"` // milliseconds
}

type IngestionConfig struct {
	Source   string   `mapstructure:"source"`
	Groups   []string `mapstructure:"groups"`
	MaxPages int      `mapstructure:"max_pages"`
	Timeout  int      `mapstructure:"timeout"` // milliseconds
}

// NotificationConfig holds settings for the notification dispatcher.
type NotificationConfig struct {
	MaxImages       int  `mapstructure:"max_images"`
	AIPersonalise   bool `mapstructure:"ai_personalise"`
	AITimeout       int  `mapstructure:"ai_timeout"`       // milliseconds
	DeliveryTimeout int  `mapstructure:"delivery_timeout"` // milliseconds
}

// MaxRepliesPerTurn bounds the messages one inbound message can trigger.
const MaxRepliesPerTurn = 3

type ConversationConfig struct {
	LockTTL   int `mapstructure:"lock_ttl"`   // milliseconds
	CursorTTL int `mapstructure:"cursor_ttl"` // milliseconds
}

// APIsConfig holds settings for external API integrations.
type APIsConfig struct {
	Gemini struct {
		APIKey      string  `mapstructure:"api_key"`
		Model       string  `mapstructure:"model"`
		Temperature float32 `mapstructure:"temperature"`
	} `mapstructure:"gemini"`

	Scraper struct {
		BaseURL string `mapstructure:"base_url"`
		APIKey  string `mapstructure:"api_key"`
	} `mapstructure:"scraper"`

	WhatsApp struct {
		BaseURL       string `mapstructure:"base_url"`
		PhoneNumberID string `mapstructure:"phone_number_id"`
		AccessToken   string `mapstructure:"access_token"`
		VerifyToken   string `mapstructure:"verify_token"`
	} `mapstructure:"whatsapp"`
}

type DeliveryConfig struct {
	Provider string `mapstructure:"provider"` // whatsapp | sms
}

// IntegrationConfig holds cloud provider settings.
type IntegrationConfig struct {
	AWS struct {
		Region string `mapstructure:"region"`
		SNS    struct {
			Enabled            bool   `mapstructure:"enabled"`
			DefaultSMSSenderID string `mapstructure:"default_sms_sender_id"`
		} `mapstructure:"sns"`
	} `mapstructure:"aws"`
}

type ObservabilityConfig struct {
	ServiceName    string `mapstructure:"service_name"`
	JaegerEndpoint string `mapstructure:"jaeger_endpoint"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// GetDuration converts milliseconds from config to time.Duration
func GetDuration(milliseconds int) time.Duration {
	return time.Duration(milliseconds) * time.Millisecond
}
