package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFromFile_Defaults(t *testing.T) {
	path := writeConfig(t, "app:\n  name: immo-test\n")

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "immo-test", cfg.App.Name)
	assert.Equal(t, StorageMemory, cfg.Storage.Driver)
	assert.Equal(t, 60.0, cfg.Matching.MatchThreshold)
	assert.Equal(t, 70.0, cfg.Matching.NotifyThreshold)
	assert.Equal(t, 0.65, cfg.Enrichment.ConfidenceThreshold)
	assert.Equal(t, 3, cfg.Notifications.MaxImages)
	assert.Equal(t, ProviderWhatsApp, cfg.Delivery.Provider)
	assert.Equal(t, "immo-test", cfg.Observability.ServiceName)
}

func TestLoadFromFile_ExpandsEnvPlaceholders(t *testing.T) {
	t.Setenv("TEST_GEMINI_KEY", "secret-key")
	path := writeConfig(t, `
apis:
  gemini:
    api_key: ${TEST_GEMINI_KEY}
ingestion:
  groups: ["group-a", "group-b"]
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "secret-key", cfg.APIs.Gemini.APIKey)
	assert.Equal(t, []string{"group-a", "group-b"}, cfg.Ingestion.Groups)
}

func TestLoadFromFile_UnsetPlaceholderFallsBack(t *testing.T) {
	t.Setenv("IMMO_UNSET_ENVIRONMENT", "")
	t.Setenv("WHATSAPP_ACCESS_TOKEN", "wa-token")
	path := writeConfig(t, `
app:
  environment: ${IMMO_UNSET_ENVIRONMENT}
apis:
  whatsapp:
    access_token: ${IMMO_UNSET_TOKEN}
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.App.Environment)
	assert.Equal(t, "wa-token", cfg.APIs.WhatsApp.AccessToken)
}

func TestLoadFromFile_Validation(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{
			name:    "postgres without host",
			body:    "storage:\n  driver: postgres\n",
			wantErr: "database.postgres.host is required",
		},
		{
			name:    "unknown driver",
			body:    "storage:\n  driver: sqlite\n",
			wantErr: "storage.driver",
		},
		{
			name:    "notify below match threshold",
			body:    "matching:\n  match_threshold: 80\n  notify_threshold: 70\n",
			wantErr: "notify_threshold",
		},
		{
			name:    "redis enabled without address",
			body:    "database:\n  redis:\n    enabled: true\n",
			wantErr: "database.redis.address is required",
		},
		{
			name:    "lock ttl shorter than a turn of sends",
			body:    "notifications:\n  delivery_timeout: 15000\nconversation:\n  lock_ttl: 30000\n",
			wantErr: "conversation.lock_ttl",
		},
		{
			name:    "unknown provider",
			body:    "delivery:\n  provider: pigeon\n",
			wantErr: "delivery.provider",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromFile(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadFromFile_MissingFile(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestPostgresDSN(t *testing.T) {
	p := PostgresConfig{Host: "db", Port: 5432, User: "u", Password: "p", Database: "alerts", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=alerts sslmode=disable", p.GetDSN())
}
