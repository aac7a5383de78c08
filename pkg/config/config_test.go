package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeConfig writes YAML content to a temp file and returns the path
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test-config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const minimalCreds = `
newsfilter:
  username: user@example.com
  password: secret
  client_id: client-123
`

func TestLoad(t *testing.T) {
	t.Run("valid config", func(t *testing.T) {
		configContent := `
server:
  listen: ":9090"
  timeout: 45s

database:
  dsn: "file:test.db"
  retention_days: 14

cache:
  redis_addr: "localhost:6379"
  redis_db: 2

newsfilter:
  username: user@example.com
  password: secret
  client_id: client-123
  cooldown: 15m

translator:
  api_key: sk-test
  model: gpt-4o

worker:
  count: 4
  submit_timeout: 20s

schedule:
  watchlist: [TSLA, NVDA]
  feed_url: "https://example.com/rss/%s"
`
		cfg, err := Load(writeConfig(t, configContent))
		require.NoError(t, err)
		require.NotNil(t, cfg)

		assert.Equal(t, ":9090", cfg.Server.Listen)
		assert.Equal(t, 45*time.Second, cfg.Server.Timeout)
		assert.Equal(t, "file:test.db", cfg.Database.DSN)
		assert.Equal(t, 14, cfg.Database.RetentionDays)
		assert.Equal(t, "localhost:6379", cfg.Cache.RedisAddr)
		assert.Equal(t, 2, cfg.Cache.RedisDB)
		assert.Equal(t, 15*time.Minute, cfg.NewsFilter.Cooldown)
		assert.Equal(t, "gpt-4o", cfg.Translator.Model)
		assert.Equal(t, 4, cfg.Worker.Count)
		assert.Equal(t, 20*time.Second, cfg.Worker.SubmitTimeout)
		assert.Equal(t, []string{"TSLA", "NVDA"}, cfg.Schedule.Watchlist)
	})

	t.Run("defaults", func(t *testing.T) {
		cfg, err := Load(writeConfig(t, minimalCreds))
		require.NoError(t, err)

		assert.Equal(t, ":8080", cfg.Server.Listen)
		assert.Equal(t, 30*time.Second, cfg.Server.Timeout)
		assert.Equal(t, 30, cfg.Database.RetentionDays)
		assert.Equal(t, 10000, cfg.Cache.MaxEntries)
		assert.Empty(t, cfg.Cache.RedisAddr, "in-memory cache by default")
		assert.Equal(t, "https://api.newsfilter.io/actions", cfg.NewsFilter.APIURL)
		assert.Equal(t, 500*time.Millisecond, cfg.NewsFilter.RequestDelay)
		assert.Equal(t, 30*time.Minute, cfg.NewsFilter.Cooldown)
		assert.Equal(t, "gpt-4o-mini", cfg.Translator.Model)
		assert.InDelta(t, 0.3, cfg.Translator.Temperature, 0.001)
		assert.Equal(t, 1500, cfg.Translator.MaxTokens)
		assert.Equal(t, 10, cfg.Worker.Count)
		assert.Equal(t, 1024, cfg.Worker.QueueSize)
		assert.Equal(t, 45*time.Second, cfg.Worker.SubmitTimeout)
		assert.Equal(t, 10*time.Minute, cfg.Schedule.CleanupInterval)
		assert.Equal(t, 30*time.Minute, cfg.Schedule.PrewarmInterval)
		assert.Equal(t, 5, cfg.Schedule.MaxWorkers)
	})

	t.Run("env expansion", func(t *testing.T) {
		t.Setenv("NF_PASSWORD", "from-env")
		configContent := `
newsfilter:
  username: user@example.com
  password: ${NF_PASSWORD}
  client_id: client-123
`
		cfg, err := Load(writeConfig(t, configContent))
		require.NoError(t, err)
		assert.Equal(t, "from-env", cfg.NewsFilter.Password)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "read config file")
	})

	t.Run("invalid yaml", func(t *testing.T) {
		_, err := Load(writeConfig(t, "server: [broken"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "parse config")
	})
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		errMsg  string
	}{
		{
			name: "missing username",
			content: `
newsfilter:
  password: secret
  client_id: client-123
`,
			errMsg: "newsfilter.username is required",
		},
		{
			name: "missing password",
			content: `
newsfilter:
  username: user@example.com
  client_id: client-123
`,
			errMsg: "newsfilter.password is required",
		},
		{
			name: "missing client id",
			content: `
newsfilter:
  username: user@example.com
  password: secret
`,
			errMsg: "newsfilter.client_id is required",
		},
		{
			name: "temperature out of range",
			content: minimalCreds + `
translator:
  temperature: 3.5
`,
			errMsg: "translator.temperature",
		},
		{
			name: "submit timeout too short",
			content: minimalCreds + `
worker:
  submit_timeout: 100ms
`,
			errMsg: "worker.submit_timeout",
		},
		{
			name: "watchlist without feed url",
			content: minimalCreds + `
schedule:
  watchlist: [TSLA]
`,
			errMsg: "schedule.feed_url is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestGetters(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalCreds))
	require.NoError(t, err)

	listen, timeout := cfg.GetServerConfig()
	assert.Equal(t, ":8080", listen)
	assert.Equal(t, 30*time.Second, timeout)

	nf := cfg.GetNewsFilterConfig()
	assert.Equal(t, "user@example.com", nf.Username)

	tr := cfg.GetTranslatorConfig()
	assert.Equal(t, "gpt-4o-mini", tr.Model)
}
