package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-pkgz/lgr"
	"gopkg.in/yaml.v3"
)

//go:generate go run ../../cmd/schema/main.go schema.json

// Config holds the application configuration
type Config struct {
	Server struct {
		Listen  string        `yaml:"listen" json:"listen" jsonschema:"default=:8080,description=HTTP server listen address"`
		Timeout time.Duration `yaml:"timeout" json:"timeout" jsonschema:"default=30s,description=HTTP server timeout"`
	} `yaml:"server" json:"server" jsonschema:"description=Server configuration"`

	Database struct {
		DSN             string `yaml:"dsn" json:"dsn" jsonschema:"default=file:newsfilter.db?cache=shared&mode=rwc,description=SQLite connection string for the warm store"`
		MaxOpenConns    int    `yaml:"max_open_conns" json:"max_open_conns" jsonschema:"default=10,description=Maximum number of open connections"`
		MaxIdleConns    int    `yaml:"max_idle_conns" json:"max_idle_conns" jsonschema:"default=5,description=Maximum number of idle connections"`
		ConnMaxLifetime int    `yaml:"conn_max_lifetime" json:"conn_max_lifetime" jsonschema:"default=3600,description=Connection maximum lifetime in seconds"`
		RetentionDays   int    `yaml:"retention_days" json:"retention_days" jsonschema:"default=30,description=Days to keep articles in the warm store"`
	} `yaml:"database" json:"database" jsonschema:"description=Warm store configuration"`

	Cache struct {
		RedisAddr     string `yaml:"redis_addr" json:"redis_addr" jsonschema:"description=Redis address for the hot cache; in-memory cache is used when empty"`
		RedisPassword string `yaml:"redis_password" json:"redis_password" jsonschema:"description=Redis password"`
		RedisDB       int    `yaml:"redis_db" json:"redis_db" jsonschema:"default=0,description=Redis database number"`
		MaxEntries    int    `yaml:"max_entries" json:"max_entries" jsonschema:"default=10000,description=Entry cap for the in-memory hot cache"`
	} `yaml:"cache" json:"cache" jsonschema:"description=Hot cache configuration"`

	NewsFilter NewsFilterConfig `yaml:"newsfilter" json:"newsfilter" jsonschema:"description=News provider configuration"`

	Translator TranslatorConfig `yaml:"translator" json:"translator" jsonschema:"description=Translation LLM configuration"`

	Worker struct {
		Count         int           `yaml:"count" json:"count" jsonschema:"default=10,description=Number of concurrent workers"`
		QueueSize     int           `yaml:"queue_size" json:"queue_size" jsonschema:"default=1024,description=Task queue capacity"`
		SubmitTimeout time.Duration `yaml:"submit_timeout" json:"submit_timeout" jsonschema:"default=45s,description=How long a caller waits for a task result"`
	} `yaml:"worker" json:"worker" jsonschema:"description=Worker pool configuration"`

	Schedule struct {
		CleanupInterval time.Duration `yaml:"cleanup_interval" json:"cleanup_interval" jsonschema:"default=10m,description=Interval between cache/store maintenance sweeps"`
		PrewarmInterval time.Duration `yaml:"prewarm_interval" json:"prewarm_interval" jsonschema:"default=30m,description=Interval between watchlist pre-warm runs"`
		Watchlist       []string      `yaml:"watchlist" json:"watchlist" jsonschema:"description=Ticker symbols to pre-warm from RSS"`
		FeedURL         string        `yaml:"feed_url" json:"feed_url" jsonschema:"description=Per-symbol RSS URL template with %s placeholder"`
		MaxWorkers      int           `yaml:"max_workers" json:"max_workers" jsonschema:"default=5,description=Maximum concurrent pre-warm fetches"`
	} `yaml:"schedule" json:"schedule" jsonschema:"description=Background maintenance configuration"`
}

// NewsFilterConfig holds provider API and auth settings
type NewsFilterConfig struct {
	APIURL       string        `yaml:"api_url" json:"api_url" jsonschema:"default=https://api.newsfilter.io/actions,description=Provider query endpoint"`
	AuthURL      string        `yaml:"auth_url" json:"auth_url" jsonschema:"default=https://login.newsfilter.io/co/authenticate,description=Provider login endpoint"`
	TokenURL     string        `yaml:"token_url" json:"token_url" jsonschema:"default=https://api.newsfilter.io/public/actions,description=Provider token exchange endpoint"`
	Username     string        `yaml:"username" json:"username" jsonschema:"required,description=Provider account username"`
	Password     string        `yaml:"password" json:"password" jsonschema:"required,description=Provider account password"`
	ClientID     string        `yaml:"client_id" json:"client_id" jsonschema:"required,description=Provider OAuth client id"`
	Timeout      time.Duration `yaml:"timeout" json:"timeout" jsonschema:"default=30s,description=Request timeout"`
	RequestDelay time.Duration `yaml:"request_delay" json:"request_delay" jsonschema:"default=500ms,description=Fixed delay before each provider call"`
	Cooldown     time.Duration `yaml:"cooldown" json:"cooldown" jsonschema:"default=30m,description=Login failure cooldown"`
}

// TranslatorConfig holds LLM configuration for article translation
type TranslatorConfig struct {
	Endpoint    string        `yaml:"endpoint" json:"endpoint" jsonschema:"description=OpenAI-compatible API endpoint"`
	APIKey      string        `yaml:"api_key" json:"api_key" jsonschema:"description=API key; translation is disabled when empty"`
	Model       string        `yaml:"model" json:"model" jsonschema:"default=gpt-4o-mini,description=Model name"`
	Temperature float64       `yaml:"temperature" json:"temperature" jsonschema:"default=0.3,description=Temperature for response generation"`
	MaxTokens   int           `yaml:"max_tokens" json:"max_tokens" jsonschema:"default=1500,description=Maximum tokens in response"`
	Timeout     time.Duration `yaml:"timeout" json:"timeout" jsonschema:"default=30s,description=Request timeout"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // file path comes from CLI flag
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// expand environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	// verify against embedded schema
	if err := VerifyAgainstEmbeddedSchema(&cfg); err != nil {
		// schema validation is supplementary, warn and continue
		lgr.Printf("[WARN] schema validation failed: %v", err)
	}

	return &cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Listen == "" {
		cfg.Server.Listen = ":8080"
	}
	if cfg.Server.Timeout == 0 {
		cfg.Server.Timeout = 30 * time.Second
	}

	if cfg.Database.DSN == "" {
		cfg.Database.DSN = "file:newsfilter.db?cache=shared&mode=rwc&_txlock=immediate"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 10
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 3600
	}
	if cfg.Database.RetentionDays == 0 {
		cfg.Database.RetentionDays = 30
	}

	if cfg.Cache.MaxEntries == 0 {
		cfg.Cache.MaxEntries = 10000
	}

	if cfg.NewsFilter.APIURL == "" {
		cfg.NewsFilter.APIURL = "https://api.newsfilter.io/actions"
	}
	if cfg.NewsFilter.AuthURL == "" {
		cfg.NewsFilter.AuthURL = "https://login.newsfilter.io/co/authenticate"
	}
	if cfg.NewsFilter.TokenURL == "" {
		cfg.NewsFilter.TokenURL = "https://api.newsfilter.io/public/actions"
	}
	if cfg.NewsFilter.Timeout == 0 {
		cfg.NewsFilter.Timeout = 30 * time.Second
	}
	if cfg.NewsFilter.RequestDelay == 0 {
		cfg.NewsFilter.RequestDelay = 500 * time.Millisecond
	}
	if cfg.NewsFilter.Cooldown == 0 {
		cfg.NewsFilter.Cooldown = 30 * time.Minute
	}

	if cfg.Translator.Model == "" {
		cfg.Translator.Model = "gpt-4o-mini"
	}
	if cfg.Translator.Temperature == 0 {
		cfg.Translator.Temperature = 0.3
	}
	if cfg.Translator.MaxTokens == 0 {
		cfg.Translator.MaxTokens = 1500
	}
	if cfg.Translator.Timeout == 0 {
		cfg.Translator.Timeout = 30 * time.Second
	}

	if cfg.Worker.Count == 0 {
		cfg.Worker.Count = 10
	}
	if cfg.Worker.QueueSize == 0 {
		cfg.Worker.QueueSize = 1024
	}
	if cfg.Worker.SubmitTimeout == 0 {
		cfg.Worker.SubmitTimeout = 45 * time.Second
	}

	if cfg.Schedule.CleanupInterval == 0 {
		cfg.Schedule.CleanupInterval = 10 * time.Minute
	}
	if cfg.Schedule.PrewarmInterval == 0 {
		cfg.Schedule.PrewarmInterval = 30 * time.Minute
	}
	if cfg.Schedule.MaxWorkers == 0 {
		cfg.Schedule.MaxWorkers = 5
	}
}

// validate checks configuration for correctness
func validate(cfg *Config) error {
	// provider credentials are required at startup, not at request time
	if cfg.NewsFilter.Username == "" {
		return fmt.Errorf("newsfilter.username is required")
	}
	if cfg.NewsFilter.Password == "" {
		return fmt.Errorf("newsfilter.password is required")
	}
	if cfg.NewsFilter.ClientID == "" {
		return fmt.Errorf("newsfilter.client_id is required")
	}

	if cfg.Translator.Temperature < 0 || cfg.Translator.Temperature > 2 {
		return fmt.Errorf("translator.temperature must be between 0 and 2")
	}

	if cfg.Worker.Count < 1 {
		return fmt.Errorf("worker.count must be at least 1")
	}
	if cfg.Worker.SubmitTimeout < time.Second {
		return fmt.Errorf("worker.submit_timeout must be at least 1 second")
	}

	if cfg.Server.Timeout < time.Second {
		return fmt.Errorf("server timeout must be at least 1 second")
	}

	if len(cfg.Schedule.Watchlist) > 0 && cfg.Schedule.FeedURL == "" {
		return fmt.Errorf("schedule.feed_url is required when watchlist is set")
	}

	return nil
}

// GetServerConfig returns server configuration
func (c *Config) GetServerConfig() (listen string, timeout time.Duration) {
	return c.Server.Listen, c.Server.Timeout
}

// GetNewsFilterConfig returns provider configuration
func (c *Config) GetNewsFilterConfig() NewsFilterConfig {
	return c.NewsFilter
}

// GetTranslatorConfig returns translation LLM configuration
func (c *Config) GetTranslatorConfig() TranslatorConfig {
	return c.Translator
}
