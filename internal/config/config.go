package config

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the application's configuration model.
type Config struct {
	Credentials CredentialsConfig `yaml:"credentials"`
	Crawl       CrawlConfig       `yaml:"crawl"`
	Batch       BatchConfig       `yaml:"batch"`
	Lookup      LookupConfig      `yaml:"lookup"`
	Log         LogConfig         `yaml:"log"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// CredentialsConfig holds official-API credentials. Only unidify uses them.
type CredentialsConfig struct {
	// App-only bearer token. If empty, read from env TWEETSTREAM_BEARER_TOKEN
	BearerToken string `yaml:"bearerToken"`
	// OAuth1.0a user context; takes precedence over the bearer token when complete
	ConsumerKey    string `yaml:"consumerKey"`
	ConsumerSecret string `yaml:"consumerSecret"`
	AccessToken    string `yaml:"accessToken"`
	AccessSecret   string `yaml:"accessSecret"`
}

type CrawlConfig struct {
	// Empty means a random desktop browser user agent per session
	UserAgent string `yaml:"userAgent"`
	// Per-request HTTP timeout
	Timeout time.Duration `yaml:"timeout"`
	// Skip the robots crawl-delay sleep. For tests and debugging only.
	IgnoreCrawlDelay bool `yaml:"ignoreCrawlDelay"`
	// Retries for network errors and 5xx beneath the batch fetcher
	TransportRetries int `yaml:"transportRetries"`
}

type BatchConfig struct {
	Workers int `yaml:"workers"`
	// SQLite execution journal; relative paths resolve against the results dir
	JournalPath string `yaml:"journalPath"`
}

type LookupConfig struct {
	ChunkSize         int     `yaml:"chunkSize"`
	RequestsPerSecond float64 `yaml:"requestsPerSecond"`
	MaxAttempts       int     `yaml:"maxAttempts"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type MetricsConfig struct {
	// e.g. ":9090"; empty disables the endpoint
	Addr string `yaml:"addr"`
}

// Default returns a sensible default configuration.
func Default() Config {
	return Config{
		Crawl: CrawlConfig{
			Timeout:          30 * time.Second,
			TransportRetries: 3,
		},
		Batch:  BatchConfig{Workers: 1, JournalPath: "journal.db"},
		Lookup: LookupConfig{ChunkSize: 100, RequestsPerSecond: 1, MaxAttempts: 3},
		Log:    LogConfig{Level: "info"},
	}
}

// LoadEnvFiles loads .env files from the working directory if present.
// Values already in the process environment are kept.
func LoadEnvFiles() []string {
	var loaded []string
	for _, f := range []string{".env", ".env.local"} {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			continue
		}
		loaded = append(loaded, f)
	}
	return loaded
}

// ResolveEnv fills in config fields from environment variables if not set.
func (c *Config) ResolveEnv() {
	fill := func(dst *string, key string) {
		if *dst == "" {
			*dst = os.Getenv(key)
		}
	}
	fill(&c.Credentials.BearerToken, "TWEETSTREAM_BEARER_TOKEN")
	fill(&c.Credentials.ConsumerKey, "TWEETSTREAM_CONSUMER_KEY")
	fill(&c.Credentials.ConsumerSecret, "TWEETSTREAM_CONSUMER_SECRET")
	fill(&c.Credentials.AccessToken, "TWEETSTREAM_ACCESS_TOKEN")
	fill(&c.Credentials.AccessSecret, "TWEETSTREAM_ACCESS_SECRET")
	fill(&c.Crawl.UserAgent, "TWEETSTREAM_USER_AGENT")
	fill(&c.Metrics.Addr, "METRICS_ADDR")
	if c.Log.Level == "" {
		c.Log.Level = os.Getenv("LOG_LEVEL")
	}
}

// normalize replaces zero values left by a partial YAML file with defaults.
func (c *Config) normalize() {
	d := Default()
	if c.Crawl.Timeout <= 0 {
		c.Crawl.Timeout = d.Crawl.Timeout
	}
	if c.Crawl.TransportRetries < 0 {
		c.Crawl.TransportRetries = 0
	}
	if c.Batch.Workers <= 0 {
		c.Batch.Workers = d.Batch.Workers
	}
	if c.Lookup.ChunkSize <= 0 || c.Lookup.ChunkSize > 100 {
		c.Lookup.ChunkSize = d.Lookup.ChunkSize
	}
	if c.Lookup.RequestsPerSecond <= 0 {
		c.Lookup.RequestsPerSecond = d.Lookup.RequestsPerSecond
	}
	if c.Lookup.MaxAttempts <= 0 {
		c.Lookup.MaxAttempts = d.Lookup.MaxAttempts
	}
}

// Load reads YAML config from path. A missing file yields defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return cfg, err
		}
		cfg.ResolveEnv()
		return cfg, nil
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, err
	}
	cfg.normalize()
	cfg.ResolveEnv()
	return cfg, nil
}

// Save writes YAML config to path, creating directories as needed.
func Save(path string, cfg Config) error {
	if path == "" {
		return errors.New("empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}
