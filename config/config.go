// Package config loads the settings of a collection run from defaults, an
// optional YAML file, a .env file and NEWSHARVEST_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"github.com/pevans/newsharvest/extract"
	"github.com/pevans/newsharvest/retry"
	"github.com/pevans/newsharvest/sink"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "NEWSHARVEST"

// ErrInvalid is wrapped by every validation error.
var ErrInvalid = errors.New("invalid configuration")

// Config holds every setting of a run.
type Config struct {
	Site    SiteConfig        `mapstructure:"site"`
	Topics  TopicsConfig      `mapstructure:"topics"`
	Listing ListingConfig     `mapstructure:"listing"`
	Detail  DetailConfig      `mapstructure:"detail"`
	HTTP    HTTPConfig        `mapstructure:"http"`
	Sink    SinkConfig        `mapstructure:"sink"`
	Extract extract.Selectors `mapstructure:"extract"`
	Log     LogConfig         `mapstructure:"log"`
	Metrics MetricsConfig     `mapstructure:"metrics"`
}

// SiteConfig names the site being collected.
type SiteConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	APIURL    string `mapstructure:"api_url"`
	UserAgent string `mapstructure:"user_agent"`
}

type TopicsConfig struct {
	File string `mapstructure:"file"`
}

// ListingConfig controls listing collection and its retry policy.
type ListingConfig struct {
	// Concurrency bounds the topics collected at once; 0 means all.
	Concurrency int           `mapstructure:"concurrency"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	RetryDelay  time.Duration `mapstructure:"retry_delay"`
	Backoff     string        `mapstructure:"backoff"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

type DetailConfig struct {
	BatchSize int `mapstructure:"batch_size"`
}

type HTTPConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// SinkConfig selects the sinks and where they write.
type SinkConfig struct {
	Kind       []string `mapstructure:"kind"`
	SQLitePath string   `mapstructure:"sqlite_path"`
	CSVPath    string   `mapstructure:"csv_path"`
	JSONDir    string   `mapstructure:"json_dir"`
}

// Paths returns the sink locations in the form sink.Open takes.
func (s SinkConfig) Paths() sink.Paths {
	return sink.Paths{SQLite: s.SQLitePath, CSV: s.CSVPath, JSONDir: s.JSONDir}
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

type MetricsConfig struct {
	// Addr is the listen address of the /metrics endpoint; empty disables it.
	Addr string `mapstructure:"addr"`
}

// setDefaults registers the default of every key. Keys without a default
// are not picked up from the environment.
func setDefaults(v *viper.Viper) {
	v.SetDefault("site.base_url", "https://www.bbc.com/")
	v.SetDefault("site.api_url", "https://web-cdn.api.bbci.co.uk/xd/content-collection/")
	v.SetDefault("site.user_agent", "newsharvest/1.0")

	v.SetDefault("topics.file", "topics.yaml")

	v.SetDefault("listing.concurrency", 0)
	v.SetDefault("listing.max_attempts", retry.DefaultMaxAttempts)
	v.SetDefault("listing.retry_delay", retry.DefaultDelay)
	v.SetDefault("listing.backoff", retry.BackoffFixed)
	v.SetDefault("listing.max_delay", 30*time.Second)

	v.SetDefault("detail.batch_size", 10)

	v.SetDefault("http.timeout", 30*time.Second)

	v.SetDefault("sink.kind", []string{sink.KindSQLite})
	v.SetDefault("sink.sqlite_path", "harvest.db")
	v.SetDefault("sink.csv_path", "harvest.csv")
	v.SetDefault("sink.json_dir", "records")

	selectors := extract.DefaultSelectors()
	v.SetDefault("extract.image", selectors.Image)
	v.SetDefault("extract.author", selectors.Author)
	v.SetDefault("extract.text", selectors.Text)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	v.SetDefault("metrics.addr", "")
}

// Load builds the configuration. When path is empty, newsharvest.yaml is
// looked up in the working directory and skipped if absent; an explicit
// path must exist. A .env file in the working directory is loaded first and
// never overrides variables already set.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		v.SetConfigName("newsharvest")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	cfg.Sink.Kind = splitKinds(cfg.Sink.Kind)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges and names.
func (c *Config) Validate() error {
	if err := absoluteURL("site.base_url", c.Site.BaseURL); err != nil {
		return err
	}
	if err := absoluteURL("site.api_url", c.Site.APIURL); err != nil {
		return err
	}
	if c.Topics.File == "" {
		return fmt.Errorf("%w: topics.file is empty", ErrInvalid)
	}
	if c.Listing.Concurrency < 0 {
		return fmt.Errorf("%w: listing.concurrency must not be negative", ErrInvalid)
	}
	if c.Listing.MaxAttempts < 0 {
		return fmt.Errorf("%w: listing.max_attempts must not be negative", ErrInvalid)
	}
	if c.Listing.RetryDelay < 0 {
		return fmt.Errorf("%w: listing.retry_delay must not be negative", ErrInvalid)
	}
	if _, err := retry.NewBackoff(c.Listing.Backoff, c.Listing.RetryDelay, c.Listing.MaxDelay); err != nil {
		return fmt.Errorf("%w: listing.backoff: %w", ErrInvalid, err)
	}
	if c.Detail.BatchSize < 1 {
		return fmt.Errorf("%w: detail.batch_size must be at least 1", ErrInvalid)
	}
	if c.HTTP.Timeout < 0 {
		return fmt.Errorf("%w: http.timeout must not be negative", ErrInvalid)
	}
	if len(c.Sink.Kind) == 0 {
		return fmt.Errorf("%w: sink.kind is empty", ErrInvalid)
	}
	for _, kind := range c.Sink.Kind {
		if !slices.Contains([]string{sink.KindSQLite, sink.KindCSV, sink.KindJSONDir}, kind) {
			return fmt.Errorf("%w: sink.kind %q", ErrInvalid, kind)
		}
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: log.level: %w", ErrInvalid, err)
	}
	return nil
}

// splitKinds normalizes sink kinds given either as a list or as one
// comma-separated string.
func splitKinds(kinds []string) []string {
	var out []string
	for _, k := range kinds {
		for part := range strings.SplitSeq(k, ",") {
			part = strings.ToLower(strings.TrimSpace(part))
			if part != "" && !slices.Contains(out, part) {
				out = append(out, part)
			}
		}
	}
	return out
}

func absoluteURL(key, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalid, key, err)
	}
	if !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("%w: %s must be an absolute URL, got %q", ErrInvalid, key, raw)
	}
	return nil
}
