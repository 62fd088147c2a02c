// Package config loads the viewer service configuration from the
// environment, with flags overriding selected values.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/alimasry/go-doc-viewer/fetch"
	"github.com/alimasry/go-doc-viewer/viewer"
)

// Cache drivers.
const (
	CacheSQLite    = "sqlite"
	CacheMemory    = "memory"
	CacheFirestore = "firestore"
)

// Config is the viewer service configuration.
type Config struct {
	Addr          string `env:"DOCVIEWER_ADDR" envDefault:":8080"`
	StaticDir     string `env:"DOCVIEWER_STATIC_DIR" envDefault:"static"`
	SourceBaseURL string `env:"DOCVIEWER_SOURCE_BASE_URL"`
	LogLevel      string `env:"DOCVIEWER_LOG_LEVEL" envDefault:"info"`

	// AllowedSources are extra URL prefixes a client may name directly.
	AllowedSources []string `env:"DOCVIEWER_ALLOWED_SOURCES" envSeparator:","`

	CacheDriver         string        `env:"DOCVIEWER_CACHE_DRIVER" envDefault:"sqlite"`
	SQLitePath          string        `env:"DOCVIEWER_SQLITE_PATH" envDefault:"data/docviewer.db"`
	FirestoreProject    string        `env:"DOCVIEWER_FIRESTORE_PROJECT"`
	FirestoreCollection string        `env:"DOCVIEWER_FIRESTORE_COLLECTION" envDefault:"cached_documents"`
	MemoryTier          bool          `env:"DOCVIEWER_MEMORY_TIER" envDefault:"true"`
	MemoryMaxBytes      int64         `env:"DOCVIEWER_MEMORY_MAX_BYTES" envDefault:"268435456"`
	FlushInterval       time.Duration `env:"DOCVIEWER_FLUSH_INTERVAL" envDefault:"5s"`
	Retention           time.Duration `env:"DOCVIEWER_RETENTION" envDefault:"168h"`
	SweepInterval       time.Duration `env:"DOCVIEWER_SWEEP_INTERVAL" envDefault:"1h"`

	FetchTimeout  time.Duration `env:"DOCVIEWER_FETCH_TIMEOUT" envDefault:"30s"`
	FetchAttempts int           `env:"DOCVIEWER_FETCH_ATTEMPTS" envDefault:"1"`
	FetchBackoff  time.Duration `env:"DOCVIEWER_FETCH_BACKOFF" envDefault:"500ms"`
	FetchMaxBytes int64         `env:"DOCVIEWER_FETCH_MAX_BYTES" envDefault:"104857600"`
	GCSEnabled    bool          `env:"DOCVIEWER_GCS_ENABLED" envDefault:"false"`

	DeltaThreshold      float64       `env:"DOCVIEWER_WHEEL_DELTA_THRESHOLD" envDefault:"100"`
	PageChangeCooldown  time.Duration `env:"DOCVIEWER_PAGE_CHANGE_COOLDOWN" envDefault:"400ms"`
	PauseThreshold      time.Duration `env:"DOCVIEWER_WHEEL_PAUSE_THRESHOLD" envDefault:"300ms"`
	SettleDelay         time.Duration `env:"DOCVIEWER_SCROLL_SETTLE_DELAY" envDefault:"50ms"`
	ScrollableTolerance float64       `env:"DOCVIEWER_WHEEL_SCROLLABLE_TOLERANCE" envDefault:"10"`
	EdgeTolerance       float64       `env:"DOCVIEWER_WHEEL_EDGE_TOLERANCE" envDefault:"5"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load reads the environment, then lets flags in args override the listen
// address, static directory and cache driver.
func Load(fs *flag.FlagSet, args []string) (Config, error) {
	if fs == nil {
		return Config{}, errors.New("flag parser is required")
	}
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "HTTP listen address")
	fs.StringVar(&cfg.StaticDir, "static", cfg.StaticDir, "directory of static UI files, empty to disable")
	fs.StringVar(&cfg.CacheDriver, "cache", cfg.CacheDriver, "document cache driver: sqlite, memory or firestore")
	if args == nil {
		args = []string{}
	}
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values the environment parser cannot.
func (c Config) Validate() error {
	var errs []error
	switch c.CacheDriver {
	case CacheMemory:
	case CacheSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, errors.New("sqlite cache requires DOCVIEWER_SQLITE_PATH"))
		}
	case CacheFirestore:
		if c.FirestoreProject == "" {
			errs = append(errs, errors.New("firestore cache requires DOCVIEWER_FIRESTORE_PROJECT"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown cache driver %q", c.CacheDriver))
	}
	if c.Retention <= 0 {
		errs = append(errs, errors.New("retention must be positive"))
	}
	if c.SweepInterval <= 0 {
		errs = append(errs, errors.New("sweep interval must be positive"))
	}
	if c.MemoryTier && c.CacheDriver != CacheMemory && c.FlushInterval <= 0 {
		errs = append(errs, errors.New("flush interval must be positive"))
	}
	if c.FetchAttempts < 1 {
		errs = append(errs, errors.New("fetch attempts must be at least 1"))
	}
	if c.DeltaThreshold <= 0 {
		errs = append(errs, errors.New("wheel delta threshold must be positive"))
	}
	if c.ScrollableTolerance < 0 || c.EdgeTolerance < 0 {
		errs = append(errs, errors.New("wheel tolerances must not be negative"))
	}
	if c.FetchMaxBytes <= 0 {
		errs = append(errs, errors.New("fetch max bytes must be positive"))
	}
	if c.MemoryMaxBytes < 0 {
		errs = append(errs, errors.New("memory max bytes must not be negative"))
	}
	if _, err := c.Sources(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Sources returns the allow-list of document source URLs: the base URL plus
// any extra prefixes.
func (c Config) Sources() (*fetch.AllowList, error) {
	return fetch.NewAllowList(append([]string{c.SourceBaseURL}, c.AllowedSources...)...)
}

// Gesture returns the wheel paging configuration.
func (c Config) Gesture() viewer.GestureConfig {
	return viewer.GestureConfig{
		DeltaThreshold:      c.DeltaThreshold,
		PageChangeCooldown:  c.PageChangeCooldown,
		PauseThreshold:      c.PauseThreshold,
		SettleDelay:         c.SettleDelay,
		ScrollableTolerance: c.ScrollableTolerance,
		EdgeTolerance:       c.EdgeTolerance,
	}
}

// Exitf writes a formatted error message to stderr and exits with code 1.
func Exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
