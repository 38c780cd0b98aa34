package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/caarlos0/env"
	"gopkg.in/yaml.v3"

	"attendcal/internal/tzdate"
)

// ICSConfig describes a single ICS subscription source.
type ICSConfig struct {
	// URL is the ICS subscription endpoint.
	URL string `yaml:"url" json:"url"`
	// ID is an internal identifier used for de-dup and logging.
	ID string `yaml:"id" json:"id"`
	// Name is a human-friendly label.
	Name string `yaml:"name" json:"name"`
	// Timezone resolves floating times in the feed. Empty means DisplayTimezone.
	Timezone string `yaml:"timezone,omitempty" json:"timezone,omitempty"`
}

// SourceID returns ID, falling back to Name and then URL.
func (c ICSConfig) SourceID() string {
	switch {
	case c.ID != "":
		return c.ID
	case c.Name != "":
		return c.Name
	default:
		return c.URL
	}
}

// BackendConfig points at the events backend.
type BackendConfig struct {
	// URL returns the JSON event list (e.g. https://api.example.com/events/mine).
	URL   string `yaml:"url" json:"url"`
	Token string `yaml:"token,omitempty" json:"-"`
}

type CacheConfig struct {
	// Dir holds the fetch cache (ETag metadata and last good bodies).
	Dir string `yaml:"dir" json:"dir"`
	// TTLSeconds is how long rendered API responses are reused.
	TTLSeconds int `yaml:"ttl_seconds" json:"ttl_seconds"`
	// RedisURL, when set, stores responses in Redis instead of memory.
	RedisURL string `yaml:"redis_url,omitempty" json:"redis_url,omitempty"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// DisplayTimezone is the IANA zone occurrences are shown in unless a
	// request names another.
	DisplayTimezone string `yaml:"display_timezone" json:"display_timezone"`

	// WeekStart is "monday" (default) or "sunday".
	WeekStart string `yaml:"week_start" json:"week_start"`

	// RefreshCron is a cron schedule (e.g. "*/15 * * * *") for snapshot refresh.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	BackfillDays           int `yaml:"backfill_days" json:"backfill_days"`
	HorizonDays            int `yaml:"horizon_days" json:"horizon_days"`
	MaxOccurrencesPerEvent int `yaml:"max_occurrences_per_event" json:"max_occurrences_per_event"`

	Backend BackendConfig `yaml:"backend" json:"backend"`
	ICS     []ICSConfig   `yaml:"ics" json:"ics"`
	Cache   CacheConfig   `yaml:"cache" json:"cache"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`

	LogLevel   string `yaml:"log_level" json:"log_level"`
	Production bool   `yaml:"production" json:"production"`
}

// envOverrides are read from ATTENDCAL_* variables. Empty values leave the
// file configuration alone.
type envOverrides struct {
	Listen          string `env:"ATTENDCAL_LISTEN"`
	DisplayTimezone string `env:"ATTENDCAL_DISPLAY_TIMEZONE"`
	Refresh         string `env:"ATTENDCAL_REFRESH"`
	BackendURL      string `env:"ATTENDCAL_BACKEND_URL"`
	BackendToken    string `env:"ATTENDCAL_BACKEND_TOKEN"`
	CacheDir        string `env:"ATTENDCAL_CACHE_DIR"`
	RedisURL        string `env:"ATTENDCAL_REDIS_URL"`
	LogLevel        string `env:"ATTENDCAL_LOG_LEVEL"`
	Production      string `env:"ATTENDCAL_PRODUCTION"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:                 "127.0.0.1:8080",
		DisplayTimezone:        "UTC",
		WeekStart:              "monday",
		RefreshCron:            "*/15 * * * *",
		BackfillDays:           365,
		HorizonDays:            365,
		MaxOccurrencesPerEvent: 5000,
		ICS:                    []ICSConfig{},
		Cache: CacheConfig{
			Dir:        "./var/cache",
			TTLSeconds: 30,
		},
		BasicAuth: nil,
		LogLevel:  "info",
	}
}

// Normalize fills in missing/zero values with defaults so partially-filled
// configs still behave correctly.
func (c *Config) Normalize() {
	d := DefaultConfig()
	if c.Listen == "" {
		c.Listen = d.Listen
	}
	if c.DisplayTimezone == "" {
		c.DisplayTimezone = d.DisplayTimezone
	}
	switch c.WeekStart {
	case "monday", "sunday":
	default:
		c.WeekStart = "monday"
	}
	if c.RefreshCron == "" {
		c.RefreshCron = d.RefreshCron
	}
	if c.BackfillDays <= 0 {
		c.BackfillDays = d.BackfillDays
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = d.HorizonDays
	}
	if c.MaxOccurrencesPerEvent <= 0 {
		c.MaxOccurrencesPerEvent = d.MaxOccurrencesPerEvent
	}
	if c.ICS == nil {
		c.ICS = []ICSConfig{}
	}
	if c.Cache.Dir == "" {
		c.Cache.Dir = d.Cache.Dir
	}
	if c.Cache.TTLSeconds <= 0 {
		c.Cache.TTLSeconds = d.Cache.TTLSeconds
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
}

// Validate reports settings that Normalize cannot repair.
func (c *Config) Validate() error {
	if _, err := tzdate.LoadLocation(c.DisplayTimezone); err != nil {
		return fmt.Errorf("config: display_timezone: %w", err)
	}
	for i, src := range c.ICS {
		if src.URL == "" {
			return fmt.Errorf("config: ics[%d]: url is empty", i)
		}
		if src.Timezone != "" {
			if _, err := tzdate.LoadLocation(src.Timezone); err != nil {
				return fmt.Errorf("config: ics[%d]: %w", i, err)
			}
		}
	}
	return nil
}

// ApplyEnv overlays ATTENDCAL_* environment variables.
func (c *Config) ApplyEnv() error {
	var e envOverrides
	if err := env.Parse(&e); err != nil {
		return fmt.Errorf("config: env: %w", err)
	}
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&c.Listen, e.Listen)
	set(&c.DisplayTimezone, e.DisplayTimezone)
	set(&c.RefreshCron, e.Refresh)
	set(&c.Backend.URL, e.BackendURL)
	set(&c.Backend.Token, e.BackendToken)
	set(&c.Cache.Dir, e.CacheDir)
	set(&c.Cache.RedisURL, e.RedisURL)
	set(&c.LogLevel, e.LogLevel)
	if e.Production != "" {
		p, err := strconv.ParseBool(e.Production)
		if err != nil {
			return fmt.Errorf("config: ATTENDCAL_PRODUCTION: %w", err)
		}
		c.Production = p
	}
	return nil
}

// Load loads configuration from the given YAML path, then applies
// environment overrides.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms (creating the parent directory) and returned.
//   - If the file exists, it is unmarshalled and normalized.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	var cfg *Config
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		cfg = DefaultConfig()
		if err := Save(path, cfg); err != nil {
			return cfg, err
		}
	case err != nil:
		return nil, err
	default:
		cfg = &Config{}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: %s: %w", path, err)
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg to path atomically (temp file + rename) with 0600 perms,
// creating the parent directory (0700) if needed.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".attendcal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

func (c *Config) Save(path string) error {
	return Save(path, c)
}
