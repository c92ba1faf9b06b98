package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

var ErrInvalid = errors.New("config: invalid")

// ICSConfig describes a single ICS subscription source.
type ICSConfig struct {
	// ID tags imported events; it must be unique and stable.
	ID   string `yaml:"id" json:"id" validate:"required"`
	Name string `yaml:"name" json:"name"`
	URL  string `yaml:"url" json:"url" validate:"required,url"`
	// Color is applied to events whose VEVENT has no COLOR.
	Color string `yaml:"color,omitempty" json:"color,omitempty"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username" validate:"required"`
	Password string `yaml:"password" json:"password" validate:"required"`
}

type StoreConfig struct {
	// Driver is "json" (single file) or "sqlite".
	Driver string `yaml:"driver" json:"driver" validate:"oneof=json sqlite"`
	Path   string `yaml:"path" json:"path" validate:"required"`
}

type LogConfig struct {
	Level  string `yaml:"level" json:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" json:"format" validate:"oneof=console json"`
}

// Config is the top-level application configuration.
type Config struct {
	Listen string `yaml:"listen" json:"listen" validate:"required"`

	// Timezone is the IANA zone events are displayed and imported in.
	Timezone string `yaml:"timezone" json:"timezone"`

	// WeekStart is "monday" (default) or "sunday".
	WeekStart string `yaml:"week_start" json:"week_start" validate:"oneof=monday sunday"`

	// RefreshCron is the ICS import schedule, e.g. "*/15 * * * *" or "@every 30m".
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// HorizonDays and BackfillDays bound recurrence expansion around today.
	HorizonDays  int `yaml:"horizon_days" json:"horizon_days" validate:"gte=1,lte=3660"`
	BackfillDays int `yaml:"backfill_days" json:"backfill_days" validate:"gte=0,lte=3660"`

	Store       StoreConfig `yaml:"store" json:"store"`
	ICSCacheDir string      `yaml:"ics_cache_dir" json:"ics_cache_dir"`
	ICS         []ICSConfig `yaml:"ics" json:"ics" validate:"dive"`
	Log         LogConfig   `yaml:"log" json:"log"`

	// BasicAuth, if non-nil, protects every endpoint except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:       "127.0.0.1:8080",
		Timezone:     "Europe/Ljubljana",
		WeekStart:    "monday",
		RefreshCron:  "*/15 * * * *",
		HorizonDays:  90,
		BackfillDays: 30,
		Store:        StoreConfig{Driver: "json", Path: "./var/events.json"},
		ICSCacheDir:  "./var/ics-cache",
		ICS:          []ICSConfig{},
		Log:          LogConfig{Level: "info", Format: "console"},
	}
}

// Normalize fills in missing/zero values so partially-filled configs still
// behave correctly.
func (c *Config) Normalize() {
	d := DefaultConfig()
	if c.Listen == "" {
		c.Listen = d.Listen
	}
	if c.Timezone == "" {
		c.Timezone = d.Timezone
	}
	c.WeekStart = strings.ToLower(strings.TrimSpace(c.WeekStart))
	if c.WeekStart != "sunday" {
		c.WeekStart = "monday"
	}
	if c.RefreshCron == "" {
		c.RefreshCron = d.RefreshCron
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = d.HorizonDays
	}
	if c.BackfillDays < 0 {
		c.BackfillDays = 0
	}
	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	if c.Store.Driver == "" {
		c.Store.Driver = d.Store.Driver
	}
	if c.Store.Path == "" {
		c.Store.Path = d.Store.Path
		if c.Store.Driver == "sqlite" {
			c.Store.Path = "./var/events.db"
		}
	}
	if c.ICSCacheDir == "" {
		c.ICSCacheDir = d.ICSCacheDir
	}
	if c.ICS == nil {
		c.ICS = []ICSConfig{}
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}
	c.Log.Level = strings.ToLower(c.Log.Level)
}

var validate = validator.New()

// Validate checks field constraints, the timezone and ICS id uniqueness.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("%w: timezone %q: %v", ErrInvalid, c.Timezone, err)
	}
	seen := make(map[string]bool, len(c.ICS))
	for _, src := range c.ICS {
		if seen[src.ID] {
			return fmt.Errorf("%w: duplicate ics id %q", ErrInvalid, src.ID)
		}
		seen[src.ID] = true
	}
	return nil
}

// Location loads the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// Weekday returns WeekStart as a time.Weekday.
func (c *Config) Weekday() time.Weekday {
	if c.WeekStart == "sunday" {
		return time.Sunday
	}
	return time.Monday
}

// envOverrides maps environment variables onto config fields.
var envOverrides = map[string]func(*Config, string){
	"CALGRID_LISTEN":       func(c *Config, v string) { c.Listen = v },
	"CALGRID_TIMEZONE":     func(c *Config, v string) { c.Timezone = v },
	"CALGRID_STORE_DRIVER": func(c *Config, v string) { c.Store.Driver = v },
	"CALGRID_STORE_PATH":   func(c *Config, v string) { c.Store.Path = v },
	"CALGRID_LOG_LEVEL":    func(c *Config, v string) { c.Log.Level = v },
}

// ApplyEnv overrides file values with CALGRID_* variables. A .env file in the
// working directory is loaded first if present; real environment variables
// win over it.
func (c *Config) ApplyEnv() {
	_ = godotenv.Load()
	for key, set := range envOverrides {
		if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
			set(c, strings.TrimSpace(v))
		}
	}
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms (creating the parent directory) and returned.
//   - Otherwise the YAML is read and normalized.
//
// Environment overrides are applied afterwards and the result is validated.
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

	cfg.ApplyEnv()
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
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

	// Atomic write: write to temp file in same directory then rename.
	tmp, err := os.CreateTemp(dir, ".calgrid-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}

	// Flush and close before chmod/rename.
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	// Set permissions to 0600 on temp file before rename.
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	// Rename over the target path.
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}

	return nil
}

// Save is a convenience method on Config that delegates to the package-level
// Save function. This makes Web UI code slightly nicer:
//
//	cfg, _ := config.Load(path)
//	// ... mutate cfg ...
//	if err := cfg.Save(path); err != nil { ... }
func (c *Config) Save(path string) error {
	return Save(path, c)
}
