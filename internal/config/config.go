package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"familycal/internal/projection"
	"familycal/internal/timeutil"
)

// NOTE: The YAML file is created with defaults on first run and always
// written with 0600 permissions. FAMILYCAL_* variables from a .env file next
// to it, or from the process environment, override the file.

// SubscriptionConfig describes one read-only ICS feed.
type SubscriptionConfig struct {
	// ID prefixes event ids and names the feed in logs.
	ID string `yaml:"id" json:"id"`
	// Name is shown in the UI and used as the owner of events without one.
	Name string `yaml:"name" json:"name"`
	URL  string `yaml:"url" json:"url"`
}

// PreviewConfig controls the periodic PNG snapshot of the week page.
type PreviewConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
	Width   int    `yaml:"width" json:"width"`
	Height  int    `yaml:"height" json:"height"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the Web UI/API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the Web UI and API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone the week is displayed and evaluated in.
	// "Local" uses the host zone.
	Timezone string `yaml:"timezone" json:"timezone"`

	// WeekStart is "monday" (default) or "sunday".
	WeekStart string `yaml:"week_start" json:"week_start"`

	// VisibleDays is 5 (work week) or 7.
	VisibleDays int `yaml:"visible_days" json:"visible_days"`

	// DayStartHour / DayEndHour bound the hour grid of the week page.
	DayStartHour int `yaml:"day_start_hour" json:"day_start_hour"`
	DayEndHour   int `yaml:"day_end_hour" json:"day_end_hour"`

	// StoreDir holds the git repository of events.
	StoreDir string `yaml:"store_dir" json:"store_dir"`
	// CacheDir holds fetched ICS bodies.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	// RefreshCron schedules subscription and preview refresh.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	LogLevel string `yaml:"log_level" json:"log_level"`

	// ShowAllDay keeps all-day subscription events as full-day blocks.
	ShowAllDay bool `yaml:"show_all_day" json:"show_all_day"`

	// Palette overrides the owner colors.
	Palette []projection.Color `yaml:"palette,omitempty" json:"palette,omitempty"`

	Subscriptions []SubscriptionConfig `yaml:"subscriptions" json:"subscriptions"`

	Preview PreviewConfig `yaml:"preview" json:"preview"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:        "127.0.0.1:8080",
		Timezone:      "Local",
		WeekStart:     "monday",
		VisibleDays:   7,
		DayStartHour:  6,
		DayEndHour:    20,
		StoreDir:      "./var/events",
		CacheDir:      "./var/ics-cache",
		RefreshCron:   "*/15 * * * *",
		LogLevel:      "info",
		ShowAllDay:    true,
		Subscriptions: []SubscriptionConfig{},
		Preview: PreviewConfig{
			Path:   "./var/preview.png",
			Width:  1280,
			Height: 800,
		},
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()
	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.Timezone == "" {
		c.Timezone = def.Timezone
	}
	switch strings.ToLower(c.WeekStart) {
	case "monday", "sunday":
		c.WeekStart = strings.ToLower(c.WeekStart)
	default:
		c.WeekStart = def.WeekStart
	}
	if c.VisibleDays != 5 && c.VisibleDays != 7 {
		c.VisibleDays = def.VisibleDays
	}
	if c.DayStartHour < 0 || c.DayStartHour > 23 || c.DayEndHour <= c.DayStartHour || c.DayEndHour > 24 {
		c.DayStartHour, c.DayEndHour = def.DayStartHour, def.DayEndHour
	}
	if c.StoreDir == "" {
		c.StoreDir = def.StoreDir
	}
	if c.CacheDir == "" {
		c.CacheDir = def.CacheDir
	}
	if c.RefreshCron == "" {
		c.RefreshCron = def.RefreshCron
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.Subscriptions == nil {
		c.Subscriptions = []SubscriptionConfig{}
	}
	for i := range c.Subscriptions {
		if c.Subscriptions[i].ID == "" {
			c.Subscriptions[i].ID = fmt.Sprintf("feed%d", i+1)
		}
	}
	if c.Preview.Path == "" {
		c.Preview.Path = def.Preview.Path
	}
	if c.Preview.Width <= 0 {
		c.Preview.Width = def.Preview.Width
	}
	if c.Preview.Height <= 0 {
		c.Preview.Height = def.Preview.Height
	}
}

// Location resolves Timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// WeekStartDay resolves WeekStart.
func (c *Config) WeekStartDay() time.Weekday {
	wd, err := timeutil.ParseWeekday(c.WeekStart)
	if err != nil {
		return time.Monday
	}
	return wd
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms (parent directory created as needed) and returned.
//   - Otherwise the YAML is unmarshalled and normalized.
//   - In both cases environment overrides are applied last.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		cfg := DefaultConfig()
		if err := Save(path, cfg); err != nil {
			// Even if save fails, return cfg with error so caller can decide.
			return cfg, err
		}
		return cfg, applyEnv(cfg, filepath.Join(filepath.Dir(path), ".env"))
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.Normalize()
	if err := applyEnv(&cfg, filepath.Join(filepath.Dir(path), ".env")); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv overrides fields from dotenvPath (if present) and then from the
// process environment, which wins.
func applyEnv(cfg *Config, dotenvPath string) error {
	vars, err := godotenv.Read(dotenvPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("read %s: %w", dotenvPath, err)
		}
		vars = map[string]string{}
	}
	lookup := func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := vars[key]
		return v, ok
	}

	for key, field := range map[string]*string{
		"FAMILYCAL_LISTEN":    &cfg.Listen,
		"FAMILYCAL_TIMEZONE":  &cfg.Timezone,
		"FAMILYCAL_STORE_DIR": &cfg.StoreDir,
		"FAMILYCAL_LOG_LEVEL": &cfg.LogLevel,
	} {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*field = strings.TrimSpace(v)
		}
	}
	return nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
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

	tmp, err := os.CreateTemp(dir, ".familycal-config-*.tmp")
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

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
