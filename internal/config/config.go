// Package config loads doccal settings from an optional YAML file and the
// environment. Environment variables (including those from a .env file)
// override values from the file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"

	"doccal/internal/credstore"
)

const (
	TargetGoogle = "google"
	TargetCalDAV = "caldav"

	defaultRedirectURL     = "http://127.0.0.1:8085/oauth/callback"
	defaultCalDAVEndpoint  = "https://caldav.icloud.com/"
	defaultCallbackTimeout = 5 * time.Minute
)

// CalDAVConfig holds the settings of the CalDAV target.
type CalDAVConfig struct {
	Endpoint     string `yaml:"endpoint"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	CalendarName string `yaml:"calendar_name"`
}

// Config is the top-level application configuration.
type Config struct {
	// ClientID and ClientSecret identify the OAuth client. When both are
	// empty, CredentialsFile (a Google client secret JSON) is used instead.
	ClientID        string `yaml:"google_client_id"`
	ClientSecret    string `yaml:"google_client_secret"`
	CredentialsFile string `yaml:"credentials_file"`

	// RedirectURL is where the consent page sends the user back. Its host
	// and port are bound by the local callback listener.
	RedirectURL     string        `yaml:"redirect_url"`
	CallbackTimeout time.Duration `yaml:"callback_timeout"`
	TokenPath       string        `yaml:"token_path"`

	Target     string `yaml:"target"`
	CalendarID string `yaml:"calendar_id"`

	// Timezone, EventStartHour and EventDuration turn a bare date into a
	// concrete time slot.
	Timezone       string        `yaml:"timezone"`
	EventStartHour int           `yaml:"event_start_hour"`
	EventDuration  time.Duration `yaml:"event_duration"`

	Workers     int    `yaml:"workers"`
	LogLevel    string `yaml:"log_level"`
	MetricsFile string `yaml:"metrics_file"`

	CalDAV CalDAVConfig `yaml:"caldav"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		CredentialsFile: "credentials.json",
		RedirectURL:     defaultRedirectURL,
		CallbackTimeout: defaultCallbackTimeout,
		TokenPath:       credstore.DefaultPath(),
		Target:          TargetGoogle,
		CalendarID:      "primary",
		Timezone:        "UTC",
		EventStartHour:  10,
		EventDuration:   time.Hour,
		Workers:         1,
		LogLevel:        "info",
		CalDAV:          CalDAVConfig{Endpoint: defaultCalDAVEndpoint},
	}
}

// DefaultPath returns the XDG location of the YAML config file.
func DefaultPath() string {
	return filepath.Join(xdg.ConfigHome, "doccal", "config.yaml")
}

// Load reads the YAML file at path (a missing file is not an error),
// applies environment overrides, fills defaults and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		case errors.Is(err, fs.ErrNotExist):
		default:
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.ClientID, "GOOGLE_CLIENT_ID")
	setString(&c.ClientSecret, "GOOGLE_CLIENT_SECRET")
	setString(&c.CredentialsFile, "GOOGLE_CREDENTIALS_FILE")
	setString(&c.CalendarID, "GOOGLE_CALENDAR_ID")
	setString(&c.Timezone, "PRIMARY_TIMEZONE")
	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.RedirectURL, "DOCCAL_REDIRECT_URL")
	setString(&c.TokenPath, "DOCCAL_TOKEN_PATH")
	setString(&c.Target, "DOCCAL_TARGET")
	setString(&c.MetricsFile, "DOCCAL_METRICS_FILE")
	setString(&c.CalDAV.Endpoint, "CALDAV_ENDPOINT")
	setString(&c.CalDAV.Username, "ICLOUD_USERNAME")
	setString(&c.CalDAV.Password, "ICLOUD_APP_SPECIFIC_PASSWORD")
	setString(&c.CalDAV.CalendarName, "ICLOUD_CALENDAR_NAME")

	if err := setDuration(&c.CallbackTimeout, "DOCCAL_CALLBACK_TIMEOUT"); err != nil {
		return err
	}
	if err := setDuration(&c.EventDuration, "DOCCAL_EVENT_DURATION"); err != nil {
		return err
	}
	if err := setInt(&c.EventStartHour, "DOCCAL_EVENT_START_HOUR"); err != nil {
		return err
	}
	return setInt(&c.Workers, "DOCCAL_WORKERS")
}

// Normalize fills zero values with defaults so partially written files
// still behave.
func (c *Config) Normalize() {
	def := Default()
	if c.RedirectURL == "" {
		c.RedirectURL = def.RedirectURL
	}
	if c.CallbackTimeout <= 0 {
		c.CallbackTimeout = def.CallbackTimeout
	}
	if c.TokenPath == "" {
		c.TokenPath = def.TokenPath
	}
	c.Target = strings.ToLower(strings.TrimSpace(c.Target))
	if c.Target == "" {
		c.Target = def.Target
	}
	if c.CalendarID == "" {
		c.CalendarID = def.CalendarID
	}
	if c.Timezone == "" {
		c.Timezone = def.Timezone
	}
	if c.EventDuration <= 0 {
		c.EventDuration = def.EventDuration
	}
	if c.Workers <= 0 {
		c.Workers = def.Workers
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.CalDAV.Endpoint == "" {
		c.CalDAV.Endpoint = def.CalDAV.Endpoint
	}
}

// Validate rejects settings the rest of the program cannot work with.
func (c *Config) Validate() error {
	switch c.Target {
	case TargetGoogle, TargetCalDAV:
	default:
		return fmt.Errorf("unknown target %q (want %q or %q)", c.Target, TargetGoogle, TargetCalDAV)
	}
	if c.EventStartHour < 0 || c.EventStartHour > 23 {
		return fmt.Errorf("event_start_hour must be between 0 and 23 (got %d)", c.EventStartHour)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	u, err := url.Parse(c.RedirectURL)
	if err != nil {
		return fmt.Errorf("invalid redirect_url: %w", err)
	}
	if u.Scheme != "http" || u.Host == "" {
		return fmt.Errorf("redirect_url must be a local http URL (got %q)", c.RedirectURL)
	}
	return nil
}

// Location resolves the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone '%s': %w", c.Timezone, err)
	}
	return loc, nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}
