package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"playtestbot/internal/recurrence"
)

// NOTE: The YAML file carries process settings. The event roster and the
// reaction markers normally come from the config channel (see directives.go);
// the optional Static section is used when no config channel is set.

// Service modes for the scheduler tick.
const (
	// ServiceFirst services only the first due event per tick.
	ServiceFirst = "first"
	// ServiceAll services every due event per tick, in roster order.
	ServiceAll = "all"
)

// BasicAuthConfig holds HTTP Basic Auth credentials for the Web API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// DiscordConfig describes the chat platform connection.
type DiscordConfig struct {
	// Token is usually supplied via PLAYTESTBOT_TOKEN instead of the file.
	Token string `yaml:"token,omitempty" json:"-"`
	// GuildID scopes resource creation and lookups.
	GuildID string `yaml:"guild_id" json:"guild_id"`
	// ConfigChannel is the channel whose messages are configuration directives.
	ConfigChannel string `yaml:"config_channel" json:"config_channel"`
	// RequestTimeout bounds every REST call made to the platform.
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`
}

// AnnouncementConfig controls the weekly "now accepting submissions" post.
type AnnouncementConfig struct {
	// DisplayZones are the zones the session time is shown in.
	DisplayZones []string `yaml:"display_zones" json:"display_zones"`
	// SessionLength is the displayed duration of a session.
	SessionLength time.Duration `yaml:"session_length" json:"session_length"`
	// PreviewOffset is added to now when picking the occurrence to announce,
	// so an announcement posted at Ending refers to next week.
	PreviewOffset time.Duration `yaml:"preview_offset" json:"preview_offset"`
	// ImageURL is attached to the announcement when set.
	ImageURL string `yaml:"image_url" json:"image_url"`
	// Bullets are the six marker emoji printed in the blank template.
	Bullets []string `yaml:"bullets,omitempty" json:"bullets,omitempty"`
	// Template overrides the built-in announcement text (text/template).
	Template string `yaml:"template,omitempty" json:"template,omitempty"`
}

// StaticEvent is one roster entry in the YAML file.
type StaticEvent struct {
	Day      string `yaml:"day" json:"day"`
	Name     string `yaml:"name" json:"name"`
	Timezone string `yaml:"timezone" json:"timezone"`
	Start    string `yaml:"start" json:"start"`
	Channel  string `yaml:"channel" json:"channel"`
	Host     string `yaml:"host" json:"host"`
}

// StaticConfig is a file-based alternative to the config channel.
type StaticConfig struct {
	ApproveMarker   string        `yaml:"approve_marker" json:"approve_marker"`
	OnDeckMarker    string        `yaml:"on_deck_marker" json:"on_deck_marker"`
	ResponseChannel string        `yaml:"response_channel" json:"response_channel"`
	VoiceTemplate   string        `yaml:"voice_template" json:"voice_template"`
	Events          []StaticEvent `yaml:"events" json:"events"`
}

// CalendarConfig points at an iCalendar roster merged under the configured
// events. Events from chat directives or the static section win on name
// clashes.
type CalendarConfig struct {
	// URL is an http(s) URL or a local file path. Empty disables import.
	URL string `yaml:"url" json:"url"`
	// CacheDir stores the last fetched copy of a remote calendar.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the Web API. Empty disables it.
	Listen string `yaml:"listen" json:"listen"`

	// LogLevel is one of DEBUG, INFO, WARN, ERROR.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// Poll is a cron-style schedule (robfig/cron syntax, e.g. "@every 5m"
	// or "*/5 * * * *") for scheduler ticks.
	Poll string `yaml:"poll" json:"poll"`

	// ServiceMode is "first" (one transition per tick) or "all".
	ServiceMode string `yaml:"service_mode" json:"service_mode"`

	// Thresholds are the Starting/Ending/grace windows.
	Thresholds recurrence.Thresholds `yaml:"thresholds" json:"thresholds"`

	// Journal is the SQLite path of the transition journal. Empty keeps the
	// journal in memory.
	Journal string `yaml:"journal" json:"journal"`

	Discord      DiscordConfig      `yaml:"discord" json:"discord"`
	Announcement AnnouncementConfig `yaml:"announcement" json:"announcement"`

	Static *StaticConfig `yaml:"static,omitempty" json:"static,omitempty"`

	Calendar CalendarConfig `yaml:"calendar" json:"calendar"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

const (
	defaultListen         = "127.0.0.1:8080"
	defaultPoll           = "@every 5m"
	defaultRequestTimeout = 30 * time.Second
	defaultSessionLength  = 3 * time.Hour
	defaultPreviewOffset  = 10 * time.Minute
)

var defaultDisplayZones = []string{"US/Eastern", "Europe/London"}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:      defaultListen,
		LogLevel:    "INFO",
		Poll:        defaultPoll,
		ServiceMode: ServiceFirst,
		Thresholds:  recurrence.DefaultThresholds(),
		Discord: DiscordConfig{
			RequestTimeout: defaultRequestTimeout,
		},
		Announcement: AnnouncementConfig{
			DisplayZones:  append([]string(nil), defaultDisplayZones...),
			SessionLength: defaultSessionLength,
			PreviewOffset: defaultPreviewOffset,
		},
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.LogLevel == "" {
		c.LogLevel = "INFO"
	}
	if c.Poll == "" {
		c.Poll = defaultPoll
	}
	switch c.ServiceMode {
	case ServiceFirst, ServiceAll:
		// ok
	default:
		// Unknown value; keep the one-per-tick behavior.
		c.ServiceMode = ServiceFirst
	}
	c.Thresholds.Normalize()
	if c.Discord.RequestTimeout <= 0 {
		c.Discord.RequestTimeout = defaultRequestTimeout
	}
	if len(c.Announcement.DisplayZones) == 0 {
		c.Announcement.DisplayZones = append([]string(nil), defaultDisplayZones...)
	}
	if c.Announcement.SessionLength <= 0 {
		c.Announcement.SessionLength = defaultSessionLength
	}
	if c.Announcement.PreviewOffset <= 0 {
		c.Announcement.PreviewOffset = defaultPreviewOffset
	}
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
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

	tmp, err := os.CreateTemp(dir, ".playtestbot-config-*.tmp")
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
//
//	cfg, _ := config.Load(path)
//	// ... mutate cfg ...
//	if err := cfg.Save(path); err != nil { ... }
func (c *Config) Save(path string) error {
	return Save(path, c)
}
