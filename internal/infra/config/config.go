// Package config provides configuration loading from YAML files.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Discord      DiscordConfig      `yaml:"discord"`
	AI           AIConfig           `yaml:"ai"`
	Lavalink     LavalinkConfig     `yaml:"lavalink"`
	Spotify      SpotifyConfig      `yaml:"spotify"`
	Music        MusicConfig        `yaml:"music"`
	Welcome      WelcomeConfig      `yaml:"welcome"`
	Announcement AnnouncementConfig `yaml:"announcement"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// DiscordConfig represents the chat-platform connection settings.
type DiscordConfig struct {
	Token  string `yaml:"token" validate:"required"`
	Prefix string `yaml:"prefix" default:"!"`
}

// AIConfig represents the hosted LLM API settings.
type AIConfig struct {
	APIKey           string `yaml:"api_key" validate:"required"`
	BaseURL          string `yaml:"base_url" default:"https://models.inference.ai.azure.com"`
	Model            string `yaml:"model" default:"gpt-4o"`
	MaxMemoryLength  int    `yaml:"max_memory_length" default:"10" validate:"gte=1,lte=100"`
	SystemPrompt     string `yaml:"system_prompt"`
	RequestTimeoutMs int    `yaml:"request_timeout_ms" default:"120000" validate:"gte=1000"`
}

// LavalinkConfig represents the audio node connection settings.
type LavalinkConfig struct {
	Host     string `yaml:"host" default:"127.0.0.1"`
	Port     int    `yaml:"port" default:"2333" validate:"gte=1,lte=65535"`
	Password string `yaml:"password" default:"youshallnotpass"`
	Secure   bool   `yaml:"secure"`
}

// SpotifyConfig represents the collection metadata provider settings.
// Both fields empty disables collection URL expansion.
type SpotifyConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
}

// Enabled reports whether Spotify credentials are configured.
func (c SpotifyConfig) Enabled() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// MusicConfig represents playback behavior settings.
type MusicConfig struct {
	DisconnectTimeoutSec int `yaml:"disconnect_timeout_sec" default:"180" validate:"gte=10"`
}

// DisconnectTimeout returns the idle disconnect timeout as a duration.
func (c MusicConfig) DisconnectTimeout() time.Duration {
	return time.Duration(c.DisconnectTimeoutSec) * time.Second
}

// WelcomeConfig represents welcome card settings.
type WelcomeConfig struct {
	ChannelID            string                `yaml:"channel_id"`
	BackgroundURL        string                `yaml:"background_url"`
	UseRandomBackgrounds bool                  `yaml:"use_random_backgrounds"`
	BackgroundsDir       string                `yaml:"backgrounds_dir" default:"assets/backgrounds"`
	FontsDir             string                `yaml:"fonts_dir" default:"assets/fonts"`
	Sources              []WelcomeSourceConfig `yaml:"sources"`
}

// WelcomeSourceConfig represents one background source in the provider
// chain. Settings are decoded per source type.
type WelcomeSourceConfig struct {
	Type     string         `yaml:"type" validate:"required"`
	Settings map[string]any `yaml:"settings"`
}

// AnnouncementConfig represents the periodic status announcement. An
// empty channel ID disables the loop.
type AnnouncementConfig struct {
	ChannelID     string `yaml:"channel_id"`
	IntervalHours int    `yaml:"interval_hours" default:"24" validate:"gte=1"`
}

// Enabled reports whether the announcement loop should run.
func (c AnnouncementConfig) Enabled() bool {
	return c.ChannelID != ""
}

// Interval returns the announcement period as a duration.
func (c AnnouncementConfig) Interval() time.Duration {
	return time.Duration(c.IntervalHours) * time.Hour
}

// LoggingConfig represents logger settings.
type LoggingConfig struct {
	Output string `yaml:"output" default:"stdout"`
	Level  string `yaml:"level" default:"info"`
}

// Load loads configuration from a YAML file. A missing file is not an
// error; the configuration is then built from defaults and environment
// variables alone. Environment variables take precedence over file
// values for credentials and deployment-specific fields.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, errors.Wrap(err, "failed to parse config file")
		}
	case os.IsNotExist(err):
		// Env-only configuration.
	default:
		return nil, errors.Wrap(err, "failed to read config file")
	}

	cfg.overrideFromEnv()

	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() {
	if v := os.Getenv("DISCORD_TOKEN"); v != "" {
		c.Discord.Token = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.AI.APIKey = v
	}
	if v := os.Getenv("AZURE_ENDPOINT"); v != "" {
		c.AI.BaseURL = v
	}
	if v := os.Getenv("MODEL_NAME"); v != "" {
		c.AI.Model = v
	}
	if v := os.Getenv("LAVALINK_HOST"); v != "" {
		c.Lavalink.Host = v
	}
	if v := os.Getenv("LAVALINK_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Lavalink.Port = port
		}
	}
	if v := os.Getenv("LAVALINK_PASSWORD"); v != "" {
		c.Lavalink.Password = v
	}
	if v := os.Getenv("SPOTIFY_CLIENT_ID"); v != "" {
		c.Spotify.ClientID = v
	}
	if v := os.Getenv("SPOTIFY_CLIENT_SECRET"); v != "" {
		c.Spotify.ClientSecret = v
	}
	if v := os.Getenv("WELCOME_CHANNEL_ID"); v != "" {
		c.Welcome.ChannelID = v
	}
	if v := os.Getenv("WELCOME_BACKGROUND_URL"); v != "" {
		c.Welcome.BackgroundURL = v
	}
	if v := os.Getenv("USE_RANDOM_BACKGROUNDS"); v != "" {
		c.Welcome.UseRandomBackgrounds = strings.EqualFold(v, "true")
	}
	if v := os.Getenv("ANNOUNCEMENT_CHANNEL_ID"); v != "" {
		c.Announcement.ChannelID = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}

	// Spotify credentials are optional but must come in pairs.
	if (c.Spotify.ClientID == "") != (c.Spotify.ClientSecret == "") {
		return errors.New("spotify client_id and client_secret must both be set or both be empty")
	}

	for i, src := range c.Welcome.Sources {
		switch src.Type {
		case "library", "url", "random":
		default:
			return errors.Newf("unsupported welcome background source type: %s (source index %d)", src.Type, i)
		}
	}

	return nil
}
