package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const DefaultPath = "config.yaml"

const (
	FormatJSON = "json"
	FormatFeed = "feed"
)

type Config struct {
	Server    ServerConfig     `koanf:"server"`
	Slack     SlackConfig      `koanf:"slack"`
	Admin     AdminConfig      `koanf:"admin"`
	Ingest    IngestConfig     `koanf:"ingest"`
	Channels  []ChannelConfig  `koanf:"channels"`
	Upstreams []UpstreamConfig `koanf:"upstreams"`
	Redis     RedisConfig      `koanf:"redis"`
	Queue     QueueConfig      `koanf:"queue"`
	Log       LogConfig        `koanf:"log"`
}

type ServerConfig struct {
	Port            string        `koanf:"port"`
	StaticDir       string        `koanf:"static_dir"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

type SlackConfig struct {
	BotToken          string        `koanf:"bot_token"`
	AppToken          string        `koanf:"app_token"`
	Retries           int           `koanf:"retries"`
	DefaultRetryAfter time.Duration `koanf:"default_retry_after"`
}

// Enabled reports whether both tokens needed for history and socket mode are set.
func (s SlackConfig) Enabled() bool {
	return s.BotToken != "" && s.AppToken != ""
}

type AdminConfig struct {
	Token string `koanf:"token"`
}

type IngestConfig struct {
	BufferSize      int           `koanf:"buffer_size"`
	LiveBufferSize  int           `koanf:"live_buffer_size"`
	ChannelCacheTTL time.Duration `koanf:"channel_cache_ttl"`

	StartupDelay    time.Duration `koanf:"startup_delay"`
	StartupChannels []string      `koanf:"startup_channels"`
	StartupGap      time.Duration `koanf:"startup_gap"`

	RefreshInterval time.Duration `koanf:"refresh_interval"`
	RefreshChannels []string      `koanf:"refresh_channels"`
	RefreshGap      time.Duration `koanf:"refresh_gap"`
}

type ChannelConfig struct {
	Key     string `koanf:"key"`
	ID      string `koanf:"id"`
	Name    string `koanf:"name"`
	Purpose string `koanf:"purpose"`
	Limit   int    `koanf:"limit"`
	Private bool   `koanf:"private"`
}

type UpstreamConfig struct {
	Name   string `koanf:"name"`
	Title  string `koanf:"title"`
	Noun   string `koanf:"noun"`
	URL    string `koanf:"url"`
	Format string `koanf:"format"`
}

type RedisConfig struct {
	Addr     string        `koanf:"addr"`
	Password string        `koanf:"password"`
	DB       int           `koanf:"db"`
	CacheTTL time.Duration `koanf:"cache_ttl"`
}

type QueueConfig struct {
	Brokers []string `koanf:"brokers"`
	Topic   string   `koanf:"topic"`
}

type LogConfig struct {
	Level       string `koanf:"level"`
	Development bool   `koanf:"development"`
}

// envKeys maps the recognized environment variables onto config paths.
var envKeys = map[string]string{
	"PORT":            "server.port",
	"STATIC_DIR":      "server.static_dir",
	"SLACK_BOT_TOKEN": "slack.bot_token",
	"SLACK_APP_TOKEN": "slack.app_token",
	"ADMIN_TOKEN":     "admin.token",
	"REDIS_ADDR":      "redis.addr",
	"KAFKA_BROKERS":   "queue.brokers",
	"KAFKA_TOPIC":     "queue.topic",
	"LOG_LEVEL":       "log.level",
}

var defaults = map[string]any{
	"server.port":             "3046",
	"server.shutdown_timeout": "10s",

	"slack.retries":             3,
	"slack.default_retry_after": "60s",

	"ingest.buffer_size":       50,
	"ingest.live_buffer_size":  50,
	"ingest.channel_cache_ttl": "5m",
	"ingest.startup_delay":     "2s",
	"ingest.startup_channels":  []string{"happenings", "announcements"},
	"ingest.startup_gap":       "15s",
	"ingest.refresh_interval":  "2h",
	"ingest.refresh_channels":  []string{"happenings", "announcements"},
	"ingest.refresh_gap":       "30s",

	"channels": []any{
		map[string]any{"key": "happenings", "id": "C05B6DBN802", "name": "happenings", "limit": 1, "purpose": "Latest happenings and announcements"},
		map[string]any{"key": "hackathons", "id": "C0NP503L7", "name": "hackathons", "limit": 2, "purpose": "Hackathon announcements and updates"},
		map[string]any{"key": "ship", "id": "C0M8PUPU6", "name": "ship", "limit": 1, "purpose": "Latest projects and creations shipped"},
		map[string]any{"key": "announcements", "id": "C0266FRGT", "name": "announcements", "limit": 1, "purpose": "Important announcements and updates"},
	},

	"upstreams": []any{
		map[string]any{"name": "events", "title": "Events", "noun": "events", "url": "https://events.hackclub.com/api/events/upcoming/", "format": FormatJSON},
		map[string]any{"name": "hackathons", "title": "Hackathons", "noun": "hackathons", "url": "https://hackathons.hackclub.com/api/events/upcoming", "format": FormatJSON},
	},

	"redis.cache_ttl": "5m",
	"queue.topic":     "slack-messages",
	"log.level":       "info",
}

// Load reads an optional YAML file, then the environment (after any .env
// file), and fills every key neither of them set with its default.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}

	if err := k.Load(env.ProviderWithValue("", ".", envValue), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	for key, val := range defaults {
		if k.Exists(key) {
			continue
		}
		if err := k.Set(key, val); err != nil {
			return nil, fmt.Errorf("default %s: %w", key, err)
		}
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, err
	}

	for i := range cfg.Upstreams {
		up := &cfg.Upstreams[i]
		if up.Format == "" {
			up.Format = FormatJSON
		}
		if up.Noun == "" {
			up.Noun = up.Name
		}
		if up.Title == "" && up.Name != "" {
			up.Title = strings.ToUpper(up.Name[:1]) + up.Name[1:]
		}
	}

	return cfg, nil
}

func envValue(key, value string) (string, any) {
	path, ok := envKeys[key]
	if !ok || value == "" {
		return "", nil
	}
	if path == "queue.brokers" {
		return path, splitList(value)
	}
	return path, value
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Ingest.BufferSize < 0 {
		errs = append(errs, fmt.Errorf("ingest.buffer_size must not be negative"))
	}
	if c.Ingest.LiveBufferSize < 0 {
		errs = append(errs, fmt.Errorf("ingest.live_buffer_size must not be negative"))
	}
	if c.Slack.Retries < 0 {
		errs = append(errs, fmt.Errorf("slack.retries must not be negative"))
	}
	if c.Ingest.RefreshInterval <= 0 {
		errs = append(errs, fmt.Errorf("ingest.refresh_interval must be positive"))
	}

	keys := make(map[string]bool, len(c.Channels))
	for i, ch := range c.Channels {
		if ch.Key == "" {
			errs = append(errs, fmt.Errorf("channels[%d]: key is required", i))
			continue
		}
		if keys[ch.Key] {
			errs = append(errs, fmt.Errorf("channels[%d]: duplicate key %q", i, ch.Key))
		}
		keys[ch.Key] = true
		if ch.ID == "" {
			errs = append(errs, fmt.Errorf("channel %q: id is required", ch.Key))
		}
		if ch.Name == "" {
			errs = append(errs, fmt.Errorf("channel %q: name is required", ch.Key))
		}
		if ch.Limit <= 0 {
			errs = append(errs, fmt.Errorf("channel %q: limit must be positive", ch.Key))
		}
	}

	for _, key := range c.Ingest.StartupChannels {
		if !keys[key] {
			errs = append(errs, fmt.Errorf("ingest.startup_channels: unknown channel %q", key))
		}
	}
	for _, key := range c.Ingest.RefreshChannels {
		if !keys[key] {
			errs = append(errs, fmt.Errorf("ingest.refresh_channels: unknown channel %q", key))
		}
	}

	names := make(map[string]bool, len(c.Upstreams))
	for i, up := range c.Upstreams {
		if up.Name == "" || up.URL == "" {
			errs = append(errs, fmt.Errorf("upstreams[%d]: name and url are required", i))
			continue
		}
		if names[up.Name] {
			errs = append(errs, fmt.Errorf("upstreams[%d]: duplicate name %q", i, up.Name))
		}
		names[up.Name] = true
		if up.Format != FormatJSON && up.Format != FormatFeed {
			errs = append(errs, fmt.Errorf("upstream %q: unknown format %q", up.Name, up.Format))
		}
	}

	return errors.Join(errs...)
}
