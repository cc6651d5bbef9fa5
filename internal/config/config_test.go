package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for key := range envKeys {
		t.Setenv(key, "")
	}
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Port != "3046" {
		t.Errorf("port = %q", cfg.Server.Port)
	}
	if cfg.Slack.Retries != 3 || cfg.Slack.DefaultRetryAfter != time.Minute {
		t.Errorf("slack = %+v", cfg.Slack)
	}
	if cfg.Slack.Enabled() {
		t.Error("slack enabled without tokens")
	}
	if cfg.Ingest.BufferSize != 50 || cfg.Ingest.LiveBufferSize != 50 {
		t.Errorf("buffer sizes = %d/%d", cfg.Ingest.BufferSize, cfg.Ingest.LiveBufferSize)
	}
	if cfg.Ingest.StartupDelay != 2*time.Second || cfg.Ingest.StartupGap != 15*time.Second {
		t.Errorf("startup = %v/%v", cfg.Ingest.StartupDelay, cfg.Ingest.StartupGap)
	}
	if cfg.Ingest.RefreshInterval != 2*time.Hour || cfg.Ingest.RefreshGap != 30*time.Second {
		t.Errorf("refresh = %v/%v", cfg.Ingest.RefreshInterval, cfg.Ingest.RefreshGap)
	}
	if got := strings.Join(cfg.Ingest.StartupChannels, ","); got != "happenings,announcements" {
		t.Errorf("startup channels = %s", got)
	}
	if cfg.Ingest.ChannelCacheTTL != 5*time.Minute || cfg.Redis.CacheTTL != 5*time.Minute {
		t.Errorf("ttls = %v/%v", cfg.Ingest.ChannelCacheTTL, cfg.Redis.CacheTTL)
	}

	if len(cfg.Channels) != 4 {
		t.Fatalf("channels = %+v", cfg.Channels)
	}
	hack := cfg.Channels[1]
	if hack.Key != "hackathons" || hack.ID != "C0NP503L7" || hack.Limit != 2 {
		t.Errorf("hackathons = %+v", hack)
	}

	if len(cfg.Upstreams) != 2 || cfg.Upstreams[0].Title != "Events" || cfg.Upstreams[1].Format != FormatJSON {
		t.Errorf("upstreams = %+v", cfg.Upstreams)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults do not validate: %v", err)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, `
server:
  port: "8080"
slack:
  retries: 0
  bot_token: from-file
ingest:
  live_buffer_size: 20
  startup_channels: [ship]
channels:
  - key: ship
    id: C0M8PUPU6
    name: ship
    limit: 3
  - key: staff
    id: G0STAFF
    name: staff
    limit: 1
    private: true
upstreams:
  - name: events
    url: https://example.com/feed.xml
    format: feed
`)
	t.Setenv("PORT", "9090")
	t.Setenv("SLACK_APP_TOKEN", "xapp-1")
	t.Setenv("ADMIN_TOKEN", "s3cret")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("env should override file, port = %q", cfg.Server.Port)
	}
	if cfg.Slack.Retries != 0 {
		t.Errorf("explicit zero retries replaced: %d", cfg.Slack.Retries)
	}
	if !cfg.Slack.Enabled() || cfg.Slack.BotToken != "from-file" {
		t.Errorf("slack = %+v", cfg.Slack)
	}
	if cfg.Admin.Token != "s3cret" {
		t.Errorf("admin token = %q", cfg.Admin.Token)
	}
	if got := strings.Join(cfg.Queue.Brokers, "|"); got != "kafka-1:9092|kafka-2:9092" {
		t.Errorf("brokers = %q", got)
	}
	if cfg.Queue.Topic != "slack-messages" {
		t.Errorf("topic = %q", cfg.Queue.Topic)
	}
	if cfg.Ingest.LiveBufferSize != 20 || cfg.Ingest.BufferSize != 50 {
		t.Errorf("sizes = %d/%d", cfg.Ingest.BufferSize, cfg.Ingest.LiveBufferSize)
	}
	if len(cfg.Channels) != 2 || !cfg.Channels[1].Private {
		t.Errorf("channels = %+v", cfg.Channels)
	}

	up := cfg.Upstreams[0]
	if up.Title != "Events" || up.Noun != "events" || up.Format != FormatFeed {
		t.Errorf("upstream = %+v", up)
	}

	// refresh_channels keeps its default, which names channels this file dropped.
	err = cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), `refresh_channels: unknown channel "happenings"`) {
		t.Errorf("validate = %v", err)
	}
}

func TestLoadMalformedFile(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "server: [unclosed\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	cfg := &Config{
		Ingest: IngestConfig{
			BufferSize:      -1,
			RefreshInterval: time.Hour,
			StartupChannels: []string{"ghost"},
		},
		Channels: []ChannelConfig{
			{Key: "ship", ID: "C1", Name: "ship", Limit: 1},
			{Key: "ship", ID: "C2", Name: "ship2", Limit: 1},
			{Key: "bare", Limit: 1},
		},
		Upstreams: []UpstreamConfig{
			{Name: "events", URL: "https://example.com", Format: "xml"},
		},
	}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected errors")
	}

	for _, want := range []string{
		"buffer_size must not be negative",
		`duplicate key "ship"`,
		`channel "bare": id is required`,
		`channel "bare": name is required`,
		`unknown channel "ghost"`,
		`unknown format "xml"`,
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("missing %q in:\n%v", want, err)
		}
	}
}
