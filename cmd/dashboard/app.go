package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/slack-go/slack"
	"go.uber.org/zap"

	"clubdash/internal/clock"
	"clubdash/internal/config"
	"clubdash/internal/fetcher"
	"clubdash/internal/ingest"
	"clubdash/internal/logging"
	"clubdash/internal/queue"
	"clubdash/internal/redis"
	"clubdash/internal/registry"
	"clubdash/internal/upstream"
)

// app holds the wired components shared by every subcommand.
type app struct {
	cfg       *config.Config
	log       *zap.Logger
	clock     clock.Clock
	slack     *slack.Client
	service   *ingest.Service
	publisher queue.Publisher
	cache     *redis.Client
	upstreams []*upstream.Proxy
}

func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}

	log, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

func newApp(cfg *config.Config, log *zap.Logger) (*app, error) {
	a := &app{
		cfg:       cfg,
		log:       log,
		clock:     clock.Real(),
		publisher: queue.Nop{},
	}

	var f ingest.Fetcher
	if cfg.Slack.BotToken != "" {
		a.slack = slack.New(cfg.Slack.BotToken, slack.OptionAppLevelToken(cfg.Slack.AppToken))
		f = fetcher.New(a.slack, a.clock, log, fetcher.Config{
			Retries:           cfg.Slack.Retries,
			DefaultRetryAfter: cfg.Slack.DefaultRetryAfter,
		})
	} else {
		log.Warn("SLACK_BOT_TOKEN not set, slack ingestion disabled")
	}

	if len(cfg.Queue.Brokers) > 0 {
		k, err := queue.NewKafka(cfg.Queue.Brokers, cfg.Queue.Topic)
		if err != nil {
			return nil, fmt.Errorf("failed to create kafka publisher: %w", err)
		}
		a.publisher = k
		log.Info("publishing new messages to kafka", zap.Strings("brokers", cfg.Queue.Brokers), zap.String("topic", cfg.Queue.Topic))
	}

	if cfg.Redis.Addr != "" {
		rdb, err := redis.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			// The cache is optional; upstream requests go straight to origin.
			log.Warn("redis unavailable, upstream caching disabled", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		} else {
			a.cache = rdb
		}
	}

	reg := registry.New(monitored(cfg.Channels), a.clock, log, cfg.Ingest.ChannelCacheTTL)
	a.service = ingest.New(f, reg, a.publisher, a.clock, log, ingest.Config{
		BufferSize:     cfg.Ingest.BufferSize,
		LiveBufferSize: cfg.Ingest.LiveBufferSize,
		AdminToken:     cfg.Admin.Token,
	})

	client := &http.Client{Timeout: 15 * time.Second}
	for _, up := range cfg.Upstreams {
		var cache upstream.Cache
		if a.cache != nil {
			cache = a.cache
		}
		a.upstreams = append(a.upstreams, upstream.New(upstream.Config{
			Name:     up.Name,
			Title:    up.Title,
			Noun:     up.Noun,
			URL:      up.URL,
			Format:   up.Format,
			CacheTTL: cfg.Redis.CacheTTL,
		}, client, cache, log))
	}

	return a, nil
}

func (a *app) Close() {
	if err := a.publisher.Close(); err != nil {
		a.log.Warn("close publisher", zap.Error(err))
	}
	if a.cache != nil {
		a.cache.Close()
	}
	a.log.Sync()
}

func monitored(channels []config.ChannelConfig) []registry.Monitored {
	out := make([]registry.Monitored, 0, len(channels))
	for _, ch := range channels {
		out = append(out, registry.Monitored{
			Key:     ch.Key,
			ID:      ch.ID,
			Name:    ch.Name,
			Purpose: ch.Purpose,
			Limit:   ch.Limit,
			Private: ch.Private,
		})
	}
	return out
}
