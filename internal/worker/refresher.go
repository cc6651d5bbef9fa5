package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"clubdash/internal/clock"
	"clubdash/internal/config"
)

// Loader loads a set of channels in order with a pause between them.
type Loader interface {
	LoadMultipleChannels(ctx context.Context, keys []string, delay time.Duration) error
}

// Refresher triggers the startup load and the periodic reloads.
type Refresher struct {
	loader Loader
	clock  clock.Clock
	log    *zap.Logger
	cfg    config.IngestConfig
}

func NewRefresher(l Loader, clk clock.Clock, log *zap.Logger, cfg config.IngestConfig) *Refresher {
	return &Refresher{
		loader: l,
		clock:  clk,
		log:    log.Named("refresher"),
		cfg:    cfg,
	}
}

func (w *Refresher) Start(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	case <-w.clock.After(w.cfg.StartupDelay):
	}

	w.load(ctx, "startup", w.cfg.StartupChannels, w.cfg.StartupGap)

	if w.cfg.RefreshInterval <= 0 {
		return
	}
	ticker := w.clock.NewTicker(w.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.load(ctx, "refresh", w.cfg.RefreshChannels, w.cfg.RefreshGap)
		}
	}
}

func (w *Refresher) load(ctx context.Context, trigger string, keys []string, gap time.Duration) {
	if len(keys) == 0 {
		return
	}

	start := w.clock.Now()
	w.log.Info("loading channels", zap.String("trigger", trigger), zap.Strings("channels", keys))

	if err := w.loader.LoadMultipleChannels(ctx, keys, gap); err != nil {
		if ctx.Err() == nil {
			w.log.Error("channel load failed", zap.String("trigger", trigger), zap.Error(err))
		}
		return
	}

	w.log.Info("channels loaded", zap.String("trigger", trigger), zap.Duration("took", w.clock.Now().Sub(start)))
}
