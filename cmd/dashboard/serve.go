package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"strings"
	"syscall"

	"github.com/slack-go/slack/socketmode"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"clubdash/internal/api"
	"clubdash/internal/worker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, the live listener and the periodic refresher",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}

	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := newApp(cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	upstreams := make([]api.Upstream, 0, len(a.upstreams))
	for _, up := range a.upstreams {
		upstreams = append(upstreams, up)
	}
	server := api.NewServer(a.service, upstreams, log, api.Options{StaticDir: cfg.Server.StaticDir})

	if a.service.Enabled() {
		if cfg.Slack.Enabled() {
			listener := worker.NewListener(socketmode.New(a.slack), a.service, server, log)
			go func() {
				if err := listener.Start(ctx); err != nil {
					log.Error("listener stopped", zap.Error(err))
				}
			}()
		} else {
			log.Warn("SLACK_APP_TOKEN not set, live events disabled")
		}

		refresher := worker.NewRefresher(a.service, a.clock, log, cfg.Ingest)
		go refresher.Start(ctx)
	}

	addr := cfg.Server.Port
	if !strings.Contains(addr, ":") {
		addr = ":" + addr
	}

	errc := make(chan error, 1)
	go func() {
		log.Info("server starting", zap.String("addr", addr))
		if err := server.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errc:
		stop()
		return err
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
