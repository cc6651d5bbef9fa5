package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"clubdash/internal/domain"
	"clubdash/internal/ingest"
	"clubdash/internal/metrics"
)

// Ingest is the dashboard data the server exposes.
type Ingest interface {
	PublicData() []domain.Message
	AdminData(credential string) ([]domain.Message, error)
	Authorize(credential string) error
	Channels(ctx context.Context, admin bool) []domain.Channel
	Status() domain.LoadingStatus
	Monitors(key string) bool
	Enabled() bool
	LoadChannelHistory(ctx context.Context, key string) error
}

// Upstream is a proxied third-party API.
type Upstream interface {
	Name() string
	Fetch(ctx context.Context) ([]byte, error)
}

type Options struct {
	StaticDir string
}

type Server struct {
	echo      *echo.Echo
	ingest    Ingest
	upstreams []Upstream
	sse       *SSEBroker
	log       *zap.Logger

	jobCtx    context.Context
	cancelJob context.CancelFunc
	jobs      sync.WaitGroup
}

type SSEBroker struct {
	clients map[chan string]bool
	mu      sync.RWMutex
}

func NewSSEBroker() *SSEBroker {
	return &SSEBroker{clients: make(map[chan string]bool)}
}

func (b *SSEBroker) Subscribe() chan string {
	ch := make(chan string, 10)
	b.mu.Lock()
	b.clients[ch] = true
	b.mu.Unlock()
	return ch
}

func (b *SSEBroker) Unsubscribe(ch chan string) {
	b.mu.Lock()
	delete(b.clients, ch)
	close(ch)
	b.mu.Unlock()
}

// Broadcast drops the message for subscribers whose buffer is full.
func (b *SSEBroker) Broadcast(msg string) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.clients {
		select {
		case ch <- msg:
		default:
		}
	}
}

func (b *SSEBroker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

func NewServer(svc Ingest, upstreams []Upstream, log *zap.Logger, opts Options) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	jobCtx, cancel := context.WithCancel(context.Background())
	s := &Server{
		echo:      e,
		ingest:    svc,
		upstreams: upstreams,
		sse:       NewSSEBroker(),
		log:       log.Named("api"),
		jobCtx:    jobCtx,
		cancelJob: cancel,
	}

	e.Use(s.instrument)
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		Skipper:     func(c echo.Context) bool { return c.Path() == "/health" || c.Path() == "/metrics" },
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				s.log.Warn("request", append(fields, zap.Error(v.Error))...)
				return nil
			}
			s.log.Info("request", fields...)
			return nil
		},
	}))
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	s.routes(opts)

	return s
}

func (s *Server) routes(opts Options) {
	s.echo.GET("/health", s.health)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	s.echo.GET("/api/slack-data", s.slackData)
	s.echo.GET("/api/slack-data-admin", s.slackDataAdmin)
	s.echo.GET("/api/slack-channels", s.slackChannels)
	s.echo.GET("/api/slack-status", s.slackStatus)
	s.echo.POST("/api/slack-load/:channel", s.slackLoad)
	s.echo.GET("/api/slack-stream", s.slackStream)

	for _, up := range s.upstreams {
		s.echo.GET("/api/"+up.Name()+"-api", s.proxy(up))
	}

	if opts.StaticDir != "" {
		s.echo.Static("/", opts.StaticDir)
	}
}

func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown stops accepting requests, cancels manual loads still running
// and waits for them to return.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancelJob()
	err := s.echo.Shutdown(ctx)
	s.jobs.Wait()
	return err
}

func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) Broadcast(msg string) {
	s.sse.Broadcast(msg)
}

func (s *Server) instrument(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		if err != nil {
			c.Error(err)
		}

		path := c.Path()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Response().Status)
		metrics.HTTPRequestsTotal.WithLabelValues(c.Request().Method, path, status).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(c.Request().Method, path).Observe(time.Since(start).Seconds())
		return nil
	}
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"status": "ok", "slack": s.ingest.Enabled()})
}

func (s *Server) slackData(c echo.Context) error {
	return c.JSON(http.StatusOK, s.ingest.PublicData())
}

func (s *Server) slackDataAdmin(c echo.Context) error {
	data, err := s.ingest.AdminData(credential(c))
	if err != nil {
		return authError(c, err)
	}
	return c.JSON(http.StatusOK, data)
}

func (s *Server) slackChannels(c echo.Context) error {
	admin := false
	if cred := credential(c); cred != "" {
		admin = s.ingest.Authorize(cred) == nil
	}
	return c.JSON(http.StatusOK, s.ingest.Channels(c.Request().Context(), admin))
}

func (s *Server) slackStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, s.ingest.Status())
}

func (s *Server) slackLoad(c echo.Context) error {
	if err := s.ingest.Authorize(credential(c)); err != nil {
		return authError(c, err)
	}

	key := c.Param("channel")
	if !s.ingest.Monitors(key) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": fmt.Sprintf("Unknown channel: %s", key)})
	}

	s.jobs.Add(1)
	go func() {
		defer s.jobs.Done()
		if err := s.ingest.LoadChannelHistory(s.jobCtx, key); err != nil && s.jobCtx.Err() == nil {
			s.log.Error("manual load failed", zap.String("channel", key), zap.Error(err))
		}
	}()

	return c.JSON(http.StatusAccepted, map[string]string{"status": "loading", "channel": key})
}

func (s *Server) slackStream(c echo.Context) error {
	c.Response().Header().Set("Content-Type", "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().Header().Set("X-Accel-Buffering", "no")
	c.Response().WriteHeader(http.StatusOK)

	ch := s.sse.Subscribe()
	defer s.sse.Unsubscribe(ch)

	// Send initial ping
	fmt.Fprintf(c.Response(), ": ping\n\n")
	c.Response().Flush()

	for {
		select {
		case <-c.Request().Context().Done():
			return nil
		case <-s.jobCtx.Done():
			return nil
		case msg := <-ch:
			fmt.Fprintf(c.Response(), "event: message\n")
			for _, line := range strings.Split(msg, "\n") {
				fmt.Fprintf(c.Response(), "data: %s\n", line)
			}
			fmt.Fprintf(c.Response(), "\n")
			c.Response().Flush()
		}
	}
}

func (s *Server) proxy(up Upstream) echo.HandlerFunc {
	return func(c echo.Context) error {
		body, err := up.Fetch(c.Request().Context())
		if err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
		}
		return c.Blob(http.StatusOK, echo.MIMEApplicationJSON, body)
	}
}

// credential reads the admin token from the Authorization header, falling
// back to the admin_token query parameter.
func credential(c echo.Context) string {
	if h := c.Request().Header.Get(echo.HeaderAuthorization); h != "" {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return c.QueryParam("admin_token")
}

func authError(c echo.Context, err error) error {
	if errors.Is(err, ingest.ErrServiceUnavailable) {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "Admin functionality not configured"})
	}
	return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Invalid admin credentials"})
}
