// Package ingest owns the message buffers, the channel registry and the
// loading status. Batch loads pull channel history through a rate-limited
// fetcher and replace that channel's entries in the buffer for its tier;
// live events are prepended as they arrive. Readers only ever see copies.
package ingest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/slack-go/slack"
	"go.uber.org/zap"

	"clubdash/internal/buffer"
	"clubdash/internal/clock"
	"clubdash/internal/domain"
	"clubdash/internal/metrics"
	"clubdash/internal/queue"
	"clubdash/internal/registry"
)

// Fetcher is the Slack access the service needs. A nil Fetcher disables
// ingestion.
type Fetcher interface {
	History(ctx context.Context, channelID string, limit int) []slack.Message
	Memberships(ctx context.Context) ([]slack.Channel, error)
}

type Config struct {
	BufferSize     int
	LiveBufferSize int
	AdminToken     string
}

type Service struct {
	fetcher   Fetcher
	registry  *registry.Registry
	publisher queue.Publisher
	clock     clock.Clock
	log       *zap.Logger

	public  *buffer.Rolling
	private *buffer.Rolling

	liveLimit  int
	adminToken string

	// loadMu serializes single-channel loads; runMu serializes multi-channel runs.
	loadMu sync.Mutex
	runMu  sync.Mutex

	statusMu sync.RWMutex
	status   domain.LoadingStatus
}

func New(f Fetcher, reg *registry.Registry, pub queue.Publisher, clk clock.Clock, log *zap.Logger, cfg Config) *Service {
	if pub == nil {
		pub = queue.Nop{}
	}
	size := cfg.BufferSize
	if size <= 0 {
		size = buffer.DefaultSize
	}
	live := cfg.LiveBufferSize
	if live <= 0 || live > size {
		live = size
	}

	return &Service{
		fetcher:    f,
		registry:   reg,
		publisher:  pub,
		clock:      clk,
		log:        log.Named("ingest"),
		public:     buffer.NewRolling(size),
		private:    buffer.NewRolling(size),
		liveLimit:  live,
		adminToken: cfg.AdminToken,
		status:     domain.LoadingStatus{Message: "idle"},
	}
}

// Enabled reports whether Slack credentials were configured.
func (s *Service) Enabled() bool { return s.fetcher != nil }

// Monitors reports whether key names a monitored channel.
func (s *Service) Monitors(key string) bool {
	_, ok := s.registry.Lookup(key)
	return ok
}

// LoadChannelHistory replaces the buffered entries of one monitored
// channel with its latest history. An empty fetch still clears the old
// entries.
func (s *Service) LoadChannelHistory(ctx context.Context, key string) error {
	m, ok := s.registry.Lookup(key)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownChannel, key)
	}
	if s.fetcher == nil {
		return nil
	}

	s.loadMu.Lock()
	defer s.loadMu.Unlock()

	s.log.Info("loading channel history", zap.String("channel", m.Name), zap.Int("limit", m.Limit))

	raw := s.fetcher.History(ctx, m.ID, m.Limit)
	if err := ctx.Err(); err != nil {
		return err
	}

	batch := make([]domain.Message, 0, len(raw))
	for _, r := range raw {
		batch = append(batch, domain.Message{
			ID:        m.Name + "-" + r.Timestamp,
			SourceTag: m.Name,
			Timestamp: domain.ParseTS(r.Timestamp),
			User:      r.User,
			Channel:   m.ID,
			Text:      r.Text,
		})
	}
	sort.SliceStable(batch, func(i, j int) bool {
		return batch[i].Timestamp.Before(batch[j].Timestamp)
	})

	added := s.tier(m.Private).Upsert(m.Name, batch)
	s.registry.Seed(m)
	s.recordSizes()

	metrics.ChannelLoads.WithLabelValues(m.Name).Inc()
	metrics.MessagesLoaded.WithLabelValues(m.Name).Add(float64(len(batch)))

	if len(batch) == 0 {
		s.log.Info("no messages found", zap.String("channel", m.Name))
	} else {
		s.log.Info("loaded channel history",
			zap.String("channel", m.Name),
			zap.Int("messages", len(batch)),
			zap.Int("new", len(added)))
	}

	s.publish(ctx, added)
	return nil
}

// LoadMultipleChannels loads keys one after another, sleeping delay
// between consecutive channels, and reports progress through Status.
func (s *Service) LoadMultipleChannels(ctx context.Context, keys []string, delay time.Duration) error {
	if s.fetcher == nil {
		return nil
	}

	s.runMu.Lock()
	defer s.runMu.Unlock()

	s.setStatus(domain.LoadingStatus{
		IsLoading: true,
		Total:     len(keys),
		Message:   "starting",
	})

	completed := 0
	defer func() {
		s.setStatus(domain.LoadingStatus{
			Completed: completed,
			Total:     len(keys),
			Message:   "done",
		})
	}()

	for i, key := range keys {
		if i > 0 && delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-s.clock.After(delay):
			}
		}

		current := key
		s.setStatus(domain.LoadingStatus{
			IsLoading:      true,
			CurrentChannel: &current,
			Completed:      completed,
			Total:          len(keys),
			Message:        fmt.Sprintf("loading #%s (%d/%d)", key, i+1, len(keys)),
		})

		if err := s.LoadChannelHistory(ctx, key); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.log.Error("channel load failed", zap.String("channel", key), zap.Error(err))
		}
		completed++

		s.setStatus(domain.LoadingStatus{
			IsLoading:      true,
			CurrentChannel: &current,
			Completed:      completed,
			Total:          len(keys),
			Message:        fmt.Sprintf("loaded #%s", key),
		})
	}

	return nil
}

// AppendLive prepends a message received from the event stream to the
// buffer for its tier.
func (s *Service) AppendLive(ctx context.Context, msg domain.Message, private bool) {
	msg.SourceTag = domain.LiveTag
	s.tier(private).Prepend(msg, s.liveLimit)
	s.recordSizes()
	s.publish(ctx, []domain.Message{msg})
}

// Status returns a snapshot of the loading status.
func (s *Service) Status() domain.LoadingStatus {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()

	st := s.status
	if st.CurrentChannel != nil {
		current := *st.CurrentChannel
		st.CurrentChannel = &current
	}
	return st
}

func (s *Service) setStatus(st domain.LoadingStatus) {
	s.statusMu.Lock()
	s.status = st
	s.statusMu.Unlock()
}

func (s *Service) tier(private bool) *buffer.Rolling {
	if private {
		return s.private
	}
	return s.public
}

func (s *Service) recordSizes() {
	metrics.BufferSize.WithLabelValues("public").Set(float64(s.public.Len()))
	metrics.BufferSize.WithLabelValues("private").Set(float64(s.private.Len()))
}

func (s *Service) publish(ctx context.Context, msgs []domain.Message) {
	for _, m := range msgs {
		if err := s.publisher.Publish(ctx, m); err != nil {
			metrics.Published.WithLabelValues("error").Inc()
			s.log.Warn("publish failed", zap.String("id", m.ID), zap.Error(err))
			continue
		}
		metrics.Published.WithLabelValues("ok").Inc()
	}
}
