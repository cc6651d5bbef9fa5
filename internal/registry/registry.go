package registry

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/slack-go/slack"
	"go.uber.org/zap"

	"clubdash/internal/clock"
	"clubdash/internal/domain"
)

const (
	DefaultCacheTTL = 5 * time.Minute

	// FailureBackoff is the minimum pause after a failed membership query.
	FailureBackoff = 30 * time.Second
)

// Monitored is a channel the loader knows how to pull history from.
type Monitored struct {
	Key     string
	ID      string
	Name    string
	Purpose string
	Limit   int
	Private bool
}

// Lister reports the channels the bot is a member of.
type Lister interface {
	Memberships(ctx context.Context) ([]slack.Channel, error)
}

// Registry tracks the statically monitored channels and every channel the
// bot has been seen in. Monitored channels are known from construction.
// The list only grows: discovery merges into it and never evicts.
type Registry struct {
	monitored map[string]Monitored
	order     []string

	clock clock.Clock
	log   *zap.Logger
	ttl   time.Duration

	mu        sync.RWMutex
	channels  []domain.Channel
	fetchedAt time.Time
	retryAt   time.Time

	refreshMu sync.Mutex
}

func New(monitored []Monitored, clk clock.Clock, log *zap.Logger, ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	r := &Registry{
		monitored: make(map[string]Monitored, len(monitored)),
		clock:     clk,
		log:       log.Named("registry"),
		ttl:       ttl,
	}
	for _, m := range monitored {
		if _, dup := r.monitored[m.Key]; dup {
			continue
		}
		r.monitored[m.Key] = m
		r.order = append(r.order, m.Key)
		if m.ID != "" && r.indexLocked(m.ID) < 0 {
			r.channels = append(r.channels, seeded(m, clk.Now()))
		}
	}
	return r
}

func (r *Registry) Lookup(key string) (Monitored, bool) {
	m, ok := r.monitored[key]
	return m, ok
}

// Monitored returns the configured channels in configuration order.
func (r *Registry) Monitored() []Monitored {
	out := make([]Monitored, 0, len(r.order))
	for _, key := range r.order {
		out = append(out, r.monitored[key])
	}
	return out
}

// Seed records a monitored channel ahead of discovery. It is a no-op if
// the id is already known.
func (r *Registry) Seed(m Monitored) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.indexLocked(m.ID) >= 0 {
		return
	}
	r.channels = append([]domain.Channel{seeded(m, r.clock.Now())}, r.channels...)
}

// Merge updates known channels in place and appends new ones.
func (r *Registry) Merge(discovered []domain.Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, ch := range discovered {
		if i := r.indexLocked(ch.ID); i >= 0 {
			r.channels[i] = ch
			continue
		}
		r.channels = append(r.channels, ch)
	}
}

// Refresh queries memberships through lister when the cached list is
// older than the TTL, merges the result and returns the full list. While
// another refresh is in flight, or until a failed query's backoff passes,
// the last known list is returned without querying.
func (r *Registry) Refresh(ctx context.Context, lister Lister) []domain.Channel {
	if lister == nil {
		return r.List(true)
	}

	if !r.refreshMu.TryLock() {
		return r.List(true)
	}
	defer r.refreshMu.Unlock()

	now := r.clock.Now()
	r.mu.RLock()
	fresh := !r.fetchedAt.IsZero() && now.Sub(r.fetchedAt) < r.ttl
	backingOff := now.Before(r.retryAt)
	r.mu.RUnlock()
	if fresh || backingOff {
		return r.List(true)
	}

	found, err := lister.Memberships(ctx)
	if err != nil {
		wait := FailureBackoff
		var rl *slack.RateLimitedError
		if errors.As(err, &rl) && rl.RetryAfter > wait {
			wait = rl.RetryAfter
		}
		r.mu.Lock()
		r.retryAt = now.Add(wait)
		r.mu.Unlock()

		r.log.Error("list bot channels failed, serving cached list",
			zap.Duration("retry_in", wait),
			zap.Error(err))
		return r.List(true)
	}

	discovered := make([]domain.Channel, 0, len(found))
	for _, ch := range found {
		discovered = append(discovered, fromSlack(ch, now))
	}
	r.Merge(discovered)

	r.mu.Lock()
	r.fetchedAt = now
	r.mu.Unlock()

	r.log.Debug("bot channels refreshed", zap.Int("discovered", len(discovered)))
	return r.List(true)
}

// List returns a snapshot of known channels. Private channels are
// included only when includePrivate is set.
func (r *Registry) List(includePrivate bool) []domain.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Channel, 0, len(r.channels))
	for _, ch := range r.channels {
		if ch.IsPrivate && !includePrivate {
			continue
		}
		out = append(out, ch)
	}
	return out
}

func (r *Registry) indexLocked(id string) int {
	for i, ch := range r.channels {
		if ch.ID == id {
			return i
		}
	}
	return -1
}

func seeded(m Monitored, now time.Time) domain.Channel {
	return domain.Channel{
		ID:        m.ID,
		Name:      m.Name,
		IsPrivate: m.Private,
		Purpose:   m.Purpose,
		Updated:   now.UTC(),
	}
}

func fromSlack(ch slack.Channel, now time.Time) domain.Channel {
	return domain.Channel{
		ID:         ch.ID,
		Name:       ch.Name,
		IsPrivate:  ch.IsPrivate,
		NumMembers: ch.NumMembers,
		Purpose:    ch.Purpose.Value,
		Updated:    now.UTC(),
	}
}
