package fetcher

import (
	"context"
	"errors"
	"time"

	"github.com/slack-go/slack"
	"go.uber.org/zap"

	"clubdash/internal/clock"
	"clubdash/internal/metrics"
)

const (
	DefaultRetries    = 3
	DefaultRetryAfter = 60 * time.Second

	membershipPageSize = 200
)

// SlackAPI is the subset of *slack.Client the fetcher calls.
type SlackAPI interface {
	GetConversationHistoryContext(ctx context.Context, params *slack.GetConversationHistoryParameters) (*slack.GetConversationHistoryResponse, error)
	GetConversationsContext(ctx context.Context, params *slack.GetConversationsParameters) ([]slack.Channel, string, error)
}

type Config struct {
	Retries           int
	DefaultRetryAfter time.Duration
}

// Fetcher wraps Slack Web API calls with a bounded rate-limit retry loop.
type Fetcher struct {
	api        SlackAPI
	clock      clock.Clock
	log        *zap.Logger
	retries    int
	retryAfter time.Duration
}

func New(api SlackAPI, clk clock.Clock, log *zap.Logger, cfg Config) *Fetcher {
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.DefaultRetryAfter <= 0 {
		cfg.DefaultRetryAfter = DefaultRetryAfter
	}
	return &Fetcher{
		api:        api,
		clock:      clk,
		log:        log.Named("fetcher"),
		retries:    cfg.Retries,
		retryAfter: cfg.DefaultRetryAfter,
	}
}

// History returns up to limit of the most recent messages in channelID,
// newest first as Slack reports them. Failures are logged and yield an
// empty result.
func (f *Fetcher) History(ctx context.Context, channelID string, limit int) []slack.Message {
	var resp *slack.GetConversationHistoryResponse
	err := f.withRetry(ctx, "conversations.history", f.retries, func() error {
		var err error
		resp, err = f.api.GetConversationHistoryContext(ctx, &slack.GetConversationHistoryParameters{
			ChannelID: channelID,
			Limit:     limit,
		})
		return err
	})
	if err != nil {
		f.log.Error("fetch history failed", zap.String("channel", channelID), zap.Error(err))
		return nil
	}
	if resp == nil {
		return nil
	}
	return resp.Messages
}

// Memberships lists the public and private channels the bot belongs to.
// It serves interactive reads, so a rate limit is returned to the caller
// as a *slack.RateLimitedError instead of being slept through.
func (f *Fetcher) Memberships(ctx context.Context) ([]slack.Channel, error) {
	var out []slack.Channel
	cursor := ""
	for {
		var (
			page []slack.Channel
			next string
		)
		err := f.withRetry(ctx, "conversations.list", 0, func() error {
			var err error
			page, next, err = f.api.GetConversationsContext(ctx, &slack.GetConversationsParameters{
				Cursor:          cursor,
				ExcludeArchived: true,
				Limit:           membershipPageSize,
				Types:           []string{"public_channel", "private_channel"},
			})
			return err
		})
		if err != nil {
			return nil, err
		}

		for _, ch := range page {
			if ch.IsMember {
				out = append(out, ch)
			}
		}

		if next == "" {
			return out, nil
		}
		cursor = next
	}
}

// withRetry runs call, sleeping and retrying on rate-limit errors up to
// retries times. Any other error is returned immediately.
func (f *Fetcher) withRetry(ctx context.Context, method string, retries int, call func() error) error {
	for attempt := 0; ; attempt++ {
		err := call()
		if err == nil {
			metrics.SlackCalls.WithLabelValues(method, "ok").Inc()
			return nil
		}

		var rl *slack.RateLimitedError
		if !errors.As(err, &rl) {
			metrics.SlackCalls.WithLabelValues(method, "error").Inc()
			return err
		}
		metrics.SlackCalls.WithLabelValues(method, "rate_limited").Inc()

		if attempt >= retries {
			return err
		}

		wait := rl.RetryAfter
		if wait <= 0 {
			wait = f.retryAfter
		}
		f.log.Warn("rate limited, backing off",
			zap.String("method", method),
			zap.Duration("retry_after", wait),
			zap.Int("retries_left", retries-attempt))
		metrics.RateLimitSleeps.Inc()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.clock.After(wait):
		}
	}
}
