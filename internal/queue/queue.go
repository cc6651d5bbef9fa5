package queue

import (
	"context"

	"clubdash/internal/domain"
)

// Publisher hands newly buffered messages to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, msg domain.Message) error
	Close() error
}

// Nop discards everything. It is used when no brokers are configured.
type Nop struct{}

func (Nop) Publish(context.Context, domain.Message) error { return nil }
func (Nop) Close() error                                  { return nil }
