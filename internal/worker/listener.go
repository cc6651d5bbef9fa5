package worker

import (
	"context"
	"encoding/json"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
	"go.uber.org/zap"

	"clubdash/internal/domain"
	"clubdash/internal/metrics"
)

type Broadcaster interface {
	Broadcast(msg string)
}

// LiveSink receives messages that arrive over the event stream.
type LiveSink interface {
	AppendLive(ctx context.Context, msg domain.Message, private bool)
}

type socketClient interface {
	RunContext(ctx context.Context) error
	Ack(req socketmode.Request, payload ...interface{})
}

// Listener consumes Socket Mode events and feeds qualifying channel
// messages into the live buffers.
type Listener struct {
	client      socketClient
	events      <-chan socketmode.Event
	sink        LiveSink
	broadcaster Broadcaster
	log         *zap.Logger
}

func NewListener(c *socketmode.Client, sink LiveSink, b Broadcaster, log *zap.Logger) *Listener {
	return newListener(c, c.Events, sink, b, log)
}

func newListener(c socketClient, events <-chan socketmode.Event, sink LiveSink, b Broadcaster, log *zap.Logger) *Listener {
	return &Listener{
		client:      c,
		events:      events,
		sink:        sink,
		broadcaster: b,
		log:         log.Named("listener"),
	}
}

// Start runs the socket connection and dispatches events until ctx is
// cancelled or the connection fails for good.
func (w *Listener) Start(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() { errc <- w.client.RunContext(ctx) }()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errc:
			if ctx.Err() != nil {
				return nil
			}
			return err
		case evt, ok := <-w.events:
			if !ok {
				return nil
			}
			w.handleEvent(ctx, evt)
		}
	}
}

func (w *Listener) handleEvent(ctx context.Context, evt socketmode.Event) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("panic while handling event", zap.String("type", string(evt.Type)), zap.Any("panic", r))
		}
	}()

	switch evt.Type {
	case socketmode.EventTypeConnecting:
		w.log.Info("connecting to slack")
	case socketmode.EventTypeConnected:
		w.log.Info("connected to slack")
	case socketmode.EventTypeConnectionError:
		w.log.Warn("slack connection error, retrying")
	case socketmode.EventTypeEventsAPI:
		if evt.Request != nil {
			w.client.Ack(*evt.Request)
		}

		apiEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok || apiEvent.Type != slackevents.CallbackEvent {
			return
		}
		if m, ok := apiEvent.InnerEvent.Data.(*slackevents.MessageEvent); ok {
			w.handleMessage(ctx, m)
		}
	}
}

func (w *Listener) handleMessage(ctx context.Context, m *slackevents.MessageEvent) {
	var private bool
	switch m.ChannelType {
	case "channel":
	case "group":
		private = true
	default:
		metrics.LiveEvents.WithLabelValues("skipped").Inc()
		return
	}

	if m.BotID != "" || m.Text == "" || skippedSubtype(m.SubType) {
		metrics.LiveEvents.WithLabelValues("skipped").Inc()
		return
	}

	id, err := uuid.NewV7()
	if err != nil {
		w.log.Error("generate message id", zap.Error(err))
		return
	}

	ts := domain.ParseTS(m.TimeStamp)
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	msg := domain.Message{
		ID:        "live-" + id.String(),
		SourceTag: domain.LiveTag,
		Timestamp: ts,
		User:      m.User,
		Channel:   m.Channel,
		Text:      m.Text,
	}
	w.sink.AppendLive(ctx, msg, private)

	if private {
		metrics.LiveEvents.WithLabelValues("private").Inc()
		w.log.Debug("received private message", zap.String("channel", m.Channel))
		return
	}
	metrics.LiveEvents.WithLabelValues("public").Inc()
	w.log.Info("received message", zap.String("channel", m.Channel), zap.String("text", truncate(m.Text, 60)))

	if w.broadcaster != nil {
		if data, err := json.Marshal(msg); err == nil {
			w.broadcaster.Broadcast(string(data))
		}
	}
}

func skippedSubtype(subtype string) bool {
	switch subtype {
	case "bot_message", "message_changed", "message_deleted":
		return true
	}
	return false
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
