// Package events publishes orchestrator progress to NATS.
//
// Events are published to subjects:
//   - {prefix}.requests.{request_id}.started
//   - {prefix}.requests.{request_id}.iteration
//   - {prefix}.requests.{request_id}.extended
//   - {prefix}.requests.{request_id}.completed
//
// Publishing never blocks the refinement loop: nats.Conn buffers
// outgoing messages and publish failures are only logged.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ultrathink/internal/config"
	"github.com/fyrsmithlabs/ultrathink/internal/logging"
	"github.com/fyrsmithlabs/ultrathink/internal/orchestrator"
)

// DefaultPrefix is the subject prefix used when none is configured.
const DefaultPrefix = "ultrathink"

// Publisher sends progress events over a NATS connection.
type Publisher struct {
	nc     *nats.Conn
	prefix string
	logger *logging.Logger
	owned  bool
}

// NewPublisher wraps an existing connection. The caller keeps ownership
// of nc.
func NewPublisher(nc *nats.Conn, prefix string, logger *logging.Logger) *Publisher {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Publisher{nc: nc, prefix: prefix, logger: logger.Named("events")}
}

// Connect dials cfg.URL and returns a publisher that owns the connection.
func Connect(cfg config.EventsConfig, logger *logging.Logger) (*Publisher, error) {
	if cfg.URL == "" {
		return nil, errors.New("events: url is required")
	}
	nc, err := nats.Connect(cfg.URL,
		nats.Name("ultrathink"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("events: connecting to %s: %w", cfg.URL, err)
	}
	p := NewPublisher(nc, cfg.SubjectPrefix, logger)
	p.owned = true
	return p, nil
}

// Conn returns the underlying connection.
func (p *Publisher) Conn() *nats.Conn { return p.nc }

// Subject returns the subject for one event of one request.
func (p *Publisher) Subject(requestID string, kind orchestrator.EventKind) string {
	return fmt.Sprintf("%s.requests.%s.%s", p.prefix, requestID, kind)
}

// Wildcard returns the subject matching every event of requestID, or of
// every request when requestID is empty.
func (p *Publisher) Wildcard(requestID string) string {
	if requestID == "" {
		return p.prefix + ".requests.*.*"
	}
	return fmt.Sprintf("%s.requests.%s.*", p.prefix, requestID)
}

// Publish sends ev.
func (p *Publisher) Publish(ev orchestrator.Progress) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.nc.Publish(p.Subject(ev.RequestID, ev.Kind), data); err != nil {
		return fmt.Errorf("publish %s event: %w", ev.Kind, err)
	}
	return nil
}

// Handler adapts the publisher to the orchestrator progress callback.
func (p *Publisher) Handler() orchestrator.ProgressFunc {
	return func(ev orchestrator.Progress) {
		if err := p.Publish(ev); err != nil {
			p.logger.Warn(context.Background(), "dropping progress event",
				zap.String("request_id", ev.RequestID),
				zap.String("kind", string(ev.Kind)),
				zap.Error(err))
		}
	}
}

// Event is a received progress message.
type Event struct {
	Kind     orchestrator.EventKind
	Progress orchestrator.Progress
	Raw      []byte
}

// ChanSubscribe delivers raw messages for requestID (every request when
// empty) to ch. Decode turns them into events.
func (p *Publisher) ChanSubscribe(requestID string, ch chan *nats.Msg) (*nats.Subscription, error) {
	sub, err := p.nc.ChanSubscribe(p.Wildcard(requestID), ch)
	if err != nil {
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	return sub, nil
}

// Subscribe delivers events for requestID (every request when empty) to
// fn until ctx is done or fn fails. fn runs on the calling goroutine.
func (p *Publisher) Subscribe(ctx context.Context, requestID string, fn func(Event) error) error {
	ch := make(chan *nats.Msg, 64)
	sub, err := p.ChanSubscribe(requestID, ch)
	if err != nil {
		return err
	}
	defer func() {
		_ = sub.Unsubscribe()
	}()

	for {
		select {
		case msg := <-ch:
			ev, ok := Decode(msg)
			if !ok {
				continue
			}
			if err := fn(ev); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// Decode parses a progress message. It reports false for messages that
// are not progress events.
func Decode(msg *nats.Msg) (Event, bool) {
	parts := strings.Split(msg.Subject, ".")
	if len(parts) < 4 {
		return Event{}, false
	}
	var pr orchestrator.Progress
	if err := json.Unmarshal(msg.Data, &pr); err != nil {
		return Event{}, false
	}
	return Event{Kind: orchestrator.EventKind(parts[len(parts)-1]), Progress: pr, Raw: msg.Data}, true
}

// Close drains and closes the connection when the publisher owns it.
func (p *Publisher) Close() error {
	if !p.owned {
		return nil
	}
	return p.nc.Drain()
}
