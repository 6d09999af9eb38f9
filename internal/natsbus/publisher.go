package natsbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"drivethru/lane/internal/types"
)

// Event is the envelope published for each outcome.
type Event struct {
	EventType  string             `json:"event_type"`
	OccurredAt time.Time          `json:"occurred_at"`
	OrderID    string             `json:"order_id"`
	Outcome    types.OrderOutcome `json:"outcome"`
}

// EventType is "lane.outcome.confirmed" and so on.
func EventType(o types.Outcome) string {
	return "lane.outcome." + strings.ToLower(string(o))
}

func NewEvent(o types.OrderOutcome) Event {
	return Event{EventType: EventType(o.Outcome), OccurredAt: o.CompletedAt, OrderID: o.OrderID(), Outcome: o}
}

// Publisher fans outcomes out to NATS subscribers such as a POS bridge or a
// kitchen display.
type Publisher struct {
	conn    *nats.Conn
	subject string
}

func NewPublisher(url, subject string) (*Publisher, error) {
	conn, err := nats.Connect(url,
		nats.Name("drivethru-lane"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Printf("[nats] disconnected err=%v", err)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Printf("[nats] reconnected url=%s", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	log.Printf("[nats] connected url=%s subject=%s", url, subject)
	return &Publisher{conn: conn, subject: subject}, nil
}

// Deliver publishes o. It satisfies handoff.Sink.
func (p *Publisher) Deliver(ctx context.Context, o types.OrderOutcome) error {
	b, err := json.Marshal(NewEvent(o))
	if err != nil {
		return fmt.Errorf("marshal outcome event: %w", err)
	}
	if err := p.conn.Publish(p.subject, b); err != nil {
		return fmt.Errorf("publish %s: %w", p.subject, err)
	}
	return nil
}

// Connected reports the connection status for readiness checks.
func (p *Publisher) Connected() bool { return p.conn.IsConnected() }

// Close flushes pending messages and closes the connection.
func (p *Publisher) Close() error {
	if err := p.conn.FlushTimeout(2 * time.Second); err != nil {
		log.Printf("[nats] flush on close: %v", err)
	}
	p.conn.Close()
	return nil
}
