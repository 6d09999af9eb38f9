package handoff

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	"drivethru/lane/internal/types"
)

// Sink receives every outcome popped from the queue.
type Sink interface {
	Deliver(ctx context.Context, o types.OrderOutcome) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, o types.OrderOutcome) error

func (f SinkFunc) Deliver(ctx context.Context, o types.OrderOutcome) error { return f(ctx, o) }

type namedSink struct {
	name string
	sink Sink
}

// Dispatcher is the single consumer of a Queue. It fans each outcome out to
// its sinks in registration order.
type Dispatcher struct {
	q     *Queue
	sinks []namedSink
}

func NewDispatcher(q *Queue) *Dispatcher {
	return &Dispatcher{q: q}
}

// Add registers a sink. Call before Run.
func (d *Dispatcher) Add(name string, s Sink) {
	d.sinks = append(d.sinks, namedSink{name: name, sink: s})
}

// Run delivers outcomes until the queue is closed and drained, or ctx ends.
// A failing sink is logged and counted; the other sinks still receive the
// outcome.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		o, err := d.q.Pop(ctx)
		if errors.Is(err, ErrClosed) {
			log.Printf("[handoff] queue drained, dispatcher stopping")
			return nil
		}
		if err != nil {
			return err
		}
		d.deliver(ctx, o)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, o types.OrderOutcome) {
	for _, s := range d.sinks {
		if err := s.sink.Deliver(ctx, o); err != nil {
			metricSinkFailures.WithLabelValues(s.name).Inc()
			log.Printf("[handoff] sink=%s failed session=%s car=%d err=%v", s.name, o.SessionID, o.VehicleSeq, err)
			continue
		}
		metricDelivered.WithLabelValues(s.name).Inc()
	}
}

// LogSink writes the operator notification for each outcome.
type LogSink struct {
	W io.Writer
}

func (s LogSink) Deliver(_ context.Context, o types.OrderOutcome) error {
	heard := make([]string, 0, len(o.RawUtterances))
	for _, u := range o.RawUtterances {
		heard = append(heard, fmt.Sprintf("%q", u.Text))
	}
	var b strings.Builder
	fmt.Fprintf(&b, "OPERATOR NOTIFICATION lane=%s order=%s outcome=%s reason=%s\n", o.LaneID, o.OrderID(), o.Outcome, o.Reason)
	if o.SelectedItem != nil {
		fmt.Fprintf(&b, "  item: %d %s\n", o.SelectedItem.Code, o.SelectedItem.Label)
	}
	if o.OrderText != "" {
		fmt.Fprintf(&b, "  order: %s\n", o.OrderText)
	}
	fmt.Fprintf(&b, "  heard: [%s]\n", strings.Join(heard, ", "))
	if o.Outcome == types.OutcomeAbandoned {
		b.WriteString("  action: staff assistance required\n")
	}
	w := s.W
	if w == nil {
		log.Print(b.String())
		return nil
	}
	_, err := io.WriteString(w, b.String())
	return err
}
