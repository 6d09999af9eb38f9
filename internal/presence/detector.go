package presence

import (
	"context"
	"log"
	"time"
)

type EdgeKind string

const (
	Arrived  EdgeKind = "ARRIVED"
	Departed EdgeKind = "DEPARTED"
)

type Edge struct {
	Kind EdgeKind
	At   time.Time
}

// Detector debounces raw samples into edges. A new level is accepted only
// after it has been read window consecutive times. It starts in the
// "absent" level, so a sensor that is already high at boot produces one
// Arrived edge once the window is satisfied.
type Detector struct {
	window  int
	stable  bool
	pending int
}

func NewDetector(window int) *Detector {
	if window < 1 {
		window = 1
	}
	return &Detector{window: window}
}

// SamplesFor converts a debounce duration into a sample count at interval.
func SamplesFor(d, interval time.Duration) int {
	if interval <= 0 || d <= 0 {
		return 1
	}
	n := int((d + interval - 1) / interval)
	if n < 1 {
		n = 1
	}
	return n
}

// Step feeds one raw sample and reports an edge when the debounced level
// changes.
func (d *Detector) Step(raw bool) (Edge, bool) {
	if raw == d.stable {
		if d.pending > 0 {
			metricDebounceRejected.Inc()
		}
		d.pending = 0
		return Edge{}, false
	}
	d.pending++
	if d.pending < d.window {
		return Edge{}, false
	}
	d.stable = raw
	d.pending = 0
	kind := Departed
	if raw {
		kind = Arrived
	}
	metricEdges.WithLabelValues(string(kind)).Inc()
	return Edge{Kind: kind, At: time.Now()}, true
}

// Present is the current debounced level.
func (d *Detector) Present() bool { return d.stable }

// Run samples s every interval until ctx is done. A failed read holds the
// last raw value. Edges are sent without blocking. An Arrived edge that finds
// out full is kept and retried on every tick until it is delivered or the
// vehicle departs first; a Departed edge that finds out full is dropped.
// Run closes out when it returns.
func (d *Detector) Run(ctx context.Context, s Sensor, interval time.Duration, out chan<- Edge) {
	defer close(out)
	t := time.NewTicker(interval)
	defer t.Stop()
	last := d.stable
	var pending *Edge
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		if pending != nil && trySend(out, *pending) {
			log.Printf("[presence] delayed %s delivered at=%s", pending.Kind, pending.At.Format(time.RFC3339Nano))
			pending = nil
		}
		raw, err := s.Read()
		if err != nil {
			metricSensorErrors.Inc()
			log.Printf("[presence] sensor read failed err=%v (holding %v)", err, last)
			raw = last
		}
		last = raw
		e, ok := d.Step(raw)
		if !ok {
			continue
		}
		switch {
		case e.Kind == Departed && pending != nil:
			// The consumer never saw this vehicle arrive.
			metricEdgesDropped.Inc()
			log.Printf("[presence] WARN vehicle left before its arrival was delivered arrived=%s departed=%s",
				pending.At.Format(time.RFC3339Nano), e.At.Format(time.RFC3339Nano))
			pending = nil
		case trySend(out, e):
		case e.Kind == Arrived:
			log.Printf("[presence] edge channel full, holding %s at=%s", e.Kind, e.At.Format(time.RFC3339Nano))
			pending = &e
		default:
			metricEdgesDropped.Inc()
			log.Printf("[presence] WARN edge channel full, dropped %s at %s", e.Kind, e.At.Format(time.RFC3339Nano))
		}
	}
}

func trySend(out chan<- Edge, e Edge) bool {
	select {
	case out <- e:
		return true
	default:
		return false
	}
}
