package voice

import (
	"context"
	"errors"
	"log"
	"time"

	"drivethru/lane/internal/types"
)

type instrumented struct {
	name  string
	inner Channel
}

// Instrument wraps ch with metrics and logs. name labels the backend.
func Instrument(name string, ch Channel) Channel {
	return &instrumented{name: name, inner: ch}
}

func (i *instrumented) Announce(ctx context.Context, text string) error {
	start := time.Now()
	err := i.inner.Announce(ctx, text)
	metricAnnounceMS.WithLabelValues(i.name).Observe(float64(time.Since(start).Milliseconds()))
	if err != nil {
		metricAnnounceFailures.WithLabelValues(i.name).Inc()
		log.Printf("[voice] announce failed backend=%s err=%v", i.name, err)
	}
	return err
}

func (i *instrumented) ListenOnce(ctx context.Context, timeout, phraseLimit time.Duration) (*types.Utterance, error) {
	u, err := i.inner.ListenOnce(ctx, timeout, phraseLimit)
	switch {
	case err != nil && errors.Is(err, ErrUnavailable):
		metricListens.WithLabelValues(i.name, "unavailable").Inc()
		log.Printf("[voice] listen failed backend=%s err=%v", i.name, err)
	case err != nil:
		metricListens.WithLabelValues(i.name, "error").Inc()
		log.Printf("[voice] listen failed backend=%s err=%v", i.name, err)
	case u == nil:
		metricListens.WithLabelValues(i.name, "timeout").Inc()
	default:
		metricListens.WithLabelValues(i.name, "utterance").Inc()
		log.Printf("[voice] heard backend=%s text=%q", i.name, u.Text)
	}
	return u, err
}
