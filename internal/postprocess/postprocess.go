package postprocess

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Formatter rewrites free-text order text before hand-off.
type Formatter interface {
	Format(ctx context.Context, text string) (string, error)
}

// Func adapts a plain func(string) string to Formatter.
type Func func(string) string

func (f Func) Format(_ context.Context, text string) (string, error) { return f(text), nil }

var metricFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "lane_postprocess_failures_total",
	Help: "Order text post-processing failures by kind",
}, []string{"kind"})

// Apply runs f on text with a deadline. Any error, panic, timeout or empty
// result returns text unchanged. A nil f is the identity.
func Apply(ctx context.Context, f Formatter, text string, timeout time.Duration) string {
	if f == nil || text == "" {
		return text
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		out string
		err error
	}
	ch := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- result{err: fmt.Errorf("formatter panic: %v", r)}
			}
		}()
		out, err := f.Format(ctx, text)
		ch <- result{out: out, err: err}
	}()

	select {
	case <-ctx.Done():
		metricFailures.WithLabelValues("timeout").Inc()
		log.Printf("[post] formatter timed out after %s, keeping original text", timeout)
		return text
	case r := <-ch:
		if r.err != nil {
			metricFailures.WithLabelValues("error").Inc()
			log.Printf("[post] formatter failed err=%v, keeping original text", r.err)
			return text
		}
		out := strings.TrimSpace(r.out)
		if out == "" {
			metricFailures.WithLabelValues("empty").Inc()
			return text
		}
		return out
	}
}
