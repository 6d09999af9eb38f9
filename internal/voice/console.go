package voice

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"drivethru/lane/internal/types"
)

// Console speaks by writing lines to w and hears lines typed on r. It is the
// bench-test backend for a lane without audio hardware.
type Console struct {
	w     io.Writer
	lines chan string
}

// NewConsole starts a reader goroutine on r. It ends when r returns an error.
func NewConsole(r io.Reader, w io.Writer) *Console {
	c := &Console{w: w, lines: make(chan string, 8)}
	go func() {
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			c.lines <- sc.Text()
		}
		if err := sc.Err(); err != nil {
			log.Printf("[voice] console input closed err=%v", err)
		}
		close(c.lines)
	}()
	return c
}

func (c *Console) Announce(ctx context.Context, text string) error {
	if _, err := fmt.Fprintf(c.w, "SPEAKER: %s\n", text); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// ListenOnce returns the next non-empty line typed within timeout. Console
// input has no notion of speech onset, so phraseLimit is not applied.
func (c *Console) ListenOnce(ctx context.Context, timeout, phraseLimit time.Duration) (*types.Utterance, error) {
	fmt.Fprintf(c.w, "MIC (%.0fs)> ", timeout.Seconds())
	t := time.NewTimer(timeout)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, nil
		case <-t.C:
			fmt.Fprintln(c.w)
			return nil, nil
		case line, ok := <-c.lines:
			if !ok {
				return nil, ErrUnavailable
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			return &types.Utterance{Text: line, CapturedAt: time.Now()}, nil
		}
	}
}
