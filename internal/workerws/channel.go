package workerws

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"drivethru/lane/internal/types"
	"drivethru/lane/internal/voice"
)

// listenGrace is added to the worker's own listen bounds before the lane
// gives up waiting for a reply.
const listenGrace = 2 * time.Second

// Channel is a voice.Channel backed by the remote worker. Each call sends one
// command and waits for the reply carrying its command id.
type Channel struct {
	reg             *Registry
	laneID          string
	announceTimeout time.Duration
	seq             atomic.Int64

	mu      sync.Mutex
	pending map[string]chan Message
}

var _ voice.Channel = (*Channel)(nil)

func NewChannel(reg *Registry, laneID string, announceTimeout time.Duration) *Channel {
	if announceTimeout <= 0 {
		announceTimeout = 60 * time.Second
	}
	return &Channel{reg: reg, laneID: laneID, announceTimeout: announceTimeout, pending: make(map[string]chan Message)}
}

func (c *Channel) Announce(ctx context.Context, text string) error {
	reply, err := c.call(ctx, TypeAnnounce, map[string]any{"text": text}, c.announceTimeout)
	if err != nil {
		return err
	}
	switch reply.Type {
	case TypeAnnounceDone:
		if e := reply.PayloadString("error"); e != "" {
			return fmt.Errorf("%w: %s", voice.ErrUnavailable, e)
		}
		return nil
	case TypeError:
		return fmt.Errorf("%w: %s", voice.ErrUnavailable, reply.PayloadString("message"))
	}
	return fmt.Errorf("%w: unexpected reply %q to announce", voice.ErrUnavailable, reply.Type)
}

func (c *Channel) ListenOnce(ctx context.Context, timeout, phraseLimit time.Duration) (*types.Utterance, error) {
	payload := map[string]any{"timeout_ms": timeout.Milliseconds(), "phrase_limit_ms": phraseLimit.Milliseconds()}
	reply, err := c.call(ctx, TypeListen, payload, timeout+phraseLimit+listenGrace)
	if err != nil {
		return nil, err
	}
	switch reply.Type {
	case TypeListenTimeout:
		return nil, nil
	case TypeUtterance:
		at, ok := reply.PayloadTime("captured_at_ms")
		if !ok {
			at = time.Now()
		}
		return &types.Utterance{Text: reply.PayloadString("text"), CapturedAt: at}, nil
	case TypeError:
		return nil, fmt.Errorf("%w: %s", voice.ErrUnavailable, reply.PayloadString("message"))
	}
	return nil, fmt.Errorf("%w: unexpected reply %q to listen", voice.ErrUnavailable, reply.Type)
}

func (c *Channel) call(ctx context.Context, typ string, payload map[string]any, wait time.Duration) (Message, error) {
	id := uuid.NewString()
	ch := make(chan Message, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	cmd := Message{Type: typ, TsMs: time.Now().UnixMilli(), LaneID: c.laneID, Seq: c.seq.Add(1), CommandID: id, Payload: payload}
	if err := c.reg.SendJSON(ctx, cmd); err != nil {
		metricCommands.WithLabelValues(typ, "send_failed").Inc()
		return Message{}, fmt.Errorf("%w: %v", voice.ErrUnavailable, err)
	}

	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case reply, ok := <-ch:
		if !ok {
			metricCommands.WithLabelValues(typ, "disconnected").Inc()
			return Message{}, fmt.Errorf("%w: worker disconnected", voice.ErrUnavailable)
		}
		metricCommands.WithLabelValues(typ, reply.Type).Inc()
		return reply, nil
	case <-t.C:
		metricCommands.WithLabelValues(typ, "no_reply").Inc()
		return Message{}, fmt.Errorf("%w: no reply to %s within %s", voice.ErrUnavailable, typ, wait)
	case <-ctx.Done():
		metricCommands.WithLabelValues(typ, "cancelled").Inc()
		return Message{}, ctx.Err()
	}
}

// Deliver routes a worker reply to the command waiting for it.
func (c *Channel) Deliver(msg Message) {
	c.mu.Lock()
	ch, ok := c.pending[msg.CommandID]
	if ok {
		delete(c.pending, msg.CommandID)
	}
	c.mu.Unlock()
	if !ok {
		log.Printf("[worker] reply for unknown command type=%s command_id=%s", msg.Type, msg.CommandID)
		return
	}
	ch <- msg
}

// FailPending wakes every waiting command with a disconnect.
func (c *Channel) FailPending() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}
