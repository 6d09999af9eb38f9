package workerws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	ws "nhooyr.io/websocket"
)

var ErrNoWorker = errors.New("no voice worker connected")

// Registry keeps at most one worker connection for the lane.
type Registry struct {
	mu   sync.Mutex
	conn *ws.Conn
}

func NewRegistry() *Registry { return &Registry{} }

// Replace installs c and closes the previous connection if present.
func (r *Registry) Replace(c *ws.Conn) (prevClosed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn != nil {
		_ = r.conn.Close(ws.StatusNormalClosure, "replaced")
		prevClosed = true
	}
	r.conn = c
	metricWorkerConnected.Set(1)
	return
}

func (r *Registry) Get() *ws.Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conn
}

func (r *Registry) Connected() bool { return r.Get() != nil }

// Remove clears c if it is still the current connection and reports whether
// it was.
func (r *Registry) Remove(c *ws.Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn != c {
		return false
	}
	r.conn = nil
	metricWorkerConnected.Set(0)
	return true
}

// SendJSON writes v to the current worker.
func (r *Registry) SendJSON(ctx context.Context, v any) error {
	c := r.Get()
	if c == nil {
		return ErrNoWorker
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Write(ctx, ws.MessageText, b)
}
