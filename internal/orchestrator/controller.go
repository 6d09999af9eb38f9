package orchestrator

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"drivethru/lane/internal/menu"
	"drivethru/lane/internal/postprocess"
	"drivethru/lane/internal/presence"
	"drivethru/lane/internal/store"
	"drivethru/lane/internal/types"
	"drivethru/lane/internal/voice"
)

const (
	StateIdle       = "IDLE"
	StateAnnouncing = "ANNOUNCING"
	StateAwaiting   = "AWAITING_RESPONSE"
	StateValidating = "VALIDATING"
	StateConfirmed  = "CONFIRMED"
	StateCancelled  = "CANCELLED"
	StateAbandoned  = "ABANDONED"
)

// Outcome reasons.
const (
	ReasonSelected        = "selected"
	ReasonCustomerCancel  = "customer_cancel"
	ReasonAttemptLimit    = "attempt_limit"
	ReasonRepeatLimit     = "repeat_limit"
	ReasonDeparted        = "departed"
	ReasonSessionDeadline = "session_deadline"
	ReasonShutdown        = "shutdown"
)

var (
	ErrBusy = errors.New("a session is already active")

	errDeparted        = errors.New("vehicle departed")
	errSessionDeadline = errors.New("session exceeded max duration")
)

// Publisher accepts finished outcomes. handoff.Queue implements it.
type Publisher interface {
	Push(ctx context.Context, o types.OrderOutcome) error
}

type Policy struct {
	VoiceTimeout       time.Duration
	PhraseLimit        time.Duration
	MaxAttempts        int
	MaxRepeats         int
	MaxSessionDuration time.Duration
	AbandonOnDeparture bool
	PublishCancelled   bool
	Greeting           string
	FormatTimeout      time.Duration
	// PushTimeout bounds how long a finished session waits for room in a
	// bounded queue.
	PushTimeout time.Duration
}

// DefaultPolicy matches the configuration defaults.
func DefaultPolicy() Policy {
	return Policy{
		VoiceTimeout:       8 * time.Second,
		PhraseLimit:        30 * time.Second,
		MaxAttempts:        3,
		MaxRepeats:         3,
		MaxSessionDuration: 5 * time.Minute,
		PublishCancelled:   true,
		Greeting:           "Welcome to the drive thru. These are the specials of the day.",
		FormatTimeout:      3 * time.Second,
		PushTimeout:        30 * time.Second,
	}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.VoiceTimeout <= 0 {
		p.VoiceTimeout = d.VoiceTimeout
	}
	if p.PhraseLimit <= 0 {
		p.PhraseLimit = d.PhraseLimit
	}
	if p.MaxAttempts < 1 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.MaxRepeats < 1 {
		p.MaxRepeats = d.MaxRepeats
	}
	if p.MaxSessionDuration <= 0 {
		p.MaxSessionDuration = d.MaxSessionDuration
	}
	if p.FormatTimeout <= 0 {
		p.FormatTimeout = d.FormatTimeout
	}
	if p.PushTimeout <= 0 {
		p.PushTimeout = d.PushTimeout
	}
	return p
}

type Options struct {
	LaneID    string
	Voice     voice.Channel
	Menu      *menu.Holder
	Grammar   *menu.Grammar
	Queue     Publisher
	Store     *store.Store
	Formatter postprocess.Formatter
	Policy    Policy
}

// Controller runs the lane dialogue. Exactly one session is live at a time.
type Controller struct {
	laneID  string
	voice   voice.Channel
	menu    *menu.Holder
	grammar *menu.Grammar
	queue   Publisher
	store   *store.Store
	format  postprocess.Formatter
	pol     Policy

	active atomic.Bool
	seq    atomic.Int64

	mu        sync.Mutex
	state     string
	sessionID string
	vehicle   int
	depart    context.CancelCauseFunc
}

func New(o Options) (*Controller, error) {
	if o.Voice == nil {
		return nil, errors.New("orchestrator: voice channel is required")
	}
	if o.Menu == nil || o.Menu.Load() == nil {
		return nil, errors.New("orchestrator: menu catalog is required")
	}
	if o.Queue == nil {
		return nil, errors.New("orchestrator: hand-off queue is required")
	}
	if o.Store == nil {
		o.Store = store.New(0)
	}
	if o.Grammar == nil {
		o.Grammar = menu.NewGrammar()
	}
	if o.LaneID == "" {
		o.LaneID = "lane-1"
	}
	return &Controller{
		laneID:  o.LaneID,
		voice:   o.Voice,
		menu:    o.Menu,
		grammar: o.Grammar,
		queue:   o.Queue,
		store:   o.Store,
		format:  o.Formatter,
		pol:     o.Policy.withDefaults(),
		state:   StateIdle,
	}, nil
}

// Status is a point-in-time view of the controller for the API.
type Status struct {
	LaneID     string `json:"lane_id"`
	State      string `json:"state"`
	SessionID  string `json:"session_id,omitempty"`
	VehicleSeq int    `json:"vehicle_seq,omitempty"`
}

func (c *Controller) State() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{LaneID: c.laneID, State: c.state, SessionID: c.sessionID, VehicleSeq: c.vehicle}
}

// setState transitions the FSM and records the metric.
func (c *Controller) setState(to string) {
	c.mu.Lock()
	from := c.state
	if from == to {
		c.mu.Unlock()
		return
	}
	c.state = to
	sid := c.sessionID
	c.mu.Unlock()
	metricStateTransitions.WithLabelValues(from, to).Inc()
	if sid != "" {
		c.store.AppendEvent(sid, "state", map[string]any{"from": from, "to": to})
	}
}

// Run consumes presence edges until ctx ends or edges is closed. Sessions run
// one at a time on the calling goroutine; arrivals that land while a session
// is active are ignored.
func (c *Controller) Run(ctx context.Context, edges <-chan presence.Edge) error {
	arrivals := make(chan presence.Edge, 1)
	go c.pump(ctx, edges, arrivals)
	log.Printf("[lane] controller running lane=%s", c.laneID)
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-arrivals:
			if !ok {
				return nil
			}
			c.runSession(ctx, e.At)
		}
	}
}

// pump claims the single session slot on each arrival so that later edges
// observe it immediately, even before the dialogue loop picks it up.
func (c *Controller) pump(ctx context.Context, edges <-chan presence.Edge, arrivals chan<- presence.Edge) {
	defer close(arrivals)
	for {
		var e presence.Edge
		var ok bool
		select {
		case <-ctx.Done():
			return
		case e, ok = <-edges:
			if !ok {
				return
			}
		}
		switch e.Kind {
		case presence.Arrived:
			if !c.active.CompareAndSwap(false, true) {
				metricArrivalsIgnored.Inc()
				log.Printf("[lane] arrival ignored, session active state=%s", c.State())
				continue
			}
			select {
			case arrivals <- e:
			case <-ctx.Done():
				c.active.Store(false)
				return
			}
		case presence.Departed:
			c.onDeparted()
		}
	}
}

func (c *Controller) onDeparted() {
	c.mu.Lock()
	sid, cancel := c.sessionID, c.depart
	c.mu.Unlock()
	if sid == "" {
		return
	}
	c.store.AppendEvent(sid, "vehicle_departed", nil)
	if !c.pol.AbandonOnDeparture {
		log.Printf("[lane] departure during session id=%s, continuing", sid)
		return
	}
	log.Printf("[lane] departure during session id=%s, abandoning", sid)
	if cancel != nil {
		cancel(errDeparted)
	}
}

// RunSession drives one complete session synchronously, as if a vehicle had
// just arrived. It returns ErrBusy if a session is already active.
func (c *Controller) RunSession(ctx context.Context) (types.OrderOutcome, error) {
	if !c.active.CompareAndSwap(false, true) {
		return types.OrderOutcome{}, ErrBusy
	}
	return c.runSession(ctx, time.Now()), nil
}

func causeReason(err error) string {
	switch {
	case errors.Is(err, errDeparted):
		return ReasonDeparted
	case errors.Is(err, errSessionDeadline):
		return ReasonSessionDeadline
	default:
		return ReasonShutdown
	}
}
