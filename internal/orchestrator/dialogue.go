package orchestrator

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"

	"drivethru/lane/internal/menu"
	"drivethru/lane/internal/postprocess"
	"drivethru/lane/internal/types"
)

const terminalSpeechTimeout = 20 * time.Second

// session is owned by the dialogue loop for its whole lifetime.
type session struct {
	id        string
	seq       int
	cat       *menu.Catalog
	attempt   int
	repeats   int
	heard     []types.Utterance
	createdAt time.Time
}

// runSession expects the active slot to be claimed and always releases it.
func (c *Controller) runSession(parent context.Context, arrivedAt time.Time) types.OrderOutcome {
	defer c.active.Store(false)

	s := &session{
		id:        uuid.NewString(),
		seq:       int(c.seq.Add(1)),
		cat:       c.menu.Load(),
		createdAt: arrivedAt.UTC(),
	}
	ctx, depart := context.WithCancelCause(parent)
	defer depart(nil)
	ctx, cancel := context.WithTimeoutCause(ctx, c.pol.MaxSessionDuration, errSessionDeadline)
	defer cancel()

	_ = c.store.CreateSession(&types.Session{
		ID:          s.id,
		LaneID:      c.laneID,
		VehicleSeq:  s.seq,
		State:       StateAnnouncing,
		CreatedAt:   s.createdAt,
		LastEventAt: s.createdAt,
	})
	c.mu.Lock()
	c.sessionID, c.vehicle, c.depart = s.id, s.seq, depart
	c.mu.Unlock()
	log.Printf("[lane] session_open id=%s car=%d items=%d", s.id, s.seq, s.cat.Len())

	o := c.dialogue(ctx, s)
	c.finish(parent, s, o)

	c.mu.Lock()
	c.sessionID, c.vehicle, c.depart = "", 0, nil
	c.mu.Unlock()
	c.setState(StateIdle)
	return o
}

// dialogue runs the FSM from ANNOUNCING to a terminal state and returns the
// outcome. It never returns an error: every failure resolves to an outcome.
func (c *Controller) dialogue(ctx context.Context, s *session) types.OrderOutcome {
	c.setState(StateAnnouncing)
	c.announce(ctx, s, menuSegments(c.pol.Greeting, s.cat)...)

	for {
		c.setState(StateAwaiting)
		c.sync(s)
		if err := context.Cause(ctx); err != nil {
			return c.abandon(s, causeReason(err))
		}

		u, err := c.voice.ListenOnce(ctx, c.pol.VoiceTimeout, c.pol.PhraseLimit)
		if cause := context.Cause(ctx); cause != nil {
			return c.abandon(s, causeReason(cause))
		}
		if err != nil {
			metricListenResults.WithLabelValues("error").Inc()
			c.store.AppendEvent(s.id, "listen_failed", map[string]any{"error": err.Error()})
			log.Printf("[lane] listen failed id=%s attempt=%d err=%v", s.id, s.attempt+1, err)
			u = nil
		}
		if u == nil {
			if err == nil {
				metricListenResults.WithLabelValues("timeout").Inc()
			}
			s.attempt++
			if s.attempt >= c.pol.MaxAttempts {
				return c.abandon(s, ReasonAttemptLimit)
			}
			c.announce(ctx, s, msgNoSpeech+" "+shortPrompt(s.cat))
			continue
		}

		metricListenResults.WithLabelValues("utterance").Inc()
		s.heard = append(s.heard, *u)
		c.store.AppendEvent(s.id, "utterance", map[string]any{"text": u.Text})
		c.setState(StateValidating)

		code := c.grammar.Parse(u.Text, s.cat)
		log.Printf("[lane] heard id=%s text=%q code=%s:%d", s.id, u.Text, code.Kind, code.Value)
		switch code.Kind {
		case menu.KindRepeat:
			s.repeats++
			if s.repeats >= c.pol.MaxRepeats {
				return c.abandon(s, ReasonRepeatLimit)
			}
			s.attempt = 0
			c.setState(StateAnnouncing)
			c.sync(s)
			c.announce(ctx, s, append([]string{msgRepeating}, menuSegments("", s.cat)...)...)
		case menu.KindCancel:
			return c.outcome(s, types.OutcomeCancelled, ReasonCustomerCancel, nil)
		case menu.KindSelect:
			item, _ := s.cat.Item(code.Value)
			return c.outcome(s, types.OutcomeConfirmed, ReasonSelected, &item)
		default:
			s.attempt++
			if s.attempt >= c.pol.MaxAttempts {
				return c.abandon(s, ReasonAttemptLimit)
			}
			c.announce(ctx, s, msgUnclear+" "+shortPrompt(s.cat))
		}
	}
}

// announce speaks segments in order. The first failure skips the rest; the
// dialogue carries on to listen.
func (c *Controller) announce(ctx context.Context, s *session, segments ...string) {
	for i, seg := range segments {
		if ctx.Err() != nil {
			return
		}
		if err := c.voice.Announce(ctx, seg); err != nil {
			metricAnnounceFailures.Inc()
			c.store.AppendEvent(s.id, "announce_failed", map[string]any{"segment": i, "error": err.Error()})
			log.Printf("[lane] announce failed id=%s segment=%d/%d err=%v", s.id, i+1, len(segments), err)
			return
		}
	}
}

func (c *Controller) sync(s *session) {
	st := c.State()
	c.store.UpdateSession(s.id, func(rec *types.Session) {
		rec.State = st
		rec.Attempt = s.attempt
		rec.RepeatsUsed = s.repeats
	})
}

func (c *Controller) abandon(s *session, reason string) types.OrderOutcome {
	return c.outcome(s, types.OutcomeAbandoned, reason, nil)
}

// outcome builds the immutable result. Slices are copied so the queue
// consumer owns everything it receives.
func (c *Controller) outcome(s *session, kind types.Outcome, reason string, item *menu.MenuItem) types.OrderOutcome {
	heard := make([]types.Utterance, len(s.heard))
	copy(heard, s.heard)
	o := types.OrderOutcome{
		SessionID:     s.id,
		LaneID:        c.laneID,
		VehicleSeq:    s.seq,
		Outcome:       kind,
		Reason:        reason,
		RawUtterances: heard,
		CreatedAt:     s.createdAt,
		CompletedAt:   time.Now().UTC(),
	}
	if item != nil {
		o.SelectedItem = &types.SelectedItem{Code: item.Code, Label: item.Label}
	}
	return o
}

// finish enters the terminal state once: it speaks the closing message,
// records the outcome and hands it off.
func (c *Controller) finish(parent context.Context, s *session, o types.OrderOutcome) {
	terminal := StateAbandoned
	switch o.Outcome {
	case types.OutcomeConfirmed:
		terminal = StateConfirmed
	case types.OutcomeCancelled:
		terminal = StateCancelled
	}
	c.setState(terminal)
	c.sync(s)

	// The session context may already be done; closing speech and hand-off
	// still need to run.
	base := context.WithoutCancel(parent)
	if o.Reason != ReasonShutdown {
		sctx, cancel := context.WithTimeout(base, terminalSpeechTimeout)
		switch o.Outcome {
		case types.OutcomeConfirmed:
			item, _ := s.cat.Item(o.SelectedItem.Code)
			c.announce(sctx, s, confirmSegments(s.seq, item)...)
		case types.OutcomeCancelled:
			c.announce(sctx, s, msgCancelled)
		default:
			c.announce(sctx, s, msgStaff)
		}
		cancel()
	}
	if o.SelectedItem != nil {
		o.OrderText = postprocess.Apply(base, c.format, o.SelectedItem.Label, c.pol.FormatTimeout)
	}

	c.store.AppendEvent(s.id, "outcome", map[string]any{"outcome": string(o.Outcome), "reason": o.Reason})
	c.store.FinishSession(s.id, o.Outcome, o.Reason, o.CompletedAt)
	metricSessions.WithLabelValues(string(o.Outcome), o.Reason).Inc()
	metricSessionDuration.Observe(o.CompletedAt.Sub(s.createdAt).Seconds())
	log.Printf("[lane] session_close id=%s car=%d outcome=%s reason=%s attempts=%d repeats=%d heard=%d",
		s.id, s.seq, o.Outcome, o.Reason, s.attempt, s.repeats, len(o.RawUtterances))

	if o.Outcome == types.OutcomeCancelled && !c.pol.PublishCancelled {
		return
	}
	pctx, cancel := context.WithTimeout(base, c.pol.PushTimeout)
	defer cancel()
	if err := c.queue.Push(pctx, o); err != nil {
		metricPushFailures.Inc()
		b, _ := json.Marshal(o)
		log.Printf("[lane] WARN hand-off failed id=%s err=%v outcome=%s", s.id, err, b)
	}
}
