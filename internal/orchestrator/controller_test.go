package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"drivethru/lane/internal/handoff"
	"drivethru/lane/internal/menu"
	"drivethru/lane/internal/postprocess"
	"drivethru/lane/internal/presence"
	"drivethru/lane/internal/store"
	"drivethru/lane/internal/types"
	"drivethru/lane/internal/voice"
)

type rig struct {
	c     *Controller
	q     *handoff.Queue
	st    *store.Store
	voice voice.Channel
}

func newRig(t *testing.T, ch voice.Channel, pol Policy, labels ...string) *rig {
	t.Helper()
	if len(labels) == 0 {
		labels = []string{"A", "B", "C"}
	}
	cat, err := menu.New(labels, 5, 6)
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	q := handoff.NewQueue(0, handoff.Block)
	st := store.New(50)
	c, err := New(Options{LaneID: "lane-t", Voice: ch, Menu: menu.NewHolder(cat), Queue: q, Store: st, Policy: pol})
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	return &rig{c: c, q: q, st: st, voice: ch}
}

func testPolicy() Policy {
	p := DefaultPolicy()
	p.Greeting = "Welcome."
	return p
}

func (r *rig) drain(t *testing.T) []types.OrderOutcome {
	t.Helper()
	var out []types.OrderOutcome
	for r.q.Len() > 0 {
		o, err := r.q.Pop(context.Background())
		if err != nil {
			t.Fatalf("pop: %v", err)
		}
		out = append(out, o)
	}
	return out
}

func count(list []string, sub string) int {
	n := 0
	for _, s := range list {
		if strings.Contains(s, sub) {
			n++
		}
	}
	return n
}

func TestRepeatThenSelect(t *testing.T) {
	v := voice.NewScripted(voice.Say("zero"), voice.Say("two"))
	r := newRig(t, v, testPolicy())

	o, err := r.c.RunSession(context.Background())
	if err != nil {
		t.Fatalf("run session: %v", err)
	}
	if o.Outcome != types.OutcomeConfirmed || o.SelectedItem == nil || o.SelectedItem.Label != "B" {
		t.Fatalf("expected CONFIRMED B, got %+v", o)
	}
	if got := count(v.Announced(), "Number two. B"); got != 2 {
		t.Fatalf("expected full menu twice, item B announced %d times", got)
	}
	if len(o.RawUtterances) != 2 || o.RawUtterances[0].Text != "zero" {
		t.Fatalf("unexpected utterances %+v", o.RawUtterances)
	}

	pushed := r.drain(t)
	if len(pushed) != 1 || pushed[0].Outcome != types.OutcomeConfirmed || pushed[0].SelectedItem.Label != "B" {
		t.Fatalf("expected one confirmed outcome, got %+v", pushed)
	}
	if r.c.State() != StateIdle {
		t.Fatalf("controller should be idle, got %s", r.c.State())
	}
	rec, ok := r.st.GetSession(o.SessionID)
	if !ok || rec.RepeatsUsed != 1 || rec.State != StateConfirmed {
		t.Fatalf("unexpected record %+v", rec)
	}
}

func TestTimeoutsAbandon(t *testing.T) {
	v := voice.NewScripted(voice.Silence(), voice.Silence(), voice.Silence(), voice.Say("two"))
	r := newRig(t, v, testPolicy())

	o, _ := r.c.RunSession(context.Background())
	if o.Outcome != types.OutcomeAbandoned || o.SelectedItem != nil || o.Reason != ReasonAttemptLimit {
		t.Fatalf("expected ABANDONED attempt_limit, got %+v", o)
	}
	if v.Listens() != 3 {
		t.Fatalf("expected 3 listens, got %d", v.Listens())
	}
	ann := v.Announced()
	if count(ann, msgNoSpeech) != 2 {
		t.Fatalf("expected 2 short reprompts, got %v", ann)
	}
	if count(ann, "Number one.") != 1 {
		t.Fatal("reprompt must not replay the full menu")
	}
	if !strings.Contains(ann[len(ann)-1], "team member") {
		t.Fatalf("expected staff hand-off message last, got %q", ann[len(ann)-1])
	}
	if pushed := r.drain(t); len(pushed) != 1 || pushed[0].Outcome != types.OutcomeAbandoned {
		t.Fatalf("expected one abandoned outcome, got %+v", pushed)
	}
}

func TestCancelImmediately(t *testing.T) {
	v := voice.NewScripted(voice.Say("six"))
	r := newRig(t, v, testPolicy())

	o, _ := r.c.RunSession(context.Background())
	if o.Outcome != types.OutcomeCancelled || o.Reason != ReasonCustomerCancel || o.SelectedItem != nil {
		t.Fatalf("expected CANCELLED, got %+v", o)
	}
	rec, _ := r.st.GetSession(o.SessionID)
	if rec.Attempt != 0 || rec.RepeatsUsed != 0 {
		t.Fatalf("cancel must not touch counters: %+v", rec)
	}
	ann := v.Announced()
	if ann[len(ann)-1] != msgCancelled {
		t.Fatalf("expected cancellation message, got %q", ann[len(ann)-1])
	}
	if pushed := r.drain(t); len(pushed) != 1 || pushed[0].Outcome != types.OutcomeCancelled {
		t.Fatalf("expected one cancelled outcome, got %+v", pushed)
	}
}

func TestCancelledNotPublished(t *testing.T) {
	pol := testPolicy()
	pol.PublishCancelled = false
	r := newRig(t, voice.NewScripted(voice.Say("cancel please")), pol)

	o, _ := r.c.RunSession(context.Background())
	if o.Outcome != types.OutcomeCancelled {
		t.Fatalf("expected CANCELLED, got %s", o.Outcome)
	}
	if r.q.Len() != 0 {
		t.Fatal("cancelled outcome should not be queued")
	}
	if rec, ok := r.st.GetSession(o.SessionID); !ok || rec.Outcome != types.OutcomeCancelled {
		t.Fatal("store should still record the cancelled session")
	}
}

func TestDigitAndWordSameTransition(t *testing.T) {
	run := func(text string) types.OrderOutcome {
		r := newRig(t, voice.NewScripted(voice.Say(text)), testPolicy())
		o, _ := r.c.RunSession(context.Background())
		return o
	}
	a := run("I'll have number 2 please")
	b := run("I'll have number two please")
	if a.Outcome != b.Outcome || a.SelectedItem == nil || b.SelectedItem == nil || *a.SelectedItem != *b.SelectedItem {
		t.Fatalf("digit and word forms diverged: %+v vs %+v", a, b)
	}
}

func TestRepeatLimit(t *testing.T) {
	pol := testPolicy()
	pol.MaxRepeats = 2
	r := newRig(t, voice.NewScripted(voice.Say("repeat"), voice.Say("again"), voice.Say("one")), pol)

	o, _ := r.c.RunSession(context.Background())
	if o.Outcome != types.OutcomeAbandoned || o.Reason != ReasonRepeatLimit {
		t.Fatalf("expected repeat_limit abandonment, got %+v", o)
	}
}

func TestBoundedUnderAnyInput(t *testing.T) {
	scripts := [][]voice.Reply{
		{voice.Say("hmm"), voice.Say("what"), voice.Say("uh")},
		{voice.Say("zero"), voice.Silence(), voice.Silence(), voice.Say("zero"), voice.Say("nope"), voice.Say("zero")},
		{voice.Reply{Err: voice.ErrUnavailable}, voice.Say("blah"), voice.Silence()},
	}
	pol := testPolicy()
	limit := pol.MaxAttempts * pol.MaxRepeats
	for i, sc := range scripts {
		// An endless stream of noise after the script.
		noise := make([]voice.Reply, 100)
		for j := range noise {
			noise[j] = voice.Say("noise")
		}
		v := voice.NewScripted(append(sc, noise...)...)
		r := newRig(t, v, pol)
		o, _ := r.c.RunSession(context.Background())
		if o.Outcome != types.OutcomeAbandoned {
			t.Fatalf("script %d: expected ABANDONED, got %+v", i, o)
		}
		if v.Listens() > limit {
			t.Fatalf("script %d: %d listens exceeds bound %d", i, v.Listens(), limit)
		}
	}
}

func TestUnavailableVoiceDegradesToStaff(t *testing.T) {
	r := newRig(t, voice.Unavailable{}, testPolicy())
	o, err := r.c.RunSession(context.Background())
	if err != nil {
		t.Fatalf("session must not fail: %v", err)
	}
	if o.Outcome != types.OutcomeAbandoned || o.Reason != ReasonAttemptLimit {
		t.Fatalf("expected attempt_limit abandonment, got %+v", o)
	}
}

func TestAnnounceFailureStillListens(t *testing.T) {
	v := voice.NewScripted(voice.Say("three"))
	v.AnnounceErr = errors.New("speaker unplugged")
	r := newRig(t, v, testPolicy())

	o, _ := r.c.RunSession(context.Background())
	if o.Outcome != types.OutcomeConfirmed || o.SelectedItem.Label != "C" {
		t.Fatalf("expected CONFIRMED C, got %+v", o)
	}
	// Only the first segment of each announcement is attempted.
	if n := len(v.Announced()); n != 2 {
		t.Fatalf("expected 2 announce attempts (menu, confirmation), got %d", n)
	}
}

func TestOrderTextPostProcessed(t *testing.T) {
	cat, _ := menu.New([]string{"Number 1: Wings - $4"}, 5, 6)
	q := handoff.NewQueue(0, handoff.Block)
	c, err := New(Options{
		Voice:     voice.NewScripted(voice.Say("one")),
		Menu:      menu.NewHolder(cat),
		Queue:     q,
		Formatter: postprocess.Func(func(s string) string { return "1x " + s }),
		Policy:    testPolicy(),
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := c.RunSession(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	o, _ := q.Pop(context.Background())
	if o.OrderText != "1x Number 1: Wings - $4" {
		t.Fatalf("unexpected order text %q", o.OrderText)
	}
}

func TestFIFOAcrossSessions(t *testing.T) {
	v := voice.NewScripted(
		voice.Say("one"),
		voice.Silence(), voice.Silence(), voice.Silence(),
		voice.Say("six"),
		voice.Say("zero"), voice.Say("three"),
	)
	r := newRig(t, v, testPolicy())
	want := []types.Outcome{types.OutcomeConfirmed, types.OutcomeAbandoned, types.OutcomeCancelled, types.OutcomeConfirmed}
	for range want {
		if _, err := r.c.RunSession(context.Background()); err != nil {
			t.Fatalf("run: %v", err)
		}
	}
	got := r.drain(t)
	if len(got) != len(want) {
		t.Fatalf("expected %d outcomes, got %d", len(want), len(got))
	}
	for i, o := range got {
		if o.Outcome != want[i] || o.VehicleSeq != i+1 {
			t.Fatalf("position %d: got %s car=%d, want %s car=%d", i, o.Outcome, o.VehicleSeq, want[i], i+1)
		}
	}
}

// blockingVoice answers announcements immediately and holds every listen
// until the context ends.
type blockingVoice struct {
	listening chan struct{}
	once      sync.Once
}

func newBlockingVoice() *blockingVoice { return &blockingVoice{listening: make(chan struct{})} }

func (b *blockingVoice) Announce(context.Context, string) error { return nil }

func (b *blockingVoice) ListenOnce(ctx context.Context, _, _ time.Duration) (*types.Utterance, error) {
	b.once.Do(func() { close(b.listening) })
	<-ctx.Done()
	return nil, nil
}

func waitListening(t *testing.T, b *blockingVoice) {
	t.Helper()
	select {
	case <-b.listening:
	case <-time.After(2 * time.Second):
		t.Fatal("session never started listening")
	}
}

func popWithin(t *testing.T, q *handoff.Queue) types.OrderOutcome {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	o, err := q.Pop(ctx)
	if err != nil {
		t.Fatalf("pop: %v", err)
	}
	return o
}

func TestSingleFlight(t *testing.T) {
	b := newBlockingVoice()
	r := newRig(t, b, testPolicy())
	edges := make(chan presence.Edge, 8)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.c.Run(ctx, edges) }()

	edges <- presence.Edge{Kind: presence.Arrived, At: time.Now()}
	waitListening(t, b)
	edges <- presence.Edge{Kind: presence.Arrived, At: time.Now()}
	edges <- presence.Edge{Kind: presence.Arrived, At: time.Now()}

	if _, err := r.c.RunSession(context.Background()); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy while a session is active, got %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if n := len(r.st.ListSessions()); n != 1 {
		t.Fatalf("expected exactly one session, got %d", n)
	}
	if st := r.c.State(); st != StateAwaiting {
		t.Fatalf("expected AWAITING_RESPONSE, got %s", st)
	}

	cancel()
	o := popWithin(t, r.q)
	if o.Outcome != types.OutcomeAbandoned || o.Reason != ReasonShutdown {
		t.Fatalf("expected shutdown abandonment, got %+v", o)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if n := len(r.st.ListSessions()); n != 1 {
		t.Fatalf("ignored arrivals created sessions: %d", n)
	}
}

func TestDepartureAbandonsWhenConfigured(t *testing.T) {
	b := newBlockingVoice()
	pol := testPolicy()
	pol.AbandonOnDeparture = true
	r := newRig(t, b, pol)
	edges := make(chan presence.Edge, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.c.Run(ctx, edges)

	edges <- presence.Edge{Kind: presence.Arrived, At: time.Now()}
	waitListening(t, b)
	edges <- presence.Edge{Kind: presence.Departed, At: time.Now()}

	o := popWithin(t, r.q)
	if o.Outcome != types.OutcomeAbandoned || o.Reason != ReasonDeparted {
		t.Fatalf("expected departed abandonment, got %+v", o)
	}
}

// gatedVoice holds the first listen until release is closed, then hears text.
type gatedVoice struct {
	listening chan struct{}
	release   chan struct{}
	text      string
	once      sync.Once
}

func (g *gatedVoice) Announce(context.Context, string) error { return nil }

func (g *gatedVoice) ListenOnce(ctx context.Context, _, _ time.Duration) (*types.Utterance, error) {
	g.once.Do(func() { close(g.listening) })
	select {
	case <-g.release:
		return &types.Utterance{Text: g.text, CapturedAt: time.Now()}, nil
	case <-ctx.Done():
		return nil, nil
	}
}

func hasEvent(st *store.Store, id, typ string) bool {
	for _, e := range st.ListEvents(id) {
		if e.Type == typ {
			return true
		}
	}
	return false
}

func TestDepartureToleratedByDefault(t *testing.T) {
	g := &gatedVoice{listening: make(chan struct{}), release: make(chan struct{}), text: "two"}
	r := newRig(t, g, testPolicy())
	edges := make(chan presence.Edge, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.c.Run(ctx, edges)

	edges <- presence.Edge{Kind: presence.Arrived, At: time.Now()}
	select {
	case <-g.listening:
	case <-time.After(2 * time.Second):
		t.Fatal("session never started listening")
	}
	sid := r.c.Status().SessionID
	edges <- presence.Edge{Kind: presence.Departed, At: time.Now()}

	deadline := time.Now().Add(2 * time.Second)
	for !hasEvent(r.st, sid, "vehicle_departed") {
		if time.Now().After(deadline) {
			t.Fatal("departure was not recorded on the session")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if st := r.c.State(); st != StateAwaiting {
		t.Fatalf("departure must not end the session, state=%s", st)
	}
	if n := r.q.Len(); n != 0 {
		t.Fatalf("nothing should be handed off yet, queue=%d", n)
	}

	close(g.release)
	o := popWithin(t, r.q)
	if o.Outcome != types.OutcomeConfirmed || o.SelectedItem == nil || o.SelectedItem.Label != "B" || o.SessionID != sid {
		t.Fatalf("expected the same session to confirm B, got %+v", o)
	}
}

func TestDepartureWithoutSessionIsNoop(t *testing.T) {
	v := voice.NewScripted(voice.Say("two"))
	r := newRig(t, v, testPolicy())
	r.c.onDeparted()

	o, _ := r.c.RunSession(context.Background())
	if o.Outcome != types.OutcomeConfirmed {
		t.Fatalf("expected CONFIRMED, got %+v", o)
	}
}

func TestSessionDeadline(t *testing.T) {
	pol := testPolicy()
	pol.MaxSessionDuration = 30 * time.Millisecond
	r := newRig(t, newBlockingVoice(), pol)

	o, _ := r.c.RunSession(context.Background())
	if o.Outcome != types.OutcomeAbandoned || o.Reason != ReasonSessionDeadline {
		t.Fatalf("expected session_deadline abandonment, got %+v", o)
	}
	if r.c.State() != StateIdle {
		t.Fatalf("controller should return to IDLE, got %s", r.c.State())
	}
}

func TestNewValidatesOptions(t *testing.T) {
	cat, _ := menu.New([]string{"A"}, 5, 6)
	q := handoff.NewQueue(0, handoff.Block)
	if _, err := New(Options{Menu: menu.NewHolder(cat), Queue: q}); err == nil {
		t.Fatal("expected error without voice")
	}
	if _, err := New(Options{Voice: voice.Unavailable{}, Queue: q}); err == nil {
		t.Fatal("expected error without menu")
	}
	if _, err := New(Options{Voice: voice.Unavailable{}, Menu: menu.NewHolder(cat)}); err == nil {
		t.Fatal("expected error without queue")
	}
}

func TestPrompts(t *testing.T) {
	cat, _ := menu.New([]string{"A", "B", "C"}, 5, 6)
	if got := choiceList(3); got != "1, 2, or 3" {
		t.Fatalf("choiceList(3) = %q", got)
	}
	if got := choiceList(2); got != "1 or 2" {
		t.Fatalf("choiceList(2) = %q", got)
	}
	segs := menuSegments("Hi.", cat)
	if len(segs) != 5 || segs[0] != "Hi." || !strings.Contains(segs[4], "Say 6 to cancel") {
		t.Fatalf("unexpected segments %q", segs)
	}
	conf := confirmSegments(21, menu.MenuItem{Code: 2, Label: "Number 2: B"})
	if conf[0] != "Order confirmed. Car number twenty one." || conf[1] != "Your order is. B." {
		t.Fatalf("unexpected confirmation %q", conf)
	}
}
