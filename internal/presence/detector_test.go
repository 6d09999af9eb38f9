package presence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func feed(d *Detector, samples ...bool) []EdgeKind {
	var out []EdgeKind
	for _, s := range samples {
		if e, ok := d.Step(s); ok {
			out = append(out, e.Kind)
		}
	}
	return out
}

func TestDetectorDebouncesChatter(t *testing.T) {
	d := NewDetector(3)

	// Noise shorter than the window never produces an edge.
	got := feed(d, true, false, true, true, false, true, false)
	if len(got) != 0 {
		t.Fatalf("expected no edges from chatter, got %v", got)
	}
	if d.Present() {
		t.Fatal("should still be absent")
	}

	got = feed(d, true, true, true)
	if len(got) != 1 || got[0] != Arrived {
		t.Fatalf("expected single Arrived, got %v", got)
	}
}

func TestDetectorOneEdgePerPresence(t *testing.T) {
	d := NewDetector(2)
	samples := []bool{
		true, true, true, false, true, true, true, // car inching forward
		false, false, false, true, false, false, // clears with a blip
	}
	got := feed(d, samples...)
	if len(got) != 2 || got[0] != Arrived || got[1] != Departed {
		t.Fatalf("expected [ARRIVED DEPARTED], got %v", got)
	}
}

func TestDetectorWindowOne(t *testing.T) {
	d := NewDetector(0)
	got := feed(d, true, false)
	if len(got) != 2 {
		t.Fatalf("window 1 should pass every change, got %v", got)
	}
}

func TestSamplesFor(t *testing.T) {
	cases := []struct {
		d, interval time.Duration
		want        int
	}{
		{500 * time.Millisecond, 100 * time.Millisecond, 5},
		{550 * time.Millisecond, 100 * time.Millisecond, 6},
		{50 * time.Millisecond, 100 * time.Millisecond, 1},
		{0, 100 * time.Millisecond, 1},
		{time.Second, 0, 1},
	}
	for _, tc := range cases {
		if got := SamplesFor(tc.d, tc.interval); got != tc.want {
			t.Errorf("SamplesFor(%v, %v) = %d, want %d", tc.d, tc.interval, got, tc.want)
		}
	}
}

type flakySensor struct {
	mu    sync.Mutex
	reads []bool
	errAt map[int]bool
	n     int
}

func (f *flakySensor) Read() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.n
	f.n++
	if f.errAt[i] {
		return false, errors.New("bus error")
	}
	if i < len(f.reads) {
		return f.reads[i], nil
	}
	return f.reads[len(f.reads)-1], nil
}

func TestRunHoldsLastValueOnError(t *testing.T) {
	// The sensor only ever reports true twice; the two failed reads that
	// follow must count as true for the window of 4 to fill.
	s := &flakySensor{reads: []bool{true, true, false, false, false}, errAt: map[int]bool{2: true, 3: true}}
	d := NewDetector(4)
	out := make(chan Edge, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx, s, time.Millisecond, out)

	select {
	case e := <-out:
		if e.Kind != Arrived {
			t.Fatalf("expected Arrived, got %s", e.Kind)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for arrival")
	}
	cancel()
	for range out {
	}
}

func TestRunNeverBlocksOnFullChannel(t *testing.T) {
	tog := &Toggle{}
	d := NewDetector(1)
	out := make(chan Edge) // unbuffered, nobody reading
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx, tog, time.Millisecond, out)
		close(done)
	}()

	tog.Set(true)
	time.Sleep(20 * time.Millisecond)
	tog.Set(false)
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run blocked on a full edge channel")
	}
}

func TestRunRetriesArrivalWhenChannelFull(t *testing.T) {
	tog := &Toggle{}
	d := NewDetector(1)
	out := make(chan Edge)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx, tog, time.Millisecond, out)

	tog.Set(true)
	time.Sleep(30 * time.Millisecond) // nobody reading while the edge fires

	select {
	case e := <-out:
		if e.Kind != Arrived {
			t.Fatalf("expected the held arrival, got %s", e.Kind)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("arrival was lost while the channel was full")
	}
	select {
	case e := <-out:
		t.Fatalf("arrival must be delivered once, got extra %s", e.Kind)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestRunDropsHeldArrivalAfterDeparture(t *testing.T) {
	tog := &Toggle{}
	d := NewDetector(1)
	out := make(chan Edge)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx, tog, time.Millisecond, out)

	tog.Set(true)
	time.Sleep(20 * time.Millisecond)
	tog.Set(false)
	time.Sleep(20 * time.Millisecond)

	select {
	case e := <-out:
		t.Fatalf("no edge expected for a vehicle that left unseen, got %s", e.Kind)
	case <-time.After(30 * time.Millisecond):
	}

	tog.Set(true)
	select {
	case e := <-out:
		if e.Kind != Arrived {
			t.Fatalf("expected the next arrival, got %s", e.Kind)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("next arrival was not delivered")
	}
}

func TestToggle(t *testing.T) {
	var tog Toggle
	if v, _ := tog.Read(); v {
		t.Fatal("zero Toggle should read false")
	}
	tog.Set(true)
	if v, err := tog.Read(); !v || err != nil {
		t.Fatalf("expected true,nil got %v,%v", v, err)
	}
}
