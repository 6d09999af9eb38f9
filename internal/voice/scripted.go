package voice

import (
	"context"
	"sync"
	"time"

	"drivethru/lane/internal/types"
)

// Reply is one scripted response to ListenOnce. Timeout yields (nil, nil);
// Err is returned as is.
type Reply struct {
	Text    string
	Timeout bool
	Err     error
}

func Say(text string) Reply { return Reply{Text: text} }

func Silence() Reply { return Reply{Timeout: true} }

// Scripted is an in-memory channel that replays a fixed list of replies and
// records everything announced. An exhausted script behaves as silence.
type Scripted struct {
	mu          sync.Mutex
	replies     []Reply
	announced   []string
	listens     int
	AnnounceErr error
}

func NewScripted(replies ...Reply) *Scripted {
	return &Scripted{replies: replies}
}

// Push appends replies to the script.
func (s *Scripted) Push(replies ...Reply) {
	s.mu.Lock()
	s.replies = append(s.replies, replies...)
	s.mu.Unlock()
}

func (s *Scripted) Announce(ctx context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.announced = append(s.announced, text)
	return s.AnnounceErr
}

func (s *Scripted) ListenOnce(ctx context.Context, timeout, phraseLimit time.Duration) (*types.Utterance, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listens++
	if len(s.replies) == 0 {
		return nil, nil
	}
	r := s.replies[0]
	s.replies = s.replies[1:]
	switch {
	case r.Err != nil:
		return nil, r.Err
	case r.Timeout:
		return nil, nil
	}
	return &types.Utterance{Text: r.Text, CapturedAt: time.Now()}, nil
}

// Announced returns a copy of every announced text in order.
func (s *Scripted) Announced() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.announced))
	copy(out, s.announced)
	return out
}

// Listens is the number of ListenOnce calls made.
func (s *Scripted) Listens() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listens
}

// Unavailable is the degraded backend used when no voice engine could be
// started. Every call fails with ErrUnavailable.
type Unavailable struct{}

func (Unavailable) Announce(context.Context, string) error { return ErrUnavailable }

func (Unavailable) ListenOnce(context.Context, time.Duration, time.Duration) (*types.Utterance, error) {
	return nil, ErrUnavailable
}
