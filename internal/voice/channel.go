package voice

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"drivethru/lane/internal/types"
)

// ErrUnavailable reports that the speaker, microphone or recognizer behind a
// channel is down. It never means "nobody spoke".
var ErrUnavailable = errors.New("voice channel unavailable")

// Channel is the speech capability the lane controller talks to.
//
// Announce blocks until the text has been spoken. ListenOnce waits up to
// timeout for speech to start and up to phraseLimit while capturing it. A nil
// utterance with a nil error is a timeout.
type Channel interface {
	Announce(ctx context.Context, text string) error
	ListenOnce(ctx context.Context, timeout, phraseLimit time.Duration) (*types.Utterance, error)
}

var (
	dashSep  = regexp.MustCompile(`\s+-\s+`)
	colonSep = regexp.MustCompile(`:\s+`)
	spaces   = regexp.MustCompile(`\s+`)
)

// CleanForSpeech rewrites menu text so speech engines read it naturally.
func CleanForSpeech(text string) string {
	text = strings.ReplaceAll(text, "$", " dollars ")
	text = dashSep.ReplaceAllString(text, ". ")
	text = colonSep.ReplaceAllString(text, ". ")
	return strings.TrimSpace(spaces.ReplaceAllString(text, " "))
}
