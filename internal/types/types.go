package types

import (
	"strconv"
	"time"
)

type Event struct {
	Type    string         `json:"type"`
	Ts      time.Time      `json:"timestamp"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Utterance is one unit of transcribed speech returned by a voice channel.
type Utterance struct {
	Text       string    `json:"text"`
	CapturedAt time.Time `json:"captured_at"`
}

type Outcome string

const (
	OutcomeConfirmed Outcome = "CONFIRMED"
	OutcomeCancelled Outcome = "CANCELLED"
	OutcomeAbandoned Outcome = "ABANDONED"
)

type SelectedItem struct {
	Code  int    `json:"code"`
	Label string `json:"label"`
}

// OrderOutcome is the finished result of one session. It is built once by the
// controller and owned by the hand-off consumer afterwards.
type OrderOutcome struct {
	SessionID     string        `json:"session_id"`
	LaneID        string        `json:"lane_id"`
	VehicleSeq    int           `json:"vehicle_seq"`
	Outcome       Outcome       `json:"outcome"`
	Reason        string        `json:"reason"`
	SelectedItem  *SelectedItem `json:"selected_item,omitempty"`
	OrderText     string        `json:"order_text,omitempty"`
	RawUtterances []Utterance   `json:"raw_utterances"`
	CreatedAt     time.Time     `json:"created_at"`
	CompletedAt   time.Time     `json:"completed_at"`
}

// OrderID is the human-facing reference shown on the operator screen.
func (o OrderOutcome) OrderID() string {
	return "Car " + strconv.Itoa(o.VehicleSeq)
}

// Session is the API view of a dialogue session.
type Session struct {
	ID          string    `json:"session_id"`
	LaneID      string    `json:"lane_id"`
	VehicleSeq  int       `json:"vehicle_seq"`
	State       string    `json:"state"`
	Attempt     int       `json:"attempt"`
	RepeatsUsed int       `json:"repeats_used"`
	CreatedAt   time.Time `json:"created_at"`
	LastEventAt time.Time `json:"last_event_at"`

	Outcome     Outcome    `json:"outcome,omitempty"`
	Reason      string     `json:"reason,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
