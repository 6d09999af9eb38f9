package workerws

import "time"

// Message is the JSON frame exchanged with the voice worker in both
// directions. Replies carry the command_id of the command they answer.
type Message struct {
	Type      string         `json:"type"`
	TsMs      int64          `json:"ts_ms"`
	LaneID    string         `json:"lane_id,omitempty"`
	Seq       int64          `json:"seq"`
	CommandID string         `json:"command_id,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Lane -> worker.
const (
	TypeAnnounce = "announce"
	TypeListen   = "listen"
)

// Worker -> lane.
const (
	TypeHello         = "worker_hello"
	TypeAnnounceDone  = "announce_done"
	TypeUtterance     = "utterance"
	TypeListenTimeout = "listen_timeout"
	TypeError         = "error"
)

// PayloadString returns payload[key] when it is a string.
func (m Message) PayloadString(key string) string {
	if m.Payload == nil {
		return ""
	}
	s, _ := m.Payload[key].(string)
	return s
}

// PayloadTime reads a unix-millisecond payload field. JSON numbers decode
// as float64.
func (m Message) PayloadTime(key string) (time.Time, bool) {
	if m.Payload == nil {
		return time.Time{}, false
	}
	switch v := m.Payload[key].(type) {
	case float64:
		return time.UnixMilli(int64(v)), true
	case int64:
		return time.UnixMilli(v), true
	}
	return time.Time{}, false
}
