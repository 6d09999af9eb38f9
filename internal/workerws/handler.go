package workerws

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"drivethru/lane/internal/auth"

	ws "nhooyr.io/websocket"
)

// Server accepts the lane's voice worker.
type Server struct {
	LaneID   string
	Secret   string
	SkewSecs int
	Reg      *Registry
	Ch       *Channel
}

func NewServer(laneID, secret string, skewSecs int, reg *Registry, ch *Channel) *Server {
	return &Server{LaneID: laneID, Secret: secret, SkewSecs: skewSecs, Reg: reg, Ch: ch}
}

func (s *Server) HandleWorkerWS(w http.ResponseWriter, r *http.Request) {
	token, ok := auth.BearerToken(r.Header.Get("Authorization"))
	if !ok {
		http.Error(w, "missing bearer token", http.StatusUnauthorized)
		return
	}
	if s.Secret == "" {
		http.Error(w, "worker auth not configured", http.StatusUnauthorized)
		return
	}
	if _, _, err := auth.ValidateWorkerToken(s.Secret, token, s.LaneID, time.Now(), s.SkewSecs); err != nil {
		status := http.StatusUnauthorized
		if errors.Is(err, auth.ErrTokenLane) {
			status = http.StatusForbidden
		}
		http.Error(w, "invalid token", status)
		return
	}

	c, err := ws.Accept(w, r, nil)
	if err != nil {
		log.Printf("[worker] ws accept: %v", err)
		return
	}
	if s.Reg.Replace(c) {
		log.Printf("[worker] replaced previous worker connection lane=%s", s.LaneID)
		// Commands sent to the old worker will never be answered.
		s.Ch.FailPending()
	}
	log.Printf("[worker] connected lane=%s remote=%s", s.LaneID, r.RemoteAddr)

	ctx := r.Context()
	for {
		typ, data, err := c.Read(ctx)
		if err != nil {
			break
		}
		if typ != ws.MessageText && typ != ws.MessageBinary {
			continue
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("[worker] invalid message: %v", err)
			continue
		}
		switch msg.Type {
		case TypeHello:
			log.Printf("[worker] hello lane=%s payload=%v", s.LaneID, msg.Payload)
		case TypeError:
			if msg.CommandID == "" {
				log.Printf("[worker] error lane=%s message=%s", s.LaneID, msg.PayloadString("message"))
				continue
			}
			s.Ch.Deliver(msg)
		default:
			s.Ch.Deliver(msg)
		}
	}
	_ = c.Close(ws.StatusNormalClosure, "done")
	if s.Reg.Remove(c) {
		s.Ch.FailPending()
		log.Printf("[worker] disconnected lane=%s", s.LaneID)
	}
}
