package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	ws "nhooyr.io/websocket"

	"drivethru/lane/internal/auth"
	"drivethru/lane/internal/workerws"
)

// script hands out scripted replies in order; "-" means the customer says
// nothing and the listen times out.
type script struct {
	mu      sync.Mutex
	replies []string
}

func newScript(raw string) *script {
	s := &script{}
	for _, r := range strings.Split(raw, ",") {
		if r = strings.TrimSpace(r); r != "" {
			s.replies = append(s.replies, r)
		}
	}
	return s
}

func (s *script) next() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.replies) == 0 {
		return "", false
	}
	r := s.replies[0]
	s.replies = s.replies[1:]
	return r, r != "-"
}

func main() {
	_ = godotenv.Load()

	base := flag.String("url", envOr("LANE_URL", "http://localhost:8080"), "lane HTTP base URL")
	laneID := flag.String("lane", envOr("LANE_ID", "lane-1"), "lane id")
	secret := flag.String("secret", os.Getenv("WORKER_TOKEN_SECRET"), "worker token secret")
	token := flag.String("token", os.Getenv("LANE_WORKER_TOKEN"), "pre-minted worker token (overrides -secret)")
	replies := flag.String("replies", "two", "comma separated replies, - for silence")
	arrive := flag.Bool("arrive", false, "poke /debug/presence/arrive after connecting")
	flag.Parse()

	if *token == "" {
		if *secret == "" {
			log.Fatalf("[sim] either -token or -secret is required")
		}
		t, err := auth.GenerateWorkerToken(*secret, *laneID, time.Now().Add(time.Hour).Unix())
		if err != nil {
			log.Fatalf("[sim] mint token: %v", err)
		}
		*token = t
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	wsURL := envOr("LANE_WS_URL", strings.Replace(*base, "http", "ws", 1)+"/ws/worker")
	c, _, err := ws.Dial(ctx, wsURL, &ws.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + *token}},
	})
	if err != nil {
		log.Fatalf("[sim] dial %s: %v", wsURL, err)
	}
	defer c.Close(ws.StatusNormalClosure, "bye")
	fmt.Printf("=== voice worker sim ===\nlane: %s\nws:   %s\n\n", *laneID, wsURL)

	sc := newScript(*replies)
	var seq int64
	send := func(m workerws.Message) {
		seq++
		m.Seq, m.LaneID, m.TsMs = seq, *laneID, time.Now().UnixMilli()
		b, _ := json.Marshal(m)
		if err := c.Write(ctx, ws.MessageText, b); err != nil {
			log.Printf("[sim] write %s: %v", m.Type, err)
		}
	}
	send(workerws.Message{Type: workerws.TypeHello, Payload: map[string]any{"backend": "sim"}})

	if *arrive {
		go poke(ctx, *base+"/debug/presence/arrive")
	}

	for {
		_, data, err := c.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Printf("[sim] read: %v", err)
			}
			return
		}
		var cmd workerws.Message
		if err := json.Unmarshal(data, &cmd); err != nil {
			log.Printf("[sim] bad frame: %v", err)
			continue
		}
		ts := time.Now().Format("15:04:05.000")
		switch cmd.Type {
		case workerws.TypeAnnounce:
			fmt.Printf("[%s] SPEAKER: %s\n", ts, cmd.PayloadString("text"))
			send(workerws.Message{Type: workerws.TypeAnnounceDone, CommandID: cmd.CommandID})
		case workerws.TypeListen:
			text, ok := sc.next()
			if !ok {
				fmt.Printf("[%s] MIC: (silence)\n", ts)
				send(workerws.Message{Type: workerws.TypeListenTimeout, CommandID: cmd.CommandID})
				continue
			}
			fmt.Printf("[%s] MIC: %q\n", ts, text)
			send(workerws.Message{Type: workerws.TypeUtterance, CommandID: cmd.CommandID, Payload: map[string]any{
				"text":           text,
				"captured_at_ms": time.Now().UnixMilli(),
			}})
		default:
			fmt.Printf("[%s] <- %s\n", ts, cmd.Type)
		}
	}
}

// poke raises presence once the worker is registered.
func poke(ctx context.Context, url string) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(300 * time.Millisecond):
	}
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Printf("[sim] arrive: %v", err)
		return
	}
	resp.Body.Close()
	fmt.Printf("[*] arrive -> %s\n", resp.Status)
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
