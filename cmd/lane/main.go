package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"drivethru/lane/internal/api"
	"drivethru/lane/internal/auth"
	"drivethru/lane/internal/config"
	"drivethru/lane/internal/handoff"
	"drivethru/lane/internal/health"
	"drivethru/lane/internal/ledger"
	"drivethru/lane/internal/menu"
	"drivethru/lane/internal/natsbus"
	"drivethru/lane/internal/orchestrator"
	"drivethru/lane/internal/postprocess"
	"drivethru/lane/internal/presence"
	"drivethru/lane/internal/store"
	"drivethru/lane/internal/voice"
	"drivethru/lane/internal/workerproc"
	"drivethru/lane/internal/workerws"
)

const (
	grpcServiceName = "drivethru.lane"
	healthInterval  = 5 * time.Second
	drainTimeout    = 10 * time.Second
	workerTokenTTL  = 24 * time.Hour
)

func main() {
	// Load .env file if present (ignored if missing)
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[lane] config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[lane] invalid config: %v", err)
	}

	loadMenu := func() (*menu.Catalog, error) {
		if cfg.Menu.File != "" {
			return menu.LoadFile(cfg.Menu.File, cfg.Menu.MaxItems, cfg.Menu.CancelCode)
		}
		return menu.New(cfg.Menu.Items, cfg.Menu.MaxItems, cfg.Menu.CancelCode)
	}
	cat, err := loadMenu()
	if err != nil {
		log.Fatalf("[lane] menu: %v", err)
	}
	menus := menu.NewHolder(cat)
	log.Printf("[lane] menu loaded items=%d cancel=%d", cat.Len(), cat.CancelCode())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Presence
	var sensor presence.Sensor
	var toggle *presence.Toggle
	switch cfg.Presence.Sensor {
	case "gpio":
		g, err := presence.OpenGPIO(cfg.Presence.GPIOPin, cfg.Presence.ActiveLow)
		if err != nil {
			log.Fatalf("[lane] presence sensor: %v", err)
		}
		sensor = g
	default:
		toggle = &presence.Toggle{}
		sensor = toggle
	}
	window := cfg.Presence.DebounceSamples
	if cfg.Presence.DebounceDuration > 0 {
		window = presence.SamplesFor(cfg.Presence.DebounceDuration, cfg.Presence.PollInterval)
	}
	detector := presence.NewDetector(window)
	log.Printf("[lane] presence sensor=%s window=%d interval=%s", cfg.Presence.Sensor, window, cfg.Presence.PollInterval)

	// Voice backend, selected once for the life of the process
	var (
		ch       voice.Channel
		reg      *workerws.Registry
		workerWS http.HandlerFunc
	)
	switch cfg.Voice.Backend {
	case "worker":
		reg = workerws.NewRegistry()
		wch := workerws.NewChannel(reg, cfg.Lane.ID, cfg.Voice.AnnounceTimeout)
		wss := workerws.NewServer(cfg.Lane.ID, cfg.Worker.TokenSecret, cfg.Worker.TokenSkewSecs, reg, wch)
		workerWS = wss.HandleWorkerWS
		ch = wch
	case "console":
		ch = voice.NewConsole(os.Stdin, os.Stdout)
	default:
		log.Printf("[lane] WARN voice backend disabled, every session will be handed to staff")
		ch = voice.Unavailable{}
	}
	ch = voice.Instrument(cfg.Voice.Backend, ch)

	// Hand-off queue and its sinks
	policy, err := handoff.ParsePolicy(cfg.Handoff.FullPolicy)
	if err != nil {
		log.Fatalf("[lane] handoff: %v", err)
	}
	queue := handoff.NewQueue(cfg.Handoff.Capacity, policy)
	st := store.New(0)
	disp := handoff.NewDispatcher(queue)
	disp.Add("operator", handoff.LogSink{W: os.Stdout})
	disp.Add("board", st)

	checks := []health.Check{}
	if reg != nil {
		checks = append(checks, health.Bool("voice_worker", reg.Connected, "no voice worker connected"))
	}

	var led *ledger.Ledger
	if cfg.Ledger.Path != "" {
		led, err = ledger.Open(cfg.Ledger.Path)
		if err != nil {
			log.Fatalf("[lane] ledger: %v", err)
		}
		disp.Add("ledger", led)
		checks = append(checks, health.Check{Name: "ledger", Run: led.Ping})
	}

	var bus *natsbus.Publisher
	if cfg.NATS.URL != "" {
		bus, err = natsbus.NewPublisher(cfg.NATS.URL, cfg.NATS.Subject)
		if err != nil {
			log.Fatalf("[lane] nats: %v", err)
		}
		disp.Add("nats", bus)
		checks = append(checks, health.Bool("nats", bus.Connected, "nats disconnected"))
	}

	var formatter postprocess.Formatter
	if cfg.Ollama.BaseURL != "" {
		o := postprocess.NewOllama(cfg.Ollama.BaseURL, cfg.Ollama.Model, cfg.Ollama.Timeout)
		formatter = o
		checks = append(checks, health.Check{Name: "ollama", Run: o.HealthCheck})
	}
	ready := func(ctx context.Context) health.HealthStatus {
		return health.CheckAll(ctx, checks...)
	}

	ctrl, err := orchestrator.New(orchestrator.Options{
		LaneID:    cfg.Lane.ID,
		Voice:     ch,
		Menu:      menus,
		Queue:     queue,
		Store:     st,
		Formatter: formatter,
		Policy: orchestrator.Policy{
			VoiceTimeout:       cfg.Dialogue.VoiceTimeout,
			PhraseLimit:        cfg.Dialogue.PhraseLimit,
			MaxAttempts:        cfg.Dialogue.MaxAttempts,
			MaxRepeats:         cfg.Dialogue.MaxRepeats,
			MaxSessionDuration: cfg.Dialogue.MaxSessionDuration,
			AbandonOnDeparture: cfg.Dialogue.AbandonOnDeparture,
			PublishCancelled:   cfg.Dialogue.PublishCancelled,
			Greeting:           cfg.Dialogue.Greeting,
			FormatTimeout:      cfg.Ollama.Timeout,
		},
	})
	if err != nil {
		log.Fatalf("[lane] controller: %v", err)
	}

	// HTTP API
	h := api.NewHandlers(api.Deps{
		Lane:       ctrl,
		Store:      st,
		Ledger:     ledgerSource(led),
		Menu:       menus,
		ReloadMenu: loadMenu,
		Presence:   toggle,
		QueueDepth: queue.Len,
		Ready:      ready,
		WorkerWS:   workerWS,
	})
	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           logMiddleware(api.NewRouter(h)),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Printf("[api] server starting on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[api] server error: %v", err)
			stop()
		}
	}()

	// gRPC health
	gs := grpc.NewServer()
	hs := grpchealth.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	l, err := net.Listen("tcp", cfg.GRPC.Addr)
	if err != nil {
		log.Fatalf("[lane] grpc listen: %v", err)
	}
	go func() {
		log.Printf("[lane] grpc health listening on %s", cfg.GRPC.Addr)
		if err := gs.Serve(l); err != nil {
			log.Printf("[lane] grpc serve: %v", err)
		}
	}()
	go reportHealth(ctx, hs, ready)

	// Local voice worker
	if cfg.Worker.Cmd != "" && cfg.Voice.Backend == "worker" {
		wsURL := fmt.Sprintf("ws://127.0.0.1:%s/ws/worker", cfg.Server.Port)
		runner := workerproc.NewRunner(cfg.Worker.Cmd, func() map[string]string {
			token, err := auth.GenerateWorkerToken(cfg.Worker.TokenSecret, cfg.Lane.ID, time.Now().Add(workerTokenTTL).Unix())
			if err != nil {
				log.Printf("[worker] token mint failed: %v", err)
			}
			return map[string]string{
				"LANE_ID":           cfg.Lane.ID,
				"LANE_WS_URL":       wsURL,
				"LANE_WORKER_TOKEN": token,
			}
		}, nil)
		go func() {
			if err := runner.Run(ctx); err != nil {
				log.Printf("[worker] runner: %v", err)
			}
		}()
	}

	// Dispatcher drains the queue after the controller has stopped
	dispCtx, dispCancel := context.WithCancel(context.Background())
	defer dispCancel()
	dispDone := make(chan struct{})
	go func() {
		defer close(dispDone)
		if err := disp.Run(dispCtx); err != nil {
			log.Printf("[handoff] dispatcher stopped: %v", err)
		}
	}()

	edges := make(chan presence.Edge, 4)
	go detector.Run(ctx, sensor, cfg.Presence.PollInterval, edges)

	log.Printf("[lane] ready lane=%s voice=%s", cfg.Lane.ID, cfg.Voice.Backend)
	if err := ctrl.Run(ctx, edges); err != nil {
		log.Printf("[lane] controller: %v", err)
	}
	log.Printf("[lane] shutdown signal received; draining hand-off queue depth=%d", queue.Len())

	queue.Close()
	select {
	case <-dispDone:
	case <-time.After(drainTimeout):
		log.Printf("[handoff] WARN drain timed out depth=%d", queue.Len())
		dispCancel()
		<-dispDone
	}

	hs.Shutdown()
	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutCtx)
	gs.GracefulStop()

	if bus != nil {
		_ = bus.Close()
	}
	if led != nil {
		_ = led.Close()
	}
	log.Printf("[lane] stopped")
}

// ledgerSource avoids handing the API a typed nil.
func ledgerSource(l *ledger.Ledger) api.OutcomeSource {
	if l == nil {
		return nil
	}
	return l
}

func reportHealth(ctx context.Context, hs *grpchealth.Server, ready func(context.Context) health.HealthStatus) {
	t := time.NewTicker(healthInterval)
	defer t.Stop()
	for {
		cctx, cancel := context.WithTimeout(ctx, healthInterval)
		st := ready(cctx)
		cancel()
		status := healthpb.HealthCheckResponse_SERVING
		if !st.OK {
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
		hs.SetServingStatus("", status)
		hs.SetServingStatus(grpcServiceName, status)
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

func logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("[api] %s %s %s", r.Method, r.URL.Path, time.Since(start))
	})
}
