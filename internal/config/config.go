package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server struct {
		Port     string
		LogLevel string
	}
	GRPC struct {
		Addr string
	}
	Lane struct {
		ID string
	}
	Menu struct {
		File       string
		Items      []string
		MaxItems   int
		CancelCode int
	}
	Dialogue struct {
		VoiceTimeout       time.Duration
		PhraseLimit        time.Duration
		MaxAttempts        int
		MaxRepeats         int
		MaxSessionDuration time.Duration
		AbandonOnDeparture bool
		PublishCancelled   bool
		Greeting           string
	}
	Presence struct {
		Sensor           string
		GPIOPin          string
		ActiveLow        bool
		PollInterval     time.Duration
		DebounceSamples  int
		DebounceDuration time.Duration
	}
	Voice struct {
		Backend         string
		AnnounceTimeout time.Duration
	}
	Handoff struct {
		Capacity   int
		FullPolicy string
	}
	Ledger struct {
		Path string
	}
	NATS struct {
		URL     string
		Subject string
	}
	Ollama struct {
		BaseURL string
		Model   string
		Timeout time.Duration
	}
	Worker struct {
		TokenSecret   string
		TokenSkewSecs int
		Cmd           string
	}
}

// Load reads configuration from the environment, and from the YAML file
// named by LANE_CONFIG when set. Environment values win over the file.
func Load() (Config, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("grpc.addr", ":9090")
	v.SetDefault("lane.id", "lane-1")

	v.SetDefault("menu.max_items", 5)
	v.SetDefault("menu.cancel_code", 6)

	v.SetDefault("dialogue.voice_timeout", "8s")
	v.SetDefault("dialogue.phrase_limit", "30s")
	v.SetDefault("dialogue.max_attempts", 3)
	v.SetDefault("dialogue.max_repeats", 3)
	v.SetDefault("dialogue.max_session_duration", "5m")
	v.SetDefault("dialogue.abandon_on_departure", false)
	v.SetDefault("dialogue.publish_cancelled", true)
	v.SetDefault("dialogue.greeting", "Welcome to the drive thru. These are the specials of the day.")

	v.SetDefault("presence.sensor", "sim")
	v.SetDefault("presence.gpio_pin", "GPIO18")
	v.SetDefault("presence.active_low", false)
	v.SetDefault("presence.poll_interval", "100ms")
	v.SetDefault("presence.debounce_samples", 5)
	v.SetDefault("presence.debounce_duration", "0s")

	v.SetDefault("voice.backend", "worker")
	v.SetDefault("voice.announce_timeout", "60s")

	v.SetDefault("handoff.capacity", 0)
	v.SetDefault("handoff.full_policy", "block")

	v.SetDefault("ollama.model", "llama2")
	v.SetDefault("ollama.timeout", "3s")

	v.SetDefault("worker.token_skew_secs", 60)

	// Map envs
	v.BindEnv("server.port", "PORT")
	v.BindEnv("server.log_level", "LOG_LEVEL")
	v.BindEnv("grpc.addr", "GRPC_ADDR")
	v.BindEnv("lane.id", "LANE_ID")

	v.BindEnv("menu.file", "MENU_FILE")
	v.BindEnv("menu.items", "MENU_ITEMS")
	v.BindEnv("menu.max_items", "MENU_MAX_ITEMS")
	v.BindEnv("menu.cancel_code", "MENU_CANCEL_CODE")

	v.BindEnv("dialogue.voice_timeout", "DIALOGUE_VOICE_TIMEOUT")
	v.BindEnv("dialogue.phrase_limit", "DIALOGUE_PHRASE_LIMIT")
	v.BindEnv("dialogue.max_attempts", "DIALOGUE_MAX_ATTEMPTS")
	v.BindEnv("dialogue.max_repeats", "DIALOGUE_MAX_REPEATS")
	v.BindEnv("dialogue.max_session_duration", "DIALOGUE_MAX_SESSION_DURATION")
	v.BindEnv("dialogue.abandon_on_departure", "DIALOGUE_ABANDON_ON_DEPARTURE")
	v.BindEnv("dialogue.publish_cancelled", "DIALOGUE_PUBLISH_CANCELLED")
	v.BindEnv("dialogue.greeting", "DIALOGUE_GREETING")

	v.BindEnv("presence.sensor", "PRESENCE_SENSOR")
	v.BindEnv("presence.gpio_pin", "PRESENCE_GPIO_PIN")
	v.BindEnv("presence.active_low", "PRESENCE_ACTIVE_LOW")
	v.BindEnv("presence.poll_interval", "PRESENCE_POLL_INTERVAL")
	v.BindEnv("presence.debounce_samples", "PRESENCE_DEBOUNCE_SAMPLES")
	v.BindEnv("presence.debounce_duration", "PRESENCE_DEBOUNCE_DURATION")

	v.BindEnv("voice.backend", "VOICE_BACKEND")
	v.BindEnv("voice.announce_timeout", "VOICE_ANNOUNCE_TIMEOUT")

	v.BindEnv("handoff.capacity", "HANDOFF_CAPACITY")
	v.BindEnv("handoff.full_policy", "HANDOFF_FULL_POLICY")

	v.BindEnv("ledger.path", "LEDGER_PATH")
	v.BindEnv("nats.url", "NATS_URL")
	v.BindEnv("nats.subject", "NATS_SUBJECT")

	v.BindEnv("ollama.base_url", "OLLAMA_BASE_URL")
	v.BindEnv("ollama.model", "OLLAMA_MODEL")
	v.BindEnv("ollama.timeout", "OLLAMA_TIMEOUT")

	v.BindEnv("worker.token_secret", "WORKER_TOKEN_SECRET")
	v.BindEnv("worker.token_skew_secs", "WORKER_TOKEN_SKEW_SECS")
	v.BindEnv("worker.cmd", "WORKER_CMD")

	v.BindEnv("config_file", "LANE_CONFIG")
	if f := v.GetString("config_file"); f != "" {
		v.SetConfigFile(f)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", f, err)
		}
	}

	var c Config
	c.Server.Port = toString(v.Get("server.port"))
	c.Server.LogLevel = v.GetString("server.log_level")
	c.GRPC.Addr = v.GetString("grpc.addr")
	c.Lane.ID = v.GetString("lane.id")

	c.Menu.File = v.GetString("menu.file")
	c.Menu.Items = splitItems(v.Get("menu.items"))
	c.Menu.MaxItems = v.GetInt("menu.max_items")
	c.Menu.CancelCode = v.GetInt("menu.cancel_code")

	c.Dialogue.VoiceTimeout = v.GetDuration("dialogue.voice_timeout")
	c.Dialogue.PhraseLimit = v.GetDuration("dialogue.phrase_limit")
	c.Dialogue.MaxAttempts = v.GetInt("dialogue.max_attempts")
	c.Dialogue.MaxRepeats = v.GetInt("dialogue.max_repeats")
	c.Dialogue.MaxSessionDuration = v.GetDuration("dialogue.max_session_duration")
	c.Dialogue.AbandonOnDeparture = v.GetBool("dialogue.abandon_on_departure")
	c.Dialogue.PublishCancelled = v.GetBool("dialogue.publish_cancelled")
	c.Dialogue.Greeting = v.GetString("dialogue.greeting")

	c.Presence.Sensor = v.GetString("presence.sensor")
	c.Presence.GPIOPin = v.GetString("presence.gpio_pin")
	c.Presence.ActiveLow = v.GetBool("presence.active_low")
	c.Presence.PollInterval = v.GetDuration("presence.poll_interval")
	c.Presence.DebounceSamples = v.GetInt("presence.debounce_samples")
	c.Presence.DebounceDuration = v.GetDuration("presence.debounce_duration")

	c.Voice.Backend = v.GetString("voice.backend")
	c.Voice.AnnounceTimeout = v.GetDuration("voice.announce_timeout")

	c.Handoff.Capacity = v.GetInt("handoff.capacity")
	c.Handoff.FullPolicy = v.GetString("handoff.full_policy")

	c.Ledger.Path = v.GetString("ledger.path")
	c.NATS.URL = v.GetString("nats.url")
	c.NATS.Subject = v.GetString("nats.subject")
	if c.NATS.Subject == "" {
		c.NATS.Subject = "drivethru." + c.Lane.ID + ".outcomes"
	}

	c.Ollama.BaseURL = v.GetString("ollama.base_url")
	c.Ollama.Model = v.GetString("ollama.model")
	c.Ollama.Timeout = v.GetDuration("ollama.timeout")

	c.Worker.TokenSecret = v.GetString("worker.token_secret")
	c.Worker.TokenSkewSecs = v.GetInt("worker.token_skew_secs")
	c.Worker.Cmd = v.GetString("worker.cmd")

	log.Printf("[config] loaded: lane=%s port=%s sensor=%s voice=%s items=%d", c.Lane.ID, c.Server.Port, c.Presence.Sensor, c.Voice.Backend, len(c.Menu.Items))
	return c, nil
}

// splitItems accepts a "|"-separated env string or a YAML list.
func splitItems(raw any) []string {
	var parts []string
	switch x := raw.(type) {
	case nil:
		return nil
	case string:
		parts = strings.Split(x, "|")
	case []any:
		for _, p := range x {
			parts = append(parts, toString(p))
		}
	case []string:
		parts = x
	default:
		parts = []string{toString(x)}
	}
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks cross-field rules that viper cannot express.
func (c Config) Validate() error {
	var errs []error
	if c.Dialogue.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("dialogue.max_attempts must be >= 1, got %d", c.Dialogue.MaxAttempts))
	}
	if c.Dialogue.MaxRepeats < 1 {
		errs = append(errs, fmt.Errorf("dialogue.max_repeats must be >= 1, got %d", c.Dialogue.MaxRepeats))
	}
	for name, d := range map[string]time.Duration{
		"dialogue.voice_timeout":        c.Dialogue.VoiceTimeout,
		"dialogue.phrase_limit":         c.Dialogue.PhraseLimit,
		"dialogue.max_session_duration": c.Dialogue.MaxSessionDuration,
		"presence.poll_interval":        c.Presence.PollInterval,
		"voice.announce_timeout":        c.Voice.AnnounceTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be > 0", name))
		}
	}
	if c.Menu.File == "" && len(c.Menu.Items) == 0 {
		errs = append(errs, errors.New("menu: set menu.file or menu.items"))
	}
	if c.Menu.CancelCode < 0 {
		errs = append(errs, fmt.Errorf("menu.cancel_code must be >= 0, got %d", c.Menu.CancelCode))
	}
	if n := len(c.Menu.Items); c.Menu.File == "" && c.Menu.CancelCode != 0 && n > 0 {
		if c.Menu.MaxItems > 0 && n > c.Menu.MaxItems {
			n = c.Menu.MaxItems
		}
		if c.Menu.CancelCode <= n {
			errs = append(errs, fmt.Errorf("menu.cancel_code %d collides with item codes 1..%d", c.Menu.CancelCode, n))
		}
	}
	switch c.Presence.Sensor {
	case "sim", "gpio":
	default:
		errs = append(errs, fmt.Errorf("presence.sensor must be sim or gpio, got %q", c.Presence.Sensor))
	}
	switch c.Voice.Backend {
	case "worker":
		if c.Worker.TokenSecret == "" {
			errs = append(errs, errors.New("voice.backend=worker requires worker.token_secret"))
		}
	case "console", "none":
	default:
		errs = append(errs, fmt.Errorf("voice.backend must be worker, console or none, got %q", c.Voice.Backend))
	}
	switch c.Handoff.FullPolicy {
	case "block", "drop_oldest":
	default:
		errs = append(errs, fmt.Errorf("handoff.full_policy must be block or drop_oldest, got %q", c.Handoff.FullPolicy))
	}
	if c.Handoff.Capacity < 0 {
		errs = append(errs, fmt.Errorf("handoff.capacity must be >= 0, got %d", c.Handoff.Capacity))
	}
	return errors.Join(errs...)
}

func toString(v any) string { return fmt.Sprint(v) }
