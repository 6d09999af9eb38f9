package config

import (
	"bytes"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"PORT", "LOG_LEVEL", "LANE_ID", "LANE_CONFIG", "MENU_ITEMS", "MENU_FILE", "MENU_CANCEL_CODE",
		"DIALOGUE_MAX_ATTEMPTS", "DIALOGUE_VOICE_TIMEOUT", "VOICE_BACKEND", "WORKER_TOKEN_SECRET",
		"HANDOFF_FULL_POLICY", "NATS_SUBJECT",
	} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	c, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Server.Port != "8080" {
		t.Fatalf("expected default port 8080, got %q", c.Server.Port)
	}
	if c.Server.LogLevel != "info" {
		t.Fatalf("expected default log level info, got %q", c.Server.LogLevel)
	}
	if c.Dialogue.VoiceTimeout != 8*time.Second || c.Dialogue.PhraseLimit != 30*time.Second {
		t.Fatalf("unexpected dialogue timeouts %v %v", c.Dialogue.VoiceTimeout, c.Dialogue.PhraseLimit)
	}
	if c.Dialogue.MaxAttempts != 3 || c.Dialogue.MaxRepeats != 3 || !c.Dialogue.PublishCancelled || c.Dialogue.AbandonOnDeparture {
		t.Fatalf("unexpected dialogue policy %+v", c.Dialogue)
	}
	if c.Menu.CancelCode != 6 || c.Menu.MaxItems != 5 {
		t.Fatalf("unexpected menu defaults %+v", c.Menu)
	}
	if c.NATS.Subject != "drivethru.lane-1.outcomes" {
		t.Fatalf("unexpected nats subject %q", c.NATS.Subject)
	}
	if c.Presence.PollInterval != 100*time.Millisecond || c.Presence.DebounceSamples != 5 {
		t.Fatalf("unexpected presence defaults %+v", c.Presence)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("MENU_ITEMS", "Zinger box | Wings || Twister")
	t.Setenv("DIALOGUE_VOICE_TIMEOUT", "5s")
	t.Setenv("LANE_ID", "north")

	c, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(c.Menu.Items) != 3 || c.Menu.Items[1] != "Wings" {
		t.Fatalf("unexpected items %q", c.Menu.Items)
	}
	if c.Dialogue.VoiceTimeout != 5*time.Second {
		t.Fatalf("expected 5s, got %v", c.Dialogue.VoiceTimeout)
	}
	if c.NATS.Subject != "drivethru.north.outcomes" {
		t.Fatalf("subject should follow lane id, got %q", c.NATS.Subject)
	}
}

func TestLoadConfigFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "lane.yaml")
	body := "lane:\n  id: south\nmenu:\n  items:\n    - A\n    - B\ndialogue:\n  max_repeats: 2\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("LANE_CONFIG", path)
	t.Setenv("DIALOGUE_MAX_ATTEMPTS", "4")

	c, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Lane.ID != "south" || len(c.Menu.Items) != 2 || c.Dialogue.MaxRepeats != 2 || c.Dialogue.MaxAttempts != 4 {
		t.Fatalf("unexpected config %+v", c)
	}
}

func TestValidate(t *testing.T) {
	clearEnv(t)
	t.Setenv("MENU_ITEMS", "A|B|C")
	t.Setenv("WORKER_TOKEN_SECRET", "x")
	c, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}

	bad := c
	bad.Dialogue.MaxAttempts = 0
	bad.Menu.CancelCode = 2
	bad.Handoff.FullPolicy = "reject"
	bad.Worker.TokenSecret = ""
	err = bad.Validate()
	if err == nil {
		t.Fatal("expected validation errors")
	}
	for _, want := range []string{"max_attempts", "cancel_code", "full_policy", "token_secret"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected error mentioning %s, got %v", want, err)
		}
	}
}

func TestLoadLogsWithComponentPrefix(t *testing.T) {
	clearEnv(t)
	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)

	if _, err := Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if !strings.Contains(line, "[config] ") {
			t.Fatalf("log line without component prefix: %q", line)
		}
	}
}
