package postprocess

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

type formatterFunc func(ctx context.Context, text string) (string, error)

func (f formatterFunc) Format(ctx context.Context, text string) (string, error) { return f(ctx, text) }

func TestApply(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name string
		f    Formatter
		want string
	}{
		{"nil", nil, "two"},
		{"ok", Func(strings.ToUpper), "TWO"},
		{"error", formatterFunc(func(context.Context, string) (string, error) { return "", errors.New("down") }), "two"},
		{"empty", Func(func(string) string { return "   " }), "two"},
		{"panic", Func(func(string) string { panic("bad") }), "two"},
		{"slow", formatterFunc(func(ctx context.Context, s string) (string, error) {
			time.Sleep(200 * time.Millisecond)
			return "late", nil
		}), "two"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Apply(ctx, tc.f, "two", 20*time.Millisecond); got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestOllamaFormat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/generate":
			var req generateRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			if req.Model != "llama2" || req.Stream || !strings.Contains(req.Prompt, `"number two"`) {
				http.Error(w, "bad request", http.StatusBadRequest)
				return
			}
			_ = json.NewEncoder(w).Encode(generateResponse{Response: " 1x Item B \n", Done: true})
		case "/api/tags":
			w.WriteHeader(http.StatusOK)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	o := NewOllama(srv.URL+"/", "", time.Second)
	out, err := o.Format(context.Background(), "number two")
	if err != nil {
		t.Fatalf("format: %v", err)
	}
	if out != "1x Item B" {
		t.Fatalf("unexpected output %q", out)
	}
	if err := o.HealthCheck(context.Background()); err != nil {
		t.Fatalf("health: %v", err)
	}
}

func TestOllamaErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	o := NewOllama(srv.URL, "missing", time.Second)
	if _, err := o.Format(context.Background(), "x"); err == nil {
		t.Fatal("expected error on 404")
	}
	if err := o.HealthCheck(context.Background()); err == nil {
		t.Fatal("expected health check error")
	}
	if got := Apply(context.Background(), o, "x", time.Second); got != "x" {
		t.Fatalf("Apply should keep original text, got %q", got)
	}
}
