package workerproc

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

const (
	minBackoff = time.Second
	maxBackoff = 30 * time.Second
	// A run shorter than this counts as a crash for backoff purposes.
	stableRun = 10 * time.Second
	stopGrace = 3 * time.Second
)

// LogCallback receives each line the worker writes.
type LogCallback func(stream, line string)

// EnvFunc is evaluated on every start so credentials can be re-minted.
type EnvFunc func() map[string]string

// StaticEnv returns the same environment on every start.
func StaticEnv(env map[string]string) EnvFunc {
	return func() map[string]string { return env }
}

// Runner keeps the voice worker process alive next to the lane, restarting it
// with capped exponential backoff.
type Runner struct {
	workerCmd string
	env       EnvFunc
	onLog     LogCallback

	mu      sync.Mutex
	pid     int
	running bool
	starts  int
}

func NewRunner(workerCmd string, env EnvFunc, onLog LogCallback) *Runner {
	if env == nil {
		env = StaticEnv(nil)
	}
	return &Runner{workerCmd: workerCmd, env: env, onLog: onLog}
}

func (r *Runner) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Starts is how many times the process has been launched.
func (r *Runner) Starts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.starts
}

// Run supervises the worker until ctx ends.
func (r *Runner) Run(ctx context.Context) error {
	if strings.TrimSpace(r.workerCmd) == "" {
		return errors.New("worker command not configured")
	}
	backoff := minBackoff
	for {
		start := time.Now()
		err := r.runOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if time.Since(start) >= stableRun {
			backoff = minBackoff
		}
		log.Printf("[worker] process exited err=%v, restarting in %s", err, backoff)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff = nextBackoff(backoff)
	}
}

func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}

func (r *Runner) runOnce(ctx context.Context) error {
	parts := strings.Fields(r.workerCmd)
	name, args := parts[0], parts[1:]
	cmd := exec.Command(name, args...)

	// Start with current environment, then add ours
	cmd.Env = append(cmd.Env, envFromOS()...)
	cmd.Env = append(cmd.Env, envToList(r.env())...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}

	r.mu.Lock()
	r.pid, r.running = cmd.Process.Pid, true
	r.starts++
	r.mu.Unlock()
	log.Printf("[worker] process started pid=%d cmd=%q", cmd.Process.Pid, r.workerCmd)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); r.stream("stdout", stdout) }()
	go func() { defer wg.Done(); r.stream("stderr", stderr) }()

	done := make(chan error, 1)
	go func() {
		wg.Wait()
		done <- cmd.Wait()
	}()

	select {
	case err = <-done:
	case <-ctx.Done():
		// request graceful stop, then force kill after grace
		_ = cmd.Process.Signal(os.Interrupt)
		select {
		case err = <-done:
		case <-time.After(stopGrace):
			_ = cmd.Process.Kill()
			err = <-done
		}
	}

	r.mu.Lock()
	r.pid, r.running = 0, false
	r.mu.Unlock()
	return err
}

func envToList(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

func envFromOS() []string {
	base := os.Environ()
	out := make([]string, len(base))
	copy(out, base)
	return out
}

func (r *Runner) stream(stream string, rdr io.Reader) {
	scanner := bufio.NewScanner(rdr)
	for scanner.Scan() {
		line := scanner.Text()
		log.Printf("[worker] %s: %s", stream, line)
		if r.onLog != nil {
			r.onLog(stream, line)
		}
	}
}
