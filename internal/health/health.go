package health

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

type CheckResult struct {
	Name    string        `json:"name"`
	OK      bool          `json:"ok"`
	Latency time.Duration `json:"latency_ms"`
	Error   string        `json:"error,omitempty"`
}

type HealthStatus struct {
	OK        bool          `json:"ok"`
	Checks    []CheckResult `json:"checks"`
	CheckedAt time.Time     `json:"checked_at"`
}

func (h HealthStatus) String() string {
	status := "OK"
	if !h.OK {
		status = "FAIL"
	}
	s := fmt.Sprintf("Health: %s\n", status)
	for _, c := range h.Checks {
		mark := "✓"
		if !c.OK {
			mark = "✗"
		}
		s += fmt.Sprintf("  %s %s (%dms)", mark, c.Name, c.Latency.Milliseconds())
		if c.Error != "" {
			s += fmt.Sprintf(" - %s", c.Error)
		}
		s += "\n"
	}
	return s
}

// Check is one named dependency check. Run returns nil when healthy.
type Check struct {
	Name string
	Run  func(ctx context.Context) error
}

// Bool adapts a status getter such as "worker connected".
func Bool(name string, ok func() bool, msg string) Check {
	return Check{Name: name, Run: func(context.Context) error {
		if ok() {
			return nil
		}
		return errors.New(msg)
	}}
}

// CheckAll runs all checks concurrently and returns combined status in the
// order given.
func CheckAll(ctx context.Context, checks ...Check) HealthStatus {
	results := make([]CheckResult, len(checks))
	var wg sync.WaitGroup
	for i, c := range checks {
		wg.Add(1)
		go func(i int, c Check) {
			defer wg.Done()
			results[i] = run(ctx, c)
		}(i, c)
	}
	wg.Wait()

	allOK := true
	for _, r := range results {
		if !r.OK {
			allOK = false
		}
	}
	return HealthStatus{
		OK:        allOK,
		Checks:    results,
		CheckedAt: time.Now().UTC(),
	}
}

func run(ctx context.Context, c Check) (result CheckResult) {
	start := time.Now()
	result.Name = c.Name
	defer func() {
		if r := recover(); r != nil {
			result.OK = false
			result.Error = fmt.Sprintf("check panicked: %v", r)
		}
		result.Latency = time.Since(start)
	}()
	if err := c.Run(ctx); err != nil {
		result.Error = err.Error()
		return result
	}
	result.OK = true
	return result
}
