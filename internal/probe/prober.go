// Package probe implements bounded-retry HTTP health probing. The same
// mechanism validates a candidate environment before the traffic switch and
// the public routing path after it.
package probe

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Result is the outcome of a probe run. Attempt is the 1-based number of the
// last attempt made; on success it is the attempt that succeeded.
type Result struct {
	Attempt   int       `json:"attempt"`
	Timestamp time.Time `json:"timestamp"`
	Success   bool      `json:"success"`
	LatencyMs int64     `json:"latency_ms"`
	Detail    string    `json:"detail,omitempty"`
}

// Prober polls an HTTP health endpoint under a retry policy.
type Prober struct {
	client *http.Client
	logger *slog.Logger

	// sleep is replaceable so tests can run without real delays.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewProber creates a prober. The HTTP client deliberately carries no global
// timeout; each attempt is bounded by the policy's AttemptTimeout.
func NewProber(logger *slog.Logger) *Prober {
	return &Prober{
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: logger,
		sleep:  sleepCtx,
	}
}

// SetSleep replaces the inter-attempt sleep function. Tests use this to run
// a full retry schedule instantly.
func (p *Prober) SetSleep(sleep func(ctx context.Context, d time.Duration) error) {
	p.sleep = sleep
}

// Probe performs an HTTP GET against url, success being any 2xx response
// within the attempt timeout. On failure it sleeps and retries until the
// policy's attempts are exhausted, then returns the final failing Result.
func (p *Prober) Probe(ctx context.Context, url string, policy Policy) Result {
	var last Result

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		last = p.attempt(ctx, url, attempt, policy.AttemptTimeout)

		if last.Success {
			p.logger.Info("probe succeeded",
				"url", url,
				"attempt", attempt,
				"latency_ms", last.LatencyMs)
			return last
		}

		p.logger.Warn("probe attempt failed",
			"url", url,
			"attempt", attempt,
			"max_attempts", policy.MaxAttempts,
			"detail", last.Detail)

		if attempt == policy.MaxAttempts {
			break
		}

		if err := p.sleep(ctx, policy.Delay(attempt)); err != nil {
			last.Detail = fmt.Sprintf("probing cancelled: %v", err)
			return last
		}
	}

	return last
}

func (p *Prober) attempt(ctx context.Context, url string, attempt int, timeout time.Duration) Result {
	result := Result{
		Attempt:   attempt,
		Timestamp: time.Now().UTC(),
	}

	attemptCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, url, nil)
	if err != nil {
		result.Detail = fmt.Sprintf("invalid probe request: %v", err)
		return result
	}

	start := time.Now()
	resp, err := p.client.Do(req)
	result.LatencyMs = time.Since(start).Milliseconds()

	if err != nil {
		result.Detail = err.Error()
		return result
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		result.Success = true
		result.Detail = resp.Status
		return result
	}

	result.Detail = fmt.Sprintf("unexpected status %s", resp.Status)
	return result
}

// sleepCtx sleeps for d or until ctx is cancelled, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
