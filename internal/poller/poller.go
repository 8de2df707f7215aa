// internal/poller/poller.go

// Package poller observes long-running remote jobs by repeatedly fetching a
// status URL until a predicate over the decoded body holds or a time budget
// runs out.
package poller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const (
	DefaultInterval = 2 * time.Second
	DefaultTimeout  = 300 * time.Second
)

// ErrTimeout is returned when no response satisfied the predicate within the
// poller's timeout.
var ErrTimeout = errors.New("polling timed out")

// Poller holds the transport and timing shared by every poll.
type Poller struct {
	client   *http.Client
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger
}

// New returns a Poller. Zero durations fall back to DefaultInterval and
// DefaultTimeout; a nil client means http.DefaultClient.
func New(client *http.Client, interval, timeout time.Duration, logger *slog.Logger) *Poller {
	if client == nil {
		client = http.DefaultClient
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{client: client, interval: interval, timeout: timeout, logger: logger}
}

func (p *Poller) Interval() time.Duration { return p.interval }

func (p *Poller) Timeout() time.Duration { return p.timeout }

// Poll GETs url every interval and decodes the body into T until done
// returns true. Failed requests and undecodable bodies count as "not yet
// done". Every request runs under the poller's deadline, so a stalled GET
// cannot outlive the budget. The returned error wraps ErrTimeout when the
// budget is exhausted, or is the parent context's error if ctx ends first.
func Poll[T any](ctx context.Context, p *Poller, url string, done func(T) bool) (T, error) {
	var zero T
	deadline := time.Now().Add(p.timeout)
	pollCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()
	logger := p.logger.With("url", url)

	for attempt := 1; ; attempt++ {
		v, err := fetch[T](pollCtx, p.client, url)
		switch {
		case err == nil && done(v):
			return v, nil
		case err != nil && pollCtx.Err() == nil:
			logger.Warn("poll request failed", "attempt", attempt, "err", err)
		}
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		if pollCtx.Err() != nil {
			return zero, timeoutError(url, p.timeout, attempt)
		}

		if err := sleep(pollCtx, p.interval); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return zero, ctxErr
			}
			return zero, timeoutError(url, p.timeout, attempt)
		}
	}
}

func timeoutError(url string, budget time.Duration, attempts int) error {
	return fmt.Errorf("%w: %s not finished after %s (%d attempts)", ErrTimeout, url, budget, attempts)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func fetch[T any](ctx context.Context, client *http.Client, url string) (T, error) {
	var out T
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return out, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return out, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return out, fmt.Errorf("status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, fmt.Errorf("decode response: %w", err)
	}
	return out, nil
}
