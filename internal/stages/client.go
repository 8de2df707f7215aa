// internal/stages/client.go

// Package stages wraps the REST contracts of the four downstream services a
// pipeline drives: data preparation, model selection, training and
// evaluation. Each call is a single request/response exchange; failures are
// returned as *StageError and never retried here.
package stages

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	ServiceDataPreparer  = "data-preparer"
	ServiceModelSelector = "model-selector"
	ServiceTrainer       = "trainer"
	ServiceEvaluator     = "evaluator"
)

// Endpoints holds the base URL of each downstream service. Paths such as
// "/prepare" are appended to them.
type Endpoints struct {
	DataPreparer  string
	ModelSelector string
	Trainer       string
	Evaluator     string
}

// StageError reports a failed exchange with a downstream service: a transport
// error, a non-2xx status or an undecodable body.
type StageError struct {
	Service    string
	Op         string
	StatusCode int
	Detail     string
	Err        error
}

func (e *StageError) Error() string {
	var b strings.Builder
	b.WriteString(e.Service)
	b.WriteString(": ")
	b.WriteString(e.Op)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": status %d", e.StatusCode)
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *StageError) Unwrap() error { return e.Err }

// IsStageError reports whether err came from a downstream service call.
func IsStageError(err error) bool {
	var se *StageError
	return errors.As(err, &se)
}

// Client talks to the downstream services. It relies on the http.Client's
// own timeout; nil means http.DefaultClient.
type Client struct {
	http      *http.Client
	endpoints Endpoints
}

func NewClient(httpClient *http.Client, endpoints Endpoints) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{http: httpClient, endpoints: endpoints}
}

func (c *Client) Endpoints() Endpoints { return c.endpoints }

func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}

const maxDetail = 512

func postJSON[T any](ctx context.Context, c *Client, service, url string, payload any) (*T, error) {
	op := "POST " + url
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &StageError{Service: service, Op: op, Err: fmt.Errorf("encode request: %w", err)}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &StageError{Service: service, Op: op, Err: fmt.Errorf("new request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return do[T](c, req, service, op)
}

func do[T any](c *Client, req *http.Request, service, op string) (*T, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &StageError{Service: service, Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxDetail))
		return nil, &StageError{Service: service, Op: op, StatusCode: resp.StatusCode, Detail: errorDetail(raw)}
	}
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &StageError{Service: service, Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return &out, nil
}

// errorDetail extracts the "detail" field the Python services put in error
// bodies, falling back to the raw text.
func errorDetail(raw []byte) string {
	var body struct {
		Detail any `json:"detail"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Detail != nil {
		if s, ok := body.Detail.(string); ok {
			return s
		}
		if b, err := json.Marshal(body.Detail); err == nil {
			return string(b)
		}
	}
	return strings.TrimSpace(string(raw))
}
