package poller

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type status struct {
	Status string `json:"status"`
}

func finished(s status) bool { return s.Status == "completed" || s.Status == "failed" }

func TestPollReturnsWhenPredicateHolds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.Write([]byte(`{"status":"running"}`))
			return
		}
		w.Write([]byte(`{"status":"completed"}`))
	}))
	defer srv.Close()

	p := New(nil, 5*time.Millisecond, time.Second, nil)
	got, err := Poll(context.Background(), p, srv.URL, finished)
	require.NoError(t, err)
	assert.Equal(t, "completed", got.Status)
	assert.Equal(t, int32(3), calls.Load())
}

func TestPollReturnsRemoteFailureInBand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"failed"}`))
	}))
	defer srv.Close()

	got, err := Poll(context.Background(), New(nil, time.Millisecond, time.Second, nil), srv.URL, finished)
	require.NoError(t, err)
	assert.Equal(t, "failed", got.Status)
}

func TestPollToleratesTransientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch calls.Add(1) {
		case 1:
			w.WriteHeader(http.StatusBadGateway)
		case 2:
			w.Write([]byte(`not json`))
		default:
			w.Write([]byte(`{"status":"completed"}`))
		}
	}))
	defer srv.Close()

	got, err := Poll(context.Background(), New(nil, time.Millisecond, time.Second, nil), srv.URL, finished)
	require.NoError(t, err)
	assert.Equal(t, "completed", got.Status)
	assert.Equal(t, int32(3), calls.Load())
}

func TestPollTimesOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"running"}`))
	}))
	defer srv.Close()

	start := time.Now()
	_, err := Poll(context.Background(), New(nil, 10*time.Millisecond, 50*time.Millisecond, nil), srv.URL, finished)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestPollTimesOutWhenServerUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := Poll(context.Background(), New(nil, 5*time.Millisecond, 30*time.Millisecond, nil), url, finished)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestPollDeadlineCutsStalledRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(3 * time.Second):
		}
		w.Write([]byte(`{"status":"completed"}`))
	}))
	defer srv.Close()

	start := time.Now()
	_, err := Poll(context.Background(), New(nil, 10*time.Millisecond, 200*time.Millisecond, nil), srv.URL, finished)
	elapsed := time.Since(start)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.False(t, errors.Is(err, context.DeadlineExceeded))
	assert.GreaterOrEqual(t, elapsed, 200*time.Millisecond)
	assert.Less(t, elapsed, time.Second)
}

func TestPollStopsOnContextCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"running"}`))
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := Poll(ctx, New(nil, 5*time.Millisecond, time.Minute, nil), srv.URL, finished)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, errors.Is(err, ErrTimeout))
}

func TestNewDefaults(t *testing.T) {
	p := New(nil, 0, 0, nil)
	assert.Equal(t, DefaultInterval, p.Interval())
	assert.Equal(t, DefaultTimeout, p.Timeout())
}
