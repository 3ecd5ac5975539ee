package fetch_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ortelius/pdvd-depscan/internal/fetch"
	"github.com/ortelius/pdvd-depscan/model"
)

type recordingObserver struct {
	mu       sync.Mutex
	outcomes []string
}

func (o *recordingObserver) ObserveRequest(_ string, outcome string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, outcome)
}

func statusServer(t *testing.T, statuses ...int) (*httptest.Server, *int64) {
	t.Helper()
	var calls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		n := atomic.AddInt64(&calls, 1)
		status := statuses[len(statuses)-1]
		if int(n) <= len(statuses) {
			status = statuses[n-1]
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestClientRetryPolicy(t *testing.T) {
	tests := []struct {
		name      string
		statuses  []int
		wantErr   bool
		wantCalls int64
	}{
		{name: "success", statuses: []int{200}, wantCalls: 1},
		{name: "server error retried once", statuses: []int{503, 200}, wantCalls: 2},
		{name: "rate limited retried once", statuses: []int{429, 200}, wantCalls: 2},
		{name: "persistent server error gives up after one retry", statuses: []int{500}, wantErr: true, wantCalls: 2},
		{name: "not found is not retried", statuses: []int{404}, wantErr: true, wantCalls: 1},
		{name: "bad request is not retried", statuses: []int{400}, wantErr: true, wantCalls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, calls := statusServer(t, tt.statuses...)
			c := fetch.New(fetch.Options{RatePerSecond: -1, RetryWait: time.Millisecond})

			var out map[string]bool
			err := c.GetJSON(context.Background(), srv.URL+"/x", nil, &out)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
				assert.True(t, out["ok"])
			}
			assert.Equal(t, tt.wantCalls, atomic.LoadInt64(calls))
		})
	}
}

func TestNotFoundMatchesSentinel(t *testing.T) {
	srv, _ := statusServer(t, 404)
	c := fetch.New(fetch.Options{RatePerSecond: -1})

	_, err := c.Get(context.Background(), srv.URL, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrNotFound))

	var se *fetch.StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusNotFound, se.StatusCode)
}

func TestCancelledContextIsNotRetried(t *testing.T) {
	srv, calls := statusServer(t, 200)
	c := fetch.New(fetch.Options{RatePerSecond: -1})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Get(ctx, srv.URL, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Zero(t, atomic.LoadInt64(calls))
}

func TestPostJSONAndObserver(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "depscan-test", r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte(`{"echo":"pong"}`))
	}))
	defer srv.Close()

	obs := &recordingObserver{}
	c := fetch.New(fetch.Options{RatePerSecond: -1, UserAgent: "depscan-test", Observer: obs})

	var out struct {
		Echo string `json:"echo"`
	}
	require.NoError(t, c.PostJSON(context.Background(), srv.URL, map[string]string{"ping": "x"}, &out))
	assert.Equal(t, "pong", out.Echo)
	assert.Equal(t, []string{"ok"}, obs.outcomes)
}

func TestStatusErrorNamesMethod(t *testing.T) {
	srv, _ := statusServer(t, http.StatusBadRequest)
	c := fetch.New(fetch.Options{RatePerSecond: -1})

	err := c.PostJSON(context.Background(), srv.URL, map[string]string{"q": "x"}, nil)
	var se *fetch.StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.MethodPost, se.Method)
	assert.Contains(t, err.Error(), "POST "+srv.URL+": HTTP 400")

	_, err = c.Get(context.Background(), srv.URL, nil)
	require.True(t, errors.As(err, &se))
	assert.Contains(t, err.Error(), "GET "+srv.URL+": HTTP 400")
}
