package httputil

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
)

func fastRetries(t *testing.T) {
	t.Helper()
	orig := newBackOff
	newBackOff = func() backoff.BackOff {
		return backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Millisecond), 3)
	}
	t.Cleanup(func() { newBackOff = orig })
}

func TestGet(t *testing.T) {
	fastRetries(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("User-Agent"); got != "aurorawatch-test" {
			t.Errorf("User-Agent = %q", got)
		}
		w.Write([]byte("hello"))
	}))
	defer srv.Close()

	body, result, err := Get(context.Background(), NewClient(), srv.URL, http.Header{"User-Agent": {"aurorawatch-test"}})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(body) != "hello" {
		t.Errorf("body = %q", body)
	}
	if result.HTTPStatus != http.StatusOK || result.ResponseSize != 5 {
		t.Errorf("result = %+v", result)
	}
}

func TestGet_RetriesRateLimit(t *testing.T) {
	fastRetries(t)

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	body, _, err := Get(context.Background(), NewClient(), srv.URL, nil)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(body) != "ok" || calls.Load() != 3 {
		t.Errorf("body = %q after %d calls", body, calls.Load())
	}
}

func TestGet_PermanentStatus(t *testing.T) {
	fastRetries(t)

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "missing", http.StatusNotFound)
	}))
	defer srv.Close()

	_, result, err := Get(context.Background(), NewClient(), srv.URL, nil)
	if !IsStatus(err, http.StatusNotFound) {
		t.Fatalf("err = %v, want 404 StatusError", err)
	}
	if calls.Load() != 1 {
		t.Errorf("404 retried %d times", calls.Load())
	}
	if result.HTTPStatus != http.StatusNotFound {
		t.Errorf("HTTPStatus = %d", result.HTTPStatus)
	}
}

func TestGet_GivesUp(t *testing.T) {
	fastRetries(t)

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, _, err := Get(context.Background(), NewClient(), srv.URL, nil)
	if !IsStatus(err, http.StatusServiceUnavailable) {
		t.Fatalf("err = %v, want 503 StatusError", err)
	}
	if calls.Load() != 4 {
		t.Errorf("calls = %d, want 4", calls.Load())
	}
}
