package httputil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const DefaultTimeout = 30 * time.Second

// maxErrorBody bounds how much of a failed response is echoed into errors.
const maxErrorBody = 512

// NewClient returns an HTTP client with standard timeout configuration.
func NewClient() *http.Client {
	return &http.Client{
		Timeout: DefaultTimeout,
	}
}

// FetchResult describes one upstream call for ingest run bookkeeping.
type FetchResult struct {
	HTTPStatus   int
	ResponseSize int
	RecordCount  int
	ParseErrors  int
	ParseError   string
}

// StatusError is returned for a non-2xx response that was not retried.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("status %d", e.StatusCode)
	}
	return fmt.Sprintf("status %d: %s", e.StatusCode, e.Body)
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == code
}

// newBackOff is replaced in tests to keep retries fast.
var newBackOff = func() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 2 * time.Minute
	return bo
}

func retryable(status int) bool {
	switch status {
	case http.StatusTooManyRequests, http.StatusForbidden, http.StatusUnauthorized,
		http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// Do executes the request built by newReq, retrying rate limits and
// gateway errors with exponential backoff until ctx is done. newReq is
// called once per attempt so request bodies can be replayed.
func Do(ctx context.Context, client *http.Client, newReq func(ctx context.Context) (*http.Request, error)) ([]byte, *FetchResult, error) {
	result := &FetchResult{}
	var body []byte

	operation := func() error {
		req, err := newReq(ctx)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build request: %w", err))
		}
		resp, err := client.Do(req)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("%s %s: %w", req.Method, req.URL.Host, err))
		}
		defer resp.Body.Close()

		result.HTTPStatus = resp.StatusCode
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
			serr := &StatusError{StatusCode: resp.StatusCode, Body: string(b)}
			if retryable(resp.StatusCode) {
				return serr
			}
			return backoff.Permanent(serr)
		}

		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("read body: %w", err))
		}
		result.ResponseSize = len(body)
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(newBackOff(), ctx)); err != nil {
		return nil, result, err
	}
	return body, result, nil
}

// Get fetches url with the given headers.
func Get(ctx context.Context, client *http.Client, url string, header http.Header) ([]byte, *FetchResult, error) {
	return Do(ctx, client, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		for k, v := range header {
			req.Header[k] = v
		}
		return req, nil
	})
}
