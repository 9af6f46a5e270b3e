package ingest

import (
	"net/http"

	"github.com/lox/aurorawatch/internal/httputil"
)

// Payload is the raw response of one adapter call. The scheduler stores
// it alongside an ingest run.
type Payload struct {
	Source   string
	Endpoint string
	Body     []byte
	Result   *httputil.FetchResult
}

func newPayload(source, endpoint string, body []byte, result *httputil.FetchResult) *Payload {
	if result == nil {
		result = &httputil.FetchResult{ResponseSize: len(body)}
	}
	return &Payload{Source: source, Endpoint: endpoint, Body: body, Result: result}
}

func userAgent(ua string) http.Header {
	if ua == "" {
		return nil
	}
	return http.Header{"User-Agent": {ua}}
}
