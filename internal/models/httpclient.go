package models

import (
	"io"
	"net/http"
	"strings"
	"time"
)

// newHTTPClient returns a client whose transport turns connection failures
// and non-JSON answers into *ErrModelUnavailable. Proxies in front of
// self-hosted models answer with plain-text pages the SDKs cannot decode;
// JSON error bodies are left to the SDK.
func newHTTPClient(provider string, timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: &checkedTransport{inner: http.DefaultTransport, provider: provider},
	}
}

type checkedTransport struct {
	inner    http.RoundTripper
	provider string
}

func (t *checkedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.inner.RoundTrip(req)
	if err != nil {
		return nil, &ErrModelUnavailable{Provider: t.provider, Cause: err}
	}
	if !jsonContent(resp.Header.Get("Content-Type")) {
		return nil, t.unavailable(resp)
	}
	return resp, nil
}

func (t *checkedTransport) unavailable(resp *http.Response) error {
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &ErrModelUnavailable{
		Provider: t.provider,
		Status:   resp.StatusCode,
		Body:     strings.TrimSpace(string(body)),
	}
}

// jsonContent accepts JSON, NDJSON and SSE streams. A missing header is
// let through.
func jsonContent(ct string) bool {
	if ct == "" {
		return true
	}
	ct = strings.ToLower(ct)
	return strings.Contains(ct, "json") || strings.Contains(ct, "event-stream")
}
