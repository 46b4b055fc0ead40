package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
)

// NewHTTPClient returns a client suitable for long-lived streams: no overall
// timeout, but the response headers must arrive within handshakeTimeout.
func NewHTTPClient(handshakeTimeout time.Duration) *http.Client {
	if handshakeTimeout <= 0 {
		handshakeTimeout = 60 * time.Second
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = handshakeTimeout
	transport.DialContext = (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext
	return &http.Client{Transport: transport}
}

// NewJSONRequest builds a request with a JSON body (when payload is non-nil)
// and the given headers applied.
func NewJSONRequest(ctx context.Context, method, url string, payload any, headers map[string]string) (*http.Request, error) {
	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	var req *http.Request
	var err error
	if body != nil {
		req, err = http.NewRequestWithContext(ctx, method, url, body)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, url, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		if strings.TrimSpace(k) == "" {
			continue
		}
		req.Header.Set(k, v)
	}
	return req, nil
}

// Handshake sends req and classifies the outcome. A transport error before
// any response, or a non-2xx status, is a rejection; cancellation is reported
// as such.
func Handshake(ctx context.Context, client *http.Client, req *http.Request) (*http.Response, error) {
	resp, err := client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, Cancelled("", "", ctxErr)
		}
		return nil, Rejected(0, err.Error(), err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, RejectedFromResponse(resp)
	}
	return resp, nil
}

// TrimBaseURL normalises a configured base URL.
func TrimBaseURL(raw, fallback string) string {
	base := strings.TrimSpace(raw)
	if base == "" {
		base = fallback
	}
	return strings.TrimSuffix(base, "/")
}
