package httpclient

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/abduliffort/web-tester-iffort-sub000/internal/auth"
)

const maxErrorBodyBytes = 512

// StatusError reports a non-2xx response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// CheckResponse drains and closes the body of a failed response and returns
// a StatusError. Successful responses are left untouched.
func CheckResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
}

// RequestBuilder creates measurement requests carrying the configured
// headers and credentials.
type RequestBuilder struct {
	headers   http.Header
	auth      auth.Provider
	propagate bool
}

// NewRequestBuilder returns a builder. provider may be nil.
func NewRequestBuilder(provider auth.Provider, propagate bool) *RequestBuilder {
	return &RequestBuilder{headers: http.Header{}, auth: provider, propagate: propagate}
}

// SetHeader adds a header sent with every built request.
func (b *RequestBuilder) SetHeader(key, value string) error {
	if strings.ContainsAny(key, "\r\n") || strings.ContainsAny(value, "\r\n") {
		return fmt.Errorf("invalid header %q", key)
	}
	b.headers.Set(key, value)
	return nil
}

// Build creates a request. body may be nil.
func (b *RequestBuilder) Build(ctx context.Context, method, target string, body BodySource) (*http.Request, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	var reader io.ReadCloser
	if body != nil {
		r, err := body.NewReader()
		if err != nil {
			return nil, err
		}
		reader = r
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		if reader != nil {
			_ = reader.Close()
		}
		return nil, err
	}
	if body != nil {
		if length, ok := body.ContentLength(); ok {
			req.ContentLength = length
		}
		req.GetBody = body.NewReader
		req.Header.Set("Content-Type", "application/octet-stream")
	}
	if b == nil {
		return req, nil
	}
	for key, values := range b.headers {
		for _, val := range values {
			req.Header.Add(key, val)
		}
	}
	if b.propagate {
		otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
	}
	if b.auth != nil {
		if err := b.auth.InjectHeader(ctx, req); err != nil {
			return nil, fmt.Errorf("auth provider inject header: %w", err)
		}
	}
	return req, nil
}

// Fetch performs a GET and returns at most limit bytes of the body.
func Fetch(ctx context.Context, client *http.Client, b *RequestBuilder, target string, limit int64) ([]byte, error) {
	req, err := b.Build(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if err := CheckResponse(resp); err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(io.LimitReader(resp.Body, limit))
}

// NewClient returns a client tuned for long transfers over many parallel
// connections. timeout bounds each request end to end; zero disables it.
func NewClient(timeout time.Duration) *http.Client {
	if timeout < 0 {
		timeout = 0
	}

	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          256,
		MaxIdleConnsPerHost:   32,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		DisableCompression:    true,
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}
