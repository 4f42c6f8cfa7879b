package httpclient

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/abduliffort/web-tester-iffort-sub000/internal/auth"
)

func TestBuildAttachesBodyHeadersAndAuth(t *testing.T) {
	builder := NewRequestBuilder(auth.NewStaticTokenProvider("tok"), false)
	if err := builder.SetHeader("X-Client", "webtester"); err != nil {
		t.Fatalf("SetHeader() error = %v", err)
	}

	req, err := builder.Build(context.Background(), http.MethodPost, "http://example.com/upload", RandomBody(128))
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if req.ContentLength != 128 {
		t.Fatalf("ContentLength = %d, want 128", req.ContentLength)
	}
	if req.Header.Get("Authorization") != "Bearer tok" {
		t.Errorf("Authorization = %q", req.Header.Get("Authorization"))
	}
	if req.Header.Get("X-Client") != "webtester" {
		t.Errorf("X-Client = %q", req.Header.Get("X-Client"))
	}

	body, err := io.ReadAll(req.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	for _, c := range body {
		if (c < 'a' || c > 'z') && (c < 'A' || c > 'Z') {
			t.Fatalf("unexpected byte %q in random body", c)
		}
	}

	again, err := req.GetBody()
	if err != nil {
		t.Fatalf("GetBody() error = %v", err)
	}
	replay, _ := io.ReadAll(again)
	if string(replay) != string(body) {
		t.Fatal("GetBody should replay the same payload")
	}
}

func TestSetHeaderRejectsNewlines(t *testing.T) {
	builder := NewRequestBuilder(nil, false)
	if err := builder.SetHeader("X-Bad", "a\r\nb"); err == nil {
		t.Fatal("expected error for header with CRLF")
	}
}

func TestFetchReturnsStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "scenario missing", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := Fetch(context.Background(), NewClient(time.Second), NewRequestBuilder(nil, false), srv.URL, 1024)
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if statusErr.StatusCode != http.StatusNotFound {
		t.Errorf("StatusCode = %d", statusErr.StatusCode)
	}
	if statusErr.Body != "scenario missing" {
		t.Errorf("Body = %q", statusErr.Body)
	}
}

func TestFetchLimitsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("0123456789"))
	}))
	defer srv.Close()

	data, err := Fetch(context.Background(), NewClient(time.Second), nil, srv.URL, 4)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if string(data) != "0123" {
		t.Fatalf("Fetch() = %q, want 0123", data)
	}
}

func TestNewClientClampsNegativeTimeout(t *testing.T) {
	if c := NewClient(-time.Second); c.Timeout != 0 {
		t.Fatalf("Timeout = %s, want 0", c.Timeout)
	}
}
