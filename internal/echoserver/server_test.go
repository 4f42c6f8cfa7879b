package echoserver

import (
	"bufio"
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestDownloadServesRequestedSize(t *testing.T) {
	ts := httptest.NewServer(New(Options{}).Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/download?size=100000")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	defer resp.Body.Close()
	n, _ := io.Copy(io.Discard, resp.Body)
	if n != 100000 {
		t.Errorf("got %d bytes, want 100000", n)
	}

	bad, err := http.Get(ts.URL + "/download?size=abc")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	bad.Body.Close()
	if bad.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", bad.StatusCode)
	}
}

func TestDownloadRateLimit(t *testing.T) {
	ts := httptest.NewServer(New(Options{DownloadRate: 200_000}).Handler())
	defer ts.Close()

	start := time.Now()
	resp, err := http.Get(ts.URL + "/download?size=400000")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	// The first 200kB is the burst, the second needs about a second.
	if elapsed := time.Since(start); elapsed < 700*time.Millisecond {
		t.Errorf("rate limited download finished in %v", elapsed)
	}
}

func TestUploadCountsBytes(t *testing.T) {
	srv := New(Options{})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/upload", "application/octet-stream", strings.NewReader(strings.Repeat("x", 5000)))
	if err != nil {
		t.Fatalf("POST error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if srv.Uploaded() != 5000 {
		t.Errorf("Uploaded() = %d, want 5000", srv.Uploaded())
	}
}

func TestPingEchoesProbeHeader(t *testing.T) {
	ts := httptest.NewServer(New(Options{}).Handler())
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodHead, ts.URL+"/ping", nil)
	req.Header.Set(probeHeader, "00ff")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("HEAD error = %v", err)
	}
	resp.Body.Close()
	if got := resp.Header.Get(probeHeader); got != "00ff" {
		t.Errorf("%s = %q, want echo", probeHeader, got)
	}
}

func TestSignalAnswersWithUDPCandidate(t *testing.T) {
	srv := New(Options{})
	addr, err := srv.ListenUDP("127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenUDP() error = %v", err)
	}
	defer srv.Close()
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/signal", nil)
	if err != nil {
		t.Fatalf("Dial error = %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(signal{Type: "offer", Session: "s1"}); err != nil {
		t.Fatal(err)
	}
	var answer signal
	if err := conn.ReadJSON(&answer); err != nil {
		t.Fatal(err)
	}
	if answer.Type != "answer" || answer.Session != "s1" || answer.Candidate != addr.String() {
		t.Fatalf("answer = %+v, want candidate %s", answer, addr)
	}

	udp, err := net.Dial("udp", answer.Candidate)
	if err != nil {
		t.Fatal(err)
	}
	defer udp.Close()
	_, _ = udp.Write([]byte("ping"))
	_ = udp.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 16)
	n, err := udp.Read(buf)
	if err != nil || string(buf[:n]) != "ping" {
		t.Errorf("udp echo = %q, %v", buf[:n], err)
	}
}

func TestSignalWithoutUDPReturnsError(t *testing.T) {
	ts := httptest.NewServer(New(Options{}).Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/signal", nil)
	if err != nil {
		t.Fatalf("Dial error = %v", err)
	}
	defer conn.Close()
	_ = conn.WriteJSON(signal{Type: "offer", Session: "s2"})
	var answer signal
	if err := conn.ReadJSON(&answer); err != nil {
		t.Fatal(err)
	}
	if answer.Type != "error" || answer.Error == "" {
		t.Errorf("answer = %+v, want error", answer)
	}
}

func TestPlaylistListsSegments(t *testing.T) {
	ts := httptest.NewServer(New(Options{Segments: 3, SegmentDuration: 2 * time.Second, SegmentSize: 1000}).Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/stream/index.m3u8")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var extinf, segments int
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "#EXTINF:2.000") {
			extinf++
		}
		if strings.HasSuffix(line, ".ts") {
			segments++
		}
	}
	if extinf != 3 || segments != 3 {
		t.Errorf("extinf=%d segments=%d, want 3/3", extinf, segments)
	}

	seg, err := http.Get(ts.URL + "/stream/segment-2.ts")
	if err != nil {
		t.Fatal(err)
	}
	n, _ := io.Copy(io.Discard, seg.Body)
	seg.Body.Close()
	if n != 1000 {
		t.Errorf("segment size = %d, want 1000", n)
	}

	missing, _ := http.Get(ts.URL + "/stream/segment-9.ts")
	missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", missing.StatusCode)
	}
}

func TestStallSegmentDelaysResponse(t *testing.T) {
	ts := httptest.NewServer(New(Options{Segments: 2, SegmentSize: 10, StallSegment: 2, StallFor: 200 * time.Millisecond}).Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/stream/segment-2.ts", nil)
	start := time.Now()
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if time.Since(start) < 150*time.Millisecond {
		t.Errorf("stalled segment served in %v", time.Since(start))
	}
}
