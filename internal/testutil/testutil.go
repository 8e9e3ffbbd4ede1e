// Package testutil provides shared test helpers and telemetry fixtures.
package testutil

import (
	"bytes"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/banshee-data/wrc.report/internal/wrc/packet"
	"github.com/banshee-data/wrc.report/internal/wrc/sim"
)

// CaptureStart is the timestamp of the first frame written by WriteCapture.
var CaptureStart = time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

// CaptureSource is the sender address of frames written by WriteCapture.
var CaptureSource = &net.UDPAddr{IP: net.IPv4(10, 0, 0, 2), Port: 40000}

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// NewTestRequest creates a test HTTP request.
func NewTestRequest(method, path string) *http.Request {
	return httptest.NewRequest(method, path, nil)
}

// Serve sends one request without a body to h and returns the recorded
// response.
func Serve(h http.Handler, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, NewTestRequest(method, path))
	return w
}

// Records returns n consecutive simulator records with packet ids starting
// at firstUID.
func Records(n int, firstUID uint64) []packet.Telemetry {
	cfg := sim.DefaultConfig()
	cfg.StartUID = firstUID
	gen := sim.NewGenerator(cfg)
	out := make([]packet.Telemetry, n)
	for i := range out {
		out[i] = gen.Next()
	}
	return out
}

// Datagrams encodes records in order.
func Datagrams(records ...packet.Telemetry) [][]byte {
	out := make([][]byte, len(records))
	for i, rec := range records {
		out[i] = packet.Encode(rec)
	}
	return out
}

// WriteCapture writes payloads as UDP frames to CaptureSource from
// 10.0.0.1:dstPort in a pcap file under t.TempDir and returns its path.
// Frames are spaced 1/60 s apart starting at CaptureStart.
func WriteCapture(t *testing.T, dstPort int, payloads ...[]byte) string {
	t.Helper()
	var buf bytes.Buffer
	pw, err := sim.NewPCAPWriter(&buf, CaptureSource,
		&net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: dstPort},
		CaptureStart, time.Second/60)
	if err != nil {
		t.Fatalf("pcap writer: %v", err)
	}
	for i, p := range payloads {
		if _, err := pw.Write(p); err != nil {
			t.Fatalf("write frame %d: %v", i, err)
		}
	}

	path := filepath.Join(t.TempDir(), "capture.pcap")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write capture: %v", err)
	}
	return path
}
