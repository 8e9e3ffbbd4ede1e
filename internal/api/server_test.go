package api

import (
	"context"
	"encoding/json"
	"math"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/wrc.report/internal/stream"
	"github.com/banshee-data/wrc.report/internal/testutil"
	"github.com/banshee-data/wrc.report/internal/timeutil"
	"github.com/banshee-data/wrc.report/internal/version"
	"github.com/banshee-data/wrc.report/internal/wrc/packet"
	"github.com/banshee-data/wrc.report/internal/wrc/pipeline"
	"github.com/banshee-data/wrc.report/internal/wrc/stats"
)

var game = &net.UDPAddr{IP: net.ParseIP("192.168.1.20"), Port: 51000}

type fakeStream struct{ stats stream.Stats }

func (f fakeStream) Stats() stream.Stats { return f.stats }

type fixture struct {
	pipe    *pipeline.Pipeline
	stats   *stats.PacketStats
	history *History
	server  *Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := timeutil.NewMockClock(time.Date(2026, 7, 4, 12, 0, 0, 0, time.UTC))
	f := &fixture{
		stats:   stats.NewPacketStatsWithClock(clock),
		history: NewHistory(16),
	}
	f.pipe = pipeline.New(pipeline.Options{
		Stats:      f.stats,
		DropStale:  true,
		SpeedUnits: "kph",
		Clock:      clock,
	}, f.history)
	f.server = NewServer(f.pipe, f.stats, fakeStream{stream.Stats{Clients: 2, Published: 9}}, f.history)
	return f
}

func (f *fixture) feed(uids ...uint64) {
	for _, uid := range uids {
		rec := packet.Telemetry{
			PacketUID:               uid,
			VehicleSpeed:            10,
			VehicleGearIndex:        3,
			VehicleGearIndexReverse: 10,
			VehicleEngineRPMCurrent: 4200,
			VehicleThrottle:         1,
			StageCurrentTime:        75,
			StageCurrentDistance:    500,
			StageLength:             2000,
		}
		buf := packet.Encode(rec)
		f.stats.AddPacket(len(buf))
		f.pipe.HandleDatagram(buf, game)
	}
}

func (f *fixture) get(t *testing.T, target string) *httptest.ResponseRecorder {
	t.Helper()
	return testutil.Serve(f.server.ServeMux(), http.MethodGet, target)
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestLatestBeforeData(t *testing.T) {
	f := newFixture(t)
	w := f.get(t, "/api/telemetry/latest")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "no telemetry received yet", decode(t, w)["error"])
}

func TestLatest(t *testing.T) {
	f := newFixture(t)
	f.feed(1, 2, 4, 3)

	w := f.get(t, "/api/telemetry/latest")
	require.Equal(t, http.StatusOK, w.Code)
	doc := decode(t, w)
	assert.Equal(t, "192.168.1.20:51000", doc["stream"])
	assert.Equal(t, map[string]any{"kind": "gap", "jump": float64(2)}, doc["event"])
	assert.Equal(t, float64(4), doc["telemetry"].(map[string]any)["packet_uid"])

	v := doc["view"].(map[string]any)
	assert.Equal(t, "kph", v["speed_units"])
	assert.InDelta(t, 36.0, v["speed"], 1e-9)
	assert.Equal(t, "00:01:15", v["stage_time_pretty"])
	assert.Equal(t, float64(25), v["stage_progress_pct"])

	t.Run("units override", func(t *testing.T) {
		w := f.get(t, "/api/telemetry/latest?units=mps")
		require.Equal(t, http.StatusOK, w.Code)
		v := decode(t, w)["view"].(map[string]any)
		assert.Equal(t, "mps", v["speed_units"])
		assert.InDelta(t, 10.0, v["speed"], 1e-9)
	})

	t.Run("invalid units", func(t *testing.T) {
		w := f.get(t, "/api/telemetry/latest?units=furlongs")
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, decode(t, w)["error"], "mps, mph, kmph, kph")
	})

	t.Run("method", func(t *testing.T) {
		w := testutil.Serve(f.server.ServeMux(), http.MethodPost, "/api/telemetry/latest")
		testutil.AssertStatusCode(t, w.Code, http.StatusMethodNotAllowed)
		assert.Equal(t, "GET", w.Header().Get("Allow"))
	})
}

func TestDashboard(t *testing.T) {
	f := newFixture(t)
	f.feed(7)

	w := f.get(t, "/api/telemetry/dashboard?units=kph")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/plain; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Equal(t,
		"stage 00:01:15 total 00:00:00 gear 3 36.0 kph 4200 rpm thr 100% brk 0% clu 0% hb 0% shift - progress 25.0%\n",
		w.Body.String())
}

func TestStats(t *testing.T) {
	f := newFixture(t)
	f.feed(1, 2, 2, 5)

	w := f.get(t, "/api/telemetry/stats")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)

	totals := body["totals"].(map[string]any)
	assert.Equal(t, float64(4), totals["packets"])
	seq := totals["sequence"].(map[string]any)
	assert.Equal(t, float64(2), seq["in_order"])
	assert.Equal(t, float64(1), seq["duplicates"])
	assert.Equal(t, float64(1), seq["gaps"])
	assert.Equal(t, float64(2), seq["dropped"])

	streams := body["streams"].([]any)
	require.Len(t, streams, 1)
	st := streams[0].(map[string]any)
	assert.Equal(t, "192.168.1.20:51000", st["stream"])
	assert.Equal(t, float64(5), st["last_packet_uid"])

	assert.Equal(t, map[string]any{"clients": float64(2), "published": float64(9), "dropped": float64(0)}, body["subscribers"])
}

func TestStatsWithoutOptionalSources(t *testing.T) {
	f := newFixture(t)
	f.server = NewServer(f.pipe, nil, nil, nil)

	w := f.get(t, "/api/telemetry/stats")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"streams":[]}`, w.Body.String())
}

func TestHistoryEndpoint(t *testing.T) {
	f := newFixture(t)
	f.feed(1, 2, 3, 2)

	w := f.get(t, "/api/telemetry/history?limit=2")
	require.Equal(t, http.StatusOK, w.Code)
	var points []Point
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &points))
	assert.Equal(t, []uint64{2, 3}, uids(points))
	assert.Equal(t, "3", points[0].Gear)

	assert.Equal(t, http.StatusBadRequest, f.get(t, "/api/telemetry/history?limit=0").Code)
	assert.Equal(t, http.StatusBadRequest, f.get(t, "/api/telemetry/history?limit=x").Code)

	f.server = NewServer(f.pipe, nil, nil, nil)
	assert.Equal(t, http.StatusNotFound, f.get(t, "/api/telemetry/history").Code)
	assert.Equal(t, http.StatusNotFound, f.get(t, "/debug/charts").Code)
}

func TestCharts(t *testing.T) {
	f := newFixture(t)
	f.feed(1, 2, 3)

	w := f.get(t, "/debug/charts?units=mph")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/html; charset=utf-8", w.Header().Get("Content-Type"))
	body := w.Body.String()
	assert.True(t, strings.Contains(body, "echarts"), "page should load echarts")
	for _, title := range []string{"Speed", "Engine", "Pedals", "Sequence"} {
		assert.Contains(t, body, title)
	}

	assert.Equal(t, http.StatusBadRequest, f.get(t, "/debug/charts?units=knots").Code)
}

func TestNonFiniteSampleKeepsEndpointsWorking(t *testing.T) {
	f := newFixture(t)
	f.feed(1)
	rec := packet.Telemetry{
		PacketUID:               2,
		VehicleSpeed:            float32(math.NaN()),
		VehicleGearIndexReverse: 10,
		VehicleEngineRPMCurrent: 4000,
		StageCurrentTime:        float32(math.Inf(1)),
	}
	f.pipe.HandleDatagram(packet.Encode(rec), game)

	w := f.get(t, "/api/telemetry/latest")
	require.Equal(t, http.StatusOK, w.Code)
	doc := decode(t, w)
	assert.Equal(t, float64(2), doc["telemetry"].(map[string]any)["packet_uid"])
	assert.Nil(t, doc["view"].(map[string]any)["speed"])
	assert.Equal(t, "--:--:--", doc["view"].(map[string]any)["stage_time_pretty"])

	w = f.get(t, "/api/telemetry/history")
	require.Equal(t, http.StatusOK, w.Code)
	var points []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &points), w.Body.String())
	require.Len(t, points, 2)
	assert.Equal(t, float64(10), points[0]["speed_mps"])
	assert.Nil(t, points[1]["speed_mps"])
	assert.Nil(t, points[1]["stage_time"])
	assert.Equal(t, float64(4000), points[1]["rpm"])

	w = f.get(t, "/debug/charts")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Speed")
}

func TestVersion(t *testing.T) {
	f := newFixture(t)
	w := f.get(t, "/api/version")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, version.Version, decode(t, w)["version"])
}

func TestListenAndServeStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- f.server.ListenAndServe(ctx, "127.0.0.1:0") }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestListenAndServeBadAddress(t *testing.T) {
	f := newFixture(t)
	err := f.server.ListenAndServe(context.Background(), "256.0.0.1:bad")
	assert.Error(t, err)
}
