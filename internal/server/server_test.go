package server

import (
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/shaunagostinho/gpsdma/internal/gps"
)

type fakeSource struct {
	mu      sync.Mutex
	pending []gps.Fix
	updates int
}

func (f *fakeSource) push(fix gps.Fix) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = append(f.pending, fix)
}

func (f *fakeSource) Update() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates++
}

func (f *fakeSource) GetLatestData() (gps.Fix, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pending) == 0 {
		return gps.Fix{}, false
	}
	fix := f.pending[0]
	f.pending = f.pending[1:]
	return fix, true
}

func (f *fakeSource) Stats() gps.Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return gps.Stats{Decoded: uint64(f.updates)}
}

type fakePublisher struct {
	got chan gps.Fix
}

func (p *fakePublisher) Publish(_ time.Time, fix gps.Fix) error {
	p.got <- fix
	return nil
}

func testConfig(t *testing.T) *Config {
	t.Helper()
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.path = filepath.Join(dir, "config.yaml")
	cfg.Server.OdoPath = filepath.Join(dir, "odometer.dat")
	cfg.Logging.Path = filepath.Join(dir, "logs")
	return cfg
}

var munich = gps.Fix{Valid: true, UTCTime: 123519, FixQuality: 1, NumSatellites: 8, Altitude: 545.4, Latitude: 48.1173, Longitude: 11.516667}

func TestPoll_FansOutFix(t *testing.T) {
	cfg := testConfig(t)
	cfg.Logging.Enabled = true
	src := &fakeSource{}
	s := New(cfg, src, nil, nil)

	if s.poll(time.Now()) {
		t.Fatalf("expected no fix")
	}
	src.push(munich)
	if !s.poll(time.Now()) {
		t.Fatalf("expected fix")
	}
	if src.updates != 2 {
		t.Fatalf("updates=%d", src.updates)
	}
	s.logger.Close()

	files, _ := filepath.Glob(filepath.Join(cfg.Logging.Path, "*.csv"))
	if len(files) != 1 {
		t.Fatalf("expected one log file, got %v", files)
	}
	data, err := os.ReadFile(files[0])
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "48.117300") {
		t.Fatalf("log missing fix: %s", data)
	}
}

func TestPoll_InvalidFixSkipsOdometer(t *testing.T) {
	cfg := testConfig(t)
	cfg.Logging.Enabled = true
	cfg.Logging.Interval = 0
	src := &fakeSource{}
	s := New(cfg, src, nil, nil)

	src.push(munich)
	s.poll(time.Now())
	stale := munich
	stale.Valid = false
	stale.Latitude += 0.01 // ~1.1 km, would be a glitch reseed if used
	src.push(stale)
	if !s.poll(time.Now().Add(time.Second)) {
		t.Fatalf("expected invalid fix to be delivered")
	}
	s.logger.Close()

	if s.lastGPSLat != munich.Latitude {
		t.Fatalf("invalid fix moved odometer seed to %v", s.lastGPSLat)
	}
	files, _ := filepath.Glob(filepath.Join(cfg.Logging.Path, "*.csv"))
	if len(files) != 1 {
		t.Fatalf("expected one log file, got %v", files)
	}
	data, err := os.ReadFile(files[0])
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 || !strings.Contains(lines[2], ",0,123519,") {
		t.Fatalf("expected invalid row logged, got %q", lines)
	}
}

func TestPoll_Publishes(t *testing.T) {
	cfg := testConfig(t)
	src := &fakeSource{}
	pub := &fakePublisher{got: make(chan gps.Fix, 1)}
	s := New(cfg, src, pub, nil)

	ctx := t.Context()
	go s.publishLoop(ctx)

	src.push(munich)
	s.poll(time.Now())
	select {
	case fix := <-pub.got:
		if fix != munich {
			t.Fatalf("published %+v", fix)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("publisher not called")
	}
}

func TestHandleFix(t *testing.T) {
	cfg := testConfig(t)
	src := &fakeSource{}
	s := New(cfg, src, nil, nil)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	var frame Frame
	resp, err := http.Get(ts.URL + "/api/fix")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	json.NewDecoder(resp.Body).Decode(&frame)
	resp.Body.Close()
	if frame.Fix != nil {
		t.Fatalf("expected no fix yet, got %+v", frame.Fix)
	}

	src.push(munich)
	s.poll(time.Now())

	resp, err = http.Get(ts.URL + "/api/fix")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	frame = Frame{}
	if err := json.NewDecoder(resp.Body).Decode(&frame); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if frame.Fix == nil || *frame.Fix != munich {
		t.Fatalf("unexpected fix %+v", frame.Fix)
	}
	if frame.Stats == nil || frame.Odo == nil {
		t.Fatalf("expected stats and odometer in frame")
	}
}

func TestWebSocketBroadcast(t *testing.T) {
	cfg := testConfig(t)
	src := &fakeSource{}
	s := New(cfg, src, nil, nil)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var frame Frame
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read initial frame: %v", err)
	}
	if frame.Odo == nil {
		t.Fatalf("expected odometer in initial frame")
	}

	src.push(munich)
	s.poll(time.Now())

	frame = Frame{}
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read fix frame: %v", err)
	}
	if frame.Fix == nil || frame.Fix.UTCTime != munich.UTCTime {
		t.Fatalf("unexpected frame %+v", frame)
	}
}

func TestHandleResetTrip(t *testing.T) {
	cfg := testConfig(t)
	s := New(cfg, nil, nil, nil)
	s.odoTotal, s.odoTrip = 12.5, 3.25
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/odo/reset-trip")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status=%d", resp.StatusCode)
	}

	resp, err = http.Post(ts.URL+"/api/odo/reset-trip", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if s.odoTrip != 0 || s.odoTotal != 12.5 {
		t.Fatalf("total=%v trip=%v", s.odoTotal, s.odoTrip)
	}

	s2 := New(cfg, nil, nil, nil)
	if s2.odoTotal != 12.5 || s2.odoTrip != 0 {
		t.Fatalf("reloaded total=%v trip=%v", s2.odoTotal, s2.odoTrip)
	}
}

func TestUpdateOdometer(t *testing.T) {
	s := New(testConfig(t), nil, nil, nil)

	at := func(lat, lon float64) gps.Fix { return gps.Fix{Valid: true, FixQuality: 1, Latitude: lat, Longitude: lon} }

	s.updateOdometer(at(48.0, 11.0)) // seed
	if s.odoTotal != 0 {
		t.Fatalf("seed accumulated %v", s.odoTotal)
	}
	s.updateOdometer(at(48.000001, 11.0)) // ~0.1 m jitter
	if s.odoTotal != 0 {
		t.Fatalf("jitter accumulated %v", s.odoTotal)
	}
	s.updateOdometer(at(48.001, 11.0)) // ~111 m
	if math.Abs(s.odoTotal-0.111) > 0.002 {
		t.Fatalf("total=%v", s.odoTotal)
	}
	s.updateOdometer(at(49.0, 11.0)) // glitch
	if math.Abs(s.odoTotal-0.111) > 0.002 {
		t.Fatalf("glitch accumulated, total=%v", s.odoTotal)
	}
	if s.lastGPSLat != 49.0 {
		t.Fatalf("expected reseed after glitch")
	}
}

func TestHaversineKm(t *testing.T) {
	// One degree of latitude is ~111.19 km
	if d := haversineKm(0, 0, 1, 0); math.Abs(d-111.19) > 0.01 {
		t.Fatalf("distance=%v", d)
	}
}
