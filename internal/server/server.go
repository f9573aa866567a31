package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"log"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/shaunagostinho/gpsdma/internal/gps"
	"github.com/shaunagostinho/gpsdma/internal/logger"
)

// FixSource is the polled fix producer, normally a *gps.Driver.
type FixSource interface {
	Update()
	GetLatestData() (gps.Fix, bool)
	Stats() gps.Stats
}

// Publisher forwards consumed fixes, normally a *publish.MQTT.
type Publisher interface {
	Publish(now time.Time, fix gps.Fix) error
}

// Server pumps the GPS driver and broadcasts each new fix to WebSocket
// clients, the CSV logger and the optional publisher.
type Server struct {
	cfg    *Config
	src    FixSource
	pub    Publisher
	pubCh  chan publishReq
	webFS  fs.FS
	logger *logger.Logger

	clients   map[*wsClient]struct{}
	clientsMu sync.RWMutex

	upgrader websocket.Upgrader

	lastMu    sync.Mutex
	lastFix   *gps.Fix
	lastStamp int64

	// Odometer — persistent distance tracking
	odoMu        sync.Mutex
	odoTotal     float64 // Total km
	odoTrip      float64 // Trip km (resettable)
	lastGPSLat   float64
	lastGPSLon   float64
	lastGPSValid bool
	odoPath      string // File path for persistence
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

type publishReq struct {
	now time.Time
	fix gps.Fix
}

// Frame is the JSON structure sent to all WebSocket clients.
type Frame struct {
	Fix   *gps.Fix   `json:"fix,omitempty"`
	Stats *gps.Stats `json:"stats,omitempty"`
	Odo   *OdoData   `json:"odo,omitempty"`
	Stamp int64      `json:"stamp"` // Unix ms
}

// OdoData is the odometer info sent to clients.
type OdoData struct {
	Total float64 `json:"total"` // km
	Trip  float64 `json:"trip"`  // km
}

// New creates a new Server. src and pub may be nil.
func New(cfg *Config, src FixSource, pub Publisher, webFS fs.FS) *Server {
	odoPath := cfg.Server.OdoPath
	if odoPath == "" {
		odoPath = filepath.Join(filepath.Dir(cfg.path), "odometer.dat")
		if cfg.path == "" {
			odoPath = "/etc/gpsdma/odometer.dat"
		}
	}

	s := &Server{
		cfg:   cfg,
		src:   src,
		pub:   pub,
		webFS: webFS,
		logger: logger.New(logger.Config{
			Enabled:    cfg.Logging.Enabled,
			Path:       cfg.Logging.Path,
			IntervalMs: cfg.Logging.Interval,
			MaxRows:    cfg.Logging.MaxRows,
		}),
		clients: make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		odoPath: odoPath,
	}
	if pub != nil {
		s.pubCh = make(chan publishReq, 8)
	}
	s.loadOdometer()
	return s
}

// Handler returns the HTTP routes served by Run.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Serve embedded web files
	if s.webFS != nil {
		mux.Handle("/", http.FileServer(http.FS(s.webFS)))
	}

	// WebSocket endpoint
	mux.HandleFunc("/ws", s.handleWS)

	// Config API
	mux.HandleFunc("/api/config", s.handleConfig)

	// Last consumed fix
	mux.HandleFunc("/api/fix", s.handleFix)

	// Odometer API
	mux.HandleFunc("/api/odo/reset-trip", s.handleResetTrip)

	return mux
}

// Run starts the HTTP server and the driver polling loop.
func (s *Server) Run(ctx context.Context) error {
	go s.pollLoop(ctx)
	if s.pubCh != nil {
		go s.publishLoop(ctx)
	}

	// Persist odometer every 30 seconds
	odoTicker := time.NewTicker(30 * time.Second)
	go func() {
		defer odoTicker.Stop()
		for {
			select {
			case <-ctx.Done():
				s.saveOdometer()
				return
			case <-odoTicker.C:
				s.saveOdometer()
			}
		}
	}()

	srv := &http.Server{
		Addr:    s.cfg.Server.ListenAddr,
		Handler: s.Handler(),
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	log.Printf("[server] listening on %s", s.cfg.Server.ListenAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade error: %v", err)
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, 64),
	}

	s.clientsMu.Lock()
	s.clients[client] = struct{}{}
	n := len(s.clients)
	s.clientsMu.Unlock()

	log.Printf("[ws] client connected (%d total)", n)

	// Send the last fix + odometer so the page is not blank until the next one
	if data, err := json.Marshal(s.snapshotFrame()); err == nil {
		client.send <- data
	}

	// Writer goroutine
	go func() {
		defer conn.Close()
		for msg := range client.send {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				break
			}
		}
	}()

	// Reader goroutine (handle incoming messages / keep-alive)
	go func() {
		defer func() {
			s.clientsMu.Lock()
			delete(s.clients, client)
			n := len(s.clients)
			close(client.send)
			s.clientsMu.Unlock()
			log.Printf("[ws] client disconnected (%d total)", n)
		}()
		for {
			_, _, err := conn.ReadMessage()
			if err != nil {
				break
			}
		}
	}()
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		data, err := s.cfg.ToJSON()
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)

	case http.MethodPost:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "bad request", 400)
			return
		}
		if err := s.cfg.UpdateFromJSON(body); err != nil {
			http.Error(w, err.Error(), 400)
			return
		}
		if err := s.cfg.Save(); err != nil {
			log.Printf("[config] save failed: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))

	default:
		http.Error(w, "method not allowed", 405)
	}
}

func (s *Server) handleFix(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", 405)
		return
	}
	data, err := json.Marshal(s.snapshotFrame())
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func (s *Server) handleResetTrip(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", 405)
		return
	}
	s.odoMu.Lock()
	s.odoTrip = 0
	s.odoMu.Unlock()
	s.saveOdometer()
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// pollLoop is the only caller of src.Update, which must not run
// concurrently with itself.
func (s *Server) pollLoop(ctx context.Context) {
	pollMs := s.cfg.GPS.PollMs
	if pollMs <= 0 {
		pollMs = 50
	}
	ticker := time.NewTicker(time.Duration(pollMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Close()
			return
		case now := <-ticker.C:
			s.poll(now)
		}
	}
}

// poll runs one driver update and fans out a fresh fix if one is ready.
func (s *Server) poll(now time.Time) bool {
	if s.src == nil {
		return false
	}
	s.src.Update()
	fix, ok := s.src.GetLatestData()
	if !ok {
		return false
	}

	s.lastMu.Lock()
	s.lastFix = &fix
	s.lastStamp = now.UnixMilli()
	s.lastMu.Unlock()

	if fix.Valid {
		s.updateOdometer(fix)
	}
	s.logger.Record(now, fix)

	if s.pubCh != nil {
		select {
		case s.pubCh <- publishReq{now: now, fix: fix}:
		default:
			log.Printf("[mqtt] publisher backed up, dropping fix %d", fix.UTCTime)
		}
	}

	s.broadcast(s.snapshotFrame())
	return true
}

func (s *Server) publishLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-s.pubCh:
			if err := s.pub.Publish(req.now, req.fix); err != nil {
				log.Printf("[mqtt] %v", err)
			}
		}
	}
}

// snapshotFrame builds a frame from the last consumed fix.
func (s *Server) snapshotFrame() Frame {
	frame := Frame{Stamp: time.Now().UnixMilli()}

	s.lastMu.Lock()
	if s.lastFix != nil {
		fix := *s.lastFix
		frame.Fix = &fix
		frame.Stamp = s.lastStamp
	}
	s.lastMu.Unlock()

	if s.src != nil {
		st := s.src.Stats()
		frame.Stats = &st
	}

	s.odoMu.Lock()
	frame.Odo = &OdoData{Total: math.Round(s.odoTotal*10) / 10, Trip: math.Round(s.odoTrip*10) / 10}
	s.odoMu.Unlock()
	return frame
}

// updateOdometer accumulates distance from GPS position changes.
func (s *Server) updateOdometer(fix gps.Fix) {
	s.odoMu.Lock()
	defer s.odoMu.Unlock()

	if !s.lastGPSValid {
		// First valid fix — seed position, don't accumulate
		s.lastGPSLat = fix.Latitude
		s.lastGPSLon = fix.Longitude
		s.lastGPSValid = true
		return
	}

	dist := haversineKm(s.lastGPSLat, s.lastGPSLon, fix.Latitude, fix.Longitude)

	// Sanity check: ignore jumps > 500m between fixes (GPS glitch)
	if dist > 0.5 {
		s.lastGPSLat = fix.Latitude
		s.lastGPSLon = fix.Longitude
		return
	}

	// Minimum movement threshold: ~2 meters
	if dist > 0.002 {
		s.odoTotal += dist
		s.odoTrip += dist
		s.lastGPSLat = fix.Latitude
		s.lastGPSLon = fix.Longitude
	}
}

// haversineKm calculates the great-circle distance between two lat/lon points.
func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371.0 // Earth radius km
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}

// loadOdometer reads persisted odometer values from disk.
func (s *Server) loadOdometer() {
	data, err := os.ReadFile(s.odoPath)
	if err != nil {
		log.Printf("[odo] no saved data at %s (starting at 0)", s.odoPath)
		return
	}
	parts := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(parts) >= 1 {
		if v, err := strconv.ParseFloat(parts[0], 64); err == nil {
			s.odoTotal = v
		}
	}
	if len(parts) >= 2 {
		if v, err := strconv.ParseFloat(parts[1], 64); err == nil {
			s.odoTrip = v
		}
	}
	log.Printf("[odo] loaded: total=%.1f km, trip=%.1f km", s.odoTotal, s.odoTrip)
}

// saveOdometer persists odometer values to disk.
func (s *Server) saveOdometer() {
	s.odoMu.Lock()
	total := s.odoTotal
	trip := s.odoTrip
	s.odoMu.Unlock()

	// Ensure directory exists
	os.MkdirAll(filepath.Dir(s.odoPath), 0755)

	data := fmt.Sprintf("%.6f\n%.6f\n", total, trip)
	if err := os.WriteFile(s.odoPath, []byte(data), 0644); err != nil {
		log.Printf("[odo] save failed: %v", err)
	}
}

func (s *Server) broadcast(frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}

	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for client := range s.clients {
		select {
		case client.send <- data:
		default:
			// Client too slow, skip
		}
	}
}
