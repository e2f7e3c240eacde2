// Package monitor serves the sensor's health, metrics, debug charts and a
// websocket stream of estimates, plus a gRPC health endpoint.
package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/cmplx"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/banshee-data/csi.report/internal/csi/estimate"
	"github.com/banshee-data/csi.report/internal/csi/grouper"
	"github.com/banshee-data/csi.report/internal/csi/network"
	"github.com/banshee-data/csi.report/internal/db"
	"github.com/banshee-data/csi.report/internal/monitoring"
)

var logf = monitoring.Prefixed("monitor")

const (
	DefaultAddress = ":8080"
	defaultHistory = 600
)

// TotalsProvider reports capture counters, e.g. *network.PacketStats.
type TotalsProvider interface {
	Totals() network.Totals
}

// Config configures the HTTP server.
type Config struct {
	Address string
	Stats   TotalsProvider
	Metrics *monitoring.Metrics
	// DB enables the session API and the /debug/ admin routes.
	DB *db.DB
	// History is how many estimate summaries the charts keep.
	History int
}

// Server is the HTTP side of the monitor.
type Server struct {
	address string
	stats   TotalsProvider
	metrics *monitoring.Metrics
	db      *db.DB
	hub     *Hub
	started time.Time

	mu         sync.RWMutex
	latest     *grouper.WifiCsi
	history    []*estimate.Summary
	historyCap int

	server   *http.Server
	listener net.Listener
}

// NewServer builds a server from cfg. Call Listen, then Start.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Address == "" {
		cfg.Address = DefaultAddress
	}
	if cfg.History <= 0 {
		cfg.History = defaultHistory
	}
	s := &Server{
		address:    cfg.Address,
		stats:      cfg.Stats,
		metrics:    cfg.Metrics,
		db:         cfg.DB,
		hub:        NewHub(cfg.Metrics),
		started:    time.Now(),
		historyCap: cfg.History,
	}
	handler, err := s.setupRoutes()
	if err != nil {
		return nil, err
	}
	s.server = &http.Server{
		Addr:              s.address,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

func (s *Server) setupRoutes() (http.Handler, error) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}
	mux.HandleFunc("/api/summaries", s.handleSummaries)
	mux.HandleFunc("/api/snapshot", s.handleSnapshot)
	mux.HandleFunc("/debug/csi/amplitude", s.handleAmplitudeChart)
	mux.HandleFunc("/debug/csi/aoa", s.handleAoAChart)
	mux.HandleFunc("/debug/csi/tof", s.handleToFChart)
	mux.Handle("/ws/csi", s.hub)

	if s.db != nil {
		mux.HandleFunc("/api/sessions", s.handleSessions)
		mux.HandleFunc("/api/sessions/{id}", s.handleSessionSummary)
		if err := s.db.AttachAdminRoutes(mux); err != nil {
			return nil, err
		}
	}
	return mux, nil
}

// Hub returns the websocket hub.
func (s *Server) Hub() *Hub { return s.hub }

// Observe records a snapshot and its summary for the charts and pushes
// the summary to websocket clients.
func (s *Server) Observe(w *grouper.WifiCsi, sum *estimate.Summary) {
	s.mu.Lock()
	s.latest = w
	if sum != nil {
		if len(s.history) == s.historyCap {
			copy(s.history, s.history[1:])
			s.history = s.history[:len(s.history)-1]
		}
		s.history = append(s.history, sum)
	}
	s.mu.Unlock()

	if sum != nil {
		s.hub.Broadcast("summary", sum)
	}
}

func (s *Server) snapshotHistory(limit int) []*estimate.Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h := s.history
	if limit > 0 && len(h) > limit {
		h = h[len(h)-limit:]
	}
	out := make([]*estimate.Summary, len(h))
	copy(out, h)
	return out
}

// Listen binds the HTTP address so bind errors surface before serving.
func (s *Server) Listen() error {
	lis, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.address, err)
	}
	s.listener = lis
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	if s.listener == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}

	errCh := make(chan error, 1)
	go func() {
		logf("HTTP server listening on %s", s.listener.Addr())
		if err := s.server.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logf("shutting down HTTP server...")
	s.hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		logf("HTTP server shutdown error: %v", err)
		s.server.Close()
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logf("failed to encode response: %v", err)
	}
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type healthResponse struct {
	Status           string          `json:"status"`
	UptimeSeconds    float64         `json:"uptime_seconds"`
	WebsocketClients int             `json:"websocket_clients"`
	Capture          *network.Totals `json:"capture,omitempty"`
	LastSeq          *uint16         `json:"last_seq,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:           "ok",
		UptimeSeconds:    time.Since(s.started).Seconds(),
		WebsocketClients: s.hub.Clients(),
	}
	if s.stats != nil {
		t := s.stats.Totals()
		resp.Capture = &t
	}
	s.mu.RLock()
	if s.latest != nil {
		seq := s.latest.SeqCnt
		resp.LastSeq = &seq
	}
	s.mu.RUnlock()
	writeJSON(w, http.StatusOK, resp)
}

func limitParam(r *http.Request, def int) int {
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		return v
	}
	return def
}

func (s *Server) handleSummaries(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.snapshotHistory(limitParam(r, 100)))
}

type snapshotResponse struct {
	SeqCnt    uint16               `json:"seq"`
	ChanSpec  string               `json:"chanspec"`
	RSSI      int8                 `json:"rssi"`
	Mask      uint16               `json:"mask"`
	Amplitude map[string][]float64 `json:"amplitude"`
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	latest := s.latest
	s.mu.RUnlock()
	if latest == nil {
		writeJSONError(w, http.StatusNotFound, "no snapshot yet")
		return
	}

	resp := snapshotResponse{
		SeqCnt:    latest.SeqCnt,
		ChanSpec:  latest.ChanSpec.String(),
		RSSI:      latest.RSSI,
		Mask:      latest.Mask(),
		Amplitude: make(map[string][]float64),
	}
	for core := range latest.Frames {
		for ss, csi := range latest.Frames[core] {
			if csi == nil {
				continue
			}
			amp := make([]float64, len(csi))
			for i, c := range csi {
				amp[i] = cmplx.Abs(c)
			}
			resp.Amplitude[fmt.Sprintf("%d/%d", core, ss)] = amp
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeHTML(w http.ResponseWriter, render func(*bytes.Buffer) error) {
	var buf bytes.Buffer
	if err := render(&buf); err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) handleAmplitudeChart(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	latest := s.latest
	s.mu.RUnlock()
	if latest == nil {
		writeJSONError(w, http.StatusNotFound, "no snapshot yet")
		return
	}
	writeHTML(w, func(buf *bytes.Buffer) error { return renderAmplitude(buf, latest) })
}

func (s *Server) handleAoAChart(w http.ResponseWriter, r *http.Request) {
	history := s.snapshotHistory(limitParam(r, 0))
	writeHTML(w, func(buf *bytes.Buffer) error { return renderAoA(buf, history) })
}

func (s *Server) handleToFChart(w http.ResponseWriter, r *http.Request) {
	history := s.snapshotHistory(limitParam(r, 0))
	writeHTML(w, func(buf *bytes.Buffer) error { return renderToF(buf, history) })
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.db.Sessions(limitParam(r, 50))
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleSessionSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := s.db.SessionSummary(r.PathValue("id"))
	if errors.Is(err, db.ErrSessionNotFound) {
		writeJSONError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sum)
}
