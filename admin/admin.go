// Package admin implements the control surface: start/stop/status/
// filter/cache/log operations exposed over a local HTTP API, routed
// through chi instead of a bare http.ServeMux, and rate-limited per
// client IP.
package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/boltproxy/boltproxy"
	"github.com/boltproxy/boltproxy/internal/proxy"
	"github.com/boltproxy/boltproxy/internal/store"
)

// Server is the administrative control surface. It serializes every
// listener-mutating operation (start/stop) under its own mutex.
type Server struct {
	mu sync.Mutex

	cfg        *boltproxy.Config
	controller *boltproxy.Controller
	cache      *store.Cache
	denylist   *store.Denylist
	log        *store.Log
	metrics    *boltproxy.Metrics
	registry   *prometheus.Registry
	zlog       *zap.Logger

	port int
}

// New builds the admin Server around the three shared stores and the
// lifecycle controller it will drive.
func New(cfg *boltproxy.Config, cache *store.Cache, denylist *store.Denylist, log *store.Log, zlog *zap.Logger) *Server {
	if zlog == nil {
		zlog = zap.NewNop()
	}
	return &Server{
		cfg:      cfg,
		cache:    cache,
		denylist: denylist,
		log:      log,
		zlog:     zlog.Named("admin"),
		registry: prometheus.NewRegistry(),
	}
}

// Router builds the chi router backing the admin HTTP API.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(httprate.LimitByIP(100, time.Minute))

	r.Post("/start", s.handleStart)
	r.Post("/stop", s.handleStop)
	r.Get("/status", s.handleStatus)

	r.Get("/logs", s.handleLogsView)
	r.Post("/logs/clear", s.handleLogsClear)

	r.Get("/cache", s.handleCacheView)
	r.Post("/cache/clear", s.handleCacheClear)

	r.Get("/filter", s.handleFilterView)
	r.Post("/filter/add", s.handleFilterAdd)
	r.Post("/filter/remove", s.handleFilterRemove)

	r.Get("/metrics", s.handleMetrics)

	return otelhttp.NewHandler(r, "boltproxy-admin")
}

type statusResponse struct {
	Running       bool `json:"running"`
	ActiveWorkers int  `json:"active_workers"`
	CacheSize     int  `json:"cache_size"`
	DenylistSize  int  `json:"denylist_size"`
	Port          int  `json:"port"`
}

// handleStart calls Controller.Start on the configured port; on
// failure it retries the fallback ports in order. This port-fallback
// policy lives here, in the control surface, not inside the core
// controller.
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.controller != nil && s.controller.Listening() {
		writeJSON(w, statusResponse{Running: true, Port: s.port})
		return
	}

	handler := s.buildHandler()
	candidates := append([]int{s.cfg.Port}, boltproxy.FallbackPorts...)

	var lastErr error
	for _, port := range candidates {
		c := boltproxy.NewController(s.cfg.Host, port, handler, s.cfg.WorkerJoinTimeout, s.cfg.MaxConcurrentWorkers, s.zlog)
		if c.Start() {
			s.controller = c
			s.port = port
			if tcpAddr, ok := c.Addr().(*net.TCPAddr); ok {
				s.port = tcpAddr.Port
			}
			s.metrics = boltproxy.NewMetrics(s.registry, c, s.cache, s.denylist)
			writeJSON(w, statusResponse{Running: true, Port: s.port})
			return
		}
		lastErr = fmt.Errorf("bind %s:%d failed", s.cfg.Host, port)
	}

	w.WriteHeader(http.StatusInternalServerError)
	writeJSON(w, map[string]string{"error": lastErr.Error()})
}

func (s *Server) buildHandler() *proxy.Handler {
	dialer := proxy.NewDialer(s.cfg.UpstreamDialTimeout, s.cfg.UpstreamDialsPerSecond)
	forwarder := proxy.NewForwarder(s.cache, s.denylist, s.log, dialer, s.cfg.UpstreamReadTimeout, s.zlog)
	tunnel := proxy.NewTunnel(s.denylist, s.log, dialer, s.cfg.TunnelIdleTimeout, s.zlog)
	return proxy.NewHandler(forwarder, tunnel, s.cfg.ClientReadTimeout)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.controller != nil {
		s.controller.Stop()
	}
	writeJSON(w, map[string]bool{"success": true})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	c := s.controller
	port := s.port
	s.mu.Unlock()

	resp := statusResponse{
		CacheSize:    s.cache.Size(),
		DenylistSize: s.denylist.Size(),
		Port:         port,
	}
	if c != nil {
		resp.Running = c.Listening()
		resp.ActiveWorkers = c.ActiveWorkers()
	}
	writeJSON(w, resp)
}

func (s *Server) handleLogsView(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.log.Enumerate())
}

func (s *Server) handleLogsClear(w http.ResponseWriter, r *http.Request) {
	s.log.Purge()
	writeJSON(w, map[string]bool{"success": true})
}

func (s *Server) handleCacheView(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.cache.Enumerate())
}

func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	s.cache.Purge()
	writeJSON(w, map[string]bool{"success": true})
}

func (s *Server) handleFilterView(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.denylist.Enumerate())
}

type hostRequest struct {
	Host string `json:"host"`
}

func (s *Server) handleFilterAdd(w http.ResponseWriter, r *http.Request) {
	var req hostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Host == "" {
		w.WriteHeader(http.StatusBadRequest)
		writeJSON(w, map[string]string{"error": "host must not be empty"})
		return
	}
	s.denylist.Add(req.Host)
	s.persistDenylist()
	writeJSON(w, map[string]bool{"success": true})
}

func (s *Server) handleFilterRemove(w http.ResponseWriter, r *http.Request) {
	var req hostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Host == "" {
		w.WriteHeader(http.StatusBadRequest)
		writeJSON(w, map[string]string{"error": "host must not be empty"})
		return
	}
	s.denylist.Remove(req.Host)
	s.persistDenylist()
	writeJSON(w, map[string]bool{"success": true})
}

// persistDenylist writes the current denylist back to cfg.DenylistFile,
// when configured, so API-driven changes survive a restart. Failures
// are logged: the in-memory denylist is always the source of truth for
// the running process.
func (s *Server) persistDenylist() {
	if s.cfg.DenylistFile == "" {
		return
	}
	if err := persistDenylistFile(s.cfg.DenylistFile, s.denylist.Enumerate()); err != nil {
		s.zlog.Warn("persisting denylist file failed", zap.Error(err))
	}
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	m := s.metrics
	s.mu.Unlock()
	if m != nil {
		m.ObserveLogEvents(s.log.Enumerate())
	}
	promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
}

// Shutdown stops the underlying controller, if running. It exists so
// the CLI's `run` command can clean up on SIGINT/SIGTERM.
func (s *Server) Shutdown(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.controller != nil {
		s.controller.Stop()
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
