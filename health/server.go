package health

import (
	"context"
	_ "embed"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/mjans/cookie-injector/logger"
)

//go:embed static/index.html
var dashboardHTML []byte

// Server serves the health report and the static status dashboard.
//
// Surface:
//   - GET /            – health JSON
//   - GET /health      – same
//   - GET /index.html  – static dashboard
//   - anything else    – 404
type Server struct {
	cookieDir string
	log       *logger.Logger
	mux       *http.ServeMux

	httpServer *http.Server
	mu         sync.Mutex
}

// New creates a health Server reading jars from cookieDir.  Call
// ListenAndServe to start accepting connections.
func New(cookieDir string, log *logger.Logger) *Server {
	s := &Server{
		cookieDir: cookieDir,
		log:       log,
		mux:       http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/", s.handleRoot)
}

// ServeHTTP makes the server mountable in tests without a listener.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ListenAndServe blocks serving HTTP on addr until Shutdown is called.
func (s *Server) ListenAndServe(addr string) error {
	s.mu.Lock()
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	srv := s.httpServer
	s.mu.Unlock()

	err := srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops the server, waiting for in-flight requests up to ctx's
// deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	switch r.URL.Path {
	case "/", "/health":
		s.serveHealthJSON(w)
	case "/index.html":
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write(dashboardHTML) //nolint:errcheck
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) serveHealthJSON(w http.ResponseWriter) {
	report := Aggregate(s.cookieDir)
	body, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		http.Error(w, "encoding failure", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(body) //nolint:errcheck
	s.log.Debugf("health: served report (status=%s)", report.Status)
}
