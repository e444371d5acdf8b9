package injector

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/mjans/cookie-injector/logger"
)

// Server is the forward-proxy runtime hosting the injection addon.
//
// Plain HTTP requests are intercepted: the addon's Request hook runs before
// forwarding and may rewrite headers or short-circuit the flow, and the
// Response hook runs on the upstream reply.  CONNECT requests are tunnelled
// byte-for-byte without interception; clients targeting TLS paywalls are
// expected to speak plain HTTP to the proxy and let it carry the request
// upstream over TLS.
type Server struct {
	addr  string
	addon Addon
	log   *logger.Logger

	// upstream never follows redirects: the downstream client must see
	// them, Set-Cookie headers included.
	upstream *http.Client

	httpServer *http.Server
	listener   net.Listener
	running    bool
	mu         sync.RWMutex
}

// NewServer creates a proxy server that runs addon on every intercepted
// flow.
func NewServer(addr string, addon Addon, log *logger.Logger) *Server {
	return &Server{
		addr:  addr,
		addon: addon,
		log:   log,
		upstream: &http.Client{
			Timeout: 60 * time.Second,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Start begins listening and serving.  It is non-blocking; serve errors
// after a clean Stop are swallowed.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("injector: proxy server is already running")
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("injector: listen on %s: %w", s.addr, err)
	}
	s.listener = listener
	s.httpServer = &http.Server{
		Handler:      s,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	s.running = true
	s.mu.Unlock()

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.log.Errorf("injector: proxy serve: %v", err)
		}
	}()
	s.log.Infof("injector: proxy listening on %s", listener.Addr())
	return nil
}

// Stop shuts the proxy down, waiting for in-flight exchanges up to ctx's
// deadline.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	s.running = false
	return s.httpServer.Shutdown(ctx)
}

// Addr returns the bound listen address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// ServeHTTP dispatches between tunnelled CONNECT traffic and intercepted
// plain-HTTP flows.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodConnect {
		s.tunnel(w, r)
		return
	}
	s.intercept(w, r)
}

// intercept runs the addon hooks around one forwarded exchange.
func (s *Server) intercept(w http.ResponseWriter, r *http.Request) {
	outReq, err := outboundRequest(r)
	if err != nil {
		http.Error(w, fmt.Sprintf("injector: build upstream request: %v", err), http.StatusBadGateway)
		return
	}

	flow := NewFlow(outReq)
	s.addon.Request(flow)
	if flow.ShortCircuited() {
		writeResponse(w, flow.Response)
		return
	}

	resp, err := s.upstream.Do(outReq)
	if err != nil {
		http.Error(w, fmt.Sprintf("injector: upstream request failed: %v", err), http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	flow.Response = resp
	s.addon.Response(flow)
	writeResponse(w, flow.Response)
}

// tunnel blindly relays a CONNECT exchange.
func (s *Server) tunnel(w http.ResponseWriter, r *http.Request) {
	upstream, err := net.DialTimeout("tcp", r.Host, 10*time.Second)
	if err != nil {
		http.Error(w, fmt.Sprintf("injector: connect to %s: %v", r.Host, err), http.StatusBadGateway)
		return
	}

	hijacker, ok := w.(http.Hijacker)
	if !ok {
		upstream.Close()
		http.Error(w, "injector: hijacking not supported", http.StatusInternalServerError)
		return
	}
	client, _, err := hijacker.Hijack()
	if err != nil {
		upstream.Close()
		return
	}

	client.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n")) //nolint:errcheck

	go func() {
		defer upstream.Close()
		defer client.Close()
		io.Copy(upstream, client) //nolint:errcheck
	}()
	go func() {
		defer upstream.Close()
		defer client.Close()
		io.Copy(client, upstream) //nolint:errcheck
	}()
}

// outboundRequest rebuilds the inbound proxy request as an upstream-ready
// request with hop-by-hop headers stripped.
func outboundRequest(r *http.Request) (*http.Request, error) {
	targetURL := r.URL
	if !targetURL.IsAbs() {
		targetURL = &url.URL{
			Scheme:   "http",
			Host:     r.Host,
			Path:     r.URL.Path,
			RawQuery: r.URL.RawQuery,
		}
	}

	outReq, err := http.NewRequestWithContext(r.Context(), r.Method, targetURL.String(), r.Body)
	if err != nil {
		return nil, err
	}
	for key, values := range r.Header {
		for _, value := range values {
			outReq.Header.Add(key, value)
		}
	}
	removeHopByHopHeaders(outReq.Header)
	return outReq, nil
}

// writeResponse copies resp to w.
func writeResponse(w http.ResponseWriter, resp *http.Response) {
	removeHopByHopHeaders(resp.Header)
	for key, values := range resp.Header {
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}
	w.WriteHeader(resp.StatusCode)
	if resp.Body != nil {
		io.Copy(w, resp.Body) //nolint:errcheck
	}
}

// removeHopByHopHeaders strips RFC 7230 hop-by-hop headers in place.
func removeHopByHopHeaders(h http.Header) {
	for _, field := range strings.Split(h.Get("Connection"), ",") {
		if field = strings.TrimSpace(field); field != "" {
			h.Del(field)
		}
	}
	for _, field := range []string{
		"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
		"Proxy-Connection", "Te", "Trailer", "Transfer-Encoding", "Upgrade",
	} {
		h.Del(field)
	}
}
