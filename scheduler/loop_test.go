package scheduler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/mjans/cookie-injector/alerting"
	"github.com/mjans/cookie-injector/config"
	"github.com/mjans/cookie-injector/logger"
	"github.com/mjans/cookie-injector/metrics"
	"github.com/mjans/cookie-injector/refresh"
)

// sinkRecorder captures ntfy and healthcheck traffic for assertions.
type sinkRecorder struct {
	mu     sync.Mutex
	bodies []string
	titles []string
	pings  []string
}

func (r *sinkRecorder) servers(t *testing.T) (ntfy, hc *httptest.Server) {
	t.Helper()
	ntfy = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		b, _ := io.ReadAll(req.Body)
		r.mu.Lock()
		r.bodies = append(r.bodies, string(b))
		r.titles = append(r.titles, req.Header.Get("Title"))
		r.mu.Unlock()
	}))
	t.Cleanup(ntfy.Close)
	hc = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		r.mu.Lock()
		r.pings = append(r.pings, req.URL.Path)
		r.mu.Unlock()
	}))
	t.Cleanup(hc.Close)
	return ntfy, hc
}

func TestManager_ReportsOutcomes(t *testing.T) {
	rec := &sinkRecorder{}
	ntfy, hc := rec.servers(t)

	log := logger.New(logger.LevelError)
	cfg := &config.Config{
		Sites:     []config.Site{{Domain: "nrc.nl"}},
		CookieDir: t.TempDir(),
	}
	m := metrics.New()
	mgr := NewManager(cfg, refresh.NewGate(1), alerting.New(ntfy.URL, hc.URL, log), m, log)

	// First cycle fails, every later one succeeds.  Only one site loop
	// runs, so the counter needs no lock.
	attempts := 0
	mgr.refreshFn = func(ctx context.Context, site config.Site, gate *refresh.Gate, dir string, lg *logger.Logger) error {
		attempts++
		if attempts == 1 {
			return errors.New("login failed")
		}
		return nil
	}

	// sleepForNext runs after each cycle's outcome has been reported (and
	// once at startup), so its calls mark safe points to count cycles.
	cycles := make(chan struct{}, 16)
	mgr.sleepForNext = func(domain, dir string) time.Duration {
		cycles <- struct{}{}
		return time.Millisecond
	}

	ctx, cancel := context.WithCancel(context.Background())
	mgr.Start(ctx)

	// Startup check + two completed cycles.
	for i := 0; i < 3; i++ {
		select {
		case <-cycles:
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for refresh cycles")
		}
	}
	cancel()
	mgr.Wait()

	ok, failed, _, _, _ := m.Snapshot()
	if failed < 1 {
		t.Errorf("refresh failed counter: got %d, want >= 1", failed)
	}
	if ok < 1 {
		t.Errorf("refresh success counter: got %d, want >= 1", ok)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.bodies) < 1 {
		t.Fatal("no ntfy alert was sent for the failed cycle")
	}
	wantBody := "Cookie refresh FAILED for nrc.nl: login failed"
	if rec.bodies[0] != wantBody {
		t.Errorf("alert body: got %q, want %q", rec.bodies[0], wantBody)
	}
	if want := "cookie-injector: nrc.nl failed"; rec.titles[0] != want {
		t.Errorf("alert title: got %q, want %q", rec.titles[0], want)
	}

	var failPings, okPings int
	for _, p := range rec.pings {
		if p == "/fail" {
			failPings++
		} else {
			okPings++
		}
	}
	if failPings < 1 {
		t.Errorf("failure pings: got %d, want >= 1", failPings)
	}
	if okPings < 1 {
		t.Errorf("success pings: got %d, want >= 1", okPings)
	}
}

func TestManager_StartupSkipWithFreshCookies(t *testing.T) {
	log := logger.New(logger.LevelError)
	cfg := &config.Config{
		Sites:     []config.Site{{Domain: "nrc.nl"}},
		CookieDir: t.TempDir(),
	}
	mgr := NewManager(cfg, refresh.NewGate(1), alerting.New("", "", log), metrics.New(), log)

	refreshed := make(chan struct{}, 1)
	mgr.refreshFn = func(ctx context.Context, site config.Site, gate *refresh.Gate, dir string, lg *logger.Logger) error {
		refreshed <- struct{}{}
		return nil
	}
	mgr.sleepForNext = func(domain, dir string) time.Duration { return StartupSkipThreshold }

	ctx, cancel := context.WithCancel(context.Background())
	mgr.Start(ctx)

	select {
	case <-refreshed:
		t.Error("refresh ran despite fresh cookies at startup")
	case <-time.After(100 * time.Millisecond):
	}
	cancel()
	mgr.Wait()
}

func TestManager_StartIsIdempotent(t *testing.T) {
	log := logger.New(logger.LevelError)
	cfg := &config.Config{
		Sites:     []config.Site{{Domain: "nrc.nl"}},
		CookieDir: t.TempDir(),
	}
	mgr := NewManager(cfg, refresh.NewGate(1), alerting.New("", "", log), metrics.New(), log)

	var mu sync.Mutex
	starts := 0
	mgr.refreshFn = func(ctx context.Context, site config.Site, gate *refresh.Gate, dir string, lg *logger.Logger) error {
		mu.Lock()
		starts++
		mu.Unlock()
		return nil
	}
	mgr.sleepForNext = func(domain, dir string) time.Duration { return time.Hour }

	ctx, cancel := context.WithCancel(context.Background())
	mgr.Start(ctx)
	mgr.Start(ctx) // must not spawn a second loop for the site

	time.Sleep(100 * time.Millisecond)
	cancel()
	mgr.Wait()

	mu.Lock()
	defer mu.Unlock()
	if starts != 1 {
		t.Errorf("refresh invocations: got %d, want 1", starts)
	}
}
