package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/mjans/cookie-injector/alerting"
	"github.com/mjans/cookie-injector/config"
	"github.com/mjans/cookie-injector/logger"
	"github.com/mjans/cookie-injector/metrics"
	"github.com/mjans/cookie-injector/refresh"
)

// Manager runs one independent refresh loop per configured site.
//
// Loops share only the concurrency gate: one domain's failures never
// affect another's schedule.  A panic escaping any loop crashes the
// process by design; the service runs supervised and a restart is the
// recovery path for unanticipated errors.
type Manager struct {
	cfg      *config.Config
	gate     *refresh.Gate
	notifier *alerting.Notifier
	metrics  *metrics.Metrics
	log      *logger.Logger

	wg   sync.WaitGroup
	once sync.Once

	// refreshFn and sleepForNext are the loop's two collaborators,
	// held as fields so tests can substitute them.
	refreshFn    func(ctx context.Context, site config.Site, gate *refresh.Gate, cookieDir string, log *logger.Logger) error
	sleepForNext func(domain, cookieDir string) time.Duration
}

// NewManager creates a Manager for cfg's sites.
func NewManager(cfg *config.Config, gate *refresh.Gate, notifier *alerting.Notifier, m *metrics.Metrics, log *logger.Logger) *Manager {
	return &Manager{
		cfg:          cfg,
		gate:         gate,
		notifier:     notifier,
		metrics:      m,
		log:          log,
		refreshFn:    refresh.Perform,
		sleepForNext: SleepForNext,
	}
}

// Start launches one goroutine per configured site.  Idempotent.
func (m *Manager) Start(ctx context.Context) {
	m.once.Do(func() {
		for _, site := range m.cfg.Sites {
			m.wg.Add(1)
			go func(site config.Site) {
				defer m.wg.Done()
				m.runSite(ctx, site)
			}(site)
		}
	})
}

// Wait blocks until every site loop has exited (after ctx cancellation).
func (m *Manager) Wait() {
	m.wg.Wait()
}

// runSite is the forever-loop for one site.
//
// Startup gating: when the persisted cookies are fresh enough that the
// next refresh is at least StartupSkipThreshold away, the initial refresh
// is skipped and the loop sleeps first.  Thereafter each cycle refreshes,
// reports the outcome, and sleeps the adaptive interval (with a
// MinInterval floor so a failing site never tight-loops).
func (m *Manager) runSite(ctx context.Context, site config.Site) {
	dir := m.cfg.CookieDir

	if initial := m.sleepForNext(site.Domain, dir); initial >= StartupSkipThreshold {
		m.log.Infof("loop %s: cookies fresh, first refresh in %.2fh", site.Domain, initial.Hours())
		if !sleepCtx(ctx, initial) {
			return
		}
	}

	for {
		err := m.refreshFn(ctx, site, m.gate, dir, m.log)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			m.log.Errorf("loop %s: scheduled refresh failed: %v", site.Domain, err)
			m.metrics.IncRefreshFailed()
			m.notifier.Alert(ctx, site.Domain, err.Error())
			m.notifier.Ping(ctx, site.Domain, false)
		} else {
			m.metrics.IncRefreshSuccess()
			m.notifier.Ping(ctx, site.Domain, true)
		}

		interval := m.sleepForNext(site.Domain, dir)
		if interval == 0 {
			interval = MinInterval
		}
		m.log.Infof("loop %s: next refresh at %s (%.2fh)",
			site.Domain, time.Now().Add(interval).UTC().Format(time.RFC3339), interval.Hours())
		if !sleepCtx(ctx, interval) {
			return
		}
	}
}

// sleepCtx sleeps for d and reports false when ctx was cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
