// Package refresh executes site login flows and persists the resulting
// cookies, under a global concurrency cap with retry and exponential
// back-off.
//
// A refresh never clobbers a good jar: cookies are only written after a
// login flow succeeds, and the store's rename protocol keeps the previous
// jar intact on any failure.
package refresh

import (
	"context"
	"fmt"
	"time"

	"github.com/mjans/cookie-injector/browser"
	"github.com/mjans/cookie-injector/config"
	"github.com/mjans/cookie-injector/cookiestore"
	"github.com/mjans/cookie-injector/logger"
)

// MaxAttempts is the total number of login attempts per refresh.
const MaxAttempts = 3

// baseBackoff doubles before each retry: 5s before attempt 2, 10s before
// attempt 3.  A variable so tests can shrink the waits.
var baseBackoff = 5 * time.Second

// FailedError reports that every attempt of a refresh cycle failed.  The
// on-disk jar for the domain is unchanged.
type FailedError struct {
	Domain  string
	LastErr error
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("refresh: all %d attempts failed for %s: %v", MaxAttempts, e.Domain, e.LastErr)
}

func (e *FailedError) Unwrap() error { return e.LastErr }

// launcher creates browser contexts for login flows.  Overridable so the
// operator can configure proxy rotation (SetLauncher) and tests can
// substitute a scripted browser.
var launcher interface {
	Launch(ctx context.Context) (browser.Browser, error)
} = browser.NewLauncher()

// SetLauncher replaces the browser launcher used by all refreshes.  Call
// before any refresh loop starts.
func SetLauncher(l *browser.Launcher) { launcher = l }

// Perform runs the login flow for site and atomically persists the cookies
// it yields.
//
// It makes up to MaxAttempts attempts with exponential back-off between
// them.  The gate permit is held only while a browser is live, not across
// back-off sleeps.  A missing login script is terminal and returned
// immediately; any other failure mode retries, and exhausting all attempts
// returns a *FailedError.
func Perform(ctx context.Context, site config.Site, gate *Gate, cookieDir string, log *logger.Logger) error {
	login, err := lookupScript(site.Domain)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		log.Infof("refresh %s: attempt %d/%d starting", site.Domain, attempt, MaxAttempts)

		cookies, err := runLoginFlow(ctx, site, gate, login)
		if err == nil {
			err = cookiestore.Save(site.Domain, cookies, cookieDir, "scheduled", "")
			if err == nil {
				log.Infof("refresh %s: succeeded on attempt %d with %d cookies", site.Domain, attempt, len(cookies))
				return nil
			}
		}
		lastErr = err
		log.Warnf("refresh %s: attempt %d failed: %v", site.Domain, attempt, err)

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt < MaxAttempts {
			backoff := baseBackoff * (1 << (attempt - 1))
			log.Infof("refresh %s: backing off %s", site.Domain, backoff)
			if err := sleep(ctx, backoff); err != nil {
				return err
			}
		}
	}
	return &FailedError{Domain: site.Domain, LastErr: lastErr}
}

// runLoginFlow acquires a permit, launches a fresh browser context, runs
// the site's login routine, and closes the browser on every exit path.
func runLoginFlow(ctx context.Context, site config.Site, gate *Gate, login LoginFunc) (_ []cookiestore.Cookie, err error) {
	if err := gate.Acquire(ctx); err != nil {
		return nil, err
	}
	defer gate.Release()

	b, err := launcher.Launch(ctx)
	if err != nil {
		return nil, fmt.Errorf("refresh: launch browser for %s: %w", site.Domain, err)
	}
	defer func() {
		if cerr := b.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("refresh: close browser for %s: %w", site.Domain, cerr)
		}
	}()

	cookies, err := login(ctx, b.NewPage(), site)
	if err != nil {
		return nil, fmt.Errorf("refresh: login flow for %s: %w", site.Domain, err)
	}
	return cookies, nil
}

// sleep blocks for d or until ctx is cancelled.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
