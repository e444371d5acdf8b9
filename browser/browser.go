// Package browser provides the headless-login driver behind the refresh
// executor.
//
// Site login scripts are written against the Page interface, which mirrors
// the navigate / fill / click / wait vocabulary of a real browser driver.
// The bundled implementation is an HTTP-flow driver rather than an actual
// browser: it fetches the login page with a fingerprint-coherent client
// (browser-grade TLS ClientHello, HTTP/2, Chrome header set), carries the
// form through a POST, evaluates inline cookie-seeding JavaScript with a
// pure-Go interpreter, and harvests every Set-Cookie it sees.
//
// Each Launch produces a fresh, isolated context: no cookies or connections
// are shared between refresh attempts.
package browser

import (
	"context"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"golang.org/x/net/publicsuffix"

	"github.com/mjans/cookie-injector/cookiestore"
)

// StepTimeout bounds each navigation step inside a login routine.  A hung
// endpoint therefore fails the attempt instead of pinning a concurrency
// permit forever.
const StepTimeout = 30 * time.Second

// Page is the surface a site login script drives.  All methods honour the
// step timeout derived from ctx.
type Page interface {
	// Goto navigates to url and loads the response body.
	Goto(ctx context.Context, url string) error
	// Fill records a value for the form field addressed by a CSS-style
	// selector such as `input[name="username"]`.
	Fill(ctx context.Context, selector, value string) error
	// Click submits the current form (selector addresses the submit
	// control, e.g. `button[type="submit"]`).
	Click(ctx context.Context, selector string) error
	// WaitForURL fails unless the current location matches the glob
	// pattern (`**` matches any run of characters, `*` stops at `/`).
	WaitForURL(ctx context.Context, pattern string) error
	// Cookies returns every cookie collected in this context, in the
	// order first seen.
	Cookies() ([]cookiestore.Cookie, error)
}

// Browser is one isolated login context.
type Browser interface {
	// NewPage returns a page in this context.
	NewPage() Page
	// Close releases the context's transport resources.  It must be
	// called on every exit path of a login flow.
	Close() error
}

// Launcher creates Browser contexts.  The zero value is not usable; call
// NewLauncher.
type Launcher struct {
	// Profile is the fingerprint applied to every request.
	Profile Profile

	// Rotation optionally supplies an upstream proxy per launch.
	Rotation *Rotation

	// StepTimeout overrides the default per-step bound when positive.
	StepTimeout time.Duration
}

// NewLauncher returns a Launcher with the Chrome profile and default step
// timeout.
func NewLauncher() *Launcher {
	return &Launcher{Profile: ChromeProfile(), StepTimeout: StepTimeout}
}

// Launch creates a fresh browser context: its own cookie jar, its own
// connection pool, and (when a Rotation is configured) the next upstream
// proxy in round-robin order.
func (l *Launcher) Launch(ctx context.Context) (Browser, error) {
	var proxyURL *url.URL
	if l.Rotation != nil {
		u, err := l.Rotation.NextURL()
		if err != nil {
			return nil, err
		}
		proxyURL = u
	}

	transport, err := newTransport(l.Profile, proxyURL)
	if err != nil {
		return nil, err
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, err
	}

	solver, err := NewChallengeSolver(l.Profile.UserAgent)
	if err != nil {
		return nil, err
	}

	step := l.StepTimeout
	if step <= 0 {
		step = StepTimeout
	}

	return &flowBrowser{
		client: &http.Client{
			Transport: transport,
			Jar:       jar,
		},
		profile: l.Profile,
		solver:  solver,
		step:    step,
	}, nil
}
