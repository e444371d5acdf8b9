package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mjans/cookie-injector/browser"
	"github.com/mjans/cookie-injector/config"
	"github.com/mjans/cookie-injector/cookiestore"
)

// ErrNoLoginScript means no login routine is registered for a domain.  It
// is terminal: retrying cannot make a script appear.
var ErrNoLoginScript = errors.New("refresh: no login script registered")

// LoginFunc is a site-specific login routine.  It receives a page in a
// fresh browser context and the site configuration, performs the login,
// and returns the resulting cookies.  Credentials are read from the
// environment variables named in the site's auth block.
type LoginFunc func(ctx context.Context, page browser.Page, site config.Site) ([]cookiestore.Cookie, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]LoginFunc)
)

// Register installs the login routine for domain.  Site script packages
// call Register from init, so the registry is complete before any refresh
// loop starts.  Registering the same domain twice panics: it is a
// programming error that would silently shadow a script.
func Register(domain string, fn LoginFunc) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[domain]; dup {
		panic(fmt.Sprintf("refresh: login script for %q registered twice", domain))
	}
	registry[domain] = fn
}

// lookupScript resolves the login routine for domain.
func lookupScript(domain string) (LoginFunc, error) {
	registryMu.RLock()
	fn, ok := registry[domain]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w for %q", ErrNoLoginScript, domain)
	}
	return fn, nil
}
