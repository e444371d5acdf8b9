// Package scripts holds the per-site login routines.  Each script
// registers itself with the refresh executor at init time, keyed by its
// canonical domain; importing this package (for side effects) populates
// the registry before any refresh loop starts.
package scripts

import (
	"context"
	"fmt"
	"os"

	"github.com/mjans/cookie-injector/browser"
	"github.com/mjans/cookie-injector/config"
	"github.com/mjans/cookie-injector/cookiestore"
	"github.com/mjans/cookie-injector/refresh"
)

func init() {
	refresh.Register("nrc.nl", loginNRC)
}

// loginNRC performs the nrc.nl form login and returns the context's
// cookies.
func loginNRC(ctx context.Context, page browser.Page, site config.Site) ([]cookiestore.Cookie, error) {
	username, password, err := credentials(site)
	if err != nil {
		return nil, err
	}

	if err := page.Goto(ctx, site.LoginURL); err != nil {
		return nil, err
	}
	if err := page.Fill(ctx, `input[name="username"]`, username); err != nil {
		return nil, err
	}
	if err := page.Fill(ctx, `input[name="password"]`, password); err != nil {
		return nil, err
	}
	if err := page.Click(ctx, `button[type="submit"]`); err != nil {
		return nil, err
	}
	if err := page.WaitForURL(ctx, "**/home**"); err != nil {
		return nil, err
	}
	return page.Cookies()
}

// credentials reads the site's username and password from the environment
// variables its auth block names.  A missing value is a terminal failure.
func credentials(site config.Site) (username, password string, err error) {
	username = os.Getenv(site.Auth.UsernameEnv)
	password = os.Getenv(site.Auth.PasswordEnv)
	if username == "" || password == "" {
		return "", "", fmt.Errorf("scripts: missing credentials for %s: %s / %s",
			site.Domain, site.Auth.UsernameEnv, site.Auth.PasswordEnv)
	}
	return username, password, nil
}
