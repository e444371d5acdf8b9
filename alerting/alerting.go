// Package alerting delivers refresh outcomes to external sinks: ntfy push
// notifications on failure and healthchecks.io liveness pings after every
// cycle.
//
// Both sinks are best-effort by contract: network errors are logged and
// swallowed so a broken alerting endpoint can never abort a refresh loop.
// Each sink is gated on its URL being configured; with an empty URL the
// call is a no-op.
package alerting

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mjans/cookie-injector/logger"
)

// Timeout is the hard bound on each outbound alerting call.
const Timeout = 10 * time.Second

// Notifier sends alerts and liveness pings for refresh outcomes.
type Notifier struct {
	// NtfyURL is the ntfy topic URL for failure notifications; empty
	// disables them.
	NtfyURL string

	// HealthcheckURL is the healthchecks.io base URL; empty disables
	// liveness pings.
	HealthcheckURL string

	// Client is the HTTP client for both sinks.  Nil uses a default
	// client with the package Timeout.
	Client *http.Client

	Log *logger.Logger
}

// New creates a Notifier with a Timeout-bounded client.
func New(ntfyURL, healthcheckURL string, log *logger.Logger) *Notifier {
	return &Notifier{
		NtfyURL:        ntfyURL,
		HealthcheckURL: healthcheckURL,
		Client:         &http.Client{Timeout: Timeout},
		Log:            log,
	}
}

// Alert sends a push notification that domain's refresh failed.
func (n *Notifier) Alert(ctx context.Context, domain, errMsg string) {
	if n.NtfyURL == "" {
		return
	}

	body := fmt.Sprintf("Cookie refresh FAILED for %s: %s", domain, errMsg)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.NtfyURL, strings.NewReader(body))
	if err != nil {
		n.Log.Errorf("alerting: build ntfy request for %s: %v", domain, err)
		return
	}
	req.Header.Set("Title", fmt.Sprintf("cookie-injector: %s failed", domain))
	req.Header.Set("Priority", "high")
	req.Header.Set("Tags", "warning,cookie-injector")

	if err := n.do(req); err != nil {
		n.Log.Errorf("alerting: ntfy alert for %s: %v", domain, err)
		return
	}
	n.Log.Infof("alerting: ntfy alert sent for %s", domain)
}

// Ping reports a refresh outcome to the liveness endpoint: GET base on
// success, GET base/fail on failure.
func (n *Notifier) Ping(ctx context.Context, domain string, success bool) {
	if n.HealthcheckURL == "" {
		return
	}

	url := n.HealthcheckURL
	if !success {
		url += "/fail"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		n.Log.Errorf("alerting: build healthcheck request for %s: %v", domain, err)
		return
	}

	if err := n.do(req); err != nil {
		n.Log.Errorf("alerting: healthcheck ping for %s: %v", domain, err)
		return
	}
	n.Log.Infof("alerting: healthcheck pinged for %s (success=%t)", domain, success)
}

// do executes req, drains the body, and converts non-2xx statuses to
// errors.
func (n *Notifier) do(req *http.Request) error {
	client := n.Client
	if client == nil {
		client = &http.Client{Timeout: Timeout}
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _, _ = io.Copy(io.Discard, resp.Body); resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("alerting: %s returned HTTP %d", req.URL.Host, resp.StatusCode)
	}
	return nil
}
