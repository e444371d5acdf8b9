package injector

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/mjans/cookie-injector/cookiestore"
	"github.com/mjans/cookie-injector/domain"
	"github.com/mjans/cookie-injector/logger"
	"github.com/mjans/cookie-injector/metrics"
)

// metaStatus is the Flow.Meta key holding the injection status between the
// request and response hooks.
const metaStatus = "cookie-injector-status"

// Injector is the cookie-injecting addon.
type Injector struct {
	// CookieDir is the directory holding {domain}.json jar files.
	CookieDir string

	Metrics *metrics.Metrics
	Log     *logger.Logger
}

// errorBody is the JSON payload of a short-circuit 502.
type errorBody struct {
	Error   string `json:"error"`
	Domain  string `json:"domain"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// Request applies the injection policy to one intercepted request.
//
// Hosts with no canonical domain (IP literals, bare names) pass through
// untouched so non-paywall traffic is never broken.  A missing, unreadable,
// or fully expired jar short-circuits with a 502.  Otherwise the Cookie
// header is rewritten from the jar's valid cookies, in jar order, and the
// freshness status is stashed for the response hook.
func (i *Injector) Request(f *Flow) {
	host := f.Request.URL.Hostname()
	if host == "" {
		host = f.Request.Host
	}

	dom, err := domain.Canonical(host)
	if err != nil {
		i.Log.Debugf("injector: %s: no canonical domain, passing through", host)
		i.Metrics.IncPassedThrough()
		return
	}

	cookies, _, err := cookiestore.Load(cookiestore.JarPath(i.CookieDir, dom))
	if errors.Is(err, cookiestore.ErrNotFound) {
		i.Log.Warnf("injector: %s: jar file missing", dom)
		i.shortCircuit(f, dom, "missing")
		return
	}
	if err != nil {
		i.Log.Errorf("injector: %s: jar load failed: %v", dom, err)
		i.shortCircuit(f, dom, "error")
		return
	}

	status, valid := cookiestore.Classify(cookies)
	if status == cookiestore.StatusExpired {
		i.Log.Warnf("injector: %s: all cookies expired", dom)
		i.shortCircuit(f, dom, "expired")
		return
	}

	f.Request.Header.Set("Cookie", cookiestore.FormatCookieHeader(valid))
	f.Meta[metaStatus] = string(status)
	i.Metrics.IncInjected()
	i.Log.Infof("injector: %s: injected %d cookies (status=%s)", dom, len(valid), status)
}

// Response stamps the injection status onto the upstream response of a
// successfully injected flow.
func (i *Injector) Response(f *Flow) {
	status, ok := f.Meta[metaStatus]
	if !ok || f.Response == nil {
		return
	}
	if f.Response.Header == nil {
		f.Response.Header = make(http.Header)
	}
	f.Response.Header.Set(StatusHeader, status)
}

// shortCircuit answers the flow with a synthesised 502.
func (i *Injector) shortCircuit(f *Flow, dom, reason string) {
	body, err := json.MarshalIndent(errorBody{
		Error:   "cookie_injector_no_valid_cookies",
		Domain:  dom,
		Message: fmt.Sprintf("No valid authentication cookies available. Reason: %s", reason),
		Status:  reason,
	}, "", "  ")
	if err != nil {
		body = []byte(`{"error":"cookie_injector_no_valid_cookies"}`)
	}

	header := make(http.Header)
	header.Set("Content-Type", "application/json")
	header.Set(StatusHeader, reason)

	f.Response = &http.Response{
		StatusCode:    http.StatusBadGateway,
		Status:        "502 Bad Gateway",
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       f.Request,
	}
	i.Metrics.IncShortCircuited()
	i.Log.Warnf("injector: %s: returned 502 (reason=%s)", dom, reason)
}
