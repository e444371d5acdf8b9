package injector_test

import (
	"encoding/json"
	"io"
	"net/http"
	"os"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mjans/cookie-injector/cookiestore"
	"github.com/mjans/cookie-injector/injector"
	"github.com/mjans/cookie-injector/logger"
	"github.com/mjans/cookie-injector/metrics"
)

func newInjector(t *testing.T) (*injector.Injector, *metrics.Metrics, string) {
	t.Helper()
	dir := t.TempDir()
	m := metrics.New()
	return &injector.Injector{
		CookieDir: dir,
		Metrics:   m,
		Log:       logger.New(logger.LevelError),
	}, m, dir
}

func flowFor(t *testing.T, url string) *injector.Flow {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, url, nil)
	return injector.NewFlow(req)
}

func decode502(t *testing.T, f *injector.Flow) map[string]string {
	t.Helper()
	if f.Response == nil {
		t.Fatal("flow was not short-circuited")
	}
	if f.Response.StatusCode != http.StatusBadGateway {
		t.Fatalf("status: got %d, want 502", f.Response.StatusCode)
	}
	if ct := f.Response.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: got %q, want application/json", ct)
	}
	raw, err := io.ReadAll(f.Response.Body)
	if err != nil {
		t.Fatal(err)
	}
	var body map[string]string
	if err := json.Unmarshal(raw, &body); err != nil {
		t.Fatalf("502 body is not JSON: %v\n%s", err, raw)
	}
	return body
}

func TestRequest_InjectsValidCookies(t *testing.T) {
	inj, m, dir := newInjector(t)
	if err := cookiestore.Save("nrc.nl", []cookiestore.Cookie{
		{Name: "sid", Value: "abc", Expires: time.Now().Unix() + 48*3600},
		{Name: "pref", Value: "x", Expires: time.Now().Unix() + 72*3600},
	}, dir, "scheduled", ""); err != nil {
		t.Fatal(err)
	}

	f := flowFor(t, "https://www.nrc.nl/artikel/123")
	inj.Request(f)

	if f.ShortCircuited() {
		t.Fatal("flow short-circuited despite valid cookies")
	}
	if got, want := f.Request.Header.Get("Cookie"), "sid=abc; pref=x"; got != want {
		t.Errorf("Cookie header: got %q, want %q", got, want)
	}
	_, _, injected, _, _ := m.Snapshot()
	if injected != 1 {
		t.Errorf("injected counter: got %d, want 1", injected)
	}
}

func TestResponse_StampsStatusHeader(t *testing.T) {
	inj, _, dir := newInjector(t)
	if err := cookiestore.Save("nrc.nl", []cookiestore.Cookie{
		{Name: "sid", Value: "abc", Expires: time.Now().Unix() + 48*3600},
	}, dir, "scheduled", ""); err != nil {
		t.Fatal(err)
	}

	f := flowFor(t, "https://www.nrc.nl/")
	inj.Request(f)
	f.Response = &http.Response{StatusCode: 200, Header: make(http.Header)}
	inj.Response(f)

	if got := f.Response.Header.Get(injector.StatusHeader); got != "ok" {
		t.Errorf("%s: got %q, want ok", injector.StatusHeader, got)
	}
}

func TestResponse_ExpiringStatusPropagates(t *testing.T) {
	inj, _, dir := newInjector(t)
	if err := cookiestore.Save("nrc.nl", []cookiestore.Cookie{
		{Name: "sid", Value: "abc", Expires: time.Now().Unix() + 3600},
	}, dir, "scheduled", ""); err != nil {
		t.Fatal(err)
	}

	f := flowFor(t, "https://www.nrc.nl/")
	inj.Request(f)
	if f.ShortCircuited() {
		t.Fatal("expiring cookies must still be injected")
	}
	f.Response = &http.Response{StatusCode: 200, Header: make(http.Header)}
	inj.Response(f)

	if got := f.Response.Header.Get(injector.StatusHeader); got != "expiring" {
		t.Errorf("%s: got %q, want expiring", injector.StatusHeader, got)
	}
}

func TestRequest_ExpiredJarShortCircuits(t *testing.T) {
	inj, m, dir := newInjector(t)
	if err := cookiestore.Save("nrc.nl", []cookiestore.Cookie{
		{Name: "sid", Value: "abc", Expires: time.Now().Unix() - 3600},
	}, dir, "scheduled", ""); err != nil {
		t.Fatal(err)
	}

	f := flowFor(t, "https://www.nrc.nl/artikel/123")
	inj.Request(f)

	body := decode502(t, f)
	if body["error"] != "cookie_injector_no_valid_cookies" {
		t.Errorf("error field: got %q", body["error"])
	}
	if body["domain"] != "nrc.nl" {
		t.Errorf("domain field: got %q, want nrc.nl", body["domain"])
	}
	if body["status"] != "expired" {
		t.Errorf("status field: got %q, want expired", body["status"])
	}
	if want := "No valid authentication cookies available. Reason: expired"; body["message"] != want {
		t.Errorf("message field: got %q, want %q", body["message"], want)
	}
	if got := f.Response.Header.Get(injector.StatusHeader); got != "expired" {
		t.Errorf("%s: got %q, want expired", injector.StatusHeader, got)
	}
	_, _, _, blocked, _ := m.Snapshot()
	if blocked != 1 {
		t.Errorf("short-circuit counter: got %d, want 1", blocked)
	}
}

func TestRequest_MissingJarShortCircuits(t *testing.T) {
	inj, _, _ := newInjector(t)

	f := flowFor(t, "https://www.economist.com/")
	inj.Request(f)

	body := decode502(t, f)
	if body["status"] != "missing" {
		t.Errorf("status field: got %q, want missing", body["status"])
	}
	if body["domain"] != "economist.com" {
		t.Errorf("domain field: got %q, want economist.com", body["domain"])
	}
}

func TestRequest_MalformedJarShortCircuitsWithError(t *testing.T) {
	inj, _, dir := newInjector(t)
	path := cookiestore.JarPath(dir, "nrc.nl")
	if err := os.WriteFile(path, []byte("{broken"), 0o644); err != nil {
		t.Fatal(err)
	}

	f := flowFor(t, "https://www.nrc.nl/")
	inj.Request(f)

	body := decode502(t, f)
	if body["status"] != "error" {
		t.Errorf("status field: got %q, want error", body["status"])
	}
}

func TestRequest_UncanonicalHostPassesThrough(t *testing.T) {
	inj, m, _ := newInjector(t)

	for _, url := range []string{
		"http://127.0.0.1:8081/health",
		"http://localhost/metrics",
	} {
		f := flowFor(t, url)
		inj.Request(f)
		if f.ShortCircuited() {
			t.Errorf("%s: flow short-circuited, want pass-through", url)
		}
		if c := f.Request.Header.Get("Cookie"); c != "" {
			t.Errorf("%s: Cookie header set to %q, want empty", url, c)
		}
	}
	_, _, _, _, passed := m.Snapshot()
	if passed != 2 {
		t.Errorf("passed-through counter: got %d, want 2", passed)
	}
}
