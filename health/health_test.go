package health_test

import (
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mjans/cookie-injector/cookiestore"
	"github.com/mjans/cookie-injector/health"
	"github.com/mjans/cookie-injector/logger"
)

func saveJar(t *testing.T, dir, domain string, expiresIn time.Duration) {
	t.Helper()
	cookies := []cookiestore.Cookie{
		{Name: "sid", Value: "v", Expires: time.Now().Add(expiresIn).Unix()},
	}
	if err := cookiestore.Save(domain, cookies, dir, "scheduled", ""); err != nil {
		t.Fatalf("Save %s: %v", domain, err)
	}
}

func TestAggregate_AllFreshIsOK(t *testing.T) {
	dir := t.TempDir()
	saveJar(t, dir, "nrc.nl", 48*time.Hour)
	saveJar(t, dir, "economist.com", 72*time.Hour)

	report := health.Aggregate(dir)

	if report.Status != "ok" {
		t.Errorf("overall: got %q, want ok", report.Status)
	}
	if len(report.Sites) != 2 {
		t.Fatalf("sites: got %d, want 2", len(report.Sites))
	}
	site := report.Sites["nrc.nl"]
	if site["status"] != "ok" {
		t.Errorf("nrc.nl status: got %v, want ok", site["status"])
	}
	if site["cookies_count"] != 1 {
		t.Errorf("cookies_count: got %v, want 1", site["cookies_count"])
	}
}

func TestAggregate_ExpiringSiteDegrades(t *testing.T) {
	dir := t.TempDir()
	saveJar(t, dir, "nrc.nl", 48*time.Hour)
	saveJar(t, dir, "economist.com", 2*time.Hour)

	report := health.Aggregate(dir)

	if report.Status != "degraded" {
		t.Errorf("overall: got %q, want degraded", report.Status)
	}
	if got := report.Sites["economist.com"]["status"]; got != "expiring" {
		t.Errorf("economist.com status: got %v, want expiring", got)
	}
}

func TestAggregate_NoJarsIsError(t *testing.T) {
	report := health.Aggregate(t.TempDir())
	if report.Status != "error" {
		t.Errorf("overall: got %q, want error", report.Status)
	}
	if len(report.Sites) != 0 {
		t.Errorf("sites: got %d, want 0", len(report.Sites))
	}
}

func TestAggregate_AllBrokenIsError(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "nrc.nl.json"), []byte("{broken"), 0o644); err != nil {
		t.Fatal(err)
	}

	report := health.Aggregate(dir)

	if report.Status != "error" {
		t.Errorf("overall: got %q, want error", report.Status)
	}
	site := report.Sites["nrc.nl"]
	if site["status"] != "error" {
		t.Errorf("site status: got %v, want error", site["status"])
	}
	if site["error"] == nil || site["error"] == "" {
		t.Error("error detail missing from broken site entry")
	}
}

func TestAggregate_ExpiredJarEntry(t *testing.T) {
	dir := t.TempDir()
	saveJar(t, dir, "nrc.nl", -time.Hour)

	report := health.Aggregate(dir)

	site := report.Sites["nrc.nl"]
	if site["status"] != "expired" {
		t.Errorf("status: got %v, want expired", site["status"])
	}
	if site["cookies_count"] != 0 {
		t.Errorf("cookies_count: got %v, want 0", site["cookies_count"])
	}
	if site["cookies_valid_until"] != nil {
		t.Errorf("cookies_valid_until: got %v, want nil", site["cookies_valid_until"])
	}
	if site["time_remaining_hours"] != 0.0 {
		t.Errorf("time_remaining_hours: got %v, want 0", site["time_remaining_hours"])
	}
	if site["last_refresh"] == nil {
		t.Error("last_refresh: got nil, want refresh timestamp")
	}
}

func TestAggregate_TimeRemainingRounded(t *testing.T) {
	dir := t.TempDir()
	saveJar(t, dir, "nrc.nl", 36*time.Hour)

	report := health.Aggregate(dir)

	got, ok := report.Sites["nrc.nl"]["time_remaining_hours"].(float64)
	if !ok {
		t.Fatalf("time_remaining_hours has type %T", report.Sites["nrc.nl"]["time_remaining_hours"])
	}
	if math.Abs(got-36.0) > 0.11 {
		t.Errorf("time_remaining_hours: got %v, want ~36.0", got)
	}
	if got != math.Round(got*10)/10 {
		t.Errorf("time_remaining_hours not rounded to one decimal: %v", got)
	}
}

func TestAggregate_IgnoresTmpFiles(t *testing.T) {
	dir := t.TempDir()
	saveJar(t, dir, "nrc.nl", 48*time.Hour)
	if err := os.WriteFile(filepath.Join(dir, "economist.com.json.tmp"), []byte("{"), 0o644); err != nil {
		t.Fatal(err)
	}

	report := health.Aggregate(dir)

	if len(report.Sites) != 1 {
		t.Fatalf("sites: got %d, want 1", len(report.Sites))
	}
	if _, ok := report.Sites["economist.com"]; ok {
		t.Error("in-flight tmp file surfaced in the report")
	}
}

func TestServer_HealthEndpoints(t *testing.T) {
	dir := t.TempDir()
	saveJar(t, dir, "nrc.nl", 48*time.Hour)
	srv := health.New(dir, logger.New(logger.LevelError))

	for _, path := range []string{"/", "/health"} {
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

		if rec.Code != http.StatusOK {
			t.Errorf("GET %s: status %d, want 200", path, rec.Code)
			continue
		}
		if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
			t.Errorf("GET %s: Content-Type %q, want application/json", path, ct)
		}
		var report health.Report
		if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
			t.Errorf("GET %s: invalid JSON: %v", path, err)
			continue
		}
		if report.Status != "ok" {
			t.Errorf("GET %s: status field %q, want ok", path, report.Status)
		}
	}
}

func TestServer_Dashboard(t *testing.T) {
	srv := health.New(t.TempDir(), logger.New(logger.LevelError))

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/index.html", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "cookie-injector") {
		t.Error("dashboard HTML missing expected content")
	}
}

func TestServer_UnknownPathAndMethod(t *testing.T) {
	srv := health.New(t.TempDir(), logger.New(logger.LevelError))

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("GET /nope: status %d, want 404", rec.Code)
	}

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/health", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("POST /health: status %d, want 404", rec.Code)
	}
}
