// Package health computes per-domain and overall cookie-jar status from
// the persisted store and serves it over HTTP.
package health

import (
	"math"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/mjans/cookie-injector/cookiestore"
)

// Report is the health response payload.
type Report struct {
	// Status is "ok" when every jar is ok, "error" when there are no
	// jars or every jar failed to load, and "degraded" otherwise.
	Status    string                    `json:"status"`
	Timestamp string                    `json:"timestamp"`
	Sites     map[string]map[string]any `json:"sites"`
}

// Aggregate builds the complete health report from every jar file under
// cookieDir.  Only files with a literal ".json" suffix are considered, so
// in-flight ".json.tmp" siblings never surface.
func Aggregate(cookieDir string) Report {
	sites := make(map[string]map[string]any)

	paths, _ := filepath.Glob(filepath.Join(cookieDir, "*.json"))
	sort.Strings(paths)
	for _, path := range paths {
		base := filepath.Base(path)
		if !strings.HasSuffix(base, ".json") {
			continue
		}
		domain := strings.TrimSuffix(base, ".json")
		sites[domain] = siteStatus(path)
	}

	allError := true
	allOK := true
	for _, s := range sites {
		switch s["status"] {
		case "error":
			allOK = false
		case "ok":
			allError = false
		default:
			allOK = false
			allError = false
		}
	}

	overall := "degraded"
	switch {
	case len(sites) == 0 || allError:
		overall = "error"
	case allOK:
		overall = "ok"
	}

	return Report{
		Status:    overall,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Sites:     sites,
	}
}

// siteStatus computes the health entry for one jar file.
func siteStatus(path string) map[string]any {
	cookies, meta, err := cookiestore.Load(path)
	if err != nil {
		return map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}

	status, valid := cookiestore.Classify(cookies)
	if status == cookiestore.StatusExpired {
		return map[string]any{
			"status":                    "expired",
			"cookies_count":             0,
			"cookies_valid_until":       nil,
			"time_remaining_hours":      0.0,
			"last_refresh":              orNil(meta.RefreshedAt),
			"next_refresh":              orNil(meta.NextRefresh),
			"session_cookie_workaround": meta.SessionCookieWorkaround,
		}
	}

	minExpiry := cookiestore.EarliestExpiry(valid)
	remaining := float64(minExpiry - time.Now().Unix())
	return map[string]any{
		"status":                    string(status),
		"cookies_count":             len(valid),
		"cookies_valid_until":       time.Unix(minExpiry, 0).UTC().Format(time.RFC3339),
		"time_remaining_hours":      math.Round(remaining/3600*10) / 10,
		"last_refresh":              orNil(meta.RefreshedAt),
		"next_refresh":              orNil(meta.NextRefresh),
		"session_cookie_workaround": meta.SessionCookieWorkaround,
	}
}

// orNil maps an empty string to a JSON null.
func orNil(s string) any {
	if s == "" {
		return nil
	}
	return s
}
