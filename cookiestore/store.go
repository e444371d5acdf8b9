// Package cookiestore persists authenticated cookies to per-domain JSON jar
// files and classifies their freshness.
//
// Design overview:
//   - Jar files live at {dir}/{domain}.json and are written atomically:
//     the full encoding goes to a {domain}.json.tmp sibling, is fsynced, and
//     is then renamed over the target.  Readers (the proxy addon and the
//     health aggregator) therefore always observe either the previous jar or
//     the new jar, never a torn write, without any in-process locking.
//   - Session cookies (expires == -1) are rewritten to a 30-day expiry
//     before persisting because the headless login driver drops them across
//     restarts; durable storage requires a real expiry.
//   - A failed save leaves the existing jar untouched: the target file is
//     only replaced by the final rename.
package cookiestore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// SessionCookieTTL is the expiry granted to session cookies during fix-up.
const SessionCookieTTL = 30 * 24 * time.Hour

// SessionExpiry is the sentinel meaning "session cookie, no expiry".
const SessionExpiry int64 = -1

// Sentinel errors returned by Load.
var (
	// ErrNotFound means the jar file does not exist.
	ErrNotFound = errors.New("cookiestore: jar file not found")
	// ErrMalformed means the jar file is not a valid jar: invalid JSON or
	// a missing "cookies" key.
	ErrMalformed = errors.New("cookiestore: malformed jar file")
)

// Cookie is one cookie record as produced by a login flow.
// Expires is absolute seconds since epoch; SessionExpiry (-1) marks a
// session cookie.  Optional attributes round-trip untouched.
type Cookie struct {
	Name     string `json:"name"`
	Value    string `json:"value"`
	Domain   string `json:"domain,omitempty"`
	Path     string `json:"path,omitempty"`
	Expires  int64  `json:"expires"`
	Secure   bool   `json:"secure,omitempty"`
	HTTPOnly bool   `json:"httpOnly,omitempty"`
	SameSite string `json:"sameSite,omitempty"`
}

// UnmarshalJSON decodes a cookie, treating a missing "expires" key as a
// session cookie rather than as epoch zero.
func (c *Cookie) UnmarshalJSON(data []byte) error {
	type alias Cookie
	a := alias{Expires: SessionExpiry}
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*c = Cookie(a)
	return nil
}

// Metadata describes one persisted jar.  Field order is the on-disk key
// order.
type Metadata struct {
	RefreshedAt             string `json:"refreshed_at"`
	RefreshSource           string `json:"refresh_source"`
	SiteConfig              string `json:"site_config"`
	CookiesCount            int    `json:"cookies_count"`
	SessionCookieWorkaround bool   `json:"session_cookie_workaround"`
	SessionCookiesConverted int    `json:"session_cookies_converted"`
	NextRefresh             string `json:"next_refresh,omitempty"`
}

// jarFile is the on-disk representation.
type jarFile struct {
	Cookies  []Cookie  `json:"cookies"`
	Metadata *Metadata `json:"metadata,omitempty"`
}

// JarPath returns the jar file path for domain under dir.
func JarPath(dir, domain string) string {
	return filepath.Join(dir, domain+".json")
}

// ApplySessionFixup returns a new slice in which every session cookie
// (expires == -1) carries an explicit expiry of now + SessionCookieTTL.
// Non-session cookies are copied through with their expiry intact.  The
// input slice is never mutated; now is sampled once per call.
func ApplySessionFixup(cookies []Cookie) []Cookie {
	now := time.Now().Unix()
	processed := make([]Cookie, 0, len(cookies))
	for _, c := range cookies {
		if c.Expires == SessionExpiry {
			c.Expires = now + int64(SessionCookieTTL/time.Second)
		}
		processed = append(processed, c)
	}
	return processed
}

// Save applies the session fix-up to cookies and atomically writes the jar
// file for domain under dir.  source records what triggered the refresh
// ("scheduled", "manual", or "startup"); nextRefreshAt, when non-empty, is
// the ISO-8601 time of the next scheduled refresh.
//
// The write protocol is tmp-file + fsync + rename: on any failure before the
// rename the existing jar is untouched.
func Save(domain string, cookies []Cookie, dir, source, nextRefreshAt string) error {
	processed := ApplySessionFixup(cookies)

	sessionCount := 0
	for _, c := range cookies {
		if c.Expires == SessionExpiry {
			sessionCount++
		}
	}

	data := jarFile{
		Cookies: processed,
		Metadata: &Metadata{
			RefreshedAt:             time.Now().UTC().Format(time.RFC3339),
			RefreshSource:           source,
			SiteConfig:              domain,
			CookiesCount:            len(processed),
			SessionCookieWorkaround: sessionCount > 0,
			SessionCookiesConverted: sessionCount,
			NextRefresh:             nextRefreshAt,
		},
	}

	encoded, err := json.MarshalIndent(&data, "", "  ")
	if err != nil {
		return fmt.Errorf("cookiestore: encode jar for %q: %w", domain, err)
	}

	target := JarPath(dir, domain)
	tmp := target + ".tmp"

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644) // #nosec G304 – path derives from operator config
	if err != nil {
		return fmt.Errorf("cookiestore: open %q: %w", tmp, err)
	}
	if _, err := f.Write(encoded); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("cookiestore: write %q: %w", tmp, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("cookiestore: sync %q: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("cookiestore: close %q: %w", tmp, err)
	}

	// Rename within the same directory is atomic on common filesystems;
	// this is the sole reason readers need no locking.
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("cookiestore: rename %q: %w", tmp, err)
	}
	return nil
}

// Load reads the jar file at path and returns its cookies and metadata.
// A jar without a metadata key yields a zero Metadata (forward-compat).
//
// Returns ErrNotFound if the file is absent and ErrMalformed on invalid
// JSON or a missing "cookies" key; both are wrapped with the path.
func Load(path string) ([]Cookie, Metadata, error) {
	raw, err := os.ReadFile(path) // #nosec G304 – path derives from operator config
	if err != nil {
		if os.IsNotExist(err) {
			return nil, Metadata{}, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, Metadata{}, fmt.Errorf("cookiestore: read %q: %w", path, err)
	}

	// Decode into a raw map first so a missing "cookies" key can be told
	// apart from an empty cookie list.
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return nil, Metadata{}, fmt.Errorf("%w: %s: %v", ErrMalformed, path, err)
	}
	rawCookies, ok := top["cookies"]
	if !ok {
		return nil, Metadata{}, fmt.Errorf("%w: %s: missing \"cookies\" key", ErrMalformed, path)
	}

	var cookies []Cookie
	if err := json.Unmarshal(rawCookies, &cookies); err != nil {
		return nil, Metadata{}, fmt.Errorf("%w: %s: %v", ErrMalformed, path, err)
	}

	var meta Metadata
	if rawMeta, ok := top["metadata"]; ok {
		if err := json.Unmarshal(rawMeta, &meta); err != nil {
			return nil, Metadata{}, fmt.Errorf("%w: %s: %v", ErrMalformed, path, err)
		}
	}
	return cookies, meta, nil
}

// FormatCookieHeader joins cookies into a Cookie header value
// ("name1=value1; name2=value2"), preserving jar order so the emitted
// header is deterministic.
func FormatCookieHeader(cookies []Cookie) string {
	pairs := make([]string, 0, len(cookies))
	for _, c := range cookies {
		pairs = append(pairs, c.Name+"="+c.Value)
	}
	return strings.Join(pairs, "; ")
}
