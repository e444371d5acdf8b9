// Package domain maps raw request hosts to canonical registered domains
// using the public-suffix list, so "a.b.c.nrc.nl" and "www.nrc.nl" both
// resolve to the "nrc.nl" jar.
package domain

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// ErrUnparseableHost means no registrable domain can be derived from the
// host: IP literals, bare labels like "localhost", or public suffixes
// themselves.
var ErrUnparseableHost = errors.New("domain: cannot extract canonical domain")

// Canonical returns the registered domain (eTLD+1) for host.
//
// The host may carry a port, mixed case, or a trailing dot; all are
// normalised away.  Canonical is idempotent: feeding its output back in
// returns the same value.
func Canonical(host string) (string, error) {
	h := strings.ToLower(strings.TrimSpace(host))
	if stripped, _, err := net.SplitHostPort(h); err == nil {
		h = stripped
	}
	h = strings.Trim(h, "[]") // bracketed IPv6 literal
	h = strings.TrimSuffix(h, ".")

	if h == "" {
		return "", fmt.Errorf("%w: empty host", ErrUnparseableHost)
	}
	if net.ParseIP(h) != nil {
		return "", fmt.Errorf("%w: %q is an IP literal", ErrUnparseableHost, host)
	}

	registered, err := publicsuffix.EffectiveTLDPlusOne(h)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrUnparseableHost, host, err)
	}
	return registered, nil
}
