package domain_test

import (
	"errors"
	"testing"

	"github.com/mjans/cookie-injector/domain"
)

func TestCanonical(t *testing.T) {
	cases := []struct {
		host string
		want string
	}{
		{"nrc.nl", "nrc.nl"},
		{"www.nrc.nl", "nrc.nl"},
		{"a.b.c.nrc.nl", "nrc.nl"},
		{"WWW.NRC.NL", "nrc.nl"},
		{"www.nrc.nl:443", "nrc.nl"},
		{"www.nrc.nl.", "nrc.nl"},
		{"static.economist.com", "economist.com"},
		{"www.example.co.uk", "example.co.uk"},
	}
	for _, tc := range cases {
		got, err := domain.Canonical(tc.host)
		if err != nil {
			t.Errorf("Canonical(%q): unexpected error: %v", tc.host, err)
			continue
		}
		if got != tc.want {
			t.Errorf("Canonical(%q): got %q, want %q", tc.host, got, tc.want)
		}
	}
}

func TestCanonical_Idempotent(t *testing.T) {
	first, err := domain.Canonical("news.ycombinator.com")
	if err != nil {
		t.Fatalf("first pass: %v", err)
	}
	second, err := domain.Canonical(first)
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if second != first {
		t.Errorf("not idempotent: %q then %q", first, second)
	}
}

func TestCanonical_Unparseable(t *testing.T) {
	for _, host := range []string{
		"",
		"localhost",
		"127.0.0.1",
		"127.0.0.1:8080",
		"[::1]",
		"192.168.1.50",
	} {
		_, err := domain.Canonical(host)
		if err == nil {
			t.Errorf("Canonical(%q): expected error, got nil", host)
			continue
		}
		if !errors.Is(err, domain.ErrUnparseableHost) {
			t.Errorf("Canonical(%q): error %v does not wrap ErrUnparseableHost", host, err)
		}
	}
}
