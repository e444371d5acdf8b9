package browser

import (
	"net/http"

	utls "github.com/refraction-networking/utls"
)

// Profile bundles the correlated fingerprint signals a login flow sends:
// the TLS ClientHello shape, the User-Agent, and the accompanying header
// set.  Anti-bot systems correlate all three; a Chrome-like hello combined
// with a bare Go User-Agent is a reliable automation indicator, so the
// profile applies them together.
type Profile struct {
	// HelloID selects the uTLS ClientHello to parrot.
	HelloID utls.ClientHelloID

	// UserAgent is sent with every request and exposed to evaluated
	// challenge scripts as navigator.userAgent.
	UserAgent string

	// Headers are applied to every request in order.
	Headers [][2]string
}

// ChromeProfile returns a profile parroting a current desktop Chrome.
func ChromeProfile() Profile {
	const ua = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/133.0.0.0 Safari/537.36"
	return Profile{
		HelloID:   utls.HelloChrome_Auto,
		UserAgent: ua,
		Headers: [][2]string{
			{"User-Agent", ua},
			{"Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8"},
			{"Accept-Language", "en-US,en;q=0.9"},
			{"Accept-Encoding", "gzip, deflate, br"},
			{"Sec-Fetch-Site", "none"},
			{"Sec-Fetch-Mode", "navigate"},
			{"Sec-Fetch-User", "?1"},
			{"Sec-Fetch-Dest", "document"},
			{"Upgrade-Insecure-Requests", "1"},
		},
	}
}

// apply sets the profile headers on h, in order.
func (p Profile) apply(h http.Header) {
	for _, kv := range p.Headers {
		h.Set(kv[0], kv[1])
	}
}
