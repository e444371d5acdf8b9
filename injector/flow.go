// Package injector implements the request-time cookie injection policy and
// the small forward-proxy runtime that hosts it.
//
// The policy follows hybrid failure handling: fresh or expiring cookies are
// injected into the outbound request; missing, broken, or expired jars
// short-circuit the flow with a synthesised 502 so upstream failures stay
// visible instead of silently degrading.  A stale jar is never served.
package injector

import "net/http"

// StatusHeader carries the injection outcome.  For successful injection it
// is set on the upstream response (observable by the downstream client
// without leaking into the upstream request); on short-circuit it is set
// on the synthesised 502.
const StatusHeader = "X-Cookie-Injector-Status"

// Flow is one intercepted request/response exchange, the boundary object
// between the proxy runtime and its addons.
type Flow struct {
	// Request is the outbound request.  Addons may rewrite its headers
	// before it is forwarded.
	Request *http.Request

	// Response is nil until either an addon short-circuits the flow or
	// the upstream reply arrives.  A short-circuited flow is never
	// forwarded.
	Response *http.Response

	// Meta carries addon state from the request hook to the response
	// hook of the same flow.
	Meta map[string]string
}

// NewFlow wraps req in a Flow.
func NewFlow(req *http.Request) *Flow {
	return &Flow{Request: req, Meta: make(map[string]string)}
}

// ShortCircuited reports whether an addon answered the flow itself.
func (f *Flow) ShortCircuited() bool {
	return f.Response != nil
}

// Addon is a pair of hooks the proxy runtime invokes per flow: Request
// before forwarding (may rewrite or short-circuit), Response once the
// upstream reply is in.
type Addon interface {
	Request(f *Flow)
	Response(f *Flow)
}
