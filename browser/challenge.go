package browser

import (
	"fmt"
	"strings"
	"sync"

	"github.com/robertkrimen/otto"
)

// ChallengeSolver evaluates inline cookie-seeding JavaScript in-process
// using the otto pure-Go interpreter, so login flows that depend on a
// lightweight script assigning document.cookie succeed without a real
// browser.
//
// The VM is seeded with a minimal browser-like global environment (window,
// document, navigator.userAgent) so common snippets run without
// ReferenceError.  A mutex serialises access; each Browser context owns its
// own solver.
type ChallengeSolver struct {
	vm *otto.Otto
	mu sync.Mutex
}

// NewChallengeSolver creates a solver whose navigator.userAgent reports
// userAgent (a generic string when empty).
func NewChallengeSolver(userAgent string) (*ChallengeSolver, error) {
	if userAgent == "" {
		userAgent = "Mozilla/5.0 (compatible; cookie-injector/1.0)"
	}
	vm := otto.New()

	bootstrap := fmt.Sprintf(`
var window = this;
var document = { cookie: "" };
var navigator = { userAgent: %q };
`, userAgent)

	if _, err := vm.Run(bootstrap); err != nil {
		return nil, fmt.Errorf("browser: bootstrap JS globals: %w", err)
	}
	return &ChallengeSolver{vm: vm}, nil
}

// EvalCookies executes script and returns the name=value pairs the script
// left in document.cookie, in assignment order.
func (s *ChallengeSolver) EvalCookies(script string) (map[string]string, []string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.vm.Run(script); err != nil {
		return nil, nil, fmt.Errorf("browser: evaluate challenge script: %w", err)
	}

	val, err := s.vm.Run("document.cookie")
	if err != nil {
		return nil, nil, fmt.Errorf("browser: read document.cookie: %w", err)
	}
	return parseCookieString(val.String())
}

// parseCookieString splits "a=1; b=2" into pairs, keeping first-seen order
// and ignoring cookie attributes (path, expires, …) a script may append.
func parseCookieString(raw string) (map[string]string, []string, error) {
	pairs := make(map[string]string)
	var order []string
	for _, part := range strings.Split(raw, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, value, found := strings.Cut(part, "=")
		if !found || name == "" {
			continue
		}
		switch strings.ToLower(name) {
		case "path", "domain", "expires", "max-age", "secure", "samesite", "httponly":
			continue
		}
		if _, seen := pairs[name]; !seen {
			order = append(order, name)
		}
		pairs[name] = value
	}
	return pairs, order, nil
}
