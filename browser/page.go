package browser

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/mjans/cookie-injector/cookiestore"
)

// flowBrowser is one isolated HTTP-flow login context.
type flowBrowser struct {
	client  *http.Client
	profile Profile
	solver  *ChallengeSolver
	step    time.Duration
}

// NewPage returns a page bound to this context's cookie jar and transport.
func (b *flowBrowser) NewPage() Page {
	return &flowPage{b: b}
}

// Close releases pooled connections.
func (b *flowBrowser) Close() error {
	switch t := b.client.Transport.(type) {
	case *roundTripper:
		t.closeIdle()
	case *http.Transport:
		t.CloseIdleConnections()
	}
	return nil
}

// flowPage models the state a login script manipulates: the current
// location, the loaded document, filled form fields, and every cookie seen
// so far.  Cookies are tracked in a parallel slice because the standard
// cookiejar does not expose enumeration.
type flowPage struct {
	b *flowBrowser

	current *url.URL
	body    []byte

	fieldOrder []string
	fields     map[string]string

	cookieOrder []string // "name\x00domain" keys, first-seen order
	cookies     map[string]cookiestore.Cookie
}

var (
	selectorNameRe = regexp.MustCompile(`name=["']?([^"'\]]+)`)
	scriptRe       = regexp.MustCompile(`(?is)<script[^>]*>(.*?)</script>`)
	scriptSrcRe    = regexp.MustCompile(`(?i)<script[^>]*\bsrc=`)
	formRe         = regexp.MustCompile(`(?is)<form[^>]*>`)
	inputRe        = regexp.MustCompile(`(?is)<input[^>]*>`)
	attrRe         = regexp.MustCompile(`(?i)([a-z-]+)=["']([^"']*)["']`)
)

// Goto navigates to target, records any cookies set along the redirect
// chain, and evaluates inline cookie-seeding scripts in the final document.
func (p *flowPage) Goto(ctx context.Context, target string) error {
	if err := p.navigate(ctx, http.MethodGet, target, nil); err != nil {
		return err
	}
	p.fieldOrder = nil
	p.fields = nil
	return nil
}

// Fill records a value for the form field addressed by selector.
func (p *flowPage) Fill(_ context.Context, selector, value string) error {
	m := selectorNameRe.FindStringSubmatch(selector)
	if m == nil {
		return fmt.Errorf("browser: selector %q does not address a named field", selector)
	}
	name := m[1]
	if p.fields == nil {
		p.fields = make(map[string]string)
	}
	if _, seen := p.fields[name]; !seen {
		p.fieldOrder = append(p.fieldOrder, name)
	}
	p.fields[name] = value
	return nil
}

// Click submits the current form: hidden inputs from the document (CSRF
// tokens and the like) plus the filled fields, posted to the form action.
func (p *flowPage) Click(ctx context.Context, _ string) error {
	if p.current == nil {
		return fmt.Errorf("browser: click before navigation")
	}

	action, method := p.formTarget()
	target, err := p.current.Parse(action)
	if err != nil {
		return fmt.Errorf("browser: resolve form action %q: %w", action, err)
	}

	form := url.Values{}
	for _, tag := range inputRe.FindAllString(string(p.body), -1) {
		attrs := tagAttrs(tag)
		if !strings.EqualFold(attrs["type"], "hidden") || attrs["name"] == "" {
			continue
		}
		if _, filled := p.fields[attrs["name"]]; filled {
			continue
		}
		form.Set(attrs["name"], attrs["value"])
	}
	for _, name := range p.fieldOrder {
		form.Set(name, p.fields[name])
	}

	return p.navigate(ctx, method, target.String(), form)
}

// WaitForURL checks the current location against a glob pattern where "**"
// matches any run of characters and "*" stops at a path separator.
func (p *flowPage) WaitForURL(_ context.Context, pattern string) error {
	if p.current == nil {
		return fmt.Errorf("browser: no page loaded")
	}
	re, err := globToRegexp(pattern)
	if err != nil {
		return err
	}
	if !re.MatchString(p.current.String()) {
		return fmt.Errorf("browser: timed out waiting for URL %q, still at %q", pattern, p.current)
	}
	return nil
}

// Cookies returns every cookie collected in this context, in first-seen
// order.
func (p *flowPage) Cookies() ([]cookiestore.Cookie, error) {
	out := make([]cookiestore.Cookie, 0, len(p.cookieOrder))
	for _, key := range p.cookieOrder {
		out = append(out, p.cookies[key])
	}
	return out, nil
}

// navigate performs one request/response step under the step timeout.
func (p *flowPage) navigate(ctx context.Context, method, target string, form url.Values) error {
	ctx, cancel := context.WithTimeout(ctx, p.b.step)
	defer cancel()

	var bodyReader *strings.Reader
	req, err := func() (*http.Request, error) {
		if form != nil {
			bodyReader = strings.NewReader(form.Encode())
			return http.NewRequestWithContext(ctx, method, target, bodyReader)
		}
		return http.NewRequestWithContext(ctx, method, target, nil)
	}()
	if err != nil {
		return fmt.Errorf("browser: build request for %q: %w", target, err)
	}

	p.b.profile.apply(req.Header)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if p.current != nil {
		req.Header.Set("Referer", p.current.String())
	}

	// A shallow copy of the client lets the redirect hook capture this
	// page so Set-Cookie headers on intermediate hops are not lost.
	client := *p.b.client
	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= 10 {
			return fmt.Errorf("browser: too many redirects")
		}
		if req.Response != nil {
			p.recordResponse(req.Response)
		}
		return nil
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("browser: %s %s: %w", method, target, err)
	}
	p.recordResponse(resp)

	body, err := readBody(resp)
	if err != nil {
		return err
	}

	p.current = resp.Request.URL
	p.body = body
	p.runInlineChallenges()
	return nil
}

// recordResponse tracks resp's Set-Cookie headers.
func (p *flowPage) recordResponse(resp *http.Response) {
	if resp == nil || resp.Request == nil {
		return
	}
	host := resp.Request.URL.Hostname()
	for _, c := range resp.Cookies() {
		p.recordCookie(host, c)
	}
}

// recordCookie merges one cookie into the tracked set: same name+domain
// replaces in place, new cookies append, MaxAge<0 deletes.
func (p *flowPage) recordCookie(host string, c *http.Cookie) {
	dom := c.Domain
	if dom == "" {
		dom = host
	}
	key := c.Name + "\x00" + dom

	if c.MaxAge < 0 {
		if _, ok := p.cookies[key]; ok {
			delete(p.cookies, key)
			for i, k := range p.cookieOrder {
				if k == key {
					p.cookieOrder = append(p.cookieOrder[:i], p.cookieOrder[i+1:]...)
					break
				}
			}
		}
		return
	}

	expires := cookiestore.SessionExpiry
	if c.MaxAge > 0 {
		expires = time.Now().Unix() + int64(c.MaxAge)
	} else if !c.Expires.IsZero() {
		expires = c.Expires.Unix()
	}

	sameSite := ""
	switch c.SameSite {
	case http.SameSiteLaxMode:
		sameSite = "Lax"
	case http.SameSiteStrictMode:
		sameSite = "Strict"
	case http.SameSiteNoneMode:
		sameSite = "None"
	}

	if p.cookies == nil {
		p.cookies = make(map[string]cookiestore.Cookie)
	}
	if _, seen := p.cookies[key]; !seen {
		p.cookieOrder = append(p.cookieOrder, key)
	}
	p.cookies[key] = cookiestore.Cookie{
		Name:     c.Name,
		Value:    c.Value,
		Domain:   dom,
		Path:     c.Path,
		Expires:  expires,
		Secure:   c.Secure,
		HTTPOnly: c.HttpOnly,
		SameSite: sameSite,
	}
}

// runInlineChallenges evaluates inline scripts that assign document.cookie
// and folds the resulting cookies into both the tracked set and the jar so
// the next request sends them.  Script failures are ignored; a genuinely
// required challenge will surface as a login failure.
func (p *flowPage) runInlineChallenges() {
	if p.current == nil {
		return
	}
	for _, m := range scriptRe.FindAllStringSubmatch(string(p.body), -1) {
		if scriptSrcRe.MatchString(m[0]) || !strings.Contains(m[1], "document.cookie") {
			continue
		}
		pairs, order, err := p.b.solver.EvalCookies(m[1])
		if err != nil {
			continue
		}
		var jarCookies []*http.Cookie
		for _, name := range order {
			c := &http.Cookie{Name: name, Value: pairs[name], Path: "/"}
			p.recordCookie(p.current.Hostname(), c)
			jarCookies = append(jarCookies, c)
		}
		if len(jarCookies) > 0 && p.b.client.Jar != nil {
			p.b.client.Jar.SetCookies(p.current, jarCookies)
		}
	}
}

// formTarget extracts the first form's action and method from the current
// document, defaulting to the current URL and POST.
func (p *flowPage) formTarget() (action, method string) {
	action = p.current.String()
	method = http.MethodPost
	if tag := formRe.FindString(string(p.body)); tag != "" {
		attrs := tagAttrs(tag)
		if attrs["action"] != "" {
			action = attrs["action"]
		}
		if attrs["method"] != "" {
			method = strings.ToUpper(attrs["method"])
		}
	}
	return action, method
}

// tagAttrs parses the attributes of one HTML tag into a lowercase-keyed map.
func tagAttrs(tag string) map[string]string {
	attrs := make(map[string]string)
	for _, m := range attrRe.FindAllStringSubmatch(tag, -1) {
		attrs[strings.ToLower(m[1])] = m[2]
	}
	return attrs
}

// globToRegexp converts a browser-style URL glob to an anchored regexp.
func globToRegexp(pattern string) (*regexp.Regexp, error) {
	quoted := regexp.QuoteMeta(pattern)
	quoted = strings.ReplaceAll(quoted, `\*\*`, `.*`)
	quoted = strings.ReplaceAll(quoted, `\*`, `[^/]*`)
	re, err := regexp.Compile("^" + quoted + "$")
	if err != nil {
		return nil, fmt.Errorf("browser: bad URL pattern %q: %w", pattern, err)
	}
	return re, nil
}
