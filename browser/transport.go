package browser

import (
	"compress/gzip"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/andybalholm/brotli"
	utls "github.com/refraction-networking/utls"
	"golang.org/x/net/http2"
)

// roundTripper uses uTLS to establish TLS connections with a browser-like
// ClientHello and routes HTTPS traffic through an HTTP/2 transport (our
// ALPN list offers h2 first, which modern origins accept) with an HTTP/1.1
// transport for plain HTTP.
type roundTripper struct {
	helloID utls.ClientHelloID
	h2      *http2.Transport
	h1      *http.Transport
}

// newTransport creates an http.RoundTripper for profile.  When proxyURL is
// non-nil, traffic is routed through that upstream proxy with the standard
// library transport: the CONNECT handshake a proxy requires is not
// compatible with the raw uTLS dial, so fingerprinting is traded away for
// proxy support on those launches.
func newTransport(profile Profile, proxyURL *url.URL) (http.RoundTripper, error) {
	if proxyURL != nil {
		return &http.Transport{
			Proxy:             http.ProxyURL(proxyURL),
			ForceAttemptHTTP2: true,
		}, nil
	}

	rt := &roundTripper{helloID: profile.HelloID}

	rt.h2 = &http2.Transport{
		// The *tls.Config parameter is ignored; the uTLS dial fixes the
		// handshake shape itself.
		DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
			return rt.dialTLS(ctx, network, addr)
		},
	}
	rt.h1 = &http.Transport{
		DialTLSContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return rt.dialTLS(ctx, network, addr)
		},
	}
	return rt, nil
}

// dialTLS performs the TLS handshake with the profile's ClientHello.
func (rt *roundTripper) dialTLS(ctx context.Context, network, addr string) (net.Conn, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("browser: parse addr %q: %w", addr, err)
	}

	var d net.Dialer
	tcpConn, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("browser: dial %s: %w", addr, err)
	}

	tlsConn := utls.UClient(tcpConn, &utls.Config{
		ServerName: host,
		NextProtos: []string{"h2", "http/1.1"},
	}, rt.helloID)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		tcpConn.Close()
		return nil, fmt.Errorf("browser: TLS handshake with %s: %w", addr, err)
	}
	return tlsConn, nil
}

// RoundTrip delegates to the HTTP/2 transport for HTTPS and the HTTP/1.1
// transport otherwise.
func (rt *roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Scheme != "https" {
		return rt.h1.RoundTrip(req)
	}
	return rt.h2.RoundTrip(req)
}

// closeIdle releases pooled connections on both transports.
func (rt *roundTripper) closeIdle() {
	rt.h1.CloseIdleConnections()
	rt.h2.CloseIdleConnections()
}

// readBody drains and decodes resp's body according to Content-Encoding.
func readBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()

	var reader io.Reader = resp.Body
	switch strings.ToLower(resp.Header.Get("Content-Encoding")) {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("browser: gzip decode: %w", err)
		}
		defer gz.Close()
		reader = gz
	case "br":
		reader = brotli.NewReader(resp.Body)
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("browser: read body: %w", err)
	}
	return body, nil
}
