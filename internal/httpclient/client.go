// Package httpclient builds the outbound HTTP clients used for notification
// delivery and OAuth exchanges, honoring the configured egress proxy.
package httpclient

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/proxy"

	"github.com/mongardhq/mongard/internal/config"
)

// DefaultTimeout applies when Options.Timeout is zero.
const DefaultTimeout = 30 * time.Second

// Options configures an outbound HTTP client.
type Options struct {
	Timeout time.Duration
	// Proxy carries the egress proxy settings. Nil or empty means direct.
	Proxy *config.ProxyConfig
}

// New builds an HTTP client. When proxy settings are present, requests are
// routed through them; a SOCKS5 proxy wins over HTTP proxies.
func New(opts Options) (*http.Client, error) {
	if opts.Timeout == 0 {
		opts.Timeout = DefaultTimeout
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	if opts.Proxy != nil && opts.Proxy.HasProxy() {
		if err := applyProxy(transport, opts.Proxy); err != nil {
			return nil, fmt.Errorf("configure proxy: %w", err)
		}
	}

	return &http.Client{
		Timeout:   opts.Timeout,
		Transport: transport,
	}, nil
}

// NewSimple returns a plain client with just a timeout.
func NewSimple(timeout time.Duration) *http.Client {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{Timeout: timeout}
}

func applyProxy(transport *http.Transport, cfg *config.ProxyConfig) error {
	if cfg.SOCKS5Proxy != "" {
		return applySOCKS5(transport, cfg.SOCKS5Proxy)
	}

	transport.Proxy = func(req *http.Request) (*url.URL, error) {
		return selectProxyURL(req, cfg)
	}
	return nil
}

// applySOCKS5 replaces the transport dialer with one that tunnels every
// connection through the SOCKS5 proxy. NoProxy does not apply here.
func applySOCKS5(transport *http.Transport, socks5URL string) error {
	proxyURL, err := url.Parse(socks5URL)
	if err != nil {
		return fmt.Errorf("parse SOCKS5 proxy URL: %w", err)
	}

	var auth *proxy.Auth
	if proxyURL.User != nil {
		password, _ := proxyURL.User.Password()
		auth = &proxy.Auth{
			User:     proxyURL.User.Username(),
			Password: password,
		}
	}

	dialer, err := proxy.SOCKS5("tcp", proxyURL.Host, auth, proxy.Direct)
	if err != nil {
		return fmt.Errorf("create SOCKS5 dialer: %w", err)
	}

	transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		return dialer.Dial(network, addr)
	}
	return nil
}

// selectProxyURL picks the proxy for one request: the scheme-matching proxy
// unless the host is excluded by NoProxy.
func selectProxyURL(req *http.Request, cfg *config.ProxyConfig) (*url.URL, error) {
	if hostBypassesProxy(req.URL.Host, cfg.NoProxy) {
		return nil, nil
	}

	proxyURL := cfg.HTTPProxy
	if req.URL.Scheme == "https" && cfg.HTTPSProxy != "" {
		proxyURL = cfg.HTTPSProxy
	}
	if proxyURL == "" {
		return nil, nil
	}
	return url.Parse(proxyURL)
}

// hostBypassesProxy applies the NoProxy list: exact hostnames, leading-dot
// suffixes, bare domains covering their subdomains, and "*" for everything.
func hostBypassesProxy(host, noProxy string) bool {
	if noProxy == "" {
		return false
	}

	hostOnly, _, err := net.SplitHostPort(host)
	if err != nil {
		hostOnly = host
	}
	hostOnly = strings.ToLower(hostOnly)

	for _, entry := range strings.Split(noProxy, ",") {
		if matchesNoProxyEntry(hostOnly, strings.ToLower(strings.TrimSpace(entry))) {
			return true
		}
	}
	return false
}

func matchesNoProxyEntry(host, entry string) bool {
	switch {
	case entry == "":
		return false
	case entry == "*":
		return true
	case host == entry:
		return true
	case strings.HasPrefix(entry, "."):
		return strings.HasSuffix(host, entry)
	default:
		return strings.HasSuffix(host, "."+entry)
	}
}
