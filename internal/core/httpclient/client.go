// Package httpclient configures the HTTP client used to call the SPARQL endpoint.
package httpclient

import (
	"net"
	"net/http"
	"time"
)

type Option func(*http.Client)

// WithTimeout bounds a whole request, body included. Zero keeps the default.
func WithTimeout(d time.Duration) Option {
	return func(c *http.Client) {
		if d > 0 {
			c.Timeout = d
		}
	}
}

// NewOutbound creates a new outbound http client
func NewOutbound(opts ...Option) *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          64,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}
	c := &http.Client{
		Transport: transport,
		Timeout:   30 * time.Second,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}
