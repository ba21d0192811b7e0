package client

import (
	"net/http"
	"strings"
	"time"
)

const (
	DefaultBaseURL = "http://localhost:8080"
	defaultTimeout = 10 * time.Second
)

type requestConfig struct {
	BaseURL    string
	HTTPClient *http.Client
	Header     http.Header
}

// RequestOption adjusts how a request is built and sent. Options passed to
// a single call are applied after the client's own.
type RequestOption func(*requestConfig)

func WithBaseURL(base string) RequestOption {
	return func(c *requestConfig) {
		c.BaseURL = strings.TrimRight(base, "/")
	}
}

func WithHTTPClient(client *http.Client) RequestOption {
	return func(c *requestConfig) {
		c.HTTPClient = client
	}
}

func WithHeader(key, value string) RequestOption {
	return func(c *requestConfig) {
		c.Header.Set(key, value)
	}
}

func newRequestConfig(opts []RequestOption) *requestConfig {
	cfg := &requestConfig{
		BaseURL:    DefaultBaseURL,
		HTTPClient: &http.Client{Timeout: defaultTimeout},
		Header:     http.Header{},
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}
