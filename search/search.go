package search

import (
	"fmt"
	"net/http"
	"net/url"
	"time"
)

const (
	httpMaxIdleConns        = 100
	httpMaxIdleConnsPerHost = 100
	httpIdleConnTimeout     = 90 * time.Second
	httpClientTimeout       = 30 * time.Second

	// DefaultBaseURL is the public code-search endpoint
	DefaultBaseURL = "https://api.github.com/search/code"

	// MaxPerPage is the largest page size the upstream accepts
	MaxPerPage = 100

	acceptTextMatch = "application/vnd.github.v3.text-match+json"
	apiVersion      = "2022-11-28"
)

// Config holds the client settings
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// NewClient creates a code-search client. Credentials are supplied per call
// so one client can be shared by every worker.
func NewClient(cfg Config) (*Client, error) {
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("invalid search base URL %q: %w", base, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid search base URL %q: scheme must be http or https", base)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = httpClientTimeout
	}

	httpClient := &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        httpMaxIdleConns,
			MaxIdleConnsPerHost: httpMaxIdleConnsPerHost,
			IdleConnTimeout:     httpIdleConnTimeout,
		},
		Timeout: timeout,
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    u.String(),
	}, nil
}
