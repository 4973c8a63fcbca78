// Package fetch retrieves rule documents from the agenda export endpoint.
//
// One GET per (rin, pubID) pair. The endpoint answers 200 even for rules
// absent from a batch, so absence is detected from the body: an explicit
// not-found marker or a body too short to be a real document.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrNotFound reports that the endpoint answered but the rule is not
// present in the requested batch.
var ErrNotFound = errors.New("fetch: document not in batch")

// Config configures the fetcher.
type Config struct {
	// BaseURL is the endpoint root. Default: the reginfo.gov export root.
	BaseURL string
	// Timeout bounds each request. Default: 30s.
	Timeout time.Duration
	// MaxBytes caps the accepted body size. Default: 8MB.
	MaxBytes int64
	// MinDocBytes: bodies shorter than this are treated as absent.
	// Default: 100.
	MinDocBytes int
	// UserAgent sent with requests.
	UserAgent string
}

func (c *Config) defaults() {
	if c.BaseURL == "" {
		c.BaseURL = "https://www.reginfo.gov/public/do"
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 8 * 1024 * 1024
	}
	if c.MinDocBytes <= 0 {
		c.MinDocBytes = 100
	}
	if c.UserAgent == "" {
		c.UserAgent = "reginfo-monitor/1.0"
	}
}

// Result contains the outcome of a fetch.
type Result struct {
	Body       string
	StatusCode int
}

// Fetcher retrieves rule documents over HTTP.
type Fetcher struct {
	client *http.Client
	config Config
}

// New creates a Fetcher.
func New(cfg Config) *Fetcher {
	cfg.defaults()
	return &Fetcher{
		client: &http.Client{
			Timeout: cfg.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return fmt.Errorf("too many redirects (%d)", len(via))
				}
				return nil
			},
		},
		config: cfg,
	}
}

// RuleURL returns the export URL for one rule in one batch.
func RuleURL(base, rin, pubID string) string {
	q := url.Values{}
	q.Set("pubId", pubID)
	q.Set("RIN", rin)
	q.Set("operation", "OPERATION_EXPORT_XML")
	return strings.TrimRight(base, "/") + "/eAgendaViewRule?" + q.Encode()
}

// Fetch retrieves the document for (rin, pubID). Transport failures, HTTP
// error statuses and oversized bodies return plain errors; a body that
// indicates an absent rule returns an error wrapping ErrNotFound.
func (f *Fetcher) Fetch(ctx context.Context, rin, pubID string) (*Result, error) {
	u := RuleURL(f.config.BaseURL, rin, pubID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch: new request: %w", err)
	}
	req.Header.Set("User-Agent", f.config.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return &Result{StatusCode: resp.StatusCode}, fmt.Errorf("fetch: http %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.config.MaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("fetch: read body: %w", err)
	}
	if int64(len(body)) > f.config.MaxBytes {
		return nil, fmt.Errorf("fetch: body exceeds %d bytes", f.config.MaxBytes)
	}

	text := string(body)
	if len(text) < f.config.MinDocBytes || strings.Contains(strings.ToLower(text), "not found") {
		return &Result{Body: text, StatusCode: resp.StatusCode},
			fmt.Errorf("%w: rin %s, batch %s", ErrNotFound, rin, pubID)
	}

	return &Result{Body: text, StatusCode: resp.StatusCode}, nil
}
