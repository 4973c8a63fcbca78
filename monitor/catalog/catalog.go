// Package catalog resolves the publication batches currently offered by the
// reginfo.gov agenda report page.
//
// The page is scraped for XML report links; when it is unreachable or yields
// nothing usable, a deterministic generator synthesizes plausible recent
// batch ids from the clock instead, so resolution never depends on the
// scraping heuristic succeeding.
package catalog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/html"
)

// DefaultURL is the agenda XML report page listing one link per batch.
const DefaultURL = "https://www.reginfo.gov/public/do/eAgendaXmlReport"

// Report links look like REGINFO_RIN_DATA_202604.xml.
var pubIDRe = regexp.MustCompile(`REGINFO_RIN_DATA_(\d{6})\.xml`)

// Config configures the catalog client.
type Config struct {
	// URL of the agenda report page. Defaults to DefaultURL.
	URL string
	// Timeout bounds the page fetch. Defaults to 30s.
	Timeout time.Duration
	// CacheTTL is how long a scrape result is reused before the page is
	// fetched again. Defaults to 10 minutes, so one pass over many
	// identifiers touches the page once.
	CacheTTL time.Duration
	// UserAgent sent with the page request.
	UserAgent string
}

func (c *Config) defaults() {
	if c.URL == "" {
		c.URL = DefaultURL
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 10 * time.Minute
	}
	if c.UserAgent == "" {
		c.UserAgent = "reginfo-monitor/1.0"
	}
}

// Client scrapes the agenda page for publication batch ids.
type Client struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
	gen    *Generator

	mu        sync.Mutex
	cached    []string
	fetchedAt time.Time
}

// NewClient creates a catalog client.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
		gen:    &Generator{},
	}
}

// AvailableBatches returns candidate publication batch ids, newest first.
// A failed or empty scrape falls back to generated candidates; the scrape
// error is logged, never returned.
func (c *Client) AvailableBatches(ctx context.Context) ([]string, error) {
	c.mu.Lock()
	if c.cached != nil && time.Since(c.fetchedAt) < c.cfg.CacheTTL {
		ids := c.cached
		c.mu.Unlock()
		return ids, nil
	}
	c.mu.Unlock()

	ids, err := c.scrape(ctx)
	if err != nil || len(ids) == 0 {
		c.logger.Warn("catalog: scrape failed, generating batch ids", "url", c.cfg.URL, "error", err)
		return c.gen.Batches(), nil
	}

	c.mu.Lock()
	c.cached = ids
	c.fetchedAt = time.Now()
	c.mu.Unlock()

	c.logger.Debug("catalog: scraped batches", "count", len(ids), "latest", ids[0])
	return ids, nil
}

func (c *Client) scrape(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("catalog: build request: %w", err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("catalog: fetch page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("catalog: unexpected status %d", resp.StatusCode)
	}

	doc, err := html.Parse(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("catalog: parse page: %w", err)
	}

	seen := make(map[string]struct{})
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" && hasClass(n, "pageSubNav") {
			if m := pubIDRe.FindStringSubmatch(getAttr(n, "href")); m != nil && plausiblePubID(m[1]) {
				seen[m[1]] = struct{}{}
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(ids)))
	return ids, nil
}

// plausiblePubID keeps the twice-yearly editions (spring 04, fall 10) of
// years the agenda actually publishes.
func plausiblePubID(id string) bool {
	if len(id) != 6 {
		return false
	}
	if !strings.HasSuffix(id, "04") && !strings.HasSuffix(id, "10") {
		return false
	}
	year, err := strconv.Atoi(id[:4])
	if err != nil {
		return false
	}
	return year >= 2020 && year <= 2030
}

func getAttr(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(getAttr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

// Generator synthesizes plausible recent batch ids from the clock alone.
// Editions appear twice a year, spring (04) and fall (10); only editions
// whose period has begun are emitted.
type Generator struct {
	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

// Batches returns the six most recent editions, newest first.
func (g *Generator) Batches() []string {
	now := time.Now
	if g.Now != nil {
		now = g.Now
	}
	t := now()
	year, month := t.Year(), int(t.Month())

	var season int
	switch {
	case month >= 10:
		season = 10
	case month >= 4:
		season = 4
	default:
		year--
		season = 10
	}

	ids := make([]string, 0, 6)
	for i := 0; i < 6; i++ {
		ids = append(ids, fmt.Sprintf("%04d%02d", year, season))
		if season == 10 {
			season = 4
		} else {
			season = 10
			year--
		}
	}
	return ids
}
