// Package sitemap fetches and parses sitemap documents, following index
// files recursively and archiving the raw XML for later audits.
package sitemap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/seoforge/url-indexer/internal/archive"
	"github.com/seoforge/url-indexer/internal/indexer"
	"github.com/seoforge/url-indexer/internal/telemetry"
)

const (
	defaultUserAgent = "url-indexer/1.0 (+https://github.com/seoforge/url-indexer)"
	defaultTimeout   = 30 * time.Second
	defaultMaxDepth  = 3
)

// Config controls crawler behavior.
type Config struct {
	// UserAgent identifies the crawler to sitemap hosts.
	UserAgent string
	// Timeout bounds each document fetch.
	Timeout time.Duration
	// MaxDepth caps sitemap-index recursion (default 3).
	MaxDepth int
}

// Crawler extracts URLs from sitemaps and sitemap indexes.
type Crawler struct {
	cfg      Config
	archiver archive.Archiver
	clock    indexer.Clock
	logger   *zap.Logger
}

// NewCrawler constructs a Crawler. The archiver may be nil to skip archiving.
func NewCrawler(cfg Config, archiver archive.Archiver, clock indexer.Clock, logger *zap.Logger) *Crawler {
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = defaultMaxDepth
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Crawler{cfg: cfg, archiver: archiver, clock: clock, logger: logger}
}

// Extract fetches the sitemap at rawURL, following nested sitemap indexes up
// to the configured depth, and returns the deduplicated page URLs in document
// order.
func (c *Crawler) Extract(ctx context.Context, rawURL string) ([]string, error) {
	if strings.TrimSpace(rawURL) == "" {
		return nil, errors.New("sitemap url is required")
	}
	seen := make(map[string]struct{})
	var urls []string
	if err := c.crawl(ctx, rawURL, 0, seen, &urls); err != nil {
		return nil, err
	}
	if len(urls) == 0 {
		return nil, fmt.Errorf("sitemap %s contained no urls", rawURL)
	}
	return urls, nil
}

func (c *Crawler) crawl(ctx context.Context, rawURL string, depth int, seen map[string]struct{}, out *[]string) error {
	if depth > c.cfg.MaxDepth {
		c.logger.Warn("sitemap recursion depth exceeded, skipping",
			zap.String("url", rawURL),
			zap.Int("max_depth", c.cfg.MaxDepth),
		)
		return nil
	}
	if _, dup := seen[rawURL]; dup {
		return nil
	}
	seen[rawURL] = struct{}{}
	if err := ctx.Err(); err != nil {
		return err
	}

	collector := colly.NewCollector(
		colly.UserAgent(c.cfg.UserAgent),
		colly.IgnoreRobotsTxt(),
	)
	collector.SetRequestTimeout(c.cfg.Timeout)
	collector.WithTransport(&http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConnsPerHost: 4,
		ForceAttemptHTTP2:   true,
	})

	var children []string
	var fetchErr error

	collector.OnXML("//urlset/url/loc", func(e *colly.XMLElement) {
		loc := strings.TrimSpace(e.Text)
		if loc == "" {
			return
		}
		if _, dup := seen[loc]; dup {
			return
		}
		seen[loc] = struct{}{}
		*out = append(*out, loc)
	})
	collector.OnXML("//sitemapindex/sitemap/loc", func(e *colly.XMLElement) {
		loc := strings.TrimSpace(e.Text)
		if loc != "" {
			children = append(children, loc)
		}
	})
	collector.OnResponse(func(r *colly.Response) {
		c.archiveDocument(ctx, rawURL, r.Body)
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode > 0 {
			fetchErr = fmt.Errorf("fetch sitemap %s: status %d: %w", rawURL, r.StatusCode, err)
			return
		}
		fetchErr = fmt.Errorf("fetch sitemap %s: %w", rawURL, err)
	})

	if err := collector.Visit(rawURL); err != nil {
		telemetry.IncSitemapFetch("error")
		return fmt.Errorf("visit sitemap %s: %w", rawURL, err)
	}
	collector.Wait()
	if fetchErr != nil {
		telemetry.IncSitemapFetch("error")
		return fetchErr
	}
	telemetry.IncSitemapFetch("ok")

	for _, child := range children {
		if err := c.crawl(ctx, child, depth+1, seen, out); err != nil {
			return err
		}
	}
	return nil
}

// archiveDocument saves the raw XML. Failures only log; archiving never
// blocks extraction.
func (c *Crawler) archiveDocument(ctx context.Context, rawURL string, body []byte) {
	if c.archiver == nil {
		return
	}
	path := fmt.Sprintf("%s/%s.xml", c.clock.Now().UTC().Format("2006/01/02"), sanitize(rawURL))
	uri, err := c.archiver.Put(ctx, path, "application/xml", body)
	if err != nil {
		c.logger.Warn("sitemap archive failed",
			zap.String("url", rawURL),
			zap.Error(err),
		)
		return
	}
	c.logger.Debug("archived sitemap", zap.String("url", rawURL), zap.String("uri", uri))
}

var pathSanitizer = strings.NewReplacer("https://", "", "http://", "", "/", "_", "?", "_", "&", "_", "#", "_")

func sanitize(rawURL string) string {
	s := pathSanitizer.Replace(rawURL)
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
