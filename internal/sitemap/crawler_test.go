package sitemap

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/seoforge/url-indexer/internal/archive"
	"github.com/seoforge/url-indexer/internal/clock/system"
)

const urlsetTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url><loc>%s</loc></url>
  <url><loc>%s</loc></url>
</urlset>`

func TestExtractPlainSitemap(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprintf(w, urlsetTemplate, "https://example.com/a", "https://example.com/b")
	}))
	defer srv.Close()

	crawler := NewCrawler(Config{Timeout: 5 * time.Second}, nil, system.Clock{}, nil)
	urls, err := crawler.Extract(context.Background(), srv.URL+"/sitemap.xml")
	require.NoError(t, err)
	require.Equal(t, []string{"https://example.com/a", "https://example.com/b"}, urls)
}

func TestExtractFollowsSitemapIndex(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/index.xml", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?>
<sitemapindex xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <sitemap><loc>%s/pages.xml</loc></sitemap>
  <sitemap><loc>%s/posts.xml</loc></sitemap>
</sitemapindex>`, srv.URL, srv.URL)
	})
	mux.HandleFunc("/pages.xml", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, urlsetTemplate, "https://example.com/p1", "https://example.com/p2")
	})
	mux.HandleFunc("/posts.xml", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, urlsetTemplate, "https://example.com/q1", "https://example.com/p1")
	})

	crawler := NewCrawler(Config{Timeout: 5 * time.Second}, nil, system.Clock{}, nil)
	urls, err := crawler.Extract(context.Background(), srv.URL+"/index.xml")
	require.NoError(t, err)
	// Duplicate p1 from the second child is dropped.
	require.Equal(t, []string{
		"https://example.com/p1",
		"https://example.com/p2",
		"https://example.com/q1",
	}, urls)
}

func TestExtractStopsAtDepthCap(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	// Every level points one deeper; level 3 finally yields a urlset.
	for i := 0; i < 5; i++ {
		level := i
		mux.HandleFunc(fmt.Sprintf("/level%d.xml", level), func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?>
<sitemapindex xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <sitemap><loc>%s/level%d.xml</loc></sitemap>
</sitemapindex>`, srv.URL, level+1)
		})
	}

	crawler := NewCrawler(Config{Timeout: 5 * time.Second, MaxDepth: 2}, nil, system.Clock{}, nil)
	_, err := crawler.Extract(context.Background(), srv.URL+"/level0.xml")
	// Recursion is cut before any urlset is reached, so extraction finds nothing.
	require.Error(t, err)
	require.Contains(t, err.Error(), "contained no urls")
}

func TestExtractArchivesRawDocument(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, urlsetTemplate, "https://example.com/a", "https://example.com/b")
	}))
	defer srv.Close()

	mem := archive.NewMemory()
	crawler := NewCrawler(Config{Timeout: 5 * time.Second}, mem, system.Clock{}, nil)
	_, err := crawler.Extract(context.Background(), srv.URL+"/sitemap.xml")
	require.NoError(t, err)

	day := time.Now().UTC().Format("2006/01/02")
	path := fmt.Sprintf("%s/%s.xml", day, sanitize(srv.URL+"/sitemap.xml"))
	data, ok := mem.Get(path)
	require.True(t, ok)
	require.Contains(t, string(data), "https://example.com/a")
}

func TestExtractPropagatesFetchError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	crawler := NewCrawler(Config{Timeout: 5 * time.Second}, nil, system.Clock{}, nil)
	_, err := crawler.Extract(context.Background(), srv.URL+"/sitemap.xml")
	require.Error(t, err)
	require.Contains(t, err.Error(), "status 500")
}
