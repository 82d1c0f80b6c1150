// Package scrape extracts mention metadata from source pages.
package scrape

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/blackmichael/webmentions/internal/domain"
	readability "github.com/go-shiori/go-readability"
	"golang.org/x/net/html"
)

// maxBodySize caps how much of a source page is read. Pages past this point
// are truncated, not rejected.
const maxBodySize = 5 << 20

const maxExcerptLen = 500

// Fetcher implements domain.MetadataFetcher by downloading the page and
// running readability extraction over it.
type Fetcher struct {
	client *http.Client
}

// NewFetcher creates a metadata fetcher with the given request timeout.
func NewFetcher(timeout time.Duration) *Fetcher {
	return &Fetcher{
		client: &http.Client{Timeout: timeout},
	}
}

// Fetch downloads rawURL and scrapes it for mention metadata. It fails when
// the page cannot be fetched or does not parse into a usable document.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*domain.SourceMetadata, error) {
	pageURL, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse source url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch source: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("fetch source: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("read source body: %w", err)
	}

	article, err := readability.FromReader(bytes.NewReader(body), pageURL)
	if err != nil {
		return nil, fmt.Errorf("extract metadata: %w", err)
	}

	md := &domain.SourceMetadata{
		Title:         strings.TrimSpace(article.Title),
		SiteTitle:     strings.TrimSpace(article.SiteName),
		Author:        strings.TrimSpace(article.Byline),
		Excerpt:       truncate(strings.TrimSpace(article.Excerpt), maxExcerptLen),
		FeaturedImage: article.Image,
		Favicon:       article.Favicon,
	}

	fillFromHead(md, body, pageURL)

	return md, nil
}

// fillFromHead walks the document head for values readability does not
// reliably surface: the favicon link and the og: fallbacks.
func fillFromHead(md *domain.SourceMetadata, body []byte, pageURL *url.URL) {
	root, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return
	}

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "link":
				if md.Favicon == "" && isIconLink(n) {
					md.Favicon = resolve(pageURL, attr(n, "href"))
				}
			case "meta":
				switch attr(n, "property") {
				case "og:site_name":
					if md.SiteTitle == "" {
						md.SiteTitle = attr(n, "content")
					}
				case "og:image":
					if md.FeaturedImage == "" {
						md.FeaturedImage = resolve(pageURL, attr(n, "content"))
					}
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)

	if md.Favicon == "" {
		md.Favicon = resolve(pageURL, "/favicon.ico")
	}
}

func isIconLink(n *html.Node) bool {
	for _, rel := range strings.Fields(strings.ToLower(attr(n, "rel"))) {
		if rel == "icon" {
			return true
		}
	}
	return false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return strings.TrimSpace(a.Val)
		}
	}
	return ""
}

func resolve(base *url.URL, href string) string {
	if href == "" {
		return ""
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return base.ResolveReference(u).String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
