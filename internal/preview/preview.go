// Package preview fetches link-preview metadata for article pages.
package preview

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/sync/errgroup"

	"github.com/jdholdren/debrief/internal/debrief"
	"github.com/jdholdren/debrief/logger"
)

const (
	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/58.0.3029.110 Safari/537.3"

	// Pages larger than this are cut off before parsing.
	maxPageBytes = 2 << 20

	faviconService = "https://www.google.com/s2/favicons?domain="
)

// Preview is what a digest card shows beside an article's title.
type Preview struct {
	Image       string `json:"image,omitempty"`
	Description string `json:"description,omitempty"`
	Favicon     string `json:"favicon"`
	URL         string `json:"url"`
}

type Fetcher struct {
	client      *http.Client
	cache       *lru.Cache[string, *Preview]
	concurrency int
	strip       *bluemonday.Policy
}

// NewFetcher creates a Fetcher that bounds each page fetch by timeout and
// remembers up to cacheSize previews.
func NewFetcher(timeout time.Duration, cacheSize, concurrency int) *Fetcher {
	cache, err := lru.New[string, *Preview](max(cacheSize, 1))
	if err != nil {
		panic(fmt.Sprintf("error creating preview cache: %s", err))
	}

	return &Fetcher{
		client: &http.Client{
			Timeout: timeout,
		},
		cache:       cache,
		concurrency: max(concurrency, 1),
		strip:       bluemonday.StrictPolicy(),
	}
}

// Fetch returns the preview for link, or nil when there is none to show.
//
// Failures are logged and never returned.
func (f *Fetcher) Fetch(ctx context.Context, link string) *Preview {
	if link == "" || link == debrief.NoLink {
		return nil
	}
	if p, ok := f.cache.Get(link); ok {
		return p
	}

	ctx = logger.Ctx(ctx, slog.String("link", link))

	p, err := f.fetch(ctx, link)
	if err != nil {
		slog.WarnContext(ctx, "error fetching preview", "err", err)
		return nil
	}

	f.cache.Add(link, p)
	return p
}

// FetchAll fetches previews for every row concurrently, keyed by link. Rows
// without a preview are absent from the result.
func (f *Fetcher) FetchAll(ctx context.Context, rows []debrief.ScoredArticle) map[string]*Preview {
	found := make([]*Preview, len(rows))

	var g errgroup.Group
	g.SetLimit(f.concurrency)
	for i, r := range rows {
		g.Go(func() error {
			found[i] = f.Fetch(ctx, r.Link)
			return nil
		})
	}
	_ = g.Wait()

	previews := make(map[string]*Preview, len(rows))
	for i, p := range found {
		if p != nil {
			previews[rows[i].Link] = p
		}
	}
	return previews
}

func (f *Fetcher) fetch(ctx context.Context, link string) (*Preview, error) {
	u, err := url.Parse(link)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("bad link %q", link)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error fetching page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status fetching page: %d", resp.StatusCode)
	}

	page, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, fmt.Errorf("error reading page: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("error parsing page: %w", err)
	}

	p := &Preview{
		Image:       meta(doc, "og:image"),
		Description: meta(doc, "og:description"),
		Favicon:     faviconService + u.Hostname(),
		URL:         link,
	}

	// Fall back to what a reader view would pick out.
	if p.Image == "" || p.Description == "" {
		parser := readability.NewParser()
		article, err := parser.Parse(bytes.NewReader(page), u)
		if err == nil {
			if p.Image == "" {
				p.Image = article.Image
			}
			if p.Description == "" {
				p.Description = article.Excerpt
			}
		}
	}

	p.Description = f.clean(p.Description)
	if p.Image != "" {
		p.Image = resolve(u, p.Image)
	}

	return p, nil
}

// meta reads a <meta property=...> tag, also accepting name= as some sites use.
func meta(doc *goquery.Document, property string) string {
	sel := doc.Find(fmt.Sprintf(`meta[property=%q], meta[name=%q]`, property, property)).First()
	content, _ := sel.Attr("content")
	return strings.TrimSpace(content)
}

func (f *Fetcher) clean(s string) string {
	return strings.TrimSpace(html.UnescapeString(f.strip.Sanitize(s)))
}

// resolve makes a relative image reference absolute against the page.
func resolve(page *url.URL, ref string) string {
	r, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	return page.ResolveReference(r).String()
}
