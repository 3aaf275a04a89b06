// Package ingest fetches syndication feeds and turns their entries into an
// ordered article sequence.
package ingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/mmcdole/gofeed"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/sync/errgroup"

	"github.com/jdholdren/debrief/internal/debrief"
	dberrs "github.com/jdholdren/debrief/internal/errors"
	"github.com/jdholdren/debrief/logger"
)

// Ingester fetches feeds and assigns sequence indices to their entries.
type Ingester struct {
	client      *http.Client
	concurrency int
}

// New creates an Ingester whose fetches are bounded by timeout, fetching at most
// concurrency feeds at once.
func New(timeout time.Duration, concurrency int) *Ingester {
	if concurrency < 1 {
		concurrency = 1
	}

	return &Ingester{
		client: &http.Client{
			Timeout: timeout,
		},
		concurrency: concurrency,
	}
}

// entry is a parsed feed item before it has been given an index.
type entry struct {
	title string
	link  string
}

// Ingest fetches every feed and returns their entries as articles, feed by feed
// in the order given.
//
// A feed that can't be fetched or parsed is logged and skipped. Only context
// cancellation makes Ingest fail.
func (i *Ingester) Ingest(ctx context.Context, feedURLs []string) ([]debrief.Article, error) {
	// Each feed owns its slot, so the fetches can finish in any order.
	perFeed := make([][]entry, len(feedURLs))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(i.concurrency)
	for n, feedURL := range feedURLs {
		g.Go(func() error {
			fCtx := logger.Ctx(gCtx, slog.String("feed", feedURL))

			entries, err := i.fetch(fCtx, feedURL)
			if err != nil {
				if gCtx.Err() != nil {
					return gCtx.Err()
				}
				slog.WarnContext(fCtx, "skipping feed", "error", dberrs.E(dberrs.KindFeedFetch, err))
				return nil
			}
			if len(entries) == 0 {
				slog.WarnContext(fCtx, "no articles found in feed")
			} else {
				slog.InfoContext(fCtx, "fetched feed", "articles", len(entries))
			}

			perFeed[n] = entries
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("error ingesting feeds: %w", err)
	}

	var articles []debrief.Article
	for _, entries := range perFeed {
		for _, e := range entries {
			articles = append(articles, debrief.Article{
				Index: len(articles) + 1,
				Title: e.title,
				Link:  e.link,
			})
		}
	}

	slog.InfoContext(ctx, "ingested feeds", "feeds", len(feedURLs), "articles", len(articles))

	return articles, nil
}

// Fetches and parses a single feed location, which is either an http(s) URL or a
// local file path.
func (i *Ingester) fetch(ctx context.Context, location string) ([]entry, error) {
	body, err := i.open(ctx, location)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	// Parsers keep state while parsing, so each feed gets its own.
	feed, err := gofeed.NewParser().Parse(body)
	if err != nil {
		return nil, fmt.Errorf("error decoding feed: %w", err)
	}

	entries := make([]entry, 0, len(feed.Items))
	for _, item := range feed.Items {
		link := strings.TrimSpace(item.Link)
		if link == "" {
			link = debrief.NoLink
		}

		entries = append(entries, entry{
			title: sanitize(item.Title),
			link:  link,
		})
	}

	return entries, nil
}

func (i *Ingester) open(ctx context.Context, location string) (io.ReadCloser, error) {
	u, err := url.Parse(location)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		f, err := os.Open(location)
		if err != nil {
			return nil, fmt.Errorf("error opening feed file: %w", err)
		}
		return f, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, fmt.Errorf("error building feed request: %w", err)
	}
	resp, err := i.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error getting feed url: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	return resp.Body, nil
}

var stripPolicy = bluemonday.StrictPolicy()

// Elements that never take a closing tag.
var voidElements = map[string]bool{"br": true, "hr": true, "img": true, "wbr": true}

// Removes html markup from the string, usually a title.
//
// The feed parser has already decoded entities, so a title about "Vec<T>" or
// "<canvas>" arrives looking like markup. A tag only counts as markup when it
// names a known element that is void, self-closing or opened and closed within
// the string; anything else is escaped so the policy keeps it as text. The
// policy escapes what it keeps, so entities are turned back into text.
func sanitize(s string) string {
	type token struct {
		typ  html.TokenType
		name string
		raw  string
	}

	var (
		tokens []token
		opened = map[string]bool{}
		closed = map[string]bool{}
	)
	z := html.NewTokenizer(strings.NewReader(strings.TrimSpace(s)))
	for tt := z.Next(); tt != html.ErrorToken; tt = z.Next() {
		t := token{typ: tt, raw: string(z.Raw())}
		switch tt {
		case html.StartTagToken:
			name, _ := z.TagName()
			t.name = string(name)
			opened[t.name] = true
		case html.EndTagToken:
			name, _ := z.TagName()
			t.name = string(name)
			closed[t.name] = true
		case html.SelfClosingTagToken:
			name, _ := z.TagName()
			t.name = string(name)
		}
		tokens = append(tokens, t)
	}

	markup := func(t token) bool {
		if atom.Lookup([]byte(t.name)) == 0 {
			return false
		}
		return voidElements[t.name] || t.typ == html.SelfClosingTagToken || (opened[t.name] && closed[t.name])
	}

	var b strings.Builder
	for _, t := range tokens {
		switch t.typ {
		case html.StartTagToken, html.EndTagToken, html.SelfClosingTagToken:
			if !markup(t) {
				b.WriteString(html.EscapeString(t.raw))
				continue
			}
		}
		b.WriteString(t.raw)
	}

	out := stripPolicy.Sanitize(b.String())
	out = html.UnescapeString(out)

	return strings.TrimSpace(out)
}
