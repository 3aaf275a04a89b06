// Package app builds every component of a run from one set of settings.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jdholdren/debrief/internal/config"
	"github.com/jdholdren/debrief/internal/debrief"
	dberrs "github.com/jdholdren/debrief/internal/errors"
	"github.com/jdholdren/debrief/internal/governor"
	"github.com/jdholdren/debrief/internal/ingest"
	"github.com/jdholdren/debrief/internal/pipeline"
	"github.com/jdholdren/debrief/internal/preview"
	"github.com/jdholdren/debrief/internal/rating"
	"github.com/jdholdren/debrief/internal/render"
	"github.com/jdholdren/debrief/internal/results"
	"github.com/jdholdren/debrief/internal/sqlite"
)

const (
	previewTimeout     = 10 * time.Second
	previewCacheSize   = 1024
	previewConcurrency = 8
)

// App is a wired debrief.
type App struct {
	Settings config.Settings
	Pipeline *pipeline.Pipeline
	Previews *preview.Fetcher
	Page     render.Page

	// Nil unless archive_database is set.
	Archive *sqlite.Repo

	db *sqlx.DB
}

type options struct {
	completer rating.Completer
	governor  debrief.Governor
	ingester  pipeline.Ingester
}

// Option replaces one of the components Build would otherwise create.
type Option func(*options)

func WithCompleter(c rating.Completer) Option {
	return func(o *options) { o.completer = c }
}

func WithGovernor(g debrief.Governor) Option {
	return func(o *options) { o.governor = g }
}

func WithIngester(i pipeline.Ingester) Option {
	return func(o *options) { o.ingester = i }
}

// Build wires the components for validated settings. Close releases them.
func Build(s config.Settings, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	if o.completer == nil {
		c, err := newCompleter(s)
		if err != nil {
			return nil, err
		}
		o.completer = c
	}
	if o.governor == nil {
		o.governor = newGovernor(s)
	}
	if o.ingester == nil {
		o.ingester = ingest.New(s.FeedTimeout, s.FetchConcurrency)
	}

	a := &App{
		Settings: s,
		Previews: preview.NewFetcher(previewTimeout, previewCacheSize, previewConcurrency),
		Page: render.Page{
			Theme:        s.Theme,
			ShowPreviews: bool(s.PreviewSites),
		},
	}

	// Archive first; it rolls back on failure and the CSV is left untouched.
	var persisters []debrief.Persister
	if s.ArchiveDatabase != "" {
		dbx, err := sqlite.Open(s.ArchiveDatabase)
		if err != nil {
			return nil, dberrs.E(dberrs.KindConfig, err, dberrs.Detail{Field: "archive_database", Error: s.ArchiveDatabase})
		}
		repo := sqlite.New(dbx)
		a.db = dbx
		a.Archive = &repo
		persisters = append(persisters, repo)
	}
	persisters = append(persisters, results.File{Path: s.OutputFile})

	a.Pipeline = pipeline.New(o.ingester, rating.NewRater(o.completer, s.Interests), o.governor, pipeline.Options{
		BatchSize:      s.BatchSize,
		Policy:         s.Policy(),
		MaxRetries:     s.MaxRetries,
		RetryBackoff:   s.RetryBackoff,
		ScoringTimeout: s.ScoringTimeout,
		Model:          s.Model,
		Interests:      s.Interests,
	}, persisters...)

	return a, nil
}

func newCompleter(s config.Settings) (rating.Completer, error) {
	switch s.Provider {
	case config.ProviderGemini:
		return rating.NewGemini(s.GoogleAPIKey, s.Model), nil
	case config.ProviderClaude:
		return rating.NewClaude(s.AnthropicAPIKey, s.Model), nil
	default:
		return nil, dberrs.E(dberrs.KindConfig, fmt.Sprintf("unknown provider %q", s.Provider))
	}
}

func newGovernor(s config.Settings) debrief.Governor {
	if s.Pacing == config.PacingBucket {
		return governor.NewBucket(s.RequestsPerMinute)
	}
	return governor.NewFixed(s.CallDelay, s.CooldownDelay, s.CooldownEvery)
}

func (a *App) Close() error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}

// Run reads the feed list and runs the pipeline over it.
func (a *App) Run(ctx context.Context) (debrief.RankedDigest, error) {
	feeds, err := ingest.ReadSourcesFile(a.Settings.InputFile)
	if err != nil {
		return debrief.RankedDigest{}, err
	}

	slog.InfoContext(ctx, "starting run", "feeds", len(feeds), "provider", a.Settings.Provider, "model", a.Settings.Model)
	return a.Pipeline.Run(ctx, feeds)
}

// Latest returns the rows of the newest digest: the archive's latest run when
// there is an archive, the results file otherwise.
func (a *App) Latest(ctx context.Context) ([]debrief.ScoredArticle, error) {
	if a.Archive == nil {
		return results.ReadFile(a.Settings.OutputFile)
	}

	run, err := a.Archive.LatestRun(ctx)
	if dberrs.Is(err, dberrs.KindNotFound) {
		// Runs from before the archive was switched on are still in the file.
		return results.ReadFile(a.Settings.OutputFile)
	}
	if err != nil {
		return nil, err
	}
	return a.Archive.RunArticles(ctx, run.ID)
}

// Rows prepares scored articles for the page, fetching previews when enabled.
func (a *App) Rows(ctx context.Context, scored []debrief.ScoredArticle) []render.Row {
	var previews map[string]*preview.Preview
	if a.Page.ShowPreviews {
		previews = a.Previews.FetchAll(ctx, scored)
	}
	return render.Rows(scored, previews)
}

// RenderDigest writes the configured digest page for scored. It does nothing
// when digest_file is empty.
func (a *App) RenderDigest(ctx context.Context, scored []debrief.ScoredArticle) error {
	if a.Settings.DigestFile == "" {
		return nil
	}

	if err := a.Page.WriteFile(a.Settings.DigestFile, a.Rows(ctx, scored)); err != nil {
		return dberrs.E(dberrs.KindPersistence, fmt.Errorf("error writing digest page: %w", err))
	}

	slog.InfoContext(ctx, "wrote digest page", "path", a.Settings.DigestFile)
	return nil
}

// ErrNoArchive is returned by archive lookups when archive_database is unset.
var ErrNoArchive = dberrs.E(dberrs.KindNotFound, errors.New("no archive configured"))
