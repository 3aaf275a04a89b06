// Package pipeline runs one pass of ingest, batch, score, aggregate, rank and
// persist.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/jdholdren/debrief/internal/batch"
	"github.com/jdholdren/debrief/internal/debrief"
	dberrs "github.com/jdholdren/debrief/internal/errors"
	"github.com/jdholdren/debrief/logger"
)

// Ingester turns feed locations into the ordered article sequence.
type Ingester interface {
	Ingest(ctx context.Context, feedURLs []string) ([]debrief.Article, error)
}

type Options struct {
	BatchSize      int
	Policy         FailurePolicy
	MaxRetries     int
	RetryBackoff   time.Duration
	ScoringTimeout time.Duration // Zero means no per-call bound

	// Recorded on the digest.
	Model     string
	Interests string

	Now func() time.Time
}

type Pipeline struct {
	ingester   Ingester
	rater      debrief.Rater
	governor   debrief.Governor
	persisters []debrief.Persister
	opts       Options
}

// New creates a Pipeline. Persisters run in the order given.
func New(ing Ingester, r debrief.Rater, g debrief.Governor, opts Options, persisters ...debrief.Persister) *Pipeline {
	if opts.Policy == "" {
		opts.Policy = PolicyAbort
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Pipeline{
		ingester:   ing,
		rater:      r,
		governor:   g,
		persisters: persisters,
		opts:       opts,
	}
}

// Run ingests the feeds, scores every article and persists the ranked digest.
//
// Any error before persistence leaves every store untouched.
func (p *Pipeline) Run(ctx context.Context, feedURLs []string) (debrief.RankedDigest, error) {
	start := p.opts.Now()

	articles, err := p.ingester.Ingest(ctx, feedURLs)
	if err != nil {
		return debrief.RankedDigest{}, err
	}
	if len(articles) == 0 {
		return debrief.RankedDigest{}, dberrs.E(dberrs.KindNoArticles, fmt.Sprintf("no articles found across %d feeds", len(feedURLs)))
	}

	batches := batch.Count(len(articles), p.opts.BatchSize)
	slog.InfoContext(ctx, "ingested articles", "articles", len(articles), "feeds", len(feedURLs), "batches", batches)

	scored, err := p.score(ctx, articles)
	if err != nil {
		return debrief.RankedDigest{}, err
	}

	digest := debrief.RankedDigest{
		Articles:  Rank(scored),
		Model:     p.opts.Model,
		Interests: p.opts.Interests,
		CreatedAt: p.opts.Now().UTC(),
	}

	for i, per := range p.persisters {
		if err := per.Persist(ctx, digest); err != nil {
			if i > 0 {
				slog.ErrorContext(ctx, "digest partially persisted", "persisted", i, "persisters", len(p.persisters), "failed", fmt.Sprintf("%T", per))
			}
			return debrief.RankedDigest{}, dberrs.E(dberrs.KindPersistence, fmt.Errorf("error persisting digest: %w", err))
		}
	}

	for i, a := range digest.Articles[:min(5, len(digest.Articles))] {
		slog.InfoContext(ctx, "top article", "position", i+1, "rating", a.Rating, "title", a.Title, "link", a.Link)
	}
	slog.InfoContext(ctx, "run complete", "scored", len(digest.Articles), "elapsed", p.opts.Now().Sub(start).Round(time.Millisecond).String())

	return digest, nil
}

// score rates every batch in order and returns the scored articles in
// ingestion order.
func (p *Pipeline) score(ctx context.Context, articles []debrief.Article) ([]debrief.ScoredArticle, error) {
	agg := newAggregator(len(articles))
	var failed int

	for b := range batch.Split(articles, p.opts.BatchSize) {
		ctx := logger.Ctx(ctx, slog.Int("batch", b.Number))

		ratings, err := p.scoreBatch(ctx, b)
		if err == nil {
			err = agg.attach(b, ratings)
		}
		if err == nil {
			slog.DebugContext(ctx, "batch scored", "stories", len(b.Articles))
			continue
		}

		if p.opts.Policy != PolicySkip || ctx.Err() != nil {
			return nil, err
		}

		slog.WarnContext(ctx, "skipping batch", "stories", len(b.Articles), "err", err)
		agg.skip(b)
		failed++
	}

	if failed > 0 && len(agg.scored) == 0 {
		return nil, dberrs.E(dberrs.KindScoringCall, fmt.Sprintf("all %d batches failed", failed))
	}

	if err := agg.verify(); err != nil {
		return nil, err
	}

	return agg.scored, nil
}

// scoreBatch makes one paced attempt at the batch, or several under the retry
// policy. The returned ratings always match the batch length.
func (p *Pipeline) scoreBatch(ctx context.Context, b debrief.Batch) ([]int, error) {
	if p.opts.Policy != PolicyRetry {
		return p.attempt(ctx, b)
	}

	base := p.opts.RetryBackoff
	if base <= 0 {
		base = time.Second
	}
	backoff := retry.WithMaxRetries(uint64(max(p.opts.MaxRetries, 0)), retry.NewExponential(base))

	var (
		ratings []int
		tries   int
	)
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		tries++

		r, err := p.attempt(ctx, b)
		if err == nil {
			ratings = r
			return nil
		}
		if !retryable(ctx, err) {
			return err
		}

		slog.WarnContext(ctx, "batch attempt failed", "attempt", tries, "err", err)
		return retry.RetryableError(err)
	})
	if err != nil {
		return nil, err
	}

	return ratings, nil
}

func (p *Pipeline) attempt(ctx context.Context, b debrief.Batch) ([]int, error) {
	if err := p.governor.AwaitTurn(ctx); err != nil {
		return nil, fmt.Errorf("error waiting to score batch %d: %w", b.Number, err)
	}

	callCtx := ctx
	if p.opts.ScoringTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, p.opts.ScoringTimeout)
		defer cancel()
	}

	ratings, err := p.rater.Rate(callCtx, b)
	p.governor.RecordCall()
	if err != nil {
		return nil, err
	}

	if err := checkCount(b, ratings); err != nil {
		return nil, err
	}
	return ratings, nil
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return false
	}

	switch dberrs.KindOf(err) {
	case dberrs.KindScoringCall, dberrs.KindResponseParse, dberrs.KindCountMismatch:
		return true
	default:
		return false
	}
}
