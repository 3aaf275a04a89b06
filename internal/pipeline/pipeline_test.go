package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdholdren/debrief/internal/debrief"
	dberrs "github.com/jdholdren/debrief/internal/errors"
	"github.com/jdholdren/debrief/internal/results"
)

type staticIngester []debrief.Article

func (s staticIngester) Ingest(context.Context, []string) ([]debrief.Article, error) {
	return s, nil
}

// Answers each batch with whatever the script says for that batch number, or
// one rating of 50 per article otherwise.
type scriptedRater struct {
	mu      sync.Mutex
	calls   map[int]int
	answers map[int]func(call int, b debrief.Batch) ([]int, error)
}

func (s *scriptedRater) Rate(_ context.Context, b debrief.Batch) ([]int, error) {
	s.mu.Lock()
	if s.calls == nil {
		s.calls = map[int]int{}
	}
	s.calls[b.Number]++
	call := s.calls[b.Number]
	s.mu.Unlock()

	if answer, ok := s.answers[b.Number]; ok {
		return answer(call, b)
	}
	return fill(len(b.Articles), 50), nil
}

type countingGovernor struct {
	awaits, records int
}

func (g *countingGovernor) AwaitTurn(ctx context.Context) error {
	g.awaits++
	return ctx.Err()
}

func (g *countingGovernor) RecordCall() { g.records++ }

type recordingPersister struct {
	digests []debrief.RankedDigest
}

func (r *recordingPersister) Persist(_ context.Context, d debrief.RankedDigest) error {
	r.digests = append(r.digests, d)
	return nil
}

type failingPersister struct{}

func (failingPersister) Persist(context.Context, debrief.RankedDigest) error {
	return errors.New("disk full")
}

func articles(n int) []debrief.Article {
	out := make([]debrief.Article, n)
	for i := range out {
		out[i] = debrief.Article{
			Index: i + 1,
			Title: fmt.Sprintf("Story %d", i+1),
			Link:  fmt.Sprintf("https://news.example/%d", i+1),
		}
	}
	return out
}

func fill(n, rating int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = rating
	}
	return out
}

func TestRun_CountMismatchAbortsBeforePersisting(t *testing.T) {
	out := filepath.Join(t.TempDir(), "results.csv")
	rater := &scriptedRater{answers: map[int]func(int, debrief.Batch) ([]int, error){
		2: func(int, debrief.Batch) ([]int, error) { return fill(19, 40), nil },
	}}
	gov := &countingGovernor{}

	p := New(staticIngester(articles(45)), rater, gov, Options{BatchSize: 20}, results.File{Path: out})
	_, err := p.Run(context.Background(), []string{"feed"})
	require.Error(t, err)

	var dbErr *dberrs.Error
	require.ErrorAs(t, err, &dbErr)
	assert.Equal(t, dberrs.KindCountMismatch, dbErr.Kind)
	assert.Equal(t, &dberrs.CountMismatch{Batch: 2, Expected: 20, Actual: 19}, dbErr.Mismatch)
	assert.Contains(t, err.Error(), "batch 2: expected 20 ratings, got 19")

	// Batch 3 is never attempted.
	assert.Equal(t, 2, gov.awaits)
	assert.Equal(t, 2, gov.records)

	_, statErr := os.Stat(out)
	assert.True(t, os.IsNotExist(statErr), "no output file should be written")
}

func TestRun_RanksAndPersists(t *testing.T) {
	out := filepath.Join(t.TempDir(), "results.csv")
	arts := articles(10)
	arts[6].Link = debrief.NoLink

	ratings := []int{10, 20, 30, 40, 72, 60, 50, 5, 72, 1}
	rater := &scriptedRater{answers: map[int]func(int, debrief.Batch) ([]int, error){
		1: func(int, debrief.Batch) ([]int, error) { return ratings[:4], nil },
		2: func(int, debrief.Batch) ([]int, error) { return ratings[4:8], nil },
		3: func(int, debrief.Batch) ([]int, error) { return ratings[8:], nil },
	}}
	gov := &countingGovernor{}
	created := time.Date(2026, 10, 16, 8, 0, 0, 0, time.UTC)

	p := New(staticIngester(arts), rater, gov, Options{
		BatchSize: 4,
		Model:     "gemini-2.0-flash-lite",
		Interests: "go",
		Now:       func() time.Time { return created },
	}, results.File{Path: out})
	digest, err := p.Run(context.Background(), []string{"feed"})
	require.NoError(t, err)

	var order []int
	for _, a := range digest.Articles {
		order = append(order, a.Index)
	}
	assert.Equal(t, []int{5, 9, 6, 7, 4, 3, 2, 1, 8, 10}, order)
	assert.Equal(t, debrief.NoLink, digest.Articles[3].Link)
	assert.Equal(t, "gemini-2.0-flash-lite", digest.Model)
	assert.Equal(t, "go", digest.Interests)
	assert.Equal(t, created, digest.CreatedAt)
	assert.Equal(t, 3, gov.awaits)

	stored, err := results.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, digest.Articles, stored)
}

func TestRun_NoArticles(t *testing.T) {
	p := New(staticIngester(nil), &scriptedRater{}, &countingGovernor{}, Options{BatchSize: 20})
	_, err := p.Run(context.Background(), []string{"a", "b"})
	assert.Equal(t, dberrs.KindNoArticles, dberrs.KindOf(err))
}

func TestRun_ScoringCallAborts(t *testing.T) {
	rater := &scriptedRater{answers: map[int]func(int, debrief.Batch) ([]int, error){
		1: func(int, debrief.Batch) ([]int, error) {
			return nil, dberrs.E(dberrs.KindScoringCall, "unauthorized")
		},
	}}

	p := New(staticIngester(articles(3)), rater, &countingGovernor{}, Options{BatchSize: 2})
	_, err := p.Run(context.Background(), nil)
	assert.Equal(t, dberrs.KindScoringCall, dberrs.KindOf(err))
}

func TestRun_PersistenceFailure(t *testing.T) {
	p := New(staticIngester(articles(3)), &scriptedRater{}, &countingGovernor{}, Options{BatchSize: 2}, failingPersister{})
	_, err := p.Run(context.Background(), nil)
	assert.Equal(t, dberrs.KindPersistence, dberrs.KindOf(err))
	assert.Contains(t, err.Error(), "disk full")
}

func TestRun_PersistersStopAtFirstFailure(t *testing.T) {
	before, after := &recordingPersister{}, &recordingPersister{}
	p := New(staticIngester(articles(3)), &scriptedRater{}, &countingGovernor{}, Options{BatchSize: 2}, before, failingPersister{}, after)

	_, err := p.Run(context.Background(), nil)
	assert.Equal(t, dberrs.KindPersistence, dberrs.KindOf(err))
	assert.Len(t, before.digests, 1)
	assert.Empty(t, after.digests)
}

func TestRun_RetryRecovers(t *testing.T) {
	rater := &scriptedRater{answers: map[int]func(int, debrief.Batch) ([]int, error){
		2: func(call int, b debrief.Batch) ([]int, error) {
			switch call {
			case 1:
				return nil, dberrs.E(dberrs.KindResponseParse, "no list")
			case 2:
				return fill(len(b.Articles)-1, 10), nil
			default:
				return fill(len(b.Articles), 90), nil
			}
		},
	}}
	gov := &countingGovernor{}

	p := New(staticIngester(articles(5)), rater, gov, Options{
		BatchSize:    2,
		Policy:       PolicyRetry,
		MaxRetries:   3,
		RetryBackoff: time.Millisecond,
	})
	digest, err := p.Run(context.Background(), nil)
	require.NoError(t, err)

	require.Len(t, digest.Articles, 5)
	assert.Equal(t, 3, digest.Articles[0].Index)
	assert.Equal(t, 90, digest.Articles[0].Rating)
	assert.Equal(t, 3, rater.calls[2])
	assert.Equal(t, 5, gov.awaits) // Every attempt is paced
	assert.Equal(t, 5, gov.records)
}

func TestRun_RetryGivesUp(t *testing.T) {
	rater := &scriptedRater{answers: map[int]func(int, debrief.Batch) ([]int, error){
		1: func(int, debrief.Batch) ([]int, error) {
			return nil, dberrs.E(dberrs.KindScoringCall, "service unavailable")
		},
	}}

	p := New(staticIngester(articles(2)), rater, &countingGovernor{}, Options{
		BatchSize:    2,
		Policy:       PolicyRetry,
		MaxRetries:   2,
		RetryBackoff: time.Millisecond,
	})
	_, err := p.Run(context.Background(), nil)
	assert.Equal(t, dberrs.KindScoringCall, dberrs.KindOf(err))
	assert.Equal(t, 3, rater.calls[1])
}

func TestRun_SkipDropsFailedBatch(t *testing.T) {
	out := filepath.Join(t.TempDir(), "results.csv")
	rater := &scriptedRater{answers: map[int]func(int, debrief.Batch) ([]int, error){
		2: func(int, debrief.Batch) ([]int, error) { return fill(1, 99), nil },
	}}

	p := New(staticIngester(articles(5)), rater, &countingGovernor{}, Options{
		BatchSize: 2,
		Policy:    PolicySkip,
	}, results.File{Path: out})
	digest, err := p.Run(context.Background(), nil)
	require.NoError(t, err)

	var got []int
	for _, a := range digest.Articles {
		got = append(got, a.Index)
	}
	assert.Equal(t, []int{1, 2, 5}, got)
}

func TestRun_SkipEveryBatchFails(t *testing.T) {
	fail := func(int, debrief.Batch) ([]int, error) { return nil, dberrs.E(dberrs.KindScoringCall, "down") }
	rater := &scriptedRater{answers: map[int]func(int, debrief.Batch) ([]int, error){1: fail, 2: fail}}

	p := New(staticIngester(articles(3)), rater, &countingGovernor{}, Options{BatchSize: 2, Policy: PolicySkip})
	_, err := p.Run(context.Background(), nil)
	assert.Equal(t, dberrs.KindScoringCall, dberrs.KindOf(err))
	assert.Contains(t, err.Error(), "all 2 batches failed")
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := New(staticIngester(articles(3)), &scriptedRater{}, &countingGovernor{}, Options{BatchSize: 2, Policy: PolicySkip})
	_, err := p.Run(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRun_ScoringTimeout(t *testing.T) {
	rater := &blockingRater{}

	p := New(staticIngester(articles(1)), rater, &countingGovernor{}, Options{
		BatchSize:      1,
		ScoringTimeout: 20 * time.Millisecond,
	})
	_, err := p.Run(context.Background(), nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

type blockingRater struct{}

func (blockingRater) Rate(ctx context.Context, _ debrief.Batch) ([]int, error) {
	<-ctx.Done()
	return nil, dberrs.E(dberrs.KindScoringCall, ctx.Err())
}

func TestRank(t *testing.T) {
	in := []debrief.ScoredArticle{
		{Article: debrief.Article{Index: 1}, Rating: 10},
		{Article: debrief.Article{Index: 5}, Rating: 72},
		{Article: debrief.Article{Index: 7}, Rating: 90},
		{Article: debrief.Article{Index: 9}, Rating: 72},
		{Article: debrief.Article{Index: 12}, Rating: 0},
	}

	ranked := Rank(in)

	var got []int
	for _, a := range ranked {
		got = append(got, a.Index)
	}
	assert.Equal(t, []int{7, 5, 9, 1, 12}, got)
	assert.Equal(t, 1, in[0].Index, "input is not reordered")
}

func TestParseFailurePolicy(t *testing.T) {
	for in, want := range map[string]FailurePolicy{
		"":       PolicyAbort,
		"abort":  PolicyAbort,
		" Skip ": PolicySkip,
		"RETRY":  PolicyRetry,
	} {
		got, err := ParseFailurePolicy(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseFailurePolicy("ignore")
	assert.Error(t, err)
}

func TestAggregator_Verify(t *testing.T) {
	agg := newAggregator(5)
	arts := articles(5)

	require.NoError(t, agg.attach(debrief.Batch{Number: 1, Articles: arts[:2]}, []int{1, 2}))
	agg.skip(debrief.Batch{Number: 2, Articles: arts[2:4]})

	err := agg.verify()
	var dbErr *dberrs.Error
	require.ErrorAs(t, err, &dbErr)
	assert.Equal(t, &dberrs.CountMismatch{Expected: 5, Actual: 4}, dbErr.Mismatch)

	require.NoError(t, agg.attach(debrief.Batch{Number: 3, Articles: arts[4:]}, []int{3}))
	assert.NoError(t, agg.verify())
}
