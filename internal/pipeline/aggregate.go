package pipeline

import (
	"github.com/jdholdren/debrief/internal/debrief"
	dberrs "github.com/jdholdren/debrief/internal/errors"
)

// aggregator pairs ratings with the articles they were given for, batch by batch.
type aggregator struct {
	total   int
	scored  []debrief.ScoredArticle
	skipped int
}

func newAggregator(total int) *aggregator {
	return &aggregator{
		total:  total,
		scored: make([]debrief.ScoredArticle, 0, total),
	}
}

// checkCount fails with a count mismatch unless there is one rating per article.
func checkCount(b debrief.Batch, ratings []int) error {
	if len(ratings) == len(b.Articles) {
		return nil
	}

	return dberrs.E(dberrs.KindCountMismatch, &dberrs.CountMismatch{
		Batch:    b.Number,
		Expected: len(b.Articles),
		Actual:   len(ratings),
	})
}

// attach gives ratings[i] to b.Articles[i].
func (a *aggregator) attach(b debrief.Batch, ratings []int) error {
	if err := checkCount(b, ratings); err != nil {
		return err
	}

	for i, art := range b.Articles {
		a.scored = append(a.scored, debrief.ScoredArticle{
			Article: art,
			Rating:  ratings[i],
		})
	}
	return nil
}

// skip accounts for a batch whose articles are left out of the digest.
func (a *aggregator) skip(b debrief.Batch) {
	a.skipped += len(b.Articles)
}

// verify is the whole-run check: every ingested article was either scored or
// deliberately skipped.
func (a *aggregator) verify() error {
	if got := len(a.scored) + a.skipped; got != a.total {
		return dberrs.E(dberrs.KindCountMismatch, &dberrs.CountMismatch{
			Expected: a.total,
			Actual:   got,
		})
	}
	return nil
}
