// Package debrief holds the types shared by every stage of the rating pipeline.
package debrief

import (
	"context"
	"time"
)

// NoLink stands in for the link of a feed entry that didn't have one.
const NoLink = "NO_LINK"

type (
	// Article is a single ingested feed entry.
	//
	// Index is assigned in ingestion order starting at 1 and never changes.
	Article struct {
		Index int    `json:"story_index" db:"story_index"`
		Title string `json:"title" db:"title"`
		Link  string `json:"link" db:"article_link"`
	}

	// Batch is a contiguous view into the full article sequence, sized for one
	// scoring call.
	Batch struct {
		Number   int // 1-based
		Articles []Article
	}

	// ScoredArticle pairs an article with the rating it was given.
	ScoredArticle struct {
		Article
		Rating int `json:"rating" db:"rating"`
	}

	// RankedDigest is the final output of a run: every scored article, ordered
	// by descending rating with ties kept in ingestion order.
	RankedDigest struct {
		Articles  []ScoredArticle
		Model     string
		Interests string
		CreatedAt time.Time
	}

	// Run describes one digest kept in the archive.
	Run struct {
		ID           string    `json:"id"`
		Model        string    `json:"model"`
		Interests    string    `json:"interests"`
		ArticleCount int       `json:"article_count"`
		CreatedAt    time.Time `json:"created_at"`
	}
)

type (
	// Rater scores one batch, returning one rating per article in batch order.
	Rater interface {
		Rate(ctx context.Context, b Batch) ([]int, error)
	}

	// Governor paces successive calls to the scoring service.
	//
	// AwaitTurn blocks until the next call may start. RecordCall is invoked once a
	// call has finished.
	Governor interface {
		AwaitTurn(ctx context.Context) error
		RecordCall()
	}

	// Persister durably writes a ranked digest, all or nothing.
	Persister interface {
		Persist(ctx context.Context, d RankedDigest) error
	}
)

// HasLink reports whether the article came with a real link.
func (a Article) HasLink() bool {
	return a.Link != "" && a.Link != NoLink
}
