// Package batch partitions the article sequence into scoring-sized chunks.
package batch

import (
	"iter"
	"slices"

	"github.com/jdholdren/debrief/internal/debrief"
)

// Split yields the articles in order as batches of at most size articles.
//
// Each batch is a view into articles, not a copy. The sequence is lazy and can be
// ranged over any number of times. Split panics if size is less than 1.
func Split(articles []debrief.Article, size int) iter.Seq[debrief.Batch] {
	chunks := slices.Chunk(articles, size)

	return func(yield func(debrief.Batch) bool) {
		n := 0
		for chunk := range chunks {
			n++
			if !yield(debrief.Batch{Number: n, Articles: chunk}) {
				return
			}
		}
	}
}

// Count returns how many batches Split produces for total articles.
func Count(total, size int) int {
	if total <= 0 {
		return 0
	}
	return (total + size - 1) / size
}
