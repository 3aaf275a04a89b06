package pipeline

import (
	"cmp"
	"slices"

	"github.com/jdholdren/debrief/internal/debrief"
)

// Rank orders scored articles by descending rating. Ties keep ingestion order.
//
// The input is left untouched.
func Rank(scored []debrief.ScoredArticle) []debrief.ScoredArticle {
	ranked := slices.Clone(scored)
	slices.SortStableFunc(ranked, func(a, b debrief.ScoredArticle) int {
		if c := cmp.Compare(b.Rating, a.Rating); c != 0 {
			return c
		}
		return cmp.Compare(a.Index, b.Index)
	})
	return ranked
}
