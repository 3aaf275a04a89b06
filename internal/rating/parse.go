package rating

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const (
	MinRating = 0
	MaxRating = 100
)

var (
	ErrNoRatings   = errors.New("no rating list found in response")
	ErrRateLimited = errors.New("scoring service rate limit hit")
)

// Matches a bracketed group with no brackets inside it.
var bracketed = regexp.MustCompile(`\[[^\[\]]*\]`)

// Matches one list element: an optionally signed integer.
var integer = regexp.MustCompile(`^[+-]?[0-9]+$`)

// ParseRatings pulls the rating list out of a free-text model response.
//
// The response may carry any text around a single list of the form
// [n1, n2, ...] where every element is an integer. When more than one
// well-formed list appears, the last one is used. Ratings must lie within
// [MinRating, MaxRating].
func ParseRatings(response string) ([]int, error) {
	candidates := bracketed.FindAllString(response, -1)

	for i := len(candidates) - 1; i >= 0; i-- {
		ratings, ok := parseList(candidates[i])
		if !ok {
			continue
		}

		for n, r := range ratings {
			if r < MinRating || r > MaxRating {
				return nil, fmt.Errorf("rating %d at position %d is outside [%d, %d]", r, n+1, MinRating, MaxRating)
			}
		}
		return ratings, nil
	}

	return nil, ErrNoRatings
}

// Decodes "[1, 2, 3]" strictly; anything but integers separated by commas fails.
func parseList(s string) ([]int, bool) {
	inner := strings.TrimSpace(s[1 : len(s)-1])
	if inner == "" {
		return []int{}, true
	}

	parts := strings.Split(inner, ",")
	ratings := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if !integer.MatchString(p) {
			return nil, false
		}
		n, err := strconv.Atoi(p)
		if err != nil { // overflow
			return nil, false
		}
		ratings = append(ratings, n)
	}

	return ratings, true
}
