// Package rating asks a language model to score batches of articles.
package rating

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jdholdren/debrief/internal/debrief"
	dberrs "github.com/jdholdren/debrief/internal/errors"
)

//go:embed prompt.txt
var promptTemplate string

// Completer sends one prompt to a language model and returns the whole text of
// its answer.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

var _ debrief.Rater = Rater{}

// Rater scores batches against a reader's interests.
type Rater struct {
	completer Completer
	interests string
}

func NewRater(c Completer, interests string) Rater {
	return Rater{
		completer: c,
		interests: interests,
	}
}

// The shape each story takes inside the prompt.
type promptStory struct {
	StoryIndex int    `json:"story_index"`
	Title      string `json:"title"`
	Link       string `json:"link"`
}

// Prompt builds the instruction sent for a batch.
func Prompt(b debrief.Batch, interests string) (string, error) {
	stories := make([]promptStory, 0, len(b.Articles))
	for _, a := range b.Articles {
		stories = append(stories, promptStory{
			StoryIndex: a.Index,
			Title:      a.Title,
			Link:       a.Link,
		})
	}

	byts, err := json.MarshalIndent(stories, "", "  ")
	if err != nil {
		return "", fmt.Errorf("error marshaling stories: %w", err)
	}

	return fmt.Sprintf(promptTemplate, len(b.Articles), interests, string(byts)), nil
}

// Rate returns one rating per article in the batch, in batch order.
//
// A failed call is a KindScoringCall error; a response without a usable rating
// list is a KindResponseParse error. Checking the count is left to the caller.
func (r Rater) Rate(ctx context.Context, b debrief.Batch) ([]int, error) {
	prompt, err := Prompt(b, r.interests)
	if err != nil {
		return nil, dberrs.E(dberrs.KindScoringCall, err)
	}

	slog.DebugContext(ctx, "sending batch for rating", "stories", len(b.Articles), "prompt_length", len(prompt))

	resp, err := r.completer.Complete(ctx, prompt)
	if err != nil {
		return nil, dberrs.E(dberrs.KindScoringCall, fmt.Errorf("error calling scoring service: %w", err))
	}

	slog.DebugContext(ctx, "raw rating response", "response", resp)

	ratings, err := ParseRatings(resp)
	if err != nil {
		return nil, dberrs.E(dberrs.KindResponseParse, err)
	}

	slog.DebugContext(ctx, "parsed ratings", "count", len(ratings))

	return ratings, nil
}
