package rating

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// GeminiBaseURL is Google's OpenAI-compatible endpoint for Gemini models.
const GeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai/"

// Gemini completes prompts with a Gemini model, streaming the answer.
type Gemini struct {
	client openai.Client
	model  string
}

// NewGemini creates a Gemini completer. Extra options are applied last, so they
// can point the client somewhere else.
func NewGemini(apiKey, model string, opts ...option.RequestOption) Gemini {
	base := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithBaseURL(GeminiBaseURL),
		option.WithMaxRetries(0), // Retrying is the pipeline's call
	}

	return Gemini{
		client: openai.NewClient(append(base, opts...)...),
		model:  model,
	}
}

func (g Gemini) Complete(ctx context.Context, prompt string) (string, error) {
	stream := g.client.Chat.Completions.NewStreaming(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(g.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		Temperature: openai.Float(1),
		TopP:        openai.Float(0.95),
		MaxTokens:   openai.Int(8192),
	})
	defer stream.Close()

	var result strings.Builder
	for stream.Next() {
		chunk := stream.Current()
		for _, choice := range chunk.Choices {
			result.WriteString(choice.Delta.Content)
		}
	}

	err := stream.Err()
	var apiErr *openai.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests {
		return "", fmt.Errorf("%w: %s", ErrRateLimited, err)
	}
	if err != nil {
		return "", fmt.Errorf("error streaming gemini response: %w", err)
	}

	return result.String(), nil
}
