package pipeline

import (
	"fmt"
	"strings"
)

// FailurePolicy decides what happens to a batch that could not be scored.
type FailurePolicy string

const (
	// PolicyAbort stops the run at the first failed batch. Nothing is persisted.
	PolicyAbort FailurePolicy = "abort"
	// PolicySkip logs the failed batch and leaves its articles out of the digest.
	PolicySkip FailurePolicy = "skip"
	// PolicyRetry retries the batch with exponential backoff, then aborts.
	PolicyRetry FailurePolicy = "retry"
)

func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch p := FailurePolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case PolicyAbort, PolicySkip, PolicyRetry:
		return p, nil
	case "":
		return PolicyAbort, nil
	default:
		return "", fmt.Errorf("unknown failure policy %q", s)
	}
}
