package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Kind names the pipeline stage an error came from.
type Kind int

const (
	KindInternal Kind = iota
	KindConfig
	KindFeedFetch
	KindNoArticles
	KindScoringCall
	KindResponseParse
	KindCountMismatch
	KindPersistence
	KindNotFound
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindFeedFetch:
		return "feed fetch"
	case KindNoArticles:
		return "ingest"
	case KindScoringCall:
		return "scoring"
	case KindResponseParse:
		return "response parse"
	case KindCountMismatch:
		return "aggregation"
	case KindPersistence:
		return "persistence"
	case KindNotFound:
		return "not found"
	case KindConflict:
		return "conflict"
	default:
		return "internal"
	}
}

// Status maps the kind onto an HTTP status for the digest server.
func (k Kind) Status() int {
	switch k {
	case KindConfig:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindFeedFetch, KindNoArticles, KindScoringCall, KindResponseParse:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Error represents a universal error type across the pipeline stages.
type Error struct {
	Kind     Kind
	Err      error // The error this wraps
	Details  []Detail
	Mismatch *CountMismatch
}

type Detail struct {
	Field string `json:"field"`
	Error string `json:"error"`
}

// CountMismatch records a disagreement between how many ratings were expected and
// how many came back.
//
// Batch is the 1-based batch number, or 0 for the whole-run check.
type CountMismatch struct {
	Batch    int
	Expected int
	Actual   int
}

func (m *CountMismatch) Error() string {
	if m.Batch == 0 {
		return fmt.Sprintf("total: expected %d ratings, got %d", m.Expected, m.Actual)
	}
	return fmt.Sprintf("batch %d: expected %d ratings, got %d", m.Batch, m.Expected, m.Actual)
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %s", msg, e.Err)
	}
	if len(e.Details) > 0 {
		msg = fmt.Sprintf("%s, details: %v", msg, e.Details)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

type transport struct {
	Message string   `json:"message"`
	Stage   string   `json:"stage"`
	Details []Detail `json:"details,omitempty"`
}

func (e *Error) MarshalJSON() ([]byte, error) {
	msg := ""
	if e.Err != nil {
		msg = e.Err.Error()
	}

	return json.Marshal(transport{
		Message: msg,
		Stage:   e.Kind.String(),
		Details: e.Details,
	})
}

// E builds an [*Error] from any mix of a message, a wrapped error, a [Kind],
// details and a count mismatch.
func E(args ...any) *Error {
	ret := &Error{
		Kind:    KindInternal,
		Err:     nil,
		Details: nil,
	}

	for _, arg := range args {
		switch arg := arg.(type) {
		case string:
			ret.Err = errors.New(arg)
		case *CountMismatch:
			ret.Mismatch = arg
			ret.Err = arg
		case error:
			ret.Err = arg
		case Kind:
			ret.Kind = arg
		case Detail:
			ret.Details = append(ret.Details, arg)
		case []Detail:
			ret.Details = append(ret.Details, arg...)
		}
	}

	return ret
}

// KindOf reports the kind of the first [*Error] in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}
