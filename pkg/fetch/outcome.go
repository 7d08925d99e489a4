package fetch

import (
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

// ResponseKind selects how a response body is validated.
type ResponseKind int

const (
	Raw        ResponseKind = iota // body returned as-is
	JSON                           // body must be well-formed JSON
	LocGovJSON                     // JSON carrying the loc.gov status/options envelope
)

// Status is the classification of one fetch.
type Status int

const (
	StatusSuccess Status = iota
	StatusNotFound
	StatusForbidden
	StatusRateLimited
	StatusInvalidPayload
	StatusPartialResult // retried internally, never terminal
	StatusServerError   // transient server or network failure, retried internally
	StatusExhausted
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusNotFound:
		return "not found"
	case StatusForbidden:
		return "forbidden"
	case StatusRateLimited:
		return "rate limited"
	case StatusInvalidPayload:
		return "invalid payload"
	case StatusPartialResult:
		return "partial result"
	case StatusServerError:
		return "server error"
	case StatusExhausted:
		return "exhausted"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

var (
	ErrNotFound       = errors.New("no record")
	ErrForbidden      = errors.New("forbidden")
	ErrBlocked        = errors.New("blocked by rate limit")
	ErrInvalidPayload = errors.New("invalid JSON")
	ErrExhausted      = errors.New("attempts exhausted")
	ErrCircuitOpen    = errors.New("circuit breaker open")
)

// Error is the error form of a failed Outcome.
type Error struct {
	Status     Status
	URL        string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s (HTTP %d): %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.URL, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Outcome is the terminal result of Engine.Fetch. It is never mutated after
// Fetch returns.
type Outcome struct {
	Status     Status
	URL        string
	StatusCode int // last HTTP status seen, 0 if none
	Body       []byte
	Doc        gjson.Result // parsed body for JSON kinds
	Attempts   int          // network round trips made
	Trail      []Status     // retried classifications, in order

	cause error
}

func (o Outcome) OK() bool { return o.Status == StatusSuccess }

// Blocked reports whether the fetch was refused because of a rate limit,
// either directly or through an already open breaker.
func (o Outcome) Blocked() bool {
	return o.Status == StatusRateLimited || errors.Is(o.cause, ErrCircuitOpen)
}

// Message is the error text recorded in error rows and logs.
func (o Outcome) Message() string {
	switch o.Status {
	case StatusSuccess:
		return ""
	case StatusNotFound:
		return "ERROR - NO RECORD"
	case StatusForbidden:
		return "ERROR - FORBIDDEN"
	case StatusRateLimited:
		return "ERROR - BLOCKED"
	case StatusInvalidPayload:
		return "ERROR - INVALID JSON"
	}
	if o.Blocked() {
		return "ERROR - BLOCKED"
	}
	return "ERROR - GENERAL"
}

// Err returns nil on success, otherwise an *Error matching one of the
// package sentinels.
func (o Outcome) Err() error {
	var err error
	switch o.Status {
	case StatusSuccess:
		return nil
	case StatusNotFound:
		err = ErrNotFound
	case StatusForbidden:
		err = ErrForbidden
	case StatusRateLimited:
		err = ErrBlocked
	case StatusInvalidPayload:
		err = ErrInvalidPayload
	default:
		err = ErrExhausted
		if o.cause != nil {
			err = fmt.Errorf("%w: %w", ErrExhausted, o.cause)
		}
	}
	return &Error{Status: o.Status, URL: o.URL, StatusCode: o.StatusCode, Err: err}
}
