package retrieval

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorKind classifies a single fetcher failure.
type ErrorKind string

// Failure kinds reported by fetchers.
const (
	ErrTimeout              ErrorKind = "timeout"
	ErrConnection           ErrorKind = "connection-error"
	ErrHTTP                 ErrorKind = "http-error"
	ErrEmptyContent         ErrorKind = "empty-content"
	ErrExtractionFailed     ErrorKind = "extraction-failed"
	ErrVerificationRequired ErrorKind = "verification-required"
	ErrRateLimited          ErrorKind = "rate-limited"
	ErrUnknown              ErrorKind = "unknown-error"
	ErrParse                ErrorKind = "parse-error"
	ErrInvalidURL           ErrorKind = "invalid-url"
)

// Outcome is the result of one fetcher call: either Success carrying text
// or Failure carrying an ErrorKind and a detail message.
type Outcome struct {
	ok     bool
	text   string
	meta   Meta
	kind   ErrorKind
	status int
	detail string
}

// Success builds a successful outcome.
func Success(text string, meta Meta) Outcome {
	return Outcome{ok: true, text: text, meta: meta}
}

// Failure builds a failed outcome.
func Failure(kind ErrorKind, detail string) Outcome {
	return Outcome{kind: kind, detail: detail}
}

// HTTPFailure builds an http-error outcome for a non-2xx status.
func HTTPFailure(status int) Outcome {
	return Outcome{kind: ErrHTTP, status: status, detail: fmt.Sprintf("status %d", status)}
}

// TransportFailure maps a client error to timeout or connection-error.
func TransportFailure(err error) Outcome {
	if errors.Is(err, context.DeadlineExceeded) {
		return Failure(ErrTimeout, err.Error())
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Failure(ErrTimeout, err.Error())
	}
	return Failure(ErrConnection, err.Error())
}

// OK reports whether the outcome is a Success.
func (o Outcome) OK() bool { return o.ok }

// Text returns the extracted text of a Success.
func (o Outcome) Text() string { return o.text }

// Meta returns article metadata of a Success.
func (o Outcome) Meta() Meta { return o.meta }

// Kind returns the failure kind; empty for a Success.
func (o Outcome) Kind() ErrorKind { return o.kind }

// Status returns the HTTP status of an http-error failure.
func (o Outcome) Status() int { return o.status }

// Detail returns the human-readable failure detail.
func (o Outcome) Detail() string { return o.detail }

// Label returns "success" or the failure kind, for metrics.
func (o Outcome) Label() string {
	if o.ok {
		return "success"
	}
	return string(o.kind)
}

func (o Outcome) String() string {
	if o.ok {
		return fmt.Sprintf("success(%d bytes)", len(o.text))
	}
	if o.detail == "" {
		return string(o.kind)
	}
	return fmt.Sprintf("%s: %s", o.kind, o.detail)
}
