package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/google/go-github/v62/github"
)

// ErrorKind tells callers which stage of a fetch failed.
type ErrorKind int

const (
	// KindTransport covers network failures and timeouts reaching the endpoint.
	KindTransport ErrorKind = iota + 1
	// KindStatus is a non-success HTTP status.
	KindStatus
	// KindDecode is a body that does not match the expected schema.
	KindDecode
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindStatus:
		return "status"
	case KindDecode:
		return "decode"
	default:
		return "unknown"
	}
}

// FetchError carries the requested URL alongside the underlying cause.
type FetchError struct {
	Kind ErrorKind
	URL  string
	Err  error
}

func (e *FetchError) Error() string {
	switch e.Kind {
	case KindStatus:
		return fmt.Sprintf("github returned error status for url %s: probably permissions related: %v", e.URL, e.Err)
	case KindDecode:
		return fmt.Sprintf("failed to parse response for url %s: %v", e.URL, e.Err)
	default:
		return fmt.Sprintf("failed to get url %s: %v", e.URL, e.Err)
	}
}

func (e *FetchError) Unwrap() error { return e.Err }

func classify(err error) ErrorKind {
	var (
		errResp   *github.ErrorResponse
		rateErr   *github.RateLimitError
		abuseErr  *github.AbuseRateLimitError
		accepted  *github.AcceptedError
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
		timeErr   *time.ParseError
		urlErr    *url.Error
	)
	switch {
	case errors.As(err, &errResp), errors.As(err, &rateErr), errors.As(err, &abuseErr), errors.As(err, &accepted):
		return KindStatus
	case errors.As(err, &urlErr):
		return KindTransport
	case errors.As(err, &syntaxErr), errors.As(err, &typeErr), errors.As(err, &timeErr), errors.Is(err, io.ErrUnexpectedEOF):
		return KindDecode
	default:
		return KindTransport
	}
}
