package dispatch

import (
	"time"

	"github.com/rs/xid"
)

// OpaqueID identifies one logical invocation of a Request. Retries of the
// same logical call share an OpaqueID; two independent Submit calls never do.
type OpaqueID string

// NewOpaqueID mints a fresh identifier for a caller that does not supply its own.
func NewOpaqueID() OpaqueID {
	return OpaqueID(xid.New().String())
}

// File is a multipart attachment alongside a Request's JSON body.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// ResponseParser decodes a successful response body into the caller's
// expected shape. It receives an empty slice for 204 No Content responses;
// a parser that requires data returns an error, which the Response Parser
// surfaces as Cause: CauseUnexpectedEmpty.
type ResponseParser func(body []byte) (any, error)

// Request is one REST call a caller wants made. It is consumed by the
// Pipeline exactly once and produces exactly one Answer.
type Request struct {
	Route        Route
	Identifier   OpaqueID
	Body         []byte
	Files        []File
	ExtraHeaders map[string]string
	Parser       ResponseParser
	Context      any

	// attempt and original are populated internally by the Retry Loop; a
	// caller constructing a Request directly leaves them at the zero value.
	attempt  uint32
	original *Request
}

// WithIdentifier returns a copy of req with a freshly minted OpaqueID when
// none was set, for catalog code that doesn't want to import xid directly.
func (req Request) WithIdentifier() Request {
	if req.Identifier == "" {
		req.Identifier = NewOpaqueID()
	}

	return req
}

// Kind distinguishes the four Answer variants.
type Kind int

const (
	// KindResponse is a 2xx Answer with a parsed body.
	KindResponse Kind = iota

	// KindRatelimited is a 429 Answer; the Limiter admitted the Request but
	// the server rejected it anyway.
	KindRatelimited

	// KindError is a network failure or a non-2xx, non-429 Answer.
	KindError

	// KindDropped is an Answer the Limiter never sent: the predicted wait
	// exceeded LimiterConfig.MaxAllowedWait.
	KindDropped
)

// RateLimitInfo carries the rate-limit metadata observed on a response, for
// callers who want visibility beyond the Answer's Kind.
type RateLimitInfo struct {
	Limit     int
	Remaining int
	ResetAt   time.Time
	Bucket    BucketID
	Scope     string
	Global    bool
}

// Answer is the single result a Request produces, regardless of outcome.
type Answer struct {
	Kind       Kind
	Data       any
	RateLimit  RateLimitInfo
	Route      RouteKey
	Identifier OpaqueID
	Context    any
	Err        error
}
