package dispatch

import (
	"errors"
	"fmt"
)

// Cause identifies why a Request produced an Error Answer.
type Cause int

// Error causes; a caller reads the Cause of an Answer's Err with CauseOf.
const (
	// CauseNetwork indicates a connection, DNS, or TLS failure. Retryable.
	CauseNetwork Cause = iota

	// CauseHTTPStatus indicates a non-2xx, non-429 status code. Retryable
	// only for 5xx and 408; surfaced as-is otherwise.
	CauseHTTPStatus

	// CauseTimeout indicates the HTTP send exceeded PipelineConfig.HTTPTimeout. Retryable.
	CauseTimeout

	// CauseParseError indicates the per-request parser rejected the body. Not retryable.
	CauseParseError

	// CauseBufferOverflow indicates the ingress buffer's overflow policy rejected
	// the request. Not retried.
	CauseBufferOverflow

	// CauseUnexpectedEmpty indicates a 204 response where the per-request parser
	// requires a body. Not retryable.
	CauseUnexpectedEmpty

	// CausePipelineShutdown indicates the Limiter's mailbox failed and the
	// pipeline is tearing down.
	CausePipelineShutdown
)

// String names a Cause for logging.
func (c Cause) String() string {
	switch c {
	case CauseNetwork:
		return "network"
	case CauseHTTPStatus:
		return "http_status"
	case CauseTimeout:
		return "timeout"
	case CauseParseError:
		return "parse_error"
	case CauseBufferOverflow:
		return "buffer_overflow"
	case CauseUnexpectedEmpty:
		return "unexpected_empty"
	case CausePipelineShutdown:
		return "pipeline_shutdown"
	default:
		return "unknown"
	}
}

// RequestError is the error carried by an Error Answer.
type RequestError struct {
	Cause      Cause
	StatusCode int
	Body       string
	Err        error
}

func (e *RequestError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("dispatch: %s (status %d): %v", e.Cause, e.StatusCode, e.Err)
	}

	return fmt.Sprintf("dispatch: %s: %v", e.Cause, e.Err)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// CauseOf unwraps err looking for a *RequestError and returns its Cause.
// ok is false when err does not carry a dispatch Cause.
func CauseOf(err error) (cause Cause, ok bool) {
	var re *RequestError
	if errors.As(err, &re) {
		return re.Cause, true
	}

	return 0, false
}

// newRequestError wraps cause/err into the Error Answer's carried error.
func newRequestError(cause Cause, err error) *RequestError {
	return &RequestError{Cause: cause, Err: err}
}

// IsRetryable reports whether the Retry Loop should reinject a Request that
// failed with this error.
func (e *RequestError) IsRetryable() bool {
	switch e.Cause {
	case CauseNetwork, CauseTimeout:
		return true
	case CauseHTTPStatus:
		return e.StatusCode >= 500 || e.StatusCode == 408
	case CauseParseError, CauseBufferOverflow, CauseUnexpectedEmpty, CausePipelineShutdown:
		return false
	default:
		return false
	}
}

// Status Code Error Messages, mirrored from Discord's documented HTTP codes.
var httpResponseCodes = map[int]string{
	400: "Bad Request",
	401: "Unauthorized",
	403: "Forbidden",
	404: "Not Found",
	405: "Method Not Allowed",
	429: "Too Many Requests",
	502: "Bad Gateway",
}

// StatusCodeError builds the *RequestError for a non-2xx, non-429 response.
func StatusCodeError(status int, body string) *RequestError {
	msg, ok := httpResponseCodes[status]
	if !ok {
		msg = "Unknown status code error from Discord"
	}

	return &RequestError{
		Cause:      CauseHTTPStatus,
		StatusCode: status,
		Body:       body,
		Err:        fmt.Errorf("status code %d: %s", status, msg),
	}
}

// ErrPipelineClosed is returned by Submit once the Pipeline has been shut down.
var ErrPipelineClosed = errors.New("dispatch: pipeline closed")

// ErrBufferOverflow is the cause wrapped by a CauseBufferOverflow RequestError.
var ErrBufferOverflow = errors.New("dispatch: ingress buffer overflow")
