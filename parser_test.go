package dispatch

import (
	"errors"
	"strconv"
	"testing"
	"time"
)

func headerWith(pairs map[string]string) Header {
	h := newHeader()
	for k, v := range pairs {
		h.set(k, v)
	}

	return h
}

func TestExtractRateLimitInfoParsesHeaders(t *testing.T) {
	cfg := DefaultLimiterConfig()
	header := headerWith(map[string]string{
		headerRateLimitLimit:      "5",
		headerRateLimitRemaining:  "3",
		headerRateLimitResetAfter: "1.5",
		headerRateLimitBucket:     "abcd1234",
		headerRateLimitScope:      "user",
	})

	info, ok := extractRateLimitInfo(cfg, header)
	if !ok {
		t.Fatalf("expected headers to be recognized as carrying rate-limit metadata")
	}

	if info.Limit != 5 || info.Remaining != 3 {
		t.Fatalf("got Limit=%d Remaining=%d, want Limit=5 Remaining=3", info.Limit, info.Remaining)
	}

	if info.Bucket != BucketID("abcd1234") {
		t.Fatalf("got Bucket=%q, want abcd1234", info.Bucket)
	}

	if info.Scope != "user" {
		t.Fatalf("got Scope=%q, want user", info.Scope)
	}

	wantReset := time.Now().Add(1500 * time.Millisecond)
	if diff := info.ResetAt.Sub(wantReset); diff > 50*time.Millisecond || diff < -50*time.Millisecond {
		t.Fatalf("ResetAt = %v, want close to %v", info.ResetAt, wantReset)
	}
}

func TestExtractRateLimitInfoAbsentWhenHeadersMissing(t *testing.T) {
	_, ok := extractRateLimitInfo(DefaultLimiterConfig(), newHeader())
	if ok {
		t.Fatalf("expected a response with no rate-limit headers to report ok=false")
	}
}

func TestResolveResetAtPrefersRelativeWhenConfigured(t *testing.T) {
	cfg := DefaultLimiterConfig()
	cfg.RelativeTime = true

	header := headerWith(map[string]string{
		headerRateLimitResetAfter: "2",
		headerRateLimitReset:      "1.0",
	})

	got := resolveResetAt(cfg, header)
	want := time.Now().Add(2 * time.Second)

	if diff := got.Sub(want); diff > 50*time.Millisecond || diff < -50*time.Millisecond {
		t.Fatalf("expected the relative header to win, got %v want ~%v", got, want)
	}
}

func TestResolveResetAtFallsBackToAbsolute(t *testing.T) {
	cfg := DefaultLimiterConfig()
	cfg.RelativeTime = false

	epoch := time.Now().Add(3 * time.Second).Unix()
	header := headerWith(map[string]string{
		headerRateLimitReset: strconv.FormatInt(epoch, 10),
	})

	got := resolveResetAt(cfg, header)
	want := time.Unix(epoch, 0)

	if diff := got.Sub(want); diff > time.Second || diff < -time.Second {
		t.Fatalf("got %v, want close to %v", got, want)
	}
}

func TestParseResponseNetworkError(t *testing.T) {
	answer := parseResponse(DefaultLimiterConfig(), Request{}, nil, errors.New("connection reset"))

	if answer.Kind != KindError {
		t.Fatalf("expected a transport error to produce KindError, got %v", answer.Kind)
	}

	cause, ok := CauseOf(answer.Err)
	if !ok || cause != CauseNetwork {
		t.Fatalf("expected Cause=CauseNetwork, got %v (ok=%v)", cause, ok)
	}
}

func TestParseResponseSuccess(t *testing.T) {
	req := Request{
		Parser: func(body []byte) (any, error) {
			return string(body), nil
		},
	}
	wire := &WireResponse{StatusCode: 200, Header: newHeader(), Body: []byte("hello")}

	answer := parseResponse(DefaultLimiterConfig(), req, wire, nil)

	if answer.Kind != KindResponse {
		t.Fatalf("expected KindResponse, got %v", answer.Kind)
	}

	if answer.Data != "hello" {
		t.Fatalf("expected parsed data %q, got %v", "hello", answer.Data)
	}
}

func TestParseResponseNoContentSkipsParserBody(t *testing.T) {
	called := false
	req := Request{
		Parser: func(body []byte) (any, error) {
			called = true
			if len(body) != 0 {
				t.Fatalf("expected an empty body for a 204 response")
			}

			return nil, nil
		},
	}
	wire := &WireResponse{StatusCode: 204, Header: newHeader()}

	answer := parseResponse(DefaultLimiterConfig(), req, wire, nil)

	if !called {
		t.Fatalf("expected the parser to be invoked for a 204 response")
	}

	if answer.Kind != KindResponse {
		t.Fatalf("expected KindResponse for a 204, got %v", answer.Kind)
	}
}

func TestParseResponseRatelimited(t *testing.T) {
	wire := &WireResponse{
		StatusCode: 429,
		Header:     newHeader(),
		Body:       []byte(`{"message":"rate limited","retry_after":1.2,"global":false}`),
	}

	answer := parseResponse(DefaultLimiterConfig(), Request{}, wire, nil)

	if answer.Kind != KindRatelimited {
		t.Fatalf("expected KindRatelimited, got %v", answer.Kind)
	}

	if answer.RateLimit.ResetAt.IsZero() {
		t.Fatalf("expected a ResetAt computed from the body's retry_after")
	}
}

func TestParseResponseStatusCodeError(t *testing.T) {
	wire := &WireResponse{StatusCode: 404, Header: newHeader(), Body: []byte("not found")}

	answer := parseResponse(DefaultLimiterConfig(), Request{}, wire, nil)

	if answer.Kind != KindError {
		t.Fatalf("expected KindError for a 404, got %v", answer.Kind)
	}

	cause, ok := CauseOf(answer.Err)
	if !ok || cause != CauseHTTPStatus {
		t.Fatalf("expected Cause=CauseHTTPStatus, got %v (ok=%v)", cause, ok)
	}

	var rerr *RequestError
	if !errors.As(answer.Err, &rerr) || rerr.IsRetryable() {
		t.Fatalf("expected a 404 to not be retryable")
	}
}

func TestParseResponseEmptyBodyParseFailureIsUnexpectedEmpty(t *testing.T) {
	req := Request{
		Parser: func(body []byte) (any, error) {
			return nil, errors.New("expected a body")
		},
	}
	wire := &WireResponse{StatusCode: 204, Header: newHeader()}

	answer := parseResponse(DefaultLimiterConfig(), req, wire, nil)

	cause, ok := CauseOf(answer.Err)
	if !ok || cause != CauseUnexpectedEmpty {
		t.Fatalf("expected Cause=CauseUnexpectedEmpty, got %v (ok=%v)", cause, ok)
	}
}
