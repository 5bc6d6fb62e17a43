package dispatch

import (
	"testing"
	"time"
)

func testLimiterConfig() LimiterConfig {
	return LimiterConfig{
		MaxAllowedWait:       100 * time.Millisecond,
		MaxBuckets:           8,
		RelativeTime:         true,
		MillisecondPrecision: false,
	}
}

func TestLimiterAdmitsUnknownBucketImmediately(t *testing.T) {
	l := NewLimiter(testLimiterConfig())
	defer l.Close()

	pass, bucket := l.wantToPass(RouteKey("GET /channels/1"), false)
	if !pass {
		t.Fatalf("expected a never-before-seen bucket to be admitted immediately")
	}

	if bucket != BucketID("GET /channels/1") {
		t.Fatalf("expected the provisional bucket id to equal the RouteKey, got %q", bucket)
	}
}

func TestLimiterDepletesThenDefersAdmission(t *testing.T) {
	l := NewLimiter(testLimiterConfig())
	defer l.Close()

	route := RouteKey("GET /channels/1")

	pass, _ := l.wantToPass(route, false)
	if !pass {
		t.Fatalf("first admission should pass")
	}

	l.updateRatelimits(route, RateLimitInfo{
		Limit:     1,
		Remaining: 0,
		ResetAt:   time.Now().Add(30 * time.Millisecond),
		Bucket:    BucketID("bucket-a"),
	}, "req-1")

	// give the Limiter's goroutine time to apply the update before the next admit.
	time.Sleep(10 * time.Millisecond)

	start := time.Now()
	pass, bucket := l.wantToPass(route, false)
	elapsed := time.Since(start)

	if !pass {
		t.Fatalf("expected the deferred admission to eventually pass")
	}

	if bucket != BucketID("bucket-a") {
		t.Fatalf("expected the admission to resolve against the confirmed bucket, got %q", bucket)
	}

	if elapsed < 10*time.Millisecond {
		t.Fatalf("expected admission to be deferred until the bucket window reset, only waited %v", elapsed)
	}
}

func TestLimiterDropsWhenWaitExceedsBudget(t *testing.T) {
	cfg := testLimiterConfig()
	cfg.MaxAllowedWait = 10 * time.Millisecond

	l := NewLimiter(cfg)
	defer l.Close()

	route := RouteKey("GET /channels/1")

	l.wantToPass(route, false)
	l.updateRatelimits(route, RateLimitInfo{
		Limit:     1,
		Remaining: 0,
		ResetAt:   time.Now().Add(time.Hour),
		Bucket:    BucketID("bucket-a"),
	}, "req-1")

	time.Sleep(10 * time.Millisecond)

	pass, _ := l.wantToPass(route, false)
	if pass {
		t.Fatalf("expected admission to be dropped once the predicted wait exceeds MaxAllowedWait")
	}
}

func TestLimiterGlobalBlockGatesAllRoutes(t *testing.T) {
	l := NewLimiter(testLimiterConfig())
	defer l.Close()

	l.updateRatelimits("", RateLimitInfo{
		Global:  true,
		ResetAt: time.Now().Add(30 * time.Millisecond),
	}, "req-1")

	time.Sleep(5 * time.Millisecond)

	start := time.Now()
	pass, _ := l.wantToPass(RouteKey("GET /channels/1"), false)
	elapsed := time.Since(start)

	if !pass {
		t.Fatalf("expected the request to eventually pass once the global window clears")
	}

	if elapsed < 10*time.Millisecond {
		t.Fatalf("expected the request to wait out the global block, only waited %v", elapsed)
	}
}

func TestLimiterExemptRouteBypassesGlobalBlock(t *testing.T) {
	l := NewLimiter(testLimiterConfig())
	defer l.Close()

	l.updateRatelimits("", RateLimitInfo{
		Global:  true,
		ResetAt: time.Now().Add(time.Hour),
	}, "req-1")

	time.Sleep(5 * time.Millisecond)

	pass, _ := l.wantToPass(RouteKey("POST /interactions/1/tok/callback"), true)
	if !pass {
		t.Fatalf("expected a global-exempt route to bypass an active global block")
	}
}

func TestLimiterBindIsMonotoneAfterProvisionalAdmission(t *testing.T) {
	l := NewLimiter(testLimiterConfig())
	defer l.Close()

	route := RouteKey("GET /channels/1")

	_, bucket := l.wantToPass(route, false)
	if bucket != BucketID(route) {
		t.Fatalf("expected provisional admission to use the RouteKey as bucket id")
	}

	l.updateRatelimits(route, RateLimitInfo{
		Limit:     5,
		Remaining: 4,
		ResetAt:   time.Now().Add(time.Second),
		Bucket:    BucketID("confirmed-bucket"),
	}, "req-1")

	time.Sleep(10 * time.Millisecond)

	_, bucket = l.wantToPass(route, false)
	if bucket != BucketID("confirmed-bucket") {
		t.Fatalf("expected subsequent admissions to resolve against the confirmed bucket, got %q", bucket)
	}
}

func TestLimiterReleaseReturnsSlot(t *testing.T) {
	l := NewLimiter(testLimiterConfig())
	defer l.Close()

	route := RouteKey("GET /channels/1")

	l.updateRatelimits(route, RateLimitInfo{
		Limit:     1,
		Remaining: 1,
		ResetAt:   time.Now().Add(time.Hour),
		Bucket:    BucketID("bucket-a"),
	}, "req-1")

	time.Sleep(10 * time.Millisecond)

	pass, bucket := l.wantToPass(route, false)
	if !pass {
		t.Fatalf("expected the single remaining slot to admit the request")
	}

	pass, _ = l.wantToPass(route, false)
	if pass {
		t.Fatalf("expected the bucket to be depleted after consuming its only slot")
	}

	// the dropped wantToPass above returned false without reserving anything,
	// so release the slot consumed by the first, successful admission.
	l.release(bucket)

	time.Sleep(10 * time.Millisecond)

	pass, _ = l.wantToPass(route, false)
	if !pass {
		t.Fatalf("expected release to return the slot for a subsequent admission")
	}
}
