package dispatch

import "time"

// OverflowPolicy controls what the ingress buffer does when it is full.
type OverflowPolicy int

const (
	// OverflowBackpressure blocks the producer until buffer space frees up.
	// It is the only policy that never loses a Request.
	OverflowBackpressure OverflowPolicy = iota

	// OverflowDropNewest rejects the incoming Request, keeping the buffer as-is.
	OverflowDropNewest

	// OverflowDropOldest evicts the oldest buffered Request to make room.
	OverflowDropOldest

	// OverflowDropBuffer discards every currently buffered Request to make room.
	OverflowDropBuffer

	// OverflowFail rejects the incoming Request; it is handled exactly like
	// OverflowDropNewest.
	OverflowFail
)

// LimiterConfig configures the rate-limit coordinator.
type LimiterConfig struct {
	// MaxAllowedWait bounds how long an admission may be deferred before the
	// Request is answered Dropped instead.
	MaxAllowedWait time.Duration

	// MaxBuckets bounds the Bucket Table; the least-recently-seen bucket is
	// evicted once this is exceeded.
	MaxBuckets int

	// RelativeTime prefers the X-RateLimit-Reset-After header (a relative
	// duration) over X-RateLimit-Reset (an absolute epoch timestamp) when
	// both are present, which avoids local clock skew.
	RelativeTime bool

	// MillisecondPrecision sends X-RateLimit-Precision: millisecond and
	// parses X-RateLimit-Reset as milliseconds instead of whole seconds.
	MillisecondPrecision bool
}

// DefaultLimiterConfig returns the Limiter defaults. New substitutes them for
// a zero MaxAllowedWait or MaxBuckets; boolean fields are used as given.
func DefaultLimiterConfig() LimiterConfig {
	return LimiterConfig{
		MaxAllowedWait:       2 * time.Minute,
		MaxBuckets:           1024,
		RelativeTime:         true,
		MillisecondPrecision: false,
	}
}

// PipelineConfig configures the Request Pipeline.
type PipelineConfig struct {
	// BufferSize bounds the ingress buffer (and, independently, the retry
	// channel used by the Retry Loop).
	BufferSize int

	// Overflow selects what happens when the ingress buffer is full.
	Overflow OverflowPolicy

	// Parallelism bounds the number of HTTP sends in flight at once.
	Parallelism int

	// MaxRetries bounds how many times a Request is reinjected after a
	// retryable Error. Zero disables the Retry Loop entirely.
	MaxRetries uint32

	// RetryBaseDelay and RetryMaxDelay parameterize the exponential backoff
	// applied between retry attempts: min(RetryBaseDelay*2^(attempt-1), RetryMaxDelay).
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	// HTTPTimeout bounds a single HTTP send.
	HTTPTimeout time.Duration

	// GlobalRateLimit, when positive, paces admitted requests to at most
	// this many per second using a token-bucket smoother in front of the
	// bucket-table Limiter, ahead of ever consuming a Discord-reported
	// counter. Zero disables the pacer.
	GlobalRateLimit float64

	// LogSentREST and LogReceivedREST gate the sent/received log lines; they
	// take effect only once the global zerolog level allows logging.
	// LogRatelimitEvents is not consulted: the Limiter logs every bucket
	// update whenever the global level allows it.
	LogSentREST        bool
	LogReceivedREST    bool
	LogRatelimitEvents bool
}

// DefaultPipelineConfig returns the Pipeline defaults. New substitutes them
// for a zero BufferSize, Parallelism, RetryBaseDelay, RetryMaxDelay or
// HTTPTimeout; a zero MaxRetries disables retries and boolean fields are
// used as given.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		BufferSize:     100,
		Overflow:       OverflowBackpressure,
		Parallelism:    4,
		MaxRetries:     3,
		RetryBaseDelay: 250 * time.Millisecond,
		RetryMaxDelay:  5 * time.Second,
		HTTPTimeout:    30 * time.Second,
	}
}
