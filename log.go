package dispatch

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// init is called at the start of the application.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.SetGlobalLevel(zerolog.Disabled)
}

// Logger is the package-level Logger used by a Pipeline. It is disabled by
// default through zerolog's global level; callers enable it with
// zerolog.SetGlobalLevel. PipelineConfig.LogSentREST / LogReceivedREST then
// gate which sent/received events are emitted.
var Logger = zerolog.New(os.Stdout)

// Logger context keys, mirroring the convention of tagging every log line
// with the identifiers needed to correlate it to a Request.
const (
	logCtxRoute      = "route"
	logCtxBucket     = "bucket"
	logCtxIdentifier = "identifier"
	logCtxAttempt    = "attempt"
	logCtxReset      = "reset"
	logCtxStatus     = "status"
)

// logSentREST logs a Request immediately before it is sent over the wire.
func logSentREST(route RouteKey, identifier OpaqueID, attempt int) {
	Logger.Info().
		Timestamp().
		Str(logCtxRoute, string(route)).
		Str(logCtxIdentifier, string(identifier)).
		Int(logCtxAttempt, attempt).
		Msg("sent rest request")
}

// logReceivedREST logs the outcome of a Request once a response (or error) is known.
func logReceivedREST(route RouteKey, identifier OpaqueID, status int) {
	Logger.Info().
		Timestamp().
		Str(logCtxRoute, string(route)).
		Str(logCtxIdentifier, string(identifier)).
		Int(logCtxStatus, status).
		Msg("received rest response")
}

// logRatelimitEvent logs a bucket state transition observed by the Limiter.
func logRatelimitEvent(bucket BucketID, remaining, limit int, resetAt time.Time) {
	Logger.Warn().
		Timestamp().
		Str(logCtxBucket, string(bucket)).
		Int("remaining", remaining).
		Int("limit", limit).
		Time(logCtxReset, resetAt).
		Msg("ratelimit bucket updated")
}
