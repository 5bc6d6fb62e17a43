package dispatch

import (
	"strconv"
	"time"

	json "github.com/goccy/go-json"
)

// Rate limit header names. Header.Get matches these case-insensitively.
const (
	headerRateLimitLimit      = "X-RateLimit-Limit"
	headerRateLimitRemaining  = "X-RateLimit-Remaining"
	headerRateLimitReset      = "X-RateLimit-Reset"
	headerRateLimitResetAfter = "X-RateLimit-Reset-After"
	headerRateLimitBucket     = "X-RateLimit-Bucket"
	headerRateLimitGlobal     = "X-RateLimit-Global"
	headerRateLimitScope      = "X-RateLimit-Scope"
)

// rateLimitResponse is the JSON body Discord sends with a 429.
type rateLimitResponse struct {
	Message    string  `json:"message"`
	RetryAfter float64 `json:"retry_after"`
	Global     bool    `json:"global"`
}

// extractRateLimitInfo reads the rate-limit headers off a response. ok is
// false only when none of the numeric headers parsed, meaning the response
// carried no rate-limit metadata at all (e.g. a transport-level error page).
func extractRateLimitInfo(cfg LimiterConfig, header Header) (info RateLimitInfo, ok bool) {
	limit, limitErr := strconv.Atoi(header.Get(headerRateLimitLimit))
	remaining, remainingErr := strconv.Atoi(header.Get(headerRateLimitRemaining))

	if limitErr != nil && remainingErr != nil {
		return RateLimitInfo{}, false
	}

	info.Limit = limit
	info.Remaining = remaining
	info.Bucket = BucketID(header.Get(headerRateLimitBucket))
	info.Scope = header.Get(headerRateLimitScope)
	info.Global, _ = strconv.ParseBool(header.Get(headerRateLimitGlobal))

	if info.Bucket == "" {
		Logger.Warn().Msg("response carried no X-RateLimit-Bucket header; skipping bucket binding")
	}

	info.ResetAt = resolveResetAt(cfg, header)

	return info, true
}

// resolveResetAt picks between the absolute X-RateLimit-Reset and the
// relative X-RateLimit-Reset-After headers according to
// LimiterConfig.RelativeTime.
func resolveResetAt(cfg LimiterConfig, header Header) time.Time {
	resetAfterRaw := header.Get(headerRateLimitResetAfter)
	resetRaw := header.Get(headerRateLimitReset)

	if cfg.RelativeTime && resetAfterRaw != "" {
		if seconds, err := strconv.ParseFloat(resetAfterRaw, 64); err == nil {
			return time.Now().Add(time.Duration(seconds * float64(time.Second)))
		}
	}

	if resetRaw != "" {
		if epoch, err := strconv.ParseFloat(resetRaw, 64); err == nil {
			if cfg.MillisecondPrecision {
				return time.UnixMilli(int64(epoch))
			}

			whole := int64(epoch)
			frac := epoch - float64(whole)

			return time.Unix(whole, 0).Add(time.Duration(frac * float64(time.Second)))
		}
	}

	if resetAfterRaw != "" {
		if seconds, err := strconv.ParseFloat(resetAfterRaw, 64); err == nil {
			return time.Now().Add(time.Duration(seconds * float64(time.Second)))
		}
	}

	return time.Time{}
}

// parseResponse classifies a (WireResponse, error) pair for a Request into
// exactly one Answer.
func parseResponse(cfg LimiterConfig, req Request, wire *WireResponse, transportErr error) Answer {
	answer := Answer{
		Route:      req.Route.Key(),
		Identifier: req.Identifier,
		Context:    req.Context,
	}

	if transportErr != nil {
		answer.Kind = KindError
		answer.Err = newRequestError(CauseNetwork, transportErr)

		return answer
	}

	if info, ok := extractRateLimitInfo(cfg, wire.Header); ok {
		answer.RateLimit = info
	}

	switch {
	case wire.StatusCode == 429:
		return parseRatelimited(answer, wire)

	case wire.StatusCode == 204:
		return parseSuccess(answer, req, nil)

	case wire.StatusCode >= 200 && wire.StatusCode < 300:
		return parseSuccess(answer, req, wire.Body)

	default:
		answer.Kind = KindError
		answer.Err = StatusCodeError(wire.StatusCode, string(wire.Body))

		return answer
	}
}

func parseRatelimited(answer Answer, wire *WireResponse) Answer {
	answer.Kind = KindRatelimited

	// Discord sometimes omits the X-RateLimit-* headers on a 429 and relies
	// on the JSON body's retry_after instead; fall back to it.
	if answer.RateLimit.ResetAt.IsZero() {
		var body rateLimitResponse
		if err := json.Unmarshal(wire.Body, &body); err == nil && body.RetryAfter > 0 {
			answer.RateLimit.ResetAt = time.Now().Add(time.Duration(body.RetryAfter * float64(time.Second)))
			answer.RateLimit.Global = answer.RateLimit.Global || body.Global
		}
	}

	return answer
}

func parseSuccess(answer Answer, req Request, body []byte) Answer {
	if req.Parser == nil {
		answer.Kind = KindResponse

		return answer
	}

	data, err := req.Parser(body)
	if err != nil {
		if len(body) == 0 {
			answer.Kind = KindError
			answer.Err = newRequestError(CauseUnexpectedEmpty, err)

			return answer
		}

		answer.Kind = KindError
		answer.Err = newRequestError(CauseParseError, err)

		return answer
	}

	answer.Kind = KindResponse
	answer.Data = data

	return answer
}
