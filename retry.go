package dispatch

import "time"

// finish wraps the pipeline with retry behavior: a retryable Error with
// attempts remaining is reinjected instead of delivered; Ratelimited and
// Dropped answers are never retried at this layer, and a Response is
// delivered as-is.
func (p *Pipeline) finish(req Request, answer Answer) {
	if answer.Kind == KindError && p.cfg.MaxRetries > 0 {
		if rerr, ok := answer.Err.(*RequestError); ok && rerr.IsRetryable() && req.attempt < p.cfg.MaxRetries {
			p.retry(req)

			return
		}
	}

	p.deliver(answer)
}

// retry reinjects req through the retry channel, which dispatch reads ahead
// of the ingress buffer, with attempt incremented and its original
// identifier preserved, after an exponential backoff capped at RetryMaxDelay.
func (p *Pipeline) retry(req Request) {
	next := req
	next.attempt++

	if next.original == nil {
		original := req
		next.original = &original
	}

	delay := backoffDelay(p.cfg, next.attempt)

	time.AfterFunc(delay, func() {
		select {
		case p.retryCh <- next:
		case <-p.done:
		default:
			// the retry channel is bounded by BufferSize; a full channel
			// here means retries are arriving faster than the pipeline can
			// drain them.
			p.deliver(Answer{
				Kind:       KindError,
				Route:      next.Route.Key(),
				Identifier: next.Identifier,
				Context:    next.Context,
				Err:        newRequestError(CauseBufferOverflow, ErrBufferOverflow),
			})
		}
	})
}

// backoffDelay computes an exponential backoff: min(base*2^(attempt-1), max),
// so the first retry (attempt 1) waits base.
func backoffDelay(cfg PipelineConfig, attempt uint32) time.Duration {
	delay := cfg.RetryBaseDelay

	for i := uint32(1); i < attempt; i++ {
		delay *= 2
		if delay >= cfg.RetryMaxDelay {
			return cfg.RetryMaxDelay
		}
	}

	if delay > cfg.RetryMaxDelay {
		return cfg.RetryMaxDelay
	}

	return delay
}
