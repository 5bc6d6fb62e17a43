package dispatch

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Credentials identify the bot/user sending every Request through a Pipeline.
type Credentials struct {
	// Scheme is "Bot" or "Bearer".
	Scheme    string
	Token     string
	UserAgent string
	BaseURL   string
}

// Pipeline is a staged, backpressured dataflow: ingress buffer -> limiter
// gate -> HTTP send -> response parser -> limiter feedback + caller
// emission, with an optional retry loop wrapped around it.
type Pipeline struct {
	creds      Credentials
	limiterCfg LimiterConfig
	cfg        PipelineConfig
	http       HTTPClient
	limiter    *Limiter
	pacer      *rate.Limiter

	ingress chan Request
	retryCh chan Request
	answers chan Answer
	sem     chan struct{}

	waiters sync.Map // OpaqueID -> chan Answer

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New constructs a Pipeline and starts its dispatcher goroutine. Zero-valued
// numeric and duration config fields, other than MaxRetries, fall back to
// DefaultLimiterConfig / DefaultPipelineConfig; boolean fields are used as given.
func New(creds Credentials, client HTTPClient, limiterCfg LimiterConfig, cfg PipelineConfig) *Pipeline {
	limiterCfg = mergeLimiterConfig(limiterCfg)
	cfg = mergePipelineConfig(cfg)

	if client == nil {
		client = NewFasthttpClient(cfg.HTTPTimeout)
	}

	p := &Pipeline{
		creds:      creds,
		limiterCfg: limiterCfg,
		cfg:        cfg,
		http:       client,
		limiter:    NewLimiter(limiterCfg),
		ingress:    make(chan Request, cfg.BufferSize),
		retryCh:    make(chan Request, cfg.BufferSize),
		answers:    make(chan Answer, cfg.BufferSize),
		sem:        make(chan struct{}, cfg.Parallelism),
		done:       make(chan struct{}),
	}

	if cfg.GlobalRateLimit > 0 {
		p.pacer = rate.NewLimiter(rate.Limit(cfg.GlobalRateLimit), int(cfg.Parallelism))
	}

	p.wg.Add(1)

	go p.dispatch()

	return p
}

func mergeLimiterConfig(cfg LimiterConfig) LimiterConfig {
	defaults := DefaultLimiterConfig()

	if cfg.MaxAllowedWait <= 0 {
		cfg.MaxAllowedWait = defaults.MaxAllowedWait
	}

	if cfg.MaxBuckets <= 0 {
		cfg.MaxBuckets = defaults.MaxBuckets
	}

	return cfg
}

func mergePipelineConfig(cfg PipelineConfig) PipelineConfig {
	defaults := DefaultPipelineConfig()

	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaults.BufferSize
	}

	if cfg.Parallelism <= 0 {
		cfg.Parallelism = defaults.Parallelism
	}

	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = defaults.RetryBaseDelay
	}

	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = defaults.RetryMaxDelay
	}

	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = defaults.HTTPTimeout
	}

	return cfg
}

// Close stops accepting new work, tears down the Limiter, and waits for
// in-flight requests to finish being processed.
func (p *Pipeline) Close() {
	p.closeOnce.Do(func() {
		close(p.done)
	})
	p.wg.Wait()
	p.limiter.Close()
}

// Answers returns the stream of Answers for Requests submitted via
// SubmitAsync. Requests submitted via Submit deliver their Answer directly
// to the caller instead of onto this channel.
func (p *Pipeline) Answers() <-chan Answer {
	return p.answers
}

// Submit pushes req through the Pipeline and blocks for its Answer,
// respecting the ingress buffer's overflow policy and ctx cancellation.
// A ctx cancellation before admission yields no Answer at all.
func (p *Pipeline) Submit(ctx context.Context, req Request) (Answer, error) {
	req = req.WithIdentifier()

	waiter := make(chan Answer, 1)
	p.waiters.Store(req.Identifier, waiter)

	if err := p.enqueue(ctx, req); err != nil {
		p.waiters.Delete(req.Identifier)

		return Answer{}, err
	}

	select {
	case answer := <-waiter:
		return answer, nil
	case <-ctx.Done():
		p.waiters.Delete(req.Identifier)

		return Answer{}, ctx.Err()
	case <-p.done:
		p.waiters.Delete(req.Identifier)

		return Answer{}, ErrPipelineClosed
	}
}

// SubmitAsync pushes req through the Pipeline without waiting; its Answer
// arrives on Answers().
func (p *Pipeline) SubmitAsync(req Request) (OpaqueID, error) {
	req = req.WithIdentifier()

	return req.Identifier, p.enqueue(context.Background(), req)
}

// enqueue applies the ingress buffer's overflow policy.
func (p *Pipeline) enqueue(ctx context.Context, req Request) error {
	switch p.cfg.Overflow {
	case OverflowBackpressure:
		select {
		case p.ingress <- req:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-p.done:
			return ErrPipelineClosed
		}

	case OverflowDropOldest:
		for {
			select {
			case p.ingress <- req:
				return nil
			default:
			}

			select {
			case old := <-p.ingress:
				_ = p.bufferOverflow(old)
			default:
				select {
				case p.ingress <- req:
					return nil
				default:
					return p.bufferOverflow(req)
				}
			}
		}

	case OverflowDropBuffer:
		for {
			select {
			case old := <-p.ingress:
				_ = p.bufferOverflow(old)
			default:
				select {
				case p.ingress <- req:
					return nil
				default:
					return p.bufferOverflow(req)
				}
			}
		}

	default: // OverflowDropNewest, OverflowFail
		select {
		case p.ingress <- req:
			return nil
		default:
			return p.bufferOverflow(req)
		}
	}
}

// bufferOverflow emits a CauseBufferOverflow Error Answer instead of
// silently discarding a Request.
func (p *Pipeline) bufferOverflow(req Request) error {
	answer := Answer{
		Kind:       KindError,
		Route:      req.Route.Key(),
		Identifier: req.Identifier,
		Context:    req.Context,
		Err:        newRequestError(CauseBufferOverflow, ErrBufferOverflow),
	}

	p.deliver(answer)

	return nil
}

// dispatch is the Pipeline's main loop. It reads from retryCh and ingress,
// biased toward retryCh so a retry never starves behind a flood of fresh
// requests, and spawns one goroutine per Request to carry it through
// admission and send.
func (p *Pipeline) dispatch() {
	defer p.wg.Done()

	for {
		var req Request

		select {
		case req = <-p.retryCh:
		default:
			select {
			case req = <-p.retryCh:
			case req = <-p.ingress:
			case <-p.done:
				return
			}
		}

		p.wg.Add(1)

		go func(req Request) {
			defer p.wg.Done()
			p.process(req)
		}(req)
	}
}

// process carries one Request from admission through to a final (or
// retried) Answer.
func (p *Pipeline) process(req Request) {
	if p.pacer != nil && !req.Route.ExemptGlobal {
		if err := p.pacer.Wait(context.Background()); err != nil {
			p.deliver(Answer{
				Kind:       KindDropped,
				Route:      req.Route.Key(),
				Identifier: req.Identifier,
				Context:    req.Context,
			})

			return
		}
	}

	pass, bucket := p.limiter.wantToPass(req.Route.Key(), req.Route.ExemptGlobal)
	if !pass {
		p.deliver(Answer{
			Kind:       KindDropped,
			Route:      req.Route.Key(),
			Identifier: req.Identifier,
			Context:    req.Context,
		})

		return
	}

	select {
	case p.sem <- struct{}{}:
	case <-p.done:
		p.limiter.release(bucket)

		return
	}
	defer func() { <-p.sem }()

	if p.cfg.LogSentREST {
		logSentREST(req.Route.Key(), req.Identifier, int(req.attempt))
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.HTTPTimeout)
	defer cancel()

	contentType, body, err := buildBody(req)
	if err != nil {
		p.limiter.release(bucket)
		p.finish(req, Answer{
			Kind:       KindError,
			Route:      req.Route.Key(),
			Identifier: req.Identifier,
			Context:    req.Context,
			Err:        newRequestError(CauseParseError, err),
		})

		return
	}

	headers := buildHeaders(p.creds.Scheme, p.creds.Token, p.creds.UserAgent, p.limiterCfg.MillisecondPrecision, req.ExtraHeaders, contentType)

	wire := WireRequest{
		Method:  req.Route.Method,
		URI:     req.Route.URI(p.creds.BaseURL),
		Headers: headers,
		Body:    body,
	}

	resp, sendErr := p.http.Do(ctx, wire)

	if sendErr != nil && ctx.Err() != nil {
		answer := Answer{
			Kind:       KindError,
			Route:      req.Route.Key(),
			Identifier: req.Identifier,
			Context:    req.Context,
			Err:        newRequestError(CauseTimeout, ctx.Err()),
		}
		p.finish(req, answer)

		return
	}

	answer := parseResponse(p.limiterCfg, req, resp, sendErr)

	if resp != nil {
		p.limiter.updateRatelimits(answer.Route, answer.RateLimit, req.Identifier)

		if p.cfg.LogReceivedREST {
			logReceivedREST(answer.Route, req.Identifier, resp.StatusCode)
		}
	}

	p.finish(req, answer)
}

// deliver routes answer to the caller blocked in Submit, if any, or onto
// the public Answers() stream otherwise.
func (p *Pipeline) deliver(answer Answer) {
	if waiterAny, ok := p.waiters.LoadAndDelete(answer.Identifier); ok {
		waiter, _ := waiterAny.(chan Answer)
		waiter <- answer

		return
	}

	select {
	case p.answers <- answer:
	case <-p.done:
	}
}
