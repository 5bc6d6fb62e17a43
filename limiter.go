package dispatch

import "time"

// admitResult is the Limiter's answer to a single admission request.
type admitResult struct {
	pass   bool
	bucket BucketID
}

// admitRequest asks the Limiter whether a Request for route may proceed.
type admitRequest struct {
	route        RouteKey
	exemptGlobal bool
	maxWait      time.Duration
	reply        chan admitResult
}

// updateRequest feeds response metadata back into the Limiter.
type updateRequest struct {
	route      RouteKey
	info       RateLimitInfo
	identifier OpaqueID
}

// releaseRequest returns a reserved bucket slot after a cancellation for
// which no response was ever observed.
type releaseRequest struct {
	bucket BucketID
}

// Limiter is a single-writer rate-limit coordinator: all bucket and
// global-state mutation happens on its one goroutine, and every other
// method is just message passing into that goroutine's mailbox.
type Limiter struct {
	cfg   LimiterConfig
	table *bucketTable

	// globalBlockedUntil is the time the account-wide rate limit clears.
	// While in the future, every non-exempt admission waits (or drops) here
	// before ever reaching its route bucket.
	globalBlockedUntil time.Time
	globalWaiters      []admitRequest
	globalTimer        *time.Timer

	admitCh   chan admitRequest
	updateCh  chan updateRequest
	releaseCh chan releaseRequest
	wakeCh    chan BucketID
	wakeGlobalCh chan struct{}
	closeCh   chan struct{}
}

// NewLimiter starts a Limiter's goroutine and returns a handle to it.
func NewLimiter(cfg LimiterConfig) *Limiter {
	if cfg.MaxAllowedWait <= 0 {
		cfg.MaxAllowedWait = DefaultLimiterConfig().MaxAllowedWait
	}

	l := &Limiter{
		cfg:          cfg,
		table:        newBucketTable(cfg.MaxBuckets),
		admitCh:      make(chan admitRequest),
		updateCh:     make(chan updateRequest),
		releaseCh:    make(chan releaseRequest),
		wakeCh:       make(chan BucketID, 16),
		wakeGlobalCh: make(chan struct{}, 1),
		closeCh:      make(chan struct{}),
	}

	go l.run()

	return l
}

// Close stops the Limiter's goroutine.
func (l *Limiter) Close() {
	close(l.closeCh)
}

func (l *Limiter) run() {
	for {
		select {
		case req := <-l.admitCh:
			l.handleAdmit(req)
		case upd := <-l.updateCh:
			l.handleUpdate(upd)
		case rel := <-l.releaseCh:
			l.handleRelease(rel)
		case id := <-l.wakeCh:
			l.handleWake(id)
		case <-l.wakeGlobalCh:
			l.handleGlobalWake()
		case <-l.closeCh:
			return
		}
	}
}

// wantToPass blocks until the Limiter admits or drops the route. It is safe
// to call concurrently; every caller gets its own reply channel.
func (l *Limiter) wantToPass(route RouteKey, exemptGlobal bool) (pass bool, bucket BucketID) {
	reply := make(chan admitResult, 1)
	req := admitRequest{route: route, exemptGlobal: exemptGlobal, maxWait: l.cfg.MaxAllowedWait, reply: reply}

	select {
	case l.admitCh <- req:
	case <-l.closeCh:
		return false, ""
	}

	select {
	case res := <-reply:
		return res.pass, res.bucket
	case <-l.closeCh:
		return false, ""
	}
}

// updateRatelimits submits observed response headers back to the Limiter.
func (l *Limiter) updateRatelimits(route RouteKey, info RateLimitInfo, identifier OpaqueID) {
	select {
	case l.updateCh <- updateRequest{route: route, info: info, identifier: identifier}:
	case <-l.closeCh:
	}
}

// release returns a reserved token to bucket after a cancellation for which
// no response was ever observed.
func (l *Limiter) release(bucket BucketID) {
	select {
	case l.releaseCh <- releaseRequest{bucket: bucket}:
	case <-l.closeCh:
	}
}

// handleAdmit resolves a single admission request: a global check, followed
// once clear by the route bucket check.
func (l *Limiter) handleAdmit(req admitRequest) {
	if req.exemptGlobal || l.globalBlockedUntil.IsZero() || !time.Now().Before(l.globalBlockedUntil) {
		l.admitRoute(req)

		return
	}

	wait := time.Until(l.globalBlockedUntil)
	if wait > req.maxWait {
		req.reply <- admitResult{pass: false}

		return
	}

	l.globalWaiters = append(l.globalWaiters, req)
	if l.globalTimer == nil {
		l.globalTimer = time.AfterFunc(wait, func() {
			select {
			case l.wakeGlobalCh <- struct{}{}:
			case <-l.closeCh:
			}
		})
	}
}

// admitRoute checks the route's bucket once the global gate is clear.
func (l *Limiter) admitRoute(req admitRequest) {
	entry := l.table.lookup(req.route)
	now := time.Now()

	switch {
	case entry.state.isUnknown():
		req.reply <- admitResult{pass: true, bucket: entry.id}

	case entry.state.Remaining > 0:
		entry.state.Remaining--
		req.reply <- admitResult{pass: true, bucket: entry.id}

	default:
		wait := entry.state.ResetAt.Sub(now)
		if wait > req.maxWait {
			req.reply <- admitResult{pass: false}

			return
		}

		entry.waiters = append(entry.waiters, req.reply)
		l.ensureTimer(entry, wait)
	}
}

func (l *Limiter) ensureTimer(entry *bucketEntry, wait time.Duration) {
	if entry.timer != nil {
		return
	}

	if wait < 0 {
		wait = 0
	}

	id := entry.id
	entry.timer = time.AfterFunc(wait, func() {
		select {
		case l.wakeCh <- id:
		case <-l.closeCh:
		}
	})
}

func (l *Limiter) handleGlobalWake() {
	l.globalTimer = nil

	waiters := l.globalWaiters
	l.globalWaiters = nil

	for _, req := range waiters {
		l.handleAdmit(req)
	}
}

func (l *Limiter) handleWake(id BucketID) {
	entry := l.table.get(id)
	if entry == nil {
		return
	}

	entry.timer = nil

	if entry.state.Limit > 0 {
		entry.state.Remaining = entry.state.Limit
	} else {
		entry.state.Remaining = 1
	}

	l.drainWaiters(entry)

	if len(entry.waiters) > 0 {
		// more waiters than the bucket's capacity for this window: assume
		// the next window is the same length as the one that just elapsed.
		interval := entry.state.ResetAt.Sub(entry.state.LastSeen)
		if interval <= 0 {
			interval = time.Second
		}

		entry.state.Remaining = 0
		entry.state.ResetAt = time.Now().Add(interval)
		l.ensureTimer(entry, interval)
	}
}

// drainWaiters admits queued requests FIFO up to the bucket's current remaining count.
func (l *Limiter) drainWaiters(entry *bucketEntry) {
	for entry.state.Remaining > 0 && len(entry.waiters) > 0 {
		reply := entry.waiters[0]
		entry.waiters = entry.waiters[1:]
		entry.state.Remaining--
		reply <- admitResult{pass: true, bucket: entry.id}
	}
}

func (l *Limiter) handleUpdate(upd updateRequest) {
	now := time.Now()

	if upd.info.Global && upd.info.ResetAt.After(l.globalBlockedUntil) {
		l.globalBlockedUntil = upd.info.ResetAt
		logRatelimitEvent(globalBucketLogID, 0, 0, upd.info.ResetAt)

		if l.globalTimer == nil {
			wait := time.Until(upd.info.ResetAt)
			l.globalTimer = time.AfterFunc(wait, func() {
				select {
				case l.wakeGlobalCh <- struct{}{}:
				case <-l.closeCh:
				}
			})
		}
	}

	if upd.route == "" {
		return
	}

	entry := l.table.bind(upd.route, upd.info.Bucket)

	// ignore updates for a window we've already moved past.
	if !entry.state.isUnknown() && upd.info.ResetAt.Before(entry.state.ResetAt) {
		return
	}

	entry.state.Limit = upd.info.Limit
	entry.state.Remaining = upd.info.Remaining
	entry.state.ResetAt = upd.info.ResetAt
	entry.state.LastSeen = now

	logRatelimitEvent(entry.id, entry.state.Remaining, entry.state.Limit, entry.state.ResetAt)

	if entry.timer == nil && entry.state.Remaining <= 0 && len(entry.waiters) > 0 {
		l.ensureTimer(entry, time.Until(entry.state.ResetAt))
	}

	l.drainWaiters(entry)
}

// globalBucketLogID labels global rate-limit events in logs; the global
// gate itself is not a bucketTable entry.
const globalBucketLogID BucketID = "global"

func (l *Limiter) handleRelease(rel releaseRequest) {
	entry := l.table.get(rel.bucket)
	if entry == nil || entry.state.isUnknown() {
		return
	}

	if entry.state.Remaining < entry.state.Limit {
		entry.state.Remaining++
	}

	l.drainWaiters(entry)
}
