package dispatch

import (
	"container/list"
	"time"
)

// BucketID is Discord's opaque rate-limit bucket identifier, taken from the
// X-RateLimit-Bucket response header. Before one is observed for a route,
// the implementation uses the route's own RouteKey as a provisional BucketID.
type BucketID string

// unknownCounter is the sentinel value for BucketState.Limit/Remaining before
// any response header has been observed for a bucket.
const unknownCounter = -1

// BucketState is the Limiter's view of one Discord rate-limit bucket.
//
// Invariant: 0 <= Remaining <= Limit whenever both are known (not -1).
type BucketState struct {
	Limit     int
	Remaining int
	ResetAt   time.Time
	LastSeen  time.Time
}

// unknownBucketState is the initial state of a bucket nobody has seen a response for.
func unknownBucketState() BucketState {
	return BucketState{Limit: unknownCounter, Remaining: unknownCounter}
}

// isUnknown reports whether no response has confirmed this bucket's counters yet.
func (s BucketState) isUnknown() bool {
	return s.Limit == unknownCounter && s.Remaining == unknownCounter
}

// bucketEntry is one row of the Bucket Table: the confirmed state plus the
// FIFO of admission requests waiting for it to refill, and its LRU element.
type bucketEntry struct {
	id      BucketID
	state   BucketState
	waiters []chan admitResult
	timer   *time.Timer
	lru     *list.Element
}

// bucketTable is the in-memory map RouteKey -> BucketID plus
// BucketID -> BucketState. It is mutated exclusively by the Limiter's single
// goroutine; it holds no lock of its own.
type bucketTable struct {
	routeToBucket map[RouteKey]BucketID
	buckets       map[BucketID]*bucketEntry
	lru           *list.List
	maxBuckets    int
}

func newBucketTable(maxBuckets int) *bucketTable {
	if maxBuckets <= 0 {
		maxBuckets = 1024
	}

	return &bucketTable{
		routeToBucket: make(map[RouteKey]BucketID),
		buckets:       make(map[BucketID]*bucketEntry),
		lru:           list.New(),
		maxBuckets:    maxBuckets,
	}
}

// lookup returns the provisional or confirmed bucket entry for route,
// creating an Unknown entry on first sight.
func (t *bucketTable) lookup(route RouteKey) *bucketEntry {
	id, bound := t.routeToBucket[route]
	if !bound {
		id = BucketID(route)
	}

	entry, ok := t.buckets[id]
	if !ok {
		entry = &bucketEntry{id: id, state: unknownBucketState()}
		entry.lru = t.lru.PushFront(entry)
		t.buckets[id] = entry
		t.evictIfNeeded()
	} else {
		t.touch(entry)
	}

	return entry
}

// bind idempotently records route -> bucketID. Once a route is bound, the
// binding never changes for the lifetime of the entry: a later response
// claiming a different BucketID for an already-bound route is logged and
// otherwise ignored.
func (t *bucketTable) bind(route RouteKey, bucketID BucketID) *bucketEntry {
	if bucketID == "" {
		return t.lookup(route)
	}

	if existing, ok := t.routeToBucket[route]; ok {
		if existing != bucketID {
			Logger.Warn().
				Str(logCtxRoute, string(route)).
				Str(logCtxBucket, string(bucketID)).
				Msg("ignoring bucket rebind for already-bound route")
		}

		return t.get(existing)
	}

	provisional := BucketID(route)

	entry, ok := t.buckets[bucketID]
	if !ok {
		// if a provisional entry already exists under the RouteKey, carry its
		// pending waiters and state over to the newly confirmed bucket.
		if prov, hasProv := t.buckets[provisional]; hasProv && provisional != bucketID {
			entry = prov
			entry.id = bucketID
			delete(t.buckets, provisional)
			t.buckets[bucketID] = entry
		} else {
			entry = &bucketEntry{id: bucketID, state: unknownBucketState()}
			entry.lru = t.lru.PushFront(entry)
			t.buckets[bucketID] = entry
			t.evictIfNeeded()
		}
	}

	t.routeToBucket[route] = bucketID

	return entry
}

// get returns the entry for a BucketID known to exist, touching its LRU position.
func (t *bucketTable) get(id BucketID) *bucketEntry {
	entry := t.buckets[id]
	if entry != nil {
		t.touch(entry)
	}

	return entry
}

func (t *bucketTable) touch(entry *bucketEntry) {
	t.lru.MoveToFront(entry.lru)
}

// evictIfNeeded evicts the least-recently-seen bucket once the table exceeds its bound.
func (t *bucketTable) evictIfNeeded() {
	for len(t.buckets) > t.maxBuckets {
		oldest := t.lru.Back()
		if oldest == nil {
			return
		}

		entry := oldest.Value.(*bucketEntry) //nolint:forcetypeassert

		// never evict a bucket with admissions still waiting on it.
		if len(entry.waiters) > 0 {
			t.touch(entry)

			return
		}

		t.lru.Remove(oldest)
		delete(t.buckets, entry.id)

		for route, id := range t.routeToBucket {
			if id == entry.id {
				delete(t.routeToBucket, route)
			}
		}
	}
}
