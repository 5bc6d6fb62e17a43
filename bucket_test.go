package dispatch

import "testing"

func TestBucketTableLookupCreatesProvisionalEntry(t *testing.T) {
	table := newBucketTable(8)

	route := RouteKey("GET /channels/123/messages")
	entry := table.lookup(route)

	if !entry.state.isUnknown() {
		t.Fatalf("expected a freshly looked-up route to carry Unknown state")
	}

	if entry.id != BucketID(route) {
		t.Fatalf("expected the provisional BucketID to equal the RouteKey, got %q", entry.id)
	}

	again := table.lookup(route)
	if again != entry {
		t.Fatalf("expected a second lookup of the same route to return the same entry")
	}
}

func TestBucketTableBindIsIdempotent(t *testing.T) {
	table := newBucketTable(8)
	route := RouteKey("GET /channels/123/messages")

	first := table.bind(route, BucketID("abc123"))
	second := table.bind(route, BucketID("abc123"))

	if first != second {
		t.Fatalf("expected rebinding the same route to the same bucket to return the same entry")
	}
}

func TestBucketTableBindIgnoresConflictingRebind(t *testing.T) {
	table := newBucketTable(8)
	route := RouteKey("GET /channels/123/messages")

	original := table.bind(route, BucketID("abc123"))
	rebound := table.bind(route, BucketID("xyz789"))

	if rebound.id != original.id {
		t.Fatalf("expected a later conflicting bind to be ignored, route stayed on %q but got %q", original.id, rebound.id)
	}
}

func TestBucketTableBindCarriesOverProvisionalState(t *testing.T) {
	table := newBucketTable(8)
	route := RouteKey("GET /channels/123/messages")

	provisional := table.lookup(route)
	waiter := make(chan admitResult, 1)
	provisional.waiters = append(provisional.waiters, waiter)

	confirmed := table.bind(route, BucketID("abc123"))

	if len(confirmed.waiters) != 1 {
		t.Fatalf("expected the provisional entry's waiters to carry over to the confirmed bucket, got %d", len(confirmed.waiters))
	}

	if _, stillThere := table.buckets[BucketID(route)]; stillThere {
		t.Fatalf("expected the provisional entry to be removed once a confirmed bucket replaces it")
	}
}

func TestBucketTableEvictsLeastRecentlySeen(t *testing.T) {
	table := newBucketTable(2)

	table.lookup(RouteKey("GET /a"))
	table.lookup(RouteKey("GET /b"))
	table.lookup(RouteKey("GET /a")) // touch a, making b the LRU victim
	table.lookup(RouteKey("GET /c")) // forces an eviction

	if _, ok := table.buckets[BucketID("GET /b")]; ok {
		t.Fatalf("expected /b to be evicted as the least-recently-seen bucket")
	}

	if _, ok := table.buckets[BucketID("GET /a")]; !ok {
		t.Fatalf("expected /a to survive eviction since it was touched more recently")
	}
}

func TestBucketTableNeverEvictsEntryWithWaiters(t *testing.T) {
	table := newBucketTable(1)

	a := table.lookup(RouteKey("GET /a"))
	a.waiters = append(a.waiters, make(chan admitResult, 1))

	table.lookup(RouteKey("GET /b"))

	if _, ok := table.buckets[BucketID("GET /a")]; !ok {
		t.Fatalf("expected an entry with active waiters never to be evicted")
	}
}
