package routing

import (
	"strconv"
	"testing"

	"neromon/internal/nodeid"
)

func idFor(t *testing.T, s string) nodeid.NodeID {
	t.Helper()
	return nodeid.FromIdentity(s)
}

func TestObserveIgnoresSelf(t *testing.T) {
	self := idFor(t, "self")
	tbl := NewTable(self)
	tbl.Observe(Contact{ID: self, Endpoint: "ep"})
	if tbl.Size() != 0 {
		t.Fatalf("self should never be added to the table, size = %d", tbl.Size())
	}
}

func TestObserveUpsertsAndDedups(t *testing.T) {
	self := idFor(t, "self")
	tbl := NewTable(self)
	other := idFor(t, "peer")

	tbl.Observe(Contact{ID: other, Endpoint: "ep-1"})
	tbl.Observe(Contact{ID: other, Endpoint: "ep-2"})

	if tbl.Size() != 1 {
		t.Fatalf("expected a single deduped contact, got %d", tbl.Size())
	}
	all := tbl.All()
	if all[0].Endpoint != "ep-2" {
		t.Fatalf("expected upsert to refresh the endpoint, got %q", all[0].Endpoint)
	}
}

func TestBucketNeverExceedsCapacity(t *testing.T) {
	self := idFor(t, "self")
	tbl := NewTableSize(self, 20, 3)
	tbl.SetPingFunc(func(Contact) bool { return true }) // incumbents always "alive"

	for i := 0; i < 10000; i++ {
		id := idFor(t, randomIdentity(i))
		tbl.Observe(Contact{ID: id, Endpoint: "ep"})
	}

	for i, b := range tbl.buckets {
		if b.len() > tbl.bucketSize {
			t.Fatalf("bucket %d holds %d contacts, exceeds capacity %d", i, b.len(), tbl.bucketSize)
		}
	}
}

func TestClosestNoDuplicatesAndOrdered(t *testing.T) {
	self := idFor(t, "self")
	tbl := NewTable(self)
	tbl.SetPingFunc(func(Contact) bool { return false }) // always evict incumbent on collision

	ids := make([]nodeid.NodeID, 0, 500)
	for i := 0; i < 500; i++ {
		id := idFor(t, randomIdentity(i))
		if id == self {
			continue
		}
		ids = append(ids, id)
		tbl.Observe(Contact{ID: id, Endpoint: "ep"})
	}

	closest := tbl.Closest(self, 20)
	seen := map[nodeid.NodeID]bool{}
	for i, c := range closest {
		if seen[c.ID] {
			t.Fatalf("duplicate contact %v in closest() result", c.ID)
		}
		seen[c.ID] = true
		if i > 0 {
			prevDist := closest[i-1].ID.Distance(self)
			curDist := c.ID.Distance(self)
			if curDist.Less(prevDist) {
				t.Fatalf("closest() not sorted by ascending distance at index %d", i)
			}
		}
	}
}

func TestFailEvictsAfterThreshold(t *testing.T) {
	self := idFor(t, "self")
	tbl := NewTableSize(self, 20, 3)
	other := idFor(t, "peer")
	tbl.Observe(Contact{ID: other, Endpoint: "ep"})

	tbl.Fail(other)
	tbl.Fail(other)
	if tbl.Size() != 1 {
		t.Fatalf("contact should survive two failures")
	}
	tbl.Fail(other)
	if tbl.Size() != 0 {
		t.Fatalf("contact should be evicted after three consecutive failures")
	}
}

func TestRefreshStaleRespectsInterval(t *testing.T) {
	self := idFor(t, "self")
	tbl := NewTable(self)
	other := idFor(t, "peer")
	tbl.Observe(Contact{ID: other, Endpoint: "ep"})

	if stale := tbl.RefreshStale(0); len(stale) == 0 {
		t.Fatalf("expected the touched bucket to be reported stale with a zero interval")
	}
	if stale := tbl.RefreshStale(24 * 60 * 60 * 1e9); len(stale) != 0 {
		t.Fatalf("expected no stale buckets with a very long interval, got %v", stale)
	}
}

// randomIdentity deterministically derives distinct identity strings for
// bulk-insert tests without depending on math/rand seeding behavior.
func randomIdentity(i int) string {
	return "contact-" + strconv.Itoa(i)
}
