// Package routing implements the Kademlia k-bucketed contact table: XOR
// distance metric, replacement cache, and liveness-driven eviction (spec
// 3 "RoutingTable", 4.4). Grounded on
// adityasissodiya-d7024e/labs/kademlia/{bucket,routingtable}.go, adapted to
// the daemon's explicit Contact state machine (spec 4.5) and stale-bucket
// refresh operation (spec 4.4, absent from that source).
package routing

import (
	"sort"
	"sync"
	"time"

	"neromon/internal/nodeid"
)

// DefaultBucketSize is k, the default per-bucket contact capacity (spec 3).
const DefaultBucketSize = 20

// DefaultMaxFailures is the consecutive-failure eviction threshold (spec 4.3).
const DefaultMaxFailures = 3

// PingFunc probes a contact's liveness outside the table's lock, used to
// decide whether a full bucket's least-recent contact should be evicted.
type PingFunc func(Contact) bool

// Table is the Kademlia routing table bound to a local node id.
type Table struct {
	self        nodeid.NodeID
	bucketSize  int
	maxFailures int

	mu      sync.RWMutex
	buckets [nodeid.Length * 8]*bucket
	touched [nodeid.Length * 8]time.Time

	ping PingFunc
}

// NewTable builds a routing table for self with the default bucket size.
func NewTable(self nodeid.NodeID) *Table {
	return NewTableSize(self, DefaultBucketSize, DefaultMaxFailures)
}

// NewTableSize builds a routing table with explicit k and failure threshold,
// used by kademlia.NewWithConfig for a configured bucket size and by tests
// that exercise small-k behavior.
func NewTableSize(self nodeid.NodeID, bucketSize, maxFailures int) *Table {
	t := &Table{self: self, bucketSize: bucketSize, maxFailures: maxFailures}
	for i := range t.buckets {
		t.buckets[i] = newBucket(bucketSize)
	}
	return t
}

// SetPingFunc wires the liveness probe used when a full bucket needs an
// eviction decision (spec 4.4 observe()).
func (t *Table) SetPingFunc(pf PingFunc) {
	t.mu.Lock()
	t.ping = pf
	t.mu.Unlock()
}

func (t *Table) index(id nodeid.NodeID) int {
	return nodeid.BucketIndex(t.self, id)
}

// Observe upserts a contact into its bucket. If the bucket is full, the
// least-recently-seen contact is pinged outside the lock; if it responds,
// the newcomer is pushed to the replacement cache and the incumbent stays,
// otherwise the incumbent is evicted. Self-observations are ignored, and
// no contact ever appears in more than one bucket (spec 3 invariants).
func (t *Table) Observe(c Contact) {
	if c.ID == t.self {
		return
	}
	idx := t.index(c.ID)
	now := time.Now()
	c.Observe(now)

	t.mu.Lock()
	b := t.buckets[idx]
	t.touched[idx] = now
	inserted, full := b.touchOrInsert(&c)
	if inserted {
		t.mu.Unlock()
		return
	}
	if !full {
		t.mu.Unlock()
		return
	}
	lru := *b.leastRecent()
	pingFn := t.ping
	t.mu.Unlock()

	alive := pingFn != nil && pingFn(lru)

	t.mu.Lock()
	defer t.mu.Unlock()
	b = t.buckets[idx]
	if !alive {
		b.evictLeastRecent(&c)
		return
	}
	if e := b.find(lru.ID); e != nil {
		b.list.MoveToFront(e)
	}
	b.addReplacement(&c)
}

// Touch records a passive observation of a contact (Unknown -> Probing)
// without treating it as a confirmed-live response.
func (t *Table) Touch(id nodeid.NodeID, endpoint string) {
	if id == t.self {
		return
	}
	idx := t.index(id)
	now := time.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	b := t.buckets[idx]
	if e := b.find(id); e != nil {
		e.Value.(*Contact).Touch(now)
		return
	}
	if b.len() < t.bucketSize {
		c := &Contact{ID: id, Endpoint: endpoint, State: Unknown}
		c.Touch(now)
		b.list.PushBack(c) // unconfirmed contacts start at the back
	}
}

// Fail records an RPC failure against a contact, evicting it on reaching
// the consecutive-failure threshold (spec 4.3, 4.5).
func (t *Table) Fail(id nodeid.NodeID) {
	idx := t.index(id)
	t.mu.Lock()
	defer t.mu.Unlock()
	b := t.buckets[idx]
	e := b.find(id)
	if e == nil {
		return
	}
	c := e.Value.(*Contact)
	c.Fail(t.maxFailures)
	if c.State == Dead {
		b.list.Remove(e)
		if repl := b.popReplacement(); repl != nil {
			b.list.PushBack(repl)
		}
	}
}

// Closest returns up to n contacts ordered by XOR distance to key, scanning
// outward from key's own bucket (spec 4.4 closest()).
func (t *Table) Closest(key nodeid.NodeID, n int) []Contact {
	t.mu.RLock()
	defer t.mu.RUnlock()

	idx := t.index(key)
	var candidates []Contact
	collect := func(bi int) {
		for _, c := range t.buckets[bi].contacts() {
			cp := *c
			cp.distance = cp.ID.Distance(key)
			candidates = append(candidates, cp)
		}
	}
	collect(idx)
	for d := 1; (idx-d >= 0 || idx+d < len(t.buckets)) && len(candidates) < n*4; d++ {
		if idx-d >= 0 {
			collect(idx - d)
		}
		if idx+d < len(t.buckets) {
			collect(idx + d)
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].distance == candidates[j].distance {
			return candidates[j].LastSeen.Before(candidates[i].LastSeen)
		}
		return candidates[i].distance.Less(candidates[j].distance)
	})
	if len(candidates) > n {
		candidates = candidates[:n]
	}
	return candidates
}

// RefreshStale returns the indices of buckets that haven't been touched
// within interval, candidates for a FIND_NODE refresh on a random id in
// that bucket's range (spec 4.4 refresh_stale).
func (t *Table) RefreshStale(interval time.Duration) []int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	now := time.Now()
	var stale []int
	for i, ts := range t.touched {
		if ts.IsZero() {
			continue
		}
		if now.Sub(ts) >= interval {
			stale = append(stale, i)
		}
	}
	return stale
}

// MarkIdle transitions every Active contact that has been silent for at
// least idleAfter into Inactive (spec 4.5 "Active -> Inactive after 15 min
// idle"), returning every contact now in the Inactive state (newly flagged
// or flagged by an earlier call) so the caller can probe them.
func (t *Table) MarkIdle(idleAfter time.Duration) []Contact {
	now := time.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	var idled []Contact
	for _, b := range t.buckets {
		for _, c := range b.contacts() {
			c.MarkIdle(now, idleAfter)
			if c.State == Inactive {
				idled = append(idled, *c)
			}
		}
	}
	return idled
}

// Size returns the total number of live contacts across all buckets.
func (t *Table) Size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, b := range t.buckets {
		n += b.len()
	}
	return n
}

// All returns every live contact, used for status introspection and tests.
func (t *Table) All() []Contact {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []Contact
	for _, b := range t.buckets {
		for _, c := range b.contacts() {
			out = append(out, *c)
		}
	}
	return out
}

// Remove drops a contact entirely, used when a peer is proven unreachable
// beyond the normal failure-count eviction path.
func (t *Table) Remove(id nodeid.NodeID) {
	idx := t.index(id)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buckets[idx].remove(id)
}
