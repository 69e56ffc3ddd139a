package routing

import (
	"container/list"

	"neromon/internal/nodeid"
)

// bucket holds up to k contacts in least-recently-seen order (front =
// most recently seen) plus a bounded replacement cache, grounded on
// d7024e/labs/kademlia/bucket.go's container/list-backed design.
type bucket struct {
	capacity int
	list     *list.List // of *Contact, front = most recent

	replCap int
	repl    []*Contact
}

func newBucket(capacity int) *bucket {
	return &bucket{
		capacity: capacity,
		list:     list.New(),
		replCap:  capacity,
	}
}

func (b *bucket) find(id nodeid.NodeID) *list.Element {
	for e := b.list.Front(); e != nil; e = e.Next() {
		if e.Value.(*Contact).ID == id {
			return e
		}
	}
	return nil
}

func (b *bucket) len() int { return b.list.Len() }

// touchOrInsert moves an existing contact to the front, or inserts a new
// one at the front if there's room. It reports whether the bucket was full
// and a candidate for eviction is needed instead (the caller then runs the
// liveness-probe eviction policy of spec 4.4).
func (b *bucket) touchOrInsert(c *Contact) (inserted bool, full bool) {
	if e := b.find(c.ID); e != nil {
		*e.Value.(*Contact) = *c
		b.list.MoveToFront(e)
		return true, false
	}
	if b.list.Len() < b.capacity {
		b.list.PushFront(c)
		return true, false
	}
	return false, true
}

// leastRecent returns the bucket's least-recently-seen contact (back of
// the list) without removing it.
func (b *bucket) leastRecent() *Contact {
	e := b.list.Back()
	if e == nil {
		return nil
	}
	return e.Value.(*Contact)
}

// evictLeastRecent removes the least-recently-seen contact and inserts c
// at the front.
func (b *bucket) evictLeastRecent(c *Contact) {
	if e := b.list.Back(); e != nil {
		b.list.Remove(e)
	}
	b.list.PushFront(c)
}

func (b *bucket) addReplacement(c *Contact) {
	for _, r := range b.repl {
		if r.ID == c.ID {
			return
		}
	}
	if len(b.repl) >= b.replCap {
		copy(b.repl, b.repl[1:])
		b.repl = b.repl[:len(b.repl)-1]
	}
	b.repl = append(b.repl, c)
}

func (b *bucket) popReplacement() *Contact {
	n := len(b.repl)
	if n == 0 {
		return nil
	}
	c := b.repl[n-1]
	b.repl = b.repl[:n-1]
	return c
}

func (b *bucket) contacts() []*Contact {
	out := make([]*Contact, 0, b.list.Len())
	for e := b.list.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(*Contact))
	}
	return out
}

func (b *bucket) remove(id nodeid.NodeID) {
	if e := b.find(id); e != nil {
		b.list.Remove(e)
	}
}
