package routing

import (
	"time"

	"neromon/internal/nodeid"
)

// State is a contact's position in the liveness state machine of spec 4.5.
type State int

const (
	Unknown State = iota
	Probing
	Active
	Inactive
	Dead
)

func (s State) String() string {
	switch s {
	case Unknown:
		return "unknown"
	case Probing:
		return "probing"
	case Active:
		return "active"
	case Inactive:
		return "inactive"
	case Dead:
		return "dead"
	default:
		return "invalid"
	}
}

// Contact is a routing table entry: (node_id, endpoint, last_seen,
// failure_count) per spec 3, plus the liveness state machine of spec 4.5.
type Contact struct {
	ID           nodeid.NodeID
	Endpoint     string
	LastSeen     time.Time
	FailureCount int
	State        State

	// distance is populated transiently by Table.Closest and not part of the
	// contact's persistent identity.
	distance nodeid.NodeID
}

// Touch records that the contact has been observed (learned of, or named
// as sender/target of any traffic) without necessarily having answered an
// RPC itself, advancing Unknown -> Probing (spec 4.5).
func (c *Contact) Touch(now time.Time) {
	c.LastSeen = now
	if c.State == Unknown {
		c.State = Probing
	}
}

// Observe updates a contact's liveness bookkeeping after a successful RPC
// response, advancing Probing/Dead -> Active and Inactive -> Active (spec
// 4.5: "Probing→Active on first successful response",
// "Inactive→Active on any response").
func (c *Contact) Observe(now time.Time) {
	c.LastSeen = now
	c.FailureCount = 0
	c.State = Active
}

// Fail records an RPC failure, advancing toward Dead after three
// consecutive failures (spec 4.3 "k consecutive failures (default 3)").
func (c *Contact) Fail(maxFailures int) {
	c.FailureCount++
	if c.FailureCount >= maxFailures {
		c.State = Dead
	}
}

// MarkIdle transitions Active -> Inactive after the idle threshold, called
// by the maintenance scheduler (spec 4.5: "Active -> Inactive after 15 min
// idle").
func (c *Contact) MarkIdle(now time.Time, idleAfter time.Duration) {
	if c.State == Active && now.Sub(c.LastSeen) >= idleAfter {
		c.State = Inactive
	}
}
