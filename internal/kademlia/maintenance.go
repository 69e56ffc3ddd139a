package kademlia

import (
	"context"
	"crypto/rand"
	"time"

	"neromon/internal/nodeid"
	"neromon/internal/routing"
)

// RefreshInterval is the staleness threshold past which a bucket gets a
// random-id FIND_NODE refresh (spec 4.4 "Bucket refresh").
const RefreshInterval = time.Hour

// RepublishSweepInterval is how often owned/held records are re-STOREd to
// their current k closest holders (spec 4.3 "Republication").
const RepublishSweepInterval = time.Hour

// ExpirySweepInterval is how often expired records are purged (spec 4.3
// "Expiry").
const ExpirySweepInterval = time.Minute

// PeerHealthInterval is how often the longest-idle contact in each bucket
// is proactively pinged (spec 4.5 maintenance).
const PeerHealthInterval = 5 * time.Minute

// RunMaintenance starts the daemon's background scheduler and blocks until
// ctx is cancelled, mirroring d7024e's republisher goroutine shape but
// generalized to the full set of periodic tasks spec 4.4/4.5 require.
func (n *Node) RunMaintenance(ctx context.Context) {
	refresh := time.NewTicker(RefreshInterval)
	republish := time.NewTicker(RepublishSweepInterval)
	expiry := time.NewTicker(ExpirySweepInterval)
	health := time.NewTicker(PeerHealthInterval)
	defer refresh.Stop()
	defer republish.Stop()
	defer expiry.Stop()
	defer health.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-refresh.C:
			n.refreshStaleBuckets(ctx)
		case <-republish.C:
			n.republishDue(ctx)
		case <-expiry.C:
			removed := n.Store.SweepExpired(time.Now())
			if removed > 0 {
				n.log.WithField("removed", removed).Debug("kademlia: expired records swept")
			}
		case <-health.C:
			n.pingIdleContacts(ctx)
		}
	}
}

// refreshStaleBuckets issues a FIND_NODE for a random id in each bucket
// that hasn't been touched within RefreshInterval (spec 4.4 refresh_stale).
func (n *Node) refreshStaleBuckets(ctx context.Context) {
	for _, bucketIdx := range n.Table.RefreshStale(RefreshInterval) {
		target := randomIDInBucket(n.Self, bucketIdx)
		n.LookupNode(ctx, target)
	}
}

// republishDue re-STOREs every record past its republish deadline to the
// record's current k closest holders (spec 4.3 "Republication").
func (n *Node) republishDue(ctx context.Context) {
	now := time.Now()
	for _, rec := range n.Store.IterDueForRepublish(now) {
		n.replicateToClosest(ctx, rec.Key, rec.Value, rec.TTL)
		n.Store.BumpRepublish(rec.Key, now)
	}
}

// idleThreshold is the silence duration after which an Active contact is
// treated as due for a liveness probe (spec 4.5 "Active -> Inactive after
// 15 min idle").
const idleThreshold = 15 * time.Minute

// pingIdleContacts transitions contacts that have gone quiet for longer
// than idleThreshold to Inactive and pings the longest-idle of them in each
// bucket, so liveness state reflects reality even absent organic traffic.
func (n *Node) pingIdleContacts(ctx context.Context) {
	longest := map[int]routing.Contact{}
	for _, c := range n.Table.MarkIdle(idleThreshold) {
		idx := nodeid.BucketIndex(n.Self, c.ID)
		if cur, ok := longest[idx]; !ok || c.LastSeen.Before(cur.LastSeen) {
			longest[idx] = c
		}
	}
	for _, c := range longest {
		rctx, cancel := context.WithTimeout(ctx, RPCTimeout)
		_ = n.Ping(rctx, c)
		cancel()
	}
}

// randomIDInBucket returns a random id guaranteed to fall into self's
// bucket bucketIdx: the first bucketIdx bits match self, the bit right
// after that is flipped (the actual point of divergence BucketIndex scans
// for), and every bit past that is randomized.
func randomIDInBucket(self nodeid.NodeID, bucketIdx int) nodeid.NodeID {
	var id nodeid.NodeID
	_, _ = rand.Read(id[:])

	prefixBytes := bucketIdx / 8
	prefixBit := uint(bucketIdx % 8)
	for i := 0; i < prefixBytes; i++ {
		id[i] = self[i]
	}

	matchMask := byte(0xFF) << (8 - prefixBit) // top prefixBit bits, same as self
	divergeBit := byte(0x80) >> prefixBit       // the bit that must differ from self
	fixed := (self[prefixBytes] & matchMask) | ((self[prefixBytes] ^ divergeBit) & divergeBit)
	keepMask := matchMask | divergeBit
	id[prefixBytes] = fixed | (id[prefixBytes] &^ keepMask)
	return id
}
