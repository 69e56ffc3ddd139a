package kademlia

import (
	"context"
	"sort"
	"sync"
	"time"

	"neromon/internal/codec"
	"neromon/internal/errs"
	"neromon/internal/nodeid"
	"neromon/internal/routing"
	"neromon/internal/store"
)

// lookupResult is the outcome of an iterative node lookup: the k closest
// contacts found, sorted by ascending XOR distance to the target.
type lookupResult struct {
	closest []routing.Contact
}

// LookupNode performs the iterative FIND_NODE lookup of spec 4.4: seed from
// the routing table, query alpha unvisited candidates per round, and stop
// once a round fails to improve on the best distance seen so far.
func (n *Node) LookupNode(ctx context.Context, target nodeid.NodeID) []routing.Contact {
	ctx, cancel := context.WithTimeout(ctx, LookupTimeout)
	defer cancel()

	visited := map[string]bool{}
	var mu sync.Mutex
	shortlist := n.Table.Closest(target, n.resultSetSize)

	var lastBest *nodeid.NodeID
	for {
		batch := nextBatch(shortlist, visited, Alpha)
		if len(batch) == 0 {
			break
		}
		var wg sync.WaitGroup
		for _, c := range batch {
			mu.Lock()
			visited[c.Endpoint] = true
			mu.Unlock()
			wg.Add(1)
			go func(c routing.Contact) {
				defer wg.Done()
				rctx, rcancel := context.WithTimeout(ctx, RPCTimeout)
				defer rcancel()
				found, err := n.findNodeRPC(rctx, c, target)
				if err != nil {
					return
				}
				mu.Lock()
				for _, f := range found {
					n.Table.Touch(f.ID, f.Endpoint)
				}
				mu.Unlock()
			}(c)
		}
		wg.Wait()

		shortlist = n.Table.Closest(target, n.resultSetSize)
		if len(shortlist) == 0 {
			break
		}
		best := shortlist[0].ID
		if lastBest != nil && !best.Distance(target).Less(lastBest.Distance(target)) {
			break
		}
		lastBest = &best

		if ctx.Err() != nil {
			break
		}
	}
	return shortlist
}

// LookupValue performs the iterative FIND_VALUE lookup of spec 4.4,
// returning the value and a bool hit flag, or the closest known contacts on
// a miss so the caller can decide whether to fall back further. On a hit
// found via a remote peer, the value is cached at the k-1 nearest contacted
// responders that did not hold it (spec 4.4 "the winner is instructed to
// the k-1 nearest responders that didn't hold it").
func (n *Node) LookupValue(ctx context.Context, key nodeid.Key) (string, bool, []routing.Contact) {
	if val, err := n.Store.Get(key); err == nil {
		return val, true, nil
	}

	ctx, cancel := context.WithTimeout(ctx, LookupTimeout)
	defer cancel()

	target := key.RoutingKey()
	visited := map[string]bool{}
	var mu sync.Mutex
	shortlist := n.Table.Closest(target, n.resultSetSize)
	var nonHolders []routing.Contact

	var lastBest *nodeid.NodeID
	for {
		batch := nextBatch(shortlist, visited, Alpha)
		if len(batch) == 0 {
			break
		}

		type hit struct {
			value string
			ttl   time.Duration
			ok    bool
		}
		hitCh := make(chan hit, 1)
		var wg sync.WaitGroup
		for _, c := range batch {
			mu.Lock()
			visited[c.Endpoint] = true
			mu.Unlock()
			wg.Add(1)
			go func(c routing.Contact) {
				defer wg.Done()
				rctx, rcancel := context.WithTimeout(ctx, RPCTimeout)
				defer rcancel()
				value, ttl, contacts, err := n.findValueRPC(rctx, c, key)
				if err != nil {
					return
				}
				if value != "" {
					select {
					case hitCh <- hit{value: value, ttl: ttl, ok: true}:
					default:
					}
					return
				}
				mu.Lock()
				nonHolders = append(nonHolders, c)
				for _, f := range contacts {
					n.Table.Touch(f.ID, f.Endpoint)
				}
				mu.Unlock()
			}(c)
		}
		wg.Wait()
		close(hitCh)
		if h, ok := <-hitCh; ok && h.ok {
			n.cacheAtNonHolders(ctx, target, key, []byte(h.value), h.ttl, nonHolders)
			return h.value, true, nil
		}

		shortlist = n.Table.Closest(target, n.resultSetSize)
		if len(shortlist) == 0 {
			break
		}
		best := shortlist[0].ID
		if lastBest != nil && !best.Distance(target).Less(lastBest.Distance(target)) {
			break
		}
		lastBest = &best

		if ctx.Err() != nil {
			break
		}
	}
	return "", false, shortlist
}

// cacheAtNonHolders re-STOREs a found value at the k-1 nearest-to-target
// contacts that responded during the lookup without holding it.
func (n *Node) cacheAtNonHolders(ctx context.Context, target nodeid.NodeID, key nodeid.Key, value []byte, ttl time.Duration, nonHolders []routing.Contact) {
	if len(nonHolders) == 0 {
		return
	}
	if ttl <= 0 {
		ttl = store.DefaultTTL
	}
	sort.SliceStable(nonHolders, func(i, j int) bool {
		return nonHolders[i].ID.Distance(target).Less(nonHolders[j].ID.Distance(target))
	})
	limit := n.resultSetSize - 1
	if limit > len(nonHolders) {
		limit = len(nonHolders)
	}
	var wg sync.WaitGroup
	for _, c := range nonHolders[:limit] {
		if c.ID == n.Self {
			continue
		}
		wg.Add(1)
		go func(c routing.Contact) {
			defer wg.Done()
			rctx, cancel := context.WithTimeout(ctx, RPCTimeout)
			defer cancel()
			if err := n.storeRPC(rctx, c, key, value, ttl); err != nil {
				n.log.WithError(err).WithField("peer", c.Endpoint).Debug("kademlia: find_value cache store failed")
			}
		}(c)
	}
	wg.Wait()
}

// nextBatch selects up to n unvisited candidates from shortlist, ordered by
// the caller's existing distance sort.
func nextBatch(shortlist []routing.Contact, visited map[string]bool, n int) []routing.Contact {
	batch := make([]routing.Contact, 0, n)
	for _, c := range shortlist {
		if len(batch) >= n {
			break
		}
		if c.Endpoint == "" || visited[c.Endpoint] {
			continue
		}
		batch = append(batch, c)
	}
	return batch
}

// Join bootstraps the routing table from a known endpoint whose node id is
// not yet known: PING it, learn its id from the reply envelope's sender
// field, then perform a self-lookup to populate nearby buckets (spec 4.5
// "Join").
func (n *Node) Join(ctx context.Context, bootstrapEndpoint string) error {
	reply, err := n.call(ctx, bootstrapEndpoint, codec.MsgPing, codec.PingBody{})
	if err != nil {
		return errs.Wrap(errs.Transport, err, "ping bootstrap contact")
	}
	bootstrapID, err := nodeid.ParseNodeID(reply.Sender.ID)
	if err != nil {
		return errs.Wrap(errs.Transport, err, "parse bootstrap contact id")
	}
	n.Table.Observe(routing.Contact{ID: bootstrapID, Endpoint: bootstrapEndpoint})
	n.LookupNode(ctx, n.Self)
	return nil
}

// Put stores value under key locally and replicates it to the configured
// replication factor's worth of the current closest peers (spec 4.4
// "Replication", routing.replication_factor).
func (n *Node) Put(ctx context.Context, key nodeid.Key, value []byte, ttl time.Duration) error {
	if err := n.Store.Put(key, value, ttl, n.Self); err != nil {
		return err
	}
	n.replicateToClosest(ctx, key, value, ttl)
	return nil
}

func (n *Node) replicateToClosest(ctx context.Context, key nodeid.Key, value []byte, ttl time.Duration) {
	target := key.RoutingKey()
	closest := n.LookupNode(ctx, target)
	sort.SliceStable(closest, func(i, j int) bool {
		return closest[i].ID.Distance(target).Less(closest[j].ID.Distance(target))
	})
	if len(closest) > n.replicationFactor {
		closest = closest[:n.replicationFactor]
	}
	var wg sync.WaitGroup
	for _, c := range closest {
		if c.ID == n.Self {
			continue
		}
		wg.Add(1)
		go func(c routing.Contact) {
			defer wg.Done()
			rctx, cancel := context.WithTimeout(ctx, RPCTimeout)
			defer cancel()
			if err := n.storeRPC(rctx, c, key, value, ttl); err != nil {
				n.log.WithError(err).WithField("peer", c.Endpoint).Debug("kademlia: replication store failed")
			}
		}(c)
	}
	wg.Wait()
}
