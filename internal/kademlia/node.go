// Package kademlia implements the Node protocol engine: PING/FIND_NODE/
// FIND_VALUE/STORE/MAP handling, the iterative lookup, and the periodic
// maintenance scheduler (spec 4.4, 4.5). Grounded on
// adityasissodiya-d7024e/labs/kademlia/kademlia.go's outer struct and
// iterative-lookup shape, adapted from its UDP/sync-channel RPC style to
// the daemon's request-scoped framed transport (internal/transport) and
// typed record store (internal/store).
package kademlia

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"neromon/internal/codec"
	"neromon/internal/errs"
	"neromon/internal/nodeid"
	"neromon/internal/routing"
	"neromon/internal/store"
	"neromon/internal/transport"
)

// Alpha is the lookup parallelism factor (spec 4.4).
const Alpha = 3

// K is the default per-bucket/result-set size (spec 3).
const K = routing.DefaultBucketSize

// RPCTimeout bounds a single outbound RPC round trip (spec 4.4).
const RPCTimeout = 5 * time.Second

// LookupTimeout bounds an entire iterative lookup (spec 4.4).
const LookupTimeout = 20 * time.Second

// Node is the local DHT participant: routing table, content store, and the
// peer-facing RPC server/client pair that keeps them current.
type Node struct {
	Self         nodeid.NodeID
	SelfEndpoint string

	Table *routing.Table
	Store *store.Store

	dialer   transport.Dialer
	listener transport.Listener
	pool     *transport.Pool
	connMu   sync.Map // endpoint -> *sync.Mutex, serializes request-scoped conn reuse

	log *logrus.Logger

	// resultSetSize is k: the per-bucket capacity and the width of the
	// closest-contacts set returned by lookups (routing.bucket_size).
	resultSetSize int
	// replicationFactor bounds how many of a Put's closest contacts
	// actually receive a STORE (routing.replication_factor).
	replicationFactor int

	nextID atomic.Uint64

	closing chan struct{}
	wg      sync.WaitGroup
}

// New builds a Node bound to self/selfEndpoint with the default bucket size
// and replication factor, using factory to dial peers and (optionally)
// listen for inbound peer connections.
func New(self nodeid.NodeID, selfEndpoint string, factory transport.Factory, st *store.Store, log *logrus.Logger) *Node {
	return NewWithConfig(self, selfEndpoint, factory, st, log, K, K)
}

// NewWithConfig builds a Node with an explicit bucket size and replication
// factor (spec.md §5's routing.bucket_size / routing.replication_factor
// config knobs). A non-positive bucket size falls back to K; a
// non-positive replication factor falls back to the bucket size.
func NewWithConfig(self nodeid.NodeID, selfEndpoint string, factory transport.Factory, st *store.Store, log *logrus.Logger, bucketSize, replicationFactor int) *Node {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if bucketSize <= 0 {
		bucketSize = K
	}
	if replicationFactor <= 0 {
		replicationFactor = bucketSize
	}
	n := &Node{
		Self:              self,
		SelfEndpoint:      selfEndpoint,
		Table:             routing.NewTableSize(self, bucketSize, routing.DefaultMaxFailures),
		Store:             st,
		dialer:            factory,
		pool:              transport.NewPool(factory),
		log:               log,
		resultSetSize:     bucketSize,
		replicationFactor: replicationFactor,
		closing:           make(chan struct{}),
	}
	n.Table.SetPingFunc(n.pingLiveness)
	return n
}

// Listen binds the peer-facing server socket and starts accepting
// connections in the background (spec 4.6). A Node built with an empty
// self endpoint adopts the listener's bound address as its SelfEndpoint.
func (n *Node) Listen(factory transport.Factory, endpoint string) error {
	l, err := factory.Listen(endpoint)
	if err != nil {
		return errs.Wrap(errs.Transport, err, "listen for peer connections")
	}
	n.listener = l
	if n.SelfEndpoint == "" {
		n.SelfEndpoint = l.Addr()
	}
	n.wg.Add(1)
	go n.acceptLoop()
	return nil
}

// Close stops accepting connections and releases pooled outbound sockets.
func (n *Node) Close() error {
	close(n.closing)
	var err error
	if n.listener != nil {
		err = n.listener.Close()
	}
	n.pool.CloseAll()
	n.wg.Wait()
	return err
}

func (n *Node) acceptLoop() {
	defer n.wg.Done()
	for {
		c, err := n.listener.Accept()
		if err != nil {
			select {
			case <-n.closing:
				return
			default:
				n.log.WithError(err).Warn("kademlia: accept failed")
				return
			}
		}
		go n.serveConn(c)
	}
}

// idleConnTimeout bounds how long an accepted connection may sit between
// requests before the server reclaims it (spec 6 "outbound connection
// cache... entries are idempotently created" implies the peer on the other
// end may pipeline several requests over the same connection).
const idleConnTimeout = 2 * time.Minute

// serveConn handles every request/response cycle a peer sends over one
// accepted connection, stopping when the peer closes it or goes idle.
// Responses are matched to requests by envelope id on the client side
// (spec 6 "responses are returned in request-id order but not necessarily
// in arrival order"), so requests here are answered strictly in the order
// received.
func (n *Node) serveConn(c transport.Conn) {
	defer c.Close()
	for {
		_ = c.SetDeadline(time.Now().Add(idleConnTimeout))
		frame, err := c.Recv()
		if err != nil {
			return
		}
		env, err := codec.UnmarshalEnvelope(frame)
		if err != nil {
			n.log.WithError(err).Debug("kademlia: inbound envelope malformed")
			return
		}

		senderID, err := nodeid.ParseNodeID(env.Sender.ID)
		if err == nil && senderID != n.Self {
			n.Table.Touch(senderID, env.Sender.Endpoint)
		}

		reply, err := n.dispatch(env)
		if err != nil {
			reply, _ = n.errorEnvelope(env.ID, err)
		}
		out, err := reply.Marshal()
		if err != nil {
			n.log.WithError(err).Warn("kademlia: marshal reply failed")
			return
		}
		if err := c.Send(out); err != nil {
			n.log.WithError(err).Debug("kademlia: send reply failed")
			return
		}
	}
}

func (n *Node) dispatch(env codec.Envelope) (codec.Envelope, error) {
	switch env.Type {
	case codec.MsgPing:
		return n.handlePing(env)
	case codec.MsgFindNode:
		return n.handleFindNode(env)
	case codec.MsgFindValue:
		return n.handleFindValue(env)
	case codec.MsgStore:
		return n.handleStore(env)
	case codec.MsgMap:
		return n.handleMap(env)
	default:
		return codec.Envelope{}, errs.New(errs.Invalid, fmt.Sprintf("unhandled message type %q", env.Type))
	}
}

func (n *Node) handlePing(env codec.Envelope) (codec.Envelope, error) {
	return n.resultEnvelope(env.ID, codec.MsgPong, codec.PongBody{})
}

func (n *Node) handleFindNode(env codec.Envelope) (codec.Envelope, error) {
	var body codec.FindNodeBody
	if err := json.Unmarshal(env.Body, &body); err != nil {
		return codec.Envelope{}, errs.Wrap(errs.Invalid, err, "decode find_node body")
	}
	target, err := nodeid.ParseNodeID(body.Target)
	if err != nil {
		return codec.Envelope{}, errs.Wrap(errs.Invalid, err, "parse find_node target")
	}
	contacts := n.Table.Closest(target, n.resultSetSize)
	return n.resultEnvelope(env.ID, codec.MsgResult, codec.FindNodeResult{Contacts: toWireContacts(contacts)})
}

func (n *Node) handleFindValue(env codec.Envelope) (codec.Envelope, error) {
	var body codec.FindValueBody
	if err := json.Unmarshal(env.Body, &body); err != nil {
		return codec.Envelope{}, errs.Wrap(errs.Invalid, err, "decode find_value body")
	}
	key, err := nodeid.ParseKey(body.Key)
	if err != nil {
		return codec.Envelope{}, errs.Wrap(errs.Invalid, err, "parse find_value key")
	}
	if val, err := n.Store.Get(key); err == nil {
		remaining, _ := n.Store.RemainingTTL(key)
		return n.resultEnvelope(env.ID, codec.MsgResult, codec.FindValueResult{
			Value: string(val),
			TTL:   int64(remaining / time.Second),
		})
	}
	contacts := n.Table.Closest(key.RoutingKey(), n.resultSetSize)
	return n.resultEnvelope(env.ID, codec.MsgResult, codec.FindValueResult{Contacts: toWireContacts(contacts)})
}

func (n *Node) handleStore(env codec.Envelope) (codec.Envelope, error) {
	var body codec.StoreBody
	if err := json.Unmarshal(env.Body, &body); err != nil {
		return codec.Envelope{}, errs.Wrap(errs.Invalid, err, "decode store body")
	}
	key, err := nodeid.ParseKey(body.Key)
	if err != nil {
		return codec.Envelope{}, errs.Wrap(errs.Invalid, err, "parse store key")
	}
	senderID, _ := nodeid.ParseNodeID(env.Sender.ID)
	err = n.Store.Put(key, []byte(body.Value), time.Duration(body.TTL)*time.Second, senderID)
	if err != nil {
		return n.resultEnvelope(env.ID, codec.MsgResult, codec.StoreResult{Accepted: false, Reason: err.Error()})
	}
	return n.resultEnvelope(env.ID, codec.MsgResult, codec.StoreResult{Accepted: true})
}

// handleMap is a hook point for the search-term mapping hint of spec 6; the
// daemon's bridge owns the MappingsIndex, so the node layer only forwards
// via Table.Touch bookkeeping on the sender and acknowledges receipt.
func (n *Node) handleMap(env codec.Envelope) (codec.Envelope, error) {
	return n.resultEnvelope(env.ID, codec.MsgResult, struct{}{})
}

func (n *Node) resultEnvelope(id uint64, typ codec.MsgType, body any) (codec.Envelope, error) {
	return codec.NewEnvelope(id, typ, n.Self, n.SelfEndpoint, body)
}

func (n *Node) errorEnvelope(id uint64, err error) (codec.Envelope, error) {
	return codec.NewEnvelope(id, codec.MsgError, n.Self, n.SelfEndpoint, codec.ErrorBody{
		Kind:    string(errs.KindOf(err)),
		Message: err.Error(),
	})
}

func toWireContacts(contacts []routing.Contact) []codec.WireContact {
	out := make([]codec.WireContact, len(contacts))
	for i, c := range contacts {
		out[i] = codec.WireContact{ID: c.ID.String(), Endpoint: c.Endpoint}
	}
	return out
}

// pingLiveness is the routing table's outside-lock liveness probe (spec
// 4.4 observe()): a synchronous PING with the standard RPC timeout.
func (n *Node) pingLiveness(c routing.Contact) bool {
	ctx, cancel := context.WithTimeout(context.Background(), RPCTimeout)
	defer cancel()
	_, err := n.call(ctx, c.Endpoint, codec.MsgPing, codec.PingBody{})
	return err == nil
}

// call performs one request/response RPC cycle against endpoint over a
// pooled connection, serialized per-endpoint since the transport's
// request-scoped contract permits only one in-flight exchange per Conn.
func (n *Node) call(ctx context.Context, endpoint string, typ codec.MsgType, body any) (codec.Envelope, error) {
	muIface, _ := n.connMu.LoadOrStore(endpoint, &sync.Mutex{})
	mu := muIface.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()

	id := n.nextID.Add(1)
	env, err := codec.NewEnvelope(id, typ, n.Self, n.SelfEndpoint, body)
	if err != nil {
		return codec.Envelope{}, errs.Wrap(errs.Invalid, err, "build envelope")
	}
	frame, err := env.Marshal()
	if err != nil {
		return codec.Envelope{}, errs.Wrap(errs.Invalid, err, "marshal envelope")
	}

	conn, err := n.pool.Get(ctx, endpoint)
	if err != nil {
		return codec.Envelope{}, errs.Wrap(errs.Transport, err, "dial peer")
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	if err := conn.Send(frame); err != nil {
		n.pool.Drop(endpoint)
		return codec.Envelope{}, errs.Wrap(errs.Transport, err, "send rpc")
	}
	reply, err := conn.Recv()
	if err != nil {
		n.pool.Drop(endpoint)
		return codec.Envelope{}, errs.Wrap(errs.Transport, err, "recv rpc reply")
	}
	out, err := codec.UnmarshalEnvelope(reply)
	if err != nil {
		return codec.Envelope{}, errs.Wrap(errs.Transport, err, "decode rpc reply")
	}
	if out.Type == codec.MsgError {
		var eb codec.ErrorBody
		_ = json.Unmarshal(out.Body, &eb)
		return out, errs.New(errs.Kind(eb.Kind), eb.Message)
	}
	return out, nil
}

// Ping sends a confirmatory PING and records a successful response against
// the routing table (spec 4.5 "Probing -> Active on first successful
// response").
func (n *Node) Ping(ctx context.Context, c routing.Contact) error {
	_, err := n.call(ctx, c.Endpoint, codec.MsgPing, codec.PingBody{})
	if err != nil {
		n.Table.Fail(c.ID)
		return err
	}
	n.Table.Observe(routing.Contact{ID: c.ID, Endpoint: c.Endpoint})
	return nil
}

// findNodeRPC asks c for the contacts closest to target.
func (n *Node) findNodeRPC(ctx context.Context, c routing.Contact, target nodeid.NodeID) ([]routing.Contact, error) {
	reply, err := n.call(ctx, c.Endpoint, codec.MsgFindNode, codec.FindNodeBody{Target: target.String()})
	if err != nil {
		n.Table.Fail(c.ID)
		return nil, err
	}
	n.Table.Observe(routing.Contact{ID: c.ID, Endpoint: c.Endpoint})
	var res codec.FindNodeResult
	if err := json.Unmarshal(reply.Body, &res); err != nil {
		return nil, errs.Wrap(errs.Transport, err, "decode find_node result")
	}
	return fromWireContacts(res.Contacts), nil
}

// findValueRPC asks c for key's value, falling back to closest contacts.
// The returned duration is the hit's remaining TTL (zero on a miss).
func (n *Node) findValueRPC(ctx context.Context, c routing.Contact, key nodeid.Key) (string, time.Duration, []routing.Contact, error) {
	reply, err := n.call(ctx, c.Endpoint, codec.MsgFindValue, codec.FindValueBody{Key: key.String()})
	if err != nil {
		n.Table.Fail(c.ID)
		return "", 0, nil, err
	}
	n.Table.Observe(routing.Contact{ID: c.ID, Endpoint: c.Endpoint})
	var res codec.FindValueResult
	if err := json.Unmarshal(reply.Body, &res); err != nil {
		return "", 0, nil, errs.Wrap(errs.Transport, err, "decode find_value result")
	}
	return res.Value, time.Duration(res.TTL) * time.Second, fromWireContacts(res.Contacts), nil
}

// storeRPC asks c to STORE key/value with the given ttl.
func (n *Node) storeRPC(ctx context.Context, c routing.Contact, key nodeid.Key, value []byte, ttl time.Duration) error {
	reply, err := n.call(ctx, c.Endpoint, codec.MsgStore, codec.StoreBody{
		Key:   key.String(),
		Value: string(value),
		TTL:   int64(ttl / time.Second),
	})
	if err != nil {
		n.Table.Fail(c.ID)
		return err
	}
	n.Table.Observe(routing.Contact{ID: c.ID, Endpoint: c.Endpoint})
	var res codec.StoreResult
	if err := json.Unmarshal(reply.Body, &res); err != nil {
		return errs.Wrap(errs.Transport, err, "decode store result")
	}
	if !res.Accepted {
		return errs.New(errs.Invalid, res.Reason)
	}
	return nil
}

func fromWireContacts(wcs []codec.WireContact) []routing.Contact {
	out := make([]routing.Contact, 0, len(wcs))
	for _, wc := range wcs {
		id, err := nodeid.ParseNodeID(wc.ID)
		if err != nil {
			continue
		}
		out = append(out, routing.Contact{ID: id, Endpoint: wc.Endpoint})
	}
	return out
}
