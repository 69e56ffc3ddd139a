// Package bridge implements the JsonRpcBridge: the client<->daemon
// boundary described in spec.md 4.7 and 6 ("Client bridge"). Grounded on
// the teacher's walletserver/middleware request-handling shape (one
// handler per method, structured logging per request) generalized from
// HTTP+gorilla/mux to a newline-delimited JSON protocol over a local
// stream socket, with a bounded worker pool replacing the HTTP server's
// implicit goroutine-per-connection concurrency.
package bridge

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"neromon/internal/codec"
	"neromon/internal/errs"
	"neromon/internal/kademlia"
	"neromon/internal/mappings"
	"neromon/internal/nodeid"
	"neromon/internal/routing"
	"neromon/internal/store"
)

// DefaultWorkers is the bounded worker pool size (spec 4.7).
const DefaultWorkers = 16

// MaxQueueDepth is how many requests may wait for a free worker before the
// bridge starts answering with "busy" (spec 5 "Backpressure").
const MaxQueueDepth = 256

// Request is one line of the client<->daemon protocol (spec 4.7).
type Request struct {
	ID     uint64          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// Response is either a success or an error reply, never both (spec 4.7).
type Response struct {
	ID       uint64          `json:"id"`
	Response json.RawMessage `json:"response,omitempty"`
	Error    *ResponseError  `json:"error,omitempty"`
}

// ResponseError mirrors the {code, message} shape spec 4.7 specifies.
type ResponseError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Bridge serves the local client protocol over a bounded worker pool.
type Bridge struct {
	node     *kademlia.Node
	mappings *mappings.Index
	log      *logrus.Logger

	jobs chan func()
	wg   sync.WaitGroup
}

// New builds a Bridge over an already-running Node and MappingsIndex with
// the default worker pool size.
func New(node *kademlia.Node, idx *mappings.Index, log *logrus.Logger) *Bridge {
	return NewWithWorkers(node, idx, log, DefaultWorkers)
}

// NewWithWorkers builds a Bridge with an explicit worker pool size
// (bridge.workers), falling back to DefaultWorkers for non-positive values.
func NewWithWorkers(node *kademlia.Node, idx *mappings.Index, log *logrus.Logger, workers int) *Bridge {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if workers <= 0 {
		workers = DefaultWorkers
	}
	b := &Bridge{
		node:     node,
		mappings: idx,
		log:      log,
		jobs:     make(chan func(), MaxQueueDepth),
	}
	for i := 0; i < workers; i++ {
		b.wg.Add(1)
		go b.worker()
	}
	return b
}

func (b *Bridge) worker() {
	defer b.wg.Done()
	for job := range b.jobs {
		job()
	}
}

// Serve accepts client connections on listener until ctx is cancelled. The
// bridge speaks its own newline-delimited JSON protocol directly over
// net.Conn rather than the overlay-abstracted peer Transport (spec 4.6
// scopes that abstraction to peer connections, not the local client
// socket).
func (b *Bridge) Serve(ctx context.Context, listener net.Listener) error {
	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()
	for {
		c, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return errs.Wrap(errs.Transport, err, "accept bridge client")
			}
		}
		go b.serveClient(ctx, c)
	}
}

// serveClient speaks newline-delimited JSON over a single connection,
// dispatching each line to the worker pool (spec 4.7 "each request handled
// on a task from a bounded worker pool").
func (b *Bridge) serveClient(ctx context.Context, c net.Conn) {
	defer c.Close()
	scanner := bufio.NewScanner(c)
	scanner.Buffer(make([]byte, 0, 64*1024), store.MaxValueSize+4096)

	var writeMu sync.Mutex
	write := func(resp Response) {
		out, err := json.Marshal(resp)
		if err != nil {
			b.log.WithError(err).Warn("bridge: marshal response failed")
			return
		}
		out = append(out, '\n')
		writeMu.Lock()
		_, werr := c.Write(out)
		writeMu.Unlock()
		if werr != nil {
			b.log.WithError(werr).Debug("bridge: write response failed")
		}
	}

	for scanner.Scan() {
		line := append([]byte(nil), scanner.Bytes()...)
		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			write(Response{Error: &ResponseError{Code: 400, Message: "malformed request"}})
			continue
		}
		select {
		case b.jobs <- func() { write(b.handle(ctx, req)) }:
		default:
			write(errorResponse(req.ID, errs.New(errs.Busy, "worker pool saturated")))
		}
	}
}

func (b *Bridge) handle(ctx context.Context, req Request) Response {
	var (
		result any
		err    error
	)
	switch req.Method {
	case "put":
		result, err = b.handlePut(ctx, req.Params)
	case "get":
		result, err = b.handleGet(ctx, req.Params)
	case "remove":
		result, err = b.handleRemove(req.Params)
	case "map":
		result, err = b.handleMap(req.Params)
	case "status":
		result, err = b.handleStatus()
	case "clear":
		result, err = b.handleClear()
	case "cart_add":
		result, err = b.handleCartAdd(req.Params)
	case "cart_remove":
		result, err = b.handleCartRemove(req.Params)
	case "cart_list":
		result, err = b.handleCartList(req.Params)
	case "favorite_add":
		result, err = b.handleFavoriteAdd(req.Params)
	case "favorite_remove":
		result, err = b.handleFavoriteRemove(req.Params)
	case "favorite_list":
		result, err = b.handleFavoriteList(req.Params)
	default:
		err = errs.New(errs.Invalid, fmt.Sprintf("unknown method %q", req.Method))
	}
	if err != nil {
		return errorResponse(req.ID, err)
	}
	raw, merr := json.Marshal(result)
	if merr != nil {
		return errorResponse(req.ID, errs.Wrap(errs.Invalid, merr, "marshal response"))
	}
	return Response{ID: req.ID, Response: raw}
}

func errorResponse(id uint64, err error) Response {
	return Response{ID: id, Error: &ResponseError{
		Code:    errorCode(errs.KindOf(err)),
		Message: err.Error(),
	}}
}

func errorCode(kind errs.Kind) int {
	switch kind {
	case errs.NotFound:
		return 404
	case errs.Invalid:
		return 400
	case errs.Expired:
		return 410
	case errs.Busy:
		return 429
	case errs.Timeout:
		return 504
	case errs.Transport:
		return 502
	default:
		return 500
	}
}

type putParams struct {
	Key   string `json:"key"`
	Value string `json:"value"`
	TTL   int64  `json:"ttl"`
}

type putResult struct {
	Stores int `json:"stores"`
}

func (b *Bridge) handlePut(ctx context.Context, raw json.RawMessage) (any, error) {
	var p putParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, errs.Wrap(errs.Invalid, err, "decode put params")
	}
	key, err := nodeid.ParseKey(p.Key)
	if err != nil {
		return nil, errs.Wrap(errs.Invalid, err, "parse put key")
	}
	ttl := time.Duration(p.TTL) * time.Second
	if err := b.node.Put(ctx, key, []byte(p.Value), ttl); err != nil {
		return nil, err
	}
	return putResult{Stores: 1}, nil
}

type getParams struct {
	Key string `json:"key"`
}

type getResult struct {
	Value string `json:"value"`
}

func (b *Bridge) handleGet(ctx context.Context, raw json.RawMessage) (any, error) {
	var p getParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, errs.Wrap(errs.Invalid, err, "decode get params")
	}
	key, err := nodeid.ParseKey(p.Key)
	if err != nil {
		return nil, errs.Wrap(errs.Invalid, err, "parse get key")
	}
	value, ok, _ := b.node.LookupValue(ctx, key)
	if !ok {
		if b.mappings != nil {
			_ = b.mappings.PruneMissing(p.Key)
		}
		return nil, errs.New(errs.NotFound, "key absent after exhaustive lookup")
	}
	return getResult{Value: value}, nil
}

type removeParams struct {
	Key string `json:"key"`
}

func (b *Bridge) handleRemove(raw json.RawMessage) (any, error) {
	var p removeParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, errs.Wrap(errs.Invalid, err, "decode remove params")
	}
	key, err := nodeid.ParseKey(p.Key)
	if err != nil {
		return nil, errs.Wrap(errs.Invalid, err, "parse remove key")
	}
	b.node.Store.Remove(key)
	return struct{}{}, nil
}

type mapParams struct {
	SearchTerm string `json:"search_term"`
	Key        string `json:"key"`
	Content    string `json:"content"`
}

func (b *Bridge) handleMap(raw json.RawMessage) (any, error) {
	var p mapParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, errs.Wrap(errs.Invalid, err, "decode map params")
	}
	if b.mappings == nil {
		return nil, errs.New(errs.Storage, "mappings index unavailable")
	}
	if err := b.mappings.Map(p.SearchTerm, p.Key, codec.Tag(p.Content)); err != nil {
		return nil, err
	}
	return struct{}{}, nil
}

type statusPeer struct {
	ID       string `json:"id"`
	Endpoint string `json:"endpoint"`
	Status   int    `json:"status"`
}

type statusResult struct {
	ConnectedPeers int          `json:"connected_peers"`
	ActivePeers    int          `json:"active_peers"`
	IdlePeers      int          `json:"idle_peers"`
	DataCount      int          `json:"data_count"`
	DataRAMUsage   int64        `json:"data_ram_usage"`
	Host           string       `json:"host"`
	Peers          []statusPeer `json:"peers"`
}

// peerStatusCode encodes the Contact state machine as the numeric
// peers[].status field spec.md 8's scenario 6 references: 0=Unknown,
// 1=Probing, 2=Active, 3=Inactive, 4=Dead.
func peerStatusCode(s routing.State) int { return int(s) }

func (b *Bridge) handleStatus() (any, error) {
	contacts := b.node.Table.All()
	res := statusResult{
		DataCount:    b.node.Store.Count(),
		DataRAMUsage: b.node.Store.RAMUsage(),
		Host:         b.node.SelfEndpoint,
	}
	for _, c := range contacts {
		res.ConnectedPeers++
		switch c.State {
		case routing.Active:
			res.ActivePeers++
		case routing.Inactive:
			res.IdlePeers++
		}
		res.Peers = append(res.Peers, statusPeer{
			ID:       c.ID.String(),
			Endpoint: c.Endpoint,
			Status:   peerStatusCode(c.State),
		})
	}
	return res, nil
}

func (b *Bridge) handleClear() (any, error) {
	b.node.Store.Clear()
	return struct{}{}, nil
}

type cartAddParams struct {
	UserID     string `json:"user_id"`
	ListingKey string `json:"listing_key"`
	Quantity   int    `json:"quantity"`
}

func (b *Bridge) handleCartAdd(raw json.RawMessage) (any, error) {
	var p cartAddParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, errs.Wrap(errs.Invalid, err, "decode cart_add params")
	}
	if p.Quantity <= 0 {
		p.Quantity = 1
	}
	cartUUID, err := b.mappings.AddToCart(p.UserID, p.ListingKey, p.Quantity)
	if err != nil {
		return nil, err
	}
	return struct {
		Cart string `json:"cart"`
	}{Cart: cartUUID}, nil
}

type cartRemoveParams struct {
	UserID     string `json:"user_id"`
	ListingKey string `json:"listing_key"`
}

func (b *Bridge) handleCartRemove(raw json.RawMessage) (any, error) {
	var p cartRemoveParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, errs.Wrap(errs.Invalid, err, "decode cart_remove params")
	}
	if err := b.mappings.RemoveFromCart(p.UserID, p.ListingKey); err != nil {
		return nil, err
	}
	return struct{}{}, nil
}

type cartListParams struct {
	UserID string `json:"user_id"`
}

func (b *Bridge) handleCartList(raw json.RawMessage) (any, error) {
	var p cartListParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, errs.Wrap(errs.Invalid, err, "decode cart_list params")
	}
	items, err := b.mappings.ListCart(p.UserID)
	if err != nil {
		return nil, err
	}
	return struct {
		Items []mappings.CartItem `json:"items"`
	}{Items: items}, nil
}

type favoriteParams struct {
	UserID     string `json:"user_id"`
	ListingKey string `json:"listing_key"`
}

func (b *Bridge) handleFavoriteAdd(raw json.RawMessage) (any, error) {
	var p favoriteParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, errs.Wrap(errs.Invalid, err, "decode favorite_add params")
	}
	if err := b.mappings.Favorite(p.UserID, p.ListingKey); err != nil {
		return nil, err
	}
	return struct{}{}, nil
}

func (b *Bridge) handleFavoriteRemove(raw json.RawMessage) (any, error) {
	var p favoriteParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, errs.Wrap(errs.Invalid, err, "decode favorite_remove params")
	}
	if err := b.mappings.Unfavorite(p.UserID, p.ListingKey); err != nil {
		return nil, err
	}
	return struct{}{}, nil
}

type favoriteListParams struct {
	UserID string `json:"user_id"`
}

func (b *Bridge) handleFavoriteList(raw json.RawMessage) (any, error) {
	var p favoriteListParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, errs.Wrap(errs.Invalid, err, "decode favorite_list params")
	}
	keys, err := b.mappings.ListFavorites(p.UserID)
	if err != nil {
		return nil, err
	}
	return struct {
		Listings []string `json:"listings"`
	}{Listings: keys}, nil
}

// Close stops accepting new work and waits for in-flight jobs to drain.
func (b *Bridge) Close() {
	close(b.jobs)
	b.wg.Wait()
}
