// Package client is a thin Go wrapper around the JsonRpcBridge's
// newline-delimited JSON protocol (spec.md §4.7, §6 "Client bridge"),
// grounded on the teacher's walletserver/services thin service-wrapper
// idiom: one small struct holding a transport handle, one method per
// remote operation, errors surfaced as plain Go errors.
package client

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// Client is a connection to a single neromon daemon's bridge socket.
type Client struct {
	conn   net.Conn
	reader *bufio.Scanner
	mu     sync.Mutex
	nextID atomic.Uint64
}

// Dial connects to a daemon's bridge socket (a UNIX socket path on
// POSIX systems, matching spec.md §6).
func Dial(socketPath string) (*Client, error) {
	conn, err := net.DialTimeout("unix", socketPath, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("client: dial bridge socket %s: %w", socketPath, err)
	}
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 8<<20)
	return &Client{conn: conn, reader: scanner}, nil
}

func (c *Client) Close() error { return c.conn.Close() }

// RPCError mirrors the bridge's {code, message} error object.
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string { return fmt.Sprintf("bridge error %d: %s", e.Code, e.Message) }

type request struct {
	ID     uint64      `json:"id"`
	Method string      `json:"method"`
	Params interface{} `json:"params,omitempty"`
}

type response struct {
	ID       uint64          `json:"id"`
	Response json.RawMessage `json:"response,omitempty"`
	Error    *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// call sends one request and waits for its response. Calls are serialized
// so only one request is in flight per connection: the bridge answers
// requests on worker goroutines and tags each response with its request
// id, so with several in flight the next line read could belong to another
// call.
func (c *Client) call(method string, params, result interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextID.Add(1)
	raw, err := json.Marshal(request{ID: id, Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("client: marshal %s request: %w", method, err)
	}
	raw = append(raw, '\n')
	if _, err := c.conn.Write(raw); err != nil {
		return fmt.Errorf("client: write %s request: %w", method, err)
	}

	if !c.reader.Scan() {
		if err := c.reader.Err(); err != nil {
			return fmt.Errorf("client: read %s response: %w", method, err)
		}
		return fmt.Errorf("client: bridge closed connection before responding to %s", method)
	}
	var resp response
	if err := json.Unmarshal(c.reader.Bytes(), &resp); err != nil {
		return fmt.Errorf("client: decode %s response: %w", method, err)
	}
	if resp.Error != nil {
		return &RPCError{Code: resp.Error.Code, Message: resp.Error.Message}
	}
	if result != nil {
		if err := json.Unmarshal(resp.Response, result); err != nil {
			return fmt.Errorf("client: decode %s result: %w", method, err)
		}
	}
	return nil
}

// Put stores value under key with the given ttl in seconds.
func (c *Client) Put(key, value string, ttlSeconds int64) error {
	return c.call("put", map[string]interface{}{"key": key, "value": value, "ttl": ttlSeconds}, nil)
}

// Get fetches the value stored under key.
func (c *Client) Get(key string) (string, error) {
	var out struct {
		Value string `json:"value"`
	}
	if err := c.call("get", map[string]string{"key": key}, &out); err != nil {
		return "", err
	}
	return out.Value, nil
}

// Remove evicts key from the local content store (spec.md §4.3 remove()).
func (c *Client) Remove(key string) error {
	return c.call("remove", map[string]string{"key": key}, nil)
}

// Map registers a search_term -> key mapping tagged with content.
func (c *Client) Map(searchTerm, key, content string) error {
	return c.call("map", map[string]string{"search_term": searchTerm, "key": key, "content": content}, nil)
}

// StatusPeer is one entry of Status's peers list.
type StatusPeer struct {
	ID       string `json:"id"`
	Endpoint string `json:"endpoint"`
	Status   int    `json:"status"`
}

// Status mirrors the daemon's status bridge method result.
type Status struct {
	ConnectedPeers int          `json:"connected_peers"`
	ActivePeers    int          `json:"active_peers"`
	IdlePeers      int          `json:"idle_peers"`
	DataCount      int          `json:"data_count"`
	DataRAMUsage   int64        `json:"data_ram_usage"`
	Host           string       `json:"host"`
	Peers          []StatusPeer `json:"peers"`
}

// Status fetches the daemon's current peer/data counters.
func (c *Client) Status() (*Status, error) {
	var out Status
	if err := c.call("status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Clear wipes the local content store (used by tests/tooling, spec.md §4.3).
func (c *Client) Clear() error {
	return c.call("clear", nil, nil)
}

// CartItem is one listing key held in a cart.
type CartItem struct {
	ListingKey string `json:"listing_key"`
	Quantity   int    `json:"quantity"`
}

// CartAdd adds quantity of listingKey to userID's cart.
func (c *Client) CartAdd(userID, listingKey string, quantity int) error {
	return c.call("cart_add", map[string]interface{}{
		"user_id": userID, "listing_key": listingKey, "quantity": quantity,
	}, nil)
}

// CartRemove removes listingKey from userID's cart.
func (c *Client) CartRemove(userID, listingKey string) error {
	return c.call("cart_remove", map[string]string{"user_id": userID, "listing_key": listingKey}, nil)
}

// CartList lists userID's cart contents.
func (c *Client) CartList(userID string) ([]CartItem, error) {
	var out struct {
		Items []CartItem `json:"items"`
	}
	if err := c.call("cart_list", map[string]string{"user_id": userID}, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// FavoriteAdd marks listingKey as favorited by userID.
func (c *Client) FavoriteAdd(userID, listingKey string) error {
	return c.call("favorite_add", map[string]string{"user_id": userID, "listing_key": listingKey}, nil)
}

// FavoriteRemove un-favorites listingKey for userID.
func (c *Client) FavoriteRemove(userID, listingKey string) error {
	return c.call("favorite_remove", map[string]string{"user_id": userID, "listing_key": listingKey}, nil)
}

// FavoriteList lists userID's favorited listing keys.
func (c *Client) FavoriteList(userID string) ([]string, error) {
	var out struct {
		Listings []string `json:"listings"`
	}
	if err := c.call("favorite_list", map[string]string{"user_id": userID}, &out); err != nil {
		return nil, err
	}
	return out.Listings, nil
}
