package bridge

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"neromon/internal/codec"
	"neromon/internal/kademlia"
	"neromon/internal/mappings"
	"neromon/internal/nodeid"
	"neromon/internal/store"
	"neromon/internal/transport"
)

func newTestBridge(t *testing.T) (*Bridge, net.Conn) {
	t.Helper()
	st, err := store.New("", nil)
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	self := nodeid.FromIdentity("bridge-under-test")
	factory := transport.NetFactory{Network: "tcp"}
	node := kademlia.New(self, "", factory, st, nil)
	if err := node.Listen(factory, "127.0.0.1:0"); err != nil {
		t.Fatalf("node.Listen: %v", err)
	}
	t.Cleanup(func() { _ = node.Close() })

	idx, err := mappings.Open(filepath.Join(t.TempDir(), "data.sqlite3"))
	if err != nil {
		t.Fatalf("mappings.Open: %v", err)
	}
	t.Cleanup(func() { idx.Close() })

	b := New(node, idx, nil)
	t.Cleanup(b.Close)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go b.Serve(ctx, ln)

	client, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("net.Dial: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return b, client
}

func roundTrip(t *testing.T, conn net.Conn, req Request) Response {
	t.Helper()
	raw, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	raw = append(raw, '\n')
	if _, err := conn.Write(raw); err != nil {
		t.Fatalf("write request: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		t.Fatalf("no response line: %v", scanner.Err())
	}
	var resp Response
	if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	return resp
}

func sampleRecord(t *testing.T, body string) ([]byte, nodeid.Key) {
	t.Helper()
	raw, err := json.Marshal(map[string]string{
		"metadata": string(codec.TagMessage),
		"body":     body,
	})
	if err != nil {
		t.Fatalf("marshal fixture: %v", err)
	}
	rv, err := codec.ParseRecordValue(raw)
	if err != nil {
		t.Fatalf("parse fixture: %v", err)
	}
	canon, err := rv.Canonical()
	if err != nil {
		t.Fatalf("canonicalize fixture: %v", err)
	}
	return raw, nodeid.KeyFromContent(canon)
}

func TestPutGetOverBridge(t *testing.T) {
	_, conn := newTestBridge(t)
	raw, key := sampleRecord(t, "hello bridge")

	putResp := roundTrip(t, conn, Request{
		ID:     1,
		Method: "put",
		Params: mustJSON(t, putParams{Key: key.String(), Value: string(raw), TTL: 3600}),
	})
	if putResp.Error != nil {
		t.Fatalf("put error: %+v", putResp.Error)
	}

	getResp := roundTrip(t, conn, Request{
		ID:     2,
		Method: "get",
		Params: mustJSON(t, getParams{Key: key.String()}),
	})
	if getResp.Error != nil {
		t.Fatalf("get error: %+v", getResp.Error)
	}
	var gr getResult
	if err := json.Unmarshal(getResp.Response, &gr); err != nil {
		t.Fatalf("unmarshal get result: %v", err)
	}
	if gr.Value != string(raw) {
		t.Fatalf("value = %q, want %q", gr.Value, string(raw))
	}
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	_, conn := newTestBridge(t)
	resp := roundTrip(t, conn, Request{
		ID:     1,
		Method: "get",
		Params: mustJSON(t, getParams{Key: nodeid.Key{}.String()}),
	})
	if resp.Error == nil || resp.Error.Code != 404 {
		t.Fatalf("expected a 404 not_found error, got %+v", resp)
	}
}

func TestUnknownMethodIsInvalid(t *testing.T) {
	_, conn := newTestBridge(t)
	resp := roundTrip(t, conn, Request{ID: 1, Method: "nonexistent"})
	if resp.Error == nil || resp.Error.Code != 400 {
		t.Fatalf("expected a 400 invalid error, got %+v", resp)
	}
}

func TestStatusReportsHost(t *testing.T) {
	_, conn := newTestBridge(t)
	resp := roundTrip(t, conn, Request{ID: 1, Method: "status"})
	if resp.Error != nil {
		t.Fatalf("status error: %+v", resp.Error)
	}
	var sr statusResult
	if err := json.Unmarshal(resp.Response, &sr); err != nil {
		t.Fatalf("unmarshal status: %v", err)
	}
	if sr.Host == "" {
		t.Fatalf("expected a non-empty host in status response")
	}
}

func TestCartAddListRemoveOverBridge(t *testing.T) {
	_, conn := newTestBridge(t)

	addResp := roundTrip(t, conn, Request{
		ID:     1,
		Method: "cart_add",
		Params: mustJSON(t, cartAddParams{UserID: "alice", ListingKey: "listing-1", Quantity: 2}),
	})
	if addResp.Error != nil {
		t.Fatalf("cart_add error: %+v", addResp.Error)
	}

	listResp := roundTrip(t, conn, Request{
		ID:     2,
		Method: "cart_list",
		Params: mustJSON(t, cartListParams{UserID: "alice"}),
	})
	if listResp.Error != nil {
		t.Fatalf("cart_list error: %+v", listResp.Error)
	}
	var items struct {
		Items []mappings.CartItem `json:"items"`
	}
	if err := json.Unmarshal(listResp.Response, &items); err != nil {
		t.Fatalf("unmarshal cart_list: %v", err)
	}
	if len(items.Items) != 1 || items.Items[0].Quantity != 2 {
		t.Fatalf("unexpected cart contents: %+v", items.Items)
	}

	removeResp := roundTrip(t, conn, Request{
		ID:     3,
		Method: "cart_remove",
		Params: mustJSON(t, cartRemoveParams{UserID: "alice", ListingKey: "listing-1"}),
	})
	if removeResp.Error != nil {
		t.Fatalf("cart_remove error: %+v", removeResp.Error)
	}
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal params: %v", err)
	}
	return raw
}
