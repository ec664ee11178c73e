// Copyright 2016 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

package rpc

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/blockrpc/rpcframe/internal/rpclog"
)

// frameTransport is the minimal duplex frame channel a Client
// multiplexes over. wsConn (wsconn.go) is the production
// implementation; tests use an in-memory pipe implementing the same
// interface.
type frameTransport interface {
	WriteFrame(data []byte) error
	ReadFrame() ([]byte, error)
	Close() error
}

// OverflowPolicy controls what happens when a subscription's bounded
// notification queue is full (spec.md §4.E, §9).
type OverflowPolicy int

const (
	// DropOldest evicts the oldest queued notification to make room
	// for the newest one. This is the default.
	DropOldest OverflowPolicy = iota
	// ErrorOnNextRecv keeps the queue as-is and fails the consumer's
	// next read with ErrSubscriptionQueueFull instead of losing data
	// silently.
	ErrorOnNextRecv
)

// ClientOption configures a Client at construction time.
type ClientOption func(*clientConfig)

type clientConfig struct {
	idProvider               IDProvider
	requestTimeout           time.Duration
	maxConcurrentRequests    int
	maxNotifsPerSubscription int
	overflow                 OverflowPolicy
	pingInterval             time.Duration
}

func defaultClientConfig() *clientConfig {
	return &clientConfig{
		idProvider:               NewMonotonicIDProvider(),
		requestTimeout:           60 * time.Second,
		maxConcurrentRequests:    1000,
		maxNotifsPerSubscription: 256,
		overflow:                 DropOldest,
	}
}

// WithPingInterval enables a WebSocket idle-liveness check (spec.md §6
// ping_interval): every interval the connection writes a ping control
// frame, and the read deadline is pushed out on each pong so a dead
// peer surfaces as a transport error instead of a silent hang. Only
// has an effect when the underlying frameTransport supports it (the
// production wsConn does; in-memory test transports don't). Disabled
// (0) by default.
func WithPingInterval(d time.Duration) ClientOption {
	return func(c *clientConfig) { c.pingInterval = d }
}

// pinger is implemented by frameTransports that can run a periodic
// WS ping/pong liveness check, e.g. wsConn.
type pinger interface {
	pingInterval(time.Duration)
}

// WithIDProvider sets the ID provider used to allocate request and
// subscription IDs. Default: NewMonotonicIDProvider().
func WithIDProvider(p IDProvider) ClientOption {
	return func(c *clientConfig) { c.idProvider = p }
}

// WithRequestTimeout sets the per-request deadline. Default 60s.
func WithRequestTimeout(d time.Duration) ClientOption {
	return func(c *clientConfig) { c.requestTimeout = d }
}

// WithMaxConcurrentRequests bounds the pending-request table size.
func WithMaxConcurrentRequests(n int) ClientOption {
	return func(c *clientConfig) { c.maxConcurrentRequests = n }
}

// WithMaxNotifsPerSubscription sets the bounded notification queue
// depth for every subscription opened by this client.
func WithMaxNotifsPerSubscription(n int) ClientOption {
	return func(c *clientConfig) { c.maxNotifsPerSubscription = n }
}

// WithOverflowPolicy sets the policy applied when a subscription's
// notification queue is full.
func WithOverflowPolicy(p OverflowPolicy) ClientOption {
	return func(c *clientConfig) { c.overflow = p }
}

// pendingEntry is the client's one-shot slot for an in-flight call or
// batch (spec.md §3's pending request table).
type pendingEntry struct {
	ids       []ID
	resp      chan *message // buffered to len(ids); closed by terminate
	sub       *ClientSubscription
	remaining int32 // responses still owed, decremented atomically
}

// Client is the WebSocket multiplexer: it owns a single duplex frame
// channel to one server and correlates in-flight requests and
// subscriptions across concurrent callers (spec.md §4.E).
type Client struct {
	cfg  *clientConfig
	conn frameTransport
	log  rpclog.Logger

	mu       sync.Mutex
	pending  map[string]*pendingEntry
	subs     map[string]*ClientSubscription
	closed   bool
	closeErr error
	doneCh   chan struct{}
}

// NewClient wraps an already-established frameTransport in a Client
// multiplexer and starts its background read loop.
func NewClient(conn frameTransport, opts ...ClientOption) *Client {
	cfg := defaultClientConfig()
	for _, o := range opts {
		o(cfg)
	}
	c := &Client{
		cfg:     cfg,
		conn:    conn,
		log:     rpclog.New("component", "rpc-client"),
		pending: make(map[string]*pendingEntry),
		subs:    make(map[string]*ClientSubscription),
		doneCh:  make(chan struct{}),
	}
	if p, ok := conn.(pinger); ok {
		p.pingInterval(cfg.pingInterval)
	}
	go c.readLoop()
	return c
}

// Close terminates the client, aborting any in-flight requests with a
// RestartNeededError wrapping the transport's read error and unblocking
// every subscription consumer. Calls made after Close fail with
// ErrClientQuit.
func (c *Client) Close() {
	c.conn.Close()
	<-c.doneCh
}

// Call issues method(params) and blocks for the matching response, a
// request timeout, or multiplexer termination (spec.md §4.E).
func (c *Client) Call(ctx context.Context, method string, params ...interface{}) (json.RawMessage, error) {
	rawParams, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	id, op, err := c.registerPending(1)
	if err != nil {
		return nil, err
	}
	msg := newCallMessage(id, method, rawParams)
	frame, err := marshalSingle(msg)
	if err != nil {
		c.removePending(op)
		return nil, err
	}
	if err := c.conn.WriteFrame(frame); err != nil {
		c.removePending(op)
		return nil, err
	}
	return c.awaitOne(ctx, op)
}

// Notify sends method(params) without allocating an ID and without
// waiting for a reply (spec.md §3: "notification — no reply expected").
func (c *Client) Notify(method string, params ...interface{}) error {
	rawParams, err := json.Marshal(params)
	if err != nil {
		return err
	}
	frame, err := marshalSingle(newNotificationMessage(method, rawParams))
	if err != nil {
		return err
	}
	return c.conn.WriteFrame(frame)
}

// BatchCall is one request in a Client.Batch call.
type BatchCall struct {
	Method string
	Params []interface{}
}

// BatchResult is the outcome of one BatchCall, correlated by position
// with the input slice (the wire correlates by ID; arbitrary response
// order is reassembled transparently, per spec.md §5).
type BatchResult struct {
	Result json.RawMessage
	Err    error
}

// Batch submits calls as a single frame and waits for a response to
// every element. A zero-length batch fails synchronously with
// ErrEmptyBatch (spec.md §4.E).
func (c *Client) Batch(ctx context.Context, calls []BatchCall) ([]BatchResult, error) {
	if len(calls) == 0 {
		return nil, ErrEmptyBatch
	}
	ids := make([]ID, len(calls))
	msgs := make([]*message, len(calls))
	_, op, err := c.registerPending(len(calls))
	if err != nil {
		return nil, err
	}
	for i, call := range calls {
		rawParams, err := json.Marshal(call.Params)
		if err != nil {
			c.removePending(op)
			return nil, err
		}
		id := c.cfg.idProvider.Next()
		ids[i] = id
		msgs[i] = newCallMessage(id, call.Method, rawParams)
	}
	c.mu.Lock()
	// Replace the single-id registration from registerPending with the
	// full batch id set, atomically with respect to the read loop.
	delete(c.pending, idKey(op.ids[0]))
	op.ids = ids
	for _, id := range ids {
		c.pending[idKey(id)] = op
	}
	c.mu.Unlock()

	frame, err := marshalBatch(msgs)
	if err != nil {
		c.removePending(op)
		return nil, err
	}
	if err := c.conn.WriteFrame(frame); err != nil {
		c.removePending(op)
		return nil, err
	}
	return c.awaitBatch(ctx, op, ids)
}

// Subscribe opens a subscription: it calls openMethod(params) and, on a
// successful reply carrying a subscription ID, registers notifName as
// the stream's source and hands back a ClientSubscription. closeMethod
// is invoked by the subscription's Unsubscribe. If the server's reply
// is a success that does not decode as a subscription ID, Subscribe
// fails with ErrInvalidSubscriptionID (spec.md §4.E).
func (c *Client) Subscribe(ctx context.Context, openMethod, notifName, closeMethod string, params ...interface{}) (*ClientSubscription, error) {
	rawParams, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	id, op, err := c.registerPending(1)
	if err != nil {
		return nil, err
	}
	sub := newClientSubscription(c, notifName, closeMethod)
	c.mu.Lock()
	op.sub = sub
	c.mu.Unlock()

	msg := newCallMessage(id, openMethod, rawParams)
	frame, err := marshalSingle(msg)
	if err != nil {
		c.removePending(op)
		return nil, err
	}
	if err := c.conn.WriteFrame(frame); err != nil {
		c.removePending(op)
		return nil, err
	}
	if _, err := c.awaitOne(ctx, op); err != nil {
		return nil, err
	}
	if sub.id == nil {
		return nil, ErrInvalidSubscriptionID
	}
	return sub, nil
}

func (c *Client) registerPending(n int) (ID, *pendingEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, nil, ErrClientQuit
	}
	if len(c.pending) >= c.cfg.maxConcurrentRequests {
		return nil, nil, ErrMaxSlotsExceeded
	}
	id := c.cfg.idProvider.Next()
	op := &pendingEntry{ids: []ID{id}, resp: make(chan *message, n), remaining: int32(n)}
	c.pending[idKey(id)] = op
	return id, op, nil
}

func (c *Client) removePending(op *pendingEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range op.ids {
		delete(c.pending, idKey(id))
	}
}

func (c *Client) awaitOne(ctx context.Context, op *pendingEntry) (json.RawMessage, error) {
	timer := time.NewTimer(c.cfg.requestTimeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		c.removePending(op)
		return nil, ctx.Err()
	case <-timer.C:
		c.removePending(op)
		return nil, ErrRequestTimeout
	case resp, ok := <-op.resp:
		if !ok {
			return nil, &RestartNeededError{Cause: c.terminationCause()}
		}
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	}
}

func (c *Client) awaitBatch(ctx context.Context, op *pendingEntry, ids []ID) ([]BatchResult, error) {
	timer := time.NewTimer(c.cfg.requestTimeout)
	defer timer.Stop()

	byID := make(map[string]*message, len(ids))
	for len(byID) < len(ids) {
		select {
		case <-ctx.Done():
			c.removePending(op)
			return nil, ctx.Err()
		case <-timer.C:
			c.removePending(op)
			return nil, ErrRequestTimeout
		case resp, ok := <-op.resp:
			if !ok {
				return nil, &RestartNeededError{Cause: c.terminationCause()}
			}
			byID[idKey(resp.requestID())] = resp
		}
	}
	out := make([]BatchResult, len(ids))
	for i, id := range ids {
		resp := byID[idKey(id)]
		if resp.Error != nil {
			out[i] = BatchResult{Err: resp.Error}
		} else {
			out[i] = BatchResult{Result: resp.Result}
		}
	}
	return out, nil
}

func (c *Client) terminationCause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeErr
}

// readLoop is the background read task: it decodes inbound frames and
// either resolves a pending caller or routes a notification to its
// subscription (spec.md §4.E).
func (c *Client) readLoop() {
	defer close(c.doneCh)
	var terminationErr error
	for {
		frame, err := c.conn.ReadFrame()
		if err != nil {
			terminationErr = err
			break
		}
		single, batch, isBatch := decodeEnvelope(frame)
		if isBatch {
			for _, m := range batch {
				c.handleInbound(m)
			}
		} else {
			c.handleInbound(single)
		}
	}
	c.terminate(terminationErr)
}

func (c *Client) handleInbound(m *message) {
	if m.isNotification() {
		c.handleNotification(m)
		return
	}
	if m.isResponse() {
		c.handleResponse(m)
		return
	}
	c.log.Debug("dropping malformed inbound message", "msg", m.String())
}

func (c *Client) handleResponse(m *message) {
	c.mu.Lock()
	op, ok := c.pending[idKey(m.requestID())]
	c.mu.Unlock()
	if !ok {
		c.log.Trace("dropping response with unknown id", "id", m.requestID())
		return
	}

	// A subscribe call's success reply carries the subscription ID in
	// place of an ordinary result. Registering it here, on the single
	// read-loop goroutine, guarantees it is visible before any later
	// frame (including the subscription's first notification) is read.
	// A result that is not a valid ID leaves op.sub.id nil, which
	// Subscribe reports as ErrInvalidSubscriptionID.
	if op.sub != nil && m.Error == nil {
		subID, err := decodeID(m.Result)
		if err == nil && subID != nil {
			op.sub.id = subID
			c.mu.Lock()
			if !c.closed {
				c.subs[idKey(subID)] = op.sub
			}
			c.mu.Unlock()
		}
	}

	if atomic.AddInt32(&op.remaining, -1) == 0 {
		c.removePending(op)
	}
	op.resp <- m
}

func (c *Client) handleNotification(m *message) {
	var p subscriptionParams
	if err := json.Unmarshal(m.Params, &p); err != nil {
		c.log.Trace("dropping malformed subscription notification", "err", err)
		return
	}
	subID, err := decodeID(p.Subscription)
	if err != nil || subID == nil {
		return
	}
	c.mu.Lock()
	sub, ok := c.subs[idKey(subID)]
	c.mu.Unlock()
	if !ok {
		return
	}
	sub.deliver(p.Result)
}

// terminate marks the multiplexer dead: pending entries are drained
// with RestartNeeded and subscription channels are closed.
func (c *Client) terminate(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.closeErr = err
	pending := c.pending
	c.pending = make(map[string]*pendingEntry)
	subs := c.subs
	c.subs = make(map[string]*ClientSubscription)
	c.mu.Unlock()

	done := make(map[*pendingEntry]bool)
	for _, op := range pending {
		if !done[op] {
			close(op.resp)
			done[op] = true
		}
	}
	for _, sub := range subs {
		sub.terminate(err)
	}
}
