// Copyright 2015 The go-ethereum Authors
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
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/blockrpc/rpcframe/internal/rpclog"
)

// ServerOption configures a Server at construction time.
type ServerOption func(*serverConfig)

type serverConfig struct {
	middlewares               []Middleware
	maxConnections            int64
	maxConcurrentRequests     int64
	maxOutboundQueue          int
	maxNotifsPerSubscription  int
	maxRequestBodySize        int64
	maxResponseBodySize       int64
	maxSubscriptionsPerConn   int
	subIDProvider             IDProvider
	proxyRoutes               []proxyRoute
	hostAllowList             *hostAllowList
	originAllowList           *hostAllowList
	pingInterval              time.Duration
	stopGracePeriod           time.Duration
}

func defaultServerConfig() *serverConfig {
	return &serverConfig{
		maxConnections:           10000,
		maxConcurrentRequests:    64,
		maxOutboundQueue:         256,
		maxNotifsPerSubscription: 256,
		maxRequestBodySize:       1024 * 128,
		maxResponseBodySize:      1024 * 1024 * 5,
		maxSubscriptionsPerConn:  0, // 0 means unbounded
		subIDProvider:            NewRandomIDProvider(16),
		hostAllowList:            newHostAllowList(nil),
		originAllowList:          newHostAllowList(nil),
		stopGracePeriod:          30 * time.Second,
	}
}

// WithMiddleware appends mws to the call chain applied to every
// dispatched call, in the order given (spec.md §4.D).
func WithMiddleware(mws ...Middleware) ServerOption {
	return func(c *serverConfig) { c.middlewares = append(c.middlewares, mws...) }
}

// WithMaxConnections bounds the number of concurrently open WebSocket
// sessions. Connections beyond the limit are rejected at upgrade time.
func WithMaxConnections(n int64) ServerOption {
	return func(c *serverConfig) { c.maxConnections = n }
}

// WithMaxConcurrentRequestsPerConn bounds the number of calls a single
// WebSocket session may have executing at once; further calls queue on
// the connection's read loop until a slot frees up (spec.md §4.F).
func WithMaxConcurrentRequestsPerConn(n int64) ServerOption {
	return func(c *serverConfig) { c.maxConcurrentRequests = n }
}

// WithMaxOutboundQueue sets the bounded outbound channel depth backing
// every session's writer (responses and notifications share it).
func WithMaxOutboundQueue(n int) ServerOption {
	return func(c *serverConfig) { c.maxOutboundQueue = n }
}

// WithServerMaxNotifsPerSubscription records a per-subscription
// notification limit in the server configuration. No code reads it:
// Sink.Send reports SendFull only when the session's shared outbound
// queue (WithMaxOutboundQueue) is full, and there is no separate bound
// per subscription.
func WithServerMaxNotifsPerSubscription(n int) ServerOption {
	return func(c *serverConfig) { c.maxNotifsPerSubscription = n }
}

// WithMaxRequestBodySize bounds the HTTP dispatcher's accepted request
// body size (spec.md §4.H). Unused on the WebSocket transport, which
// is framed by the underlying protocol instead.
func WithMaxRequestBodySize(n int64) ServerOption {
	return func(c *serverConfig) { c.maxRequestBodySize = n }
}

// WithSubscriptionIDProvider sets the IDProvider used to allocate
// subscription IDs. Default: a 16-character random string provider.
func WithSubscriptionIDProvider(p IDProvider) ServerOption {
	return func(c *serverConfig) { c.subIDProvider = p }
}

// WithHostAllowList sets the case-insensitive glob patterns (spec.md
// §6's host_allow_list) the WebSocket upgrade handler checks a new
// connection's Host header against, in addition to any HostFilter
// middleware applied to the HTTP transport. An empty list allows every
// host.
func WithHostAllowList(patterns ...string) ServerOption {
	return func(c *serverConfig) { c.hostAllowList = newHostAllowList(patterns) }
}

// WithOriginAllowList sets the case-insensitive glob patterns (spec.md
// §6's origin_allow_list) the WebSocket upgrade handler checks a new
// connection's Origin header against. An empty list allows every
// origin.
func WithOriginAllowList(patterns ...string) ServerOption {
	return func(c *serverConfig) { c.originAllowList = newHostAllowList(patterns) }
}

// WithServerPingInterval enables the same WS idle-liveness ping/pong
// check as the client's WithPingInterval (spec.md §6 ping_interval) on
// every accepted session. Disabled (0) by default.
func WithServerPingInterval(d time.Duration) ServerOption {
	return func(c *serverConfig) { c.pingInterval = d }
}

// WithMaxResponseBodySize sets ConnectionContext.MaxResponseSize,
// the negotiated response size cap (spec.md §3, §6
// max_response_body_size) handlers can consult before producing a
// large result.
func WithMaxResponseBodySize(n int64) ServerOption {
	return func(c *serverConfig) { c.maxResponseBodySize = n }
}

// WithMaxSubscriptionsPerConnection bounds how many Accepted sinks a
// single connection may own at once (spec.md §6
// max_subscriptions_per_connection). A subscribe call beyond the limit
// is rejected with a server-defined error before the handler runs.
// 0 (default) means unbounded.
func WithMaxSubscriptionsPerConnection(n int) ServerOption {
	return func(c *serverConfig) { c.maxSubscriptionsPerConn = n }
}

// WithStopGracePeriod bounds how long Stop waits for in-flight handler
// goroutines to finish on their own (spec.md §4.F: "drains outstanding
// handler tasks (bounded by a configured grace period)"; Testable
// Property 9: "no frames are emitted after now + G + ε; in-flight
// handlers are either completed or aborted"). Once the grace period
// elapses, every still-open session's handler context is cancelled and
// its outbound queue is closed, so Stop returns instead of blocking on
// a handler that never returns. d <= 0 disables the bound and makes
// Stop wait indefinitely, matching the pre-grace-period behavior.
// Default: 30s.
func WithStopGracePeriod(d time.Duration) ServerOption {
	return func(c *serverConfig) { c.stopGracePeriod = d }
}

// Server binds one RpcModule to a connection registry and dispatches
// calls arriving over either transport through the same middleware
// chain (spec.md §5). The zero value is not usable; construct with
// NewServer.
type Server struct {
	module *RpcModule
	cfg    *serverConfig
	log    rpclog.Logger

	connSem *semaphore.Weighted // ceiling on concurrently open WS sessions
	connSeq uint64              // atomic, next ConnectionContext.ID

	mu       sync.Mutex
	sessions map[*serverSession]struct{}
	run      int32
}

// NewServer binds module — which must not be mutated further — to a
// new Server.
func NewServer(module *RpcModule, opts ...ServerOption) *Server {
	cfg := defaultServerConfig()
	for _, o := range opts {
		o(cfg)
	}
	module.bind()
	s := &Server{
		module:   module,
		cfg:      cfg,
		log:      rpclog.New("component", "rpc-server"),
		connSem:  semaphore.NewWeighted(cfg.maxConnections),
		sessions: make(map[*serverSession]struct{}),
		run:      1,
	}
	return s
}

// Stop transitions every open session to Draining and blocks until
// each has finished in-flight calls and closed, or until cfg.stopGracePeriod
// elapses — whichever comes first (spec.md §4.F, §5).
func (s *Server) Stop() {
	if !atomic.CompareAndSwapInt32(&s.run, 1, 0) {
		return
	}
	s.log.Debug("rpc server shutting down")
	s.mu.Lock()
	sessions := make([]*serverSession, 0, len(s.sessions))
	for sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()
	for _, sess := range sessions {
		sess.drain()
	}

	done := make(chan struct{})
	go func() {
		for _, sess := range sessions {
			sess.waitClosed()
		}
		close(done)
	}()

	if s.cfg.stopGracePeriod <= 0 {
		<-done
		return
	}
	select {
	case <-done:
	case <-time.After(s.cfg.stopGracePeriod):
		s.log.Debug("stop grace period elapsed, aborting in-flight handlers", "grace", s.cfg.stopGracePeriod)
		for _, sess := range sessions {
			sess.abort()
		}
	}
}

func (s *Server) isRunning() bool { return atomic.LoadInt32(&s.run) == 1 }

func (s *Server) addSession(sess *serverSession) {
	s.mu.Lock()
	s.sessions[sess] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) removeSession(sess *serverSession) {
	s.mu.Lock()
	delete(s.sessions, sess)
	s.mu.Unlock()
}

// dispatchCall runs the method or async method named by cc.Method
// through the configured middleware chain, invoking its handler as
// the innermost step. It does not handle subscription open/close
// entries — those require the WebSocket session's Sink machinery and
// are dispatched directly by serverconn.go.
func (s *Server) dispatchCall(ctx context.Context, cc *CallContext) (interface{}, error) {
	e := s.module.resolve(cc.Method)
	if e == nil {
		return nil, &methodNotFoundError{cc.Method}
	}
	terminal := func(ctx context.Context) (interface{}, error) {
		switch e.kind {
		case kindMethod:
			return e.method(ctx, cc.ConnCtx, cc.Params)
		case kindAsyncMethod:
			res := <-e.async(ctx, cc.ConnCtx, cc.Params)
			return res.Result, res.Err
		default:
			return nil, ErrHTTPNotImplemented
		}
	}
	return chainMiddleware(s.cfg.middlewares, cc, terminal)(ctx)
}
