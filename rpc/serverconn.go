package rpc

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// outboundChannel is the bounded per-connection queue a serverSession
// writes frames through. Responses use sendResponse, which blocks for
// room so a slow reader cannot lose a reply; notifications use
// trySendNotification, which never blocks and reports SendFull instead
// (spec.md §4.F backpressure).
type outboundChannel struct {
	ch     chan *message
	closed chan struct{}
	once   sync.Once
}

func newOutboundChannel(capacity int) *outboundChannel {
	return &outboundChannel{ch: make(chan *message, capacity), closed: make(chan struct{})}
}

func (o *outboundChannel) sendResponse(m *message) error {
	select {
	case o.ch <- m:
		return nil
	case <-o.closed:
		return ErrClientQuit
	}
}

func (o *outboundChannel) trySendNotification(m *message) SendStatus {
	select {
	case o.ch <- m:
		return SendOK
	default:
	}
	select {
	case <-o.closed:
		return SendClosed
	default:
		return SendFull
	}
}

func (o *outboundChannel) close() {
	o.once.Do(func() { close(o.closed) })
}

type sessionState int32

const (
	stateHandshaking sessionState = iota
	stateRunning
	stateDraining
	stateClosed
)

// serverSession is one WebSocket connection's state machine:
// Handshaking -> Running -> Draining -> Closed (spec.md §3, §4.F). Its
// reader goroutine decodes frames and spawns a bounded number of call
// goroutines (via callSem); its single writer goroutine serialises
// outbound.ch onto the wire. ctx/cancel scope every handler invoked on
// the session; Server.Stop's grace-period timeout cancels it to abort
// handlers that are still running once the timeout elapses (spec.md
// §4.F, Testable Property 9).
type serverSession struct {
	server  *Server
	conn    frameTransport
	connCtx *ConnectionContext

	outbound *outboundChannel
	callSem  *semaphore.Weighted

	ctx    context.Context
	cancel context.CancelFunc

	state   int32
	wg      sync.WaitGroup // call goroutines
	writeWG sync.WaitGroup // writer goroutine
	closed  chan struct{}
}

func (s *Server) newSession(conn frameTransport, remoteAddr string) *serverSession {
	id := atomic.AddUint64(&s.connSeq, 1)
	ctx, cancel := context.WithCancel(context.Background())
	return &serverSession{
		server:   s,
		conn:     conn,
		connCtx:  newConnectionContext(id, remoteAddr, int(s.cfg.maxResponseBodySize)),
		outbound: newOutboundChannel(s.cfg.maxOutboundQueue),
		callSem:  semaphore.NewWeighted(s.cfg.maxConcurrentRequests),
		ctx:      ctx,
		cancel:   cancel,
		state:    int32(stateHandshaking),
		closed:   make(chan struct{}),
	}
}

// serveConnection blocks, running conn through its whole session
// lifecycle, until the connection is closed locally or by the peer.
func (s *Server) serveConnection(conn frameTransport, remoteAddr string) {
	if !s.connSem.TryAcquire(1) {
		conn.Close()
		return
	}
	defer s.connSem.Release(1)

	sess := s.newSession(conn, remoteAddr)
	s.addSession(sess)
	defer s.removeSession(sess)

	if p, ok := conn.(pinger); ok && s.cfg.pingInterval > 0 {
		p.pingInterval(s.cfg.pingInterval)
	}

	atomic.StoreInt32(&sess.state, int32(stateRunning))

	sess.writeWG.Add(1)
	go sess.writeLoop()

	sess.readLoop()

	sess.wg.Wait() // let in-flight call goroutines finish and reply, or abort() cancel them
	sess.cancel()
	sess.connCtx.closeAllSinks()
	atomic.StoreInt32(&sess.state, int32(stateClosed))
	sess.outbound.close()
	sess.writeWG.Wait()
	conn.Close()
	close(sess.closed)
}

// drain moves the session to Draining: the reader stops accepting new
// work by having its connection closed, which unwinds readLoop and the
// rest of serveConnection's teardown sequence.
func (s *serverSession) drain() {
	atomic.CompareAndSwapInt32(&s.state, int32(stateRunning), int32(stateDraining))
	s.conn.Close()
}

// abort is called once a configured stop grace period elapses with the
// session still not Closed (spec.md §4.F, Testable Property 9: "no
// frames are emitted after now + G + ε; in-flight handlers are either
// completed or aborted"). It cancels every handler's context — well-
// behaved handlers watching ctx.Done() return immediately — and closes
// the outbound queue, whether or not the handler goroutines have
// actually returned: nothing more can be queued, and writeLoop flushes
// the frames already queued and then stops. Batch responses, which
// dispatchBatch writes to the connection directly, bypass the queue.
func (s *serverSession) abort() {
	s.cancel()
	s.outbound.close()
}

func (s *serverSession) waitClosed() { <-s.closed }

func (s *serverSession) writeLoop() {
	defer s.writeWG.Done()
	for {
		select {
		case m := <-s.outbound.ch:
			if !s.writeFrame(m) {
				return
			}
		case <-s.outbound.closed:
			// Flush whatever was already queued before close, then stop;
			// nothing will be added to the channel past this point.
			for {
				select {
				case m := <-s.outbound.ch:
					if !s.writeFrame(m) {
						return
					}
				default:
					return
				}
			}
		}
	}
}

// writeFrame marshals and writes m, reporting false if the connection
// should be torn down (a write failure means the peer is gone).
func (s *serverSession) writeFrame(m *message) bool {
	frame, err := marshalSingle(m)
	if err != nil {
		return true
	}
	return s.conn.WriteFrame(frame) == nil
}

func (s *serverSession) readLoop() {
	for {
		frame, err := s.conn.ReadFrame()
		if err != nil {
			return
		}
		single, batch, isBatch := decodeEnvelope(frame)
		if isBatch {
			s.dispatchBatch(batch)
		} else {
			if single.Error != nil && single.Method == "" {
				// decodeEnvelope's own parse/invalid-request signal.
				s.outbound.sendResponse(single)
				continue
			}
			s.dispatchOne(single)
		}
	}
}

func (s *serverSession) dispatchBatch(msgs []*message) {
	var wg sync.WaitGroup
	results := make([]*message, len(msgs))
	for i, m := range msgs {
		i, m := i, m
		wg.Add(1)
		go func() {
			defer wg.Done()
			if m.Method == "" && m.Error != nil {
				results[i] = m
				return
			}
			if m.isNotification() {
				s.handleNotification(m)
				return
			}
			results[i] = s.handleCallSync(m)
		}()
	}
	wg.Wait()
	out := results[:0]
	for _, r := range results {
		if r != nil {
			out = append(out, r)
		}
	}
	if len(out) > 0 {
		frame, err := marshalBatch(out)
		if err == nil {
			s.conn.WriteFrame(frame)
		}
	}
}

func (s *serverSession) dispatchOne(m *message) {
	if m.isNotification() {
		s.handleNotification(m)
		return
	}
	if !m.isCall() {
		s.outbound.sendResponse(newErrorMessage(m.requestID(), &invalidRequestError{"not a call"}))
		return
	}
	s.wg.Add(1)
	if !s.callSem.TryAcquire(1) {
		// Backpressure: block the read loop itself rather than
		// unbounded goroutine growth once the per-connection ceiling
		// is hit.
		if err := s.callSem.Acquire(s.ctx, 1); err != nil {
			s.wg.Done()
			return
		}
	}
	go func() {
		defer s.wg.Done()
		defer s.callSem.Release(1)
		s.handleCall(m)
	}()
}

func (s *serverSession) handleCallSync(m *message) *message {
	if err := s.callSem.Acquire(s.ctx, 1); err != nil {
		return newErrorMessage(m.requestID(), ErrClientQuit)
	}
	defer s.callSem.Release(1)
	return s.resolveAndRun(m)
}

func (s *serverSession) handleCall(m *message) {
	resp := s.resolveAndRun(m)
	if resp != nil {
		s.outbound.sendResponse(resp)
	}
}

// resolveAndRun executes m against the bound module and returns the
// response to write, or nil when m opened a subscription (that call
// replies via the Sink itself).
func (s *serverSession) resolveAndRun(m *message) *message {
	e := s.server.module.resolve(m.Method)
	if e == nil {
		return newErrorMessage(m.requestID(), &methodNotFoundError{m.Method})
	}
	switch e.kind {
	case kindSubscriptionOpen:
		s.handleSubscribe(m, e)
		return nil
	case kindSubscriptionClose:
		return s.handleUnsubscribe(m, e)
	default:
		cc := &CallContext{ConnCtx: s.connCtx, Method: m.Method, Params: m.Params, RemoteAddr: s.connCtx.RemoteAddr}
		result, err := s.server.dispatchCall(s.ctx, cc)
		if err != nil {
			return newErrorMessage(m.requestID(), err)
		}
		enc, err := json.Marshal(result)
		if err != nil {
			return newErrorMessage(m.requestID(), err)
		}
		return newResultMessage(m.requestID(), enc)
	}
}

func (s *serverSession) handleNotification(m *message) {
	e := s.server.module.resolve(m.Method)
	if e == nil || (e.kind != kindMethod && e.kind != kindAsyncMethod) {
		return
	}
	cc := &CallContext{ConnCtx: s.connCtx, Method: m.Method, Params: m.Params, RemoteAddr: s.connCtx.RemoteAddr}
	s.server.dispatchCall(s.ctx, cc)
}

func (s *serverSession) handleSubscribe(m *message, e *entry) {
	if limit := s.server.cfg.maxSubscriptionsPerConn; limit > 0 && s.connCtx.sinkCount() >= limit {
		s.outbound.sendResponse(newErrorMessage(m.requestID(), &tooManySubscriptionsError{limit}))
		return
	}
	subID := s.server.cfg.subIDProvider.Next()
	sink := newPendingSink(subID, m.requestID(), e.notifName, s.connCtx, s.outbound)
	cc := &CallContext{ConnCtx: s.connCtx, Method: m.Method, Params: m.Params, RemoteAddr: s.connCtx.RemoteAddr}
	terminal := func(ctx context.Context) (interface{}, error) {
		return nil, e.subscribe(ctx, s.connCtx, m.Params, sink)
	}
	_, err := chainMiddleware(s.server.cfg.middlewares, cc, terminal)(s.ctx)
	if err != nil && !sink.isAccepted() {
		sink.Reject(err)
	}
}

func (s *serverSession) handleUnsubscribe(m *message, e *entry) *message {
	var params []json.RawMessage
	if err := json.Unmarshal(m.Params, &params); err != nil || len(params) == 0 {
		return newErrorMessage(m.requestID(), &invalidParamsError{"expected [subscriptionId]"})
	}
	subID, err := decodeID(params[0])
	if err != nil || subID == nil {
		return newErrorMessage(m.requestID(), ErrInvalidSubscriptionID)
	}
	sink, ok := s.connCtx.lookupSink(subID)
	if !ok || sink.notifName != e.notifName {
		return newErrorMessage(m.requestID(), &subscriptionNotFoundError{subID.String()})
	}
	if _, ok := s.connCtx.removeSink(subID); !ok {
		return newErrorMessage(m.requestID(), &subscriptionNotFoundError{subID.String()})
	}
	sink.Close(nil)
	enc, _ := json.Marshal(true)
	return newResultMessage(m.requestID(), enc)
}
