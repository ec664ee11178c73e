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
	"encoding/json"
	"fmt"
	"sync/atomic"
)

// SendStatus reports the outcome of a non-blocking Sink.Send.
type SendStatus int

const (
	SendOK SendStatus = iota
	SendFull
	SendClosed
)

func (s SendStatus) String() string {
	switch s {
	case SendOK:
		return "ok"
	case SendFull:
		return "full"
	case SendClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type sinkState int32

const (
	sinkPending sinkState = iota
	sinkAccepted
	sinkClosed
)

// PendingSink is the handle a subscription-open handler receives. It
// must transition to Accepted via Accept, or to Closed via Reject,
// exactly once. PendingSink and Sink are the same underlying value —
// once accepted, the handler keeps using it (now as a Sink) to emit
// notifications.
type PendingSink = Sink

// Sink is the server-side handle used to emit notifications for one
// accepted subscription (spec.md §4.G). A sink moves
// Pending -> Accepted -> Closed and only emits while Accepted.
type Sink struct {
	id        ID
	requestID ID
	notifName string
	connCtx   *ConnectionContext
	outbound  *outboundChannel

	state int32 // sinkState, accessed atomically
}

func newPendingSink(id, requestID ID, notifName string, connCtx *ConnectionContext, outbound *outboundChannel) *PendingSink {
	return &Sink{id: id, requestID: requestID, notifName: notifName, connCtx: connCtx, outbound: outbound, state: int32(sinkPending)}
}

// ID returns the subscription ID assigned by the server's ID provider.
func (s *Sink) ID() ID { return s.id }

// Accept transitions Pending -> Accepted and writes the success
// response carrying the subscription ID. It registers the sink with
// the owning connection so subsequent *_unsubscribe calls and
// connection teardown can find it.
func (s *Sink) Accept() error {
	if !atomic.CompareAndSwapInt32(&s.state, int32(sinkPending), int32(sinkAccepted)) {
		return fmt.Errorf("rpc: subscription sink is not pending")
	}
	if s.connCtx != nil {
		s.connCtx.addSink(s)
	}
	return s.outbound.sendResponse(newResultMessage(s.requestID, encodeID(s.id)))
}

// Reject transitions Pending -> Closed and writes err as the call's
// error response.
func (s *Sink) Reject(err error) error {
	if !atomic.CompareAndSwapInt32(&s.state, int32(sinkPending), int32(sinkClosed)) {
		return fmt.Errorf("rpc: subscription sink is not pending")
	}
	return s.outbound.sendResponse(newErrorMessage(s.requestID, err))
}

// Send serialises value as a subscription notification and enqueues
// it non-blocking. It is only valid once the sink is Accepted.
func (s *Sink) Send(value interface{}) SendStatus {
	if sinkState(atomic.LoadInt32(&s.state)) != sinkAccepted {
		return SendClosed
	}
	enc, err := json.Marshal(value)
	if err != nil {
		return SendClosed
	}
	msg := newSubscriptionNotification(s.notifName, s.id, enc)
	return s.outbound.trySendNotification(msg)
}

// PipeFromChan consumes values from src until it is closed or the sink
// closes, blocking (awaiting outbound capacity) on SendFull rather than
// dropping — the convenience described in spec.md §4.G's
// pipe_from_stream.
func (s *Sink) PipeFromChan(src <-chan interface{}) {
	for v := range src {
		if sinkState(atomic.LoadInt32(&s.state)) != sinkAccepted {
			return
		}
		enc, err := json.Marshal(v)
		if err != nil {
			continue
		}
		msg := newSubscriptionNotification(s.notifName, s.id, enc)
		if err := s.outbound.sendResponse(msg); err != nil {
			return
		}
	}
}

// Close transitions the sink to Closed and best-effort emits a final
// close notification carrying reason (if non-nil). Safe to call more
// than once; only the first call has effect.
func (s *Sink) Close(reason interface{}) {
	if !atomic.CompareAndSwapInt32(&s.state, int32(sinkAccepted), int32(sinkClosed)) {
		return
	}
	if s.connCtx != nil {
		s.connCtx.removeSink(s.id)
	}
	if reason != nil {
		if enc, err := json.Marshal(reason); err == nil {
			s.outbound.trySendNotification(newSubscriptionNotification(s.notifName, s.id, enc))
		}
	}
}

// close is called by connection teardown; it skips the outbound close
// frame since the connection (and its writer) is already gone.
func (s *Sink) close(reason interface{}) {
	atomic.StoreInt32(&s.state, int32(sinkClosed))
}

func (s *Sink) isAccepted() bool {
	return sinkState(atomic.LoadInt32(&s.state)) == sinkAccepted
}
