package rpc

import (
	"context"
	"encoding/json"
	"sync"
)

// ClientSubscription is the consumer-side handle for an open
// subscription (spec.md §4.G). Notifications are queued up to the
// depth configured on the owning Client (WithMaxNotifsPerSubscription);
// Next blocks for the next one, an overflow signal, a server-initiated
// or local close, or ctx cancellation.
type ClientSubscription struct {
	client      *Client
	id          ID
	notifName   string
	closeMethod string

	queue    chan json.RawMessage
	overflow OverflowPolicy

	mu         sync.Mutex
	overflowed bool
	err        error

	quit            chan struct{}
	closeOnce       sync.Once
	unsubscribeOnce sync.Once
}

func newClientSubscription(c *Client, notifName, closeMethod string) *ClientSubscription {
	return &ClientSubscription{
		client:      c,
		notifName:   notifName,
		closeMethod: closeMethod,
		queue:       make(chan json.RawMessage, c.cfg.maxNotifsPerSubscription),
		overflow:    c.cfg.overflow,
		quit:        make(chan struct{}),
	}
}

// ID returns the server-assigned subscription ID.
func (s *ClientSubscription) ID() ID { return s.id }

// Next blocks until a notification value is available, the queue
// overflowed under ErrorOnNextRecv (reported exactly once, as
// ErrSubscriptionQueueFull), the subscription closed, or ctx is done.
// A nil error with a nil result reports a clean close with nothing
// left to drain (spec.md §4.G: next() yields None on clean close).
func (s *ClientSubscription) Next(ctx context.Context) (json.RawMessage, error) {
	s.mu.Lock()
	if s.overflowed {
		s.overflowed = false
		s.mu.Unlock()
		return nil, ErrSubscriptionQueueFull
	}
	s.mu.Unlock()

	select {
	case v := <-s.queue:
		return v, nil
	default:
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case v := <-s.queue:
		return v, nil
	case <-s.quit:
		select {
		case v := <-s.queue:
			return v, nil
		default:
		}
		s.mu.Lock()
		err := s.err
		s.mu.Unlock()
		return nil, err
	}
}

// Unsubscribe tells the server to close the subscription (best-effort;
// the multiplexer may already be dead) and unblocks any goroutine in
// Next. Safe to call more than once and safe to call after the
// subscription has already ended on its own.
func (s *ClientSubscription) Unsubscribe(ctx context.Context) error {
	var rpcErr error
	s.unsubscribeOnce.Do(func() {
		s.client.mu.Lock()
		if s.id != nil {
			delete(s.client.subs, idKey(s.id))
		}
		s.client.mu.Unlock()
		if s.id != nil {
			_, rpcErr = s.client.Call(ctx, s.closeMethod, s.id)
		}
	})
	s.terminate(nil)
	return rpcErr
}

// deliver is called only from the owning Client's single read-loop
// goroutine, so it never races with itself.
func (s *ClientSubscription) deliver(raw json.RawMessage) {
	select {
	case s.queue <- raw:
		return
	default:
	}
	switch s.overflow {
	case DropOldest:
		select {
		case <-s.queue:
		default:
		}
		select {
		case s.queue <- raw:
		default:
		}
	case ErrorOnNextRecv:
		s.mu.Lock()
		s.overflowed = true
		s.mu.Unlock()
	}
}

// terminate ends the subscription locally, recording err (nil for a
// clean close) as the cause Next reports once the queue drains.
func (s *ClientSubscription) terminate(err error) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.quit)
	})
}
