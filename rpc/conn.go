package rpc

import (
	"sync"
)

// ConnectionContext is per-connection state visible to handlers on the
// WebSocket server: a dense connection ID, the peer address, the
// negotiated response size cap, and the set of subscription sinks the
// connection currently owns (spec.md §3). It is nil for calls arriving
// over the stateless HTTP dispatcher.
type ConnectionContext struct {
	ID              uint64
	RemoteAddr      string
	MaxResponseSize int

	mu    sync.Mutex
	sinks map[ID]*PendingSink
}

func newConnectionContext(id uint64, remoteAddr string, maxResponseSize int) *ConnectionContext {
	return &ConnectionContext{ID: id, RemoteAddr: remoteAddr, MaxResponseSize: maxResponseSize, sinks: make(map[ID]*PendingSink)}
}

func (cc *ConnectionContext) addSink(s *PendingSink) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.sinks[s.id] = s
}

func (cc *ConnectionContext) removeSink(id ID) (*PendingSink, bool) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	s, ok := cc.sinks[id]
	if ok {
		delete(cc.sinks, id)
	}
	return s, ok
}

func (cc *ConnectionContext) lookupSink(id ID) (*PendingSink, bool) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	s, ok := cc.sinks[id]
	return s, ok
}

// sinkCount returns the number of sinks currently owned by the
// connection (Pending-registered-as-Accepted entries only; a sink is
// added to this set by addSink, called from Sink.Accept).
func (cc *ConnectionContext) sinkCount() int {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return len(cc.sinks)
}

// closeAllSinks is called when the connection transitions to Closed;
// every owned sink transitions to Closed as well (spec.md §3 invariant).
func (cc *ConnectionContext) closeAllSinks() {
	cc.mu.Lock()
	sinks := make([]*PendingSink, 0, len(cc.sinks))
	for _, s := range cc.sinks {
		sinks = append(sinks, s)
	}
	cc.sinks = make(map[ID]*PendingSink)
	cc.mu.Unlock()

	for _, s := range sinks {
		s.close(nil)
	}
}
