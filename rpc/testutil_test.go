package rpc

import (
	"io"
	"sync"
)

// chanTransport is an in-memory frameTransport used to connect a
// Client directly to a server session without a real socket, the way
// the teacher's DialInProc connected a Client to a Server in-process
// (pricillapb-contract/rpc/client_test.go's newTestClient).
type chanTransport struct {
	out chan []byte
	in  chan []byte

	mu     sync.Mutex
	closed bool
}

// newChanTransportPair returns two ends of the same duplex pipe.
func newChanTransportPair() (*chanTransport, *chanTransport) {
	a := make(chan []byte, 64)
	b := make(chan []byte, 64)
	return &chanTransport{out: a, in: b}, &chanTransport{out: b, in: a}
}

func (c *chanTransport) WriteFrame(data []byte) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClientQuit
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	c.out <- cp
	return nil
}

func (c *chanTransport) ReadFrame() ([]byte, error) {
	data, ok := <-c.in
	if !ok {
		return nil, io.EOF
	}
	return data, nil
}

func (c *chanTransport) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	close(c.out)
	return nil
}
