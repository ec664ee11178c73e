package rpc

import (
	"sync/atomic"

	"github.com/google/uuid"
)

// jsSafeMask keeps monotonic numeric IDs representable exactly as an
// IEEE-754 double, per spec.md §4.B ("JS-safe mask").
const jsSafeMask = (uint64(1) << 53) - 1

// IDProvider allocates request/subscription IDs for an outbound client.
// Implementations must be safe for concurrent use.
type IDProvider interface {
	Next() ID
}

// monotonicIDProvider hands out a wrapping 64-bit counter, masked to
// stay within the JS-safe integer range.
type monotonicIDProvider struct {
	counter uint64
}

// NewMonotonicIDProvider returns an IDProvider backed by an atomic
// counter. IDs are NumberID values.
func NewMonotonicIDProvider() IDProvider {
	return &monotonicIDProvider{}
}

func (p *monotonicIDProvider) Next() ID {
	n := atomic.AddUint64(&p.counter, 1)
	return NumberID(n & jsSafeMask)
}

// randomIDProvider hands out fixed-length alphanumeric string IDs.
type randomIDProvider struct {
	length int
}

const idAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// NewRandomIDProvider returns an IDProvider that generates fixed-length
// alphanumeric string IDs. length defaults to 16 when <= 0. Entropy
// comes from uuid.New()'s random (v4) bytes, drawn until the output is
// filled, then mapped onto idAlphabet.
func NewRandomIDProvider(length int) IDProvider {
	if length <= 0 {
		length = 16
	}
	return &randomIDProvider{length: length}
}

func (p *randomIDProvider) Next() ID {
	out := make([]byte, p.length)
	for filled := 0; filled < p.length; {
		u := uuid.New()
		filled += copy(out[filled:], u[:])
	}
	for i, b := range out {
		out[i] = idAlphabet[int(b)%len(idAlphabet)]
	}
	return StringID(out)
}

// noopIDProvider is used by servers that never initiate client-style
// requests of their own; it always returns the zero ID rather than
// originating one.
type noopIDProvider struct{}

// NewNoopIDProvider returns an IDProvider for servers that don't
// support subscriptions: every call returns NumberID(0).
func NewNoopIDProvider() IDProvider { return noopIDProvider{} }

func (noopIDProvider) Next() ID { return NumberID(0) }
