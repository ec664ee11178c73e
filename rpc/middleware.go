package rpc

import (
	"context"
	"encoding/json"
	"net/http"
)

// CallContext carries the fields a Middleware can inspect before a
// call reaches its handler (spec.md §4.D). Header is only populated on
// the HTTP dispatcher; ConnCtx is only populated on a WebSocket
// session.
type CallContext struct {
	ConnCtx    *ConnectionContext
	Method     string
	Params     json.RawMessage
	RemoteAddr string
	Header     http.Header
}

// Middleware wraps one call's dispatch. It must call next exactly once
// to continue the chain, or return its own result/error to short
// circuit it (spec.md §4.D).
type Middleware func(ctx context.Context, cc *CallContext, next func(context.Context) (interface{}, error)) (interface{}, error)

// chainMiddleware composes mws around terminal, with mws[0] as the
// outermost layer — the same ordering convention as net/http handler
// chains.
func chainMiddleware(mws []Middleware, cc *CallContext, terminal func(context.Context) (interface{}, error)) func(context.Context) (interface{}, error) {
	next := terminal
	for i := len(mws) - 1; i >= 0; i-- {
		mw, n := mws[i], next
		next = func(ctx context.Context) (interface{}, error) { return mw(ctx, cc, n) }
	}
	return next
}
