package rpc

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/blockrpc/rpcframe/internal/rpclog"
)

// maxLoggedParamBytes bounds how much of a call's params this
// middleware will echo into a log line.
const maxLoggedParamBytes = 256

// Logger returns a Middleware that logs each call's method, elapsed
// time, and outcome at Debug level, and truncates params to
// maxLoggedParamBytes on a UTF-8 boundary so a log line never splits a
// multi-byte rune.
func Logger() Middleware {
	log := rpclog.New("component", "rpc-call")
	return func(ctx context.Context, cc *CallContext, next func(context.Context) (interface{}, error)) (interface{}, error) {
		start := time.Now()
		result, err := next(ctx)
		elapsed := time.Since(start)
		if err != nil {
			log.Debug("call failed", "method", cc.Method, "params", truncateUTF8(string(cc.Params), maxLoggedParamBytes), "duration", elapsed, "err", err)
		} else {
			log.Debug("call ok", "method", cc.Method, "duration", elapsed)
		}
		return result, err
	}
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
