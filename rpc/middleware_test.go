package rpc

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChainMiddlewareRunsOutermostFirst(t *testing.T) {
	var order []string
	record := func(name string) Middleware {
		return func(ctx context.Context, cc *CallContext, next func(context.Context) (interface{}, error)) (interface{}, error) {
			order = append(order, name+":before")
			res, err := next(ctx)
			order = append(order, name+":after")
			return res, err
		}
	}
	terminal := func(ctx context.Context) (interface{}, error) { return "done", nil }

	result, err := chainMiddleware([]Middleware{record("a"), record("b")}, &CallContext{}, terminal)(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "done", result)
	assert.Equal(t, []string{"a:before", "b:before", "b:after", "a:after"}, order)
}

func TestChainMiddlewareShortCircuits(t *testing.T) {
	reject := func(ctx context.Context, cc *CallContext, next func(context.Context) (interface{}, error)) (interface{}, error) {
		return nil, assert.AnError
	}
	called := false
	terminal := func(ctx context.Context) (interface{}, error) { called = true; return nil, nil }

	_, err := chainMiddleware([]Middleware{reject}, &CallContext{}, terminal)(context.Background())
	assert.Error(t, err)
	assert.False(t, called)
}

func TestHostFilterRejectsUnknownHost(t *testing.T) {
	mw := HostFilter([]string{"example.com"})
	terminal := func(ctx context.Context) (interface{}, error) { return "ok", nil }

	header := http.Header{}
	header.Set("Host", "evil.com:8545")
	_, err := mw(context.Background(), &CallContext{Header: header}, terminal)
	assert.Error(t, err)
}

func TestHostFilterAllowsConfiguredHost(t *testing.T) {
	mw := HostFilter([]string{"example.com"})
	terminal := func(ctx context.Context) (interface{}, error) { return "ok", nil }

	header := http.Header{}
	header.Set("Host", "example.com:8545")
	result, err := mw(context.Background(), &CallContext{Header: header}, terminal)
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
}

func TestHostFilterWildcardAllowsAnyHost(t *testing.T) {
	mw := HostFilter([]string{"*"})
	terminal := func(ctx context.Context) (interface{}, error) { return "ok", nil }
	header := http.Header{}
	header.Set("Host", "anything.example")
	_, err := mw(context.Background(), &CallContext{Header: header}, terminal)
	assert.NoError(t, err)
}

func TestHostFilterSkipsNonHTTPCalls(t *testing.T) {
	mw := HostFilter([]string{"example.com"})
	terminal := func(ctx context.Context) (interface{}, error) { return "ok", nil }
	_, err := mw(context.Background(), &CallContext{Header: nil}, terminal)
	assert.NoError(t, err)
}

func TestTruncateUTF8NeverSplitsARune(t *testing.T) {
	s := strings.Repeat("é", 100) // each rune is 2 bytes in UTF-8
	out := truncateUTF8(s, 7)
	assert.True(t, len(out) <= 7)
	assert.Equal(t, 0, len(out)%2, "must not cut a multi-byte rune in half")
}

func TestProxyGETRewritesIntoJSONRPCCall(t *testing.T) {
	var gotBody string
	terminal := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		buf := make([]byte, 1024)
		n, _ := r.Body.Read(buf)
		gotBody = string(buf[:n])
	})
	handler := ProxyGET("/health", "system_health", terminal)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Contains(t, gotBody, `"method":"system_health"`)
}

func TestProxyGETStripsEnvelopeFromResponse(t *testing.T) {
	terminal := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("content-type", "application/json")
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"status":"ok"}}`))
	})
	handler := ProxyGET("/health", "system_health", terminal)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, `{"status":"ok"}`, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "jsonrpc")
}

func TestProxyGETStripsErrorEnvelopeFromResponse(t *testing.T) {
	terminal := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32601,"message":"not found"}}`))
	})
	handler := ProxyGET("/health", "system_health", terminal)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.JSONEq(t, `{"code":-32601,"message":"not found"}`, rec.Body.String())
}

func TestHostAllowListGlobMatching(t *testing.T) {
	allow := newHostAllowList([]string{"*.example.com", "localhost"})
	assert.True(t, allow.allows("api.example.com"))
	assert.True(t, allow.allows("LOCALHOST"))
	assert.False(t, allow.allows("example.com"))
	assert.False(t, allow.allows("evil.com"))
}

func TestHostAllowListEmptyAllowsEverything(t *testing.T) {
	allow := newHostAllowList(nil)
	assert.True(t, allow.empty())
	assert.True(t, allow.allows("anything.example"))
}

func TestHostAllowListWildcardAllowsEverything(t *testing.T) {
	allow := newHostAllowList([]string{"*"})
	assert.False(t, allow.empty())
	assert.True(t, allow.allows("anything.example"))
}
