package rpc

import (
	"context"
	"fmt"
	"path"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
)

// hostAllowList matches a Host (or Origin) header value against a set
// of case-insensitive glob patterns (spec.md §4.D: "allow-list of glob
// patterns"), e.g. "*.example.com" or "example.com". A nil/empty list
// allows everything; "*" in the list disables the check entirely.
type hostAllowList struct {
	patterns mapset.Set[string]
	allowAll bool
}

func newHostAllowList(patterns []string) *hostAllowList {
	set := mapset.NewSet[string]()
	allowAll := false
	for _, p := range patterns {
		if p == "*" {
			allowAll = true
		}
		if p != "" {
			set.Add(strings.ToLower(p))
		}
	}
	return &hostAllowList{patterns: set, allowAll: allowAll}
}

func (h *hostAllowList) empty() bool { return h.patterns.Cardinality() == 0 && !h.allowAll }

func (h *hostAllowList) allows(value string) bool {
	if h.allowAll || h.patterns.Cardinality() == 0 {
		return true
	}
	value = strings.ToLower(value)
	allowed := false
	h.patterns.Each(func(pattern string) bool {
		if ok, _ := path.Match(pattern, value); ok {
			allowed = true
			return true
		}
		return false
	})
	return allowed
}

// HostFilter rejects HTTP calls whose Host header does not match one
// of allowedHosts, the same DNS-rebinding defence go-ethereum's RPC
// endpoints apply to the origin header on WebSocket upgrades
// (websocket.go's wsHandler applies the same glob matching to the Host
// and Origin headers right after the upgrade, using the lists set by
// WithHostAllowList and WithOriginAllowList). "*" disables the check
// entirely. Calls with a nil Header (WebSocket sessions) always pass.
func HostFilter(allowedHosts []string) Middleware {
	allow := newHostAllowList(allowedHosts)
	return func(ctx context.Context, cc *CallContext, next func(context.Context) (interface{}, error)) (interface{}, error) {
		if cc.Header == nil || allow.empty() {
			return next(ctx)
		}
		host := hostOnly(cc.Header.Get("Host"))
		if allow.allows(host) {
			return next(ctx)
		}
		return nil, fmt.Errorf("rpc: host %q not allowed", host)
	}
}

func hostOnly(hostport string) string {
	if i := strings.LastIndexByte(hostport, ':'); i >= 0 {
		return hostport[:i]
	}
	return hostport
}
