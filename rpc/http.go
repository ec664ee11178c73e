// Copyright 2015 The go-ethereum Authors
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
	"io"
	"net/http"
	"sync"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/cors"
)

// proxyRoute is one GET path the HTTP dispatcher rewrites into an
// internal call, via the Proxy-GET middleware (spec.md §4.D).
type proxyRoute struct {
	Path   string
	Method string
}

// WithProxyGET registers a plain GET at path as a shorthand for
// calling method with no params (spec.md §4.D, ground:
// http-server/src/middlewares/proxy_request.rs).
func WithProxyGET(path, method string) ServerOption {
	return func(c *serverConfig) { c.proxyRoutes = append(c.proxyRoutes, proxyRoute{Path: path, Method: method}) }
}

// httpHandler builds the route table for the stateless HTTP
// dispatcher: POST / for ordinary calls/batches, plus one GET route
// per configured proxy path.
func (s *Server) httpHandler() http.Handler {
	router := httprouter.New()
	router.Handler(http.MethodPost, "/", http.HandlerFunc(s.serveHTTPCall))
	for _, route := range s.cfg.proxyRoutes {
		router.Handler(http.MethodGet, route.Path, ProxyGET(route.Path, route.Method, http.HandlerFunc(s.serveHTTPCall)))
	}
	return router
}

// NewHTTPServer wraps s's HTTP dispatcher with CORS, accepting origins
// from corsOrigins (ground: teacher's NewHTTPServer in rpc/http.go).
func (s *Server) NewHTTPServer(corsOrigins []string) *http.Server {
	c := cors.New(cors.Options{
		AllowedOrigins: corsOrigins,
		AllowedMethods: []string{http.MethodPost, http.MethodGet},
	})
	return &http.Server{Handler: c.Handler(s.httpHandler())}
}

func (s *Server) serveHTTPCall(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > s.cfg.maxRequestBodySize {
		http.Error(w, fmt.Sprintf("content length too large (%d>%d)", r.ContentLength, s.cfg.maxRequestBodySize), http.StatusRequestEntityTooLarge)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, s.cfg.maxRequestBodySize+1))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if int64(len(body)) > s.cfg.maxRequestBodySize {
		http.Error(w, "content length too large", http.StatusRequestEntityTooLarge)
		return
	}

	w.Header().Set("content-type", "application/json")

	single, batch, isBatch := decodeEnvelope(body)
	if isBatch {
		out := make([]*message, len(batch))
		var wg sync.WaitGroup
		for i, m := range batch {
			i, m := i, m
			wg.Add(1)
			go func() {
				defer wg.Done()
				out[i] = s.runHTTPCall(r, m)
			}()
		}
		wg.Wait()
		results := out[:0]
		for _, resp := range out {
			if resp != nil {
				results = append(results, resp)
			}
		}
		if len(results) == 0 {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		json.NewEncoder(w).Encode(results)
		return
	}

	resp := s.runHTTPCall(r, single)
	if resp == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	json.NewEncoder(w).Encode(resp)
}

// runHTTPCall dispatches one envelope and returns the response to
// write, or nil for a notification (which gets no reply). Subscription
// open/close methods always fail with ErrHTTPNotImplemented — the
// Sink machinery they need only exists on a WebSocket session
// (spec.md §4.H).
func (s *Server) runHTTPCall(r *http.Request, m *message) *message {
	if m.Method == "" && m.Error != nil {
		return m
	}
	if e := s.module.resolve(m.Method); e != nil && (e.kind == kindSubscriptionOpen || e.kind == kindSubscriptionClose) {
		if m.isNotification() {
			return nil
		}
		return newErrorMessage(m.requestID(), ErrHTTPNotImplemented)
	}

	// net/http moves the Host header out of r.Header into r.Host; put it
	// back so middleware such as HostFilter can read it from Header.
	header := r.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	header.Set("Host", r.Host)
	cc := &CallContext{Method: m.Method, Params: m.Params, RemoteAddr: r.RemoteAddr, Header: header}
	result, err := s.dispatchCall(r.Context(), cc)
	if m.isNotification() {
		return nil
	}
	if err != nil {
		return newErrorMessage(m.requestID(), err)
	}
	enc, err := json.Marshal(result)
	if err != nil {
		return newErrorMessage(m.requestID(), err)
	}
	return newResultMessage(m.requestID(), enc)
}
