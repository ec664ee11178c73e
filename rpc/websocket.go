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
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// closeCodeHostRejected is the server-initiated WebSocket close code
// used when the Host or Origin allow-list rejects a connection after
// the handshake has already completed (spec.md §6, §8 scenario 6: "WS
// close 4403"). It sits in the 4000-4999 implementation-specific band
// reserved for server-initiated closes.
const closeCodeHostRejected = 4403

// wsHandler returns an http.Handler that upgrades every request to a
// WebSocket, then — before any frame is read or dispatched — checks
// the upgrade request's Host and Origin headers against the allow-lists
// configured via WithHostAllowList/WithOriginAllowList. A violation
// closes the new connection immediately with closeCodeHostRejected and
// never reaches the module or middleware chain (spec.md §4.F: "run
// host/origin middleware (HTTP upgrade headers)" at accept, before the
// session proper begins).
func (s *Server) wsHandler() http.Handler {
	upgrader := websocket.Upgrader{
		CheckOrigin:     func(r *http.Request) bool { return true }, // checked post-upgrade below, for a uniform WS close response
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.log.Debug("websocket upgrade failed", "err", err)
			return
		}
		if !s.cfg.hostAllowList.allows(hostOnly(r.Host)) || !s.cfg.originAllowList.allows(r.Header.Get("Origin")) {
			s.log.Debug("rejecting websocket connection", "host", r.Host, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
			closeMsg := websocket.FormatCloseMessage(closeCodeHostRejected, "host or origin not allowed")
			conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(time.Second))
			conn.Close()
			return
		}
		s.serveConnection(&wsConn{conn: conn}, r.RemoteAddr)
	})
}

// ListenWS starts an HTTP server on addr that upgrades every request
// to a WebSocket session bound to s.
func (s *Server) ListenWS(addr string) (*http.Server, error) {
	hs := &http.Server{Addr: addr, Handler: s.wsHandler()}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	go hs.Serve(ln)
	return hs, nil
}
