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
	"bytes"
	"encoding/json"
)

const jsonrpcVersion = "2.0"

// message is the wire representation of a single JSON-RPC 2.0 envelope:
// a method call, a notification, a success response, or an error
// response, depending on which fields are set. Params and Result are
// kept as raw JSON so the codec never fails a request for a semantic
// reason (spec.md §4.A) — typed extraction happens later, in the
// module dispatcher.
type message struct {
	Version string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *jsonError      `json:"error,omitempty"`
}

func (m *message) isCall() bool {
	return m.Method != "" && m.hasValidID()
}

func (m *message) isNotification() bool {
	return m.Method != "" && !m.hasValidID()
}

func (m *message) isResponse() bool {
	return m.Method == "" && m.hasValidID() && (m.Result != nil || m.Error != nil)
}

func (m *message) hasValidID() bool {
	return len(m.ID) > 0 && m.ID[0] != '{' && m.ID[0] != '['
}

func (m *message) requestID() ID {
	id, _ := decodeID(m.ID)
	return id
}

func (m *message) String() string {
	b, _ := json.Marshal(m)
	return string(b)
}

func newCallMessage(id ID, method string, params json.RawMessage) *message {
	return &message{Version: jsonrpcVersion, ID: encodeID(id), Method: method, Params: params}
}

func newNotificationMessage(method string, params json.RawMessage) *message {
	return &message{Version: jsonrpcVersion, Method: method, Params: params}
}

func newResultMessage(id ID, result json.RawMessage) *message {
	return &message{Version: jsonrpcVersion, ID: encodeID(id), Result: result}
}

func newErrorMessage(id ID, err error) *message {
	return &message{Version: jsonrpcVersion, ID: encodeID(id), Error: toJSONError(err)}
}

// subscriptionParams is the shape of a subscription notification's
// params object, per spec.md §6: {"subscription": <id>, "result": <value>}.
type subscriptionParams struct {
	Subscription json.RawMessage `json:"subscription"`
	Result        json.RawMessage `json:"result"`
}

func newSubscriptionNotification(method string, subID ID, result json.RawMessage) *message {
	params, _ := json.Marshal(&subscriptionParams{Subscription: encodeID(subID), Result: result})
	return newNotificationMessage(method, params)
}

// decodeEnvelope parses raw into either a single message or a batch.
// It never returns an error for a well-formed transport read: a
// malformed body is reported via the returned *message being a
// standalone parse-error response bound to a null ID, matching
// spec.md §4.A.
func decodeEnvelope(raw []byte) (single *message, batch []*message, isBatch bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return newErrorMessage(nil, &parseError{"empty request"}), nil, false
	}
	if trimmed[0] == '[' {
		var raws []json.RawMessage
		if err := json.Unmarshal(trimmed, &raws); err != nil {
			return newErrorMessage(nil, &parseError{err.Error()}), nil, false
		}
		if len(raws) == 0 {
			return newErrorMessage(nil, &invalidRequestError{"empty batch"}), nil, false
		}
		out := make([]*message, len(raws))
		anyValid := false
		for i, r := range raws {
			var m message
			if err := json.Unmarshal(r, &m); err != nil || m.Version != jsonrpcVersion {
				out[i] = newErrorMessage(nil, &invalidRequestError{"invalid request"})
				continue
			}
			mm := m
			out[i] = &mm
			anyValid = true
		}
		if !anyValid {
			return newErrorMessage(nil, &invalidRequestError{"invalid batch"}), nil, false
		}
		return nil, out, true
	}

	var m message
	if err := json.Unmarshal(trimmed, &m); err != nil {
		return newErrorMessage(nil, &parseError{err.Error()}), nil, false
	}
	if m.Version != jsonrpcVersion {
		return newErrorMessage(m.requestID(), &invalidRequestError{"invalid jsonrpc version"}), nil, false
	}
	return &m, nil, false
}

// isBatchRaw reports whether raw looks like a JSON array, i.e. a batch
// rather than a single envelope, without unmarshaling it.
func isBatchRaw(raw []byte) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '['
}

func marshalBatch(msgs []*message) ([]byte, error) {
	return json.Marshal(msgs)
}

func marshalSingle(msg *message) ([]byte, error) {
	return json.Marshal(msg)
}
