package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// ID identifies a request or a subscription on the wire. Per spec.md §3
// it is either an unsigned integer or a string; the zero value (nil
// interface) represents an absent ID (a notification).
type ID interface {
	// raw returns the canonical JSON encoding of the ID, used both for
	// serialisation and as a map key via string(raw()).
	raw() json.RawMessage
	String() string
}

// NumberID is a request/subscription ID carried as a JSON number.
type NumberID uint64

func (n NumberID) raw() json.RawMessage { return json.RawMessage(strconv.FormatUint(uint64(n), 10)) }
func (n NumberID) String() string       { return strconv.FormatUint(uint64(n), 10) }

// StringID is a request/subscription ID carried as a JSON string.
type StringID string

func (s StringID) raw() json.RawMessage {
	b, _ := json.Marshal(string(s))
	return b
}
func (s StringID) String() string { return string(s) }

// idKey returns a comparable map key for an ID, or "" for a nil ID.
func idKey(id ID) string {
	if id == nil {
		return ""
	}
	return string(id.raw())
}

// decodeID parses a raw JSON id field into an ID. Absent/empty/null
// input yields (nil, nil) — a notification.
func decodeID(raw json.RawMessage) (ID, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		return StringID(s), nil
	case '{', '[':
		return nil, fmt.Errorf("invalid id type %s", raw)
	default:
		var n uint64
		if err := json.Unmarshal(raw, &n); err != nil {
			return nil, err
		}
		return NumberID(n), nil
	}
}

func encodeID(id ID) json.RawMessage {
	if id == nil {
		return nil
	}
	return id.raw()
}
