package channel

import (
	"encoding/json"
)

// ResponseType tags response envelopes on the wire.
const ResponseType = "RESPONSE"

// Message is the request/push envelope. A message carrying both an ID and a
// type with a registered request handler is treated as a request; everything
// else is a push.
type Message struct {
	ID        string          `json:"id,omitempty"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
	Source    string          `json:"source,omitempty"`
}

// Response is the reply envelope correlating back to a request by id.
type Response struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId"`
	OK        bool            `json:"ok"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     *Error          `json:"error,omitempty"`
}

// decodeIncoming normalizes a raw inbound payload. Transports may deliver
// JSON objects or JSON-encoded strings of JSON (double encoding happens on
// bridge boundaries); both are accepted. Returns exactly one of msg or resp,
// or neither for noise, which is silently ignored because cross-boundary
// transports deliver unrelated traffic.
func decodeIncoming(raw []byte) (*Message, *Response) {
	raw = unquoteIfString(raw)

	var probe struct {
		ID        string `json:"id"`
		Type      string `json:"type"`
		RequestID string `json:"requestId"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, nil
	}

	if probe.Type == ResponseType && probe.RequestID != "" {
		var resp Response
		if err := json.Unmarshal(raw, &resp); err != nil {
			return nil, nil
		}
		return nil, &resp
	}

	if probe.Type == "" {
		return nil, nil
	}

	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, nil
	}
	return &msg, nil
}

// unquoteIfString peels one layer of JSON string encoding, falling back to
// the raw bytes when the content is not a string or not valid JSON.
func unquoteIfString(raw []byte) []byte {
	for _, c := range raw {
		switch c {
		case ' ', '\t', '\n', '\r':
			continue
		case '"':
			var s string
			if err := json.Unmarshal(raw, &s); err == nil {
				return []byte(s)
			}
			return raw
		default:
			return raw
		}
	}
	return raw
}
