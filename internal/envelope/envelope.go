// Package envelope models the entries on the shared inbound event stream:
// every message the transport delivers is one Envelope, tagged with the
// client instance it belongs to and carrying exactly one payload.
package envelope

import (
	"encoding/json"
	"fmt"
)

// Kind identifies which payload an Envelope carries.
type Kind int

const (
	// KindUnknown covers malformed envelopes: zero payloads set, or more
	// than one. These are dropped by the dispatcher.
	KindUnknown Kind = iota
	KindEvent
	KindStateChange
	KindError
)

// Connection states as reported by the transport. This layer forwards them
// without validating transition legality.
const (
	StateConnecting    = "CONNECTING"
	StateConnected     = "CONNECTED"
	StateDisconnecting = "DISCONNECTING"
	StateDisconnected  = "DISCONNECTED"
	StateReconnecting  = "RECONNECTING"

	// Reported when the transport holds off reconnecting until the OS
	// signals network reachability.
	StateReconnectingWhenNetworkBecomesReachable = "RECONNECTING_WHEN_NETWORK_BECOMES_REACHABLE"
)

// Event is a single channel event. Data arrives as a JSON-encoded string
// that itself must be parsed again; see DecodeData.
type Event struct {
	Channel string `json:"channel"`
	Event   string `json:"event"`
	Data    string `json:"data"`
}

// DecodeData parses the twice-encoded data payload. The wire format encodes
// event data as a JSON string containing JSON text; the extra decode step is
// a wire-compatibility requirement, not an accident.
func (e *Event) DecodeData() (any, error) {
	if e.Data == "" {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal([]byte(e.Data), &v); err != nil {
		return nil, fmt.Errorf("decode event data: %w", err)
	}
	return v, nil
}

// StateChange reports a connection state transition observed by the
// transport. CurrentState may equal PreviousState; no deduplication happens
// at any layer.
type StateChange struct {
	CurrentState  string `json:"currentState"`
	PreviousState string `json:"previousState"`
}

// ConnError is a transport-reported connection error, forwarded verbatim.
type ConnError struct {
	Message   string `json:"message"`
	Code      string `json:"code"`
	Exception string `json:"exception"`
}

// Envelope is one entry on the shared inbound stream. Exactly one of the
// three payload pointers is non-nil on a well-formed envelope.
type Envelope struct {
	InstanceID            string       `json:"instanceId"`
	Event                 *Event       `json:"event,omitempty"`
	ConnectionStateChange *StateChange `json:"connectionStateChange,omitempty"`
	ConnectionError       *ConnError   `json:"connectionError,omitempty"`
}

// Kind classifies the envelope by its single populated payload.
func (e *Envelope) Kind() Kind {
	n := 0
	k := KindUnknown
	if e.Event != nil {
		n++
		k = KindEvent
	}
	if e.ConnectionStateChange != nil {
		n++
		k = KindStateChange
	}
	if e.ConnectionError != nil {
		n++
		k = KindError
	}
	if n != 1 {
		return KindUnknown
	}
	return k
}

// Decode parses a serialized envelope from the stream.
func Decode(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	return &env, nil
}

// Encode serializes the envelope for the stream. Used by transports feeding
// the dispatcher.
func (e *Envelope) Encode() ([]byte, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return raw, nil
}
