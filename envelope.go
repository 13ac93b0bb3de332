package replica

import (
	"encoding/json"
	"fmt"
)

// Kind marks an Envelope as replication traffic.
const Kind = "sync"

// Wildcard is the scope that matches every other scope.
const Wildcard = -1

// Action is the operation an Envelope requests.
type Action string

const (
	ActionPush      Action = "push"
	ActionPull      Action = "pull"
	ActionRelayPush Action = "relay-push"
	ActionRelayPull Action = "relay-pull"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	switch a {
	case ActionPush, ActionPull, ActionRelayPush, ActionRelayPull:
		return true
	default:
		return false
	}
}

// Envelope is the wire format exchanged between contexts.
type Envelope struct {
	Kind     string         `json:"kind"`
	Action   Action         `json:"action"`
	Scope    int            `json:"scopeId"`
	Payload  map[string]any `json:"payload,omitempty"`
	Origin   string         `json:"origin,omitempty"`
	Revision uint64         `json:"revision,omitempty"`
}

// Matches reports whether a context bound to scope accepts the envelope.
func (e Envelope) Matches(scope int) bool {
	return e.Scope == scope || e.Scope == Wildcard || scope == Wildcard
}

// Encode serializes the envelope.
func (e Envelope) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return data, nil
}

// DecodeEnvelope parses data. Anything that is not a well-formed sync
// envelope yields false rather than an error, since unrelated traffic may
// share the channel.
func DecodeEnvelope(data []byte) (Envelope, bool) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, false
	}
	if e.Kind != Kind || !e.Action.Valid() {
		return Envelope{}, false
	}
	return e, true
}
