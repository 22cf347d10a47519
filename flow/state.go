// Package flow builds and classifies the OIDC front-channel protocol
// messages: the state parameter, the authorization request, and the
// redirect or message response coming back from the provider.
package flow

import "encoding/json"

// State is the structured payload carried through the provider inside the
// opaque state parameter. It is the only data surviving the full redirect
// round trip.
type State struct {
	FinalRoute string `json:"finalRoute,omitempty"`
	Message    string `json:"stateMessage,omitempty"`
}

// Encode renders the state as JSON. The provider treats the result as an
// opaque string and must echo it back byte for byte.
func (s State) Encode() string {
	b, err := json.Marshal(s)
	if err != nil {
		// Two string fields cannot fail to marshal.
		return "{}"
	}
	return string(b)
}

// DecodeState parses an echoed state parameter. A malformed value (the
// provider or an attacker may have altered it) degrades to a state whose
// Message holds the raw string; the login flow keeps going either way.
func DecodeState(raw string) State {
	if raw == "" {
		return State{}
	}
	var s State
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return State{Message: raw}
	}
	return s
}
