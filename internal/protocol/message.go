// Package protocol defines the JSON frames exchanged on a session channel.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/cortexuvula/massagesync/internal/session"
)

// Wire type tags.
const (
	TypeLiveFeedback       = "live_feedback"
	TypePreferencesUpdate  = "preferences_update"
	TypeSessionData        = "session_data"
	TypePreferencesUpdated = "preferences_updated"
)

// Kind is the closed set of message variants. Anything unrecognised is
// KindPassthrough and is relayed without interpretation.
type Kind int

const (
	KindPassthrough Kind = iota
	KindLiveFeedback
	KindPreferencesUpdate
	KindSessionData
	KindPreferencesUpdated
)

func (k Kind) String() string {
	switch k {
	case KindLiveFeedback:
		return TypeLiveFeedback
	case KindPreferencesUpdate:
		return TypePreferencesUpdate
	case KindSessionData:
		return TypeSessionData
	case KindPreferencesUpdated:
		return TypePreferencesUpdated
	default:
		return "passthrough"
	}
}

func kindOf(typ string) Kind {
	switch typ {
	case TypeLiveFeedback:
		return KindLiveFeedback
	case TypePreferencesUpdate:
		return KindPreferencesUpdate
	case TypeSessionData:
		return KindSessionData
	case TypePreferencesUpdated:
		return KindPreferencesUpdated
	default:
		return KindPassthrough
	}
}

// ErrMalformed wraps every parse failure of an inbound frame.
var ErrMalformed = errors.New("malformed message")

// Message is a parsed inbound frame. Raw keeps the exact bytes received so
// relays are verbatim.
type Message struct {
	Type string
	Kind Kind
	Data json.RawMessage
	Raw  []byte
}

// envelope extracts only the tag and payload; other top-level fields stay in Raw.
type envelope struct {
	Type *string         `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Parse decodes a text frame. The frame must be valid UTF-8 and a JSON
// object with a non-empty string "type".
func Parse(raw []byte) (Message, error) {
	if !utf8.Valid(raw) {
		return Message{}, fmt.Errorf("%w: invalid UTF-8", ErrMalformed)
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Message{}, fmt.Errorf("%w: not a JSON object", ErrMalformed)
	}
	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type == nil || *env.Type == "" {
		return Message{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	return Message{
		Type: *env.Type,
		Kind: kindOf(*env.Type),
		Data: env.Data,
		Raw:  raw,
	}, nil
}

// Preferences decodes the data object of a preferences_update frame.
// A missing data object is an empty update; any non-object is malformed.
func (m Message) Preferences() (session.Preferences, error) {
	var p session.Preferences
	data := bytes.TrimSpace(m.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return p, nil
	}
	if data[0] != '{' {
		return p, fmt.Errorf("%w: data is not an object", ErrMalformed)
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return p, nil
}

// outbound is the shape of every server-originated frame.
type outbound struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// SessionData encodes the full-record snapshot sent after attach.
func SessionData(s session.Session) ([]byte, error) {
	return json.Marshal(outbound{Type: TypeSessionData, Data: s})
}

// PreferencesUpdated encodes the fields changed by a request-driven update
// together with the new updated_at.
func PreferencesUpdated(p session.Preferences, updatedAt time.Time) ([]byte, error) {
	fields := p.Fields()
	fields["updated_at"] = updatedAt
	return json.Marshal(outbound{Type: TypePreferencesUpdated, Data: fields})
}
