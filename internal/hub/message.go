// Package hub defines the control-message kinds exchanged with world servers
// and the codec that maps them to the wire envelope.
package hub

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind identifies one control-message variant. The set is closed; extending
// the protocol means adding a variant here and to the wire tables below.
type Kind int

const (
	// KindUnknown is the zero value and never appears in an encoded frame.
	KindUnknown Kind = iota
	// KindServerConnect is a world→hub registration request.
	KindServerConnect
	// KindServerConnectResult is the hub→world registration outcome.
	KindServerConnectResult
	// KindClientConnect asks whether a named world is currently reachable.
	KindClientConnect
	// KindClientConnectResult answers a reachability query.
	KindClientConnectResult
	// KindUserConnected tells a world server that an authenticated player
	// is about to connect to it.
	KindUserConnected
)

// Wire tables. A frame's "type" field may carry either the numeric id or the
// canonical name; both resolve to the same Kind. These tables exist only at
// the wire boundary; in-memory code works with Kind values.
var kindNames = map[Kind]string{
	KindServerConnect:       "SERVER_CONNECT",
	KindServerConnectResult: "SERVER_CONNECT_RESULT",
	KindClientConnect:       "CLIENT_CONNECT",
	KindClientConnectResult: "CLIENT_CONNECT_RESULT",
	KindUserConnected:       "USER_CONNECTED",
}

var kindIDs = map[Kind]int{
	KindServerConnect:       1,
	KindServerConnectResult: 2,
	KindClientConnect:       3,
	KindClientConnectResult: 4,
	KindUserConnected:       5,
}

var (
	kindsByName = make(map[string]Kind, len(kindNames))
	kindsByID   = make(map[int]Kind, len(kindIDs))
)

func init() {
	for k, name := range kindNames {
		kindsByName[name] = k
	}
	for k, id := range kindIDs {
		kindsByID[id] = k
	}
}

// String returns the canonical wire name of the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "UNKNOWN"
}

// Decode errors. Neither is fatal to a connection: the caller logs the frame
// and drops it.
var (
	// ErrMalformed reports a frame that is not a well-formed envelope.
	ErrMalformed = errors.New("malformed control frame")
	// ErrUnknownKind reports a well-formed envelope whose type is not in
	// the recognized set.
	ErrUnknownKind = errors.New("unknown control message kind")
)

// ServerConnectData is the payload of SERVER_CONNECT.
type ServerConnectData struct {
	Name  string `json:"name"`
	Token string `json:"token"`
}

// ServerConnectResultData is the payload of SERVER_CONNECT_RESULT.
type ServerConnectResultData struct {
	Message  string `json:"message"`
	Success  bool   `json:"success"`
	ServerID string `json:"server_id,omitempty"`
}

// ClientConnectData is the payload of CLIENT_CONNECT.
type ClientConnectData struct {
	ServerName string `json:"serverName"`
}

// ClientConnectResultData is the payload of CLIENT_CONNECT_RESULT.
type ClientConnectResultData struct {
	Message string `json:"message,omitempty"`
	Success bool   `json:"success"`
	Token   string `json:"token,omitempty"`
}

// UserConnectedData is the payload of USER_CONNECTED.
type UserConnectedData struct {
	Username string `json:"username"`
	Token    string `json:"token"`
}

// Envelope is the in-memory form of one wire frame:
//
//	{ "type": <int|string>, "data": <object> }
//
// Envelopes are values; they are never mutated after construction.
type Envelope struct {
	Kind Kind
	Data json.RawMessage
}

type wireEnvelope struct {
	Type json.RawMessage `json:"type"`
	Data json.RawMessage `json:"data"`
}

// NewEnvelope builds an envelope for a recognized kind. Payloads are the
// fixed structs above, so marshaling cannot fail for any recognized kind.
func NewEnvelope(kind Kind, payload any) Envelope {
	data, err := json.Marshal(payload)
	if err != nil {
		data = json.RawMessage("{}")
	}
	return Envelope{Kind: kind, Data: data}
}

// Encode renders the envelope as one wire frame. The type field is encoded
// with the canonical name. Encoding is total for recognized kinds.
func (e Envelope) Encode() []byte {
	name, _ := json.Marshal(e.Kind.String())
	data := e.Data
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}
	out, _ := json.Marshal(wireEnvelope{Type: name, Data: data})
	return out
}

// DecodeEnvelope parses one wire frame. It returns ErrMalformed for frames
// that are not a well-formed envelope and ErrUnknownKind for envelopes whose
// type is outside the recognized set; callers distinguish the two with
// errors.Is but treat both as log-and-drop.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	var w wireEnvelope
	if err := json.Unmarshal(raw, &w); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(w.Type) == 0 {
		return Envelope{}, fmt.Errorf("%w: missing type field", ErrMalformed)
	}

	kind, err := decodeKind(w.Type)
	if err != nil {
		return Envelope{}, err
	}

	data := w.Data
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}
	return Envelope{Kind: kind, Data: data}, nil
}

func decodeKind(raw json.RawMessage) (Kind, error) {
	var name string
	if err := json.Unmarshal(raw, &name); err == nil {
		if k, ok := kindsByName[name]; ok {
			return k, nil
		}
		return KindUnknown, fmt.Errorf("%w: %q", ErrUnknownKind, name)
	}

	var id int
	if err := json.Unmarshal(raw, &id); err == nil {
		if k, ok := kindsByID[id]; ok {
			return k, nil
		}
		return KindUnknown, fmt.Errorf("%w: %d", ErrUnknownKind, id)
	}

	return KindUnknown, fmt.Errorf("%w: type must be a numeric id or a name", ErrMalformed)
}
