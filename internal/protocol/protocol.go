package protocol

import (
	"encoding/json"
	"fmt"
)

// Version is the build's feature version exchanged during the handshake.
const Version = "1.2.0"

// ModName namespaces handler names owned by this feature.
const ModName = "linkgate"

// Frame types.
const (
	TypeRPC      = "RPC"
	TypePeerInfo = "PEER_INFO"
	TypeError    = "ERROR"
	TypeRouted   = "ROUTED"
	TypePush     = "PUSH"
)

// Envelope is the outer shape of every frame. Name selects the RPC handler
// for TypeRPC frames.
type Envelope struct {
	Type    string          `json:"type"`
	Name    string          `json:"name,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func DecodeBase(b []byte) (Envelope, error) {
	var m Envelope
	err := json.Unmarshal(b, &m)
	return m, err
}

// VersionCheckRPC is the handler name the version exchange is sent to.
func VersionCheckRPC(modName string) string {
	return modName + "_VersionCheck"
}

func NewRPC(name string, payload any) (Envelope, error) {
	return newEnvelope(TypeRPC, name, payload)
}

func NewVersionRPC(modName, version string) (Envelope, error) {
	return NewRPC(VersionCheckRPC(modName), VersionMsg{Version: version})
}

func NewPeerInfo(info PeerInfoMsg) (Envelope, error) {
	return newEnvelope(TypePeerInfo, "", info)
}

func NewError(code int) Envelope {
	env, _ := newEnvelope(TypeError, "", ErrorMsg{Code: code})
	return env
}

func NewRouted(method string, target int64, payload any) (Envelope, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("routed %s: %w", method, err)
		}
		raw = b
	}
	return newEnvelope(TypeRouted, method, RoutedMsg{Target: target, Method: method, Payload: raw})
}

func NewPush(obj any) (Envelope, error) {
	return newEnvelope(TypePush, "", obj)
}

func newEnvelope(typ, name string, payload any) (Envelope, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("%s payload: %w", typ, err)
	}
	return Envelope{Type: typ, Name: name, Payload: b}, nil
}
