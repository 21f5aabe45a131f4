package protocol

import "encoding/json"

// VersionMsg is the payload of the version-exchange RPC.
type VersionMsg struct {
	Version string `json:"version"`
}

// PeerInfoMsg asks the host for full participation.
type PeerInfoMsg struct {
	PeerID  int64  `json:"peer_id"`
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// ErrorMsg carries a connection status code; the receiver disconnects.
type ErrorMsg struct {
	Code int `json:"code"`
}

// RoutedMsg is an application-level request addressed to a peer id.
type RoutedMsg struct {
	Target  int64           `json:"target"`
	Method  string          `json:"method"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Routed methods.
const (
	MethodRequestAdminSync = "RequestAdminSync"
	MethodAdminList        = "AdminList"
)

type AdminListMsg struct {
	Admins []string `json:"admins"`
}
