// Package gate implements the peer version handshake. Every connection
// exchanges its feature version right after connecting; the host refuses full
// participation to connections that never presented a matching version.
//
// This is a compatibility filter, not an authentication boundary.
package gate

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"linkgate.ai/internal/protocol"
)

type Role int

const (
	RoleHost Role = iota + 1
	RolePeer
)

func (r Role) String() string {
	switch r {
	case RoleHost:
		return "host"
	case RolePeer:
		return "peer"
	default:
		return "unknown"
	}
}

// Conn is the connection surface the gate drives.
type Conn interface {
	ID() string
	RemoteAddr() string
	Send(env protocol.Envelope) error
	Register(name string, fn func(payload json.RawMessage))
	// Disconnect sends an ERROR frame with code and closes the connection.
	Disconnect(code int)
}

// Router delivers routed application requests.
type Router interface {
	InvokeRouted(target int64, method string, payload any) error
}

// Handshake results reported to observers.
const (
	ResultValidated = "validated"
	ResultMatched   = "matched"
	ResultMismatch  = "mismatch"
	ResultRefused   = "refused"
)

type Observer interface {
	ObserveHandshake(result string)
}

type Config struct {
	Role    Role
	ModName string
	Version string
	// SelfID is the host's own peer id, the target of the admin sync request.
	SelfID int64
}

type Gate struct {
	cfg      Config
	router   Router
	sessions *Sessions
	log      zerolog.Logger

	observers []Observer

	mu      sync.Mutex
	lastErr string
}

func New(cfg Config, router Router, log zerolog.Logger) *Gate {
	if cfg.ModName == "" {
		cfg.ModName = protocol.ModName
	}
	if cfg.Version == "" {
		cfg.Version = protocol.Version
	}
	return &Gate{
		cfg:      cfg,
		router:   router,
		sessions: NewSessions(),
		log:      log.With().Str("component", "gate").Str("role", cfg.Role.String()).Logger(),
	}
}

func (g *Gate) Sessions() *Sessions { return g.sessions }
func (g *Gate) Version() string     { return g.cfg.Version }
func (g *Gate) IsHost() bool        { return g.cfg.Role == RoleHost }

func (g *Gate) Observe(o Observer) {
	if o != nil {
		g.observers = append(g.observers, o)
	}
}

func (g *Gate) notify(result string) {
	for _, o := range g.observers {
		o.ObserveHandshake(result)
	}
}

// OnNewConnection registers the version handler on c and sends our version
// over it.
func (g *Gate) OnNewConnection(c Conn) {
	if g.IsHost() {
		g.sessions.Add(c.ID())
	}
	name := protocol.VersionCheckRPC(g.cfg.ModName)
	g.log.Debug().Str("conn", c.ID()).Str("rpc", name).Msg("registering version handler")
	c.Register(name, func(payload json.RawMessage) { g.HandleVersion(c, payload) })

	env, err := protocol.NewVersionRPC(g.cfg.ModName, g.cfg.Version)
	if err != nil {
		g.log.Error().Err(err).Msg("encode version check")
		return
	}
	g.log.Info().Str("conn", c.ID()).Msg("invoking version check")
	if err := c.Send(env); err != nil {
		g.log.Warn().Err(err).Str("conn", c.ID()).Msg("send version check")
	}
}

// HandleVersion processes a version-exchange payload received on c.
func (g *Gate) HandleVersion(c Conn, payload json.RawMessage) {
	var msg protocol.VersionMsg
	if err := json.Unmarshal(payload, &msg); err != nil {
		g.log.Warn().Err(err).Str("conn", c.ID()).Msg("malformed version payload")
	}
	g.log.Info().Str("local", g.cfg.Version).Str("remote", msg.Version).Msg("version check")

	if msg.Version != g.cfg.Version {
		g.setLastError(fmt.Sprintf("%s Installed: %s\n Needed: %s", g.cfg.ModName, g.cfg.Version, msg.Version))
		if g.IsHost() {
			g.log.Warn().Str("peer", c.RemoteAddr()).Msg("peer has incompatible version, disconnecting")
			c.Disconnect(protocol.ErrIncompatibleVersion)
		}
		g.notify(ResultMismatch)
		return
	}

	if !g.IsHost() {
		g.log.Info().Msg("received same version from host")
		g.notify(ResultMatched)
		return
	}
	g.log.Info().Str("peer", c.RemoteAddr()).Msg("adding peer to validated list")
	g.sessions.Validate(c.ID())
	g.notify(ResultValidated)
}

// BeforePeerInfo runs ahead of the host's peer-info step. It returns false
// when the step must be suppressed.
func (g *Gate) BeforePeerInfo(c Conn) bool {
	if !g.IsHost() || g.sessions.IsValidated(c.ID()) {
		return true
	}
	g.log.Warn().Str("peer", c.RemoteAddr()).Msg("peer never sent version or couldn't due to previous disconnect, disconnecting")
	c.Disconnect(protocol.ErrIncompatibleVersion)
	g.notify(ResultRefused)
	return false
}

// AfterPeerInfo runs once the peer-info step succeeded. The first time a
// validated connection becomes active the host asks itself to resync admins.
func (g *Gate) AfterPeerInfo(c Conn) {
	if !g.IsHost() || !g.sessions.Activate(c.ID()) {
		return
	}
	if g.router == nil {
		return
	}
	if err := g.router.InvokeRouted(g.cfg.SelfID, protocol.MethodRequestAdminSync, nil); err != nil {
		g.log.Warn().Err(err).Msg("request admin sync")
	}
}

// OnDisconnect forgets c whatever state it was in.
func (g *Gate) OnDisconnect(c Conn) {
	if !g.IsHost() {
		return
	}
	g.log.Info().Str("peer", c.RemoteAddr()).Msg("peer disconnected, removing from validated list")
	g.sessions.Remove(c.ID())
}

func (g *Gate) setLastError(s string) {
	g.mu.Lock()
	g.lastErr = s
	g.mu.Unlock()
}

// LastError is the most recent version mismatch description.
func (g *Gate) LastError() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastErr
}

// ConnectError appends the recorded mismatch, if any, to a connection
// failure message.
func (g *Gate) ConnectError(base string) string {
	last := g.LastError()
	if last == "" {
		return base
	}
	return base + "\n" + last
}
