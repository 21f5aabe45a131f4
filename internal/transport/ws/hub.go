package ws

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"linkgate.ai/internal/protocol"
	"linkgate.ai/internal/sim/objstore"
)

// RouteHandler serves a routed application request.
type RouteHandler func(msg protocol.RoutedMsg) error

type member struct {
	conn *Conn
	info protocol.PeerInfoMsg
}

// Hub tracks fully active connections. It replicates pushed objects to them
// and routes application requests by peer id.
type Hub struct {
	selfID int64
	log    zerolog.Logger

	mu      sync.RWMutex
	members map[string]member

	routesMu sync.RWMutex
	routes   map[string]RouteHandler
}

func NewHub(selfID int64, log zerolog.Logger) *Hub {
	return &Hub{
		selfID:  selfID,
		log:     log.With().Str("component", "hub").Logger(),
		members: map[string]member{},
		routes:  map[string]RouteHandler{},
	}
}

func (h *Hub) Join(c *Conn, info protocol.PeerInfoMsg) {
	h.mu.Lock()
	h.members[c.ID()] = member{conn: c, info: info}
	n := len(h.members)
	h.mu.Unlock()
	h.log.Info().Str("conn", c.ID()).Int64("peer_id", info.PeerID).Str("name", info.Name).Int("active", n).Msg("peer joined")
}

func (h *Hub) Leave(c *Conn) {
	h.mu.Lock()
	_, ok := h.members[c.ID()]
	delete(h.members, c.ID())
	h.mu.Unlock()
	if ok {
		h.log.Info().Str("conn", c.ID()).Msg("peer left")
	}
}

func (h *Hub) Active() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.members)
}

func (h *Hub) Broadcast(env protocol.Envelope) {
	h.mu.RLock()
	conns := make([]*Conn, 0, len(h.members))
	for _, m := range h.members {
		conns = append(conns, m.conn)
	}
	h.mu.RUnlock()
	for _, c := range conns {
		if err := c.Send(env); err != nil {
			h.log.Debug().Err(err).Str("conn", c.ID()).Msg("broadcast dropped")
		}
	}
}

// Push implements objstore.Publisher.
func (h *Hub) Push(obj objstore.Object) {
	env, err := protocol.NewPush(obj)
	if err != nil {
		h.log.Error().Err(err).Stringer("object", obj.ID).Msg("encode push")
		return
	}
	h.Broadcast(env)
}

func (h *Hub) HandleRouted(method string, fn RouteHandler) {
	h.routesMu.Lock()
	h.routes[method] = fn
	h.routesMu.Unlock()
}

// InvokeRouted delivers method to target: locally when target is this
// process, otherwise to the active peer with that id.
func (h *Hub) InvokeRouted(target int64, method string, payload any) error {
	env, err := protocol.NewRouted(method, target, payload)
	if err != nil {
		return err
	}
	if target == h.selfID {
		var msg protocol.RoutedMsg
		if err := json.Unmarshal(env.Payload, &msg); err != nil {
			return err
		}
		return h.dispatchRouted(msg)
	}
	h.mu.RLock()
	var dst *Conn
	for _, m := range h.members {
		if m.info.PeerID == target {
			dst = m.conn
			break
		}
	}
	h.mu.RUnlock()
	if dst == nil {
		return fmt.Errorf("%w: %d", ErrUnknownPeer, target)
	}
	return dst.Send(env)
}

func (h *Hub) dispatchRouted(msg protocol.RoutedMsg) error {
	h.routesMu.RLock()
	fn := h.routes[msg.Method]
	h.routesMu.RUnlock()
	if fn == nil {
		return fmt.Errorf("%w: %s", ErrUnknownRouting, msg.Method)
	}
	return fn(msg)
}

// ServeAdminList answers admin sync requests by sending the admin list to
// every active peer.
func (h *Hub) ServeAdminList(admins []string) {
	h.HandleRouted(protocol.MethodRequestAdminSync, func(protocol.RoutedMsg) error {
		env, err := protocol.NewRouted(protocol.MethodAdminList, 0, protocol.AdminListMsg{Admins: admins})
		if err != nil {
			return err
		}
		h.Broadcast(env)
		return nil
	})
}
