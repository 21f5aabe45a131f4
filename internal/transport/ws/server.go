package ws

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"linkgate.ai/internal/protocol"
	"linkgate.ai/internal/transport/gate"
)

// Server is the host side of the transport. Each connection goes through the
// version gate before it may join the hub.
type Server struct {
	gate *gate.Gate
	hub  *Hub
	log  zerolog.Logger

	upgrader websocket.Upgrader
}

func NewServer(g *gate.Gate, hub *Hub, log zerolog.Logger) *Server {
	return &Server{
		gate: g,
		hub:  hub,
		log:  log.With().Str("component", "ws").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		wsConn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		c := newConn(wsConn, r.RemoteAddr, s.log)
		defer c.close()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go c.writeLoop(ctx)

		s.gate.OnNewConnection(c)
		s.readLoop(c)

		// Cleanup.
		s.hub.Leave(c)
		s.gate.OnDisconnect(c)
	}
}

func (s *Server) readLoop(c *Conn) {
	for {
		env, err := c.read()
		if err != nil {
			return
		}
		switch env.Type {
		case protocol.TypeRPC:
			c.dispatch(env)
		case protocol.TypePeerInfo:
			var info protocol.PeerInfoMsg
			if err := json.Unmarshal(env.Payload, &info); err != nil {
				continue
			}
			s.peerInfo(c, info)
		case protocol.TypeRouted:
			var msg protocol.RoutedMsg
			if err := json.Unmarshal(env.Payload, &msg); err != nil {
				continue
			}
			if err := s.hub.dispatchRouted(msg); err != nil {
				c.log.Debug().Err(err).Msg("routed request")
			}
		case protocol.TypeError:
			return
		}
	}
}

// peerInfo is the host's participation step wrapped by the gate.
func (s *Server) peerInfo(c *Conn, info protocol.PeerInfoMsg) {
	if !s.gate.BeforePeerInfo(c) {
		return
	}
	s.hub.Join(c, info)
	s.gate.AfterPeerInfo(c)
}
