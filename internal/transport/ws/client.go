package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"linkgate.ai/internal/protocol"
	"linkgate.ai/internal/sim/objstore"
	"linkgate.ai/internal/transport/gate"
)

// DisconnectError is returned by Client.Run when the host closed the
// session with a status code.
type DisconnectError struct {
	Code   int
	Detail string
}

func (e *DisconnectError) Error() string {
	return fmt.Sprintf("disconnected (%d %s): %s", e.Code, protocol.CodeText(e.Code), e.Detail)
}

// Client is the peer side of the transport. It mirrors the host's objects
// into a local replica.
type Client struct {
	conn    *Conn
	gate    *gate.Gate
	replica *objstore.Store
	info    protocol.PeerInfoMsg
	log     zerolog.Logger

	cancel context.CancelFunc

	mu     sync.Mutex
	admins []string
}

// Dial connects to a host, runs the version exchange and requests full
// participation.
func Dial(ctx context.Context, url string, g *gate.Gate, replica *objstore.Store, info protocol.PeerInfoMsg, log zerolog.Logger) (*Client, error) {
	wsConn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	if info.Version == "" {
		info.Version = g.Version()
	}
	log = log.With().Str("component", "ws").Logger()
	c := newConn(wsConn, url, log)
	wctx, cancel := context.WithCancel(context.Background())
	go c.writeLoop(wctx)

	cl := &Client{conn: c, gate: g, replica: replica, info: info, log: log, cancel: cancel}
	g.OnNewConnection(c)

	env, err := protocol.NewPeerInfo(info)
	if err != nil {
		cl.Close()
		return nil, err
	}
	if err := c.Send(env); err != nil {
		cl.Close()
		return nil, err
	}
	return cl, nil
}

// Run reads frames until the connection ends or ctx is cancelled.
func (cl *Client) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, cl.Close)
	defer stop()
	defer cl.Close()
	for {
		env, err := cl.conn.read()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		switch env.Type {
		case protocol.TypeRPC:
			cl.conn.dispatch(env)
		case protocol.TypeError:
			var msg protocol.ErrorMsg
			_ = json.Unmarshal(env.Payload, &msg)
			return &DisconnectError{Code: msg.Code, Detail: cl.gate.ConnectError(protocol.CodeText(msg.Code))}
		case protocol.TypePush:
			var obj objstore.Object
			if err := json.Unmarshal(env.Payload, &obj); err != nil {
				cl.log.Debug().Err(err).Msg("bad push")
				continue
			}
			if cl.replica != nil {
				cl.replica.Apply(obj)
			}
		case protocol.TypeRouted:
			cl.routed(env)
		}
	}
}

func (cl *Client) routed(env protocol.Envelope) {
	var msg protocol.RoutedMsg
	if err := json.Unmarshal(env.Payload, &msg); err != nil {
		return
	}
	switch msg.Method {
	case protocol.MethodAdminList:
		var list protocol.AdminListMsg
		if err := json.Unmarshal(msg.Payload, &list); err != nil {
			return
		}
		cl.mu.Lock()
		cl.admins = list.Admins
		cl.mu.Unlock()
		cl.log.Info().Int("admins", len(list.Admins)).Msg("admin list synced")
	default:
		cl.log.Debug().Str("method", msg.Method).Msg("unhandled routed request")
	}
}

// Admins is the last admin list received from the host.
func (cl *Client) Admins() []string {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return append([]string(nil), cl.admins...)
}

func (cl *Client) Close() {
	cl.cancel()
	cl.conn.close()
}
