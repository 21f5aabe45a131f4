package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"linkgate.ai/internal/protocol"
)

var (
	ErrClosed         = errors.New("ws: connection closed")
	ErrSendQueueFull  = errors.New("ws: send queue full")
	ErrUnknownPeer    = errors.New("ws: unknown peer")
	ErrUnknownRouting = errors.New("ws: no handler for routed method")
)

const (
	sendQueue    = 64
	writeTimeout = 5 * time.Second
	readTimeout  = 60 * time.Second
)

// Conn is one websocket connection with a named RPC handler table. Writes go
// through a single writer goroutine.
type Conn struct {
	id     string
	remote string
	ws     *websocket.Conn
	log    zerolog.Logger

	out     chan []byte
	final   chan []byte
	closing atomic.Bool
	once    sync.Once

	mu       sync.RWMutex
	handlers map[string]func(json.RawMessage)
}

func newConn(c *websocket.Conn, remote string, log zerolog.Logger) *Conn {
	id := uuid.NewString()
	return &Conn{
		id:       id,
		remote:   remote,
		ws:       c,
		log:      log.With().Str("conn", id).Logger(),
		out:      make(chan []byte, sendQueue),
		final:    make(chan []byte, 1),
		handlers: map[string]func(json.RawMessage){},
	}
}

func (c *Conn) ID() string         { return c.id }
func (c *Conn) RemoteAddr() string { return c.remote }

func (c *Conn) Register(name string, fn func(json.RawMessage)) {
	c.mu.Lock()
	c.handlers[name] = fn
	c.mu.Unlock()
}

func (c *Conn) handler(name string) func(json.RawMessage) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.handlers[name]
}

func (c *Conn) Send(env protocol.Envelope) error {
	if c.closing.Load() {
		return ErrClosed
	}
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	select {
	case c.out <- b:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Disconnect hands an ERROR frame carrying code to the writer, which flushes
// frames already queued, writes the ERROR and then closes. The ERROR frame
// bypasses the send queue.
func (c *Conn) Disconnect(code int) {
	if !c.closing.CompareAndSwap(false, true) {
		return
	}
	b, _ := json.Marshal(protocol.NewError(code))
	c.final <- b
}

func (c *Conn) close() {
	c.once.Do(func() {
		c.closing.Store(true)
		_ = c.ws.Close()
	})
}

func (c *Conn) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case b := <-c.out:
			if !c.write(b) {
				return
			}
		case b := <-c.final:
			c.flush()
			if !c.write(b) {
				c.log.Warn().Msg("disconnect frame not delivered")
				return
			}
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "disconnected"),
				time.Now().Add(time.Second))
			c.close()
			return
		}
	}
}

// flush writes whatever is still queued without waiting for more.
func (c *Conn) flush() {
	for {
		select {
		case b := <-c.out:
			if !c.write(b) {
				return
			}
		default:
			return
		}
	}
}

func (c *Conn) write(b []byte) bool {
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.ws.WriteMessage(websocket.TextMessage, b); err != nil {
		c.log.Debug().Err(err).Msg("write failed")
		c.close()
		return false
	}
	return true
}

// read returns the next schema-valid frame. Invalid frames are skipped.
func (c *Conn) read() (protocol.Envelope, error) {
	for {
		_ = c.ws.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			return protocol.Envelope{}, err
		}
		env, err := protocol.DecodeFrame(msg)
		if err != nil {
			c.log.Debug().Err(err).Msg("dropping invalid frame")
			continue
		}
		return env, nil
	}
}

// dispatch runs the handler registered for an RPC frame.
func (c *Conn) dispatch(env protocol.Envelope) {
	fn := c.handler(env.Name)
	if fn == nil {
		c.log.Debug().Str("rpc", env.Name).Msg("no handler")
		return
	}
	fn(env.Payload)
}
