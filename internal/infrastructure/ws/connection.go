package ws

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/hilthontt/pokersync/internal/domain"
	"github.com/hilthontt/pokersync/internal/infrastructure/heartbeat"
	"github.com/hilthontt/pokersync/internal/infrastructure/logging"
	"github.com/hilthontt/pokersync/internal/infrastructure/metrics"
)

const (
	DefaultSendBuffer     = 64
	DefaultMaxMessageSize = 4096

	writeWait        = 10 * time.Second
	closeGracePeriod = time.Second
)

var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrSendBufferFull   = errors.New("send buffer full")
)

type ConnState int32

const (
	StateConnecting ConnState = iota
	StateConnected
	StateDisconnected
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Peer is one live client connection as seen by the registry and router.
type Peer interface {
	ID() string
	RoomCode() string
	ParticipantID() string
	State() ConnState
	// MarkConnected moves a connecting peer to connected. It reports false
	// when the peer was not connecting.
	MarkConnected() bool
	// Joined reports whether the peer was ever connected.
	Joined() bool
	// Send queues a frame without blocking.
	Send(data []byte) error
	// CloseWithCode queues a close frame after pending frames and closes the
	// peer. Later calls are ignored.
	CloseWithCode(code int)
}

// Handler receives what a connection reads. The hub implements it.
type Handler interface {
	Acquire(conn Peer) error
	Dispatch(conn Peer, data []byte)
	Leave(conn Peer)
	Release(conn Peer)
}

type ConnectionOptions struct {
	SendBuffer        int
	MaxMessageSize    int64
	HeartbeatInterval time.Duration
	Metrics           *metrics.Metrics
	Logger            logging.Logger
}

// Connection owns one websocket: a read goroutine feeding the handler, a
// write goroutine draining the send buffer and a heartbeat monitor.
type Connection struct {
	id            string
	roomCode      string
	participantID string

	conn    *connWrapper
	ws      *websocket.Conn
	handler Handler
	monitor *heartbeat.Monitor
	metrics *metrics.Metrics
	logger  logging.Logger

	maxMessageSize int64
	state          atomic.Int32
	joined         atomic.Bool

	mu        sync.Mutex
	send      chan []byte
	closing   chan struct{}
	closed    bool
	closeCode int
}

var _ Peer = (*Connection)(nil)

func NewConnection(conn *websocket.Conn, roomCode, participantID string, handler Handler, opts ConnectionOptions) *Connection {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = DefaultSendBuffer
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = DefaultMaxMessageSize
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNopLogger()
	}

	return &Connection{
		id:             uuid.NewString(),
		roomCode:       roomCode,
		participantID:  participantID,
		conn:           newConnWrapper(conn, writeWait),
		ws:             conn,
		handler:        handler,
		monitor:        heartbeat.NewMonitor(opts.HeartbeatInterval),
		metrics:        opts.Metrics,
		logger:         opts.Logger,
		maxMessageSize: opts.MaxMessageSize,
		send:           make(chan []byte, opts.SendBuffer),
		closing:        make(chan struct{}),
	}
}

func (c *Connection) ID() string            { return c.id }
func (c *Connection) RoomCode() string      { return c.roomCode }
func (c *Connection) ParticipantID() string { return c.participantID }
func (c *Connection) State() ConnState      { return ConnState(c.state.Load()) }

func (c *Connection) Joined() bool { return c.joined.Load() }

func (c *Connection) MarkConnected() bool {
	if !c.state.CompareAndSwap(int32(StateConnecting), int32(StateConnected)) {
		return false
	}
	c.joined.Store(true)
	return true
}

func (c *Connection) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrConnectionClosed
	}

	select {
	case c.send <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

func (c *Connection) CloseWithCode(code int) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.closeCode = code
	c.mu.Unlock()

	c.state.Store(int32(StateDisconnected))
	close(c.closing)

	if c.metrics != nil {
		c.metrics.ConnectionClosed(code)
	}
	c.logger.Debug(logging.WebSocket, logging.Disconnect, "closing connection", map[logging.ExtraKey]any{
		logging.RoomCode:     c.roomCode,
		logging.Participant:  c.participantID,
		logging.ConnectionID: c.id,
		logging.CloseCode:    code,
	})
}

// Serve runs the connection until it closes. The room is acquired for the
// whole lifetime and the participant leaves before it is released.
func (c *Connection) Serve(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.writePump()
	}()
	go func() {
		defer wg.Done()
		c.monitor.Run(ctx, c.conn.Ping, c.heartbeatFailed)
	}()

	if err := c.handler.Acquire(c); err != nil {
		c.CloseWithCode(domain.CloseGoingAway)
	} else {
		c.readPump(ctx)
		c.handler.Leave(c)
		c.handler.Release(c)
	}

	c.CloseWithCode(domain.CloseNormal)
	cancel()
	wg.Wait()
	_ = c.conn.Close()
}

func (c *Connection) readPump(ctx context.Context) {
	c.ws.SetReadLimit(c.maxMessageSize)
	c.ws.SetPongHandler(func(string) error {
		c.monitor.Pong()
		return nil
	})

	stop := context.AfterFunc(ctx, func() {
		_ = c.ws.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				c.logger.Warn(logging.WebSocket, logging.Disconnect, "read failed", map[logging.ExtraKey]any{
					logging.RoomCode:     c.roomCode,
					logging.ConnectionID: c.id,
					logging.ErrorMessage: err.Error(),
				})
			}
			return
		}

		c.monitor.Observe()

		switch strings.TrimSpace(string(raw)) {
		case "":
			continue
		case PingMessage:
			_ = c.Send([]byte(PongMessage))
		case PongMessage:
			c.monitor.Pong()
		default:
			c.handler.Dispatch(c, raw)
		}
	}
}

func (c *Connection) writePump() {
	for {
		select {
		case data := <-c.send:
			if err := c.conn.WriteText(data); err != nil {
				c.writeFailed(err)
				return
			}
		case <-c.closing:
			c.flush()
			return
		}
	}
}

// flush writes what is still queued, then the close frame, and gives the
// peer a moment to answer before the read side is cut off.
func (c *Connection) flush() {
	for drained := false; !drained; {
		select {
		case data := <-c.send:
			if err := c.conn.WriteText(data); err != nil {
				_ = c.ws.SetReadDeadline(time.Now())
				return
			}
		default:
			drained = true
		}
	}

	c.mu.Lock()
	code := c.closeCode
	c.mu.Unlock()

	_ = c.conn.WriteClose(code, domain.CloseReason(code))
	_ = c.ws.SetReadDeadline(time.Now().Add(closeGracePeriod))
}

func (c *Connection) writeFailed(err error) {
	c.logger.Warn(logging.WebSocket, logging.Broadcast, "write failed", map[logging.ExtraKey]any{
		logging.RoomCode:     c.roomCode,
		logging.ConnectionID: c.id,
		logging.ErrorMessage: err.Error(),
	})
	c.CloseWithCode(websocket.CloseAbnormalClosure)
	_ = c.ws.SetReadDeadline(time.Now())
}

func (c *Connection) heartbeatFailed() {
	if c.metrics != nil {
		c.metrics.HeartbeatTimeout()
	}
	c.logger.Info(logging.WebSocket, logging.Heartbeat, "peer stopped answering pings", map[logging.ExtraKey]any{
		logging.RoomCode:     c.roomCode,
		logging.Participant:  c.participantID,
		logging.ConnectionID: c.id,
	})
	c.CloseWithCode(domain.CloseHeartbeatTimeout)
}
