// Package session is the client side of a room connection. A Controller
// keeps one live websocket per room, joins it, answers and sends heartbeats
// and redials on transport failures with the participant id it was given.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hilthontt/pokersync/internal/domain"
	"github.com/hilthontt/pokersync/internal/infrastructure/heartbeat"
	"github.com/hilthontt/pokersync/internal/infrastructure/logging"
	"github.com/hilthontt/pokersync/internal/infrastructure/ws"
	"github.com/sethvargo/go-retry"
)

const (
	DefaultBackoffBase = 250 * time.Millisecond
	DefaultBackoffMax  = 10 * time.Second

	writeWait        = 10 * time.Second
	closeGracePeriod = time.Second
	jitterPercent    = 20
)

var (
	ErrRoomNotFound = errors.New("room does not exist")
	ErrKicked       = errors.New("kicked from the room")
	ErrSuperseded   = errors.New("another connection took over this participant")
	ErrRoomClosed   = errors.New("room was closed by the moderator")
	ErrNotConnected = errors.New("not connected")

	errReset = errors.New("connection reset")
)

type Status int32

const (
	Connecting Status = iota
	Connected
	Disconnected
)

func (s Status) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Event is a client frame.
type Event = ws.InboundEvent

// CloseError is a close the controller recovers from by redialing.
type CloseError struct {
	Code int
	Err  error
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("connection closed with code %d: %v", e.Code, e.Err)
}

func (e *CloseError) Unwrap() error {
	return e.Err
}

// HandshakeError is a websocket upgrade the server refused outright.
type HandshakeError struct {
	StatusCode int
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("handshake rejected with status %d", e.StatusCode)
}

type Options struct {
	// ParticipantID resumes an earlier identity. Empty asks the server for
	// a new one.
	ParticipantID     string
	HeartbeatInterval time.Duration
	BackoffBase       time.Duration
	BackoffMax        time.Duration
	// MaxRetries bounds consecutive failed dials. Zero retries forever.
	MaxRetries uint64
	Dialer     *websocket.Dialer
	Header     http.Header
	Logger     logging.Logger

	OnStatus func(Status)
	OnRoom   func(*domain.Room)
	OnError  func(code, message string)
}

type Controller struct {
	endpoint url.URL
	roomCode string
	opts     Options
	logger   logging.Logger

	status atomic.Int32
	done   chan struct{}

	mu            sync.Mutex
	name          string
	conn          *websocket.Conn
	localClose    int
	participantID string
	room          *domain.Room
	closed        bool

	writeMu sync.Mutex
}

// New prepares a controller for one room. serverURL may use the http or
// the ws scheme family.
func New(serverURL, roomCode, name string, opts Options) (*Controller, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return nil, fmt.Errorf("invalid server url: unsupported scheme %q", u.Scheme)
	}

	code, err := domain.NormalizeRoomCode(roomCode)
	if err != nil {
		return nil, err
	}
	name, err = domain.NormalizeName(name)
	if err != nil {
		return nil, err
	}

	u.Path = path.Join("/", u.Path, "ws", code)
	u.RawQuery = ""

	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = heartbeat.DefaultInterval
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = DefaultBackoffBase
	}
	if opts.BackoffMax <= 0 {
		opts.BackoffMax = DefaultBackoffMax
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNopLogger()
	}

	c := &Controller{
		endpoint:      *u,
		roomCode:      code,
		opts:          opts,
		logger:        opts.Logger,
		done:          make(chan struct{}),
		name:          name,
		participantID: opts.ParticipantID,
	}
	c.status.Store(int32(Disconnected))
	return c, nil
}

func (c *Controller) RoomCode() string {
	return c.roomCode
}

func (c *Controller) Status() Status {
	return Status(c.status.Load())
}

// ParticipantID is the id the server confirmed last, or the resume hint
// before the first join.
func (c *Controller) ParticipantID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.participantID
}

// Room returns the last room view received.
func (c *Controller) Room() *domain.Room {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room
}

// Run connects and keeps the room connected until ctx is done, Close is
// called or the server ends the session for good. A nil error means the
// session ended normally.
func (c *Controller) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-c.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	defer c.setStatus(Disconnected)

	for {
		var established bool
		err := retry.Do(ctx, c.backoff(), func(ctx context.Context) error {
			var err error
			established, err = c.connect(ctx)
			if err != nil && !established && retryable(err) {
				return retry.RetryableError(err)
			}
			return err
		})

		switch {
		case c.isClosed():
			return nil
		case ctx.Err() != nil:
			return ctx.Err()
		case err == nil:
			return nil
		case errors.Is(err, errReset):
			c.logger.Debug(logging.WebSocket, logging.Connect, "redialing after reset", map[logging.ExtraKey]any{
				logging.RoomCode: c.roomCode,
			})
		case established && retryable(err):
			c.logger.Info(logging.WebSocket, logging.Connect, "connection lost, reconnecting", map[logging.ExtraKey]any{
				logging.RoomCode:     c.roomCode,
				logging.ErrorMessage: err.Error(),
			})
		default:
			return err
		}
	}
}

func (c *Controller) backoff() retry.Backoff {
	b := retry.NewExponential(c.opts.BackoffBase)
	b = retry.WithJitterPercent(jitterPercent, b)
	b = retry.WithCappedDuration(c.opts.BackoffMax, b)
	if c.opts.MaxRetries > 0 {
		b = retry.WithMaxRetries(c.opts.MaxRetries, b)
	}
	return b
}

func retryable(err error) bool {
	var closeErr *CloseError
	if errors.As(err, &closeErr) {
		return domain.ShouldReconnect(closeErr.Code)
	}

	var handshakeErr *HandshakeError
	if errors.As(err, &handshakeErr) {
		return handshakeErr.StatusCode >= http.StatusInternalServerError
	}

	switch {
	case errors.Is(err, ErrRoomNotFound),
		errors.Is(err, ErrKicked),
		errors.Is(err, ErrSuperseded),
		errors.Is(err, ErrRoomClosed),
		errors.Is(err, errReset):
		return false
	}
	return true
}

func (c *Controller) dialURL() string {
	u := c.endpoint
	if id := c.ParticipantID(); id != "" {
		q := url.Values{}
		q.Set("userId", id)
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// connect runs one connection from dial to close. established reports
// whether the server acknowledged the join.
func (c *Controller) connect(ctx context.Context) (established bool, err error) {
	if c.isClosed() {
		return false, nil
	}

	c.setStatus(Connecting)

	conn, resp, err := c.opts.Dialer.DialContext(ctx, c.dialURL(), c.opts.Header)
	if err != nil {
		c.setStatus(Disconnected)
		if resp != nil {
			resp.Body.Close()
			if errors.Is(err, websocket.ErrBadHandshake) {
				return false, &HandshakeError{StatusCode: resp.StatusCode}
			}
		}
		return false, fmt.Errorf("failed to dial %s: %w", c.endpoint.String(), err)
	}

	if !c.attach(conn) {
		conn.Close()
		return false, nil
	}
	defer c.detach(conn)

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, func() {
		c.closeConn(conn, domain.CloseNormal)
	})
	defer stop()

	monitor := heartbeat.NewMonitor(c.opts.HeartbeatInterval)
	go monitor.Run(sessionCtx, func() error {
		return c.write(conn, []byte(ws.PingMessage))
	}, func() {
		c.logger.Warn(logging.WebSocket, logging.Heartbeat, "server stopped answering pings", map[logging.ExtraKey]any{
			logging.RoomCode: c.roomCode,
		})
		c.closeConn(conn, domain.CloseHeartbeatTimeout)
		conn.Close()
	})

	c.mu.Lock()
	join := Event{Event: ws.EventJoin, Name: c.name}
	c.mu.Unlock()

	if err := c.writeJSON(conn, join); err != nil {
		c.setStatus(Disconnected)
		return false, &CloseError{Code: websocket.CloseAbnormalClosure, Err: err}
	}

	established, err = c.readLoop(conn, monitor)
	c.setStatus(Disconnected)
	return established, err
}

func (c *Controller) readLoop(conn *websocket.Conn, monitor *heartbeat.Monitor) (established bool, err error) {
	var roomClosed bool

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return established, c.closeResult(err, roomClosed)
		}
		monitor.Observe()

		switch strings.TrimSpace(string(data)) {
		case ws.PongMessage:
			monitor.Pong()
			continue
		case ws.PingMessage:
			_ = c.write(conn, []byte(ws.PongMessage))
			continue
		}

		ev, err := ws.DecodeOutbound(data)
		if err != nil {
			c.logger.Warn(logging.WebSocket, logging.Broadcast, "ignoring malformed frame", map[logging.ExtraKey]any{
				logging.RoomCode:     c.roomCode,
				logging.ErrorMessage: err.Error(),
			})
			continue
		}

		switch ev.Event {
		case ws.EventConnected:
			if !ev.RoomExists {
				c.closeConn(conn, domain.CloseNormal)
				return established, ErrRoomNotFound
			}
			c.mu.Lock()
			c.participantID = ev.UserID
			c.mu.Unlock()
			established = true
			c.setStatus(Connected)

		case ws.EventRoomUpdate:
			c.mu.Lock()
			c.room = ev.RoomData
			c.mu.Unlock()
			if c.opts.OnRoom != nil {
				c.opts.OnRoom(ev.RoomData)
			}

		case ws.EventRoomClosed:
			roomClosed = true

		case ws.EventKicked:
			c.logger.Info(logging.WebSocket, logging.Disconnect, "kicked from the room", map[logging.ExtraKey]any{
				logging.RoomCode: c.roomCode,
			})

		case ws.EventError:
			if c.opts.OnError != nil {
				c.opts.OnError(ev.Code, ev.Message)
			}
		}
	}
}

// closeResult turns the error that ended the read loop into the session
// outcome. A close this side started wins over whatever the server sent.
func (c *Controller) closeResult(err error, roomClosed bool) error {
	code := websocket.CloseAbnormalClosure
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		code = closeErr.Code
	}

	c.mu.Lock()
	if c.localClose != 0 {
		code = c.localClose
	}
	c.mu.Unlock()

	switch code {
	case domain.CloseNormal:
		if roomClosed {
			return ErrRoomClosed
		}
		return nil
	case domain.CloseManualReset:
		return errReset
	case domain.CloseSuperseded:
		return ErrSuperseded
	case domain.CloseKicked:
		return ErrKicked
	case domain.CloseRoomNotFound:
		return ErrRoomNotFound
	}
	return &CloseError{Code: code, Err: err}
}

func (c *Controller) attach(conn *websocket.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	c.conn = conn
	c.localClose = 0
	return true
}

func (c *Controller) detach(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()

	conn.Close()
}

func (c *Controller) current() *websocket.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

func (c *Controller) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Controller) setStatus(s Status) {
	if Status(c.status.Swap(int32(s))) == s {
		return
	}
	if c.opts.OnStatus != nil {
		c.opts.OnStatus(s)
	}
}

// closeConn starts the closing handshake once per connection and bounds
// how long the read loop waits for the server's reply.
func (c *Controller) closeConn(conn *websocket.Conn, code int) {
	c.mu.Lock()
	if c.conn != conn || c.localClose != 0 {
		c.mu.Unlock()
		return
	}
	c.localClose = code
	c.mu.Unlock()

	msg := websocket.FormatCloseMessage(code, domain.CloseReason(code))
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	_ = conn.SetReadDeadline(time.Now().Add(closeGracePeriod))
}

func (c *Controller) write(conn *websocket.Conn, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Controller) writeJSON(conn *websocket.Conn, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return c.write(conn, data)
}

// Dispatch sends one event on the live connection.
func (c *Controller) Dispatch(ev Event) error {
	conn := c.current()
	if conn == nil || c.Status() != Connected {
		return ErrNotConnected
	}
	return c.writeJSON(conn, ev)
}

// ChangeName renames the participant. The new name is also used when the
// controller rejoins.
func (c *Controller) ChangeName(name string) error {
	name, err := domain.NormalizeName(name)
	if err != nil {
		return err
	}
	if err := c.Dispatch(Event{Event: ws.EventChangeName, Value: name}); err != nil {
		return err
	}

	c.mu.Lock()
	c.name = name
	c.mu.Unlock()
	return nil
}

func (c *Controller) Vote(value string) error {
	return c.Dispatch(Event{Event: ws.EventVote, Value: value})
}

// UpdateVotingDescription sends the description only when it differs from
// the one in the last room view.
func (c *Controller) UpdateVotingDescription(value string) error {
	value, err := domain.NormalizeDescription(value)
	if err != nil {
		return err
	}
	if room := c.Room(); room != nil && room.VotingDescription == value {
		return nil
	}
	return c.Dispatch(Event{Event: ws.EventUpdateVotingDescription, Value: value})
}

func (c *Controller) Kick(participantID string) error {
	return c.Dispatch(Event{Event: ws.EventKick, Target: participantID})
}

func (c *Controller) StartVoting() error {
	return c.Dispatch(Event{Event: ws.EventStartVoting})
}

func (c *Controller) StopVoting() error {
	return c.Dispatch(Event{Event: ws.EventStopVoting})
}

func (c *Controller) CloseRoom() error {
	return c.Dispatch(Event{Event: ws.EventCloseRoom})
}

// Reset drops the live connection and redials right away with the same
// participant id.
func (c *Controller) Reset() error {
	conn := c.current()
	if conn == nil {
		return ErrNotConnected
	}
	c.closeConn(conn, domain.CloseManualReset)
	return nil
}

// Close leaves the room. Run returns nil once the connection is closed.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	conn := c.conn
	if conn != nil {
		c.localClose = domain.CloseNormal
	}
	c.mu.Unlock()

	if conn != nil {
		msg := websocket.FormatCloseMessage(domain.CloseNormal, domain.CloseReason(domain.CloseNormal))
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		_ = conn.SetReadDeadline(time.Now().Add(closeGracePeriod))
	}
	close(c.done)
}
