package ws

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hilthontt/pokersync/internal/domain"
	"github.com/hilthontt/pokersync/internal/infrastructure/events"
	"github.com/hilthontt/pokersync/internal/infrastructure/logging"
	"github.com/hilthontt/pokersync/internal/infrastructure/metrics"
	"github.com/hilthontt/pokersync/internal/infrastructure/ratelimiter"
)

const (
	EmptyPolicyRetain = "retain"
	EmptyPolicyDelete = "delete"

	DefaultEventsPerSecond = 20
	DefaultMutationTimeout = 5 * time.Second

	actorQueueSize = 32
)

var ErrHubClosed = errors.New("hub is shutting down")

type HubOptions struct {
	EventsPerSecond int
	// EmptyPolicy decides what happens to a room nobody is connected to.
	EmptyPolicy     string
	EmptyGrace      time.Duration
	MutationTimeout time.Duration
	Events          events.RoomEvents
	Metrics         *metrics.Metrics
	Logger          logging.Logger
	Clock           func() time.Time
}

type command func(ctx context.Context)

// roomActor is the single writer of one room. Every mutation of the room
// runs on its goroutine, in arrival order.
type roomActor struct {
	roomCode string
	commands chan command
	refs     int
	// peers holds every connection that acquired the actor, admitted or
	// still connecting.
	peers    map[Peer]struct{}
	prev     <-chan struct{}
	done     chan struct{}
}

// Hub runs one actor per room that has at least one live connection and
// routes each connection's events through it.
type Hub struct {
	store    domain.RoomRepository
	registry *Registry
	router   *Router
	events   events.RoomEvents
	limiter  *ratelimiter.FixedWindowRateLimiter
	metrics  *metrics.Metrics
	logger   logging.Logger

	emptyPolicy     string
	emptyGrace      time.Duration
	mutationTimeout time.Duration

	mu       sync.Mutex
	rooms    map[string]*roomActor
	draining map[string]chan struct{}
	timers   map[string]*time.Timer
	closed   bool
	wg       sync.WaitGroup
}

var _ Handler = (*Hub)(nil)

func NewHub(store domain.RoomRepository, opts HubOptions) *Hub {
	if opts.EventsPerSecond <= 0 {
		opts.EventsPerSecond = DefaultEventsPerSecond
	}
	if opts.EmptyPolicy == "" {
		opts.EmptyPolicy = EmptyPolicyRetain
	}
	if opts.MutationTimeout <= 0 {
		opts.MutationTimeout = DefaultMutationTimeout
	}
	if opts.Events == nil {
		opts.Events = events.NewNopPublisher()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNopLogger()
	}

	h := &Hub{
		store:           store,
		events:          opts.Events,
		limiter:         ratelimiter.NewFixedWindowRateLimiter(opts.EventsPerSecond, time.Second),
		metrics:         opts.Metrics,
		logger:          opts.Logger,
		emptyPolicy:     opts.EmptyPolicy,
		emptyGrace:      opts.EmptyGrace,
		mutationTimeout: opts.MutationTimeout,
		rooms:           make(map[string]*roomActor),
		draining:        make(map[string]chan struct{}),
		timers:          make(map[string]*time.Timer),
	}

	h.registry = NewRegistry(RegistryOptions{
		OnEmpty: h.roomEmptied,
		Metrics: opts.Metrics,
		Logger:  opts.Logger,
	})
	h.router = NewRouter(store, h.registry, RouterOptions{
		Events: opts.Events,
		Logger: opts.Logger,
		Clock:  opts.Clock,
	})
	return h
}

func (h *Hub) Registry() *Registry {
	return h.registry
}

// Acquire takes a reference on the room's actor for conn, starting the
// actor if needed.
func (h *Hub) Acquire(conn Peer) error {
	return h.acquire(conn.RoomCode(), conn)
}

// Release drops the reference conn took with Acquire.
func (h *Hub) Release(conn Peer) {
	h.release(conn.RoomCode(), conn)
}

// acquire takes a reference on the room's actor. conn is nil for references
// the hub takes itself.
func (h *Hub) acquire(roomCode string, conn Peer) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrHubClosed
	}

	if a, ok := h.rooms[roomCode]; ok {
		a.refs++
		a.track(conn)
		return nil
	}

	a := &roomActor{
		roomCode: roomCode,
		commands: make(chan command, actorQueueSize),
		refs:     1,
		peers:    make(map[Peer]struct{}),
		prev:     h.draining[roomCode],
		done:     make(chan struct{}),
	}
	a.track(conn)
	h.rooms[roomCode] = a
	h.wg.Add(1)
	go h.runActor(a)

	if h.metrics != nil {
		h.metrics.RoomOpened()
	}
	return nil
}

// release drops a reference taken by acquire. The actor finishes its queue
// and exits once the last reference is gone.
func (h *Hub) release(roomCode string, conn Peer) {
	h.mu.Lock()
	defer h.mu.Unlock()

	a, ok := h.rooms[roomCode]
	if !ok {
		return
	}
	if conn != nil {
		delete(a.peers, conn)
	}
	a.refs--
	if a.refs > 0 {
		return
	}

	delete(h.rooms, roomCode)
	h.draining[roomCode] = a.done
	close(a.commands)

	if h.metrics != nil {
		h.metrics.RoomReleased()
	}
}

func (a *roomActor) track(conn Peer) {
	if conn != nil {
		a.peers[conn] = struct{}{}
	}
}

func (h *Hub) runActor(a *roomActor) {
	defer h.wg.Done()
	defer func() {
		h.mu.Lock()
		if h.draining[a.roomCode] == a.done {
			delete(h.draining, a.roomCode)
		}
		h.mu.Unlock()
	}()
	defer close(a.done)

	// A previous actor of the same room may still be draining.
	if a.prev != nil {
		<-a.prev
	}

	for cmd := range a.commands {
		h.execute(a.roomCode, cmd)
	}
}

func (h *Hub) execute(roomCode string, cmd command) {
	ctx, cancel := context.WithTimeout(context.Background(), h.mutationTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			h.logger.Error(logging.Room, logging.Mutation, "room command panicked", map[logging.ExtraKey]any{
				logging.RoomCode:     roomCode,
				logging.ErrorMessage: fmt.Sprint(r),
			})
		}
	}()

	cmd(ctx)
}

// do runs fn on the room's actor and waits for it. The caller must hold a
// reference on the room.
func (h *Hub) do(roomCode string, fn command) bool {
	h.mu.Lock()
	a, ok := h.rooms[roomCode]
	h.mu.Unlock()
	if !ok {
		return false
	}

	done := make(chan struct{})
	a.commands <- func(ctx context.Context) {
		defer close(done)
		fn(ctx)
	}
	<-done
	return true
}

// Dispatch decodes a frame from conn and applies it on the room's actor.
// Rejections go back to conn alone as an Error event.
func (h *Hub) Dispatch(conn Peer, data []byte) {
	ev, err := DecodeInbound(data)
	if err != nil {
		h.reject(conn, "", err)
		return
	}

	if ok, _ := h.limiter.Allow(conn.ID()); !ok {
		h.reject(conn, ev.Event, domain.ErrRateLimited)
		return
	}

	h.do(conn.RoomCode(), func(ctx context.Context) {
		if err := h.router.Route(ctx, conn, ev); err != nil {
			h.reject(conn, ev.Event, err)
			return
		}
		if h.metrics != nil {
			h.metrics.Event(eventLabel(ev.Event), "ok")
		}
		if ev.Event == EventJoin {
			h.cancelExpiry(conn.RoomCode())
		}
	})
}

// Leave runs when conn stops reading.
func (h *Hub) Leave(conn Peer) {
	h.limiter.Forget(conn.ID())

	h.do(conn.RoomCode(), func(ctx context.Context) {
		if err := h.router.Leave(ctx, conn); err != nil {
			h.logger.Warn(logging.Room, logging.Disconnect, "leave failed", map[logging.ExtraKey]any{
				logging.RoomCode:     conn.RoomCode(),
				logging.Participant:  conn.ParticipantID(),
				logging.ErrorMessage: err.Error(),
			})
		}
	})
}

func (h *Hub) reject(conn Peer, event string, err error) {
	if h.metrics != nil {
		h.metrics.Event(eventLabel(event), domain.Code(err))
	}

	extra := map[logging.ExtraKey]any{
		logging.RoomCode:     conn.RoomCode(),
		logging.ConnectionID: conn.ID(),
		logging.Event:        event,
		logging.ErrorMessage: err.Error(),
	}
	if domain.Code(err) == "Internal" || errors.Is(err, domain.ErrStorageUnavailable) {
		h.logger.Error(logging.Room, logging.Mutation, "event failed", extra)
	} else {
		h.logger.Debug(logging.Room, logging.Mutation, "event rejected", extra)
	}

	data, encErr := encode(NewErrorEvent(err))
	if encErr != nil {
		return
	}
	_ = conn.Send(data)
}

func (h *Hub) roomEmptied(roomCode string) {
	h.logger.Info(logging.Room, logging.Policy, "room has no connections", map[logging.ExtraKey]any{
		logging.RoomCode: roomCode,
	})

	ctx, cancel := context.WithTimeout(context.Background(), h.mutationTimeout)
	if err := h.events.RoomEmptied(ctx, roomCode); err != nil {
		h.logger.Warn(logging.RabbitMQ, logging.Publish, "publish room emptied", map[logging.ExtraKey]any{
			logging.RoomCode:     roomCode,
			logging.ErrorMessage: err.Error(),
		})
	}
	cancel()

	if h.emptyPolicy != EmptyPolicyDelete {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	if t, ok := h.timers[roomCode]; ok {
		t.Stop()
	}
	h.timers[roomCode] = time.AfterFunc(h.emptyGrace, func() { h.expire(roomCode) })
}

func (h *Hub) cancelExpiry(roomCode string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if t, ok := h.timers[roomCode]; ok {
		t.Stop()
		delete(h.timers, roomCode)
	}
}

// expire deletes a room that stayed empty for the whole grace period.
func (h *Hub) expire(roomCode string) {
	h.cancelExpiry(roomCode)

	if err := h.acquire(roomCode, nil); err != nil {
		return
	}
	defer h.release(roomCode, nil)

	h.do(roomCode, func(ctx context.Context) {
		if h.registry.Count(roomCode) > 0 {
			return
		}

		err := h.store.DeleteByRoomCode(ctx, roomCode)
		if err != nil && !errors.Is(err, domain.ErrRoomNotFound) {
			h.logger.Error(logging.Room, logging.Policy, "delete empty room", map[logging.ExtraKey]any{
				logging.RoomCode:     roomCode,
				logging.ErrorMessage: err.Error(),
			})
			return
		}
		if err != nil {
			return
		}

		h.logger.Info(logging.Room, logging.Policy, "deleted empty room", map[logging.ExtraKey]any{
			logging.RoomCode: roomCode,
		})
		if err := h.events.RoomDeleted(ctx, roomCode); err != nil {
			h.logger.Warn(logging.RabbitMQ, logging.Publish, "publish room deleted", map[logging.ExtraKey]any{
				logging.RoomCode:     roomCode,
				logging.ErrorMessage: err.Error(),
			})
		}
	})
}

// Shutdown refuses new rooms, closes every connection so clients move to
// another instance and waits for the room actors to finish. Connections
// that have not joined yet are closed too.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	for code, t := range h.timers {
		t.Stop()
		delete(h.timers, code)
	}
	var open []Peer
	for _, a := range h.rooms {
		for conn := range a.peers {
			open = append(open, conn)
		}
	}
	h.mu.Unlock()

	admitted := h.registry.CloseAll(domain.CloseGoingAway)
	for _, conn := range open {
		conn.CloseWithCode(domain.CloseGoingAway)
	}
	h.logger.Info(logging.WebSocket, logging.Shutdown, "closed connections", map[logging.ExtraKey]any{
		logging.Connections: len(open),
		logging.Admitted:    admitted,
	})

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	defer h.limiter.Close()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
