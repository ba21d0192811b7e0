package ws

import (
	"context"
	"errors"
	"time"

	"github.com/hilthontt/pokersync/internal/domain"
	"github.com/hilthontt/pokersync/internal/infrastructure/events"
	"github.com/hilthontt/pokersync/internal/infrastructure/logging"
)

type RouterOptions struct {
	Events events.RoomEvents
	Logger logging.Logger
	Clock  func() time.Time
}

// Router turns inbound events into room mutations. Its methods expect to run
// on the room's actor goroutine, one at a time per room.
type Router struct {
	store    domain.RoomRepository
	registry *Registry
	events   events.RoomEvents
	logger   logging.Logger
	now      func() time.Time
}

func NewRouter(store domain.RoomRepository, registry *Registry, opts RouterOptions) *Router {
	if opts.Events == nil {
		opts.Events = events.NewNopPublisher()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNopLogger()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	return &Router{
		store:    store,
		registry: registry,
		events:   opts.Events,
		logger:   opts.Logger,
		now:      opts.Clock,
	}
}

// Route dispatches one event from conn. Only Join is accepted before the
// connection has been admitted.
func (r *Router) Route(ctx context.Context, conn Peer, ev InboundEvent) error {
	if ev.Event != EventJoin && conn.State() != StateConnected {
		return domain.ErrNotJoined
	}

	switch ev.Event {
	case EventJoin:
		return r.Join(ctx, conn, ev.Name)
	case EventChangeName:
		return r.ChangeName(ctx, conn, ev.Value)
	case EventVote:
		return r.Vote(ctx, conn, ev.Value)
	case EventUpdateVotingDescription:
		return r.UpdateVotingDescription(ctx, conn, ev.Value)
	case EventKick:
		target := ev.Target
		if target == "" {
			target = ev.Value
		}
		return r.Kick(ctx, conn, target)
	case EventStartVoting:
		return r.StartVoting(ctx, conn)
	case EventStopVoting:
		return r.StopVoting(ctx, conn)
	case EventCloseRoom:
		return r.CloseRoom(ctx, conn)
	default:
		return domain.ErrUnknownEvent
	}
}

// Join admits conn to its room. A missing room is answered with
// Connected{roomExists:false} and a room-not-found close.
func (r *Router) Join(ctx context.Context, conn Peer, rawName string) error {
	if conn.State() != StateConnecting {
		return domain.ErrAlreadyJoined
	}

	name, err := domain.NormalizeName(rawName)
	if err != nil {
		return err
	}

	room, err := r.store.Lookup(ctx, conn.RoomCode())
	if errors.Is(err, domain.ErrRoomNotFound) {
		r.sendTo(conn, NewConnectedEvent(conn.ParticipantID(), false))
		conn.CloseWithCode(domain.CloseRoomNotFound)
		return nil
	}
	if err != nil {
		return err
	}

	update := room.JoinUpdate(conn.ParticipantID(), name, r.now().UTC())
	updated, err := r.store.UpdateByID(ctx, room.ID, update)
	if err != nil {
		return err
	}

	// The connection closed while the join was written. Its leave will find
	// it never joined, so the participant is marked disconnected here.
	if !conn.MarkConnected() {
		r.undoJoin(ctx, updated, conn.ParticipantID())
		return domain.ErrAlreadyJoined
	}
	r.sendTo(conn, NewConnectedEvent(conn.ParticipantID(), true))
	r.registry.Admit(conn.RoomCode(), conn.ParticipantID(), conn)
	r.broadcast(updated)

	r.logger.Info(logging.Room, logging.Join, "participant joined", map[logging.ExtraKey]any{
		logging.RoomCode:     conn.RoomCode(),
		logging.Participant:  conn.ParticipantID(),
		logging.ConnectionID: conn.ID(),
	})
	r.publish(func() error { return r.events.ParticipantJoined(ctx, updated, conn.ParticipantID()) })
	return nil
}

func (r *Router) undoJoin(ctx context.Context, room *domain.Room, participantID string) {
	if r.registry.Get(room.RoomCode, participantID) != nil {
		return
	}
	update := room.LeaveUpdate(participantID, r.registry.ParticipantIDs(room.RoomCode))
	if update.IsEmpty() {
		return
	}
	updated, err := r.store.UpdateByID(ctx, room.ID, update)
	if err != nil {
		r.logger.Warn(logging.Room, logging.Join, "undo join of closed connection", map[logging.ExtraKey]any{
			logging.RoomCode:     room.RoomCode,
			logging.Participant:  participantID,
			logging.ErrorMessage: err.Error(),
		})
		return
	}
	r.broadcast(updated)
}

func (r *Router) ChangeName(ctx context.Context, conn Peer, value string) error {
	return r.mutate(ctx, conn, func(room *domain.Room) (domain.Update, bool, error) {
		return room.ChangeNameUpdate(conn.ParticipantID(), value)
	})
}

func (r *Router) Vote(ctx context.Context, conn Peer, value string) error {
	return r.mutate(ctx, conn, func(room *domain.Room) (domain.Update, bool, error) {
		u, err := room.VoteUpdate(conn.ParticipantID(), value)
		return u, err == nil, err
	})
}

func (r *Router) UpdateVotingDescription(ctx context.Context, conn Peer, value string) error {
	return r.mutate(ctx, conn, func(room *domain.Room) (domain.Update, bool, error) {
		return room.DescriptionUpdate(conn.ParticipantID(), value)
	})
}

func (r *Router) StartVoting(ctx context.Context, conn Peer) error {
	return r.mutate(ctx, conn, func(room *domain.Room) (domain.Update, bool, error) {
		u, err := room.StartVotingUpdate(conn.ParticipantID())
		return u, err == nil, err
	})
}

func (r *Router) StopVoting(ctx context.Context, conn Peer) error {
	return r.mutate(ctx, conn, func(room *domain.Room) (domain.Update, bool, error) {
		u, err := room.StopVotingUpdate(conn.ParticipantID())
		return u, err == nil, err
	})
}

// Kick removes the target from the room, tells its connection and closes
// it before the others see the new room.
func (r *Router) Kick(ctx context.Context, conn Peer, targetID string) error {
	updated, err := r.apply(ctx, conn, func(room *domain.Room) (domain.Update, bool, error) {
		u, err := room.KickUpdate(conn.ParticipantID(), targetID)
		return u, err == nil, err
	})
	if err != nil || updated == nil {
		return err
	}

	if target := r.registry.Get(conn.RoomCode(), targetID); target != nil {
		r.registry.Remove(conn.RoomCode(), targetID, target)
		r.sendTo(target, NoticeEvent{Event: EventKicked})
		target.CloseWithCode(domain.CloseKicked)
	}
	r.broadcast(updated)

	r.logger.Info(logging.Room, logging.Mutation, "participant kicked", map[logging.ExtraKey]any{
		logging.RoomCode:    conn.RoomCode(),
		logging.Participant: targetID,
	})
	r.publish(func() error { return r.events.ParticipantKicked(ctx, updated, targetID) })
	return nil
}

// CloseRoom deletes the room and closes every connection normally so no
// client reconnects.
func (r *Router) CloseRoom(ctx context.Context, conn Peer) error {
	room, err := r.store.Lookup(ctx, conn.RoomCode())
	if err != nil {
		return err
	}
	if !room.IsModerator(conn.ParticipantID()) {
		return domain.ErrNotModerator
	}

	if err := r.store.DeleteByRoomCode(ctx, room.RoomCode); err != nil {
		return err
	}

	farewell, err := encode(NoticeEvent{Event: EventRoomClosed})
	if err != nil {
		return err
	}
	n := r.registry.CloseRoom(room.RoomCode, farewell, domain.CloseNormal)

	r.logger.Info(logging.Room, logging.Delete, "room closed by moderator", map[logging.ExtraKey]any{
		logging.RoomCode:    room.RoomCode,
		logging.Participant: conn.ParticipantID(),
		logging.Connections: n,
	})
	r.publish(func() error { return r.events.RoomDeleted(ctx, room.RoomCode) })
	return nil
}

// Leave marks the participant behind conn as disconnected. Nothing happens
// when conn was never admitted or has been superseded by a newer
// connection, or when the participant is already gone from the room.
func (r *Router) Leave(ctx context.Context, conn Peer) error {
	roomCode, participantID := conn.RoomCode(), conn.ParticipantID()

	current := r.registry.Get(roomCode, participantID)
	if current != nil && current != conn {
		return nil
	}
	if current == nil && !conn.Joined() {
		return nil
	}
	if current == conn {
		r.registry.Remove(roomCode, participantID, conn)
	}

	room, err := r.store.Lookup(ctx, roomCode)
	if errors.Is(err, domain.ErrRoomNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if _, ok := room.Participant(participantID); !ok {
		return nil
	}

	update := room.LeaveUpdate(participantID, r.registry.ParticipantIDs(roomCode))
	if update.IsEmpty() {
		return nil
	}
	updated, err := r.store.UpdateByID(ctx, room.ID, update)
	if err != nil {
		return err
	}
	r.broadcast(updated)

	r.logger.Info(logging.Room, logging.Disconnect, "participant left", map[logging.ExtraKey]any{
		logging.RoomCode:     roomCode,
		logging.Participant:  participantID,
		logging.ConnectionID: conn.ID(),
	})
	r.publish(func() error { return r.events.ParticipantLeft(ctx, updated, participantID) })
	return nil
}

func (r *Router) mutate(ctx context.Context, conn Peer, build func(*domain.Room) (domain.Update, bool, error)) error {
	updated, err := r.apply(ctx, conn, build)
	if err != nil || updated == nil {
		return err
	}
	r.broadcast(updated)
	return nil
}

// apply looks the room up, builds the update and writes it. A nil room with
// a nil error means there was nothing to write.
func (r *Router) apply(ctx context.Context, conn Peer, build func(*domain.Room) (domain.Update, bool, error)) (*domain.Room, error) {
	room, err := r.store.Lookup(ctx, conn.RoomCode())
	if err != nil {
		return nil, err
	}

	update, changed, err := build(room)
	if err != nil {
		return nil, err
	}
	if !changed || update.IsEmpty() {
		return nil, nil
	}

	return r.store.UpdateByID(ctx, room.ID, update)
}

func (r *Router) broadcast(room *domain.Room) {
	if _, err := r.registry.Broadcast(room.RoomCode, NewRoomUpdateEvent(room)); err != nil {
		r.logger.Error(logging.WebSocket, logging.Broadcast, "encode room update", map[logging.ExtraKey]any{
			logging.RoomCode:     room.RoomCode,
			logging.ErrorMessage: err.Error(),
		})
	}
}

func (r *Router) sendTo(conn Peer, v any) {
	data, err := encode(v)
	if err != nil {
		return
	}
	_ = conn.Send(data)
}

func (r *Router) publish(fn func() error) {
	if err := fn(); err != nil {
		r.logger.Warn(logging.RabbitMQ, logging.Publish, "publish room event", map[logging.ExtraKey]any{
			logging.ErrorMessage: err.Error(),
		})
	}
}
