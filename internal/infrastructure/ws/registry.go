package ws

import (
	"sync"

	"github.com/hilthontt/pokersync/internal/domain"
	"github.com/hilthontt/pokersync/internal/infrastructure/logging"
	"github.com/hilthontt/pokersync/internal/infrastructure/metrics"
)

type RegistryOptions struct {
	// OnEmpty runs after the last connection of a room is removed. It is
	// called without the registry lock held.
	OnEmpty func(roomCode string)
	Metrics *metrics.Metrics
	Logger  logging.Logger
}

// Registry maps room code and participant id to the one live connection the
// participant has in that room.
type Registry struct {
	mu      sync.Mutex
	rooms   map[string]map[string]Peer
	onEmpty func(roomCode string)
	metrics *metrics.Metrics
	logger  logging.Logger
}

func NewRegistry(opts RegistryOptions) *Registry {
	if opts.Logger == nil {
		opts.Logger = logging.NewNopLogger()
	}

	return &Registry{
		rooms:   make(map[string]map[string]Peer),
		onEmpty: opts.OnEmpty,
		metrics: opts.Metrics,
		logger:  opts.Logger,
	}
}

// Admit registers conn for the participant. A connection already registered
// for the same participant is closed as superseded before conn takes its
// place.
func (r *Registry) Admit(roomCode, participantID string, conn Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	peers, ok := r.rooms[roomCode]
	if !ok {
		peers = make(map[string]Peer)
		r.rooms[roomCode] = peers
	}

	prior, had := peers[participantID]
	if had && prior == conn {
		return
	}
	if had {
		prior.CloseWithCode(domain.CloseSuperseded)
		r.logger.Info(logging.WebSocket, logging.Join, "connection superseded", map[logging.ExtraKey]any{
			logging.RoomCode:     roomCode,
			logging.Participant:  participantID,
			logging.ConnectionID: prior.ID(),
		})
	} else if r.metrics != nil {
		r.metrics.ConnectionAdmitted()
	}

	peers[participantID] = conn
}

// Remove deregisters conn if it is still the participant's registered
// connection and reports whether it was.
func (r *Registry) Remove(roomCode, participantID string, conn Peer) bool {
	r.mu.Lock()
	removed, empty := r.removeLocked(roomCode, participantID, conn)
	r.mu.Unlock()

	if empty && r.onEmpty != nil {
		r.onEmpty(roomCode)
	}
	return removed
}

func (r *Registry) removeLocked(roomCode, participantID string, conn Peer) (removed, empty bool) {
	peers, ok := r.rooms[roomCode]
	if !ok || peers[participantID] != conn {
		return false, false
	}

	delete(peers, participantID)
	if r.metrics != nil {
		r.metrics.ConnectionRemoved()
	}
	if len(peers) == 0 {
		delete(r.rooms, roomCode)
		return true, true
	}
	return true, false
}

func (r *Registry) Get(roomCode, participantID string) Peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rooms[roomCode][participantID]
}

func (r *Registry) Count(roomCode string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms[roomCode])
}

// ParticipantIDs lists the participants with a live connection in the room.
func (r *Registry) ParticipantIDs(roomCode string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.rooms[roomCode]))
	for id := range r.rooms[roomCode] {
		ids = append(ids, id)
	}
	return ids
}

func (r *Registry) snapshot(roomCode string) []Peer {
	r.mu.Lock()
	defer r.mu.Unlock()

	peers := make([]Peer, 0, len(r.rooms[roomCode]))
	for _, p := range r.rooms[roomCode] {
		peers = append(peers, p)
	}
	return peers
}

// Broadcast serializes v once and queues it on every live connection of the
// room. A connection that cannot take the frame is removed and closed so the
// client reconnects and receives a fresh view. It returns how many
// connections received the frame.
func (r *Registry) Broadcast(roomCode string, v any) (int, error) {
	data, err := encode(v)
	if err != nil {
		return 0, err
	}

	delivered := 0
	for _, p := range r.snapshot(roomCode) {
		if err := p.Send(data); err != nil {
			r.drop(roomCode, p, err)
			continue
		}
		delivered++
	}

	if r.metrics != nil {
		r.metrics.Broadcast()
	}
	return delivered, nil
}

func (r *Registry) drop(roomCode string, p Peer, cause error) {
	if r.metrics != nil {
		r.metrics.DroppedPush()
	}
	r.logger.Warn(logging.WebSocket, logging.Broadcast, "dropping connection", map[logging.ExtraKey]any{
		logging.RoomCode:     roomCode,
		logging.Participant:  p.ParticipantID(),
		logging.ConnectionID: p.ID(),
		logging.ErrorMessage: cause.Error(),
	})

	r.Remove(roomCode, p.ParticipantID(), p)
	p.CloseWithCode(domain.CloseTryAgainLater)
}

// CloseRoom removes every connection of the room, queues farewell on each
// when it is not nil and closes them with code. OnEmpty is not called.
func (r *Registry) CloseRoom(roomCode string, farewell []byte, code int) int {
	r.mu.Lock()
	peers := r.rooms[roomCode]
	delete(r.rooms, roomCode)
	r.mu.Unlock()

	for _, p := range peers {
		if r.metrics != nil {
			r.metrics.ConnectionRemoved()
		}
		if farewell != nil {
			_ = p.Send(farewell)
		}
		p.CloseWithCode(code)
	}
	return len(peers)
}

// CloseAll closes every connection in every room.
func (r *Registry) CloseAll(code int) int {
	r.mu.Lock()
	codes := make([]string, 0, len(r.rooms))
	for roomCode := range r.rooms {
		codes = append(codes, roomCode)
	}
	r.mu.Unlock()

	n := 0
	for _, roomCode := range codes {
		n += r.CloseRoom(roomCode, nil, code)
	}
	return n
}
