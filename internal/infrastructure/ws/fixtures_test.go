package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hilthontt/pokersync/internal/domain"
	"github.com/hilthontt/pokersync/internal/infrastructure/cache"
	"github.com/hilthontt/pokersync/internal/persistence/repository"
	"github.com/stretchr/testify/require"
)

// fakePeer records what the server queues for it.
type fakePeer struct {
	id            string
	roomCode      string
	participantID string

	state  atomic.Int32
	joined atomic.Bool

	// dropOnAdmit closes the peer just before it would be marked connected.
	dropOnAdmit atomic.Bool

	mu        sync.Mutex
	frames    [][]byte
	closed    bool
	closeCode int
	failSend  bool
}

func newFakePeer(roomCode, participantID string) *fakePeer {
	return &fakePeer{
		id:            uuid.NewString(),
		roomCode:      roomCode,
		participantID: participantID,
	}
}

func (p *fakePeer) ID() string            { return p.id }
func (p *fakePeer) RoomCode() string      { return p.roomCode }
func (p *fakePeer) ParticipantID() string { return p.participantID }
func (p *fakePeer) State() ConnState      { return ConnState(p.state.Load()) }
func (p *fakePeer) Joined() bool          { return p.joined.Load() }

func (p *fakePeer) MarkConnected() bool {
	if p.dropOnAdmit.Load() {
		p.CloseWithCode(domain.CloseNormal)
	}
	if !p.state.CompareAndSwap(int32(StateConnecting), int32(StateConnected)) {
		return false
	}
	p.joined.Store(true)
	return true
}

func (p *fakePeer) Send(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrConnectionClosed
	}
	if p.failSend {
		return ErrSendBufferFull
	}
	p.frames = append(p.frames, data)
	return nil
}

func (p *fakePeer) CloseWithCode(code int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true
	p.closeCode = code
	p.state.Store(int32(StateDisconnected))
}

func (p *fakePeer) setFailSend(fail bool) {
	p.mu.Lock()
	p.failSend = fail
	p.mu.Unlock()
}

func (p *fakePeer) isClosed() (bool, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed, p.closeCode
}

func (p *fakePeer) events(t *testing.T) []OutboundEvent {
	t.Helper()

	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]OutboundEvent, 0, len(p.frames))
	for _, f := range p.frames {
		ev, err := DecodeOutbound(f)
		require.NoError(t, err, "frame %s", f)
		out = append(out, ev)
	}
	return out
}

func (p *fakePeer) last(t *testing.T) OutboundEvent {
	t.Helper()

	evs := p.events(t)
	require.NotEmpty(t, evs)
	return evs[len(evs)-1]
}

func (p *fakePeer) count(t *testing.T, event string) int {
	t.Helper()

	n := 0
	for _, ev := range p.events(t) {
		if ev.Event == event {
			n++
		}
	}
	return n
}

func (p *fakePeer) roomUpdates(t *testing.T) []*domain.Room {
	t.Helper()

	var out []*domain.Room
	for _, ev := range p.events(t) {
		if ev.Event == EventRoomUpdate {
			out = append(out, ev.RoomData)
		}
	}
	return out
}

func (p *fakePeer) reset() {
	p.mu.Lock()
	p.frames = nil
	p.mu.Unlock()
}

type hubFixture struct {
	hub     *Hub
	store   *repository.RoomStore
	storage *repository.MemoryRoomStorage

	mu    sync.Mutex
	peers map[*fakePeer]bool
}

func newHubFixture(t *testing.T, opts HubOptions) *hubFixture {
	t.Helper()

	storage := repository.NewMemoryRoomStorage()
	c := cache.New(cache.Options[*domain.Room]{})
	t.Cleanup(c.Close)

	store := repository.NewRoomStore(storage, c, repository.StoreOptions{TTL: time.Hour})
	f := &hubFixture{
		hub:     NewHub(store, opts),
		store:   store,
		storage: storage,
		peers:   make(map[*fakePeer]bool),
	}
	t.Cleanup(func() {
		f.mu.Lock()
		var open []*fakePeer
		for p, released := range f.peers {
			if !released {
				open = append(open, p)
			}
		}
		f.mu.Unlock()

		for _, p := range open {
			f.disconnect(p)
		}

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = f.hub.Shutdown(ctx)
	})

	return f
}

func (f *hubFixture) createRoom(t *testing.T) *domain.Room {
	t.Helper()

	for attempt := 0; ; attempt++ {
		room, err := domain.NewRoom(nil)
		require.NoError(t, err)

		created, err := f.store.Create(context.Background(), room)
		if errors.Is(err, domain.ErrDuplicateRoomCode) && attempt < 5 {
			continue
		}
		require.NoError(t, err)
		return created
	}
}

func (f *hubFixture) room(t *testing.T, roomCode string) *domain.Room {
	t.Helper()

	room, err := f.store.Lookup(context.Background(), roomCode)
	require.NoError(t, err)
	return room
}

// connect acquires the room for a new fake peer the way Connection.Serve
// does.
func (f *hubFixture) connect(t *testing.T, roomCode, participantID string) *fakePeer {
	t.Helper()

	p := newFakePeer(roomCode, participantID)
	require.NoError(t, f.hub.Acquire(p))

	f.mu.Lock()
	f.peers[p] = false
	f.mu.Unlock()
	return p
}

// disconnect mirrors the end of Connection.Serve. It runs once per peer.
func (f *hubFixture) disconnect(p *fakePeer) {
	f.mu.Lock()
	if f.peers[p] {
		f.mu.Unlock()
		return
	}
	f.peers[p] = true
	f.mu.Unlock()

	p.CloseWithCode(domain.CloseNormal)
	f.hub.Leave(p)
	f.hub.Release(p)
}

func (f *hubFixture) send(t *testing.T, p *fakePeer, ev InboundEvent) {
	t.Helper()

	data, err := json.Marshal(ev)
	require.NoError(t, err)
	f.hub.Dispatch(p, data)
}

func (f *hubFixture) join(t *testing.T, roomCode, participantID, name string) *fakePeer {
	t.Helper()

	p := f.connect(t, roomCode, participantID)
	f.send(t, p, InboundEvent{Event: EventJoin, Name: name})
	require.Equal(t, StateConnected, p.State())
	return p
}
