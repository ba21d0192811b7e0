package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hilthontt/pokersync/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoinSendsConnectedBeforeRoomUpdate(t *testing.T) {
	f := newHubFixture(t, HubOptions{})
	room := f.createRoom(t)

	p1 := f.join(t, room.RoomCode, "p1", "Ann")

	evs := p1.events(t)
	require.Len(t, evs, 2)
	assert.Equal(t, EventConnected, evs[0].Event)
	assert.Equal(t, "p1", evs[0].UserID)
	assert.True(t, evs[0].RoomExists)

	assert.Equal(t, EventRoomUpdate, evs[1].Event)
	require.NotNil(t, evs[1].RoomData.Moderator)
	assert.Equal(t, "p1", evs[1].RoomData.Moderator.ID)
	assert.Equal(t, "Ann", evs[1].RoomData.Participants["p1"].Name)
}

func TestJoinUnknownRoom(t *testing.T) {
	f := newHubFixture(t, HubOptions{})

	p := f.connect(t, "ZZZZ", "p1")
	f.send(t, p, InboundEvent{Event: EventJoin, Name: "Ann"})

	ev := p.last(t)
	assert.Equal(t, EventConnected, ev.Event)
	assert.False(t, ev.RoomExists)

	closed, code := p.isClosed()
	assert.True(t, closed)
	assert.Equal(t, domain.CloseRoomNotFound, code)
	assert.Equal(t, 0, f.hub.Registry().Count("ZZZZ"))
}

func TestJoinRejectsBadName(t *testing.T) {
	f := newHubFixture(t, HubOptions{})
	room := f.createRoom(t)

	p := f.connect(t, room.RoomCode, "p1")
	f.send(t, p, InboundEvent{Event: EventJoin, Name: "   "})

	ev := p.last(t)
	assert.Equal(t, EventError, ev.Event)
	assert.Equal(t, "ValidationFailed", ev.Code)
	assert.Equal(t, StateConnecting, p.State())
}

func TestEventsBeforeJoinAreRejected(t *testing.T) {
	f := newHubFixture(t, HubOptions{})
	room := f.createRoom(t)

	p := f.connect(t, room.RoomCode, "p1")
	f.send(t, p, InboundEvent{Event: EventVote, Value: "5"})

	ev := p.last(t)
	assert.Equal(t, EventError, ev.Event)
	assert.Equal(t, "ValidationFailed", ev.Code)
	assert.Empty(t, f.room(t, room.RoomCode).Participants)
}

func TestMalformedFrameIsRejected(t *testing.T) {
	f := newHubFixture(t, HubOptions{})
	room := f.createRoom(t)
	p := f.join(t, room.RoomCode, "p1", "Ann")
	p.reset()

	f.hub.Dispatch(p, []byte(`{"event":`))
	f.send(t, p, InboundEvent{Event: "Dance"})

	evs := p.events(t)
	require.Len(t, evs, 2)
	for _, ev := range evs {
		assert.Equal(t, EventError, ev.Event)
		assert.Equal(t, "ValidationFailed", ev.Code)
	}
}

func TestSecondJoinOnSameConnection(t *testing.T) {
	f := newHubFixture(t, HubOptions{})
	room := f.createRoom(t)
	p := f.join(t, room.RoomCode, "p1", "Ann")
	p.reset()

	f.send(t, p, InboundEvent{Event: EventJoin, Name: "Bob"})

	assert.Equal(t, EventError, p.last(t).Event)
	assert.Equal(t, "Ann", f.room(t, room.RoomCode).Participants["p1"].Name)
}

func TestChangeNameIsIdempotent(t *testing.T) {
	f := newHubFixture(t, HubOptions{})
	room := f.createRoom(t)
	p1 := f.join(t, room.RoomCode, "p1", "Ann")
	p2 := f.join(t, room.RoomCode, "p2", "Bob")
	p1.reset()
	p2.reset()

	f.send(t, p2, InboundEvent{Event: EventChangeName, Value: "Cy"})
	assert.Equal(t, 1, p1.count(t, EventRoomUpdate))
	assert.Equal(t, "Cy", p1.last(t).RoomData.Participants["p2"].Name)

	before := f.room(t, room.RoomCode).LastUpdated
	f.send(t, p2, InboundEvent{Event: EventChangeName, Value: "Cy"})
	assert.Equal(t, 1, p1.count(t, EventRoomUpdate), "an unchanged name is not broadcast")
	assert.Equal(t, before, f.room(t, room.RoomCode).LastUpdated)
}

func TestVotingRound(t *testing.T) {
	f := newHubFixture(t, HubOptions{})
	room := f.createRoom(t)
	mod := f.join(t, room.RoomCode, "mod", "Ann")
	voter := f.join(t, room.RoomCode, "p2", "Bob")

	f.send(t, voter, InboundEvent{Event: EventVote, Value: "5"})
	assert.Equal(t, EventError, voter.last(t).Event)

	f.send(t, voter, InboundEvent{Event: EventStartVoting})
	assert.Equal(t, "NotModerator", voter.last(t).Code)

	f.send(t, mod, InboundEvent{Event: EventStartVoting})
	assert.Equal(t, domain.StateVoting, voter.last(t).RoomData.State)

	f.send(t, voter, InboundEvent{Event: EventVote, Value: "4"})
	assert.Equal(t, "InvalidVoteValue", voter.last(t).Code)

	f.send(t, voter, InboundEvent{Event: EventVote, Value: "5"})
	assert.Equal(t, "5", mod.last(t).RoomData.Participants["p2"].Vote)

	f.send(t, mod, InboundEvent{Event: EventStopVoting})
	assert.Equal(t, domain.StateResults, f.room(t, room.RoomCode).State)
}

// The oversized description never reaches storage and nobody sees an
// update.
func TestOversizedDescriptionIsRejected(t *testing.T) {
	f := newHubFixture(t, HubOptions{})
	room := f.createRoom(t)
	mod := f.join(t, room.RoomCode, "mod", "Ann")
	voter := f.join(t, room.RoomCode, "p2", "Bob")
	mod.reset()
	voter.reset()
	before := f.room(t, room.RoomCode)

	f.send(t, mod, InboundEvent{Event: EventUpdateVotingDescription, Value: strings.Repeat("x", 301)})

	assert.Equal(t, "ValidationFailed", mod.last(t).Code)
	assert.Zero(t, mod.count(t, EventRoomUpdate))
	assert.Empty(t, voter.events(t))
	assert.Equal(t, before, f.room(t, room.RoomCode))
}

func TestVoterCannotKickModerator(t *testing.T) {
	f := newHubFixture(t, HubOptions{})
	room := f.createRoom(t)
	mod := f.join(t, room.RoomCode, "mod", "Ann")
	voter := f.join(t, room.RoomCode, "p2", "Bob")

	f.send(t, voter, InboundEvent{Event: EventKick, Target: "mod"})

	assert.Equal(t, "NotModerator", voter.last(t).Code)
	for _, p := range []*fakePeer{mod, voter} {
		closed, _ := p.isClosed()
		assert.False(t, closed)
	}
	assert.Equal(t, 2, f.hub.Registry().Count(room.RoomCode))
}

func TestModeratorKicksVoter(t *testing.T) {
	f := newHubFixture(t, HubOptions{})
	room := f.createRoom(t)
	mod := f.join(t, room.RoomCode, "mod", "Ann")
	voter := f.join(t, room.RoomCode, "p2", "Bob")
	voter.reset()

	f.send(t, mod, InboundEvent{Event: EventKick, Target: "p2"})

	assert.Equal(t, EventKicked, voter.last(t).Event)
	assert.Zero(t, voter.count(t, EventRoomUpdate))
	closed, code := voter.isClosed()
	assert.True(t, closed)
	assert.Equal(t, domain.CloseKicked, code)

	update := mod.last(t)
	assert.Equal(t, EventRoomUpdate, update.Event)
	assert.NotContains(t, update.RoomData.Participants, "p2")

	// The kicked connection's leave does not resurrect the participant.
	f.disconnect(voter)
	assert.NotContains(t, f.room(t, room.RoomCode).Participants, "p2")
}

func TestModeratorLeavingHandsOverRights(t *testing.T) {
	f := newHubFixture(t, HubOptions{})
	room := f.createRoom(t)
	mod := f.join(t, room.RoomCode, "mod", "Ann")
	bob := f.join(t, room.RoomCode, "p2", "Bob")
	time.Sleep(time.Millisecond)
	f.join(t, room.RoomCode, "p3", "Cy")

	f.disconnect(mod)

	current := f.room(t, room.RoomCode)
	assert.False(t, current.Participants["mod"].Connected)
	require.NotNil(t, current.Moderator)
	assert.Equal(t, "p2", current.Moderator.ID)
	assert.Equal(t, "p2", bob.last(t).RoomData.Moderator.ID)
}

func TestResumeKeepsParticipant(t *testing.T) {
	f := newHubFixture(t, HubOptions{})
	room := f.createRoom(t)
	first := f.join(t, room.RoomCode, "p1", "Ann")
	f.disconnect(first)
	require.False(t, f.room(t, room.RoomCode).Participants["p1"].Connected)

	second := f.join(t, room.RoomCode, "p1", "Ann")

	current := f.room(t, room.RoomCode)
	assert.Len(t, current.Participants, 1)
	assert.True(t, current.Participants["p1"].Connected)
	assert.Equal(t, "p1", current.Moderator.ID)
	assert.Equal(t, "p1", second.events(t)[0].UserID)
}

// A newer connection for the same participant closes the older one, whose
// later leave must not mark the participant disconnected.
func TestSupersededLeaveIsIgnored(t *testing.T) {
	f := newHubFixture(t, HubOptions{})
	room := f.createRoom(t)
	old := f.join(t, room.RoomCode, "p1", "Ann")
	current := f.join(t, room.RoomCode, "p1", "Ann")

	closed, code := old.isClosed()
	require.True(t, closed)
	assert.Equal(t, domain.CloseSuperseded, code)

	f.disconnect(old)

	assert.True(t, f.room(t, room.RoomCode).Participants["p1"].Connected)
	assert.Same(t, current, f.hub.Registry().Get(room.RoomCode, "p1"))
}

func TestCloseRoom(t *testing.T) {
	f := newHubFixture(t, HubOptions{})
	room := f.createRoom(t)
	mod := f.join(t, room.RoomCode, "mod", "Ann")
	voter := f.join(t, room.RoomCode, "p2", "Bob")

	f.send(t, voter, InboundEvent{Event: EventCloseRoom})
	assert.Equal(t, "NotModerator", voter.last(t).Code)

	f.send(t, mod, InboundEvent{Event: EventCloseRoom})

	for _, p := range []*fakePeer{mod, voter} {
		assert.Equal(t, EventRoomClosed, p.last(t).Event)
		closed, code := p.isClosed()
		assert.True(t, closed)
		assert.Equal(t, domain.CloseNormal, code)
	}

	_, err := f.store.Lookup(context.Background(), room.RoomCode)
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)

	f.disconnect(mod)
	f.disconnect(voter)
}

func TestEmptyRoomRetainedByDefault(t *testing.T) {
	f := newHubFixture(t, HubOptions{EmptyGrace: time.Millisecond})
	room := f.createRoom(t)
	p := f.join(t, room.RoomCode, "p1", "Ann")

	f.disconnect(p)
	time.Sleep(20 * time.Millisecond)

	_, err := f.store.Lookup(context.Background(), room.RoomCode)
	assert.NoError(t, err)
}

func TestEmptyRoomDeletedAfterGrace(t *testing.T) {
	f := newHubFixture(t, HubOptions{EmptyPolicy: EmptyPolicyDelete, EmptyGrace: 10 * time.Millisecond})
	room := f.createRoom(t)
	p := f.join(t, room.RoomCode, "p1", "Ann")

	f.disconnect(p)

	assert.Eventually(t, func() bool {
		_, err := f.store.Lookup(context.Background(), room.RoomCode)
		return err != nil
	}, time.Second, 5*time.Millisecond)
}

func TestRejoinCancelsEmptyRoomDeletion(t *testing.T) {
	f := newHubFixture(t, HubOptions{EmptyPolicy: EmptyPolicyDelete, EmptyGrace: 30 * time.Millisecond})
	room := f.createRoom(t)
	p := f.join(t, room.RoomCode, "p1", "Ann")
	f.disconnect(p)

	f.join(t, room.RoomCode, "p1", "Ann")
	time.Sleep(60 * time.Millisecond)

	_, err := f.store.Lookup(context.Background(), room.RoomCode)
	assert.NoError(t, err)
}

func TestInboundEventsAreRateLimited(t *testing.T) {
	f := newHubFixture(t, HubOptions{EventsPerSecond: 20})
	room := f.createRoom(t)
	p := f.join(t, room.RoomCode, "p1", "Ann")
	p.reset()

	for i := 0; i < 45; i++ {
		f.send(t, p, InboundEvent{Event: EventChangeName, Value: "Ann"})
	}

	limited := 0
	for _, ev := range p.events(t) {
		if ev.Event == EventError && ev.Code == "RateLimited" {
			limited++
		}
	}
	assert.GreaterOrEqual(t, limited, 5)
}

func TestActorRestartsAfterRelease(t *testing.T) {
	f := newHubFixture(t, HubOptions{})
	room := f.createRoom(t)

	for i := 0; i < 3; i++ {
		p := f.join(t, room.RoomCode, "p1", "Ann")
		f.disconnect(p)
	}

	assert.Equal(t, 0, f.hub.Registry().Count(room.RoomCode))
	assert.False(t, f.room(t, room.RoomCode).Participants["p1"].Connected)
}

func TestShutdownClosesConnections(t *testing.T) {
	f := newHubFixture(t, HubOptions{})
	room := f.createRoom(t)
	p := f.join(t, room.RoomCode, "p1", "Ann")

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		done <- f.hub.Shutdown(ctx)
	}()

	assert.Eventually(t, func() bool {
		closed, code := p.isClosed()
		return closed && code == domain.CloseGoingAway
	}, time.Second, time.Millisecond)

	f.disconnect(p)
	require.NoError(t, <-done)
	assert.ErrorIs(t, f.hub.Acquire(newFakePeer(room.RoomCode, "p2")), ErrHubClosed)
}

func TestShutdownClosesConnectingPeers(t *testing.T) {
	f := newHubFixture(t, HubOptions{})
	room := f.createRoom(t)
	joined := f.join(t, room.RoomCode, "p1", "Ann")
	connecting := f.connect(t, room.RoomCode, "p2")

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		done <- f.hub.Shutdown(ctx)
	}()

	// Connection.Serve returns once its peer is closed.
	for _, p := range []*fakePeer{joined, connecting} {
		assert.Eventually(t, func() bool {
			closed, code := p.isClosed()
			return closed && code == domain.CloseGoingAway
		}, time.Second, time.Millisecond)
		f.disconnect(p)
	}

	require.NoError(t, <-done)
}

// A connection that drops while its join is being written must not leave
// the participant marked connected.
func TestConnectionClosedDuringJoinIsMarkedDisconnected(t *testing.T) {
	f := newHubFixture(t, HubOptions{})
	room := f.createRoom(t)
	mod := f.join(t, room.RoomCode, "mod", "Ann")
	mod.reset()

	p := f.connect(t, room.RoomCode, "p2")
	p.dropOnAdmit.Store(true)
	f.send(t, p, InboundEvent{Event: EventJoin, Name: "Bob"})
	f.disconnect(p)

	current := f.room(t, room.RoomCode)
	require.Contains(t, current.Participants, "p2")
	assert.False(t, current.Participants["p2"].Connected)
	assert.Equal(t, "mod", current.Moderator.ID)
	assert.Nil(t, f.hub.Registry().Get(room.RoomCode, "p2"))

	update := mod.last(t)
	assert.Equal(t, EventRoomUpdate, update.Event)
	assert.False(t, update.RoomData.Participants["p2"].Connected)
}

// Peers voting and renaming at the same time all see the same sequence of
// room updates, and lastUpdated never moves backwards.
func TestConcurrentEventsAreSeenInOneOrder(t *testing.T) {
	f := newHubFixture(t, HubOptions{EventsPerSecond: 10_000})
	room := f.createRoom(t)

	peers := []*fakePeer{f.join(t, room.RoomCode, "mod", "Ann")}
	for _, id := range []string{"p2", "p3", "p4"} {
		peers = append(peers, f.join(t, room.RoomCode, id, "Voter "+id))
	}
	f.send(t, peers[0], InboundEvent{Event: EventStartVoting})
	for _, p := range peers {
		p.reset()
	}

	const steps = 20
	var wg sync.WaitGroup
	for _, p := range peers {
		frames := make([][]byte, 0, steps)
		for step := 0; step < steps; step++ {
			ev := InboundEvent{Event: EventVote, Value: []string{"3", "5"}[step/2%2]}
			if step%2 == 1 {
				ev = InboundEvent{Event: EventChangeName, Value: fmt.Sprintf("%s-%d", p.participantID, step)}
			}
			data, err := json.Marshal(ev)
			require.NoError(t, err)
			frames = append(frames, data)
		}

		wg.Add(1)
		go func(p *fakePeer) {
			defer wg.Done()
			for _, data := range frames {
				f.hub.Dispatch(p, data)
			}
		}(p)
	}
	wg.Wait()

	want := peers[0].roomUpdates(t)
	require.Len(t, want, len(peers)*steps)
	for i := 1; i < len(want); i++ {
		assert.False(t, want[i].LastUpdated.Before(want[i-1].LastUpdated), "update %d went back in time", i)
	}
	for _, p := range peers[1:] {
		assert.Equal(t, want, p.roomUpdates(t), "peer %s saw a different order", p.participantID)
	}

	last := want[len(want)-1]
	assert.Equal(t, f.room(t, room.RoomCode).LastUpdated.UTC(), last.LastUpdated.UTC())
}
