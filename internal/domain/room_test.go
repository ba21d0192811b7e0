package domain_test

import (
	"strings"
	"testing"
	"time"

	"github.com/hilthontt/pokersync/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRoom(t *testing.T) *domain.Room {
	t.Helper()

	room, err := domain.NewRoom(nil)
	require.NoError(t, err)
	room.ID = "room-1"
	return room
}

func join(t *testing.T, room *domain.Room, id, name string, at time.Time) {
	t.Helper()
	require.NoError(t, room.Apply(room.JoinUpdate(id, name, at)))
}

func TestNewRoom(t *testing.T) {
	room, err := domain.NewRoom(nil)
	require.NoError(t, err)

	assert.Len(t, room.RoomCode, 4)
	assert.Equal(t, strings.ToUpper(room.RoomCode), room.RoomCode)
	assert.Nil(t, room.Moderator)
	assert.Empty(t, room.Participants)
	assert.Equal(t, domain.StateWaiting, room.State)
	assert.Equal(t, domain.DefaultOptions, room.Options)

	_, err = domain.NewRoom([]string{"1", "1"})
	assert.ErrorIs(t, err, domain.ErrValidationFailed)

	_, err = domain.NewRoom([]string{"way too long option"})
	assert.ErrorIs(t, err, domain.ErrValidationFailed)
}

func TestJoinUpdate(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name     string
		setup    func(t *testing.T, room *domain.Room)
		id       string
		join     string
		validate func(t *testing.T, room *domain.Room)
	}{
		{
			name: "first joiner becomes moderator",
			id:   "p1",
			join: "Ann",
			validate: func(t *testing.T, room *domain.Room) {
				require.NotNil(t, room.Moderator)
				assert.Equal(t, "p1", room.Moderator.ID)
				assert.Equal(t, "Ann", room.Moderator.Name)
				assert.True(t, room.Participants["p1"].Connected)
			},
		},
		{
			name: "second joiner is a voter",
			setup: func(t *testing.T, room *domain.Room) {
				join(t, room, "p1", "Ann", now)
			},
			id:   "p2",
			join: "Bob",
			validate: func(t *testing.T, room *domain.Room) {
				assert.Equal(t, "p1", room.Moderator.ID)
				assert.Equal(t, domain.RoleVoter, room.Role("p2"))
				assert.Len(t, room.Participants, 2)
			},
		},
		{
			name: "resume keeps moderator rights and refreshes name",
			setup: func(t *testing.T, room *domain.Room) {
				join(t, room, "p1", "Ann", now)
				require.NoError(t, room.Apply(room.LeaveUpdate("p1", nil)))
			},
			id:   "p1",
			join: "Annie",
			validate: func(t *testing.T, room *domain.Room) {
				assert.Equal(t, domain.RoleModerator, room.Role("p1"))
				assert.Equal(t, "Annie", room.Moderator.Name)
				assert.Equal(t, "Annie", room.Participants["p1"].Name)
				assert.True(t, room.Participants["p1"].Connected)
				assert.Len(t, room.Participants, 1)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			room := newTestRoom(t)
			if tt.setup != nil {
				tt.setup(t, room)
			}

			join(t, room, tt.id, tt.join, now)

			tt.validate(t, room)
		})
	}
}

func TestChangeNameUpdate(t *testing.T) {
	room := newTestRoom(t)
	join(t, room, "p1", "Ann", time.Now())

	_, changed, err := room.ChangeNameUpdate("p1", "  Ann ")
	require.NoError(t, err)
	assert.False(t, changed, "unchanged name must not produce an update")

	u, changed, err := room.ChangeNameUpdate("p1", "Bea")
	require.NoError(t, err)
	require.True(t, changed)
	require.NoError(t, room.Apply(u))
	assert.Equal(t, "Bea", room.Participants["p1"].Name)
	assert.Equal(t, "Bea", room.Moderator.Name)

	_, _, err = room.ChangeNameUpdate("p1", "")
	assert.ErrorIs(t, err, domain.ErrValidationFailed)

	_, _, err = room.ChangeNameUpdate("p1", "ElevenChars")
	assert.ErrorIs(t, err, domain.ErrValidationFailed)

	_, _, err = room.ChangeNameUpdate("ghost", "Cy")
	assert.ErrorIs(t, err, domain.ErrParticipantNotFound)
}

func TestVoting(t *testing.T) {
	room := newTestRoom(t)
	join(t, room, "mod", "Ann", time.Now())
	join(t, room, "p2", "Bob", time.Now())

	_, err := room.VoteUpdate("p2", "5")
	assert.ErrorIs(t, err, domain.ErrVotingClosed)

	_, err = room.StartVotingUpdate("p2")
	assert.ErrorIs(t, err, domain.ErrNotModerator)

	u, err := room.StartVotingUpdate("mod")
	require.NoError(t, err)
	require.NoError(t, room.Apply(u))
	assert.Equal(t, domain.StateVoting, room.State)

	_, err = room.VoteUpdate("p2", "4")
	assert.ErrorIs(t, err, domain.ErrInvalidVoteValue)
	assert.Equal(t, "InvalidVoteValue", domain.Code(err))

	u, err = room.VoteUpdate("p2", "5")
	require.NoError(t, err)
	require.NoError(t, room.Apply(u))
	assert.Equal(t, "5", room.Participants["p2"].Vote)

	u, err = room.StopVotingUpdate("mod")
	require.NoError(t, err)
	require.NoError(t, room.Apply(u))
	assert.Equal(t, domain.StateResults, room.State)

	u, err = room.StartVotingUpdate("mod")
	require.NoError(t, err)
	require.NoError(t, room.Apply(u))
	assert.False(t, room.Participants["p2"].HasVoted(), "a new round clears votes")
}

func TestDescriptionUpdate(t *testing.T) {
	room := newTestRoom(t)
	join(t, room, "mod", "Ann", time.Now())
	join(t, room, "p2", "Bob", time.Now())

	tests := []struct {
		name    string
		sender  string
		value   string
		wantErr error
		changed bool
	}{
		{name: "too long", sender: "mod", value: strings.Repeat("x", 301), wantErr: domain.ErrValidationFailed},
		{name: "at limit", sender: "mod", value: strings.Repeat("x", 300), changed: true},
		{name: "too many line breaks", sender: "mod", value: "a\nb\nc\nd\ne\nf\ng", wantErr: domain.ErrValidationFailed},
		{name: "five line breaks", sender: "mod", value: "a\nb\nc\nd\ne\nf", changed: true},
		{name: "trimmed", sender: "mod", value: "  story 42  ", changed: true},
		{name: "voter", sender: "p2", value: "hi", wantErr: domain.ErrNotModerator},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := room.VotingDescription

			u, changed, err := room.DescriptionUpdate(tt.sender, tt.value)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, before, room.VotingDescription)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.changed, changed)
			require.NoError(t, room.Apply(u))
			assert.Equal(t, strings.TrimSpace(tt.value), room.VotingDescription)
		})
	}
}

func TestKickUpdate(t *testing.T) {
	room := newTestRoom(t)
	join(t, room, "mod", "Ann", time.Now())
	join(t, room, "p2", "Bob", time.Now())

	_, err := room.KickUpdate("p2", "mod")
	assert.ErrorIs(t, err, domain.ErrNotModerator)

	_, err = room.KickUpdate("mod", "mod")
	assert.ErrorIs(t, err, domain.ErrCannotKickSelf)

	_, err = room.KickUpdate("mod", "ghost")
	assert.ErrorIs(t, err, domain.ErrParticipantNotFound)

	u, err := room.KickUpdate("mod", "p2")
	require.NoError(t, err)
	require.NoError(t, room.Apply(u))
	_, ok := room.Participant("p2")
	assert.False(t, ok)
}

func TestLeaveUpdateTransfersModerator(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	room := newTestRoom(t)
	join(t, room, "mod", "Ann", base)
	join(t, room, "late", "Cy", base.Add(2*time.Minute))
	join(t, room, "early", "Bob", base.Add(time.Minute))

	require.NoError(t, room.Apply(room.LeaveUpdate("mod", []string{"late", "early"})))

	assert.False(t, room.Participants["mod"].Connected)
	require.NotNil(t, room.Moderator)
	assert.Equal(t, "early", room.Moderator.ID)
	assert.Equal(t, "Bob", room.Moderator.Name)
}

func TestLeaveUpdateKeepsModeratorWhenAlone(t *testing.T) {
	room := newTestRoom(t)
	join(t, room, "mod", "Ann", time.Now())

	require.NoError(t, room.Apply(room.LeaveUpdate("mod", nil)))

	require.NotNil(t, room.Moderator)
	assert.Equal(t, "mod", room.Moderator.ID)
}

func TestCloneIsDeep(t *testing.T) {
	room := newTestRoom(t)
	join(t, room, "p1", "Ann", time.Now())

	c := room.Clone()
	c.Moderator.Name = "X"
	c.Participants["p1"] = domain.Participant{Name: "Y"}
	c.Options[0] = "Z"

	assert.Equal(t, "Ann", room.Moderator.Name)
	assert.Equal(t, "Ann", room.Participants["p1"].Name)
	assert.Equal(t, "0", room.Options[0])
}

func TestApplyRejectsUnknownPath(t *testing.T) {
	room := newTestRoom(t)
	u := domain.NewUpdate()
	u.Set("roomCode", "NOPE")

	assert.Error(t, room.Apply(u))
}

func TestNormalizeRoomCode(t *testing.T) {
	code, err := domain.NormalizeRoomCode(" ab12 ")
	require.NoError(t, err)
	assert.Equal(t, "AB12", code)

	_, err = domain.NormalizeRoomCode("a!")
	assert.ErrorIs(t, err, domain.ErrValidationFailed)
}
