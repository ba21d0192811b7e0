package domain

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"slices"
	"strings"
	"time"

	"github.com/hilthontt/pokersync/internal/infrastructure/validate"
)

const (
	roomCodeLength = 4
	roomCodeChars  = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

	MaxNameLength            = 10
	MaxDescriptionLength     = 300
	MaxDescriptionLineBreaks = 5
	MaxOptions               = 20
	MaxOptionLength          = 10
)

var (
	charsetLen = big.NewInt(int64(len(roomCodeChars)))

	// DefaultOptions is the card deck used when a room is created without one.
	DefaultOptions = []string{"0", "1", "2", "3", "5", "8", "13", "21", "?"}

	validateName = validate.Field("name",
		validate.Required(),
		validate.LengthBetween(1, MaxNameLength),
	)
	validateDescription = validate.Field("votingDescription",
		validate.MaxLength(MaxDescriptionLength),
		validate.MaxLineBreaks(MaxDescriptionLineBreaks),
	)
	validateOption = validate.Field("option",
		validate.Required(),
		validate.MaxLength(MaxOptionLength),
	)
	validateRoomCode = validate.Field("roomCode",
		validate.Required(),
		validate.Matches(`^[A-Z0-9]{4,8}$`, "must be 4 to 8 letters or digits"),
	)
)

type RoomState string

const (
	StateWaiting RoomState = "Waiting"
	StateVoting  RoomState = "Voting"
	StateResults RoomState = "Results"
)

type Moderator struct {
	ID   string `json:"id" bson:"id"`
	Name string `json:"name" bson:"name"`
}

// Room is the authoritative room document.
type Room struct {
	ID                string                 `json:"id" bson:"_id,omitempty"`
	RoomCode          string                 `json:"roomCode" bson:"roomCode"`
	Moderator         *Moderator             `json:"moderator" bson:"moderator"`
	Participants      map[string]Participant `json:"participants" bson:"participants"`
	VotingDescription string                 `json:"votingDescription" bson:"votingDescription"`
	State             RoomState              `json:"state" bson:"state"`
	Options           []string               `json:"options" bson:"options"`
	CreatedAt         time.Time              `json:"createdAt" bson:"createdAt"`
	LastUpdated       time.Time              `json:"lastUpdated" bson:"lastUpdated"`
}

// NewRoom builds a moderator-less room with a freshly generated code. The
// storage identifier is assigned on insert.
func NewRoom(options []string) (*Room, error) {
	if len(options) == 0 {
		options = DefaultOptions
	}
	if err := ValidateOptions(options); err != nil {
		return nil, err
	}

	code, err := generateRoomCode()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	return &Room{
		RoomCode:     code,
		Participants: make(map[string]Participant),
		State:        StateWaiting,
		Options:      slices.Clone(options),
		CreatedAt:    now,
		LastUpdated:  now,
	}, nil
}

// Clone returns a deep copy so cached documents are never shared.
func (r *Room) Clone() *Room {
	if r == nil {
		return nil
	}

	c := *r
	if r.Moderator != nil {
		m := *r.Moderator
		c.Moderator = &m
	}
	c.Participants = make(map[string]Participant, len(r.Participants))
	for id, p := range r.Participants {
		c.Participants[id] = p
	}
	c.Options = slices.Clone(r.Options)
	return &c
}

func (r *Room) IsModerator(participantID string) bool {
	return r.Moderator != nil && participantID != "" && r.Moderator.ID == participantID
}

func (r *Room) Participant(id string) (Participant, bool) {
	p, ok := r.Participants[id]
	return p, ok
}

// Role reports the role a participant currently holds in the room.
func (r *Room) Role(participantID string) Role {
	if r.IsModerator(participantID) {
		return RoleModerator
	}
	return RoleVoter
}

// JoinUpdate admits a participant, reusing the entry when the id is already
// known, and hands out moderator rights when the room has none.
func (r *Room) JoinUpdate(participantID, name string, now time.Time) Update {
	u := NewUpdate()

	if existing, ok := r.Participants[participantID]; ok {
		if existing.Name != name {
			u.Set(participantPath(participantID, "name"), name)
		}
		u.Set(participantPath(participantID, "connected"), true)
	} else {
		u.Set(participantPath(participantID, ""), Participant{
			Name:      name,
			Connected: true,
			JoinedAt:  now,
		})
	}

	switch {
	case r.Moderator == nil:
		u.Set("moderator", &Moderator{ID: participantID, Name: name})
	case r.Moderator.ID == participantID && r.Moderator.Name != name:
		u.Set("moderator.name", name)
	}

	return u
}

// ChangeNameUpdate renames a participant. The second return value is false
// when the name is unchanged and nothing needs to be written.
func (r *Room) ChangeNameUpdate(participantID, rawName string) (Update, bool, error) {
	name, err := NormalizeName(rawName)
	if err != nil {
		return Update{}, false, err
	}

	p, ok := r.Participants[participantID]
	if !ok {
		return Update{}, false, ErrParticipantNotFound
	}
	if p.Name == name {
		return Update{}, false, nil
	}

	u := NewUpdate()
	u.Set(participantPath(participantID, "name"), name)
	if r.IsModerator(participantID) {
		u.Set("moderator.name", name)
	}
	return u, true, nil
}

func (r *Room) VoteUpdate(participantID, value string) (Update, error) {
	if _, ok := r.Participants[participantID]; !ok {
		return Update{}, ErrParticipantNotFound
	}
	if r.State != StateVoting {
		return Update{}, ErrVotingClosed
	}
	if err := validate.OneOf(r.Options...)(value); err != nil {
		return Update{}, ErrInvalidVoteValue
	}

	u := NewUpdate()
	u.Set(participantPath(participantID, "vote"), value)
	return u, nil
}

func (r *Room) DescriptionUpdate(senderID, rawValue string) (Update, bool, error) {
	if !r.IsModerator(senderID) {
		return Update{}, false, ErrNotModerator
	}

	value, err := NormalizeDescription(rawValue)
	if err != nil {
		return Update{}, false, err
	}
	if value == r.VotingDescription {
		return Update{}, false, nil
	}

	u := NewUpdate()
	u.Set("votingDescription", value)
	return u, true, nil
}

func (r *Room) KickUpdate(senderID, targetID string) (Update, error) {
	if !r.IsModerator(senderID) {
		return Update{}, ErrNotModerator
	}
	if senderID == targetID {
		return Update{}, ErrCannotKickSelf
	}
	if _, ok := r.Participants[targetID]; !ok {
		return Update{}, ErrParticipantNotFound
	}

	u := NewUpdate()
	u.Unset(participantPath(targetID, ""))
	return u, nil
}

// StartVotingUpdate opens a new round and clears every vote.
func (r *Room) StartVotingUpdate(senderID string) (Update, error) {
	if !r.IsModerator(senderID) {
		return Update{}, ErrNotModerator
	}

	u := NewUpdate()
	u.Set("state", StateVoting)
	for id, p := range r.Participants {
		if p.Vote != "" {
			u.Set(participantPath(id, "vote"), "")
		}
	}
	return u, nil
}

func (r *Room) StopVotingUpdate(senderID string) (Update, error) {
	if !r.IsModerator(senderID) {
		return Update{}, ErrNotModerator
	}
	if r.State != StateVoting {
		return Update{}, ErrVotingClosed
	}

	u := NewUpdate()
	u.Set("state", StateResults)
	return u, nil
}

// LeaveUpdate marks a participant as disconnected. When the moderator leaves
// while others are still connected, moderator rights move to the connected
// participant who joined first.
func (r *Room) LeaveUpdate(participantID string, connected []string) Update {
	u := NewUpdate()

	if _, ok := r.Participants[participantID]; !ok {
		return u
	}
	u.Set(participantPath(participantID, "connected"), false)

	if !r.IsModerator(participantID) {
		return u
	}

	var (
		heirID string
		heir   Participant
	)
	for _, id := range connected {
		if id == participantID {
			continue
		}
		p, ok := r.Participants[id]
		if !ok {
			continue
		}
		if heirID == "" || p.JoinedAt.Before(heir.JoinedAt) || (p.JoinedAt.Equal(heir.JoinedAt) && id < heirID) {
			heirID, heir = id, p
		}
	}
	if heirID != "" {
		u.Set("moderator", &Moderator{ID: heirID, Name: heir.Name})
	}

	return u
}

// NormalizeName trims and validates a display name.
func NormalizeName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if err := validateName(name); err != nil {
		return "", Invalid(err)
	}
	return name, nil
}

// NormalizeDescription trims and validates a voting description.
func NormalizeDescription(raw string) (string, error) {
	value := strings.TrimSpace(raw)
	if err := validateDescription(value); err != nil {
		return "", Invalid(err)
	}
	return value, nil
}

// NormalizeRoomCode upper-cases and validates a room code.
func NormalizeRoomCode(raw string) (string, error) {
	code := strings.ToUpper(strings.TrimSpace(raw))
	if err := validateRoomCode(code); err != nil {
		return "", Invalid(err)
	}
	return code, nil
}

func ValidateOptions(options []string) error {
	if len(options) > MaxOptions {
		return Invalid(fmt.Errorf("options: must have no more than %d values", MaxOptions))
	}

	seen := make(map[string]struct{}, len(options))
	for _, o := range options {
		if err := validateOption(o); err != nil {
			return Invalid(err)
		}
		if _, dup := seen[o]; dup {
			return Invalid(fmt.Errorf("options: %q is listed twice", o))
		}
		seen[o] = struct{}{}
	}
	return nil
}

func participantPath(id, field string) string {
	if field == "" {
		return "participants." + id
	}
	return "participants." + id + "." + field
}

func generateRoomCode() (string, error) {
	var sb strings.Builder
	sb.Grow(roomCodeLength)

	for i := 0; i < roomCodeLength; i++ {
		n, err := rand.Int(rand.Reader, charsetLen)
		if err != nil {
			return "", err
		}
		sb.WriteByte(roomCodeChars[n.Int64()])
	}

	return sb.String(), nil
}
