package domain

import "time"

type Role string

const (
	RoleModerator Role = "moderator"
	RoleVoter     Role = "voter"
)

// Participant is one entry of the room's participants map. An empty Vote
// means the participant has not voted in the current round.
type Participant struct {
	Name      string    `json:"name" bson:"name"`
	Vote      string    `json:"vote,omitempty" bson:"vote"`
	Connected bool      `json:"connected" bson:"connected"`
	JoinedAt  time.Time `json:"joinedAt" bson:"joinedAt"`
}

func (p Participant) HasVoted() bool {
	return p.Vote != ""
}
