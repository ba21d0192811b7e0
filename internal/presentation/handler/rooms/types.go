package rooms

import (
	"slices"
	"strings"
	"time"

	"github.com/hilthontt/pokersync/internal/domain"
)

type createRoomRequest struct {
	Options []string `json:"options"`
}

type createRoomResponse struct {
	RoomID    string    `json:"roomId"`
	RoomCode  string    `json:"roomCode"`
	Options   []string  `json:"options"`
	CreatedAt time.Time `json:"createdAt"`
}

type roomExistsResponse struct {
	RoomExists bool `json:"roomExists"`
}

type participantResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Connected bool   `json:"connected"`
	HasVoted  bool   `json:"hasVoted"`
	Vote      string `json:"vote,omitempty"`
}

type roomResponse struct {
	RoomCode          string                `json:"roomCode"`
	Moderator         *domain.Moderator     `json:"moderator"`
	Participants      []participantResponse `json:"participants"`
	VotingDescription string                `json:"votingDescription"`
	State             domain.RoomState      `json:"state"`
	Options           []string              `json:"options"`
	CreatedAt         time.Time             `json:"createdAt"`
	LastUpdated       time.Time             `json:"lastUpdated"`
}

// newRoomResponse hides votes until the round has been stopped.
func newRoomResponse(room *domain.Room) roomResponse {
	resp := roomResponse{
		RoomCode:          room.RoomCode,
		Moderator:         room.Moderator,
		Participants:      make([]participantResponse, 0, len(room.Participants)),
		VotingDescription: room.VotingDescription,
		State:             room.State,
		Options:           room.Options,
		CreatedAt:         room.CreatedAt,
		LastUpdated:       room.LastUpdated,
	}

	for id, p := range room.Participants {
		pr := participantResponse{
			ID:        id,
			Name:      p.Name,
			Connected: p.Connected,
			HasVoted:  p.HasVoted(),
		}
		if room.State == domain.StateResults {
			pr.Vote = p.Vote
		}
		resp.Participants = append(resp.Participants, pr)
	}
	slices.SortFunc(resp.Participants, func(a, b participantResponse) int {
		return strings.Compare(a.ID, b.ID)
	})

	return resp
}
