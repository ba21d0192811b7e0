package client

import (
	"context"
	"net/http"
	"net/url"
	"time"
)

type RoomService struct {
	Options []RequestOption
}

func NewRoomService(opts ...RequestOption) *RoomService {
	return &RoomService{opts}
}

type CreateRoomParams struct {
	// Options is the card deck. Empty uses the server default.
	Options []string `json:"options,omitempty"`
}

type Room struct {
	RoomID    string    `json:"roomId"`
	RoomCode  string    `json:"roomCode"`
	Options   []string  `json:"options"`
	CreatedAt time.Time `json:"createdAt"`
}

type Moderator struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Participant struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Connected bool   `json:"connected"`
	HasVoted  bool   `json:"hasVoted"`
	Vote      string `json:"vote,omitempty"`
}

// RoomView is the public view of a room. Votes are only filled in once the
// round has been stopped.
type RoomView struct {
	RoomCode          string        `json:"roomCode"`
	Moderator         *Moderator    `json:"moderator"`
	Participants      []Participant `json:"participants"`
	VotingDescription string        `json:"votingDescription"`
	State             string        `json:"state"`
	Options           []string      `json:"options"`
	CreatedAt         time.Time     `json:"createdAt"`
	LastUpdated       time.Time     `json:"lastUpdated"`
}

func (s *RoomService) Create(ctx context.Context, params CreateRoomParams, opts ...RequestOption) (*Room, error) {
	res := &Room{}
	err := execute(ctx, http.MethodPost, "/api/rooms/create", params, res, withOptions(s.Options, opts)...)
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *RoomService) Exists(ctx context.Context, roomCode string, opts ...RequestOption) (bool, error) {
	if roomCode == "" {
		return false, ErrMissingRoomCode
	}

	var res struct {
		RoomExists bool `json:"roomExists"`
	}
	path := "/api/rooms/" + url.PathEscape(roomCode) + "/checkRoomExists"
	if err := execute(ctx, http.MethodGet, path, nil, &res, withOptions(s.Options, opts)...); err != nil {
		return false, err
	}
	return res.RoomExists, nil
}

func (s *RoomService) Get(ctx context.Context, roomCode string, opts ...RequestOption) (*RoomView, error) {
	if roomCode == "" {
		return nil, ErrMissingRoomCode
	}

	res := &RoomView{}
	path := "/api/rooms/" + url.PathEscape(roomCode)
	if err := execute(ctx, http.MethodGet, path, nil, res, withOptions(s.Options, opts)...); err != nil {
		return nil, err
	}
	return res, nil
}
