package domain

import "context"

// RoomFilter selects a room document by identifier or by room code.
type RoomFilter struct {
	ID       string
	RoomCode string
}

// RoomStorage is the durable storage collaborator behind the room store.
// FindOne and FindAndModify return ErrRoomNotFound when nothing matches.
type RoomStorage interface {
	FindOne(ctx context.Context, filter RoomFilter) (*Room, error)
	FindAndModify(ctx context.Context, filter RoomFilter, update Update) (*Room, error)
	InsertOne(ctx context.Context, room *Room) (string, error)
	DeleteOne(ctx context.Context, filter RoomFilter) (int64, error)
}

// RoomRepository is the cache-aside facade used by the rest of the service.
type RoomRepository interface {
	Lookup(ctx context.Context, roomCode string) (*Room, error)
	Create(ctx context.Context, room *Room) (*Room, error)
	UpdateByID(ctx context.Context, id string, update Update) (*Room, error)
	DeleteByRoomCode(ctx context.Context, roomCode string) error
}
