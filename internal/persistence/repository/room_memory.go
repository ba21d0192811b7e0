package repository

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/hilthontt/pokersync/internal/domain"
)

type MemoryRoomStorage struct {
	rooms         map[string]*domain.Room // ID -> Room
	roomCodeIndex map[string]string       // RoomCode -> ID
	mu            sync.RWMutex
}

// NewMemoryRoomStorage keeps documents in process. Each call to
// FindAndModify is atomic, matching the durable driver.
func NewMemoryRoomStorage() *MemoryRoomStorage {
	return &MemoryRoomStorage{
		rooms:         make(map[string]*domain.Room),
		roomCodeIndex: make(map[string]string),
	}
}

func (s *MemoryRoomStorage) resolve(filter domain.RoomFilter) (string, error) {
	switch {
	case filter.ID != "":
		return filter.ID, nil
	case filter.RoomCode != "":
		return s.roomCodeIndex[filter.RoomCode], nil
	default:
		return "", fmt.Errorf("%w: empty room filter", domain.ErrValidationFailed)
	}
}

func (s *MemoryRoomStorage) FindOne(_ context.Context, filter domain.RoomFilter) (*domain.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, err := s.resolve(filter)
	if err != nil {
		return nil, err
	}

	room, exists := s.rooms[id]
	if !exists {
		return nil, domain.ErrRoomNotFound
	}

	return room.Clone(), nil
}

func (s *MemoryRoomStorage) FindAndModify(_ context.Context, filter domain.RoomFilter, update domain.Update) (*domain.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.resolve(filter)
	if err != nil {
		return nil, err
	}

	stored, exists := s.rooms[id]
	if !exists {
		return nil, domain.ErrRoomNotFound
	}

	updated := stored.Clone()
	if err := updated.Apply(update); err != nil {
		return nil, fmt.Errorf("invalid update: %w", err)
	}
	s.rooms[id] = updated

	return updated.Clone(), nil
}

func (s *MemoryRoomStorage) InsertOne(_ context.Context, room *domain.Room) (string, error) {
	if room == nil || room.RoomCode == "" {
		return "", fmt.Errorf("%w: room code is required", domain.ErrValidationFailed)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.roomCodeIndex[room.RoomCode]; exists {
		return "", domain.ErrDuplicateRoomCode
	}

	doc := room.Clone()
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if _, exists := s.rooms[doc.ID]; exists {
		return "", domain.ErrDuplicateRoomCode
	}

	s.rooms[doc.ID] = doc
	s.roomCodeIndex[doc.RoomCode] = doc.ID

	return doc.ID, nil
}

func (s *MemoryRoomStorage) DeleteOne(_ context.Context, filter domain.RoomFilter) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.resolve(filter)
	if err != nil {
		return 0, err
	}

	room, exists := s.rooms[id]
	if !exists {
		return 0, nil
	}

	delete(s.rooms, id)
	delete(s.roomCodeIndex, room.RoomCode)

	return 1, nil
}

func (s *MemoryRoomStorage) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.rooms)
}
