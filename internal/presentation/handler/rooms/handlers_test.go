package rooms

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hilthontt/pokersync/internal/domain"
	"github.com/hilthontt/pokersync/internal/infrastructure/cache"
	"github.com/hilthontt/pokersync/internal/persistence/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collidingStore reports a duplicate code for the first n creates.
type collidingStore struct {
	domain.RoomRepository
	collisions int
	attempts   int
}

func (s *collidingStore) Create(ctx context.Context, room *domain.Room) (*domain.Room, error) {
	s.attempts++
	if s.attempts <= s.collisions {
		return nil, domain.ErrDuplicateRoomCode
	}
	return s.RoomRepository.Create(ctx, room)
}

func newStore(t *testing.T) *repository.RoomStore {
	t.Helper()

	c := cache.New(cache.Options[*domain.Room]{})
	t.Cleanup(c.Close)
	return repository.NewRoomStore(repository.NewMemoryRoomStorage(), c, repository.StoreOptions{TTL: time.Hour})
}

func newRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Post("/api/rooms/create", h.CreateRoomHandler)
	r.Get("/api/rooms/{roomCode}/checkRoomExists", h.CheckRoomExistsHandler)
	r.Get("/api/rooms/{roomCode}", h.GetRoomHandler)
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCreateRoom(t *testing.T) {
	store := newStore(t)
	router := newRouter(NewHandler(store, nil, Options{}))

	rec := do(t, router, http.MethodPost, "/api/rooms/create", `{"options":["S","M","L"]}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp createRoomResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.RoomCode, 4)
	assert.Equal(t, []string{"S", "M", "L"}, resp.Options)

	room, err := store.Lookup(context.Background(), resp.RoomCode)
	require.NoError(t, err)
	assert.Nil(t, room.Moderator)
	assert.Empty(t, room.Participants)
}

func TestCreateRoomWithEmptyBodyUsesDefaultDeck(t *testing.T) {
	router := newRouter(NewHandler(newStore(t), nil, Options{}))

	rec := do(t, router, http.MethodPost, "/api/rooms/create", "")
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp createRoomResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, domain.DefaultOptions, resp.Options)
}

func TestCreateRoomRejectsBadOptions(t *testing.T) {
	router := newRouter(NewHandler(newStore(t), nil, Options{}))

	rec := do(t, router, http.MethodPost, "/api/rooms/create", `{"options":["1","1"]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodPost, "/api/rooms/create", `{"deck":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateRoomRetriesCollisions(t *testing.T) {
	store := &collidingStore{RoomRepository: newStore(t), collisions: 2}
	router := newRouter(NewHandler(store, nil, Options{}))

	rec := do(t, router, http.MethodPost, "/api/rooms/create", "{}")
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, 3, store.attempts)
}

func TestCreateRoomGivesUpAfterRepeatedCollisions(t *testing.T) {
	store := &collidingStore{RoomRepository: newStore(t), collisions: createAttempts}
	router := newRouter(NewHandler(store, nil, Options{}))

	rec := do(t, router, http.MethodPost, "/api/rooms/create", "{}")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCheckRoomExists(t *testing.T) {
	store := newStore(t)
	router := newRouter(NewHandler(store, nil, Options{}))

	room, err := domain.NewRoom(nil)
	require.NoError(t, err)
	room, err = store.Create(context.Background(), room)
	require.NoError(t, err)

	tests := []struct {
		name   string
		code   string
		status int
		exists bool
	}{
		{name: "existing", code: room.RoomCode, status: http.StatusOK, exists: true},
		{name: "lower case", code: strings.ToLower(room.RoomCode), status: http.StatusOK, exists: true},
		{name: "missing", code: "0000", status: http.StatusOK},
		{name: "invalid", code: "a$", status: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, router, http.MethodGet, "/api/rooms/"+tt.code+"/checkRoomExists", "")
			require.Equal(t, tt.status, rec.Code)
			if tt.status != http.StatusOK {
				return
			}

			var resp roomExistsResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.exists, resp.RoomExists)
		})
	}
}

func TestGetRoomHidesVotesUntilResults(t *testing.T) {
	store := newStore(t)
	router := newRouter(NewHandler(store, nil, Options{}))

	room, err := domain.NewRoom(nil)
	require.NoError(t, err)
	room, err = store.Create(context.Background(), room)
	require.NoError(t, err)

	u := room.JoinUpdate("p1", "Ann", time.Now())
	u.Set("state", domain.StateVoting)
	u.Set("participants.p1.vote", "5")
	_, err = store.UpdateByID(context.Background(), room.ID, u)
	require.NoError(t, err)

	rec := do(t, router, http.MethodGet, "/api/rooms/"+room.RoomCode, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp roomResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Participants, 1)
	assert.True(t, resp.Participants[0].HasVoted)
	assert.Empty(t, resp.Participants[0].Vote)

	rec = do(t, router, http.MethodGet, "/api/rooms/ZZZZ", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCheckOrigin(t *testing.T) {
	check := checkOrigin([]string{"https://poker.example"})

	r := httptest.NewRequest(http.MethodGet, "/ws/AB12", nil)
	assert.True(t, check(r))

	r.Header.Set("Origin", "https://poker.example")
	assert.True(t, check(r))

	r.Header.Set("Origin", "https://evil.example")
	assert.False(t, check(r))

	assert.True(t, checkOrigin(nil)(r))
}
