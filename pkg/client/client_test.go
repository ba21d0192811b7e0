package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hilthontt/pokersync/internal/dependency"
	"github.com/hilthontt/pokersync/internal/infrastructure/configs"
	"github.com/hilthontt/pokersync/internal/infrastructure/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()

	cfg, err := configs.Load("")
	require.NoError(t, err)

	c, err := dependency.NewContainer(context.Background(), cfg, logging.NewNopLogger())
	require.NoError(t, err)

	srv := httptest.NewServer(c.Application().Mount())
	t.Cleanup(func() {
		srv.Close()
		_ = c.Hub.Shutdown(context.Background())
		_ = c.Close(context.Background())
	})

	return NewClient(WithBaseURL(srv.URL + "/"))
}

func TestCreateCheckAndGet(t *testing.T) {
	cl := newTestClient(t)
	ctx := context.Background()

	room, err := cl.Rooms.Create(ctx, CreateRoomParams{Options: []string{"S", "M", "L"}})
	require.NoError(t, err)
	assert.Len(t, room.RoomCode, 4)
	assert.Equal(t, []string{"S", "M", "L"}, room.Options)

	exists, err := cl.Rooms.Exists(ctx, room.RoomCode)
	require.NoError(t, err)
	assert.True(t, exists)

	view, err := cl.Rooms.Get(ctx, room.RoomCode)
	require.NoError(t, err)
	assert.Equal(t, "Waiting", view.State)
	assert.Empty(t, view.Participants)
	assert.Nil(t, view.Moderator)
}

func TestMissingRoom(t *testing.T) {
	cl := newTestClient(t)
	ctx := context.Background()

	exists, err := cl.Rooms.Exists(ctx, "ZZZZ")
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = cl.Rooms.Get(ctx, "ZZZZ")
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "RoomNotFound", apiErr.Code)

	_, err = cl.Rooms.Get(ctx, "")
	assert.ErrorIs(t, err, ErrMissingRoomCode)
}

func TestValidationErrors(t *testing.T) {
	cl := newTestClient(t)

	_, err := cl.Rooms.Create(context.Background(), CreateRoomParams{Options: []string{"a", "a"}})
	var apiErr *Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.NotEmpty(t, apiErr.Message)
}

func TestPerCallOptions(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("X-Client")
		w.Header().Set("Retry-After", "3")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	t.Cleanup(srv.Close)

	cl := NewClient(WithBaseURL(srv.URL))
	_, err := cl.Rooms.Exists(context.Background(), "ABCD", WithHeader("X-Client", "cli"))

	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	assert.Equal(t, "3s", apiErr.RetryAfter.String())
	assert.Equal(t, "cli", got)
}
