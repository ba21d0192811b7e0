//go:build integration

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/hilthontt/pokersync/internal/infrastructure/logging"
	"github.com/hilthontt/pokersync/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testChannel = "pokersync:test:invalidate"

func TestRedisInvalidatorFansOut(t *testing.T) {
	client := testutils.StartRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	local := NewRedisInvalidator(client, testChannel, logging.NewNopLogger())
	remote := NewRedisInvalidator(client, testChannel, logging.NewNopLogger())
	assert.NotEqual(t, local.InstanceID(), remote.InstanceID())

	localKeys := make(chan string, 4)
	remoteKeys := make(chan string, 4)
	done := make(chan error, 2)
	go func() { done <- local.Listen(ctx, func(k string) { localKeys <- k }) }()
	go func() { done <- remote.Listen(ctx, func(k string) { remoteKeys <- k }) }()

	require.Eventually(t, func() bool {
		n, err := client.PubSubNumSub(ctx, testChannel).Result()
		return err == nil && n[testChannel] == 2
	}, 10*time.Second, 20*time.Millisecond)

	require.NoError(t, local.Publish(ctx, "ABCD"))
	// Garbage on the channel is skipped.
	require.NoError(t, client.Publish(ctx, testChannel, "not json").Err())
	require.NoError(t, remote.Publish(ctx, "WXYZ"))

	select {
	case k := <-remoteKeys:
		assert.Equal(t, "ABCD", k)
	case <-time.After(5 * time.Second):
		t.Fatal("remote instance missed the invalidation")
	}
	select {
	case k := <-localKeys:
		assert.Equal(t, "WXYZ", k)
	case <-time.After(5 * time.Second):
		t.Fatal("local instance missed the invalidation")
	}

	assert.Empty(t, localKeys)
	assert.Empty(t, remoteKeys)

	cancel()
	for range 2 {
		assert.ErrorIs(t, <-done, context.Canceled)
	}
}

func TestRedisInvalidatorEvictsRemoteCache(t *testing.T) {
	client := testutils.StartRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	c := New(Options[string]{})
	t.Cleanup(c.Close)
	c.Set("ABCD", "stale", time.Minute)

	listener := NewRedisInvalidator(client, testChannel, logging.NewNopLogger())
	go func() { _ = listener.Listen(ctx, c.Delete) }()

	require.Eventually(t, func() bool {
		n, err := client.PubSubNumSub(ctx, testChannel).Result()
		return err == nil && n[testChannel] == 1
	}, 10*time.Second, 20*time.Millisecond)

	writer := NewRedisInvalidator(client, testChannel, logging.NewNopLogger())
	require.NoError(t, writer.Publish(ctx, "ABCD"))

	assert.Eventually(t, func() bool {
		_, ok := c.Get("ABCD")
		return !ok
	}, 5*time.Second, 10*time.Millisecond)
}
