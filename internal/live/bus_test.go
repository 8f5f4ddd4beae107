package live

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisBusFansOutToEveryInstance(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	newClient := func() *redis.Client {
		c := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = c.Close() })
		return c
	}
	instanceA := NewRedisBus(newClient(), "")
	instanceB := NewRedisBus(newClient(), "")

	inA, err := instanceA.Subscribe(ctx)
	require.NoError(t, err)
	inB, err := instanceB.Subscribe(ctx)
	require.NoError(t, err)

	at := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	msg, err := NewMessage("auth-update", "s1", map[string]string{"teacher_name": "Asha Rao"}, at)
	require.NoError(t, err)
	require.NoError(t, instanceA.Publish(ctx, msg))

	for name, in := range map[string]<-chan Message{"A": inA, "B": inB} {
		select {
		case got := <-in:
			assert.Equal(t, "auth-update", got.Kind, name)
			assert.Equal(t, "s1", got.SessionID, name)
			assert.JSONEq(t, `{"teacher_name":"Asha Rao"}`, string(got.Data), name)
			assert.True(t, got.At.Equal(at), name)
		case <-time.After(2 * time.Second):
			t.Fatalf("instance %s did not receive the message", name)
		}
	}
}

func TestRedisBusSkipsGarbage(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	bus := NewRedisBus(client, "test:live")
	in, err := bus.Subscribe(ctx)
	require.NoError(t, err)

	require.NoError(t, client.Publish(ctx, "test:live", "not json").Err())
	require.NoError(t, bus.Publish(ctx, Message{Kind: "session-update", SessionID: "s9"}))

	select {
	case got := <-in:
		assert.Equal(t, "s9", got.SessionID)
	case <-time.After(2 * time.Second):
		t.Fatal("valid message not delivered after a bad one")
	}
}

func TestHubSubscribesOnceRedisComesUp(t *testing.T) {
	mr := miniredis.RunT(t)
	mr.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	bus := NewRedisBus(client, "")

	h := NewHub(4, quietLogger(), nil)
	h.retryMin = 10 * time.Millisecond
	h.retryMax = 50 * time.Millisecond
	sub := h.Subscribe("s1", "")
	go h.Run(ctx, bus)

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, mr.Restart())

	msg, err := NewMessage("attendance-delta", "s1", map[string]string{"student_id": "S1"}, time.Now())
	require.NoError(t, err)
	// Pub/Sub only reaches live subscribers, so keep publishing until the hub is back.
	assert.Eventually(t, func() bool {
		_ = bus.Publish(ctx, msg)
		select {
		case got := <-sub.Messages():
			return got.Kind == "attendance-delta"
		case <-time.After(20 * time.Millisecond):
			return false
		}
	}, 5*time.Second, 30*time.Millisecond)
}
