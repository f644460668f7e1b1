package amadeus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageManager_RoutesEnqueuedMessages(t *testing.T) {
	dc := NewDistributionCenter(0)
	mgr := NewMessageManager(dc, 0, nil)

	rcv, cancel := dc.Subscribe("t")
	defer cancel()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	require.NoError(t, mgr.Start(ctx))
	defer func() { _ = mgr.Stop(context.Background()) }()

	require.NoError(t, mgr.Ingress().enqueue(Message{Topic: "t", Payload: "x"}))

	select {
	case msg := <-rcv:
		assert.Equal(t, "x", msg.Payload)
	case <-time.After(time.Second):
		t.Fatal("message was not routed")
	}
}

func TestMessageManager_StartTwiceFails(t *testing.T) {
	dc := NewDistributionCenter(0)
	mgr := NewMessageManager(dc, 0, nil)

	ctx := context.Background()
	require.NoError(t, mgr.Start(ctx))
	defer func() { _ = mgr.Stop(context.Background()) }()

	assert.ErrorIs(t, mgr.Start(ctx), ErrManagerAlreadyRunning)
}

func TestMessageManager_StopWithoutStartFails(t *testing.T) {
	dc := NewDistributionCenter(0)
	mgr := NewMessageManager(dc, 0, nil)
	assert.ErrorIs(t, mgr.Stop(context.Background()), ErrManagerNotRunning)
}

func TestMessageManager_DrainsQueueOnShutdown(t *testing.T) {
	dc := NewDistributionCenter(0)
	mgr := NewMessageManager(dc, 8, nil)
	rcv, cancel := dc.Subscribe("t")
	defer cancel()

	ctx, stop := context.WithCancel(context.Background())
	require.NoError(t, mgr.Start(ctx))

	for i := 0; i < 3; i++ {
		require.NoError(t, mgr.Ingress().enqueue(Message{Topic: "t", Payload: i}))
	}
	stop()
	require.NoError(t, mgr.Stop(context.Background()))

	seen := map[int]bool{}
	for i := 0; i < 3; i++ {
		select {
		case msg := <-rcv:
			seen[msg.Payload.(int)] = true
		case <-time.After(time.Second):
			t.Fatalf("expected 3 drained messages, saw %d", len(seen))
		}
	}
	assert.Len(t, seen, 3)
}
