package ipcdispatcher

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	amadeus "github.com/amadeus-bus/amadeus"
)

func TestPriorityByteRoundTrip(t *testing.T) {
	for _, pr := range []amadeus.Priority{amadeus.PriorityLow, amadeus.PriorityNormal, amadeus.PriorityHigh} {
		assert.Equal(t, pr, byteToPriority(priorityToByte(pr)))
	}
}

func TestToRecordFromRecord_RoundTrip(t *testing.T) {
	now := time.Now().Truncate(time.Second)
	msg := amadeus.Message{
		Topic:     "system.memo.remind",
		Payload:   map[string]any{"id": float64(1)},
		Source:    "core-system",
		Priority:  amadeus.PriorityHigh,
		CreatedAt: now,
	}

	rec, err := toRecord(msg)
	require.NoError(t, err)
	assert.Equal(t, msg.Topic, rec.Topic)
	assert.Equal(t, msg.Source, rec.Source)

	back := fromRecord(rec)
	assert.Equal(t, msg.Topic, back.Topic)
	assert.Equal(t, msg.Payload, back.Payload)
	assert.Equal(t, amadeus.PriorityHigh, back.Priority)
	assert.Equal(t, now.Unix(), back.CreatedAt.Unix())
	// fromRecord always stamps Source to this plugin's own identity, which
	// MessageContext.Send keeps on injection since Source is already set.
	assert.Equal(t, Identity, back.Source)
}

func TestMatches_EmptyFilterMatchesEverything(t *testing.T) {
	p := New(Config{}, nil)
	assert.True(t, p.matches("anything"))
}

func TestMatches_NonEmptyFilterIsExact(t *testing.T) {
	p := New(Config{TopicFilter: []string{"system.memo.remind"}}, nil)
	assert.True(t, p.matches("system.memo.remind"))
	assert.False(t, p.matches("system.memo.created"))
}

func TestNew_AppliesDefaults(t *testing.T) {
	p := New(Config{}, nil)
	assert.Equal(t, defaultRetries, p.cfg.Retries)
	assert.Equal(t, 50*time.Millisecond, p.cfg.PollInterval)
	assert.Equal(t, "amadeus.shm", p.cfg.ShmPath)
}

// harness wires an IpcDispatcherPlugin onto a live bus without the rest
// of the registry machinery, mirroring the coresystem package's test
// harness.
type harness struct {
	app *amadeus.App
	plg *IpcDispatcherPlugin
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	if cfg.ShmPath == "" {
		cfg.ShmPath = filepath.Join(t.TempDir(), "ring.shm")
	}

	app := amadeus.NewApp(amadeus.AppConfig{})
	plg := New(cfg, nil)
	require.NoError(t, app.Register(plg))

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, app.Manager.Start(ctx))
	require.NoError(t, app.Registry.Startup(ctx))

	t.Cleanup(func() {
		app.Registry.Shutdown(context.Background())
		cancel()
		_ = app.Manager.Stop(context.Background())
	})

	return &harness{app: app, plg: plg}
}

func recvWithin(t *testing.T, ch <-chan amadeus.Message, d time.Duration) amadeus.Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(d):
		t.Fatal("timed out waiting for message")
		return amadeus.Message{}
	}
}

func TestIpcDispatcherPlugin_StatsReply(t *testing.T) {
	h := newHarness(t, Config{})
	reply, cancel := h.app.DC.Subscribe(TopicStats + ".reply")
	defer cancel()

	require.NoError(t, h.app.DC.Distribute(amadeus.Message{Topic: TopicStats}))

	msg := recvWithin(t, reply, time.Second)
	payload := msg.Payload.(map[string]any)
	assert.Contains(t, payload, "sent")
	assert.Contains(t, payload, "retried")
	assert.Contains(t, payload, "dropped")
}

func TestIpcDispatcherPlugin_ForwardsMatchingBroadcastOverShm(t *testing.T) {
	h := newHarness(t, Config{TopicFilter: []string{"system.memo.remind"}})

	require.NoError(t, h.app.DC.Distribute(amadeus.Message{
		Topic:   "system.memo.remind",
		Payload: map[string]any{"id": float64(1)},
	}))

	require.Eventually(t, func() bool {
		return h.plg.sent.Load() == 1
	}, time.Second, 10*time.Millisecond)
}

func TestIpcDispatcherPlugin_SkipsNonMatchingTopic(t *testing.T) {
	h := newHarness(t, Config{TopicFilter: []string{"system.memo.remind"}})

	require.NoError(t, h.app.DC.Distribute(amadeus.Message{
		Topic:   "system.other.thing",
		Payload: map[string]any{},
	}))

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, uint64(0), h.plg.sent.Load())
}

// TestIpcDispatcherPlugin_OutboundDoesNotLoopBackInbound guards against a
// feedback loop: if outbound and inbound ever shared one ring segment
// again, the dispatcher's own wiretap would observe its own re-injected
// messages and forward them again, growing sent without bound. With
// separate segments, one broadcast is forwarded exactly once.
func TestIpcDispatcherPlugin_OutboundDoesNotLoopBackInbound(t *testing.T) {
	h := newHarness(t, Config{PollInterval: 5 * time.Millisecond})

	require.NoError(t, h.app.DC.Distribute(amadeus.Message{
		Topic:   "notify.user",
		Payload: map[string]any{"text": "hi"},
	}))

	require.Eventually(t, func() bool {
		return h.plg.sent.Load() == 1
	}, time.Second, 10*time.Millisecond)

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, uint64(1), h.plg.sent.Load())
}
