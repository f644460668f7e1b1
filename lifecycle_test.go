package amadeus

import (
	"context"
	"sync"
	"testing"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLifecycleEvent_CarriesExpectedAttributes(t *testing.T) {
	evt := newLifecycleEvent("module", "core-system", "started", "")
	assert.Equal(t, "com.amadeus.module.lifecycle", evt.Type())
	assert.Equal(t, "amadeus/module", evt.Source())
	assert.NoError(t, evt.Validate())
}

func TestEmit_NilSinkIsNoop(t *testing.T) {
	assert.NotPanics(t, func() { emit(nil, "module", "x", "started", "") })
}

func TestApp_RunEmitsApplicationLifecycleEvents(t *testing.T) {
	var mu sync.Mutex
	var actions []string

	app := NewApp(AppConfig{
		EventSink: func(evt cloudevents.Event) {
			mu.Lock()
			defer mu.Unlock()
			actions = append(actions, evt.Type())
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(actions) >= 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, actions, "com.amadeus.application.lifecycle")
}
