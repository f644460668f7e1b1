package amadeus

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePlugin struct {
	id       string
	meta     PluginMetadata
	deps     []string
	initErr  error
	startErr error

	mu      sync.Mutex
	events  []string
	ctx     *MessageContext
}

func (f *fakePlugin) Identity() string         { return f.id }
func (f *fakePlugin) Metadata() PluginMetadata { return f.meta }
func (f *fakePlugin) Dependencies() []string   { return f.deps }

func (f *fakePlugin) SetupMessaging(ctx *MessageContext) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ctx = ctx
	f.events = append(f.events, "setup")
	return nil
}

func (f *fakePlugin) Init(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, "init")
	return f.initErr
}

func (f *fakePlugin) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, "start")
	return f.startErr
}

func (f *fakePlugin) Stop(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, "stop")
	return nil
}

func (f *fakePlugin) seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}

func newRegistry() (*PluginRegistry, *DistributionCenter) {
	dc := NewDistributionCenter(0)
	mgr := NewMessageManager(dc, 0, nil)
	return NewPluginRegistry(dc, mgr, nil), dc
}

func TestPluginRegistry_DuplicateIdentityRejected(t *testing.T) {
	reg, _ := newRegistry()
	a := &fakePlugin{id: "a"}
	require.NoError(t, reg.Register(a))
	assert.ErrorIs(t, reg.Register(&fakePlugin{id: "a"}), ErrDuplicateIdentity)
}

func TestPluginRegistry_EmptyIdentityRejected(t *testing.T) {
	reg, _ := newRegistry()
	assert.ErrorIs(t, reg.Register(&fakePlugin{id: ""}), ErrEmptyPluginIdentity)
}

func TestPluginRegistry_MissingDependencyFailsStartup(t *testing.T) {
	reg, _ := newRegistry()
	require.NoError(t, reg.Register(&fakePlugin{id: "a", deps: []string{"missing"}}))
	assert.ErrorIs(t, reg.Startup(context.Background()), ErrMissingDependency)
}

func TestPluginRegistry_PrivilegedStartsBeforeNormal(t *testing.T) {
	reg, _ := newRegistry()
	normal := &fakePlugin{id: "normal"}
	privileged := &fakePlugin{id: "privileged", meta: PluginMetadata{PluginType: Privileged}}

	require.NoError(t, reg.Register(normal))
	require.NoError(t, reg.Register(privileged))

	ordered := reg.sortedForStartup()
	require.Len(t, ordered, 2)
	assert.Equal(t, "privileged", ordered[0].plugin.Identity())
	assert.Equal(t, "normal", ordered[1].plugin.Identity())
}

func TestPluginRegistry_LifecycleSymmetry(t *testing.T) {
	reg, _ := newRegistry()
	a := &fakePlugin{id: "a"}
	b := &fakePlugin{id: "b"}
	require.NoError(t, reg.Register(a))
	require.NoError(t, reg.Register(b))

	require.NoError(t, reg.Startup(context.Background()))
	reg.Shutdown(context.Background())

	assert.Equal(t, []string{"setup", "init", "start", "stop"}, a.seen())
	assert.Equal(t, []string{"setup", "init", "start", "stop"}, b.seen())
}

func TestPluginRegistry_ReverseShutdownOrder(t *testing.T) {
	reg, _ := newRegistry()

	var mu sync.Mutex
	var stopOrder []string
	stopping := func(id string) func(context.Context) error {
		return func(context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			stopOrder = append(stopOrder, id)
			return nil
		}
	}

	a := &stoppableFunc{fakePlugin: fakePlugin{id: "a"}, stop: stopping("a")}
	b := &stoppableFunc{fakePlugin: fakePlugin{id: "b"}, stop: stopping("b")}

	require.NoError(t, reg.Register(a))
	require.NoError(t, reg.Register(b))
	require.NoError(t, reg.Startup(context.Background()))
	reg.Shutdown(context.Background())

	assert.Equal(t, []string{"b", "a"}, stopOrder)
}

// stoppableFunc overrides fakePlugin's Stop with a caller-supplied func,
// so tests can observe shutdown ordering directly.
type stoppableFunc struct {
	fakePlugin
	stop func(context.Context) error
}

func (s *stoppableFunc) Stop(ctx context.Context) error { return s.stop(ctx) }

func TestPluginRegistry_StartFailureStillCallsStop(t *testing.T) {
	reg, _ := newRegistry()
	a := &fakePlugin{id: "a", startErr: assert.AnError}

	require.NoError(t, reg.Register(a))
	assert.ErrorIs(t, reg.Startup(context.Background()), assert.AnError)

	reg.Shutdown(context.Background())
	assert.Equal(t, []string{"setup", "init", "start", "stop"}, a.seen())
}

func TestPluginRegistry_NonPrivilegedWiretapDenied(t *testing.T) {
	reg, dc := newRegistry()
	normal := &fakePlugin{id: "n"}
	require.NoError(t, reg.Register(normal))
	require.NoError(t, reg.Startup(context.Background()))

	_, _, err := normal.ctx.SubscribeAll()
	assert.ErrorIs(t, err, ErrPermissionDenied)
	_ = dc
}
