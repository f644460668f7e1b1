package amadeus

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// defaultShutdownHookBudget bounds how long any single Stop hook may run
// during registry teardown before the registry moves on, per §4.4.
const defaultShutdownHookBudget = 5 * time.Second

// registeredPlugin pairs a Plugin with the bookkeeping the registry needs
// during startup/shutdown ordering.
type registeredPlugin struct {
	plugin Plugin
	meta   PluginMetadata
}

// PluginRegistry owns the full set of registered plugins and drives their
// three-phase startup (setup messaging, init, start) and reverse-order
// shutdown. It mirrors the teacher's application bootstrap
// (RegisterModule + Init + Start/Stop ordering in application_lifecycle.go),
// adapted to Amadeus's privilege-first ordering rule instead of a
// dependency-graph topological sort.
type PluginRegistry struct {
	mu             sync.Mutex
	plugins        []*registeredPlugin
	byIdentity     map[string]*registeredPlugin
	started        []*registeredPlugin // in the order Start was called (including one whose Start failed), for symmetric shutdown
	dc             *DistributionCenter
	manager        *MessageManager
	log            Logger
	shutdownBudget time.Duration
	sink           EventSink
}

// NewPluginRegistry builds an empty registry wired to dc and manager.
func NewPluginRegistry(dc *DistributionCenter, manager *MessageManager, log Logger) *PluginRegistry {
	if log == nil {
		log = NewNoopLogger()
	}
	return &PluginRegistry{
		byIdentity:     make(map[string]*registeredPlugin),
		dc:             dc,
		manager:        manager,
		log:            log,
		shutdownBudget: defaultShutdownHookBudget,
	}
}

// SetEventSink installs the sink lifecycle CloudEvents are emitted to.
// Nil is valid and discards every event; this is the default until an
// App wires one in from AppConfig.
func (r *PluginRegistry) SetEventSink(sink EventSink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sink = sink
}

// Register adds p to the registry. Identities must be unique and
// non-empty; registering the same identity twice is rejected.
func (r *PluginRegistry) Register(p Plugin) error {
	meta := p.Metadata()
	id := p.Identity()
	if id == "" {
		return ErrEmptyPluginIdentity
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byIdentity[id]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateIdentity, id)
	}

	rp := &registeredPlugin{plugin: p, meta: meta}
	r.byIdentity[id] = rp
	r.plugins = append(r.plugins, rp)
	return nil
}

// sortedForStartup returns plugins ordered privileged-first, then by
// descending metadata priority, with a stable tiebreak on registration
// order — matching how the teacher orders modules by priority in
// builder.go.
func (r *PluginRegistry) sortedForStartup() []*registeredPlugin {
	ordered := make([]*registeredPlugin, len(r.plugins))
	copy(ordered, r.plugins)
	sort.SliceStable(ordered, func(i, j int) bool {
		pi, pj := ordered[i].meta, ordered[j].meta
		if pi.PluginType != pj.PluginType {
			return pi.PluginType == Privileged
		}
		return pi.Priority > pj.Priority
	})
	return ordered
}

// checkDependencies verifies every DependencyAware plugin's declared
// dependencies are present in the registry. The registry only checks
// co-presence, never imposes a start-order constraint from it (§4.4).
func (r *PluginRegistry) checkDependencies() error {
	for _, rp := range r.plugins {
		da, ok := rp.plugin.(DependencyAware)
		if !ok {
			continue
		}
		for _, dep := range da.Dependencies() {
			if _, ok := r.byIdentity[dep]; !ok {
				return fmt.Errorf("%w: %s requires %s", ErrMissingDependency, rp.plugin.Identity(), dep)
			}
		}
	}
	return nil
}

// Startup runs the three-phase bring-up: SetupMessaging, Init, Start, in
// that order across all plugins, privileged plugins first within each
// phase. If any phase fails the registry stops immediately and returns
// the error; it does not attempt to start the remaining plugins, but it
// does not tear down those already started either — callers that want a
// clean rollback on startup failure should call Shutdown themselves.
func (r *PluginRegistry) Startup(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkDependencies(); err != nil {
		return err
	}

	ordered := r.sortedForStartup()

	for _, rp := range ordered {
		if ma, ok := rp.plugin.(MessagingAware); ok {
			mc := newMessageContext(rp.plugin.Identity(), rp.meta.PluginType, r.dc, r.manager.Ingress())
			if err := ma.SetupMessaging(mc); err != nil {
				emit(r.sink, "module", rp.plugin.Identity(), "failed", err.Error())
				return fmt.Errorf("%s: setup messaging: %w: %w", rp.plugin.Identity(), ErrLifecycleHookFailed, err)
			}
		}
		emit(r.sink, "module", rp.plugin.Identity(), "registered", "")
	}

	for _, rp := range ordered {
		if err := rp.plugin.Init(ctx); err != nil {
			emit(r.sink, "module", rp.plugin.Identity(), "failed", err.Error())
			return fmt.Errorf("%s: init: %w: %w", rp.plugin.Identity(), ErrLifecycleHookFailed, err)
		}
		emit(r.sink, "module", rp.plugin.Identity(), "initialized", "")
	}

	for _, rp := range ordered {
		s, ok := rp.plugin.(Startable)
		if !ok {
			continue
		}
		// Every plugin reaching this loop already had Init succeed (the
		// Init loop above aborts entirely on any failure), so per §8
		// property 5 it must get Stop called even if Start itself fails.
		// Record it before checking the error, not after.
		r.started = append(r.started, rp)
		if err := s.Start(ctx); err != nil {
			emit(r.sink, "module", rp.plugin.Identity(), "failed", err.Error())
			return fmt.Errorf("%s: start: %w: %w", rp.plugin.Identity(), ErrLifecycleHookFailed, err)
		}
		emit(r.sink, "module", rp.plugin.Identity(), "started", "")
	}

	return nil
}

// Shutdown stops every plugin whose Start was called, in the reverse of
// the order Start was called, giving each Stop hook up to the registry's
// shutdown budget.
// A hook timing out or erroring is logged and does not prevent the
// remaining hooks from running — shutdown is best-effort by design.
func (r *PluginRegistry) Shutdown(ctx context.Context) {
	r.mu.Lock()
	started := make([]*registeredPlugin, len(r.started))
	copy(started, r.started)
	r.started = nil
	r.mu.Unlock()

	for i := len(started) - 1; i >= 0; i-- {
		rp := started[i]
		s, ok := rp.plugin.(Stoppable)
		if !ok {
			continue
		}
		hookCtx, cancel := context.WithTimeout(ctx, r.shutdownBudget)
		if err := s.Stop(hookCtx); err != nil {
			r.log.Error("plugin stop failed", "plugin", rp.plugin.Identity(), "err", err.Error())
			emit(r.sink, "module", rp.plugin.Identity(), "failed", err.Error())
		} else {
			emit(r.sink, "module", rp.plugin.Identity(), "stopped", "")
		}
		cancel()
	}
}

// Lookup returns the plugin registered under id, if any.
func (r *PluginRegistry) Lookup(id string) (Plugin, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rp, ok := r.byIdentity[id]
	if !ok {
		return nil, false
	}
	return rp.plugin, true
}
