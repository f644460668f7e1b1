package amadeus

import "context"

// PluginType tags a plugin's privilege level. Privileged plugins start
// first and are the only ones permitted to register a global subscription
// (wiretap) on the DistributionCenter. This is intentionally a tag on
// PluginMetadata rather than a distinct Go type: the capability set a
// plugin exposes (lifecycle hooks, messaging setup) is uniform regardless
// of privilege, mirroring how the teacher models module capabilities as a
// set of small interfaces rather than a type hierarchy.
type PluginType int

const (
	Normal PluginType = iota
	Privileged
)

func (t PluginType) String() string {
	if t == Privileged {
		return "privileged"
	}
	return "normal"
}

// PluginMetadata is the descriptive, serializable record every plugin
// instance carries. It mirrors modular.ServiceProvider/ModuleMetadata in
// spirit: a small data bag the registry and any declarative configuration
// file can reason about without touching plugin internals.
type PluginMetadata struct {
	Name              string            `json:"name"`
	Description       string            `json:"description"`
	Version           string            `json:"version"`
	EnabledByDefault  bool              `json:"enabled_by_default"`
	Author            string            `json:"author,omitempty"`
	Priority          int32             `json:"priority"`
	Dependencies      []string          `json:"dependencies,omitempty"`
	Properties        map[string]string `json:"properties,omitempty"`
	PluginType        PluginType        `json:"-"`
}

// Plugin is the minimal capability every registrable unit must implement:
// an identity and an init hook. Additional capabilities (messaging setup,
// start/stop, dependency declaration) are opt-in via the interfaces below,
// the same segregated-interface shape the teacher uses for Module /
// Configurable / Startable / Stoppable.
type Plugin interface {
	// Identity returns this plugin's unique identifier within a registry.
	Identity() string

	// Metadata returns this plugin's descriptive metadata, including its
	// PluginType.
	Metadata() PluginMetadata

	// Init performs one-time setup. Called once, after SetupMessaging if
	// the plugin implements MessagingAware, and before Start.
	Init(ctx context.Context) error
}

// DependencyAware plugins declare other plugin identities that must be
// present (not necessarily started before them — the bus only enforces
// co-presence, never a topological order; see §4.4).
type DependencyAware interface {
	Dependencies() []string
}

// MessagingAware plugins receive a MessageContext during registry
// startup, before Init is called. A plugin may choose not to retain the
// context if it has no messaging needs.
type MessagingAware interface {
	SetupMessaging(ctx *MessageContext) error
}

// Startable plugins run background work once every plugin has completed
// Init. The supplied context is the application's shutdown context.
type Startable interface {
	Start(ctx context.Context) error
}

// Stoppable plugins perform graceful teardown. Stop must tolerate being
// called without a matching successful Start (e.g. a plugin that failed
// mid-startup) and must not block past the registry's shutdown budget.
type Stoppable interface {
	Stop(ctx context.Context) error
}
