package amadeus

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// App is the top-level orchestrator: it owns the DistributionCenter, the
// MessageManager and the PluginRegistry, and drives the full
// startup/run/shutdown sequence. It mirrors the teacher's Application
// type (application.go / application_lifecycle.go): construct, register
// modules, Init, Start, block for a termination signal, Stop.
type App struct {
	DC       *DistributionCenter
	Manager  *MessageManager
	Registry *PluginRegistry
	log      Logger
	sink     EventSink
}

// AppConfig bundles the tunables needed to construct an App.
type AppConfig struct {
	DirectInboxCapacity int
	IngressCapacity     int
	Logger              Logger

	// EventSink receives lifecycle CloudEvents for the application and
	// every registered plugin. Nil discards them.
	EventSink EventSink
}

// NewApp wires up a fresh DistributionCenter, MessageManager and empty
// PluginRegistry from cfg.
func NewApp(cfg AppConfig) *App {
	log := cfg.Logger
	if log == nil {
		log = NewNoopLogger()
	}
	dc := NewDistributionCenter(cfg.DirectInboxCapacity)
	mgr := NewMessageManager(dc, cfg.IngressCapacity, log)
	reg := NewPluginRegistry(dc, mgr, log)
	reg.SetEventSink(cfg.EventSink)
	return &App{DC: dc, Manager: mgr, Registry: reg, log: log, sink: cfg.EventSink}
}

// Register adds a plugin to the app's registry. Must be called before Run.
func (a *App) Register(p Plugin) error {
	return a.Registry.Register(p)
}

// Run starts the message manager and every registered plugin, then
// blocks until ctx is canceled (typically by an OS termination signal),
// at which point it tears everything down in reverse order and returns.
func (a *App) Run(ctx context.Context) error {
	if err := a.Manager.Start(ctx); err != nil {
		return err
	}

	if err := a.Registry.Startup(ctx); err != nil {
		emit(a.sink, "application", "amadeus", "failed", err.Error())
		a.Registry.Shutdown(context.Background())
		_ = a.Manager.Stop(context.Background())
		return err
	}
	emit(a.sink, "application", "amadeus", "started", "")

	<-ctx.Done()

	a.Registry.Shutdown(context.Background())
	err := a.Manager.Stop(context.Background())
	emit(a.sink, "application", "amadeus", "stopped", "")
	return err
}

// RunUntilSignal is the convenience entrypoint for cmd/amadeusd: it runs
// the app until SIGINT or SIGTERM is received.
func (a *App) RunUntilSignal(ctx context.Context) error {
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.Run(sigCtx)
}
