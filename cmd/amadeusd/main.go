// Command amadeusd runs the Amadeus plugin host: the message bus, the
// Core System plugin, and the IPC Dispatcher plugin, until it receives a
// termination signal. It mirrors the teacher's single cobra root command
// entrypoint style (cmd/warren/main.go), simplified to Amadeus's "one
// entry point, no required arguments" CLI contract (§6).
package main

import (
	"fmt"
	"os"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/spf13/cobra"

	amadeus "github.com/amadeus-bus/amadeus"
	"github.com/amadeus-bus/amadeus/internal/config"
	"github.com/amadeus-bus/amadeus/internal/obslog"
	"github.com/amadeus-bus/amadeus/plugins/coresystem"
	"github.com/amadeus-bus/amadeus/plugins/ipcdispatcher"
)

var (
	configPath       string
	pluginConfigPath string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "amadeusd: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "amadeusd",
	Short: "Amadeus plugin host: asynchronous message bus, memo scheduler, and IPC bridge",
	RunE:  runDaemon,
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "", "path to an optional TOML configuration file")
	rootCmd.Flags().StringVar(&pluginConfigPath, "plugin-config", "", "path to an optional declarative plugin configuration JSON file")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	overrides, err := config.LoadPluginOverrides(pluginConfigPath)
	if err != nil {
		return fmt.Errorf("load plugin config: %w", err)
	}

	log := obslog.New(os.Stdout, cfg.LogLevel)

	app := amadeus.NewApp(amadeus.AppConfig{
		DirectInboxCapacity: cfg.DirectCapacity,
		IngressCapacity:     cfg.IngressSize,
		Logger:              log,
		EventSink: func(evt cloudevents.Event) {
			log.Debug("lifecycle event", "type", evt.Type(), "source", evt.Source())
		},
	})

	core := coresystem.New(coresystem.Config{
		DBPath:         cfg.DBPath,
		AutoRemindTags: cfg.AutoRemindTags,
	}, log)
	if enabled, _ := config.Apply(overrides, core.Metadata()); enabled {
		if err := app.Register(core); err != nil {
			return fmt.Errorf("register core system plugin: %w", err)
		}
	}

	dispatcher := ipcdispatcher.New(ipcdispatcher.Config{
		ShmPath:     cfg.ShmPath,
		TopicFilter: cfg.DispatcherTopics,
	}, log)
	if enabled, _ := config.Apply(overrides, dispatcher.Metadata()); enabled {
		if err := app.Register(dispatcher); err != nil {
			return fmt.Errorf("register ipc dispatcher plugin: %w", err)
		}
	}

	log.Info("amadeus starting", "db_path", cfg.DBPath, "shm_path", cfg.ShmPath)
	if err := app.RunUntilSignal(cmd.Context()); err != nil {
		return fmt.Errorf("run: %w", err)
	}
	log.Info("amadeus stopped")
	return nil
}
