// Package config loads Amadeus's application configuration: an
// optional TOML file (grounded in the teacher's use of
// github.com/BurntSushi/toml for its own feeders/structs config layer),
// overridden by the two environment variables the specification
// reserves (AMADEUS_DB_PATH, AMADEUS_LOG).
package config

import (
	"os"

	"github.com/BurntSushi/toml"
)

// Config is Amadeus's top-level application configuration.
type Config struct {
	DBPath           string            `toml:"db_path"`
	ShmPath          string            `toml:"shm_path"`
	LogLevel         string            `toml:"log_level"`
	IngressSize      int               `toml:"ingress_size"`
	DirectCapacity   int               `toml:"direct_capacity"`
	AutoRemindTags   map[string]string `toml:"auto_remind_tags"`
	DispatcherTopics []string          `toml:"dispatcher_topics"`
}

// Default returns a Config with Amadeus's baked-in defaults, matching
// the defaults named throughout §4-§6 of the specification.
func Default() Config {
	return Config{
		DBPath:         "amadeus.db",
		ShmPath:        "amadeus.shm",
		LogLevel:       "info",
		IngressSize:    1024,
		DirectCapacity: 64,
		AutoRemindTags: map[string]string{
			"stage_goal": "0 0 10 * * * *",
		},
	}
}

// Load builds a Config starting from Default(), overlaying path's TOML
// content if path is non-empty and the file exists, then applying the
// AMADEUS_DB_PATH / AMADEUS_LOG environment overrides last so they always
// win, per §6.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, &cfg); err != nil {
				return Config{}, err
			}
		}
	}

	if v := os.Getenv("AMADEUS_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("AMADEUS_LOG"); v != "" {
		cfg.LogLevel = v
	}

	return cfg, nil
}
