package config

import (
	"encoding/json"
	"os"

	amadeus "github.com/amadeus-bus/amadeus"
)

// PluginOverride is one element of the declarative plugin configuration
// array described in §6. It only adjusts already-compiled plugins; it
// never loads code.
type PluginOverride struct {
	Name       string            `json:"name"`
	Enabled    *bool             `json:"enabled,omitempty"`
	Properties map[string]string `json:"properties,omitempty"`
}

// LoadPluginOverrides reads the optional declarative plugin configuration
// file at path. A missing file is not an error — it simply yields no
// overrides. This is the one ambient concern deliberately left on
// encoding/json rather than a third-party library: the file is a flat
// self-describing JSON array and every example repo in the pack reaches
// for encoding/json for exactly this shape of ad hoc metadata document.
func LoadPluginOverrides(path string) ([]PluginOverride, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var overrides []PluginOverride
	if err := json.Unmarshal(raw, &overrides); err != nil {
		return nil, amadeus.ErrDeclarativeConfigBad
	}
	return overrides, nil
}

// Apply finds the override matching meta.Name, if any, and returns
// whether the plugin should be enabled plus the properties to overlay.
func Apply(overrides []PluginOverride, meta amadeus.PluginMetadata) (enabled bool, properties map[string]string) {
	enabled = meta.EnabledByDefault
	properties = meta.Properties

	for _, o := range overrides {
		if o.Name != meta.Name {
			continue
		}
		if o.Enabled != nil {
			enabled = *o.Enabled
		}
		if o.Properties != nil {
			properties = o.Properties
		}
		return enabled, properties
	}
	return enabled, properties
}
