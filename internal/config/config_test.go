package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	amadeus "github.com/amadeus-bus/amadeus"
)

func TestLoad_NoPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_TOMLFileOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "amadeus.toml")
	content := `
db_path = "/var/lib/amadeus/custom.db"
log_level = "debug"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/amadeus/custom.db", cfg.DBPath)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, Default().ShmPath, cfg.ShmPath)
}

func TestLoad_EnvOverridesWinOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "amadeus.toml")
	require.NoError(t, os.WriteFile(path, []byte(`db_path = "/from/file.db"`+"\n"), 0o644))

	t.Setenv("AMADEUS_DB_PATH", "/from/env.db")
	t.Setenv("AMADEUS_LOG", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/from/env.db", cfg.DBPath)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestLoadPluginOverrides_EmptyPathReturnsNil(t *testing.T) {
	overrides, err := LoadPluginOverrides("")
	require.NoError(t, err)
	assert.Nil(t, overrides)
}

func TestLoadPluginOverrides_MissingFileReturnsNil(t *testing.T) {
	overrides, err := LoadPluginOverrides(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	assert.Nil(t, overrides)
}

func TestLoadPluginOverrides_MalformedFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plugins.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o644))

	_, err := LoadPluginOverrides(path)
	assert.ErrorIs(t, err, amadeus.ErrDeclarativeConfigBad)
}

func TestLoadPluginOverrides_ParsesArray(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plugins.json")
	content := `[{"name":"Core System","enabled":false,"properties":{"k":"v"}}]`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	overrides, err := LoadPluginOverrides(path)
	require.NoError(t, err)
	require.Len(t, overrides, 1)
	assert.Equal(t, "Core System", overrides[0].Name)
	require.NotNil(t, overrides[0].Enabled)
	assert.False(t, *overrides[0].Enabled)
}

func TestApply_NoMatchingOverrideUsesMetaDefaults(t *testing.T) {
	meta := amadeus.PluginMetadata{Name: "Core System", EnabledByDefault: true, Properties: map[string]string{"a": "1"}}
	enabled, props := Apply(nil, meta)
	assert.True(t, enabled)
	assert.Equal(t, map[string]string{"a": "1"}, props)
}

func TestApply_OverrideDisablesPlugin(t *testing.T) {
	disabled := false
	overrides := []PluginOverride{{Name: "Core System", Enabled: &disabled}}
	meta := amadeus.PluginMetadata{Name: "Core System", EnabledByDefault: true}

	enabled, _ := Apply(overrides, meta)
	assert.False(t, enabled)
}

func TestApply_OverridePropertiesReplaceDefaults(t *testing.T) {
	overrides := []PluginOverride{{Name: "Core System", Properties: map[string]string{"k": "v"}}}
	meta := amadeus.PluginMetadata{Name: "Core System", Properties: map[string]string{"old": "x"}}

	_, props := Apply(overrides, meta)
	assert.Equal(t, map[string]string{"k": "v"}, props)
}
