package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadWithNoFileReturnsDefault(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	require.NoError(t, err)
	require.Equal(t, Default().MQTT, cfg.MQTT)
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	cfg := Default()
	cfg.MQTT.Host = "broker.example.com"
	cfg.HTTP.APIPort = 9999
	cfg.Mapper.Rules = []BridgeRule{{Direction: "local_to_remote", LocalTopic: "te/+/+/+/+/m/+", RemoteTopic: "c8y/measurement", QoS: 1}}

	require.NoError(t, Save(dir, cfg))

	loaded, err := Load(dir)
	require.NoError(t, err)
	require.Equal(t, "broker.example.com", loaded.MQTT.Host)
	require.Equal(t, 9999, loaded.HTTP.APIPort)
	require.Len(t, loaded.Mapper.Rules, 1)
	require.Equal(t, "c8y/measurement", loaded.Mapper.Rules[0].RemoteTopic)
}

func TestLoadRejectsMalformedTOML(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tedge.toml"), []byte("not = [valid toml"), 0o644))

	_, err := Load(dir)
	require.Error(t, err)
}

func TestLoadOnlyOverridesFieldsPresentInFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tedge.toml"), []byte(`[mqtt]
host = "custom-host"
`), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	require.Equal(t, "custom-host", cfg.MQTT.Host)
	require.Equal(t, Default().MQTT.Port, cfg.MQTT.Port)
	require.Equal(t, Default().HTTP, cfg.HTTP)
}

func TestConfigDirHonoursEnvOverride(t *testing.T) {
	t.Setenv("TEDGE_CONFIG_DIR", "/tmp/custom-tedge-dir")
	require.Equal(t, "/tmp/custom-tedge-dir", ConfigDir())
}
