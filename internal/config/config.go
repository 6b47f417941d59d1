// Package config loads the daemon's TOML configuration file, the way
// internal/daemon.LoadConfig/SaveConfig do it for a single ~/.tutu/config.toml
// — here split across [mqtt], [entity_store], [workflow], [http], [plugin],
// [mapper], [logging] and [telemetry] tables.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config holds the full daemon configuration.
type Config struct {
	MQTT        MQTTConfig        `toml:"mqtt"`
	EntityStore EntityStoreConfig `toml:"entity_store"`
	Workflow    WorkflowConfig    `toml:"workflow"`
	HTTP        HTTPConfig        `toml:"http"`
	Plugin      PluginConfig      `toml:"plugin"`
	Mapper      MapperConfig      `toml:"mapper"`
	Logging     LoggingConfig     `toml:"logging"`
	Telemetry   TelemetryConfig   `toml:"telemetry"`
}

// MQTTConfig controls the MQTT client actor (component C).
type MQTTConfig struct {
	Host           string `toml:"host"`
	Port           int    `toml:"port"`
	ClientIDPrefix string `toml:"client_id_prefix"`
	TopicRoot      string `toml:"topic_root"`
	CAFile         string `toml:"ca_file"`
	CertFile       string `toml:"cert_file"`
	KeyFile        string `toml:"key_file"`
}

// EntityStoreConfig controls the entity store actor (component D).
type EntityStoreConfig struct {
	AutoRegister       bool `toml:"auto_register"`
	UnknownBufferBound int  `toml:"unknown_buffer_bound"`
}

// WorkflowConfig controls the workflow engine (component F).
type WorkflowConfig struct {
	Dir               string `toml:"dir"`
	LogDir            string `toml:"log_dir"`
	DefaultGraceSecs  int    `toml:"default_grace_seconds"`
	DefaultTimeoutSecs int   `toml:"default_timeout_seconds"`
	LogMaxSizeMB      int    `toml:"log_max_size_mb"`
	LogMaxFiles       int    `toml:"log_max_files"`
}

// HTTPConfig controls the REST API and file-transfer HTTP bind addresses
// (components E and H).
type HTTPConfig struct {
	APIHost          string `toml:"api_host"`
	APIPort          int    `toml:"api_port"`
	FileTransferHost string `toml:"file_transfer_host"`
	FileTransferPort int    `toml:"file_transfer_port"`
	FileTransferDir  string `toml:"file_transfer_dir"`
}

// PluginConfig controls the plugin runner (component G).
type PluginConfig struct {
	SoftwareDir   string `toml:"software_dir"`
	ConfigDir     string `toml:"config_dir"`
	LogDir        string `toml:"log_dir"`
	FirmwareDir   string `toml:"firmware_dir"`
	DiagnosticDir string `toml:"diagnostic_dir"`
	SudoCommand   string `toml:"sudo_command"`
	TedgeWriteBin string `toml:"tedge_write_bin"`
}

// BridgeRule is a declarative mapper rule rendered by the mapper's template
// expander (spec §4.I): ${config.*}, ${mapper.*}, ${item} and
// ${connection.*} placeholders are resolved against Settings/Connection at
// startup before the rule is installed.
type BridgeRule struct {
	Direction    string `toml:"direction"`
	LocalTopic   string `toml:"local_topic"`
	RemoteTopic  string `toml:"remote_topic"`
	QoS          byte   `toml:"qos"`
}

// MapperConfig controls one cloud mapper instance (component I).
type MapperConfig struct {
	Name     string            `toml:"name"`
	Settings map[string]string `toml:"settings"`
	Rules    []BridgeRule      `toml:"rule"`
}

// LoggingConfig controls the zerolog root logger.
type LoggingConfig struct {
	Level string `toml:"level"`
	JSON  bool   `toml:"json"`
}

// TelemetryConfig controls the Prometheus /metrics endpoint.
type TelemetryConfig struct {
	Enabled bool `toml:"enabled"`
	Port    int  `toml:"port"`
}

// Default returns the configuration used when no config.toml exists yet,
// the same role DefaultConfig() plays for the teacher's daemon.
func Default() Config {
	home := configDir()
	return Config{
		MQTT: MQTTConfig{
			Host:           "localhost",
			Port:           1883,
			ClientIDPrefix: "tedge",
			TopicRoot:      "te",
		},
		EntityStore: EntityStoreConfig{
			AutoRegister:       true,
			UnknownBufferBound: 100,
		},
		Workflow: WorkflowConfig{
			Dir:                filepath.Join(home, "operations"),
			LogDir:             filepath.Join(home, "logs", "agent"),
			DefaultGraceSecs:   60,
			DefaultTimeoutSecs: 3600,
			LogMaxSizeMB:       5,
			LogMaxFiles:        5,
		},
		HTTP: HTTPConfig{
			APIHost:          "127.0.0.1",
			APIPort:          8000,
			FileTransferHost: "127.0.0.1",
			FileTransferPort: 8001,
			FileTransferDir:  filepath.Join(home, "file-transfer"),
		},
		Plugin: PluginConfig{
			SoftwareDir:   "/etc/tedge/sm-plugins",
			ConfigDir:     "/etc/tedge/plugins",
			LogDir:        "/etc/tedge/plugins",
			FirmwareDir:   "/etc/tedge/plugins",
			DiagnosticDir: "/etc/tedge/plugins",
			SudoCommand:   "sudo",
			TedgeWriteBin: "tedge-write",
		},
		Mapper: MapperConfig{
			Name:     "c8y",
			Settings: map[string]string{},
		},
		Logging: LoggingConfig{
			Level: "info",
			JSON:  false,
		},
		Telemetry: TelemetryConfig{
			Enabled: false,
			Port:    9000,
		},
	}
}

// Load reads <dir>/tedge.toml, falling back to Default() entirely when the
// file does not exist (mirrors the teacher's LoadConfig: missing file is
// not an error).
func Load(dir string) (Config, error) {
	cfg := Default()
	path := filepath.Join(dir, "tedge.toml")

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg to <dir>/tedge.toml, creating the directory if needed.
func Save(dir string, cfg Config) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.Create(filepath.Join(dir, "tedge.toml"))
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}

// configDir resolves the config/data root: TEDGE_CONFIG_DIR when non-empty,
// else /etc/tedge when running as root, else ~/.tedge — mirroring the
// teacher's tutuHome() precedence. A --config-dir flag is handled by the
// callers, which use its value instead of calling this when it is set.
func configDir() string {
	if env := os.Getenv("TEDGE_CONFIG_DIR"); env != "" {
		return env
	}
	if os.Geteuid() == 0 {
		return "/etc/tedge"
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".tedge")
}

// ConfigDir is exported for callers (cmd/tedge-agent, cmd/tedge-mapper) that
// need the resolved root before a Config has been loaded.
func ConfigDir() string { return configDir() }
