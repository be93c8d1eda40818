// Package config handles global configuration loading using viper.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// GlobalConfig is the top-level static configuration, mapping to the
// `agent-core:` root key in YAML.
type GlobalConfig struct {
	Node            NodeConfig            `mapstructure:"node"`
	Control         ControlConfig         `mapstructure:"control"`
	Log             LogConfig             `mapstructure:"log"`
	Metrics         MetricsConfig         `mapstructure:"metrics"`
	CommandChannel  CommandChannelConfig  `mapstructure:"command_channel"`
	DataDir         string                `mapstructure:"data_dir"`
	TaskPersistence TaskPersistenceConfig `mapstructure:"task_persistence"`
	Variables       VariablesConfig       `mapstructure:"variables"`
	Runners         RunnersConfig         `mapstructure:"runners"`
}

// ─── Node Identity ───

// NodeConfig identifies this control-plane instance.
type NodeConfig struct {
	Hostname string            `mapstructure:"hostname"` // empty = os.Hostname()
	Tags     map[string]string `mapstructure:"tags"`
}

// ─── Control Plane ───

// ControlConfig contains the local UDS control-plane endpoint settings.
type ControlConfig struct {
	Socket  string `mapstructure:"socket"`
	PIDFile string `mapstructure:"pid_file"`
}

// ─── Kafka (shared + command channel) ───

// KafkaConnectionConfig carries shared Kafka connection settings.
type KafkaConnectionConfig struct {
	Brokers []string   `mapstructure:"brokers"`
	SASL    SASLConfig `mapstructure:"sasl"`
	TLS     TLSConfig  `mapstructure:"tls"`
}

// SASLConfig contains SASL authentication settings.
type SASLConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Mechanism string `mapstructure:"mechanism"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
}

// TLSConfig contains TLS settings.
type TLSConfig struct {
	Enabled            bool   `mapstructure:"enabled"`
	CACert             string `mapstructure:"ca_cert"`
	ClientCert         string `mapstructure:"client_cert"`
	ClientKey          string `mapstructure:"client_key"`
	InsecureSkipVerify bool   `mapstructure:"insecure_skip_verify"`
}

// CommandChannelConfig configures the optional async task-submission
// channel alternative to the UDS control surface.
type CommandChannelConfig struct {
	Enabled    bool                `mapstructure:"enabled"`
	Type       string              `mapstructure:"type"` // "kafka"
	Kafka      CommandKafkaConfig  `mapstructure:"kafka"`
	CommandTTL string              `mapstructure:"command_ttl"` // default "5m"
}

// CommandKafkaConfig contains Kafka-specific command channel settings.
type CommandKafkaConfig struct {
	KafkaConnectionConfig `mapstructure:",squash"`
	Topic                 string `mapstructure:"topic"`
	ResponseTopic         string `mapstructure:"response_topic"` // empty = disabled
	GroupID               string `mapstructure:"group_id"`
	AutoOffsetReset       string `mapstructure:"auto_offset_reset"`
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	Path    string `mapstructure:"path"`
}

// ─── Log ───

// LogConfig contains logging settings.
type LogConfig struct {
	Level   string           `mapstructure:"level"`  // debug / info / warn / error
	Format  string           `mapstructure:"format"` // json / text
	Outputs LogOutputsConfig `mapstructure:"outputs"`
}

// LogOutputsConfig contains structured log output destinations.
type LogOutputsConfig struct {
	File FileOutputConfig `mapstructure:"file"`
}

// FileOutputConfig configures file log output.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Path     string         `mapstructure:"path"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	MaxBackups int  `mapstructure:"max_backups"`
	Compress   bool `mapstructure:"compress"`
}

// ─── Task Persistence ───

// TaskPersistenceConfig holds the task_persistence section. Enabled is
// parsed but not read; task state and event journals always live under
// data_dir/tasks.
type TaskPersistenceConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// ─── Variables (C1) ───

// VariablesConfig configures the Fernet-equivalent variable encryption key.
type VariablesConfig struct {
	EncryptionSecret string `mapstructure:"encryption_secret"`
}

// ─── Runners (C8/C9) ───

// RunnersConfig carries the engine endpoints the CDC and SQL runners dial.
type RunnersConfig struct {
	FlinkHome    string       `mapstructure:"flink_home"`
	FlinkCDCHome string       `mapstructure:"flink_cdc_home"`
	JobManager   ServiceAddr  `mapstructure:"job_manager"`
	SQLGateway   ServiceAddr  `mapstructure:"sql_gateway"`
}

// ServiceAddr is a base URL for an external HTTP service.
type ServiceAddr struct {
	BaseURL string `mapstructure:"base_url"`
}

// ─── Loading ───

// configRoot is the top-level wrapper matching the YAML structure
// `agent-core: ...`.
type configRoot struct {
	AgentCore GlobalConfig `mapstructure:"agent-core"`
}

// Load reads configuration from path, applies environment overrides and
// defaults, and validates the result.
func Load(path string) (*GlobalConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// "agent-core.log.level" -> "AGENT_CORE_LOG_LEVEL"
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.AgentCore

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("agent-core.control.socket", "/var/run/agent-core.sock")
	v.SetDefault("agent-core.control.pid_file", "/var/run/agent-core.pid")

	v.SetDefault("agent-core.log.level", "info")
	v.SetDefault("agent-core.log.format", "json")
	v.SetDefault("agent-core.log.outputs.file.enabled", false)
	v.SetDefault("agent-core.log.outputs.file.path", "/var/log/agent-core/agent-core.log")
	v.SetDefault("agent-core.log.outputs.file.rotation.max_size_mb", 100)
	v.SetDefault("agent-core.log.outputs.file.rotation.max_age_days", 30)
	v.SetDefault("agent-core.log.outputs.file.rotation.max_backups", 5)
	v.SetDefault("agent-core.log.outputs.file.rotation.compress", true)

	v.SetDefault("agent-core.metrics.enabled", true)
	v.SetDefault("agent-core.metrics.listen", ":9091")
	v.SetDefault("agent-core.metrics.path", "/metrics")

	v.SetDefault("agent-core.command_channel.enabled", false)
	v.SetDefault("agent-core.command_channel.type", "kafka")
	v.SetDefault("agent-core.command_channel.kafka.auto_offset_reset", "latest")
	v.SetDefault("agent-core.command_channel.command_ttl", "5m")

	v.SetDefault("agent-core.data_dir", "/var/lib/agent-core")
	v.SetDefault("agent-core.task_persistence.enabled", true)

	v.SetDefault("agent-core.runners.flink_home", "/opt/flink")
	v.SetDefault("agent-core.runners.flink_cdc_home", "/opt/flink-cdc")
	v.SetDefault("agent-core.runners.job_manager.base_url", "http://localhost:8081")
	v.SetDefault("agent-core.runners.sql_gateway.base_url", "http://localhost:8083")
}

// ValidateAndApplyDefaults validates configuration and fills in
// runtime-derived defaults (hostname auto-detect, Kafka group_id default).
func (cfg *GlobalConfig) ValidateAndApplyDefaults() error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug/info/warn/error)", cfg.Log.Level)
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return fmt.Errorf("invalid log format: %s (must be json/text)", cfg.Log.Format)
	}

	if cfg.Node.Hostname == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return fmt.Errorf("failed to get hostname: %w", err)
		}
		cfg.Node.Hostname = hostname
	}

	if cfg.CommandChannel.Enabled {
		if cfg.CommandChannel.Type != "kafka" {
			return fmt.Errorf("unsupported command_channel.type: %s (only 'kafka' supported)", cfg.CommandChannel.Type)
		}
		if len(cfg.CommandChannel.Kafka.Brokers) == 0 {
			return fmt.Errorf("command_channel.kafka.brokers is required when command_channel.enabled=true")
		}
		if cfg.CommandChannel.Kafka.Topic == "" {
			return fmt.Errorf("command_channel.kafka.topic is required when command_channel.enabled=true")
		}
		if cfg.CommandChannel.Kafka.GroupID == "" {
			cfg.CommandChannel.Kafka.GroupID = "agent-core-" + cfg.Node.Hostname
		}
	}

	if cfg.Variables.EncryptionSecret == "" {
		return fmt.Errorf("variables.encryption_secret is required")
	}

	return nil
}
