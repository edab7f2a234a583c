// Package config loads node configuration from flags, a config file, and
// environment variables, following the same spf13/viper + spf13/cobra
// layering the rest of this codebase's ancestry uses: flags take precedence
// over DKVD_* environment variables, which take precedence over the config
// file, which takes precedence over defaults; the result is unmarshalled
// into a typed Config and validated.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Config holds all configuration for a dkvd node.
type Config struct {
	NodeID   string `mapstructure:"node_id"`
	Listen   string `mapstructure:"listen"`    // client session transport
	HTTPAddr string `mapstructure:"http_addr"` // cluster/status HTTP surface
	DataDir  string `mapstructure:"data_dir"`
	LogLevel string `mapstructure:"log_level"`

	EnableTLS bool   `mapstructure:"enable_tls"`
	CertFile  string `mapstructure:"cert_file"`
	KeyFile   string `mapstructure:"key_file"`

	Partition   PartitionConfig   `mapstructure:"partition"`
	Clock       ClockConfig       `mapstructure:"clock"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Journal     JournalConfig     `mapstructure:"journal"`
	Regulator   RegulatorConfig   `mapstructure:"regulator"`
	WriteConcern WriteConcernConfig `mapstructure:"write_concern"`
	Security    SecurityConfig    `mapstructure:"security"`
	Resolver    ResolverConfig    `mapstructure:"resolver"`
}

// PartitionConfig sizes the partition map fed to partition.NewManager.
type PartitionConfig struct {
	Count    int `mapstructure:"count"`
	Replicas int `mapstructure:"replicas"`
}

// ClockConfig configures the node's hybrid logical clock.
type ClockConfig struct {
	// DriftMode is "lenient" or "strict"; see clock.DriftMode.
	DriftMode   string `mapstructure:"drift_mode"`
	MaxDriftMs  int    `mapstructure:"max_drift_ms"`
}

// StorageConfig selects and configures the durability backend.
type StorageConfig struct {
	Backend string `mapstructure:"backend"` // memory, pebble, badger, s3

	// Pebble/Badger share DataDir-relative roots unless overridden here.
	Root       string `mapstructure:"root"`
	SyncWrites bool   `mapstructure:"sync_writes"` // badger only

	// S3 (remote backend)
	S3Endpoint  string `mapstructure:"s3_endpoint"`
	S3Region    string `mapstructure:"s3_region"`
	S3Bucket    string `mapstructure:"s3_bucket"`
	S3AccessKey string `mapstructure:"s3_access_key"`
	S3SecretKey string `mapstructure:"s3_secret_key"`
}

// JournalConfig tunes the operation journal's ring buffer and flush policy.
type JournalConfig struct {
	Capacity          int `mapstructure:"capacity"`
	PersistIntervalMs int `mapstructure:"persist_interval_ms"`
	PersistBatchSize  int `mapstructure:"persist_batch_size"`
	RetentionDays     int `mapstructure:"retention_days"`
}

// RegulatorConfig tunes write admission backpressure.
type RegulatorConfig struct {
	MaxPending            int     `mapstructure:"max_pending"`
	ForceEveryN           uint64  `mapstructure:"force_every_n"`
	EarlyForceProbability float64 `mapstructure:"early_force_probability"`
}

// WriteConcernConfig sets the default ack wait and quorum timeout.
type WriteConcernConfig struct {
	Default        string `mapstructure:"default"` // LOCAL, QUORUM, ALL
	AckTimeoutMs   int    `mapstructure:"ack_timeout_ms"`
}

// SecurityConfig points at the policy file the security engine loads and
// the shared secret the session authenticator verifies bearer JWTs against.
type SecurityConfig struct {
	PolicyFile    string `mapstructure:"policy_file"`
	JWTSecretFile string `mapstructure:"jwt_secret_file"`
}

// ResolverConfig points at the conflict resolver rule file.
type ResolverConfig struct {
	RuleFile string `mapstructure:"rule_file"`
}

// Load loads configuration from flags, an optional config file, and
// MAXIOFS_-style environment variables (prefixed DKVD_ here).
func Load(cmd *cobra.Command) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if err := bindFlags(cmd, v); err != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", err)
	}

	if configFile, _ := cmd.Flags().GetString("config"); configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("DKVD")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen", ":7070")
	v.SetDefault("http_addr", ":7071")
	v.SetDefault("log_level", "info")
	v.SetDefault("enable_tls", false)

	v.SetDefault("partition.count", 256)
	v.SetDefault("partition.replicas", 2)

	v.SetDefault("clock.drift_mode", "lenient")
	v.SetDefault("clock.max_drift_ms", 500)

	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.root", "")
	v.SetDefault("storage.sync_writes", true)

	v.SetDefault("journal.capacity", 100_000)
	v.SetDefault("journal.persist_interval_ms", 2000)
	v.SetDefault("journal.persist_batch_size", 500)
	v.SetDefault("journal.retention_days", 30)

	v.SetDefault("regulator.max_pending", 4096)
	v.SetDefault("regulator.force_every_n", 256)
	v.SetDefault("regulator.early_force_probability", 0.01)

	v.SetDefault("write_concern.default", "LOCAL")
	v.SetDefault("write_concern.ack_timeout_ms", 5000)
}

func bindFlags(cmd *cobra.Command, v *viper.Viper) error {
	flags := map[string]string{
		"node-id":      "node_id",
		"listen":       "listen",
		"http-addr":    "http_addr",
		"data-dir":     "data_dir",
		"log-level":    "log_level",
		"tls-cert":     "cert_file",
		"tls-key":      "key_file",
		"storage-backend": "storage.backend",
		"policy-file":     "security.policy_file",
		"jwt-secret-file": "security.jwt_secret_file",
		"rule-file":       "resolver.rule_file",
	}

	for flag, key := range flags {
		f := cmd.Flags().Lookup(flag)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return err
		}
	}

	return nil
}

func validate(cfg *Config) error {
	if cfg.NodeID == "" {
		return fmt.Errorf("node_id is required: specify via --node-id flag, config file, or DKVD_NODE_ID environment variable")
	}
	if cfg.DataDir == "" {
		return fmt.Errorf("data_dir is required: specify via --data-dir flag, config file, or DKVD_DATA_DIR environment variable")
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	if cfg.Storage.Root == "" {
		cfg.Storage.Root = filepath.Join(cfg.DataDir, "storage")
	}
	if !filepath.IsAbs(cfg.Storage.Root) {
		absRoot, err := filepath.Abs(cfg.Storage.Root)
		if err == nil {
			cfg.Storage.Root = absRoot
		}
	}

	switch cfg.Storage.Backend {
	case "memory", "pebble", "badger", "s3":
	default:
		return fmt.Errorf("unknown storage.backend %q: must be memory, pebble, badger, or s3", cfg.Storage.Backend)
	}
	if cfg.Storage.Backend == "s3" && cfg.Storage.S3Bucket == "" {
		return fmt.Errorf("storage.s3_bucket is required when storage.backend is s3")
	}

	if cfg.Partition.Count <= 0 {
		return fmt.Errorf("partition.count must be positive")
	}
	if cfg.Partition.Replicas < 0 {
		return fmt.Errorf("partition.replicas must not be negative")
	}

	switch cfg.Clock.DriftMode {
	case "lenient", "strict":
	default:
		return fmt.Errorf("unknown clock.drift_mode %q: must be lenient or strict", cfg.Clock.DriftMode)
	}

	switch cfg.WriteConcern.Default {
	case "LOCAL", "QUORUM", "ALL":
	default:
		return fmt.Errorf("unknown write_concern.default %q: must be LOCAL, QUORUM, or ALL", cfg.WriteConcern.Default)
	}

	if cfg.EnableTLS {
		if cfg.CertFile == "" || cfg.KeyFile == "" {
			return fmt.Errorf("TLS enabled but cert-file or key-file not specified")
		}
	}

	if cfg.Security.PolicyFile != "" {
		if _, err := os.Stat(cfg.Security.PolicyFile); os.IsNotExist(err) {
			logrus.WithField("path", cfg.Security.PolicyFile).Warn("security policy file does not exist yet, starting with an empty policy set")
		}
	}

	return nil
}
