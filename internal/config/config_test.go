package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetDefaults(t *testing.T) {
	v := viper.New()
	setDefaults(v)

	assert.Equal(t, ":7070", v.GetString("listen"))
	assert.Equal(t, ":7071", v.GetString("http_addr"))
	assert.Equal(t, "info", v.GetString("log_level"))
	assert.False(t, v.GetBool("enable_tls"))
}

func TestSetDefaults_Partition(t *testing.T) {
	v := viper.New()
	setDefaults(v)

	assert.Equal(t, 256, v.GetInt("partition.count"))
	assert.Equal(t, 2, v.GetInt("partition.replicas"))
}

func TestSetDefaults_Clock(t *testing.T) {
	v := viper.New()
	setDefaults(v)

	assert.Equal(t, "lenient", v.GetString("clock.drift_mode"))
	assert.Equal(t, 500, v.GetInt("clock.max_drift_ms"))
}

func TestSetDefaults_Storage(t *testing.T) {
	v := viper.New()
	setDefaults(v)

	assert.Equal(t, "memory", v.GetString("storage.backend"))
	assert.True(t, v.GetBool("storage.sync_writes"))
}

func TestSetDefaults_Journal(t *testing.T) {
	v := viper.New()
	setDefaults(v)

	assert.Equal(t, 100_000, v.GetInt("journal.capacity"))
	assert.Equal(t, 2000, v.GetInt("journal.persist_interval_ms"))
	assert.Equal(t, 500, v.GetInt("journal.persist_batch_size"))
}

func TestSetDefaults_Regulator(t *testing.T) {
	v := viper.New()
	setDefaults(v)

	assert.Equal(t, 4096, v.GetInt("regulator.max_pending"))
	assert.Equal(t, uint64(256), uint64(v.GetInt("regulator.force_every_n")))
}

func TestSetDefaults_WriteConcern(t *testing.T) {
	v := viper.New()
	setDefaults(v)

	assert.Equal(t, "LOCAL", v.GetString("write_concern.default"))
	assert.Equal(t, 5000, v.GetInt("write_concern.ack_timeout_ms"))
}

func TestConfig_Struct(t *testing.T) {
	cfg := Config{
		NodeID:   "node-a",
		Listen:   ":7070",
		HTTPAddr: ":7071",
		DataDir:  "/tmp/data",
		LogLevel: "info",
	}

	assert.Equal(t, "node-a", cfg.NodeID)
	assert.Equal(t, ":7070", cfg.Listen)
	assert.Equal(t, ":7071", cfg.HTTPAddr)
	assert.Equal(t, "/tmp/data", cfg.DataDir)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestConfig_TLSSettings(t *testing.T) {
	cfg := Config{
		EnableTLS: true,
		CertFile:  "/path/to/cert.pem",
		KeyFile:   "/path/to/key.pem",
	}

	assert.True(t, cfg.EnableTLS)
	assert.Equal(t, "/path/to/cert.pem", cfg.CertFile)
	assert.Equal(t, "/path/to/key.pem", cfg.KeyFile)
}

func TestStorageConfig_Backends(t *testing.T) {
	for _, backend := range []string{"memory", "pebble", "badger", "s3"} {
		t.Run(backend, func(t *testing.T) {
			tempDir := t.TempDir()
			cfg := &Config{
				NodeID:  "node-a",
				DataDir: tempDir,
				Partition: PartitionConfig{Count: 8, Replicas: 1},
				Clock:     ClockConfig{DriftMode: "lenient"},
				Storage: StorageConfig{
					Backend:  backend,
					S3Bucket: "bucket",
				},
				WriteConcern: WriteConcernConfig{Default: "LOCAL"},
			}
			err := validate(cfg)
			require.NoError(t, err)
		})
	}
}

// Test validate() function
func TestValidate_MissingNodeID(t *testing.T) {
	cfg := &Config{DataDir: t.TempDir()}
	err := validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "node_id is required")
}

func TestValidate_MissingDataDir(t *testing.T) {
	cfg := &Config{NodeID: "node-a"}
	err := validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "data_dir is required")
}

func TestValidate_ValidConfig(t *testing.T) {
	tempDir := t.TempDir()

	cfg := &Config{
		NodeID:  "node-a",
		DataDir: tempDir,
		Partition: PartitionConfig{Count: 16, Replicas: 2},
		Clock:     ClockConfig{DriftMode: "lenient"},
		Storage: StorageConfig{
			Backend: "memory",
			Root:    "",
		},
		WriteConcern: WriteConcernConfig{Default: "QUORUM"},
	}

	err := validate(cfg)
	require.NoError(t, err)

	expectedStorageRoot := filepath.Join(tempDir, "storage")
	assert.Equal(t, expectedStorageRoot, cfg.Storage.Root)
}

func TestValidate_RelativeStorageRootBecomesAbsolute(t *testing.T) {
	tempDir := t.TempDir()

	cfg := &Config{
		NodeID:  "node-a",
		DataDir: tempDir,
		Partition: PartitionConfig{Count: 8, Replicas: 1},
		Clock:     ClockConfig{DriftMode: "lenient"},
		Storage: StorageConfig{
			Backend: "memory",
			Root:    "relative/path",
		},
		WriteConcern: WriteConcernConfig{Default: "LOCAL"},
	}

	err := validate(cfg)
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(cfg.Storage.Root))
}

func TestValidate_UnknownStorageBackend(t *testing.T) {
	cfg := &Config{
		NodeID:  "node-a",
		DataDir: t.TempDir(),
		Partition: PartitionConfig{Count: 8, Replicas: 1},
		Clock:     ClockConfig{DriftMode: "lenient"},
		Storage:   StorageConfig{Backend: "nfs"},
		WriteConcern: WriteConcernConfig{Default: "LOCAL"},
	}

	err := validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown storage.backend")
}

func TestValidate_S3BackendRequiresBucket(t *testing.T) {
	cfg := &Config{
		NodeID:  "node-a",
		DataDir: t.TempDir(),
		Partition: PartitionConfig{Count: 8, Replicas: 1},
		Clock:     ClockConfig{DriftMode: "lenient"},
		Storage:   StorageConfig{Backend: "s3"},
		WriteConcern: WriteConcernConfig{Default: "LOCAL"},
	}

	err := validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage.s3_bucket is required")
}

func TestValidate_InvalidPartitionCount(t *testing.T) {
	cfg := &Config{
		NodeID:  "node-a",
		DataDir: t.TempDir(),
		Partition: PartitionConfig{Count: 0, Replicas: 1},
		Clock:     ClockConfig{DriftMode: "lenient"},
		Storage:   StorageConfig{Backend: "memory"},
		WriteConcern: WriteConcernConfig{Default: "LOCAL"},
	}

	err := validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "partition.count must be positive")
}

func TestValidate_UnknownDriftMode(t *testing.T) {
	cfg := &Config{
		NodeID:  "node-a",
		DataDir: t.TempDir(),
		Partition: PartitionConfig{Count: 8, Replicas: 1},
		Clock:     ClockConfig{DriftMode: "chaotic"},
		Storage:   StorageConfig{Backend: "memory"},
		WriteConcern: WriteConcernConfig{Default: "LOCAL"},
	}

	err := validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown clock.drift_mode")
}

func TestValidate_UnknownWriteConcernDefault(t *testing.T) {
	cfg := &Config{
		NodeID:  "node-a",
		DataDir: t.TempDir(),
		Partition: PartitionConfig{Count: 8, Replicas: 1},
		Clock:     ClockConfig{DriftMode: "lenient"},
		Storage:   StorageConfig{Backend: "memory"},
		WriteConcern: WriteConcernConfig{Default: "EVENTUAL"},
	}

	err := validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown write_concern.default")
}

func TestValidate_TLSEnabledWithoutCerts(t *testing.T) {
	cfg := &Config{
		NodeID:    "node-a",
		DataDir:   t.TempDir(),
		Partition: PartitionConfig{Count: 8, Replicas: 1},
		Clock:     ClockConfig{DriftMode: "lenient"},
		Storage:   StorageConfig{Backend: "memory"},
		WriteConcern: WriteConcernConfig{Default: "LOCAL"},
		EnableTLS: true,
	}

	err := validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TLS enabled but cert-file or key-file not specified")
}

func TestValidate_TLSEnabledWithCerts(t *testing.T) {
	cfg := &Config{
		NodeID:    "node-a",
		DataDir:   t.TempDir(),
		Partition: PartitionConfig{Count: 8, Replicas: 1},
		Clock:     ClockConfig{DriftMode: "lenient"},
		Storage:   StorageConfig{Backend: "memory"},
		WriteConcern: WriteConcernConfig{Default: "LOCAL"},
		EnableTLS: true,
		CertFile:  "/path/to/cert.pem",
		KeyFile:   "/path/to/key.pem",
	}

	err := validate(cfg)
	require.NoError(t, err)
}

// Test bindFlags() function
func TestBindFlags_Success(t *testing.T) {
	cmd := &cobra.Command{}
	cmd.Flags().String("node-id", "", "node id")
	cmd.Flags().String("listen", ":7070", "listen address")
	cmd.Flags().String("http-addr", ":7071", "http listen address")
	cmd.Flags().String("data-dir", "", "data directory")
	cmd.Flags().String("log-level", "info", "log level")
	cmd.Flags().String("tls-cert", "", "TLS certificate file")
	cmd.Flags().String("tls-key", "", "TLS key file")
	cmd.Flags().String("storage-backend", "memory", "storage backend")
	cmd.Flags().String("policy-file", "", "security policy file")
	cmd.Flags().String("rule-file", "", "conflict resolver rule file")

	v := viper.New()
	err := bindFlags(cmd, v)
	require.NoError(t, err)
}

func TestBindFlags_MissingFlagsSkipped(t *testing.T) {
	// bindFlags skips flags the command doesn't define instead of erroring,
	// since not every caller (e.g. a subcommand) registers every flag.
	cmd := &cobra.Command{}

	v := viper.New()
	err := bindFlags(cmd, v)
	require.NoError(t, err)
}

func newTestCommand(dataDir string) *cobra.Command {
	cmd := &cobra.Command{}
	cmd.Flags().String("node-id", "node-a", "node id")
	cmd.Flags().String("listen", ":7070", "listen address")
	cmd.Flags().String("http-addr", ":7071", "http listen address")
	cmd.Flags().String("data-dir", dataDir, "data directory")
	cmd.Flags().String("log-level", "info", "log level")
	cmd.Flags().String("tls-cert", "", "TLS certificate file")
	cmd.Flags().String("tls-key", "", "TLS key file")
	cmd.Flags().String("storage-backend", "memory", "storage backend")
	cmd.Flags().String("policy-file", "", "security policy file")
	cmd.Flags().String("rule-file", "", "conflict resolver rule file")
	cmd.Flags().String("config", "", "config file")
	return cmd
}

// Test Load() function
func TestLoad_WithDefaults(t *testing.T) {
	tempDir := t.TempDir()
	cmd := newTestCommand(tempDir)

	cfg, err := Load(cmd)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "node-a", cfg.NodeID)
	assert.Equal(t, ":7070", cfg.Listen)
	assert.Equal(t, tempDir, cfg.DataDir)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Equal(t, 256, cfg.Partition.Count)
	assert.Equal(t, "LOCAL", cfg.WriteConcern.Default)
}

func TestLoad_FromConfigFile(t *testing.T) {
	tempDir := t.TempDir()
	configFile := filepath.Join(tempDir, "config.yaml")

	configContent := "node_id: \"node-b\"\n" +
		"listen: \":9090\"\n" +
		"data_dir: \"" + filepath.ToSlash(tempDir) + "\"\n" +
		"log_level: \"debug\"\n" +
		"partition:\n" +
		"  count: 64\n" +
		"  replicas: 3\n" +
		"storage:\n" +
		"  backend: \"memory\"\n"

	err := os.WriteFile(configFile, []byte(configContent), 0644)
	require.NoError(t, err)

	cmd := newTestCommand("")
	err = cmd.Flags().Set("config", configFile)
	require.NoError(t, err)

	cfg, err := Load(cmd)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "node-b", cfg.NodeID)
	assert.Equal(t, ":9090", cfg.Listen)
	assert.Equal(t, filepath.Clean(tempDir), filepath.Clean(cfg.DataDir))
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 64, cfg.Partition.Count)
	assert.Equal(t, 3, cfg.Partition.Replicas)
}

func TestLoad_InvalidConfigFile(t *testing.T) {
	tempDir := t.TempDir()
	configFile := filepath.Join(tempDir, "invalid-config.yaml")

	err := os.WriteFile(configFile, []byte("listen: \":8080\"\ninvalid yaml content [[[\n"), 0644)
	require.NoError(t, err)

	cmd := newTestCommand(tempDir)
	err = cmd.Flags().Set("config", configFile)
	require.NoError(t, err)

	cfg, err := Load(cmd)
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoad_MissingNodeID(t *testing.T) {
	cmd := newTestCommand(t.TempDir())
	err := cmd.Flags().Set("node-id", "")
	require.NoError(t, err)

	cfg, err := Load(cmd)
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "node_id is required")
}

func TestLoad_WithEnvironmentVariables(t *testing.T) {
	tempDir := t.TempDir()

	os.Setenv("DKVD_DATA_DIR", tempDir)
	os.Setenv("DKVD_LISTEN", ":9999")
	os.Setenv("DKVD_LOG_LEVEL", "debug")
	defer func() {
		os.Unsetenv("DKVD_DATA_DIR")
		os.Unsetenv("DKVD_LISTEN")
		os.Unsetenv("DKVD_LOG_LEVEL")
	}()

	cmd := newTestCommand("")
	err := cmd.Flags().Set("node-id", "node-a")
	require.NoError(t, err)

	cfg, err := Load(cmd)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, tempDir, cfg.DataDir)
	assert.Equal(t, ":9999", cfg.Listen)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoad_FlagOverridesEnvironment(t *testing.T) {
	tempDir := t.TempDir()

	os.Setenv("DKVD_LISTEN", ":9999")
	defer os.Unsetenv("DKVD_LISTEN")

	cmd := newTestCommand(tempDir)
	err := cmd.Flags().Set("listen", ":7777")
	require.NoError(t, err)

	cfg, err := Load(cmd)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, ":7777", cfg.Listen)
}
