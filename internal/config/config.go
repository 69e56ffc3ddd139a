// Package config loads the daemon's on-disk/environment configuration,
// grounded on the teacher's pkg/config.Load: a viper YAML reader merged
// with AutomaticEnv, plus the walletserver package's godotenv convention
// for local .env overrides.
package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	yamlv2 "gopkg.in/yaml.v2"
	"gopkg.in/yaml.v3"
)

// Config is the unified daemon configuration (spec.md §5 AMBIENT STACK:
// listen endpoint, bootstrap endpoints, data directory, k-bucket size,
// replication factor, worker pool size, log level).
type Config struct {
	Network struct {
		ListenEndpoint string   `mapstructure:"listen_endpoint" yaml:"listen_endpoint"`
		BootstrapPeers []string `mapstructure:"bootstrap_peers" yaml:"bootstrap_peers"`
	} `mapstructure:"network" yaml:"network"`

	Routing struct {
		BucketSize        int `mapstructure:"bucket_size" yaml:"bucket_size"`
		ReplicationFactor int `mapstructure:"replication_factor" yaml:"replication_factor"`
	} `mapstructure:"routing" yaml:"routing"`

	Storage struct {
		DataDir string `mapstructure:"data_dir" yaml:"data_dir"`
	} `mapstructure:"storage" yaml:"storage"`

	Bridge struct {
		SocketPath string `mapstructure:"socket_path" yaml:"socket_path"`
		Workers    int    `mapstructure:"workers" yaml:"workers"`
	} `mapstructure:"bridge" yaml:"bridge"`

	Logging struct {
		Level string `mapstructure:"level" yaml:"level"`
	} `mapstructure:"logging" yaml:"logging"`
}

// AppConfig holds the configuration loaded via Load, mirroring the
// teacher's package-level AppConfig convention.
var AppConfig Config

func setDefaults() {
	viper.SetDefault("network.listen_endpoint", "127.0.0.1:4030")
	viper.SetDefault("routing.bucket_size", 20)
	viper.SetDefault("routing.replication_factor", 20)
	viper.SetDefault("storage.data_dir", "./data")
	viper.SetDefault("bridge.socket_path", "./data/neromon.sock")
	viper.SetDefault("bridge.workers", 16)
	viper.SetDefault("logging.level", "info")
}

// Load reads config/default.yaml (or the file named by configPath, if
// non-empty), merges a local .env file if present, then layers in
// NEROMON_-prefixed environment variables (spec.md §5 "Configuration").
// The resulting Config is stored in AppConfig and returned.
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load(".env")

	setDefaults()
	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("default")
		viper.SetConfigType("yaml")
		viper.AddConfigPath("config")
		viper.AddConfigPath(".")
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && configPath != "" {
			return nil, fmt.Errorf("config: read %s: %w", configPath, err)
		}
	}

	viper.SetEnvPrefix("neromon")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &AppConfig, nil
}

// legacyConfig mirrors the flat key layout of pre-v1 default.yaml files
// (no nested network/routing/storage sections).
type legacyConfig struct {
	ListenEndpoint string   `yaml:"listen_endpoint"`
	BootstrapPeers []string `yaml:"bootstrap_peers"`
	DataDir        string   `yaml:"data_dir"`
}

// MigrateLegacyConfig reads a flat pre-v1 config file (parsed with
// yaml.v2, the format's original decoder) and converts it into the
// current nested Config shape, for operators upgrading from the old
// default.yaml layout.
func MigrateLegacyConfig(raw []byte) (*Config, error) {
	var legacy legacyConfig
	if err := yamlv2.Unmarshal(raw, &legacy); err != nil {
		return nil, fmt.Errorf("config: parse legacy config: %w", err)
	}
	var cfg Config
	cfg.Network.ListenEndpoint = legacy.ListenEndpoint
	cfg.Network.BootstrapPeers = legacy.BootstrapPeers
	cfg.Storage.DataDir = legacy.DataDir
	return &cfg, nil
}

// ParseBootstrapList parses a YAML-formatted bootstrap peer list (one
// endpoint string per list entry), the format read by the
// --bootstrap-file daemon flag; its entries are appended to any
// --bootstrap endpoints.
func ParseBootstrapList(raw []byte) ([]string, error) {
	var peers []string
	if err := yaml.Unmarshal(raw, &peers); err != nil {
		return nil, fmt.Errorf("config: parse bootstrap list: %w", err)
	}
	return peers, nil
}
