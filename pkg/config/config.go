package config

// Package config provides a reusable loader for the indexer's configuration
// files and environment variables. It is versioned so that applications can
// depend on a stable API contract.
//
// Version: v0.2.0

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"electrumindexer/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.2.0"

// Config is the unified configuration for an electrum-protocol indexer
// daemon. It mirrors the structure of the YAML files Load looks for under
// cmd/config or config; no such files are included in this module.
type Config struct {
	Network struct {
		Name           string `mapstructure:"name" json:"name"` // "mainnet", "testnet", "regtest"
		DaemonP2PAddr  string `mapstructure:"daemon_p2p_addr" json:"daemon_p2p_addr"`
		DaemonRPCAddr  string `mapstructure:"daemon_rpc_addr" json:"daemon_rpc_addr"`
		DaemonCookie   string `mapstructure:"daemon_cookie_file" json:"daemon_cookie_file"`
		RPCUser        string `mapstructure:"rpc_user" json:"rpc_user"`
		RPCPassword    string `mapstructure:"rpc_password" json:"rpc_password"`
		MonitoringAddr string `mapstructure:"monitoring_addr" json:"monitoring_addr"`
	} `mapstructure:"network" json:"network"`

	Storage struct {
		DBPath    string `mapstructure:"db_path" json:"db_path"`
		LowMemory bool   `mapstructure:"low_memory" json:"low_memory"`
	} `mapstructure:"storage" json:"storage"`

	Sync struct {
		ChunkSize    int           `mapstructure:"chunk_size" json:"chunk_size"`
		PollInterval time.Duration `mapstructure:"poll_interval" json:"poll_interval"`
	} `mapstructure:"sync" json:"sync"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`
}

// Default populates a Config with the indexer's conservative defaults. It is
// the fallback used when no config file is present.
func Default() Config {
	var c Config
	c.Network.Name = "mainnet"
	c.Network.DaemonP2PAddr = "127.0.0.1:8333"
	c.Network.DaemonRPCAddr = "127.0.0.1:8332"
	c.Network.MonitoringAddr = "127.0.0.1:4224"
	c.Storage.DBPath = "./db"
	c.Storage.LowMemory = false
	c.Sync.ChunkSize = 2000
	c.Sync.PollInterval = 5 * time.Second
	c.Logging.Level = "info"
	return c
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig = Default()

// Load reads configuration files and merges any environment specific
// overrides. The resulting configuration is stored in AppConfig and returned.
//
// The function uses the provided environment name to merge additional config
// files. If env is empty, only the default configuration is loaded. A
// missing default config file is tolerated — the built-in defaults apply.
func Load(env string) (*Config, error) {
	AppConfig = Default()

	viper.SetConfigName("default")
	viper.AddConfigPath("cmd/config")
	viper.AddConfigPath("config")
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, utils.Wrap(err, "load config")
		}
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
		}
	}

	viper.SetEnvPrefix("ELECTRUMINDEXER")
	viper.AutomaticEnv()

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the ELECTRUMINDEXER_ENV environment
// variable to select an overlay file (e.g. "testnet", "regtest").
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("ELECTRUMINDEXER_ENV", ""))
}
