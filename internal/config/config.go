// Package config provides a reusable loader for PDW memory-engine
// configuration files and environment variables, adapted from the
// teacher's pkg/config loader (viper + YAML + env merge) and generalized
// to the keys enumerated in spec §6.
package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/sealwallet/pdw-core/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// Config is the unified configuration for a pdw-core process. Every field
// maps to a recognized option from spec §6, plus the ambient options
// SPEC_FULL.md adds for logging, metrics, and local storage.
type Config struct {
	Embedding struct {
		Model             string `mapstructure:"model" json:"model"`
		Dimension         int    `mapstructure:"dimension" json:"dimension"`
		RequestsPerMinute int    `mapstructure:"requests_per_minute" json:"requests_per_minute"`
		BatchSize         int    `mapstructure:"batch_size" json:"batch_size"`
		Endpoint          string `mapstructure:"endpoint" json:"endpoint"`
		APIKeyEnv         string `mapstructure:"api_key_env" json:"api_key_env"`
	} `mapstructure:"embedding" json:"embedding"`

	Vector struct {
		MaxElements    int `mapstructure:"max_elements" json:"max_elements"`
		M              int `mapstructure:"m" json:"m"`
		EfConstruction int `mapstructure:"ef_construction" json:"ef_construction"`
		EfSearch       int `mapstructure:"ef_search" json:"ef_search"`
	} `mapstructure:"vector" json:"vector"`

	Graph struct {
		Enabled             bool    `mapstructure:"enabled" json:"enabled"`
		ConfidenceThreshold float64 `mapstructure:"confidence_threshold" json:"confidence_threshold"`
	} `mapstructure:"graph" json:"graph"`

	Encryption struct {
		Enabled    bool `mapstructure:"enabled" json:"enabled"`
		ThresholdT int  `mapstructure:"threshold_t" json:"threshold_t"`
		ServersN   int  `mapstructure:"servers_n" json:"servers_n"`
	} `mapstructure:"encryption" json:"encryption"`

	Session struct {
		TTLMin int `mapstructure:"ttl_min" json:"ttl_min"`
	} `mapstructure:"session" json:"session"`

	Storage struct {
		Network        string `mapstructure:"network" json:"network"` // local|testnet|mainnet
		CacheTTLSec    int    `mapstructure:"cache_ttl_s" json:"cache_ttl_s"`
		CacheMaxEntry  int    `mapstructure:"cache_max_entries" json:"cache_max_entries"`
		LocalRoot      string `mapstructure:"local_root" json:"local_root"`
		RemoteEndpoint string `mapstructure:"remote_endpoint" json:"remote_endpoint"`
	} `mapstructure:"storage" json:"storage"`

	Batch struct {
		MaxPending    int `mapstructure:"max_pending" json:"max_pending"`
		MaxDelayMS    int `mapstructure:"max_delay_ms" json:"max_delay_ms"`
		MaxCASRetries int `mapstructure:"max_cas_retries" json:"max_cas_retries"`
	} `mapstructure:"batch" json:"batch"`

	Pipeline struct {
		RollbackOnFailure bool `mapstructure:"rollback_on_failure" json:"rollback_on_failure"`
		SkipFailedSteps   bool `mapstructure:"skip_failed_steps" json:"skip_failed_steps"`
		MaxRetryAttempts  int  `mapstructure:"max_retry_attempts" json:"max_retry_attempts"`
	} `mapstructure:"pipeline" json:"pipeline"`

	Admin struct {
		HTTPAddr string `mapstructure:"http_addr" json:"http_addr"`
	} `mapstructure:"admin" json:"admin"`

	Log struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"log" json:"log"`
}

// Default returns a Config populated with the same conservative defaults
// the spec's examples use (§8 scenarios, §4.3 HNSW defaults).
func Default() Config {
	var c Config
	c.Embedding.Dimension = 768
	c.Embedding.RequestsPerMinute = 600
	c.Embedding.BatchSize = 32
	c.Vector.MaxElements = 100_000
	c.Vector.M = 16
	c.Vector.EfConstruction = 200
	c.Vector.EfSearch = 64
	c.Graph.Enabled = true
	c.Graph.ConfidenceThreshold = 0.5
	c.Encryption.Enabled = true
	c.Encryption.ThresholdT = 2
	c.Encryption.ServersN = 3
	c.Session.TTLMin = 30
	c.Storage.Network = "local"
	c.Storage.CacheTTLSec = 300
	c.Storage.CacheMaxEntry = 1024
	c.Storage.LocalRoot = "./data/blobs"
	c.Batch.MaxPending = 100
	c.Batch.MaxDelayMS = 2000
	c.Batch.MaxCASRetries = 5
	c.Pipeline.MaxRetryAttempts = 3
	c.Admin.HTTPAddr = ":9400"
	c.Log.Level = "info"
	return c
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config = Default()

// Load reads configuration files (default.yaml plus an optional env-specific
// overlay) and merges environment-variable overrides, mirroring the
// teacher's pkg/config.Load.
func Load(env string) (*Config, error) {
	AppConfig = Default()

	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		return nil, utils.Wrap(err, "load .env")
	}

	viper.SetConfigName("default")
	viper.AddConfigPath("config")
	viper.AddConfigPath(".")
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, utils.Wrap(err, "load config")
		}
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
			}
		}
	}

	viper.SetEnvPrefix("PDW")
	viper.AutomaticEnv()

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the PDW_ENV environment variable.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("PDW_ENV", ""))
}
