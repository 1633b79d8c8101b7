// Package config provides a reusable loader for meshnet configuration files
// and environment variables. It is versioned so that applications can depend
// on a stable API contract.
//
// Version: v0.1.0
package config

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/meshnet-labs/meshnet/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// Config is the unified configuration for a meshnet orchestrator process.
type Config struct {
	Chunking struct {
		MaxChunkLength int `mapstructure:"max_chunk_length" json:"max_chunk_length"`
	} `mapstructure:"chunking" json:"chunking"`

	ExpertIndex struct {
		Dimensions     int `mapstructure:"dimensions" json:"dimensions"`
		M              int `mapstructure:"m" json:"m"`
		EfConstruction int `mapstructure:"ef_construction" json:"ef_construction"`
		MaxElements    int `mapstructure:"max_elements" json:"max_elements"`
		QueryCacheSize int `mapstructure:"query_cache_size" json:"query_cache_size"`
	} `mapstructure:"expert_index" json:"expert_index"`

	Reward struct {
		InitialReward         float64 `mapstructure:"initial_reward" json:"initial_reward"`
		HalvingIntervalBlocks uint64  `mapstructure:"halving_interval_blocks" json:"halving_interval_blocks"`
		MinReward             float64 `mapstructure:"min_reward" json:"min_reward"`
		MaxSupply             float64 `mapstructure:"max_supply" json:"max_supply"`
		DemandDriven          bool    `mapstructure:"demand_driven" json:"demand_driven"`
		EpochDurationSeconds  int     `mapstructure:"epoch_duration_seconds" json:"epoch_duration_seconds"`
	} `mapstructure:"reward" json:"reward"`

	Fee struct {
		BaseFee                float64 `mapstructure:"base_fee" json:"base_fee"`
		CongestionMultiplier   float64 `mapstructure:"congestion_multiplier" json:"congestion_multiplier"`
		DefaultModelMultiplier float64 `mapstructure:"default_model_multiplier" json:"default_model_multiplier"`
	} `mapstructure:"fee" json:"fee"`

	Relay struct {
		HMACSecret     string `mapstructure:"hmac_secret" json:"hmac_secret"`
		TimeoutMS      int    `mapstructure:"relay_timeout_ms" json:"relay_timeout_ms"`
		ListenAddr     string `mapstructure:"listen_addr" json:"listen_addr"`
	} `mapstructure:"relay" json:"relay"`

	Prover struct {
		Backend        string `mapstructure:"backend" json:"backend"`
		NativeBinary   string `mapstructure:"native_binary" json:"native_binary"`
		ProveTimeoutMS int    `mapstructure:"prove_timeout_ms" json:"prove_timeout_ms"`
	} `mapstructure:"prover" json:"prover"`

	Ledger struct {
		WALPath string `mapstructure:"wal_path" json:"wal_path"`
	} `mapstructure:"ledger" json:"ledger"`

	Worker struct {
		MaxStrikes uint32 `mapstructure:"max_strikes" json:"max_strikes"`
	} `mapstructure:"worker" json:"worker"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// Load reads configuration files and merges any environment specific
// overrides. The resulting configuration is stored in AppConfig and
// returned. A missing ".env" file is not an error; it is simply ignored,
// a convenience for local development.
func Load(env string) (*Config, error) {
	_ = godotenv.Load(".env")

	viper.SetConfigName("default")
	viper.AddConfigPath("cmd/config")
	viper.AddConfigPath("config")
	viper.SetConfigType("yaml")
	setDefaults()
	if err := viper.ReadInConfig(); err != nil {
		return nil, utils.Wrap(err, "load config")
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
		}
	}

	viper.AutomaticEnv()

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the MESHNET_ENV environment
// variable to select an override file.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("MESHNET_ENV", ""))
}

// setDefaults fills in the defaults that apply when a field is absent
// from every config file (max_chunk_length=200, min_reward=1e-8,
// prove_timeout_ms=30000).
func setDefaults() {
	viper.SetDefault("chunking.max_chunk_length", 200)
	viper.SetDefault("expert_index.m", 16)
	viper.SetDefault("expert_index.ef_construction", 200)
	viper.SetDefault("expert_index.max_elements", 1<<20)
	viper.SetDefault("reward.min_reward", 1e-8)
	viper.SetDefault("prover.backend", "portable")
	viper.SetDefault("prover.prove_timeout_ms", 30000)
	viper.SetDefault("relay.relay_timeout_ms", 5000)
	viper.SetDefault("fee.default_model_multiplier", 1.0)
	viper.SetDefault("worker.max_strikes", 5)
	viper.SetDefault("logging.level", "info")
}
