// Package config loads the reconciler configuration from a YAML file and
// environment variables.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/metartpay/chainpay/types"
)

// NetworkSettings are the per-network overrides from the config file. Zero
// fields fall back to the built-in defaults.
type NetworkSettings struct {
	Enabled               bool          `mapstructure:"enabled"`
	RPCURL                string        `mapstructure:"rpc_url"`
	RequiredConfirmations uint64        `mapstructure:"required_confirmations"`
	PollInterval          time.Duration `mapstructure:"poll_interval"`
	Timeout               time.Duration `mapstructure:"timeout"`
}

type Config struct {
	Cluster      string `mapstructure:"cluster"`
	AllowPrefill bool   `mapstructure:"allow_prefill"`
	LogLevel     string `mapstructure:"log_level"`

	// MySQLDSN selects the GORM-backed document store; empty runs the
	// in-memory store.
	MySQLDSN string `mapstructure:"mysql_dsn"`

	MetricsAddr string `mapstructure:"metrics_addr"`

	// RefreshInterval schedules the pending-transaction refresh pass.
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`

	Networks map[string]NetworkSettings `mapstructure:"networks"`
}

// Load reads the configuration. Env vars override file values with the
// CHAINPAY_ prefix (CHAINPAY_MYSQL_DSN, CHAINPAY_CLUSTER, ...).
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("chainpay")
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/chainpay")
	}

	v.SetEnvPrefix("CHAINPAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("cluster", string(types.ClusterDevnet))
	v.SetDefault("log_level", "info")
	v.SetDefault("metrics_addr", ":9109")
	v.SetDefault("refresh_interval", 2*time.Minute)

	if err := v.ReadInConfig(); err != nil {
		// A missing file is fine; env vars and defaults still apply.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, types.NewError(types.ErrConfig, "config read failed", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, types.NewError(types.ErrConfig, "config unmarshal failed", err)
	}
	return &cfg, nil
}

// NetworkConfigs expands the enabled per-network settings over the built-in
// defaults, keyed by network. Unknown network names are skipped.
func (c *Config) NetworkConfigs() map[types.Network]types.NetworkConfig {
	defaults := types.DefaultNetworkConfigs()
	out := make(map[types.Network]types.NetworkConfig)
	for name, settings := range c.Networks {
		if !settings.Enabled {
			continue
		}
		network := types.Network(strings.ToUpper(name))
		cfg, ok := defaults[network]
		if !ok {
			continue
		}
		cfg.RPCURL = settings.RPCURL
		if settings.RequiredConfirmations > 0 {
			cfg.RequiredConfirmations = settings.RequiredConfirmations
		}
		if settings.Timeout > 0 {
			cfg.Timeout = settings.Timeout
		}
		if settings.PollInterval > 0 {
			cfg.BlockTime = settings.PollInterval
		}
		out[network] = cfg
	}
	return out
}
