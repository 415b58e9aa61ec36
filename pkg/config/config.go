// Package config provides a reusable loader for simulator configuration
// files and environment variables, so the CLI and the fork server share one
// way of resolving an endpoint, a pinned block and a bech32 prefix.
package config

import (
	"fmt"

	"github.com/spf13/viper"

	"cwfork/pkg/utils"
)

// Config is the unified configuration of one simulator instance. It mirrors
// the structure of the YAML files under cmd/config.
type Config struct {
	Endpoint struct {
		URL       string `mapstructure:"url" json:"url" yaml:"url"`
		Transport string `mapstructure:"transport" json:"transport" yaml:"transport"`
	} `mapstructure:"endpoint" json:"endpoint" yaml:"endpoint"`

	Fork struct {
		// Block 0 pins the endpoint's latest height.
		Block         uint64 `mapstructure:"block" json:"block" yaml:"block"`
		Bech32Prefix  string `mapstructure:"bech32_prefix" json:"bech32_prefix" yaml:"bech32_prefix"`
		MessageSender string `mapstructure:"message_sender" json:"message_sender" yaml:"message_sender"`
	} `mapstructure:"fork" json:"fork" yaml:"fork"`

	Log struct {
		Level string `mapstructure:"level" json:"level" yaml:"level"`
	} `mapstructure:"log" json:"log" yaml:"log"`

	Server struct {
		Listen string `mapstructure:"listen" json:"listen" yaml:"listen"`
	} `mapstructure:"server" json:"server" yaml:"server"`
}

// Load reads the configuration from path (optional) with CWFORK_* env
// overrides and defaults suitable for a public testnet.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CWFORK")
	v.AutomaticEnv()

	v.SetDefault("endpoint.transport", "rpc")
	v.SetDefault("fork.bech32_prefix", utils.EnvOrDefault("CWFORK_BECH32_PREFIX", "wasm"))
	v.SetDefault("log.level", utils.EnvOrDefault("LOG_LEVEL", "info"))
	v.SetDefault("server.listen", ":9090")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.Endpoint.URL == "" {
		cfg.Endpoint.URL = utils.EnvOrDefault("CWFORK_ENDPOINT_URL", "")
	}
	if cfg.Fork.Block == 0 {
		cfg.Fork.Block = utils.EnvOrDefaultUint64("CWFORK_FORK_BLOCK", 0)
	}
	return &cfg, nil
}
