package service

import (
	"fmt"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/CZERTAINLY/Overseer/internal/model"
)

// ClientConfig holds the settings of the CLI commands talking to a running
// service.
type ClientConfig struct {
	Server  model.URL     `mapstructure:"server"`
	Timeout time.Duration `mapstructure:"timeout"`
}

const (
	DefaultServer  = "http://127.0.0.1:8080"
	DefaultTimeout = 30 * time.Second
)

// ParseClientConfig reads key from viper, falling back to defaults for
// unset values.
func ParseClientConfig(key string) (ClientConfig, error) {
	var cfg ClientConfig
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
	))
	if err := viper.UnmarshalKey(key, &cfg, hook); err != nil {
		return cfg, fmt.Errorf("%s: %w", key, err)
	}
	if cfg.Server.URL == nil || cfg.Server.String() == "" {
		if err := cfg.Server.UnmarshalText([]byte(DefaultServer)); err != nil {
			return cfg, err
		}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return cfg, nil
}
