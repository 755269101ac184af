// Package config loads latchdb's tunables from a YAML file with viper,
// grounded on tuannm99-novasql/internal/config.go's nested-struct,
// mapstructure-tagged style. Every field has a sane default, so Default()
// (or a Load of a nonexistent path) is usable directly in tests; a
// zero-value Config is not filled with those defaults.
package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
)

// Config holds the tunables for the buffer pool and logging. The hash
// index's directory and bucket layouts are fixed byte offsets baked into the
// page format at compile time (internal/hashindex.MaxDirSize,
// bucketArraySize), not runtime knobs, so there is nothing for a hash_index
// section here to control.
type Config struct {
	Storage struct {
		DataFile     string `mapstructure:"data_file"`
		PoolSize     int    `mapstructure:"pool_size"`
		NumInstances int    `mapstructure:"num_instances"`
	} `mapstructure:"storage"`

	Logging struct {
		Level      string `mapstructure:"level"`
		Format     string `mapstructure:"format"`
		OutputFile string `mapstructure:"output_file"`
	} `mapstructure:"logging"`
}

// Default returns a Config populated with the same defaults Load falls back
// to when no file is present.
func Default() *Config {
	cfg := &Config{}
	cfg.Storage.DataFile = "latchdb.db"
	cfg.Storage.PoolSize = 64
	cfg.Storage.NumInstances = 1
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"
	cfg.Logging.OutputFile = "stdout"
	return cfg
}

// Load reads path as YAML and unmarshals it into a Config, filling any
// field the file omits with the package defaults. A missing file is not an
// error; Load simply returns the defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	applyDefaults(v)

	if _, err := os.Stat(path); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal %s: %w", path, err)
	}
	return &cfg, nil
}

func applyDefaults(v *viper.Viper) {
	v.SetDefault("storage.data_file", "latchdb.db")
	v.SetDefault("storage.pool_size", 64)
	v.SetDefault("storage.num_instances", 1)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output_file", "stdout")
}
