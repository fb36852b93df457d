package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dosco/graphjin/aggregate/v3"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
)

const configName = "aggregate"

// Config is the CLI configuration. It is read from aggregate.{yml,json,toml}
// in the config path and can be overridden with AGG_ environment variables,
// e.g. AGG_MONGO_URI.
type Config struct {
	Mongo     MongoConfig     `mapstructure:"mongo"`
	Aggregate AggregateConfig `mapstructure:"aggregate"`

	// LogLevel is one of debug, info, warn, error
	LogLevel string `mapstructure:"log_level"`

	// LogFormat is json, or auto for console output
	LogFormat string `mapstructure:"log_format"`
}

// MongoConfig is the database the run and fields commands connect to
type MongoConfig struct {
	URI      string        `mapstructure:"uri"`
	Database string        `mapstructure:"database"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// AggregateConfig holds execution defaults
type AggregateConfig struct {
	AllowDiskUse    bool  `mapstructure:"allow_disk_use"`
	BatchSize       int32 `mapstructure:"batch_size"`
	HandleCacheSize int   `mapstructure:"handle_cache_size"`
	Parallelism     int   `mapstructure:"parallelism"`
}

// ReadInConfigFS reads the config from configPath on fs. A missing config
// file is not an error: defaults and environment variables still apply.
func ReadInConfigFS(configPath string, fs afero.Fs) (*Config, error) {
	vi := newViper(configPath, configName)
	if fs != nil {
		vi.SetFs(fs)
	}

	if err := vi.ReadInConfig(); err != nil {
		var nf viper.ConfigFileNotFoundError
		if !errors.As(err, &nf) {
			return nil, err
		}
	}

	c := &Config{}
	if err := vi.Unmarshal(c); err != nil {
		return nil, fmt.Errorf("failed to decode config, %v", err)
	}
	return c, nil
}

// newViperWithDefaults returns a new viper instance with the default settings
func newViperWithDefaults() *viper.Viper {
	vi := viper.New()

	vi.SetDefault("mongo.uri", "mongodb://localhost:27017")
	vi.SetDefault("mongo.database", "test")
	vi.SetDefault("mongo.timeout", "30s")

	vi.SetDefault("log_level", "info")
	vi.SetDefault("log_format", "auto")

	vi.SetDefault("aggregate.allow_disk_use", false)
	vi.SetDefault("aggregate.batch_size", 0)
	vi.SetDefault("aggregate.handle_cache_size", 256)
	vi.SetDefault("aggregate.parallelism", 4)

	vi.SetEnvPrefix("AGG")
	vi.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vi.AutomaticEnv()

	return vi
}

func newViper(configPath, configFile string) *viper.Viper {
	vi := newViperWithDefaults()
	vi.SetConfigName(configFile)

	if configPath == "" {
		vi.AddConfigPath("./config")
	} else {
		vi.AddConfigPath(configPath)
	}

	return vi
}

// ShouldUseJSONLogs returns true if logs should be written as JSON
func (c *Config) ShouldUseJSONLogs() bool {
	return strings.EqualFold(c.LogFormat, "json")
}

// applyDefaults fills pipeline options the pipeline file left unset
func (c *Config) applyDefaults(o aggregate.Options) aggregate.Options {
	if !o.AllowDiskUse {
		o.AllowDiskUse = c.Aggregate.AllowDiskUse
	}
	if o.BatchSize == 0 {
		o.BatchSize = c.Aggregate.BatchSize
	}
	return o
}
