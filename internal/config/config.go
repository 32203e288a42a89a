package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// ServeConfig holds configuration for the serve command, merged from flags,
// env, or config file.
type ServeConfig struct {
	Listen         string
	PGDSN          string
	StateFile      string
	Outbox         string
	CustodyJournal string
	LogLevel       string
}

// LoadServe merges config file, environment variables, and flags into ServeConfig.
func LoadServe(cfgFile string, flags *pflag.FlagSet) (ServeConfig, error) {
	v := viper.New()
	v.SetEnvPrefix("POOLD")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("listen", ":8080")
	v.SetDefault("state-file", "./data/state.json")
	v.SetDefault("outbox", "./data/outbox.jsonl")
	v.SetDefault("custody-journal", "./data/custody.jsonl")
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return ServeConfig{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if err := readConfigFile(v, cfgFile); err != nil {
		return ServeConfig{}, err
	}

	cfg := ServeConfig{
		Listen:         v.GetString("listen"),
		PGDSN:          v.GetString("pg-dsn"),
		StateFile:      v.GetString("state-file"),
		Outbox:         v.GetString("outbox"),
		CustodyJournal: v.GetString("custody-journal"),
		LogLevel:       v.GetString("log-level"),
	}

	return cfg, nil
}

// StoreConfig holds the persistence selection shared by the offline commands
// (quote, pool create). PGDSN takes precedence over StateFile when both are
// set.
type StoreConfig struct {
	PGDSN     string
	StateFile string
	LogLevel  string
}

// LoadStore merges config file, environment variables, and flags into StoreConfig.
func LoadStore(cfgFile string, flags *pflag.FlagSet) (StoreConfig, error) {
	v := viper.New()
	v.SetEnvPrefix("POOLD")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("state-file", "./data/state.json")
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return StoreConfig{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if err := readConfigFile(v, cfgFile); err != nil {
		return StoreConfig{}, err
	}

	cfg := StoreConfig{
		PGDSN:     v.GetString("pg-dsn"),
		StateFile: v.GetString("state-file"),
		LogLevel:  v.GetString("log-level"),
	}

	return cfg, nil
}

func readConfigFile(v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config: %w", err)
		}
		return nil
	}
	v.SetConfigName("config")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return nil
}
