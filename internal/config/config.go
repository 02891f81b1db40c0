package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. CLMM_LOG_LEVEL.
const EnvPrefix = "CLMM"

// SimulateConfig holds configuration for the simulate command.
type SimulateConfig struct {
	Script      string
	Out         string
	Journal     string
	PGDSN       string
	MetricsAddr string
	FailFast    bool
	LogLevel    string
}

// LoadSimulate merges config file, environment variables, and flags into SimulateConfig.
func LoadSimulate(cfgFile string, flags *pflag.FlagSet) (SimulateConfig, error) {
	v, err := load(cfgFile, flags, map[string]interface{}{
		"out":       "./data/snapshot.json",
		"fail-fast": false,
		"log-level": "info",
	})
	if err != nil {
		return SimulateConfig{}, err
	}

	cfg := SimulateConfig{
		Script:      v.GetString("script"),
		Out:         v.GetString("out"),
		Journal:     v.GetString("journal"),
		PGDSN:       v.GetString("pg-dsn"),
		MetricsAddr: v.GetString("metrics-addr"),
		FailFast:    v.GetBool("fail-fast"),
		LogLevel:    v.GetString("log-level"),
	}
	if cfg.Script == "" {
		return SimulateConfig{}, fmt.Errorf("script path is required")
	}
	return cfg, nil
}

// ReplayConfig holds configuration for the replay command.
type ReplayConfig struct {
	In             string
	Pool           string
	RPCURL         string
	Block          uint64
	SqrtPrice      string
	Tick           int32
	Token0         string
	Token1         string
	TickSpacing    int32
	Out            string
	Journal        string
	PGDSN          string
	Checkpoint     string
	CheckpointFile string
	MetricsAddr    string
	MaxRetries     int
	RetryBackoff   time.Duration
	LogLevel       string
}

// LoadReplay merges config file, environment variables, and flags into ReplayConfig.
func LoadReplay(cfgFile string, flags *pflag.FlagSet) (ReplayConfig, error) {
	v, err := load(cfgFile, flags, map[string]interface{}{
		"out":             "./data/replay_snapshot.json",
		"checkpoint-file": "./data/replay_checkpoint.json",
		"max-retries":     5,
		"retry-backoff":   500 * time.Millisecond,
		"log-level":       "info",
	})
	if err != nil {
		return ReplayConfig{}, err
	}

	cfg := ReplayConfig{
		In:             v.GetString("in"),
		Pool:           v.GetString("pool"),
		RPCURL:         v.GetString("rpc"),
		Block:          v.GetUint64("block"),
		SqrtPrice:      v.GetString("sqrt-price"),
		Tick:           v.GetInt32("tick"),
		Token0:         v.GetString("token0"),
		Token1:         v.GetString("token1"),
		TickSpacing:    v.GetInt32("tick-spacing"),
		Out:            v.GetString("out"),
		Journal:        v.GetString("journal"),
		PGDSN:          v.GetString("pg-dsn"),
		Checkpoint:     v.GetString("checkpoint"),
		CheckpointFile: v.GetString("checkpoint-file"),
		MetricsAddr:    v.GetString("metrics-addr"),
		MaxRetries:     v.GetInt("max-retries"),
		RetryBackoff:   v.GetDuration("retry-backoff"),
		LogLevel:       v.GetString("log-level"),
	}
	if cfg.In == "" {
		return ReplayConfig{}, fmt.Errorf("input path is required")
	}
	if cfg.Pool == "" {
		return ReplayConfig{}, fmt.Errorf("pool address is required")
	}
	if cfg.RPCURL == "" && (cfg.Token0 == "" || cfg.Token1 == "") {
		return ReplayConfig{}, fmt.Errorf("either rpc url or token0 and token1 are required")
	}
	return cfg, nil
}

// QuoteConfig holds configuration for the quote command.
type QuoteConfig struct {
	SqrtPrice string
	Lower     int32
	Upper     int32
	Liquidity string
	Burn      bool
	LogLevel  string
}

// LoadQuote merges config file, environment variables, and flags into QuoteConfig.
func LoadQuote(cfgFile string, flags *pflag.FlagSet) (QuoteConfig, error) {
	v, err := load(cfgFile, flags, map[string]interface{}{
		"log-level": "warn",
	})
	if err != nil {
		return QuoteConfig{}, err
	}

	cfg := QuoteConfig{
		SqrtPrice: v.GetString("sqrt-price"),
		Lower:     v.GetInt32("lower"),
		Upper:     v.GetInt32("upper"),
		Liquidity: v.GetString("liquidity"),
		Burn:      v.GetBool("burn"),
		LogLevel:  v.GetString("log-level"),
	}
	if cfg.SqrtPrice == "" || cfg.Liquidity == "" {
		return QuoteConfig{}, fmt.Errorf("sqrt-price and liquidity are required")
	}
	return cfg, nil
}

// load builds a viper instance from defaults, an optional config file, CLMM_* env vars
// and bound flags, in increasing precedence.
func load(cfgFile string, flags *pflag.FlagSet, defaults map[string]interface{}) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}
	return v, nil
}
