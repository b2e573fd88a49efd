// Package config defines configuration for the three exchange processes
// (exchange, chartagg, oracle). Config is loaded from a YAML file with
// sensitive/environment-specific fields overridable via DEREX_* environment
// variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration shared by all three binaries; each
// process reads only the sections it needs.
type Config struct {
	Exchange  ExchangeConfig  `mapstructure:"exchange"`
	ChartAgg  ChartAggConfig  `mapstructure:"chartagg"`
	Oracle    OracleConfig    `mapstructure:"oracle"`
	Instrument InstrumentsConfig `mapstructure:"instruments"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ExchangeConfig configures cmd/exchange: the RPC server and WebSocket
// gateway addresses. The ticker/account/mark/funding interval fields are
// loaded but not read: those background loops run at fixed intervals.
type ExchangeConfig struct {
	RPCAddr     string        `mapstructure:"rpc_addr"`
	WSAddr      string        `mapstructure:"ws_addr"`
	TickerEvery time.Duration `mapstructure:"ticker_every"`
	AccountEvery time.Duration `mapstructure:"account_every"`
	MarkEvery   time.Duration `mapstructure:"mark_every"`
	FundingEvery time.Duration `mapstructure:"funding_every"`
}

// ChartAggConfig configures cmd/chartagg: where to reach the exchange's
// trade feed and what HTTP address to answer history queries on.
type ChartAggConfig struct {
	FeedURL     string `mapstructure:"feed_url"`
	ExchangeRPC string `mapstructure:"exchange_rpc"`
	HTTPAddr    string `mapstructure:"http_addr"`
}

// OracleConfig configures cmd/oracle: the upstream price source and how
// often to poll it.
type OracleConfig struct {
	UpstreamURL  string        `mapstructure:"upstream_url"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	ExchangeRPC  string        `mapstructure:"exchange_rpc"`
	IndexNames   []string      `mapstructure:"index_names"`
}

// InstrumentsConfig points at the static-data file the registry is seeded
// from at startup (currency + instrument definitions).
type InstrumentsConfig struct {
	DefinitionsFile string `mapstructure:"definitions_file"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config from a YAML file with DEREX_* environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("DEREX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("exchange.rpc_addr", ":8081")
	v.SetDefault("exchange.ws_addr", ":8082")
	v.SetDefault("exchange.ticker_every", 2*time.Second)
	v.SetDefault("exchange.account_every", 2*time.Second)
	v.SetDefault("exchange.mark_every", time.Second)
	v.SetDefault("exchange.funding_every", 5*time.Second)
	v.SetDefault("chartagg.http_addr", ":8083")
	v.SetDefault("oracle.poll_interval", 5*time.Second)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if url := os.Getenv("DEREX_ORACLE_UPSTREAM_URL"); url != "" {
		cfg.Oracle.UpstreamURL = url
	}
	if url := os.Getenv("DEREX_CHARTAGG_FEED_URL"); url != "" {
		cfg.ChartAgg.FeedURL = url
	}

	return &cfg, nil
}

// Validate checks the fields required for the named process ("exchange",
// "chartagg", or "oracle").
func (c *Config) Validate(process string) error {
	switch process {
	case "exchange":
		if c.Exchange.RPCAddr == "" {
			return fmt.Errorf("exchange.rpc_addr is required")
		}
		if c.Exchange.WSAddr == "" {
			return fmt.Errorf("exchange.ws_addr is required")
		}
		if c.Instrument.DefinitionsFile == "" {
			return fmt.Errorf("instruments.definitions_file is required")
		}
	case "chartagg":
		if c.ChartAgg.FeedURL == "" {
			return fmt.Errorf("chartagg.feed_url is required (set DEREX_CHARTAGG_FEED_URL)")
		}
		if c.ChartAgg.ExchangeRPC == "" {
			return fmt.Errorf("chartagg.exchange_rpc is required")
		}
		if c.ChartAgg.HTTPAddr == "" {
			return fmt.Errorf("chartagg.http_addr is required")
		}
	case "oracle":
		if c.Oracle.UpstreamURL == "" {
			return fmt.Errorf("oracle.upstream_url is required (set DEREX_ORACLE_UPSTREAM_URL)")
		}
		if c.Oracle.ExchangeRPC == "" {
			return fmt.Errorf("oracle.exchange_rpc is required")
		}
		if len(c.Oracle.IndexNames) == 0 {
			return fmt.Errorf("oracle.index_names must list at least one index")
		}
	default:
		return fmt.Errorf("unknown process %q", process)
	}
	return nil
}
