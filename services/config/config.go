package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"quant-backtest/services/arrowpipeline"
	"quant-backtest/services/clickhouse"
	"quant-backtest/services/engine"
	"quant-backtest/services/features"
	"quant-backtest/services/ml"
)

type ServerConfig struct {
	HTTPPort int `yaml:"http_port"`
	GRPCPort int `yaml:"grpc_port"`
}

type EngineConfig struct {
	InitialEquity      float64 `yaml:"initial_equity"`
	SlippageBps        float64 `yaml:"slippage_bps"`
	CommissionPerTrade float64 `yaml:"commission_per_trade"`
	MaxWorkers         int     `yaml:"max_workers"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type MonitoringConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type Config struct {
	Environment string               `yaml:"environment"`
	Server      ServerConfig         `yaml:"server"`
	Engine      EngineConfig         `yaml:"engine"`
	ClickHouse  clickhouse.Config    `yaml:"clickhouse"`
	Postgres    PostgresConfig       `yaml:"postgres"`
	Arrow       arrowpipeline.Config `yaml:"arrow"`
	Features    features.Config      `yaml:"features"`
	ML          ml.Config            `yaml:"ml"`
	Monitoring  MonitoringConfig     `yaml:"monitoring"`
}

func Default() *Config {
	run := engine.DefaultRunConfig()
	return &Config{
		Environment: "dev",
		Server:      ServerConfig{HTTPPort: 8080, GRPCPort: 9091},
		Engine: EngineConfig{
			InitialEquity:      run.InitialEquity,
			SlippageBps:        run.SlippageBps,
			CommissionPerTrade: run.CommissionPerTrade,
			MaxWorkers:         4,
		},
		ClickHouse: clickhouse.DefaultConfig(),
		Arrow:      arrowpipeline.Config{BatchSize: 10_000},
		Features:   features.DefaultConfig(),
		ML:         ml.DefaultConfig(),
		Monitoring: MonitoringConfig{Enabled: true, Path: "/metrics"},
	}
}

// Load layers defaults, the optional YAML file at path, .env files and the
// process environment, in that order. Without envFiles a missing ./.env is
// ignored.
func Load(path string, envFiles ...string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := godotenv.Load(envFiles...); err != nil {
		if len(envFiles) > 0 || !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load env: %w", err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.Environment = getEnv("BACKTEST_ENV", c.Environment)
	c.ClickHouse.DSN = getEnv("CLICKHOUSE_DSN", c.ClickHouse.DSN)
	c.ClickHouse.HTTPURL = getEnv("CLICKHOUSE_HTTP_URL", c.ClickHouse.HTTPURL)
	c.ClickHouse.Username = getEnv("CLICKHOUSE_USER", c.ClickHouse.Username)
	c.ClickHouse.Password = getEnv("CLICKHOUSE_PASSWORD", c.ClickHouse.Password)
	c.Postgres.DSN = getEnv("POSTGRES_DSN", c.Postgres.DSN)

	ints := []struct {
		key string
		dst *int
	}{
		{"BACKTEST_HTTP_PORT", &c.Server.HTTPPort},
		{"BACKTEST_GRPC_PORT", &c.Server.GRPCPort},
		{"BACKTEST_HORIZON", &c.Features.Label.Horizon},
		{"BACKTEST_MAX_WORKERS", &c.Engine.MaxWorkers},
	}
	for _, v := range ints {
		if raw := os.Getenv(v.key); raw != "" {
			n, err := strconv.Atoi(strings.TrimSpace(raw))
			if err != nil {
				return fmt.Errorf("invalid %s: %w", v.key, err)
			}
			*v.dst = n
		}
	}

	floats := []struct {
		key string
		dst *float64
	}{
		{"BACKTEST_INITIAL_EQUITY", &c.Engine.InitialEquity},
		{"BACKTEST_SLIPPAGE_BPS", &c.Engine.SlippageBps},
		{"BACKTEST_COMMISSION", &c.Engine.CommissionPerTrade},
	}
	for _, v := range floats {
		if raw := os.Getenv(v.key); raw != "" {
			f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", v.key, err)
			}
			*v.dst = f
		}
	}
	return nil
}

func (c *Config) Validate() error {
	if err := c.RunConfig().Validate(); err != nil {
		return err
	}
	if c.Engine.MaxWorkers <= 0 {
		return fmt.Errorf("engine.max_workers must be positive, got %d", c.Engine.MaxWorkers)
	}
	if err := c.Features.Validate(); err != nil {
		return err
	}
	return c.ML.WalkForward.Validate()
}

// RunConfig takes the vectorized holding period from the label horizon, so
// forward returns, exit bars and bars held always share one H.
func (c *Config) RunConfig() engine.RunConfig {
	return engine.RunConfig{
		InitialEquity:      c.Engine.InitialEquity,
		SlippageBps:        c.Engine.SlippageBps,
		CommissionPerTrade: c.Engine.CommissionPerTrade,
		Horizon:            c.Features.Label.Horizon,
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
