package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Analysis   AnalysisConfig   `yaml:"analysis"`
	Postgres   PostgresConfig   `yaml:"postgres"`
	Redis      RedisConfig      `yaml:"redis"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
}

type ServerConfig struct {
	HTTPPort int `yaml:"http_port"`
}

type TelemetryConfig struct {
	BaseURL   string `yaml:"base_url"`
	APIKey    string `yaml:"api_key"`
	Lookback  string `yaml:"lookback"`
	PageLimit int    `yaml:"page_limit"`
	Timeout   string `yaml:"timeout"`

	LookbackDur time.Duration `yaml:"-"`
	TimeoutDur  time.Duration `yaml:"-"`
}

type AnalysisConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	Timeout string `yaml:"timeout"`

	TimeoutDur time.Duration `yaml:"-"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type KafkaConfig struct {
	Brokers []string          `yaml:"brokers"`
	Topics  map[string]string `yaml:"topics"`
}

type ClickHouseConfig struct {
	Addr     string `yaml:"addr"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type PipelineConfig struct {
	BatchSize        int    `yaml:"batch_size"`
	MaxParallel      int    `yaml:"max_parallel"`
	KnowledgeContext int    `yaml:"knowledge_context"`
	SessionWindow    string `yaml:"session_window"`
	Interval         string `yaml:"interval"`

	SessionWindowDur time.Duration `yaml:"-"`
	IntervalDur      time.Duration `yaml:"-"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	// Set defaults
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = 8085
	}
	if cfg.Telemetry.Lookback == "" {
		cfg.Telemetry.Lookback = "24h"
	}
	if cfg.Telemetry.PageLimit == 0 {
		cfg.Telemetry.PageLimit = 500
	}
	if cfg.Telemetry.Timeout == "" {
		cfg.Telemetry.Timeout = "30s"
	}
	if cfg.Analysis.Model == "" {
		cfg.Analysis.Model = "gpt-4o-mini"
	}
	if cfg.Analysis.Timeout == "" {
		cfg.Analysis.Timeout = "120s"
	}
	if cfg.Pipeline.BatchSize == 0 {
		cfg.Pipeline.BatchSize = 10
	}
	if cfg.Pipeline.MaxParallel == 0 {
		cfg.Pipeline.MaxParallel = 1
	}
	if cfg.Pipeline.KnowledgeContext == 0 {
		cfg.Pipeline.KnowledgeContext = 25
	}
	if cfg.Pipeline.SessionWindow == "" {
		cfg.Pipeline.SessionWindow = "30m"
	}

	// Parse durations
	if cfg.Telemetry.LookbackDur, err = time.ParseDuration(cfg.Telemetry.Lookback); err != nil {
		return nil, fmt.Errorf("invalid telemetry.lookback: %w", err)
	}
	if cfg.Telemetry.TimeoutDur, err = time.ParseDuration(cfg.Telemetry.Timeout); err != nil {
		return nil, fmt.Errorf("invalid telemetry.timeout: %w", err)
	}
	if cfg.Analysis.TimeoutDur, err = time.ParseDuration(cfg.Analysis.Timeout); err != nil {
		return nil, fmt.Errorf("invalid analysis.timeout: %w", err)
	}
	if cfg.Pipeline.SessionWindowDur, err = time.ParseDuration(cfg.Pipeline.SessionWindow); err != nil {
		return nil, fmt.Errorf("invalid pipeline.session_window: %w", err)
	}
	if cfg.Pipeline.Interval != "" {
		if cfg.Pipeline.IntervalDur, err = time.ParseDuration(cfg.Pipeline.Interval); err != nil {
			return nil, fmt.Errorf("invalid pipeline.interval: %w", err)
		}
	}

	return &cfg, nil
}
