package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	ListenAddr string              `json:"listen_addr" yaml:"listen_addr"`
	Database   DatabaseConfig      `json:"database" yaml:"database"`
	Auth       AuthConfig          `json:"auth" yaml:"auth"`
	Security   SecurityConfig      `json:"security" yaml:"security"`
	Inference  InferenceConfig     `json:"inference" yaml:"inference"`
	Scoring    ScoringConfig       `json:"scoring" yaml:"scoring"`
	Replay     ReplayLimitsConfig  `json:"replay" yaml:"replay"`
	Observer   ObservabilityConfig `json:"observability" yaml:"observability"`
	Limits     ScoreLimitConfig    `json:"limits" yaml:"limits"`
}

type DatabaseConfig struct {
	DSN            string `json:"dsn" yaml:"dsn"`
	MaxConns       int32  `json:"max_conns" yaml:"max_conns"`
	MigrationsPath string `json:"migrations_path" yaml:"migrations_path"`
}

type AuthConfig struct {
	SessionTTL string `json:"session_ttl" yaml:"session_ttl"`
	CookieName string `json:"cookie_name" yaml:"cookie_name"`
}

type SecurityConfig struct {
	AdminAllowedDomains []string `json:"admin_allowed_domains" yaml:"admin_allowed_domains"`
	AdminToken          string   `json:"admin_token" yaml:"admin_token"`
}

// InferenceConfig points at the hosted model API and the pooled bearer
// tokens that replay runs draw from.
type InferenceConfig struct {
	BaseURL string              `json:"base_url" yaml:"base_url"`
	Tokens  []PooledTokenConfig `json:"token_pool" yaml:"token_pool"`
}

type PooledTokenConfig struct {
	Label      string `json:"label" yaml:"label"`
	Token      string `json:"token" yaml:"token"`
	RPM        int    `json:"rpm" yaml:"rpm"`
	DailyCalls int    `json:"daily_calls" yaml:"daily_calls"`
}

// ScoringConfig names the scoring-config documents served by the engine.
// The default entry answers unversioned score requests; extra entries are
// candidate configs addressable by their config_version.
type ScoringConfig struct {
	DefaultPath string   `json:"default_path" yaml:"default_path"`
	ExtraPaths  []string `json:"extra_paths" yaml:"extra_paths"`
	BankDir     string   `json:"bank_dir" yaml:"bank_dir"`
}

type ReplayLimitsConfig struct {
	DefaultTimeoutSec int `json:"default_timeout_sec" yaml:"default_timeout_sec"`
	MaxParallelRuns   int `json:"max_parallel_runs" yaml:"max_parallel_runs"`
	MaxInlineCases    int `json:"max_inline_cases" yaml:"max_inline_cases"`
}

type ObservabilityConfig struct {
	OTLPEndpoint string  `json:"otlp_endpoint" yaml:"otlp_endpoint"`
	ServiceName  string  `json:"service_name" yaml:"service_name"`
	SampleRatio  float64 `json:"sample_ratio" yaml:"sample_ratio"`
}

type ScoreLimitConfig struct {
	ScoreRPM int `json:"score_rpm" yaml:"score_rpm"`
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr: ":8080",
		Database: DatabaseConfig{
			MaxConns:       10,
			MigrationsPath: "./migrations",
		},
		Auth: AuthConfig{
			SessionTTL: "8h",
			CookieName: "judge_session",
		},
		Scoring: ScoringConfig{
			BankDir: "./banks",
		},
		Replay: ReplayLimitsConfig{
			DefaultTimeoutSec: 540,
			MaxParallelRuns:   2,
			MaxInlineCases:    500,
		},
		Observer: ObservabilityConfig{
			ServiceName: "judge-api",
			SampleRatio: 1,
		},
		Limits: ScoreLimitConfig{
			ScoreRPM: 30,
		},
	}
}

func LoadServerConfig(path string) (ServerConfig, error) {
	cfg := DefaultServerConfig()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse yaml config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse json config: %w", err)
		}
	default:
		var yamlErr error
		if yamlErr = yaml.Unmarshal(data, &cfg); yamlErr == nil {
			break
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, errors.New("config format not recognized (expected yaml/json)")
		}
	}
	normalizeConfig(&cfg)
	return cfg, nil
}

func normalizeConfig(cfg *ServerConfig) {
	if cfg == nil {
		return
	}
	if strings.TrimSpace(cfg.ListenAddr) == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}
	if strings.TrimSpace(cfg.Database.MigrationsPath) == "" {
		cfg.Database.MigrationsPath = "./migrations"
	}
	if strings.TrimSpace(cfg.Auth.CookieName) == "" {
		cfg.Auth.CookieName = "judge_session"
	}
	if strings.TrimSpace(cfg.Auth.SessionTTL) == "" {
		cfg.Auth.SessionTTL = "8h"
	}
	if strings.TrimSpace(cfg.Scoring.BankDir) == "" {
		cfg.Scoring.BankDir = "./banks"
	}
	if cfg.Replay.DefaultTimeoutSec <= 0 {
		cfg.Replay.DefaultTimeoutSec = 540
	}
	if cfg.Replay.MaxParallelRuns <= 0 {
		cfg.Replay.MaxParallelRuns = 2
	}
	if cfg.Replay.MaxInlineCases <= 0 {
		cfg.Replay.MaxInlineCases = 500
	}
	if cfg.Observer.SampleRatio <= 0 || cfg.Observer.SampleRatio > 1 {
		cfg.Observer.SampleRatio = 1
	}
	if strings.TrimSpace(cfg.Observer.ServiceName) == "" {
		cfg.Observer.ServiceName = "judge-api"
	}
	if cfg.Limits.ScoreRPM <= 0 {
		cfg.Limits.ScoreRPM = 30
	}
}
