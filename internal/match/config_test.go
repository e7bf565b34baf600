package match

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfigValidates(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"empty version", func(c *Config) { c.ConfigVersion = " " }, "config_version"},
		{"no embedding model", func(c *Config) { c.Models.Embedding = "" }, "models.embedding"},
		{"threshold above one", func(c *Config) { c.Thresholds.HybridFinalMin = 1.2 }, "thresholds.hybrid_final_min"},
		{"weights off unity", func(c *Config) { c.Weights.Embedding = 0.9 }, "weights"},
		{"template without placeholder", func(c *Config) { c.Templates.Premise = "no slot here" }, "templates.premise"},
		{"bad negation pattern", func(c *Config) { c.Lexical.NegationPatterns = []string{"(unclosed"} }, "lexical.negation_patterns"},
		{"zero retries", func(c *Config) { c.Network.MaxRetries = 0 }, "network.max_retries"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			cfgErr, ok := IsConfigError(err)
			if !ok {
				t.Fatalf("expected ConfigError, got %v", err)
			}
			if cfgErr.Field != tc.field {
				t.Fatalf("field = %q, want %q (%v)", cfgErr.Field, tc.field, err)
			}
		})
	}
}

func TestLoadConfigEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.ConfigVersion != DefaultConfig().ConfigVersion {
		t.Fatalf("expected defaults, got version %q", cfg.ConfigVersion)
	}
}

func TestLoadConfigYAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scoring.yaml")
	doc := []byte("config_version: experiment-a\nthresholds:\n  hybrid_final_min: 0.7\n")
	if err := os.WriteFile(path, doc, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.ConfigVersion != "experiment-a" {
		t.Fatalf("config_version = %q", cfg.ConfigVersion)
	}
	if !almostEqual(cfg.Thresholds.HybridFinalMin, 0.7) {
		t.Fatalf("hybrid_final_min = %.4f", cfg.Thresholds.HybridFinalMin)
	}
	// Untouched sections keep their defaults.
	if !almostEqual(cfg.Weights.Embedding, DefaultConfig().Weights.Embedding) {
		t.Fatalf("embedding weight lost: %.4f", cfg.Weights.Embedding)
	}
}

func TestLoadConfigJSONAndValidation(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "scoring.json")
	if err := os.WriteFile(path, []byte(`{"config_version":"experiment-b"}`), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.ConfigVersion != "experiment-b" {
		t.Fatalf("config_version = %q", cfg.ConfigVersion)
	}

	bad := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(bad, []byte(`{"weights":{"embedding":0.9,"entailment":0.9,"keyword":0.9}}`), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := LoadConfig(bad); err == nil {
		t.Fatalf("invalid weights must fail validation")
	}
}

func TestEmbeddingModelSelection(t *testing.T) {
	cfg := DefaultConfig()
	base := cfg.embeddingModel()
	if base != cfg.Models.Embedding {
		t.Fatalf("embeddingModel = %q, want %q", base, cfg.Models.Embedding)
	}
	cfg.Models.UseParaphrase = true
	cfg.Models.Paraphrase = "alt-paraphrase-model"
	if got := cfg.embeddingModel(); got != "alt-paraphrase-model" {
		t.Fatalf("embeddingModel = %q, want paraphrase model", got)
	}
}
