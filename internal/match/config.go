package match

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"theme-judge/internal/inference"
)

type ModelsConfig struct {
	Embedding          string `json:"embedding" yaml:"embedding"`
	Paraphrase         string `json:"paraphrase" yaml:"paraphrase"`
	UseParaphrase      bool   `json:"use_paraphrase" yaml:"use_paraphrase"`
	Entailment         string `json:"entailment" yaml:"entailment"`
	EntailmentFallback string `json:"entailment_fallback" yaml:"entailment_fallback"`
}

type ThresholdsConfig struct {
	ContradictionOverride float64 `json:"contradiction_override" yaml:"contradiction_override"`
	StrongEntailmentMin   float64 `json:"strong_entailment_min" yaml:"strong_entailment_min"`
	EmbeddingFastPassMin  float64 `json:"embedding_fast_pass_min" yaml:"embedding_fast_pass_min"`
	KeywordFastPassMin    float64 `json:"keyword_fast_pass_min" yaml:"keyword_fast_pass_min"`
	HybridFinalMin        float64 `json:"hybrid_final_min" yaml:"hybrid_final_min"`
	LexicalOnlyMin        float64 `json:"lexical_only_min" yaml:"lexical_only_min"`
	KeywordMismatchMax    float64 `json:"keyword_mismatch_max" yaml:"keyword_mismatch_max"`
}

// WeightsConfig are the fusion weights. They must sum to 1; when a remote
// signal is unavailable its weight is redistributed proportionally at
// decision time.
type WeightsConfig struct {
	Embedding  float64 `json:"embedding" yaml:"embedding"`
	Entailment float64 `json:"entailment" yaml:"entailment"`
	Keyword    float64 `json:"keyword" yaml:"keyword"`
}

type PenaltiesConfig struct {
	Negation              float64 `json:"negation" yaml:"negation"`
	Specificity           float64 `json:"specificity" yaml:"specificity"`
	KeywordMismatchFactor float64 `json:"keyword_mismatch_factor" yaml:"keyword_mismatch_factor"`
}

type LexicalConfig struct {
	StopWords         []string            `json:"stop_words" yaml:"stop_words"`
	Synonyms          map[string][]string `json:"synonyms" yaml:"synonyms"`
	NegationPatterns  []string            `json:"negation_patterns" yaml:"negation_patterns"`
	QualifierPatterns []string            `json:"qualifier_patterns" yaml:"qualifier_patterns"`
	TrivialTokenMax   int                 `json:"trivial_token_max" yaml:"trivial_token_max"`
	TrivialOverlapMin float64             `json:"trivial_overlap_min" yaml:"trivial_overlap_min"`
}

// TemplatesConfig wraps texts before remote calls. The processed template is
// shared by both sides so the embedding comparison stays symmetric; premise
// and hypothesis differ because entailment models are order-sensitive.
type TemplatesConfig struct {
	Processed  string `json:"processed" yaml:"processed"`
	Premise    string `json:"premise" yaml:"premise"`
	Hypothesis string `json:"hypothesis" yaml:"hypothesis"`
}

type NetworkConfig struct {
	TimeoutMS         int   `json:"timeout_ms" yaml:"timeout_ms"`
	MaxRetries        int   `json:"max_retries" yaml:"max_retries"`
	BackoffBaseMS     int   `json:"backoff_base_ms" yaml:"backoff_base_ms"`
	BackoffMaxMS      int   `json:"backoff_max_ms" yaml:"backoff_max_ms"`
	JitterMS          int   `json:"jitter_ms" yaml:"jitter_ms"`
	RetryableStatuses []int `json:"retryable_statuses" yaml:"retryable_statuses"`
	RequestDeadlineMS int   `json:"request_deadline_ms" yaml:"request_deadline_ms"`
}

// Config is the immutable scoring configuration. It is loaded once, shared
// read-only across requests, and identified by ConfigVersion: any numeric
// change must change the version string.
type Config struct {
	ConfigVersion string           `json:"config_version" yaml:"config_version"`
	Models        ModelsConfig     `json:"models" yaml:"models"`
	Thresholds    ThresholdsConfig `json:"thresholds" yaml:"thresholds"`
	Weights       WeightsConfig    `json:"weights" yaml:"weights"`
	Penalties     PenaltiesConfig  `json:"penalties" yaml:"penalties"`
	Lexical       LexicalConfig    `json:"lexical" yaml:"lexical"`
	Templates     TemplatesConfig  `json:"templates" yaml:"templates"`
	Network       NetworkConfig    `json:"network" yaml:"network"`
}

func DefaultConfig() Config {
	return Config{
		ConfigVersion: "default-2026-08",
		Models: ModelsConfig{
			Embedding:          "sentence-transformers/all-MiniLM-L6-v2",
			Paraphrase:         "sentence-transformers/paraphrase-MiniLM-L6-v2",
			Entailment:         "roberta-large-mnli",
			EntailmentFallback: "facebook/bart-large-mnli",
		},
		Thresholds: ThresholdsConfig{
			ContradictionOverride: 0.70,
			StrongEntailmentMin:   0.75,
			EmbeddingFastPassMin:  0.78,
			KeywordFastPassMin:    0.45,
			HybridFinalMin:        0.62,
			LexicalOnlyMin:        0.75,
			KeywordMismatchMax:    0.15,
		},
		Weights: WeightsConfig{
			Embedding:  0.50,
			Entailment: 0.35,
			Keyword:    0.15,
		},
		Penalties: PenaltiesConfig{
			Negation:              0.35,
			Specificity:           0.25,
			KeywordMismatchFactor: 0.8,
		},
		Lexical: LexicalConfig{
			StopWords: []string{
				"a", "an", "the", "this", "that", "these", "those", "is", "are",
				"was", "were", "be", "been", "being", "am", "it", "its", "of",
				"in", "on", "at", "to", "for", "from", "by", "as", "and", "or",
				"but", "if", "then", "so", "they", "them", "their", "there",
				"all", "each", "every", "some", "any", "can", "could", "will",
				"would", "do", "does", "did", "have", "has", "had", "what",
				"which", "who", "whom", "when", "where", "why", "how", "with",
				"words", "word", "things", "thing",
			},
			Synonyms: map[string][]string{
				"both":     {"dual", "two", "double", "pair"},
				"noun":     {"name", "naming"},
				"verb":     {"action", "doing"},
				"speech":   {"grammar", "grammatical"},
				"part":     {"category", "class", "type", "kind"},
				"animal":   {"creature", "beast", "fauna"},
				"color":    {"colour", "hue", "shade"},
				"sound":    {"noise", "audio"},
				"same":     {"identical", "equal", "alike"},
				"opposite": {"reverse", "inverse", "antonym"},
				"hidden":   {"secret", "concealed"},
				"body":     {"anatomy", "anatomical"},
			},
			NegationPatterns: []string{
				`\bnot\b`, `\bno\b`, `\bnever\b`, `\bwithout\b`, `\bexcept\b`,
				`\bnon\b`, `\bnone\b`, `\bisn't\b`, `\baren't\b`, `\bdon't\b`,
			},
			QualifierPatterns: []string{
				`\bbegins?\s+with\b`, `\bstarts?\s+with\b`, `\bends?\s+with\b`,
				`\bcontains?\b`, `\brhymes?\s+with\b`, `\bnumber\s+of\b`,
				`\bletters?\b`, `\bsyllables?\b`, `\bspell(ed|ing)?\b`,
				`\banagrams?\b`, `\bpalindromes?\b`,
			},
			TrivialTokenMax:   2,
			TrivialOverlapMin: 0.4,
		},
		Templates: TemplatesConfig{
			Processed:  "What connects this week's words? {text}",
			Premise:    "The words share this connection: {text}.",
			Hypothesis: "In other words, the connection is {text}.",
		},
		Network: NetworkConfig{
			TimeoutMS:         8000,
			MaxRetries:        3,
			BackoffBaseMS:     400,
			BackoffMaxMS:      4000,
			JitterMS:          250,
			RetryableStatuses: []int{429, 502, 503, 504},
			RequestDeadlineMS: 20000,
		},
	}
}

// LoadConfig reads a scoring config document (YAML or JSON), fills defaults
// for omitted sections, and validates it. Multiple documents can be loaded
// side by side for replay comparisons.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return cfg, fmt.Errorf("read scoring config: %w", err)
	}
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse yaml scoring config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse json scoring config: %w", err)
		}
	default:
		var yamlErr error
		if yamlErr = yaml.Unmarshal(data, &cfg); yamlErr == nil {
			break
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, errors.New("scoring config format not recognized (expected yaml/json)")
		}
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate fails fast with a ConfigError so a malformed document is rejected
// before any request is served.
func (c Config) Validate() error {
	if strings.TrimSpace(c.ConfigVersion) == "" {
		return &ConfigError{Field: "config_version", Reason: "must not be empty"}
	}
	if strings.TrimSpace(c.Models.Embedding) == "" {
		return &ConfigError{Field: "models.embedding", Reason: "must not be empty"}
	}
	if strings.TrimSpace(c.Models.Entailment) == "" {
		return &ConfigError{Field: "models.entailment", Reason: "must not be empty"}
	}
	if c.Models.UseParaphrase && strings.TrimSpace(c.Models.Paraphrase) == "" {
		return &ConfigError{Field: "models.paraphrase", Reason: "use_paraphrase is set but no paraphrase model is configured"}
	}
	thresholds := map[string]float64{
		"thresholds.contradiction_override":  c.Thresholds.ContradictionOverride,
		"thresholds.strong_entailment_min":   c.Thresholds.StrongEntailmentMin,
		"thresholds.embedding_fast_pass_min": c.Thresholds.EmbeddingFastPassMin,
		"thresholds.keyword_fast_pass_min":   c.Thresholds.KeywordFastPassMin,
		"thresholds.hybrid_final_min":        c.Thresholds.HybridFinalMin,
		"thresholds.lexical_only_min":        c.Thresholds.LexicalOnlyMin,
		"thresholds.keyword_mismatch_max":    c.Thresholds.KeywordMismatchMax,
		"penalties.negation":                 c.Penalties.Negation,
		"penalties.specificity":              c.Penalties.Specificity,
		"penalties.keyword_mismatch_factor":  c.Penalties.KeywordMismatchFactor,
		"lexical.trivial_overlap_min":        c.Lexical.TrivialOverlapMin,
	}
	for field, value := range thresholds {
		if value < 0 || value > 1 {
			return &ConfigError{Field: field, Reason: fmt.Sprintf("%.4f is outside [0,1]", value)}
		}
	}
	weightSum := c.Weights.Embedding + c.Weights.Entailment + c.Weights.Keyword
	if math.Abs(weightSum-1.0) > 1e-6 {
		return &ConfigError{Field: "weights", Reason: fmt.Sprintf("fusion weights sum to %.6f, want 1.0", weightSum)}
	}
	if c.Weights.Embedding < 0 || c.Weights.Entailment < 0 || c.Weights.Keyword < 0 {
		return &ConfigError{Field: "weights", Reason: "fusion weights must be non-negative"}
	}
	if c.Lexical.TrivialTokenMax < 0 {
		return &ConfigError{Field: "lexical.trivial_token_max", Reason: "must be >= 0"}
	}
	for _, field := range []struct{ name, value string }{
		{"templates.processed", c.Templates.Processed},
		{"templates.premise", c.Templates.Premise},
		{"templates.hypothesis", c.Templates.Hypothesis},
	} {
		if !strings.Contains(field.value, templatePlaceholder) {
			return &ConfigError{Field: field.name, Reason: "missing {text} placeholder"}
		}
	}
	if c.Network.MaxRetries <= 0 {
		return &ConfigError{Field: "network.max_retries", Reason: "must be > 0"}
	}
	if c.Network.TimeoutMS <= 0 {
		return &ConfigError{Field: "network.timeout_ms", Reason: "must be > 0"}
	}
	if c.Network.RequestDeadlineMS <= 0 {
		return &ConfigError{Field: "network.request_deadline_ms", Reason: "must be > 0"}
	}
	if _, err := compileRuleset(c.Lexical); err != nil {
		return err
	}
	return nil
}

// ClientConfig maps the network section onto the inference client.
func (c Config) ClientConfig(baseURL, token string) inference.Config {
	return inference.Config{
		BaseURL: baseURL,
		Token:   token,
		Timeout: time.Duration(c.Network.TimeoutMS) * time.Millisecond,
		Retry: inference.RetryConfig{
			MaxRetries:        c.Network.MaxRetries,
			BaseDelay:         time.Duration(c.Network.BackoffBaseMS) * time.Millisecond,
			MaxDelay:          time.Duration(c.Network.BackoffMaxMS) * time.Millisecond,
			Jitter:            time.Duration(c.Network.JitterMS) * time.Millisecond,
			RetryableStatuses: c.Network.RetryableStatuses,
		},
	}
}

func (c Config) requestDeadline() time.Duration {
	return time.Duration(c.Network.RequestDeadlineMS) * time.Millisecond
}

func (c Config) embeddingModel() string {
	if c.Models.UseParaphrase && strings.TrimSpace(c.Models.Paraphrase) != "" {
		return c.Models.Paraphrase
	}
	return c.Models.Embedding
}
