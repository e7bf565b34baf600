package match

import "testing"

func availableSignal(name string, score float64) SignalResult {
	return SignalResult{Name: name, Score: score, Available: true, Details: map[string]any{}}
}

func downSignal(name string) SignalResult {
	return SignalResult{Name: name, Error: "model unavailable", Details: map[string]any{}}
}

func healthySet(keyword, embedding, entailment, contradiction float64) signalSet {
	return signalSet{
		Keyword:     availableSignal(SignalKeyword, keyword),
		Negation:    availableSignal(SignalNegation, 0),
		Specificity: availableSignal(SignalSpecificity, 0),
		Embedding:   availableSignal(SignalEmbedding, embedding),
		Entailment:  availableSignal(SignalEntailment, entailment),
		Entail:      EntailmentScores{Entailment: entailment, Neutral: 1 - entailment - contradiction, Contradiction: contradiction},
	}
}

func TestContradictionOverrideBeatsStrongSimilarity(t *testing.T) {
	set := healthySet(1.0, 0.95, 0.10, 0.80)
	result := evaluatePolicy(set, DefaultConfig())

	if result.IsMatch {
		t.Fatalf("contradiction must veto, got match with score %.4f", result.Score)
	}
	if result.Diagnostics.Branch != BranchContradictionOverride {
		t.Fatalf("branch = %s, want %s", result.Diagnostics.Branch, BranchContradictionOverride)
	}
	if len(result.MatchedSignals) != 1 || result.MatchedSignals[0] != SignalEntailment {
		t.Fatalf("matched signals = %v", result.MatchedSignals)
	}
}

func TestFastPassRequiresAllThreeSignals(t *testing.T) {
	cfg := DefaultConfig()

	// Weak keyword overlap keeps the request out of the fast path even when
	// both remote signals are strong.
	set := healthySet(0.30, 0.85, 0.85, 0.05)
	result := evaluatePolicy(set, cfg)
	if result.Diagnostics.Branch == BranchFastPass {
		t.Fatalf("fast pass with keyword=%.2f below %.2f", 0.30, cfg.Thresholds.KeywordFastPassMin)
	}

	set = healthySet(0.60, 0.85, 0.85, 0.05)
	result = evaluatePolicy(set, cfg)
	if result.Diagnostics.Branch != BranchFastPass || !result.IsMatch {
		t.Fatalf("expected fast pass match, got branch=%s match=%t", result.Diagnostics.Branch, result.IsMatch)
	}
}

func TestFuseSignalsAppliesMultiplicativePenalties(t *testing.T) {
	cfg := DefaultConfig()
	set := healthySet(0.50, 0.80, 0.60, 0.10)
	set.Negation = availableSignal(SignalNegation, 1)

	score, _ := fuseSignals(set, cfg)
	raw := 0.80*cfg.Weights.Embedding + 0.60*cfg.Weights.Entailment + 0.50*cfg.Weights.Keyword
	want := raw * (1 - cfg.Penalties.Negation)
	if !almostEqual(score, want) {
		t.Fatalf("fused = %.6f, want %.6f", score, want)
	}

	// Near-zero overlap additionally trips the keyword-mismatch guard.
	set = healthySet(0.05, 0.80, 0.60, 0.10)
	score, _ = fuseSignals(set, cfg)
	raw = 0.80*cfg.Weights.Embedding + 0.60*cfg.Weights.Entailment + 0.05*cfg.Weights.Keyword
	want = raw * cfg.Penalties.KeywordMismatchFactor
	if !almostEqual(score, want) {
		t.Fatalf("fused = %.6f, want %.6f", score, want)
	}
}

func TestFuseSignalsRedistributesMissingWeight(t *testing.T) {
	cfg := DefaultConfig()
	set := healthySet(0.60, 0, 0.80, 0.05)
	set.Embedding = downSignal(SignalEmbedding)

	score, _ := fuseSignals(set, cfg)
	used := cfg.Weights.Entailment + cfg.Weights.Keyword
	want := (0.80*cfg.Weights.Entailment + 0.60*cfg.Weights.Keyword) / used
	if !almostEqual(score, want) {
		t.Fatalf("fused = %.6f, want %.6f", score, want)
	}

	result := evaluatePolicy(set, cfg)
	if !result.Diagnostics.Degraded {
		t.Fatalf("partial outage must flag degraded")
	}
	if !result.IsMatch {
		t.Fatalf("redistributed score %.4f should clear %.2f", result.Score, cfg.Thresholds.HybridFinalMin)
	}
}

func TestFusedScoreMonotoneInEmbedding(t *testing.T) {
	cfg := DefaultConfig()
	previous := -1.0
	for step := 0; step <= 100; step++ {
		embedding := float64(step) / 100
		set := healthySet(0.30, embedding, 0.50, 0.10)
		result := evaluatePolicy(set, cfg)
		if result.Score < previous {
			t.Fatalf("score dropped from %.6f to %.6f at embedding=%.2f", previous, result.Score, embedding)
		}
		previous = result.Score
	}
}

func TestLexicalFallbackUsesConservativeThreshold(t *testing.T) {
	cfg := DefaultConfig()

	set := healthySet(0.80, 0, 0, 0)
	set.Embedding = downSignal(SignalEmbedding)
	set.Entailment = downSignal(SignalEntailment)

	result := evaluatePolicy(set, cfg)
	if result.Diagnostics.Branch != BranchLexicalFallback || !result.Diagnostics.Degraded {
		t.Fatalf("expected degraded lexical fallback, got %+v", result.Diagnostics)
	}
	if !result.IsMatch {
		t.Fatalf("keyword %.2f should clear lexical-only %.2f", 0.80, cfg.Thresholds.LexicalOnlyMin)
	}

	// A score that would pass hybrid fusion is not enough on lexical
	// evidence alone.
	set.Keyword = availableSignal(SignalKeyword, 0.70)
	result = evaluatePolicy(set, cfg)
	if result.IsMatch {
		t.Fatalf("keyword 0.70 must not clear lexical-only %.2f", cfg.Thresholds.LexicalOnlyMin)
	}
}
