package match

import "fmt"

// signalSet is the fan-in of all evidence for one request.
type signalSet struct {
	Keyword     SignalResult
	Negation    SignalResult
	Specificity SignalResult
	Embedding   SignalResult
	Entailment  SignalResult
	Entail      EntailmentScores
}

func (s signalSet) ordered() []SignalResult {
	return []SignalResult{s.Keyword, s.Negation, s.Specificity, s.Embedding, s.Entailment}
}

// evaluatePolicy fuses the signals into the final verdict. Pure and
// deterministic: identical signals and config always produce the identical
// result. Branches are evaluated in strict order — contradiction override,
// strong-evidence fast pass, weighted fusion, lexical fallback.
func evaluatePolicy(set signalSet, cfg Config) Result {
	trace := []string{}
	degraded := !set.Embedding.Available || !set.Entailment.Available
	if !set.Embedding.Available {
		trace = append(trace, "embedding unavailable: "+set.Embedding.Error)
	}
	if !set.Entailment.Available {
		trace = append(trace, "entailment unavailable: "+set.Entailment.Error)
	}

	// All remote signals down: lexical-only judgment with the conservative
	// threshold.
	if !set.Embedding.Available && !set.Entailment.Available {
		return lexicalFallback(set, cfg, trace)
	}

	fusedScore, fusionTrace := fuseSignals(set, cfg)
	trace = append(trace, fusionTrace...)

	// 1. Contradiction override: a detected logical contradiction beats any
	// similarity evidence.
	if set.Entailment.Available && set.Entail.Contradiction >= cfg.Thresholds.ContradictionOverride {
		trace = append(trace, fmt.Sprintf("contradiction_override: contradiction=%.3f >= %.3f",
			set.Entail.Contradiction, cfg.Thresholds.ContradictionOverride))
		return buildResult(false, fusedScore, BranchContradictionOverride,
			[]string{SignalEntailment}, set, cfg, trace, degraded)
	}

	// 2. Fast pass when three independent signals agree strongly.
	if set.Entailment.Available && set.Embedding.Available &&
		set.Entail.Entailment >= cfg.Thresholds.StrongEntailmentMin &&
		set.Embedding.Score >= cfg.Thresholds.EmbeddingFastPassMin &&
		set.Keyword.Score >= cfg.Thresholds.KeywordFastPassMin {
		trace = append(trace, fmt.Sprintf("fast_pass: entailment=%.3f embedding=%.3f keyword=%.3f",
			set.Entail.Entailment, set.Embedding.Score, set.Keyword.Score))
		return buildResult(true, fusedScore, BranchFastPass,
			[]string{SignalEntailment, SignalEmbedding, SignalKeyword}, set, cfg, trace, degraded)
	}

	// 3. Weighted fusion.
	isMatch := fusedScore >= cfg.Thresholds.HybridFinalMin
	trace = append(trace, fmt.Sprintf("fusion_verdict: score=%.4f hybrid_final_min=%.3f match=%t",
		fusedScore, cfg.Thresholds.HybridFinalMin, isMatch))
	return buildResult(isMatch, fusedScore, BranchFusion, []string{}, set, cfg, trace, degraded)
}

// fuseSignals computes the weighted score with unavailable remote weights
// redistributed proportionally among the remaining signals, then applies
// the multiplicative penalties.
func fuseSignals(set signalSet, cfg Config) (float64, []string) {
	trace := []string{}

	usedWeight := cfg.Weights.Keyword
	weightedSum := set.Keyword.Score * cfg.Weights.Keyword
	if set.Embedding.Available {
		usedWeight += cfg.Weights.Embedding
		weightedSum += set.Embedding.Score * cfg.Weights.Embedding
	}
	if set.Entailment.Available {
		usedWeight += cfg.Weights.Entailment
		weightedSum += set.Entail.Entailment * cfg.Weights.Entailment
	}
	score := 0.0
	if usedWeight > 0 {
		score = weightedSum / usedWeight
	}
	trace = append(trace, fmt.Sprintf("fusion: raw=%.4f used_weight=%.3f keyword=%.3f embedding_avail=%t entailment_avail=%t",
		score, usedWeight, set.Keyword.Score, set.Embedding.Available, set.Entailment.Available))

	if set.Negation.Score > 0 {
		score *= 1 - cfg.Penalties.Negation
		trace = append(trace, fmt.Sprintf("penalty: negation_mismatch factor=%.3f", 1-cfg.Penalties.Negation))
	}
	// Keyword-mismatch guard against embeddings that treat superficially
	// similar phrases as related. Applied regardless of the embedding
	// magnitude so the fused score stays monotone in embedding.
	if set.Keyword.Score < cfg.Thresholds.KeywordMismatchMax {
		score *= cfg.Penalties.KeywordMismatchFactor
		trace = append(trace, fmt.Sprintf("penalty: keyword_mismatch overlap=%.3f < %.3f factor=%.3f",
			set.Keyword.Score, cfg.Thresholds.KeywordMismatchMax, cfg.Penalties.KeywordMismatchFactor))
	}
	if set.Specificity.Score > 0 {
		score *= 1 - cfg.Penalties.Specificity
		trace = append(trace, fmt.Sprintf("penalty: trivial_guess factor=%.3f", 1-cfg.Penalties.Specificity))
	}
	return clamp(score, 0, 1), trace
}

func lexicalFallback(set signalSet, cfg Config, trace []string) Result {
	score := set.Keyword.Score
	if set.Negation.Score > 0 {
		score *= 1 - cfg.Penalties.Negation
	}
	if set.Specificity.Score > 0 {
		score *= 1 - cfg.Penalties.Specificity
	}
	score = clamp(score, 0, 1)
	isMatch := score >= cfg.Thresholds.LexicalOnlyMin
	trace = append(trace, fmt.Sprintf("lexical_fallback: score=%.4f lexical_only_min=%.3f match=%t",
		score, cfg.Thresholds.LexicalOnlyMin, isMatch))
	return buildResult(isMatch, score, BranchLexicalFallback, []string{}, set, cfg, trace, true)
}

func buildResult(isMatch bool, score float64, branch string, matched []string, set signalSet, cfg Config, trace []string, degraded bool) Result {
	return Result{
		IsMatch:        isMatch,
		Score:          round4(score),
		MatchedSignals: matched,
		Diagnostics: Diagnostics{
			ConfigVersion: cfg.ConfigVersion,
			Branch:        branch,
			Degraded:      degraded,
			Signals:       set.ordered(),
			Trace:         trace,
		},
	}
}
