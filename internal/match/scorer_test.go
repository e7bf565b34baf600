package match

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"theme-judge/internal/inference"
)

// stubClient implements ModelClient with canned responses and call counts.
type stubClient struct {
	mu              sync.Mutex
	similarityCalls int
	classifyCalls   int

	similarity    float64
	similarityErr error

	entailment    EntailmentScores
	classifyErr   error
	classifyByKey map[string]EntailmentScores // premise prefix -> triplet
	failModels    map[string]bool
}

func (s *stubClient) Similarity(ctx context.Context, model, source string, sentences []string) ([]float64, error) {
	s.mu.Lock()
	s.similarityCalls++
	s.mu.Unlock()
	if s.similarityErr != nil {
		return nil, s.similarityErr
	}
	return []float64{s.similarity}, nil
}

func (s *stubClient) ClassifyPair(ctx context.Context, model, text, textPair string) ([]inference.LabelScore, error) {
	s.mu.Lock()
	s.classifyCalls++
	s.mu.Unlock()
	if s.failModels != nil && s.failModels[model] {
		return nil, &inference.ModelUnavailableError{Model: model, Attempts: 1, Err: errors.New("stubbed outage")}
	}
	if s.classifyErr != nil {
		return nil, s.classifyErr
	}
	triplet := s.entailment
	if s.classifyByKey != nil {
		for prefix, keyed := range s.classifyByKey {
			if len(text) >= len(prefix) && text[:len(prefix)] == prefix {
				triplet = keyed
			}
		}
	}
	return []inference.LabelScore{
		{Label: "ENTAILMENT", Score: triplet.Entailment},
		{Label: "NEUTRAL", Score: triplet.Neutral},
		{Label: "CONTRADICTION", Score: triplet.Contradiction},
	}, nil
}

func (s *stubClient) calls() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.similarityCalls, s.classifyCalls
}

func mustScorer(t *testing.T, client ModelClient) *Scorer {
	t.Helper()
	scorer, err := NewScorer(DefaultConfig(), client)
	if err != nil {
		t.Fatalf("NewScorer: %v", err)
	}
	return scorer
}

func TestScoreParaphrasedThemeMatches(t *testing.T) {
	client := &stubClient{
		similarity: 0.82,
		entailment: EntailmentScores{Entailment: 0.85, Neutral: 0.10, Contradiction: 0.05},
	}
	scorer := mustScorer(t, client)

	result, err := scorer.Score(context.Background(), "Words that are both nouns and verbs", "dual part of speech")
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if !result.IsMatch {
		t.Fatalf("expected match, got score=%.4f branch=%s trace=%v",
			result.Score, result.Diagnostics.Branch, result.Diagnostics.Trace)
	}
	if result.Diagnostics.Degraded {
		t.Fatalf("unexpected degraded flag")
	}
	if result.Score < DefaultConfig().Thresholds.HybridFinalMin {
		t.Fatalf("score %.4f below final threshold", result.Score)
	}
}

func TestScoreSurfacePatternGuessRejected(t *testing.T) {
	client := &stubClient{
		similarity: 0.45,
		entailment: EntailmentScores{Entailment: 0.20, Neutral: 0.50, Contradiction: 0.30},
	}
	scorer := mustScorer(t, client)

	result, err := scorer.Score(context.Background(), "Words that are both nouns and verbs", "begins with b")
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if result.IsMatch {
		t.Fatalf("expected rejection, got score=%.4f trace=%v", result.Score, result.Diagnostics.Trace)
	}
	negation := result.Diagnostics.Signals[1]
	if negation.Name != SignalNegation || negation.Score != 1 {
		t.Fatalf("expected qualifier mismatch penalty, got %+v", negation)
	}
}

func TestScoreEmptyGuessFailsFastWithoutRemoteCalls(t *testing.T) {
	client := &stubClient{similarity: 0.9}
	scorer := mustScorer(t, client)

	_, err := scorer.Score(context.Background(), "theme", "   ")
	inputErr, ok := IsInputError(err)
	if !ok {
		t.Fatalf("expected InputError, got %v", err)
	}
	if inputErr.Field != "guess" {
		t.Fatalf("expected guess field, got %q", inputErr.Field)
	}
	simCalls, classifyCalls := client.calls()
	if simCalls != 0 || classifyCalls != 0 {
		t.Fatalf("remote calls made on invalid input: sim=%d classify=%d", simCalls, classifyCalls)
	}
}

func TestScoreJustUnderFastPassStillMatchesViaFusion(t *testing.T) {
	client := &stubClient{
		similarity: 0.77, // just under the 0.78 fast-pass threshold
		entailment: EntailmentScores{Entailment: 0.55, Neutral: 0.35, Contradiction: 0.10},
	}
	scorer := mustScorer(t, client)

	result, err := scorer.Score(context.Background(), "animals that live underwater", "underwater animals")
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if result.Diagnostics.Branch != BranchFusion {
		t.Fatalf("expected fusion branch, got %s", result.Diagnostics.Branch)
	}
	if !result.IsMatch {
		t.Fatalf("expected fusion match via strong keyword overlap, score=%.4f trace=%v",
			result.Score, result.Diagnostics.Trace)
	}
}

func TestScoreFastPassWhenAllSignalsAgree(t *testing.T) {
	client := &stubClient{
		similarity: 0.90,
		entailment: EntailmentScores{Entailment: 0.88, Neutral: 0.10, Contradiction: 0.02},
	}
	scorer := mustScorer(t, client)

	result, err := scorer.Score(context.Background(), "animals that live underwater", "animals living underwater")
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if result.Diagnostics.Branch != BranchFastPass {
		t.Fatalf("expected fast pass, got %s trace=%v", result.Diagnostics.Branch, result.Diagnostics.Trace)
	}
	if !result.IsMatch {
		t.Fatalf("fast pass must match")
	}
	want := []string{SignalEntailment, SignalEmbedding, SignalKeyword}
	if len(result.MatchedSignals) != len(want) {
		t.Fatalf("unexpected matched signals %v", result.MatchedSignals)
	}
}

func TestScoreAllRemotesDownDegradesInsteadOfFailing(t *testing.T) {
	client := &stubClient{
		similarityErr: &inference.ModelUnavailableError{Model: "emb", Attempts: 3, Err: errors.New("down")},
		classifyErr:   &inference.ModelUnavailableError{Model: "nli", Attempts: 3, Err: errors.New("down")},
	}
	scorer := mustScorer(t, client)

	result, err := scorer.Score(context.Background(), "animals that live underwater", "underwater animals")
	if err != nil {
		t.Fatalf("degraded mode must not error: %v", err)
	}
	if !result.Diagnostics.Degraded {
		t.Fatalf("expected degraded flag")
	}
	if result.Diagnostics.Branch != BranchLexicalFallback {
		t.Fatalf("expected lexical fallback, got %s", result.Diagnostics.Branch)
	}
}

func TestScoreDeterministicForIdenticalInputs(t *testing.T) {
	client := &stubClient{
		similarity: 0.66,
		entailment: EntailmentScores{Entailment: 0.40, Neutral: 0.45, Contradiction: 0.15},
	}
	scorer := mustScorer(t, client)

	first, err := scorer.Score(context.Background(), "shades of blue", "types of blue color")
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	second, err := scorer.Score(context.Background(), "shades of blue", "types of blue color")
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if first.IsMatch != second.IsMatch || first.Score != second.Score ||
		first.Diagnostics.Branch != second.Diagnostics.Branch {
		t.Fatalf("non-deterministic verdict: %+v vs %+v", first, second)
	}
}

func TestScoreEntailmentSymmetricUnderSwap(t *testing.T) {
	client := &stubClient{
		similarity: 0.70,
		classifyByKey: map[string]EntailmentScores{
			// Keyed by premise prefix: asymmetric per-direction triplets.
			"The words share this connection: birds": {Entailment: 0.80, Neutral: 0.15, Contradiction: 0.05},
			"The words share this connection: kinds": {Entailment: 0.60, Neutral: 0.20, Contradiction: 0.20},
		},
	}
	scorer := mustScorer(t, client)

	forward, err := scorer.Score(context.Background(), "birds of prey", "kinds of raptors")
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	swapped, err := scorer.Score(context.Background(), "kinds of raptors", "birds of prey")
	if err != nil {
		t.Fatalf("Score: %v", err)
	}

	forwardMerged := forward.Diagnostics.Signals[4].Details["merged"].(EntailmentScores)
	swappedMerged := swapped.Diagnostics.Signals[4].Details["merged"].(EntailmentScores)
	if !almostEqual(forwardMerged.Entailment, swappedMerged.Entailment) ||
		!almostEqual(forwardMerged.Contradiction, swappedMerged.Contradiction) {
		t.Fatalf("entailment not symmetric: %+v vs %+v", forwardMerged, swappedMerged)
	}
}

// slowClient never answers; it blocks until the request context expires.
type slowClient struct{}

func (s slowClient) Similarity(ctx context.Context, model, source string, sentences []string) ([]float64, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (s slowClient) ClassifyPair(ctx context.Context, model, text, textPair string) ([]inference.LabelScore, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestScoreDeadlineExpiryDegradesWithoutHanging(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Network.RequestDeadlineMS = 20
	scorer, err := NewScorer(cfg, slowClient{})
	if err != nil {
		t.Fatalf("NewScorer: %v", err)
	}

	start := time.Now()
	result, err := scorer.Score(context.Background(), "animals that live underwater", "underwater animals")
	if err != nil {
		t.Fatalf("deadline expiry must not error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("Score did not return promptly after the deadline: %v", elapsed)
	}
	if !result.Diagnostics.Degraded {
		t.Fatalf("expected degraded flag after deadline expiry")
	}
	if result.Diagnostics.Branch != BranchLexicalFallback {
		t.Fatalf("expected lexical fallback, got %s", result.Diagnostics.Branch)
	}
	for _, signal := range result.Diagnostics.Signals {
		if signal.Name == SignalEmbedding || signal.Name == SignalEntailment {
			if signal.Available {
				t.Fatalf("remote signal %s should be unavailable after deadline expiry", signal.Name)
			}
			if signal.Error == "" {
				t.Fatalf("remote signal %s should carry the deadline error", signal.Name)
			}
		}
	}
}

func almostEqual(a, b float64) bool {
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return diff < 1e-9
}
