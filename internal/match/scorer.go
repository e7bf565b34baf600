package match

import (
	"context"
	"sync"
	"time"
)

// Scorer is the consumer-facing entry point: one immutable config, one
// remote client, safe for concurrent use. Each request owns its own views
// and signal results; no state crosses requests.
type Scorer struct {
	cfg    Config
	rules  *Ruleset
	client ModelClient
}

func NewScorer(cfg Config, client ModelClient) (*Scorer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	rules, err := compileRuleset(cfg.Lexical)
	if err != nil {
		return nil, err
	}
	return &Scorer{cfg: cfg, rules: rules, client: client}, nil
}

func (s *Scorer) Config() Config {
	return s.cfg
}

// Score decides whether guess identifies theme. Lexical signals run first
// and cost nothing; the embedding call and both entailment directions then
// go out concurrently under the per-request deadline. A blown deadline
// degrades the verdict instead of failing it — only InputError propagates.
func (s *Scorer) Score(ctx context.Context, theme, guess string) (Result, error) {
	start := time.Now()

	views, err := BuildTextViews(theme, guess, s.cfg)
	if err != nil {
		return Result{}, err
	}

	set := signalSet{
		Keyword:  s.rules.keywordOverlap(views.RawTheme, views.RawGuess),
		Negation: s.rules.negationMismatch(views.RawTheme, views.RawGuess),
	}
	set.Specificity = s.rules.specificityGate(views.RawGuess, set.Keyword.Score, s.cfg.Lexical)

	remoteCtx, cancel := context.WithTimeout(ctx, s.cfg.requestDeadline())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		set.Embedding = embeddingSignal(remoteCtx, s.client, views, s.cfg)
	}()
	go func() {
		defer wg.Done()
		set.Entailment, set.Entail = entailmentSignal(remoteCtx, s.client, views, s.cfg)
	}()
	wg.Wait()

	result := evaluatePolicy(set, s.cfg)
	result.Diagnostics.DurationMS = time.Since(start).Milliseconds()
	return result, nil
}
