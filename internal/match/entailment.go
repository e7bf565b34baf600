package match

import (
	"context"
	"strings"
	"sync"

	"theme-judge/internal/inference"
)

// entailmentSignal runs the NLI model on both pair orderings. Theme/guess
// equivalence is symmetric but entailment models are directional, so true
// equivalence must entail both ways: entailment and neutral are averaged,
// contradiction takes the max of the two directions — a contradiction found
// in either direction is disqualifying.
func entailmentSignal(ctx context.Context, client ModelClient, views TextViews, cfg Config) (SignalResult, EntailmentScores) {
	result := SignalResult{
		Name:    SignalEntailment,
		Details: map[string]any{"model": cfg.Models.Entailment},
	}

	merged, diag, err := bidirectionalEntailment(ctx, client, cfg.Models.Entailment, views)
	if err != nil && strings.TrimSpace(cfg.Models.EntailmentFallback) != "" {
		result.Details["primary_error"] = err.Error()
		result.Details["model"] = cfg.Models.EntailmentFallback
		result.Details["fallback"] = true
		merged, diag, err = bidirectionalEntailment(ctx, client, cfg.Models.EntailmentFallback, views)
	}
	if err != nil {
		result.Error = err.Error()
		return result, EntailmentScores{}
	}

	result.Available = true
	result.Score = merged.Entailment
	result.Details["forward"] = diag.forward
	result.Details["reverse"] = diag.reverse
	result.Details["merged"] = merged
	return result, merged
}

type directionDiagnostics struct {
	forward EntailmentScores
	reverse EntailmentScores
}

// bidirectionalEntailment dispatches the two orderings concurrently; with
// the embedding call alongside, a request has at most three outbound calls
// in flight.
func bidirectionalEntailment(ctx context.Context, client ModelClient, model string, views TextViews) (EntailmentScores, directionDiagnostics, error) {
	var (
		wg         sync.WaitGroup
		forward    EntailmentScores
		reverse    EntailmentScores
		forwardErr error
		reverseErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		forward, forwardErr = classifyDirection(ctx, client, model, views.ForwardPremise, views.ForwardHypothesis)
	}()
	go func() {
		defer wg.Done()
		reverse, reverseErr = classifyDirection(ctx, client, model, views.ReversePremise, views.ReverseHypothesis)
	}()
	wg.Wait()

	diag := directionDiagnostics{forward: forward, reverse: reverse}
	if forwardErr != nil {
		return EntailmentScores{}, diag, forwardErr
	}
	if reverseErr != nil {
		return EntailmentScores{}, diag, reverseErr
	}
	merged := EntailmentScores{
		Entailment:    (forward.Entailment + reverse.Entailment) / 2,
		Neutral:       (forward.Neutral + reverse.Neutral) / 2,
		Contradiction: maxFloat(forward.Contradiction, reverse.Contradiction),
	}
	return merged, diag, nil
}

func classifyDirection(ctx context.Context, client ModelClient, model, premise, hypothesis string) (EntailmentScores, error) {
	entries, err := client.ClassifyPair(ctx, model, premise, hypothesis)
	if err != nil {
		return EntailmentScores{}, err
	}
	return mapLabelScores(entries), nil
}

// mapLabelScores tolerates both symbolic (ENTAILMENT) and positional
// (LABEL_2) label schemes; anything unrecognized lands on neutral. The
// triplet is renormalized to sum 1.
func mapLabelScores(entries []inference.LabelScore) EntailmentScores {
	var scores EntailmentScores
	for _, entry := range entries {
		switch strings.ToUpper(strings.TrimSpace(entry.Label)) {
		case "ENTAILMENT", "LABEL_2":
			scores.Entailment += entry.Score
		case "CONTRADICTION", "LABEL_0":
			scores.Contradiction += entry.Score
		default:
			scores.Neutral += entry.Score
		}
	}
	total := scores.Entailment + scores.Neutral + scores.Contradiction
	if total <= 0 {
		return EntailmentScores{Neutral: 1}
	}
	scores.Entailment /= total
	scores.Neutral /= total
	scores.Contradiction /= total
	return scores
}
