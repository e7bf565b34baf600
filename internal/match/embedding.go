package match

import (
	"context"

	"theme-judge/internal/inference"
)

// ModelClient is the slice of the inference client the engine needs. Tests
// substitute stubs that count calls.
type ModelClient interface {
	Similarity(ctx context.Context, model, source string, sentences []string) ([]float64, error)
	ClassifyPair(ctx context.Context, model, text, textPair string) ([]inference.LabelScore, error)
}

// embeddingSignal compares the PROCESSED views with the configured embedding
// model (general-purpose or paraphrase-tuned; pure config choice). The raw
// model output is interpreted as cosine similarity and clamped to [0,1].
func embeddingSignal(ctx context.Context, client ModelClient, views TextViews, cfg Config) SignalResult {
	model := cfg.embeddingModel()
	result := SignalResult{
		Name: SignalEmbedding,
		Details: map[string]any{
			"model":         model,
			"paraphrase":    cfg.Models.UseParaphrase,
			"source":        views.ProcessedTheme,
			"compared_with": views.ProcessedGuess,
		},
	}

	scores, err := client.Similarity(ctx, model, views.ProcessedTheme, []string{views.ProcessedGuess})
	if err != nil {
		result.Error = err.Error()
		return result
	}
	if len(scores) == 0 {
		result.Error = "similarity response contained no scores"
		return result
	}
	result.Available = true
	result.Details["raw_score"] = scores[0]
	result.Score = clamp(scores[0], 0, 1)
	return result
}
