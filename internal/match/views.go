package match

import "strings"

const templatePlaceholder = "{text}"

// BuildTextViews normalizes the pair and derives the processed and
// entailment views. It is the only place input validation happens; an
// InputError here guarantees no remote call was attempted.
func BuildTextViews(theme, guess string, cfg Config) (TextViews, error) {
	rawTheme := normalizeText(theme)
	rawGuess := normalizeText(guess)
	if rawTheme == "" {
		return TextViews{}, &InputError{Field: "theme", Reason: "empty after normalization"}
	}
	if rawGuess == "" {
		return TextViews{}, &InputError{Field: "guess", Reason: "empty after normalization"}
	}
	return TextViews{
		RawTheme:          rawTheme,
		RawGuess:          rawGuess,
		ProcessedTheme:    applyTemplate(cfg.Templates.Processed, rawTheme),
		ProcessedGuess:    applyTemplate(cfg.Templates.Processed, rawGuess),
		ForwardPremise:    applyTemplate(cfg.Templates.Premise, rawTheme),
		ForwardHypothesis: applyTemplate(cfg.Templates.Hypothesis, rawGuess),
		ReversePremise:    applyTemplate(cfg.Templates.Premise, rawGuess),
		ReverseHypothesis: applyTemplate(cfg.Templates.Hypothesis, rawTheme),
	}, nil
}

// normalizeText trims, lowercases, and collapses internal whitespace.
func normalizeText(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

func applyTemplate(template, text string) string {
	return strings.ReplaceAll(template, templatePlaceholder, text)
}
