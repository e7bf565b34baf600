package match

import (
	"fmt"
	"regexp"
	"strings"
)

// Match weights in priority order. Exact and stem matches are strong
// evidence of a shared concept; synonym and substring matches corroborate
// only weakly.
const (
	weightExact     = 1.0
	weightStem      = 0.9
	weightSynonym   = 0.6
	weightSubstring = 0.3
)

// Ruleset is the compiled form of LexicalConfig: stop-word set, symmetric
// synonym index, and the negation/qualifier pattern lists. Compiled once at
// load, read concurrently without locking.
type Ruleset struct {
	stopWords map[string]struct{}
	synonyms  map[string]map[string]struct{}
	negation  []*regexp.Regexp
	qualifier []*regexp.Regexp
}

func compileRuleset(cfg LexicalConfig) (*Ruleset, error) {
	rules := &Ruleset{
		stopWords: make(map[string]struct{}, len(cfg.StopWords)),
		synonyms:  map[string]map[string]struct{}{},
	}
	for _, word := range cfg.StopWords {
		rules.stopWords[strings.ToLower(strings.TrimSpace(word))] = struct{}{}
	}
	for key, values := range cfg.Synonyms {
		base := strings.ToLower(strings.TrimSpace(key))
		for _, value := range values {
			other := strings.ToLower(strings.TrimSpace(value))
			if base == "" || other == "" {
				continue
			}
			addSynonym(rules.synonyms, base, other)
			addSynonym(rules.synonyms, other, base)
		}
	}
	for _, pattern := range cfg.NegationPatterns {
		compiled, err := regexp.Compile(pattern)
		if err != nil {
			return nil, &ConfigError{Field: "lexical.negation_patterns", Reason: fmt.Sprintf("pattern %q: %v", pattern, err)}
		}
		rules.negation = append(rules.negation, compiled)
	}
	for _, pattern := range cfg.QualifierPatterns {
		compiled, err := regexp.Compile(pattern)
		if err != nil {
			return nil, &ConfigError{Field: "lexical.qualifier_patterns", Reason: fmt.Sprintf("pattern %q: %v", pattern, err)}
		}
		rules.qualifier = append(rules.qualifier, compiled)
	}
	return rules, nil
}

func addSynonym(index map[string]map[string]struct{}, from, to string) {
	set, ok := index[from]
	if !ok {
		set = map[string]struct{}{}
		index[from] = set
	}
	set[to] = struct{}{}
}

func (r *Ruleset) contentTokens(text string) []string {
	fields := strings.FieldsFunc(text, func(c rune) bool {
		return !(c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '\'')
	})
	out := make([]string, 0, len(fields))
	for _, field := range fields {
		token := strings.Trim(field, "'")
		if token == "" {
			continue
		}
		if _, stop := r.stopWords[token]; stop {
			continue
		}
		out = append(out, token)
	}
	return out
}

// keywordOverlap scores how much of the theme's key concepts the guess
// recovers. For every theme token the best guess token wins by priority:
// exact, stem, synonym, substring. Operates on RAW text only.
func (r *Ruleset) keywordOverlap(rawTheme, rawGuess string) SignalResult {
	themeTokens := r.contentTokens(rawTheme)
	guessTokens := r.contentTokens(rawGuess)

	result := SignalResult{
		Name:      SignalKeyword,
		Available: true,
		Details: map[string]any{
			"theme_tokens": themeTokens,
			"guess_tokens": guessTokens,
		},
	}
	if len(themeTokens) == 0 {
		result.Details["empty_theme_tokens"] = true
		return result
	}

	matches := make([]map[string]any, 0, len(themeTokens))
	total := 0.0
	for _, themeToken := range themeTokens {
		weight, guessToken, kind := r.bestTokenMatch(themeToken, guessTokens)
		total += weight
		if weight > 0 {
			matches = append(matches, map[string]any{
				"theme_token": themeToken,
				"guess_token": guessToken,
				"kind":        kind,
				"weight":      weight,
			})
		}
	}
	result.Score = clamp(total/float64(len(themeTokens)), 0, 1)
	result.Details["matches"] = matches
	return result
}

func (r *Ruleset) bestTokenMatch(themeToken string, guessTokens []string) (weight float64, match, kind string) {
	themeStem := stem(themeToken)
	best := 0.0
	for _, guessToken := range guessTokens {
		switch {
		case guessToken == themeToken:
			return weightExact, guessToken, "exact"
		case stem(guessToken) == themeStem:
			if best < weightStem {
				best, match, kind = weightStem, guessToken, "stem"
			}
		case r.isSynonym(themeToken, guessToken):
			if best < weightSynonym {
				best, match, kind = weightSynonym, guessToken, "synonym"
			}
		case substringMatch(themeToken, guessToken):
			if best < weightSubstring {
				best, match, kind = weightSubstring, guessToken, "substring"
			}
		}
	}
	return best, match, kind
}

func (r *Ruleset) isSynonym(a, b string) bool {
	if set, ok := r.synonyms[a]; ok {
		if _, hit := set[b]; hit {
			return true
		}
	}
	if set, ok := r.synonyms[stem(a)]; ok {
		if _, hit := set[stem(b)]; hit {
			return true
		}
	}
	return false
}

func substringMatch(a, b string) bool {
	if len(a) < 4 || len(b) < 4 {
		return false
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}

// stem strips common English suffixes. Deliberately crude: the overlap
// table only needs stem equivalence, not linguistic correctness.
func stem(token string) string {
	if len(token) <= 3 {
		return token
	}
	for _, suffix := range []string{"iest", "ing", "ies", "ers", "est", "ed", "es", "er", "ly", "s"} {
		if strings.HasSuffix(token, suffix) && len(token)-len(suffix) >= 3 {
			return token[:len(token)-len(suffix)]
		}
	}
	return token
}

// negationMismatch fires when a negation or qualifier construct appears on
// exactly one side of the pair. It only ever contributes a penalty.
func (r *Ruleset) negationMismatch(rawTheme, rawGuess string) SignalResult {
	themeNeg := matchedPatterns(r.negation, rawTheme)
	guessNeg := matchedPatterns(r.negation, rawGuess)
	themeQual := matchedPatterns(r.qualifier, rawTheme)
	guessQual := matchedPatterns(r.qualifier, rawGuess)

	mismatch := (len(themeNeg) > 0) != (len(guessNeg) > 0) ||
		(len(themeQual) > 0) != (len(guessQual) > 0)

	result := SignalResult{
		Name:      SignalNegation,
		Available: true,
		Details: map[string]any{
			"theme_negations":  themeNeg,
			"guess_negations":  guessNeg,
			"theme_qualifiers": themeQual,
			"guess_qualifiers": guessQual,
			"mismatch":         mismatch,
		},
	}
	if mismatch {
		result.Score = 1
	}
	return result
}

func matchedPatterns(patterns []*regexp.Regexp, text string) []string {
	hits := []string{}
	for _, pattern := range patterns {
		if pattern.MatchString(text) {
			hits = append(hits, pattern.String())
		}
	}
	return hits
}

// specificityGate flags trivially short guesses, but only when the guess
// also fails to recover the theme's key concepts: a two-word guess that
// nails the keywords is not penalized.
func (r *Ruleset) specificityGate(rawGuess string, keywordOverlap float64, cfg LexicalConfig) SignalResult {
	tokenCount := len(r.contentTokens(rawGuess))
	trivial := tokenCount <= cfg.TrivialTokenMax && keywordOverlap < cfg.TrivialOverlapMin

	result := SignalResult{
		Name:      SignalSpecificity,
		Available: true,
		Details: map[string]any{
			"content_token_count": tokenCount,
			"keyword_overlap":     keywordOverlap,
			"trivial":             trivial,
		},
	}
	if trivial {
		result.Score = 1
	}
	return result
}
