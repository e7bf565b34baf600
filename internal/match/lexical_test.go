package match

import "testing"

func compiledRules(t *testing.T) *Ruleset {
	t.Helper()
	rules, err := compileRuleset(DefaultConfig().Lexical)
	if err != nil {
		t.Fatalf("compileRuleset: %v", err)
	}
	return rules
}

func TestContentTokensDropsStopWordsAndPunctuation(t *testing.T) {
	rules := compiledRules(t)
	tokens := rules.contentTokens("words that are both nouns, and verbs!")
	want := []string{"both", "nouns", "verbs"}
	if len(tokens) != len(want) {
		t.Fatalf("tokens = %v, want %v", tokens, want)
	}
	for i := range want {
		if tokens[i] != want[i] {
			t.Fatalf("tokens = %v, want %v", tokens, want)
		}
	}
}

func TestKeywordOverlapTiers(t *testing.T) {
	rules := compiledRules(t)
	cases := []struct {
		name  string
		theme string
		guess string
		want  float64
	}{
		{"exact", "ocean creatures", "ocean creatures", 1.0},
		// "painted"/"painting" agree only after suffix stripping.
		{"stem", "ocean painting", "ocean painted", (1.0 + 0.9) / 2},
		// "both" resolves through the synonym table to "dual".
		{"synonym", "both nouns", "dual nouns", (0.6 + 1.0) / 2},
		{"disjoint", "ocean creatures", "famous painters", 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			signal := rules.keywordOverlap(tc.theme, tc.guess)
			if !almostEqual(signal.Score, tc.want) {
				t.Fatalf("overlap(%q, %q) = %.4f, want %.4f details=%v",
					tc.theme, tc.guess, signal.Score, tc.want, signal.Details)
			}
		})
	}
}

func TestStemStripsCommonSuffixes(t *testing.T) {
	cases := map[string]string{
		"running": "runn",
		"noun":    "noun",
		"verbs":   "verb",
		"cities":  "cit",
		"happier": "happi",
		"ab":      "ab", // too short to strip
	}
	for in, want := range cases {
		if got := stem(in); got != want {
			t.Errorf("stem(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNegationMismatchFiresOnOneSidedQualifier(t *testing.T) {
	rules := compiledRules(t)

	signal := rules.negationMismatch("animals that can fly", "animals that do not fly")
	if signal.Score != 1 {
		t.Fatalf("expected negation mismatch, details=%v", signal.Details)
	}

	signal = rules.negationMismatch("words that do not rhyme", "non rhyming words")
	if signal.Score != 0 {
		t.Fatalf("both sides negated, expected no mismatch, details=%v", signal.Details)
	}

	signal = rules.negationMismatch("colors of the rainbow", "begins with r")
	if signal.Score != 1 {
		t.Fatalf("expected qualifier mismatch on surface-pattern guess, details=%v", signal.Details)
	}
}

func TestSpecificityGateRejectsTrivialGuesses(t *testing.T) {
	rules := compiledRules(t)
	cfg := DefaultConfig()

	keyword := rules.keywordOverlap("animals that live underwater", "stuff")
	signal := rules.specificityGate("stuff", keyword.Score, cfg.Lexical)
	if signal.Score != 1 {
		t.Fatalf("one vague token must trip the gate, details=%v", signal.Details)
	}

	// Short but on-topic: high overlap keeps the gate open.
	keyword = rules.keywordOverlap("animals that live underwater", "underwater animals")
	signal = rules.specificityGate("underwater animals", keyword.Score, cfg.Lexical)
	if signal.Score != 0 {
		t.Fatalf("short high-overlap guess wrongly gated, details=%v", signal.Details)
	}
}
