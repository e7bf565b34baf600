package match

// Signal names as they appear in diagnostics and matched_signals.
const (
	SignalKeyword     = "keyword"
	SignalNegation    = "negation"
	SignalSpecificity = "specificity"
	SignalEmbedding   = "embedding"
	SignalEntailment  = "entailment"
)

// Policy branches recorded in Diagnostics.Branch.
const (
	BranchContradictionOverride = "contradiction_override"
	BranchFastPass              = "fast_pass"
	BranchFusion                = "weighted_fusion"
	BranchLexicalFallback       = "lexical_fallback"
)

// SignalResult is the immutable outcome of one evidence source. Remote
// signals that failed carry Available=false and the failure text; the
// request as a whole still completes.
type SignalResult struct {
	Name      string         `json:"name"`
	Score     float64        `json:"score"`
	Available bool           `json:"available"`
	Details   map[string]any `json:"details,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// EntailmentScores is the bidirectionally merged NLI triplet. Each direction
// is normalized to sum 1 before merging.
type EntailmentScores struct {
	Entailment    float64 `json:"entailment"`
	Neutral       float64 `json:"neutral"`
	Contradiction float64 `json:"contradiction"`
}

type Diagnostics struct {
	ConfigVersion string         `json:"config_version"`
	Branch        string         `json:"branch"`
	Degraded      bool           `json:"degraded"`
	Signals       []SignalResult `json:"signals"`
	Trace         []string       `json:"trace"`
	DurationMS    int64          `json:"duration_ms"`
}

// Result is the verdict for one (theme, guess) pair. Constructed once by the
// policy engine and never mutated; persistence is the caller's concern.
type Result struct {
	IsMatch        bool        `json:"is_match"`
	Score          float64     `json:"score"`
	MatchedSignals []string    `json:"matched_signals"`
	Diagnostics    Diagnostics `json:"diagnostics"`
}

// TextViews holds the three parallel views of one (theme, guess) pair:
// RAW for lexical signals, PROCESSED for embedding comparison, and the two
// premise/hypothesis orderings for the direction-sensitive entailment model.
type TextViews struct {
	RawTheme          string
	RawGuess          string
	ProcessedTheme    string
	ProcessedGuess    string
	ForwardPremise    string
	ForwardHypothesis string
	ReversePremise    string
	ReverseHypothesis string
}
