package match

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type DriftStatus string

const (
	DriftPass DriftStatus = "pass"
	DriftWarn DriftStatus = "warn"
	DriftFail DriftStatus = "fail"
)

type LabeledCase struct {
	Theme  string `json:"theme"`
	Guess  string `json:"guess"`
	Expect bool   `json:"expect_match"`
	Note   string `json:"note,omitempty"`
}

type CaseBank struct {
	Version string        `json:"version,omitempty"`
	Name    string        `json:"name,omitempty"`
	Source  string        `json:"source,omitempty"`
	Cases   []LabeledCase `json:"cases"`
}

// LoadCaseBank reads a labeled bank from JSON, accepting both the envelope
// schema and a legacy bare array of cases.
func LoadCaseBank(path string) (CaseBank, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return CaseBank{}, fmt.Errorf("read case bank: %w", err)
	}
	bank, err := ParseCaseBank(data)
	if err != nil {
		return CaseBank{}, err
	}
	if bank.Name == "" {
		bank.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return bank, nil
}

func ParseCaseBank(data []byte) (CaseBank, error) {
	var envelope CaseBank
	if err := json.Unmarshal(data, &envelope); err == nil && len(envelope.Cases) > 0 {
		return envelope, nil
	}
	var legacy []LabeledCase
	if err := json.Unmarshal(data, &legacy); err != nil {
		return CaseBank{}, fmt.Errorf("decode case bank: %w", err)
	}
	if len(legacy) == 0 {
		return CaseBank{}, fmt.Errorf("case bank contains no cases")
	}
	return CaseBank{Cases: legacy}, nil
}

type CaseOutcome struct {
	Theme    string  `json:"theme"`
	Guess    string  `json:"guess"`
	Expected bool    `json:"expected"`
	Actual   bool    `json:"actual"`
	Score    float64 `json:"score"`
	Branch   string  `json:"branch"`
	Degraded bool    `json:"degraded"`
	Error    string  `json:"error,omitempty"`
}

type ConfigOutcome struct {
	ConfigVersion  string        `json:"config_version"`
	Total          int           `json:"total"`
	Correct        int           `json:"correct"`
	FalsePositives int           `json:"false_positives"`
	FalseNegatives int           `json:"false_negatives"`
	DegradedCount  int           `json:"degraded_count"`
	InputErrors    int           `json:"input_errors"`
	Accuracy       float64       `json:"accuracy"`
	Cases          []CaseOutcome `json:"cases"`
}

type ReplayReport struct {
	GeneratedAt string          `json:"generated_at"`
	Bank        string          `json:"bank"`
	CaseCount   int             `json:"case_count"`
	Outcomes    []ConfigOutcome `json:"outcomes"`
}

// RunReplay replays every labeled case against each candidate config so
// threshold changes can be evaluated side by side without redeploying.
func RunReplay(ctx context.Context, client ModelClient, bank CaseBank, configs []Config) (ReplayReport, error) {
	if len(configs) == 0 {
		return ReplayReport{}, fmt.Errorf("no configs to replay against")
	}
	report := ReplayReport{
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		Bank:        bank.Name,
		CaseCount:   len(bank.Cases),
		Outcomes:    make([]ConfigOutcome, 0, len(configs)),
	}
	for _, cfg := range configs {
		scorer, err := NewScorer(cfg, client)
		if err != nil {
			return ReplayReport{}, err
		}
		outcome := ConfigOutcome{
			ConfigVersion: cfg.ConfigVersion,
			Total:         len(bank.Cases),
			Cases:         make([]CaseOutcome, 0, len(bank.Cases)),
		}
		for _, labeled := range bank.Cases {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			caseOutcome := CaseOutcome{
				Theme:    labeled.Theme,
				Guess:    labeled.Guess,
				Expected: labeled.Expect,
			}
			result, err := scorer.Score(ctx, labeled.Theme, labeled.Guess)
			if err != nil {
				caseOutcome.Error = err.Error()
				outcome.InputErrors++
			} else {
				caseOutcome.Actual = result.IsMatch
				caseOutcome.Score = result.Score
				caseOutcome.Branch = result.Diagnostics.Branch
				caseOutcome.Degraded = result.Diagnostics.Degraded
				if result.Diagnostics.Degraded {
					outcome.DegradedCount++
				}
				switch {
				case result.IsMatch == labeled.Expect:
					outcome.Correct++
				case result.IsMatch:
					outcome.FalsePositives++
				default:
					outcome.FalseNegatives++
				}
			}
			outcome.Cases = append(outcome.Cases, caseOutcome)
		}
		if outcome.Total > 0 {
			outcome.Accuracy = float64(outcome.Correct) / float64(outcome.Total)
		}
		report.Outcomes = append(report.Outcomes, outcome)
	}
	return report, nil
}

type driftSpec struct {
	Metric  string
	WarnAbs float64
	FailAbs float64
	WarnRel float64
	FailRel float64
}

type DriftResult struct {
	Status   DriftStatus        `json:"status"`
	Summary  string             `json:"summary"`
	Findings []string           `json:"findings"`
	Deltas   map[string]float64 `json:"deltas"`
}

// CompareWithBaseline guards replay accuracy against silent regression when
// thresholds move: per config version, accuracy drops are checked against
// absolute and relative warn/fail bounds.
func CompareWithBaseline(current, baseline ReplayReport) DriftResult {
	result := DriftResult{
		Status:   DriftPass,
		Summary:  "No significant accuracy drift vs baseline",
		Findings: []string{},
		Deltas:   map[string]float64{},
	}
	specs := driftSpec{Metric: "accuracy", WarnAbs: 0.03, FailAbs: 0.08, WarnRel: 0.05, FailRel: 0.12}

	baselineByVersion := map[string]ConfigOutcome{}
	for _, outcome := range baseline.Outcomes {
		baselineByVersion[outcome.ConfigVersion] = outcome
	}

	warnCount := 0
	failCount := 0
	missing := 0
	for _, outcome := range current.Outcomes {
		base, ok := baselineByVersion[outcome.ConfigVersion]
		if !ok {
			missing++
			result.Findings = append(result.Findings, "no baseline outcome for config "+outcome.ConfigVersion)
			continue
		}
		delta := outcome.Accuracy - base.Accuracy
		result.Deltas[outcome.ConfigVersion] = delta
		degradeAbs := math.Max(0, base.Accuracy-outcome.Accuracy)
		den := math.Abs(base.Accuracy)
		if den < 1e-9 {
			den = 1.0
		}
		degradeRel := degradeAbs / den

		level := "pass"
		if degradeAbs >= specs.FailAbs || degradeRel >= specs.FailRel {
			level = "fail"
			failCount++
		} else if degradeAbs >= specs.WarnAbs || degradeRel >= specs.WarnRel {
			level = "warn"
			warnCount++
		}
		result.Findings = append(result.Findings, fmt.Sprintf(
			"%s accuracy current=%.4f baseline=%.4f delta=%.4f level=%s",
			outcome.ConfigVersion, outcome.Accuracy, base.Accuracy, delta, level,
		))
	}

	switch {
	case failCount > 0:
		result.Status = DriftFail
		result.Summary = "Significant accuracy regression vs baseline"
	case warnCount > 0 || missing > 0:
		result.Status = DriftWarn
		result.Summary = "Minor accuracy drift or partial baseline coverage"
	}
	return result
}
