package match

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestParseCaseBankEnvelopeAndLegacy(t *testing.T) {
	envelope := []byte(`{"version":"2026-08","name":"weekly","cases":[{"theme":"a","guess":"b","expect_match":true}]}`)
	bank, err := ParseCaseBank(envelope)
	if err != nil {
		t.Fatalf("ParseCaseBank envelope: %v", err)
	}
	if bank.Name != "weekly" || len(bank.Cases) != 1 || !bank.Cases[0].Expect {
		t.Fatalf("unexpected bank: %+v", bank)
	}

	legacy := []byte(`[{"theme":"a","guess":"b","expect_match":false}]`)
	bank, err = ParseCaseBank(legacy)
	if err != nil {
		t.Fatalf("ParseCaseBank legacy: %v", err)
	}
	if len(bank.Cases) != 1 || bank.Cases[0].Expect {
		t.Fatalf("unexpected legacy bank: %+v", bank)
	}

	if _, err := ParseCaseBank([]byte(`{"cases":[]}`)); err == nil {
		t.Fatalf("empty bank must be rejected")
	}
	if _, err := ParseCaseBank([]byte(`not json`)); err == nil {
		t.Fatalf("garbage must be rejected")
	}
}

func TestLoadCaseBankNamesAfterFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "smoke-bank.json")
	doc := []byte(`[{"theme":"shades of blue","guess":"blue tones","expect_match":true}]`)
	if err := os.WriteFile(path, doc, 0o600); err != nil {
		t.Fatalf("write bank: %v", err)
	}
	bank, err := LoadCaseBank(path)
	if err != nil {
		t.Fatalf("LoadCaseBank: %v", err)
	}
	if bank.Name != "smoke-bank" {
		t.Fatalf("bank name = %q", bank.Name)
	}
}

func TestRunReplayComparesConfigsSideBySide(t *testing.T) {
	client := &stubClient{
		similarity: 0.77,
		entailment: EntailmentScores{Entailment: 0.55, Neutral: 0.35, Contradiction: 0.10},
	}
	bank := CaseBank{
		Name: "unit",
		Cases: []LabeledCase{
			{Theme: "animals that live underwater", Guess: "underwater animals", Expect: true},
			{Theme: "animals that live underwater", Guess: "famous painters", Expect: false},
			{Theme: "animals that live underwater", Guess: "  ", Expect: false},
		},
	}

	relaxed := DefaultConfig()
	strict := DefaultConfig()
	strict.ConfigVersion = "strict-experiment"
	strict.Thresholds.HybridFinalMin = 0.70

	report, err := RunReplay(context.Background(), client, bank, []Config{relaxed, strict})
	if err != nil {
		t.Fatalf("RunReplay: %v", err)
	}
	if report.CaseCount != 3 || len(report.Outcomes) != 2 {
		t.Fatalf("unexpected report shape: %+v", report)
	}

	base := report.Outcomes[0]
	if base.ConfigVersion != relaxed.ConfigVersion {
		t.Fatalf("outcome order lost: %q", base.ConfigVersion)
	}
	if base.Correct != 2 || base.InputErrors != 1 {
		t.Fatalf("relaxed outcome: %+v", base)
	}

	// The stricter threshold turns the matching case into a false negative.
	tightened := report.Outcomes[1]
	if tightened.FalseNegatives != 1 || tightened.Correct != 1 {
		t.Fatalf("strict outcome: %+v", tightened)
	}
	if tightened.Accuracy >= base.Accuracy {
		t.Fatalf("accuracy %f should fall below baseline %f", tightened.Accuracy, base.Accuracy)
	}
}

func TestRunReplayRequiresConfigs(t *testing.T) {
	if _, err := RunReplay(context.Background(), &stubClient{}, CaseBank{}, nil); err == nil {
		t.Fatalf("expected error for empty config list")
	}
}

func TestCompareWithBaselineDriftLevels(t *testing.T) {
	baseline := ReplayReport{Outcomes: []ConfigOutcome{{ConfigVersion: "v1", Accuracy: 0.90}}}

	steady := ReplayReport{Outcomes: []ConfigOutcome{{ConfigVersion: "v1", Accuracy: 0.91}}}
	if result := CompareWithBaseline(steady, baseline); result.Status != DriftPass {
		t.Fatalf("improvement flagged as drift: %+v", result)
	}

	slipped := ReplayReport{Outcomes: []ConfigOutcome{{ConfigVersion: "v1", Accuracy: 0.86}}}
	if result := CompareWithBaseline(slipped, baseline); result.Status != DriftWarn {
		t.Fatalf("0.04 accuracy drop should warn: %+v", result)
	}

	broken := ReplayReport{Outcomes: []ConfigOutcome{{ConfigVersion: "v1", Accuracy: 0.80}}}
	if result := CompareWithBaseline(broken, baseline); result.Status != DriftFail {
		t.Fatalf("0.10 accuracy drop should fail: %+v", result)
	}

	unknown := ReplayReport{Outcomes: []ConfigOutcome{{ConfigVersion: "v2", Accuracy: 0.90}}}
	if result := CompareWithBaseline(unknown, baseline); result.Status != DriftWarn {
		t.Fatalf("missing baseline config should warn: %+v", result)
	}
}
