package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"theme-judge/internal/inference"
	"theme-judge/internal/match"
)

func main() {
	baseURL := flag.String("base-url", envOr("JUDGE_BASE_URL", "https://api-inference.huggingface.co"), "Hosted inference base URL")
	token := flag.String("token", envOr("JUDGE_API_TOKEN", ""), "Bearer token for the inference endpoint")
	configPath := flag.String("config", "", "Path to scoring config YAML/JSON (defaults used when empty)")
	theme := flag.String("theme", "", "Target theme phrase to judge against")
	guess := flag.String("guess", "", "Player guess text")
	bankPath := flag.String("bank", "", "Path to a labeled case bank JSON; runs replay mode instead of single scoring")
	extraConfigs := flag.String("candidate-configs", "", "Comma-separated extra scoring config paths replayed alongside -config")
	baselineInPath := flag.String("baseline-in", "", "Load baseline replay report JSON and run drift comparison")
	baselineOutPath := flag.String("baseline-out", "", "Write current replay report as future baseline JSON")
	outputPath := flag.String("out", "", "Write full result JSON to this file")
	timeout := flag.Duration("timeout", 2*time.Minute, "Overall deadline for the invocation")
	format := flag.String("format", "text", "Output format: text|json")
	verbose := flag.Bool("verbose", false, "Include per-signal diagnostics in text output")
	strict := flag.Bool("strict", false, "Exit non-zero on no-match, degraded scoring, or drift warn/fail")
	flag.Parse()

	if strings.TrimSpace(*token) == "" {
		exitWith("JUDGE_API_TOKEN or -token is required")
	}

	cfg, err := match.LoadConfig(*configPath)
	if err != nil {
		exitWith("failed to load scoring config: " + err.Error())
	}
	client := inference.NewClient(cfg.ClientConfig(*baseURL, *token))

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if strings.TrimSpace(*bankPath) != "" {
		runReplayMode(ctx, client, cfg, replayOptions{
			BankPath:        *bankPath,
			ExtraConfigs:    *extraConfigs,
			BaselineInPath:  *baselineInPath,
			BaselineOutPath: *baselineOutPath,
			OutputPath:      *outputPath,
			Format:          *format,
			Strict:          *strict,
		})
		return
	}

	if strings.TrimSpace(*theme) == "" || strings.TrimSpace(*guess) == "" {
		exitWith("-theme and -guess are required (or -bank for replay mode)")
	}

	scorer, err := match.NewScorer(cfg, client)
	if err != nil {
		exitWith("failed to build scorer: " + err.Error())
	}
	result, err := scorer.Score(ctx, *theme, *guess)
	if err != nil {
		if inputErr, ok := match.IsInputError(err); ok {
			exitWith("invalid input: " + inputErr.Error())
		}
		exitWith("scoring failed: " + err.Error())
	}

	switch strings.ToLower(strings.TrimSpace(*format)) {
	case "json":
		printJSON(result)
	default:
		printScoreText(result, *verbose)
	}
	if strings.TrimSpace(*outputPath) != "" {
		if err := writeJSON(*outputPath, result); err != nil {
			exitWith("failed to write result: " + err.Error())
		}
	}
	if *strict && (!result.IsMatch || result.Diagnostics.Degraded) {
		os.Exit(1)
	}
}

type replayOptions struct {
	BankPath        string
	ExtraConfigs    string
	BaselineInPath  string
	BaselineOutPath string
	OutputPath      string
	Format          string
	Strict          bool
}

func runReplayMode(ctx context.Context, client *inference.Client, cfg match.Config, opts replayOptions) {
	bank, err := match.LoadCaseBank(opts.BankPath)
	if err != nil {
		exitWith("failed to load case bank: " + err.Error())
	}

	configs := []match.Config{cfg}
	seen := map[string]bool{cfg.ConfigVersion: true}
	for _, path := range splitList(opts.ExtraConfigs) {
		extra, err := match.LoadConfig(path)
		if err != nil {
			exitWith("failed to load candidate config " + path + ": " + err.Error())
		}
		if seen[extra.ConfigVersion] {
			exitWith("duplicate config_version across candidate configs: " + extra.ConfigVersion)
		}
		seen[extra.ConfigVersion] = true
		configs = append(configs, extra)
	}

	report, err := match.RunReplay(ctx, client, bank, configs)
	if err != nil {
		exitWith("replay failed: " + err.Error())
	}

	var drift *match.DriftResult
	if strings.TrimSpace(opts.BaselineInPath) != "" {
		baseline, err := readReport(opts.BaselineInPath)
		if err != nil {
			exitWith("failed to read baseline report: " + err.Error())
		}
		result := match.CompareWithBaseline(report, baseline)
		drift = &result
	}

	switch strings.ToLower(strings.TrimSpace(opts.Format)) {
	case "json":
		printJSON(struct {
			Report match.ReplayReport `json:"report"`
			Drift  *match.DriftResult `json:"drift,omitempty"`
		}{report, drift})
	default:
		printReplayText(report, drift)
	}

	if strings.TrimSpace(opts.OutputPath) != "" {
		if err := writeJSON(opts.OutputPath, report); err != nil {
			exitWith("failed to write report: " + err.Error())
		}
	}
	if strings.TrimSpace(opts.BaselineOutPath) != "" {
		if err := writeJSON(opts.BaselineOutPath, report); err != nil {
			exitWith("failed to write baseline report: " + err.Error())
		}
	}
	if opts.Strict && drift != nil && drift.Status != match.DriftPass {
		os.Exit(1)
	}
}

func printScoreText(result match.Result, verbose bool) {
	verdict := "NO MATCH"
	if result.IsMatch {
		verdict = "MATCH"
	}
	fmt.Printf("%s score=%.4f branch=%s config=%s\n",
		verdict, result.Score, result.Diagnostics.Branch, result.Diagnostics.ConfigVersion)
	if len(result.MatchedSignals) > 0 {
		fmt.Printf("matched signals: %s\n", strings.Join(result.MatchedSignals, ","))
	}
	if result.Diagnostics.Degraded {
		fmt.Println("degraded: one or more remote signals were unavailable")
	}
	if verbose {
		for _, signal := range result.Diagnostics.Signals {
			status := "ok"
			if !signal.Available {
				status = "unavailable"
			}
			fmt.Printf("  %-12s %.4f (%s)", signal.Name, signal.Score, status)
			if signal.Error != "" {
				fmt.Printf(" error=%s", signal.Error)
			}
			fmt.Println()
		}
		for _, line := range result.Diagnostics.Trace {
			fmt.Printf("  trace: %s\n", line)
		}
	}
}

func printReplayText(report match.ReplayReport, drift *match.DriftResult) {
	fmt.Printf("Bank: %s (%d cases)\n", report.Bank, report.CaseCount)
	fmt.Printf("Generated: %s\n\n", report.GeneratedAt)
	for _, outcome := range report.Outcomes {
		fmt.Printf("[%s] accuracy=%.4f correct=%d/%d fp=%d fn=%d degraded=%d input_errors=%d\n",
			outcome.ConfigVersion, outcome.Accuracy, outcome.Correct, outcome.Total,
			outcome.FalsePositives, outcome.FalseNegatives, outcome.DegradedCount, outcome.InputErrors)
	}
	if drift != nil {
		fmt.Printf("\nDrift vs baseline: [%s] %s\n", strings.ToUpper(string(drift.Status)), drift.Summary)
		for _, finding := range drift.Findings {
			fmt.Printf("  - %s\n", finding)
		}
	}
}

func splitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}

func envOr(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func printJSON(value any) {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		exitWith("failed to encode JSON: " + err.Error())
	}
	fmt.Println(string(data))
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Clean(path), data, 0o644)
}

func readReport(path string) (match.ReplayReport, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return match.ReplayReport{}, err
	}
	var report match.ReplayReport
	if err := json.Unmarshal(data, &report); err != nil {
		return match.ReplayReport{}, err
	}
	return report, nil
}

func exitWith(message string) {
	fmt.Fprintln(os.Stderr, "error:", message)
	os.Exit(2)
}
