package server

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"theme-judge/internal/inference"
	"theme-judge/internal/match"
)

// ReplayManager owns the scoring configs, the interactive scoring path, and
// the queued replay runs that evaluate config candidates against labeled
// case banks.
type ReplayManager struct {
	cfg            ServerConfig
	store          Store
	tokens         *TokenPool
	obs            *Observability
	configs        map[string]match.Config
	defaultVersion string
	queue          chan queuedReplay
	wg             sync.WaitGroup
	scoreLimit     *ipRateLimiter
}

type ReplayService interface {
	ScoreOnce(ctx context.Context, request ScoreRequest, ipHash string) (ScoreResponse, error)
	CreateReplayRun(request ReplayRequest, principal Principal, source string) (RunMeta, error)
	ConfigVersions() []string
}

type queuedReplay struct {
	RunID   string
	Request ReplayRequest
	Creator Principal
	Source  string
}

var errScoreRateLimited = errors.New("score rate limit reached")

func NewReplayManager(cfg ServerConfig, store Store, tokens *TokenPool, obs *Observability) (*ReplayManager, error) {
	defaultCfg, err := match.LoadConfig(cfg.Scoring.DefaultPath)
	if err != nil {
		return nil, fmt.Errorf("load default scoring config: %w", err)
	}
	configs := map[string]match.Config{defaultCfg.ConfigVersion: defaultCfg}
	for _, path := range cfg.Scoring.ExtraPaths {
		extra, err := match.LoadConfig(path)
		if err != nil {
			return nil, fmt.Errorf("load scoring config %s: %w", path, err)
		}
		if _, exists := configs[extra.ConfigVersion]; exists {
			return nil, fmt.Errorf("duplicate config_version %q in %s", extra.ConfigVersion, path)
		}
		configs[extra.ConfigVersion] = extra
	}

	maxParallel := cfg.Replay.MaxParallelRuns
	if maxParallel <= 0 {
		maxParallel = 2
	}
	manager := &ReplayManager{
		cfg:            cfg,
		store:          store,
		tokens:         tokens,
		obs:            obs,
		configs:        configs,
		defaultVersion: defaultCfg.ConfigVersion,
		queue:          make(chan queuedReplay, maxParallel*8),
		scoreLimit:     newIPRateLimiter(cfg.Limits.ScoreRPM),
	}
	for i := 0; i < maxParallel; i++ {
		manager.wg.Add(1)
		go func() {
			defer manager.wg.Done()
			manager.worker()
		}()
	}
	return manager, nil
}

func (m *ReplayManager) Shutdown() {
	close(m.queue)
	m.wg.Wait()
}

func (m *ReplayManager) ConfigVersions() []string {
	versions := make([]string, 0, len(m.configs))
	for version := range m.configs {
		versions = append(versions, version)
	}
	sort.Strings(versions)
	return versions
}

// ScoreOnce serves one interactive theme/guess verdict. Each request leases
// an inference token for its three outbound model calls.
func (m *ReplayManager) ScoreOnce(ctx context.Context, request ScoreRequest, ipHash string) (ScoreResponse, error) {
	if !m.scoreLimit.Allow(ipHash) {
		if m.obs != nil {
			m.obs.MarkQuotaBlocked(ctx, "score_rate_limit")
		}
		return ScoreResponse{}, errScoreRateLimited
	}
	cfg, err := m.resolveConfig(request.ConfigVersion)
	if err != nil {
		return ScoreResponse{}, err
	}
	lease, err := m.tokens.Acquire(3)
	if err != nil {
		if m.obs != nil {
			m.obs.MarkQuotaBlocked(ctx, "token_unavailable")
		}
		return ScoreResponse{}, fmt.Errorf("inference token unavailable: %w", err)
	}
	scorer, err := match.NewScorer(cfg, inference.NewClient(cfg.ClientConfig(m.cfg.Inference.BaseURL, lease.Token)))
	if err != nil {
		m.tokens.Reject(lease)
		return ScoreResponse{}, err
	}
	result, err := scorer.Score(ctx, request.Theme, request.Guess)
	if err != nil {
		m.tokens.Reject(lease)
		return ScoreResponse{}, err
	}
	m.tokens.Commit(lease, TokenUsageRecord{TokenLabel: lease.Label, ModelCalls: 3})
	if m.obs != nil {
		m.obs.MarkScore(ctx, result.Diagnostics.Branch, result.IsMatch, result.Diagnostics.DurationMS)
		if result.Diagnostics.Degraded {
			for _, signal := range result.Diagnostics.Signals {
				if !signal.Available {
					m.obs.MarkDegraded(ctx, signal.Name)
				}
			}
		}
	}
	response := ScoreResponse{
		IsMatch:        result.IsMatch,
		Score:          result.Score,
		MatchedSignals: result.MatchedSignals,
		ConfigVersion:  result.Diagnostics.ConfigVersion,
		Degraded:       result.Diagnostics.Degraded,
	}
	if request.Verbose {
		diagnostics := result.Diagnostics
		response.Diagnostics = &diagnostics
	}
	return response, nil
}

func (m *ReplayManager) CreateReplayRun(request ReplayRequest, principal Principal, source string) (RunMeta, error) {
	if strings.TrimSpace(request.Bank) == "" && len(request.Cases) == 0 {
		return RunMeta{}, errors.New("bank or inline cases required")
	}
	if len(request.Cases) > m.cfg.Replay.MaxInlineCases {
		return RunMeta{}, fmt.Errorf("inline case count %d exceeds limit %d", len(request.Cases), m.cfg.Replay.MaxInlineCases)
	}
	if request.TimeoutSec <= 0 {
		request.TimeoutSec = m.cfg.Replay.DefaultTimeoutSec
	}
	if _, err := m.resolveRunConfigs(request); err != nil {
		return RunMeta{}, err
	}
	runID, err := randomID("replay")
	if err != nil {
		return RunMeta{}, err
	}
	meta := RunMeta{
		RunID:       runID,
		Status:      "queued",
		Source:      source,
		CreatorType: "admin",
		CreatorSub:  principal.Subject,
		Request:     request,
		CreatedAt:   nowRFC3339(),
	}
	if err := m.store.CreateRun(meta); err != nil {
		return RunMeta{}, err
	}
	_, _ = m.store.AppendRunEvent(runID, "queue", "replay queued", map[string]any{
		"bank":         request.Bank,
		"inline_cases": len(request.Cases),
	})
	_ = m.store.AppendAudit(AuditEvent{
		Timestamp: nowRFC3339(),
		RunID:     runID,
		ActorType: "admin",
		ActorSub:  principal.Subject,
		Action:    "replay.create",
		Result:    "queued",
	})
	m.queue <- queuedReplay{
		RunID:   runID,
		Request: request,
		Creator: principal,
		Source:  source,
	}
	return meta, nil
}

func (m *ReplayManager) worker() {
	for queued := range m.queue {
		m.executeReplay(queued)
	}
}

func (m *ReplayManager) executeReplay(queued queuedReplay) {
	startedAt := nowRFC3339()
	_, _ = m.store.UpdateRun(queued.RunID, func(meta *RunMeta) {
		meta.Status = "running"
		meta.StartedAt = startedAt
	})
	_, _ = m.store.AppendRunEvent(queued.RunID, "start", "replay started", nil)

	bank, err := m.loadBank(queued.Request)
	if err != nil {
		m.failRun(queued, "load case bank", err)
		return
	}
	configs, err := m.resolveRunConfigs(queued.Request)
	if err != nil {
		m.failRun(queued, "resolve configs", err)
		return
	}
	_, _ = m.store.AppendRunEvent(queued.RunID, "bank_loaded", "case bank loaded", map[string]any{
		"bank":    bank.Name,
		"cases":   len(bank.Cases),
		"configs": len(configs),
	})

	expectedCalls := estimateModelCalls(len(bank.Cases), len(configs))
	lease, err := m.tokens.Acquire(expectedCalls)
	if err != nil {
		if m.obs != nil {
			m.obs.MarkQuotaBlocked(context.Background(), "token_unavailable")
		}
		_, _ = m.store.UpdateRun(queued.RunID, func(meta *RunMeta) {
			meta.Status = "failed"
			meta.Error = "inference token unavailable: " + err.Error()
			meta.FinishedAt = nowRFC3339()
			meta.TokenUsage = TokenUsageRecord{
				RunID:         queued.RunID,
				BlockedReason: "token_unavailable",
			}
		})
		_, _ = m.store.AppendRunEvent(queued.RunID, "error", "inference token unavailable", map[string]any{"error": err.Error()})
		if m.obs != nil {
			m.obs.MarkReplay(context.Background(), "failed")
		}
		return
	}

	timeout := time.Duration(queued.Request.TimeoutSec) * time.Second
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// Every config candidate shares the leased token; the first candidate's
	// network section decides retry behavior.
	client := inference.NewClient(configs[0].ClientConfig(m.cfg.Inference.BaseURL, lease.Token))
	report, err := match.RunReplay(ctx, client, bank, configs)
	if err != nil {
		m.tokens.Reject(lease)
		m.failRun(queued, "replay", err)
		return
	}

	usage := TokenUsageRecord{
		RunID:      queued.RunID,
		TokenLabel: lease.Label,
		ModelCalls: actualModelCalls(report),
	}
	m.tokens.Commit(lease, usage)

	for _, outcome := range report.Outcomes {
		_, _ = m.store.AppendRunEvent(queued.RunID, "config_result", "config replayed", map[string]any{
			"config_version":  outcome.ConfigVersion,
			"accuracy":        outcome.Accuracy,
			"false_positives": outcome.FalsePositives,
			"false_negatives": outcome.FalseNegatives,
			"degraded_cases":  outcome.DegradedCount,
		})
	}

	drift := m.compareBaseline(queued, report)
	status := "completed"
	_, _ = m.store.UpdateRun(queued.RunID, func(meta *RunMeta) {
		meta.Status = status
		meta.FinishedAt = nowRFC3339()
		meta.Report = &report
		meta.Drift = drift
		meta.TokenUsage = usage
	})
	_, _ = m.store.AppendRunEvent(queued.RunID, "completed", "replay completed", map[string]any{
		"status":      status,
		"model_calls": usage.ModelCalls,
	})
	_ = m.store.AppendAudit(AuditEvent{
		Timestamp: nowRFC3339(),
		RunID:     queued.RunID,
		ActorType: "admin",
		ActorSub:  queued.Creator.Subject,
		Action:    "replay.completed",
		Result:    status,
		Detail:    fmt.Sprintf("calls=%d token=%s", usage.ModelCalls, lease.Label),
	})
	if m.obs != nil {
		m.obs.MarkReplay(ctx, status)
	}
}

func (m *ReplayManager) failRun(queued queuedReplay, stage string, err error) {
	_, _ = m.store.UpdateRun(queued.RunID, func(meta *RunMeta) {
		meta.Status = "failed"
		meta.Error = stage + ": " + err.Error()
		meta.FinishedAt = nowRFC3339()
	})
	_, _ = m.store.AppendRunEvent(queued.RunID, "error", stage+" failed", map[string]any{"error": err.Error()})
	if m.obs != nil {
		m.obs.MarkReplay(context.Background(), "failed")
	}
}

func (m *ReplayManager) loadBank(request ReplayRequest) (match.CaseBank, error) {
	if len(request.Cases) > 0 {
		name := strings.TrimSpace(request.Bank)
		if name == "" {
			name = "inline"
		}
		return match.CaseBank{Name: name, Cases: request.Cases}, nil
	}
	name := strings.TrimSpace(request.Bank)
	if name != filepath.Base(name) || strings.Contains(name, "..") {
		return match.CaseBank{}, errors.New("bank name must be a bare file name")
	}
	return match.LoadCaseBank(filepath.Join(m.cfg.Scoring.BankDir, name+".json"))
}

func (m *ReplayManager) resolveConfig(version string) (match.Config, error) {
	if strings.TrimSpace(version) == "" {
		version = m.defaultVersion
	}
	cfg, ok := m.configs[version]
	if !ok {
		return match.Config{}, fmt.Errorf("unknown config_version: %s", version)
	}
	return cfg, nil
}

func (m *ReplayManager) resolveRunConfigs(request ReplayRequest) ([]match.Config, error) {
	out := make([]match.Config, 0, len(request.ConfigVersions)+len(request.Configs))
	seen := map[string]bool{}
	for _, version := range request.ConfigVersions {
		cfg, err := m.resolveConfig(version)
		if err != nil {
			return nil, err
		}
		if seen[cfg.ConfigVersion] {
			continue
		}
		seen[cfg.ConfigVersion] = true
		out = append(out, cfg)
	}
	for _, cfg := range request.Configs {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		if seen[cfg.ConfigVersion] {
			return nil, fmt.Errorf("duplicate config_version in request: %s", cfg.ConfigVersion)
		}
		seen[cfg.ConfigVersion] = true
		out = append(out, cfg)
	}
	if len(out) == 0 {
		cfg, err := m.resolveConfig("")
		if err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	return out, nil
}

func (m *ReplayManager) compareBaseline(queued queuedReplay, report match.ReplayReport) *match.DriftResult {
	baselineID := strings.TrimSpace(queued.Request.BaselineRunID)
	if baselineID == "" {
		return nil
	}
	baseline, ok := m.store.GetRun(baselineID)
	if !ok || baseline.Report == nil {
		_, _ = m.store.AppendRunEvent(queued.RunID, "drift", "baseline run missing or has no report", map[string]any{
			"baseline_run_id": baselineID,
		})
		return nil
	}
	drift := match.CompareWithBaseline(report, *baseline.Report)
	_, _ = m.store.AppendRunEvent(queued.RunID, "drift", drift.Summary, map[string]any{
		"baseline_run_id": baselineID,
		"status":          string(drift.Status),
	})
	return &drift
}

// actualModelCalls counts the outbound calls a finished replay made: three
// per scored case, none for cases rejected as invalid input.
func actualModelCalls(report match.ReplayReport) int {
	total := 0
	for _, outcome := range report.Outcomes {
		total += (outcome.Total - outcome.InputErrors) * 3
	}
	return total
}

func randomID(prefix string) (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return prefix + "_" + hex.EncodeToString(b), nil
}

type ipRateLimiter struct {
	mu      sync.Mutex
	rpm     int
	records map[string][]time.Time
}

func newIPRateLimiter(rpm int) *ipRateLimiter {
	if rpm <= 0 {
		rpm = 30
	}
	return &ipRateLimiter{
		rpm:     rpm,
		records: map[string][]time.Time{},
	}
}

func (l *ipRateLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if strings.TrimSpace(key) == "" {
		key = "unknown"
	}
	now := time.Now()
	cutoff := now.Add(-1 * time.Minute)
	items := l.records[key]
	items = filterRecentTime(items, cutoff)
	if len(items) >= l.rpm {
		l.records[key] = items
		return false
	}
	items = append(items, now)
	l.records[key] = items
	return true
}

func hashString(input string) string {
	sum := sha256Sum(input)
	return sum[:16]
}

func sha256Sum(input string) string {
	hash := sha256.New()
	_, _ = hash.Write([]byte(input))
	return hex.EncodeToString(hash.Sum(nil))
}
