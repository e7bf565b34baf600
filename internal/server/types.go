package server

import (
	"time"

	"theme-judge/internal/match"
)

type Principal struct {
	Subject  string `json:"subject"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

// ScoreRequest is the public scoring payload: one theme/guess pair, an
// optional named scoring config, and an optional verbose flag to include
// the full diagnostics in the response.
type ScoreRequest struct {
	Theme         string `json:"theme"`
	Guess         string `json:"guess"`
	ConfigVersion string `json:"config_version,omitempty"`
	Verbose       bool   `json:"verbose,omitempty"`
}

type ScoreResponse struct {
	IsMatch        bool               `json:"is_match"`
	Score          float64            `json:"score"`
	MatchedSignals []string           `json:"matched_signals"`
	ConfigVersion  string             `json:"config_version"`
	Degraded       bool               `json:"degraded"`
	Diagnostics    *match.Diagnostics `json:"diagnostics,omitempty"`
}

// ReplayRequest asks for a labeled case bank to be replayed against one or
// more scoring configs, optionally comparing against a previous run.
type ReplayRequest struct {
	Bank           string              `json:"bank,omitempty"`
	Cases          []match.LabeledCase `json:"cases,omitempty"`
	ConfigVersions []string            `json:"config_versions,omitempty"`
	Configs        []match.Config      `json:"configs,omitempty"`
	BaselineRunID  string              `json:"baseline_run_id,omitempty"`
	TimeoutSec     int                 `json:"timeout_sec,omitempty"`
}

type RunMeta struct {
	RunID       string              `json:"run_id"`
	Status      string              `json:"status"`
	CreatorType string              `json:"creator_type"`
	CreatorSub  string              `json:"creator_sub,omitempty"`
	Source      string              `json:"source"`
	Request     ReplayRequest       `json:"request"`
	StartedAt   string              `json:"started_at,omitempty"`
	FinishedAt  string              `json:"finished_at,omitempty"`
	CreatedAt   string              `json:"created_at"`
	Error       string              `json:"error,omitempty"`
	Report      *match.ReplayReport `json:"report,omitempty"`
	Drift       *match.DriftResult  `json:"drift,omitempty"`
	TokenUsage  TokenUsageRecord    `json:"token_usage"`
}

// TokenUsageRecord tracks which pooled inference token served a run and how
// many model calls it consumed.
type TokenUsageRecord struct {
	RunID         string `json:"run_id"`
	TokenLabel    string `json:"token_label"`
	ModelCalls    int    `json:"model_calls"`
	BlockedReason string `json:"blocked_reason,omitempty"`
}

type AuditEvent struct {
	Timestamp string `json:"timestamp"`
	RunID     string `json:"run_id,omitempty"`
	ActorType string `json:"actor_type"`
	ActorSub  string `json:"actor_sub,omitempty"`
	Action    string `json:"action"`
	Result    string `json:"result"`
	IPHash    string `json:"ip_hash,omitempty"`
	UAHash    string `json:"ua_hash,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

type RunEvent struct {
	Seq       int64          `json:"seq"`
	Timestamp string         `json:"timestamp"`
	Stage     string         `json:"stage"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
}

type MetricsOverview struct {
	GeneratedAt     string  `json:"generated_at"`
	TotalRuns       int     `json:"total_runs"`
	RunningRuns     int     `json:"running_runs"`
	CompletedRuns   int     `json:"completed_runs"`
	FailedRuns      int     `json:"failed_runs"`
	DriftWarnRuns   int     `json:"drift_warn_runs"`
	DriftFailRuns   int     `json:"drift_fail_runs"`
	AverageDuration int64   `json:"average_duration_ms"`
	AverageAccuracy float64 `json:"average_accuracy"`
	TotalModelCalls int     `json:"total_model_calls"`
}

// StoreSnapshot is the on-disk layout of the memory store.
type StoreSnapshot struct {
	Runs   []RunMeta             `json:"runs"`
	Events map[string][]RunEvent `json:"events"`
	Audit  []AuditEvent          `json:"audit"`
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}
