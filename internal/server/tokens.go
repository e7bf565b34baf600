package server

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// TokenLease is a checked-out inference token. Leases are per replay run:
// acquire before the run starts, commit (or reject) when it finishes.
type TokenLease struct {
	Label    string
	Token    string
	tokenRef *pooledTokenState
}

// TokenPool balances replay runs across the configured inference tokens and
// enforces per-token RPM and daily call quotas.
type TokenPool struct {
	mu     sync.Mutex
	tokens []*pooledTokenState
}

type pooledTokenState struct {
	Config          PooledTokenConfig
	DayKey          string
	CallsToday      int
	RequestsLastMin []time.Time
	ActiveRuns      int
}

func NewTokenPool(cfg ServerConfig) *TokenPool {
	pool := &TokenPool{tokens: []*pooledTokenState{}}
	for _, entry := range cfg.Inference.Tokens {
		item := entry
		if strings.TrimSpace(item.Token) == "" {
			continue
		}
		if strings.TrimSpace(item.Label) == "" {
			item.Label = fmt.Sprintf("token-%d", len(pool.tokens)+1)
		}
		if item.RPM <= 0 {
			item.RPM = 60
		}
		if item.DailyCalls <= 0 {
			item.DailyCalls = 10000
		}
		pool.tokens = append(pool.tokens, &pooledTokenState{Config: item})
	}
	return pool
}

// Acquire leases the token with the most remaining daily headroom. A run
// needs roughly 3 model calls per case; expectedCalls lets the pool skip
// tokens that cannot absorb the whole run.
func (p *TokenPool) Acquire(expectedCalls int) (TokenLease, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.tokens) == 0 {
		return TokenLease{}, errors.New("no inference tokens configured")
	}
	if expectedCalls < 1 {
		expectedCalls = 1
	}
	now := time.Now()
	dayKey := now.UTC().Format("2006-01-02")
	candidates := make([]*pooledTokenState, 0, len(p.tokens))
	for _, token := range p.tokens {
		p.rollWindow(token, now, dayKey)
		if token.Config.DailyCalls-token.CallsToday < expectedCalls {
			continue
		}
		if len(token.RequestsLastMin) >= token.Config.RPM {
			continue
		}
		candidates = append(candidates, token)
	}
	if len(candidates) == 0 {
		return TokenLease{}, errors.New("all inference tokens are quota or rate limited")
	}
	sort.Slice(candidates, func(i, j int) bool {
		leftRemain := candidates[i].Config.DailyCalls - candidates[i].CallsToday
		rightRemain := candidates[j].Config.DailyCalls - candidates[j].CallsToday
		if leftRemain == rightRemain {
			return candidates[i].ActiveRuns < candidates[j].ActiveRuns
		}
		return leftRemain > rightRemain
	})
	selected := candidates[0]
	selected.ActiveRuns++
	selected.RequestsLastMin = append(selected.RequestsLastMin, now)
	return TokenLease{
		Label:    selected.Config.Label,
		Token:    selected.Config.Token,
		tokenRef: selected,
	}, nil
}

// Commit records the calls a finished run actually made.
func (p *TokenPool) Commit(lease TokenLease, usage TokenUsageRecord) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if lease.tokenRef == nil {
		return
	}
	now := time.Now()
	dayKey := now.UTC().Format("2006-01-02")
	p.rollWindow(lease.tokenRef, now, dayKey)
	if usage.ModelCalls > 0 {
		lease.tokenRef.CallsToday += usage.ModelCalls
	}
	if lease.tokenRef.ActiveRuns > 0 {
		lease.tokenRef.ActiveRuns--
	}
}

// Reject releases a lease whose run never started.
func (p *TokenPool) Reject(lease TokenLease) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if lease.tokenRef == nil {
		return
	}
	if lease.tokenRef.ActiveRuns > 0 {
		lease.tokenRef.ActiveRuns--
	}
}

func (p *TokenPool) rollWindow(state *pooledTokenState, now time.Time, dayKey string) {
	if state.DayKey != dayKey {
		state.DayKey = dayKey
		state.CallsToday = 0
		state.RequestsLastMin = nil
	}
	cutoff := now.Add(-1 * time.Minute)
	state.RequestsLastMin = filterRecentTime(state.RequestsLastMin, cutoff)
}

func filterRecentTime(items []time.Time, cutoff time.Time) []time.Time {
	if len(items) == 0 {
		return items
	}
	out := items[:0]
	for _, item := range items {
		if item.After(cutoff) {
			out = append(out, item)
		}
	}
	return out
}

// estimateModelCalls predicts the outbound call volume of a replay: per case
// and config, one embedding call plus two entailment directions.
func estimateModelCalls(caseCount, configCount int) int {
	if caseCount < 1 || configCount < 1 {
		return 1
	}
	return caseCount * configCount * 3
}
