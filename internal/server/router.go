package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"theme-judge/internal/match"
)

type API struct {
	auth   *Auth
	store  Store
	replay ReplayService
	obs    *Observability
}

func NewAPI(auth *Auth, store Store, replay ReplayService, obs *Observability) *API {
	return &API{
		auth:   auth,
		store:  store,
		replay: replay,
		obs:    obs,
	}
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", a.handleHealthz)

	mux.HandleFunc("POST /api/v1/auth/login", a.auth.HandleLogin)
	mux.HandleFunc("POST /api/v1/auth/logout", a.auth.HandleLogout)
	mux.HandleFunc("GET /api/v1/auth/me", a.auth.HandleMe)

	mux.HandleFunc("POST /api/v1/score", a.handleScore)
	mux.HandleFunc("GET /api/v1/configs", a.handleListConfigs)

	mux.Handle("POST /api/v1/admin/replays", a.auth.RequireAdmin(http.HandlerFunc(a.handleAdminCreateReplay)))
	mux.Handle("GET /api/v1/admin/replays", a.auth.RequireAdmin(http.HandlerFunc(a.handleAdminListReplays)))
	mux.Handle("GET /api/v1/admin/replays/{id}", a.auth.RequireAdmin(http.HandlerFunc(a.handleAdminGetReplay)))
	mux.Handle("GET /api/v1/admin/replays/{id}/events", a.auth.RequireAdmin(http.HandlerFunc(a.handleAdminGetReplayEventsSSE)))
	mux.Handle("GET /api/v1/admin/metrics/overview", a.auth.RequireAdmin(http.HandlerFunc(a.handleAdminOverview)))
	mux.Handle("GET /api/v1/admin/audit", a.auth.RequireAdmin(http.HandlerFunc(a.handleAdminAudit)))
	mux.Handle("GET /api/v1/admin/my-replays", a.auth.Require(http.HandlerFunc(a.handleMyReplays)))

	wrapped := otelhttp.NewHandler(mux, "judge-api-http")
	return withCORS(wrapped)
}

func (a *API) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":   true,
		"time": nowRFC3339(),
	})
}

// handleScore is the public scoring endpoint: theme/guess in, verdict out.
// Rate limited per client IP; no session required.
func (a *API) handleScore(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("judge-api").Start(r.Context(), "score")
	defer span.End()
	var req ScoreRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	ipHash, _ := actorHashes(r)
	span.SetAttributes(
		attribute.String("score.config_version", req.ConfigVersion),
		attribute.Bool("score.verbose", req.Verbose),
	)
	response, err := a.replay.ScoreOnce(ctx, req, ipHash)
	if err != nil {
		span.RecordError(err)
		switch {
		case errors.Is(err, errScoreRateLimited):
			writeError(w, http.StatusTooManyRequests, err.Error())
		default:
			if _, ok := match.IsInputError(err); ok {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			writeError(w, http.StatusServiceUnavailable, err.Error())
		}
		return
	}
	span.SetAttributes(attribute.Bool("score.is_match", response.IsMatch))
	writeJSON(w, http.StatusOK, response)
}

func (a *API) handleListConfigs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"config_versions": a.replay.ConfigVersions(),
	})
}

func (a *API) handleAdminCreateReplay(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("judge-api").Start(r.Context(), "admin.create_replay")
	defer span.End()
	principal, _ := PrincipalFromContext(ctx)
	var req ReplayRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	meta, err := a.replay.CreateReplayRun(req, principal, "admin.manual")
	if err != nil {
		span.RecordError(err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"run_id": meta.RunID,
		"status": meta.Status,
	})
}

func (a *API) handleAdminGetReplay(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing run id")
		return
	}
	meta, ok := a.store.GetRun(id)
	if !ok {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func (a *API) handleAdminListReplays(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"runs": a.store.ListRuns(parseLimit(r, 100)),
	})
}

func (a *API) handleAdminGetReplayEventsSSE(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing run id")
		return
	}
	if _, ok := a.store.GetRun(id); !ok {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	cursor := parseCursor(r)
	send := func(events []RunEvent) {
		for _, event := range events {
			payload, marshalErr := json.Marshal(event)
			if marshalErr != nil {
				continue
			}
			fmt.Fprintf(w, "event: run_event\n")
			fmt.Fprintf(w, "data: %s\n\n", payload)
			cursor = event.Seq
		}
		flusher.Flush()
	}
	send(a.store.ListRunEvents(id, cursor))

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			events := a.store.ListRunEvents(id, cursor)
			if len(events) > 0 {
				send(events)
			} else {
				_, _ = fmt.Fprint(w, ": ping\n\n")
				flusher.Flush()
			}
		}
	}
}

func (a *API) handleAdminOverview(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.store.GetMetricsOverview())
}

func (a *API) handleAdminAudit(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"audit": a.store.ListAudit(parseLimit(r, 200)),
	})
}

func (a *API) handleMyReplays(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	runs := a.store.ListRunsByCreator(principal.Subject, 50)
	out := make([]map[string]any, 0, len(runs))
	for _, m := range runs {
		entry := map[string]any{
			"run_id":     m.RunID,
			"status":     m.Status,
			"bank":       m.Request.Bank,
			"created_at": m.CreatedAt,
		}
		if m.Report != nil {
			entry["summary"] = summarizeReplay(*m.Report)
		}
		if m.Drift != nil {
			entry["drift_status"] = string(m.Drift.Status)
		}
		out = append(out, entry)
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": out})
}

func summarizeReplay(report match.ReplayReport) map[string]any {
	data := map[string]any{
		"bank":  report.Bank,
		"cases": report.CaseCount,
	}
	configs := make([]map[string]any, 0, len(report.Outcomes))
	for _, outcome := range report.Outcomes {
		configs = append(configs, map[string]any{
			"config_version": outcome.ConfigVersion,
			"accuracy":       outcome.Accuracy,
			"degraded_cases": outcome.DegradedCount,
		})
	}
	data["configs"] = configs
	return data
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Admin-Token")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func actorHashes(r *http.Request) (string, string) {
	ip, _, _ := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if ip == "" {
		ip = strings.TrimSpace(r.RemoteAddr)
	}
	return hashString(ip), hashString(r.UserAgent())
}
