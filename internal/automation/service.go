// Package automation wires the scheduling and polling supervisor (C6)
// together with credential refresh (C7), template preparation (C1),
// token injection (C2), and the execution engine (C5) into the one
// operation the spec calls a tick: refresh credentials if needed,
// prepare and inject a workflow, run it, and persist the resulting
// cursor and dedup set back to the store.
package automation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/Dalaqa25/automation-runner/internal/credentials"
	"github.com/Dalaqa25/automation-runner/internal/engine"
	"github.com/Dalaqa25/automation-runner/internal/expressions"
	"github.com/Dalaqa25/automation-runner/internal/identity"
	"github.com/Dalaqa25/automation-runner/internal/logging"
	"github.com/Dalaqa25/automation-runner/internal/scheduler"
	"github.com/Dalaqa25/automation-runner/internal/store"
	"github.com/Dalaqa25/automation-runner/internal/validation"
	"github.com/Dalaqa25/automation-runner/pkg/schema"
)

// naturalKeyFields lists, in priority order, the item JSON fields a
// trigger output is searched for when building the deduplication key
// persisted in processedSet. §6 requires a natural-key field but does
// not fix its name across trigger types, so the first match wins.
var naturalKeyFields = []string{"path", "id", "name"}

// pollState is the JSON shape persisted in UserAutomation.AutomationData.
type pollState struct {
	LastPollTime   string   `json:"lastPollTime"`
	ProcessedFiles []string `json:"processedFiles"`
	LastRun        string   `json:"lastRun"`
	TotalProcessed int64    `json:"totalProcessed"`
}

// Service implements scheduler.Runner: one RunAutomation call is one
// tick of C6's loop. It also exposes the register/start/stop surface a
// host application drives per (user, automation) pair.
type Service struct {
	store         store.Store
	engine        *engine.Engine
	refresher     *credentials.Refresher
	validator     *validation.WorkflowValidator
	scheduler     *scheduler.Scheduler
	developerKeys map[string]string
	log           *slog.Logger
}

// Config bundles Service's dependencies.
type Config struct {
	Store         store.Store
	Engine        *engine.Engine
	Refresher     *credentials.Refresher
	Validator     *validation.WorkflowValidator // may be nil to skip pre-execution validation
	DeveloperKeys map[string]string
	// Pool bounds how many ticks run concurrently process-wide, across
	// every (user, automation) pair's independent schedule. Nil runs
	// each pair's tick inline on its own poller goroutine, unbounded.
	Pool *engine.WorkerPool
	// ResumeStagger spaces ResumeActive's per-automation test ticks apart
	// on startup. Zero uses the scheduler's own default.
	ResumeStagger time.Duration
	Logger        *slog.Logger
}

// NewService builds a Service and its owned Scheduler. The Scheduler is
// not started; call ResumeActive on process startup and StartPolling per
// newly registered automation afterward.
func NewService(cfg Config) *Service {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	s := &Service{
		store:         cfg.Store,
		engine:        cfg.Engine,
		refresher:     cfg.Refresher,
		validator:     cfg.Validator,
		developerKeys: cfg.DeveloperKeys,
		log:           log,
	}
	s.scheduler = scheduler.NewScheduler(s, log, cfg.Pool)
	if cfg.ResumeStagger > 0 {
		s.scheduler.SetResumeStagger(cfg.ResumeStagger)
	}
	return s
}

// Scheduler exposes the underlying poller registry for StopAll at shutdown.
func (s *Service) Scheduler() *scheduler.Scheduler { return s.scheduler }

// RegisterAutomation returns the existing record for (userID,
// automationID) unchanged, or creates it with the given name, schedule,
// and workflow definition if this is the pair's first registration. The
// host calls this before StartPolling the first time it learns of an
// automation.
func (s *Service) RegisterAutomation(ctx context.Context, userID, automationID, name, scheduleExpr string, definition json.RawMessage) (*store.UserAutomation, error) {
	return identity.EnsureRegistered(ctx, s.store, userID, automationID, name, scheduleExpr, definition)
}

// StartPolling implements the host-facing half of §4.9's startPolling:
// it loads the record, fails fast if it has no OAuth tokens but declares
// a provider, then delegates the schedule-arming and mandatory test tick
// to the Scheduler. If the test tick fails, the record is marked
// inactive and the error is returned to the caller.
func (s *Service) StartPolling(ctx context.Context, userID, automationID string) error {
	if err := identity.ValidatePair(userID, automationID); err != nil {
		return err
	}

	rec, err := s.store.GetAutomation(ctx, userID, automationID)
	if err != nil {
		return err
	}
	if rec.Provider != "" && rec.AccessToken == "" && rec.RefreshToken == "" {
		return schema.NewErrorf(schema.ErrCodeAuthError,
			"automation %s/%s: provider %q configured with no stored tokens", userID, automationID, rec.Provider)
	}

	schedExpr := rec.ScheduleExpr
	if schedExpr == "" {
		return schema.NewErrorf(schema.ErrCodeWorkflowValidation,
			"automation %s/%s: no schedule expression configured", userID, automationID)
	}

	if err := s.scheduler.StartPolling(ctx, userID, automationID, schedExpr); err != nil {
		active := false
		if uerr := s.store.UpdateAutomation(ctx, userID, automationID, store.UserAutomationUpdate{IsActive: &active}); uerr != nil {
			s.log.Warn("failed to mark automation inactive after failed test tick",
				"user_id", userID, "automation_id", automationID, "error", uerr)
		}
		return err
	}

	active := true
	if err := s.store.UpdateAutomation(ctx, userID, automationID, store.UserAutomationUpdate{IsActive: &active}); err != nil {
		s.log.Warn("failed to persist active flag after successful test tick",
			"user_id", userID, "automation_id", automationID, "error", err)
	}
	return nil
}

// StopPolling stops a pair's recurring ticks and marks the record inactive.
func (s *Service) StopPolling(ctx context.Context, userID, automationID string) error {
	s.scheduler.StopPolling(userID, automationID)
	active := false
	return s.store.UpdateAutomation(ctx, userID, automationID, store.UserAutomationUpdate{IsActive: &active})
}

// ResumeActive re-installs pollers for every automation marked active in
// storage, per §4.9's startup-resume requirement.
func (s *Service) ResumeActive(ctx context.Context) error {
	automations, err := s.store.ListAutomations(ctx, store.UserAutomationFilter{OnlyActive: true})
	if err != nil {
		return err
	}
	records := make([]scheduler.AutomationRecord, 0, len(automations))
	for _, a := range automations {
		records = append(records, scheduler.AutomationRecord{
			UserID:       a.UserID,
			AutomationID: a.AutomationID,
			ScheduleExpr: a.ScheduleExpr,
		})
	}
	return s.scheduler.ResumeAll(ctx, records)
}

// StopAll cancels every active poller; called on process shutdown.
func (s *Service) StopAll() { s.scheduler.StopAll() }

// RunAutomation implements scheduler.Runner — the body of one tick.
func (s *Service) RunAutomation(ctx context.Context, userID, automationID string, executionStartTime time.Time) error {
	ctx = logging.WithIDs(ctx, userID, automationID, "", "")
	log := logging.LogWith(ctx, s.log)

	rec, err := s.store.GetAutomation(ctx, userID, automationID)
	if err != nil {
		return err
	}

	s.appendEvent(ctx, userID, automationID, "", schema.EventPollTickStarted, nil)

	accessToken, err := s.ensureFreshToken(ctx, userID, automationID, rec)
	if err != nil {
		s.appendEvent(ctx, userID, automationID, "", schema.EventCredentialRefreshFailed, map[string]any{"error": err.Error()})
		return err
	}

	var wf schema.Workflow
	if err := json.Unmarshal(rec.Definition, &wf); err != nil {
		return schema.NewErrorf(schema.ErrCodeWorkflowValidation, "automation %s/%s: invalid workflow definition", userID, automationID).WithCause(err)
	}

	params := map[string]any{}
	if len(rec.Parameters) > 0 {
		if err := json.Unmarshal(rec.Parameters, &params); err != nil {
			return schema.NewErrorf(schema.ErrCodeWorkflowValidation, "automation %s/%s: invalid parameters", userID, automationID).WithCause(err)
		}
	}

	prepared, err := expressions.PrepareWorkflow(&wf, params, s.developerKeys)
	if err != nil {
		return err
	}

	tokens := s.buildTokenBag(rec.Provider, accessToken, prepared.ResolvedCredentials)
	if err := expressions.InjectTokens(prepared.Workflow, tokens); err != nil {
		return err
	}

	if s.validator != nil {
		if err := s.validator.ValidateWorkflow(prepared.Workflow); err != nil {
			return err
		}
	}

	state := decodePollState(rec.AutomationData)

	ec := schema.NewExecutionContext(prepared.Workflow)
	ec.Tokens = tokens
	ec.PollingCursor = state.LastPollTime
	for _, key := range state.ProcessedFiles {
		ec.ProcessedSet[key] = true
	}
	ec.InitialData = map[string]any{
		"config": params,
		"body":   params,
	}

	result := s.engine.Run(ctx, prepared.Workflow, ec)
	if !result.Success && result.Error != "" {
		s.appendEvent(ctx, userID, automationID, "", schema.EventWorkflowFailed, map[string]any{"error": result.Error})
		return schema.NewErrorf(schema.ErrCodeExecution, "automation %s/%s: tick failed", userID, automationID).WithDetails(map[string]any{"error": result.Error})
	}

	newKeys := collectNaturalKeys(ec, prepared.Workflow)
	totalNew := int64(0)
	for _, k := range newKeys {
		if !ec.ProcessedSet[k] {
			totalNew++
		}
		ec.ProcessedSet[k] = true
	}

	state.LastPollTime = executionStartTime.UTC().Format(time.RFC3339)
	state.LastRun = executionStartTime.UTC().Format(time.RFC3339)
	state.TotalProcessed += totalNew
	state.ProcessedFiles = sortedKeys(ec.ProcessedSet)

	encoded, err := json.Marshal(state)
	if err != nil {
		return err
	}
	if err := s.store.UpdateAutomation(ctx, userID, automationID, store.UserAutomationUpdate{AutomationData: encoded}); err != nil {
		// Persistence failures are logged, not fatal: this tick's in-memory
		// result still stands, and the next tick retries with whatever
		// state did make it to disk.
		log.Error("failed to persist poll state", "error", err)
	}
	if err := s.store.RecordRun(ctx, userID, automationID, executionStartTime); err != nil {
		log.Error("failed to record run", "error", err)
	}

	s.appendEvent(ctx, userID, automationID, "", schema.EventPollTickCompleted, map[string]any{
		"new_items": totalNew,
		"success":   result.Success,
	})
	return nil
}

// ensureFreshToken refreshes rec's access token if it declares a provider,
// leaving the record's token untouched for providers without one.
func (s *Service) ensureFreshToken(ctx context.Context, userID, automationID string, rec *store.UserAutomation) (string, error) {
	if rec.Provider == "" {
		return rec.AccessToken, nil
	}
	current := credentials.TokenSet{AccessToken: rec.AccessToken, RefreshToken: rec.RefreshToken}
	if rec.TokenExpiry != nil {
		current.Expiry = *rec.TokenExpiry
	}
	refreshed, err := s.refresher.EnsureFresh(ctx, userID, automationID, rec.Provider, current)
	if err != nil {
		return "", err
	}
	return refreshed.AccessToken, nil
}

// buildTokenBag assembles the raw token map handed to C2's normalizer:
// the refreshed provider token under its provider-specific default
// alias, plus any credential-placeholder resolutions from C1.
func (s *Service) buildTokenBag(provider, accessToken string, resolved map[string]string) map[string]string {
	raw := make(map[string]string, len(resolved)+1)
	for k, v := range resolved {
		raw[k] = v
	}
	if provider != "" && accessToken != "" {
		raw[providerTokenAlias(provider)] = accessToken
	}
	return expressions.NormalizeTokens(raw, nil)
}

func providerTokenAlias(provider string) string {
	switch provider {
	case "google":
		return "google_access_token"
	case "tiktok":
		return "tiktok_access_token"
	default:
		return provider + "_access_token"
	}
}

// collectNaturalKeys reads the outputs of every trigger-type node and
// extracts each item's natural key, per §6's dedup requirement.
func collectNaturalKeys(ec *schema.ExecutionContext, wf *schema.Workflow) []string {
	var keys []string
	for i := range wf.Nodes {
		n := &wf.Nodes[i]
		if !schema.IsTriggerLike(n.Type) {
			continue
		}
		out, ok := ec.Outputs[n.Name]
		if !ok {
			continue
		}
		for _, item := range out {
			if key := naturalKey(item); key != "" {
				keys = append(keys, key)
			}
		}
	}
	return keys
}

func naturalKey(item schema.Item) string {
	obj, ok := item.JSON.(map[string]any)
	if !ok {
		return ""
	}
	for _, field := range naturalKeyFields {
		if v, ok := obj[field]; ok {
			if s := fmt.Sprint(v); s != "" {
				return s
			}
		}
	}
	return ""
}

func decodePollState(raw json.RawMessage) pollState {
	var st pollState
	if len(raw) == 0 {
		return st
	}
	_ = json.Unmarshal(raw, &st)
	return st
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (s *Service) appendEvent(ctx context.Context, userID, automationID, nodeID, eventType string, payload map[string]any) {
	var raw json.RawMessage
	if payload != nil {
		raw, _ = json.Marshal(payload)
	}
	err := s.store.AppendEvent(ctx, &store.Event{
		UserID:       userID,
		AutomationID: automationID,
		NodeID:       nodeID,
		Type:         eventType,
		Payload:      raw,
		Timestamp:    time.Now().UTC(),
	})
	if err != nil {
		s.log.Warn("failed to append event", "event_type", eventType, "error", err)
	}
}
