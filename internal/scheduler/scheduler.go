package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Dalaqa25/automation-runner/internal/engine"
	"github.com/Dalaqa25/automation-runner/pkg/schema"
)

// Runner executes one scheduled tick for an automation. executionStartTime
// is the instant the tick was decided to run, not the instant it finishes —
// the runner persists it as the automation's next polling cursor so a
// slow execution never opens a gap before the following tick's window.
type Runner interface {
	RunAutomation(ctx context.Context, userID, automationID string, executionStartTime time.Time) error
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

type pairKey struct {
	UserID       string
	AutomationID string
}

// poller owns one (userId, automationId) pair's recurring tick loop. Its
// timer self-reschedules to schedule.Next after each tick rather than
// firing on a fixed ticker, since cron schedules aren't uniform intervals.
type poller struct {
	key      pairKey
	schedule cron.Schedule
	cancel   context.CancelFunc
	done     chan struct{}
	running  atomic.Bool
}

// Scheduler maintains one independent poller per (userId, automationId)
// pair. Each pair ticks on its own timer, so a slow or wedged automation
// never delays another's schedule; a shared WorkerPool still bounds how
// many ticks run at once process-wide, the concurrency ceiling §5 asks
// the supervisor to respect across every pair.
type Scheduler struct {
	mu      sync.Mutex
	pollers map[pairKey]*poller

	runner  Runner
	pool    *engine.WorkerPool
	log     *slog.Logger
	stagger time.Duration
}

// NewScheduler builds a Scheduler driving automations through runner. A
// nil pool runs every tick inline on its own poller's goroutine,
// unbounded; pass a shared *engine.WorkerPool to cap total concurrent
// ticks across every registered pair.
func NewScheduler(runner Runner, log *slog.Logger, pool *engine.WorkerPool) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		pollers: make(map[pairKey]*poller),
		runner:  runner,
		pool:    pool,
		log:     log,
		stagger: defaultResumeStagger,
	}
}

// SetResumeStagger overrides the spacing ResumeAll leaves between
// consecutive startup resumes. Zero restores the default.
func (s *Scheduler) SetResumeStagger(d time.Duration) {
	if d <= 0 {
		d = defaultResumeStagger
	}
	s.stagger = d
}

// StartPolling parses expr as a five-field cron expression and arms a
// self-rescheduling timer for (userID, automationID). It first runs one
// synchronous test tick so a misconfigured credential or automation fails
// immediately, visibly, instead of silently on the first scheduled fire.
// If the test tick fails, the pair is left unregistered and the error is
// returned to the caller, which is responsible for marking the underlying
// record inactive. If a poller for this pair already exists, StartPolling
// is a no-op.
func (s *Scheduler) StartPolling(ctx context.Context, userID, automationID string, expr string) error {
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeWorkflowValidation, "invalid schedule expression %q", expr).WithCause(err)
	}

	key := pairKey{UserID: userID, AutomationID: automationID}

	s.mu.Lock()
	if _, exists := s.pollers[key]; exists {
		s.mu.Unlock()
		return nil
	}
	pollCtx, cancel := context.WithCancel(ctx)
	p := &poller{key: key, schedule: schedule, cancel: cancel, done: make(chan struct{})}
	s.pollers[key] = p
	s.mu.Unlock()

	if err := s.runTestTick(ctx, p); err != nil {
		cancel()
		s.mu.Lock()
		delete(s.pollers, key)
		s.mu.Unlock()
		return err
	}

	go s.loop(pollCtx, p)
	return nil
}

// runTestTick runs the pair's first tick synchronously and returns its
// error directly, instead of only logging it the way the steady-state
// loop does — StartPolling needs to know whether to keep the pair
// registered.
func (s *Scheduler) runTestTick(ctx context.Context, p *poller) error {
	p.running.Store(true)
	defer p.running.Store(false)
	return s.runner.RunAutomation(ctx, p.key.UserID, p.key.AutomationID, time.Now().UTC())
}

func (s *Scheduler) loop(ctx context.Context, p *poller) {
	defer close(p.done)

	for {
		now := time.Now()
		next := p.schedule.Next(now)
		timer := time.NewTimer(next.Sub(now))

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.dispatchTick(ctx, p)
		}
	}
}

// dispatchTick runs p's tick through the shared pool when one is
// configured, so a burst of simultaneously due pairs is bounded
// process-wide instead of spawning one goroutine per pair unconditionally.
// A full pool or a cancelled context simply defers the tick to the next
// fire; runTick's own skip-if-busy guard keeps that safe.
func (s *Scheduler) dispatchTick(ctx context.Context, p *poller) {
	if s.pool == nil {
		s.runTick(ctx, p)
		return
	}
	err := s.pool.Submit(ctx, func(ctx context.Context) error {
		s.runTick(ctx, p)
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.log.Warn("dropped scheduled tick: worker pool unavailable",
			"user_id", p.key.UserID, "automation_id", p.key.AutomationID, "error", err)
	}
}

// runTick skips the tick entirely if the previous one for this pair is
// still running, rather than queuing it — a scheduled automation runs
// serially against itself.
func (s *Scheduler) runTick(ctx context.Context, p *poller) {
	if !p.running.CompareAndSwap(false, true) {
		s.log.Warn("skipping tick: previous run still in progress",
			"user_id", p.key.UserID, "automation_id", p.key.AutomationID)
		return
	}
	defer p.running.Store(false)

	start := time.Now().UTC()
	if err := s.runner.RunAutomation(ctx, p.key.UserID, p.key.AutomationID, start); err != nil {
		s.log.Error("automation tick failed",
			"user_id", p.key.UserID, "automation_id", p.key.AutomationID, "error", err)
	}
}

// StopPolling cancels and removes the poller for one pair, if any.
func (s *Scheduler) StopPolling(userID, automationID string) {
	key := pairKey{UserID: userID, AutomationID: automationID}

	s.mu.Lock()
	p, exists := s.pollers[key]
	if exists {
		delete(s.pollers, key)
	}
	s.mu.Unlock()

	if exists {
		p.cancel()
		<-p.done
	}
}

// StopAll cancels every active poller and waits for their loops to exit.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	pollers := make([]*poller, 0, len(s.pollers))
	for k, p := range s.pollers {
		pollers = append(pollers, p)
		delete(s.pollers, k)
	}
	s.mu.Unlock()

	for _, p := range pollers {
		p.cancel()
		<-p.done
	}
}

// AutomationRecord is the minimal description of a persisted automation
// needed to resume its polling on startup.
type AutomationRecord struct {
	UserID       string
	AutomationID string
	ScheduleExpr string
}

// defaultResumeStagger spaces consecutive startup resumes apart so a
// restart with many active automations doesn't fire all their test ticks
// at once.
const defaultResumeStagger = 250 * time.Millisecond

// ResumeAll starts polling for every active automation found in storage,
// staggering each StartPolling call by s.stagger so a process restart
// with many automations doesn't stampede downstream APIs with
// simultaneous test ticks. One automation's failed test tick does not stop
// the rest from resuming: ResumeAll keeps going and joins every failure
// into the returned error, so the caller can log it without treating
// startup as fatal.
func (s *Scheduler) ResumeAll(ctx context.Context, automations []AutomationRecord) error {
	var errs []error
	for i, a := range automations {
		if i > 0 {
			select {
			case <-time.After(s.stagger):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err := s.StartPolling(ctx, a.UserID, a.AutomationID, a.ScheduleExpr); err != nil {
			errs = append(errs, schema.NewErrorf(schema.ErrCodeExecution, "resume polling for automation %q failed", a.AutomationID).WithCause(err))
			s.log.Error("failed to resume automation, continuing with remaining automations",
				"user_id", a.UserID, "automation_id", a.AutomationID, "error", err)
		}
	}
	return errors.Join(errs...)
}
