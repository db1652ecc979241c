package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dalaqa25/automation-runner/internal/engine"
)

type countingRunner struct {
	calls    atomic.Int64
	blockFor time.Duration
}

func (r *countingRunner) RunAutomation(ctx context.Context, userID, automationID string, executionStartTime time.Time) error {
	r.calls.Add(1)
	if r.blockFor > 0 {
		time.Sleep(r.blockFor)
	}
	return nil
}

// everyMinute is used where a poller only needs to survive long enough for
// its test tick; the loop's next real fire is far beyond any test's runtime.
const everyMinute = "* * * * *"

func TestStartPolling_RunsTestTickImmediately(t *testing.T) {
	runner := &countingRunner{}
	s := NewScheduler(runner, nil, nil)
	defer s.StopAll()

	require.NoError(t, s.StartPolling(context.Background(), "u1", "a1", everyMinute))

	assert.Equal(t, int64(1), runner.calls.Load())
}

func TestStartPolling_IsNoOpForExistingPair(t *testing.T) {
	runner := &countingRunner{}
	s := NewScheduler(runner, nil, nil)
	defer s.StopAll()

	require.NoError(t, s.StartPolling(context.Background(), "u1", "a1", everyMinute))
	require.NoError(t, s.StartPolling(context.Background(), "u1", "a1", everyMinute))

	assert.Equal(t, int64(1), runner.calls.Load())
}

func TestStartPolling_RejectsInvalidExpression(t *testing.T) {
	runner := &countingRunner{}
	s := NewScheduler(runner, nil, nil)
	defer s.StopAll()

	err := s.StartPolling(context.Background(), "u1", "a1", "not a cron expression")
	assert.Error(t, err)
}

func TestStartPolling_ReschedulesAfterEachTick(t *testing.T) {
	// "@every" style is not part of the standard five-field grammar this
	// scheduler parses, so exercise rescheduling by ticking once and
	// confirming the loop rearms for the following minute without panicking
	// or double-firing before it.
	runner := &countingRunner{}
	s := NewScheduler(runner, nil, nil)
	defer s.StopAll()

	require.NoError(t, s.StartPolling(context.Background(), "u1", "a1", everyMinute))
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, int64(1), runner.calls.Load())
}

func TestStopPolling_HaltsFutureTicks(t *testing.T) {
	runner := &countingRunner{}
	s := NewScheduler(runner, nil, nil)

	require.NoError(t, s.StartPolling(context.Background(), "u1", "a1", everyMinute))
	s.StopPolling("u1", "a1")

	calls := runner.calls.Load()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, calls, runner.calls.Load())
}

func TestRunTick_SkipsWhileStillRunning(t *testing.T) {
	runner := &countingRunner{blockFor: 150 * time.Millisecond}
	s := NewScheduler(runner, nil, nil)
	defer s.StopAll()

	require.NoError(t, s.StartPolling(context.Background(), "u1", "a1", everyMinute))

	// Mark a tick as still in flight, then force another one; it must be
	// skipped rather than queued.
	p := s.pollers[pairKey{UserID: "u1", AutomationID: "a1"}]
	p.running.Store(true)
	s.runTick(context.Background(), p)

	assert.Equal(t, int64(1), runner.calls.Load())
}

func TestResumeAll_StartsEveryAutomation(t *testing.T) {
	runner := &countingRunner{}
	s := NewScheduler(runner, nil, nil)
	defer s.StopAll()

	automations := []AutomationRecord{
		{UserID: "u1", AutomationID: "a1", ScheduleExpr: everyMinute},
		{UserID: "u1", AutomationID: "a2", ScheduleExpr: everyMinute},
		{UserID: "u2", AutomationID: "a1", ScheduleExpr: everyMinute},
	}
	require.NoError(t, s.ResumeAll(context.Background(), automations))

	assert.Equal(t, int64(3), runner.calls.Load())
}

func TestDispatchTick_RunsThroughSharedPool(t *testing.T) {
	runner := &countingRunner{}
	pool := engine.NewWorkerPool(2)
	defer pool.Shutdown()
	s := NewScheduler(runner, nil, pool)
	defer s.StopAll()

	require.NoError(t, s.StartPolling(context.Background(), "u1", "a1", everyMinute))
	p := s.pollers[pairKey{UserID: "u1", AutomationID: "a1"}]

	s.dispatchTick(context.Background(), p)
	pool.Wait()

	assert.Equal(t, int64(2), runner.calls.Load()) // test tick (inline) + one dispatched tick
}

func TestResumeAll_HonorsConfiguredStagger(t *testing.T) {
	runner := &countingRunner{}
	s := NewScheduler(runner, nil, nil)
	defer s.StopAll()
	s.SetResumeStagger(10 * time.Millisecond)

	automations := []AutomationRecord{
		{UserID: "u1", AutomationID: "a1", ScheduleExpr: everyMinute},
		{UserID: "u1", AutomationID: "a2", ScheduleExpr: everyMinute},
	}

	start := time.Now()
	require.NoError(t, s.ResumeAll(context.Background(), automations))
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
	assert.Equal(t, int64(2), runner.calls.Load())
}

func TestResumeAll_ReportsFailureButStillResumesSiblings(t *testing.T) {
	runner := &countingRunner{}
	s := NewScheduler(runner, nil, nil)
	defer s.StopAll()

	automations := []AutomationRecord{
		{UserID: "u1", AutomationID: "bad", ScheduleExpr: "garbage"},
		{UserID: "u1", AutomationID: "a2", ScheduleExpr: everyMinute},
		{UserID: "u2", AutomationID: "a1", ScheduleExpr: everyMinute},
	}
	err := s.ResumeAll(context.Background(), automations)
	require.Error(t, err, "a failure for one automation must still be surfaced")

	assert.Equal(t, int64(2), runner.calls.Load(), "the two valid automations must still have run their test tick")
	assert.Nil(t, s.pollers[pairKey{UserID: "u1", AutomationID: "bad"}], "the failed automation must not be registered")
	assert.NotNil(t, s.pollers[pairKey{UserID: "u1", AutomationID: "a2"}], "sibling automations must still be resumed")
	assert.NotNil(t, s.pollers[pairKey{UserID: "u2", AutomationID: "a1"}], "sibling automations must still be resumed")
}
