package waiter_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AliMehraji/wait4it/internal/probe"
	"github.com/AliMehraji/wait4it/internal/waiter"
)

// ── helpers ──────────────────────────────────────────────────────────────────

// scriptedProbe succeeds from its readyAt'th call onward; readyAt 0 means
// it never succeeds. calls counts how often the waiter invoked it.
type scriptedProbe struct {
	kind    string
	readyAt int
	err     error
	calls   int
}

func (p *scriptedProbe) Kind() string { return p.kind }

func (p *scriptedProbe) Check(_ context.Context) error {
	p.calls++
	if p.readyAt > 0 && p.calls >= p.readyAt {
		return nil
	}
	if p.err != nil {
		return p.err
	}
	return probe.ErrUnreachable
}

func fastConfig() waiter.Config {
	return waiter.Config{
		Interval:     2 * time.Millisecond,
		MaxWait:      time.Second,
		ProbeTimeout: 50 * time.Millisecond,
	}
}

func mandatory(p probe.Prober) waiter.Entry { return waiter.Entry{Prober: p} }
func optional(p probe.Prober) waiter.Entry  { return waiter.Entry{Prober: p, Optional: true} }

// ── success paths ────────────────────────────────────────────────────────────

func TestRun_AllReadyImmediately(t *testing.T) {
	db := &scriptedProbe{kind: probe.KindDatabase, readyAt: 1}
	w := waiter.New([]waiter.Entry{mandatory(db)}, fastConfig())

	outcome := w.Run(context.Background())

	assert.Equal(t, waiter.AllReady, outcome.State)
	assert.Equal(t, 1, outcome.Iterations)
	assert.Empty(t, outcome.Unmet)
}

func TestRun_StaggeredReadiness(t *testing.T) {
	// postgresql reachable at iteration 3, redis at 5: success must be
	// reported at iteration 5, not before.
	db := &scriptedProbe{kind: probe.KindDatabase, readyAt: 3}
	cache := &scriptedProbe{kind: probe.KindRedis, readyAt: 5}
	w := waiter.New([]waiter.Entry{mandatory(db), mandatory(cache)}, fastConfig())

	outcome := w.Run(context.Background())

	require.Equal(t, waiter.AllReady, outcome.State)
	assert.Equal(t, 5, outcome.Iterations)
}

func TestRun_ReadyDependencyNotReprobed(t *testing.T) {
	db := &scriptedProbe{kind: probe.KindDatabase, readyAt: 1}
	cache := &scriptedProbe{kind: probe.KindRedis, readyAt: 4}
	w := waiter.New([]waiter.Entry{mandatory(db), mandatory(cache)}, fastConfig())

	outcome := w.Run(context.Background())

	require.Equal(t, waiter.AllReady, outcome.State)
	assert.Equal(t, 1, db.calls, "a dependency that succeeded once must not be probed again")
	assert.Equal(t, 4, cache.calls)
}

func TestRun_OptionalFailureNeverBlocks(t *testing.T) {
	db := &scriptedProbe{kind: probe.KindDatabase, readyAt: 1}
	broker := &scriptedProbe{kind: probe.KindKafka} // never ready
	w := waiter.New([]waiter.Entry{mandatory(db), optional(broker)}, fastConfig())

	outcome := w.Run(context.Background())

	assert.Equal(t, waiter.AllReady, outcome.State)
	assert.Equal(t, 1, outcome.Iterations)
	assert.Empty(t, outcome.Unmet)
}

// ── timeout paths ────────────────────────────────────────────────────────────

func TestRun_TimedOutNamesUnmetDependencies(t *testing.T) {
	db := &scriptedProbe{kind: probe.KindDatabase, readyAt: 1}
	cache := &scriptedProbe{kind: probe.KindRedis} // never ready
	cfg := fastConfig()
	cfg.MaxWait = 20 * time.Millisecond
	w := waiter.New([]waiter.Entry{mandatory(db), mandatory(cache)}, cfg)

	outcome := w.Run(context.Background())

	require.Equal(t, waiter.TimedOut, outcome.State)
	require.Len(t, outcome.Unmet, 1)
	assert.Equal(t, probe.KindRedis, outcome.Unmet[0].Kind)
	assert.ErrorIs(t, outcome.Unmet[0].Err, probe.ErrUnreachable)
}

func TestRun_TimeoutOvershootBounded(t *testing.T) {
	cache := &scriptedProbe{kind: probe.KindRedis} // never ready
	cfg := waiter.Config{
		Interval:     10 * time.Millisecond,
		MaxWait:      40 * time.Millisecond,
		ProbeTimeout: 10 * time.Millisecond,
	}
	w := waiter.New([]waiter.Entry{mandatory(cache)}, cfg)

	outcome := w.Run(context.Background())

	require.Equal(t, waiter.TimedOut, outcome.State)
	assert.GreaterOrEqual(t, outcome.Elapsed, cfg.MaxWait)
	assert.Less(t, outcome.Elapsed, cfg.MaxWait+cfg.Interval+50*time.Millisecond,
		"the loop must not exceed the maximum wait by more than one interval")
}

func TestRun_AbsentSentinelCitesConfigStore(t *testing.T) {
	st := &scriptedProbe{
		kind: probe.KindConsul,
		err:  fmt.Errorf("%w: sentinel key %q", probe.ErrMissingKey, "consul_connection_check"),
	}
	cfg := fastConfig()
	cfg.MaxWait = 20 * time.Millisecond
	w := waiter.New([]waiter.Entry{mandatory(st)}, cfg)

	outcome := w.Run(context.Background())

	require.Equal(t, waiter.TimedOut, outcome.State)
	require.Len(t, outcome.Unmet, 1)
	assert.Equal(t, probe.KindConsul, outcome.Unmet[0].Kind)
	assert.ErrorIs(t, outcome.Unmet[0].Err, probe.ErrMissingKey)
	assert.ErrorContains(t, outcome.Unmet[0].Err, "consul_connection_check")
}

func TestRun_CancelledContextEndsEarly(t *testing.T) {
	cache := &scriptedProbe{kind: probe.KindRedis} // never ready
	cfg := fastConfig()
	cfg.MaxWait = 10 * time.Second

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w := waiter.New([]waiter.Entry{mandatory(cache)}, cfg)

	start := time.Now()
	outcome := w.Run(ctx)

	assert.Equal(t, waiter.TimedOut, outcome.State)
	assert.Less(t, time.Since(start), time.Second, "cancellation must not wait out MaxWait")
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "all_ready", waiter.AllReady.String())
	assert.Equal(t, "timed_out", waiter.TimedOut.String())
}
