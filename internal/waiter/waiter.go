// Package waiter implements the gate's polling loop. A Waiter repeatedly
// sweeps a fixed set of probes at a fixed interval until every mandatory
// dependency has answered at least once (AllReady) or the overall deadline
// elapses (TimedOut). Probes run sequentially within a sweep; one failing
// dependency never short-circuits the others.
package waiter

import (
	"context"
	"log/slog"
	"time"

	"github.com/AliMehraji/wait4it/internal/probe"
)

// State is the terminal state of a run.
type State int

const (
	// AllReady means every mandatory dependency succeeded before the deadline.
	AllReady State = iota
	// TimedOut means the deadline elapsed (or the context was cancelled)
	// with at least one mandatory dependency never having succeeded.
	TimedOut
)

func (s State) String() string {
	if s == AllReady {
		return "all_ready"
	}
	return "timed_out"
}

// Entry pairs a prober with its gating role. Optional entries are probed
// and logged every sweep but never hold the gate closed.
type Entry struct {
	Prober   probe.Prober
	Optional bool
}

// Config holds the loop parameters.
type Config struct {
	Interval     time.Duration // sleep between sweeps
	MaxWait      time.Duration // overall deadline
	ProbeTimeout time.Duration // per-attempt deadline
}

// Outcome reports how a run ended.
type Outcome struct {
	State      State
	Iterations int
	Elapsed    time.Duration
	// Unmet carries the last failing result for each mandatory dependency
	// that never became ready. Empty on AllReady.
	Unmet []probe.Result
}

// Waiter drives the probes. Construct with New, run once with Run.
type Waiter struct {
	cfg     Config
	entries []Entry
}

// New creates a Waiter over the given entries. Order is preserved: entries
// are probed in the order configured, config store first by convention.
func New(entries []Entry, cfg Config) *Waiter {
	return &Waiter{cfg: cfg, entries: entries}
}

// Run polls until a terminal state is reached. A dependency that has
// succeeded once is not re-probed: readiness is a gate, not a monitor.
// Cancelling ctx ends the run early with a TimedOut outcome.
func (w *Waiter) Run(ctx context.Context) Outcome {
	start := time.Now()
	deadline := start.Add(w.cfg.MaxWait)
	ready := make(map[string]bool, len(w.entries))
	lastFail := make(map[string]probe.Result, len(w.entries))

	for iteration := 1; ; iteration++ {
		for _, e := range w.entries {
			kind := e.Prober.Kind()
			if ready[kind] {
				continue
			}
			res := w.check(ctx, e.Prober)
			if res.OK {
				ready[kind] = true
				delete(lastFail, kind)
				slog.Info("dependency ready",
					"dependency", kind,
					"iteration", iteration,
				)
				continue
			}
			lastFail[kind] = res
			if e.Optional {
				slog.Info("optional dependency not ready",
					"dependency", kind,
					"iteration", iteration,
					"error", res.Err,
				)
			} else {
				slog.Warn("dependency not ready",
					"dependency", kind,
					"iteration", iteration,
					"error", res.Err,
				)
			}
		}

		if w.mandatoryReady(ready) {
			return Outcome{
				State:      AllReady,
				Iterations: iteration,
				Elapsed:    time.Since(start),
			}
		}

		remaining := time.Until(deadline)
		if remaining <= 0 || ctx.Err() != nil {
			return Outcome{
				State:      TimedOut,
				Iterations: iteration,
				Elapsed:    time.Since(start),
				Unmet:      w.unmet(ready, lastFail),
			}
		}

		// Never sleep past the deadline: the final sweep runs at the
		// deadline, keeping the overshoot under one interval.
		sleep := w.cfg.Interval
		if remaining < sleep {
			sleep = remaining
		}
		select {
		case <-ctx.Done():
			return Outcome{
				State:      TimedOut,
				Iterations: iteration,
				Elapsed:    time.Since(start),
				Unmet:      w.unmet(ready, lastFail),
			}
		case <-time.After(sleep):
		}
	}
}

// check runs one probe attempt under the per-attempt timeout.
func (w *Waiter) check(ctx context.Context, p probe.Prober) probe.Result {
	cctx, cancel := context.WithTimeout(ctx, w.cfg.ProbeTimeout)
	defer cancel()
	err := p.Check(cctx)
	return probe.Result{
		Kind:      p.Kind(),
		OK:        err == nil,
		Err:       err,
		CheckedAt: time.Now(),
	}
}

func (w *Waiter) mandatoryReady(ready map[string]bool) bool {
	for _, e := range w.entries {
		if !e.Optional && !ready[e.Prober.Kind()] {
			return false
		}
	}
	return true
}

func (w *Waiter) unmet(ready map[string]bool, lastFail map[string]probe.Result) []probe.Result {
	var unmet []probe.Result
	for _, e := range w.entries {
		if e.Optional || ready[e.Prober.Kind()] {
			continue
		}
		unmet = append(unmet, lastFail[e.Prober.Kind()])
	}
	return unmet
}
