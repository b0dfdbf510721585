// Package worker implements the Worker process (spec §4.4): runs one
// (kernel, variation, length) benchmark point to completion in
// isolation, emitting a line-delimited structured log on stdout and
// checkpointing state to a shared archive at requested iterations.
package worker

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/nbodybench/gravitation/pkg/archive"
	"github.com/nbodybench/gravitation/pkg/benchlog"
	"github.com/nbodybench/gravitation/pkg/kernel"
	"github.com/nbodybench/gravitation/pkg/platform"
	"github.com/nbodybench/gravitation/pkg/profiling"
	"github.com/nbodybench/gravitation/pkg/timers"
	"github.com/nbodybench/gravitation/pkg/universe"
	"github.com/nbodybench/gravitation/pkg/variation"
)

// Error is the terminal wrapper the worker raises internally so Run
// can surface a single non-zero-exit-worthy error cleanly, after
// having already emitted the "stop" record carrying the formatted
// cause as its status.
type Error struct {
	Cause error
}

func (e *Error) Error() string { return fmt.Sprintf("worker: %v", e.Cause) }
func (e *Error) Unwrap() error  { return e.Cause }

// Config is the worker's input, corresponding directly to the
// command-line form spec §4.4 specifies for how the driver spawns it.
type Config struct {
	KernelName       string
	Variation        variation.Variation
	Length           int
	ArchivePath      string
	Checkpoints      []uint64
	ReadInitialState bool
	MinIterations    uint64
	MinTotalRuntimeS float64
	Registry         *kernel.Registry

	// Physical/integration constants. Zero values are replaced with
	// the reference defaults (see normalize), matching the rest of
	// this module's Config-with-defaults convention.
	T      float64
	G      float64
	ScaleM float64
	ScaleR float64

	// Diagnose, when set, collects a pkg/profiling host snapshot and
	// records it under the "diagnostics" key before the first step.
	// Best-effort: a collection failure is logged as an "info" record
	// rather than aborting the run, since diagnostics are only ever
	// useful context for explaining a result, never required to
	// produce one.
	Diagnose bool

	Out io.Writer
}

func (c *Config) normalize() {
	if c.T == 0 {
		c.T = 1.0
	}
	if c.G == 0 {
		c.G = 6.674e-11
	}
	if c.ScaleM == 0 {
		c.ScaleM = 1.0
	}
	if c.ScaleR == 0 {
		c.ScaleR = 1.0
	}
	if c.Registry == nil {
		c.Registry = kernel.Default
	}
}

func checkpointSet(checkpoints []uint64) map[uint64]struct{} {
	s := make(map[uint64]struct{}, len(checkpoints))
	for _, c := range checkpoints {
		s[c] = struct{}{}
	}
	return s
}

func maxUint64(values []uint64) uint64 {
	var max uint64
	for _, v := range values {
		if v > max {
			max = v
		}
	}
	return max
}

// Run executes one benchmark point and returns nil on a clean "ok"
// finish. Any failure in construction, iteration, or checkpointing is
// recorded as a "stop" record carrying the formatted cause, and
// returned wrapped in Error so the CLI layer can exit non-zero.
func Run(cfg Config) (err error) {
	cfg.normalize()
	emit := &recorder{out: cfg.Out}

	plat := platform.FromCurrent()
	checkpoints := checkpointSet(cfg.Checkpoints)

	descriptor, err := cfg.Registry.Get(cfg.KernelName)
	if err != nil {
		return exitWith(emit, nil, err)
	}
	factory, err := descriptor.Factory()
	if err != nil {
		return exitWith(emit, nil, err)
	}
	hooks, err := factory(cfg.Variation)
	if err != nil {
		return exitWith(emit, nil, err)
	}

	wlog := benchlog.NewWorkerLog(cfg.KernelName, cfg.Variation, plat, cfg.Length)
	if err := emit.record("start", wlog); err != nil {
		return exitWith(emit, nil, err)
	}

	if cfg.Diagnose {
		if diag, err := profiling.NewCollector().Collect(context.Background()); err == nil {
			_ = emit.record("diagnostics", diag)
		} else {
			_ = emit.record("info", fmt.Sprintf("diagnostics collection failed: %v", err))
		}
	}

	arch, err := archive.Open(cfg.ArchivePath)
	if err != nil {
		return exitWith(emit, nil, err)
	}

	var u *universe.Universe
	if cfg.ReadInitialState {
		zero, err := archive.Load(arch, archive.ZeroKey(cfg.Length), archive.NoopHooks{})
		if err != nil {
			return exitWith(emit, nil, err)
		}
		// The zero snapshot carries no particular kernel/variation — it
		// exists only to be shared across every worker that opts into
		// it. Rebind it to this worker's real kernel, variation and
		// platform so the rest of Run treats it identically to a fresh
		// galaxy.
		u, err = rebind(zero, hooks, cfg.Variation, plat)
		if err != nil {
			return exitWith(emit, nil, err)
		}
	} else {
		u, err = universe.FromGalaxy(universe.DefaultGalaxyConfig(cfg.Length), universe.Config{
			T: cfg.T, G: cfg.G, ScaleM: cfg.ScaleM, ScaleR: cfg.ScaleR,
			Variation: cfg.Variation, Platform: plat, Hooks: hooks,
		})
		if err != nil {
			return exitWith(emit, nil, err)
		}
	}

	if err := u.Start(); err != nil {
		return exitWith(emit, u, err)
	}

	minIterations := cfg.MinIterations
	if m := maxUint64(cfg.Checkpoints); m > minIterations {
		minIterations = m
	}
	minTotalRuntimeNs := int64(cfg.MinTotalRuntimeS * 1e9)

	// The worker disables automatic GC for the duration of the
	// benchmark and triggers collection explicitly around the timed
	// region, so collector pauses do not contaminate runtime
	// measurements.
	prevGC := debug.SetGCPercent(-1)
	defer debug.SetGCPercent(prevGC)

	save := func(iteration uint64) error {
		key := archive.GroupKey{Kernel: cfg.KernelName, Length: cfg.Length, Iteration: iteration, Variation: cfg.Variation, Platform: plat}
		if err := arch.Save(key, u); err != nil {
			return err
		}
		return emit.record("info", fmt.Sprintf("checkpointed iteration %d", iteration))
	}

	if _, ok := checkpoints[0]; ok {
		if err := save(0); err != nil {
			return exitWith(emit, u, err)
		}
	}

	rt := timers.NewBestRunTimer()
	gt := timers.NewBestRunTimer()

	step := func() error {
		runtimeNs, gctimeNs, err := stepOnce(u, rt, gt)
		if err != nil {
			return err
		}
		iteration := u.Iteration()
		if _, ok := checkpoints[iteration]; ok {
			if err := save(iteration); err != nil {
				return err
			}
		}
		rtMin, _ := rt.Min()
		gtMin, _ := gt.Min()
		return emit.record("step", benchlog.StepLog{
			Iteration: iteration, RuntimeNs: runtimeNs, GCTimeNs: gctimeNs,
			RuntimeMinNs: rtMin, GCTimeMinNs: gtMin,
		})
	}

	elapsed := timers.NewElapsedTimer()
	for i := uint64(0); i < minIterations; i++ {
		if err := step(); err != nil {
			return exitWith(emit, u, err)
		}
	}

	elapsedNs := elapsed.Elapsed()
	if elapsedNs < minTotalRuntimeNs {
		if elapsedNs <= 0 {
			elapsedNs = 1
		}
		remaining := minTotalRuntimeNs - elapsedNs
		extra := (remaining / elapsedNs) * int64(minIterations)
		for i := int64(0); i < extra; i++ {
			if err := step(); err != nil {
				return exitWith(emit, u, err)
			}
		}
	} else {
		_ = emit.record("info", "Minimum steps sufficient.")
	}

	if err := u.Stop(); err != nil {
		return exitWith(emit, nil, err)
	}
	return emit.record("stop", benchlog.StatusOK)
}

// stepOnce runs exactly one simulation iteration, timing the
// acceleration computation (iterate_stage1) and the garbage collector
// pass separately, then runs the untimed stage-2/3 advance. Returns the
// two measured interval durations in nanoseconds.
func stepOnce(u *universe.Universe, rt, gt *timers.BestRunTimer) (runtimeNs, gctimeNs int64, err error) {
	if err := u.PushStage1(); err != nil {
		return 0, 0, err
	}
	runtime.GC()
	if err := rt.Start(); err != nil {
		return 0, 0, err
	}
	if err := u.IterateStage1(); err != nil {
		return 0, 0, err
	}
	runtimeNs, err = rt.Stop()
	if err != nil {
		return 0, 0, err
	}

	if err := gt.Start(); err != nil {
		return 0, 0, err
	}
	runtime.GC()
	gctimeNs, err = gt.Stop()
	if err != nil {
		return 0, 0, err
	}

	if err := u.Advance(); err != nil {
		return 0, 0, err
	}
	return runtimeNs, gctimeNs, nil
}

// exitWith emits a terminal "stop" record carrying cause's formatted
// message (or, if u is non-nil and still started, attempts a clean
// Stop first) and returns Error so Run's caller can exit non-zero.
func exitWith(emit *recorder, u *universe.Universe, cause error) error {
	if u != nil && u.State() == universe.Started {
		_ = u.Stop()
	}
	_ = emit.record("stop", cause.Error())
	return &Error{Cause: cause}
}

// rebind constructs a fresh Universe sharing loaded's scaled physical
// constants and mass layout, but bound to hooks instead of NoopHooks
// and stamped with this worker's own variation/platform identity
// rather than whatever the shared zero snapshot carried.
func rebind(loaded *universe.Universe, hooks universe.Hooks, v variation.Variation, p platform.Platform) (*universe.Universe, error) {
	u, err := universe.New(universe.Config{
		T: loaded.T(), G: loaded.G(), ScaleM: loaded.ScaleM(), ScaleR: loaded.ScaleR(),
		Variation: v, Platform: p, Hooks: hooks,
		Meta: loaded.Meta(), Scaled: true,
	})
	if err != nil {
		return nil, err
	}
	for _, m := range loaded.Masses() {
		if err := u.CreateMass(m.Name, m.R, m.V, m.M, true); err != nil {
			return nil, err
		}
	}
	return u, nil
}

// recorder writes JSON-line wire records to Out, flushing after every
// line (the driver's live log file is opened for append and flushed
// after every record; the worker's stdout pipe gets the same
// treatment so the driver never blocks waiting on a buffered write).
type recorder struct {
	out io.Writer
}

func (r *recorder) record(key string, value any) error {
	line, err := benchlog.Encode(key, value, time.Now().UnixNano())
	if err != nil {
		return err
	}
	if r.out == nil {
		return nil
	}
	if _, err := io.WriteString(r.out, line+"\n"); err != nil {
		return err
	}
	if f, ok := r.out.(interface{ Sync() error }); ok {
		_ = f.Sync()
	}
	return nil
}
