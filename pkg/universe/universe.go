// Package universe implements the point-mass simulation state machine:
// staged integration, the galaxy initializer, and the kernel hook
// contract every compute kernel must satisfy.
package universe

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/nbodybench/gravitation/pkg/mass"
	"github.com/nbodybench/gravitation/pkg/platform"
	"github.com/nbodybench/gravitation/pkg/variation"
)

// State is the universe lifecycle: masses may only be added in
// Preinit; the only legal transitions are Preinit->Started->Stopped.
type State int

const (
	Preinit State = iota
	Started
	Stopped
)

func (s State) String() string {
	switch s {
	case Preinit:
		return "preinit"
	case Started:
		return "started"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Error is the sentinel kind for every universe state-machine
// violation: masses added after start, stepping before start, NaN at
// finalization, stopping twice, and so on.
type Error struct {
	Op  string
	Msg string
}

func (e *Error) Error() string { return fmt.Sprintf("universe: %s: %s", e.Op, e.Msg) }

func errf(op, format string, args ...any) error {
	return &Error{Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Hooks is the contract a kernel must satisfy. IterateStage1 is the
// only required method — the per-body acceleration computation.
// push_stage1/pull_stage1/pull_stage2/start_kernel/stop_kernel are
// optional and are discovered via the small interfaces below, checked
// with a type assertion against the concrete Hooks value a kernel
// factory returns; a kernel that doesn't need a hook simply doesn't
// implement that interface.
type Hooks interface {
	// IterateStage1 computes per-body accelerations into each mass's
	// accumulator. Must not mutate r or v; must not overlap with any
	// other stage of any iteration.
	IterateStage1(u *Universe) error
}

// StartKernelHook is implemented by kernels that need to allocate a
// private layout (e.g. GPU buffers, thread pools) when the universe
// starts.
type StartKernelHook interface {
	StartKernel(u *Universe) error
}

// StopKernelHook mirrors StartKernelHook for teardown.
type StopKernelHook interface {
	StopKernel(u *Universe) error
}

// PushStage1Hook publishes current mass positions into a kernel's
// private layout before IterateStage1 runs.
type PushStage1Hook interface {
	PushStage1(u *Universe) error
}

// PullStage1Hook syncs a kernel's private acceleration layout back
// into each mass's accumulator after IterateStage1 returns.
type PullStage1Hook interface {
	PullStage1(u *Universe) error
}

// PullStage2Hook runs after the stage-2 Euler move, for kernels that
// keep a shadow copy of position/velocity in their own layout.
type PullStage2Hook interface {
	PullStage2(u *Universe) error
}

// Universe is an ordered collection of masses plus the physical and
// integration constants shared by all of them.
type Universe struct {
	masses []*mass.Mass

	t, step float64
	g       float64 // pre-scaled: G * scaleR^3 / scaleM
	scaleM  float64
	scaleR  float64

	state     State
	variation variation.Variation
	platform  platform.Platform
	iteration uint64
	meta      map[string]string

	hooks Hooks
}

// Config carries the constructor arguments validated by New.
type Config struct {
	T         float64 // time step, strictly positive
	G         float64 // unscaled gravitational constant, strictly positive
	ScaleM    float64 // mass scale factor, strictly positive
	ScaleR    float64 // length/velocity scale factor, strictly positive
	Variation variation.Variation
	Platform  platform.Platform
	Hooks     Hooks
	Meta      map[string]string

	// Scaled, when true, treats G as already pre-scaled (used when
	// reloading from a snapshot, whose attributes store the
	// pre-scaled value directly).
	Scaled bool
}

// New validates cfg and returns an empty Preinit universe.
func New(cfg Config) (*Universe, error) {
	if cfg.T <= 0 {
		return nil, errf("new", "T must be > 0, got %v", cfg.T)
	}
	if cfg.G <= 0 {
		return nil, errf("new", "G must be > 0, got %v", cfg.G)
	}
	if cfg.ScaleM <= 0 {
		return nil, errf("new", "scale_m must be > 0, got %v", cfg.ScaleM)
	}
	if cfg.ScaleR <= 0 {
		return nil, errf("new", "scale_r must be > 0, got %v", cfg.ScaleR)
	}
	if cfg.Hooks == nil {
		return nil, errf("new", "hooks must not be nil")
	}
	g := cfg.G
	if !cfg.Scaled {
		g = cfg.G * math.Pow(cfg.ScaleR, 3) / cfg.ScaleM
	}
	meta := cfg.Meta
	if meta == nil {
		meta = map[string]string{}
	}
	return &Universe{
		step:      cfg.T,
		g:         g,
		scaleM:    cfg.ScaleM,
		scaleR:    cfg.ScaleR,
		state:     Preinit,
		variation: cfg.Variation,
		platform:  cfg.Platform,
		meta:      meta,
		hooks:     cfg.Hooks,
	}, nil
}

// Len returns the current number of masses.
func (u *Universe) Len() int { return len(u.masses) }

// Masses returns the owned masses in index order. Callers must not
// retain the slice past the next CreateMass/shuffle call.
func (u *Universe) Masses() []*mass.Mass { return u.masses }

// T returns the integration time step.
func (u *Universe) T() float64 { return u.step }

// G returns the pre-scaled gravitational constant.
func (u *Universe) G() float64 { return u.g }

// ScaleM returns the mass scale factor.
func (u *Universe) ScaleM() float64 { return u.scaleM }

// ScaleR returns the length/velocity scale factor.
func (u *Universe) ScaleR() float64 { return u.scaleR }

// SimTime returns the accumulated simulation time t.
func (u *Universe) SimTime() float64 { return u.t }

// Iteration returns the monotone iteration counter.
func (u *Universe) Iteration() uint64 { return u.iteration }

// State returns the current lifecycle state.
func (u *Universe) State() State { return u.state }

// Variation returns the universe's active variation.
func (u *Universe) Variation() variation.Variation { return u.variation }

// Platform returns the universe's owning platform.
func (u *Universe) Platform() platform.Platform { return u.platform }

// Meta returns the opaque meta mapping carried alongside the universe.
func (u *Universe) Meta() map[string]string { return u.meta }

// CreateMass adds a mass to the universe. Only legal while Preinit.
// Unless scaled is true, r/v are multiplied by ScaleR and m by ScaleM
// before storage.
func (u *Universe) CreateMass(name string, r, v mass.Vec3, m float64, scaled bool) error {
	if u.state != Preinit {
		return errf("create_mass", "cannot add mass in state %s", u.state)
	}
	if !scaled {
		r = r.Scale(u.scaleR)
		v = v.Scale(u.scaleR)
		m = m * u.scaleM
	}
	u.masses = append(u.masses, mass.New(name, r, v, m))
	return nil
}

// Shuffle randomizes mass index order in place, so kernels cannot rely
// on index locality reflecting anything physical.
func (u *Universe) Shuffle(rng *rand.Rand) {
	rng.Shuffle(len(u.masses), func(i, j int) {
		u.masses[i], u.masses[j] = u.masses[j], u.masses[i]
	})
}

// Start transitions Preinit -> Started and invokes StartKernel if the
// universe's hooks implement it.
func (u *Universe) Start() error {
	if u.state != Preinit {
		return errf("start", "cannot start from state %s", u.state)
	}
	if h, ok := u.hooks.(StartKernelHook); ok {
		if err := h.StartKernel(u); err != nil {
			return errf("start", "start_kernel: %v", err)
		}
	}
	u.state = Started
	return nil
}

// Stop transitions Started -> Stopped and invokes StopKernel if
// implemented.
func (u *Universe) Stop() error {
	if u.state != Started {
		return errf("stop", "cannot stop from state %s", u.state)
	}
	if h, ok := u.hooks.(StopKernelHook); ok {
		if err := h.StopKernel(u); err != nil {
			return errf("stop", "stop_kernel: %v", err)
		}
	}
	u.state = Stopped
	return nil
}

// PushStage1 invokes the optional push_stage1 hook. Safe to call even
// if the hooks value does not implement it.
func (u *Universe) PushStage1() error {
	if h, ok := u.hooks.(PushStage1Hook); ok {
		if err := h.PushStage1(u); err != nil {
			return errf("push_stage1", "%v", err)
		}
	}
	return nil
}

// IterateStage1 invokes the kernel's required acceleration
// computation.
func (u *Universe) IterateStage1() error {
	if err := u.hooks.IterateStage1(u); err != nil {
		return errf("iterate_stage1", "%v", err)
	}
	return nil
}

// Advance runs pull_stage1, the stage-2 Euler move of every mass,
// pull_stage2, and stage-3 (time/iteration advance plus the
// finite-value assertion). It does not call push_stage1 or
// IterateStage1 — callers that need the full step should call those
// first (or use Step), or, like the worker, call them separately so
// the acceleration computation can be timed in isolation.
func (u *Universe) Advance() error {
	if u.state != Started {
		return errf("advance", "cannot advance from state %s", u.state)
	}
	if h, ok := u.hooks.(PullStage1Hook); ok {
		if err := h.PullStage1(u); err != nil {
			return errf("advance", "pull_stage1: %v", err)
		}
	}
	for _, m := range u.masses {
		m.Move(u.step)
	}
	if h, ok := u.hooks.(PullStage2Hook); ok {
		if err := h.PullStage2(u); err != nil {
			return errf("advance", "pull_stage2: %v", err)
		}
	}
	u.t += u.step
	u.iteration++
	for _, m := range u.masses {
		if err := m.AssertFinite(); err != nil {
			return errf("advance", "iteration %d: %v", u.iteration, err)
		}
	}
	return nil
}

// Step runs one full simulation time step. When stage1 is true (the
// common case) it runs PushStage1 and IterateStage1 before Advance;
// when false it runs only Advance, for callers (like the worker) that
// already ran the stage-1 phase themselves under separate timers.
func (u *Universe) Step(stage1 bool) error {
	if stage1 {
		if err := u.PushStage1(); err != nil {
			return err
		}
		if err := u.IterateStage1(); err != nil {
			return err
		}
	}
	return u.Advance()
}

// AssertFinite checks every owned mass; used after reload or whenever
// a caller wants to validate state outside of Advance's own check.
func (u *Universe) AssertFinite() error {
	for _, m := range u.masses {
		if err := m.AssertFinite(); err != nil {
			return err
		}
	}
	return nil
}
