// Package kernel implements the kernel registry: lazily-loaded
// descriptors that expose metadata (description, requirements,
// enumerated variations) without paying the cost of constructing an
// actual kernel implementation, plus a factory closure bound only
// when one is actually needed.
//
// The source this is translated from discovers kernels by listing a
// plugin directory and importing modules on demand. A compiled binary
// has no equivalent late-binding filesystem step, so discovery here is
// a build-time static registry: each kernel package registers itself
// via Register() from an init() function, and main imports the
// kernel packages it wants compiled in (see cmd/gravitation). The
// meta/cls split survives unchanged: Meta() is cheap and always
// available; Factory() is the expensive part, fetched once and cached.
package kernel

import (
	"fmt"
	"sort"
	"sync"

	"github.com/nbodybench/gravitation/pkg/universe"
	"github.com/nbodybench/gravitation/pkg/variation"
)

// Error is the sentinel kind for registry misuse: an unknown kernel
// name, or a descriptor used before its meta or class has been loaded.
type Error struct {
	Op  string
	Msg string
}

func (e *Error) Error() string { return fmt.Sprintf("kernel: %s: %s", e.Op, e.Msg) }

func errf(op, format string, args ...any) error {
	return &Error{Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Meta is the cheap, always-loadable description of a kernel.
type Meta struct {
	Description  string
	Requirements []string
	Variations   *variation.Variations
}

// MetaLoader returns a kernel's Meta without constructing anything.
// Kernel packages implement this as a plain function; it must be safe
// to call before any heavier kernel dependency is initialized.
type MetaLoader func() Meta

// Factory constructs the Hooks implementation for one selected
// variation. This is the "load_cls" side: importing/allocating
// whatever the concrete kernel needs (thread pools, GPU contexts) is
// deferred until a Factory is actually invoked.
type Factory func(v variation.Variation) (universe.Hooks, error)

// FactoryLoader returns a kernel's Factory. Kernel packages implement
// this as a plain function, called at most once per Descriptor.
type FactoryLoader func() (Factory, error)

// Descriptor is one registry entry: a name plus lazily-bound meta and
// factory loaders. Both loads are idempotent — calling Meta() or
// Factory() twice returns the identical cached value, matching the
// "called twice yield identical descriptors" property.
type Descriptor struct {
	Name string

	metaOnce sync.Once
	meta     Meta
	loadMeta MetaLoader

	clsOnce sync.Once
	factory Factory
	clsErr  error
	loadCls FactoryLoader
}

// Meta returns (loading on first call) this kernel's description,
// requirements and enumerated variations.
func (d *Descriptor) Meta() Meta {
	d.metaOnce.Do(func() {
		d.meta = d.loadMeta()
	})
	return d.meta
}

// Factory returns (loading on first call) this kernel's constructor.
// Returns Error if loadCls is nil (a descriptor can, in principle,
// expose meta-only for enumeration purposes without a usable
// implementation) or if the loader itself fails.
func (d *Descriptor) Factory() (Factory, error) {
	if d.loadCls == nil {
		return nil, errf("factory", "kernel %q has no implementation registered", d.Name)
	}
	d.clsOnce.Do(func() {
		d.factory, d.clsErr = d.loadCls()
	})
	if d.clsErr != nil {
		return nil, errf("factory", "kernel %q: %v", d.Name, d.clsErr)
	}
	return d.factory, nil
}

// Registry maps kernel name to descriptor. The zero value is usable;
// package-level Default is what kernel packages register into via
// init().
type Registry struct {
	mu    sync.Mutex
	descs map[string]*Descriptor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{descs: map[string]*Descriptor{}}
}

// Register adds a descriptor. Names starting with underscore are
// rejected, mirroring the source's directory-listing filter (kernel
// packages named with a leading underscore are treated as private
// helpers, never registry entries).
func (r *Registry) Register(name string, loadMeta MetaLoader, loadCls FactoryLoader) error {
	if name == "" || name[0] == '_' {
		return errf("register", "invalid kernel name %q", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.descs[name]; exists {
		return errf("register", "kernel %q already registered", name)
	}
	r.descs[name] = &Descriptor{Name: name, loadMeta: loadMeta, loadCls: loadCls}
	return nil
}

// Get returns the descriptor for name, or Error if unknown.
func (r *Registry) Get(name string) (*Descriptor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.descs[name]
	if !ok {
		return nil, errf("get", "unknown kernel %q", name)
	}
	return d, nil
}

// Names returns every registered kernel name, sorted.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.descs))
	for name := range r.descs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Default is the process-wide registry kernel packages register into
// from their init() functions.
var Default = NewRegistry()
