// Package variation implements the (dtype, target, threads, extras)
// configuration space a kernel enumerates and a caller selects from.
package variation

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Dtype is the numeric precision axis.
type Dtype string

// Target is the execution-target axis.
type Target string

const (
	Float32 Dtype = "float32"
	Float64 Dtype = "float64"

	CPU Target = "cpu"
	GPU Target = "gpu"
)

// Canonical thread-mode names. Kernel-specific per-thread-count modes
// are named "t1".."tN" and are not enumerated here; Variation.Threads
// accepts any non-empty string, validated loosely by HasTPrefix below.
const (
	ThreadsAuto     = "auto"
	ThreadsSingle   = "single"
	ThreadsPhysical = "physical"
	ThreadsLogical  = "logical"
)

// Error is the sentinel kind for every variation-selection failure:
// unresolved CLI options, or a Selected() query before one is chosen.
type Error struct {
	Op  string
	Msg string
}

func (e *Error) Error() string { return fmt.Sprintf("variation: %s: %s", e.Op, e.Msg) }

func errf(op, format string, args ...any) error {
	return &Error{Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Variation is an immutable point in a kernel's configuration space:
// the three required axes plus any kernel-declared extra options.
type Variation struct {
	Dtype   Dtype
	Target  Target
	Threads string
	Extra   map[string]string
}

// HasTPrefix reports whether the thread mode is one of the redundant
// per-thread-count modes ("t1", "t2", …) that the benchmark driver's
// sweep skips (spec design note 9(a), preserved literally).
func (v Variation) HasTPrefix() bool {
	return len(v.Threads) > 0 && v.Threads[0] == 't'
}

// keys returns the sorted field names participating in the identity
// tuple: the three fixed axes, then sorted extra-option keys.
func (v Variation) keys() []string {
	extra := make([]string, 0, len(v.Extra))
	for k := range v.Extra {
		extra = append(extra, k)
	}
	sort.Strings(extra)
	return append([]string{"dtype", "target", "threads"}, extra...)
}

// ToDict renders the variation as a plain string map, suitable for
// canonical JSON encoding or for flattening into CLI flags.
func (v Variation) ToDict() map[string]string {
	out := make(map[string]string, len(v.Extra)+3)
	out["dtype"] = string(v.Dtype)
	out["target"] = string(v.Target)
	out["threads"] = v.Threads
	for k, val := range v.Extra {
		out[k] = val
	}
	return out
}

// Key returns the canonical sorted-key JSON encoding of the variation,
// used as its identity for set membership and the snapshot group key.
func (v Variation) Key() string {
	b, err := json.Marshal(orderedMap(v.ToDict()))
	if err != nil {
		// ToDict only ever produces strings; this cannot fail.
		panic(err)
	}
	return string(b)
}

// ToJSON is an alias for Key kept distinct in the API because callers
// reason about it as "the serialized form", not "the identity".
func (v Variation) ToJSON() (string, error) { return v.Key(), nil }

// FromJSON parses the canonical form produced by ToJSON/Key back into
// a Variation. Round-tripping must be lossless: FromJSON(v.ToJSON()) == v.
func FromJSON(s string) (Variation, error) {
	var raw map[string]string
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		return Variation{}, errf("from_json", "invalid json: %v", err)
	}
	v := Variation{Extra: map[string]string{}}
	for k, val := range raw {
		switch k {
		case "dtype":
			v.Dtype = Dtype(val)
		case "target":
			v.Target = Target(val)
		case "threads":
			v.Threads = val
		default:
			v.Extra[k] = val
		}
	}
	if len(v.Extra) == 0 {
		v.Extra = nil
	}
	return v, nil
}

// Equal reports whether two variations carry the same identity key.
func (v Variation) Equal(other Variation) bool { return v.Key() == other.Key() }

// orderedMap marshals a map with sorted keys, since encoding/json does
// this already for map[string]string — kept as a named type for
// clarity at the call site and so Key's intent reads as "canonical".
type orderedMap map[string]string

// Option is a single enumerated field: its name and the union of
// choices observed across a Variations set. Used to build CLI flags.
type Option struct {
	Name    string
	choices map[string]struct{}
}

// Choices returns the option's observed values, sorted.
func (o *Option) Choices() []string {
	out := make([]string, 0, len(o.choices))
	for c := range o.choices {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

func (o *Option) add(choice string) {
	if o.choices == nil {
		o.choices = map[string]struct{}{}
	}
	o.choices[choice] = struct{}{}
}

// Variations is the enumerated set of configuration points a kernel
// supports, plus an optional current selection.
type Variations struct {
	all      []Variation
	selected *Variation
}

// NewVariations builds a Variations set from an explicit enumeration.
// Kernels declare their supported points this way at meta-load time.
func NewVariations(points ...Variation) *Variations {
	return &Variations{all: points}
}

// All returns the enumerated variations, in declaration order.
func (vs *Variations) All() []Variation { return vs.all }

// ToOptions folds every field across the enumerated set into one
// Option per field name, with the union of choices observed. This is
// what a CLI enumerates as per-kernel sub-command flags.
func (vs *Variations) ToOptions() []*Option {
	byName := map[string]*Option{}
	var order []string
	for _, v := range vs.all {
		for k, val := range v.ToDict() {
			opt, ok := byName[k]
			if !ok {
				opt = &Option{Name: k}
				byName[k] = opt
				order = append(order, k)
			}
			opt.add(val)
		}
	}
	sort.Strings(order)
	out := make([]*Option, 0, len(order))
	for _, name := range order {
		out = append(out, byName[name])
	}
	return out
}

// Select resolves a CLI-style option map against the enumerated set,
// returning Error if no exact match exists. On success the match
// becomes the current Selected() value.
func (vs *Variations) Select(kwargs map[string]string) (Variation, error) {
	opts := vs.ToOptions()
	known := make(map[string]struct{}, len(opts))
	for _, o := range opts {
		known[o.Name] = struct{}{}
	}
	for k := range kwargs {
		if _, ok := known[k]; !ok {
			return Variation{}, errf("select", "unknown option %q", k)
		}
	}
	candidate := Variation{
		Dtype:   Dtype(kwargs["dtype"]),
		Target:  Target(kwargs["target"]),
		Threads: kwargs["threads"],
		Extra:   map[string]string{},
	}
	for k, v := range kwargs {
		switch k {
		case "dtype", "target", "threads":
		default:
			candidate.Extra[k] = v
		}
	}
	if len(candidate.Extra) == 0 {
		candidate.Extra = nil
	}
	for _, v := range vs.all {
		if v.Equal(candidate) {
			sel := v
			vs.selected = &sel
			return v, nil
		}
	}
	return Variation{}, errf("select", "no variation matches %v", kwargs)
}

// Selected returns the currently selected variation, or Error if
// Select has not yet been called successfully.
func (vs *Variations) Selected() (Variation, error) {
	if vs.selected == nil {
		return Variation{}, errf("selected", "no variation selected")
	}
	return *vs.selected, nil
}

// Contains reports whether v is one of the enumerated points.
func (vs *Variations) Contains(v Variation) bool {
	for _, c := range vs.all {
		if c.Equal(v) {
			return true
		}
	}
	return false
}
