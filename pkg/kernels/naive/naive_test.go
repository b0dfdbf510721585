package naive

import (
	"math"
	"testing"

	"github.com/nbodybench/gravitation/pkg/kernel"
	"github.com/nbodybench/gravitation/pkg/mass"
	"github.com/nbodybench/gravitation/pkg/platform"
	"github.com/nbodybench/gravitation/pkg/universe"
	"github.com/nbodybench/gravitation/pkg/variation"
)

func TestRegisteredInDefaultRegistry(t *testing.T) {
	d, err := kernel.Default.Get(Name)
	if err != nil {
		t.Fatalf("Get(%q): %v", Name, err)
	}
	meta := d.Meta()
	if meta.Description == "" {
		t.Fatal("expected non-empty description")
	}
	if len(meta.Variations.All()) == 0 {
		t.Fatal("expected at least one enumerated variation")
	}
}

func TestTwoBodyAttraction(t *testing.T) {
	factory, err := func() (kernel.Factory, error) { return loadCls() }()
	if err != nil {
		t.Fatalf("loadCls: %v", err)
	}
	v := variation.Variation{Dtype: variation.Float64, Target: variation.CPU, Threads: variation.ThreadsSingle}
	hooks, err := factory(v)
	if err != nil {
		t.Fatalf("factory: %v", err)
	}

	u, err := universe.New(universe.Config{
		T: 1.0, G: 1.0, ScaleM: 1.0, ScaleR: 1.0,
		Variation: v, Platform: platform.Platform{}, Hooks: hooks,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := u.CreateMass("a", mass.Vec3{-1, 0, 0}, mass.Vec3{}, 10.0, false); err != nil {
		t.Fatal(err)
	}
	if err := u.CreateMass("b", mass.Vec3{1, 0, 0}, mass.Vec3{}, 10.0, false); err != nil {
		t.Fatal(err)
	}
	if err := u.Start(); err != nil {
		t.Fatal(err)
	}
	if err := u.Step(true); err != nil {
		t.Fatalf("Step: %v", err)
	}

	masses := u.Masses()
	// After one step, "a" (at x=-1) must have accelerated toward "b"
	// (positive x direction), and vice versa — mutual attraction.
	if masses[0].V[0] <= 0 {
		t.Fatalf("mass a did not accelerate toward b: v=%v", masses[0].V)
	}
	if masses[1].V[0] >= 0 {
		t.Fatalf("mass b did not accelerate toward a: v=%v", masses[1].V)
	}
	if math.Abs(masses[0].V[0]+masses[1].V[0]) > 1e-9 {
		t.Fatalf("momentum not conserved by symmetry: va=%v vb=%v", masses[0].V, masses[1].V)
	}
}

// TestFloat32VariationNarrowsAcceleration pins down that the Float32
// and Float64 variations are not numerically identical: Float32 must
// round every accumulated acceleration component through float32.
func TestFloat32VariationNarrowsAcceleration(t *testing.T) {
	runOnce := func(dtype variation.Dtype) mass.Vec3 {
		t.Helper()
		factory, err := loadCls()
		if err != nil {
			t.Fatalf("loadCls: %v", err)
		}
		v := variation.Variation{Dtype: dtype, Target: variation.CPU, Threads: variation.ThreadsSingle}
		hooks, err := factory(v)
		if err != nil {
			t.Fatalf("factory: %v", err)
		}
		u, err := universe.New(universe.Config{
			T: 1.0, G: 1.0, ScaleM: 1.0, ScaleR: 1.0,
			Variation: v, Platform: platform.Platform{}, Hooks: hooks,
		})
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if err := u.CreateMass("a", mass.Vec3{-1.0000001, 0, 0}, mass.Vec3{}, 10.000003, false); err != nil {
			t.Fatal(err)
		}
		if err := u.CreateMass("b", mass.Vec3{1.0000002, 0, 0}, mass.Vec3{}, 10.000007, false); err != nil {
			t.Fatal(err)
		}
		if err := u.Start(); err != nil {
			t.Fatal(err)
		}
		if err := hooks.(*Kernel).PushStage1(u); err != nil {
			t.Fatal(err)
		}
		if err := hooks.IterateStage1(u); err != nil {
			t.Fatalf("IterateStage1: %v", err)
		}
		return u.Masses()[0].A
	}

	a32 := runOnce(variation.Float32)
	a64 := runOnce(variation.Float64)

	if a32 == a64 {
		t.Fatalf("float32 and float64 accelerations matched exactly (%v); narrowing had no effect", a32)
	}
	for axis := range a32 {
		if a32[axis] != float64(float32(a64[axis])) {
			t.Fatalf("axis %d: float32 result %v, want float64(float32(%v)) = %v", axis, a32[axis], a64[axis], float64(float32(a64[axis])))
		}
	}
}
