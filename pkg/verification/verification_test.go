package verification

import (
	"path/filepath"
	"testing"

	"github.com/nbodybench/gravitation/pkg/archive"
	"github.com/nbodybench/gravitation/pkg/mass"
	"github.com/nbodybench/gravitation/pkg/platform"
	"github.com/nbodybench/gravitation/pkg/universe"
	"github.com/nbodybench/gravitation/pkg/variation"
)

type noopHooks struct{}

func (noopHooks) IterateStage1(u *universe.Universe) error { return nil }

func saveUniverse(t *testing.T, arch *archive.Archive, key archive.GroupKey, positions [][3]float64) {
	t.Helper()
	u, err := universe.New(universe.Config{
		T: 0.5, G: 1.0, ScaleM: 1.0, ScaleR: 1.0,
		Variation: key.Variation, Platform: key.Platform, Hooks: noopHooks{},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for i, r := range positions {
		if err := u.CreateMass(namesFor(len(positions))[i], mass.Vec3(r), mass.Vec3{}, 1.0, false); err != nil {
			t.Fatal(err)
		}
	}
	if err := arch.Save(key, u); err != nil {
		t.Fatalf("Save: %v", err)
	}
}

func namesFor(n int) []string {
	names := make([]string, n)
	for i := range names {
		if i == 0 {
			names[i] = "back hole"
			continue
		}
		names[i] = "disk star"
	}
	return names
}

var naiveVariation = variation.Variation{Dtype: variation.Float64, Target: variation.CPU, Threads: variation.ThreadsSingle}
var linuxPlatform = platform.Platform{OSSystem: "linux"}

func TestVerifyReportsDistanceAgainstReference(t *testing.T) {
	dir := t.TempDir()
	arch, err := archive.Open(filepath.Join(dir, "archive.bin"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	refKey := archive.GroupKey{Kernel: "naive", Length: 2, Iteration: 0, Variation: naiveVariation, Platform: linuxPlatform}
	saveUniverse(t, arch, refKey, [][3]float64{{0, 0, 0}, {1, 0, 0}})

	fastVariation := variation.Variation{Dtype: variation.Float32, Target: variation.CPU, Threads: variation.ThreadsSingle}
	targetKey := archive.GroupKey{Kernel: "fast", Length: 2, Iteration: 0, Variation: fastVariation, Platform: linuxPlatform}
	saveUniverse(t, arch, targetKey, [][3]float64{{0, 0, 0}, {1.5, 0, 0}})

	results, err := Verify(arch, Reference{Kernel: "naive", Iteration: 0, Variation: naiveVariation, Platform: linuxPlatform})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("len(results) = %d, want 1", len(results))
	}
	r := results[0]
	if len(r.Dists) != 2 {
		t.Fatalf("len(Dists) = %d, want 2", len(r.Dists))
	}
	if r.Dists[0] != 0 {
		t.Fatalf("back hole distance = %v, want 0", r.Dists[0])
	}
	if r.Dists[1] != 0.5 {
		t.Fatalf("disk star distance = %v, want 0.5", r.Dists[1])
	}
	if r.LengthLabels[0] != "2^1" {
		t.Fatalf("length label = %q, want 2^1", r.LengthLabels[0])
	}
}

func TestVerifySkipsReferenceAgainstItself(t *testing.T) {
	dir := t.TempDir()
	arch, err := archive.Open(filepath.Join(dir, "archive.bin"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	refKey := archive.GroupKey{Kernel: "naive", Length: 2, Iteration: 0, Variation: naiveVariation, Platform: linuxPlatform}
	saveUniverse(t, arch, refKey, [][3]float64{{0, 0, 0}})

	results, err := Verify(arch, Reference{Kernel: "naive", Iteration: 0, Variation: naiveVariation, Platform: linuxPlatform})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected no results comparing the reference against itself, got %+v", results)
	}
}

func TestVerifyIgnoresZeroKernel(t *testing.T) {
	dir := t.TempDir()
	arch, err := archive.Open(filepath.Join(dir, "archive.bin"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	zeroKey := archive.ZeroKey(2)
	saveUniverse(t, arch, zeroKey, [][3]float64{{0, 0, 0}})

	refKey := archive.GroupKey{Kernel: "naive", Length: 2, Iteration: 0, Variation: naiveVariation, Platform: linuxPlatform}
	saveUniverse(t, arch, refKey, [][3]float64{{0, 0, 0}})

	results, err := Verify(arch, Reference{Kernel: "naive", Iteration: 0, Variation: naiveVariation, Platform: linuxPlatform})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected the synthetic zero kernel to never appear as a comparison target, got %+v", results)
	}
}

func TestVerifySkipsLengthsMissingEitherSide(t *testing.T) {
	dir := t.TempDir()
	arch, err := archive.Open(filepath.Join(dir, "archive.bin"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	refKey := archive.GroupKey{Kernel: "naive", Length: 2, Iteration: 0, Variation: naiveVariation, Platform: linuxPlatform}
	saveUniverse(t, arch, refKey, [][3]float64{{0, 0, 0}})

	fastVariation := variation.Variation{Dtype: variation.Float32, Target: variation.CPU, Threads: variation.ThreadsSingle}
	targetKey := archive.GroupKey{Kernel: "fast", Length: 4, Iteration: 0, Variation: fastVariation, Platform: linuxPlatform}
	saveUniverse(t, arch, targetKey, [][3]float64{{0, 0, 0}})

	results, err := Verify(arch, Reference{Kernel: "naive", Iteration: 0, Variation: naiveVariation, Platform: linuxPlatform})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("len(results) = %d, want 1", len(results))
	}
	if len(results[0].Dists) != 0 {
		t.Fatalf("expected no distances for a length missing on the reference side, got %+v", results[0].Dists)
	}
}
