package worker

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nbodybench/gravitation/pkg/archive"
	"github.com/nbodybench/gravitation/pkg/benchlog"
	"github.com/nbodybench/gravitation/pkg/kernel"
	"github.com/nbodybench/gravitation/pkg/platform"
	"github.com/nbodybench/gravitation/pkg/universe"
	"github.com/nbodybench/gravitation/pkg/variation"
)

// zeroAccelKernel never moves anything, so step counts and
// checkpoints can be asserted without caring about numerical drift.
type zeroAccelKernel struct{}

func (zeroAccelKernel) IterateStage1(u *universe.Universe) error { return nil }

func testRegistry(t *testing.T) *kernel.Registry {
	t.Helper()
	r := kernel.NewRegistry()
	err := r.Register("test",
		func() kernel.Meta {
			return kernel.Meta{Variations: variation.NewVariations(
				variation.Variation{Dtype: variation.Float64, Target: variation.CPU, Threads: variation.ThreadsSingle},
			)}
		},
		func() (kernel.Factory, error) {
			return func(v variation.Variation) (universe.Hooks, error) {
				return zeroAccelKernel{}, nil
			}, nil
		},
	)
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func baseConfig(t *testing.T, archivePath string) Config {
	t.Helper()
	return Config{
		KernelName:    "test",
		Variation:     variation.Variation{Dtype: variation.Float64, Target: variation.CPU, Threads: variation.ThreadsSingle},
		Length:        4,
		ArchivePath:   archivePath,
		MinIterations: 3,
		Registry:      testRegistry(t),
	}
}

func decodeLines(t *testing.T, out string) []benchlog.Record {
	t.Helper()
	var recs []benchlog.Record
	for _, line := range strings.Split(strings.TrimRight(out, "\n"), "\n") {
		if line == "" {
			continue
		}
		rec, err := benchlog.Decode(line)
		if err != nil {
			t.Fatalf("Decode(%q): %v", line, err)
		}
		recs = append(recs, rec)
	}
	return recs
}

func TestRunEmitsStartStepsAndStop(t *testing.T) {
	dir := t.TempDir()
	var out bytes.Buffer
	cfg := baseConfig(t, filepath.Join(dir, "archive.bin"))
	cfg.Out = &out

	if err := Run(cfg); err != nil {
		t.Fatalf("Run: %v", err)
	}

	recs := decodeLines(t, out.String())
	if len(recs) < 2 {
		t.Fatalf("expected at least start+stop records, got %d", len(recs))
	}
	if recs[0].Key != "start" {
		t.Fatalf("first record key = %q, want start", recs[0].Key)
	}
	last := recs[len(recs)-1]
	if last.Key != "stop" {
		t.Fatalf("last record key = %q, want stop", last.Key)
	}

	var steps int
	for _, r := range recs {
		if r.Key == "step" {
			steps++
		}
	}
	if steps != int(cfg.MinIterations) {
		t.Fatalf("steps = %d, want %d", steps, cfg.MinIterations)
	}
}

func TestRunWithDiagnoseDoesNotFailTheRun(t *testing.T) {
	dir := t.TempDir()
	var out bytes.Buffer
	cfg := baseConfig(t, filepath.Join(dir, "archive.bin"))
	cfg.Out = &out
	cfg.Diagnose = true

	if err := Run(cfg); err != nil {
		t.Fatalf("Run: %v", err)
	}

	recs := decodeLines(t, out.String())
	if recs[0].Key != "start" {
		t.Fatalf("first record key = %q, want start", recs[0].Key)
	}
	// Diagnostics collection is best-effort: either a "diagnostics"
	// record or a fallback "info" record must immediately follow
	// "start", but the run must still complete either way.
	if recs[1].Key != "diagnostics" && recs[1].Key != "info" {
		t.Fatalf("second record key = %q, want diagnostics or info", recs[1].Key)
	}
	if recs[len(recs)-1].Key != "stop" {
		t.Fatalf("last record key = %q, want stop", recs[len(recs)-1].Key)
	}
}

func TestRunWritesCheckpoints(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "archive.bin")
	var out bytes.Buffer
	cfg := baseConfig(t, archivePath)
	cfg.Checkpoints = []uint64{0, 2}
	cfg.Out = &out

	if err := Run(cfg); err != nil {
		t.Fatalf("Run: %v", err)
	}

	arch, err := archive.Open(archivePath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	plat := platform.FromCurrent()
	for _, iteration := range cfg.Checkpoints {
		key := archive.GroupKey{Kernel: cfg.KernelName, Length: cfg.Length, Iteration: iteration, Variation: cfg.Variation, Platform: plat}
		if !arch.Has(key) {
			t.Fatalf("expected checkpoint at iteration %d to be saved", iteration)
		}
	}
}

// seedArchive writes the shared "zero" snapshot a worker started with
// --read_initial_state reloads, mirroring what the driver's
// common-initial-state mode does up front.
func seedArchive(t *testing.T, archivePath string, length int) {
	t.Helper()
	arch, err := archive.Open(archivePath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	u, err := universe.FromGalaxy(universe.DefaultGalaxyConfig(length), universe.Config{
		T: 1.0, G: 6.674e-11, ScaleM: 1.0, ScaleR: 1.0,
		Variation: variation.Variation{}, Platform: platform.Platform{}, Hooks: zeroAccelKernel{},
	})
	if err != nil {
		t.Fatalf("FromGalaxy: %v", err)
	}
	if err := arch.Save(archive.ZeroKey(length), u); err != nil {
		t.Fatalf("Save: %v", err)
	}
}

func TestRunWithCommonInitialState(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "archive.bin")
	seedArchive(t, archivePath, 4)

	var out bytes.Buffer
	cfg := baseConfig(t, archivePath)
	cfg.ReadInitialState = true
	cfg.Out = &out

	if err := Run(cfg); err != nil {
		t.Fatalf("Run: %v", err)
	}
	recs := decodeLines(t, out.String())
	if recs[len(recs)-1].Key != "stop" {
		t.Fatal("expected terminal stop record")
	}
}

func TestRunUnknownKernelFails(t *testing.T) {
	dir := t.TempDir()
	var out bytes.Buffer
	cfg := baseConfig(t, filepath.Join(dir, "archive.bin"))
	cfg.KernelName = "does-not-exist"
	cfg.Out = &out

	if err := Run(cfg); err == nil {
		t.Fatal("expected error for unknown kernel")
	}
	recs := decodeLines(t, out.String())
	if len(recs) != 1 || recs[0].Key != "stop" {
		t.Fatalf("expected a single terminal stop record, got %+v", recs)
	}
}
