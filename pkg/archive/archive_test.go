package archive

import (
	"path/filepath"
	"testing"

	"github.com/nbodybench/gravitation/pkg/mass"
	"github.com/nbodybench/gravitation/pkg/platform"
	"github.com/nbodybench/gravitation/pkg/universe"
	"github.com/nbodybench/gravitation/pkg/variation"
)

type noopHooks struct{}

func (noopHooks) IterateStage1(u *universe.Universe) error { return nil }

func buildUniverse(t *testing.T) *universe.Universe {
	t.Helper()
	v := variation.Variation{Dtype: variation.Float64, Target: variation.CPU, Threads: variation.ThreadsSingle}
	u, err := universe.New(universe.Config{
		T: 0.5, G: 1.0, ScaleM: 1.0, ScaleR: 1.0,
		Variation: v, Platform: platform.Platform{OSSystem: "linux"}, Hooks: noopHooks{},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := u.CreateMass("back hole", mass.Vec3{}, mass.Vec3{}, 100.0, false); err != nil {
		t.Fatal(err)
	}
	if err := u.CreateMass("disk star", mass.Vec3{1, 2, 3}, mass.Vec3{0.1, 0.2, 0.3}, 1.0, false); err != nil {
		t.Fatal(err)
	}
	return u
}

func testKey() GroupKey {
	return GroupKey{
		Kernel:    "naive",
		Length:    2,
		Iteration: 0,
		Variation: variation.Variation{Dtype: variation.Float64, Target: variation.CPU, Threads: variation.ThreadsSingle},
		Platform:  platform.Platform{OSSystem: "linux"},
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	a, err := Open(filepath.Join(dir, "archive.bin"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	u := buildUniverse(t)
	key := testKey()
	if err := a.Save(key, u); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := Load(a, key, NoopHooks{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Len() != u.Len() {
		t.Fatalf("length = %d, want %d", got.Len(), u.Len())
	}
	for i, m := range got.Masses() {
		want := u.Masses()[i]
		if m.Name != want.Name || m.R != want.R || m.V != want.V || m.M != want.M {
			t.Fatalf("mass %d mismatch: got %+v, want %+v", i, m, want)
		}
	}
}

func TestDuplicateWriteRejected(t *testing.T) {
	dir := t.TempDir()
	a, err := Open(filepath.Join(dir, "archive.bin"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	u := buildUniverse(t)
	key := testKey()
	if err := a.Save(key, u); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := a.Save(key, u); err == nil {
		t.Fatal("expected error writing duplicate key")
	}
}

func TestLoadMissingKeyFails(t *testing.T) {
	dir := t.TempDir()
	a, err := Open(filepath.Join(dir, "archive.bin"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := Load(a, testKey(), NoopHooks{}); err == nil {
		t.Fatal("expected error loading missing key")
	}
}

func TestReopenRebuildsIndex(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "archive.bin")
	a, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	u := buildUniverse(t)
	key := testKey()
	if err := a.Save(key, u); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if !reopened.Has(key) {
		t.Fatal("expected reopened archive to have previously written key")
	}
}

func TestNoopHooksRejectIteration(t *testing.T) {
	dir := t.TempDir()
	a, err := Open(filepath.Join(dir, "archive.bin"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	u := buildUniverse(t)
	key := testKey()
	if err := a.Save(key, u); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := Load(a, key, NoopHooks{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := loaded.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := loaded.Step(true); err == nil {
		t.Fatal("expected error iterating a snapshot-loaded universe")
	}
}
