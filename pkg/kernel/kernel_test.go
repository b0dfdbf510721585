package kernel

import (
	"testing"

	"github.com/nbodybench/gravitation/pkg/universe"
	"github.com/nbodybench/gravitation/pkg/variation"
)

type fakeHooks struct{}

func (fakeHooks) IterateStage1(u *universe.Universe) error { return nil }

func TestDescriptorLazyLoadIsIdempotent(t *testing.T) {
	metaCalls, clsCalls := 0, 0
	r := NewRegistry()
	err := r.Register("fake",
		func() Meta {
			metaCalls++
			return Meta{Description: "fake kernel", Variations: variation.NewVariations(
				variation.Variation{Dtype: variation.Float64, Target: variation.CPU, Threads: variation.ThreadsSingle},
			)}
		},
		func() (Factory, error) {
			clsCalls++
			return func(v variation.Variation) (universe.Hooks, error) { return fakeHooks{}, nil }, nil
		},
	)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	d, err := r.Get("fake")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	m1 := d.Meta()
	m2 := d.Meta()
	if metaCalls != 1 {
		t.Fatalf("loadMeta called %d times, want 1", metaCalls)
	}
	if m1.Description != m2.Description {
		t.Fatalf("meta not identical across calls")
	}

	f1, err := d.Factory()
	if err != nil {
		t.Fatalf("Factory: %v", err)
	}
	_, err = d.Factory()
	if err != nil {
		t.Fatalf("Factory (second call): %v", err)
	}
	if clsCalls != 1 {
		t.Fatalf("loadCls called %d times, want 1", clsCalls)
	}
	if f1 == nil {
		t.Fatal("factory is nil")
	}
}

func TestRegisterRejectsUnderscoreAndDuplicate(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("_private", func() Meta { return Meta{} }, nil); err == nil {
		t.Fatal("expected error for underscore-prefixed name")
	}
	if err := r.Register("ok", func() Meta { return Meta{} }, nil); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register("ok", func() Meta { return Meta{} }, nil); err == nil {
		t.Fatal("expected error for duplicate registration")
	}
}

func TestGetUnknownKernel(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Get("missing"); err == nil {
		t.Fatal("expected error for unknown kernel")
	}
}
