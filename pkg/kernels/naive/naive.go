// Package naive implements the required reference kernel: a serial
// O(N²) pairwise acceleration computation with no SIMD, threading, or
// GPU offload. It exists to exercise the core end-to-end and to act
// as the verification reference every other kernel is compared
// against.
package naive

import (
	"math"

	"github.com/nbodybench/gravitation/pkg/kernel"
	"github.com/nbodybench/gravitation/pkg/universe"
	"github.com/nbodybench/gravitation/pkg/variation"
)

// Name is the registry key this kernel registers under.
const Name = "naive"

func init() {
	if err := kernel.Default.Register(Name, loadMeta, loadCls); err != nil {
		panic(err)
	}
}

func loadMeta() kernel.Meta {
	return kernel.Meta{
		Description:  "serial O(N^2) pairwise acceleration, no threading or SIMD",
		Requirements: nil,
		Variations: variation.NewVariations(
			variation.Variation{Dtype: variation.Float32, Target: variation.CPU, Threads: variation.ThreadsSingle},
			variation.Variation{Dtype: variation.Float64, Target: variation.CPU, Threads: variation.ThreadsSingle},
		),
	}
}

func loadCls() (kernel.Factory, error) {
	return func(v variation.Variation) (universe.Hooks, error) {
		return &Kernel{dtype: v.Dtype}, nil
	}, nil
}

// Kernel holds per-universe working state. r is a private copy of
// positions published by PushStage1, used so IterateStage1 reads a
// stable snapshot even if a future variant overlapped I/O with
// compute.
type Kernel struct {
	dtype variation.Dtype
	r     [][3]float64
}

// PushStage1 copies current positions into the kernel's private
// layout.
func (k *Kernel) PushStage1(u *universe.Universe) error {
	masses := u.Masses()
	if cap(k.r) < len(masses) {
		k.r = make([][3]float64, len(masses))
	}
	k.r = k.r[:len(masses)]
	for i, m := range masses {
		k.r[i] = m.R
	}
	return nil
}

// IterateStage1 computes pairwise gravitational acceleration for every
// mass, iterating each unordered pair exactly once and accumulating
// the symmetric contribution into both masses' accelerators. Float32
// rounds each pair's acceleration contributions through float32
// (distances, the force factor and the accumulation stay float64), so
// the two dtype variations produce distinct results rather than
// identical float64 results under different labels.
func (k *Kernel) IterateStage1(u *universe.Universe) error {
	masses := u.Masses()
	g := u.G()
	n := len(masses)
	narrow := k.dtype == variation.Float32
	for i := 0; i < n-1; i++ {
		ri := k.r[i]
		for j := i + 1; j < n; j++ {
			rj := k.r[j]
			dx := rj[0] - ri[0]
			dy := rj[1] - ri[1]
			dz := rj[2] - ri[2]
			distSq := dx*dx + dy*dy + dz*dz
			dist := math.Sqrt(distSq)
			// a = G * m / r^3 * d, applied with opposite sign to each body.
			factor := g / (distSq * dist)

			axi := dx * factor * masses[j].M
			ayi := dy * factor * masses[j].M
			azi := dz * factor * masses[j].M
			axj := dx * factor * masses[i].M
			ayj := dy * factor * masses[i].M
			azj := dz * factor * masses[i].M
			if narrow {
				axi, ayi, azi = float64(float32(axi)), float64(float32(ayi)), float64(float32(azi))
				axj, ayj, azj = float64(float32(axj)), float64(float32(ayj)), float64(float32(azj))
			}

			ai := masses[i].A
			ai[0] += axi
			ai[1] += ayi
			ai[2] += azi
			masses[i].A = ai

			aj := masses[j].A
			aj[0] -= axj
			aj[1] -= ayj
			aj[2] -= azj
			masses[j].A = aj
		}
	}
	return nil
}

// PullStage1 is a no-op: IterateStage1 already writes directly into
// each mass's accumulator, so there is nothing to sync back.
func (k *Kernel) PullStage1(u *universe.Universe) error { return nil }
