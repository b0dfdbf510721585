// Package verification implements the verification engine (spec
// §4.7): given a reference (kernel, iteration, variation, platform)
// point, compare its snapshot against every other kernel/variation/
// platform combination present in an archive, at every shared length,
// and report per-body positional distances.
//
// Grounded on verification.py's Verification class: verify/_verify_pair/
// _get_group, translated from h5py group lookups to archive.Archive's
// canonical-key lookups, and from numpy zip/sqrt/sum to an explicit
// per-component loop.
package verification

import (
	"fmt"
	"math"
	"sort"

	"github.com/nbodybench/gravitation/pkg/archive"
	"github.com/nbodybench/gravitation/pkg/platform"
	"github.com/nbodybench/gravitation/pkg/universe"
	"github.com/nbodybench/gravitation/pkg/variation"
)

// Error is the sentinel kind for verification failures: a malformed
// archive, or a reference/target pair with mismatched body counts.
type Error struct {
	Op  string
	Msg string
}

func (e *Error) Error() string { return fmt.Sprintf("verification: %s: %s", e.Op, e.Msg) }

func errf(op, format string, args ...any) error {
	return &Error{Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Reference identifies the snapshot every other point is compared
// against.
type Reference struct {
	Kernel    string
	Iteration uint64
	Variation variation.Variation
	Platform  platform.Platform
}

// Result is one (target kernel, target variation)'s comparison against
// the reference across every length they share, flattened into
// parallel LengthLabels/Dists slices (one entry per body, per length) —
// the shape a box-plot-style renderer consumes directly, matching
// to_verify_figure's "x=lengths, y=dists" series.
type Result struct {
	Name         string
	LengthLabels []string
	Dists        []float64
}

// Verify scans arch for every snapshot not stored under the synthetic
// "zero" kernel, and compares ref against each other (kernel,
// variation, platform) combination present, skipping the combination
// identical to ref itself.
func Verify(arch *archive.Archive, ref Reference) ([]Result, error) {
	snaps, err := arch.Snapshots()
	if err != nil {
		return nil, errf("verify", "%v", err)
	}

	var lengths []int
	lengthSeen := map[int]struct{}{}
	targetKernels := map[string]struct{}{}
	targetPlatforms := map[string]platform.Platform{}
	variationsByKernel := map[string]map[string]variation.Variation{}

	for _, s := range snaps {
		if s.Kernel == "zero" {
			continue
		}
		if _, ok := lengthSeen[s.Length]; !ok {
			lengthSeen[s.Length] = struct{}{}
			lengths = append(lengths, s.Length)
		}
		targetKernels[s.Kernel] = struct{}{}
		targetPlatforms[s.Platform.Key()] = s.Platform

		vs, ok := variationsByKernel[s.Kernel]
		if !ok {
			vs = map[string]variation.Variation{}
			variationsByKernel[s.Kernel] = vs
		}
		vs[s.Variation.Key()] = s.Variation
	}
	sort.Ints(lengths)

	kernelNames := sortedKeys(targetKernels)
	platformKeys := make([]string, 0, len(targetPlatforms))
	for k := range targetPlatforms {
		platformKeys = append(platformKeys, k)
	}
	sort.Strings(platformKeys)

	var results []Result
	for _, targetKernel := range kernelNames {
		variationKeys := make([]string, 0, len(variationsByKernel[targetKernel]))
		for k := range variationsByKernel[targetKernel] {
			variationKeys = append(variationKeys, k)
		}
		sort.Strings(variationKeys)

		for _, vk := range variationKeys {
			targetVariation := variationsByKernel[targetKernel][vk]

			for _, pk := range platformKeys {
				targetPlatform := targetPlatforms[pk]

				if targetKernel == ref.Kernel &&
					targetVariation.Equal(ref.Variation) &&
					targetPlatform.Equal(ref.Platform) {
					continue
				}

				result, err := comparePoint(arch, ref, lengths, targetKernel, targetVariation, targetPlatform)
				if err != nil {
					return nil, err
				}
				results = append(results, result)
			}
		}
	}
	return results, nil
}

func comparePoint(
	arch *archive.Archive,
	ref Reference,
	lengths []int,
	targetKernel string,
	targetVariation variation.Variation,
	targetPlatform platform.Platform,
) (Result, error) {
	name := fmt.Sprintf("%s %s", targetKernel, targetVariation.Key())
	var labels []string
	var dists []float64

	for _, length := range lengths {
		refKey := archive.GroupKey{
			Kernel: ref.Kernel, Length: length, Iteration: ref.Iteration,
			Variation: ref.Variation, Platform: ref.Platform,
		}
		targetKey := archive.GroupKey{
			Kernel: targetKernel, Length: length, Iteration: ref.Iteration,
			Variation: targetVariation, Platform: targetPlatform,
		}

		if !arch.Has(refKey) || !arch.Has(targetKey) {
			continue
		}

		refUniverse, err := archive.Load(arch, refKey, archive.NoopHooks{})
		if err != nil {
			return Result{}, errf("verify_pair", "%v", err)
		}
		targetUniverse, err := archive.Load(arch, targetKey, archive.NoopHooks{})
		if err != nil {
			return Result{}, errf("verify_pair", "%v", err)
		}

		d, err := pairwiseDistances(refUniverse, targetUniverse)
		if err != nil {
			return Result{}, err
		}

		label := lengthLabel(length)
		for range d {
			labels = append(labels, label)
		}
		dists = append(dists, d...)
	}

	return Result{Name: name, LengthLabels: labels, Dists: dists}, nil
}

// pairwiseDistances returns the Euclidean distance between each
// matching body's position in a and b. The two universes must have
// been built from the same initial state (same body count, same
// name ordering) — true of any pair sharing a length, since every
// worker either reloads the shared "zero" snapshot or regenerates the
// same galaxy deterministically for that length.
func pairwiseDistances(a, b *universe.Universe) ([]float64, error) {
	am, bm := a.Masses(), b.Masses()
	if len(am) != len(bm) {
		return nil, errf("verify_pair", "mismatched body counts: %d vs %d", len(am), len(bm))
	}
	out := make([]float64, len(am))
	for i := range am {
		var sumSq float64
		for d := 0; d < 3; d++ {
			diff := am[i].R[d] - bm[i].R[d]
			sumSq += diff * diff
		}
		out[i] = math.Sqrt(sumSq)
	}
	return out, nil
}

// lengthLabel renders a length as "2^n", matching verification.py's
// f"2^{round(log2(length))}".
func lengthLabel(length int) string {
	return fmt.Sprintf("2^%d", int(math.Round(math.Log2(float64(length)))))
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
