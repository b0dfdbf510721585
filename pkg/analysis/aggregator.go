// Package analysis provides runtime ranking across a Session's
// recorded kernel/variation/length points: the single, local-sweep
// relevant subset of the teacher's statistical aggregation pipeline.
//
// Grounded on pkg/analysis/aggregator.go's DataAggregator: the same
// mean/median/standard-deviation/percentile statistics, applied to
// wall-clock runtime instead of STREAM/HPL throughput, since this
// domain has no price or region axis to aggregate across.
package analysis

import (
	"fmt"
	"math"
	"sort"

	"github.com/nbodybench/gravitation/pkg/benchlog"
	"github.com/nbodybench/gravitation/pkg/variation"
)

// Error is the sentinel kind for ranking failures: a length with no
// recorded steps for any worker.
type Error struct {
	Op  string
	Msg string
}

func (e *Error) Error() string { return fmt.Sprintf("analysis: %s: %s", e.Op, e.Msg) }

func errf(op, format string, args ...any) error {
	return &Error{Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Measurement is the statistical summary of one set of runtime samples,
// reduced from the teacher's AggregatedMeasurement to the fields a
// runtime ranking actually uses.
type Measurement struct {
	Mean              float64
	Median            float64
	StandardDeviation float64
	Min               float64
	Max               float64
	Count             int
}

// summarize computes a Measurement over values, grounded on the
// teacher's aggregateMeasurement/calculateMean/
// calculateStandardDeviation/calculateMedian.
func summarize(values []float64) Measurement {
	if len(values) == 0 {
		return Measurement{}
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	mean := mean(values)
	return Measurement{
		Mean:              mean,
		Median:            median(sorted),
		StandardDeviation: stddev(values, mean),
		Min:               sorted[0],
		Max:               sorted[len(sorted)-1],
		Count:             len(values),
	}
}

func mean(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func stddev(values []float64, mean float64) float64 {
	if len(values) <= 1 {
		return 0
	}
	var sumSquares float64
	for _, v := range values {
		diff := v - mean
		sumSquares += diff * diff
	}
	return math.Sqrt(sumSquares / float64(len(values)-1))
}

func median(sorted []float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 0 {
		return (sorted[n/2-1] + sorted[n/2]) / 2
	}
	return sorted[n/2]
}

// Ranking is one worker's runtime summary at a given length, as
// recorded across every step it reported.
type Ranking struct {
	Kernel    string
	Variation variation.Variation
	Length    int
	Runtime   Measurement
	GCTime    Measurement
}

// RankByLength returns every worker in session that recorded a step at
// length, ordered by ascending mean runtime — the fastest
// (kernel, variation) combination for that length first.
func RankByLength(session *benchlog.Session, length int) ([]Ranking, error) {
	var out []Ranking
	for _, b := range session.Benchmarks {
		w, ok := b.Workers[length]
		if !ok || len(w.Steps) == 0 {
			continue
		}
		runtimes := make([]float64, 0, len(w.Steps))
		gctimes := make([]float64, 0, len(w.Steps))
		for _, step := range w.Steps {
			runtimes = append(runtimes, float64(step.RuntimeNs))
			gctimes = append(gctimes, float64(step.GCTimeNs))
		}
		out = append(out, Ranking{
			Kernel:    w.Kernel,
			Variation: w.Variation,
			Length:    length,
			Runtime:   summarize(runtimes),
			GCTime:    summarize(gctimes),
		})
	}
	if len(out) == 0 {
		return nil, errf("rank_by_length", "no worker recorded a step at length %d", length)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Runtime.Mean < out[j].Runtime.Mean
	})
	return out, nil
}

// Lengths returns every length recorded anywhere in session, sorted
// ascending — the set RankByLength can be meaningfully called with.
func Lengths(session *benchlog.Session) []int {
	seen := map[int]struct{}{}
	for _, b := range session.Benchmarks {
		for length := range b.Workers {
			seen[length] = struct{}{}
		}
	}
	out := make([]int, 0, len(seen))
	for l := range seen {
		out = append(out, l)
	}
	sort.Ints(out)
	return out
}
