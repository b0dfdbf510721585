// Package scheduler sequences the (kernel, variation, length) points a
// sweep must visit into an ordered job queue, adapted from the
// teacher's AWS batch-execution scheduler: the same ordered-queue
// idea, reduced to a single-process local sweep with no time-window or
// quota concepts (there is no AWS quota axis once the driver runs
// workers as local subprocesses instead of EC2 instances).
package scheduler

import (
	"context"
	"fmt"
	"sort"

	"github.com/nbodybench/gravitation/pkg/variation"
)

// Point is one (kernel, variation, length) coordinate the driver must
// run a worker for.
type Point struct {
	Kernel    string
	Variation variation.Variation
	Length    int
}

// Runner executes one Point. The driver implements this by spawning a
// worker subprocess; tests can substitute an in-process fake.
type Runner interface {
	Run(ctx context.Context, p Point) error
}

// Job wraps a Point with its queue bookkeeping.
type Job struct {
	Point Point
	Ran   bool
	Err   error
}

// Queue is a FIFO of Jobs — the reduced, quota-free form of the
// teacher's JobQueue/ProgressTracker pair. Unlike the teacher, it
// never retries: spec §7 treats a failed run as deterministic and
// real, not transient, so a single failed attempt ends the sweep.
type Queue struct {
	jobs []*Job
}

// NewQueue returns a Queue holding one pending Job per point, in the
// order given — the order the driver's length sweep enumerates them,
// which this package does not itself generate (see pkg/driver's
// SqRange).
func NewQueue(points []Point) *Queue {
	jobs := make([]*Job, len(points))
	for i, p := range points {
		jobs[i] = &Job{Point: p}
	}
	return &Queue{jobs: jobs}
}

// Len reports the number of jobs still pending (not yet run).
func (q *Queue) Len() int {
	var n int
	for _, j := range q.jobs {
		if !j.Ran {
			n++
		}
	}
	return n
}

// Run drives every job through runner in order, exactly once each. It
// stops at the first job that fails and returns that job's error
// wrapped with its point, matching spec §7's no-retry policy and the
// driver's "first failure halts the sweep" behavior (spec §4.5's
// benchmark run is sequential per kernel/variation).
func (q *Queue) Run(ctx context.Context, runner Runner) error {
	for _, j := range q.jobs {
		j.Ran = true
		j.Err = runner.Run(ctx, j.Point)
		if j.Err != nil {
			return fmt.Errorf("scheduler: %s/%s/length=%d: %w", j.Point.Kernel, j.Point.Variation.Key(), j.Point.Length, j.Err)
		}
	}
	return nil
}

// Failed returns every job whose run returned an error, in queue
// order. Run stops at the first failure, so after Run this holds at
// most one job.
func (q *Queue) Failed() []*Job {
	var out []*Job
	for _, j := range q.jobs {
		if j.Err != nil {
			out = append(out, j)
		}
	}
	return out
}

// ByLength groups a set of Points by length into an unordered map
// (Lengths gives the sorted keys) — a convenience for reporting progress per sweep step rather than per
// flat job index.
func ByLength(points []Point) map[int][]Point {
	out := map[int][]Point{}
	for _, p := range points {
		out[p.Length] = append(out[p.Length], p)
	}
	return out
}

// Lengths returns the sorted distinct lengths present in points.
func Lengths(points []Point) []int {
	seen := map[int]struct{}{}
	for _, p := range points {
		seen[p.Length] = struct{}{}
	}
	out := make([]int, 0, len(seen))
	for l := range seen {
		out = append(out, l)
	}
	sort.Ints(out)
	return out
}
