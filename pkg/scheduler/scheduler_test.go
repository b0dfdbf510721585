package scheduler

import (
	"context"
	"errors"
	"testing"

	"github.com/nbodybench/gravitation/pkg/variation"
)

// fakeRunner records every Point it was asked to run and fails those
// listed in failAt (by index into the call order).
type fakeRunner struct {
	calls  []Point
	failAt map[int]error
}

func (r *fakeRunner) Run(ctx context.Context, p Point) error {
	i := len(r.calls)
	r.calls = append(r.calls, p)
	if err, ok := r.failAt[i]; ok {
		return err
	}
	return nil
}

func testPoints(n int) []Point {
	points := make([]Point, n)
	for i := range points {
		points[i] = Point{Kernel: "naive", Variation: variation.Variation{}, Length: i + 1}
	}
	return points
}

func TestQueueRunExecutesEveryJobInOrder(t *testing.T) {
	points := testPoints(3)
	q := NewQueue(points)
	runner := &fakeRunner{}

	if err := q.Run(context.Background(), runner); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(runner.calls) != len(points) {
		t.Fatalf("calls = %d, want %d", len(runner.calls), len(points))
	}
	for i, p := range points {
		if runner.calls[i].Kernel != p.Kernel || runner.calls[i].Length != p.Length {
			t.Fatalf("call %d = %+v, want %+v", i, runner.calls[i], p)
		}
	}
	if q.Len() != 0 {
		t.Fatalf("Len() = %d, want 0 after a full run", q.Len())
	}
	if len(q.Failed()) != 0 {
		t.Fatalf("Failed() = %v, want none", q.Failed())
	}
}

// TestQueueRunDoesNotRetry pins down spec §7's no-retry policy: a
// failing job must be attempted exactly once, and the queue must stop
// at that job rather than continuing to the rest of the sweep.
func TestQueueRunDoesNotRetry(t *testing.T) {
	points := testPoints(3)
	q := NewQueue(points)
	wantErr := errors.New("boom")
	runner := &fakeRunner{failAt: map[int]error{1: wantErr}}

	err := q.Run(context.Background(), runner)
	if err == nil {
		t.Fatal("expected an error from the failing job")
	}
	if !errors.Is(err, wantErr) {
		t.Fatalf("Run error = %v, want it to wrap %v", err, wantErr)
	}

	// Exactly two calls: the job that failed, and the one before it.
	// The queue must not retry the failing job, and must not proceed
	// to the third point.
	if len(runner.calls) != 2 {
		t.Fatalf("calls = %d, want 2 (no retry, halt on first failure)", len(runner.calls))
	}

	failed := q.Failed()
	if len(failed) != 1 {
		t.Fatalf("Failed() returned %d jobs, want 1", len(failed))
	}
	if failed[0].Point.Kernel != points[1].Kernel || failed[0].Point.Length != points[1].Length {
		t.Fatalf("failed job point = %+v, want %+v", failed[0].Point, points[1])
	}
	if !errors.Is(failed[0].Err, wantErr) {
		t.Fatalf("failed job err = %v, want it to wrap %v", failed[0].Err, wantErr)
	}
}

func TestByLengthGroupsPoints(t *testing.T) {
	points := []Point{
		{Kernel: "naive", Length: 4},
		{Kernel: "naive", Length: 8},
		{Kernel: "naive", Length: 4},
	}
	grouped := ByLength(points)
	if len(grouped[4]) != 2 {
		t.Fatalf("len(grouped[4]) = %d, want 2", len(grouped[4]))
	}
	if len(grouped[8]) != 1 {
		t.Fatalf("len(grouped[8]) = %d, want 1", len(grouped[8]))
	}
}

func TestLengthsReturnsSortedDistinctValues(t *testing.T) {
	points := []Point{
		{Length: 8}, {Length: 4}, {Length: 8}, {Length: 16},
	}
	got := Lengths(points)
	want := []int{4, 8, 16}
	if len(got) != len(want) {
		t.Fatalf("Lengths() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Lengths() = %v, want %v", got, want)
		}
	}
}
