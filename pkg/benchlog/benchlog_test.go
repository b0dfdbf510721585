package benchlog

import (
	"strings"
	"testing"

	"github.com/nbodybench/gravitation/pkg/platform"
	"github.com/nbodybench/gravitation/pkg/variation"
)

func sampleVariation() variation.Variation {
	return variation.Variation{Dtype: variation.Float64, Target: variation.CPU, Threads: variation.ThreadsSingle}
}

func TestWorkerLogAddContiguousSteps(t *testing.T) {
	w := NewWorkerLog("naive", sampleVariation(), platform.Platform{}, 8)
	for i := uint64(1); i <= 3; i++ {
		if err := w.Add(StepLog{Iteration: i, RuntimeNs: int64(100 - i), RuntimeMinNs: int64(100 - i)}); err != nil {
			t.Fatalf("Add(%d): %v", i, err)
		}
	}
	if err := w.SetStatus(StatusOK); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	if err := w.Add(StepLog{Iteration: 4}); err == nil {
		t.Fatal("expected error adding step after terminal status")
	}
	if len(w.Steps) != 3 {
		t.Fatalf("steps = %d, want 3", len(w.Steps))
	}
}

func TestWorkerLogDuplicateIterationRejected(t *testing.T) {
	w := NewWorkerLog("naive", sampleVariation(), platform.Platform{}, 8)
	if err := w.Add(StepLog{Iteration: 1}); err != nil {
		t.Fatal(err)
	}
	if err := w.Add(StepLog{Iteration: 1}); err == nil {
		t.Fatal("expected error for duplicate iteration")
	}
}

func TestLogParseFourLines(t *testing.T) {
	bl := NewBenchmarkLog()

	start, _ := Encode("start", NewWorkerLog("naive", sampleVariation(), platform.Platform{}, 8), 0)
	step1, _ := Encode("step", StepLog{Iteration: 1, RuntimeNs: 50, RuntimeMinNs: 50}, 1)
	step2, _ := Encode("step", StepLog{Iteration: 2, RuntimeNs: 40, RuntimeMinNs: 40}, 2)
	stop, _ := Encode("stop", StatusOK, 3)

	for _, line := range []string{start, step1, step2, stop} {
		rec, err := Decode(line)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if err := bl.Live(rec.Key, rec.Value, rec.Time); err != nil {
			t.Fatalf("Live(%s): %v", rec.Key, err)
		}
	}

	w, ok := bl.Workers[8]
	if !ok {
		t.Fatal("expected worker at length 8")
	}
	if len(w.Steps) != 2 {
		t.Fatalf("steps = %d, want 2", len(w.Steps))
	}
	if w.Status != StatusOK {
		t.Fatalf("status = %q, want ok", w.Status)
	}
}

func TestLogParseCorruptMiddleLine(t *testing.T) {
	if _, err := Decode("not json"); err == nil {
		t.Fatal("expected decode error for corrupt line")
	}

	start, _ := Encode("start", NewWorkerLog("naive", sampleVariation(), platform.Platform{}, 8), 0)
	stop, _ := Encode("stop", StatusOK, 2)
	stream := start + "\nnot json\n" + stop + "\n"
	if _, err := IngestSession(strings.NewReader(stream)); err == nil {
		t.Fatal("expected ingest error for a log with a corrupt middle line")
	}
}

func TestIngestSessionGroupsByIdentity(t *testing.T) {
	var sb strings.Builder
	write := func(key string, value any) {
		line, err := Encode(key, value, 0)
		if err != nil {
			t.Fatal(err)
		}
		sb.WriteString(line)
		sb.WriteByte('\n')
	}

	write("start", NewWorkerLog("naive", sampleVariation(), platform.Platform{}, 8))
	write("step", StepLog{Iteration: 1, RuntimeNs: 10, RuntimeMinNs: 10})
	write("stop", StatusOK)

	write("start", NewWorkerLog("naive", sampleVariation(), platform.Platform{}, 16))
	write("step", StepLog{Iteration: 1, RuntimeNs: 20, RuntimeMinNs: 20})
	// deliberately truncated: no stop record for this worker

	session, err := IngestSession(strings.NewReader(sb.String()))
	if err != nil {
		t.Fatalf("IngestSession: %v", err)
	}
	if len(session.Benchmarks) != 1 {
		t.Fatalf("benchmarks = %d, want 1 (same identity)", len(session.Benchmarks))
	}
	b := session.Benchmarks[0]
	if len(b.Workers) != 2 {
		t.Fatalf("workers = %d, want 2", len(b.Workers))
	}
	if b.Workers[16].Status != StatusDidNotStop {
		t.Fatalf("truncated worker status = %q, want %q", b.Workers[16].Status, StatusDidNotStop)
	}
	if b.Workers[8].Status != StatusOK {
		t.Fatalf("completed worker status = %q, want ok", b.Workers[8].Status)
	}
}

func TestSessionJSONRoundTrip(t *testing.T) {
	s := NewSession()
	b := NewBenchmarkLog()
	w := NewWorkerLog("naive", sampleVariation(), platform.Platform{}, 8)
	_ = w.Add(StepLog{Iteration: 1, RuntimeNs: 5, RuntimeMinNs: 5})
	_ = w.SetStatus(StatusOK)
	_ = b.Add(w)
	s.Benchmarks = append(s.Benchmarks, b)

	data, err := s.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON: %v", err)
	}
	got, err := FromJSON(data)
	if err != nil {
		t.Fatalf("FromJSON: %v", err)
	}
	if len(got.Benchmarks) != 1 || len(got.Benchmarks[0].Workers) != 1 {
		t.Fatalf("round trip shape mismatch: %+v", got)
	}
	if got.Benchmarks[0].Workers[8].Status != StatusOK {
		t.Fatalf("status = %q, want ok", got.Benchmarks[0].Workers[8].Status)
	}
}
