package remote

import (
	"testing"

	"github.com/nbodybench/gravitation/pkg/benchlog"
	"github.com/nbodybench/gravitation/pkg/platform"
	"github.com/nbodybench/gravitation/pkg/variation"
)

func TestParseJobSessionIngestsWorkerWireLog(t *testing.T) {
	v := variation.Variation{Dtype: variation.Float64, Target: variation.CPU, Threads: variation.ThreadsSingle}
	wlog := benchlog.NewWorkerLog("naive", v, platform.Platform{}, 8)
	startLine, err := benchlog.Encode("start", wlog, 1)
	if err != nil {
		t.Fatalf("Encode(start): %v", err)
	}
	stepLine, err := benchlog.Encode("step", benchlog.StepLog{Iteration: 0, RuntimeNs: 1000, GCTimeNs: 10}, 2)
	if err != nil {
		t.Fatalf("Encode(step): %v", err)
	}
	stopLine, err := benchlog.Encode("stop", benchlog.StatusOK, 3)
	if err != nil {
		t.Fatalf("Encode(stop): %v", err)
	}

	job := &Job{Stdout: startLine + "\n" + stepLine + "\n" + stopLine + "\n"}

	session, err := ParseJobSession(job)
	if err != nil {
		t.Fatalf("ParseJobSession: %v", err)
	}
	if len(session.Benchmarks) != 1 {
		t.Fatalf("len(Benchmarks) = %d, want 1", len(session.Benchmarks))
	}
	w, ok := session.Benchmarks[0].Workers[8]
	if !ok {
		t.Fatal("expected a worker recorded at length 8")
	}
	if w.Kernel != "naive" {
		t.Fatalf("Kernel = %q, want naive", w.Kernel)
	}
	if len(w.Steps) != 1 {
		t.Fatalf("len(Steps) = %d, want 1", len(w.Steps))
	}
}

func TestParseJobSessionRejectsMalformedLog(t *testing.T) {
	job := &Job{Stdout: "not a valid wire record\n"}
	if _, err := ParseJobSession(job); err == nil {
		t.Fatal("expected an error for a malformed wire log")
	}
}
