// Package benchlog implements the Step/Worker/Benchmark/Session log
// model: the JSON-line wire format a worker emits on stdout, the
// structures that accumulate it, and ingestion of a raw log stream
// back into a Session independent of the driver that produced it.
package benchlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/nbodybench/gravitation/pkg/platform"
	"github.com/nbodybench/gravitation/pkg/variation"
)

// Error is the sentinel kind for every log-model violation: malformed
// JSON, adding a step to a stopped worker, starting a worker twice, an
// unknown live record key, or mismatched Benchmark membership.
type Error struct {
	Op  string
	Msg string
}

func (e *Error) Error() string { return fmt.Sprintf("benchlog: %s: %s", e.Op, e.Msg) }

func errf(op, format string, args ...any) error {
	return &Error{Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Status values a WorkerLog can carry. Anything else is a formatted
// traceback/error string — a terminal status the wire protocol does
// not enumerate because the worker may fail in arbitrarily many ways.
const (
	StatusStart      = "start"
	StatusRunning    = "running"
	StatusOK         = "ok"
	StatusDidNotStop = "did not stop"
)

func isTerminal(status string) bool {
	return status == StatusOK || (status != StatusStart && status != StatusRunning)
}

// StepLog is one iteration's timing record.
type StepLog struct {
	Iteration    uint64 `json:"iteration"`
	RuntimeNs    int64  `json:"runtime_ns"`
	GCTimeNs     int64  `json:"gctime_ns"`
	RuntimeMinNs int64  `json:"runtime_min_ns"`
	GCTimeMinNs  int64  `json:"gctime_min_ns"`
}

// WorkerLog accumulates one worker's identity and its step records.
type WorkerLog struct {
	Kernel    string               `json:"kernel"`
	Variation variation.Variation  `json:"variation"`
	Platform  platform.Platform    `json:"platform"`
	Length    int                  `json:"length"`
	Status    string               `json:"status"`
	Steps     map[uint64]StepLog   `json:"steps"`
}

// NewWorkerLog returns a WorkerLog in the "start" status.
func NewWorkerLog(kernelName string, v variation.Variation, p platform.Platform, length int) *WorkerLog {
	return &WorkerLog{
		Kernel:    kernelName,
		Variation: v,
		Platform:  p,
		Length:    length,
		Status:    StatusStart,
		Steps:     map[uint64]StepLog{},
	}
}

// Add appends a step. Fails if the worker has already reached a
// terminal status, or if the iteration is already recorded. On
// success the status advances to "running" (from "start" or
// "running").
func (w *WorkerLog) Add(step StepLog) error {
	if isTerminal(w.Status) {
		return errf("add", "cannot add step to worker in terminal status %q", w.Status)
	}
	if _, exists := w.Steps[step.Iteration]; exists {
		return errf("add", "iteration %d already recorded", step.Iteration)
	}
	w.Steps[step.Iteration] = step
	w.Status = StatusRunning
	return nil
}

// SetStatus transitions the worker to a new (possibly terminal)
// status. Fails if already in a terminal status.
func (w *WorkerLog) SetStatus(status string) error {
	if isTerminal(w.Status) {
		return errf("set_status", "cannot transition out of terminal status %q", w.Status)
	}
	w.Status = status
	return nil
}

// lastIteration returns the highest recorded iteration, or 0 if none.
func (w *WorkerLog) lastIteration() uint64 {
	var max uint64
	for it := range w.Steps {
		if it > max {
			max = it
		}
	}
	return max
}

// RuntimeMin returns the running-minimum runtime as of the last
// recorded step, or Error if no steps exist.
func (w *WorkerLog) RuntimeMin() (int64, error) {
	last, ok := w.Steps[w.lastIteration()]
	if !ok {
		return 0, errf("runtime_min", "no steps recorded")
	}
	return last.RuntimeMinNs, nil
}

// GCTimeMin mirrors RuntimeMin for garbage-collection time.
func (w *WorkerLog) GCTimeMin() (int64, error) {
	last, ok := w.Steps[w.lastIteration()]
	if !ok {
		return 0, errf("gctime_min", "no steps recorded")
	}
	return last.GCTimeMinNs, nil
}

// Matches reports whether two worker logs share the same identifying
// fields (kernel, variation, platform) — the grouping key for a
// Benchmark.
func (w *WorkerLog) Matches(other *WorkerLog) bool {
	return w.Kernel == other.Kernel &&
		w.Variation.Equal(other.Variation) &&
		w.Platform.Equal(other.Platform)
}

// Record is one JSON-line wire record: {"key","value","time"}.
type Record struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
	Time  int64           `json:"time"`
}

// Encode marshals key/value/time into one wire line (no trailing
// newline). Fails if value cannot be marshaled.
func Encode(key string, value any, timeNs int64) (string, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return "", errf("encode", "%v", err)
	}
	line, err := json.Marshal(Record{Key: key, Value: raw, Time: timeNs})
	if err != nil {
		return "", errf("encode", "%v", err)
	}
	return string(line), nil
}

// Decode parses one wire line. Fails with Error on invalid JSON — this
// is the boundary where a malformed line becomes a BenchmarkLogError
// per spec §7.
func Decode(line string) (Record, error) {
	var r Record
	if err := json.Unmarshal([]byte(line), &r); err != nil {
		return Record{}, errf("decode", "invalid json: %v", err)
	}
	return r, nil
}

// BenchmarkLog is the set of WorkerLogs sharing one (kernel,
// variation, platform), keyed by length.
type BenchmarkLog struct {
	Workers map[int]*WorkerLog `json:"workers"`
	current *WorkerLog
}

// NewBenchmarkLog returns an empty BenchmarkLog.
func NewBenchmarkLog() *BenchmarkLog {
	return &BenchmarkLog{Workers: map[int]*WorkerLog{}}
}

// Add inserts w, failing if its length is already present or if it
// does not Match an existing member.
func (b *BenchmarkLog) Add(w *WorkerLog) error {
	if !b.Matches(w) {
		return errf("add", "worker does not match existing benchmark identity")
	}
	if _, exists := b.Workers[w.Length]; exists {
		return errf("add", "length %d already recorded", w.Length)
	}
	b.Workers[w.Length] = w
	return nil
}

// Matches reports whether w is identity-compatible with this
// benchmark's existing members (trivially true if empty).
func (b *BenchmarkLog) Matches(w *WorkerLog) bool {
	for _, existing := range b.Workers {
		return existing.Matches(w)
	}
	return true
}

// Lengths returns the recorded lengths, sorted ascending.
func (b *BenchmarkLog) Lengths() []int {
	out := make([]int, 0, len(b.Workers))
	for l := range b.Workers {
		out = append(out, l)
	}
	sort.Ints(out)
	return out
}

// RuntimesMin returns length -> running-minimum runtime, for members
// that have at least one recorded step.
func (b *BenchmarkLog) RuntimesMin() map[int]int64 {
	out := map[int]int64{}
	for length, w := range b.Workers {
		if rt, err := w.RuntimeMin(); err == nil {
			out[length] = rt
		}
	}
	return out
}

// Live routes one decoded wire record into this benchmark's current
// worker, creating a new one on "start" and forwarding everything else
// to it. value carries the still-encoded JSON payload for the record.
func (b *BenchmarkLog) Live(key string, value json.RawMessage, timeNs int64) error {
	switch key {
	case "start":
		var w WorkerLog
		if err := json.Unmarshal(value, &w); err != nil {
			return errf("live", "start: invalid worker log: %v", err)
		}
		if w.Steps == nil {
			w.Steps = map[uint64]StepLog{}
		}
		nw := &w
		if err := b.Add(nw); err != nil {
			return err
		}
		b.current = nw
		return nil
	case "info":
		return nil
	case "step":
		if b.current == nil {
			return errf("live", "step record with no active worker")
		}
		var s StepLog
		if err := json.Unmarshal(value, &s); err != nil {
			return errf("live", "step: invalid step log: %v", err)
		}
		return b.current.Add(s)
	case "stop":
		if b.current == nil {
			return errf("live", "stop record with no active worker")
		}
		var status string
		if err := json.Unmarshal(value, &status); err != nil {
			return errf("live", "stop: invalid status: %v", err)
		}
		err := b.current.SetStatus(status)
		b.current = nil
		return err
	default:
		return errf("live", "unknown key %q", key)
	}
}

// Session is an unordered collection of BenchmarkLogs.
type Session struct {
	Benchmarks []*BenchmarkLog `json:"benchmarks"`
}

// NewSession returns an empty Session.
func NewSession() *Session { return &Session{} }

// Merge appends other's benchmarks to s.
func (s *Session) Merge(other *Session) {
	s.Benchmarks = append(s.Benchmarks, other.Benchmarks...)
}

// ToJSON serializes the session with sorted map keys and 4-space
// indentation, matching spec §6's "Session file" wire format exactly.
func (s *Session) ToJSON() ([]byte, error) {
	return json.MarshalIndent(s, "", "    ")
}

// FromJSON parses a Session previously produced by ToJSON.
func FromJSON(data []byte) (*Session, error) {
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, errf("from_json", "%v", err)
	}
	for _, b := range s.Benchmarks {
		if b.Workers == nil {
			b.Workers = map[int]*WorkerLog{}
		}
	}
	return &s, nil
}

// IngestSession replays a raw worker-log byte stream (the
// concatenation of one or more workers' stdout) and reconstructs a
// Session by grouping consecutive WorkerLogs via Matches, independent
// of whatever driver originally spawned them. A stream that ends
// without a "stop" record for its last worker is classified
// StatusDidNotStop rather than treated as an error, matching spec
// §5/§7's truncated-log handling.
func IngestSession(r io.Reader) (*Session, error) {
	session := NewSession()
	var currentBenchmark *BenchmarkLog
	var currentWorker *WorkerLog

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		rec, err := Decode(line)
		if err != nil {
			return nil, err
		}
		switch rec.Key {
		case "start":
			var w WorkerLog
			if err := json.Unmarshal(rec.Value, &w); err != nil {
				return nil, errf("ingest", "start: invalid worker log: %v", err)
			}
			if w.Steps == nil {
				w.Steps = map[uint64]StepLog{}
			}
			currentWorker = &w
			if currentBenchmark == nil || !currentBenchmark.Matches(currentWorker) {
				currentBenchmark = NewBenchmarkLog()
				session.Benchmarks = append(session.Benchmarks, currentBenchmark)
			}
			if err := currentBenchmark.Add(currentWorker); err != nil {
				return nil, err
			}
		case "info":
			// free text, not retained structurally
		case "step":
			if currentWorker == nil {
				return nil, errf("ingest", "step record with no active worker")
			}
			var s StepLog
			if err := json.Unmarshal(rec.Value, &s); err != nil {
				return nil, errf("ingest", "step: invalid step log: %v", err)
			}
			if err := currentWorker.Add(s); err != nil {
				return nil, err
			}
		case "stop":
			if currentWorker == nil {
				return nil, errf("ingest", "stop record with no active worker")
			}
			var status string
			if err := json.Unmarshal(rec.Value, &status); err != nil {
				return nil, errf("ingest", "stop: invalid status: %v", err)
			}
			if err := currentWorker.SetStatus(status); err != nil {
				return nil, err
			}
			currentWorker = nil
		case "stderr":
			// captured stderr line, not retained structurally
		default:
			return nil, errf("ingest", "unknown key %q", rec.Key)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errf("ingest", "%v", err)
	}
	if currentWorker != nil && currentWorker.Status != StatusOK {
		_ = currentWorker.SetStatus(StatusDidNotStop)
	}
	return session, nil
}
