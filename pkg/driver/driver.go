// Package driver implements the benchmark driver (spec §4.5): the
// length sweep over a set of kernels, spawning one worker subprocess
// per (kernel, variation, length) point, draining its stdout/stderr
// concurrently, and accumulating the resulting line-delimited log into
// a Session.
//
// Grounded on benchmark.py's Benchmark class and proc.py's run_command
// (background reader threads + 200ms poll loop), translated to Go
// goroutines feeding buffered channels drained on a time.Ticker rather
// than Python Queue/Thread.
package driver

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/nbodybench/gravitation/pkg/archive"
	"github.com/nbodybench/gravitation/pkg/benchlog"
	"github.com/nbodybench/gravitation/pkg/kernel"
	"github.com/nbodybench/gravitation/pkg/scheduler"
	"github.com/nbodybench/gravitation/pkg/universe"
)

// Error is the sentinel kind for driver misuse: an invalid sq_range,
// an unresolvable worker binary, a log file that cannot be created, or
// a failed common-initial-state setup. Unknown kernel names and failing
// workers surface as the kernel registry's and the scheduler's errors.
type Error struct {
	Op  string
	Msg string
}

func (e *Error) Error() string { return fmt.Sprintf("driver: %s: %s", e.Op, e.Msg) }

func errf(op, format string, args ...any) error {
	return &Error{Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Display controls how the driver surfaces a running sweep. DisplayLog
// echoes every wire record as it's read; DisplaySummary instead prints
// one line of per-length running-minimum runtimes after every decoded
// worker record. There is no terminal-plotting backend here — the
// non-goals this module inherited exclude one, so DisplaySummary is
// deliberately just enough rendering to exercise the same internal
// progress contract a richer backend would consume.
type Display int

const (
	DisplayNone Display = iota
	DisplayLog
	DisplaySummary
)

// SqRange mirrors benchmark.py's sq_range: a geometric sequence from
// 2^start to 2^stop with one log-half-step interpolated between each
// power of two, giving a denser sweep than pure powers of two without
// the cost of a linear one.
func SqRange(start, stop int) ([]int, error) {
	if start > stop {
		return nil, errf("sq_range", "start (%d) > stop (%d)", start, stop)
	}
	var out []int
	for v := start; v < stop; v++ {
		out = append(out, 1<<uint(v))
		out = append(out, int(math.Round(math.Pow(2, float64(v)+0.5))))
	}
	out = append(out, 1<<uint(stop))
	return out, nil
}

// Config is the driver's full run configuration, corresponding to the
// benchmark subcommand's flags.
type Config struct {
	LogPath            string
	ArchivePath        string
	CommonInitialState bool
	Kernels            []string
	SqRangeStart       int
	SqRangeStop        int
	SaveAfterIteration []uint64
	MinIterations      uint64
	MinTotalRuntimeS   float64
	Registry           *kernel.Registry
	WorkerBin          string
	Display            Display
	Stdout             io.Writer
}

func (c *Config) normalize() error {
	if c.Registry == nil {
		c.Registry = kernel.Default
	}
	if c.Stdout == nil {
		c.Stdout = os.Stdout
	}
	if c.WorkerBin == "" {
		self, err := os.Executable()
		if err != nil {
			return errf("normalize", "resolve worker binary: %v", err)
		}
		c.WorkerBin = self
	}
	return nil
}

// Run executes the full sweep and returns the accumulated Session. The
// first failure ends the sweep: a worker that exits non-zero stops its
// (kernel, variation)'s length queue, and a malformed log line is
// reported once that (kernel, variation)'s queue has finished. Run then
// returns that error together with the Session collected so far,
// without visiting the remaining kernels and variations.
func Run(ctx context.Context, cfg Config) (*benchlog.Session, error) {
	if err := cfg.normalize(); err != nil {
		return nil, err
	}

	arch, err := archive.Open(cfg.ArchivePath)
	if err != nil {
		return nil, err
	}

	lengths, err := SqRange(cfg.SqRangeStart, cfg.SqRangeStop)
	if err != nil {
		return nil, err
	}

	if cfg.CommonInitialState {
		if err := CommonInitialStates(arch, lengths); err != nil {
			return nil, err
		}
	}

	logFile, err := os.Create(cfg.LogPath)
	if err != nil {
		return nil, errf("run", "open log file: %v", err)
	}
	defer logFile.Close()

	session := benchlog.NewSession()
	var firstErr error

	for _, kernelName := range cfg.Kernels {
		descriptor, err := cfg.Registry.Get(kernelName)
		if err != nil {
			return session, err
		}
		meta := descriptor.Meta()
		if meta.Variations == nil {
			continue
		}

		for _, v := range meta.Variations.All() {
			if v.HasTPrefix() {
				// Redundant per-thread-count modes are a separate,
				// denser sweep the driver does not run by default;
				// preserved literally rather than "fixed" (see
				// DESIGN.md open-question (a)).
				continue
			}

			points := make([]scheduler.Point, len(lengths))
			for i, length := range lengths {
				points[i] = scheduler.Point{Kernel: kernelName, Variation: v, Length: length}
			}

			sess := newSweepSession(logFile, cfg.Display, cfg.Stdout)
			runner := workerRunner{cfg: cfg, arch: arch, session: sess}

			q := scheduler.NewQueue(points)
			if err := q.Run(ctx, runner); err != nil && firstErr == nil {
				firstErr = err
			}
			if err := sess.Join(); err != nil && firstErr == nil {
				firstErr = err
			}

			session.Benchmarks = append(session.Benchmarks, sess.log)
			if firstErr != nil {
				return session, firstErr
			}
		}
	}

	return session, firstErr
}

// CommonInitialStates pre-populates arch with one shared galaxy per
// length under the synthetic "zero" kernel name, for workers spawned
// with --read-initial-state to reload instead of generating their own.
// Grounded on benchmark.py's common_initial_states/UniverseZero, whose
// step_stage1 is deliberately never implemented because the universe it
// builds is never iterated — translated here as archive.NoopHooks,
// which already encodes "must not be iterated" as a hard error rather
// than a silent no-op.
func CommonInitialStates(arch *archive.Archive, lengths []int) error {
	for _, length := range lengths {
		key := archive.ZeroKey(length)
		if arch.Has(key) {
			continue
		}
		u, err := universe.FromGalaxy(universe.DefaultGalaxyConfig(length), universe.Config{
			T: 1.0, G: 6.674e-11, ScaleM: 1.0, ScaleR: 1.0,
			Hooks: archive.NoopHooks{},
		})
		if err != nil {
			return errf("common_initial_states", "length %d: %v", length, err)
		}
		if err := arch.Save(key, u); err != nil {
			return errf("common_initial_states", "length %d: %v", length, err)
		}
	}
	return nil
}

// workerRunner adapts one worker subprocess spawn to scheduler.Runner.
type workerRunner struct {
	cfg     Config
	arch    *archive.Archive
	session *sweepSession
}

func (r workerRunner) Run(ctx context.Context, p scheduler.Point) error {
	argv := workerArgv(r.cfg, p)
	return runCommand(ctx, argv, r.session.onLine)
}

func workerArgv(cfg Config, p scheduler.Point) []string {
	argv := []string{
		cfg.WorkerBin, "worker",
		"--kernel", p.Kernel,
		"--dtype", string(p.Variation.Dtype),
		"--target", string(p.Variation.Target),
		"--threads", p.Variation.Threads,
		"--length", strconv.Itoa(p.Length),
		"--archive", cfg.ArchivePath,
		"--min-iterations", strconv.FormatUint(cfg.MinIterations, 10),
		"--min-total-runtime", strconv.FormatFloat(cfg.MinTotalRuntimeS, 'f', -1, 64),
	}
	if cfg.CommonInitialState {
		argv = append(argv, "--read-initial-state")
	}
	if len(cfg.SaveAfterIteration) > 0 {
		parts := make([]string, len(cfg.SaveAfterIteration))
		for i, it := range cfg.SaveAfterIteration {
			parts[i] = strconv.FormatUint(it, 10)
		}
		argv = append(argv, "--checkpoints", strings.Join(parts, ","))
	}
	for k, v := range p.Variation.Extra {
		argv = append(argv, "--extra", k+"="+v)
	}
	return argv
}

// stream identifies which pipe a line of subprocess output came from.
type stream int

const (
	streamStdout stream = iota
	streamStderr
)

// sweepSession accumulates one (kernel, variation)'s worker output
// across every length in its sweep: every line is appended to the
// shared log file regardless of outcome, while only stdout lines are
// decoded into the live BenchmarkLog. The first malformed line is
// latched as the session's terminal error — subsequent lines are still
// logged (so nothing is silently lost) but no longer parsed, mirroring
// Benchmark.__call__'s identical behavior.
type sweepSession struct {
	logFile *os.File
	display Display
	stdout  io.Writer
	log     *benchlog.BenchmarkLog
	err     error
}

func newSweepSession(logFile *os.File, display Display, stdout io.Writer) *sweepSession {
	return &sweepSession{logFile: logFile, display: display, stdout: stdout, log: benchlog.NewBenchmarkLog()}
}

func (s *sweepSession) onLine(st stream, line string) {
	wireLine := line
	if st == streamStderr {
		encoded, err := benchlog.Encode("stderr", line, time.Now().UnixNano())
		if err == nil {
			wireLine = encoded
		}
	}

	fmt.Fprintln(s.logFile, wireLine)
	_ = s.logFile.Sync()

	if s.display == DisplayLog {
		fmt.Fprintln(s.stdout, wireLine)
	}
	if st == streamStderr {
		return
	}

	if s.err != nil {
		if s.display != DisplayLog {
			fmt.Fprintln(s.stdout, wireLine)
		}
		return
	}

	rec, err := benchlog.Decode(line)
	if err != nil {
		if s.display != DisplayLog {
			fmt.Fprintln(s.stdout, line)
		}
		s.err = err
		return
	}

	if err := s.log.Live(rec.Key, rec.Value, rec.Time); err != nil {
		s.err = err
		return
	}

	if s.display == DisplaySummary {
		renderSummary(s.stdout, s.log)
	}
}

// Join returns the session's latched terminal error, if any — called
// once a (kernel, variation)'s full length sweep has finished.
func (s *sweepSession) Join() error { return s.err }

// renderSummary prints one line per recorded length's running-minimum
// runtime, in place of a full terminal-plotting backend.
func renderSummary(w io.Writer, log *benchlog.BenchmarkLog) {
	lengths := log.Lengths()
	if len(lengths) == 0 {
		return
	}
	runtimes := log.RuntimesMin()
	var b strings.Builder
	for i, length := range lengths {
		if i > 0 {
			b.WriteString("  ")
		}
		if ns, ok := runtimes[length]; ok {
			fmt.Fprintf(&b, "%d:%s", length, time.Duration(ns))
		} else {
			fmt.Fprintf(&b, "%d:-", length)
		}
	}
	fmt.Fprintln(w, b.String())
}

// runCommand spawns argv, draining stdout/stderr concurrently via
// background goroutines feeding buffered channels, polled every 200ms
// (proc.py's sleep(0.2) loop) until both streams reach EOF. cmd.Wait is
// only called once both readers have finished, per os/exec's own
// contract that all pipe reads must complete before Wait runs (Wait
// closes the pipes as soon as it observes the process exit, so calling
// it concurrently with an in-flight Read races).
func runCommand(ctx context.Context, argv []string, onLine func(stream, string)) error {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	return runPreparedCommand(cmd, onLine)
}

// runPreparedCommand runs an already-configured *exec.Cmd (tests use
// this to set a custom Env before starting it).
func runPreparedCommand(cmd *exec.Cmd, onLine func(stream, string)) error {
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}

	stdoutCh := make(chan string, 256)
	stderrCh := make(chan string, 256)
	stdoutEOF := make(chan struct{})
	stderrEOF := make(chan struct{})
	go streamLines(stdoutPipe, stdoutCh, stdoutEOF)
	go streamLines(stderrPipe, stderrCh, stderrEOF)

	readersDone := make(chan struct{})
	go func() {
		<-stdoutEOF
		<-stderrEOF
		close(readersDone)
	}()

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			drainAll(stdoutCh, streamStdout, onLine)
			drainAll(stderrCh, streamStderr, onLine)
		case <-readersDone:
			drainAll(stdoutCh, streamStdout, onLine)
			drainAll(stderrCh, streamStderr, onLine)
			return cmd.Wait()
		}
	}
}

func streamLines(r io.Reader, out chan<- string, eof chan<- struct{}) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		out <- scanner.Text()
	}
	close(out)
	close(eof)
}

func drainAll(ch <-chan string, st stream, onLine func(stream, string)) {
	for {
		select {
		case line, ok := <-ch:
			if !ok {
				return
			}
			onLine(st, line)
		default:
			return
		}
	}
}
