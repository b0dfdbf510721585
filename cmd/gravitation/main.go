// Package main provides the command-line interface for the
// gravitation benchmark harness.
//
// This is a thin cobra dispatcher only (spec §1's explicit non-goal
// excludes CLI business logic): every subcommand parses flags, selects
// a variation from what the chosen kernel advertises, and delegates
// straight into pkg/…. Grounded on cmd/main.go's cobra tree shape —
// persistent var declarations feeding Flags().*Var, RunE handlers, a
// command-per-capability AddCommand tree.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nbodybench/gravitation/pkg/analysis"
	"github.com/nbodybench/gravitation/pkg/archive"
	"github.com/nbodybench/gravitation/pkg/benchlog"
	"github.com/nbodybench/gravitation/pkg/containers"
	"github.com/nbodybench/gravitation/pkg/driver"
	"github.com/nbodybench/gravitation/pkg/kernel"
	_ "github.com/nbodybench/gravitation/pkg/kernels/naive"
	"github.com/nbodybench/gravitation/pkg/monitoring"
	"github.com/nbodybench/gravitation/pkg/platform"
	"github.com/nbodybench/gravitation/pkg/pricing"
	"github.com/nbodybench/gravitation/pkg/remote"
	"github.com/nbodybench/gravitation/pkg/schema"
	"github.com/nbodybench/gravitation/pkg/storage"
	"github.com/nbodybench/gravitation/pkg/variation"
	"github.com/nbodybench/gravitation/pkg/verification"
	"github.com/nbodybench/gravitation/pkg/worker"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "gravitation",
		Short: "Gravitational N-body benchmark harness",
		Long: `A length-swept gravitational N-body benchmark harness.

Compares pluggable acceleration kernels across dtype/target/thread
variations and host platforms, verifying their physical agreement
against a shared reference trajectory.`,
	}

	rootCmd.AddCommand(newWorkerCmd())
	rootCmd.AddCommand(newBenchmarkCmd())
	rootCmd.AddCommand(newVerifyCmd())
	rootCmd.AddCommand(newRemoteCmd())
	rootCmd.AddCommand(newSchemaCmd())
	rootCmd.AddCommand(newContainersCmd())
	rootCmd.AddCommand(newAnalyzeCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// resolveVariation selects one point from kernelName's advertised
// configuration space, the way the driver's own sweep does via
// Variations.Select, so a malformed CLI combination is rejected with
// the same error a sweep would raise rather than silently constructing
// an unadvertised Variation.
func resolveVariation(registry *kernel.Registry, kernelName, dtype, target, threads string, extra map[string]string) (variation.Variation, error) {
	descriptor, err := registry.Get(kernelName)
	if err != nil {
		return variation.Variation{}, err
	}
	meta := descriptor.Meta()
	if meta.Variations == nil {
		return variation.Variation{}, fmt.Errorf("kernel %s advertises no variations", kernelName)
	}

	kwargs := map[string]string{"dtype": dtype, "target": target, "threads": threads}
	for k, v := range extra {
		kwargs[k] = v
	}
	return meta.Variations.Select(kwargs)
}

func parseExtra(pairs []string) (map[string]string, error) {
	extra := map[string]string{}
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("malformed --extra %q, want key=value", pair)
		}
		extra[k] = v
	}
	return extra, nil
}

func newWorkerCmd() *cobra.Command {
	var (
		kernelName       string
		dtype            string
		target           string
		threads          string
		length           int
		archivePath      string
		minIterations    uint64
		minTotalRuntime  float64
		readInitialState bool
		checkpointsRaw   string
		extraRaw         []string
		diagnose         bool
	)

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run one (kernel, variation, length) benchmark point to completion",
		RunE: func(cmd *cobra.Command, args []string) error {
			extra, err := parseExtra(extraRaw)
			if err != nil {
				return err
			}
			v, err := resolveVariation(kernel.Default, kernelName, dtype, target, threads, extra)
			if err != nil {
				return err
			}

			var checkpoints []uint64
			if checkpointsRaw != "" {
				for _, part := range strings.Split(checkpointsRaw, ",") {
					n, err := strconv.ParseUint(strings.TrimSpace(part), 10, 64)
					if err != nil {
						return fmt.Errorf("malformed --checkpoints %q: %w", checkpointsRaw, err)
					}
					checkpoints = append(checkpoints, n)
				}
			}

			cfg := worker.Config{
				KernelName:       kernelName,
				Variation:        v,
				Length:           length,
				ArchivePath:      archivePath,
				Checkpoints:      checkpoints,
				ReadInitialState: readInitialState,
				MinIterations:    minIterations,
				MinTotalRuntimeS: minTotalRuntime,
				Diagnose:         diagnose,
				Out:              os.Stdout,
			}
			if err := worker.Run(cfg); err != nil {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&kernelName, "kernel", "", "kernel name (required)")
	cmd.Flags().StringVar(&dtype, "dtype", string(variation.Float64), "numeric dtype")
	cmd.Flags().StringVar(&target, "target", string(variation.CPU), "execution target")
	cmd.Flags().StringVar(&threads, "threads", variation.ThreadsAuto, "thread mode")
	cmd.Flags().IntVar(&length, "length", 0, "body count (required)")
	cmd.Flags().StringVar(&archivePath, "archive", "", "snapshot archive path (required)")
	cmd.Flags().Uint64Var(&minIterations, "min-iterations", 1, "minimum iterations to run")
	cmd.Flags().Float64Var(&minTotalRuntime, "min-total-runtime", 0, "minimum total wall-clock seconds to run")
	cmd.Flags().BoolVar(&readInitialState, "read-initial-state", false, "start from the archive's shared zero snapshot")
	cmd.Flags().StringVar(&checkpointsRaw, "checkpoints", "", "comma-separated iterations to checkpoint at")
	cmd.Flags().StringArrayVar(&extraRaw, "extra", nil, "kernel-specific option as key=value (repeatable)")
	cmd.Flags().BoolVar(&diagnose, "diagnose", false, "record a host diagnostics snapshot before the first step")
	_ = cmd.MarkFlagRequired("kernel")
	_ = cmd.MarkFlagRequired("length")
	_ = cmd.MarkFlagRequired("archive")

	return cmd
}

func newBenchmarkCmd() *cobra.Command {
	var (
		logPath             string
		archivePath         string
		commonInitialState  bool
		kernels             []string
		sqRangeStart        int
		sqRangeStop         int
		saveAfterIterRaw    string
		minIterations       uint64
		minTotalRuntime     float64
		summary             bool
		mirrorBucket        string
		mirrorPrefix        string
	)

	cmd := &cobra.Command{
		Use:   "benchmark",
		Short: "Sweep a length range across kernels, spawning one worker per point",
		RunE: func(cmd *cobra.Command, args []string) error {
			var saveAfter []uint64
			if saveAfterIterRaw != "" {
				for _, part := range strings.Split(saveAfterIterRaw, ",") {
					n, err := strconv.ParseUint(strings.TrimSpace(part), 10, 64)
					if err != nil {
						return fmt.Errorf("malformed --save-after-iteration %q: %w", saveAfterIterRaw, err)
					}
					saveAfter = append(saveAfter, n)
				}
			}

			display := driver.DisplayLog
			if summary {
				display = driver.DisplaySummary
			}

			cfg := driver.Config{
				LogPath:            logPath,
				ArchivePath:        archivePath,
				CommonInitialState: commonInitialState,
				Kernels:            kernels,
				SqRangeStart:       sqRangeStart,
				SqRangeStop:        sqRangeStop,
				SaveAfterIteration: saveAfter,
				MinIterations:      minIterations,
				MinTotalRuntimeS:   minTotalRuntime,
				Display:            display,
				Stdout:             os.Stdout,
			}

			session, err := driver.Run(context.Background(), cfg)
			if err != nil {
				return err
			}
			_ = session

			if mirrorBucket != "" {
				if err := mirrorSweepOutputs(context.Background(), mirrorBucket, mirrorPrefix, logPath, archivePath); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&logPath, "log", "sweep.jsonl", "path to write the wire log to")
	cmd.Flags().StringVar(&archivePath, "archive", "", "snapshot archive path (required)")
	cmd.Flags().BoolVar(&commonInitialState, "common-initial-state", false, "share one initial galaxy across every kernel/variation")
	cmd.Flags().StringSliceVar(&kernels, "kernels", nil, "kernel names to sweep (required)")
	cmd.Flags().IntVar(&sqRangeStart, "sq-range-start", 4, "sq_range start exponent")
	cmd.Flags().IntVar(&sqRangeStop, "sq-range-stop", 10, "sq_range stop exponent")
	cmd.Flags().StringVar(&saveAfterIterRaw, "save-after-iteration", "", "comma-separated iterations to checkpoint every point at")
	cmd.Flags().Uint64Var(&minIterations, "min-iterations", 1, "minimum iterations per point")
	cmd.Flags().Float64Var(&minTotalRuntime, "min-total-runtime", 0, "minimum total wall-clock seconds per point")
	cmd.Flags().BoolVar(&summary, "summary", false, "render a per-length runtime summary instead of the raw log")
	cmd.Flags().StringVar(&mirrorBucket, "mirror-bucket", "", "S3 bucket to mirror the log and archive to after a successful sweep")
	cmd.Flags().StringVar(&mirrorPrefix, "mirror-prefix", "", "S3 key prefix for mirrored objects")
	_ = cmd.MarkFlagRequired("archive")
	_ = cmd.MarkFlagRequired("kernels")

	return cmd
}

// mirrorSweepOutputs uploads a completed sweep's wire log and archive
// file to S3 via pkg/storage, the durable-copy half of SPEC_FULL.md §B
// a local sweep can also opt into, not just a remote-dispatched one.
func mirrorSweepOutputs(ctx context.Context, bucket, prefix, logPath, archivePath string) error {
	mirror, err := storage.New(ctx, storage.Config{BucketName: bucket, KeyPrefix: prefix})
	if err != nil {
		return err
	}

	now := time.Now()

	logFile, err := os.Open(logPath)
	if err != nil {
		return fmt.Errorf("mirror: opening log: %w", err)
	}
	defer logFile.Close()
	if err := mirror.Put(ctx, mirror.SessionKey(now), logFile, "application/x-ndjson"); err != nil {
		return fmt.Errorf("mirror: uploading log: %w", err)
	}

	archiveFile, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("mirror: opening archive: %w", err)
	}
	defer archiveFile.Close()
	// length=0 labels a whole-sweep archive: one archive file spans
	// every kernel/variation/length the sweep ran, not one point.
	if err := mirror.Put(ctx, mirror.ArchiveKey("sweep", 0, now), archiveFile, "application/octet-stream"); err != nil {
		return fmt.Errorf("mirror: uploading archive: %w", err)
	}
	return nil
}

func newVerifyCmd() *cobra.Command {
	var (
		archivePath string
		kernelName  string
		iteration   uint64
		dtype       string
		target      string
		threads     string
		extraRaw    []string
	)

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Compare every snapshot in an archive against one reference point",
		RunE: func(cmd *cobra.Command, args []string) error {
			extra, err := parseExtra(extraRaw)
			if err != nil {
				return err
			}
			v, err := resolveVariation(kernel.Default, kernelName, dtype, target, threads, extra)
			if err != nil {
				return err
			}

			arch, err := archive.Open(archivePath)
			if err != nil {
				return err
			}

			ref := verification.Reference{
				Kernel:    kernelName,
				Iteration: iteration,
				Variation: v,
				Platform:  platform.FromCurrent(),
			}

			results, err := verification.Verify(arch, ref)
			if err != nil {
				return err
			}
			for _, r := range results {
				fmt.Printf("%s: %d distances across %d lengths\n", r.Name, len(r.Dists), len(uniqueLabels(r.LengthLabels)))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&archivePath, "archive", "", "snapshot archive path (required)")
	cmd.Flags().StringVar(&kernelName, "kernel", "", "reference kernel name (required)")
	cmd.Flags().Uint64Var(&iteration, "iteration", 0, "reference iteration")
	cmd.Flags().StringVar(&dtype, "dtype", string(variation.Float64), "reference numeric dtype")
	cmd.Flags().StringVar(&target, "target", string(variation.CPU), "reference execution target")
	cmd.Flags().StringVar(&threads, "threads", variation.ThreadsAuto, "reference thread mode")
	cmd.Flags().StringArrayVar(&extraRaw, "extra", nil, "kernel-specific option as key=value (repeatable)")
	_ = cmd.MarkFlagRequired("archive")
	_ = cmd.MarkFlagRequired("kernel")

	return cmd
}

func uniqueLabels(labels []string) map[string]struct{} {
	set := make(map[string]struct{}, len(labels))
	for _, l := range labels {
		set[l] = struct{}{}
	}
	return set
}

func newRemoteCmd() *cobra.Command {
	remoteCmd := &cobra.Command{
		Use:   "remote",
		Short: "Discover EC2 instance types and dispatch worker runs via SSM",
	}

	var region string

	discoverCmd := &cobra.Command{
		Use:   "discover",
		Short: "List EC2 instance types available as worker Platforms",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			d, err := remote.NewDiscoverer(ctx)
			if err != nil {
				return err
			}
			types, err := d.DiscoverInstanceTypes(ctx)
			if err != nil {
				return err
			}
			for _, t := range types {
				fmt.Printf("%s\t%s\t%d vcpus\n", t.Name, t.Architecture, t.VCPUs)
			}
			return nil
		},
	}
	discoverCmd.Flags().StringVar(&region, "region", "us-east-1", "not used: instance types are discovered in the region the default AWS configuration resolves")

	var (
		instanceID     string
		workerArgv     []string
		pollSeconds    int
		publishMetrics bool
		metricsRegion  string
		priceAnnotate  bool
		instanceType   string
		priceRegion    string
	)
	launchCmd := &cobra.Command{
		Use:   "launch",
		Short: "Dispatch a worker invocation onto a running EC2 instance via SSM",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			l, err := remote.NewLauncher(ctx)
			if err != nil {
				return err
			}
			job, err := l.Launch(ctx, instanceID, workerArgv)
			if err != nil {
				return err
			}
			if err := l.Wait(ctx, job, time.Duration(pollSeconds)*time.Second); err != nil {
				return err
			}
			fmt.Println(job.Stdout)
			if job.Status != remote.StatusCompleted {
				return fmt.Errorf("remote worker finished with status %s: %s", job.Status, job.Stderr)
			}

			if publishMetrics || priceAnnotate {
				session, err := remote.ParseJobSession(job)
				if err != nil {
					return fmt.Errorf("parsing job session for reporting: %w", err)
				}

				if publishMetrics {
					mc, err := monitoring.NewMetricsCollector(ctx, metricsRegion)
					if err != nil {
						return err
					}
					if err := remote.PublishMetrics(ctx, mc, session); err != nil {
						return fmt.Errorf("publishing metrics: %w", err)
					}
				}

				if priceAnnotate {
					if instanceType == "" {
						return fmt.Errorf("--instance-type is required with --price")
					}
					calc, err := pricing.NewPricePerformanceCalculator(ctx, nil)
					if err != nil {
						return err
					}
					results, err := remote.AnnotatePrice(ctx, calc, instanceType, priceRegion, session)
					if err != nil {
						return fmt.Errorf("annotating price: %w", err)
					}
					for _, r := range results {
						fmt.Printf("%s (%s): $%.6f/run at $%.4f/hr\n", r.InstanceType, r.Region, r.CostPerRun, r.HourlyPrice)
					}
				}
			}
			return nil
		},
	}
	launchCmd.Flags().StringVar(&instanceID, "instance-id", "", "EC2 instance ID to dispatch onto (required)")
	launchCmd.Flags().StringArrayVar(&workerArgv, "worker-arg", nil, "argument to pass to the remote worker binary (repeatable, in order)")
	launchCmd.Flags().IntVar(&pollSeconds, "poll-interval-seconds", 5, "SSM invocation poll interval")
	launchCmd.Flags().BoolVar(&publishMetrics, "publish-metrics", false, "publish per-step runtime/GC metrics to CloudWatch")
	launchCmd.Flags().StringVar(&metricsRegion, "metrics-region", "us-east-1", "CloudWatch region for --publish-metrics")
	launchCmd.Flags().BoolVar(&priceAnnotate, "price", false, "annotate the job's runtime with on-demand EC2 pricing")
	launchCmd.Flags().StringVar(&instanceType, "instance-type", "", "EC2 instance type to price against (required with --price)")
	launchCmd.Flags().StringVar(&priceRegion, "price-region", "us-east-1", "AWS region to look up pricing in")
	_ = launchCmd.MarkFlagRequired("instance-id")

	remoteCmd.AddCommand(discoverCmd)
	remoteCmd.AddCommand(launchCmd)
	return remoteCmd
}

func newSchemaCmd() *cobra.Command {
	schemaCmd := &cobra.Command{
		Use:   "schema",
		Short: "Validate and migrate benchlog session records",
	}

	validateCmd := &cobra.Command{
		Use:   "validate [file]",
		Short: "Validate one session-log record (a file holding a single JSON object) against the bundled schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manager := schema.DefaultSchemaManager()
			validator, err := manager.GetLatestValidator()
			if err != nil {
				return err
			}
			result, err := validator.ValidateFile(args[0])
			if err != nil {
				return err
			}
			fmt.Println(result.String())
			if !result.Valid {
				return fmt.Errorf("validation failed")
			}
			return nil
		},
	}

	var targetVersionRaw string
	migrateCmd := &cobra.Command{
		Use:   "migrate [input] [output]",
		Short: "Migrate a record file to a target schema version",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			targetVersion, err := schema.ParseVersion(targetVersionRaw)
			if err != nil {
				return err
			}
			migrator := schema.NewMigrator()
			return migrator.MigrateFile(args[0], args[1], targetVersion)
		},
	}
	migrateCmd.Flags().StringVar(&targetVersionRaw, "target-version", "1.0.0", "schema version to migrate to")

	schemaCmd.AddCommand(validateCmd)
	schemaCmd.AddCommand(migrateCmd)
	return schemaCmd
}

func newContainersCmd() *cobra.Command {
	var (
		registry     string
		namespace    string
		goarch       string
		containerTag string
		push         bool
	)

	cmd := &cobra.Command{
		Use:   "containers",
		Short: "Build a worker container image for remote/SSM execution",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			builder := containers.NewBuilder(registry, namespace)
			cfg := containers.BuildConfig{GOARCH: goarch, ContainerTag: containerTag}
			if err := builder.BuildContainer(ctx, cfg); err != nil {
				return err
			}
			if push {
				return builder.PushContainer(ctx, cfg)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&registry, "registry", "public.ecr.aws", "container registry URL")
	cmd.Flags().StringVar(&namespace, "namespace", "gravitation", "registry namespace")
	cmd.Flags().StringVar(&goarch, "goarch", "amd64", "Go cross-compilation target (amd64, arm64)")
	cmd.Flags().StringVar(&containerTag, "tag", "amd64", "image tag")
	cmd.Flags().BoolVar(&push, "push", false, "push the image after building")

	return cmd
}

func newAnalyzeCmd() *cobra.Command {
	var length int

	cmd := &cobra.Command{
		Use:   "analyze [log]",
		Short: "Rank a sweep's wire log by runtime, complementing verify's per-body error check",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			session, err := benchlog.IngestSession(f)
			if err != nil {
				return err
			}

			lengths := []int{length}
			if length == 0 {
				lengths = analysis.Lengths(session)
			}
			if len(lengths) == 0 {
				return fmt.Errorf("no lengths recorded in %s", args[0])
			}

			for _, l := range lengths {
				rankings, err := analysis.RankByLength(session, l)
				if err != nil {
					return err
				}
				fmt.Printf("length %d:\n", l)
				for _, r := range rankings {
					fmt.Printf("  %s/%s: mean=%.0fns min=%.0fns max=%.0fns (n=%d)\n",
						r.Kernel, r.Variation.Key(), r.Runtime.Mean, r.Runtime.Min, r.Runtime.Max, r.Runtime.Count)
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&length, "length", 0, "rank only this length (default: every length in the log)")

	return cmd
}
