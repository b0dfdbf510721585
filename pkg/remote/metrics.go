package remote

import (
	"context"
	"strings"

	"github.com/nbodybench/gravitation/pkg/benchlog"
	"github.com/nbodybench/gravitation/pkg/monitoring"
	"github.com/nbodybench/gravitation/pkg/pricing"
)

// ParseJobSession decodes job.Stdout as the JSON-line wire log a
// worker emits on stdout, the same format pkg/driver accumulates from
// a local subprocess's stdout, so a completed remote job's result can
// be analyzed and published identically to a local sweep's.
func ParseJobSession(job *Job) (*benchlog.Session, error) {
	session, err := benchlog.IngestSession(strings.NewReader(job.Stdout))
	if err != nil {
		return nil, errf("parse_job_session", "%v", err)
	}
	return session, nil
}

// PublishMetrics publishes every step recorded in session to
// CloudWatch via mc, plus one terminal WorkerStatus point per worker,
// so a remote sweep's progress is observable the same way
// cloudwatch.go's MetricsCollector tracks a fleet run.
func PublishMetrics(ctx context.Context, mc *monitoring.MetricsCollector, session *benchlog.Session) error {
	for _, b := range session.Benchmarks {
		for length, w := range b.Workers {
			for _, step := range w.Steps {
				err := mc.PublishStep(ctx, monitoring.StepMetrics{
					Kernel:    w.Kernel,
					Variation: w.Variation,
					Length:    length,
					Iteration: step.Iteration,
					RuntimeNs: step.RuntimeNs,
					GCTimeNs:  step.GCTimeNs,
				})
				if err != nil {
					return err
				}
			}
			if err := mc.PublishWorkerStatus(ctx, w.Kernel, w.Variation, length, w.Status); err != nil {
				return err
			}
		}
	}
	return nil
}

// AnnotatePrice sums each worker's recorded step runtime in session
// and prices it against instanceType/region via calc, one
// PricePerformanceMetrics per worker, the remote-dispatch analog of
// what a local sweep would compute per (kernel, variation, length)
// point.
func AnnotatePrice(ctx context.Context, calc *pricing.PricePerformanceCalculator, instanceType, region string, session *benchlog.Session) ([]*pricing.PricePerformanceMetrics, error) {
	var out []*pricing.PricePerformanceMetrics
	for _, b := range session.Benchmarks {
		for _, w := range b.Workers {
			var totalNs int64
			for _, step := range w.Steps {
				totalNs += step.RuntimeNs
			}
			if totalNs == 0 {
				continue
			}
			metrics, err := calc.CalculatePricePerformance(ctx, instanceType, region, pricing.RunMetrics{
				RuntimeSeconds: float64(totalNs) / 1e9,
			})
			if err != nil {
				return nil, err
			}
			out = append(out, metrics)
		}
	}
	return out, nil
}
