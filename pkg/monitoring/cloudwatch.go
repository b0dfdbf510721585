// Package monitoring publishes per-step runtime/GC-time metrics to
// CloudWatch while a remote sweep is running (SPEC_FULL.md §B).
//
// Grounded on pkg/monitoring/cloudwatch.go's MetricsCollector: the same
// default-dimension/batch-publish/validate-before-publish idiom,
// narrowed from BenchmarkMetrics' STREAM/HPL/cost-tracking fields down
// to benchlog.StepLog's runtime and GC timing, since that's the only
// per-iteration signal this domain produces.
package monitoring

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"github.com/nbodybench/gravitation/pkg/variation"
)

// Monitoring errors, carried over from cloudwatch.go's validation
// sentinels.
var (
	ErrInvalidMetricValue = errors.New("metric value is invalid")
	ErrMetricNameRequired = errors.New("metric name is required")
)

// MetricsCollector publishes sweep step metrics to CloudWatch.
type MetricsCollector struct {
	cloudwatchClient  *cloudwatch.Client
	namespace         string
	defaultDimensions []types.Dimension
}

// NewMetricsCollector builds a collector from the default AWS
// credential chain/region resolution, namespaced under
// "GravitationSweep" the way the teacher namespaces under
// "InstanceBenchmarks".
func NewMetricsCollector(ctx context.Context, region string) (*MetricsCollector, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &MetricsCollector{
		cloudwatchClient: cloudwatch.NewFromConfig(cfg),
		namespace:        "GravitationSweep",
		defaultDimensions: []types.Dimension{
			{Name: aws.String("Region"), Value: aws.String(region)},
		},
	}, nil
}

// StepMetrics is one worker step's timing, the unit PublishStep
// translates into CloudWatch data points.
type StepMetrics struct {
	Kernel    string
	Variation variation.Variation
	Length    int
	Iteration uint64
	RuntimeNs int64
	GCTimeNs  int64
	Timestamp time.Time
}

// PublishStep publishes one step's runtime and GC time, dimensioned by
// kernel/variation/length so CloudWatch can group and graph by any of
// them.
func (mc *MetricsCollector) PublishStep(ctx context.Context, m StepMetrics) error {
	if err := validateStepMetrics(m); err != nil {
		return fmt.Errorf("metric validation failed: %w", err)
	}

	timestamp := m.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now()
	}

	dimensions := append([]types.Dimension{}, mc.defaultDimensions...)
	dimensions = append(dimensions,
		types.Dimension{Name: aws.String("Kernel"), Value: aws.String(m.Kernel)},
		types.Dimension{Name: aws.String("Variation"), Value: aws.String(m.Variation.Key())},
		types.Dimension{Name: aws.String("Length"), Value: aws.String(fmt.Sprintf("%d", m.Length))},
	)

	metricData := []types.MetricDatum{
		{
			MetricName: aws.String("StepRuntime"),
			Value:      aws.Float64(float64(m.RuntimeNs) / 1e6),
			Unit:       types.StandardUnitMilliseconds,
			Timestamp:  aws.Time(timestamp),
			Dimensions: dimensions,
		},
		{
			MetricName: aws.String("StepGCTime"),
			Value:      aws.Float64(float64(m.GCTimeNs) / 1e6),
			Unit:       types.StandardUnitMilliseconds,
			Timestamp:  aws.Time(timestamp),
			Dimensions: dimensions,
		},
	}

	return mc.publishMetricBatch(ctx, metricData)
}

// PublishWorkerStatus publishes a single Count data point recording a
// worker's terminal status (e.g. "ok", "did not stop"), dimensioned the
// same way as PublishStep so status can be correlated against timing.
func (mc *MetricsCollector) PublishWorkerStatus(ctx context.Context, kernelName string, v variation.Variation, length int, status string) error {
	if kernelName == "" {
		return fmt.Errorf("%w: kernel is required", ErrMetricNameRequired)
	}

	dimensions := append([]types.Dimension{}, mc.defaultDimensions...)
	dimensions = append(dimensions,
		types.Dimension{Name: aws.String("Kernel"), Value: aws.String(kernelName)},
		types.Dimension{Name: aws.String("Variation"), Value: aws.String(v.Key())},
		types.Dimension{Name: aws.String("Length"), Value: aws.String(fmt.Sprintf("%d", length))},
		types.Dimension{Name: aws.String("Status"), Value: aws.String(status)},
	)

	return mc.publishMetricBatch(ctx, []types.MetricDatum{
		{
			MetricName: aws.String("WorkerStatus"),
			Value:      aws.Float64(1.0),
			Unit:       types.StandardUnitCount,
			Timestamp:  aws.Time(time.Now()),
			Dimensions: dimensions,
		},
	})
}

func validateStepMetrics(m StepMetrics) error {
	if m.Kernel == "" {
		return fmt.Errorf("%w: kernel is required", ErrMetricNameRequired)
	}
	if m.RuntimeNs < 0 || m.GCTimeNs < 0 {
		return fmt.Errorf("%w: runtime/gctime cannot be negative", ErrInvalidMetricValue)
	}
	return nil
}

// publishMetricBatch publishes metricData in batches of at most 1000
// data points, CloudWatch's PutMetricData limit.
func (mc *MetricsCollector) publishMetricBatch(ctx context.Context, metricData []types.MetricDatum) error {
	if len(metricData) == 0 {
		return nil
	}

	const batchSize = 1000
	for i := 0; i < len(metricData); i += batchSize {
		end := i + batchSize
		if end > len(metricData) {
			end = len(metricData)
		}

		_, err := mc.cloudwatchClient.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
			Namespace:  aws.String(mc.namespace),
			MetricData: metricData[i:end],
		})
		if err != nil {
			return fmt.Errorf("failed to publish metric batch: %w", err)
		}
	}
	return nil
}
