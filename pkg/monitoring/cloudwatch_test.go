package monitoring

import (
	"context"
	"testing"
	"time"

	"github.com/nbodybench/gravitation/pkg/variation"
)

const testRegion = "us-east-1"

var naiveVariation = variation.Variation{Dtype: variation.Float64, Target: variation.CPU, Threads: variation.ThreadsSingle}

func TestNewMetricsCollector(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping AWS-dependent test in short mode")
	}

	collector, err := NewMetricsCollector(context.Background(), testRegion)
	if err != nil {
		t.Logf("Expected error without AWS credentials: %v", err)
		return
	}

	if collector.namespace != "GravitationSweep" {
		t.Errorf("Expected namespace 'GravitationSweep', got '%s'", collector.namespace)
	}

	foundRegion := false
	for _, dim := range collector.defaultDimensions {
		if *dim.Name == "Region" {
			foundRegion = true
			if *dim.Value != testRegion {
				t.Errorf("Expected Region dimension value '%s', got '%s'", testRegion, *dim.Value)
			}
		}
	}
	if !foundRegion {
		t.Error("Expected Region dimension to be present")
	}
}

func TestValidateStepMetrics(t *testing.T) {
	testCases := []struct {
		name        string
		metrics     StepMetrics
		expectError bool
	}{
		{
			name:        "valid metrics",
			metrics:     StepMetrics{Kernel: "naive", Variation: naiveVariation, Length: 4, RuntimeNs: 1000, GCTimeNs: 50},
			expectError: false,
		},
		{
			name:        "missing kernel",
			metrics:     StepMetrics{Variation: naiveVariation, Length: 4, RuntimeNs: 1000},
			expectError: true,
		},
		{
			name:        "negative runtime",
			metrics:     StepMetrics{Kernel: "naive", Variation: naiveVariation, Length: 4, RuntimeNs: -1},
			expectError: true,
		},
		{
			name:        "negative gctime",
			metrics:     StepMetrics{Kernel: "naive", Variation: naiveVariation, Length: 4, RuntimeNs: 10, GCTimeNs: -1},
			expectError: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := validateStepMetrics(tc.metrics)
			if tc.expectError && err == nil {
				t.Error("expected validation error, got none")
			}
			if !tc.expectError && err != nil {
				t.Errorf("unexpected validation error: %v", err)
			}
		})
	}
}

func TestPublishStep(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping AWS-dependent test in short mode")
	}

	collector, err := NewMetricsCollector(context.Background(), testRegion)
	if err != nil {
		t.Logf("Skipping test due to AWS configuration error: %v", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err = collector.PublishStep(ctx, StepMetrics{
		Kernel:    "naive",
		Variation: naiveVariation,
		Length:    1024,
		Iteration: 5,
		RuntimeNs: 1_500_000,
		GCTimeNs:  20_000,
		Timestamp: time.Now(),
	})
	if err != nil {
		t.Logf("Expected error in test environment: %v", err)
	}
}

func TestPublishWorkerStatus(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping AWS-dependent test in short mode")
	}

	collector, err := NewMetricsCollector(context.Background(), testRegion)
	if err != nil {
		t.Logf("Skipping test due to AWS configuration error: %v", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err = collector.PublishWorkerStatus(ctx, "naive", naiveVariation, 1024, "done")
	if err != nil {
		t.Logf("Expected error in test environment: %v", err)
	}
}
