// Package pricing annotates a remote sweep's instance launches with
// on-demand EC2 pricing, so analysis can rank instance types by cost
// per benchmark run alongside pkg/analysis's pure performance ranking
// (SPEC_FULL.md §B). This is informational only: nothing in
// pkg/verification or pkg/driver depends on price data being present.
//
// Grounded on pkg/pricing/aws_pricing.go's PricingService/
// PricePerformanceCalculator shape, but the teacher's own
// getHardcodedPricing is explicitly not carried forward here — a
// literal-string price table drifts from real AWS pricing the moment
// it's written, and the teacher's comment even admits as much
// ("simplified for demo - real implementation would use AWS SDK").
// This version queries the real AWS Price List API
// (aws-sdk-go-v2/service/pricing GetProducts, filtered to one instance
// type/region/OS/tenancy) and returns an explicit error when no price
// is found, rather than silently fabricating a number.
package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/pricing"
	"github.com/aws/aws-sdk-go-v2/service/pricing/types"
)

// PricingData is the on-demand hourly price for one instance type in
// one region.
type PricingData struct {
	InstanceType string  `json:"instance_type"`
	Region       string  `json:"region"`
	OnDemand     float64 `json:"on_demand_hourly"`
	Currency     string  `json:"currency"`
	LastUpdated  string  `json:"last_updated"`
}

// PricingService queries the AWS Price List API. The API is only
// served from us-east-1 and ap-south-1 regardless of which region's
// prices are being looked up.
type PricingService struct {
	client *pricing.Client
}

// NewPricingService constructs a pricing service against the Price
// List API endpoint in us-east-1.
func NewPricingService(ctx context.Context) (*PricingService, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion("us-east-1"))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return &PricingService{client: pricing.NewFromConfig(cfg)}, nil
}

// regionLocationNames maps EC2 region codes to the "location" strings
// the Price List API's AmazonEC2 service code filters on. The API has
// no programmatic region-code-to-location endpoint, so this table only
// covers the regions this project's sweeps commonly target; an
// unlisted region returns an explicit error rather than a guess.
var regionLocationNames = map[string]string{
	"us-east-1":      "US East (N. Virginia)",
	"us-east-2":      "US East (Ohio)",
	"us-west-1":      "US West (N. California)",
	"us-west-2":      "US West (Oregon)",
	"eu-west-1":      "EU (Ireland)",
	"eu-west-2":      "EU (London)",
	"eu-central-1":   "EU (Frankfurt)",
	"ap-southeast-1": "Asia Pacific (Singapore)",
	"ap-southeast-2": "Asia Pacific (Sydney)",
	"ap-northeast-1": "Asia Pacific (Tokyo)",
}

// priceListProduct is the minimal shape needed out of a Price List API
// product JSON blob to reach its on-demand USD rate.
type priceListProduct struct {
	Terms struct {
		OnDemand map[string]struct {
			PriceDimensions map[string]struct {
				PricePerUnit struct {
					USD string `json:"USD"`
				} `json:"pricePerUnit"`
			} `json:"priceDimensions"`
		} `json:"OnDemand"`
	} `json:"terms"`
}

// GetInstancePricing fetches the current on-demand hourly USD price
// for instanceType in region.
func (p *PricingService) GetInstancePricing(ctx context.Context, instanceType, region string) (*PricingData, error) {
	location, ok := regionLocationNames[region]
	if !ok {
		return nil, fmt.Errorf("pricing: no Price List location mapping for region %s", region)
	}

	resp, err := p.client.GetProducts(ctx, &pricing.GetProductsInput{
		ServiceCode: aws.String("AmazonEC2"),
		Filters: []types.Filter{
			{Type: types.FilterTypeTermMatch, Field: aws.String("instanceType"), Value: aws.String(instanceType)},
			{Type: types.FilterTypeTermMatch, Field: aws.String("location"), Value: aws.String(location)},
			{Type: types.FilterTypeTermMatch, Field: aws.String("operatingSystem"), Value: aws.String("Linux")},
			{Type: types.FilterTypeTermMatch, Field: aws.String("tenancy"), Value: aws.String("Shared")},
			{Type: types.FilterTypeTermMatch, Field: aws.String("preInstalledSw"), Value: aws.String("NA")},
			{Type: types.FilterTypeTermMatch, Field: aws.String("capacitystatus"), Value: aws.String("Used")},
		},
		MaxResults: aws.Int32(1),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query price list: %w", err)
	}
	if len(resp.PriceList) == 0 {
		return nil, fmt.Errorf("pricing not available for instance type %s in %s", instanceType, region)
	}

	var product priceListProduct
	if err := json.Unmarshal([]byte(resp.PriceList[0]), &product); err != nil {
		return nil, fmt.Errorf("failed to parse price list product: %w", err)
	}

	price, err := extractOnDemandUSD(product)
	if err != nil {
		return nil, fmt.Errorf("pricing not available for instance type %s in %s: %w", instanceType, region, err)
	}

	return &PricingData{
		InstanceType: instanceType,
		Region:       region,
		OnDemand:     price,
		Currency:     "USD",
		LastUpdated:  time.Now().UTC().Format(time.RFC3339),
	}, nil
}

func extractOnDemandUSD(product priceListProduct) (float64, error) {
	for _, term := range product.Terms.OnDemand {
		for _, dim := range term.PriceDimensions {
			var usd float64
			if _, err := fmt.Sscanf(dim.PricePerUnit.USD, "%f", &usd); err != nil {
				continue
			}
			return usd, nil
		}
	}
	return 0, fmt.Errorf("no OnDemand price dimension in product")
}

// RunMetrics is the per-run timing signal a benchmark sweep produces,
// used to rank cost against pkg/analysis's performance ranking.
type RunMetrics struct {
	RuntimeSeconds float64
}

// PricePerformanceMetrics is the cost/performance ranking for one
// instance type's benchmark run.
type PricePerformanceMetrics struct {
	InstanceType        string  `json:"instance_type"`
	Region              string  `json:"region"`
	HourlyPrice         float64 `json:"hourly_price"`
	RuntimeSeconds      float64 `json:"runtime_seconds"`
	CostPerRun          float64 `json:"cost_per_run"`           // hourly price prorated to one run
	BaselineInstance    string  `json:"baseline_instance"`      // reference instance, if any
	BaselineCostPerRun  float64 `json:"baseline_cost_per_run"`  // reference cost per run
	CostEfficiencyRatio float64 `json:"cost_efficiency_ratio"`  // baseline cost / this cost; >1.0 is cheaper than baseline
}

// PricePerformanceCalculator combines pricing lookups with a
// benchmark's measured runtime to rank instances by cost efficiency.
type PricePerformanceCalculator struct {
	pricingService *PricingService
	baseline       *PricePerformanceMetrics
}

// NewPricePerformanceCalculator builds a calculator, optionally
// normalizing every result against a baseline instance's cost per run.
func NewPricePerformanceCalculator(ctx context.Context, baseline *PricePerformanceMetrics) (*PricePerformanceCalculator, error) {
	svc, err := NewPricingService(ctx)
	if err != nil {
		return nil, err
	}
	return &PricePerformanceCalculator{pricingService: svc, baseline: baseline}, nil
}

// CalculatePricePerformance computes cost-per-run and, when a baseline
// is configured, a cost efficiency ratio against it.
func (calc *PricePerformanceCalculator) CalculatePricePerformance(
	ctx context.Context,
	instanceType, region string,
	metrics RunMetrics,
) (*PricePerformanceMetrics, error) {
	priceData, err := calc.pricingService.GetInstancePricing(ctx, instanceType, region)
	if err != nil {
		return nil, fmt.Errorf("failed to get pricing: %w", err)
	}

	costPerRun := priceData.OnDemand * (metrics.RuntimeSeconds / 3600)

	result := &PricePerformanceMetrics{
		InstanceType:   instanceType,
		Region:         region,
		HourlyPrice:    priceData.OnDemand,
		RuntimeSeconds: metrics.RuntimeSeconds,
		CostPerRun:     costPerRun,
	}
	result.BaselineInstance, result.BaselineCostPerRun, result.CostEfficiencyRatio = costEfficiencyAgainstBaseline(calc.baseline, costPerRun)

	return result, nil
}

// costEfficiencyAgainstBaseline computes how costPerRun compares to the
// calculator's configured baseline, if any. A ratio above 1.0 means
// costPerRun is cheaper than the baseline.
func costEfficiencyAgainstBaseline(baseline *PricePerformanceMetrics, costPerRun float64) (instance string, baselineCostPerRun, ratio float64) {
	if baseline == nil {
		return "", 0, 0
	}
	if costPerRun <= 0 {
		return baseline.InstanceType, baseline.CostPerRun, 0
	}
	return baseline.InstanceType, baseline.CostPerRun, baseline.CostPerRun / costPerRun
}

// BatchCalculatePricePerformance ranks cost/performance for multiple
// instance launches, skipping (and reporting) any whose pricing could
// not be retrieved rather than failing the whole batch.
func (calc *PricePerformanceCalculator) BatchCalculatePricePerformance(
	ctx context.Context,
	runs []struct {
		InstanceType string
		Region       string
		Metrics      RunMetrics
	},
) ([]*PricePerformanceMetrics, []error) {
	results := make([]*PricePerformanceMetrics, 0, len(runs))
	var errs []error

	for _, run := range runs {
		result, err := calc.CalculatePricePerformance(ctx, run.InstanceType, run.Region, run.Metrics)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s/%s: %w", run.InstanceType, run.Region, err))
			continue
		}
		results = append(results, result)
	}

	return results, errs
}
