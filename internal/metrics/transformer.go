package metrics

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"

	"github.com/kachi-io/kachi/internal/domain/customer"
	"github.com/kachi-io/kachi/internal/domain/metering"
	"github.com/kachi-io/kachi/internal/logger"
	"github.com/kachi-io/kachi/internal/types"
)

const (
	// dedupTTL keeps content hashes long enough to cover overlapping
	// collection windows across restarts of the pull loop
	dedupTTL = 24 * time.Hour

	customerCacheTTL = 5 * time.Minute
)

// TransformationResult summarizes one transform pass
type TransformationResult struct {
	ReadingsCreated   int
	DuplicatesSkipped int
	PointsSkipped     int
	Warnings          []string
}

// Transformer turns raw external data points into minute-windowed meter
// readings, deduplicating on content so overlapping pulls are harmless.
type Transformer struct {
	customerRepo customer.Repository
	dedup        *gocache.Cache
	customers    *gocache.Cache
	logger       *logger.Logger
}

func NewTransformer(customerRepo customer.Repository, log *logger.Logger) *Transformer {
	return &Transformer{
		customerRepo: customerRepo,
		dedup:        gocache.New(dedupTTL, 10*time.Minute),
		customers:    gocache.New(customerCacheTTL, time.Minute),
		logger:       log,
	}
}

type bucketKey struct {
	customerID  string
	windowStart time.Time
}

// Transform buckets the collection's data points into 1-minute windows per
// customer, aggregates each bucket by the mapping's function, and returns
// readings for buckets not seen before.
func (t *Transformer) Transform(ctx context.Context, sourceName string, mapping Mapping, collection *CollectionResult) (*TransformationResult, []*metering.MeterReading, error) {
	result := &TransformationResult{}
	label := mapping.customerLabel()

	buckets := make(map[bucketKey][]float64)
	for _, dp := range collection.DataPoints {
		raw, ok := dp.Labels[label]
		if !ok || raw == "" {
			result.PointsSkipped++
			result.Warnings = appendWarning(result.Warnings,
				fmt.Sprintf("data point missing %s label on %s", label, mapping.ExternalMetricName))
			continue
		}
		customerID, err := types.ParseCustomerID(raw)
		if err != nil {
			result.PointsSkipped++
			result.Warnings = appendWarning(result.Warnings,
				fmt.Sprintf("invalid customer id %q on %s", raw, mapping.ExternalMetricName))
			continue
		}
		known, err := t.customerExists(ctx, customerID)
		if err != nil {
			return nil, nil, err
		}
		if !known {
			result.PointsSkipped++
			result.Warnings = appendWarning(result.Warnings,
				fmt.Sprintf("unknown customer %s on %s", customerID, mapping.ExternalMetricName))
			continue
		}

		key := bucketKey{customerID: customerID, windowStart: types.FloorToMinute(dp.Timestamp)}
		buckets[key] = append(buckets[key], dp.Value)
	}

	keys := make([]bucketKey, 0, len(buckets))
	for key := range buckets {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].customerID != keys[j].customerID {
			return keys[i].customerID < keys[j].customerID
		}
		return keys[i].windowStart.Before(keys[j].windowStart)
	})

	var readings []*metering.MeterReading
	for _, key := range keys {
		values := buckets[key]
		value := mapping.scale(aggregate(mapping.TransformationFunction, values))
		if value.LessThanOrEqual(decimal.Zero) {
			result.PointsSkipped++
			continue
		}

		hash := contentHash(key.customerID, key.windowStart, mapping.MeterKey, value)
		if _, seen := t.dedup.Get(hash); seen {
			result.DuplicatesSkipped++
			continue
		}
		t.dedup.Set(hash, struct{}{}, gocache.DefaultExpiration)

		readings = append(readings, &metering.MeterReading{
			CustomerID: key.customerID,
			MeterKey:   mapping.MeterKey,
			Window:     types.NewWindow(key.windowStart, key.windowStart.Add(time.Minute)),
			Value:      value,
			Metadata: types.Metadata{
				"external_metric":      mapping.ExternalMetricName,
				"source_system":        sourceName,
				"collection_timestamp": collection.QueriedAt.Format(time.RFC3339),
				"data_points_count":    fmt.Sprintf("%d", len(values)),
			},
		})
		result.ReadingsCreated++
	}

	for _, warning := range result.Warnings {
		t.logger.Warnw("external metric transform warning",
			"source", sourceName,
			"meter", mapping.MeterKey,
			"warning", warning,
		)
	}
	return result, readings, nil
}

func (t *Transformer) customerExists(ctx context.Context, customerID string) (bool, error) {
	if cached, found := t.customers.Get(customerID); found {
		return cached.(bool), nil
	}
	exists, err := t.customerRepo.Exists(ctx, customerID)
	if err != nil {
		return false, err
	}
	t.customers.Set(customerID, exists, gocache.DefaultExpiration)
	return exists, nil
}

// contentHash identifies a reading by what it says, not when it was pulled,
// so re-collecting the same window is a no-op.
func contentHash(customerID string, windowStart time.Time, meterKey string, value decimal.Decimal) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf(
		"%s:%d:%s:%s", customerID, windowStart.Unix(), meterKey, value.String())))
	return hex.EncodeToString(sum[:])
}

func aggregate(fn TransformationFunction, values []float64) decimal.Decimal {
	if len(values) == 0 {
		return decimal.Zero
	}
	switch fn {
	case TransformAvg, TransformRate:
		sum := 0.0
		for _, v := range values {
			sum += v
		}
		return decimal.NewFromFloat(sum / float64(len(values)))
	case TransformMin:
		min := values[0]
		for _, v := range values[1:] {
			if v < min {
				min = v
			}
		}
		return decimal.NewFromFloat(min)
	case TransformMax:
		max := values[0]
		for _, v := range values[1:] {
			if v > max {
				max = v
			}
		}
		return decimal.NewFromFloat(max)
	default:
		sum := 0.0
		for _, v := range values {
			sum += v
		}
		return decimal.NewFromFloat(sum)
	}
}

// appendWarning caps the warning list so a misconfigured mapping cannot
// flood memory
func appendWarning(warnings []string, warning string) []string {
	const maxWarnings = 50
	if len(warnings) >= maxWarnings {
		return warnings
	}
	return append(warnings, warning)
}
