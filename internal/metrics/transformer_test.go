package metrics

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"github.com/kachi-io/kachi/internal/domain/customer"
	"github.com/kachi-io/kachi/internal/meter"
	"github.com/kachi-io/kachi/internal/testutil"
	"github.com/kachi-io/kachi/internal/types"
)

type TransformerSuite struct {
	testutil.BaseServiceSuite
	transformer *Transformer

	customerID string
	queriedAt  time.Time
}

func TestTransformer(t *testing.T) {
	suite.Run(t, new(TransformerSuite))
}

func (s *TransformerSuite) SetupTest() {
	s.BaseServiceSuite.SetupTest()
	s.transformer = NewTransformer(s.GetStores().Customers, s.GetLogger())

	s.customerID = "a1b2c3d4-0000-4000-8000-000000000008"
	s.queriedAt = time.Date(2026, 8, 1, 10, 0, 30, 0, time.UTC)

	err := s.GetStores().Customers.Create(testutil.SetupContext(), &customer.Customer{
		ID:          s.customerID,
		DisplayName: "Acme Agents",
		Currency:    "USD",
		Active:      true,
		BaseModel:   types.GetDefaultBaseModel(),
	})
	s.Require().NoError(err)
}

func (s *TransformerSuite) mapping() Mapping {
	return Mapping{
		ExternalMetricName:     "api_requests_total",
		MeterKey:               meter.MeterAPICalls,
		TransformationFunction: TransformSum,
	}
}

func (s *TransformerSuite) point(ts time.Time, value float64) DataPoint {
	return DataPoint{
		Timestamp: ts,
		Value:     value,
		Labels:    map[string]string{"customer_id": s.customerID},
	}
}

func (s *TransformerSuite) TestBucketsPerMinute() {
	collection := &CollectionResult{
		QueriedAt: s.queriedAt,
		DataPoints: []DataPoint{
			s.point(s.queriedAt, 3),
			s.point(s.queriedAt.Add(10*time.Second), 4),
			s.point(s.queriedAt.Add(time.Minute), 5),
		},
	}

	result, readings, err := s.transformer.Transform(testutil.SetupContext(), "prom", s.mapping(), collection)
	s.Require().NoError(err)
	s.Equal(2, result.ReadingsCreated)
	s.Require().Len(readings, 2)

	s.True(readings[0].Value.Equal(decimal.NewFromInt(7)))
	s.Equal(types.FloorToMinute(s.queriedAt), readings[0].Window.Start)
	s.Equal(time.Minute, readings[0].Window.End.Sub(readings[0].Window.Start))
	s.True(readings[1].Value.Equal(decimal.NewFromInt(5)))

	s.Equal("prom", readings[0].Metadata["source_system"])
	s.Equal("api_requests_total", readings[0].Metadata["external_metric"])
}

func (s *TransformerSuite) TestRepeatedCollectionDeduplicates() {
	collection := &CollectionResult{
		QueriedAt:  s.queriedAt,
		DataPoints: []DataPoint{s.point(s.queriedAt, 3)},
	}

	result, readings, err := s.transformer.Transform(testutil.SetupContext(), "prom", s.mapping(), collection)
	s.Require().NoError(err)
	s.Equal(1, result.ReadingsCreated)
	s.Len(readings, 1)

	// overlapping pull windows re-deliver the same samples
	result, readings, err = s.transformer.Transform(testutil.SetupContext(), "prom", s.mapping(), collection)
	s.Require().NoError(err)
	s.Equal(0, result.ReadingsCreated)
	s.Equal(1, result.DuplicatesSkipped)
	s.Empty(readings)
}

func (s *TransformerSuite) TestChangedValueIsNotADuplicate() {
	first := &CollectionResult{
		QueriedAt:  s.queriedAt,
		DataPoints: []DataPoint{s.point(s.queriedAt, 3)},
	}
	_, _, err := s.transformer.Transform(testutil.SetupContext(), "prom", s.mapping(), first)
	s.Require().NoError(err)

	// a late sample changes the bucket sum, so the reading goes out again
	second := &CollectionResult{
		QueriedAt: s.queriedAt.Add(5 * time.Minute),
		DataPoints: []DataPoint{
			s.point(s.queriedAt, 3),
			s.point(s.queriedAt.Add(10*time.Second), 2),
		},
	}
	result, readings, err := s.transformer.Transform(testutil.SetupContext(), "prom", s.mapping(), second)
	s.Require().NoError(err)
	s.Equal(1, result.ReadingsCreated)
	s.Require().Len(readings, 1)
	s.True(readings[0].Value.Equal(decimal.NewFromInt(5)))
}

func (s *TransformerSuite) TestSkipsUnlabeledAndUnknownCustomers() {
	collection := &CollectionResult{
		QueriedAt: s.queriedAt,
		DataPoints: []DataPoint{
			{Timestamp: s.queriedAt, Value: 3, Labels: map[string]string{}},
			{Timestamp: s.queriedAt, Value: 4, Labels: map[string]string{"customer_id": "not-a-uuid"}},
			{Timestamp: s.queriedAt, Value: 5, Labels: map[string]string{
				"customer_id": "a1b2c3d4-ffff-4000-8000-000000000099",
			}},
			s.point(s.queriedAt, 6),
		},
	}

	result, readings, err := s.transformer.Transform(testutil.SetupContext(), "prom", s.mapping(), collection)
	s.Require().NoError(err)
	s.Equal(3, result.PointsSkipped)
	s.Len(result.Warnings, 3)
	s.Require().Len(readings, 1)
	s.True(readings[0].Value.Equal(decimal.NewFromInt(6)))
}

func (s *TransformerSuite) TestAggregationFunctions() {
	values := []float64{2, 8, 5}
	s.True(aggregate(TransformSum, values).Equal(decimal.NewFromInt(15)))
	s.True(aggregate(TransformAvg, values).Equal(decimal.NewFromInt(5)))
	s.True(aggregate(TransformMin, values).Equal(decimal.NewFromInt(2)))
	s.True(aggregate(TransformMax, values).Equal(decimal.NewFromInt(8)))
	s.True(aggregate(TransformSum, nil).IsZero())
}

func (s *TransformerSuite) TestScalingAppliesBeforeFiltering() {
	mapping := s.mapping()
	mapping.ScalingFactor = decimal.NewFromFloat(0.5)

	collection := &CollectionResult{
		QueriedAt:  s.queriedAt,
		DataPoints: []DataPoint{s.point(s.queriedAt, 8)},
	}
	_, readings, err := s.transformer.Transform(testutil.SetupContext(), "prom", mapping, collection)
	s.Require().NoError(err)
	s.Require().Len(readings, 1)
	s.True(readings[0].Value.Equal(decimal.NewFromInt(4)))
}

func (s *TransformerSuite) TestNonPositiveValuesDropped() {
	collection := &CollectionResult{
		QueriedAt:  s.queriedAt,
		DataPoints: []DataPoint{s.point(s.queriedAt, 0)},
	}
	result, readings, err := s.transformer.Transform(testutil.SetupContext(), "prom", s.mapping(), collection)
	s.Require().NoError(err)
	s.Empty(readings)
	s.Equal(1, result.PointsSkipped)
}
