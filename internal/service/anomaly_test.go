package service

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"github.com/kachi-io/kachi/internal/domain/metering"
	"github.com/kachi-io/kachi/internal/meter"
	"github.com/kachi-io/kachi/internal/testutil"
	"github.com/kachi-io/kachi/internal/types"
)

type AnomalyServiceSuite struct {
	testutil.BaseServiceSuite
	service AnomalyService

	customerID string
}

func TestAnomalyService(t *testing.T) {
	suite.Run(t, new(AnomalyServiceSuite))
}

func (s *AnomalyServiceSuite) SetupTest() {
	s.BaseServiceSuite.SetupTest()
	stores := s.GetStores()
	s.service = NewAnomalyService(ServiceParams{
		Logger:       s.GetLogger(),
		Config:       s.GetConfig(),
		MeterRepo:    stores.Meters,
		CustomerRepo: stores.Customers,
	})
	s.customerID = "a1b2c3d4-0000-4000-8000-000000000006"
}

func (s *AnomalyServiceSuite) seedReading(meterKey string, value decimal.Decimal, windowStart time.Time) {
	err := s.GetStores().Meters.Upsert(testutil.SetupContext(), &metering.MeterReading{
		CustomerID: s.customerID,
		MeterKey:   meterKey,
		Window:     types.WindowFor(windowStart, 5*time.Minute),
		Value:      value,
	})
	s.Require().NoError(err)
}

func (s *AnomalyServiceSuite) anomaliesOfType(anomalies []Anomaly, t AnomalyType) []Anomaly {
	var out []Anomaly
	for _, a := range anomalies {
		if a.Type == t {
			out = append(out, a)
		}
	}
	return out
}

func (s *AnomalyServiceSuite) TestSilenceWhenNoRecentReadings() {
	anomalies, err := s.service.ScanCustomer(testutil.SetupContext(), s.customerID, 24)
	s.Require().NoError(err)

	silences := s.anomaliesOfType(anomalies, AnomalySilence)
	s.Require().Len(silences, 1)
	s.Equal(s.customerID, silences[0].CustomerID)
	s.Contains(silences[0].Message, "24h")
}

func (s *AnomalyServiceSuite) TestRecentReadingClearsSilence() {
	s.seedReading(meter.MeterAPICalls, dec("10"), time.Now().UTC().Add(-time.Hour))

	anomalies, err := s.service.ScanCustomer(testutil.SetupContext(), s.customerID, 24)
	s.Require().NoError(err)
	s.Empty(s.anomaliesOfType(anomalies, AnomalySilence))
}

func (s *AnomalyServiceSuite) TestSilenceThresholdDefaultsWhenUnset() {
	// a reading 30h old is silent at 24h but not at 48h
	s.seedReading(meter.MeterAPICalls, dec("10"), time.Now().UTC().Add(-30*time.Hour))

	anomalies, err := s.service.ScanCustomer(testutil.SetupContext(), s.customerID, 0)
	s.Require().NoError(err)
	s.Len(s.anomaliesOfType(anomalies, AnomalySilence), 1)

	anomalies, err = s.service.ScanCustomer(testutil.SetupContext(), s.customerID, 48)
	s.Require().NoError(err)
	s.Empty(s.anomaliesOfType(anomalies, AnomalySilence))
}

func (s *AnomalyServiceSuite) seedBaseline(meterKey string, count int, value decimal.Decimal) {
	base := time.Now().UTC().AddDate(0, 0, -20)
	for i := 0; i < count; i++ {
		s.seedReading(meterKey, value, base.Add(time.Duration(i)*time.Hour))
	}
}

func (s *AnomalyServiceSuite) TestSpikeAboveBaseline() {
	s.seedBaseline(meter.MeterLLMTokens, 10, dec("100"))
	s.seedReading(meter.MeterLLMTokens, dec("400"), time.Now().UTC().Add(-time.Hour))

	anomalies, err := s.service.ScanCustomer(testutil.SetupContext(), s.customerID, 24)
	s.Require().NoError(err)

	spikes := s.anomaliesOfType(anomalies, AnomalySpike)
	s.Require().Len(spikes, 1)
	s.Equal(meter.MeterLLMTokens, spikes[0].MeterKey)
	s.Equal(400.0, spikes[0].Latest)
	s.Equal(100.0, spikes[0].Baseline)
}

func (s *AnomalyServiceSuite) TestNoSpikeWithinFactor() {
	s.seedBaseline(meter.MeterLLMTokens, 10, dec("100"))
	s.seedReading(meter.MeterLLMTokens, dec("300"), time.Now().UTC().Add(-time.Hour))

	anomalies, err := s.service.ScanCustomer(testutil.SetupContext(), s.customerID, 24)
	s.Require().NoError(err)
	s.Empty(s.anomaliesOfType(anomalies, AnomalySpike))
}

func (s *AnomalyServiceSuite) TestNoSpikeWithThinBaseline() {
	s.seedBaseline(meter.MeterLLMTokens, 5, dec("100"))
	s.seedReading(meter.MeterLLMTokens, dec("5000"), time.Now().UTC().Add(-time.Hour))

	anomalies, err := s.service.ScanCustomer(testutil.SetupContext(), s.customerID, 24)
	s.Require().NoError(err)
	s.Empty(s.anomaliesOfType(anomalies, AnomalySpike))
}

func (s *AnomalyServiceSuite) TestZeroBaselineNeverDividesIntoSpike() {
	s.seedBaseline(meter.MeterLLMTokens, 10, decimal.Zero)
	s.seedReading(meter.MeterLLMTokens, dec("5000"), time.Now().UTC().Add(-time.Hour))

	anomalies, err := s.service.ScanCustomer(testutil.SetupContext(), s.customerID, 24)
	s.Require().NoError(err)
	s.Empty(s.anomaliesOfType(anomalies, AnomalySpike))
}

func (s *AnomalyServiceSuite) TestSpikesPerMeterAreIndependent() {
	s.seedBaseline(meter.MeterLLMTokens, 10, dec("100"))
	s.seedReading(meter.MeterLLMTokens, dec("400"), time.Now().UTC().Add(-time.Hour))
	s.seedBaseline(meter.MeterAPICalls, 10, dec("50"))
	s.seedReading(meter.MeterAPICalls, dec("60"), time.Now().UTC().Add(-2*time.Hour))

	anomalies, err := s.service.ScanCustomer(testutil.SetupContext(), s.customerID, 24)
	s.Require().NoError(err)

	spikes := s.anomaliesOfType(anomalies, AnomalySpike)
	s.Require().Len(spikes, 1)
	s.Equal(meter.MeterLLMTokens, spikes[0].MeterKey)
	s.Contains(spikes[0].Message, fmt.Sprintf("%s latest reading", meter.MeterLLMTokens))
}
