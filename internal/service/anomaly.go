package service

import (
	"context"
	"fmt"
	"time"

	"github.com/kachi-io/kachi/internal/domain/metering"
	"github.com/kachi-io/kachi/internal/types"
)

const (
	// spikeBaselineDays is how far back the spike baseline looks
	spikeBaselineDays = 30
	// spikeMinBaseline is the minimum number of prior readings needed
	// before a spike can be called
	spikeMinBaseline = 10
	// spikeFactor flags a latest reading above this multiple of the mean
	spikeFactor = 3.0

	// DefaultSilenceHours is the silence threshold when none is configured
	DefaultSilenceHours = 24
)

// AnomalyType classifies a detected usage anomaly
type AnomalyType string

const (
	AnomalySpike   AnomalyType = "spike"
	AnomalySilence AnomalyType = "silence"
)

// Anomaly is one detected irregularity in a customer's usage
type Anomaly struct {
	CustomerID string      `json:"customer_id"`
	Type       AnomalyType `json:"type"`
	MeterKey   string      `json:"meter_key,omitempty"`
	Latest     float64     `json:"latest,omitempty"`
	Baseline   float64     `json:"baseline,omitempty"`
	DetectedAt time.Time   `json:"detected_at"`
	Message    string      `json:"message"`
}

// AnomalyService flags usage spikes and silent customers
type AnomalyService interface {
	// ScanCustomer checks one customer for spikes and silence
	ScanCustomer(ctx context.Context, customerID string, silenceHours int) ([]Anomaly, error)

	// ScanAll checks every active customer
	ScanAll(ctx context.Context) ([]Anomaly, error)
}

type anomalyService struct {
	ServiceParams
}

func NewAnomalyService(params ServiceParams) AnomalyService {
	return &anomalyService{ServiceParams: params}
}

func (s *anomalyService) ScanAll(ctx context.Context) ([]Anomaly, error) {
	customers, err := s.CustomerRepo.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	var anomalies []Anomaly
	for _, c := range customers {
		found, err := s.ScanCustomer(ctx, c.ID, DefaultSilenceHours)
		if err != nil {
			return nil, err
		}
		anomalies = append(anomalies, found...)
	}
	return anomalies, nil
}

func (s *anomalyService) ScanCustomer(ctx context.Context, customerID string, silenceHours int) ([]Anomaly, error) {
	if silenceHours <= 0 {
		silenceHours = DefaultSilenceHours
	}
	now := time.Now().UTC()
	var anomalies []Anomaly

	silent, err := s.checkSilence(ctx, customerID, now, silenceHours)
	if err != nil {
		return nil, err
	}
	if silent != nil {
		anomalies = append(anomalies, *silent)
	}

	spikes, err := s.checkSpikes(ctx, customerID, now)
	if err != nil {
		return nil, err
	}
	return append(anomalies, spikes...), nil
}

func (s *anomalyService) checkSilence(ctx context.Context, customerID string, now time.Time, silenceHours int) (*Anomaly, error) {
	since := now.Add(-time.Duration(silenceHours) * time.Hour)
	count, err := s.MeterRepo.CountSince(ctx, customerID, since)
	if err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, nil
	}
	return &Anomaly{
		CustomerID: customerID,
		Type:       AnomalySilence,
		DetectedAt: now,
		Message:    fmt.Sprintf("no usage readings in the last %dh", silenceHours),
	}, nil
}

// checkSpikes compares each meter's latest reading against the mean of its
// prior readings over the baseline window. The latest reading never counts
// toward its own baseline.
func (s *anomalyService) checkSpikes(ctx context.Context, customerID string, now time.Time) ([]Anomaly, error) {
	window := types.NewWindow(now.AddDate(0, 0, -spikeBaselineDays), now)
	readings, err := s.MeterRepo.List(ctx, metering.ListParams{
		CustomerID: customerID,
		Window:     window,
		Order:      metering.ListOrderAsc,
	})
	if err != nil {
		return nil, err
	}

	byMeter := make(map[string][]float64)
	for _, r := range readings {
		byMeter[r.MeterKey] = append(byMeter[r.MeterKey], r.Value.InexactFloat64())
	}

	var anomalies []Anomaly
	for _, meterKey := range sortedKeys(byMeter) {
		values := byMeter[meterKey]
		if len(values) < spikeMinBaseline+1 {
			continue
		}
		baseline := values[:len(values)-1]
		latest := values[len(values)-1]

		sum := 0.0
		for _, v := range baseline {
			sum += v
		}
		mean := sum / float64(len(baseline))
		if mean <= 0 || latest <= mean*spikeFactor {
			continue
		}
		anomalies = append(anomalies, Anomaly{
			CustomerID: customerID,
			Type:       AnomalySpike,
			MeterKey:   meterKey,
			Latest:     latest,
			Baseline:   mean,
			DetectedAt: now,
			Message: fmt.Sprintf("%s latest reading %.2f exceeds %.0fx baseline %.2f",
				meterKey, latest, spikeFactor, mean),
		})
	}
	return anomalies, nil
}
