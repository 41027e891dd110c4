package service

import (
	"context"
	"strings"
	"time"

	"github.com/kachi-io/kachi/internal/domain/rating"
	"github.com/kachi-io/kachi/internal/dto"
	"github.com/kachi-io/kachi/internal/types"
)

// ExportService shapes rated periods for the external billing provider
type ExportService interface {
	// BuildExport renders the rated period as provider line items. Meter
	// keys are underscored and the base fee is folded into the provider's
	// own subscription charge, so it is omitted from the lines.
	BuildExport(ctx context.Context, customerID string, period types.Window) (*dto.BillingExport, error)

	// MarkExported stamps the rated period after a successful push
	MarkExported(ctx context.Context, customerID string, period types.Window) error
}

type exportService struct {
	ServiceParams
}

func NewExportService(params ServiceParams) ExportService {
	return &exportService{ServiceParams: params}
}

func (s *exportService) BuildExport(ctx context.Context, customerID string, period types.Window) (*dto.BillingExport, error) {
	cust, err := s.CustomerRepo.Get(ctx, customerID)
	if err != nil {
		return nil, err
	}
	rated, err := s.RatedUsageRepo.Get(ctx, customerID, period)
	if err != nil {
		return nil, err
	}

	export := &dto.BillingExport{
		CustomerID:        customerID,
		ExternalBillingID: cust.ExternalBillingID,
		PeriodStart:       period.Start,
		PeriodEnd:         period.End,
		Currency:          cust.Currency,
		Subtotal:          rated.Subtotal,
		Discount:          rated.Discount,
		Total:             rated.Total,
	}
	for _, line := range rated.Lines {
		if line.LineType == rating.LineTypeBaseFee {
			continue
		}
		export.Lines = append(export.Lines, dto.ExportLine{
			MeterKey:    strings.ReplaceAll(line.MeterKey, ".", "_"),
			Quantity:    line.BillableQuantity,
			Amount:      line.Amount,
			LineType:    string(line.LineType),
			Description: line.Description,
		})
	}
	return export, nil
}

func (s *exportService) MarkExported(ctx context.Context, customerID string, period types.Window) error {
	rated, err := s.RatedUsageRepo.Get(ctx, customerID, period)
	if err != nil {
		return err
	}
	return s.RatedUsageRepo.MarkPushed(ctx, rated.ID, time.Now().UTC())
}
