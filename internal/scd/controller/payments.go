package controller

import (
	"context"

	"github.com/gartstein/scd/internal/scd/db"
	e "github.com/gartstein/scd/internal/scd/errors"
	"github.com/gartstein/scd/internal/scd/models"
	"github.com/shopspring/decimal"
)

// PaymentLineItemService manages payment line item version chains.
type PaymentLineItemService struct {
	*chain[models.PaymentLineItem, *models.PaymentLineItem]
}

func NewPaymentLineItemService(store Store[models.PaymentLineItem], opts Options) *PaymentLineItemService {
	return &PaymentLineItemService{
		newChain[models.PaymentLineItem, *models.PaymentLineItem](store, paymentGuard, opts, "payment_line_item_service"),
	}
}

func paymentGuard(latest *models.PaymentLineItem, delta models.Fields) error {
	raw, ok := delta.Get("status")
	if !ok {
		return nil
	}
	s, isState := rawState(raw)
	if !isState {
		return e.Invalidf("status must be a string")
	}
	next, known := models.ParsePaymentStatus(s)
	if !known {
		return e.Invalidf("invalid payment status %q", s)
	}
	return latest.Status.ValidateTransition(next)
}

func (s *PaymentLineItemService) FindPaymentLineItemsForJob(ctx context.Context, jobUID string) ([]models.PaymentLineItem, error) {
	if err := models.CheckUID(models.JobEntity, jobUID); err != nil {
		return nil, err
	}
	return cached(ctx, s.chain, s.ns.paymentsForJob, jobUID, func() ([]models.PaymentLineItem, error) {
		return s.store.FindLatestVersionsByCriteria(ctx, models.Fields{"jobUid": jobUID})
	}, nonEmpty[models.PaymentLineItem])
}

func (s *PaymentLineItemService) FindPaymentLineItemsForTimelog(ctx context.Context, timelogUID string) ([]models.PaymentLineItem, error) {
	if err := models.CheckUID(models.TimelogEntity, timelogUID); err != nil {
		return nil, err
	}
	return cached(ctx, s.chain, s.ns.paymentsForTimelog, timelogUID, func() ([]models.PaymentLineItem, error) {
		return s.store.FindLatestVersionsByCriteria(ctx, models.Fields{"timelogUid": timelogUID})
	}, nonEmpty[models.PaymentLineItem])
}

// FindPaymentLineItemsForContractor returns the latest line items pinned to
// the latest version of one of the contractor's jobs and of a timelog lying
// inside [start, end].
func (s *PaymentLineItemService) FindPaymentLineItemsForContractor(ctx context.Context, contractorID string, start, end int64) ([]models.PaymentLineItem, error) {
	if err := checkContractorID(contractorID); err != nil {
		return nil, err
	}
	return cached(ctx, s.chain, s.ns.paymentsForContractor, windowKey(contractorID, start, end), func() ([]models.PaymentLineItem, error) {
		return s.forContractor(ctx, contractorID, start, end)
	}, nonEmpty[models.PaymentLineItem])
}

func (s *PaymentLineItemService) forContractor(ctx context.Context, contractorID string, start, end int64) ([]models.PaymentLineItem, error) {
	return s.store.FindLatestVersions(ctx, db.JobUIDsOfContractor(contractorID), db.TimelogUIDsWithin(start, end))
}

// MarkAsPaid settles a line item. Paying an already paid item fails with a
// transition error and writes nothing.
func (s *PaymentLineItemService) MarkAsPaid(ctx context.Context, id string) (*models.PaymentLineItem, error) {
	return s.mutate(ctx, id, func(latest *models.PaymentLineItem) (models.Fields, error) {
		if latest.Status == models.PaymentPaid {
			return nil, &e.TransitionError{From: string(latest.Status), To: string(models.PaymentPaid)}
		}
		return models.Fields{"status": string(models.PaymentPaid)}, nil
	})
}

// GetTotalAmountForContractor sums the contractor's line items in
// [start, end]. No matching items yield zero.
func (s *PaymentLineItemService) GetTotalAmountForContractor(ctx context.Context, contractorID string, start, end int64) (decimal.Decimal, error) {
	if err := checkContractorID(contractorID); err != nil {
		return decimal.Zero, err
	}
	return cached(ctx, s.chain, s.ns.paymentTotal, windowKey(contractorID, start, end), func() (decimal.Decimal, error) {
		items, err := s.forContractor(ctx, contractorID, start, end)
		if err != nil {
			return decimal.Zero, err
		}
		total := decimal.Zero
		for _, item := range items {
			total = total.Add(item.Amount)
		}
		return total, nil
	}, nil)
}
