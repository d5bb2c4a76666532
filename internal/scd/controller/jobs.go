package controller

import (
	"context"

	"github.com/gartstein/scd/internal/scd/db"
	e "github.com/gartstein/scd/internal/scd/errors"
	"github.com/gartstein/scd/internal/scd/models"
	"github.com/shopspring/decimal"
)

// JobService manages job version chains.
type JobService struct {
	*chain[models.Job, *models.Job]
}

func NewJobService(store Store[models.Job], opts Options) *JobService {
	return &JobService{newChain[models.Job, *models.Job](store, jobGuard, opts, "job_service")}
}

// jobGuard enforces the job lifecycle on status changes.
func jobGuard(latest *models.Job, delta models.Fields) error {
	raw, ok := delta.Get("status")
	if !ok {
		return nil
	}
	s, isState := rawState(raw)
	if !isState {
		return e.Invalidf("status must be a string")
	}
	next, known := models.ParseJobStatus(s)
	if !known {
		return e.Invalidf("invalid job status %q", s)
	}
	return latest.Status.ValidateTransition(next)
}

// FindActiveJobsForCompany returns the latest version of every job of the
// company whose latest status is active.
func (s *JobService) FindActiveJobsForCompany(ctx context.Context, companyID string) ([]models.Job, error) {
	if !models.ValidCompanyID(companyID) {
		return nil, e.Invalidf("companyId must start with %s", models.CompanyPrefix)
	}
	return cached(ctx, s.chain, s.ns.jobActiveByCompany, companyID, func() ([]models.Job, error) {
		return s.store.FindLatestVersionsByCriteria(ctx, models.Fields{
			"status":    string(models.JobActive),
			"companyId": companyID,
		})
	}, nonEmpty[models.Job])
}

func (s *JobService) FindActiveJobsForContractor(ctx context.Context, contractorID string) ([]models.Job, error) {
	if err := checkContractorID(contractorID); err != nil {
		return nil, err
	}
	return cached(ctx, s.chain, s.ns.jobActiveByContractor, contractorID, func() ([]models.Job, error) {
		return s.store.FindLatestVersionsByCriteria(ctx, models.Fields{
			"status":       string(models.JobActive),
			"contractorId": contractorID,
		})
	}, nonEmpty[models.Job])
}

// FindJobsWithRateAbove returns latest versions whose rate is strictly above
// minRate. Any minRate is accepted.
func (s *JobService) FindJobsWithRateAbove(ctx context.Context, minRate decimal.Decimal) ([]models.Job, error) {
	above, err := s.store.Where("rate", db.OpGt, minRate)
	if err != nil {
		return nil, err
	}
	return s.store.FindLatestVersions(ctx, above)
}

func (s *JobService) UpdateStatus(ctx context.Context, id, status string) (*models.Job, error) {
	next, ok := models.ParseJobStatus(status)
	if !ok {
		return nil, e.Invalidf("invalid job status %q", status)
	}
	return s.mutate(ctx, id, func(latest *models.Job) (models.Fields, error) {
		if err := latest.Status.ValidateTransition(next); err != nil {
			return nil, err
		}
		return models.Fields{"status": string(next)}, nil
	})
}

func (s *JobService) UpdateRate(ctx context.Context, id string, rate decimal.Decimal) (*models.Job, error) {
	if !models.ValidRate(rate) {
		return nil, e.Invalidf("rate must be positive, below %s and have at most %d decimal places",
			models.MaxRate.StringFixed(2), models.RateScale)
	}
	return s.mutate(ctx, id, func(*models.Job) (models.Fields, error) {
		return models.Fields{"rate": rate}, nil
	})
}
