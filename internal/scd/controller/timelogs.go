package controller

import (
	"context"

	"github.com/gartstein/scd/internal/scd/db"
	e "github.com/gartstein/scd/internal/scd/errors"
	"github.com/gartstein/scd/internal/scd/models"
)

// TimelogService manages timelog version chains.
type TimelogService struct {
	*chain[models.Timelog, *models.Timelog]
	jobs *JobService
}

func NewTimelogService(store Store[models.Timelog], jobs *JobService, opts Options) *TimelogService {
	return &TimelogService{
		chain: newChain[models.Timelog, *models.Timelog](store, timelogGuard, opts, "timelog_service"),
		jobs:  jobs,
	}
}

func timelogGuard(latest *models.Timelog, delta models.Fields) error {
	raw, ok := delta.Get("type")
	if !ok {
		return nil
	}
	s, isState := rawState(raw)
	if !isState {
		return e.Invalidf("type must be a string")
	}
	next, known := models.ParseTimelogType(s)
	if !known {
		return e.Invalidf("invalid timelog type %q", s)
	}
	return latest.Type.ValidateTransition(next)
}

// FindTimelogsForJob returns the latest timelogs pinned to one job version.
func (s *TimelogService) FindTimelogsForJob(ctx context.Context, jobUID string) ([]models.Timelog, error) {
	if err := models.CheckUID(models.JobEntity, jobUID); err != nil {
		return nil, err
	}
	return cached(ctx, s.chain, s.ns.timelogsForJob, jobUID, func() ([]models.Timelog, error) {
		return s.store.FindLatestVersionsByCriteria(ctx, models.Fields{"jobUid": jobUID})
	}, nonEmpty[models.Timelog])
}

// FindTimelogsForContractor returns the latest timelogs of the contractor's
// active jobs lying inside [start, end].
func (s *TimelogService) FindTimelogsForContractor(ctx context.Context, contractorID string, start, end int64) ([]models.Timelog, error) {
	if err := checkContractorID(contractorID); err != nil {
		return nil, err
	}
	return cached(ctx, s.chain, s.ns.timelogsForContractor, windowKey(contractorID, start, end), func() ([]models.Timelog, error) {
		jobs, err := s.jobs.FindActiveJobsForContractor(ctx, contractorID)
		if err != nil || len(jobs) == 0 {
			return nil, err
		}
		uids := make([]any, len(jobs))
		for i := range jobs {
			uids[i] = jobs[i].UID
		}

		forJobs, err := s.store.In("jobUid", uids...)
		if err != nil {
			return nil, err
		}
		window, err := s.store.Within("timeStart", "timeEnd", start, end)
		if err != nil {
			return nil, err
		}
		return s.store.FindLatestVersions(ctx, forJobs, window)
	}, nonEmpty[models.Timelog])
}

// FindTimelogsWithDurationAbove returns latest versions whose duration in
// milliseconds is strictly above minDuration.
func (s *TimelogService) FindTimelogsWithDurationAbove(ctx context.Context, minDuration int64) ([]models.Timelog, error) {
	above, err := s.store.Where("duration", db.OpGt, minDuration)
	if err != nil {
		return nil, err
	}
	return s.store.FindLatestVersions(ctx, above)
}

// AdjustTimelog records a corrected duration. The start is kept and the end
// moves with the duration. A timelog can be adjusted once.
func (s *TimelogService) AdjustTimelog(ctx context.Context, id string, duration int64) (*models.Timelog, error) {
	if !models.ValidDuration(duration) {
		return nil, e.Invalidf("duration must be between 0 and 24 hours")
	}
	return s.mutate(ctx, id, func(latest *models.Timelog) (models.Fields, error) {
		if err := latest.Type.ValidateTransition(models.TimelogAdjusted); err != nil {
			return nil, err
		}
		return models.Fields{
			"duration": duration,
			"timeEnd":  latest.TimeStart + duration,
			"type":     string(models.TimelogAdjusted),
		}, nil
	})
}
