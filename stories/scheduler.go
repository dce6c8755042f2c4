package stories

import (
	"context"
	"fmt"
)

// scheduledFetch submits the standing background request. It goes through
// the same Submit path as callers, so dedup and the freshness window apply
// to scheduled runs too.
func (svc *Service) scheduledFetch(ctx context.Context, runID string) error {
	req := FetchRequest{Limit: svc.config.Schedule.Limit}
	if svc.config.Schedule.MinScore > 0 {
		minScore := svc.config.Schedule.MinScore
		req.MinScore = &minScore
	}
	job, created, err := svc.Submit(ctx, req)
	if err != nil {
		svc.recordEvent("scheduler_tick", "", "schedule",
			fmt.Sprintf(`{"run_id":%q}`, runID), false)
		return err
	}
	svc.logger.Info("stories: scheduled fetch",
		"run_id", runID, "job_id", job.ID, "created", created)
	svc.recordEvent("scheduler_tick", job.ID, "schedule",
		fmt.Sprintf(`{"run_id":%q,"created":%v}`, runID, created), true)
	return nil
}
