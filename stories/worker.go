// CLAUDE:SUMMARY Job execution: guarded upstream fetch, filter/sort/cap, sanitize, upsert, settle.
package stories

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hazyhaar/hnfetch/connectivity"
	"github.com/hazyhaar/hnfetch/observability"
	"github.com/hazyhaar/hnfetch/stories/internal/hnclient"
	"github.com/hazyhaar/hnfetch/stories/internal/store"
)

// upstreamName labels the Hacker News API in logs and breaker errors.
const upstreamName = "hackernews"

// maxCandidates caps how many top-story IDs one job will hydrate. The
// upstream endpoint returns at most 500 anyway.
const maxCandidates = 500

// progressEvery throttles per-item progress writes during storage.
const progressEvery = 50

// fetchResult is what one upstream pass produced.
type fetchResult struct {
	items   []*hnclient.Item // matched, sorted by score desc, capped at the job's limit
	fetched int              // candidates hydrated from upstream
	matched int              // passed the filter, before the cap
}

// executeJob runs one fetch job end to end. Submit and restart recovery
// hand it to the dispatcher.
func (svc *Service) executeJob(ctx context.Context, jobID string) {
	logger := svc.logger.With("job_id", jobID)

	if err := svc.store.MarkJobRunning(ctx, jobID); err != nil {
		if errors.Is(err, store.ErrBadTransition) {
			// Already settled elsewhere (restart recovery, double dispatch).
			logger.Warn("stories: job not pending, skipping")
			return
		}
		logger.Error("stories: mark job running", "error", err)
		return
	}

	job, err := svc.store.GetJob(ctx, jobID)
	if err != nil || job == nil {
		logger.Error("stories: load job", "error", err)
		return
	}

	start := time.Now()

	var result fetchResult
	guarded := connectivity.Chain(
		connectivity.Recovery(logger),
		connectivity.WithTimeout(svc.config.Worker.JobTimeout()),
		connectivity.WithRetry(svc.config.Worker.MaxRetries, svc.config.Worker.RetryBackoff(), logger),
		connectivity.Logging(logger, upstreamName),
		connectivity.WithCircuitBreaker(svc.breaker, upstreamName),
	)(func(ctx context.Context) error {
		r, err := svc.fetchMatching(ctx, job)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err := guarded(ctx); err != nil {
		svc.failJob(ctx, jobID, err)
		return
	}

	stored, err := svc.storeItems(ctx, job, result.items)
	if err != nil {
		svc.failJob(ctx, jobID, err)
		return
	}

	if err := svc.store.MarkJobSucceeded(ctx, jobID, result.fetched, result.matched, stored); err != nil {
		logger.Error("stories: mark job succeeded", "error", err)
		return
	}

	elapsed := time.Since(start)
	logger.Info("stories: job succeeded",
		"fetched", result.fetched, "matched", result.matched, "stored", stored,
		"elapsed", elapsed.Round(time.Millisecond))
	svc.recordEvent("job_succeeded", jobID, "complete",
		fmt.Sprintf(`{"fetched":%d,"matched":%d,"stored":%d}`, result.fetched, result.matched, stored), true)
	svc.recordMetric(observability.MetricFetchDurationMs, float64(elapsed.Milliseconds()), "milliseconds")
	svc.recordMetric(observability.MetricItemsFetchedCount, float64(result.fetched), "count")
	svc.recordMetric(observability.MetricItemsStoredCount, float64(stored), "count")
}

// fetchMatching pulls the current top stories, hydrates up to maxCandidates
// of them, and applies the job's filter. The job's limit caps how many
// matching items are kept, not how many candidates are considered: a
// limit-10 job with a score filter still scans the whole window.
func (svc *Service) fetchMatching(ctx context.Context, job *store.Job) (fetchResult, error) {
	svc.progress(ctx, job.ID, 10, "fetching story list")

	ids, err := svc.fetcher.TopStories(ctx)
	if err != nil {
		return fetchResult{}, fmt.Errorf("top stories: %w", err)
	}
	if len(ids) > maxCandidates {
		ids = ids[:maxCandidates]
	}

	svc.progress(ctx, job.ID, 30, "fetching items")
	items, err := svc.fetcher.Items(ctx, ids)
	if err != nil {
		return fetchResult{}, fmt.Errorf("fetch items: %w", err)
	}

	svc.progress(ctx, job.ID, 70, "filtering")
	matched := filterItems(items, job.MinScore, job.Keyword)
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Score > matched[j].Score
	})
	total := len(matched)
	if job.MaxItems > 0 && len(matched) > job.MaxItems {
		matched = matched[:job.MaxItems]
	}

	return fetchResult{items: matched, fetched: len(items), matched: total}, nil
}

// filterItems keeps items at or above minScore whose title contains the
// keyword, case-insensitively. A nil criterion matches everything.
func filterItems(items []*hnclient.Item, minScore *int, keyword *string) []*hnclient.Item {
	var kw string
	if keyword != nil {
		kw = strings.ToLower(*keyword)
	}
	matched := make([]*hnclient.Item, 0, len(items))
	for _, it := range items {
		if minScore != nil && it.Score < *minScore {
			continue
		}
		if kw != "" && !strings.Contains(strings.ToLower(it.Title), kw) {
			continue
		}
		matched = append(matched, it)
	}
	return matched
}

// storeItems upserts the matched items. Text is the only HTML-bearing
// field the upstream returns; it goes through the sanitizer before storage.
func (svc *Service) storeItems(ctx context.Context, job *store.Job, items []*hnclient.Item) (int, error) {
	stored := 0
	for i, it := range items {
		rec := &store.Item{
			ExternalID:  it.ID,
			Title:       it.Title,
			URL:         it.URL,
			Score:       it.Score,
			Author:      it.By,
			Time:        it.Time,
			Descendants: it.Descendants,
			Type:        it.Type,
			Text:        svc.sanitizer.Sanitize(it.Text),
		}
		if err := svc.store.UpsertItem(ctx, rec); err != nil {
			return stored, fmt.Errorf("upsert item %d: %w", it.ID, err)
		}
		stored++
		if (i+1)%progressEvery == 0 {
			svc.progress(ctx, job.ID, 70+25*(i+1)/len(items), "storing")
		}
	}
	return stored, nil
}

// progress best-effort updates the job row. A job settled elsewhere
// ignores the update.
func (svc *Service) progress(ctx context.Context, jobID string, pct int, msg string) {
	if err := svc.store.SetJobProgress(ctx, jobID, pct, msg); err != nil {
		svc.logger.Debug("stories: set progress", "job_id", jobID, "error", err)
	}
}

// failJob settles a job as failed and records the failure.
func (svc *Service) failJob(ctx context.Context, jobID string, cause error) {
	if err := svc.store.MarkJobFailed(ctx, jobID, cause.Error()); err != nil && !errors.Is(err, store.ErrBadTransition) {
		svc.logger.Error("stories: mark job failed", "job_id", jobID, "error", err)
	}
	svc.logger.Warn("stories: job failed", "job_id", jobID, "error", cause)
	svc.recordEvent("job_failed", jobID, "complete",
		fmt.Sprintf(`{"error":%q}`, cause.Error()), false)
	svc.recordMetric(observability.MetricJobsFailedCount, 1, "count")
}
