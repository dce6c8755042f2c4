package stories

import (
	"context"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/hnfetch/stories/internal/hnclient"
)

func TestScheduledFetch_SubmitsStandingRequest(t *testing.T) {
	// WHAT: A schedule tick submits the configured filter through the same
	// deduplicated path as the API; a second tick inside the fresh window
	// does not hit upstream again.
	// WHY: Background polling must not multiply fetches when users are
	// also submitting.
	f := &fakeFetcher{items: []*hnclient.Item{
		story(1, "Above the bar", 80),
		story(2, "Below the bar", 20),
	}}
	cfg := testConfig()
	cfg.Schedule.MinScore = 50
	cfg.Schedule.Limit = 10
	db := openServiceDB(t)
	svc := newTestService(t, db, cfg, f)
	ctx := context.Background()

	if err := svc.scheduledFetch(ctx, "run1"); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if f.calls() != 1 {
		t.Fatalf("expected one upstream call, got %d", f.calls())
	}

	if err := svc.scheduledFetch(ctx, "run2"); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if f.calls() != 1 {
		t.Errorf("second run inside fresh window hit upstream: %d calls", f.calls())
	}

	// The standing min_score filter applied.
	page, err := svc.QueryData(ctx, DataQuery{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if page.Total != 1 || page.Items[0].ExternalID != 1 {
		t.Errorf("expected only the qualifying story, got %d items", page.Total)
	}
}

func TestNew_SchedulerWiring(t *testing.T) {
	// WHAT: The ticker exists only when the schedule is enabled.
	// WHY: A disabled schedule must not leave a goroutine waiting to fire.
	db := openServiceDB(t)

	off := testConfig()
	svc := newTestService(t, db, off, &fakeFetcher{})
	if svc.ticker != nil {
		t.Error("disabled schedule still built a ticker")
	}

	on := testConfig()
	on.Schedule.Enabled = true
	svc2 := newTestService(t, openServiceDB(t), on, &fakeFetcher{})
	if svc2.ticker == nil {
		t.Error("enabled schedule built no ticker")
	}
}
