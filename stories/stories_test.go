package stories

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/hnfetch/connectivity"
	"github.com/hazyhaar/hnfetch/stories/internal/dispatch"
	"github.com/hazyhaar/hnfetch/stories/internal/hnclient"
)

// --- Test doubles ---

// fakeFetcher serves a fixed set of stories and counts upstream calls.
type fakeFetcher struct {
	mu       sync.Mutex
	items    []*hnclient.Item
	topCalls int
	failTop  int // fail this many TopStories calls before succeeding
}

func (f *fakeFetcher) TopStories(ctx context.Context) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.topCalls++
	if f.failTop > 0 {
		f.failTop--
		return nil, errors.New("upstream down")
	}
	ids := make([]int64, len(f.items))
	for i, it := range f.items {
		ids[i] = it.ID
	}
	return ids, nil
}

func (f *fakeFetcher) Items(ctx context.Context, ids []int64) ([]*hnclient.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	byID := make(map[int64]*hnclient.Item, len(f.items))
	for _, it := range f.items {
		byID[it.ID] = it
	}
	out := make([]*hnclient.Item, 0, len(ids))
	for _, id := range ids {
		if it, ok := byID[id]; ok {
			out = append(out, it)
		}
	}
	return out, nil
}

func (f *fakeFetcher) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.topCalls
}

// holdDispatcher accepts jobs but never runs them, so they stay pending.
type holdDispatcher struct {
	mu   sync.Mutex
	jobs []string
}

func (d *holdDispatcher) Dispatch(jobID string, fn dispatch.ExecuteFunc) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.jobs = append(d.jobs, jobID)
	return nil
}

func (d *holdDispatcher) held() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.jobs...)
}

// rejectDispatcher simulates a saturated queue.
type rejectDispatcher struct{}

func (rejectDispatcher) Dispatch(string, dispatch.ExecuteFunc) error {
	return dispatch.ErrQueueFull
}

func story(id int64, title string, score int) *hnclient.Item {
	return &hnclient.Item{
		ID:    id,
		Title: title,
		Score: score,
		By:    "tester",
		Time:  time.Now().Unix(),
		Type:  "story",
	}
}

func intp(v int) *int       { return &v }
func strp(v string) *string { return &v }

// --- Harness ---

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.Schedule.Enabled = false
	cfg.Worker.RetryBackoffMs = 1
	cfg.Worker.Workers = 2
	cfg.Worker.QueueSize = 8
	return cfg
}

func openServiceDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	if err := ApplySchema(db); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// newTestService builds a Service with a synchronous dispatcher by default;
// pass extra options to override.
func newTestService(t *testing.T, db *sql.DB, cfg *Config, f Fetcher, opts ...ServiceOption) *Service {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	base := []ServiceOption{WithDispatcher(dispatch.Direct{})}
	if f != nil {
		base = append(base, WithFetcher(f))
	}
	svc, err := New(db, cfg, logger, append(base, opts...)...)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func setupTestService(t *testing.T, f Fetcher, opts ...ServiceOption) (*Service, *sql.DB) {
	t.Helper()
	db := openServiceDB(t)
	return newTestService(t, db, nil, f, opts...), db
}

// --- Submission ---

func TestSubmit_DefaultsApplied(t *testing.T) {
	// WHAT: An empty request is valid and runs with limit 100.
	// WHY: All filter fields are optional; absent means "no filter".
	svc, _ := setupTestService(t, &fakeFetcher{})
	ctx := context.Background()

	job, created, err := svc.Submit(ctx, FetchRequest{})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !created {
		t.Fatal("expected a new job")
	}
	if job.MaxItems != 100 {
		t.Errorf("expected default limit 100, got %d", job.MaxItems)
	}

	done, err := svc.JobStatus(ctx, job.ID)
	if err != nil {
		t.Fatalf("job status: %v", err)
	}
	if done.Status != JobSucceeded {
		t.Errorf("expected succeeded, got %s (%s)", done.Status, done.Error)
	}
	if done.Progress != 100 || done.Message != "completed" {
		t.Errorf("expected terminal progress, got %d %q", done.Progress, done.Message)
	}
}

func TestSubmit_InjectedIDGenerator(t *testing.T) {
	// WHAT: Job IDs come from the generator supplied via WithIDGenerator.
	// WHY: The generator is the seam that makes IDs deterministic in tests
	// and correlatable in production.
	svc, _ := setupTestService(t, &fakeFetcher{},
		WithIDGenerator(func() string { return "job_fixed" }))

	job, _, err := svc.Submit(context.Background(), FetchRequest{})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if job.ID != "job_fixed" {
		t.Errorf("id: got %q, want job_fixed", job.ID)
	}
}

func TestSubmit_InvalidRequestCreatesNoJob(t *testing.T) {
	// WHAT: Validation failures return ErrInvalidRequest and leave no job row.
	// WHY: Rejected submissions must not claim a fingerprint or leak state.
	svc, _ := setupTestService(t, &fakeFetcher{})
	ctx := context.Background()

	cases := []FetchRequest{
		{Limit: 501},
		{Limit: -1},
		{MinScore: intp(-5)},
	}
	for _, req := range cases {
		if _, _, err := svc.Submit(ctx, req); !errors.Is(err, ErrInvalidRequest) {
			t.Errorf("request %+v: expected ErrInvalidRequest, got %v", req, err)
		}
	}

	jobs, err := svc.RecentJobs(ctx, 10)
	if err != nil {
		t.Fatalf("recent jobs: %v", err)
	}
	if len(jobs) != 0 {
		t.Errorf("expected no job rows, found %d", len(jobs))
	}
}

func TestSubmit_LimitBoundsMessage(t *testing.T) {
	// WHAT: The validation error names the offending JSON field.
	// WHY: Callers fix requests from the message, not from struct internals.
	svc, _ := setupTestService(t, &fakeFetcher{})

	_, _, err := svc.Submit(context.Background(), FetchRequest{Limit: 501})
	if err == nil || !strings.Contains(err.Error(), "limit") {
		t.Errorf("expected message naming limit, got %v", err)
	}
}

func TestSubmit_SingleFlight(t *testing.T) {
	// WHAT: While a job for a fingerprint is active, equivalent submissions
	// return the same job without touching upstream.
	// WHY: Concurrent identical requests must not multiply fetch work.
	f := &fakeFetcher{}
	hold := &holdDispatcher{}
	svc, _ := setupTestService(t, f, WithDispatcher(hold))
	ctx := context.Background()

	first, created, err := svc.Submit(ctx, FetchRequest{MinScore: intp(100), Limit: 50})
	if err != nil || !created {
		t.Fatalf("first submit: created=%v err=%v", created, err)
	}

	second, created, err := svc.Submit(ctx, FetchRequest{MinScore: intp(100), Limit: 50})
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if created || second.ID != first.ID {
		t.Errorf("expected reuse of %s, got %s created=%v", first.ID, second.ID, created)
	}
	if f.calls() != 0 {
		t.Errorf("upstream touched %d times while job held", f.calls())
	}

	// A different fingerprint is its own flight.
	third, created, err := svc.Submit(ctx, FetchRequest{MinScore: intp(200), Limit: 50})
	if err != nil || !created {
		t.Fatalf("third submit: created=%v err=%v", created, err)
	}
	if third.ID == first.ID {
		t.Error("distinct criteria collapsed onto one job")
	}
}

func TestSubmit_SingleFlight_Concurrent(t *testing.T) {
	// WHAT: Racing identical submissions all resolve to one job, exactly
	// one of them as creator.
	// WHY: The dedup guarantee has to hold under contention, not just
	// sequentially.
	hold := &holdDispatcher{}
	svc, _ := setupTestService(t, &fakeFetcher{}, WithDispatcher(hold))
	ctx := context.Background()

	const n = 8
	var wg sync.WaitGroup
	ids := make([]string, n)
	createds := make([]bool, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			job, created, err := svc.Submit(ctx, FetchRequest{Keyword: strp("rust"), Limit: 30})
			if err != nil {
				errs[i] = err
				return
			}
			ids[i] = job.ID
			createds[i] = created
		}(i)
	}
	wg.Wait()

	creators := 0
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("submit %d: %v", i, errs[i])
		}
		if ids[i] != ids[0] {
			t.Errorf("submit %d got job %s, want %s", i, ids[i], ids[0])
		}
		if createds[i] {
			creators++
		}
	}
	if creators != 1 {
		t.Errorf("expected exactly one creator, got %d", creators)
	}
}

func TestSubmit_FreshResultReused(t *testing.T) {
	// WHAT: Within the freshness window, a finished job satisfies an
	// equivalent submission without a new upstream fetch.
	// WHY: Point of the window — identical requests seconds apart share
	// one fetch.
	f := &fakeFetcher{items: []*hnclient.Item{story(1, "One", 10)}}
	svc, _ := setupTestService(t, f)
	ctx := context.Background()

	first, created, err := svc.Submit(ctx, FetchRequest{Limit: 25})
	if err != nil || !created {
		t.Fatalf("first submit: created=%v err=%v", created, err)
	}
	if f.calls() != 1 {
		t.Fatalf("expected one upstream call, got %d", f.calls())
	}

	second, created, err := svc.Submit(ctx, FetchRequest{Limit: 25})
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if created {
		t.Error("fresh result should have been reused")
	}
	if second.ID != first.ID {
		t.Errorf("expected job %s, got %s", first.ID, second.ID)
	}
	if second.Status != JobSucceeded {
		t.Errorf("reused job should be terminal, got %s", second.Status)
	}
	if f.calls() != 1 {
		t.Errorf("reuse still hit upstream: %d calls", f.calls())
	}
}

func TestSubmit_FreshWindowDisabled(t *testing.T) {
	// WHAT: With a zero freshness window, each submission after the last
	// one finished triggers its own fetch.
	// WHY: Operators can turn reuse off without losing in-flight dedup.
	f := &fakeFetcher{items: []*hnclient.Item{story(1, "One", 10)}}
	cfg := testConfig()
	cfg.Dedup.FreshWindowSeconds = 0
	db := openServiceDB(t)
	svc := newTestService(t, db, cfg, f)
	ctx := context.Background()

	first, _, err := svc.Submit(ctx, FetchRequest{Limit: 25})
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}
	second, created, err := svc.Submit(ctx, FetchRequest{Limit: 25})
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if !created || second.ID == first.ID {
		t.Errorf("expected a fresh job, got created=%v id=%s", created, second.ID)
	}
	if f.calls() != 2 {
		t.Errorf("expected two upstream calls, got %d", f.calls())
	}
}

func TestSubmit_FailedJobNotReused(t *testing.T) {
	// WHAT: A failed job never satisfies dedup; the next equivalent
	// submission starts over.
	// WHY: Freshness only applies to results that exist.
	f := &fakeFetcher{items: []*hnclient.Item{story(1, "One", 10)}, failTop: 2}
	svc, _ := setupTestService(t, f)
	ctx := context.Background()

	first, _, err := svc.Submit(ctx, FetchRequest{Limit: 25})
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}
	failed, err := svc.JobStatus(ctx, first.ID)
	if err != nil {
		t.Fatalf("job status: %v", err)
	}
	if failed.Status != JobFailed {
		t.Fatalf("expected failed, got %s", failed.Status)
	}

	second, created, err := svc.Submit(ctx, FetchRequest{Limit: 25})
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if !created || second.ID == first.ID {
		t.Errorf("failed job was reused: created=%v id=%s", created, second.ID)
	}
	done, _ := svc.JobStatus(ctx, second.ID)
	if done.Status != JobSucceeded {
		t.Errorf("retry after failure should succeed, got %s (%s)", done.Status, done.Error)
	}
}

func TestSubmit_QueueFull(t *testing.T) {
	// WHAT: When the dispatcher rejects, Submit returns ErrOverloaded and
	// settles the orphaned row as failed.
	// WHY: A row nothing will run must not hold its fingerprint hostage.
	svc, _ := setupTestService(t, &fakeFetcher{}, WithDispatcher(rejectDispatcher{}))
	ctx := context.Background()

	_, _, err := svc.Submit(ctx, FetchRequest{Limit: 10})
	if !errors.Is(err, ErrOverloaded) {
		t.Fatalf("expected ErrOverloaded, got %v", err)
	}

	jobs, err := svc.RecentJobs(ctx, 1)
	if err != nil || len(jobs) != 1 {
		t.Fatalf("recent jobs: %v (%d rows)", err, len(jobs))
	}
	if jobs[0].Status != JobFailed || !strings.Contains(jobs[0].Error, "queue full") {
		t.Errorf("expected failed/queue full, got %s %q", jobs[0].Status, jobs[0].Error)
	}

	// The fingerprint is free again: the next submission creates a new
	// row, rejected the same way while the queue stays full.
	if _, _, err := svc.Submit(ctx, FetchRequest{Limit: 10}); !errors.Is(err, ErrOverloaded) {
		t.Fatalf("resubmit: %v", err)
	}
	jobs, err = svc.RecentJobs(ctx, 5)
	if err != nil || len(jobs) != 2 {
		t.Errorf("expected a second job row, got %d (%v)", len(jobs), err)
	}
}

// --- Execution ---

func TestExecuteJob_FilterSortCap(t *testing.T) {
	// WHAT: The worker filters the whole candidate window, sorts matches
	// by score descending, and only then applies the limit.
	// WHY: Limit caps results, not candidates; a small limit must still
	// surface the highest-scoring matches.
	f := &fakeFetcher{items: []*hnclient.Item{
		story(1, "AI breakthrough in protein folding", 150),
		story(2, "New AI chip ships", 120),
		story(3, "The AI race heats up", 300),
		story(4, "Rust 2.0 released", 500),
		story(5, "Weekend AI side project", 50),
	}}
	svc, _ := setupTestService(t, f)
	ctx := context.Background()

	job, _, err := svc.Submit(ctx, FetchRequest{MinScore: intp(100), Keyword: strp("AI"), Limit: 2})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	done, err := svc.JobStatus(ctx, job.ID)
	if err != nil {
		t.Fatalf("job status: %v", err)
	}
	if done.Status != JobSucceeded {
		t.Fatalf("expected succeeded, got %s (%s)", done.Status, done.Error)
	}
	if done.ItemsFetched != 5 || done.ItemsMatched != 3 || done.ItemsStored != 2 {
		t.Errorf("counters fetched=%d matched=%d stored=%d, want 5/3/2",
			done.ItemsFetched, done.ItemsMatched, done.ItemsStored)
	}

	page, err := svc.QueryData(ctx, DataQuery{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if page.Total != 2 {
		t.Fatalf("expected 2 stored items, got %d", page.Total)
	}
	if page.Items[0].Score != 300 || page.Items[1].Score != 150 {
		t.Errorf("expected scores [300 150], got [%d %d]",
			page.Items[0].Score, page.Items[1].Score)
	}
}

func TestExecuteJob_KeywordCaseInsensitive(t *testing.T) {
	// WHAT: Keyword matching ignores case on both sides.
	// WHY: "ai", "AI" and "Ai" are the same request.
	f := &fakeFetcher{items: []*hnclient.Item{
		story(1, "OPENAI releases a model", 10),
		story(2, "Gardening tips", 10),
	}}
	svc, _ := setupTestService(t, f)
	ctx := context.Background()

	job, _, err := svc.Submit(ctx, FetchRequest{Keyword: strp("OpenAI"), Limit: 10})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	done, _ := svc.JobStatus(ctx, job.ID)
	if done.ItemsStored != 1 {
		t.Errorf("expected 1 match, stored %d", done.ItemsStored)
	}
}

func TestExecuteJob_RetrySucceeds(t *testing.T) {
	// WHAT: One transient upstream failure is retried and the job succeeds.
	// WHY: A single blip must not fail the job.
	f := &fakeFetcher{items: []*hnclient.Item{story(1, "One", 10)}, failTop: 1}
	svc, _ := setupTestService(t, f)
	ctx := context.Background()

	job, _, err := svc.Submit(ctx, FetchRequest{Limit: 10})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	done, _ := svc.JobStatus(ctx, job.ID)
	if done.Status != JobSucceeded {
		t.Errorf("expected succeeded after retry, got %s (%s)", done.Status, done.Error)
	}
	if f.calls() != 2 {
		t.Errorf("expected 2 attempts, got %d", f.calls())
	}
}

func TestExecuteJob_RetryExhausted(t *testing.T) {
	// WHAT: When retries run out the job fails and records the cause.
	// WHY: Callers polling the job need the terminal state and the error.
	f := &fakeFetcher{failTop: 5}
	svc, _ := setupTestService(t, f)
	ctx := context.Background()

	job, _, err := svc.Submit(ctx, FetchRequest{Limit: 10})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	done, _ := svc.JobStatus(ctx, job.ID)
	if done.Status != JobFailed {
		t.Fatalf("expected failed, got %s", done.Status)
	}
	if !strings.Contains(done.Error, "top stories") {
		t.Errorf("expected cause in error, got %q", done.Error)
	}
	if f.calls() != 2 {
		t.Errorf("expected 2 attempts (1 retry), got %d", f.calls())
	}
}

func TestExecuteJob_FailureIsolation(t *testing.T) {
	// WHAT: One job's failure does not affect a later job or stored data.
	// WHY: Jobs are independent; a bad window must not poison the service.
	f := &fakeFetcher{items: []*hnclient.Item{story(1, "One", 10)}, failTop: 2}
	svc, _ := setupTestService(t, f)
	ctx := context.Background()

	failed, _, err := svc.Submit(ctx, FetchRequest{MinScore: intp(5), Limit: 10})
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}

	ok, _, err := svc.Submit(ctx, FetchRequest{Limit: 10})
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}

	failedDone, _ := svc.JobStatus(ctx, failed.ID)
	okDone, _ := svc.JobStatus(ctx, ok.ID)
	if failedDone.Status != JobFailed {
		t.Errorf("first job: expected failed, got %s", failedDone.Status)
	}
	if okDone.Status != JobSucceeded {
		t.Errorf("second job: expected succeeded, got %s (%s)", okDone.Status, okDone.Error)
	}

	page, err := svc.QueryData(ctx, DataQuery{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if page.Total != 1 {
		t.Errorf("expected 1 stored item, got %d", page.Total)
	}
}

func TestExecuteJob_SanitizesText(t *testing.T) {
	// WHAT: Story text is sanitized before storage; script payloads are
	// stripped, harmless markup survives.
	// WHY: Text is upstream-controlled HTML and gets served back to clients.
	it := story(9, "Show HN: my thing", 40)
	it.Text = `Hello <script>alert(1)</script><b>world</b>`
	f := &fakeFetcher{items: []*hnclient.Item{it}}
	svc, _ := setupTestService(t, f)
	ctx := context.Background()

	if _, _, err := svc.Submit(ctx, FetchRequest{Limit: 10}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	page, err := svc.QueryData(ctx, DataQuery{})
	if err != nil || page.Total != 1 {
		t.Fatalf("query: %v (%d items)", err, page.Total)
	}
	text := page.Items[0].Text
	if strings.Contains(text, "<script>") || strings.Contains(text, "alert(1)") {
		t.Errorf("script survived sanitization: %q", text)
	}
	if !strings.Contains(text, "<b>world</b>") {
		t.Errorf("harmless markup stripped: %q", text)
	}
}

func TestExecuteJob_RefetchUpdatesInPlace(t *testing.T) {
	// WHAT: Re-fetching a story updates its row instead of duplicating it.
	// WHY: external_id is the identity; scores move between fetches.
	it := story(7, "Go 1.25 released", 10)
	f := &fakeFetcher{items: []*hnclient.Item{it}}
	cfg := testConfig()
	cfg.Dedup.FreshWindowSeconds = 0
	db := openServiceDB(t)
	svc := newTestService(t, db, cfg, f)
	ctx := context.Background()

	if _, _, err := svc.Submit(ctx, FetchRequest{Limit: 10}); err != nil {
		t.Fatalf("first submit: %v", err)
	}

	f.mu.Lock()
	it.Score = 99
	f.mu.Unlock()

	if _, _, err := svc.Submit(ctx, FetchRequest{Limit: 10}); err != nil {
		t.Fatalf("second submit: %v", err)
	}

	page, err := svc.QueryData(ctx, DataQuery{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if page.Total != 1 {
		t.Fatalf("expected 1 row, got %d", page.Total)
	}
	if page.Items[0].Score != 99 {
		t.Errorf("expected refreshed score 99, got %d", page.Items[0].Score)
	}
}

func TestCircuitBreaker_FastFail(t *testing.T) {
	// WHAT: Once the breaker opens, further jobs fail without hitting
	// upstream, and the retry loop does not hammer an open circuit.
	// WHY: A dead upstream should cost nothing per job until the circuit
	// probes again.
	f := &fakeFetcher{failTop: 10}
	br := connectivity.NewCircuitBreaker(connectivity.WithBreakerThreshold(1))
	svc, _ := setupTestService(t, f, WithBreaker(br))
	ctx := context.Background()

	first, _, err := svc.Submit(ctx, FetchRequest{Limit: 10})
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}
	firstDone, _ := svc.JobStatus(ctx, first.ID)
	if firstDone.Status != JobFailed {
		t.Fatalf("expected failed, got %s", firstDone.Status)
	}
	if f.calls() != 1 {
		t.Errorf("retry hammered an open circuit: %d calls", f.calls())
	}

	second, _, err := svc.Submit(ctx, FetchRequest{Limit: 20})
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}
	secondDone, _ := svc.JobStatus(ctx, second.ID)
	if secondDone.Status != JobFailed || !strings.Contains(secondDone.Error, "circuit open") {
		t.Errorf("expected circuit-open failure, got %s %q", secondDone.Status, secondDone.Error)
	}
	if f.calls() != 1 {
		t.Errorf("open circuit still hit upstream: %d calls", f.calls())
	}
}

// --- Queries ---

func TestQueryData_Pagination(t *testing.T) {
	// WHAT: A page past the end returns no items but the true total.
	// WHY: Clients page by total count; an empty page is not an error.
	f := &fakeFetcher{items: []*hnclient.Item{
		story(1, "A", 10), story(2, "B", 20), story(3, "C", 30),
		story(4, "D", 40), story(5, "E", 50),
	}}
	svc, _ := setupTestService(t, f)
	ctx := context.Background()

	if _, _, err := svc.Submit(ctx, FetchRequest{Limit: 100}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	page, err := svc.QueryData(ctx, DataQuery{Page: 100})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(page.Items) != 0 {
		t.Errorf("expected empty page, got %d items", len(page.Items))
	}
	if page.Total != 5 {
		t.Errorf("expected total 5, got %d", page.Total)
	}
	if page.Page != 100 {
		t.Errorf("expected echoed page 100, got %d", page.Page)
	}

	// Page size slices the ordered result.
	page2, err := svc.QueryData(ctx, DataQuery{Page: 2, PageSize: 2})
	if err != nil {
		t.Fatalf("query page 2: %v", err)
	}
	if len(page2.Items) != 2 || page2.Items[0].Score != 30 {
		t.Errorf("expected scores [30 20] on page 2, got %+v", page2.Items)
	}
}

func TestQueryData_Validation(t *testing.T) {
	// WHAT: Bad order keys and oversized pages are rejected.
	// WHY: Order keys reach SQL; they must stay within the whitelist.
	svc, _ := setupTestService(t, &fakeFetcher{})
	ctx := context.Background()

	cases := []DataQuery{
		{OrderBy: "surprise"},
		{OrderDir: "sideways"},
		{PageSize: 101},
		{Page: -1},
		{MinScore: intp(-1)},
	}
	for _, q := range cases {
		if _, err := svc.QueryData(ctx, q); !errors.Is(err, ErrInvalidRequest) {
			t.Errorf("query %+v: expected ErrInvalidRequest, got %v", q, err)
		}
	}
}

func TestQueryData_Filters(t *testing.T) {
	// WHAT: Stored data can be re-filtered by score and keyword, and
	// reordered by time.
	// WHY: The data plane filters what is stored, independent of what any
	// job's criteria were.
	items := []*hnclient.Item{
		story(1, "Go generics in practice", 120),
		story(2, "Postgres tuning", 80),
		story(3, "Go profiling deep dive", 300),
	}
	items[0].Time = 1700000300
	items[1].Time = 1700000100
	items[2].Time = 1700000200
	f := &fakeFetcher{items: items}
	svc, _ := setupTestService(t, f)
	ctx := context.Background()

	if _, _, err := svc.Submit(ctx, FetchRequest{Limit: 100}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	byScore, err := svc.QueryData(ctx, DataQuery{MinScore: intp(100)})
	if err != nil {
		t.Fatalf("query by score: %v", err)
	}
	if byScore.Total != 2 || byScore.Items[0].Score != 300 {
		t.Errorf("min score filter: total=%d first=%d", byScore.Total, byScore.Items[0].Score)
	}

	byKeyword, err := svc.QueryData(ctx, DataQuery{Keyword: "go"})
	if err != nil {
		t.Fatalf("query by keyword: %v", err)
	}
	if byKeyword.Total != 2 {
		t.Errorf("keyword filter: expected 2, got %d", byKeyword.Total)
	}

	byTime, err := svc.QueryData(ctx, DataQuery{OrderBy: "time", OrderDir: "asc"})
	if err != nil {
		t.Fatalf("query by time: %v", err)
	}
	if byTime.Items[0].ExternalID != 2 || byTime.Items[2].ExternalID != 1 {
		t.Errorf("time order wrong: %d..%d", byTime.Items[0].ExternalID, byTime.Items[2].ExternalID)
	}
}

// --- Lifecycle ---

func TestJobStatus_NotFound(t *testing.T) {
	// WHAT: Unknown job IDs return ErrJobNotFound.
	// WHY: The API maps this to 404; it must be distinguishable.
	svc, _ := setupTestService(t, &fakeFetcher{})

	_, err := svc.JobStatus(context.Background(), "job_nope")
	if !errors.Is(err, ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
}

func TestStart_RecoversLeftoverJobs(t *testing.T) {
	// WHAT: On startup, stale running jobs are failed and pending jobs are
	// re-dispatched.
	// WHY: A crashed worker leaves rows behind; they must not stay active
	// forever and block their fingerprints.
	f := &fakeFetcher{}
	hold := &holdDispatcher{}
	db := openServiceDB(t)
	svc1 := newTestService(t, db, nil, f, WithDispatcher(hold))
	ctx := context.Background()

	interrupted, _, err := svc1.Submit(ctx, FetchRequest{Limit: 10})
	if err != nil {
		t.Fatalf("submit interrupted: %v", err)
	}
	pending, _, err := svc1.Submit(ctx, FetchRequest{Limit: 20})
	if err != nil {
		t.Fatalf("submit pending: %v", err)
	}
	if err := svc1.store.MarkJobRunning(ctx, interrupted.ID); err != nil {
		t.Fatalf("mark running: %v", err)
	}

	hold2 := &holdDispatcher{}
	svc2 := newTestService(t, db, nil, f, WithDispatcher(hold2))
	if err := svc2.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	got, _ := svc2.JobStatus(ctx, interrupted.ID)
	if got.Status != JobFailed || !strings.Contains(got.Error, "interrupted by restart") {
		t.Errorf("interrupted job: %s %q", got.Status, got.Error)
	}

	held := hold2.held()
	if len(held) != 1 || held[0] != pending.ID {
		t.Errorf("expected %s re-dispatched, got %v", pending.ID, held)
	}
	still, _ := svc2.JobStatus(ctx, pending.ID)
	if still.Status != JobPending {
		t.Errorf("pending job should stay pending until run, got %s", still.Status)
	}
}

func TestHealth(t *testing.T) {
	// WHAT: Health reflects database reachability and breaker state.
	// WHY: Deploy probes route on this.
	svc, _ := setupTestService(t, &fakeFetcher{})
	h := svc.Health(context.Background())
	if h.Status != "ok" || h.Database != "ok" || h.Upstream != "ok" {
		t.Errorf("healthy service reported %+v", h)
	}

	br := connectivity.NewCircuitBreaker(connectivity.WithBreakerThreshold(1))
	br.RecordFailure()
	svc2, _ := setupTestService(t, &fakeFetcher{}, WithBreaker(br))
	h2 := svc2.Health(context.Background())
	if h2.Status != "degraded" || h2.Upstream != "circuit open" {
		t.Errorf("open breaker reported %+v", h2)
	}
}

func TestSubmitMessage(t *testing.T) {
	// WHAT: The submission message matches the dedup outcome.
	// WHY: It is the only human-readable hint in the 202 body.
	running := &Job{Status: JobRunning}
	succeeded := &Job{Status: JobSucceeded}
	if got := SubmitMessage(running, true); got != "fetch scheduled" {
		t.Errorf("created: %q", got)
	}
	if got := SubmitMessage(succeeded, false); got != "reusing recent result" {
		t.Errorf("fresh reuse: %q", got)
	}
	if got := SubmitMessage(running, false); got != "fetch already in progress" {
		t.Errorf("active reuse: %q", got)
	}
}

func TestServiceStats(t *testing.T) {
	// WHAT: Stats aggregate stored items and jobs by status.
	// WHY: The stats tool and dashboards read these counters.
	f := &fakeFetcher{items: []*hnclient.Item{story(1, "One", 10), story(2, "Two", 20)}}
	svc, _ := setupTestService(t, f)
	ctx := context.Background()

	if _, _, err := svc.Submit(ctx, FetchRequest{Limit: 100}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	stats, err := svc.ServiceStats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Items != 2 {
		t.Errorf("expected 2 items, got %d", stats.Items)
	}
	if stats.JobsByStatus[JobSucceeded] != 1 {
		t.Errorf("expected 1 succeeded job, got %+v", stats.JobsByStatus)
	}
}

func TestPruneItems(t *testing.T) {
	// WHAT: PruneItems removes items fetched before the cutoff and reports
	// the count; a zero duration is a no-op.
	// WHY: Retention is opt-in and must spare rows that are still fresh.
	f := &fakeFetcher{items: []*hnclient.Item{story(1, "Old", 10), story(2, "New", 20)}}
	svc, db := setupTestService(t, f)
	ctx := context.Background()

	if _, _, err := svc.Submit(ctx, FetchRequest{Limit: 100}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	if n, err := svc.PruneItems(ctx, 0); err != nil || n != 0 {
		t.Fatalf("disabled retention: removed=%d err=%v", n, err)
	}

	stale := time.Now().Add(-48 * time.Hour).UnixMilli()
	if _, err := db.Exec(`UPDATE items SET fetched_at = ? WHERE external_id = 1`, stale); err != nil {
		t.Fatalf("backdate: %v", err)
	}

	removed, err := svc.PruneItems(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed: got %d, want 1", removed)
	}

	page, err := svc.QueryData(ctx, DataQuery{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if page.Total != 1 || page.Items[0].ExternalID != 2 {
		t.Errorf("expected only item 2 to survive, got total=%d", page.Total)
	}
}
