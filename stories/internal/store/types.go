// CLAUDE:SUMMARY All store data types: Item, Job, job status constants, ItemQuery, ItemPage, Stats.
package store

// Job status values. Transitions are monotonic:
// pending -> running -> succeeded | failed. Terminal states never change.
const (
	JobPending   = "pending"
	JobRunning   = "running"
	JobSucceeded = "succeeded"
	JobFailed    = "failed"
)

// Item ordering columns accepted by QueryItems.
const (
	OrderByScore = "score"
	OrderByTime  = "time"
	OrderByID    = "id"
)

// Item is one story fetched from the upstream source.
type Item struct {
	ExternalID  int64  `json:"externalId"`
	Title       string `json:"title"`
	URL         string `json:"url,omitempty"`
	Score       int    `json:"score"`
	Author      string `json:"author,omitempty"`
	Time        int64  `json:"time,omitempty"` // upstream publish time, unix seconds
	Descendants int    `json:"descendants"`
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	FirstSeenAt int64  `json:"firstSeenAt"`
	FetchedAt   int64  `json:"fetchedAt"`
}

// Job is one accepted fetch request and its lifecycle state.
type Job struct {
	ID           string  `json:"jobId"`
	Fingerprint  string  `json:"-"`
	Status       string  `json:"status"`
	MinScore     *int    `json:"minScore,omitempty"`
	Keyword      *string `json:"keyword,omitempty"`
	MaxItems     int     `json:"limit"`
	Progress     int     `json:"progress"`
	Message      string  `json:"message,omitempty"`
	ItemsFetched int     `json:"itemsFetched"`
	ItemsMatched int     `json:"itemsMatched"`
	ItemsStored  int     `json:"itemsStored"`
	Error        string  `json:"error,omitempty"`
	CreatedAt    int64   `json:"createdAt"`
	StartedAt    *int64  `json:"startedAt,omitempty"`
	FinishedAt   *int64  `json:"finishedAt,omitempty"`
}

// Active reports whether the job still occupies its fingerprint slot.
func (j *Job) Active() bool {
	return j.Status == JobPending || j.Status == JobRunning
}

// Terminal reports whether the job reached a final state.
func (j *Job) Terminal() bool {
	return j.Status == JobSucceeded || j.Status == JobFailed
}

// ItemQuery selects and pages stored items.
type ItemQuery struct {
	MinScore   *int
	Keyword    string // case-insensitive substring match on title
	ExternalID *int64
	OrderBy    string // score | time | id (default score)
	OrderDesc  bool   // default true
	Page       int    // 1-based
	PageSize   int
}

// ItemPage is one page of query results with the unpaginated total.
type ItemPage struct {
	Items    []*Item `json:"items"`
	Total    int     `json:"total"`
	Page     int     `json:"page"`
	PageSize int     `json:"pageSize"`
}

// Stats holds aggregate counters for health reporting.
type Stats struct {
	Items        int            `json:"items"`
	JobsByStatus map[string]int `json:"jobsByStatus"`
}
