// Package stories fetches top stories from the Hacker News API on demand,
// deduplicates concurrent and recent requests, and serves the stored
// results.
//
// A submission is fingerprinted from its normalized filter criteria. While
// a job for that fingerprint is pending or running, equivalent submissions
// attach to it; after it succeeds, equivalent submissions inside the
// freshness window reuse its result without touching the upstream API.
package stories

import (
	"github.com/hazyhaar/hnfetch/stories/internal/store"
)

// Re-export store types for public API.
type (
	Item     = store.Item
	Job      = store.Job
	ItemPage = store.ItemPage
	Stats    = store.Stats
)

// Job status values.
const (
	JobPending   = store.JobPending
	JobRunning   = store.JobRunning
	JobSucceeded = store.JobSucceeded
	JobFailed    = store.JobFailed
)

// FetchRequest is the caller's filter criteria for one fetch submission.
// Absent optional fields relax the corresponding filter.
type FetchRequest struct {
	MinScore *int    `json:"minScore,omitempty" validate:"omitempty,gte=0"`
	Keyword  *string `json:"keyword,omitempty" validate:"omitempty,min=1"`
	Limit    int     `json:"limit" validate:"omitempty,gte=1,lte=500"`
}

// DataQuery selects stored items. Zero values mean "no filter" and
// default paging.
type DataQuery struct {
	MinScore   *int   `json:"minScore,omitempty" validate:"omitempty,gte=0"`
	Keyword    string `json:"keyword,omitempty"`
	ExternalID *int64 `json:"externalId,omitempty"`
	OrderBy    string `json:"orderBy,omitempty" validate:"omitempty,oneof=score time id"`
	OrderDir   string `json:"orderDir,omitempty" validate:"omitempty,oneof=asc desc"`
	Page       int    `json:"page" validate:"omitempty,gte=1"`
	PageSize   int    `json:"pageSize" validate:"omitempty,gte=1,lte=100"`
}

// Health is the service health snapshot.
type Health struct {
	Status   string `json:"status"` // "ok" | "degraded"
	Database string `json:"database"`
	Upstream string `json:"upstream"`
}
