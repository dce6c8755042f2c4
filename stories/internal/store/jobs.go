// CLAUDE:SUMMARY Job registry: transactional lookup-or-insert by fingerprint and guarded status transitions.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hazyhaar/hnfetch/dbopen"
)

// ErrBadTransition is returned when a status update targets a job that is
// not in the expected prior state. Terminal jobs never transition again.
var ErrBadTransition = errors.New("store: job not in expected status")

const jobColumns = `id, fingerprint, status, min_score, keyword, max_items,
	progress, message, items_fetched, items_matched, items_stored, error,
	created_at, started_at, finished_at`

// CreateJobIfAbsent resolves a submission against the registry in one
// transaction. In order it returns:
//
//  1. an active (pending or running) job with the same fingerprint, or
//  2. a succeeded job with the same fingerprint that finished within
//     freshWindow (freshWindow <= 0 disables this reuse), or
//  3. the given job, freshly inserted as pending.
//
// The boolean is true only in case 3. Failed jobs never satisfy reuse.
// A concurrent duplicate insert loses on the active-fingerprint unique
// index and resolves to the winner's row.
func (s *Store) CreateJobIfAbsent(ctx context.Context, job *Job, freshWindow time.Duration) (*Job, bool, error) {
	if job.CreatedAt == 0 {
		job.CreatedAt = time.Now().UnixMilli()
	}
	if job.Status == "" {
		job.Status = JobPending
	}

	var (
		resolved *Job
		created  bool
	)
	err := dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		if existing, err := scanJob(tx.QueryRowContext(ctx,
			`SELECT `+jobColumns+` FROM jobs
			WHERE fingerprint = ? AND status IN ('pending','running')
			LIMIT 1`, job.Fingerprint)); err != nil {
			return err
		} else if existing != nil {
			resolved = existing
			return nil
		}

		if freshWindow > 0 {
			cutoff := time.Now().Add(-freshWindow).UnixMilli()
			if fresh, err := scanJob(tx.QueryRowContext(ctx,
				`SELECT `+jobColumns+` FROM jobs
				WHERE fingerprint = ? AND status = 'succeeded' AND finished_at >= ?
				ORDER BY finished_at DESC LIMIT 1`, job.Fingerprint, cutoff)); err != nil {
				return err
			} else if fresh != nil {
				resolved = fresh
				return nil
			}
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO jobs (id, fingerprint, status, min_score, keyword, max_items,
			progress, message, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			job.ID, job.Fingerprint, job.Status, job.MinScore, job.Keyword,
			job.MaxItems, job.Progress, job.Message, job.CreatedAt,
		); err != nil {
			return err
		}
		resolved = job
		created = true
		return nil
	})
	if err != nil {
		// Lost the race on idx_jobs_active_fingerprint: another submitter
		// inserted an active job between our read and write.
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			winner, werr := s.ActiveJobByFingerprint(ctx, job.Fingerprint)
			if werr != nil {
				return nil, false, werr
			}
			if winner != nil {
				return winner, false, nil
			}
		}
		return nil, false, fmt.Errorf("create job: %w", err)
	}
	return resolved, created, nil
}

// GetJob retrieves a job by ID, or nil when absent.
func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	return scanJob(s.DB.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
}

// ActiveJobByFingerprint returns the pending or running job holding the
// fingerprint slot, or nil.
func (s *Store) ActiveJobByFingerprint(ctx context.Context, fingerprint string) (*Job, error) {
	return scanJob(s.DB.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs
		WHERE fingerprint = ? AND status IN ('pending','running')
		LIMIT 1`, fingerprint))
}

// MarkJobRunning transitions pending -> running.
func (s *Store) MarkJobRunning(ctx context.Context, id string) error {
	now := time.Now().UnixMilli()
	return s.guardedUpdate(ctx,
		`UPDATE jobs SET status='running', started_at=?, message='fetching'
		WHERE id=? AND status='pending'`, now, id)
}

// SetJobProgress updates progress (0-100) and the status message of a
// running job. Progress on settled jobs is silently ignored so a slow
// worker cannot scribble over a terminal row.
func (s *Store) SetJobProgress(ctx context.Context, id string, progress int, message string) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE jobs SET progress=?, message=? WHERE id=? AND status='running'`,
		progress, message, id)
	return err
}

// MarkJobSucceeded transitions running -> succeeded and records counters.
func (s *Store) MarkJobSucceeded(ctx context.Context, id string, fetched, matched, stored int) error {
	now := time.Now().UnixMilli()
	return s.guardedUpdate(ctx,
		`UPDATE jobs SET status='succeeded', progress=100, message='completed',
		items_fetched=?, items_matched=?, items_stored=?, finished_at=?
		WHERE id=? AND status='running'`,
		fetched, matched, stored, now, id)
}

// MarkJobFailed transitions pending or running -> failed. The error text
// is capped so an upstream body dump cannot bloat the registry.
func (s *Store) MarkJobFailed(ctx context.Context, id, errMsg string) error {
	const maxErrLen = 1024
	if len(errMsg) > maxErrLen {
		errMsg = errMsg[:maxErrLen]
	}
	now := time.Now().UnixMilli()
	return s.guardedUpdate(ctx,
		`UPDATE jobs SET status='failed', message='failed', error=?, finished_at=?
		WHERE id=? AND status IN ('pending','running')`,
		errMsg, now, id)
}

func (s *Store) guardedUpdate(ctx context.Context, query string, args ...any) error {
	res, err := s.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrBadTransition
	}
	return nil
}

// CountJobsByStatus returns job counts grouped by status.
func (s *Store) CountJobsByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// RecentJobs returns the latest N jobs, newest first.
func (s *Store) RecentJobs(ctx context.Context, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		j, err := scanJobRows(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// JobsByStatus returns jobs in the given status, oldest first, so restart
// recovery re-dispatches in submission order.
func (s *Store) JobsByStatus(ctx context.Context, status string, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE status = ?
		ORDER BY created_at ASC LIMIT ?`, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		j, err := scanJobRows(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func scanJob(row *sql.Row) (*Job, error) {
	var j Job
	err := row.Scan(
		&j.ID, &j.Fingerprint, &j.Status, &j.MinScore, &j.Keyword, &j.MaxItems,
		&j.Progress, &j.Message, &j.ItemsFetched, &j.ItemsMatched, &j.ItemsStored,
		&j.Error, &j.CreatedAt, &j.StartedAt, &j.FinishedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}
	return &j, nil
}

func scanJobRows(rows *sql.Rows) (*Job, error) {
	var j Job
	err := rows.Scan(
		&j.ID, &j.Fingerprint, &j.Status, &j.MinScore, &j.Keyword, &j.MaxItems,
		&j.Progress, &j.Message, &j.ItemsFetched, &j.ItemsMatched, &j.ItemsStored,
		&j.Error, &j.CreatedAt, &j.StartedAt, &j.FinishedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}
	return &j, nil
}
