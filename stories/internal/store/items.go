// CLAUDE:SUMMARY Item upsert keyed by external_id plus the filtered, ordered, paginated query.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// UpsertItem inserts an item or refreshes the stored row with the same
// external_id. Calling it twice with the same ID leaves one row; mutable
// fields (title, url, score, author, descendants, text) take the new
// values while first_seen_at keeps the original insert time.
func (s *Store) UpsertItem(ctx context.Context, it *Item) error {
	now := time.Now().UnixMilli()
	if it.FetchedAt == 0 {
		it.FetchedAt = now
	}
	if it.FirstSeenAt == 0 {
		it.FirstSeenAt = now
	}
	if it.Type == "" {
		it.Type = "story"
	}

	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO items (external_id, title, url, score, author, time,
		descendants, item_type, text, first_seen_at, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(external_id) DO UPDATE SET
		    title=excluded.title, url=excluded.url, score=excluded.score,
		    author=excluded.author, time=excluded.time,
		    descendants=excluded.descendants, item_type=excluded.item_type,
		    text=excluded.text, fetched_at=excluded.fetched_at`,
		it.ExternalID, it.Title, it.URL, it.Score, it.Author, it.Time,
		it.Descendants, it.Type, it.Text, it.FirstSeenAt, it.FetchedAt,
	)
	return err
}

// GetItem retrieves an item by its upstream ID, or nil when absent.
func (s *Store) GetItem(ctx context.Context, externalID int64) (*Item, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT external_id, title, url, score, author, time,
		descendants, item_type, text, first_seen_at, fetched_at
		FROM items WHERE external_id = ?`, externalID)
	return scanItem(row)
}

// QueryItems returns one page of items matching the query, newest-relevant
// first (score DESC, fetched_at DESC unless overridden), plus the total
// match count ignoring pagination. A page past the end returns an empty
// slice with the correct total.
func (s *Store) QueryItems(ctx context.Context, q ItemQuery) (*ItemPage, error) {
	if q.Page <= 0 {
		q.Page = 1
	}
	if q.PageSize <= 0 {
		q.PageSize = 20
	}

	var where []string
	var args []any

	if q.MinScore != nil {
		where = append(where, "score >= ?")
		args = append(args, *q.MinScore)
	}
	if q.Keyword != "" {
		// LIKE is case-insensitive for ASCII in SQLite; the keyword is
		// already lowercased by the caller.
		where = append(where, "LOWER(title) LIKE ?")
		args = append(args, "%"+strings.ToLower(q.Keyword)+"%")
	}
	if q.ExternalID != nil {
		where = append(where, "external_id = ?")
		args = append(args, *q.ExternalID)
	}

	cond := "1=1"
	if len(where) > 0 {
		cond = strings.Join(where, " AND ")
	}

	var total int
	err := s.DB.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT COUNT(*) FROM items WHERE %s`, cond), args...,
	).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("count items: %w", err)
	}

	order := orderClause(q)
	offset := (q.Page - 1) * q.PageSize
	queryArgs := append(append([]any{}, args...), q.PageSize, offset)

	rows, err := s.DB.QueryContext(ctx,
		fmt.Sprintf(`SELECT external_id, title, url, score, author, time,
		descendants, item_type, text, first_seen_at, fetched_at
		FROM items WHERE %s ORDER BY %s LIMIT ? OFFSET ?`, cond, order),
		queryArgs...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []*Item{}
	for rows.Next() {
		it, err := scanItemRows(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &ItemPage{Items: items, Total: total, Page: q.Page, PageSize: q.PageSize}, nil
}

// orderClause maps the query's ordering fields onto fixed SQL fragments.
// Column names never come from user input.
func orderClause(q ItemQuery) string {
	dir := "DESC"
	if q.OrderBy != "" && !q.OrderDesc {
		dir = "ASC"
	}
	switch q.OrderBy {
	case OrderByTime:
		return "time " + dir + ", external_id " + dir
	case OrderByID:
		return "external_id " + dir
	default:
		return "score " + dir + ", fetched_at " + dir
	}
}

// CountItems returns the total number of stored items.
func (s *Store) CountItems(ctx context.Context) (int, error) {
	var count int
	err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM items`).Scan(&count)
	return count, err
}

// DeleteItemsOlderThan removes items last fetched before the cutoff and
// returns the number deleted.
func (s *Store) DeleteItemsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.DB.ExecContext(ctx,
		`DELETE FROM items WHERE fetched_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanItem(row *sql.Row) (*Item, error) {
	var it Item
	err := row.Scan(
		&it.ExternalID, &it.Title, &it.URL, &it.Score, &it.Author, &it.Time,
		&it.Descendants, &it.Type, &it.Text, &it.FirstSeenAt, &it.FetchedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan item: %w", err)
	}
	return &it, nil
}

func scanItemRows(rows *sql.Rows) (*Item, error) {
	var it Item
	err := rows.Scan(
		&it.ExternalID, &it.Title, &it.URL, &it.Score, &it.Author, &it.Time,
		&it.Descendants, &it.Type, &it.Text, &it.FirstSeenAt, &it.FetchedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan item: %w", err)
	}
	return &it, nil
}
