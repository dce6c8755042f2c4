// CLAUDE:SUMMARY Aggregate counters over items and jobs for health reporting.
package store

import "context"

// Stats returns aggregate counters across both tables.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	items, err := s.CountItems(ctx)
	if err != nil {
		return nil, err
	}
	jobs, err := s.CountJobsByStatus(ctx)
	if err != nil {
		return nil, err
	}
	return &Stats{Items: items, JobsByStatus: jobs}, nil
}
