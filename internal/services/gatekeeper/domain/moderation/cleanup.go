package moderation

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

const (
	placeStatusBatchSize   = 100
	placeStatusConcurrency = 4
)

// RemoveBansFromDisabledPlaces deletes every ban of places the places
// collaborator now reports as disabled. A failed batch aborts the run with
// an error; the run is idempotent so the next one finishes the job.
func (s *Service) RemoveBansFromDisabledPlaces(ctx context.Context) (int64, error) {
	if s == nil || s.store == nil || s.places == nil {
		return 0, fmt.Errorf("moderation service is not configured")
	}
	placeIDs, err := s.store.ListBannedPlaceIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list banned places: %w", err)
	}
	if len(placeIDs) == 0 {
		return 0, nil
	}

	var (
		mu       sync.Mutex
		disabled []string
	)
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(placeStatusConcurrency)
	for start := 0; start < len(placeIDs); start += placeStatusBatchSize {
		batch := placeIDs[start:min(start+placeStatusBatchSize, len(placeIDs))]
		group.Go(func() error {
			statuses, err := s.places.GetPlaceStatusByIDs(groupCtx, batch)
			if err != nil {
				return fmt.Errorf("place status batch of %d: %w", len(batch), err)
			}
			mu.Lock()
			defer mu.Unlock()
			for _, status := range statuses {
				if status.Disabled {
					disabled = append(disabled, status.ID)
				}
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return 0, err
	}
	if len(disabled) == 0 {
		return 0, nil
	}

	removed, err := s.store.RemoveBansForPlaces(ctx, disabled)
	if err != nil {
		return 0, fmt.Errorf("remove bans for disabled places: %w", err)
	}
	return removed, nil
}
