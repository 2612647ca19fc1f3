package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/louisbranch/gatekeeper/internal/services/gatekeeper/storage"
)

// AddBan inserts a ban unless the pair is already banned. The unique
// constraint plus ON CONFLICT DO NOTHING keeps concurrent duplicate bans to
// a single row.
func (s *Store) AddBan(ctx context.Context, ban storage.SceneBan) (bool, error) {
	if err := s.ready(ctx); err != nil {
		return false, err
	}
	ban.ID = strings.TrimSpace(ban.ID)
	ban.PlaceID = strings.TrimSpace(ban.PlaceID)
	ban.BannedAddress = normalizeAddress(ban.BannedAddress)
	ban.BannedBy = normalizeAddress(ban.BannedBy)
	if ban.ID == "" {
		return false, fmt.Errorf("ban id is required")
	}
	if ban.PlaceID == "" {
		return false, fmt.Errorf("place id is required")
	}
	if ban.BannedAddress == "" {
		return false, fmt.Errorf("banned address is required")
	}
	if ban.BannedAt.IsZero() {
		ban.BannedAt = s.now()
	}

	result, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO scene_bans (id, place_id, banned_address, banned_by, banned_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (place_id, banned_address) DO NOTHING
`,
		ban.ID,
		ban.PlaceID,
		ban.BannedAddress,
		ban.BannedBy,
		toMillis(ban.BannedAt),
	)
	if err != nil {
		return false, fmt.Errorf("add ban: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("add ban rows affected: %w", err)
	}
	return affected > 0, nil
}

// RemoveBan deletes the ban. Deleting a missing ban succeeds.
func (s *Store) RemoveBan(ctx context.Context, placeID string, address string) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if _, err := s.sqlDB.ExecContext(ctx, `
DELETE FROM scene_bans WHERE place_id = ? AND banned_address = ?
`, strings.TrimSpace(placeID), normalizeAddress(address)); err != nil {
		return fmt.Errorf("remove ban: %w", err)
	}
	return nil
}

// IsBanned reports whether the address is banned from the place.
func (s *Store) IsBanned(ctx context.Context, placeID string, address string) (bool, error) {
	if err := s.ready(ctx); err != nil {
		return false, err
	}
	var found int
	if err := s.sqlDB.QueryRowContext(ctx, `
SELECT COUNT(1) FROM scene_bans WHERE place_id = ? AND banned_address = ?
`, strings.TrimSpace(placeID), normalizeAddress(address)).Scan(&found); err != nil {
		return false, fmt.Errorf("check ban: %w", err)
	}
	return found > 0, nil
}

// ListBans lists bans for a place, newest first.
func (s *Store) ListBans(ctx context.Context, placeID string, page storage.Page) ([]storage.SceneBan, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	if page.Limit < 0 || page.Offset < 0 {
		return nil, fmt.Errorf("page bounds must not be negative")
	}
	limit := page.Limit
	if limit == 0 {
		limit = -1
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, place_id, banned_address, banned_by, banned_at
FROM scene_bans
WHERE place_id = ?
ORDER BY banned_at DESC, id DESC
LIMIT ? OFFSET ?
`, strings.TrimSpace(placeID), limit, page.Offset)
	if err != nil {
		return nil, fmt.Errorf("list bans: %w", err)
	}
	defer rows.Close()

	var bans []storage.SceneBan
	for rows.Next() {
		var ban storage.SceneBan
		var bannedAt int64
		if err := rows.Scan(&ban.ID, &ban.PlaceID, &ban.BannedAddress, &ban.BannedBy, &bannedAt); err != nil {
			return nil, fmt.Errorf("scan ban: %w", err)
		}
		ban.BannedAt = fromMillis(bannedAt)
		bans = append(bans, ban)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bans: %w", err)
	}
	return bans, nil
}

// ListBannedAddresses returns every banned address of a place.
func (s *Store) ListBannedAddresses(ctx context.Context, placeID string) ([]string, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	return s.queryStrings(ctx, "list banned addresses", `
SELECT banned_address FROM scene_bans WHERE place_id = ? ORDER BY banned_address
`, strings.TrimSpace(placeID))
}

// CountBans counts bans for a place.
func (s *Store) CountBans(ctx context.Context, placeID string) (int, error) {
	if err := s.ready(ctx); err != nil {
		return 0, err
	}
	var count int
	if err := s.sqlDB.QueryRowContext(ctx, `
SELECT COUNT(1) FROM scene_bans WHERE place_id = ?
`, strings.TrimSpace(placeID)).Scan(&count); err != nil {
		return 0, fmt.Errorf("count bans: %w", err)
	}
	return count, nil
}

// ListBannedPlaceIDs returns the distinct places that have at least one ban.
func (s *Store) ListBannedPlaceIDs(ctx context.Context) ([]string, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	return s.queryStrings(ctx, "list banned places", `
SELECT DISTINCT place_id FROM scene_bans ORDER BY place_id
`)
}

// RemoveBansForPlaces deletes every ban of the given places.
func (s *Store) RemoveBansForPlaces(ctx context.Context, placeIDs []string) (int64, error) {
	if err := s.ready(ctx); err != nil {
		return 0, err
	}
	if len(placeIDs) == 0 {
		return 0, nil
	}
	args := make([]any, 0, len(placeIDs))
	for _, placeID := range placeIDs {
		args = append(args, strings.TrimSpace(placeID))
	}
	result, err := s.sqlDB.ExecContext(ctx,
		"DELETE FROM scene_bans WHERE place_id IN ("+placeholders(len(args))+")",
		args...,
	)
	if err != nil {
		return 0, fmt.Errorf("remove bans for places: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("remove bans rows affected: %w", err)
	}
	return affected, nil
}

func (s *Store) queryStrings(ctx context.Context, op string, query string, args ...any) ([]string, error) {
	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var value string
		if err := rows.Scan(&value); err != nil {
			return nil, fmt.Errorf("%s scan: %w", op, err)
		}
		values = append(values, value)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s iterate: %w", op, err)
	}
	return values, nil
}
