package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/louisbranch/gatekeeper/internal/services/gatekeeper/storage"
)

// AddAdmin inserts a new active admin grant. Policy checks live in the
// moderation service; a second active grant for the same pair is rejected
// by the partial unique index and surfaces as ErrConflict.
func (s *Store) AddAdmin(ctx context.Context, admin storage.SceneAdmin) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	admin.ID = strings.TrimSpace(admin.ID)
	admin.PlaceID = strings.TrimSpace(admin.PlaceID)
	admin.Admin = normalizeAddress(admin.Admin)
	admin.AddedBy = normalizeAddress(admin.AddedBy)
	if admin.ID == "" {
		return fmt.Errorf("admin id is required")
	}
	if admin.PlaceID == "" {
		return fmt.Errorf("place id is required")
	}
	if admin.Admin == "" {
		return fmt.Errorf("admin address is required")
	}
	if admin.CreatedAt.IsZero() {
		admin.CreatedAt = s.now()
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO scene_admin (id, place_id, admin, added_by, active, created_at)
VALUES (?, ?, ?, ?, 1, ?)
`,
		admin.ID,
		admin.PlaceID,
		admin.Admin,
		admin.AddedBy,
		toMillis(admin.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("add admin: %w", err)
	}
	return nil
}

// ListActiveAdmins lists active grants for a place, oldest first.
func (s *Store) ListActiveAdmins(ctx context.Context, filter storage.AdminFilter) ([]storage.SceneAdmin, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	placeID := strings.TrimSpace(filter.PlaceID)
	if placeID == "" {
		return nil, fmt.Errorf("place id is required")
	}

	query := `
SELECT id, place_id, admin, added_by, active, created_at
FROM scene_admin
WHERE place_id = ? AND active = 1`
	args := []any{placeID}
	if admin := normalizeAddress(filter.Admin); admin != "" {
		query += " AND admin = ?"
		args = append(args, admin)
	}
	query += "\nORDER BY created_at ASC, id ASC"

	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list admins: %w", err)
	}
	defer rows.Close()

	var admins []storage.SceneAdmin
	for rows.Next() {
		var admin storage.SceneAdmin
		var active int
		var createdAt int64
		if err := rows.Scan(&admin.ID, &admin.PlaceID, &admin.Admin, &admin.AddedBy, &active, &createdAt); err != nil {
			return nil, fmt.Errorf("scan admin: %w", err)
		}
		admin.Active = active == 1
		admin.CreatedAt = fromMillis(createdAt)
		admins = append(admins, admin)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate admins: %w", err)
	}
	return admins, nil
}

// IsAdmin reports whether the address holds an active grant on the place.
func (s *Store) IsAdmin(ctx context.Context, placeID string, address string) (bool, error) {
	if err := s.ready(ctx); err != nil {
		return false, err
	}
	var found int
	err := s.sqlDB.QueryRowContext(ctx, `
SELECT COUNT(1) FROM scene_admin
WHERE place_id = ? AND admin = ? AND active = 1
`, strings.TrimSpace(placeID), normalizeAddress(address)).Scan(&found)
	if err != nil {
		return false, fmt.Errorf("check admin: %w", err)
	}
	return found > 0, nil
}

// RemoveAdmin soft-deletes active grants. Removing a missing grant succeeds.
func (s *Store) RemoveAdmin(ctx context.Context, placeID string, address string) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	_, err := s.sqlDB.ExecContext(ctx, `
UPDATE scene_admin SET active = 0
WHERE place_id = ? AND admin = ? AND active = 1
`, strings.TrimSpace(placeID), normalizeAddress(address))
	if err != nil {
		return fmt.Errorf("remove admin: %w", err)
	}
	return nil
}
