package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/gatekeeper/internal/services/gatekeeper/storage"
)

const streamAccessColumns = `
	id,
	place_id,
	streaming_url,
	streaming_key,
	ingress_id,
	created_at,
	active,
	streaming,
	streaming_started_at,
	expiration_time`

// PutStreamAccess inserts the access row of a place. A leftover inactive
// row is replaced in the same transaction; an active row makes the insert
// fail with ErrConflict so concurrent get-or-create callers converge on a
// single winner.
func (s *Store) PutStreamAccess(ctx context.Context, access storage.StreamAccess) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	access.ID = strings.TrimSpace(access.ID)
	access.PlaceID = strings.TrimSpace(access.PlaceID)
	access.IngressID = strings.TrimSpace(access.IngressID)
	if access.ID == "" {
		return fmt.Errorf("stream access id is required")
	}
	if access.PlaceID == "" {
		return fmt.Errorf("place id is required")
	}
	if access.IngressID == "" {
		return fmt.Errorf("ingress id is required")
	}
	if strings.TrimSpace(access.StreamingKey) == "" {
		return fmt.Errorf("streaming key is required")
	}
	if access.CreatedAt.IsZero() {
		access.CreatedAt = s.now()
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin put stream access: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
DELETE FROM scene_stream_access WHERE place_id = ? AND active = 0
`, access.PlaceID); err != nil {
		return fmt.Errorf("clear inactive stream access: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
INSERT INTO scene_stream_access (`+streamAccessColumns+`
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		access.ID,
		access.PlaceID,
		access.StreamingURL,
		access.StreamingKey,
		access.IngressID,
		toMillis(access.CreatedAt),
		boolToInt(access.Active),
		boolToInt(access.Streaming),
		nullableMillis(access.StreamingStartedAt),
		nullableMillis(access.ExpirationTime),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("put stream access: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit stream access: %w", err)
	}
	return nil
}

// GetStreamAccess returns the active access row of a place.
func (s *Store) GetStreamAccess(ctx context.Context, placeID string) (storage.StreamAccess, error) {
	if err := s.ready(ctx); err != nil {
		return storage.StreamAccess{}, err
	}
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT`+streamAccessColumns+`
FROM scene_stream_access
WHERE place_id = ? AND active = 1
`, strings.TrimSpace(placeID))
	return scanStreamAccess(row)
}

// GetStreamAccessByIngress returns the access row bound to an ingress,
// active or not.
func (s *Store) GetStreamAccessByIngress(ctx context.Context, ingressID string) (storage.StreamAccess, error) {
	if err := s.ready(ctx); err != nil {
		return storage.StreamAccess{}, err
	}
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT`+streamAccessColumns+`
FROM scene_stream_access
WHERE ingress_id = ?
`, strings.TrimSpace(ingressID))
	return scanStreamAccess(row)
}

// DeleteStreamAccess removes the access row of a place. Missing rows succeed.
func (s *Store) DeleteStreamAccess(ctx context.Context, placeID string) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if _, err := s.sqlDB.ExecContext(ctx, `
DELETE FROM scene_stream_access WHERE place_id = ?
`, strings.TrimSpace(placeID)); err != nil {
		return fmt.Errorf("delete stream access: %w", err)
	}
	return nil
}

// ListExpiredStreamAccess lists idle rows past their expiration time. Rows
// that are currently streaming are left to the max-duration sweep.
func (s *Store) ListExpiredStreamAccess(ctx context.Context, now time.Time) ([]storage.StreamAccess, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	return s.queryStreamAccess(ctx, "list expired stream access", `
SELECT`+streamAccessColumns+`
FROM scene_stream_access
WHERE active = 1
	AND streaming = 0
	AND expiration_time IS NOT NULL
	AND expiration_time < ?
ORDER BY expiration_time ASC
`, toMillis(now))
}

// ListStreamingCreatedBefore lists streaming rows created before cutoff.
// The max duration counts from row creation, so restarting an ingress does
// not extend it. streaming_started_at is informational only.
func (s *Store) ListStreamingCreatedBefore(ctx context.Context, cutoff time.Time) ([]storage.StreamAccess, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	return s.queryStreamAccess(ctx, "list overdue streams", `
SELECT`+streamAccessColumns+`
FROM scene_stream_access
WHERE streaming = 1
	AND created_at < ?
ORDER BY created_at ASC
`, toMillis(cutoff))
}

// SetStreaming records whether the ingress is currently receiving media.
func (s *Store) SetStreaming(ctx context.Context, ingressID string, streaming bool, at time.Time) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	var startedAt sql.NullInt64
	if streaming {
		startedAt = sql.NullInt64{Int64: toMillis(at), Valid: true}
	}
	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE scene_stream_access
SET streaming = ?, streaming_started_at = ?
WHERE ingress_id = ?
`, boolToInt(streaming), startedAt, strings.TrimSpace(ingressID))
	if err != nil {
		return fmt.Errorf("set streaming: %w", err)
	}
	return requireAffected(result)
}

// DeactivateStreamAccess clears both flags of the row bound to an ingress.
func (s *Store) DeactivateStreamAccess(ctx context.Context, ingressID string) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE scene_stream_access
SET active = 0, streaming = 0
WHERE ingress_id = ?
`, strings.TrimSpace(ingressID))
	if err != nil {
		return fmt.Errorf("deactivate stream access: %w", err)
	}
	return requireAffected(result)
}

func (s *Store) queryStreamAccess(ctx context.Context, op string, query string, args ...any) ([]storage.StreamAccess, error) {
	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var records []storage.StreamAccess
	for rows.Next() {
		record, err := scanStreamAccess(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s iterate: %w", op, err)
	}
	return records, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStreamAccess(row rowScanner) (storage.StreamAccess, error) {
	var record storage.StreamAccess
	var createdAt int64
	var active, streaming int
	var startedAt, expiration sql.NullInt64
	err := row.Scan(
		&record.ID,
		&record.PlaceID,
		&record.StreamingURL,
		&record.StreamingKey,
		&record.IngressID,
		&createdAt,
		&active,
		&streaming,
		&startedAt,
		&expiration,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.StreamAccess{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.StreamAccess{}, fmt.Errorf("scan stream access: %w", err)
	}
	record.CreatedAt = fromMillis(createdAt)
	record.Active = active == 1
	record.Streaming = streaming == 1
	record.StreamingStartedAt = timeFromNullable(startedAt)
	record.ExpirationTime = timeFromNullable(expiration)
	return record, nil
}

func requireAffected(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}
