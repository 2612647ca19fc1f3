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

// participantTable names one of the two session tables. Private and
// community rooms share the row shape; only community rows use is_moderator.
type participantTable struct {
	name      string
	moderator bool
}

var (
	privateTable   = participantTable{name: "voice_chat_users"}
	communityTable = participantTable{name: "community_voice_chat_users", moderator: true}
)

func (t participantTable) columns() string {
	if t.moderator {
		return "address, room_name, status, joined_at, status_updated_at, is_moderator"
	}
	return "address, room_name, status, joined_at, status_updated_at"
}

func validateParticipant(participant *storage.Participant) error {
	participant.Address = normalizeAddress(participant.Address)
	participant.RoomName = strings.TrimSpace(participant.RoomName)
	if participant.Address == "" {
		return fmt.Errorf("participant address is required")
	}
	if participant.RoomName == "" {
		return fmt.Errorf("room name is required")
	}
	if !participant.Status.Valid() {
		return fmt.Errorf("participant status %q is invalid", participant.Status)
	}
	return nil
}

func (s *Store) upsertParticipant(ctx context.Context, table participantTable, participant storage.Participant) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if err := validateParticipant(&participant); err != nil {
		return err
	}
	if participant.JoinedAt.IsZero() {
		participant.JoinedAt = s.now()
	}
	if participant.StatusUpdatedAt.IsZero() {
		participant.StatusUpdatedAt = participant.JoinedAt
	}

	args := []any{
		participant.Address,
		participant.RoomName,
		string(participant.Status),
		toMillis(participant.JoinedAt),
		toMillis(participant.StatusUpdatedAt),
	}
	values := "?, ?, ?, ?, ?"
	update := "status = excluded.status, joined_at = excluded.joined_at, status_updated_at = excluded.status_updated_at"
	if table.moderator {
		args = append(args, boolToInt(participant.IsModerator))
		values += ", ?"
		update += ", is_moderator = excluded.is_moderator"
	}

	if _, err := s.sqlDB.ExecContext(ctx,
		"INSERT INTO "+table.name+" ("+table.columns()+") VALUES ("+values+")\n"+
			"ON CONFLICT (address, room_name) DO UPDATE SET "+update,
		args...,
	); err != nil {
		return fmt.Errorf("upsert %s participant: %w", table.name, err)
	}
	return nil
}

func (s *Store) setParticipantStatus(ctx context.Context, table participantTable, roomName string, address string, status storage.ParticipantStatus, at time.Time) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if !status.Valid() {
		return fmt.Errorf("participant status %q is invalid", status)
	}
	if at.IsZero() {
		at = s.now()
	}
	result, err := s.sqlDB.ExecContext(ctx,
		"UPDATE "+table.name+" SET status = ?, status_updated_at = ? WHERE room_name = ? AND address = ?",
		string(status),
		toMillis(at),
		strings.TrimSpace(roomName),
		normalizeAddress(address),
	)
	if err != nil {
		return fmt.Errorf("set %s participant status: %w", table.name, err)
	}
	return requireAffected(result)
}

func (s *Store) listParticipants(ctx context.Context, table participantTable, where string, args ...any) ([]storage.Participant, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx,
		"SELECT "+table.columns()+" FROM "+table.name+" WHERE "+where+" ORDER BY joined_at ASC, address ASC",
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("list %s participants: %w", table.name, err)
	}
	defer rows.Close()

	var participants []storage.Participant
	for rows.Next() {
		participant, err := scanParticipant(rows, table)
		if err != nil {
			return nil, err
		}
		participants = append(participants, participant)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s participants: %w", table.name, err)
	}
	return participants, nil
}

// deleteRoom removes every row of a room and returns the addresses that
// were in it.
func (s *Store) deleteRoom(ctx context.Context, table participantTable, roomName string) ([]string, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	roomName = strings.TrimSpace(roomName)
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin delete %s room: %w", table.name, err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, "SELECT address FROM "+table.name+" WHERE room_name = ? ORDER BY address", roomName)
	if err != nil {
		return nil, fmt.Errorf("list %s room addresses: %w", table.name, err)
	}
	var addresses []string
	for rows.Next() {
		var address string
		if err := rows.Scan(&address); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan %s room address: %w", table.name, err)
		}
		addresses = append(addresses, address)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate %s room addresses: %w", table.name, err)
	}
	rows.Close()

	if _, err := tx.ExecContext(ctx, "DELETE FROM "+table.name+" WHERE room_name = ?", roomName); err != nil {
		return nil, fmt.Errorf("delete %s room: %w", table.name, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit delete %s room: %w", table.name, err)
	}
	return addresses, nil
}

func scanParticipant(row rowScanner, table participantTable) (storage.Participant, error) {
	var participant storage.Participant
	var status string
	var joinedAt, updatedAt int64
	dest := []any{&participant.Address, &participant.RoomName, &status, &joinedAt, &updatedAt}
	var moderator int
	if table.moderator {
		dest = append(dest, &moderator)
	}
	err := row.Scan(dest...)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Participant{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.Participant{}, fmt.Errorf("scan %s participant: %w", table.name, err)
	}
	participant.Status = storage.ParticipantStatus(status)
	participant.JoinedAt = fromMillis(joinedAt)
	participant.StatusUpdatedAt = fromMillis(updatedAt)
	participant.IsModerator = moderator == 1
	return participant, nil
}

// UpsertPrivateParticipant creates or resets a private room row.
func (s *Store) UpsertPrivateParticipant(ctx context.Context, participant storage.Participant) error {
	participant.IsModerator = false
	return s.upsertParticipant(ctx, privateTable, participant)
}

// SetPrivateParticipantStatus transitions an existing private room row.
func (s *Store) SetPrivateParticipantStatus(ctx context.Context, roomName string, address string, status storage.ParticipantStatus, at time.Time) error {
	return s.setParticipantStatus(ctx, privateTable, roomName, address, status, at)
}

// ListPrivateRoomParticipants lists the rows of one private room.
func (s *Store) ListPrivateRoomParticipants(ctx context.Context, roomName string) ([]storage.Participant, error) {
	return s.listParticipants(ctx, privateTable, "room_name = ?", strings.TrimSpace(roomName))
}

// ListPrivateRoomsForAddress lists private rooms where the address has the given status.
func (s *Store) ListPrivateRoomsForAddress(ctx context.Context, address string, status storage.ParticipantStatus) ([]string, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	return s.queryStrings(ctx, "list private rooms for address", `
SELECT room_name FROM voice_chat_users WHERE address = ? AND status = ? ORDER BY room_name
`, normalizeAddress(address), string(status))
}

// ListPrivateParticipationsForAddress lists every private row of an address.
func (s *Store) ListPrivateParticipationsForAddress(ctx context.Context, address string) ([]storage.Participant, error) {
	return s.listParticipants(ctx, privateTable, "address = ?", normalizeAddress(address))
}

// DeletePrivateRoom deletes a private room's rows and returns its addresses.
func (s *Store) DeletePrivateRoom(ctx context.Context, roomName string) ([]string, error) {
	return s.deleteRoom(ctx, privateTable, roomName)
}

// UpsertCommunityParticipant creates or resets a community room row.
func (s *Store) UpsertCommunityParticipant(ctx context.Context, participant storage.Participant) error {
	return s.upsertParticipant(ctx, communityTable, participant)
}

// SetCommunityParticipantStatus transitions an existing community room row.
func (s *Store) SetCommunityParticipantStatus(ctx context.Context, roomName string, address string, status storage.ParticipantStatus, at time.Time) error {
	return s.setParticipantStatus(ctx, communityTable, roomName, address, status, at)
}

// GetCommunityParticipant returns one community room row.
func (s *Store) GetCommunityParticipant(ctx context.Context, roomName string, address string) (storage.Participant, error) {
	if err := s.ready(ctx); err != nil {
		return storage.Participant{}, err
	}
	row := s.sqlDB.QueryRowContext(ctx,
		"SELECT "+communityTable.columns()+" FROM "+communityTable.name+" WHERE room_name = ? AND address = ?",
		strings.TrimSpace(roomName),
		normalizeAddress(address),
	)
	return scanParticipant(row, communityTable)
}

// ListCommunityRoomParticipants lists the rows of one community room.
func (s *Store) ListCommunityRoomParticipants(ctx context.Context, roomName string) ([]storage.Participant, error) {
	return s.listParticipants(ctx, communityTable, "room_name = ?", strings.TrimSpace(roomName))
}

// CountConnectedModerators counts moderators currently connected to a room.
func (s *Store) CountConnectedModerators(ctx context.Context, roomName string) (int, error) {
	if err := s.ready(ctx); err != nil {
		return 0, err
	}
	var count int
	if err := s.sqlDB.QueryRowContext(ctx, `
SELECT COUNT(1) FROM community_voice_chat_users
WHERE room_name = ? AND is_moderator = 1 AND status = ?
`, strings.TrimSpace(roomName), string(storage.StatusConnected)).Scan(&count); err != nil {
		return 0, fmt.Errorf("count connected moderators: %w", err)
	}
	return count, nil
}

// DeleteCommunityRoom deletes a community room's rows and returns its addresses.
func (s *Store) DeleteCommunityRoom(ctx context.Context, roomName string) ([]string, error) {
	return s.deleteRoom(ctx, communityTable, roomName)
}
