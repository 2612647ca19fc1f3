package voice

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	apperrors "github.com/louisbranch/gatekeeper/internal/platform/errors"
	"github.com/louisbranch/gatekeeper/internal/services/gatekeeper/roomservice"
	"github.com/louisbranch/gatekeeper/internal/services/gatekeeper/storage"
)

// privateJoined marks the joiner connected. A peer can only be connected to
// one private room, so its other connected rooms are torn down first. A
// room whose other peer already left voluntarily is stale and is destroyed
// instead of reused.
func (m *SessionManager) privateJoined(ctx context.Context, e roomservice.ParticipantJoined) error {
	room := e.Room.Name
	address := e.Identity
	now := m.now()

	others, err := m.store.ListPrivateRoomsForAddress(ctx, address, storage.StatusConnected)
	if err != nil {
		return fmt.Errorf("list private rooms for %s: %w", address, err)
	}
	for _, other := range others {
		if other == room {
			continue
		}
		if err := m.store.SetPrivateParticipantStatus(ctx, other, address, storage.StatusDisconnected, now); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("disconnect %s from %s: %w", address, other, err)
		}
		if err := m.rooms.DeleteRoom(ctx, other); err != nil {
			log.Printf("voice: delete superseded private room %s: %v", other, err)
		}
	}

	participants, err := m.store.ListPrivateRoomParticipants(ctx, room)
	if err != nil {
		return fmt.Errorf("list private room %s: %w", room, err)
	}
	for _, participant := range participants {
		if participant.Address != address && participant.Status == storage.StatusDisconnected {
			return m.destroyPrivateRoom(ctx, room)
		}
	}

	if err := m.store.UpsertPrivateParticipant(ctx, storage.Participant{
		Address:         address,
		RoomName:        room,
		Status:          storage.StatusConnected,
		JoinedAt:        now,
		StatusUpdatedAt: now,
	}); err != nil {
		return fmt.Errorf("connect %s to %s: %w", address, room, err)
	}
	return nil
}

func (m *SessionManager) privateLeft(ctx context.Context, e roomservice.ParticipantLeft) error {
	switch e.Reason {
	case roomservice.LeaveDuplicate:
		return nil
	case roomservice.LeaveRoomDeleted:
		if _, err := m.store.DeletePrivateRoom(ctx, e.Room.Name); err != nil {
			return fmt.Errorf("delete private room %s: %w", e.Room.Name, err)
		}
		return nil
	}
	err := m.store.SetPrivateParticipantStatus(ctx, e.Room.Name, e.Identity, statusForLeave(e.Reason), m.now())
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("mark %s left %s: %w", e.Identity, e.Room.Name, err)
	}
	return nil
}

func (m *SessionManager) destroyPrivateRoom(ctx context.Context, room string) error {
	if err := m.rooms.DeleteRoom(ctx, room); err != nil {
		return err
	}
	addresses, err := m.store.DeletePrivateRoom(ctx, room)
	if err != nil {
		return fmt.Errorf("delete private room %s: %w", room, err)
	}
	m.fire(ctx, EventPrivateChatEnded, map[string]any{"room": room, "addresses": addresses})
	return nil
}

// IsUserInVoiceChat reports whether the address has a live private-room
// row. Rows older than the grace window are treated as expired without
// being deleted.
func (m *SessionManager) IsUserInVoiceChat(ctx context.Context, address string) (bool, error) {
	if m == nil || m.store == nil {
		return false, fmt.Errorf("session manager is not configured")
	}
	address = normalize(address)
	if address == "" {
		return false, apperrors.New(apperrors.CodeInvalidRequest, "address is required")
	}
	rows, err := m.store.ListPrivateParticipationsForAddress(ctx, address)
	if err != nil {
		return false, fmt.Errorf("list private participations: %w", err)
	}
	now := m.now()
	for _, row := range rows {
		if row.Status != storage.StatusConnected && row.Status != storage.StatusConnectionInterrupted {
			continue
		}
		since := row.StatusUpdatedAt
		if since.IsZero() {
			since = row.JoinedAt
		}
		if now.Sub(since) <= m.privateGrace {
			return true, nil
		}
	}
	return false, nil
}

// CreatePrivateVoiceChat issues credentials for the two peers of a new
// private room. Peers that are live in another private chat are rejected
// with CodeConflict.
func (m *SessionManager) CreatePrivateVoiceChat(ctx context.Context, roomID string, addresses []string) (map[string]string, error) {
	if m == nil || m.store == nil || m.credentials == nil {
		return nil, fmt.Errorf("session manager is not configured")
	}
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return nil, apperrors.New(apperrors.CodeInvalidRequest, "room id is required")
	}
	if len(addresses) != 2 {
		return nil, apperrors.New(apperrors.CodeInvalidRequest, "exactly two user addresses are required")
	}
	first, second := normalize(addresses[0]), normalize(addresses[1])
	if first == "" || second == "" || first == second {
		return nil, apperrors.New(apperrors.CodeInvalidRequest, "two distinct user addresses are required")
	}

	for _, address := range []string{first, second} {
		busy, err := m.IsUserInVoiceChat(ctx, address)
		if err != nil {
			return nil, err
		}
		if busy {
			return nil, apperrors.WithMetadata(apperrors.CodeConflict, "user is already in a voice chat", map[string]string{"address": address})
		}
	}

	room := roomservice.PrivateRoomName(roomID)
	grant := roomservice.Grant{CanPublish: true, CanSubscribe: true, CanPublishData: true, CanUpdateOwnMetadata: true}
	connections := make(map[string]string, 2)
	for _, address := range []string{first, second} {
		creds, err := m.credentials.Generate(address, room, grant, "")
		if err != nil {
			return nil, fmt.Errorf("generate credentials for %s: %w", address, err)
		}
		connections[address] = creds.ConnectionString()
	}
	return connections, nil
}

// EndPrivateVoiceChat deletes a private room in the room service and its
// rows, returning the addresses that were in it. Ending a room that no
// longer exists succeeds.
func (m *SessionManager) EndPrivateVoiceChat(ctx context.Context, roomID string) ([]string, error) {
	if m == nil || m.store == nil || m.rooms == nil {
		return nil, fmt.Errorf("session manager is not configured")
	}
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return nil, apperrors.New(apperrors.CodeInvalidRequest, "room id is required")
	}
	room := roomservice.PrivateRoomName(roomID)
	if err := m.rooms.DeleteRoom(ctx, room); err != nil {
		return nil, err
	}
	addresses, err := m.store.DeletePrivateRoom(ctx, room)
	if err != nil {
		return nil, fmt.Errorf("delete private room %s: %w", room, err)
	}
	m.fire(ctx, EventPrivateChatEnded, map[string]any{"room": room, "addresses": addresses})
	if addresses == nil {
		addresses = []string{}
	}
	return addresses, nil
}

func normalize(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}
