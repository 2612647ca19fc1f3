package voice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	apperrors "github.com/louisbranch/gatekeeper/internal/platform/errors"
	"github.com/louisbranch/gatekeeper/internal/services/gatekeeper/roomservice"
	"github.com/louisbranch/gatekeeper/internal/services/gatekeeper/storage"
)

// Participant metadata keys owned by the gatekeeper.
const (
	metadataRole       = "role"
	metadataMuted      = "muted"
	metadataRequesting = "isRequestingToSpeak"
)

// CommunityAction is how a user enters a community voice chat.
type CommunityAction string

const (
	// ActionCreate starts the chat with the caller as moderator.
	ActionCreate CommunityAction = "create"
	// ActionJoin enters a running chat as a listener.
	ActionJoin CommunityAction = "join"
)

// CommunityStatus summarizes a community voice chat.
type CommunityStatus struct {
	Active           bool
	ParticipantCount int
	ModeratorCount   int
}

func (m *SessionManager) communityJoined(ctx context.Context, e roomservice.ParticipantJoined) error {
	moderator := roomservice.RoleFromMetadata(e.Metadata) == roomservice.RoleModerator
	existing, err := m.store.GetCommunityParticipant(ctx, e.Room.Name, e.Identity)
	switch {
	case err == nil:
		moderator = moderator || existing.IsModerator
	case !errors.Is(err, storage.ErrNotFound):
		return fmt.Errorf("get community participant %s: %w", e.Identity, err)
	}

	now := m.now()
	if err := m.store.UpsertCommunityParticipant(ctx, storage.Participant{
		Address:         e.Identity,
		RoomName:        e.Room.Name,
		Status:          storage.StatusConnected,
		JoinedAt:        now,
		StatusUpdatedAt: now,
		IsModerator:     moderator,
	}); err != nil {
		return fmt.Errorf("connect %s to %s: %w", e.Identity, e.Room.Name, err)
	}
	return nil
}

// communityLeft records the departure. When the last connected moderator
// leaves, the room is destroyed.
func (m *SessionManager) communityLeft(ctx context.Context, e roomservice.ParticipantLeft) error {
	room := e.Room.Name
	switch e.Reason {
	case roomservice.LeaveDuplicate:
		return nil
	case roomservice.LeaveRoomDeleted:
		if _, err := m.store.DeleteCommunityRoom(ctx, room); err != nil {
			return fmt.Errorf("delete community room %s: %w", room, err)
		}
		return nil
	}

	participant, err := m.store.GetCommunityParticipant(ctx, room, e.Identity)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("get community participant %s: %w", e.Identity, err)
	}
	if err := m.store.SetCommunityParticipantStatus(ctx, room, e.Identity, statusForLeave(e.Reason), m.now()); err != nil {
		return fmt.Errorf("mark %s left %s: %w", e.Identity, room, err)
	}
	if !participant.IsModerator {
		return nil
	}

	remaining, err := m.store.CountConnectedModerators(ctx, room)
	if err != nil {
		return fmt.Errorf("count moderators of %s: %w", room, err)
	}
	if remaining > 0 {
		return nil
	}
	return m.destroyCommunityRoom(ctx, room)
}

func (m *SessionManager) destroyCommunityRoom(ctx context.Context, room string) error {
	if err := m.rooms.DeleteRoom(ctx, room); err != nil {
		return err
	}
	if _, err := m.store.DeleteCommunityRoom(ctx, room); err != nil {
		return fmt.Errorf("delete community room %s: %w", room, err)
	}
	return nil
}

// JoinCommunityVoiceChat issues credentials for a community voice chat.
// Creating makes the caller a moderator; joining requires a connected
// moderator and grants a listener seat.
func (m *SessionManager) JoinCommunityVoiceChat(ctx context.Context, communityID string, address string, action CommunityAction) (string, error) {
	if m == nil || m.store == nil || m.credentials == nil {
		return "", fmt.Errorf("session manager is not configured")
	}
	room, err := communityRoom(communityID)
	if err != nil {
		return "", err
	}
	address = normalize(address)
	if address == "" {
		return "", apperrors.New(apperrors.CodeInvalidRequest, "user address is required")
	}

	var (
		grant roomservice.Grant
		role  string
	)
	switch action {
	case ActionCreate:
		grant = roomservice.Grant{CanPublish: true, CanSubscribe: true, CanPublishData: true, CanUpdateOwnMetadata: true}
		role = roomservice.RoleModerator
	case ActionJoin:
		moderators, err := m.store.CountConnectedModerators(ctx, room)
		if err != nil {
			return "", fmt.Errorf("count moderators of %s: %w", room, err)
		}
		if moderators == 0 {
			return "", apperrors.New(apperrors.CodeNotFound, "community voice chat not found")
		}
		grant = roomservice.Grant{CanSubscribe: true, CanPublishData: true, CanUpdateOwnMetadata: true}
		role = roomservice.RoleListener
	default:
		return "", apperrors.New(apperrors.CodeInvalidRequest, "action must be create or join")
	}

	metadata, err := json.Marshal(map[string]string{metadataRole: role})
	if err != nil {
		return "", fmt.Errorf("encode participant metadata: %w", err)
	}
	creds, err := m.credentials.Generate(address, room, grant, string(metadata))
	if err != nil {
		return "", fmt.Errorf("generate credentials for %s: %w", address, err)
	}
	return creds.ConnectionString(), nil
}

// PromoteSpeaker lets a listener publish audio.
func (m *SessionManager) PromoteSpeaker(ctx context.Context, communityID string, caller string, target string) error {
	room, target, err := m.moderatorAction(ctx, communityID, caller, target)
	if err != nil {
		return err
	}
	if _, err := m.connectedParticipant(ctx, room, target); err != nil {
		return err
	}
	return m.updateParticipant(ctx, room, target, roomservice.ParticipantUpdate{
		Metadata:   map[string]any{metadataRole: roomservice.RoleSpeaker, metadataRequesting: false},
		Permission: &roomservice.ParticipantPermission{CanPublish: true, CanSubscribe: true, CanPublishData: true},
	})
}

// DemoteSpeaker turns a speaker back into a listener. Moderators cannot be
// demoted.
func (m *SessionManager) DemoteSpeaker(ctx context.Context, communityID string, caller string, target string) error {
	room, target, err := m.moderatorAction(ctx, communityID, caller, target)
	if err != nil {
		return err
	}
	participant, err := m.connectedParticipant(ctx, room, target)
	if err != nil {
		return err
	}
	if participant.IsModerator {
		return apperrors.New(apperrors.CodeInvalidRequest, "moderators cannot be demoted")
	}
	return m.updateParticipant(ctx, room, target, roomservice.ParticipantUpdate{
		Metadata:   map[string]any{metadataRole: roomservice.RoleListener},
		Permission: &roomservice.ParticipantPermission{CanSubscribe: true, CanPublishData: true},
	})
}

// MuteSpeaker toggles a participant's publish permission without changing
// its role. Participants may always mute themselves.
func (m *SessionManager) MuteSpeaker(ctx context.Context, communityID string, caller string, target string, muted bool) error {
	room, err := communityRoom(communityID)
	if err != nil {
		return err
	}
	caller, target = normalize(caller), normalize(target)
	if target == "" {
		return apperrors.New(apperrors.CodeInvalidRequest, "target address is required")
	}
	if caller != target {
		if err := m.requireModerator(ctx, room, caller); err != nil {
			return err
		}
	}
	if _, err := m.connectedParticipant(ctx, room, target); err != nil {
		return err
	}
	return m.updateParticipant(ctx, room, target, roomservice.ParticipantUpdate{
		Metadata:   map[string]any{metadataMuted: muted},
		Permission: &roomservice.ParticipantPermission{CanPublish: !muted, CanSubscribe: true, CanPublishData: true},
	})
}

// KickPlayer removes a participant from the room. Moderators cannot be kicked.
func (m *SessionManager) KickPlayer(ctx context.Context, communityID string, caller string, target string) error {
	room, target, err := m.moderatorAction(ctx, communityID, caller, target)
	if err != nil {
		return err
	}
	participant, err := m.connectedParticipant(ctx, room, target)
	if err != nil {
		return err
	}
	if participant.IsModerator {
		return apperrors.New(apperrors.CodeInvalidRequest, "moderators cannot be kicked")
	}
	if err := m.rooms.RemoveParticipant(ctx, room, target); err != nil {
		return err
	}
	if err := m.store.SetCommunityParticipantStatus(ctx, room, target, storage.StatusDisconnected, m.now()); err != nil {
		return fmt.Errorf("mark %s kicked from %s: %w", target, room, err)
	}
	return nil
}

// RequestToSpeak raises or lowers the caller's hand.
func (m *SessionManager) RequestToSpeak(ctx context.Context, communityID string, caller string, requesting bool) error {
	room, err := communityRoom(communityID)
	if err != nil {
		return err
	}
	caller = normalize(caller)
	if _, err := m.connectedParticipant(ctx, room, caller); err != nil {
		return err
	}
	return m.updateParticipant(ctx, room, caller, roomservice.ParticipantUpdate{
		Metadata: map[string]any{metadataRequesting: requesting},
	})
}

// EndCommunityVoiceChat destroys the room. Only a connected moderator may end it.
func (m *SessionManager) EndCommunityVoiceChat(ctx context.Context, communityID string, caller string) error {
	room, err := communityRoom(communityID)
	if err != nil {
		return err
	}
	if err := m.requireModerator(ctx, room, normalize(caller)); err != nil {
		return err
	}
	return m.destroyCommunityRoom(ctx, room)
}

// GetCommunityVoiceChatStatus counts connected participants and moderators.
// A chat is active while at least one moderator is connected.
func (m *SessionManager) GetCommunityVoiceChatStatus(ctx context.Context, communityID string) (CommunityStatus, error) {
	if m == nil || m.store == nil {
		return CommunityStatus{}, fmt.Errorf("session manager is not configured")
	}
	room, err := communityRoom(communityID)
	if err != nil {
		return CommunityStatus{}, err
	}
	rows, err := m.store.ListCommunityRoomParticipants(ctx, room)
	if err != nil {
		return CommunityStatus{}, fmt.Errorf("list community room %s: %w", room, err)
	}
	var status CommunityStatus
	for _, row := range rows {
		if row.Status != storage.StatusConnected {
			continue
		}
		status.ParticipantCount++
		if row.IsModerator {
			status.ModeratorCount++
		}
	}
	status.Active = status.ModeratorCount > 0
	return status, nil
}

func (m *SessionManager) moderatorAction(ctx context.Context, communityID string, caller string, target string) (string, string, error) {
	if m == nil || m.store == nil || m.rooms == nil {
		return "", "", fmt.Errorf("session manager is not configured")
	}
	room, err := communityRoom(communityID)
	if err != nil {
		return "", "", err
	}
	target = normalize(target)
	if target == "" {
		return "", "", apperrors.New(apperrors.CodeInvalidRequest, "target address is required")
	}
	if err := m.requireModerator(ctx, room, normalize(caller)); err != nil {
		return "", "", err
	}
	return room, target, nil
}

func (m *SessionManager) requireModerator(ctx context.Context, room string, caller string) error {
	if caller == "" {
		return apperrors.New(apperrors.CodeUnauthorized, "authentication required")
	}
	participant, err := m.store.GetCommunityParticipant(ctx, room, caller)
	if errors.Is(err, storage.ErrNotFound) {
		return apperrors.New(apperrors.CodeUnauthorized, "only moderators can perform this action")
	}
	if err != nil {
		return fmt.Errorf("get community participant %s: %w", caller, err)
	}
	if !participant.IsModerator || participant.Status != storage.StatusConnected {
		return apperrors.New(apperrors.CodeUnauthorized, "only moderators can perform this action")
	}
	return nil
}

func (m *SessionManager) connectedParticipant(ctx context.Context, room string, address string) (storage.Participant, error) {
	participant, err := m.store.GetCommunityParticipant(ctx, room, address)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.Participant{}, apperrors.New(apperrors.CodeNotFound, "user is not in the voice chat")
	}
	if err != nil {
		return storage.Participant{}, fmt.Errorf("get community participant %s: %w", address, err)
	}
	if participant.Status != storage.StatusConnected {
		return storage.Participant{}, apperrors.New(apperrors.CodeNotFound, "user is not in the voice chat")
	}
	return participant, nil
}

func (m *SessionManager) updateParticipant(ctx context.Context, room string, address string, update roomservice.ParticipantUpdate) error {
	err := m.rooms.UpdateParticipant(ctx, room, address, update)
	if errors.Is(err, roomservice.ErrParticipantNotFound) {
		return apperrors.Wrap(apperrors.CodeNotFound, "user is not in the voice chat", err)
	}
	return err
}

func communityRoom(communityID string) (string, error) {
	communityID = strings.TrimSpace(communityID)
	if communityID == "" {
		return "", apperrors.New(apperrors.CodeInvalidRequest, "community id is required")
	}
	return roomservice.CommunityRoomName(communityID), nil
}
