// Package voice keeps per-room participant state for private and community
// voice chats in step with room-service events.
//
// Events may arrive duplicated or out of order. Every handler is a status
// write on a (address, room) row or a whole-room delete, so replaying an
// event converges on the same rows.
package voice

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/louisbranch/gatekeeper/internal/services/gatekeeper/roomservice"
	"github.com/louisbranch/gatekeeper/internal/services/gatekeeper/storage"
)

// DefaultPrivateGrace is how long a private-room row counts as live after
// its last status change.
const DefaultPrivateGrace = time.Hour

// EventPrivateChatEnded is the analytics event fired when a private room
// is torn down.
const EventPrivateChatEnded = "private_voice_chat_ended"

// Store persists private and community participant rows.
type Store interface {
	storage.PrivateVoiceStore
	storage.CommunityVoiceStore
}

// Rooms is the room-service surface used for voice rooms.
type Rooms interface {
	DeleteRoom(ctx context.Context, room string) error
	RemoveParticipant(ctx context.Context, room string, identity string) error
	UpdateParticipant(ctx context.Context, room string, identity string, update roomservice.ParticipantUpdate) error
}

// CredentialIssuer signs room tokens.
type CredentialIssuer interface {
	Generate(identity, room string, grant roomservice.Grant, metadata string) (roomservice.Credentials, error)
}

// BanRefresher pushes a place's ban list into a starting scene or world room.
type BanRefresher interface {
	RefreshRoomBans(ctx context.Context, ref roomservice.RoomRef) error
}

// Analytics receives fire-and-forget events.
type Analytics interface {
	FireEvent(ctx context.Context, name string, payload map[string]any)
}

// Config tunes session policy.
type Config struct {
	PrivateGrace time.Duration
}

// Deps wires the manager collaborators. Bans and Analytics are optional.
type Deps struct {
	Store       Store
	Rooms       Rooms
	Credentials CredentialIssuer
	Bans        BanRefresher
	Analytics   Analytics
	Clock       func() time.Time
}

// SessionManager applies the participant state machine.
type SessionManager struct {
	store        Store
	rooms        Rooms
	credentials  CredentialIssuer
	bans         BanRefresher
	analytics    Analytics
	clock        func() time.Time
	privateGrace time.Duration
}

// NewSessionManager builds a session manager.
func NewSessionManager(cfg Config, deps Deps) *SessionManager {
	if cfg.PrivateGrace <= 0 {
		cfg.PrivateGrace = DefaultPrivateGrace
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	return &SessionManager{
		store:        deps.Store,
		rooms:        deps.Rooms,
		credentials:  deps.Credentials,
		bans:         deps.Bans,
		analytics:    deps.Analytics,
		clock:        deps.Clock,
		privateGrace: cfg.PrivateGrace,
	}
}

// HandleEvent applies one decoded room-service event. Ingress events are
// not session events and are ignored here.
func (m *SessionManager) HandleEvent(ctx context.Context, event roomservice.Event) error {
	if m == nil || m.store == nil || m.rooms == nil {
		return fmt.Errorf("session manager is not configured")
	}
	switch e := event.(type) {
	case roomservice.ParticipantJoined:
		switch e.Room.Kind {
		case roomservice.KindPrivate:
			return m.privateJoined(ctx, e)
		case roomservice.KindCommunity:
			return m.communityJoined(ctx, e)
		}
	case roomservice.ParticipantLeft:
		switch e.Room.Kind {
		case roomservice.KindPrivate:
			return m.privateLeft(ctx, e)
		case roomservice.KindCommunity:
			return m.communityLeft(ctx, e)
		}
	case roomservice.RoomStarted:
		if e.Room.Kind != roomservice.KindScene && e.Room.Kind != roomservice.KindWorld {
			return nil
		}
		if m.bans == nil {
			return nil
		}
		return m.bans.RefreshRoomBans(ctx, e.Room)
	case roomservice.RoomFinished:
		log.Printf("voice: room %s finished", e.Room.Name)
	}
	return nil
}

func (m *SessionManager) now() time.Time {
	return m.clock().UTC()
}

func (m *SessionManager) fire(ctx context.Context, name string, payload map[string]any) {
	if m.analytics != nil {
		m.analytics.FireEvent(ctx, name, payload)
	}
}

func statusForLeave(reason roomservice.LeaveReason) storage.ParticipantStatus {
	if reason == roomservice.LeaveVoluntary {
		return storage.StatusDisconnected
	}
	return storage.StatusConnectionInterrupted
}
