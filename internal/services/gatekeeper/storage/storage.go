// Package storage defines the persisted records of the gatekeeper and the
// store contracts the domain packages depend on.
package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound indicates a requested record is missing.
	ErrNotFound = errors.New("record not found")
	// ErrConflict indicates a write conflicts with a uniqueness constraint.
	ErrConflict = errors.New("record conflict")
)

// SceneAdmin is one admin grant on a place. Revoked grants stay with
// Active=false so history is preserved.
type SceneAdmin struct {
	ID        string
	PlaceID   string
	Admin     string
	AddedBy   string
	Active    bool
	CreatedAt time.Time
}

// AdminFilter narrows active admin listings. Admin is optional.
type AdminFilter struct {
	PlaceID string
	Admin   string
}

// SceneBan is one ban of an address from a place.
type SceneBan struct {
	ID            string
	PlaceID       string
	BannedAddress string
	BannedBy      string
	BannedAt      time.Time
}

// Page bounds a listing. Zero Limit means no limit.
type Page struct {
	Limit  int
	Offset int
}

// StreamAccess is the single streaming ingress credential row of a place.
type StreamAccess struct {
	ID                 string
	PlaceID            string
	StreamingURL       string
	StreamingKey       string
	IngressID          string
	CreatedAt          time.Time
	Active             bool
	Streaming          bool
	StreamingStartedAt *time.Time
	ExpirationTime     *time.Time
}

// ParticipantStatus is the connection state of one participant row.
type ParticipantStatus string

const (
	// StatusConnected means the participant is in the room.
	StatusConnected ParticipantStatus = "connected"
	// StatusDisconnected means the participant left voluntarily.
	StatusDisconnected ParticipantStatus = "disconnected"
	// StatusConnectionInterrupted means the participant dropped involuntarily
	// and may come back within the grace window.
	StatusConnectionInterrupted ParticipantStatus = "connection_interrupted"
)

// Valid reports whether the status is one of the known states.
func (s ParticipantStatus) Valid() bool {
	switch s {
	case StatusConnected, StatusDisconnected, StatusConnectionInterrupted:
		return true
	default:
		return false
	}
}

// Participant is one (address, room) session row. IsModerator is only
// meaningful for community rooms.
type Participant struct {
	Address         string
	RoomName        string
	Status          ParticipantStatus
	JoinedAt        time.Time
	StatusUpdatedAt time.Time
	IsModerator     bool
}

// AdminStore persists scene admin grants.
type AdminStore interface {
	AddAdmin(ctx context.Context, admin SceneAdmin) error
	ListActiveAdmins(ctx context.Context, filter AdminFilter) ([]SceneAdmin, error)
	IsAdmin(ctx context.Context, placeID string, address string) (bool, error)
	RemoveAdmin(ctx context.Context, placeID string, address string) error
}

// BanStore persists scene bans.
type BanStore interface {
	// AddBan inserts the ban unless one already exists for the pair.
	// It reports whether a new row was written.
	AddBan(ctx context.Context, ban SceneBan) (bool, error)
	RemoveBan(ctx context.Context, placeID string, address string) error
	IsBanned(ctx context.Context, placeID string, address string) (bool, error)
	ListBans(ctx context.Context, placeID string, page Page) ([]SceneBan, error)
	ListBannedAddresses(ctx context.Context, placeID string) ([]string, error)
	CountBans(ctx context.Context, placeID string) (int, error)
	ListBannedPlaceIDs(ctx context.Context) ([]string, error)
	RemoveBansForPlaces(ctx context.Context, placeIDs []string) (int64, error)
}

// StreamAccessStore persists scene streaming access rows.
type StreamAccessStore interface {
	// PutStreamAccess inserts a row and returns ErrConflict when the place
	// already has one.
	PutStreamAccess(ctx context.Context, access StreamAccess) error
	GetStreamAccess(ctx context.Context, placeID string) (StreamAccess, error)
	GetStreamAccessByIngress(ctx context.Context, ingressID string) (StreamAccess, error)
	DeleteStreamAccess(ctx context.Context, placeID string) error
	ListExpiredStreamAccess(ctx context.Context, now time.Time) ([]StreamAccess, error)
	ListStreamingCreatedBefore(ctx context.Context, cutoff time.Time) ([]StreamAccess, error)
	SetStreaming(ctx context.Context, ingressID string, streaming bool, at time.Time) error
	DeactivateStreamAccess(ctx context.Context, ingressID string) error
}

// PrivateVoiceStore persists private (1:1) voice chat participant rows.
type PrivateVoiceStore interface {
	UpsertPrivateParticipant(ctx context.Context, participant Participant) error
	SetPrivateParticipantStatus(ctx context.Context, roomName string, address string, status ParticipantStatus, at time.Time) error
	ListPrivateRoomParticipants(ctx context.Context, roomName string) ([]Participant, error)
	ListPrivateRoomsForAddress(ctx context.Context, address string, status ParticipantStatus) ([]string, error)
	ListPrivateParticipationsForAddress(ctx context.Context, address string) ([]Participant, error)
	DeletePrivateRoom(ctx context.Context, roomName string) ([]string, error)
}

// CommunityVoiceStore persists community voice chat participant rows.
type CommunityVoiceStore interface {
	UpsertCommunityParticipant(ctx context.Context, participant Participant) error
	SetCommunityParticipantStatus(ctx context.Context, roomName string, address string, status ParticipantStatus, at time.Time) error
	GetCommunityParticipant(ctx context.Context, roomName string, address string) (Participant, error)
	ListCommunityRoomParticipants(ctx context.Context, roomName string) ([]Participant, error)
	CountConnectedModerators(ctx context.Context, roomName string) (int, error)
	DeleteCommunityRoom(ctx context.Context, roomName string) ([]string, error)
}

// Store aggregates every gatekeeper persistence contract.
type Store interface {
	AdminStore
	BanStore
	StreamAccessStore
	PrivateVoiceStore
	CommunityVoiceStore
	Close() error
}
