// Package roomservice adapts the media-room service: room naming, webhook
// event decoding, access token signing and the LiveKit API client.
package roomservice

import (
	"errors"
	"strings"

	"github.com/louisbranch/gatekeeper/internal/services/gatekeeper/domain/place"
)

// ErrUnknownRoom marks a room name that matches none of the known patterns.
var ErrUnknownRoom = errors.New("unknown room name pattern")

// RoomKind identifies which subsystem owns a room.
type RoomKind int

const (
	KindScene RoomKind = iota + 1
	KindWorld
	KindPreview
	KindPrivate
	KindCommunity
)

const (
	scenePrefix     = "scene-"
	worldPrefix     = "world-"
	previewPrefix   = "preview-"
	privatePrefix   = "voice-chat-private-"
	communityPrefix = "voice-chat-community-"
)

// String returns the lowercase kind name used in logs and metrics.
func (k RoomKind) String() string {
	switch k {
	case KindScene:
		return "scene"
	case KindWorld:
		return "world"
	case KindPreview:
		return "preview"
	case KindPrivate:
		return "private"
	case KindCommunity:
		return "community"
	default:
		return "unknown"
	}
}

// RoomRef is a parsed room name.
//
// ID is the scene id for scene and preview rooms, the world name for world
// rooms, the private room id and the community id for voice rooms.
type RoomRef struct {
	Kind       RoomKind
	Name       string
	ID         string
	Realm      string
	BaseParcel string
}

// IsVoice reports whether the room is a private or community voice room.
func (r RoomRef) IsVoice() bool {
	return r.Kind == KindPrivate || r.Kind == KindCommunity
}

// SceneRoomName names the room of a deployed scene in a realm.
func SceneRoomName(realm, sceneID, baseParcel string) string {
	return scenePrefix + strings.TrimSpace(realm) + ":" + strings.TrimSpace(sceneID) + ":" + place.NormalizeParcel(baseParcel)
}

// WorldRoomName names the room of a world.
func WorldRoomName(worldName string) string {
	return worldPrefix + place.NormalizeWorldName(worldName)
}

// PreviewRoomName names the room of a scene preview session.
func PreviewRoomName(sceneID string) string {
	return previewPrefix + strings.TrimSpace(sceneID)
}

// PrivateRoomName names a private 1:1 voice room.
func PrivateRoomName(roomID string) string {
	return privatePrefix + strings.TrimSpace(roomID)
}

// CommunityRoomName names the voice room of a community.
func CommunityRoomName(communityID string) string {
	return communityPrefix + strings.TrimSpace(communityID)
}

// ParseRoomName classifies a room name. Names outside the known patterns
// return ErrUnknownRoom.
func ParseRoomName(name string) (RoomRef, error) {
	name = strings.TrimSpace(name)
	ref := RoomRef{Name: name}

	if rest, ok := strings.CutPrefix(name, privatePrefix); ok && rest != "" {
		ref.Kind, ref.ID = KindPrivate, rest
		return ref, nil
	}
	if rest, ok := strings.CutPrefix(name, communityPrefix); ok && rest != "" {
		ref.Kind, ref.ID = KindCommunity, rest
		return ref, nil
	}
	if rest, ok := strings.CutPrefix(name, worldPrefix); ok && rest != "" {
		ref.Kind, ref.ID = KindWorld, rest
		return ref, nil
	}
	if rest, ok := strings.CutPrefix(name, previewPrefix); ok && rest != "" {
		ref.Kind, ref.ID = KindPreview, rest
		return ref, nil
	}
	if rest, ok := strings.CutPrefix(name, scenePrefix); ok {
		// Realm names may contain colons; scene ids and parcels never do.
		parcelAt := strings.LastIndex(rest, ":")
		if parcelAt <= 0 {
			return RoomRef{}, ErrUnknownRoom
		}
		sceneAt := strings.LastIndex(rest[:parcelAt], ":")
		if sceneAt <= 0 {
			return RoomRef{}, ErrUnknownRoom
		}
		ref.Kind = KindScene
		ref.Realm = rest[:sceneAt]
		ref.ID = rest[sceneAt+1 : parcelAt]
		ref.BaseParcel = rest[parcelAt+1:]
		if ref.ID == "" || ref.BaseParcel == "" {
			return RoomRef{}, ErrUnknownRoom
		}
		return ref, nil
	}
	return RoomRef{}, ErrUnknownRoom
}

// PlaceRoomName returns the deterministic room name of a world. Scene rooms
// embed the deployed scene id, so they are matched by base parcel instead;
// see MatchesPlace.
func PlaceRoomName(p place.Place) (string, bool) {
	if !p.IsWorld {
		return "", false
	}
	return WorldRoomName(p.WorldName), true
}

// MatchesPlace reports whether the room belongs to the given place.
func (r RoomRef) MatchesPlace(p place.Place) bool {
	switch r.Kind {
	case KindWorld:
		return p.IsWorld && r.ID == place.NormalizeWorldName(p.WorldName)
	case KindScene:
		return !p.IsWorld && r.BaseParcel == place.NormalizeParcel(p.BasePosition)
	default:
		return false
	}
}
