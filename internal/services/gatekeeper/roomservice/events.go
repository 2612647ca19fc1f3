package roomservice

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/livekit/protocol/livekit"
)

// ErrUnsupportedEvent marks a webhook event the gatekeeper does not act on.
var ErrUnsupportedEvent = errors.New("unsupported room event")

const (
	eventRoomStarted       = "room_started"
	eventRoomFinished      = "room_finished"
	eventParticipantJoined = "participant_joined"
	eventParticipantLeft   = "participant_left"
	eventIngressStarted    = "ingress_started"
	eventIngressEnded      = "ingress_ended"
)

// Event is a decoded room-service event. The set of implementations is
// closed: ParticipantJoined, ParticipantLeft, RoomStarted, RoomFinished,
// IngressStarted and IngressEnded.
type Event interface {
	// Type returns the wire event name.
	Type() string
	isEvent()
}

// LeaveReason classifies why a participant left a room.
type LeaveReason int

const (
	// LeaveInvoluntary covers timeouts, migrations and every unmapped reason.
	LeaveInvoluntary LeaveReason = iota
	// LeaveVoluntary is a client-initiated leave or a server-side removal.
	LeaveVoluntary
	// LeaveDuplicate means a newer session with the same identity replaced this one.
	LeaveDuplicate
	// LeaveRoomDeleted means the whole room was torn down.
	LeaveRoomDeleted
)

// String returns the reason name used in logs.
func (r LeaveReason) String() string {
	switch r {
	case LeaveVoluntary:
		return "voluntary"
	case LeaveDuplicate:
		return "duplicate_identity"
	case LeaveRoomDeleted:
		return "room_deleted"
	default:
		return "involuntary"
	}
}

// ParticipantJoined reports an identity joining a room.
type ParticipantJoined struct {
	Room     RoomRef
	Identity string
	Metadata string
}

// ParticipantLeft reports an identity leaving a room.
type ParticipantLeft struct {
	Room     RoomRef
	Identity string
	Metadata string
	Reason   LeaveReason
}

// RoomStarted reports a room being created on the room service.
type RoomStarted struct {
	Room RoomRef
}

// RoomFinished reports a room being closed on the room service.
type RoomFinished struct {
	Room RoomRef
}

// IngressStarted reports an ingress starting to receive media.
type IngressStarted struct {
	IngressID string
	RoomName  string
}

// IngressEnded reports an ingress that stopped receiving media.
type IngressEnded struct {
	IngressID string
	RoomName  string
}

func (ParticipantJoined) Type() string { return eventParticipantJoined }
func (ParticipantLeft) Type() string   { return eventParticipantLeft }
func (RoomStarted) Type() string       { return eventRoomStarted }
func (RoomFinished) Type() string      { return eventRoomFinished }
func (IngressStarted) Type() string    { return eventIngressStarted }
func (IngressEnded) Type() string      { return eventIngressEnded }

func (ParticipantJoined) isEvent() {}
func (ParticipantLeft) isEvent()   {}
func (RoomStarted) isEvent()       {}
func (RoomFinished) isEvent()      {}
func (IngressStarted) isEvent()    {}
func (IngressEnded) isEvent()      {}

// LeaveReasonFrom maps a room-service disconnect reason.
func LeaveReasonFrom(reason livekit.DisconnectReason) LeaveReason {
	switch reason {
	case livekit.DisconnectReason_CLIENT_INITIATED, livekit.DisconnectReason_PARTICIPANT_REMOVED:
		return LeaveVoluntary
	case livekit.DisconnectReason_DUPLICATE_IDENTITY:
		return LeaveDuplicate
	case livekit.DisconnectReason_ROOM_DELETED, livekit.DisconnectReason_ROOM_CLOSED:
		return LeaveRoomDeleted
	default:
		return LeaveInvoluntary
	}
}

// DecodeEvent turns a verified webhook payload into an Event. Rooms that
// match no known naming pattern return ErrUnknownRoom; event types the
// gatekeeper ignores return ErrUnsupportedEvent.
func DecodeEvent(ev *livekit.WebhookEvent) (Event, error) {
	if ev == nil {
		return nil, fmt.Errorf("webhook event is required")
	}

	switch ev.GetEvent() {
	case eventIngressStarted, eventIngressEnded:
		info := ev.GetIngressInfo()
		if info == nil || strings.TrimSpace(info.GetIngressId()) == "" {
			return nil, fmt.Errorf("%s: ingress is required", ev.GetEvent())
		}
		if ev.GetEvent() == eventIngressStarted {
			return IngressStarted{IngressID: info.GetIngressId(), RoomName: info.GetRoomName()}, nil
		}
		return IngressEnded{IngressID: info.GetIngressId(), RoomName: info.GetRoomName()}, nil
	case eventRoomStarted, eventRoomFinished, eventParticipantJoined, eventParticipantLeft:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedEvent, ev.GetEvent())
	}

	if ev.GetRoom() == nil {
		return nil, fmt.Errorf("%s: room is required", ev.GetEvent())
	}
	ref, err := ParseRoomName(ev.GetRoom().GetName())
	if err != nil {
		return nil, fmt.Errorf("%s %q: %w", ev.GetEvent(), ev.GetRoom().GetName(), err)
	}

	switch ev.GetEvent() {
	case eventRoomStarted:
		return RoomStarted{Room: ref}, nil
	case eventRoomFinished:
		return RoomFinished{Room: ref}, nil
	}

	participant := ev.GetParticipant()
	if participant == nil || strings.TrimSpace(participant.GetIdentity()) == "" {
		return nil, fmt.Errorf("%s: participant is required", ev.GetEvent())
	}
	identity := strings.ToLower(strings.TrimSpace(participant.GetIdentity()))
	if ev.GetEvent() == eventParticipantJoined {
		return ParticipantJoined{Room: ref, Identity: identity, Metadata: participant.GetMetadata()}, nil
	}
	return ParticipantLeft{
		Room:     ref,
		Identity: identity,
		Metadata: participant.GetMetadata(),
		Reason:   LeaveReasonFrom(participant.GetDisconnectReason()),
	}, nil
}

// Community roles carried in participant metadata.
const (
	RoleModerator = "moderator"
	RoleSpeaker   = "speaker"
	RoleListener  = "listener"
)

type participantMetadata struct {
	Role string `json:"role"`
}

// RoleFromMetadata extracts the community role from participant metadata.
// Missing or malformed metadata yields an empty role.
func RoleFromMetadata(metadata string) string {
	metadata = strings.TrimSpace(metadata)
	if metadata == "" {
		return ""
	}
	var parsed participantMetadata
	if err := json.Unmarshal([]byte(metadata), &parsed); err != nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(parsed.Role))
}
