package roomservice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/louisbranch/gatekeeper/internal/platform/timeouts"
	"github.com/louisbranch/gatekeeper/internal/services/gatekeeper/domain/place"
	"github.com/twitchtv/twirp"
)

// ErrParticipantNotFound marks an update aimed at an identity that is not
// in the room.
var ErrParticipantNotFound = errors.New("participant not found in room")

// Participant is one identity currently in a room.
type Participant struct {
	Identity   string
	Metadata   string
	CanPublish bool
}

// RoomInfo describes a live room.
type RoomInfo struct {
	Name            string
	NumParticipants int
	Metadata        string
}

// Ingress is an RTMP ingress endpoint bound to a room.
type Ingress struct {
	ID        string
	URL       string
	StreamKey string
}

// ParticipantPermission is the publish/subscribe capability of a participant.
type ParticipantPermission struct {
	CanPublish     bool
	CanSubscribe   bool
	CanPublishData bool
}

// ParticipantUpdate changes metadata keys and, when Permission is set, the
// capabilities of a participant. Metadata keys are merged into the existing
// JSON object.
type ParticipantUpdate struct {
	Metadata   map[string]any
	Permission *ParticipantPermission
}

// RoomMetadata is the gatekeeper-owned part of a room's metadata.
type RoomMetadata struct {
	BannedAddresses []string
}

type roomAPI interface {
	ListRooms(ctx context.Context, req *livekit.ListRoomsRequest) (*livekit.ListRoomsResponse, error)
	DeleteRoom(ctx context.Context, req *livekit.DeleteRoomRequest) (*livekit.DeleteRoomResponse, error)
	ListParticipants(ctx context.Context, req *livekit.ListParticipantsRequest) (*livekit.ListParticipantsResponse, error)
	GetParticipant(ctx context.Context, req *livekit.RoomParticipantIdentity) (*livekit.ParticipantInfo, error)
	RemoveParticipant(ctx context.Context, req *livekit.RoomParticipantIdentity) (*livekit.RemoveParticipantResponse, error)
	UpdateParticipant(ctx context.Context, req *livekit.UpdateParticipantRequest) (*livekit.ParticipantInfo, error)
	UpdateRoomMetadata(ctx context.Context, req *livekit.UpdateRoomMetadataRequest) (*livekit.Room, error)
}

type ingressAPI interface {
	CreateIngress(ctx context.Context, req *livekit.CreateIngressRequest) (*livekit.IngressInfo, error)
	ListIngress(ctx context.Context, req *livekit.ListIngressRequest) (*livekit.ListIngressResponse, error)
	DeleteIngress(ctx context.Context, req *livekit.DeleteIngressRequest) (*livekit.IngressInfo, error)
}

// LiveKitConfig configures the LiveKit API client.
type LiveKitConfig struct {
	Host       string
	APIKey     string
	APISecret  string
	IngressURL string
	Timeout    time.Duration
}

// LiveKit is the room-service client used by the domain packages. Every
// call is bounded by the configured timeout.
type LiveKit struct {
	rooms      roomAPI
	ingress    ingressAPI
	ingressURL string
	timeout    time.Duration
}

// NewLiveKit builds a client for the configured project.
func NewLiveKit(cfg LiveKitConfig) (*LiveKit, error) {
	host := strings.TrimSpace(cfg.Host)
	if host == "" {
		return nil, fmt.Errorf("room service host is required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" || strings.TrimSpace(cfg.APISecret) == "" {
		return nil, fmt.Errorf("room service api key and secret are required")
	}
	return newLiveKit(
		lksdk.NewRoomServiceClient(host, cfg.APIKey, cfg.APISecret),
		lksdk.NewIngressClient(host, cfg.APIKey, cfg.APISecret),
		cfg.IngressURL,
		cfg.Timeout,
	), nil
}

func newLiveKit(rooms roomAPI, ingress ingressAPI, ingressURL string, timeout time.Duration) *LiveKit {
	if timeout <= 0 {
		timeout = timeouts.RoomService
	}
	return &LiveKit{
		rooms:      rooms,
		ingress:    ingress,
		ingressURL: strings.TrimSpace(ingressURL),
		timeout:    timeout,
	}
}

func (l *LiveKit) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, l.timeout)
}

// DeleteRoom deletes a room. Deleting a missing room succeeds.
func (l *LiveKit) DeleteRoom(ctx context.Context, room string) error {
	ctx, cancel := l.bounded(ctx)
	defer cancel()
	_, err := l.rooms.DeleteRoom(ctx, &livekit.DeleteRoomRequest{Room: room})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("delete room %s: %w", room, err)
	}
	return nil
}

// GetRoomInfo returns a live room. The boolean is false when the room is
// not running.
func (l *LiveKit) GetRoomInfo(ctx context.Context, room string) (RoomInfo, bool, error) {
	ctx, cancel := l.bounded(ctx)
	defer cancel()
	resp, err := l.rooms.ListRooms(ctx, &livekit.ListRoomsRequest{Names: []string{room}})
	if err != nil {
		return RoomInfo{}, false, fmt.Errorf("get room %s: %w", room, err)
	}
	for _, info := range resp.GetRooms() {
		if info.GetName() == room {
			return roomInfoFrom(info), true, nil
		}
	}
	return RoomInfo{}, false, nil
}

// RoomsForPlace lists the live rooms that belong to a place. Worlds map to
// a single deterministic room; scene rooms are matched by base parcel.
func (l *LiveKit) RoomsForPlace(ctx context.Context, p place.Place) ([]string, error) {
	if name, ok := PlaceRoomName(p); ok {
		return []string{name}, nil
	}
	ctx, cancel := l.bounded(ctx)
	defer cancel()
	resp, err := l.rooms.ListRooms(ctx, &livekit.ListRoomsRequest{})
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	var names []string
	for _, info := range resp.GetRooms() {
		ref, err := ParseRoomName(info.GetName())
		if err != nil {
			continue
		}
		if ref.MatchesPlace(p) {
			names = append(names, ref.Name)
		}
	}
	return names, nil
}

// ListRoomParticipants lists the identities in a room. A missing room has
// no participants.
func (l *LiveKit) ListRoomParticipants(ctx context.Context, room string) ([]Participant, error) {
	ctx, cancel := l.bounded(ctx)
	defer cancel()
	resp, err := l.rooms.ListParticipants(ctx, &livekit.ListParticipantsRequest{Room: room})
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list participants %s: %w", room, err)
	}
	participants := make([]Participant, 0, len(resp.GetParticipants()))
	for _, info := range resp.GetParticipants() {
		participants = append(participants, participantFrom(info))
	}
	return participants, nil
}

// RemoveParticipant kicks an identity from a room. Removing an identity
// that is not in the room succeeds.
func (l *LiveKit) RemoveParticipant(ctx context.Context, room string, identity string) error {
	ctx, cancel := l.bounded(ctx)
	defer cancel()
	_, err := l.rooms.RemoveParticipant(ctx, &livekit.RoomParticipantIdentity{Room: room, Identity: identity})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("remove participant %s from %s: %w", identity, room, err)
	}
	return nil
}

// UpdateParticipant merges metadata keys and applies permissions.
func (l *LiveKit) UpdateParticipant(ctx context.Context, room string, identity string, update ParticipantUpdate) error {
	ctx, cancel := l.bounded(ctx)
	defer cancel()

	req := &livekit.UpdateParticipantRequest{Room: room, Identity: identity}
	if len(update.Metadata) > 0 {
		current, err := l.rooms.GetParticipant(ctx, &livekit.RoomParticipantIdentity{Room: room, Identity: identity})
		if err != nil {
			if isNotFound(err) {
				return ErrParticipantNotFound
			}
			return fmt.Errorf("get participant %s in %s: %w", identity, room, err)
		}
		metadata, err := mergeMetadata(current.GetMetadata(), update.Metadata)
		if err != nil {
			return fmt.Errorf("merge participant metadata: %w", err)
		}
		req.Metadata = metadata
	}
	if update.Permission != nil {
		req.Permission = &livekit.ParticipantPermission{
			CanPublish:        update.Permission.CanPublish,
			CanSubscribe:      update.Permission.CanSubscribe,
			CanPublishData:    update.Permission.CanPublishData,
			CanUpdateMetadata: true,
		}
	}
	if _, err := l.rooms.UpdateParticipant(ctx, req); err != nil {
		if isNotFound(err) {
			return ErrParticipantNotFound
		}
		return fmt.Errorf("update participant %s in %s: %w", identity, room, err)
	}
	return nil
}

// UpdateRoomMetadata writes the gatekeeper keys into a room's metadata,
// keeping keys owned by other writers. A room that is not running is left
// alone; its metadata is pushed again when it starts.
func (l *LiveKit) UpdateRoomMetadata(ctx context.Context, room string, metadata RoomMetadata) error {
	info, ok, err := l.GetRoomInfo(ctx, room)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	banned := metadata.BannedAddresses
	if banned == nil {
		banned = []string{}
	}
	merged, err := mergeMetadata(info.Metadata, map[string]any{"bannedAddresses": banned})
	if err != nil {
		return fmt.Errorf("merge room metadata: %w", err)
	}

	ctx, cancel := l.bounded(ctx)
	defer cancel()
	if _, err := l.rooms.UpdateRoomMetadata(ctx, &livekit.UpdateRoomMetadataRequest{Room: room, Metadata: merged}); err != nil {
		if isNotFound(err) {
			return nil
		}
		return fmt.Errorf("update room metadata %s: %w", room, err)
	}
	return nil
}

// GetOrCreateIngress returns the RTMP ingress of identity in room, creating
// it when missing.
func (l *LiveKit) GetOrCreateIngress(ctx context.Context, room string, identity string) (Ingress, error) {
	ctx, cancel := l.bounded(ctx)
	defer cancel()

	resp, err := l.ingress.ListIngress(ctx, &livekit.ListIngressRequest{RoomName: room})
	if err != nil {
		return Ingress{}, fmt.Errorf("list ingress %s: %w", room, err)
	}
	for _, info := range resp.GetItems() {
		if strings.EqualFold(info.GetParticipantIdentity(), identity) {
			return l.ingressFrom(info), nil
		}
	}

	return l.createIngress(ctx, room, identity)
}

// CreateIngress always creates a new ingress. Reset uses it so credentials
// rotate even when a stale ingress for the identity still exists.
func (l *LiveKit) CreateIngress(ctx context.Context, room string, identity string) (Ingress, error) {
	ctx, cancel := l.bounded(ctx)
	defer cancel()
	return l.createIngress(ctx, room, identity)
}

func (l *LiveKit) createIngress(ctx context.Context, room string, identity string) (Ingress, error) {
	info, err := l.ingress.CreateIngress(ctx, &livekit.CreateIngressRequest{
		InputType:           livekit.IngressInput_RTMP_INPUT,
		Name:                room + "-" + identity,
		RoomName:            room,
		ParticipantIdentity: identity,
		ParticipantName:     identity,
	})
	if err != nil {
		return Ingress{}, fmt.Errorf("create ingress %s: %w", room, err)
	}
	return l.ingressFrom(info), nil
}

// RemoveIngress deletes an ingress. Removing a missing ingress succeeds.
func (l *LiveKit) RemoveIngress(ctx context.Context, ingressID string) error {
	ctx, cancel := l.bounded(ctx)
	defer cancel()
	_, err := l.ingress.DeleteIngress(ctx, &livekit.DeleteIngressRequest{IngressId: ingressID})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("remove ingress %s: %w", ingressID, err)
	}
	return nil
}

func (l *LiveKit) ingressFrom(info *livekit.IngressInfo) Ingress {
	ingressURL := info.GetUrl()
	if l.ingressURL != "" {
		ingressURL = l.ingressURL
	}
	return Ingress{ID: info.GetIngressId(), URL: ingressURL, StreamKey: info.GetStreamKey()}
}

func roomInfoFrom(info *livekit.Room) RoomInfo {
	return RoomInfo{
		Name:            info.GetName(),
		NumParticipants: int(info.GetNumParticipants()),
		Metadata:        info.GetMetadata(),
	}
}

func participantFrom(info *livekit.ParticipantInfo) Participant {
	return Participant{
		Identity:   strings.ToLower(info.GetIdentity()),
		Metadata:   info.GetMetadata(),
		CanPublish: info.GetPermission().GetCanPublish(),
	}
}

func mergeMetadata(existing string, updates map[string]any) (string, error) {
	merged := map[string]any{}
	if strings.TrimSpace(existing) != "" {
		// Foreign metadata that is not a JSON object is replaced.
		if err := json.Unmarshal([]byte(existing), &merged); err != nil {
			merged = map[string]any{}
		}
	}
	for key, value := range updates {
		merged[key] = value
	}
	data, err := json.Marshal(merged)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func isNotFound(err error) bool {
	var twerr twirp.Error
	return errors.As(err, &twerr) && twerr.Code() == twirp.NotFound
}
