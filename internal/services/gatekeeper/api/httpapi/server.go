// Package httpapi exposes the access gate over HTTP: scene admins and bans,
// streaming access, voice chats, scene credentials and the room-service
// webhook.
package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/louisbranch/gatekeeper/internal/platform/telemetry/metrics"
	"github.com/louisbranch/gatekeeper/internal/services/gatekeeper/domain/moderation"
	"github.com/louisbranch/gatekeeper/internal/services/gatekeeper/domain/place"
	"github.com/louisbranch/gatekeeper/internal/services/gatekeeper/domain/sceneroom"
	"github.com/louisbranch/gatekeeper/internal/services/gatekeeper/domain/streaming"
	"github.com/louisbranch/gatekeeper/internal/services/gatekeeper/domain/voice"
	"github.com/louisbranch/gatekeeper/internal/services/gatekeeper/roomservice"
	"github.com/louisbranch/gatekeeper/internal/services/gatekeeper/storage"
)

// DefaultIdentityHeader carries the address authenticated by the signature
// verifier in front of the gate.
const DefaultIdentityHeader = "X-Identity-Address"

// Places resolves the place a request addresses.
type Places interface {
	GetPlaceByParcel(ctx context.Context, parcel string) (place.Place, error)
	GetPlaceByWorldName(ctx context.Context, worldName string) (place.Place, error)
}

// Moderation manages admins and bans of a place.
type Moderation interface {
	ListAdmins(ctx context.Context, p place.Place, caller string, filterAdmin string) ([]moderation.AdminView, error)
	AddAdmin(ctx context.Context, p place.Place, caller string, target moderation.Target) (storage.SceneAdmin, error)
	RemoveAdmin(ctx context.Context, p place.Place, caller string, target moderation.Target) error
	ListBans(ctx context.Context, p place.Place, caller string, page storage.Page) (moderation.BanPage, error)
	ListBannedAddresses(ctx context.Context, p place.Place, caller string) ([]string, error)
	AddBan(ctx context.Context, p place.Place, caller string, target moderation.Target) error
	RemoveBan(ctx context.Context, p place.Place, caller string, target moderation.Target) error
}

// Streaming manages streaming access of a place.
type Streaming interface {
	GetOrCreate(ctx context.Context, req streaming.Request) (streaming.AccessView, error)
	Reset(ctx context.Context, req streaming.Request) (streaming.AccessView, error)
	Revoke(ctx context.Context, req streaming.Request) error
	SetStreaming(ctx context.Context, ingressID string, streaming bool) error
}

// Sessions applies room events and manages voice chats.
type Sessions interface {
	HandleEvent(ctx context.Context, event roomservice.Event) error
	IsUserInVoiceChat(ctx context.Context, address string) (bool, error)
	CreatePrivateVoiceChat(ctx context.Context, roomID string, addresses []string) (map[string]string, error)
	EndPrivateVoiceChat(ctx context.Context, roomID string) ([]string, error)
	JoinCommunityVoiceChat(ctx context.Context, communityID string, address string, action voice.CommunityAction) (string, error)
	PromoteSpeaker(ctx context.Context, communityID string, caller string, target string) error
	DemoteSpeaker(ctx context.Context, communityID string, caller string, target string) error
	MuteSpeaker(ctx context.Context, communityID string, caller string, target string, muted bool) error
	KickPlayer(ctx context.Context, communityID string, caller string, target string) error
	RequestToSpeak(ctx context.Context, communityID string, caller string, requesting bool) error
	EndCommunityVoiceChat(ctx context.Context, communityID string, caller string) error
	GetCommunityVoiceChatStatus(ctx context.Context, communityID string) (voice.CommunityStatus, error)
}

// SceneRooms issues scene, world and preview room credentials.
type SceneRooms interface {
	Issue(ctx context.Context, req sceneroom.Request) (string, error)
}

// Webhooks verifies and decodes room-service webhook requests.
type Webhooks interface {
	Receive(r *http.Request) (roomservice.Event, error)
}

// Config tunes the HTTP surface.
type Config struct {
	IdentityHeader string
	InternalToken  string
}

// Deps wires the handler. Metrics is optional; a nil MetricsHandler leaves
// /metrics unrouted.
type Deps struct {
	Places         Places
	Moderation     Moderation
	Streaming      Streaming
	Sessions       Sessions
	SceneRooms     SceneRooms
	Webhooks       Webhooks
	Metrics        *metrics.Collectors
	MetricsHandler http.Handler
}

// Server routes access-gate requests.
type Server struct {
	places     Places
	moderation Moderation
	streaming  Streaming
	sessions   Sessions
	sceneRooms SceneRooms
	webhooks   Webhooks
	metrics    *metrics.Collectors

	identityHeader string
	internalToken  string
	mux            *http.ServeMux
}

// NewServer builds the access-gate handler.
func NewServer(cfg Config, deps Deps) *Server {
	header := strings.TrimSpace(cfg.IdentityHeader)
	if header == "" {
		header = DefaultIdentityHeader
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New(nil)
	}
	s := &Server{
		places:         deps.Places,
		moderation:     deps.Moderation,
		streaming:      deps.Streaming,
		sessions:       deps.Sessions,
		sceneRooms:     deps.SceneRooms,
		webhooks:       deps.Webhooks,
		metrics:        deps.Metrics,
		identityHeader: header,
		internalToken:  strings.TrimSpace(cfg.InternalToken),
		mux:            http.NewServeMux(),
	}
	s.routes(deps.MetricsHandler)
	return s
}

func (s *Server) routes(metricsHandler http.Handler) {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	if metricsHandler != nil {
		s.mux.Handle("GET /metrics", metricsHandler)
	}

	s.mux.HandleFunc("POST /get-scene-adapter", s.handleSceneAdapter)

	s.mux.HandleFunc("GET /scene-admin", s.handleListAdmins)
	s.mux.HandleFunc("POST /scene-admin", s.handleAddAdmin)
	s.mux.HandleFunc("DELETE /scene-admin", s.handleRemoveAdmin)

	s.mux.HandleFunc("GET /scene-bans", s.handleListBans)
	s.mux.HandleFunc("GET /scene-bans/addresses", s.handleListBannedAddresses)
	s.mux.HandleFunc("POST /scene-bans", s.handleAddBan)
	s.mux.HandleFunc("DELETE /scene-bans", s.handleRemoveBan)

	s.mux.HandleFunc("GET /scene-stream-access", s.handleGetStreamAccess)
	s.mux.HandleFunc("PUT /scene-stream-access", s.handleResetStreamAccess)
	s.mux.HandleFunc("DELETE /scene-stream-access", s.handleRevokeStreamAccess)

	s.mux.Handle("GET /users/{address}/voice-chat-status", s.internal(s.handleVoiceChatStatus))
	s.mux.Handle("POST /private-voice-chat", s.internal(s.handleCreatePrivateVoiceChat))
	s.mux.Handle("DELETE /private-voice-chat/{id}", s.internal(s.handleEndPrivateVoiceChat))

	s.mux.Handle("POST /community-voice-chat", s.internal(s.handleJoinCommunityVoiceChat))
	s.mux.Handle("GET /community-voice-chat/{id}/status", s.internal(s.handleCommunityStatus))
	s.mux.Handle("DELETE /community-voice-chat/{id}", s.internal(s.handleEndCommunityVoiceChat))
	s.mux.Handle("POST /community-voice-chat/{id}/users/{address}/promote", s.internal(s.handlePromote))
	s.mux.Handle("POST /community-voice-chat/{id}/users/{address}/demote", s.internal(s.handleDemote))
	s.mux.Handle("POST /community-voice-chat/{id}/users/{address}/kick", s.internal(s.handleKick))
	s.mux.Handle("PATCH /community-voice-chat/{id}/users/{address}/mute", s.internal(s.handleMute))
	s.mux.Handle("POST /community-voice-chat/{id}/users/{address}/speak-request", s.internal(s.handleSpeakRequest))

	s.mux.HandleFunc("POST /livekit-webhook", s.handleWebhook)
}

// ServeHTTP attaches the caller identity and dispatches to the routes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.withIdentity(s.mux).ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
