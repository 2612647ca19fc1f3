package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	apperrors "github.com/louisbranch/gatekeeper/internal/platform/errors"
	"github.com/louisbranch/gatekeeper/internal/platform/telemetry/metrics"
	"github.com/louisbranch/gatekeeper/internal/services/gatekeeper/domain/moderation"
	"github.com/louisbranch/gatekeeper/internal/services/gatekeeper/domain/permission"
	"github.com/louisbranch/gatekeeper/internal/services/gatekeeper/domain/place"
	"github.com/louisbranch/gatekeeper/internal/services/gatekeeper/domain/sceneroom"
	"github.com/louisbranch/gatekeeper/internal/services/gatekeeper/domain/streaming"
	"github.com/louisbranch/gatekeeper/internal/services/gatekeeper/domain/voice"
	"github.com/louisbranch/gatekeeper/internal/services/gatekeeper/roomservice"
	"github.com/louisbranch/gatekeeper/internal/services/gatekeeper/storage"
	"github.com/louisbranch/gatekeeper/internal/services/gatekeeper/storage/sqlite"
	"github.com/louisbranch/gatekeeper/internal/services/gatekeeper/sweep"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

const (
	owner         = "0xowner"
	internalToken = "internal-secret"
)

var start = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var plaza = place.Place{ID: "P1", Title: "Plaza", Positions: []string{"10,20"}, BasePosition: "10,20", Owner: owner}

type fakePlaces struct{}

func (fakePlaces) GetPlaceByParcel(_ context.Context, parcel string) (place.Place, error) {
	if parcel == "10,20" {
		return plaza, nil
	}
	return place.Place{}, apperrors.New(apperrors.CodeNotFound, "place not found")
}

func (fakePlaces) GetPlaceByWorldName(context.Context, string) (place.Place, error) {
	return place.Place{}, apperrors.New(apperrors.CodeNotFound, "place not found")
}

func (fakePlaces) GetPlaceByID(_ context.Context, id string) (place.Place, error) {
	if id == plaza.ID {
		return plaza, nil
	}
	return place.Place{}, apperrors.New(apperrors.CodeNotFound, "place not found")
}

func (fakePlaces) GetPlaceStatusByIDs(_ context.Context, ids []string) ([]place.Status, error) {
	statuses := make([]place.Status, 0, len(ids))
	for _, id := range ids {
		statuses = append(statuses, place.Status{ID: id})
	}
	return statuses, nil
}

type fakeLands struct{}

func (fakeLands) GetLandPermissions(_ context.Context, address string, _ []string) (permission.LandPermissions, error) {
	return permission.LandPermissions{Owner: address == owner}, nil
}

type fakeWorlds struct{}

func (fakeWorlds) HasWorldOwnerPermission(context.Context, string, string) (bool, error) {
	return false, nil
}

func (fakeWorlds) HasWorldStreamingPermission(context.Context, string, string) (bool, error) {
	return false, nil
}

func (fakeWorlds) HasWorldDeployPermission(context.Context, string, string) (bool, error) {
	return false, nil
}

type fakeIngresses struct {
	mu      sync.Mutex
	next    int
	rooms   map[string]string
	removed []string
}

func (f *fakeIngresses) GetOrCreateIngress(_ context.Context, room string, _ string) (roomservice.Ingress, error) {
	return f.create(room), nil
}

func (f *fakeIngresses) CreateIngress(_ context.Context, room string, _ string) (roomservice.Ingress, error) {
	return f.create(room), nil
}

func (f *fakeIngresses) RemoveIngress(_ context.Context, ingressID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, ingressID)
	return nil
}

func (f *fakeIngresses) create(room string) roomservice.Ingress {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	id := fmt.Sprintf("ing-%d", f.next)
	if f.rooms == nil {
		f.rooms = make(map[string]string)
	}
	f.rooms[id] = room
	return roomservice.Ingress{ID: id, URL: "rtmp://ingress.test/live", StreamKey: fmt.Sprintf("key-%d", f.next)}
}

type fakeRooms struct {
	mu      sync.Mutex
	kicked  []string
	deleted []string
}

func (f *fakeRooms) RoomsForPlace(context.Context, place.Place) ([]string, error) {
	return []string{"scene-main:bafy:10,20"}, nil
}

func (f *fakeRooms) RemoveParticipant(_ context.Context, room string, identity string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kicked = append(f.kicked, room+"/"+identity)
	return nil
}

func (f *fakeRooms) UpdateRoomMetadata(context.Context, string, roomservice.RoomMetadata) error {
	return nil
}

func (f *fakeRooms) DeleteRoom(_ context.Context, room string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, room)
	return nil
}

func (f *fakeRooms) UpdateParticipant(context.Context, string, string, roomservice.ParticipantUpdate) error {
	return nil
}

type fakeCredentials struct{}

func (fakeCredentials) Generate(identity, room string, _ roomservice.Grant, _ string) (roomservice.Credentials, error) {
	return roomservice.Credentials{URL: "wss://rooms.test", Token: room + "." + identity}, nil
}

type fakeWebhooks struct {
	event roomservice.Event
	err   error
}

func (f *fakeWebhooks) Receive(*http.Request) (roomservice.Event, error) {
	return f.event, f.err
}

type testEnv struct {
	store     *sqlite.Store
	clock     *testClock
	ingresses *fakeIngresses
	rooms     *fakeRooms
	webhooks  *fakeWebhooks
	metrics   *metrics.Collectors
	streams   *streaming.Manager
	server    *Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "gatekeeper.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	env := &testEnv{
		store:     store,
		clock:     &testClock{now: start},
		ingresses: &fakeIngresses{},
		rooms:     &fakeRooms{},
		webhooks:  &fakeWebhooks{},
		metrics:   metrics.New(prometheus.NewRegistry()),
	}
	resolver := permission.NewResolver(fakeLands{}, fakeWorlds{}, store)
	mod := moderation.NewService(moderation.Deps{
		Store:       store,
		Permissions: resolver,
		Rooms:       env.rooms,
		Places:      fakePlaces{},
		Clock:       env.clock.Now,
	})
	env.streams = streaming.NewManager(streaming.Config{}, streaming.Deps{
		Store:     store,
		Ingresses: env.ingresses,
		Gate:      resolver,
		Clock:     env.clock.Now,
	})
	sessions := voice.NewSessionManager(voice.Config{}, voice.Deps{
		Store:       store,
		Rooms:       env.rooms,
		Credentials: fakeCredentials{},
		Bans:        mod,
		Clock:       env.clock.Now,
	})
	env.server = NewServer(Config{InternalToken: internalToken}, Deps{
		Places:     fakePlaces{},
		Moderation: mod,
		Streaming:  env.streams,
		Sessions:   sessions,
		SceneRooms: sceneroom.NewIssuer(fakePlaces{}, mod, fakeCredentials{}),
		Webhooks:   env.webhooks,
		Metrics:    env.metrics,
	})
	return env
}

type call struct {
	method   string
	target   string
	identity string
	internal bool
	body     any
}

func (e *testEnv) do(t *testing.T, c call) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	if c.body != nil {
		if err := json.NewEncoder(&body).Encode(c.body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(c.method, c.target, &body)
	if c.identity != "" {
		req.Header.Set(DefaultIdentityHeader, c.identity)
	}
	if c.internal {
		req.Header.Set("Authorization", "Bearer "+internalToken)
	}
	rec := httptest.NewRecorder()
	e.server.ServeHTTP(rec, req)
	return rec
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, want, strings.TrimSpace(rec.Body.String()))
	}
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

const streamTarget = "/scene-stream-access?parcel=10,20&realm=main&scene_id=bafy"

func TestStreamingAccess_EndToEnd(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	rec := env.do(t, call{method: http.MethodGet, target: streamTarget, identity: "0xOwner"})
	expectStatus(t, rec, http.StatusOK)
	first := decode[streamAccessResponse](t, rec)
	if first.StreamingKey == "" || first.StreamingURL == "" {
		t.Fatalf("access = %+v, want url and key", first)
	}
	if first.CreatedAt != start.UnixMilli() {
		t.Fatalf("created_at = %d, want %d", first.CreatedAt, start.UnixMilli())
	}
	if got := first.EndsAt - first.CreatedAt; got != 345600000 {
		t.Fatalf("ends_at - created_at = %d, want 345600000", got)
	}
	if room := env.ingresses.rooms["ing-1"]; room != "scene-main:bafy:10,20" {
		t.Fatalf("ingress room = %q, want scene-main:bafy:10,20", room)
	}

	rec = env.do(t, call{method: http.MethodGet, target: streamTarget, identity: owner})
	expectStatus(t, rec, http.StatusOK)
	if second := decode[streamAccessResponse](t, rec); second.StreamingKey != first.StreamingKey {
		t.Fatalf("second key = %q, want %q", second.StreamingKey, first.StreamingKey)
	}

	env.clock.Advance(streaming.DefaultAccessTTL + 10*time.Minute)
	runner := sweep.NewRunner(sweep.Config{}, sweep.Deps{Streams: env.streams, Places: fakePlaces{}})
	if got := runner.SweepIdle(ctx); got != 1 {
		t.Fatalf("idle sweep expired %d, want 1", got)
	}
	if _, err := env.store.GetStreamAccess(ctx, plaza.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("access after sweep err = %v, want not found", err)
	}
	if len(env.ingresses.removed) != 1 || env.ingresses.removed[0] != "ing-1" {
		t.Fatalf("removed ingresses = %v, want [ing-1]", env.ingresses.removed)
	}
}

func TestStreamingAccess_ResetAndRevoke(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	first := decode[streamAccessResponse](t, env.do(t, call{method: http.MethodGet, target: streamTarget, identity: owner}))

	rec := env.do(t, call{method: http.MethodPut, target: streamTarget, identity: owner})
	expectStatus(t, rec, http.StatusOK)
	if reset := decode[streamAccessResponse](t, rec); reset.StreamingKey == first.StreamingKey {
		t.Fatalf("reset key = %q, want a new key", reset.StreamingKey)
	}

	expectStatus(t, env.do(t, call{method: http.MethodDelete, target: streamTarget, identity: owner}), http.StatusNoContent)
	expectStatus(t, env.do(t, call{method: http.MethodDelete, target: streamTarget, identity: owner}), http.StatusNotFound)
}

func TestStreamingAccess_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		target   string
		identity string
		want     int
	}{
		{name: "anonymous", target: streamTarget, want: http.StatusUnauthorized},
		{name: "not owner", target: streamTarget, identity: "0xstranger", want: http.StatusUnauthorized},
		{name: "missing place", target: "/scene-stream-access", identity: owner, want: http.StatusBadRequest},
		{name: "unknown place", target: "/scene-stream-access?parcel=1,1&scene_id=x", identity: owner, want: http.StatusNotFound},
		{name: "missing scene id", target: "/scene-stream-access?parcel=10,20", identity: owner, want: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			env := newTestEnv(t)
			rec := env.do(t, call{method: http.MethodGet, target: tt.target, identity: tt.identity})
			expectStatus(t, rec, tt.want)
			if body := decode[errorResponse](t, rec); body.Error == "" || body.Message == "" {
				t.Fatalf("error body = %+v, want code and message", body)
			}
		})
	}
}

func TestSceneBans_Flow(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	const target = "/scene-bans?parcel=10,20"
	ban := map[string]string{"banned_address": "0xBAD"}

	expectStatus(t, env.do(t, call{method: http.MethodPost, target: target, identity: owner, body: ban}), http.StatusNoContent)
	expectStatus(t, env.do(t, call{method: http.MethodPost, target: target, identity: owner, body: ban}), http.StatusNoContent)

	page := decode[banPageResponse](t, env.do(t, call{method: http.MethodGet, target: target, identity: owner}))
	if page.Total != 1 || len(page.Results) != 1 || page.Results[0].BannedAddress != "0xbad" {
		t.Fatalf("bans = %+v, want one ban of 0xbad", page)
	}
	addresses := decode[map[string][]string](t, env.do(t, call{method: http.MethodGet, target: "/scene-bans/addresses?parcel=10,20", identity: owner}))
	if got := addresses["addresses"]; len(got) != 1 || got[0] != "0xbad" {
		t.Fatalf("addresses = %v, want [0xbad]", got)
	}

	adapterBody := map[string]any{"realm": "main", "scene_id": "bafy", "parcel": "10,20"}
	expectStatus(t, env.do(t, call{method: http.MethodPost, target: "/get-scene-adapter", identity: "0xbad", body: adapterBody}), http.StatusUnauthorized)

	expectStatus(t, env.do(t, call{method: http.MethodDelete, target: target, identity: owner, body: ban}), http.StatusNoContent)
	expectStatus(t, env.do(t, call{method: http.MethodDelete, target: target, identity: owner, body: ban}), http.StatusNoContent)

	rec := env.do(t, call{method: http.MethodPost, target: "/get-scene-adapter", identity: "0xbad", body: adapterBody})
	expectStatus(t, rec, http.StatusOK)
	if adapter := decode[map[string]string](t, rec)["adapter"]; !strings.HasPrefix(adapter, "livekit:wss://rooms.test?access_token=") {
		t.Fatalf("adapter = %q", adapter)
	}
}

func TestSceneBans_Protection(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	expectStatus(t, env.do(t, call{method: http.MethodPost, target: "/scene-bans?parcel=10,20", identity: owner, body: map[string]string{"banned_address": owner}}), http.StatusBadRequest)
	expectStatus(t, env.do(t, call{method: http.MethodPost, target: "/scene-bans?parcel=10,20", identity: "0xstranger", body: map[string]string{"banned_address": "0xbad"}}), http.StatusUnauthorized)
	expectStatus(t, env.do(t, call{method: http.MethodGet, target: "/scene-bans?parcel=10,20&limit=1000", identity: owner}), http.StatusBadRequest)
}

func TestSceneAdmins_Flow(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	const target = "/scene-admin?parcel=10,20"

	rec := env.do(t, call{method: http.MethodPost, target: target, identity: owner, body: map[string]string{"admin": "0xADMIN"}})
	expectStatus(t, rec, http.StatusOK)
	if admin := decode[adminResponse](t, rec); admin.Admin != "0xadmin" || !admin.Active || admin.AddedBy != owner {
		t.Fatalf("admin = %+v", admin)
	}

	admins := decode[[]adminResponse](t, env.do(t, call{method: http.MethodGet, target: target, identity: "0xadmin"}))
	if len(admins) != 1 || admins[0].Admin != "0xadmin" {
		t.Fatalf("admins = %+v, want the new admin", admins)
	}

	expectStatus(t, env.do(t, call{method: http.MethodDelete, target: target, identity: owner, body: map[string]string{"admin": "0xadmin"}}), http.StatusNoContent)
	expectStatus(t, env.do(t, call{method: http.MethodGet, target: target, identity: "0xadmin"}), http.StatusUnauthorized)
}

func TestInternalRoutes_RequireToken(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	const target = "/users/0xa/voice-chat-status"

	expectStatus(t, env.do(t, call{method: http.MethodGet, target: target}), http.StatusUnauthorized)

	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec := httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)
	expectStatus(t, rec, http.StatusUnauthorized)

	rec = env.do(t, call{method: http.MethodGet, target: target, internal: true})
	expectStatus(t, rec, http.StatusOK)
	if got := decode[map[string]bool](t, rec); got["is_user_in_voice_chat"] {
		t.Fatalf("status = %v, want not in voice chat", got)
	}
}

func TestPrivateVoiceChat_Flow(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	body := map[string]any{"room_id": "r1", "user_addresses": []string{"0xa", "0xb"}}

	rec := env.do(t, call{method: http.MethodPost, target: "/private-voice-chat", internal: true, body: body})
	expectStatus(t, rec, http.StatusOK)
	connections := decode[map[string]map[string]string](t, rec)
	if len(connections) != 2 || connections["0xa"]["connection_url"] == "" {
		t.Fatalf("connections = %v", connections)
	}

	env.webhooks.event = roomservice.ParticipantJoined{
		Room:     roomservice.RoomRef{Kind: roomservice.KindPrivate, Name: "voice-chat-private-other", ID: "other"},
		Identity: "0xa",
	}
	expectStatus(t, env.do(t, call{method: http.MethodPost, target: "/livekit-webhook"}), http.StatusOK)

	rec = env.do(t, call{method: http.MethodPost, target: "/private-voice-chat", internal: true, body: body})
	expectStatus(t, rec, http.StatusConflict)

	rec = env.do(t, call{method: http.MethodDelete, target: "/private-voice-chat/other", internal: true})
	expectStatus(t, rec, http.StatusOK)
	if got := decode[map[string][]string](t, rec)["users_in_voice_chat"]; len(got) != 1 || got[0] != "0xa" {
		t.Fatalf("ended users = %v, want [0xa]", got)
	}
}

func TestCommunityVoiceChat_Flow(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	create := map[string]string{"community_id": "c1", "user_address": "0xmod", "action": "create"}
	expectStatus(t, env.do(t, call{method: http.MethodPost, target: "/community-voice-chat", internal: true, body: create}), http.StatusOK)

	join := map[string]string{"community_id": "c1", "user_address": "0xfan", "action": "join"}
	expectStatus(t, env.do(t, call{method: http.MethodPost, target: "/community-voice-chat", internal: true, body: join}), http.StatusNotFound)

	room := roomservice.RoomRef{Kind: roomservice.KindCommunity, Name: "voice-chat-community-c1", ID: "c1"}
	env.webhooks.event = roomservice.ParticipantJoined{Room: room, Identity: "0xmod", Metadata: `{"role":"moderator"}`}
	expectStatus(t, env.do(t, call{method: http.MethodPost, target: "/livekit-webhook"}), http.StatusOK)
	env.webhooks.event = roomservice.ParticipantJoined{Room: room, Identity: "0xfan"}
	expectStatus(t, env.do(t, call{method: http.MethodPost, target: "/livekit-webhook"}), http.StatusOK)

	status := decode[map[string]any](t, env.do(t, call{method: http.MethodGet, target: "/community-voice-chat/c1/status", internal: true}))
	if status["active"] != true || status["participant_count"] != float64(2) {
		t.Fatalf("status = %v", status)
	}

	moderator := map[string]string{"caller_address": "0xmod"}
	expectStatus(t, env.do(t, call{method: http.MethodPost, target: "/community-voice-chat/c1/users/0xfan/promote", internal: true, body: moderator}), http.StatusNoContent)
	expectStatus(t, env.do(t, call{method: http.MethodPost, target: "/community-voice-chat/c1/users/0xmod/kick", internal: true, body: moderator}), http.StatusBadRequest)
	expectStatus(t, env.do(t, call{method: http.MethodPost, target: "/community-voice-chat/c1/users/0xfan/kick", internal: true, body: map[string]string{"caller_address": "0xfan"}}), http.StatusUnauthorized)
	expectStatus(t, env.do(t, call{method: http.MethodPatch, target: "/community-voice-chat/c1/users/0xfan/mute", internal: true, body: map[string]any{"caller_address": "0xmod", "muted": true}}), http.StatusNoContent)
	expectStatus(t, env.do(t, call{method: http.MethodPost, target: "/community-voice-chat/c1/users/0xfan/speak-request", internal: true}), http.StatusNoContent)
	expectStatus(t, env.do(t, call{method: http.MethodDelete, target: "/community-voice-chat/c1", internal: true, body: moderator}), http.StatusNoContent)

	status = decode[map[string]any](t, env.do(t, call{method: http.MethodGet, target: "/community-voice-chat/c1/status", internal: true}))
	if status["active"] != false {
		t.Fatalf("status after end = %v, want inactive", status)
	}
}

func TestWebhook_IngressEventsDriveStreamingFlag(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	expectStatus(t, env.do(t, call{method: http.MethodGet, target: streamTarget, identity: owner}), http.StatusOK)

	env.webhooks.event = roomservice.IngressStarted{IngressID: "ing-1"}
	expectStatus(t, env.do(t, call{method: http.MethodPost, target: "/livekit-webhook"}), http.StatusOK)
	access, err := env.store.GetStreamAccess(ctx, plaza.ID)
	if err != nil {
		t.Fatalf("get access: %v", err)
	}
	if !access.Streaming || access.StreamingStartedAt == nil {
		t.Fatalf("access = %+v, want streaming", access)
	}

	env.webhooks.event = roomservice.IngressEnded{IngressID: "ing-1"}
	expectStatus(t, env.do(t, call{method: http.MethodPost, target: "/livekit-webhook"}), http.StatusOK)
	access, err = env.store.GetStreamAccess(ctx, plaza.ID)
	if err != nil {
		t.Fatalf("get access: %v", err)
	}
	if access.Streaming {
		t.Fatalf("access = %+v, want not streaming", access)
	}

	env.webhooks.event = roomservice.IngressStarted{IngressID: "ing-unknown"}
	expectStatus(t, env.do(t, call{method: http.MethodPost, target: "/livekit-webhook"}), http.StatusOK)
	if got := testutil.ToFloat64(env.metrics.WebhookEvents.WithLabelValues("ingress_started", "ok")); got != 2 {
		t.Fatalf("ingress_started ok = %v, want 2", got)
	}
}

func TestWebhook_DecodeFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "bad signature", err: fmt.Errorf("%w: token expired", roomservice.ErrInvalidWebhook), want: http.StatusUnauthorized},
		{name: "unknown room", err: fmt.Errorf("room_started %q: %w", "lobby", roomservice.ErrUnknownRoom), want: http.StatusOK},
		{name: "unsupported", err: fmt.Errorf("%w: %q", roomservice.ErrUnsupportedEvent, "track_published"), want: http.StatusOK},
		{name: "malformed", err: errors.New("participant_joined: participant is required"), want: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			env := newTestEnv(t)
			env.webhooks.err = tt.err
			expectStatus(t, env.do(t, call{method: http.MethodPost, target: "/livekit-webhook"}), tt.want)
		})
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rec := env.do(t, call{method: http.MethodGet, target: "/health"})
	expectStatus(t, rec, http.StatusOK)
	if got := decode[map[string]string](t, rec)["status"]; got != "ok" {
		t.Fatalf("status = %q, want ok", got)
	}
}
