package moderation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	apperrors "github.com/louisbranch/gatekeeper/internal/platform/errors"
	"github.com/louisbranch/gatekeeper/internal/services/gatekeeper/domain/permission"
	"github.com/louisbranch/gatekeeper/internal/services/gatekeeper/domain/place"
	"github.com/louisbranch/gatekeeper/internal/services/gatekeeper/roomservice"
	"github.com/louisbranch/gatekeeper/internal/services/gatekeeper/storage"
)

const (
	owner    = "0xowner"
	operator = "0xoperator"
	visitor  = "0xvisitor"
)

func TestAddBan_IdempotentAndEnforced(t *testing.T) {
	t.Parallel()

	env := newTestEnv()
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := env.svc.AddBan(ctx, testPlace(), owner, Target{Address: "0xVISITOR"}); err != nil {
			t.Fatalf("add ban #%d: %v", i+1, err)
		}
	}
	if got := env.store.banCount("place-1"); got != 1 {
		t.Fatalf("ban rows = %d, want 1", got)
	}
	if got := env.rooms.kicked["world-foo.dcl.eth"]; len(got) != 2 || got[0] != visitor {
		t.Fatalf("kicked = %v, want visitor kicked on each request", got)
	}
	if got := env.rooms.metadata["world-foo.dcl.eth"]; len(got) != 1 || got[0] != visitor {
		t.Fatalf("room ban list = %v, want [%s]", got, visitor)
	}
	if got := env.analytics.count(EventBanAdded); got != 1 {
		t.Fatalf("ban analytics = %d, want 1", got)
	}
}

func TestAddBan_ProtectedTargetsRejected(t *testing.T) {
	t.Parallel()

	env := newTestEnv()
	env.store.admins["place-1|0xadmin"] = true

	for _, target := range []string{owner, "0xadmin", operator} {
		err := env.svc.AddBan(context.Background(), testPlace(), owner, Target{Address: target})
		if !apperrors.HasCode(err, apperrors.CodeInvalidRequest) {
			t.Fatalf("ban %s err = %v, want invalid request", target, err)
		}
	}
	if got := env.store.banCount("place-1"); got != 0 {
		t.Fatalf("ban rows = %d, want 0", got)
	}
}

func TestAddBan_RequiresManager(t *testing.T) {
	t.Parallel()

	env := newTestEnv()
	err := env.svc.AddBan(context.Background(), testPlace(), visitor, Target{Address: "0xsomeone"})
	if !apperrors.HasCode(err, apperrors.CodeUnauthorized) {
		t.Fatalf("err = %v, want unauthorized", err)
	}
}

func TestAddBan_RoomFailuresDoNotAbortWrite(t *testing.T) {
	t.Parallel()

	env := newTestEnv()
	env.rooms.err = errors.New("room service down")

	if err := env.svc.AddBan(context.Background(), testPlace(), owner, Target{Address: visitor}); err != nil {
		t.Fatalf("add ban: %v", err)
	}
	if got := env.store.banCount("place-1"); got != 1 {
		t.Fatalf("ban rows = %d, want 1", got)
	}
}

func TestAddBan_ByName(t *testing.T) {
	t.Parallel()

	env := newTestEnv()
	if err := env.svc.AddBan(context.Background(), testPlace(), owner, Target{Name: "Visitor"}); err != nil {
		t.Fatalf("add ban by name: %v", err)
	}
	banned, err := env.svc.IsBanned(context.Background(), "place-1", visitor)
	if err != nil {
		t.Fatalf("is banned: %v", err)
	}
	if !banned {
		t.Fatal("expected name to resolve to banned address")
	}

	err = env.svc.AddBan(context.Background(), testPlace(), owner, Target{Name: "ghost"})
	if !apperrors.HasCode(err, apperrors.CodeNotFound) {
		t.Fatalf("unknown name err = %v, want not found", err)
	}
}

func TestRemoveBan_MissingBanSucceeds(t *testing.T) {
	t.Parallel()

	env := newTestEnv()
	if err := env.svc.RemoveBan(context.Background(), testPlace(), owner, Target{Address: visitor}); err != nil {
		t.Fatalf("remove missing ban: %v", err)
	}
}

func TestAddAdmin_Rules(t *testing.T) {
	t.Parallel()

	env := newTestEnv()
	ctx := context.Background()

	admin, err := env.svc.AddAdmin(ctx, testPlace(), owner, Target{Address: visitor})
	if err != nil {
		t.Fatalf("add admin: %v", err)
	}
	if admin.Admin != visitor || admin.AddedBy != owner || admin.ID != "id-1" {
		t.Fatalf("admin = %+v", admin)
	}

	if _, err := env.svc.AddAdmin(ctx, testPlace(), owner, Target{Address: visitor}); !apperrors.HasCode(err, apperrors.CodeInvalidRequest) {
		t.Fatalf("re-add err = %v, want invalid request", err)
	}
	if _, err := env.svc.AddAdmin(ctx, testPlace(), owner, Target{Address: operator}); !apperrors.HasCode(err, apperrors.CodeInvalidRequest) {
		t.Fatalf("operator err = %v, want invalid request", err)
	}

	env.store.bans["place-1|0xbanned"] = storage.SceneBan{PlaceID: "place-1", BannedAddress: "0xbanned"}
	if _, err := env.svc.AddAdmin(ctx, testPlace(), owner, Target{Address: "0xbanned"}); !apperrors.HasCode(err, apperrors.CodeInvalidRequest) {
		t.Fatalf("banned err = %v, want invalid request", err)
	}
}

func TestRemoveAdmin_ProtectsOwnerAndOperators(t *testing.T) {
	t.Parallel()

	env := newTestEnv()
	ctx := context.Background()

	for _, target := range []string{owner, operator} {
		err := env.svc.RemoveAdmin(ctx, testPlace(), owner, Target{Address: target})
		if !apperrors.HasCode(err, apperrors.CodeInvalidRequest) {
			t.Fatalf("remove %s err = %v, want invalid request", target, err)
		}
	}
	if err := env.svc.RemoveAdmin(ctx, testPlace(), owner, Target{Address: visitor}); !apperrors.HasCode(err, apperrors.CodeNotFound) {
		t.Fatalf("remove non-admin err = %v, want not found", err)
	}

	env.store.admins["place-1|"+visitor] = true
	if err := env.svc.RemoveAdmin(ctx, testPlace(), owner, Target{Address: visitor}); err != nil {
		t.Fatalf("remove admin: %v", err)
	}
	if env.store.admins["place-1|"+visitor] {
		t.Fatal("expected admin to be revoked")
	}
}

func TestListBans_PagesWithNamesAndTotal(t *testing.T) {
	t.Parallel()

	env := newTestEnv()
	for _, address := range []string{"0x1", "0x2", visitor} {
		if err := env.svc.AddBan(context.Background(), testPlace(), owner, Target{Address: address}); err != nil {
			t.Fatalf("add ban %s: %v", address, err)
		}
	}
	page, err := env.svc.ListBans(context.Background(), testPlace(), operator, storage.Page{Limit: 2})
	if err != nil {
		t.Fatalf("list bans: %v", err)
	}
	if page.Total != 3 || len(page.Bans) != 2 {
		t.Fatalf("page = %+v, want 2 of 3", page)
	}
	if _, err := env.svc.ListBans(context.Background(), testPlace(), visitor, storage.Page{}); !apperrors.HasCode(err, apperrors.CodeUnauthorized) {
		t.Fatalf("visitor list err = %v, want unauthorized", err)
	}
}

func TestRefreshRoomBans(t *testing.T) {
	t.Parallel()

	env := newTestEnv()
	env.store.bans["place-1|0xbad"] = storage.SceneBan{PlaceID: "place-1", BannedAddress: "0xbad"}
	ref, err := roomservice.ParseRoomName("world-foo.dcl.eth")
	if err != nil {
		t.Fatalf("parse room: %v", err)
	}
	if err := env.svc.RefreshRoomBans(context.Background(), ref); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if got := env.rooms.metadata["world-foo.dcl.eth"]; len(got) != 1 || got[0] != "0xbad" {
		t.Fatalf("metadata = %v", got)
	}

	private, _ := roomservice.ParseRoomName("voice-chat-private-r1")
	if err := env.svc.RefreshRoomBans(context.Background(), private); err != nil {
		t.Fatalf("refresh private room: %v", err)
	}
}

func TestRemoveBansFromDisabledPlaces(t *testing.T) {
	t.Parallel()

	env := newTestEnv()
	for i := 0; i < 250; i++ {
		placeID := fmt.Sprintf("place-%03d", i)
		env.store.bans[placeID+"|0xbad"] = storage.SceneBan{PlaceID: placeID, BannedAddress: "0xbad"}
		if i%50 == 0 {
			env.places.disabled[placeID] = true
		}
	}

	removed, err := env.svc.RemoveBansFromDisabledPlaces(context.Background())
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if removed != 5 {
		t.Fatalf("removed = %d, want 5", removed)
	}
	if got := env.places.batchSizes(); len(got) != 3 || got[0] != 50 || got[1] != 100 || got[2] != 100 {
		t.Fatalf("batch sizes = %v, want [50 100 100]", got)
	}
}

func TestRemoveBansFromDisabledPlaces_PropagatesBatchFailure(t *testing.T) {
	t.Parallel()

	env := newTestEnv()
	env.store.bans["place-1|0xbad"] = storage.SceneBan{PlaceID: "place-1", BannedAddress: "0xbad"}
	env.places.err = errors.New("places api down")

	if _, err := env.svc.RemoveBansFromDisabledPlaces(context.Background()); err == nil {
		t.Fatal("expected batch failure to propagate")
	}
	if got := env.store.banCount("place-1"); got != 1 {
		t.Fatalf("ban rows = %d, want 1", got)
	}
}

type testEnv struct {
	svc       *Service
	store     *fakeStore
	rooms     *fakeRooms
	places    *fakePlaces
	analytics *fakeAnalytics
}

func newTestEnv() testEnv {
	store := newFakeStore()
	rooms := &fakeRooms{kicked: map[string][]string{}, metadata: map[string][]string{}}
	places := &fakePlaces{disabled: map[string]bool{}}
	analytics := &fakeAnalytics{}
	svc := NewService(Deps{
		Store:       store,
		Permissions: &fakePermissions{store: store},
		Rooms:       rooms,
		Places:      places,
		Names:       fakeNames{"visitor": visitor},
		Analytics:   analytics,
		Clock:       fixedClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
		NewID:       sequentialIDs(),
	})
	return testEnv{svc: svc, store: store, rooms: rooms, places: places, analytics: analytics}
}

func testPlace() place.Place {
	return place.Place{ID: "place-1", IsWorld: true, WorldName: "foo.dcl.eth"}
}

func fixedClock(now time.Time) func() time.Time {
	return func() time.Time { return now }
}

func sequentialIDs() func() (string, error) {
	var mu sync.Mutex
	next := 0
	return func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		next++
		return fmt.Sprintf("id-%d", next), nil
	}
}

type fakePermissions struct {
	store *fakeStore
}

func (f *fakePermissions) ResolveUserScenePermissions(ctx context.Context, p place.Place, address string) (permission.Permissions, error) {
	admin, _ := f.store.IsAdmin(ctx, p.ID, address)
	perms := permission.Permissions{Owner: address == owner, Admin: admin}
	if !admin {
		perms.HasExtendedPermissions = address == operator
	}
	return perms, nil
}

type fakeStore struct {
	mu     sync.Mutex
	admins map[string]bool
	bans   map[string]storage.SceneBan
}

func newFakeStore() *fakeStore {
	return &fakeStore{admins: map[string]bool{}, bans: map[string]storage.SceneBan{}}
}

func (f *fakeStore) AddAdmin(_ context.Context, admin storage.SceneAdmin) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := admin.PlaceID + "|" + admin.Admin
	if f.admins[key] {
		return storage.ErrConflict
	}
	f.admins[key] = true
	return nil
}

func (f *fakeStore) ListActiveAdmins(_ context.Context, filter storage.AdminFilter) ([]storage.SceneAdmin, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var admins []storage.SceneAdmin
	for key, active := range f.admins {
		placeID, address, _ := strings.Cut(key, "|")
		if active && placeID == filter.PlaceID && (filter.Admin == "" || filter.Admin == address) {
			admins = append(admins, storage.SceneAdmin{PlaceID: placeID, Admin: address, Active: true})
		}
	}
	return admins, nil
}

func (f *fakeStore) IsAdmin(_ context.Context, placeID string, address string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.admins[placeID+"|"+address], nil
}

func (f *fakeStore) RemoveAdmin(_ context.Context, placeID string, address string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.admins, placeID+"|"+address)
	return nil
}

func (f *fakeStore) AddBan(_ context.Context, ban storage.SceneBan) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := ban.PlaceID + "|" + ban.BannedAddress
	if _, ok := f.bans[key]; ok {
		return false, nil
	}
	f.bans[key] = ban
	return true, nil
}

func (f *fakeStore) RemoveBan(_ context.Context, placeID string, address string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.bans, placeID+"|"+address)
	return nil
}

func (f *fakeStore) IsBanned(_ context.Context, placeID string, address string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.bans[placeID+"|"+address]
	return ok, nil
}

func (f *fakeStore) ListBans(_ context.Context, placeID string, page storage.Page) ([]storage.SceneBan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var bans []storage.SceneBan
	for _, ban := range f.bans {
		if ban.PlaceID == placeID {
			bans = append(bans, ban)
		}
	}
	sort.Slice(bans, func(i, j int) bool { return bans[i].BannedAddress < bans[j].BannedAddress })
	if page.Offset >= len(bans) {
		return nil, nil
	}
	bans = bans[page.Offset:]
	if page.Limit > 0 && page.Limit < len(bans) {
		bans = bans[:page.Limit]
	}
	return bans, nil
}

func (f *fakeStore) ListBannedAddresses(ctx context.Context, placeID string) ([]string, error) {
	bans, _ := f.ListBans(ctx, placeID, storage.Page{})
	addresses := make([]string, 0, len(bans))
	for _, ban := range bans {
		addresses = append(addresses, ban.BannedAddress)
	}
	return addresses, nil
}

func (f *fakeStore) CountBans(ctx context.Context, placeID string) (int, error) {
	return f.banCount(placeID), nil
}

func (f *fakeStore) ListBannedPlaceIDs(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := map[string]bool{}
	var placeIDs []string
	for _, ban := range f.bans {
		if !seen[ban.PlaceID] {
			seen[ban.PlaceID] = true
			placeIDs = append(placeIDs, ban.PlaceID)
		}
	}
	sort.Strings(placeIDs)
	return placeIDs, nil
}

func (f *fakeStore) RemoveBansForPlaces(_ context.Context, placeIDs []string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	remove := map[string]bool{}
	for _, placeID := range placeIDs {
		remove[placeID] = true
	}
	var removed int64
	for key, ban := range f.bans {
		if remove[ban.PlaceID] {
			delete(f.bans, key)
			removed++
		}
	}
	return removed, nil
}

func (f *fakeStore) banCount(placeID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, ban := range f.bans {
		if ban.PlaceID == placeID {
			count++
		}
	}
	return count
}

type fakeRooms struct {
	mu       sync.Mutex
	err      error
	kicked   map[string][]string
	metadata map[string][]string
}

func (f *fakeRooms) RoomsForPlace(_ context.Context, p place.Place) ([]string, error) {
	if name, ok := roomservice.PlaceRoomName(p); ok {
		return []string{name}, nil
	}
	return nil, nil
}

func (f *fakeRooms) RemoveParticipant(_ context.Context, room string, identity string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.kicked[room] = append(f.kicked[room], identity)
	return nil
}

func (f *fakeRooms) UpdateRoomMetadata(_ context.Context, room string, metadata roomservice.RoomMetadata) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.metadata[room] = metadata.BannedAddresses
	return nil
}

type fakePlaces struct {
	mu       sync.Mutex
	disabled map[string]bool
	batches  []int
	err      error
}

func (f *fakePlaces) GetPlaceByParcel(_ context.Context, parcel string) (place.Place, error) {
	return place.Place{ID: "place-1", Positions: []string{parcel}, BasePosition: parcel}, nil
}

func (f *fakePlaces) GetPlaceByWorldName(_ context.Context, worldName string) (place.Place, error) {
	return place.Place{ID: "place-1", IsWorld: true, WorldName: worldName}, nil
}

func (f *fakePlaces) GetPlaceStatusByIDs(_ context.Context, ids []string) ([]place.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.batches = append(f.batches, len(ids))
	statuses := make([]place.Status, 0, len(ids))
	for _, placeID := range ids {
		statuses = append(statuses, place.Status{ID: placeID, Disabled: f.disabled[placeID]})
	}
	return statuses, nil
}

func (f *fakePlaces) batchSizes() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	sizes := append([]int(nil), f.batches...)
	sort.Ints(sizes)
	return sizes
}

type fakeNames map[string]string

func (f fakeNames) AddressForName(_ context.Context, name string) (string, error) {
	for known, address := range f {
		if known == strings.ToLower(name) {
			return address, nil
		}
	}
	return "", apperrors.New(apperrors.CodeNotFound, "name not found")
}

func (f fakeNames) NamesForAddresses(_ context.Context, addresses []string) (map[string]string, error) {
	names := map[string]string{}
	for name, address := range f {
		for _, candidate := range addresses {
			if candidate == address {
				names[address] = name
			}
		}
	}
	return names, nil
}

type fakeAnalytics struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeAnalytics) FireEvent(_ context.Context, name string, _ map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, name)
}

func (f *fakeAnalytics) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, event := range f.events {
		if event == name {
			count++
		}
	}
	return count
}
