// Package moderation applies admin and ban policy for places.
//
// The store is authoritative. Room-service effects of a ban (kicking the
// identity, pushing the ban list into room metadata) run after the write and
// are best effort: failures are logged and the next room_started refresh
// catches up.
package moderation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	apperrors "github.com/louisbranch/gatekeeper/internal/platform/errors"
	"github.com/louisbranch/gatekeeper/internal/platform/id"
	"github.com/louisbranch/gatekeeper/internal/services/gatekeeper/domain/permission"
	"github.com/louisbranch/gatekeeper/internal/services/gatekeeper/domain/place"
	"github.com/louisbranch/gatekeeper/internal/services/gatekeeper/roomservice"
	"github.com/louisbranch/gatekeeper/internal/services/gatekeeper/storage"
)

// Analytics event names.
const (
	EventBanAdded     = "scene_ban_added"
	EventBanRemoved   = "scene_ban_removed"
	EventAdminAdded   = "scene_admin_added"
	EventAdminRemoved = "scene_admin_removed"
)

// Store is the persistence boundary for admin and ban records.
type Store interface {
	storage.AdminStore
	storage.BanStore
}

// PermissionResolver resolves the privileges of an address on a place.
type PermissionResolver interface {
	ResolveUserScenePermissions(ctx context.Context, p place.Place, address string) (permission.Permissions, error)
}

// Rooms is the room-service surface used to enforce bans.
type Rooms interface {
	RoomsForPlace(ctx context.Context, p place.Place) ([]string, error)
	RemoveParticipant(ctx context.Context, room string, identity string) error
	UpdateRoomMetadata(ctx context.Context, room string, metadata roomservice.RoomMetadata) error
}

// Places resolves places for room refresh and disabled-place cleanup.
type Places interface {
	GetPlaceByParcel(ctx context.Context, parcel string) (place.Place, error)
	GetPlaceByWorldName(ctx context.Context, worldName string) (place.Place, error)
	GetPlaceStatusByIDs(ctx context.Context, ids []string) ([]place.Status, error)
}

// Names resolves names to addresses and back.
type Names interface {
	AddressForName(ctx context.Context, name string) (string, error)
	NamesForAddresses(ctx context.Context, addresses []string) (map[string]string, error)
}

// Analytics receives fire-and-forget events.
type Analytics interface {
	FireEvent(ctx context.Context, name string, payload map[string]any)
}

// Deps wires the service collaborators. Names and Analytics are optional.
type Deps struct {
	Store       Store
	Permissions PermissionResolver
	Rooms       Rooms
	Places      Places
	Names       Names
	Analytics   Analytics
	Clock       func() time.Time
	NewID       func() (string, error)
}

// Service applies admin and ban policy.
type Service struct {
	store       Store
	permissions PermissionResolver
	rooms       Rooms
	places      Places
	names       Names
	analytics   Analytics
	clock       func() time.Time
	newID       func() (string, error)
}

// NewService builds a moderation service.
func NewService(deps Deps) *Service {
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.NewID == nil {
		deps.NewID = id.NewID
	}
	return &Service{
		store:       deps.Store,
		permissions: deps.Permissions,
		rooms:       deps.Rooms,
		places:      deps.Places,
		names:       deps.Names,
		analytics:   deps.Analytics,
		clock:       deps.Clock,
		newID:       deps.NewID,
	}
}

// Target identifies the address an operation acts on, directly or by name.
type Target struct {
	Address string
	Name    string
}

// AdminView is an active admin grant with its display name, when known.
type AdminView struct {
	storage.SceneAdmin
	Name string
}

// BanView is a ban with the banned address's display name, when known.
type BanView struct {
	storage.SceneBan
	Name string
}

// BanPage is one page of bans plus the total number of bans of the place.
type BanPage struct {
	Bans  []BanView
	Total int
}

// ListAdmins lists the active admins of a place.
func (s *Service) ListAdmins(ctx context.Context, p place.Place, caller string, filterAdmin string) ([]AdminView, error) {
	if err := s.authorize(ctx, p, caller); err != nil {
		return nil, err
	}
	admins, err := s.store.ListActiveAdmins(ctx, storage.AdminFilter{PlaceID: p.ID, Admin: filterAdmin})
	if err != nil {
		return nil, fmt.Errorf("list admins: %w", err)
	}
	addresses := make([]string, 0, len(admins))
	for _, admin := range admins {
		addresses = append(addresses, admin.Admin)
	}
	names := s.lookupNames(ctx, addresses)
	views := make([]AdminView, 0, len(admins))
	for _, admin := range admins {
		views = append(views, AdminView{SceneAdmin: admin, Name: names[admin.Admin]})
	}
	return views, nil
}

// AddAdmin grants admin on a place to the target. The target must not
// already hold any privilege and must not be banned.
func (s *Service) AddAdmin(ctx context.Context, p place.Place, caller string, target Target) (storage.SceneAdmin, error) {
	if err := s.authorize(ctx, p, caller); err != nil {
		return storage.SceneAdmin{}, err
	}
	address, err := s.resolveTarget(ctx, target)
	if err != nil {
		return storage.SceneAdmin{}, err
	}
	perms, err := s.permissions.ResolveUserScenePermissions(ctx, p, address)
	if err != nil {
		return storage.SceneAdmin{}, err
	}
	if perms.Privileged() {
		return storage.SceneAdmin{}, apperrors.New(apperrors.CodeInvalidRequest, "user already has permissions on this place")
	}
	banned, err := s.store.IsBanned(ctx, p.ID, address)
	if err != nil {
		return storage.SceneAdmin{}, fmt.Errorf("check ban: %w", err)
	}
	if banned {
		return storage.SceneAdmin{}, apperrors.New(apperrors.CodeInvalidRequest, "banned users cannot be admins")
	}

	adminID, err := s.newID()
	if err != nil {
		return storage.SceneAdmin{}, fmt.Errorf("generate admin id: %w", err)
	}
	admin := storage.SceneAdmin{
		ID:        adminID,
		PlaceID:   p.ID,
		Admin:     address,
		AddedBy:   normalize(caller),
		Active:    true,
		CreatedAt: s.now(),
	}
	if err := s.store.AddAdmin(ctx, admin); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return storage.SceneAdmin{}, apperrors.New(apperrors.CodeInvalidRequest, "user already has permissions on this place")
		}
		return storage.SceneAdmin{}, fmt.Errorf("add admin: %w", err)
	}
	s.fire(ctx, EventAdminAdded, p, map[string]any{"admin": address, "added_by": admin.AddedBy})
	return admin, nil
}

// RemoveAdmin revokes the target's admin grant. Owners and holders of
// extended permissions cannot be demoted this way.
func (s *Service) RemoveAdmin(ctx context.Context, p place.Place, caller string, target Target) error {
	if err := s.authorize(ctx, p, caller); err != nil {
		return err
	}
	address, err := s.resolveTarget(ctx, target)
	if err != nil {
		return err
	}
	perms, err := s.permissions.ResolveUserScenePermissions(ctx, p, address)
	if err != nil {
		return err
	}
	if perms.Owner || perms.HasExtendedPermissions {
		return apperrors.New(apperrors.CodeInvalidRequest, "cannot remove permissions from the owner or an operator")
	}
	if !perms.Admin {
		return apperrors.New(apperrors.CodeNotFound, "admin not found")
	}
	if err := s.store.RemoveAdmin(ctx, p.ID, address); err != nil {
		return fmt.Errorf("remove admin: %w", err)
	}
	s.fire(ctx, EventAdminRemoved, p, map[string]any{"admin": address, "removed_by": normalize(caller)})
	return nil
}

// ListBans lists one page of bans of a place, newest first.
func (s *Service) ListBans(ctx context.Context, p place.Place, caller string, page storage.Page) (BanPage, error) {
	if err := s.authorize(ctx, p, caller); err != nil {
		return BanPage{}, err
	}
	if page.Limit < 0 || page.Offset < 0 {
		return BanPage{}, apperrors.New(apperrors.CodeInvalidRequest, "limit and offset must not be negative")
	}
	bans, err := s.store.ListBans(ctx, p.ID, page)
	if err != nil {
		return BanPage{}, fmt.Errorf("list bans: %w", err)
	}
	total, err := s.store.CountBans(ctx, p.ID)
	if err != nil {
		return BanPage{}, fmt.Errorf("count bans: %w", err)
	}
	addresses := make([]string, 0, len(bans))
	for _, ban := range bans {
		addresses = append(addresses, ban.BannedAddress)
	}
	names := s.lookupNames(ctx, addresses)
	views := make([]BanView, 0, len(bans))
	for _, ban := range bans {
		views = append(views, BanView{SceneBan: ban, Name: names[ban.BannedAddress]})
	}
	return BanPage{Bans: views, Total: total}, nil
}

// ListBannedAddresses lists every banned address of a place.
func (s *Service) ListBannedAddresses(ctx context.Context, p place.Place, caller string) ([]string, error) {
	if err := s.authorize(ctx, p, caller); err != nil {
		return nil, err
	}
	addresses, err := s.store.ListBannedAddresses(ctx, p.ID)
	if err != nil {
		return nil, fmt.Errorf("list banned addresses: %w", err)
	}
	return addresses, nil
}

// IsBanned reports whether address is banned from the place.
func (s *Service) IsBanned(ctx context.Context, placeID string, address string) (bool, error) {
	banned, err := s.store.IsBanned(ctx, placeID, address)
	if err != nil {
		return false, fmt.Errorf("check ban: %w", err)
	}
	return banned, nil
}

// AddBan bans the target from the place. Banning an already banned address
// succeeds without a second row. Privileged users cannot be banned.
func (s *Service) AddBan(ctx context.Context, p place.Place, caller string, target Target) error {
	if err := s.authorize(ctx, p, caller); err != nil {
		return err
	}
	address, err := s.resolveTarget(ctx, target)
	if err != nil {
		return err
	}
	perms, err := s.permissions.ResolveUserScenePermissions(ctx, p, address)
	if err != nil {
		return err
	}
	if perms.Privileged() {
		return apperrors.New(apperrors.CodeInvalidRequest, "cannot ban a user with permissions on this place")
	}

	banID, err := s.newID()
	if err != nil {
		return fmt.Errorf("generate ban id: %w", err)
	}
	created, err := s.store.AddBan(ctx, storage.SceneBan{
		ID:            banID,
		PlaceID:       p.ID,
		BannedAddress: address,
		BannedBy:      normalize(caller),
		BannedAt:      s.now(),
	})
	if err != nil {
		return fmt.Errorf("add ban: %w", err)
	}

	s.enforceBan(ctx, p, address)
	if created {
		s.fire(ctx, EventBanAdded, p, map[string]any{"banned_address": address, "banned_by": normalize(caller)})
	}
	return nil
}

// RemoveBan lifts a ban. Lifting a missing ban succeeds.
func (s *Service) RemoveBan(ctx context.Context, p place.Place, caller string, target Target) error {
	if err := s.authorize(ctx, p, caller); err != nil {
		return err
	}
	address, err := s.resolveTarget(ctx, target)
	if err != nil {
		return err
	}
	if err := s.store.RemoveBan(ctx, p.ID, address); err != nil {
		return fmt.Errorf("remove ban: %w", err)
	}
	s.syncBanList(ctx, p)
	s.fire(ctx, EventBanRemoved, p, map[string]any{"banned_address": address, "removed_by": normalize(caller)})
	return nil
}

// RefreshRoomBans pushes the current ban list of the place behind a scene or
// world room into that room's metadata. Other room kinds are ignored.
func (s *Service) RefreshRoomBans(ctx context.Context, ref roomservice.RoomRef) error {
	var (
		p   place.Place
		err error
	)
	switch ref.Kind {
	case roomservice.KindWorld:
		p, err = s.places.GetPlaceByWorldName(ctx, ref.ID)
	case roomservice.KindScene:
		p, err = s.places.GetPlaceByParcel(ctx, ref.BaseParcel)
	default:
		return nil
	}
	if err != nil {
		return fmt.Errorf("resolve place for room %s: %w", ref.Name, err)
	}
	addresses, err := s.store.ListBannedAddresses(ctx, p.ID)
	if err != nil {
		return fmt.Errorf("list banned addresses: %w", err)
	}
	if err := s.rooms.UpdateRoomMetadata(ctx, ref.Name, roomservice.RoomMetadata{BannedAddresses: addresses}); err != nil {
		return fmt.Errorf("push ban list to %s: %w", ref.Name, err)
	}
	return nil
}

func (s *Service) authorize(ctx context.Context, p place.Place, caller string) error {
	if s == nil || s.store == nil || s.permissions == nil {
		return fmt.Errorf("moderation service is not configured")
	}
	if strings.TrimSpace(p.ID) == "" {
		return apperrors.New(apperrors.CodeInvalidRequest, "place is required")
	}
	if normalize(caller) == "" {
		return apperrors.New(apperrors.CodeUnauthorized, "authentication required")
	}
	perms, err := s.permissions.ResolveUserScenePermissions(ctx, p, caller)
	if err != nil {
		return err
	}
	if !perms.Privileged() {
		return apperrors.New(apperrors.CodeUnauthorized, "you do not have permission to manage this place")
	}
	return nil
}

func (s *Service) resolveTarget(ctx context.Context, target Target) (string, error) {
	if address := normalize(target.Address); address != "" {
		return address, nil
	}
	name := strings.TrimSpace(target.Name)
	if name == "" {
		return "", apperrors.New(apperrors.CodeInvalidRequest, "an address or a name is required")
	}
	if s.names == nil {
		return "", apperrors.New(apperrors.CodeServiceUnavailable, "name resolution is not available")
	}
	address, err := s.names.AddressForName(ctx, name)
	if err != nil {
		return "", err
	}
	if normalize(address) == "" {
		return "", apperrors.WithMetadata(apperrors.CodeNotFound, "name not found", map[string]string{"name": name})
	}
	return normalize(address), nil
}

// enforceBan kicks the address from the place's live rooms and pushes the
// updated ban list. Failures are logged only.
func (s *Service) enforceBan(ctx context.Context, p place.Place, address string) {
	if s.rooms == nil {
		return
	}
	rooms, err := s.rooms.RoomsForPlace(ctx, p)
	if err != nil {
		log.Printf("moderation: list rooms for place %s: %v", p.ID, err)
		return
	}
	for _, room := range rooms {
		if err := s.rooms.RemoveParticipant(ctx, room, address); err != nil {
			log.Printf("moderation: kick %s from %s: %v", address, room, err)
		}
	}
	s.pushBanList(ctx, p, rooms)
}

func (s *Service) syncBanList(ctx context.Context, p place.Place) {
	if s.rooms == nil {
		return
	}
	rooms, err := s.rooms.RoomsForPlace(ctx, p)
	if err != nil {
		log.Printf("moderation: list rooms for place %s: %v", p.ID, err)
		return
	}
	s.pushBanList(ctx, p, rooms)
}

func (s *Service) pushBanList(ctx context.Context, p place.Place, rooms []string) {
	if len(rooms) == 0 {
		return
	}
	addresses, err := s.store.ListBannedAddresses(ctx, p.ID)
	if err != nil {
		log.Printf("moderation: list banned addresses for %s: %v", p.ID, err)
		return
	}
	for _, room := range rooms {
		if err := s.rooms.UpdateRoomMetadata(ctx, room, roomservice.RoomMetadata{BannedAddresses: addresses}); err != nil {
			log.Printf("moderation: push ban list to %s: %v", room, err)
		}
	}
}

func (s *Service) lookupNames(ctx context.Context, addresses []string) map[string]string {
	if s.names == nil || len(addresses) == 0 {
		return map[string]string{}
	}
	names, err := s.names.NamesForAddresses(ctx, addresses)
	if err != nil {
		log.Printf("moderation: resolve names: %v", err)
		return map[string]string{}
	}
	return names
}

func (s *Service) fire(ctx context.Context, name string, p place.Place, payload map[string]any) {
	if s.analytics == nil {
		return
	}
	payload["place_id"] = p.ID
	s.analytics.FireEvent(ctx, name, payload)
}

func (s *Service) now() time.Time {
	return s.clock().UTC()
}

func normalize(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}
