// Package streaming manages the ingress credentials scenes use to live
// stream into their rooms.
//
// A place has at most one active access row. Creating access is
// get-before-create; two concurrent creators race on the unique place
// constraint and the loser adopts the winner's row.
package streaming

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	apperrors "github.com/louisbranch/gatekeeper/internal/platform/errors"
	"github.com/louisbranch/gatekeeper/internal/platform/id"
	"github.com/louisbranch/gatekeeper/internal/services/gatekeeper/domain/place"
	"github.com/louisbranch/gatekeeper/internal/services/gatekeeper/roomservice"
	"github.com/louisbranch/gatekeeper/internal/services/gatekeeper/storage"
)

// DefaultAccessTTL is how long an unused streaming key stays valid.
const DefaultAccessTTL = 96 * time.Hour

// DefaultMaxDuration is the longest a single stream may run.
const DefaultMaxDuration = 4 * time.Hour

// Notification types sent to place owners.
const (
	NotificationKeyExpired    = "streaming_key_expired"
	NotificationTimeExceeded  = "streaming_time_exceeded"
	NotificationKeyReset      = "streaming_key_reset"
	NotificationKeyRevoked    = "streaming_key_revoked"
	EventStreamingAccessAdded = "streaming_access_created"
)

// Ingresses is the room-service ingress API.
type Ingresses interface {
	GetOrCreateIngress(ctx context.Context, room string, identity string) (roomservice.Ingress, error)
	CreateIngress(ctx context.Context, room string, identity string) (roomservice.Ingress, error)
	RemoveIngress(ctx context.Context, ingressID string) error
}

// Gate decides whether an address may manage a place.
type Gate interface {
	IsSceneOwnerOrAdmin(ctx context.Context, p place.Place, address string) (bool, error)
}

// Notifier delivers fire-and-forget notifications about a place.
type Notifier interface {
	SendNotification(ctx context.Context, notificationType string, p place.Place)
}

// Analytics receives fire-and-forget events.
type Analytics interface {
	FireEvent(ctx context.Context, name string, payload map[string]any)
}

// Config bounds access lifetimes.
type Config struct {
	AccessTTL   time.Duration
	MaxDuration time.Duration
}

// Deps wires the manager collaborators. Notifier and Analytics are optional.
type Deps struct {
	Store     storage.StreamAccessStore
	Ingresses Ingresses
	Gate      Gate
	Notifier  Notifier
	Analytics Analytics
	Clock     func() time.Time
	NewID     func() (string, error)
}

// Manager owns the streaming access lifecycle.
type Manager struct {
	store       storage.StreamAccessStore
	ingresses   Ingresses
	gate        Gate
	notifier    Notifier
	analytics   Analytics
	clock       func() time.Time
	newID       func() (string, error)
	accessTTL   time.Duration
	maxDuration time.Duration
}

// NewManager builds a streaming access manager.
func NewManager(cfg Config, deps Deps) *Manager {
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = DefaultAccessTTL
	}
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = DefaultMaxDuration
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.NewID == nil {
		deps.NewID = id.NewID
	}
	return &Manager{
		store:       deps.Store,
		ingresses:   deps.Ingresses,
		gate:        deps.Gate,
		notifier:    deps.Notifier,
		analytics:   deps.Analytics,
		clock:       deps.Clock,
		newID:       deps.NewID,
		accessTTL:   cfg.AccessTTL,
		maxDuration: cfg.MaxDuration,
	}
}

// AddAccessInput is the ingress a new access row binds to.
type AddAccessInput struct {
	PlaceID      string
	StreamingURL string
	StreamingKey string
	IngressID    string
}

// AccessView is what a place manager sees of its streaming access.
type AccessView struct {
	StreamingURL string
	StreamingKey string
	CreatedAt    time.Time
	EndsAt       time.Time
}

// GetAccess returns the active access row of a place. A place without one
// fails with CodeStreamingAccessUnavailable.
func (m *Manager) GetAccess(ctx context.Context, placeID string) (storage.StreamAccess, error) {
	if err := m.ready(); err != nil {
		return storage.StreamAccess{}, err
	}
	access, err := m.store.GetStreamAccess(ctx, strings.TrimSpace(placeID))
	if errors.Is(err, storage.ErrNotFound) {
		return storage.StreamAccess{}, apperrors.Wrap(apperrors.CodeStreamingAccessUnavailable, "streaming access unavailable", err)
	}
	if err != nil {
		return storage.StreamAccess{}, fmt.Errorf("get streaming access: %w", err)
	}
	return access, nil
}

// AddAccess stores a new active row expiring after the access TTL. It
// wraps storage.ErrConflict when the place already has an active row.
func (m *Manager) AddAccess(ctx context.Context, input AddAccessInput) (storage.StreamAccess, error) {
	if err := m.ready(); err != nil {
		return storage.StreamAccess{}, err
	}
	placeID := strings.TrimSpace(input.PlaceID)
	if placeID == "" {
		return storage.StreamAccess{}, apperrors.New(apperrors.CodeInvalidRequest, "place id is required")
	}
	if strings.TrimSpace(input.IngressID) == "" || strings.TrimSpace(input.StreamingKey) == "" {
		return storage.StreamAccess{}, apperrors.New(apperrors.CodeInvalidRequest, "ingress id and streaming key are required")
	}
	accessID, err := m.newID()
	if err != nil {
		return storage.StreamAccess{}, fmt.Errorf("generate access id: %w", err)
	}
	now := m.now()
	expiration := now.Add(m.accessTTL)
	access := storage.StreamAccess{
		ID:             accessID,
		PlaceID:        placeID,
		StreamingURL:   strings.TrimSpace(input.StreamingURL),
		StreamingKey:   strings.TrimSpace(input.StreamingKey),
		IngressID:      strings.TrimSpace(input.IngressID),
		CreatedAt:      now,
		Active:         true,
		ExpirationTime: &expiration,
	}
	if err := m.store.PutStreamAccess(ctx, access); err != nil {
		return storage.StreamAccess{}, fmt.Errorf("add streaming access: %w", err)
	}
	return access, nil
}

// RemoveAccess deletes the access row of a place.
func (m *Manager) RemoveAccess(ctx context.Context, placeID string) error {
	if err := m.ready(); err != nil {
		return err
	}
	if err := m.store.DeleteStreamAccess(ctx, strings.TrimSpace(placeID)); err != nil {
		return fmt.Errorf("remove streaming access: %w", err)
	}
	return nil
}

// GetExpiredStreamingKeys returns idle rows past their expiration time.
// Rows that are streaming are never returned.
func (m *Manager) GetExpiredStreamingKeys(ctx context.Context) ([]storage.StreamAccess, error) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	rows, err := m.store.ListExpiredStreamAccess(ctx, m.now())
	if err != nil {
		return nil, fmt.Errorf("list expired streaming keys: %w", err)
	}
	return rows, nil
}

// ListOverdueStreams returns streaming rows created more than the max
// duration ago.
func (m *Manager) ListOverdueStreams(ctx context.Context) ([]storage.StreamAccess, error) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	rows, err := m.store.ListStreamingCreatedBefore(ctx, m.now().Add(-m.maxDuration))
	if err != nil {
		return nil, fmt.Errorf("list overdue streams: %w", err)
	}
	return rows, nil
}

// KillStreaming deactivates the row bound to an ingress after its stream
// exceeded the max duration.
func (m *Manager) KillStreaming(ctx context.Context, ingressID string) error {
	if err := m.ready(); err != nil {
		return err
	}
	if err := m.store.DeactivateStreamAccess(ctx, ingressID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return apperrors.Wrap(apperrors.CodeNotFound, "streaming access not found", err)
		}
		return fmt.Errorf("kill streaming: %w", err)
	}
	return nil
}

// SetStreaming records that an ingress started or stopped receiving media.
func (m *Manager) SetStreaming(ctx context.Context, ingressID string, streaming bool) error {
	if err := m.ready(); err != nil {
		return err
	}
	if err := m.store.SetStreaming(ctx, ingressID, streaming, m.now()); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return apperrors.Wrap(apperrors.CodeNotFound, "streaming access not found", err)
		}
		return fmt.Errorf("set streaming: %w", err)
	}
	return nil
}

// ExpireAccess removes the ingress and then the row of an idle access.
func (m *Manager) ExpireAccess(ctx context.Context, access storage.StreamAccess) error {
	if err := m.ready(); err != nil {
		return err
	}
	if err := m.ingresses.RemoveIngress(ctx, access.IngressID); err != nil {
		return err
	}
	return m.RemoveAccess(ctx, access.PlaceID)
}

// EndOverdueStream removes the ingress of an overdue stream and
// deactivates its row.
func (m *Manager) EndOverdueStream(ctx context.Context, access storage.StreamAccess) error {
	if err := m.ready(); err != nil {
		return err
	}
	if err := m.ingresses.RemoveIngress(ctx, access.IngressID); err != nil {
		return err
	}
	return m.KillStreaming(ctx, access.IngressID)
}

// Request identifies the place, the manager asking and the room the
// ingress publishes into.
type Request struct {
	Place    place.Place
	Caller   string
	RoomName string
}

// GetOrCreate returns the place's streaming access, creating the ingress
// and row when none exists yet.
func (m *Manager) GetOrCreate(ctx context.Context, req Request) (AccessView, error) {
	if err := m.authorize(ctx, req); err != nil {
		return AccessView{}, err
	}
	existing, err := m.GetAccess(ctx, req.Place.ID)
	if err == nil {
		return m.view(existing), nil
	}
	if !apperrors.HasCode(err, apperrors.CodeStreamingAccessUnavailable) {
		return AccessView{}, err
	}

	ingress, err := m.ingresses.GetOrCreateIngress(ctx, req.RoomName, streamerIdentity(req.Place))
	if err != nil {
		return AccessView{}, err
	}
	return m.persist(ctx, req, ingress)
}

// Reset rotates the place's credentials. The previous ingress is removed
// before a new one is created, so the returned key always differs.
func (m *Manager) Reset(ctx context.Context, req Request) (AccessView, error) {
	if err := m.authorize(ctx, req); err != nil {
		return AccessView{}, err
	}
	existing, err := m.GetAccess(ctx, req.Place.ID)
	switch {
	case err == nil:
		if err := m.ingresses.RemoveIngress(ctx, existing.IngressID); err != nil {
			return AccessView{}, err
		}
		if err := m.RemoveAccess(ctx, req.Place.ID); err != nil {
			return AccessView{}, err
		}
	case !apperrors.HasCode(err, apperrors.CodeStreamingAccessUnavailable):
		return AccessView{}, err
	}

	ingress, err := m.ingresses.CreateIngress(ctx, req.RoomName, streamerIdentity(req.Place))
	if err != nil {
		return AccessView{}, err
	}
	view, err := m.persist(ctx, req, ingress)
	if err != nil {
		return AccessView{}, err
	}
	m.notify(ctx, NotificationKeyReset, req.Place)
	return view, nil
}

// Revoke removes the place's ingress and access row.
func (m *Manager) Revoke(ctx context.Context, req Request) error {
	if err := m.authorize(ctx, req); err != nil {
		return err
	}
	existing, err := m.GetAccess(ctx, req.Place.ID)
	if err != nil {
		if apperrors.HasCode(err, apperrors.CodeStreamingAccessUnavailable) {
			return apperrors.New(apperrors.CodeNotFound, "streaming access not found")
		}
		return err
	}
	if err := m.ExpireAccess(ctx, existing); err != nil {
		return err
	}
	m.notify(ctx, NotificationKeyRevoked, req.Place)
	return nil
}

// persist stores the access for a freshly obtained ingress. Losing the
// insert race adopts the winner's row and drops our ingress if it differs.
func (m *Manager) persist(ctx context.Context, req Request, ingress roomservice.Ingress) (AccessView, error) {
	access, err := m.AddAccess(ctx, AddAccessInput{
		PlaceID:      req.Place.ID,
		StreamingURL: ingress.URL,
		StreamingKey: ingress.StreamKey,
		IngressID:    ingress.ID,
	})
	if err == nil {
		m.fire(ctx, EventStreamingAccessAdded, req.Place, req.Caller)
		return m.view(access), nil
	}
	if !errors.Is(err, storage.ErrConflict) {
		return AccessView{}, err
	}

	winner, getErr := m.GetAccess(ctx, req.Place.ID)
	if getErr != nil {
		return AccessView{}, fmt.Errorf("read concurrent streaming access: %w", getErr)
	}
	if winner.IngressID != ingress.ID {
		if removeErr := m.ingresses.RemoveIngress(ctx, ingress.ID); removeErr != nil {
			log.Printf("streaming: remove duplicate ingress %s for place %s: %v", ingress.ID, req.Place.ID, removeErr)
		}
	}
	return m.view(winner), nil
}

func (m *Manager) authorize(ctx context.Context, req Request) error {
	if err := m.ready(); err != nil {
		return err
	}
	if m.ingresses == nil || m.gate == nil {
		return fmt.Errorf("streaming manager is not configured")
	}
	if strings.TrimSpace(req.Place.ID) == "" {
		return apperrors.New(apperrors.CodeInvalidRequest, "place is required")
	}
	if strings.TrimSpace(req.Caller) == "" {
		return apperrors.New(apperrors.CodeUnauthorized, "authentication required")
	}
	if strings.TrimSpace(req.RoomName) == "" {
		return apperrors.New(apperrors.CodeInvalidRequest, "room is required")
	}
	ok, err := m.gate.IsSceneOwnerOrAdmin(ctx, req.Place, req.Caller)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.New(apperrors.CodeUnauthorized, "you do not have permission to manage streaming for this place")
	}
	return nil
}

func (m *Manager) view(access storage.StreamAccess) AccessView {
	endsAt := access.CreatedAt.Add(m.accessTTL)
	if access.ExpirationTime != nil {
		endsAt = *access.ExpirationTime
	}
	return AccessView{
		StreamingURL: access.StreamingURL,
		StreamingKey: access.StreamingKey,
		CreatedAt:    access.CreatedAt,
		EndsAt:       endsAt,
	}
}

func (m *Manager) notify(ctx context.Context, notificationType string, p place.Place) {
	if m.notifier != nil {
		m.notifier.SendNotification(ctx, notificationType, p)
	}
}

func (m *Manager) fire(ctx context.Context, name string, p place.Place, caller string) {
	if m.analytics != nil {
		m.analytics.FireEvent(ctx, name, map[string]any{"place_id": p.ID, "created_by": strings.ToLower(strings.TrimSpace(caller))})
	}
}

func (m *Manager) ready() error {
	if m == nil || m.store == nil {
		return fmt.Errorf("streaming manager is not configured")
	}
	return nil
}

func (m *Manager) now() time.Time {
	return m.clock().UTC()
}

func streamerIdentity(p place.Place) string {
	return "streamer-" + p.ID
}
