// Package sceneroom issues connection credentials for scene, world and
// preview rooms.
package sceneroom

import (
	"context"
	"fmt"
	"strings"

	apperrors "github.com/louisbranch/gatekeeper/internal/platform/errors"
	"github.com/louisbranch/gatekeeper/internal/services/gatekeeper/domain/place"
	"github.com/louisbranch/gatekeeper/internal/services/gatekeeper/roomservice"
)

// Places resolves the place a room belongs to.
type Places interface {
	GetPlaceByParcel(ctx context.Context, parcel string) (place.Place, error)
	GetPlaceByWorldName(ctx context.Context, worldName string) (place.Place, error)
}

// Bans reports whether an address is banned from a place.
type Bans interface {
	IsBanned(ctx context.Context, placeID string, address string) (bool, error)
}

// CredentialIssuer signs room tokens.
type CredentialIssuer interface {
	Generate(identity, room string, grant roomservice.Grant, metadata string) (roomservice.Credentials, error)
}

// Request describes who wants to join which room. WorldName selects a
// world room; otherwise Parcel and SceneID select a scene room in Realm.
type Request struct {
	Identity  string
	Realm     string
	SceneID   string
	Parcel    string
	WorldName string
	Preview   bool
	Metadata  string
}

// Issuer resolves rooms and signs their credentials.
type Issuer struct {
	places      Places
	bans        Bans
	credentials CredentialIssuer
}

// NewIssuer builds an issuer.
func NewIssuer(places Places, bans Bans, credentials CredentialIssuer) *Issuer {
	return &Issuer{places: places, bans: bans, credentials: credentials}
}

// Issue returns the adapter connection string for the requested room.
// Banned addresses are rejected with CodeUnauthorized. Preview sessions skip
// place resolution and ban checks.
func (i *Issuer) Issue(ctx context.Context, req Request) (string, error) {
	if i == nil || i.credentials == nil {
		return "", fmt.Errorf("scene room issuer is not configured")
	}
	identity := strings.ToLower(strings.TrimSpace(req.Identity))
	if identity == "" {
		return "", apperrors.New(apperrors.CodeUnauthorized, "authentication required")
	}

	room, grant, err := i.resolve(ctx, identity, req)
	if err != nil {
		return "", err
	}
	creds, err := i.credentials.Generate(identity, room, grant, req.Metadata)
	if err != nil {
		return "", fmt.Errorf("generate credentials for %s: %w", identity, err)
	}
	return creds.ConnectionString(), nil
}

func (i *Issuer) resolve(ctx context.Context, identity string, req Request) (string, roomservice.Grant, error) {
	sceneID := strings.TrimSpace(req.SceneID)
	if req.Preview {
		if sceneID == "" {
			return "", roomservice.Grant{}, apperrors.New(apperrors.CodeInvalidRequest, "scene id is required")
		}
		return roomservice.PreviewRoomName(sceneID), roomservice.PreviewGrant(), nil
	}
	if i.places == nil || i.bans == nil {
		return "", roomservice.Grant{}, fmt.Errorf("scene room issuer is not configured")
	}

	var (
		p    place.Place
		room string
		err  error
	)
	if worldName := place.NormalizeWorldName(req.WorldName); worldName != "" {
		p, err = i.places.GetPlaceByWorldName(ctx, worldName)
		if err != nil {
			return "", roomservice.Grant{}, err
		}
		room = roomservice.WorldRoomName(worldName)
	} else {
		parcel := place.NormalizeParcel(req.Parcel)
		if parcel == "" || sceneID == "" {
			return "", roomservice.Grant{}, apperrors.New(apperrors.CodeInvalidRequest, "parcel and scene id are required")
		}
		p, err = i.places.GetPlaceByParcel(ctx, parcel)
		if err != nil {
			return "", roomservice.Grant{}, err
		}
		base := p.BasePosition
		if place.NormalizeParcel(base) == "" {
			base = parcel
		}
		room = roomservice.SceneRoomName(req.Realm, sceneID, base)
	}

	banned, err := i.bans.IsBanned(ctx, p.ID, identity)
	if err != nil {
		return "", roomservice.Grant{}, fmt.Errorf("check ban of %s on %s: %w", identity, p.ID, err)
	}
	if banned {
		return "", roomservice.Grant{}, apperrors.New(apperrors.CodeUnauthorized, "user is banned from this place")
	}
	return room, roomservice.SceneGrant(), nil
}
