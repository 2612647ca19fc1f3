// Package permission computes what an address may do on a place.
//
// The resolver owns no state. Every answer comes from the land, world and
// admin collaborators, so each call may hit a remote service; callers that
// need several facts should ask for Permissions once instead of calling the
// individual checks repeatedly.
package permission

import (
	"context"
	"fmt"
	"strings"

	apperrors "github.com/louisbranch/gatekeeper/internal/platform/errors"
	"github.com/louisbranch/gatekeeper/internal/services/gatekeeper/domain/place"
	"golang.org/x/sync/errgroup"
)

// LandPermissions is the permission bitset of an address over a set of
// parcels as reported by the land collaborator.
type LandPermissions struct {
	Owner          bool
	Operator       bool
	UpdateOperator bool
	UpdateManager  bool
	ApprovedForAll bool
}

// LandLookup reports land permissions for an address over parcels.
type LandLookup interface {
	GetLandPermissions(ctx context.Context, address string, positions []string) (LandPermissions, error)
}

// WorldLookup reports world permissions for an address.
type WorldLookup interface {
	HasWorldOwnerPermission(ctx context.Context, address string, worldName string) (bool, error)
	HasWorldStreamingPermission(ctx context.Context, address string, worldName string) (bool, error)
	HasWorldDeployPermission(ctx context.Context, address string, worldName string) (bool, error)
}

// AdminLookup reports active admin grants.
type AdminLookup interface {
	IsAdmin(ctx context.Context, placeID string, address string) (bool, error)
}

// Permissions is the resolved privilege set of one address on one place.
type Permissions struct {
	Owner                  bool
	Admin                  bool
	HasExtendedPermissions bool
}

// Privileged reports whether any of the three privileges is held.
func (p Permissions) Privileged() bool {
	return p.Owner || p.Admin || p.HasExtendedPermissions
}

// Resolver answers permission questions for places.
type Resolver struct {
	lands  LandLookup
	worlds WorldLookup
	admins AdminLookup
}

// NewResolver builds a resolver over the given collaborators.
func NewResolver(lands LandLookup, worlds WorldLookup, admins AdminLookup) *Resolver {
	return &Resolver{lands: lands, worlds: worlds, admins: admins}
}

// IsSceneOwner reports whether address owns the place. Worlds are checked by
// name, scenes by their parcels.
func (r *Resolver) IsSceneOwner(ctx context.Context, p place.Place, address string) (bool, error) {
	address, err := r.prepare(p, address)
	if err != nil {
		return false, err
	}
	if p.IsWorld {
		owner, err := r.worlds.HasWorldOwnerPermission(ctx, address, place.NormalizeWorldName(p.WorldName))
		if err != nil {
			return false, fmt.Errorf("world owner permission: %w", err)
		}
		return owner, nil
	}
	land, err := r.lands.GetLandPermissions(ctx, address, p.Positions)
	if err != nil {
		return false, fmt.Errorf("land permissions: %w", err)
	}
	return land.Owner, nil
}

// ResolveUserScenePermissions resolves owner, admin and extended status.
// The extended check is skipped for admins. On land the single permission
// lookup answers both owner and operator status.
func (r *Resolver) ResolveUserScenePermissions(ctx context.Context, p place.Place, address string) (Permissions, error) {
	address, err := r.prepare(p, address)
	if err != nil {
		return Permissions{}, err
	}
	worldName := place.NormalizeWorldName(p.WorldName)

	var perms Permissions
	var land LandPermissions
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		admin, err := r.admins.IsAdmin(groupCtx, p.ID, address)
		if err != nil {
			return fmt.Errorf("admin lookup: %w", err)
		}
		perms.Admin = admin
		return nil
	})
	if p.IsWorld {
		group.Go(func() error {
			owner, err := r.worlds.HasWorldOwnerPermission(groupCtx, address, worldName)
			if err != nil {
				return fmt.Errorf("world owner permission: %w", err)
			}
			perms.Owner = owner
			return nil
		})
	} else {
		group.Go(func() error {
			result, err := r.lands.GetLandPermissions(groupCtx, address, p.Positions)
			if err != nil {
				return fmt.Errorf("land permissions: %w", err)
			}
			land = result
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return Permissions{}, err
	}
	if !p.IsWorld {
		perms.Owner = land.Owner
	}
	if perms.Admin {
		return perms, nil
	}

	if !p.IsWorld {
		perms.HasExtendedPermissions = land.Operator
		return perms, nil
	}

	var streaming, deploy bool
	group, groupCtx = errgroup.WithContext(ctx)
	group.Go(func() error {
		var err error
		streaming, err = r.worlds.HasWorldStreamingPermission(groupCtx, address, worldName)
		if err != nil {
			return fmt.Errorf("world streaming permission: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		var err error
		deploy, err = r.worlds.HasWorldDeployPermission(groupCtx, address, worldName)
		if err != nil {
			return fmt.Errorf("world deploy permission: %w", err)
		}
		return nil
	})
	if err := group.Wait(); err != nil {
		return Permissions{}, err
	}
	perms.HasExtendedPermissions = streaming || deploy
	return perms, nil
}

// IsSceneOwnerOrAdmin is the "may manage this place" gate. It also admits
// extended-permission holders; code that needs strict owner or admin
// semantics must inspect Permissions instead.
func (r *Resolver) IsSceneOwnerOrAdmin(ctx context.Context, p place.Place, address string) (bool, error) {
	perms, err := r.ResolveUserScenePermissions(ctx, p, address)
	if err != nil {
		return false, err
	}
	return perms.Privileged(), nil
}

func (r *Resolver) prepare(p place.Place, address string) (string, error) {
	if r == nil || r.lands == nil || r.worlds == nil || r.admins == nil {
		return "", fmt.Errorf("permission resolver is not configured")
	}
	address = strings.ToLower(strings.TrimSpace(address))
	if address == "" {
		return "", apperrors.New(apperrors.CodeInvalidRequest, "address is required")
	}
	if p.IsWorld && strings.TrimSpace(p.WorldName) == "" {
		return "", apperrors.New(apperrors.CodeInvalidRequest, "world name is required")
	}
	if !p.IsWorld && len(p.Positions) == 0 {
		return "", apperrors.New(apperrors.CodeInvalidRequest, "place positions are required")
	}
	return address, nil
}
