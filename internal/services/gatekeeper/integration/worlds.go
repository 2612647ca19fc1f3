package integration

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/louisbranch/gatekeeper/internal/services/gatekeeper/domain/place"
)

const unrestricted = "unrestricted"

// Worlds reads world ownership and permission lists from the worlds API.
type Worlds struct {
	c *client
}

// NewWorlds builds a worlds client.
func NewWorlds(baseURL string, httpClient *http.Client) (*Worlds, error) {
	c, err := newClient(baseURL, "", httpClient)
	if err != nil {
		return nil, fmt.Errorf("worlds client: %w", err)
	}
	return &Worlds{c: c}, nil
}

type worldPermission struct {
	Type    string   `json:"type"`
	Wallets []string `json:"wallets"`
}

func (p worldPermission) allows(address string) bool {
	if p.Type == unrestricted {
		return true
	}
	return slices.ContainsFunc(p.Wallets, func(wallet string) bool {
		return strings.EqualFold(wallet, address)
	})
}

type worldPermissions struct {
	Owner       string `json:"owner"`
	Permissions struct {
		Deployment worldPermission `json:"deployment"`
		Streaming  worldPermission `json:"streaming"`
	} `json:"permissions"`
}

func (w *Worlds) permissions(ctx context.Context, worldName string) (worldPermissions, bool, error) {
	var out worldPermissions
	path := "/world/" + url.PathEscape(place.NormalizeWorldName(worldName)) + "/permissions"
	err := w.c.getJSON(ctx, path, nil, &out)
	if errors.Is(err, errNotFound) {
		return worldPermissions{}, false, nil
	}
	if err != nil {
		return worldPermissions{}, false, fmt.Errorf("get world permissions: %w", err)
	}
	return out, true, nil
}

// HasWorldOwnerPermission reports whether address owns the world name.
func (w *Worlds) HasWorldOwnerPermission(ctx context.Context, address string, worldName string) (bool, error) {
	perms, ok, err := w.permissions(ctx, worldName)
	if err != nil || !ok {
		return false, err
	}
	return perms.Owner != "" && strings.EqualFold(perms.Owner, address), nil
}

// HasWorldStreamingPermission reports whether address may stream in the world.
func (w *Worlds) HasWorldStreamingPermission(ctx context.Context, address string, worldName string) (bool, error) {
	perms, ok, err := w.permissions(ctx, worldName)
	if err != nil || !ok {
		return false, err
	}
	return perms.Permissions.Streaming.allows(address), nil
}

// HasWorldDeployPermission reports whether address may deploy to the world.
// An unrestricted deployment list grants nothing.
func (w *Worlds) HasWorldDeployPermission(ctx context.Context, address string, worldName string) (bool, error) {
	perms, ok, err := w.permissions(ctx, worldName)
	if err != nil || !ok {
		return false, err
	}
	deployment := perms.Permissions.Deployment
	if deployment.Type == unrestricted {
		return false, nil
	}
	return deployment.allows(address), nil
}
