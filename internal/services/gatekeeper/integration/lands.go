package integration

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/louisbranch/gatekeeper/internal/services/gatekeeper/domain/permission"
)

// Lands reads land permissions from the lands API.
type Lands struct {
	c *client
}

// NewLands builds a lands client.
func NewLands(baseURL string, httpClient *http.Client) (*Lands, error) {
	c, err := newClient(baseURL, "", httpClient)
	if err != nil {
		return nil, fmt.Errorf("lands client: %w", err)
	}
	return &Lands{c: c}, nil
}

type landPermissions struct {
	Owner          bool `json:"owner"`
	Operator       bool `json:"operator"`
	UpdateOperator bool `json:"updateOperator"`
	UpdateManager  bool `json:"updateManager"`
	ApprovedForAll bool `json:"approvedForAll"`
}

// GetLandPermissions reports the permissions of an address over parcels.
func (l *Lands) GetLandPermissions(ctx context.Context, address string, positions []string) (permission.LandPermissions, error) {
	query := url.Values{}
	for _, position := range positions {
		query.Add("positions", position)
	}
	var out landPermissions
	path := "/lands/" + url.PathEscape(strings.ToLower(strings.TrimSpace(address))) + "/permissions"
	if err := l.c.getJSON(ctx, path, query, &out); err != nil {
		return permission.LandPermissions{}, fmt.Errorf("get land permissions: %w", err)
	}
	return permission.LandPermissions(out), nil
}
