package integration

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	apperrors "github.com/louisbranch/gatekeeper/internal/platform/errors"
)

// Names resolves names to their owning addresses and back.
type Names struct {
	c *client
}

// NewNames builds a names client.
func NewNames(baseURL string, httpClient *http.Client) (*Names, error) {
	c, err := newClient(baseURL, "", httpClient)
	if err != nil {
		return nil, fmt.Errorf("names client: %w", err)
	}
	return &Names{c: c}, nil
}

// AddressForName returns the owner address of a name.
func (n *Names) AddressForName(ctx context.Context, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", apperrors.New(apperrors.CodeInvalidRequest, "name is required")
	}
	var out struct {
		Owner string `json:"owner"`
	}
	err := n.c.getJSON(ctx, "/names/"+url.PathEscape(name)+"/owner", nil, &out)
	if errors.Is(err, errNotFound) || (err == nil && out.Owner == "") {
		return "", apperrors.New(apperrors.CodeNotFound, "name not found")
	}
	if err != nil {
		return "", fmt.Errorf("get name owner: %w", err)
	}
	return strings.ToLower(out.Owner), nil
}

// NamesForAddresses returns the display names of the addresses that have one.
func (n *Names) NamesForAddresses(ctx context.Context, addresses []string) (map[string]string, error) {
	names := make(map[string]string, len(addresses))
	if len(addresses) == 0 {
		return names, nil
	}
	var out struct {
		Data []struct {
			Address string `json:"address"`
			Name    string `json:"name"`
		} `json:"data"`
	}
	if err := n.c.postJSON(ctx, "/names/lookup", map[string][]string{"addresses": addresses}, &out); err != nil {
		return nil, fmt.Errorf("lookup names: %w", err)
	}
	for _, row := range out.Data {
		if row.Name != "" {
			names[strings.ToLower(row.Address)] = row.Name
		}
	}
	return names, nil
}
