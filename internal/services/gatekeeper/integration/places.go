package integration

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	apperrors "github.com/louisbranch/gatekeeper/internal/platform/errors"
	"github.com/louisbranch/gatekeeper/internal/services/gatekeeper/domain/place"
)

type placeRecord struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	Positions    []string `json:"positions"`
	BasePosition string   `json:"base_position"`
	World        bool     `json:"world"`
	WorldName    string   `json:"world_name"`
	Disabled     bool     `json:"disabled"`
	Owner        string   `json:"owner"`
}

func (r placeRecord) place() place.Place {
	return place.Place{
		ID:           r.ID,
		Title:        r.Title,
		Positions:    r.Positions,
		BasePosition: r.BasePosition,
		WorldName:    r.WorldName,
		IsWorld:      r.World,
		Disabled:     r.Disabled,
		Owner:        strings.ToLower(r.Owner),
	}
}

type placeList struct {
	Data []placeRecord `json:"data"`
}

type placeOne struct {
	Data placeRecord `json:"data"`
}

type statusList struct {
	Data []struct {
		ID           string `json:"id"`
		Disabled     bool   `json:"disabled"`
		World        bool   `json:"world"`
		WorldName    string `json:"world_name"`
		BasePosition string `json:"base_position"`
	} `json:"data"`
}

// Places reads places from the places API.
type Places struct {
	c *client
}

// NewPlaces builds a places client.
func NewPlaces(baseURL string, httpClient *http.Client) (*Places, error) {
	c, err := newClient(baseURL, "", httpClient)
	if err != nil {
		return nil, fmt.Errorf("places client: %w", err)
	}
	return &Places{c: c}, nil
}

// GetPlaceByParcel returns the scene place covering a parcel.
func (p *Places) GetPlaceByParcel(ctx context.Context, parcel string) (place.Place, error) {
	parcel = place.NormalizeParcel(parcel)
	var list placeList
	if err := p.c.getJSON(ctx, "/places", url.Values{"positions": {parcel}}, &list); err != nil {
		return place.Place{}, placeError(err, "get place by parcel "+parcel)
	}
	return firstPlace(list)
}

// GetPlaceByWorldName returns the place of a world.
func (p *Places) GetPlaceByWorldName(ctx context.Context, worldName string) (place.Place, error) {
	worldName = place.NormalizeWorldName(worldName)
	var list placeList
	if err := p.c.getJSON(ctx, "/worlds", url.Values{"names": {worldName}}, &list); err != nil {
		return place.Place{}, placeError(err, "get world "+worldName)
	}
	return firstPlace(list)
}

// GetPlaceByID returns a place by id.
func (p *Places) GetPlaceByID(ctx context.Context, id string) (place.Place, error) {
	var one placeOne
	if err := p.c.getJSON(ctx, "/places/"+url.PathEscape(strings.TrimSpace(id)), nil, &one); err != nil {
		return place.Place{}, placeError(err, "get place "+id)
	}
	if one.Data.ID == "" {
		return place.Place{}, apperrors.New(apperrors.CodeNotFound, "place not found")
	}
	return one.Data.place(), nil
}

// GetPlaceStatusByIDs returns the enabled state of the given places. Ids the
// API does not know are absent from the result.
func (p *Places) GetPlaceStatusByIDs(ctx context.Context, ids []string) ([]place.Status, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var list statusList
	if err := p.c.postJSON(ctx, "/places/status", ids, &list); err != nil {
		return nil, fmt.Errorf("get place status: %w", err)
	}
	statuses := make([]place.Status, 0, len(list.Data))
	for _, row := range list.Data {
		statuses = append(statuses, place.Status{
			ID:           row.ID,
			Disabled:     row.Disabled,
			IsWorld:      row.World,
			WorldName:    row.WorldName,
			BasePosition: row.BasePosition,
		})
	}
	return statuses, nil
}

func firstPlace(list placeList) (place.Place, error) {
	if len(list.Data) == 0 {
		return place.Place{}, apperrors.New(apperrors.CodeNotFound, "place not found")
	}
	return list.Data[0].place(), nil
}

func placeError(err error, op string) error {
	if errors.Is(err, errNotFound) {
		return apperrors.New(apperrors.CodeNotFound, "place not found")
	}
	return fmt.Errorf("%s: %w", op, err)
}
