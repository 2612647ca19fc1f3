package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	apperrors "github.com/louisbranch/gatekeeper/internal/platform/errors"
	"github.com/louisbranch/gatekeeper/internal/platform/requestctx"
	"github.com/louisbranch/gatekeeper/internal/services/gatekeeper/domain/moderation"
	"github.com/louisbranch/gatekeeper/internal/services/gatekeeper/domain/place"
	"github.com/louisbranch/gatekeeper/internal/services/gatekeeper/domain/sceneroom"
	"github.com/louisbranch/gatekeeper/internal/services/gatekeeper/storage"
)

const defaultBanPageLimit = 20

// resolvePlace locates the place addressed by the world_name or parcel
// query parameter.
func (s *Server) resolvePlace(r *http.Request) (place.Place, error) {
	query := r.URL.Query()
	if worldName := place.NormalizeWorldName(query.Get("world_name")); worldName != "" {
		return s.places.GetPlaceByWorldName(r.Context(), worldName)
	}
	if parcel := place.NormalizeParcel(query.Get("parcel")); parcel != "" {
		return s.places.GetPlaceByParcel(r.Context(), parcel)
	}
	return place.Place{}, apperrors.New(apperrors.CodeInvalidRequest, "world_name or parcel is required")
}

// placeAndCaller authenticates the caller, then resolves the place.
func (s *Server) placeAndCaller(r *http.Request) (place.Place, string, error) {
	address, err := caller(r)
	if err != nil {
		return place.Place{}, "", err
	}
	p, err := s.resolvePlace(r)
	if err != nil {
		return place.Place{}, "", err
	}
	return p, address, nil
}

type sceneAdapterRequest struct {
	Realm     string `json:"realm"`
	SceneID   string `json:"scene_id"`
	Parcel    string `json:"parcel"`
	WorldName string `json:"world_name"`
	Preview   bool   `json:"preview"`
	Metadata  string `json:"metadata"`
}

func (s *Server) handleSceneAdapter(w http.ResponseWriter, r *http.Request) {
	var body sceneAdapterRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	adapter, err := s.sceneRooms.Issue(r.Context(), sceneroom.Request{
		Identity:  requestctx.AddressFromContext(r.Context()),
		Realm:     body.Realm,
		SceneID:   body.SceneID,
		Parcel:    body.Parcel,
		WorldName: body.WorldName,
		Preview:   body.Preview,
		Metadata:  body.Metadata,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"adapter": adapter})
}

type adminResponse struct {
	ID        string `json:"id"`
	PlaceID   string `json:"place_id"`
	Admin     string `json:"admin"`
	Name      string `json:"name,omitempty"`
	AddedBy   string `json:"added_by"`
	Active    bool   `json:"active"`
	CreatedAt int64  `json:"created_at"`
}

func adminFrom(admin storage.SceneAdmin, name string) adminResponse {
	return adminResponse{
		ID:        admin.ID,
		PlaceID:   admin.PlaceID,
		Admin:     admin.Admin,
		Name:      name,
		AddedBy:   admin.AddedBy,
		Active:    admin.Active,
		CreatedAt: millis(admin.CreatedAt),
	}
}

type adminRequest struct {
	Admin string `json:"admin"`
	Name  string `json:"name"`
}

func (s *Server) handleListAdmins(w http.ResponseWriter, r *http.Request) {
	p, address, err := s.placeAndCaller(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	admins, err := s.moderation.ListAdmins(r.Context(), p, address, r.URL.Query().Get("admin"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]adminResponse, 0, len(admins))
	for _, admin := range admins {
		out = append(out, adminFrom(admin.SceneAdmin, admin.Name))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAddAdmin(w http.ResponseWriter, r *http.Request) {
	p, address, err := s.placeAndCaller(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var body adminRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	admin, err := s.moderation.AddAdmin(r.Context(), p, address, moderation.Target{Address: body.Admin, Name: body.Name})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, adminFrom(admin, strings.TrimSpace(body.Name)))
}

func (s *Server) handleRemoveAdmin(w http.ResponseWriter, r *http.Request) {
	p, address, err := s.placeAndCaller(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var body adminRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.moderation.RemoveAdmin(r.Context(), p, address, moderation.Target{Address: body.Admin, Name: body.Name}); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type banResponse struct {
	PlaceID       string `json:"place_id"`
	BannedAddress string `json:"banned_address"`
	Name          string `json:"name,omitempty"`
	BannedBy      string `json:"banned_by"`
	BannedAt      int64  `json:"banned_at"`
}

type banPageResponse struct {
	Results []banResponse `json:"results"`
	Total   int           `json:"total"`
	Limit   int           `json:"limit"`
	Offset  int           `json:"offset"`
}

type banRequest struct {
	BannedAddress string `json:"banned_address"`
	BannedName    string `json:"banned_name"`
}

func (s *Server) handleListBans(w http.ResponseWriter, r *http.Request) {
	p, address, err := s.placeAndCaller(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	page, err := pageFromQuery(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	bans, err := s.moderation.ListBans(r.Context(), p, address, page)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := banPageResponse{Results: make([]banResponse, 0, len(bans.Bans)), Total: bans.Total, Limit: page.Limit, Offset: page.Offset}
	for _, ban := range bans.Bans {
		out.Results = append(out.Results, banResponse{
			PlaceID:       ban.PlaceID,
			BannedAddress: ban.BannedAddress,
			Name:          ban.Name,
			BannedBy:      ban.BannedBy,
			BannedAt:      millis(ban.BannedAt),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleListBannedAddresses(w http.ResponseWriter, r *http.Request) {
	p, address, err := s.placeAndCaller(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	addresses, err := s.moderation.ListBannedAddresses(r.Context(), p, address)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if addresses == nil {
		addresses = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"addresses": addresses})
}

func (s *Server) handleAddBan(w http.ResponseWriter, r *http.Request) {
	s.mutateBan(w, r, s.moderation.AddBan)
}

func (s *Server) handleRemoveBan(w http.ResponseWriter, r *http.Request) {
	s.mutateBan(w, r, s.moderation.RemoveBan)
}

func (s *Server) mutateBan(w http.ResponseWriter, r *http.Request, apply func(ctx context.Context, p place.Place, caller string, target moderation.Target) error) {
	p, address, err := s.placeAndCaller(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var body banRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	if err := apply(r.Context(), p, address, moderation.Target{Address: body.BannedAddress, Name: body.BannedName}); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func pageFromQuery(r *http.Request) (storage.Page, error) {
	page := storage.Page{Limit: defaultBanPageLimit}
	query := r.URL.Query()
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > 100 {
			return storage.Page{}, apperrors.New(apperrors.CodeInvalidRequest, "limit must be between 1 and 100")
		}
		page.Limit = limit
	}
	if raw := strings.TrimSpace(query.Get("offset")); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return storage.Page{}, apperrors.New(apperrors.CodeInvalidRequest, "offset must be a non-negative integer")
		}
		page.Offset = offset
	}
	return page, nil
}
