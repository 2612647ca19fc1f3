package httpapi

import (
	"context"
	"net/http"
	"strings"

	apperrors "github.com/louisbranch/gatekeeper/internal/platform/errors"
	"github.com/louisbranch/gatekeeper/internal/services/gatekeeper/domain/streaming"
	"github.com/louisbranch/gatekeeper/internal/services/gatekeeper/roomservice"
)

type streamAccessResponse struct {
	StreamingURL string `json:"streaming_url"`
	StreamingKey string `json:"streaming_key"`
	CreatedAt    int64  `json:"created_at"`
	EndsAt       int64  `json:"ends_at"`
}

// streamRequest resolves the place and the room its ingress publishes to.
// Worlds stream into their world room; scenes into the room of the deployed
// scene named by the realm and scene_id query parameters.
func (s *Server) streamRequest(r *http.Request) (streaming.Request, error) {
	p, address, err := s.placeAndCaller(r)
	if err != nil {
		return streaming.Request{}, err
	}
	req := streaming.Request{Place: p, Caller: address}
	if room, ok := roomservice.PlaceRoomName(p); ok {
		req.RoomName = room
		return req, nil
	}
	query := r.URL.Query()
	sceneID := strings.TrimSpace(query.Get("scene_id"))
	if sceneID == "" {
		return streaming.Request{}, apperrors.New(apperrors.CodeInvalidRequest, "scene_id is required for scene streaming")
	}
	req.RoomName = roomservice.SceneRoomName(query.Get("realm"), sceneID, p.BasePosition)
	return req, nil
}

func (s *Server) handleGetStreamAccess(w http.ResponseWriter, r *http.Request) {
	s.streamAccess(w, r, s.streaming.GetOrCreate)
}

func (s *Server) handleResetStreamAccess(w http.ResponseWriter, r *http.Request) {
	s.streamAccess(w, r, s.streaming.Reset)
}

func (s *Server) streamAccess(w http.ResponseWriter, r *http.Request, get func(ctx context.Context, req streaming.Request) (streaming.AccessView, error)) {
	req, err := s.streamRequest(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	view, err := get(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, streamAccessResponse{
		StreamingURL: view.StreamingURL,
		StreamingKey: view.StreamingKey,
		CreatedAt:    millis(view.CreatedAt),
		EndsAt:       millis(view.EndsAt),
	})
}

func (s *Server) handleRevokeStreamAccess(w http.ResponseWriter, r *http.Request) {
	req, err := s.streamRequest(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.streaming.Revoke(r.Context(), req); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
