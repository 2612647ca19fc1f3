package httpapi

import (
	"net/http"

	"github.com/louisbranch/gatekeeper/internal/services/gatekeeper/domain/voice"
)

func (s *Server) handleVoiceChatStatus(w http.ResponseWriter, r *http.Request) {
	inChat, err := s.sessions.IsUserInVoiceChat(r.Context(), r.PathValue("address"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"is_user_in_voice_chat": inChat})
}

type privateVoiceChatRequest struct {
	RoomID        string   `json:"room_id"`
	UserAddresses []string `json:"user_addresses"`
}

func (s *Server) handleCreatePrivateVoiceChat(w http.ResponseWriter, r *http.Request) {
	var body privateVoiceChatRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	connections, err := s.sessions.CreatePrivateVoiceChat(r.Context(), body.RoomID, body.UserAddresses)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make(map[string]map[string]string, len(connections))
	for address, connection := range connections {
		out[address] = map[string]string{"connection_url": connection}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleEndPrivateVoiceChat(w http.ResponseWriter, r *http.Request) {
	addresses, err := s.sessions.EndPrivateVoiceChat(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"users_in_voice_chat": addresses})
}

type communityJoinRequest struct {
	CommunityID string `json:"community_id"`
	UserAddress string `json:"user_address"`
	Action      string `json:"action"`
}

func (s *Server) handleJoinCommunityVoiceChat(w http.ResponseWriter, r *http.Request) {
	var body communityJoinRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	connection, err := s.sessions.JoinCommunityVoiceChat(r.Context(), body.CommunityID, body.UserAddress, voice.CommunityAction(body.Action))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"connection_url": connection})
}

func (s *Server) handleCommunityStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.sessions.GetCommunityVoiceChatStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"active":            status.Active,
		"participant_count": status.ParticipantCount,
		"moderator_count":   status.ModeratorCount,
	})
}

type moderatorRequest struct {
	CallerAddress string `json:"caller_address"`
	Muted         *bool  `json:"muted,omitempty"`
	Requesting    *bool  `json:"is_requesting_to_speak,omitempty"`
}

func (s *Server) moderatorRequest(w http.ResponseWriter, r *http.Request) (moderatorRequest, bool) {
	var body moderatorRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, r, err)
		return moderatorRequest{}, false
	}
	return body, true
}

func (s *Server) handleEndCommunityVoiceChat(w http.ResponseWriter, r *http.Request) {
	body, ok := s.moderatorRequest(w, r)
	if !ok {
		return
	}
	if err := s.sessions.EndCommunityVoiceChat(r.Context(), r.PathValue("id"), body.CallerAddress); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type communityAction func(r *http.Request, communityID string, caller string, target string) error

func (s *Server) moderate(action communityAction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, ok := s.moderatorRequest(w, r)
		if !ok {
			return
		}
		if err := action(r, r.PathValue("id"), body.CallerAddress, r.PathValue("address")); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handlePromote(w http.ResponseWriter, r *http.Request) {
	s.moderate(func(r *http.Request, id, caller, target string) error {
		return s.sessions.PromoteSpeaker(r.Context(), id, caller, target)
	})(w, r)
}

func (s *Server) handleDemote(w http.ResponseWriter, r *http.Request) {
	s.moderate(func(r *http.Request, id, caller, target string) error {
		return s.sessions.DemoteSpeaker(r.Context(), id, caller, target)
	})(w, r)
}

func (s *Server) handleKick(w http.ResponseWriter, r *http.Request) {
	s.moderate(func(r *http.Request, id, caller, target string) error {
		return s.sessions.KickPlayer(r.Context(), id, caller, target)
	})(w, r)
}

func (s *Server) handleMute(w http.ResponseWriter, r *http.Request) {
	body, ok := s.moderatorRequest(w, r)
	if !ok {
		return
	}
	muted := true
	if body.Muted != nil {
		muted = *body.Muted
	}
	if err := s.sessions.MuteSpeaker(r.Context(), r.PathValue("id"), body.CallerAddress, r.PathValue("address"), muted); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSpeakRequest(w http.ResponseWriter, r *http.Request) {
	body, ok := s.moderatorRequest(w, r)
	if !ok {
		return
	}
	requesting := true
	if body.Requesting != nil {
		requesting = *body.Requesting
	}
	if err := s.sessions.RequestToSpeak(r.Context(), r.PathValue("id"), r.PathValue("address"), requesting); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
