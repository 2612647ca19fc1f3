package httpapi

import (
	"errors"
	"log"
	"net/http"

	apperrors "github.com/louisbranch/gatekeeper/internal/platform/errors"
	"github.com/louisbranch/gatekeeper/internal/services/gatekeeper/roomservice"
)

// handleWebhook applies one room-service event. Events for rooms or types
// the gate does not manage are acknowledged so the room service stops
// redelivering them.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	event, err := s.webhooks.Receive(r)
	switch {
	case errors.Is(err, roomservice.ErrInvalidWebhook):
		s.countEvent("unknown", "rejected")
		writeError(w, r, apperrors.Wrap(apperrors.CodeUnauthorized, "invalid webhook signature", err))
		return
	case errors.Is(err, roomservice.ErrUnknownRoom), errors.Is(err, roomservice.ErrUnsupportedEvent):
		s.countEvent("unknown", "ignored")
		log.Printf("httpapi: webhook ignored: %v", err)
		w.WriteHeader(http.StatusOK)
		return
	case err != nil:
		s.countEvent("unknown", "rejected")
		writeError(w, r, apperrors.Wrap(apperrors.CodeInvalidRequest, "malformed webhook event", err))
		return
	}

	switch e := event.(type) {
	case roomservice.IngressStarted:
		err = s.streaming.SetStreaming(r.Context(), e.IngressID, true)
	case roomservice.IngressEnded:
		err = s.streaming.SetStreaming(r.Context(), e.IngressID, false)
	default:
		err = s.sessions.HandleEvent(r.Context(), event)
	}
	if apperrors.HasCode(err, apperrors.CodeNotFound) {
		log.Printf("httpapi: webhook %s: %v", event.Type(), err)
		err = nil
	}
	if err != nil {
		s.countEvent(event.Type(), "error")
		writeError(w, r, err)
		return
	}
	s.countEvent(event.Type(), "ok")
	w.WriteHeader(http.StatusOK)
}

func (s *Server) countEvent(eventType string, outcome string) {
	s.metrics.WebhookEvents.WithLabelValues(eventType, outcome).Inc()
}
