package roomservice

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/livekit/protocol/auth"
	"github.com/livekit/protocol/webhook"
)

// ErrInvalidWebhook marks a webhook request whose signature or body could
// not be verified.
var ErrInvalidWebhook = errors.New("invalid webhook request")

// WebhookReceiver verifies room-service webhooks and decodes them.
type WebhookReceiver struct {
	provider auth.KeyProvider
}

// NewWebhookReceiver verifies webhooks signed with the project credentials.
func NewWebhookReceiver(apiKey, apiSecret string) *WebhookReceiver {
	return &WebhookReceiver{provider: auth.NewSimpleKeyProvider(apiKey, apiSecret)}
}

// Receive verifies and decodes one webhook request.
func (w *WebhookReceiver) Receive(r *http.Request) (Event, error) {
	if w == nil || w.provider == nil {
		return nil, fmt.Errorf("webhook receiver is not configured")
	}
	ev, err := webhook.ReceiveWebhookEvent(r, w.provider)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWebhook, err)
	}
	return DecodeEvent(ev)
}
