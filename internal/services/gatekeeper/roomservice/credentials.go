package roomservice

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/livekit/protocol/auth"
)

// Grant is the set of room capabilities encoded in an access token.
type Grant struct {
	CanPublish           bool
	CanSubscribe         bool
	CanPublishData       bool
	CanUpdateOwnMetadata bool
	Hidden               bool
}

// SceneGrant is what a visitor of a scene or world room receives.
func SceneGrant() Grant {
	return Grant{CanPublish: true, CanSubscribe: true, CanPublishData: true, CanUpdateOwnMetadata: true}
}

// PreviewGrant is what a scene preview session receives.
func PreviewGrant() Grant {
	return Grant{CanSubscribe: true, CanPublishData: true}
}

// Credentials is the connection material for one room.
type Credentials struct {
	URL   string
	Token string
}

// ConnectionString renders the adapter string clients pass to their
// transport, "livekit:<url>?access_token=<token>".
func (c Credentials) ConnectionString() string {
	return "livekit:" + c.URL + "?access_token=" + url.QueryEscape(c.Token)
}

// CredentialSigner issues room-service access tokens.
type CredentialSigner struct {
	url       string
	apiKey    string
	apiSecret string
	ttl       time.Duration
}

// NewCredentialSigner builds a signer for the given room-service project.
func NewCredentialSigner(serverURL, apiKey, apiSecret string, ttl time.Duration) (*CredentialSigner, error) {
	serverURL = strings.TrimSpace(serverURL)
	apiKey = strings.TrimSpace(apiKey)
	if serverURL == "" {
		return nil, fmt.Errorf("room service url is required")
	}
	if apiKey == "" || strings.TrimSpace(apiSecret) == "" {
		return nil, fmt.Errorf("room service api key and secret are required")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("credentials ttl must be positive")
	}
	return &CredentialSigner{
		url:       serverURL,
		apiKey:    apiKey,
		apiSecret: apiSecret,
		ttl:       ttl,
	}, nil
}

// Generate signs a token that lets identity join room with grant.
func (s *CredentialSigner) Generate(identity, room string, grant Grant, metadata string) (Credentials, error) {
	if s == nil {
		return Credentials{}, fmt.Errorf("credential signer is not configured")
	}
	identity = strings.ToLower(strings.TrimSpace(identity))
	room = strings.TrimSpace(room)
	if identity == "" {
		return Credentials{}, fmt.Errorf("identity is required")
	}
	if room == "" {
		return Credentials{}, fmt.Errorf("room is required")
	}

	video := &auth.VideoGrant{RoomJoin: true, Room: room, Hidden: grant.Hidden}
	// Explicit false matters: an unset permission defaults to allowed.
	video.SetCanPublish(grant.CanPublish)
	video.SetCanSubscribe(grant.CanSubscribe)
	video.SetCanPublishData(grant.CanPublishData)
	video.SetCanUpdateOwnMetadata(grant.CanUpdateOwnMetadata)

	token, err := auth.NewAccessToken(s.apiKey, s.apiSecret).
		SetIdentity(identity).
		SetName(identity).
		SetValidFor(s.ttl).
		SetMetadata(metadata).
		AddGrant(video).
		ToJWT()
	if err != nil {
		return Credentials{}, fmt.Errorf("sign access token: %w", err)
	}
	return Credentials{URL: s.url, Token: token}, nil
}
