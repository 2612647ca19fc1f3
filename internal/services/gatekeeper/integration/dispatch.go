package integration

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/louisbranch/gatekeeper/internal/platform/timeouts"
	"github.com/louisbranch/gatekeeper/internal/services/gatekeeper/domain/place"
)

// dispatcher runs deliveries in the background, detached from the caller's
// cancellation and bounded by its own timeout.
type dispatcher struct {
	name    string
	timeout time.Duration
	wg      sync.WaitGroup
}

func (d *dispatcher) send(ctx context.Context, deliver func(context.Context) error) {
	detached := context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		callCtx, cancel := context.WithTimeout(detached, d.timeout)
		defer cancel()
		if err := deliver(callCtx); err != nil {
			log.Printf("%s: deliver: %v", d.name, err)
		}
	}()
}

// Wait blocks until pending deliveries finish or ctx ends.
func (d *dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%s: wait for deliveries: %w", d.name, ctx.Err())
	}
}

// Notifications sends place notifications to the notifications API.
type Notifications struct {
	dispatcher
	c *client
}

// NewNotifications builds a notifications client.
func NewNotifications(baseURL string, token string, httpClient *http.Client) (*Notifications, error) {
	c, err := newClient(baseURL, token, httpClient)
	if err != nil {
		return nil, fmt.Errorf("notifications client: %w", err)
	}
	return &Notifications{dispatcher: dispatcher{name: "notifications", timeout: timeouts.Dispatch}, c: c}, nil
}

type notification struct {
	Type     string         `json:"type"`
	Address  string         `json:"address,omitempty"`
	Metadata map[string]any `json:"metadata"`
}

// SendNotification notifies the owner of a place. Delivery is fire and
// forget; failures are logged.
func (n *Notifications) SendNotification(ctx context.Context, notificationType string, p place.Place) {
	if n == nil {
		return
	}
	body := notification{
		Type:    notificationType,
		Address: strings.ToLower(p.Owner),
		Metadata: map[string]any{
			"place_id":   p.ID,
			"title":      p.Label(),
			"is_world":   p.IsWorld,
			"world_name": p.WorldName,
			"position":   p.BasePosition,
		},
	}
	n.send(ctx, func(ctx context.Context) error {
		return n.c.postJSON(ctx, "/notifications", body, nil)
	})
}

// Analytics forwards events to the analytics API.
type Analytics struct {
	dispatcher
	c *client
}

// NewAnalytics builds an analytics client.
func NewAnalytics(baseURL string, token string, httpClient *http.Client) (*Analytics, error) {
	c, err := newClient(baseURL, token, httpClient)
	if err != nil {
		return nil, fmt.Errorf("analytics client: %w", err)
	}
	return &Analytics{dispatcher: dispatcher{name: "analytics", timeout: timeouts.Dispatch}, c: c}, nil
}

type analyticsEvent struct {
	Event string         `json:"event"`
	Body  map[string]any `json:"body"`
}

// FireEvent records an event. Delivery is fire and forget; failures are logged.
func (a *Analytics) FireEvent(ctx context.Context, name string, payload map[string]any) {
	if a == nil {
		return
	}
	event := analyticsEvent{Event: name, Body: payload}
	a.send(ctx, func(ctx context.Context) error {
		return a.c.postJSON(ctx, "/events", event, nil)
	})
}
