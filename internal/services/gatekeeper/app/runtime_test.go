package app

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	platformgrpc "github.com/louisbranch/gatekeeper/internal/platform/grpc"
)

func testConfig(t *testing.T) RuntimeConfig {
	t.Helper()
	return RuntimeConfig{
		DBPath:           filepath.Join(t.TempDir(), "nested", "gatekeeper.db"),
		LiveKitURL:       "wss://rooms.test",
		LiveKitHost:      "https://rooms.test",
		LiveKitAPIKey:    "key",
		LiveKitAPISecret: "secret-secret-secret-secret-secret",
		PlacesAPIURL:     "http://places.test",
		LandsAPIURL:      "http://lands.test",
		WorldsAPIURL:     "http://worlds.test",
		InternalToken:    "internal",
		SweepsEnabled:    true,
	}
}

func TestBuildRejectsMissingCollaborators(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*RuntimeConfig)
	}{
		{name: "room service url", mutate: func(cfg *RuntimeConfig) { cfg.LiveKitURL = "" }},
		{name: "room service api key", mutate: func(cfg *RuntimeConfig) { cfg.LiveKitAPIKey = " " }},
		{name: "room service api secret", mutate: func(cfg *RuntimeConfig) { cfg.LiveKitAPISecret = "" }},
		{name: "places api url", mutate: func(cfg *RuntimeConfig) { cfg.PlacesAPIURL = "" }},
		{name: "lands api url", mutate: func(cfg *RuntimeConfig) { cfg.LandsAPIURL = "" }},
		{name: "worlds api url", mutate: func(cfg *RuntimeConfig) { cfg.WorldsAPIURL = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig(t)
			tc.mutate(&cfg)
			_, err := build(cfg)
			if err == nil {
				t.Fatal("expected build error")
			}
			if !strings.Contains(err.Error(), tc.name) {
				t.Fatalf("err = %v, want mention of %q", err, tc.name)
			}
		})
	}
}

func TestBuildServesHealthAndMetrics(t *testing.T) {
	rt, err := build(testConfig(t))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(rt.close)

	rec := httptest.NewRecorder()
	rt.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d, want %d", rec.Code, http.StatusOK)
	}

	rec = httptest.NewRecorder()
	rt.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status = %d, want %d", rec.Code, http.StatusOK)
	}
	if !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Fatal("expected runtime collectors in metrics output")
	}

	rec = httptest.NewRecorder()
	rt.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/users/0xa/voice-chat-status", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("internal route status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestBuildSweepsToggle(t *testing.T) {
	cfg := testConfig(t)
	cfg.SweepsEnabled = false
	rt, err := build(cfg)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(rt.close)
	if rt.sweeps != nil {
		t.Fatal("expected sweeps to be disabled")
	}
	if rt.notifier != nil || rt.analytics != nil {
		t.Fatal("expected optional dispatchers to stay unset without urls")
	}
}

func TestRunServesUntilCanceled(t *testing.T) {
	cfg := testConfig(t)
	cfg.HTTPAddr = freeAddr(t)
	cfg.HealthAddr = freeAddr(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, cfg)
	}()

	for _, component := range []string{"", HealthComponentHTTP, HealthComponentSweeps} {
		if err := platformgrpc.Probe(context.Background(), cfg.HealthAddr, component, 3*time.Second); err != nil {
			t.Fatalf("probe %q: %v", component, err)
		}
	}
	resp, err := http.Get("http://" + cfg.HTTPAddr + "/health")
	if err != nil {
		t.Fatalf("get health: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop after cancel")
	}
}

func freeAddr(t *testing.T) string {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := listener.Addr().String()
	_ = listener.Close()
	return addr
}
