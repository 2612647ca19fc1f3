// Package app wires the gatekeeper runtime: storage, room-service and lookup
// clients, the access gate HTTP server, the gRPC health server and the
// reconciliation sweeps.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	platformgrpc "github.com/louisbranch/gatekeeper/internal/platform/grpc"
	"github.com/louisbranch/gatekeeper/internal/platform/telemetry/metrics"
	"github.com/louisbranch/gatekeeper/internal/platform/timeouts"
	"github.com/louisbranch/gatekeeper/internal/services/gatekeeper/api/httpapi"
	"github.com/louisbranch/gatekeeper/internal/services/gatekeeper/domain/moderation"
	"github.com/louisbranch/gatekeeper/internal/services/gatekeeper/domain/permission"
	"github.com/louisbranch/gatekeeper/internal/services/gatekeeper/domain/sceneroom"
	"github.com/louisbranch/gatekeeper/internal/services/gatekeeper/domain/streaming"
	"github.com/louisbranch/gatekeeper/internal/services/gatekeeper/domain/voice"
	"github.com/louisbranch/gatekeeper/internal/services/gatekeeper/integration"
	"github.com/louisbranch/gatekeeper/internal/services/gatekeeper/roomservice"
	"github.com/louisbranch/gatekeeper/internal/services/gatekeeper/storage/sqlite"
	"github.com/louisbranch/gatekeeper/internal/services/gatekeeper/sweep"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
)

// Health components reported by the gRPC health server.
const (
	HealthComponentHTTP   = "gatekeeper.http"
	HealthComponentSweeps = "gatekeeper.sweeps"
)

const (
	defaultHTTPAddr   = ":8080"
	defaultHealthAddr = ":8081"
	defaultDBPath     = "data/gatekeeper.db"

	defaultCredentialsTTL = 5 * time.Minute
)

// RuntimeConfig controls gatekeeper startup and collaborators.
type RuntimeConfig struct {
	HTTPAddr   string
	HealthAddr string
	DBPath     string

	LiveKitURL        string
	LiveKitHost       string
	LiveKitAPIKey     string
	LiveKitAPISecret  string
	LiveKitIngressURL string

	PlacesAPIURL        string
	LandsAPIURL         string
	WorldsAPIURL        string
	NamesAPIURL         string
	NotificationsAPIURL string
	NotificationsToken  string
	AnalyticsAPIURL     string
	AnalyticsToken      string

	InternalToken  string
	IdentityHeader string

	CredentialsTTL        time.Duration
	PrivateVoiceGrace     time.Duration
	StreamAccessTTL       time.Duration
	StreamMaxDuration     time.Duration
	IdleSweepInterval     time.Duration
	DurationSweepInterval time.Duration
	BanCleanupInterval    time.Duration
	SweepsEnabled         bool

	RoomServiceTimeout time.Duration
	LookupTimeout      time.Duration
}

func (cfg RuntimeConfig) withDefaults() RuntimeConfig {
	if strings.TrimSpace(cfg.HTTPAddr) == "" {
		cfg.HTTPAddr = defaultHTTPAddr
	}
	if strings.TrimSpace(cfg.HealthAddr) == "" {
		cfg.HealthAddr = defaultHealthAddr
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		cfg.DBPath = defaultDBPath
	}
	if strings.TrimSpace(cfg.LiveKitHost) == "" {
		cfg.LiveKitHost = cfg.LiveKitURL
	}
	if cfg.CredentialsTTL <= 0 {
		cfg.CredentialsTTL = defaultCredentialsTTL
	}
	if cfg.RoomServiceTimeout <= 0 {
		cfg.RoomServiceTimeout = timeouts.RoomService
	}
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = timeouts.Lookup
	}
	return cfg
}

func (cfg RuntimeConfig) validate() error {
	required := []struct {
		name  string
		value string
	}{
		{"room service url", cfg.LiveKitURL},
		{"room service api key", cfg.LiveKitAPIKey},
		{"room service api secret", cfg.LiveKitAPISecret},
		{"places api url", cfg.PlacesAPIURL},
		{"lands api url", cfg.LandsAPIURL},
		{"worlds api url", cfg.WorldsAPIURL},
	}
	for _, field := range required {
		if strings.TrimSpace(field.value) == "" {
			return fmt.Errorf("%s is required", field.name)
		}
	}
	return nil
}

// runtime holds the assembled components of one gatekeeper process.
type runtime struct {
	cfg       RuntimeConfig
	store     *sqlite.Store
	handler   http.Handler
	sweeps    *sweep.Runner
	notifier  *integration.Notifications
	analytics *integration.Analytics
}

// Run starts the gatekeeper and blocks until ctx ends or a server fails.
func Run(ctx context.Context, cfg RuntimeConfig) error {
	if ctx == nil {
		ctx = context.Background()
	}
	rt, err := build(cfg)
	if err != nil {
		return err
	}
	defer rt.close()
	return rt.serve(ctx)
}

func build(cfg RuntimeConfig) (*runtime, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create gatekeeper storage dir: %w", err)
		}
	}
	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open gatekeeper sqlite store: %w", err)
	}
	rt := &runtime{cfg: cfg, store: store}
	if err := rt.wire(); err != nil {
		rt.close()
		return nil, err
	}
	return rt, nil
}

func (rt *runtime) wire() error {
	cfg := rt.cfg

	rooms, err := roomservice.NewLiveKit(roomservice.LiveKitConfig{
		Host:       cfg.LiveKitHost,
		APIKey:     cfg.LiveKitAPIKey,
		APISecret:  cfg.LiveKitAPISecret,
		IngressURL: cfg.LiveKitIngressURL,
		Timeout:    cfg.RoomServiceTimeout,
	})
	if err != nil {
		return fmt.Errorf("room service: %w", err)
	}
	signer, err := roomservice.NewCredentialSigner(cfg.LiveKitURL, cfg.LiveKitAPIKey, cfg.LiveKitAPISecret, cfg.CredentialsTTL)
	if err != nil {
		return fmt.Errorf("credential signer: %w", err)
	}

	httpClient := integration.NewHTTPClient(cfg.LookupTimeout)
	places, err := integration.NewPlaces(cfg.PlacesAPIURL, httpClient)
	if err != nil {
		return err
	}
	lands, err := integration.NewLands(cfg.LandsAPIURL, httpClient)
	if err != nil {
		return err
	}
	worlds, err := integration.NewWorlds(cfg.WorldsAPIURL, httpClient)
	if err != nil {
		return err
	}

	var names moderation.Names
	if strings.TrimSpace(cfg.NamesAPIURL) != "" {
		client, err := integration.NewNames(cfg.NamesAPIURL, httpClient)
		if err != nil {
			return err
		}
		names = client
	}

	var notifier streaming.Notifier
	if strings.TrimSpace(cfg.NotificationsAPIURL) != "" {
		rt.notifier, err = integration.NewNotifications(cfg.NotificationsAPIURL, cfg.NotificationsToken, httpClient)
		if err != nil {
			return err
		}
		notifier = rt.notifier
	} else {
		log.Printf("gatekeeper: notifications api not configured; owner notifications disabled")
	}

	var analytics moderation.Analytics
	if strings.TrimSpace(cfg.AnalyticsAPIURL) != "" {
		rt.analytics, err = integration.NewAnalytics(cfg.AnalyticsAPIURL, cfg.AnalyticsToken, httpClient)
		if err != nil {
			return err
		}
		analytics = rt.analytics
	}

	resolver := permission.NewResolver(lands, worlds, rt.store)
	mod := moderation.NewService(moderation.Deps{
		Store:       rt.store,
		Permissions: resolver,
		Rooms:       rooms,
		Places:      places,
		Names:       names,
		Analytics:   analytics,
	})
	streams := streaming.NewManager(streaming.Config{
		AccessTTL:   cfg.StreamAccessTTL,
		MaxDuration: cfg.StreamMaxDuration,
	}, streaming.Deps{
		Store:     rt.store,
		Ingresses: rooms,
		Gate:      resolver,
		Notifier:  notifier,
		Analytics: analytics,
	})
	sessions := voice.NewSessionManager(voice.Config{PrivateGrace: cfg.PrivateVoiceGrace}, voice.Deps{
		Store:       rt.store,
		Rooms:       rooms,
		Credentials: signer,
		Bans:        mod,
		Analytics:   analytics,
	})

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collected := metrics.New(registry)

	server := httpapi.NewServer(httpapi.Config{
		IdentityHeader: cfg.IdentityHeader,
		InternalToken:  cfg.InternalToken,
	}, httpapi.Deps{
		Places:         places,
		Moderation:     mod,
		Streaming:      streams,
		Sessions:       sessions,
		SceneRooms:     sceneroom.NewIssuer(places, mod, signer),
		Webhooks:       roomservice.NewWebhookReceiver(cfg.LiveKitAPIKey, cfg.LiveKitAPISecret),
		Metrics:        collected,
		MetricsHandler: metrics.Handler(registry),
	})
	rt.handler = otelhttp.NewHandler(server, "gatekeeper.http")

	if cfg.SweepsEnabled {
		sweepDeps := sweep.Deps{
			Streams: streams,
			Places:  places,
			Bans:    mod,
			Metrics: collected,
		}
		if rt.notifier != nil {
			sweepDeps.Notifier = rt.notifier
		}
		rt.sweeps = sweep.NewRunner(sweep.Config{
			IdleInterval:       cfg.IdleSweepInterval,
			DurationInterval:   cfg.DurationSweepInterval,
			BanCleanupInterval: cfg.BanCleanupInterval,
		}, sweepDeps)
	}
	return nil
}

func (rt *runtime) serve(ctx context.Context) error {
	httpListener, err := net.Listen("tcp", rt.cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen on http addr %s: %w", rt.cfg.HTTPAddr, err)
	}
	healthListener, err := net.Listen("tcp", rt.cfg.HealthAddr)
	if err != nil {
		_ = httpListener.Close()
		return fmt.Errorf("listen on health addr %s: %w", rt.cfg.HealthAddr, err)
	}

	httpServer := &http.Server{
		Handler:           rt.handler,
		ReadHeaderTimeout: timeouts.ReadHeader,
	}
	healthServer := platformgrpc.NewHealthServer(HealthComponentHTTP, HealthComponentSweeps)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := httpServer.Serve(httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		if err := healthServer.Serve(healthListener); err != nil {
			return fmt.Errorf("serve health: %w", err)
		}
		return nil
	})
	if rt.sweeps != nil {
		group.Go(func() error {
			return rt.sweeps.Run(groupCtx)
		})
	}
	group.Go(func() error {
		<-groupCtx.Done()
		healthServer.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("gatekeeper: http shutdown: %v", err)
		}
		return nil
	})

	serving := []string{HealthComponentHTTP}
	if rt.sweeps != nil {
		serving = append(serving, HealthComponentSweeps)
	}
	healthServer.MarkServing(serving...)
	log.Printf("gatekeeper http listening at %v", httpListener.Addr())
	log.Printf("gatekeeper health listening at %v", healthListener.Addr())

	err = group.Wait()
	rt.drain()
	return err
}

// drain waits for in-flight notifications and analytics deliveries.
func (rt *runtime) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
	defer cancel()
	if rt.notifier != nil {
		if err := rt.notifier.Wait(ctx); err != nil {
			log.Printf("gatekeeper: %v", err)
		}
	}
	if rt.analytics != nil {
		if err := rt.analytics.Wait(ctx); err != nil {
			log.Printf("gatekeeper: %v", err)
		}
	}
}

func (rt *runtime) close() {
	if rt.store == nil {
		return
	}
	if err := rt.store.Close(); err != nil {
		log.Printf("close gatekeeper sqlite store: %v", err)
	}
}
