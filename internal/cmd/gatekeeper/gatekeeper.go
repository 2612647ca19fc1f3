// Package gatekeeper parses gatekeeper command flags and launches the runtime.
package gatekeeper

import (
	"context"
	"flag"
	"time"

	entrypoint "github.com/louisbranch/gatekeeper/internal/platform/cmd"
	"github.com/louisbranch/gatekeeper/internal/platform/config"
	"github.com/louisbranch/gatekeeper/internal/services/gatekeeper/app"
)

// Config holds gatekeeper command configuration.
type Config struct {
	HTTPAddr   string `env:"GATEKEEPER_HTTP_ADDR" envDefault:":8080"`
	HealthAddr string `env:"GATEKEEPER_HEALTH_ADDR" envDefault:":8081"`
	DBPath     string `env:"GATEKEEPER_DB_PATH" envDefault:"data/gatekeeper.db"`

	LiveKitURL        string `env:"GATEKEEPER_LIVEKIT_URL"`
	LiveKitHost       string `env:"GATEKEEPER_LIVEKIT_HOST"`
	LiveKitAPIKey     string `env:"GATEKEEPER_LIVEKIT_API_KEY"`
	LiveKitAPISecret  string `env:"GATEKEEPER_LIVEKIT_API_SECRET"`
	LiveKitIngressURL string `env:"GATEKEEPER_LIVEKIT_INGRESS_URL"`

	PlacesAPIURL        string `env:"GATEKEEPER_PLACES_API_URL"`
	LandsAPIURL         string `env:"GATEKEEPER_LANDS_API_URL"`
	WorldsAPIURL        string `env:"GATEKEEPER_WORLDS_API_URL"`
	NamesAPIURL         string `env:"GATEKEEPER_NAMES_API_URL"`
	NotificationsAPIURL string `env:"GATEKEEPER_NOTIFICATIONS_API_URL"`
	NotificationsToken  string `env:"GATEKEEPER_NOTIFICATIONS_API_TOKEN"`
	AnalyticsAPIURL     string `env:"GATEKEEPER_ANALYTICS_API_URL"`
	AnalyticsToken      string `env:"GATEKEEPER_ANALYTICS_API_TOKEN"`

	InternalToken  string `env:"GATEKEEPER_INTERNAL_API_TOKEN"`
	IdentityHeader string `env:"GATEKEEPER_IDENTITY_HEADER" envDefault:"X-Identity-Address"`

	CredentialsTTL        time.Duration `env:"GATEKEEPER_CREDENTIALS_TTL" envDefault:"5m"`
	PrivateVoiceGrace     time.Duration `env:"GATEKEEPER_PRIVATE_VOICE_GRACE" envDefault:"1h"`
	StreamAccessTTL       time.Duration `env:"GATEKEEPER_STREAM_ACCESS_TTL" envDefault:"96h"`
	StreamMaxDuration     time.Duration `env:"GATEKEEPER_STREAM_MAX_DURATION" envDefault:"4h"`
	IdleSweepInterval     time.Duration `env:"GATEKEEPER_IDLE_SWEEP_INTERVAL" envDefault:"10m"`
	DurationSweepInterval time.Duration `env:"GATEKEEPER_DURATION_SWEEP_INTERVAL" envDefault:"1m"`
	BanCleanupInterval    time.Duration `env:"GATEKEEPER_BAN_CLEANUP_INTERVAL" envDefault:"24h"`
	SweepsEnabled         bool          `env:"GATEKEEPER_SWEEPS_ENABLED" envDefault:"true"`

	RoomServiceTimeout time.Duration `env:"GATEKEEPER_ROOM_SERVICE_TIMEOUT" envDefault:"5s"`
	LookupTimeout      time.Duration `env:"GATEKEEPER_LOOKUP_TIMEOUT" envDefault:"5s"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "The access gate HTTP listen address")
	fs.StringVar(&cfg.HealthAddr, "health-addr", cfg.HealthAddr, "The gRPC health server listen address")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "The gatekeeper SQLite database path")
	fs.StringVar(&cfg.LiveKitURL, "livekit-url", cfg.LiveKitURL, "The room service URL handed to clients")
	fs.StringVar(&cfg.LiveKitHost, "livekit-host", cfg.LiveKitHost, "The room service API host (defaults to the room service URL)")
	fs.StringVar(&cfg.PlacesAPIURL, "places-api-url", cfg.PlacesAPIURL, "The places API base URL")
	fs.StringVar(&cfg.LandsAPIURL, "lands-api-url", cfg.LandsAPIURL, "The lands API base URL")
	fs.StringVar(&cfg.WorldsAPIURL, "worlds-api-url", cfg.WorldsAPIURL, "The worlds API base URL")
	fs.StringVar(&cfg.NamesAPIURL, "names-api-url", cfg.NamesAPIURL, "The names API base URL")
	fs.DurationVar(&cfg.PrivateVoiceGrace, "private-voice-grace", cfg.PrivateVoiceGrace, "How long a disconnected private voice participant stays busy")
	fs.DurationVar(&cfg.StreamAccessTTL, "stream-access-ttl", cfg.StreamAccessTTL, "Idle lifetime of a streaming key")
	fs.DurationVar(&cfg.StreamMaxDuration, "stream-max-duration", cfg.StreamMaxDuration, "Maximum duration of one stream")
	fs.BoolVar(&cfg.SweepsEnabled, "sweeps", cfg.SweepsEnabled, "Run the reconciliation sweeps in this instance")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the required settings that are still blank.
func (cfg Config) Validate() error {
	return config.RequireValues(map[string]string{
		"GATEKEEPER_LIVEKIT_URL":        cfg.LiveKitURL,
		"GATEKEEPER_LIVEKIT_API_KEY":    cfg.LiveKitAPIKey,
		"GATEKEEPER_LIVEKIT_API_SECRET": cfg.LiveKitAPISecret,
		"GATEKEEPER_PLACES_API_URL":     cfg.PlacesAPIURL,
		"GATEKEEPER_LANDS_API_URL":      cfg.LandsAPIURL,
		"GATEKEEPER_WORLDS_API_URL":     cfg.WorldsAPIURL,
	})
}

// Run validates cfg and starts the gatekeeper runtime.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceGatekeeper, cfg, func(context.Context) error {
		return app.Run(ctx, cfg.runtimeConfig())
	})
}

func (cfg Config) runtimeConfig() app.RuntimeConfig {
	return app.RuntimeConfig{
		HTTPAddr:              cfg.HTTPAddr,
		HealthAddr:            cfg.HealthAddr,
		DBPath:                cfg.DBPath,
		LiveKitURL:            cfg.LiveKitURL,
		LiveKitHost:           cfg.LiveKitHost,
		LiveKitAPIKey:         cfg.LiveKitAPIKey,
		LiveKitAPISecret:      cfg.LiveKitAPISecret,
		LiveKitIngressURL:     cfg.LiveKitIngressURL,
		PlacesAPIURL:          cfg.PlacesAPIURL,
		LandsAPIURL:           cfg.LandsAPIURL,
		WorldsAPIURL:          cfg.WorldsAPIURL,
		NamesAPIURL:           cfg.NamesAPIURL,
		NotificationsAPIURL:   cfg.NotificationsAPIURL,
		NotificationsToken:    cfg.NotificationsToken,
		AnalyticsAPIURL:       cfg.AnalyticsAPIURL,
		AnalyticsToken:        cfg.AnalyticsToken,
		InternalToken:         cfg.InternalToken,
		IdentityHeader:        cfg.IdentityHeader,
		CredentialsTTL:        cfg.CredentialsTTL,
		PrivateVoiceGrace:     cfg.PrivateVoiceGrace,
		StreamAccessTTL:       cfg.StreamAccessTTL,
		StreamMaxDuration:     cfg.StreamMaxDuration,
		IdleSweepInterval:     cfg.IdleSweepInterval,
		DurationSweepInterval: cfg.DurationSweepInterval,
		BanCleanupInterval:    cfg.BanCleanupInterval,
		SweepsEnabled:         cfg.SweepsEnabled,
		RoomServiceTimeout:    cfg.RoomServiceTimeout,
		LookupTimeout:         cfg.LookupTimeout,
	}
}
