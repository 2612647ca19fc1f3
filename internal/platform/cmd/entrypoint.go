// Package cmd holds the startup steps shared by gatekeeper binaries: env
// defaults, flag overrides, validation and a telemetry-wrapped run loop.
package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/louisbranch/gatekeeper/internal/platform/config"
	"github.com/louisbranch/gatekeeper/internal/platform/otel"
)

// ServiceGatekeeper identifies the gatekeeper process in telemetry.
const ServiceGatekeeper = "gatekeeper"

const telemetryFlushTimeout = 5 * time.Second

// Validator is implemented by command configs that check required settings
// once env and flags are applied.
type Validator interface {
	Validate() error
}

// ParseConfig loads environment defaults into cfg.
func ParseConfig[T any](cfg *T) error {
	if cfg == nil {
		return errors.New("config target is required")
	}
	return config.ParseEnv(cfg)
}

// ParseArgs applies command-line flags on top of the env defaults.
func ParseArgs(fs *flag.FlagSet, args []string) error {
	if fs == nil {
		return errors.New("flag parser is required")
	}
	if args == nil {
		args = []string{}
	}
	return fs.Parse(args)
}

// RunWithTelemetry installs the trace provider for service, runs run and
// flushes spans on the way out. A cfg that implements Validator is checked
// before any telemetry is set up.
func RunWithTelemetry(ctx context.Context, service string, cfg any, run func(context.Context) error) error {
	service = strings.TrimSpace(service)
	if service == "" {
		return fmt.Errorf("service name is required")
	}
	if run == nil {
		return fmt.Errorf("run function is required")
	}
	if v, ok := cfg.(Validator); ok {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("%s config: %w", service, err)
		}
	}

	shutdown, err := otel.Setup(ctx, service)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), telemetryFlushTimeout)
		defer cancel()
		if err := shutdown(flushCtx); err != nil {
			log.Printf("%s: otel shutdown: %v", service, err)
		}
	}()
	return run(ctx)
}
