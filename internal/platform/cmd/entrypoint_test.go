package cmd

import (
	"context"
	"errors"
	"flag"
	"strings"
	"testing"
)

type testConfig struct {
	Address string `env:"CMD_TEST_ADDRESS" envDefault:"127.0.0.1:8080"`
	Mode    string `env:"CMD_TEST_MODE" envDefault:"server"`
}

type validatedConfig struct {
	err error
}

func (c validatedConfig) Validate() error { return c.err }

func TestParseConfigThenArgsOverridesEnv(t *testing.T) {
	t.Setenv("CMD_TEST_ADDRESS", "env:9000")
	t.Setenv("CMD_TEST_MODE", "env-mode")

	var cfg testConfig
	if err := ParseConfig(&cfg); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.StringVar(&cfg.Address, "address", cfg.Address, "address")
	fs.StringVar(&cfg.Mode, "mode", cfg.Mode, "mode")
	if err := ParseArgs(fs, []string{"-address", "flag:9001"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	if cfg.Address != "flag:9001" {
		t.Fatalf("address = %q, want %q", cfg.Address, "flag:9001")
	}
	if cfg.Mode != "env-mode" {
		t.Fatalf("mode = %q, want %q", cfg.Mode, "env-mode")
	}
}

func TestParseRejectsNilTargets(t *testing.T) {
	if err := ParseArgs(nil, nil); err == nil {
		t.Fatal("expected nil flag parser to fail")
	}
	if err := ParseConfig[testConfig](nil); err == nil {
		t.Fatal("expected nil config target to fail")
	}
}

func TestRunWithTelemetryValidatesInput(t *testing.T) {
	noop := func(context.Context) error { return nil }
	if err := RunWithTelemetry(context.Background(), " ", nil, noop); err == nil {
		t.Fatal("expected empty service name to fail")
	}
	if err := RunWithTelemetry(context.Background(), ServiceGatekeeper, nil, nil); err == nil {
		t.Fatal("expected nil run function to fail")
	}
}

func TestRunWithTelemetryValidatesConfigFirst(t *testing.T) {
	ran := false
	err := RunWithTelemetry(context.Background(), ServiceGatekeeper, validatedConfig{err: errors.New("missing settings: X")}, func(context.Context) error {
		ran = true
		return nil
	})
	if err == nil || !strings.Contains(err.Error(), "missing settings: X") {
		t.Fatalf("err = %v, want validation error", err)
	}
	if ran {
		t.Fatal("expected run to be skipped on invalid config")
	}
}

func TestRunWithTelemetryReturnsRunError(t *testing.T) {
	t.Setenv("GATEKEEPER_OTEL_ENDPOINT", "")
	want := errors.New("stop")
	err := RunWithTelemetry(context.Background(), ServiceGatekeeper, validatedConfig{}, func(context.Context) error { return want })
	if !errors.Is(err, want) {
		t.Fatalf("err = %v, want %v", err, want)
	}
}
