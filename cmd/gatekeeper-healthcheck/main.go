// Package main probes the gatekeeper gRPC health server for container
// health checks. It exits non-zero unless the component reports SERVING.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	platformgrpc "github.com/louisbranch/gatekeeper/internal/platform/grpc"
	"github.com/louisbranch/gatekeeper/internal/services/gatekeeper/app"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:8081", "The gatekeeper health server address")
	service := flag.String("service", app.HealthComponentHTTP, "The health component to check")
	timeout := flag.Duration("timeout", 3*time.Second, "How long to wait for SERVING")
	flag.Parse()
	log.SetPrefix("[GATEKEEPER-HEALTHCHECK] ")

	if err := platformgrpc.Probe(context.Background(), *addr, *service, *timeout); err != nil {
		log.Fatalf("unhealthy: %v", err)
	}
}
