// Package timeouts defines shared timeout constants used across the gatekeeper.
// Every outbound call gets a bound so a hung collaborator cannot stall a
// request or a sweep.
package timeouts

import "time"

// RoomService caps a single call to the media-room service API.
const RoomService = 5 * time.Second

// Lookup caps a single call to a places, lands, worlds or names collaborator.
const Lookup = 5 * time.Second

// Dispatch caps a fire-and-forget notification or analytics delivery.
const Dispatch = 3 * time.Second

// ReadHeader limits how long an HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long an HTTP server waits for in-flight requests
// during graceful shutdown.
const Shutdown = 5 * time.Second
