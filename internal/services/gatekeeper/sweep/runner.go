// Package sweep runs the periodic reconciliation jobs of the gatekeeper:
// the idle streaming-key sweep, the max-duration stream sweep and the
// disabled-place ban cleanup.
//
// Every run processes its items independently. A failing item is logged and
// counted, and the run moves on to the next one.
package sweep

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/louisbranch/gatekeeper/internal/platform/otel"
	"github.com/louisbranch/gatekeeper/internal/platform/telemetry/metrics"
	"github.com/louisbranch/gatekeeper/internal/services/gatekeeper/domain/place"
	"github.com/louisbranch/gatekeeper/internal/services/gatekeeper/domain/streaming"
	"github.com/louisbranch/gatekeeper/internal/services/gatekeeper/storage"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Default cadences.
const (
	DefaultIdleInterval       = 10 * time.Minute
	DefaultDurationInterval   = time.Minute
	DefaultBanCleanupInterval = 24 * time.Hour
	DefaultItemTimeout        = 30 * time.Second
)

// Streams is the streaming access surface the sweeps drive.
type Streams interface {
	GetExpiredStreamingKeys(ctx context.Context) ([]storage.StreamAccess, error)
	ExpireAccess(ctx context.Context, access storage.StreamAccess) error
	ListOverdueStreams(ctx context.Context) ([]storage.StreamAccess, error)
	EndOverdueStream(ctx context.Context, access storage.StreamAccess) error
}

// Places resolves the place of an access row for notifications.
type Places interface {
	GetPlaceByID(ctx context.Context, id string) (place.Place, error)
}

// Notifier delivers fire-and-forget notifications about a place.
type Notifier interface {
	SendNotification(ctx context.Context, notificationType string, p place.Place)
}

// BanCleaner drops the bans of disabled places.
type BanCleaner interface {
	RemoveBansFromDisabledPlaces(ctx context.Context) (int64, error)
}

// Config sets the sweep cadences. Zero values take the defaults.
type Config struct {
	IdleInterval       time.Duration
	DurationInterval   time.Duration
	BanCleanupInterval time.Duration
	ItemTimeout        time.Duration
}

// Deps wires the runner. Places, Notifier, Bans and Metrics are optional.
type Deps struct {
	Streams  Streams
	Places   Places
	Notifier Notifier
	Bans     BanCleaner
	Metrics  *metrics.Collectors
}

// Runner schedules and executes the sweeps.
type Runner struct {
	cfg      Config
	streams  Streams
	places   Places
	notifier Notifier
	bans     BanCleaner
	metrics  *metrics.Collectors
	tracer   trace.Tracer

	durationRunning atomic.Bool
}

// NewRunner builds a sweep runner.
func NewRunner(cfg Config, deps Deps) *Runner {
	if cfg.IdleInterval <= 0 {
		cfg.IdleInterval = DefaultIdleInterval
	}
	if cfg.DurationInterval <= 0 {
		cfg.DurationInterval = DefaultDurationInterval
	}
	if cfg.BanCleanupInterval <= 0 {
		cfg.BanCleanupInterval = DefaultBanCleanupInterval
	}
	if cfg.ItemTimeout <= 0 {
		cfg.ItemTimeout = DefaultItemTimeout
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New(nil)
	}
	return &Runner{
		cfg:      cfg,
		streams:  deps.Streams,
		places:   deps.Places,
		notifier: deps.Notifier,
		bans:     deps.Bans,
		metrics:  deps.Metrics,
		tracer:   otel.Tracer("gatekeeper/sweep"),
	}
}

// Run starts every sweep loop and blocks until ctx ends.
func (r *Runner) Run(ctx context.Context) error {
	if r == nil || r.streams == nil {
		return fmt.Errorf("sweep runner is not configured")
	}
	var wg sync.WaitGroup
	loop := func(interval time.Duration, run func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.every(ctx, interval, run)
		}()
	}
	loop(r.cfg.IdleInterval, func(ctx context.Context) { r.SweepIdle(ctx) })
	loop(r.cfg.DurationInterval, func(ctx context.Context) { r.SweepOverdue(ctx) })
	if r.bans != nil {
		loop(r.cfg.BanCleanupInterval, func(ctx context.Context) { r.CleanupBans(ctx) })
	}
	wg.Wait()
	return nil
}

func (r *Runner) every(ctx context.Context, interval time.Duration, run func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			run(ctx)
		}
	}
}

// SweepIdle expires streaming keys past their expiration that are not
// streaming. It returns how many keys were expired.
func (r *Runner) SweepIdle(ctx context.Context) int {
	ctx, span := r.tracer.Start(ctx, "sweep.idle_ttl")
	defer span.End()
	r.metrics.SweepRuns.WithLabelValues(metrics.SweepIdle).Inc()

	expired, err := r.streams.GetExpiredStreamingKeys(ctx)
	if err != nil {
		r.runFailed(span, metrics.SweepIdle, err)
		return 0
	}
	done := r.each(ctx, metrics.SweepIdle, expired, func(ctx context.Context, access storage.StreamAccess) error {
		p, found := r.place(ctx, metrics.SweepIdle, access.PlaceID)
		if err := r.streams.ExpireAccess(ctx, access); err != nil {
			return err
		}
		if found {
			r.notify(ctx, streaming.NotificationKeyExpired, p)
		}
		return nil
	})
	span.SetAttributes(attribute.Int("sweep.candidates", len(expired)), attribute.Int("sweep.processed", done))
	return done
}

// SweepOverdue ends streams running longer than the maximum duration. A run
// that starts while the previous one is still in progress is skipped and
// reports ok=false.
func (r *Runner) SweepOverdue(ctx context.Context) (done int, ok bool) {
	if !r.durationRunning.CompareAndSwap(false, true) {
		r.metrics.SweepSkipped.WithLabelValues(metrics.SweepDuration).Inc()
		log.Printf("max duration sweep: previous run still in progress, skipping")
		return 0, false
	}
	defer r.durationRunning.Store(false)

	ctx, span := r.tracer.Start(ctx, "sweep.max_duration")
	defer span.End()
	r.metrics.SweepRuns.WithLabelValues(metrics.SweepDuration).Inc()

	overdue, err := r.streams.ListOverdueStreams(ctx)
	if err != nil {
		r.runFailed(span, metrics.SweepDuration, err)
		return 0, true
	}
	done = r.each(ctx, metrics.SweepDuration, overdue, func(ctx context.Context, access storage.StreamAccess) error {
		if err := r.streams.EndOverdueStream(ctx, access); err != nil {
			return err
		}
		if p, found := r.place(ctx, metrics.SweepDuration, access.PlaceID); found {
			r.notify(ctx, streaming.NotificationTimeExceeded, p)
		}
		return nil
	})
	span.SetAttributes(attribute.Int("sweep.candidates", len(overdue)), attribute.Int("sweep.processed", done))
	return done, true
}

// CleanupBans removes the bans of places that have been disabled.
func (r *Runner) CleanupBans(ctx context.Context) int64 {
	if r.bans == nil {
		return 0
	}
	ctx, span := r.tracer.Start(ctx, "sweep.ban_cleanup")
	defer span.End()
	r.metrics.SweepRuns.WithLabelValues(metrics.SweepBanCleanup).Inc()

	removed, err := r.bans.RemoveBansFromDisabledPlaces(ctx)
	if err != nil {
		r.runFailed(span, metrics.SweepBanCleanup, err)
		return 0
	}
	r.metrics.SweepItems.WithLabelValues(metrics.SweepBanCleanup).Add(float64(removed))
	span.SetAttributes(attribute.Int64("sweep.removed", removed))
	if removed > 0 {
		log.Printf("ban cleanup: removed %d bans from disabled places", removed)
	}
	return removed
}

func (r *Runner) each(ctx context.Context, sweep string, items []storage.StreamAccess, process func(context.Context, storage.StreamAccess) error) int {
	done := 0
	for _, access := range items {
		if ctx.Err() != nil {
			break
		}
		itemCtx, cancel := context.WithTimeout(ctx, r.cfg.ItemTimeout)
		err := process(itemCtx, access)
		cancel()
		if err != nil {
			r.metrics.SweepFailures.WithLabelValues(sweep).Inc()
			log.Printf("%s sweep: place %s ingress %s: %v", sweep, access.PlaceID, access.IngressID, err)
			continue
		}
		r.metrics.SweepItems.WithLabelValues(sweep).Inc()
		done++
	}
	return done
}

func (r *Runner) place(ctx context.Context, sweep string, placeID string) (place.Place, bool) {
	if r.places == nil || r.notifier == nil {
		return place.Place{}, false
	}
	p, err := r.places.GetPlaceByID(ctx, placeID)
	if err != nil {
		log.Printf("%s sweep: resolve place %s: %v", sweep, placeID, err)
		return place.Place{}, false
	}
	return p, true
}

func (r *Runner) notify(ctx context.Context, notificationType string, p place.Place) {
	if r.notifier != nil {
		r.notifier.SendNotification(ctx, notificationType, p)
	}
}

func (r *Runner) runFailed(span trace.Span, sweep string, err error) {
	r.metrics.SweepFailures.WithLabelValues(sweep).Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	log.Printf("%s sweep: %v", sweep, err)
}
