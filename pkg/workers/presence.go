package workers

import (
	"context"
	"time"

	"github.com/cbodonnell/herosync/pkg/game/constants"
	"github.com/cbodonnell/herosync/pkg/log"
	"github.com/cbodonnell/herosync/pkg/state"
)

type PresenceWorker struct {
	store             state.Store
	interval          time.Duration
	inactiveThreshold time.Duration
	telemetryInterval time.Duration
}

type NewPresenceWorkerOptions struct {
	Store state.Store
	// Interval defaults to constants.PresenceSweepInterval
	Interval time.Duration
	// InactiveThreshold defaults to constants.InactiveThreshold
	InactiveThreshold time.Duration
	// TelemetryInterval defaults to constants.TelemetryInterval
	TelemetryInterval time.Duration
}

// NewPresenceWorker creates a new PresenceWorker.
// The worker periodically marks players that stopped sending updates as
// offline and logs a summary of the game state.
func NewPresenceWorker(opts NewPresenceWorkerOptions) *PresenceWorker {
	if opts.Interval <= 0 {
		opts.Interval = constants.PresenceSweepInterval
	}
	if opts.InactiveThreshold <= 0 {
		opts.InactiveThreshold = constants.InactiveThreshold
	}
	if opts.TelemetryInterval <= 0 {
		opts.TelemetryInterval = constants.TelemetryInterval
	}
	return &PresenceWorker{
		store:             opts.Store,
		interval:          opts.Interval,
		inactiveThreshold: opts.InactiveThreshold,
		telemetryInterval: opts.TelemetryInterval,
	}
}

// Start runs the sweep loop until ctx is cancelled.
func (w *PresenceWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	lastTelemetry := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			w.Sweep()
			if t.Sub(lastTelemetry) >= w.telemetryInterval {
				w.logTelemetry()
				lastTelemetry = t
			}
		}
	}
}

// Sweep runs a single pass and returns the players that went offline.
func (w *PresenceWorker) Sweep() []string {
	swept := w.store.SweepInactive(w.inactiveThreshold)
	for _, address := range swept {
		log.Debug("Player %s marked offline after %s without updates", address, w.inactiveThreshold)
	}
	return swept
}

func (w *PresenceWorker) logTelemetry() {
	stats := w.store.Stats()
	log.Debug("Presence: %d players (%d online, %d idle, %d battling, %d offline), %d battles (%d open, %d completed)",
		stats.Players, stats.Online, stats.Idle, stats.Battling, stats.Offline,
		stats.Battles, stats.OpenBattles, stats.CompletedBattles)
}
