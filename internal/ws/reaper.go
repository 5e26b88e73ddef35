package ws

import (
	"context"
	"time"

	"chat-realtime/internal/logging"
	"chat-realtime/internal/observability"
)

const (
	DefaultIdleTimeout  = 60 * time.Second
	DefaultReapInterval = 15 * time.Second
)

// Reaper periodically disconnects connections that stopped showing activity.
type Reaper struct {
	registry *Registry
	timeout  time.Duration
	interval time.Duration
	now      func() time.Time
}

// NewReaper builds a reaper; zero durations take the defaults.
func NewReaper(registry *Registry, timeout, interval time.Duration) *Reaper {
	if timeout <= 0 {
		timeout = DefaultIdleTimeout
	}
	if interval <= 0 {
		interval = DefaultReapInterval
	}
	return &Reaper{registry: registry, timeout: timeout, interval: interval, now: time.Now}
}

// Serve runs sweeps until ctx is cancelled.
func (r *Reaper) Serve(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.Sweep()
		}
	}
}

func (r *Reaper) String() string { return "ws-reaper" }

// Sweep reaps idle connections and returns how many were removed. Candidates
// are snapshotted first; each removal takes the registry lock on its own and
// re-checks idleness so a concurrent Touch wins.
func (r *Reaper) Sweep() int {
	cutoff := r.now().Add(-r.timeout)
	reaped := 0
	for _, id := range r.registry.IdleSince(cutoff) {
		sink, ok := r.registry.UnregisterIfIdle(id, cutoff)
		if !ok {
			continue
		}
		reaped++
		if sink != nil {
			sink.Close("idle timeout")
		}
		observability.IncWSEvent("chat", "ws_idle_reaped")
		logging.Debug().Str("conn_id", id).Msg("reaped idle connection")
	}
	return reaped
}
